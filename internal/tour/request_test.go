package tour_test

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/neexbeast/tour-search/internal/tour"
)

var now = time.Date(2025, 1, 10, 12, 0, 0, 0, time.UTC)

func validRequest() tour.SearchRequest {
	return tour.SearchRequest{
		CityFromID: 832,
		CountryID:  119,
		DateFrom:   "2025-06-01",
		DateTo:     "2025-06-15",
		NightsMin:  7,
		NightsMax:  14,
		Adults:     2,
	}
}

func fieldsOf(t *testing.T, err error) []string {
	t.Helper()
	var verr *tour.ValidationError
	require.True(t, errors.As(err, &verr), "expected *ValidationError, got %v", err)
	names := make([]string, 0, len(verr.Fields))
	for _, f := range verr.Fields {
		names = append(names, f.Field)
	}
	return names
}

func TestValidate_Valid(t *testing.T) {
	require.NoError(t, validRequest().Validate(now))
}

func TestValidate_DateFromNotInFuture(t *testing.T) {
	for _, d := range []string{"2025-01-10", "2024-12-31", "2020-01-01"} {
		req := validRequest()
		req.DateFrom = d
		req.DateTo = "2025-06-15"
		err := req.Validate(now)
		require.Error(t, err, d)
		assert.Contains(t, fieldsOf(t, err), "dateFrom", d)
	}
}

func TestValidate_DateToNotAfterDateFrom(t *testing.T) {
	for _, d := range []string{"2025-06-01", "2025-05-31"} {
		req := validRequest()
		req.DateTo = d
		err := req.Validate(now)
		require.Error(t, err, d)
		assert.Contains(t, fieldsOf(t, err), "dateTo", d)
	}
}

func TestValidate_NightsMaxBelowMin(t *testing.T) {
	req := validRequest()
	req.NightsMin = 10
	req.NightsMax = 7
	err := req.Validate(now)
	require.Error(t, err)
	assert.Equal(t, []string{"nightsMax"}, fieldsOf(t, err))
}

func TestValidate_ListsEveryViolation(t *testing.T) {
	req := tour.SearchRequest{
		DateFrom:  "not-a-date",
		DateTo:    "2025-06-15",
		NightsMin: 5,
		NightsMax: 3,
		Adults:    0,
		Stars:     []int{6},
	}
	err := req.Validate(now)
	require.Error(t, err)
	assert.ElementsMatch(t,
		[]string{"cityFromId", "countryId", "dateFrom", "nightsMax", "adults", "stars"},
		fieldsOf(t, err),
	)
	assert.Contains(t, err.Error(), "invalid request")
}

func TestCurrency_Default(t *testing.T) {
	assert.Equal(t, "RUB", validRequest().Currency())
	req := validRequest()
	req.CurrencyAlias = "EUR"
	assert.Equal(t, "EUR", req.Currency())
}

func TestJobState_Terminal(t *testing.T) {
	assert.False(t, tour.JobStarted.Terminal())
	assert.False(t, tour.JobPolling.Terminal())
	assert.True(t, tour.JobFinished.Terminal())
	assert.True(t, tour.JobTimedOut.Terminal())
	assert.True(t, tour.JobFailed.Terminal())
}
