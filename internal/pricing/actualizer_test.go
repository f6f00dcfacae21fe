package pricing_test

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/url"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/neexbeast/tour-search/internal/obs"
	"github.com/neexbeast/tour-search/internal/pricing"
	"github.com/neexbeast/tour-search/internal/ratelimit"
	"github.com/neexbeast/tour-search/internal/tour"
	"github.com/neexbeast/tour-search/internal/upstream"
)

// ---- mocks ----

type mockUpstream struct {
	body   string
	err    error
	params url.Values
	calls  int
}

func (m *mockUpstream) Call(_ context.Context, op upstream.Operation, params url.Values) (upstream.Envelope, error) {
	m.calls++
	m.params = params
	if m.err != nil {
		return nil, m.err
	}
	return upstream.Envelope{op.ResultField(): json.RawMessage(m.body)}, nil
}

type mockRecorder struct {
	recordFn func(ctx context.Context, c tour.PriceCheck) (tour.PriceCheck, error)
	checks   []tour.PriceCheck
}

func (m *mockRecorder) Record(ctx context.Context, c tour.PriceCheck) (tour.PriceCheck, error) {
	m.checks = append(m.checks, c)
	if m.recordFn != nil {
		return m.recordFn(ctx, c)
	}
	return c, nil
}

type allowAll struct{}

func (allowAll) Admit(string, string) bool { return true }

var testNow = time.Date(2025, 3, 1, 10, 30, 0, 0, time.UTC)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewJSONHandler(io.Discard, nil))
}

func newActualizer(up upstream.Caller, opts ...pricing.Option) *pricing.Actualizer {
	opts = append(opts, pricing.WithClock(func() time.Time { return testNow }))
	return pricing.NewActualizer(up, allowAll{}, discardLogger(), opts...)
}

func token() tour.ActualizationToken {
	return tour.ActualizationToken{
		TourID:   "T-77",
		SourceID: 4,
		SearchID: "S-1",
		Currency: "EUR",
		Extra:    map[string]any{"ActualizeKey": "k-9", "RoomPriceKey": json.Number("31")},
	}
}

// ---- tests ----

func TestActualize_ForwardsToken(t *testing.T) {
	up := &mockUpstream{body: `{"Data":{"Price":1500.5,"Currency":"EUR"}}`}
	a := newActualizer(up)

	_, err := a.Actualize(context.Background(), "ip", token())
	require.NoError(t, err)

	assert.Equal(t, "T-77", up.params.Get("tourId"))
	assert.Equal(t, "4", up.params.Get("sourceId"))
	assert.Equal(t, "S-1", up.params.Get("searchId"))
	assert.Equal(t, "k-9", up.params.Get("ActualizeKey"))
	assert.Equal(t, "31", up.params.Get("RoomPriceKey"))
}

func TestActualize_Normalizes(t *testing.T) {
	tests := []struct {
		name      string
		body      string
		price     string
		currency  string
		available bool
		update    string
	}{
		{
			name:  "canonical fields",
			body:  `{"Price":98000,"Currency":"RUB","IsAvailable":true,"UpdateDate":"2025-03-01T09:00:00Z"}`,
			price: "98000", currency: "RUB", available: true, update: "2025-03-01T09:00:00Z",
		},
		{
			name:  "amount and alias",
			body:  `{"Amount":"1200.40","CurrencyAlias":"USD"}`,
			price: "1200.4", currency: "USD", available: true, update: "2025-03-01T10:30:00.000Z",
		},
		{
			name:  "defaults to token currency",
			body:  `{"TourId":"T-77"}`,
			price: "0", currency: "EUR", available: true, update: "2025-03-01T10:30:00.000Z",
		},
		{
			name:  "explicitly unavailable",
			body:  `{"Price":10,"IsAvailable":false}`,
			price: "10", currency: "EUR", available: false, update: "2025-03-01T10:30:00.000Z",
		},
		{
			name:  "available false",
			body:  `{"Price":10,"Available":false}`,
			price: "10", currency: "EUR", available: false, update: "2025-03-01T10:30:00.000Z",
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			a := newActualizer(&mockUpstream{body: tc.body})

			got, err := a.Actualize(context.Background(), "ip", token())
			require.NoError(t, err)

			assert.Equal(t, "T-77", got.OfferID)
			assert.True(t, decimal.RequireFromString(tc.price).Equal(got.Price), "price %s", got.Price)
			assert.Equal(t, tc.currency, got.Currency)
			assert.Equal(t, tc.available, got.IsAvailable)
			assert.Equal(t, tc.update, got.UpdateDate)
		})
	}
}

func TestActualize_DefaultsToRUB(t *testing.T) {
	tok := token()
	tok.Currency = ""
	a := newActualizer(&mockUpstream{body: `{"Price":1}`})

	got, err := a.Actualize(context.Background(), "ip", tok)
	require.NoError(t, err)
	assert.Equal(t, "RUB", got.Currency)
}

func TestActualize_Extras(t *testing.T) {
	body := `{"Price":5000,"BookingUrl":"https://book.example/x","Error":"price changed",
		"HotelName":"Aqua","NightsCount":9,"StartDate":"2025-05-01","EndDate":"2025-05-10",
		"AdultsCount":2,"Children":1}`
	a := newActualizer(&mockUpstream{body: body})

	got, err := a.Actualize(context.Background(), "ip", token())
	require.NoError(t, err)

	assert.Equal(t, "https://book.example/x", got.ActualURL)
	assert.Equal(t, "price changed", got.ErrorMessage)
	assert.Equal(t, "Aqua", got.HotelName)
	assert.Equal(t, 9, got.Nights)
	assert.Equal(t, "2025-05-01", got.DateFrom)
	assert.Equal(t, "2025-05-10", got.DateTo)
	assert.Equal(t, 2, got.Adults)
	assert.Equal(t, 1, got.Children)
}

func TestActualize_InvalidToken(t *testing.T) {
	up := &mockUpstream{body: `{}`}
	a := newActualizer(up)

	_, err := a.Actualize(context.Background(), "ip", tour.ActualizationToken{})
	var verr *tour.ValidationError
	require.True(t, errors.As(err, &verr))
	assert.Len(t, verr.Fields, 2)
	assert.Equal(t, 0, up.calls)
}

func TestActualize_RateLimitedIndependentOfSearch(t *testing.T) {
	clock := testNow
	limiter := ratelimit.New(ratelimit.WithClock(func() time.Time { return clock }))
	require.True(t, limiter.Admit("ip", "search-start"))

	m := obs.NewMetrics(prometheus.NewRegistry())
	a := pricing.NewActualizer(&mockUpstream{body: `{"Price":1}`}, limiter, discardLogger(), pricing.WithMetrics(m))

	_, err := a.Actualize(context.Background(), "ip", token())
	require.NoError(t, err)

	_, err = a.Actualize(context.Background(), "ip", token())
	assert.ErrorIs(t, err, tour.ErrRateLimited)
	assert.Equal(t, 1.0, testutil.ToFloat64(m.RateLimitRejections.WithLabelValues(pricing.OpActualize)))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.PriceChecks.WithLabelValues("true")))
}

func TestActualize_MissingContainer(t *testing.T) {
	a := newActualizer(&mockUpstream{body: `null`})

	_, err := a.Actualize(context.Background(), "ip", token())
	var uerr *tour.UpstreamError
	require.True(t, errors.As(err, &uerr))
	assert.Contains(t, err.Error(), "missing result ActualizePriceResult")
}

func TestActualize_UpstreamError(t *testing.T) {
	a := newActualizer(&mockUpstream{body: `{"ErrorMessage":"Tour not found"}`})

	_, err := a.Actualize(context.Background(), "ip", token())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "Tour not found")
}

func TestActualize_RecordsCheck(t *testing.T) {
	rec := &mockRecorder{}
	a := newActualizer(&mockUpstream{body: `{"Price":"777.10","Currency":"RUB","IsAvailable":false}`}, pricing.WithRecorder(rec))

	_, err := a.Actualize(context.Background(), "ip", token())
	require.NoError(t, err)

	require.Len(t, rec.checks, 1)
	c := rec.checks[0]
	assert.Equal(t, "T-77", c.OfferID)
	assert.Equal(t, 4, c.SourceID)
	assert.True(t, decimal.RequireFromString("777.1").Equal(c.Price))
	assert.False(t, c.IsAvailable)
	assert.Equal(t, testNow, c.CheckedAt)
	assert.Equal(t, "k-9", c.Token.Extra["ActualizeKey"])
}

func TestActualize_RecorderFailureIsNotFatal(t *testing.T) {
	rec := &mockRecorder{recordFn: func(context.Context, tour.PriceCheck) (tour.PriceCheck, error) {
		return tour.PriceCheck{}, errors.New("db down")
	}}
	a := newActualizer(&mockUpstream{body: `{"Price":1}`}, pricing.WithRecorder(rec))

	got, err := a.Actualize(context.Background(), "ip", token())
	require.NoError(t, err)
	assert.Equal(t, "T-77", got.OfferID)
	assert.Len(t, rec.checks, 1)
}
