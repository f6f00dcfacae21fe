package reference_test

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/url"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/neexbeast/tour-search/internal/cache"
	"github.com/neexbeast/tour-search/internal/obs"
	"github.com/neexbeast/tour-search/internal/reference"
	"github.com/neexbeast/tour-search/internal/tour"
	"github.com/neexbeast/tour-search/internal/upstream"
)

// ---- mocks ----

type mockUpstream struct {
	mu     sync.Mutex
	bodies map[upstream.Operation]string
	fail   map[upstream.Operation]error
	calls  map[upstream.Operation]int
	params map[upstream.Operation]url.Values
}

func newMockUpstream() *mockUpstream {
	return &mockUpstream{
		bodies: map[upstream.Operation]string{
			upstream.OpGetCountries:     `{"Data":[{"Id":119,"Name":"Turkey","Alias":"TR"},{"Id":40,"Name":"Egypt"}]}`,
			upstream.OpGetDepartCities:  `{"Data":[{"Id":832,"Name":"Moscow","Default":true}]}`,
			upstream.OpGetCities:        `{"Data":[{"Id":1099,"Name":"Dubai","CountryId":46,"IsPopular":true}]}`,
			upstream.OpGetHotelStars:    `{"Data":[{"Id":1,"Name":"5*","StarCount":5}]}`,
			upstream.OpGetMeals:         `[{"Id":1,"Name":"All inclusive","ShortName":"AI"}]`,
			upstream.OpGetTourOperators: `{"Data":null}`,
		},
		fail:   map[upstream.Operation]error{},
		calls:  map[upstream.Operation]int{},
		params: map[upstream.Operation]url.Values{},
	}
}

func (m *mockUpstream) Call(_ context.Context, op upstream.Operation, params url.Values) (upstream.Envelope, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls[op]++
	m.params[op] = params
	if err := m.fail[op]; err != nil {
		return nil, err
	}
	return upstream.Envelope{op.ResultField(): json.RawMessage(m.bodies[op])}, nil
}

func (m *mockUpstream) count(op upstream.Operation) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls[op]
}

type allowAll struct{}

func (allowAll) Admit(string, string) bool { return true }

type recordingLimiter struct {
	ops   []string
	allow bool
}

func (l *recordingLimiter) Admit(_ string, op string) bool {
	l.ops = append(l.ops, op)
	return l.allow
}

type fixture struct {
	up      *mockUpstream
	svc     *reference.Service
	clock   *time.Time
	metrics *obs.Metrics
}

func newFixture(t *testing.T, l reference.Limiter) fixture {
	t.Helper()
	now := time.Date(2025, 2, 1, 12, 0, 0, 0, time.UTC)
	clock := &now
	nowFn := func() time.Time { return *clock }

	up := newMockUpstream()
	m := obs.NewMetrics(prometheus.NewRegistry())
	c := cache.New[any](cache.WithClock(nowFn))
	log := slog.New(slog.NewJSONHandler(io.Discard, nil))
	svc := reference.NewService(up, l, c, log, reference.WithMetrics(m))
	return fixture{up: up, svc: svc, clock: clock, metrics: m}
}

// ---- tests ----

func TestCountries_CachesPerTown(t *testing.T) {
	f := newFixture(t, allowAll{})
	ctx := context.Background()

	r, err := f.svc.Countries(ctx, "ip", 0)
	require.NoError(t, err)

	countries, ok := r.Data.([]tour.Country)
	require.True(t, ok)
	require.Len(t, countries, 2)
	assert.Equal(t, "Turkey", countries[0].Name)
	assert.Equal(t, "832", f.up.params[upstream.OpGetCountries].Get("townFromId"))
	assert.Equal(t, `"countries-832-`+itoa(f.clock.UnixMilli())+`"`, r.ETag())
	assert.Equal(t, 24*time.Hour, r.MaxAge(*f.clock))

	*f.clock = f.clock.Add(time.Hour)
	r2, err := f.svc.Countries(ctx, "ip", 832)
	require.NoError(t, err)
	assert.Equal(t, r.ETag(), r2.ETag())
	assert.Equal(t, 23*time.Hour, r2.MaxAge(*f.clock))
	assert.Equal(t, 1, f.up.count(upstream.OpGetCountries))

	_, err = f.svc.Countries(ctx, "ip", 1264)
	require.NoError(t, err)
	assert.Equal(t, 2, f.up.count(upstream.OpGetCountries))

	assert.Equal(t, 1.0, testutil.ToFloat64(f.metrics.CacheLookups.WithLabelValues("countries", "hit")))
	assert.Equal(t, 2.0, testutil.ToFloat64(f.metrics.CacheLookups.WithLabelValues("countries", "miss")))
}

func TestCountries_RefetchAfterTTL(t *testing.T) {
	f := newFixture(t, allowAll{})
	ctx := context.Background()

	r1, err := f.svc.Countries(ctx, "ip", 0)
	require.NoError(t, err)

	*f.clock = f.clock.Add(24*time.Hour + time.Second)
	r2, err := f.svc.Countries(ctx, "ip", 0)
	require.NoError(t, err)

	assert.Equal(t, 2, f.up.count(upstream.OpGetCountries))
	assert.NotEqual(t, r1.ETag(), r2.ETag())
}

func TestTTLs(t *testing.T) {
	f := newFixture(t, allowAll{})
	ctx := context.Background()

	tests := []struct {
		name string
		load func() (reference.Result, error)
		ttl  time.Duration
	}{
		{"depart cities", func() (reference.Result, error) { return f.svc.DepartCities(ctx, "ip") }, 12 * time.Hour},
		{"cities", func() (reference.Result, error) { return f.svc.Cities(ctx, "ip", 46) }, 6 * time.Hour},
		{"hotel stars", func() (reference.Result, error) { return f.svc.HotelStars(ctx, "ip", 0) }, 24 * time.Hour},
		{"hotel stars by country", func() (reference.Result, error) { return f.svc.HotelStars(ctx, "ip", 119) }, 6 * time.Hour},
		{"meals", func() (reference.Result, error) { return f.svc.Meals(ctx, "ip") }, 24 * time.Hour},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			r, err := tc.load()
			require.NoError(t, err)
			assert.Equal(t, tc.ttl, r.MaxAge(*f.clock))
		})
	}
}

func TestCities_RequiresCountry(t *testing.T) {
	f := newFixture(t, allowAll{})

	_, err := f.svc.Cities(context.Background(), "ip", 0)
	var verr *tour.ValidationError
	require.True(t, errors.As(err, &verr))
	assert.Equal(t, "countryId", verr.Fields[0].Field)
	assert.Equal(t, 0, f.up.count(upstream.OpGetCities))
}

func TestCities_KeyedByCountry(t *testing.T) {
	f := newFixture(t, allowAll{})

	r, err := f.svc.Cities(context.Background(), "ip", 46)
	require.NoError(t, err)
	cities := r.Data.([]tour.City)
	require.Len(t, cities, 1)
	assert.True(t, cities[0].IsPopular)
	assert.Equal(t, "46", f.up.params[upstream.OpGetCities].Get("countryId"))
	assert.Contains(t, r.ETag(), `"cities-46-`)
}

func TestOperators_NullDataIsMissing(t *testing.T) {
	f := newFixture(t, allowAll{})

	_, err := f.svc.Operators(context.Background(), "ip")
	var uerr *tour.UpstreamError
	require.True(t, errors.As(err, &uerr))
	assert.Equal(t, 0, f.svc.Stats().Total, "failures are not cached")
}

func TestMeals_BareList(t *testing.T) {
	f := newFixture(t, allowAll{})

	r, err := f.svc.Meals(context.Background(), "ip")
	require.NoError(t, err)
	meals := r.Data.([]tour.Meal)
	assert.Equal(t, "AI", meals[0].ShortName)
	assert.Equal(t, `"meals-`+itoa(f.clock.UnixMilli())+`"`, r.ETag())
}

func TestRateLimitedPerResource(t *testing.T) {
	l := &recordingLimiter{allow: false}
	f := newFixture(t, l)

	_, err := f.svc.Meals(context.Background(), "ip")
	assert.ErrorIs(t, err, tour.ErrRateLimited)
	_, err = f.svc.Cities(context.Background(), "ip", 46)
	assert.ErrorIs(t, err, tour.ErrRateLimited)

	assert.Equal(t, []string{"meals", "cities"}, l.ops)
	assert.Equal(t, 0, f.up.count(upstream.OpGetMeals))
	assert.Equal(t, 1.0, testutil.ToFloat64(f.metrics.RateLimitRejections.WithLabelValues("meals")))
}

func TestCountries_InvalidatedEntryGetsFreshValidators(t *testing.T) {
	f := newFixture(t, allowAll{})
	ctx := context.Background()

	r1, err := f.svc.Countries(ctx, "ip", 0)
	require.NoError(t, err)

	*f.clock = f.clock.Add(time.Hour)
	require.Equal(t, 1, f.svc.Invalidate("countries"))

	r2, err := f.svc.Countries(ctx, "ip", 0)
	require.NoError(t, err)
	assert.NotEqual(t, r1.ETag(), r2.ETag())
	assert.Equal(t, `"countries-832-`+itoa(f.clock.UnixMilli())+`"`, r2.ETag())
	assert.Equal(t, 24*time.Hour, r2.MaxAge(*f.clock))
}

func TestCountries_ValidatorsConsistentUnderInvalidation(t *testing.T) {
	f := newFixture(t, allowAll{})
	ctx := context.Background()

	done := make(chan struct{})
	go func() {
		defer close(done)
		for i := 0; i < 200; i++ {
			f.svc.Invalidate("countries")
		}
	}()

	for i := 0; i < 200; i++ {
		r, err := f.svc.Countries(ctx, "ip", 0)
		require.NoError(t, err)
		assert.False(t, r.CreatedAt.IsZero())
		assert.Equal(t, 24*time.Hour, r.ExpiresAt.Sub(r.CreatedAt))
	}
	<-done
}

func TestInvalidateAndStats(t *testing.T) {
	f := newFixture(t, allowAll{})
	ctx := context.Background()

	_, err := f.svc.Cities(ctx, "ip", 46)
	require.NoError(t, err)
	_, err = f.svc.Cities(ctx, "ip", 119)
	require.NoError(t, err)
	_, err = f.svc.Meals(ctx, "ip")
	require.NoError(t, err)

	assert.Equal(t, cache.Stats{Total: 3, Valid: 3}, f.svc.Stats())
	assert.Equal(t, 2, f.svc.Invalidate("cities:"))
	assert.Equal(t, 1, f.svc.Stats().Total)

	_, err = f.svc.Cities(ctx, "ip", 46)
	require.NoError(t, err)
	assert.Equal(t, 3, f.up.count(upstream.OpGetCities))
}

func TestPreload(t *testing.T) {
	l := &recordingLimiter{allow: false}
	f := newFixture(t, l)
	f.up.bodies[upstream.OpGetTourOperators] = `{"Data":[{"Id":5,"Name":"Anex"}]}`

	require.NoError(t, f.svc.Preload(context.Background()))
	assert.Empty(t, l.ops, "preload bypasses the limiter")
	assert.Equal(t, 5, f.svc.Stats().Valid)

	l.allow = true
	_, err := f.svc.Operators(context.Background(), "ip")
	require.NoError(t, err)
	assert.Equal(t, 1, f.up.count(upstream.OpGetTourOperators))
}

func TestPreload_PropagatesFailure(t *testing.T) {
	f := newFixture(t, allowAll{})
	f.up.fail[upstream.OpGetMeals] = tour.NewUpstreamError("GetMeals", "unexpected status 503", nil)
	f.up.bodies[upstream.OpGetTourOperators] = `[]`

	err := f.svc.Preload(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "preloading reference data")
	assert.Contains(t, err.Error(), "503")
}

func TestResult_MaxAgeNeverNegative(t *testing.T) {
	now := time.Now()
	r := reference.Result{ExpiresAt: now.Add(-time.Minute)}
	assert.Equal(t, time.Duration(0), r.MaxAge(now))
}

func itoa(n int64) string {
	b, _ := json.Marshal(n)
	return string(b)
}
