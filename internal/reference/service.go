// Package reference serves the aggregator's dictionaries (countries, cities,
// meals and so on) through the process-wide TTL cache.
package reference

import (
	"context"
	"fmt"
	"log/slog"
	"net/url"
	"strconv"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/neexbeast/tour-search/internal/cache"
	"github.com/neexbeast/tour-search/internal/obs"
	"github.com/neexbeast/tour-search/internal/tour"
	"github.com/neexbeast/tour-search/internal/upstream"
)

// Resource names a dictionary. It doubles as the rate-limit bucket and the
// cache key prefix.
type Resource string

const (
	Countries    Resource = "countries"
	DepartCities Resource = "depart-cities"
	Cities       Resource = "cities"
	HotelStars   Resource = "hotel-stars"
	Meals        Resource = "meals"
	Operators    Resource = "operators"
)

// DefaultTownFromID is Moscow, the default departure city for country lists.
const DefaultTownFromID = 832

const (
	ttlCountries       = 24 * time.Hour
	ttlDepartCities    = 12 * time.Hour
	ttlCities          = 6 * time.Hour
	ttlHotelStars      = 24 * time.Hour
	ttlHotelStarsByCty = 6 * time.Hour
	ttlMeals           = 24 * time.Hour
	ttlOperators       = 24 * time.Hour
)

// Limiter admits or rejects a call for an (identity, operation) pair.
type Limiter interface {
	Admit(identity, operation string) bool
}

// Result is a dictionary plus the cache metadata used for HTTP validators.
type Result struct {
	Resource  Resource
	Key       string
	Data      any
	CreatedAt time.Time
	ExpiresAt time.Time
}

// ETag identifies this cached copy. It changes whenever the entry is refetched.
func (r Result) ETag() string {
	if r.Key == "" {
		return fmt.Sprintf(`"%s-%d"`, r.Resource, r.CreatedAt.UnixMilli())
	}
	return fmt.Sprintf(`"%s-%s-%d"`, r.Resource, r.Key, r.CreatedAt.UnixMilli())
}

// MaxAge is the remaining lifetime of the cache entry at now, never negative.
func (r Result) MaxAge(now time.Time) time.Duration {
	if d := r.ExpiresAt.Sub(now); d > 0 {
		return d
	}
	return 0
}

// Service loads dictionaries from upstream on a cache miss.
type Service struct {
	upstream upstream.Caller
	limiter  Limiter
	cache    *cache.Cache[any]
	log      *slog.Logger
	metrics  *obs.Metrics
}

// Option configures a Service.
type Option func(*Service)

func WithMetrics(m *obs.Metrics) Option {
	return func(s *Service) { s.metrics = m }
}

// NewService constructs a Service storing dictionaries in c.
func NewService(u upstream.Caller, l Limiter, c *cache.Cache[any], log *slog.Logger, opts ...Option) *Service {
	s := &Service{upstream: u, limiter: l, cache: c, log: log}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Countries lists destinations reachable from townFromID. Zero means
// DefaultTownFromID.
func (s *Service) Countries(ctx context.Context, identity string, townFromID int) (Result, error) {
	if townFromID <= 0 {
		townFromID = DefaultTownFromID
	}
	key := strconv.Itoa(townFromID)
	params := url.Values{"townFromId": {key}}
	return load[tour.Country](ctx, s, identity, Countries, key, ttlCountries, upstream.OpGetCountries, params)
}

func (s *Service) DepartCities(ctx context.Context, identity string) (Result, error) {
	return load[tour.DepartCity](ctx, s, identity, DepartCities, "", ttlDepartCities, upstream.OpGetDepartCities, nil)
}

// Cities lists resorts in countryID, which is required.
func (s *Service) Cities(ctx context.Context, identity string, countryID int) (Result, error) {
	if countryID <= 0 {
		verr := &tour.ValidationError{}
		verr.Add("countryId", "must be a positive integer")
		return Result{}, verr
	}
	key := strconv.Itoa(countryID)
	params := url.Values{"countryId": {key}}
	return load[tour.City](ctx, s, identity, Cities, key, ttlCities, upstream.OpGetCities, params)
}

// HotelStars lists hotel categories, optionally narrowed to countryID.
func (s *Service) HotelStars(ctx context.Context, identity string, countryID int) (Result, error) {
	if countryID > 0 {
		key := strconv.Itoa(countryID)
		params := url.Values{"countryId": {key}}
		return load[tour.HotelStar](ctx, s, identity, HotelStars, key, ttlHotelStarsByCty, upstream.OpGetHotelStars, params)
	}
	return load[tour.HotelStar](ctx, s, identity, HotelStars, "", ttlHotelStars, upstream.OpGetHotelStars, nil)
}

func (s *Service) Meals(ctx context.Context, identity string) (Result, error) {
	return load[tour.Meal](ctx, s, identity, Meals, "", ttlMeals, upstream.OpGetMeals, nil)
}

func (s *Service) Operators(ctx context.Context, identity string) (Result, error) {
	return load[tour.TourOperator](ctx, s, identity, Operators, "", ttlOperators, upstream.OpGetTourOperators, nil)
}

// Invalidate drops every cached dictionary whose key contains pattern.
func (s *Service) Invalidate(pattern string) int {
	n := s.cache.Invalidate(pattern)
	s.log.Info("reference cache invalidated", "pattern", pattern, "removed", n)
	return n
}

// Stats reports cache occupancy.
func (s *Service) Stats() cache.Stats {
	return s.cache.Stats()
}

// Preload warms the dictionaries that take no arguments, plus countries for
// the default departure city, in parallel. It bypasses the rate limiter.
func (s *Service) Preload(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		_, err := fill[tour.Country](ctx, s, Countries, strconv.Itoa(DefaultTownFromID), ttlCountries,
			upstream.OpGetCountries, url.Values{"townFromId": {strconv.Itoa(DefaultTownFromID)}})
		return err
	})
	g.Go(func() error {
		_, err := fill[tour.DepartCity](ctx, s, DepartCities, "", ttlDepartCities, upstream.OpGetDepartCities, nil)
		return err
	})
	g.Go(func() error {
		_, err := fill[tour.HotelStar](ctx, s, HotelStars, "", ttlHotelStars, upstream.OpGetHotelStars, nil)
		return err
	})
	g.Go(func() error {
		_, err := fill[tour.Meal](ctx, s, Meals, "", ttlMeals, upstream.OpGetMeals, nil)
		return err
	})
	g.Go(func() error {
		_, err := fill[tour.TourOperator](ctx, s, Operators, "", ttlOperators, upstream.OpGetTourOperators, nil)
		return err
	})

	if err := g.Wait(); err != nil {
		return fmt.Errorf("preloading reference data: %w", err)
	}
	s.log.Info("reference data preloaded", "entries", s.cache.Stats().Valid)
	return nil
}

func cacheKey(res Resource, key string) string {
	if key == "" {
		return string(res)
	}
	return string(res) + ":" + key
}

func load[T any](ctx context.Context, s *Service, identity string, res Resource, key string, ttl time.Duration, op upstream.Operation, params url.Values) (Result, error) {
	if !s.limiter.Admit(identity, string(res)) {
		s.metrics.IncRateLimited(string(res))
		return Result{}, tour.ErrRateLimited
	}
	return fill[T](ctx, s, res, key, ttl, op, params)
}

func fill[T any](ctx context.Context, s *Service, res Resource, key string, ttl time.Duration, op upstream.Operation, params url.Values) (Result, error) {
	it, hit, err := s.cache.GetOrSetWithAge(cacheKey(res, key), func() (any, error) {
		list, err := upstream.Get[[]T](ctx, s.upstream, op, params)
		if err != nil {
			return nil, err
		}
		if list == nil {
			list = []T{}
		}
		return list, nil
	}, ttl)
	s.metrics.IncCacheLookup(string(res), hit)
	if err != nil {
		return Result{}, fmt.Errorf("loading %s: %w", res, err)
	}
	return Result{Resource: res, Key: key, Data: it.Value, CreatedAt: it.CreatedAt, ExpiresAt: it.ExpiresAt}, nil
}
