package api

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/httprate"

	"github.com/neexbeast/tour-search/internal/obs"
)

// RouterConfig carries what NewRouter needs besides the handlers.
type RouterConfig struct {
	// AdminToken guards the cache admin routes. Empty disables them.
	AdminToken string
	Health     http.HandlerFunc
	Metrics    *obs.Metrics
	Log        *slog.Logger
}

// NewRouter builds and returns the Chi router with all routes configured.
// A coarse limit of 120 requests per minute per IP applies to everything;
// the per-operation windows live in the services.
func NewRouter(h *Handlers, cfg RouterConfig) *chi.Mux {
	r := chi.NewRouter()

	r.Use(middleware.Recoverer)
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(Observe(cfg.Log, cfg.Metrics))
	r.Use(httprate.LimitByIP(120, time.Minute))

	r.Get("/api/v1/health", cfg.Health)
	if cfg.Metrics != nil {
		r.Handle("/metrics", cfg.Metrics.Handler())
	}

	r.Route("/api/v1/search", func(r chi.Router) {
		r.Post("/start", h.StartSearch)
		r.Get("/status", h.SearchStatus)
		r.Get("/results", h.SearchResults)
		r.Post("/actualize", h.Actualize)
		r.Get("/recent", h.RecentSearches)
	})

	r.Route("/api/v1/reference", func(r chi.Router) {
		r.Get("/countries", h.Countries)
		r.Get("/depart-cities", h.DepartCities)
		r.Get("/cities", h.Cities)
		r.Get("/hotel-stars", h.HotelStars)
		r.Get("/meals", h.Meals)
		r.Get("/operators", h.Operators)
	})

	r.Get("/api/v1/offers/{offerId}/price-checks", h.PriceChecks)

	if cfg.AdminToken != "" {
		r.Group(func(r chi.Router) {
			r.Use(BearerAuth(cfg.AdminToken))
			r.Delete("/api/v1/admin/cache", h.InvalidateCache)
			r.Get("/api/v1/admin/cache/stats", h.CacheStats)
		})
	}

	return r
}

// Ensure chi.Mux implements http.Handler.
var _ http.Handler = (*chi.Mux)(nil)
