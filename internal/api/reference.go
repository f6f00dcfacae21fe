package api

import (
	"context"
	"fmt"
	"net/http"
	"strings"

	"github.com/neexbeast/tour-search/internal/reference"
)

// writeReference sends a cached dictionary with validators derived from the
// cache entry, or 304 when the client already holds it.
func (h *Handlers) writeReference(w http.ResponseWriter, r *http.Request, res reference.Result) {
	etag := res.ETag()
	maxAge := int(res.MaxAge(h.now()).Seconds())

	w.Header().Set("ETag", etag)
	w.Header().Set("Cache-Control", fmt.Sprintf("public, max-age=%d", maxAge))

	if matchesETag(r.Header.Get("If-None-Match"), etag) {
		w.WriteHeader(http.StatusNotModified)
		return
	}
	writeJSON(w, http.StatusOK, res.Data)
}

func matchesETag(header, etag string) bool {
	if header == "" {
		return false
	}
	for _, candidate := range strings.Split(header, ",") {
		c := strings.TrimSpace(candidate)
		if c == "*" || strings.TrimPrefix(c, "W/") == etag {
			return true
		}
	}
	return false
}

func (h *Handlers) serveReference(w http.ResponseWriter, r *http.Request, what string, load func(ctx context.Context, who string) (reference.Result, error)) {
	res, err := load(r.Context(), identity(r))
	if err != nil {
		h.writeError(w, r, "failed to load "+what, err)
		return
	}
	h.writeReference(w, r, res)
}

// Countries handles GET /api/v1/reference/countries?townFromId=.
func (h *Handlers) Countries(w http.ResponseWriter, r *http.Request) {
	townFromID, err := intParam(r, "townFromId")
	if err != nil {
		h.writeError(w, r, "failed to load countries", err)
		return
	}
	h.serveReference(w, r, "countries", func(ctx context.Context, who string) (reference.Result, error) {
		return h.ref.Countries(ctx, who, townFromID)
	})
}

func (h *Handlers) DepartCities(w http.ResponseWriter, r *http.Request) {
	h.serveReference(w, r, "depart cities", h.ref.DepartCities)
}

// Cities handles GET /api/v1/reference/cities?countryId=.
func (h *Handlers) Cities(w http.ResponseWriter, r *http.Request) {
	countryID, err := intParam(r, "countryId")
	if err != nil {
		h.writeError(w, r, "failed to load cities", err)
		return
	}
	h.serveReference(w, r, "cities", func(ctx context.Context, who string) (reference.Result, error) {
		return h.ref.Cities(ctx, who, countryID)
	})
}

// HotelStars handles GET /api/v1/reference/hotel-stars with an optional
// countryId.
func (h *Handlers) HotelStars(w http.ResponseWriter, r *http.Request) {
	countryID, err := intParam(r, "countryId")
	if err != nil {
		h.writeError(w, r, "failed to load hotel stars", err)
		return
	}
	h.serveReference(w, r, "hotel stars", func(ctx context.Context, who string) (reference.Result, error) {
		return h.ref.HotelStars(ctx, who, countryID)
	})
}

func (h *Handlers) Meals(w http.ResponseWriter, r *http.Request) {
	h.serveReference(w, r, "meals", h.ref.Meals)
}

func (h *Handlers) Operators(w http.ResponseWriter, r *http.Request) {
	h.serveReference(w, r, "tour operators", h.ref.Operators)
}

// InvalidateCache handles DELETE /api/v1/admin/cache?pattern=. An empty
// pattern clears everything.
func (h *Handlers) InvalidateCache(w http.ResponseWriter, r *http.Request) {
	pattern := r.URL.Query().Get("pattern")
	removed := h.ref.Invalidate(pattern)
	writeJSON(w, http.StatusOK, map[string]any{"pattern": pattern, "removed": removed})
}

// CacheStats handles GET /api/v1/admin/cache/stats.
func (h *Handlers) CacheStats(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, h.ref.Stats())
}
