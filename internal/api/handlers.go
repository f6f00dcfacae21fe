package api

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/httprate"

	"github.com/neexbeast/tour-search/internal/history"
	"github.com/neexbeast/tour-search/internal/tour"
)

const (
	defaultPage  = 1
	defaultLimit = 20
	maxLimit     = 100

	retryAfterSeconds = "2"
)

// Handlers holds the dependencies for all HTTP handlers.
type Handlers struct {
	search  Searcher
	prices  PriceActualizer
	ref     ReferenceData
	history SearchHistory
	checks  PriceCheckStore
	log     *slog.Logger
	now     func() time.Time
}

// Option configures optional Handlers dependencies.
type Option func(*Handlers)

// WithHistory enables GET /search/recent and records started searches.
func WithHistory(s SearchHistory) Option {
	return func(h *Handlers) { h.history = s }
}

// WithPriceChecks enables GET /offers/{offerId}/price-checks.
func WithPriceChecks(s PriceCheckStore) Option {
	return func(h *Handlers) { h.checks = s }
}

func WithClock(now func() time.Time) Option {
	return func(h *Handlers) { h.now = now }
}

// NewHandlers constructs Handlers with all required dependencies.
func NewHandlers(search Searcher, prices PriceActualizer, ref ReferenceData, log *slog.Logger, opts ...Option) *Handlers {
	h := &Handlers{
		search: search,
		prices: prices,
		ref:    ref,
		log:    log,
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// writeJSON encodes v as JSON and writes it with the given status code.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

type errorBody struct {
	Error   string            `json:"error"`
	Details string            `json:"details,omitempty"`
	Fields  []tour.FieldError `json:"fields,omitempty"`
}

// writeError maps err onto a status code. msg describes the failed action.
func (h *Handlers) writeError(w http.ResponseWriter, r *http.Request, msg string, err error) {
	var verr *tour.ValidationError
	var uerr *tour.UpstreamError

	switch {
	case errors.As(err, &verr):
		writeJSON(w, http.StatusBadRequest, errorBody{Error: "invalid request parameters", Fields: verr.Fields})
	case errors.Is(err, tour.ErrRateLimited):
		w.Header().Set("Retry-After", retryAfterSeconds)
		writeJSON(w, http.StatusTooManyRequests, errorBody{Error: "too many requests, retry in 1.5 seconds"})
	case errors.As(err, &uerr):
		h.log.Error(msg, "path", r.URL.Path, "timeout", uerr.Timeout(), "err", err)
		writeJSON(w, http.StatusInternalServerError, errorBody{Error: msg, Details: err.Error()})
	default:
		h.log.Error(msg, "path", r.URL.Path, "err", err)
		writeJSON(w, http.StatusInternalServerError, errorBody{Error: msg})
	}
}

// identity keys rate limiting and search history by client address.
func identity(r *http.Request) string {
	ip, err := httprate.KeyByRealIP(r)
	if err != nil || ip == "" {
		return "unknown"
	}
	return ip
}

func badParam(field, msg string) error {
	verr := &tour.ValidationError{}
	verr.Add(field, msg)
	return verr
}

// jobIDParam reads jobId, accepting requestId as an alias.
func jobIDParam(r *http.Request) (int64, error) {
	q := r.URL.Query()
	raw := q.Get("jobId")
	if raw == "" {
		raw = q.Get("requestId")
	}
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || id <= 0 {
		return 0, badParam("jobId", "must be a positive integer")
	}
	return id, nil
}

func pageParams(r *http.Request) tour.Page {
	q := r.URL.Query()
	page, err := strconv.Atoi(q.Get("page"))
	if err != nil || page < 1 {
		page = defaultPage
	}
	limit, err := strconv.Atoi(q.Get("limit"))
	if err != nil || limit < 1 || limit > maxLimit {
		limit = defaultLimit
	}
	return tour.Page{Page: page, Limit: limit}
}

// intParam returns 0 when name is absent and an error when it is not a
// non-negative integer.
func intParam(r *http.Request, name string) (int, error) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		return 0, badParam(name, "must be a positive integer")
	}
	return n, nil
}

// StartSearch handles POST /api/v1/search/start.
func (h *Handlers) StartSearch(w http.ResponseWriter, r *http.Request) {
	var req tour.SearchRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, r, "failed to start search", badParam("body", "must be a JSON search request"))
		return
	}

	who := identity(r)
	job, err := h.search.StartSearch(r.Context(), who, req)
	if err != nil {
		h.writeError(w, r, "failed to start search", err)
		return
	}

	if h.history != nil {
		entry := history.Entry{JobID: job.ID, Request: req, StartedAt: h.now().UTC()}
		if err := h.history.Push(r.Context(), who, entry); err != nil {
			h.log.Warn("history push failed", "job_id", job.ID, "err", err)
		}
	}

	writeJSON(w, http.StatusOK, job)
}

// SearchStatus handles GET /api/v1/search/status.
func (h *Handlers) SearchStatus(w http.ResponseWriter, r *http.Request) {
	jobID, err := jobIDParam(r)
	if err != nil {
		h.writeError(w, r, "failed to get search status", err)
		return
	}

	progress, err := h.search.PollStatus(r.Context(), identity(r), jobID)
	if err != nil {
		h.writeError(w, r, "failed to get search status", err)
		return
	}

	w.Header().Set("Cache-Control", "no-cache, no-store, must-revalidate")
	w.Header().Set("Pragma", "no-cache")
	w.Header().Set("Expires", "0")
	writeJSON(w, http.StatusOK, progress)
}

// SearchResults handles GET /api/v1/search/results.
func (h *Handlers) SearchResults(w http.ResponseWriter, r *http.Request) {
	jobID, err := jobIDParam(r)
	if err != nil {
		h.writeError(w, r, "failed to get search results", err)
		return
	}

	page, err := h.search.FetchResults(r.Context(), identity(r), jobID, pageParams(r))
	if err != nil {
		h.writeError(w, r, "failed to get search results", err)
		return
	}

	w.Header().Set("Cache-Control", "private, max-age=300")
	writeJSON(w, http.StatusOK, page)
}

// Actualize handles POST /api/v1/search/actualize. The body is the
// actualization token of an offer.
func (h *Handlers) Actualize(w http.ResponseWriter, r *http.Request) {
	var token tour.ActualizationToken
	if err := json.NewDecoder(r.Body).Decode(&token); err != nil {
		h.writeError(w, r, "failed to actualize price", badParam("body", "must be an actualization token"))
		return
	}

	price, err := h.prices.Actualize(r.Context(), identity(r), token)
	if err != nil {
		h.writeError(w, r, "failed to actualize price", err)
		return
	}

	writeJSON(w, http.StatusOK, price)
}

// RecentSearches handles GET /api/v1/search/recent.
func (h *Handlers) RecentSearches(w http.ResponseWriter, r *http.Request) {
	if h.history == nil {
		writeJSON(w, http.StatusServiceUnavailable, errorBody{Error: "search history is not configured"})
		return
	}

	entries, err := h.history.Recent(r.Context(), identity(r))
	if err != nil {
		h.writeError(w, r, "failed to read search history", err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{"searches": entries})
}

// PriceChecks handles GET /api/v1/offers/{offerId}/price-checks.
func (h *Handlers) PriceChecks(w http.ResponseWriter, r *http.Request) {
	if h.checks == nil {
		writeJSON(w, http.StatusServiceUnavailable, errorBody{Error: "price check history is not configured"})
		return
	}

	limit, err := intParam(r, "limit")
	if err != nil {
		h.writeError(w, r, "failed to list price checks", err)
		return
	}

	offerID := chi.URLParam(r, "offerId")
	checks, err := h.checks.ListByOffer(r.Context(), offerID, limit)
	if err != nil {
		h.writeError(w, r, "failed to list price checks", err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{"offerId": offerID, "checks": checks})
}

// HealthCheck is one named dependency probe.
type HealthCheck struct {
	Name string
	Ping func(ctx context.Context) error
}

// HealthHandlerFunc returns an http.HandlerFunc that reports upstream
// credentials and runs every check. Any failure yields 503.
func HealthHandlerFunc(credentialsSet bool, checks []HealthCheck, log *slog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
		defer cancel()

		status := http.StatusOK
		body := map[string]string{"upstream": "configured"}

		if !credentialsSet {
			body["upstream"] = "missing credentials"
			status = http.StatusServiceUnavailable
		}

		for _, c := range checks {
			body[c.Name] = "ok"
			if err := c.Ping(ctx); err != nil {
				log.Error("health check failed", "check", c.Name, "err", err)
				body[c.Name] = "error"
				status = http.StatusServiceUnavailable
			}
		}

		body["status"] = "ok"
		if status != http.StatusOK {
			body["status"] = "degraded"
		}
		writeJSON(w, status, body)
	}
}
