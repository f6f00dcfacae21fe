// Package search runs asynchronous multi-source tour searches against the
// aggregator: start a job, poll its per-source progress and fetch its rows.
package search

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"math"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/neexbeast/tour-search/internal/obs"
	"github.com/neexbeast/tour-search/internal/tour"
	"github.com/neexbeast/tour-search/internal/upstream"
)

// Rate-limit buckets, one per operation.
const (
	OpStart   = "search-start"
	OpPoll    = "search-poll"
	OpResults = "search-results"
)

// Limiter admits or rejects a call for an (identity, operation) pair.
type Limiter interface {
	Admit(identity, operation string) bool
}

// Orchestrator is the search-job state machine. It keeps no job state of its
// own; every poll and fetch is a fresh read from upstream.
type Orchestrator struct {
	upstream upstream.Caller
	limiter  Limiter
	log      *slog.Logger
	metrics  *obs.Metrics
	now      func() time.Time
}

// Option configures an Orchestrator.
type Option func(*Orchestrator)

// WithClock overrides time.Now, used for date validation and row timestamps.
func WithClock(now func() time.Time) Option {
	return func(o *Orchestrator) { o.now = now }
}

// WithMetrics counts rate-limit rejections.
func WithMetrics(m *obs.Metrics) Option {
	return func(o *Orchestrator) { o.metrics = m }
}

// NewOrchestrator constructs an Orchestrator.
func NewOrchestrator(c upstream.Caller, l Limiter, log *slog.Logger, opts ...Option) *Orchestrator {
	o := &Orchestrator{upstream: c, limiter: l, log: log, now: time.Now}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

func (o *Orchestrator) admit(identity, op string) error {
	if o.limiter.Admit(identity, op) {
		return nil
	}
	o.metrics.IncRateLimited(op)
	return tour.ErrRateLimited
}

// StartSearch validates req and asks upstream for a new job.
func (o *Orchestrator) StartSearch(ctx context.Context, identity string, req tour.SearchRequest) (tour.SearchJob, error) {
	job := tour.SearchJob{State: tour.JobCreated}

	if err := req.Validate(o.now()); err != nil {
		return job, err
	}
	if err := o.admit(identity, OpStart); err != nil {
		return job, err
	}

	data, err := upstream.Get[map[string]any](ctx, o.upstream, upstream.OpGetTours, startParams(req))
	if err != nil {
		return job, fmt.Errorf("starting search: %w", err)
	}

	id, ok := jobIDOf(data)
	if !ok {
		return job, tour.NewUpstreamError(string(upstream.OpGetTours), "invalid job id in response", nil)
	}

	job.ID = id
	job.State = tour.JobStarted
	o.log.Info("search started", "job_id", id, "country_id", req.CountryID, "city_from_id", req.CityFromID)
	return job, nil
}

// PollStatus reads the per-source load state of jobID.
func (o *Orchestrator) PollStatus(ctx context.Context, identity string, jobID int64) (tour.SearchProgress, error) {
	if err := validJobID(jobID); err != nil {
		return tour.SearchProgress{}, err
	}
	if err := o.admit(identity, OpPoll); err != nil {
		return tour.SearchProgress{}, err
	}

	params := url.Values{"requestId": {strconv.FormatInt(jobID, 10)}}
	raw, err := upstream.Get[json.RawMessage](ctx, o.upstream, upstream.OpGetLoadState, params)
	if err != nil {
		return tour.SearchProgress{}, fmt.Errorf("polling job %d: %w", jobID, err)
	}

	state, err := decodeLoadState(raw)
	if err != nil {
		return tour.SearchProgress{}, err
	}

	progress := summarize(jobID, state.sources(), state.IsFinished)
	o.log.Debug("search progress", "job_id", jobID, "processed", progress.Processed, "total", progress.Total)
	return progress, nil
}

// FetchResults reads the rows collected so far for jobID and normalizes them.
// A zero page leaves pagination to upstream.
func (o *Orchestrator) FetchResults(ctx context.Context, identity string, jobID int64, page tour.Page) (tour.ResultPage, error) {
	if err := validJobID(jobID); err != nil {
		return tour.ResultPage{}, err
	}
	if err := o.admit(identity, OpResults); err != nil {
		return tour.ResultPage{}, err
	}

	params := url.Values{
		"requestId":    {strconv.FormatInt(jobID, 10)},
		"updateResult": {"1"},
	}
	if page.Page > 0 {
		params.Set("page", strconv.Itoa(page.Page))
	}
	if page.Limit > 0 {
		params.Set("pageSize", strconv.Itoa(page.Limit))
	}

	raw, err := upstream.Get[json.RawMessage](ctx, o.upstream, upstream.OpGetTours, params)
	if err != nil {
		return tour.ResultPage{}, fmt.Errorf("fetching results for job %d: %w", jobID, err)
	}

	list, err := resolveRows(raw)
	if err != nil {
		return tour.ResultPage{}, err
	}
	if list.skipped > 0 {
		o.log.Warn("skipped malformed result rows", "job_id", jobID, "count", list.skipped)
	}

	now := o.now()
	offers := make([]tour.TourOffer, 0, len(list.rows))
	for _, row := range list.rows {
		offers = append(offers, normalizeOffer(row, now))
	}

	return tour.ResultPage{
		JobID:      jobID,
		Offers:     offers,
		TotalCount: list.totalCount(),
		HasMore:    list.hasMore(),
	}, nil
}

func validJobID(id int64) error {
	if id <= 0 {
		verr := &tour.ValidationError{}
		verr.Add("jobId", "must be a positive integer")
		return verr
	}
	return nil
}

func startParams(req tour.SearchRequest) url.Values {
	v := url.Values{}
	v.Set("cityFromId", strconv.Itoa(req.CityFromID))
	v.Set("countryId", strconv.Itoa(req.CountryID))
	if req.CityID > 0 {
		v.Set("cityId", strconv.Itoa(req.CityID))
	}
	v.Set("dateFrom", req.DateFrom)
	v.Set("dateTo", req.DateTo)
	v.Set("nightsMin", strconv.Itoa(req.NightsMin))
	v.Set("nightsMax", strconv.Itoa(req.NightsMax))
	v.Set("adults", strconv.Itoa(req.Adults))
	v.Set("children", strconv.Itoa(req.Children))
	v.Set("currencyAlias", req.Currency())
	v.Set("requestId", "0")
	if len(req.Stars) > 0 {
		v.Set("stars", joinInts(req.Stars))
	}
	if len(req.Meals) > 0 {
		v.Set("meals", joinInts(req.Meals))
	}
	if len(req.Operators) > 0 {
		v.Set("operators", joinInts(req.Operators))
	}
	if req.PriceMin > 0 {
		v.Set("priceMin", strconv.Itoa(req.PriceMin))
	}
	if req.PriceMax > 0 {
		v.Set("priceMax", strconv.Itoa(req.PriceMax))
	}
	return v
}

func joinInts(xs []int) string {
	parts := make([]string, len(xs))
	for i, x := range xs {
		parts[i] = strconv.Itoa(x)
	}
	return strings.Join(parts, ",")
}

// jobIDOf takes the first present of requestId/RequestId, which must be a
// positive integral number.
func jobIDOf(data map[string]any) (int64, bool) {
	v, _ := upstream.Row(data).First("requestId", "RequestId")
	n, ok := v.(json.Number)
	if !ok {
		return 0, false
	}
	if id, err := n.Int64(); err == nil {
		return id, id > 0
	}
	f, err := n.Float64()
	if err != nil || f != math.Trunc(f) || f <= 0 || f > math.MaxInt64 {
		return 0, false
	}
	return int64(f), true
}

type rawSource struct {
	SourceID    int    `json:"SourceId"`
	SourceName  string `json:"SourceName"`
	IsProcessed bool   `json:"IsProcessed"`
	IsFailed    bool   `json:"IsFailed"`
	RowsCount   int    `json:"RowsCount"`
	Errors      string `json:"Errors"`
}

type loadState struct {
	Sources    []rawSource `json:"Sources"`
	IsFinished bool        `json:"IsFinished"`
}

func (s loadState) sources() []tour.SourceProgress {
	out := make([]tour.SourceProgress, 0, len(s.Sources))
	for _, r := range s.Sources {
		out = append(out, tour.SourceProgress{
			SourceID:    r.SourceID,
			SourceName:  r.SourceName,
			IsProcessed: r.IsProcessed,
			IsFailed:    r.IsFailed,
			RowsCount:   r.RowsCount,
			Errors:      r.Errors,
		})
	}
	return out
}

// decodeLoadState accepts either {Sources, IsFinished} or a bare source list.
func decodeLoadState(raw json.RawMessage) (loadState, error) {
	var state loadState
	var err error
	if trimmed := strings.TrimSpace(string(raw)); strings.HasPrefix(trimmed, "[") {
		err = json.Unmarshal(raw, &state.Sources)
	} else {
		err = json.Unmarshal(raw, &state)
	}
	if err != nil {
		return loadState{}, tour.NewUpstreamError(string(upstream.OpGetLoadState), "malformed load state", err)
	}
	return state, nil
}

func summarize(jobID int64, sources []tour.SourceProgress, upstreamFinished bool) tour.SearchProgress {
	p := tour.SearchProgress{
		JobID:        jobID,
		Sources:      sources,
		Total:        len(sources),
		ErrorSources: []tour.SourceProgress{},
	}
	for _, s := range sources {
		if s.IsProcessed {
			p.Processed++
		}
		if s.Failed() {
			p.ErrorSources = append(p.ErrorSources, s)
		}
	}
	p.HasErrors = len(p.ErrorSources) > 0
	p.IsFinished = upstreamFinished || p.Processed == p.Total
	if p.Total > 0 {
		p.ProgressPercent = int(math.Round(100 * float64(p.Processed) / float64(p.Total)))
	}
	return p
}
