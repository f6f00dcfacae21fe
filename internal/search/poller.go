package search

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"time"

	"github.com/google/uuid"

	"github.com/neexbeast/tour-search/internal/tour"
)

const (
	DefaultPollInterval = 1500 * time.Millisecond
	DefaultPollBudget   = 20 * time.Second
)

// Searcher is the part of the Orchestrator the Poller drives.
type Searcher interface {
	PollStatus(ctx context.Context, identity string, jobID int64) (tour.SearchProgress, error)
	FetchResults(ctx context.Context, identity string, jobID int64, page tour.Page) (tour.ResultPage, error)
}

// Hooks receive intermediate state while a Poller runs. Nil hooks are skipped.
type Hooks struct {
	Progress func(tour.SearchProgress)
	Offers   func(tour.ResultPage)
}

// Outcome is the final state of a polling run.
type Outcome struct {
	RunID    string
	Job      tour.SearchJob
	Offers   []tour.TourOffer
	Attempts int
}

// Poller drives a started job to a terminal state with a bounded number of
// polls, surfacing offers as soon as any source has processed.
type Poller struct {
	search   Searcher
	interval time.Duration
	budget   time.Duration
	log      *slog.Logger
	sleep    func(ctx context.Context, d time.Duration) error
}

// PollerOption configures a Poller.
type PollerOption func(*Poller)

func WithInterval(d time.Duration) PollerOption {
	return func(p *Poller) {
		if d > 0 {
			p.interval = d
		}
	}
}

func WithBudget(d time.Duration) PollerOption {
	return func(p *Poller) {
		if d > 0 {
			p.budget = d
		}
	}
}

func WithPollerLogger(log *slog.Logger) PollerOption {
	return func(p *Poller) { p.log = log }
}

// WithSleep replaces the wait between attempts (tests).
func WithSleep(sleep func(ctx context.Context, d time.Duration) error) PollerOption {
	return func(p *Poller) { p.sleep = sleep }
}

// NewPoller constructs a Poller with the default 1.5s interval and 20s budget.
func NewPoller(s Searcher, opts ...PollerOption) *Poller {
	p := &Poller{
		search:   s,
		interval: DefaultPollInterval,
		budget:   DefaultPollBudget,
		log:      slog.Default(),
		sleep:    sleepCtx,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Attempts is the maximum number of polls per run.
func (p *Poller) Attempts() int {
	n := int(math.Ceil(float64(p.budget) / float64(p.interval)))
	if n < 1 {
		return 1
	}
	return n
}

// Run polls jobID until it finishes, fails or the budget runs out. A run that
// ends TimedOut returns tour.ErrTimedOut; offers surfaced before any terminal
// state are kept in the Outcome either way.
func (p *Poller) Run(ctx context.Context, identity string, jobID int64, page tour.Page, hooks Hooks) (Outcome, error) {
	out := Outcome{
		RunID: uuid.NewString(),
		Job:   tour.SearchJob{ID: jobID, State: tour.JobPolling},
	}
	log := p.log.With("run_id", out.RunID, "job_id", jobID)

	for i := 0; i < p.Attempts(); i++ {
		if err := p.sleep(ctx, p.interval); err != nil {
			out.Job.State = tour.JobFailed
			return out, err
		}
		out.Attempts++

		progress, err := p.search.PollStatus(ctx, identity, jobID)
		if errors.Is(err, tour.ErrRateLimited) {
			log.Debug("poll rate limited", "attempt", out.Attempts)
			continue
		}
		if err != nil {
			out.Job.State = tour.JobFailed
			return out, err
		}

		out.Job.Progress = &progress
		if hooks.Progress != nil {
			hooks.Progress(progress)
		}

		if progress.Processed > 0 || progress.IsFinished {
			res, err := p.search.FetchResults(ctx, identity, jobID, page)
			switch {
			case err != nil && progress.IsFinished:
				out.Job.State = tour.JobFailed
				return out, fmt.Errorf("final fetch: %w", err)
			case err != nil:
				log.Warn("fetching partial results", "err", err)
			default:
				out.Offers = mergeOffers(out.Offers, res.Offers)
				if hooks.Offers != nil {
					hooks.Offers(res)
				}
			}
		}

		if progress.IsFinished {
			out.Job.State = tour.JobFinished
			log.Info("search finished", "attempts", out.Attempts, "offers", len(out.Offers))
			return out, nil
		}
	}

	out.Job.State = tour.JobTimedOut
	log.Warn("search timed out", "attempts", out.Attempts, "offers", len(out.Offers))
	return out, tour.ErrTimedOut
}

// mergeOffers folds a fresh page into what has been shown so far. Known ids
// are refreshed in place and new ids are appended, so a row never disappears
// once shown. Rows without an id are only kept from the latest page.
func mergeOffers(shown, page []tour.TourOffer) []tour.TourOffer {
	at := make(map[string]int, len(shown))
	out := make([]tour.TourOffer, 0, len(shown)+len(page))
	for _, o := range shown {
		if o.OfferID == "" {
			continue
		}
		at[o.OfferID] = len(out)
		out = append(out, o)
	}
	for _, o := range page {
		if i, ok := at[o.OfferID]; ok && o.OfferID != "" {
			out[i] = o
			continue
		}
		if o.OfferID != "" {
			at[o.OfferID] = len(out)
		}
		out = append(out, o)
	}
	return out
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
