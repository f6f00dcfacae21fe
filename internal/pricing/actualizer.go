// Package pricing re-validates the price and availability of a single offer.
package pricing

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/neexbeast/tour-search/internal/obs"
	"github.com/neexbeast/tour-search/internal/tour"
	"github.com/neexbeast/tour-search/internal/upstream"
)

// OpActualize is the rate-limit bucket for price checks. It is independent of
// the search buckets.
const OpActualize = "price-actualize"

const isoMillis = "2006-01-02T15:04:05.000Z07:00"

// Limiter admits or rejects a call for an (identity, operation) pair.
type Limiter interface {
	Admit(identity, operation string) bool
}

// Recorder stores completed price checks.
type Recorder interface {
	Record(ctx context.Context, check tour.PriceCheck) (tour.PriceCheck, error)
}

// Actualizer re-queries upstream for one offer using its ActualizationToken.
type Actualizer struct {
	upstream upstream.Caller
	limiter  Limiter
	recorder Recorder
	log      *slog.Logger
	metrics  *obs.Metrics
	now      func() time.Time
}

// Option configures an Actualizer.
type Option func(*Actualizer)

// WithRecorder stores every successful check. Storage failures are logged,
// not returned.
func WithRecorder(r Recorder) Option {
	return func(a *Actualizer) { a.recorder = r }
}

func WithMetrics(m *obs.Metrics) Option {
	return func(a *Actualizer) { a.metrics = m }
}

func WithClock(now func() time.Time) Option {
	return func(a *Actualizer) { a.now = now }
}

// NewActualizer constructs an Actualizer.
func NewActualizer(c upstream.Caller, l Limiter, log *slog.Logger, opts ...Option) *Actualizer {
	a := &Actualizer{upstream: c, limiter: l, log: log, now: time.Now}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Actualize returns the current price of the offer described by token.
func (a *Actualizer) Actualize(ctx context.Context, identity string, token tour.ActualizationToken) (tour.ActualizedPrice, error) {
	if err := token.Validate(); err != nil {
		return tour.ActualizedPrice{}, err
	}
	if !a.limiter.Admit(identity, OpActualize) {
		a.metrics.IncRateLimited(OpActualize)
		return tour.ActualizedPrice{}, tour.ErrRateLimited
	}

	data, err := upstream.Get[map[string]any](ctx, a.upstream, upstream.OpActualizePrice, token.Values())
	if err != nil {
		return tour.ActualizedPrice{}, fmt.Errorf("actualizing offer %s: %w", token.TourID, err)
	}

	now := a.now()
	price := normalize(upstream.Row(data), token, now)
	a.metrics.IncPriceCheck(price.IsAvailable)
	a.log.Info("price actualized",
		"offer_id", price.OfferID,
		"source_id", token.SourceID,
		"price", price.Price.String(),
		"available", price.IsAvailable,
	)

	if a.recorder != nil {
		check := tour.PriceCheck{
			OfferID:     price.OfferID,
			SourceID:    token.SourceID,
			Price:       price.Price,
			Currency:    price.Currency,
			IsAvailable: price.IsAvailable,
			CheckedAt:   now,
			Token:       token,
		}
		if _, err := a.recorder.Record(ctx, check); err != nil {
			a.log.Warn("failed to record price check", "offer_id", price.OfferID, "err", err)
		}
	}

	return price, nil
}

func normalize(data upstream.Row, token tour.ActualizationToken, now time.Time) tour.ActualizedPrice {
	currency := token.Currency
	if currency == "" {
		currency = tour.DefaultCurrency
	}

	p := tour.ActualizedPrice{
		OfferID:      token.TourID,
		Price:        upstream.AsDecimal(data.FirstOr(0, "Price", "Amount")),
		Currency:     upstream.AsString(data.FirstOr(currency, "Currency", "CurrencyAlias")),
		IsAvailable:  data["IsAvailable"] != false && data["Available"] != false,
		UpdateDate:   upstream.AsString(data.FirstOr(now.UTC().Format(isoMillis), "UpdateDate")),
		ActualURL:    upstream.AsString(data.FirstOr("", "ActualUrl", "BookingUrl", "Url")),
		ErrorMessage: upstream.AsString(data.FirstOr("", "ErrorMessage", "Error")),
		HotelName:    upstream.AsString(data.FirstOr("", "HotelName")),
		Nights:       upstream.AsInt(data.FirstOr(0, "Nights", "NightsCount")),
		DateFrom:     upstream.AsString(data.FirstOr("", "DateFrom", "StartDate")),
		DateTo:       upstream.AsString(data.FirstOr("", "DateTo", "EndDate")),
		Adults:       upstream.AsInt(data.FirstOr(0, "Adults", "AdultsCount")),
		Children:     upstream.AsInt(data.FirstOr(0, "Children", "ChildrenCount")),
	}
	return p
}
