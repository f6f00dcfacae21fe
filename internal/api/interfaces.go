package api

import (
	"context"

	"github.com/neexbeast/tour-search/internal/cache"
	"github.com/neexbeast/tour-search/internal/history"
	"github.com/neexbeast/tour-search/internal/reference"
	"github.com/neexbeast/tour-search/internal/tour"
)

// Searcher runs asynchronous tour searches.
type Searcher interface {
	StartSearch(ctx context.Context, identity string, req tour.SearchRequest) (tour.SearchJob, error)
	PollStatus(ctx context.Context, identity string, jobID int64) (tour.SearchProgress, error)
	FetchResults(ctx context.Context, identity string, jobID int64, page tour.Page) (tour.ResultPage, error)
}

// PriceActualizer re-validates the price of a single offer.
type PriceActualizer interface {
	Actualize(ctx context.Context, identity string, token tour.ActualizationToken) (tour.ActualizedPrice, error)
}

// ReferenceData serves cached dictionaries.
type ReferenceData interface {
	Countries(ctx context.Context, identity string, townFromID int) (reference.Result, error)
	DepartCities(ctx context.Context, identity string) (reference.Result, error)
	Cities(ctx context.Context, identity string, countryID int) (reference.Result, error)
	HotelStars(ctx context.Context, identity string, countryID int) (reference.Result, error)
	Meals(ctx context.Context, identity string) (reference.Result, error)
	Operators(ctx context.Context, identity string) (reference.Result, error)
	Invalidate(pattern string) int
	Stats() cache.Stats
}

// SearchHistory keeps recently started searches per client.
type SearchHistory interface {
	Push(ctx context.Context, identity string, e history.Entry) error
	Recent(ctx context.Context, identity string) ([]history.Entry, error)
}

// PriceCheckStore lists recorded actualizations.
type PriceCheckStore interface {
	ListByOffer(ctx context.Context, offerID string, limit int) ([]tour.PriceCheck, error)
}
