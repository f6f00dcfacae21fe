package tour

import (
	"time"

	"github.com/shopspring/decimal"
)

// Prices go over the wire as JSON numbers. Decoding accepts both forms.
func init() {
	decimal.MarshalJSONWithoutQuotes = true
}

// JobState is the lifecycle state of a search job.
type JobState string

const (
	JobCreated  JobState = "created"
	JobStarted  JobState = "started"
	JobPolling  JobState = "polling"
	JobFinished JobState = "finished"
	JobTimedOut JobState = "timed_out"
	JobFailed   JobState = "failed"
)

// Terminal reports whether no further transitions are possible from s.
func (s JobState) Terminal() bool {
	return s == JobFinished || s == JobTimedOut || s == JobFailed
}

// SearchJob is one asynchronous multi-source search run.
// Only the id is meaningful to upstream; progress is re-read on every poll.
type SearchJob struct {
	ID       int64           `json:"jobId"`
	State    JobState        `json:"state"`
	Progress *SearchProgress `json:"progress,omitempty"`
}

// SourceProgress is the load state of one upstream data provider.
type SourceProgress struct {
	SourceID    int    `json:"sourceId"`
	SourceName  string `json:"sourceName"`
	IsProcessed bool   `json:"isProcessed"`
	IsFailed    bool   `json:"isFailed"`
	RowsCount   int    `json:"rowsCount"`
	Errors      string `json:"errors,omitempty"`
}

// Failed reports whether the source failed or carries error text.
func (s SourceProgress) Failed() bool {
	return s.IsFailed || s.Errors != ""
}

// SearchProgress is the derived view of a job's load state.
type SearchProgress struct {
	JobID           int64            `json:"jobId"`
	Sources         []SourceProgress `json:"sources"`
	Processed       int              `json:"processed"`
	Total           int              `json:"total"`
	IsFinished      bool             `json:"isFinished"`
	ProgressPercent int              `json:"progressPercent"`
	HasErrors       bool             `json:"hasErrors"`
	ErrorSources    []SourceProgress `json:"errorSources"`
}

// TourOffer is one normalized result row.
type TourOffer struct {
	SourceID      int                `json:"sourceId"`
	OfferID       string             `json:"offerId"`
	SearchID      string             `json:"searchId,omitempty"`
	HotelName     string             `json:"hotelName"`
	HotelStars    int                `json:"hotelStars"`
	ResortName    string             `json:"resortName"`
	CountryName   string             `json:"countryName"`
	Nights        int                `json:"nights"`
	Adults        int                `json:"adults"`
	Children      int                `json:"children"`
	MealName      string             `json:"mealName"`
	MealID        int                `json:"mealId"`
	OperatorName  string             `json:"operatorName"`
	OperatorID    int                `json:"operatorId"`
	Price         decimal.Decimal    `json:"price"`
	Currency      string             `json:"currency"`
	DateFrom      string             `json:"dateFrom"`
	DateTo        string             `json:"dateTo"`
	UpdateDate    string             `json:"updateDate"`
	Actualization ActualizationToken `json:"actualization"`
}

// ResultPage is one fetch of a job's rows.
type ResultPage struct {
	JobID      int64       `json:"jobId"`
	Offers     []TourOffer `json:"offers"`
	TotalCount int         `json:"totalCount"`
	HasMore    bool        `json:"hasMore"`
}

// Page selects a slice of results. Zero fields are not sent upstream.
type Page struct {
	Page  int
	Limit int
}

// ActualizedPrice is the re-validated price of a single offer.
type ActualizedPrice struct {
	OfferID      string          `json:"offerId"`
	Price        decimal.Decimal `json:"price"`
	Currency     string          `json:"currency"`
	IsAvailable  bool            `json:"isAvailable"`
	UpdateDate   string          `json:"updateDate"`
	ActualURL    string          `json:"actualUrl,omitempty"`
	ErrorMessage string          `json:"errorMessage,omitempty"`
	HotelName    string          `json:"hotelName,omitempty"`
	Nights       int             `json:"nights,omitempty"`
	DateFrom     string          `json:"dateFrom,omitempty"`
	DateTo       string          `json:"dateTo,omitempty"`
	Adults       int             `json:"adults,omitempty"`
	Children     int             `json:"children,omitempty"`
}

// PriceCheck is a stored actualization result.
type PriceCheck struct {
	ID          string             `json:"id"`
	OfferID     string             `json:"offerId"`
	SourceID    int                `json:"sourceId"`
	Price       decimal.Decimal    `json:"price"`
	Currency    string             `json:"currency"`
	IsAvailable bool               `json:"isAvailable"`
	CheckedAt   time.Time          `json:"checkedAt"`
	Token       ActualizationToken `json:"token"`
}

// ---- reference data, kept in upstream field naming ----

// Country is a destination country.
type Country struct {
	ID           int    `json:"Id"`
	Name         string `json:"Name"`
	NameEn       string `json:"NameEn,omitempty"`
	Alias        string `json:"Alias,omitempty"`
	OriginalName string `json:"OriginalName,omitempty"`
	Rank         int    `json:"Rank,omitempty"`
	IsVisa       bool   `json:"IsVisa,omitempty"`
}

// DepartCity is a city tours depart from.
type DepartCity struct {
	ID          int    `json:"Id"`
	Name        string `json:"Name"`
	NameEn      string `json:"NameEn,omitempty"`
	CountryID   int    `json:"CountryId"`
	CountryName string `json:"CountryName,omitempty"`
	Default     bool   `json:"Default,omitempty"`
	IsPopular   bool   `json:"IsPopular,omitempty"`
}

// City is a resort inside a destination country.
type City struct {
	ID          int    `json:"Id"`
	Name        string `json:"Name"`
	NameEn      string `json:"NameEn,omitempty"`
	CountryID   int    `json:"CountryId"`
	CountryName string `json:"CountryName,omitempty"`
	IsPopular   bool   `json:"IsPopular,omitempty"`
	ParentID    *int   `json:"ParentId,omitempty"`
}

// HotelStar is a hotel category.
type HotelStar struct {
	ID        int    `json:"Id"`
	Name      string `json:"Name"`
	StarCount int    `json:"StarCount"`
}

// Meal is a board type.
type Meal struct {
	ID        int    `json:"Id"`
	Name      string `json:"Name"`
	ShortName string `json:"ShortName"`
}

// TourOperator is a tour operator.
type TourOperator struct {
	ID      int    `json:"Id"`
	Name    string `json:"Name"`
	LogoURL string `json:"LogoUrl,omitempty"`
}
