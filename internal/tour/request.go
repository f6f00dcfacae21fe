package tour

import (
	"time"
)

// DateLayout is the calendar date format used on both sides of the API.
const DateLayout = "2006-01-02"

// DefaultCurrency is used when a request or upstream row names none.
const DefaultCurrency = "RUB"

// SearchRequest is a tour search submitted by a client.
// Zero optional fields (CityID, PriceMin, PriceMax) mean "not set".
type SearchRequest struct {
	CityFromID    int    `json:"cityFromId"`
	CountryID     int    `json:"countryId"`
	CityID        int    `json:"cityId,omitempty"`
	DateFrom      string `json:"dateFrom"`
	DateTo        string `json:"dateTo"`
	NightsMin     int    `json:"nightsMin"`
	NightsMax     int    `json:"nightsMax"`
	Adults        int    `json:"adults"`
	Children      int    `json:"children"`
	Stars         []int  `json:"stars,omitempty"`
	Meals         []int  `json:"meals,omitempty"`
	Operators     []int  `json:"operators,omitempty"`
	PriceMin      int    `json:"priceMin,omitempty"`
	PriceMax      int    `json:"priceMax,omitempty"`
	CurrencyAlias string `json:"currencyAlias,omitempty"`
}

// Currency returns the requested currency or the default.
func (r SearchRequest) Currency() string {
	if r.CurrencyAlias == "" {
		return DefaultCurrency
	}
	return r.CurrencyAlias
}

// Validate checks every field against now and returns a *ValidationError
// naming all violations, or nil.
func (r SearchRequest) Validate(now time.Time) error {
	verr := &ValidationError{}

	if r.CityFromID <= 0 {
		verr.Add("cityFromId", "must be a positive integer")
	}
	if r.CountryID <= 0 {
		verr.Add("countryId", "must be a positive integer")
	}
	if r.CityID < 0 {
		verr.Add("cityId", "must be a positive integer")
	}

	from, fromErr := time.Parse(DateLayout, r.DateFrom)
	if fromErr != nil {
		verr.Add("dateFrom", "must be a YYYY-MM-DD date")
	} else if !from.After(now) {
		verr.Add("dateFrom", "must be in the future")
	}

	to, toErr := time.Parse(DateLayout, r.DateTo)
	if toErr != nil {
		verr.Add("dateTo", "must be a YYYY-MM-DD date")
	} else if fromErr == nil && !to.After(from) {
		verr.Add("dateTo", "must be after dateFrom")
	}

	if r.NightsMin < 1 || r.NightsMin > 30 {
		verr.Add("nightsMin", "must be between 1 and 30")
	}
	if r.NightsMax < 1 || r.NightsMax > 30 {
		verr.Add("nightsMax", "must be between 1 and 30")
	} else if r.NightsMax < r.NightsMin {
		verr.Add("nightsMax", "must not be less than nightsMin")
	}

	if r.Adults < 1 || r.Adults > 10 {
		verr.Add("adults", "must be between 1 and 10")
	}
	if r.Children < 0 || r.Children > 10 {
		verr.Add("children", "must be between 0 and 10")
	}

	for _, s := range r.Stars {
		if s < 1 || s > 5 {
			verr.Add("stars", "each value must be between 1 and 5")
			break
		}
	}
	if r.PriceMin < 0 {
		verr.Add("priceMin", "must not be negative")
	}
	if r.PriceMax < 0 {
		verr.Add("priceMax", "must not be negative")
	}

	return verr.OrNil()
}
