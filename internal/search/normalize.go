package search

import (
	"strings"
	"time"

	"github.com/neexbeast/tour-search/internal/tour"
	"github.com/neexbeast/tour-search/internal/upstream"
)

const (
	unknown = "Unknown"

	// isoMillis matches the timestamp format upstream uses for UpdateDate.
	isoMillis = "2006-01-02T15:04:05.000Z07:00"
)

// fieldRule maps one offer attribute to its ordered source candidates.
// Candidates are dotted paths into the raw row; the first present value wins,
// otherwise fallback is assigned.
type fieldRule struct {
	candidates []string
	fallback   any
	assign     func(o *tour.TourOffer, v any)
}

// offerFields is the normalization table. New upstream field names are added
// as extra candidates.
var offerFields = []fieldRule{
	{[]string{"SourceId"}, 0, func(o *tour.TourOffer, v any) { o.SourceID = upstream.AsInt(v) }},
	{[]string{"TourId", "Id"}, "", func(o *tour.TourOffer, v any) { o.OfferID = upstream.AsString(v) }},
	{[]string{"SearchId"}, "", func(o *tour.TourOffer, v any) { o.SearchID = upstream.AsString(v) }},
	{[]string{"HotelName", "Hotel.Name"}, unknown, func(o *tour.TourOffer, v any) { o.HotelName = upstream.AsString(v) }},
	{[]string{"HotelStars", "Hotel.Stars"}, 0, func(o *tour.TourOffer, v any) { o.HotelStars = upstream.AsInt(v) }},
	{[]string{"ResortName", "Resort.Name", "CityName"}, unknown, func(o *tour.TourOffer, v any) { o.ResortName = upstream.AsString(v) }},
	{[]string{"CountryName", "Country.Name"}, unknown, func(o *tour.TourOffer, v any) { o.CountryName = upstream.AsString(v) }},
	{[]string{"Nights", "NightsCount"}, 0, func(o *tour.TourOffer, v any) { o.Nights = upstream.AsInt(v) }},
	{[]string{"Adults", "AdultsCount"}, 1, func(o *tour.TourOffer, v any) { o.Adults = upstream.AsInt(v) }},
	{[]string{"Children", "ChildrenCount"}, 0, func(o *tour.TourOffer, v any) { o.Children = upstream.AsInt(v) }},
	{[]string{"MealName", "Meal.Name"}, unknown, func(o *tour.TourOffer, v any) { o.MealName = upstream.AsString(v) }},
	{[]string{"MealId", "Meal.Id"}, 0, func(o *tour.TourOffer, v any) { o.MealID = upstream.AsInt(v) }},
	{[]string{"OperatorName", "Operator.Name"}, unknown, func(o *tour.TourOffer, v any) { o.OperatorName = upstream.AsString(v) }},
	{[]string{"OperatorId", "Operator.Id"}, 0, func(o *tour.TourOffer, v any) { o.OperatorID = upstream.AsInt(v) }},
	{[]string{"Price", "Amount"}, 0, func(o *tour.TourOffer, v any) { o.Price = upstream.AsDecimal(v) }},
	{[]string{"Currency", "CurrencyAlias"}, tour.DefaultCurrency, func(o *tour.TourOffer, v any) { o.Currency = upstream.AsString(v) }},
	{[]string{"DateFrom", "StartDate"}, "", func(o *tour.TourOffer, v any) { o.DateFrom = upstream.AsString(v) }},
	{[]string{"DateTo", "EndDate"}, "", func(o *tour.TourOffer, v any) { o.DateTo = upstream.AsString(v) }},
	// A missing timestamp is filled with the fetch time after the table runs.
	{[]string{"UpdateDate", "LastUpdate"}, "", func(o *tour.TourOffer, v any) { o.UpdateDate = upstream.AsString(v) }},
}

// normalizeOffer maps one raw upstream row to a TourOffer.
func normalizeOffer(row upstream.Row, now time.Time) tour.TourOffer {
	var o tour.TourOffer
	for _, rule := range offerFields {
		rule.assign(&o, row.FirstOr(rule.fallback, rule.candidates...))
	}
	if o.UpdateDate == "" {
		o.UpdateDate = now.UTC().Format(isoMillis)
	}
	o.Actualization = tokenFor(row, o)
	return o
}

// tokenFor captures the id fields plus every row field that takes part in
// re-pricing: names starting with "Actualize" or containing "PriceKey".
func tokenFor(row upstream.Row, o tour.TourOffer) tour.ActualizationToken {
	t := tour.ActualizationToken{
		TourID:   o.OfferID,
		SourceID: o.SourceID,
		SearchID: o.SearchID,
		Currency: o.Currency,
	}
	for k, v := range row {
		if strings.HasPrefix(k, "Actualize") || strings.Contains(k, "PriceKey") {
			if t.Extra == nil {
				t.Extra = make(map[string]any)
			}
			t.Extra[k] = v
		}
	}
	return t
}
