package upstream_test

import (
	"encoding/json"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"

	"github.com/neexbeast/tour-search/internal/upstream"
)

func TestRow_First(t *testing.T) {
	row := upstream.Row{
		"HotelName": "",
		"Hotel":     map[string]any{"Name": "Calista", "Stars": json.Number("0")},
		"Nights":    json.Number("0"),
		"Available": false,
	}

	v, ok := row.First("HotelName", "Hotel.Name")
	assert.True(t, ok)
	assert.Equal(t, "Calista", v)

	_, ok = row.First("Nights", "NightsCount")
	assert.False(t, ok)

	_, ok = row.First("Hotel.Stars")
	assert.False(t, ok)

	assert.Equal(t, 1, row.FirstOr(1, "Adults", "AdultsCount"))
	assert.Nil(t, row.Lookup("HotelName.Inner"))
}

func TestPresent(t *testing.T) {
	assert.False(t, upstream.Present(nil))
	assert.False(t, upstream.Present(""))
	assert.False(t, upstream.Present(false))
	assert.False(t, upstream.Present(json.Number("0")))
	assert.True(t, upstream.Present("0"))
	assert.True(t, upstream.Present(json.Number("0.5")))
	assert.True(t, upstream.Present([]any{}))
}

func TestAsInt(t *testing.T) {
	assert.Equal(t, 7, upstream.AsInt(json.Number("7")))
	assert.Equal(t, 7, upstream.AsInt(json.Number("7.9")))
	assert.Equal(t, 12, upstream.AsInt(" 12 "))
	assert.Equal(t, 0, upstream.AsInt("seven"))
	assert.Equal(t, 0, upstream.AsInt(true))
}

func TestAsDecimal(t *testing.T) {
	assert.True(t, decimal.RequireFromString("10499.99").Equal(upstream.AsDecimal(json.Number("10499.99"))))
	assert.True(t, decimal.RequireFromString("85000").Equal(upstream.AsDecimal("85000")))
	assert.True(t, upstream.AsDecimal("n/a").IsZero())
	assert.True(t, upstream.AsDecimal(nil).IsZero())
}
