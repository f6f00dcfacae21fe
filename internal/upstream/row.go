package upstream

import (
	"encoding/json"
	"math"
	"strconv"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/neexbeast/tour-search/internal/tour"
)

// Row is a decoded upstream object. Numbers are json.Number.
type Row map[string]any

// Lookup resolves a dotted path such as "Hotel.Name".
func (r Row) Lookup(path string) any {
	var cur any = map[string]any(r)
	for _, part := range strings.Split(path, ".") {
		m, ok := cur.(map[string]any)
		if !ok {
			return nil
		}
		cur = m[part]
	}
	return cur
}

// First returns the value of the first path that is Present.
func (r Row) First(paths ...string) (any, bool) {
	for _, p := range paths {
		if v := r.Lookup(p); Present(v) {
			return v, true
		}
	}
	return nil, false
}

// FirstOr is First with a fallback.
func (r Row) FirstOr(fallback any, paths ...string) any {
	if v, ok := r.First(paths...); ok {
		return v
	}
	return fallback
}

// Present reports whether v carries a value: not null, not an empty string,
// not zero and not false. Upstream uses zero values for "unset", so those
// fall through to the next candidate field.
func Present(v any) bool {
	switch x := v.(type) {
	case nil:
		return false
	case string:
		return x != ""
	case bool:
		return x
	case json.Number:
		f, err := x.Float64()
		return err == nil && f != 0
	case float64:
		return x != 0
	case int:
		return x != 0
	default:
		return true
	}
}

// AsString renders a scalar without quoting.
func AsString(v any) string {
	return tour.ScalarString(v)
}

// AsInt converts a number or numeric string, truncating fractions.
// Anything else is 0.
func AsInt(v any) int {
	switch x := v.(type) {
	case int:
		return x
	case float64:
		return int(x)
	case json.Number:
		if n, err := x.Int64(); err == nil {
			return int(n)
		}
		if f, err := x.Float64(); err == nil && !math.IsInf(f, 0) {
			return int(f)
		}
	case string:
		s := strings.TrimSpace(x)
		if n, err := strconv.Atoi(s); err == nil {
			return n
		}
		if f, err := strconv.ParseFloat(s, 64); err == nil {
			return int(f)
		}
	}
	return 0
}

// AsDecimal parses a price sent either as a JSON number or a numeric string.
// Unparseable input yields zero.
func AsDecimal(v any) decimal.Decimal {
	switch x := v.(type) {
	case int:
		return decimal.NewFromInt(int64(x))
	case float64:
		return decimal.NewFromFloat(x)
	case json.Number:
		if d, err := decimal.NewFromString(x.String()); err == nil {
			return d
		}
	case string:
		if d, err := decimal.NewFromString(strings.TrimSpace(x)); err == nil {
			return d
		}
	}
	return decimal.Zero
}
