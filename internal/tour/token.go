package tour

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/url"
	"sort"
	"strconv"
)

// ActualizationToken carries everything needed to re-query one offer's price.
// TourID, SourceID and SearchID are always present; Extra holds any other
// upstream fields that take part in re-pricing and is flattened on the wire.
type ActualizationToken struct {
	TourID   string
	SourceID int
	SearchID string
	Currency string
	Extra    map[string]any
}

const (
	tokenTourID   = "tourId"
	tokenSourceID = "sourceId"
	tokenSearchID = "searchId"
	tokenCurrency = "currency"
)

// MarshalJSON flattens the token into a single object.
func (t ActualizationToken) MarshalJSON() ([]byte, error) {
	m := make(map[string]any, len(t.Extra)+4)
	for k, v := range t.Extra {
		m[k] = v
	}
	m[tokenTourID] = t.TourID
	m[tokenSourceID] = t.SourceID
	if t.SearchID != "" {
		m[tokenSearchID] = t.SearchID
	}
	if t.Currency != "" {
		m[tokenCurrency] = t.Currency
	}
	return json.Marshal(m)
}

// UnmarshalJSON accepts the flattened form produced by MarshalJSON.
func (t *ActualizationToken) UnmarshalJSON(b []byte) error {
	var m map[string]any
	dec := json.NewDecoder(bytes.NewReader(b))
	dec.UseNumber()
	if err := dec.Decode(&m); err != nil {
		return fmt.Errorf("decoding actualization token: %w", err)
	}

	*t = ActualizationToken{}
	for k, v := range m {
		switch k {
		case tokenTourID:
			t.TourID = ScalarString(v)
		case tokenSourceID:
			n, err := strconv.Atoi(ScalarString(v))
			if err != nil {
				return fmt.Errorf("decoding actualization token: sourceId %q is not an integer", ScalarString(v))
			}
			t.SourceID = n
		case tokenSearchID:
			t.SearchID = ScalarString(v)
		case tokenCurrency:
			t.Currency = ScalarString(v)
		default:
			if t.Extra == nil {
				t.Extra = make(map[string]any)
			}
			t.Extra[k] = v
		}
	}
	return nil
}

// Validate checks the identifying fields.
func (t ActualizationToken) Validate() error {
	verr := &ValidationError{}
	if t.TourID == "" {
		verr.Add(tokenTourID, "is required")
	}
	if t.SourceID <= 0 {
		verr.Add(tokenSourceID, "must be a positive integer")
	}
	return verr.OrNil()
}

// Values renders the token as upstream query parameters.
func (t ActualizationToken) Values() url.Values {
	v := url.Values{}
	keys := make([]string, 0, len(t.Extra))
	for k := range t.Extra {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		v.Set(k, ScalarString(t.Extra[k]))
	}
	v.Set(tokenTourID, t.TourID)
	v.Set(tokenSourceID, strconv.Itoa(t.SourceID))
	if t.SearchID != "" {
		v.Set(tokenSearchID, t.SearchID)
	}
	return v
}

// ScalarString renders a decoded JSON scalar without quoting or exponents.
func ScalarString(v any) string {
	switch x := v.(type) {
	case nil:
		return ""
	case string:
		return x
	case json.Number:
		return x.String()
	case float64:
		return strconv.FormatFloat(x, 'f', -1, 64)
	case int:
		return strconv.Itoa(x)
	case int64:
		return strconv.FormatInt(x, 10)
	case bool:
		return strconv.FormatBool(x)
	default:
		b, err := json.Marshal(x)
		if err != nil {
			return fmt.Sprint(x)
		}
		return string(b)
	}
}
