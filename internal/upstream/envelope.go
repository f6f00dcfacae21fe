package upstream

import (
	"bytes"
	"encoding/json"
	"strings"

	"github.com/neexbeast/tour-search/internal/tour"
)

const (
	errorMessageField = "ErrorMessage"
	dataField         = "Data"
)

// IsNull reports whether raw is absent or JSON null.
func IsNull(raw json.RawMessage) bool {
	t := bytes.TrimSpace(raw)
	return len(t) == 0 || bytes.Equal(t, []byte("null"))
}

// Unwrap extracts field from env and decodes its payload into T.
//
// The field must be present and non-null. If it is an object carrying a
// non-empty ErrorMessage, that message is the error. Otherwise the payload is
// its Data member when present, else the field itself. Numbers decode as
// json.Number when T holds interface values.
func Unwrap[T any](env Envelope, field string) (T, error) {
	var out T
	op := strings.TrimSuffix(field, "Result")

	raw, ok := env[field]
	if !ok || IsNull(raw) {
		return out, tour.NewUpstreamError(op, "missing result "+field, nil)
	}

	payload, err := payloadOf(op, raw)
	if err != nil {
		return out, err
	}

	if p, ok := any(&out).(*json.RawMessage); ok {
		*p = payload
		return out, nil
	}

	dec := json.NewDecoder(bytes.NewReader(payload))
	dec.UseNumber()
	if err := dec.Decode(&out); err != nil {
		return out, tour.NewUpstreamError(op, "malformed result "+field, err)
	}
	return out, nil
}

func payloadOf(op string, raw json.RawMessage) (json.RawMessage, error) {
	t := bytes.TrimSpace(raw)
	if len(t) == 0 || t[0] != '{' {
		return t, nil
	}

	var obj map[string]json.RawMessage
	if err := json.Unmarshal(t, &obj); err != nil {
		return nil, tour.NewUpstreamError(op, "malformed result envelope", err)
	}

	if msg, ok := obj[errorMessageField]; ok && !IsNull(msg) {
		var s string
		if err := json.Unmarshal(msg, &s); err != nil {
			s = string(msg)
		}
		if s != "" {
			return nil, tour.NewUpstreamError(op, s, nil)
		}
	}

	if data, ok := obj[dataField]; ok && !IsNull(data) {
		return data, nil
	}
	return t, nil
}
