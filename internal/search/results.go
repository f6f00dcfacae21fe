package search

import (
	"bytes"
	"encoding/json"

	"github.com/neexbeast/tour-search/internal/tour"
	"github.com/neexbeast/tour-search/internal/upstream"
)

// listFields are the object members that may hold the row list, in match order.
var listFields = []string{"Tours", "Results", "Data"}

// rowList is a resolved results payload. meta is the enclosing object, nil
// when upstream sent a bare list.
type rowList struct {
	rows    []upstream.Row
	meta    map[string]any
	skipped int
}

// resolveRows matches the payload against its variants:
// [row...] | {Tours:[row...]} | {Results:[row...]} | {Data:[row...]}.
// A matching member that is null, or an object carrying none of them,
// resolves to no rows with its counters kept. Anything else is an error.
func resolveRows(raw json.RawMessage) (rowList, error) {
	var v any
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	if err := dec.Decode(&v); err != nil {
		return rowList{}, tour.NewUpstreamError(string(upstream.OpGetTours), "malformed results", err)
	}

	switch x := v.(type) {
	case []any:
		return toRows(x, nil), nil
	case map[string]any:
		for _, f := range listFields {
			member, ok := x[f]
			if !ok {
				continue
			}
			if member == nil {
				return rowList{rows: []upstream.Row{}, meta: x}, nil
			}
			if list, ok := member.([]any); ok {
				return toRows(list, x), nil
			}
		}
		return rowList{rows: []upstream.Row{}, meta: x}, nil
	}
	return rowList{}, tour.NewUpstreamError(string(upstream.OpGetTours), "unrecognized results shape", nil)
}

func toRows(list []any, meta map[string]any) rowList {
	out := rowList{rows: make([]upstream.Row, 0, len(list)), meta: meta}
	for _, item := range list {
		row, ok := item.(map[string]any)
		if !ok {
			out.skipped++
			continue
		}
		out.rows = append(out.rows, upstream.Row(row))
	}
	return out
}

// totalCount is TotalCount, then Total, then the number of rows.
func (l rowList) totalCount() int {
	if v, ok := upstream.Row(l.meta).First("TotalCount", "Total"); ok {
		return upstream.AsInt(v)
	}
	return len(l.rows)
}

func (l rowList) hasMore() bool {
	b, _ := l.meta["HasMore"].(bool)
	return b
}
