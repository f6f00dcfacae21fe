package tour

import (
	"context"
	"errors"
	"net"
	"strings"
)

// ErrRateLimited is returned when the caller exceeded its admission window.
var ErrRateLimited = errors.New("rate limited")

// ErrTimedOut is returned by the poller when the budget ran out before the
// job finished. Offers surfaced before that remain valid.
var ErrTimedOut = errors.New("search timed out")

// FieldError describes one invalid request field.
type FieldError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

// ValidationError lists every violated field of a request.
type ValidationError struct {
	Fields []FieldError
}

func (e *ValidationError) Error() string {
	parts := make([]string, 0, len(e.Fields))
	for _, f := range e.Fields {
		parts = append(parts, f.Field+": "+f.Message)
	}
	return "invalid request: " + strings.Join(parts, ", ")
}

// Add records a violation.
func (e *ValidationError) Add(field, msg string) {
	e.Fields = append(e.Fields, FieldError{Field: field, Message: msg})
}

// OrNil returns e as an error if any field was recorded, nil otherwise.
func (e *ValidationError) OrNil() error {
	if len(e.Fields) == 0 {
		return nil
	}
	return e
}

// UpstreamError is any failure talking to the aggregator: a logical error
// message, a missing result container, a malformed payload or a transport
// failure.
type UpstreamError struct {
	Op  string
	Msg string
	Err error
}

func (e *UpstreamError) Error() string {
	msg := e.Msg
	if msg == "" && e.Err != nil {
		msg = e.Err.Error()
	} else if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	if e.Op == "" {
		return "upstream: " + msg
	}
	return "upstream " + e.Op + ": " + msg
}

func (e *UpstreamError) Unwrap() error { return e.Err }

// Timeout reports whether the failure was a request timeout. It is only a
// signal for logs and metrics; nothing retries on it.
func (e *UpstreamError) Timeout() bool {
	if errors.Is(e.Err, context.DeadlineExceeded) {
		return true
	}
	var ne net.Error
	return errors.As(e.Err, &ne) && ne.Timeout()
}

// NewUpstreamError builds an UpstreamError for op.
func NewUpstreamError(op, msg string, err error) *UpstreamError {
	return &UpstreamError{Op: op, Msg: msg, Err: err}
}
