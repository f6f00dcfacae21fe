// Package upstream talks to the Sletat tour aggregator.
package upstream

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/neexbeast/tour-search/internal/obs"
	"github.com/neexbeast/tour-search/internal/tour"
)

// DefaultBaseURL is the production aggregator endpoint.
const DefaultBaseURL = "https://module.sletat.ru/Main.svc"

const requestTimeout = 30 * time.Second

// Operation is an aggregator method name.
type Operation string

const (
	OpGetTours         Operation = "GetTours"
	OpGetLoadState     Operation = "GetLoadState"
	OpGetCountries     Operation = "GetCountries"
	OpGetDepartCities  Operation = "GetDepartCities"
	OpGetCities        Operation = "GetCities"
	OpGetHotelStars    Operation = "GetHotelStars"
	OpGetMeals         Operation = "GetMeals"
	OpGetTourOperators Operation = "GetTourOperators"
	OpActualizePrice   Operation = "ActualizePrice"
)

// ResultField is the envelope key carrying op's payload.
func (op Operation) ResultField() string {
	return string(op) + "Result"
}

// Envelope is a decoded response: result fields keyed by name.
type Envelope map[string]json.RawMessage

// Caller is the transport contract consumed by the orchestrator, the
// actualizer and the reference service.
type Caller interface {
	Call(ctx context.Context, op Operation, params url.Values) (Envelope, error)
}

// Client is an authenticated aggregator client.
type Client struct {
	baseURL  string
	login    string
	password string
	client   *http.Client
	log      *slog.Logger
	metrics  *obs.Metrics
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient replaces the default client with its 30s timeout.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.client = hc }
}

// WithLogger sets the logger used for request tracing.
func WithLogger(log *slog.Logger) Option {
	return func(c *Client) { c.log = log }
}

// WithMetrics records call latency by operation and outcome.
func WithMetrics(m *obs.Metrics) Option {
	return func(c *Client) { c.metrics = m }
}

// NewClient builds a client that sends login and password with every call.
func NewClient(baseURL, login, password string, opts ...Option) *Client {
	c := &Client{
		baseURL:  strings.TrimRight(baseURL, "/"),
		login:    login,
		password: password,
		client:   &http.Client{Timeout: requestTimeout},
		log:      slog.Default(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Call performs op with params plus credentials and decodes the envelope.
// Every failure is a *tour.UpstreamError.
func (c *Client) Call(ctx context.Context, op Operation, params url.Values) (Envelope, error) {
	start := time.Now()
	env, err := c.call(ctx, op, params)

	outcome := "ok"
	if err != nil {
		outcome = "error"
		var uerr *tour.UpstreamError
		if errors.As(err, &uerr) && uerr.Timeout() {
			outcome = "timeout"
		}
		c.log.Warn("upstream call failed", "op", op, "err", err, "duration_ms", time.Since(start).Milliseconds())
	} else {
		c.log.Debug("upstream call", "op", op, "duration_ms", time.Since(start).Milliseconds())
	}
	c.metrics.ObserveUpstream(string(op), outcome, time.Since(start).Seconds())

	return env, err
}

func (c *Client) call(ctx context.Context, op Operation, params url.Values) (Envelope, error) {
	q := url.Values{}
	for k, vs := range params {
		q[k] = append([]string(nil), vs...)
	}
	q.Set("login", c.login)
	q.Set("password", c.password)

	endpoint := c.baseURL + "/" + string(op)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint+"?"+q.Encode(), nil)
	if err != nil {
		return nil, tour.NewUpstreamError(string(op), "creating request", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, tour.NewUpstreamError(string(op), "request failed", redact(err, endpoint))
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, tour.NewUpstreamError(string(op), fmt.Sprintf("unexpected status %d", resp.StatusCode), nil)
	}

	var env Envelope
	if err := json.NewDecoder(resp.Body).Decode(&env); err != nil {
		return nil, tour.NewUpstreamError(string(op), "decoding response", err)
	}
	return env, nil
}

// redact strips the query string, which carries credentials, from
// transport errors.
func redact(err error, endpoint string) error {
	var uerr *url.Error
	if errors.As(err, &uerr) {
		return &url.Error{Op: uerr.Op, URL: endpoint, Err: uerr.Err}
	}
	return err
}

// Get calls op and unwraps its result field into T.
func Get[T any](ctx context.Context, c Caller, op Operation, params url.Values) (T, error) {
	env, err := c.Call(ctx, op, params)
	if err != nil {
		var zero T
		return zero, err
	}
	return Unwrap[T](env, op.ResultField())
}
