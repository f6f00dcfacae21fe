// Package obs holds the Prometheus collectors shared by the service.
package obs

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics groups every collector. A nil *Metrics is valid and records nothing.
type Metrics struct {
	UpstreamLatency     *prometheus.HistogramVec
	RateLimitRejections *prometheus.CounterVec
	CacheLookups        *prometheus.CounterVec
	PriceChecks         *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec
	HTTPRequestsTotal   *prometheus.CounterVec
	Registry            *prometheus.Registry
}

// NewMetrics creates the collectors and registers them on reg.
func NewMetrics(reg *prometheus.Registry) *Metrics {
	m := &Metrics{
		UpstreamLatency: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "upstream_request_duration_seconds",
				Help:    "Latency of calls to the tour aggregator",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"operation", "outcome"},
		),
		RateLimitRejections: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "ratelimit_rejections_total",
			Help: "Requests rejected by the per-client admission window",
		}, []string{"operation"}),
		CacheLookups: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "reference_cache_lookups_total",
			Help: "Reference data cache lookups by result",
		}, []string{"resource", "result"}),
		PriceChecks: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "price_actualizations_total",
			Help: "Offer price re-validations by availability",
		}, []string{"available"}),
		HTTPRequestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "http_request_duration_seconds",
				Help:    "HTTP request latencies",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"method", "route", "status"},
		),
		HTTPRequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "http_requests_total",
				Help: "Total HTTP requests",
			},
			[]string{"method", "route", "status"},
		),
		Registry: reg,
	}

	reg.MustRegister(
		m.UpstreamLatency,
		m.RateLimitRejections,
		m.CacheLookups,
		m.PriceChecks,
		m.HTTPRequestDuration,
		m.HTTPRequestsTotal,
	)

	return m
}

func (m *Metrics) ObserveUpstream(operation, outcome string, seconds float64) {
	if m == nil {
		return
	}
	m.UpstreamLatency.WithLabelValues(operation, outcome).Observe(seconds)
}

func (m *Metrics) IncRateLimited(operation string) {
	if m == nil {
		return
	}
	m.RateLimitRejections.WithLabelValues(operation).Inc()
}

func (m *Metrics) IncCacheLookup(resource string, hit bool) {
	if m == nil {
		return
	}
	result := "miss"
	if hit {
		result = "hit"
	}
	m.CacheLookups.WithLabelValues(resource, result).Inc()
}

func (m *Metrics) IncPriceCheck(available bool) {
	if m == nil {
		return
	}
	label := "false"
	if available {
		label = "true"
	}
	m.PriceChecks.WithLabelValues(label).Inc()
}

func (m *Metrics) ObserveHTTP(method, route, status string, seconds float64) {
	if m == nil {
		return
	}
	m.HTTPRequestsTotal.WithLabelValues(method, route, status).Inc()
	m.HTTPRequestDuration.WithLabelValues(method, route, status).Observe(seconds)
}

// Handler exposes the registry for scraping.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.Registry, promhttp.HandlerOpts{})
}
