// Package metrics exposes prometheus instrumentation for the analytics backend.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/tiluckdave/prempushp/internal/counters"
)

const namespace = "prempushp"

// Collector owns a private registry so tests and multiple servers never
// collide on the global one.
type Collector struct {
	registry *prometheus.Registry

	commits        *prometheus.CounterVec
	commitAttempts *prometheus.HistogramVec
	conflicts      *prometheus.CounterVec
	failures       *prometheus.CounterVec
	activeSessions prometheus.Gauge
	trackingEvents *prometheus.CounterVec
	formSubmits    *prometheus.CounterVec
	httpRequests   *prometheus.CounterVec
	httpDuration   *prometheus.HistogramVec
}

// NewCollector registers every metric, plus the Go runtime and process
// collectors, on a fresh registry.
func NewCollector() *Collector {
	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	factory := promauto.With(registry)

	return &Collector{
		registry: registry,
		commits: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "counter_commits_total",
			Help:      "Committed writes per analytics document.",
		}, []string{"document"}),
		commitAttempts: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "counter_commit_attempts",
			Help:      "Attempts needed per committed document write.",
			Buckets:   []float64{1, 2, 3, 5, 8, 13},
		}, []string{"document"}),
		conflicts: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "counter_conflicts_total",
			Help:      "Aggregate writes that lost a version race and were retried.",
		}, []string{"document"}),
		failures: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "counter_failures_total",
			Help:      "Counter store operations that returned an error.",
		}, []string{"operation"}),
		activeSessions: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "presence_active_sessions",
			Help:      "Browser sessions currently open.",
		}),
		trackingEvents: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "tracking_events_total",
			Help:      "Tracking events accepted by the API.",
		}, []string{"event"}),
		formSubmits: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "form_submissions_total",
			Help:      "Form submissions by form and outcome.",
		}, []string{"form", "outcome"}),
		httpRequests: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "HTTP requests by route and status.",
		}, []string{"method", "route", "status"}),
		httpDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request latency by route.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method", "route"}),
	}
}

// Registry exposes the underlying registry.
func (c *Collector) Registry() *prometheus.Registry {
	return c.registry
}

// Handler serves the registry in the prometheus exposition format.
func (c *Collector) Handler() http.Handler {
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{Registry: c.registry})
}

// TransactionCommitted implements counters.Observer.
func (c *Collector) TransactionCommitted(document counters.DocumentName, attempts int) {
	c.commits.WithLabelValues(document.String()).Inc()
	c.commitAttempts.WithLabelValues(document.String()).Observe(float64(attempts))
}

// TransactionConflict implements counters.Observer.
func (c *Collector) TransactionConflict(document counters.DocumentName) {
	c.conflicts.WithLabelValues(document.String()).Inc()
}

// OperationFailed implements counters.Observer.
func (c *Collector) OperationFailed(operation string) {
	c.failures.WithLabelValues(operation).Inc()
}

// SessionsChanged implements presence.Listener.
func (c *Collector) SessionsChanged(active int, _ time.Time) {
	c.activeSessions.Set(float64(active))
}

// TrackingEvent counts one accepted tracking event.
func (c *Collector) TrackingEvent(event string) {
	c.trackingEvents.WithLabelValues(event).Inc()
}

// FormSubmitted counts a form submission outcome.
func (c *Collector) FormSubmitted(form string, ok bool) {
	outcome := "rejected"
	if ok {
		outcome = "stored"
	}
	c.formSubmits.WithLabelValues(form, outcome).Inc()
}

// ObserveRequest records one served HTTP request.
func (c *Collector) ObserveRequest(method, route string, status int, elapsed time.Duration) {
	if route == "" {
		route = "unmatched"
	}
	c.httpRequests.WithLabelValues(method, route, strconv.Itoa(status)).Inc()
	c.httpDuration.WithLabelValues(method, route).Observe(elapsed.Seconds())
}
