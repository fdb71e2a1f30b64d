// Package metrics exposes Prometheus collectors for quickbin.
//
// All recording methods are safe on a nil *Metrics, so components can be
// built without metrics in tests.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "quickbin"

// Metrics owns a private registry and the collectors registered on it.
type Metrics struct {
	registry *prometheus.Registry

	httpRequests *prometheus.CounterVec
	httpDuration *prometheus.HistogramVec
	rateLimited  prometheus.Counter

	snippetsCreated prometheus.Counter
	snippetReads    *prometheus.CounterVec
	storeRetries    prometheus.Counter

	reaperDeleted  prometheus.Counter
	reaperFailures prometheus.Counter
	reaperLastRun  prometheus.Gauge
	reaperDuration prometheus.Histogram
	storedSnippets prometheus.Gauge
}

// New creates the collectors and registers them, plus the Go runtime and
// process collectors, on a fresh registry.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),

		httpRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "HTTP requests by method, route and status code",
		}, []string{"method", "route", "status"}),

		httpDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "HTTP request latency by method and route",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method", "route"}),

		rateLimited: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "rate_limited_total",
			Help:      "Requests rejected by the per-client rate limiter",
		}),

		snippetsCreated: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "snippets",
			Name:      "created_total",
			Help:      "Snippets successfully stored",
		}),

		snippetReads: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "snippets",
			Name:      "reads_total",
			Help:      "Snippet lookups by result (hit or miss)",
		}, []string{"result"}),

		storeRetries: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "store",
			Name:      "retries_total",
			Help:      "Store writes retried after a transient failure",
		}),

		reaperDeleted: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "reaper",
			Name:      "deleted_total",
			Help:      "Expired snippets physically removed",
		}),

		reaperFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "reaper",
			Name:      "failures_total",
			Help:      "Scan or delete failures during reaping",
		}),

		reaperLastRun: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "reaper",
			Name:      "last_run_timestamp_seconds",
			Help:      "Unix timestamp of the last completed reaper pass",
		}),

		reaperDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "reaper",
			Name:      "tick_duration_seconds",
			Help:      "Time spent in one reaper pass",
			Buckets:   prometheus.ExponentialBuckets(0.001, 4, 8),
		}),

		storedSnippets: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "store",
			Name:      "snippets",
			Help:      "Records physically held by the store, including expired ones not yet reaped",
		}),
	}

	m.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.httpRequests,
		m.httpDuration,
		m.rateLimited,
		m.snippetsCreated,
		m.snippetReads,
		m.storeRetries,
		m.reaperDeleted,
		m.reaperFailures,
		m.reaperLastRun,
		m.reaperDuration,
		m.storedSnippets,
	)
	return m
}

// Registry returns the underlying registry.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Middleware records request counts and latency. Routes are labelled by
// their pattern so ids do not explode label cardinality.
func (m *Metrics) Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		if m == nil {
			c.Next()
			return
		}
		start := time.Now()
		c.Next()

		route := c.FullPath()
		if route == "" {
			route = "unmatched"
		}
		method := c.Request.Method
		m.httpRequests.WithLabelValues(method, route, strconv.Itoa(c.Writer.Status())).Inc()
		m.httpDuration.WithLabelValues(method, route).Observe(time.Since(start).Seconds())
	}
}

func (m *Metrics) RateLimited() {
	if m != nil {
		m.rateLimited.Inc()
	}
}

func (m *Metrics) SnippetCreated() {
	if m != nil {
		m.snippetsCreated.Inc()
	}
}

// SnippetRead records a lookup; hit is false for unknown or expired ids.
func (m *Metrics) SnippetRead(hit bool) {
	if m == nil {
		return
	}
	result := "miss"
	if hit {
		result = "hit"
	}
	m.snippetReads.WithLabelValues(result).Inc()
}

func (m *Metrics) StoreRetry() {
	if m != nil {
		m.storeRetries.Inc()
	}
}

// ReaperPass records the outcome of one reaper tick.
func (m *Metrics) ReaperPass(deleted, failed int, elapsed time.Duration, finished time.Time) {
	if m == nil {
		return
	}
	m.reaperDeleted.Add(float64(deleted))
	m.reaperFailures.Add(float64(failed))
	m.reaperDuration.Observe(elapsed.Seconds())
	m.reaperLastRun.Set(float64(finished.Unix()))
}

// StoredSnippets sets the physical record count gauge.
func (m *Metrics) StoredSnippets(n int64) {
	if m != nil {
		m.storedSnippets.Set(float64(n))
	}
}
