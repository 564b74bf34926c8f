// Package metrics provides Prometheus metrics for the platform: HTTP
// traffic, invocations, image builds and cache behavior.
package metrics

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	once     sync.Once
	instance *Metrics
)

// Metrics holds all Prometheus metric collectors.
type Metrics struct {
	// HTTP
	HTTPRequestsTotal    *prometheus.CounterVec
	HTTPRequestDuration  *prometheus.HistogramVec
	HTTPRequestsInFlight prometheus.Gauge

	// Invocations
	InvocationsTotal    *prometheus.CounterVec
	InvocationDuration  *prometheus.HistogramVec
	InvocationsInFlight prometheus.Gauge

	// Image builds
	ImageBuildsTotal   *prometheus.CounterVec
	ImageBuildDuration prometheus.Histogram

	// Gateway
	GatewayDispatchesTotal *prometheus.CounterVec

	// Cache
	CacheHitsTotal   *prometheus.CounterVec
	CacheMissesTotal *prometheus.CounterVec

	// Store row counts, sampled by the Collector.
	StoreProjects    prometheus.Gauge
	StoreFunctions   prometheus.Gauge
	StoreInvocations prometheus.Gauge

	// System
	Goroutines         prometheus.Gauge
	DBConnectionsInUse prometheus.Gauge
	DBConnectionsIdle  prometheus.Gauge
	StartupTime        prometheus.Gauge
}

// Get returns the singleton Metrics instance
func Get() *Metrics {
	once.Do(func() {
		instance = newMetrics()
	})
	return instance
}

func newMetrics() *Metrics {
	m := &Metrics{}

	m.HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "clowdy",
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total number of HTTP requests by endpoint, method, and status class",
		},
		[]string{"endpoint", "method", "status"},
	)

	m.HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "clowdy",
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "HTTP request duration in seconds",
			Buckets:   []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10, 30},
		},
		[]string{"endpoint", "method"},
	)

	m.HTTPRequestsInFlight = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "clowdy",
			Subsystem: "http",
			Name:      "requests_in_flight",
			Help:      "Current number of HTTP requests being processed",
		},
	)

	m.InvocationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "clowdy",
			Subsystem: "invocation",
			Name:      "total",
			Help:      "Total number of function invocations by status and source",
		},
		[]string{"status", "source"},
	)

	m.InvocationDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "clowdy",
			Subsystem: "invocation",
			Name:      "duration_seconds",
			Help:      "Function invocation duration in seconds",
			Buckets:   []float64{.1, .25, .5, 1, 2.5, 5, 10, 30, 35},
		},
		[]string{"source"},
	)

	m.InvocationsInFlight = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "clowdy",
			Subsystem: "invocation",
			Name:      "in_flight",
			Help:      "Number of invocations currently running",
		},
	)

	m.ImageBuildsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "clowdy",
			Subsystem: "image",
			Name:      "builds_total",
			Help:      "Total number of per-project image builds by result",
		},
		[]string{"result"},
	)

	m.ImageBuildDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "clowdy",
			Subsystem: "image",
			Name:      "build_duration_seconds",
			Help:      "Per-project image build duration in seconds",
			Buckets:   []float64{1, 5, 10, 30, 60, 120, 300, 600},
		},
	)

	m.GatewayDispatchesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "clowdy",
			Subsystem: "gateway",
			Name:      "dispatches_total",
			Help:      "Total number of gateway dispatches by outcome",
		},
		[]string{"outcome"},
	)

	m.CacheHitsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "clowdy",
			Subsystem: "cache",
			Name:      "hits_total",
			Help:      "Total number of cache hits",
		},
		[]string{"cache_name"},
	)

	m.CacheMissesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "clowdy",
			Subsystem: "cache",
			Name:      "misses_total",
			Help:      "Total number of cache misses",
		},
		[]string{"cache_name"},
	)

	m.StoreProjects = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "clowdy",
			Subsystem: "store",
			Name:      "projects",
			Help:      "Number of projects in the store",
		},
	)

	m.StoreFunctions = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "clowdy",
			Subsystem: "store",
			Name:      "functions",
			Help:      "Number of functions in the store",
		},
	)

	m.StoreInvocations = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "clowdy",
			Subsystem: "store",
			Name:      "invocations",
			Help:      "Number of invocation records in the store",
		},
	)

	m.Goroutines = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "clowdy",
			Subsystem: "server",
			Name:      "goroutines",
			Help:      "Current number of goroutines",
		},
	)

	m.DBConnectionsInUse = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "clowdy",
			Subsystem: "db",
			Name:      "connections_in_use",
			Help:      "Database connections currently in use",
		},
	)

	m.DBConnectionsIdle = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "clowdy",
			Subsystem: "db",
			Name:      "connections_idle",
			Help:      "Idle database connections",
		},
	)

	m.StartupTime = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "clowdy",
			Subsystem: "server",
			Name:      "startup_timestamp",
			Help:      "Server startup timestamp",
		},
	)

	m.StartupTime.Set(float64(time.Now().Unix()))
	return m
}

// RecordHTTPRequest records an HTTP request metric
func (m *Metrics) RecordHTTPRequest(endpoint, method string, statusCode int, duration time.Duration) {
	status := statusCodeToLabel(statusCode)
	m.HTTPRequestsTotal.WithLabelValues(endpoint, method, status).Inc()
	m.HTTPRequestDuration.WithLabelValues(endpoint, method).Observe(duration.Seconds())
}

// RecordInvocation records one finished invocation.
func (m *Metrics) RecordInvocation(status, source string, duration time.Duration) {
	m.InvocationsTotal.WithLabelValues(status, source).Inc()
	m.InvocationDuration.WithLabelValues(source).Observe(duration.Seconds())
}

// RecordImageBuild records one finished image build.
func (m *Metrics) RecordImageBuild(result string, duration time.Duration) {
	m.ImageBuildsTotal.WithLabelValues(result).Inc()
	m.ImageBuildDuration.Observe(duration.Seconds())
}

// RecordGatewayDispatch records a gateway dispatch outcome.
func (m *Metrics) RecordGatewayDispatch(outcome string) {
	m.GatewayDispatchesTotal.WithLabelValues(outcome).Inc()
}

// RecordCacheOperation records a cache hit or miss
func (m *Metrics) RecordCacheOperation(cacheName string, hit bool) {
	if hit {
		m.CacheHitsTotal.WithLabelValues(cacheName).Inc()
	} else {
		m.CacheMissesTotal.WithLabelValues(cacheName).Inc()
	}
}

func statusCodeToLabel(code int) string {
	switch {
	case code >= 200 && code < 300:
		return "2xx"
	case code >= 300 && code < 400:
		return "3xx"
	case code >= 400 && code < 500:
		return "4xx"
	case code >= 500:
		return "5xx"
	default:
		return "unknown"
	}
}
