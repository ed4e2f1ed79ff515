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

// Metrics holds all Prometheus metrics
type Metrics struct {
	registry *prometheus.Registry

	// HTTP metrics
	HTTPRequestsTotal    *prometheus.CounterVec
	HTTPRequestDuration  *prometheus.HistogramVec
	HTTPRequestsInFlight prometheus.Gauge
	RateLimitedTotal     *prometheus.CounterVec

	// Helpdesk metrics
	UpstreamRequestsTotal   *prometheus.CounterVec
	UpstreamRequestDuration *prometheus.HistogramVec
	TokenRefreshesTotal     *prometheus.CounterVec
	SubmissionsTotal        *prometheus.CounterVec

	// Alert metrics
	AlertsTotal *prometheus.CounterVec

	// Error metrics
	ErrorsTotal *prometheus.CounterVec
	PanicsTotal prometheus.Counter

	// Resource metrics
	MemoryUtilization prometheus.Gauge
	CPULoad           prometheus.Gauge
	ResponseTimeMs    *prometheus.GaugeVec
}

// Config holds metrics configuration
type Config struct {
	Namespace string `json:"namespace"`
	Subsystem string `json:"subsystem"`
	Enabled   bool   `json:"enabled"`
}

// DefaultConfig returns default metrics configuration
func DefaultConfig() *Config {
	return &Config{
		Namespace: "helpdesk_relay",
		Enabled:   true,
	}
}

// NewMetrics creates all metrics on a private registry. A disabled config
// yields a Metrics whose recorders are no-ops.
func NewMetrics(config *Config) *Metrics {
	if config == nil {
		config = DefaultConfig()
	}

	registry := prometheus.NewRegistry()
	if !config.Enabled {
		return &Metrics{registry: registry}
	}

	counterVec := func(name, help string, labels ...string) *prometheus.CounterVec {
		return prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: config.Namespace,
			Subsystem: config.Subsystem,
			Name:      name,
			Help:      help,
		}, labels)
	}
	gauge := func(name, help string) prometheus.Gauge {
		return prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: config.Namespace,
			Subsystem: config.Subsystem,
			Name:      name,
			Help:      help,
		})
	}

	m := &Metrics{
		registry: registry,

		HTTPRequestsTotal: counterVec("http_requests_total",
			"Total number of HTTP requests", "method", "path", "status_code"),
		HTTPRequestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: config.Namespace,
				Subsystem: config.Subsystem,
				Name:      "http_request_duration_seconds",
				Help:      "HTTP request duration in seconds",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"method", "path", "status_code"},
		),
		HTTPRequestsInFlight: gauge("http_requests_in_flight",
			"Number of HTTP requests currently being processed"),
		RateLimitedTotal: counterVec("rate_limited_requests_total",
			"Requests rejected with 429", "path"),

		UpstreamRequestsTotal: counterVec("upstream_requests_total",
			"Total number of helpdesk API calls", "operation", "status_code"),
		UpstreamRequestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: config.Namespace,
				Subsystem: config.Subsystem,
				Name:      "upstream_request_duration_seconds",
				Help:      "Helpdesk API call duration in seconds",
				Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10, 30},
			},
			[]string{"operation"},
		),
		TokenRefreshesTotal: counterVec("token_refreshes_total",
			"Access token refresh attempts", "outcome"),
		SubmissionsTotal: counterVec("submissions_total",
			"Form submissions by kind and outcome", "kind", "outcome"),

		AlertsTotal: counterVec("alerts_total",
			"Threshold alerts by category and outcome", "category", "outcome"),

		ErrorsTotal: counterVec("errors_total",
			"Total number of errors", "component", "error_type"),
		PanicsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: config.Namespace,
			Subsystem: config.Subsystem,
			Name:      "panics_total",
			Help:      "Total number of recovered panics",
		}),

		MemoryUtilization: gauge("memory_utilization_ratio",
			"Fraction of host memory in use at the last sample"),
		CPULoad: gauge("cpu_load_ratio",
			"One minute load average divided by CPU count at the last sample"),
		ResponseTimeMs: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: config.Namespace,
				Subsystem: config.Subsystem,
				Name:      "response_time_window_ms",
				Help:      "Response time percentiles over the recent window in milliseconds",
			},
			[]string{"quantile"},
		),
	}

	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.HTTPRequestsTotal,
		m.HTTPRequestDuration,
		m.HTTPRequestsInFlight,
		m.RateLimitedTotal,
		m.UpstreamRequestsTotal,
		m.UpstreamRequestDuration,
		m.TokenRefreshesTotal,
		m.SubmissionsTotal,
		m.AlertsTotal,
		m.ErrorsTotal,
		m.PanicsTotal,
		m.MemoryUtilization,
		m.CPULoad,
		m.ResponseTimeMs,
	)

	return m
}

// RecordHTTPRequest records HTTP request metrics
func (m *Metrics) RecordHTTPRequest(method, path string, statusCode int, duration time.Duration) {
	if m == nil || m.HTTPRequestsTotal == nil {
		return
	}

	statusStr := strconv.Itoa(statusCode)
	m.HTTPRequestsTotal.WithLabelValues(method, path, statusStr).Inc()
	m.HTTPRequestDuration.WithLabelValues(method, path, statusStr).Observe(duration.Seconds())
}

// RecordRateLimited counts a request rejected with 429
func (m *Metrics) RecordRateLimited(path string) {
	if m == nil || m.RateLimitedTotal == nil {
		return
	}

	m.RateLimitedTotal.WithLabelValues(path).Inc()
}

// RecordUpstreamCall records one helpdesk API call. A status of 0 means the
// request never got a response.
func (m *Metrics) RecordUpstreamCall(operation string, statusCode int, duration time.Duration) {
	if m == nil || m.UpstreamRequestsTotal == nil {
		return
	}

	m.UpstreamRequestsTotal.WithLabelValues(operation, strconv.Itoa(statusCode)).Inc()
	m.UpstreamRequestDuration.WithLabelValues(operation).Observe(duration.Seconds())
}

// RecordTokenRefresh records the outcome of one refresh attempt
func (m *Metrics) RecordTokenRefresh(outcome string) {
	if m == nil || m.TokenRefreshesTotal == nil {
		return
	}

	m.TokenRefreshesTotal.WithLabelValues(outcome).Inc()
}

// RecordSubmission records a processed form submission
func (m *Metrics) RecordSubmission(kind, outcome string) {
	if m == nil || m.SubmissionsTotal == nil {
		return
	}

	m.SubmissionsTotal.WithLabelValues(kind, outcome).Inc()
}

// RecordAlert records an alert decision: fired, suppressed or failed
func (m *Metrics) RecordAlert(category, outcome string) {
	if m == nil || m.AlertsTotal == nil {
		return
	}

	m.AlertsTotal.WithLabelValues(category, outcome).Inc()
}

// RecordError records error metrics
func (m *Metrics) RecordError(component, errorType string) {
	if m == nil || m.ErrorsTotal == nil {
		return
	}

	m.ErrorsTotal.WithLabelValues(component, errorType).Inc()
}

// RecordPanic records a recovered panic
func (m *Metrics) RecordPanic() {
	if m == nil || m.PanicsTotal == nil {
		return
	}

	m.PanicsTotal.Inc()
}

// UpdateResourceUsage records the latest host sample
func (m *Metrics) UpdateResourceUsage(memoryRatio, cpuRatio float64) {
	if m == nil || m.MemoryUtilization == nil {
		return
	}

	m.MemoryUtilization.Set(memoryRatio)
	m.CPULoad.Set(cpuRatio)
}

// UpdateResponsePercentiles publishes the windowed response time percentiles
func (m *Metrics) UpdateResponsePercentiles(p50, p95, p99 float64) {
	if m == nil || m.ResponseTimeMs == nil {
		return
	}

	m.ResponseTimeMs.WithLabelValues("0.5").Set(p50)
	m.ResponseTimeMs.WithLabelValues("0.95").Set(p95)
	m.ResponseTimeMs.WithLabelValues("0.99").Set(p99)
}

// PrometheusMiddleware creates a middleware for Prometheus metrics collection
func (m *Metrics) PrometheusMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		if m.HTTPRequestsInFlight != nil {
			m.HTTPRequestsInFlight.Inc()
			defer m.HTTPRequestsInFlight.Dec()
		}

		start := time.Now()
		c.Next()
		duration := time.Since(start)

		path := c.FullPath()
		if path == "" {
			path = "unmatched"
		}
		m.RecordHTTPRequest(c.Request.Method, path, c.Writer.Status(), duration)
		if c.Writer.Status() == http.StatusTooManyRequests {
			m.RecordRateLimited(path)
		}
	}
}

// Handler returns the Prometheus metrics HTTP handler for this registry
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}
