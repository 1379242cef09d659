package observability

import (
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// MetricsManager owns the Prometheus registry and the engine's metric
// families.
type MetricsManager struct {
	// HTTP metrics
	requestsTotal   *prometheus.CounterVec
	requestDuration *prometheus.HistogramVec

	// Engine metrics
	agentsDeployed prometheus.Gauge
	turnsTotal     *prometheus.CounterVec
	turnDuration   prometheus.Histogram
	framesTotal    *prometheus.CounterVec
	approvalsTotal *prometheus.CounterVec

	registry *prometheus.Registry
}

// NewMetricsManager creates the registry and registers all metric families.
func NewMetricsManager(namespace string) *MetricsManager {
	if namespace == "" {
		namespace = "agentdeck"
	}

	m := &MetricsManager{
		registry: prometheus.NewRegistry(),
	}

	m.requestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "Total number of HTTP requests",
		},
		[]string{"method", "path", "status"},
	)

	m.requestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request duration in seconds",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"method", "path"},
	)

	m.agentsDeployed = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "agents_deployed",
			Help:      "Number of currently deployed agents",
		},
	)

	m.turnsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "turns_total",
			Help:      "Completed turns by model and outcome",
		},
		[]string{"model", "outcome"},
	)

	m.turnDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "turn_duration_seconds",
			Help:      "Wall-clock duration of turns",
			Buckets:   []float64{1, 5, 15, 30, 60, 120, 300, 600},
		},
	)

	m.framesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "stream_frames_total",
			Help:      "Stream frames emitted to clients by type",
		},
		[]string{"type"},
	)

	m.approvalsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "approvals_total",
			Help:      "Tool approval outcomes",
		},
		[]string{"decision"},
	)

	m.registry.MustRegister(
		m.requestsTotal,
		m.requestDuration,
		m.agentsDeployed,
		m.turnsTotal,
		m.turnDuration,
		m.framesTotal,
		m.approvalsTotal,
	)

	m.registry.MustRegister(prometheus.NewGoCollector())
	m.registry.MustRegister(prometheus.NewProcessCollector(prometheus.ProcessCollectorOpts{}))

	return m
}

// Middleware records per-request HTTP metrics.
func (m *MetricsManager) Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		path := c.FullPath()
		if path == "" {
			path = c.Request.URL.Path
		}

		c.Next()

		m.requestsTotal.WithLabelValues(
			c.Request.Method,
			path,
			statusClass(c.Writer.Status()),
		).Inc()

		m.requestDuration.WithLabelValues(
			c.Request.Method,
			path,
		).Observe(time.Since(start).Seconds())
	}
}

// Handler exposes the Prometheus scrape endpoint.
func (m *MetricsManager) Handler() gin.HandlerFunc {
	h := promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{
		EnableOpenMetrics: true,
	})
	return gin.WrapH(h)
}

// SetAgentsDeployed updates the deployed-agent gauge.
func (m *MetricsManager) SetAgentsDeployed(count float64) {
	m.agentsDeployed.Set(count)
}

// ObserveTurn records one finished turn.
func (m *MetricsManager) ObserveTurn(model, outcome string, duration time.Duration) {
	m.turnsTotal.WithLabelValues(model, outcome).Inc()
	m.turnDuration.Observe(duration.Seconds())
}

// CountFrame records one emitted stream frame.
func (m *MetricsManager) CountFrame(frameType string) {
	m.framesTotal.WithLabelValues(frameType).Inc()
}

// CountApproval records one approval decision ("approved", "denied",
// "timeout").
func (m *MetricsManager) CountApproval(decision string) {
	m.approvalsTotal.WithLabelValues(decision).Inc()
}

// statusClass maps an HTTP status code to its class label.
func statusClass(status int) string {
	switch {
	case status >= 200 && status < 300:
		return "2xx"
	case status >= 300 && status < 400:
		return "3xx"
	case status >= 400 && status < 500:
		return "4xx"
	case status >= 500:
		return "5xx"
	default:
		return "unknown"
	}
}
