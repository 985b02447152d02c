package observability

import (
	"github.com/prometheus/client_golang/prometheus"
)

// MetricsCollector holds the process-level Prometheus metrics for Tendo.
// Uses a custom registry — no global state. Engine-specific metrics are
// registered on the same Registry by the orchestrator package.
type MetricsCollector struct {
	Registry *prometheus.Registry

	// HTTP API metrics.
	HTTPRequestsTotal   *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec
	ActiveRequests      prometheus.Gauge

	// Storage metrics.
	StoreOperationsTotal *prometheus.CounterVec
}

// NewMetricsCollector creates a MetricsCollector with all metrics registered
// on a custom prometheus.Registry.
func NewMetricsCollector() *MetricsCollector {
	reg := prometheus.NewRegistry()

	m := &MetricsCollector{
		Registry: reg,

		HTTPRequestsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "tendo",
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total HTTP requests.",
		}, []string{"method", "path", "status"}),

		HTTPRequestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "tendo",
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "HTTP request duration in seconds.",
			Buckets:   []float64{0.005, 0.01, 0.05, 0.1, 0.5, 1, 5, 10},
		}, []string{"method", "path"}),

		ActiveRequests: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "tendo",
			Subsystem: "http",
			Name:      "active_requests",
			Help:      "Number of in-flight HTTP requests.",
		}),

		StoreOperationsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "tendo",
			Subsystem: "store",
			Name:      "operations_total",
			Help:      "Total persistence operations by entity and result.",
		}, []string{"entity", "result"}),
	}

	reg.MustRegister(
		m.HTTPRequestsTotal,
		m.HTTPRequestDuration,
		m.ActiveRequests,
		m.StoreOperationsTotal,
	)
	return m
}
