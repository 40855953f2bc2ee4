package observability

import (
	"github.com/prometheus/client_golang/prometheus"
)

// MetricsCollector holds the gateway-level Prometheus metrics for Pamoja.
// Uses a custom registry, no global state. The orchestration engine
// registers its own collectors on the same registry during wiring.
type MetricsCollector struct {
	Registry *prometheus.Registry

	// HTTP gateway metrics.
	HTTPRequestsTotal   *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec

	// WebSocket agent gateway metrics.
	WSConnectedAgents prometheus.Gauge
	WSMessagesTotal   *prometheus.CounterVec

	// MCP gateway metrics.
	MCPToolCallsTotal *prometheus.CounterVec

	// System metrics.
	ActiveRequests prometheus.Gauge
}

// NewMetricsCollector creates a MetricsCollector with all metrics registered
// on a custom prometheus.Registry.
func NewMetricsCollector() *MetricsCollector {
	reg := prometheus.NewRegistry()

	m := &MetricsCollector{
		Registry: reg,

		HTTPRequestsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "pamoja",
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total HTTP requests.",
		}, []string{"method", "path", "status_code"}),

		HTTPRequestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "pamoja",
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "HTTP request duration in seconds.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method", "path"}),

		WSConnectedAgents: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "pamoja",
			Subsystem: "ws",
			Name:      "connected_agents",
			Help:      "Number of agents currently connected over WebSocket.",
		}),

		WSMessagesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "pamoja",
			Subsystem: "ws",
			Name:      "messages_total",
			Help:      "Total WebSocket protocol messages.",
		}, []string{"kind", "direction"}),

		MCPToolCallsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "pamoja",
			Subsystem: "mcp",
			Name:      "tool_calls_total",
			Help:      "Total MCP tool invocations.",
		}, []string{"tool", "status"}),

		ActiveRequests: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "pamoja",
			Name:      "active_requests",
			Help:      "Number of currently active requests.",
		}),
	}

	reg.MustRegister(
		m.HTTPRequestsTotal,
		m.HTTPRequestDuration,
		m.WSConnectedAgents,
		m.WSMessagesTotal,
		m.MCPToolCallsTotal,
		m.ActiveRequests,
	)

	return m
}
