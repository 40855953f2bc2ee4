package engine

import "github.com/prometheus/client_golang/prometheus"

// Metrics holds Prometheus metrics for the orchestration engine.
// All metrics use the pamoja_engine_ namespace.
type Metrics struct {
	TasksTotal             *prometheus.CounterVec
	TaskDuration           *prometheus.HistogramVec
	AdmissionRejectedTotal *prometheus.CounterVec
	AgentCallsTotal        *prometheus.CounterVec
	AgentCallDuration      *prometheus.HistogramVec
	StageDuration          *prometheus.HistogramVec
	ActiveTasks            prometheus.Gauge
	ResourceUtilizationPct *prometheus.GaugeVec
}

// NewMetrics creates and registers engine metrics on the given registry.
// Returns nil if reg is nil.
func NewMetrics(reg *prometheus.Registry) *Metrics {
	if reg == nil {
		return nil
	}

	m := &Metrics{
		TasksTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "pamoja",
			Subsystem: "engine",
			Name:      "tasks_total",
			Help:      "Total tasks by final status and strategy.",
		}, []string{"status", "strategy"}),

		TaskDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "pamoja",
			Subsystem: "engine",
			Name:      "task_duration_seconds",
			Help:      "Task duration in seconds by strategy.",
			Buckets:   []float64{0.5, 1, 5, 10, 30, 60, 120, 300, 600},
		}, []string{"strategy"}),

		AdmissionRejectedTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "pamoja",
			Subsystem: "engine",
			Name:      "admission_rejected_total",
			Help:      "Tasks rejected at admission by cause.",
		}, []string{"cause"}),

		AgentCallsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "pamoja",
			Subsystem: "engine",
			Name:      "agent_calls_total",
			Help:      "Agent invocations by agent id and outcome.",
		}, []string{"agent_id", "outcome"}),

		AgentCallDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "pamoja",
			Subsystem: "engine",
			Name:      "agent_call_duration_seconds",
			Help:      "Agent call duration in seconds by agent id.",
			Buckets:   []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60},
		}, []string{"agent_id"}),

		StageDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "pamoja",
			Subsystem: "engine",
			Name:      "stage_duration_seconds",
			Help:      "Stage duration in seconds by strategy.",
			Buckets:   []float64{0.1, 0.5, 1, 5, 10, 30, 60, 120},
		}, []string{"strategy"}),

		ActiveTasks: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "pamoja",
			Subsystem: "engine",
			Name:      "active_tasks",
			Help:      "Number of currently running tasks.",
		}),

		ResourceUtilizationPct: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "pamoja",
			Subsystem: "engine",
			Name:      "resource_utilization_percent",
			Help:      "Resource utilization percent by resource type.",
		}, []string{"resource_type"}),
	}

	reg.MustRegister(
		m.TasksTotal,
		m.TaskDuration,
		m.AdmissionRejectedTotal,
		m.AgentCallsTotal,
		m.AgentCallDuration,
		m.StageDuration,
		m.ActiveTasks,
		m.ResourceUtilizationPct,
	)

	return m
}
