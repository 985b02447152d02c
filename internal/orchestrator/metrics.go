package orchestrator

import "github.com/prometheus/client_golang/prometheus"

// Metrics holds Prometheus metrics for the execution engine.
// All metrics use the tendo_execution_ namespace.
type Metrics struct {
	ExecutionsTotal   *prometheus.CounterVec
	ExecutionDuration *prometheus.HistogramVec
	ActiveExecutions  prometheus.Gauge
	ApprovalsGated    prometheus.Counter
	TimeoutsTotal     prometheus.Counter
	BudgetReserved    prometheus.Counter
	BudgetConsumedUSD prometheus.Counter
	IdempotentReplays prometheus.Counter
}

// NewMetrics creates and registers engine metrics on the given registry.
// Returns nil if reg is nil.
func NewMetrics(reg *prometheus.Registry) *Metrics {
	if reg == nil {
		return nil
	}

	m := &Metrics{
		ExecutionsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "tendo",
			Subsystem: "execution",
			Name:      "total",
			Help:      "Total executions by skill and terminal state.",
		}, []string{"skill", "state"}),

		ExecutionDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "tendo",
			Subsystem: "execution",
			Name:      "duration_seconds",
			Help:      "Handler duration in seconds by skill.",
			Buckets:   []float64{0.1, 0.5, 1, 5, 10, 30, 60, 120, 300},
		}, []string{"skill"}),

		ActiveExecutions: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "tendo",
			Subsystem: "execution",
			Name:      "active",
			Help:      "Number of currently running executions.",
		}),

		ApprovalsGated: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "tendo",
			Subsystem: "execution",
			Name:      "approvals_gated_total",
			Help:      "Executions parked pending human approval.",
		}),

		TimeoutsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "tendo",
			Subsystem: "execution",
			Name:      "timeouts_total",
			Help:      "Executions that hit the skill's declared timeout.",
		}),

		BudgetReserved: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "tendo",
			Subsystem: "execution",
			Name:      "budget_reservations_total",
			Help:      "Successful budget reservations.",
		}),

		BudgetConsumedUSD: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "tendo",
			Subsystem: "execution",
			Name:      "budget_consumed_usd_total",
			Help:      "Actual USD consumed by completed executions.",
		}),

		IdempotentReplays: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "tendo",
			Subsystem: "execution",
			Name:      "idempotent_replays_total",
			Help:      "Requests short-circuited by the idempotency check.",
		}),
	}

	reg.MustRegister(
		m.ExecutionsTotal,
		m.ExecutionDuration,
		m.ActiveExecutions,
		m.ApprovalsGated,
		m.TimeoutsTotal,
		m.BudgetReserved,
		m.BudgetConsumedUSD,
		m.IdempotentReplays,
	)
	return m
}
