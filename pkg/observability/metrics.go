package observability

import (
	"context"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/aretw0/pvm/pkg/domain"
)

const namespace = "pvm"

// Metrics holds the Prometheus collectors fed by engine hooks.
type Metrics struct {
	commands        *prometheus.CounterVec
	commandDuration *prometheus.HistogramVec
	operations      *prometheus.CounterVec
	transactions    *prometheus.CounterVec
	history         *prometheus.CounterVec
	handlers        prometheus.Counter
}

// NewMetrics creates the collectors and registers them with reg.
func NewMetrics(reg prometheus.Registerer) (*Metrics, error) {
	m := &Metrics{
		commands: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "commands_total",
			Help:      "Commands executed, by outcome.",
		}, []string{"command", "outcome"}),
		commandDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "command_duration_seconds",
			Help:      "Duration of command executions.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"command"}),
		operations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "operations_total",
			Help:      "Atomic operations dequeued, by whether they were skipped.",
		}, []string{"operation", "skipped"}),
		transactions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "transactions_total",
			Help:      "Command transactions, by outcome.",
		}, []string{"outcome"}),
		history: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "history_events_total",
			Help:      "History events recorded, by type.",
		}, []string{"type"}),
		handlers: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "compensation_handlers_total",
			Help:      "Compensation handler executions spawned.",
		}),
	}
	for _, c := range []prometheus.Collector{m.commands, m.commandDuration, m.operations, m.transactions, m.history, m.handlers} {
		if err := reg.Register(c); err != nil {
			return nil, err
		}
	}
	return m, nil
}

// MustNewMetrics is like NewMetrics but panics on registration failure.
func MustNewMetrics(reg prometheus.Registerer) *Metrics {
	m, err := NewMetrics(reg)
	if err != nil {
		panic(err)
	}
	return m
}

// Hooks returns the lifecycle hooks recording into m.
func (m *Metrics) Hooks() domain.LifecycleHooks {
	return domain.LifecycleHooks{
		OnCommandEnd: func(_ context.Context, e *domain.CommandEvent) {
			outcome := "ok"
			if e.Err != nil {
				outcome = "error"
			}
			m.commands.WithLabelValues(e.Command, outcome).Inc()
			m.commandDuration.WithLabelValues(e.Command).Observe(e.Duration.Seconds())
		},
		OnOperation: func(_ context.Context, e *domain.OperationEvent) {
			skipped := "false"
			if e.Skipped {
				skipped = "true"
			}
			m.operations.WithLabelValues(e.Operation, skipped).Inc()
		},
		OnCommit: func(context.Context) {
			m.transactions.WithLabelValues("commit").Inc()
		},
		OnRollback: func(context.Context) {
			m.transactions.WithLabelValues("rollback").Inc()
		},
		OnHistory: func(_ context.Context, e *domain.HistoryEvent) {
			m.history.WithLabelValues(string(e.Type)).Inc()
			if e.Type == domain.EventCompensationThrown {
				m.handlers.Add(float64(e.Count))
			}
		},
	}
}
