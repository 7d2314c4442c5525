package observability_test

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aretw0/pvm/pkg/domain"
	"github.com/aretw0/pvm/pkg/observability"
)

func TestMetrics_Hooks(t *testing.T) {
	reg := prometheus.NewRegistry()
	m, err := observability.NewMetrics(reg)
	require.NoError(t, err)

	hooks := m.Hooks()
	ctx := context.Background()
	hooks.OnCommandEnd(ctx, &domain.CommandEvent{Command: "signal", Duration: time.Millisecond})
	hooks.OnCommandEnd(ctx, &domain.CommandEvent{Command: "signal", Err: errors.New("boom")})
	hooks.OnOperation(ctx, &domain.OperationEvent{Operation: "activity-start"})
	hooks.OnOperation(ctx, &domain.OperationEvent{Operation: "activity-start", Skipped: true})
	hooks.OnCommit(ctx)
	hooks.OnRollback(ctx)
	hooks.OnHistory(ctx, &domain.HistoryEvent{Type: domain.EventCompensationThrown, Count: 3})

	expected := `
# HELP pvm_commands_total Commands executed, by outcome.
# TYPE pvm_commands_total counter
pvm_commands_total{command="signal",outcome="error"} 1
pvm_commands_total{command="signal",outcome="ok"} 1
# HELP pvm_compensation_handlers_total Compensation handler executions spawned.
# TYPE pvm_compensation_handlers_total counter
pvm_compensation_handlers_total 3
# HELP pvm_operations_total Atomic operations dequeued, by whether they were skipped.
# TYPE pvm_operations_total counter
pvm_operations_total{operation="activity-start",skipped="false"} 1
pvm_operations_total{operation="activity-start",skipped="true"} 1
# HELP pvm_transactions_total Command transactions, by outcome.
# TYPE pvm_transactions_total counter
pvm_transactions_total{outcome="commit"} 1
pvm_transactions_total{outcome="rollback"} 1
`
	err = testutil.GatherAndCompare(reg, strings.NewReader(expected),
		"pvm_commands_total", "pvm_compensation_handlers_total", "pvm_operations_total", "pvm_transactions_total")
	assert.NoError(t, err)

	n, err := testutil.GatherAndCount(reg, "pvm_command_duration_seconds")
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestMetrics_DoubleRegistration(t *testing.T) {
	reg := prometheus.NewRegistry()
	_, err := observability.NewMetrics(reg)
	require.NoError(t, err)

	_, err = observability.NewMetrics(reg)
	assert.Error(t, err)
}

func TestCombine(t *testing.T) {
	var calls []string
	a := domain.LifecycleHooks{
		OnCommit: func(context.Context) { calls = append(calls, "a-commit") },
		OnOperation: func(_ context.Context, e *domain.OperationEvent) {
			calls = append(calls, "a-"+e.Operation)
		},
	}
	b := domain.LifecycleHooks{
		OnCommit: func(context.Context) { calls = append(calls, "b-commit") },
	}

	hooks := observability.Combine(a, domain.LifecycleHooks{}, b)
	hooks.OnCommit(context.Background())
	hooks.OnOperation(context.Background(), &domain.OperationEvent{Operation: "op"})

	assert.Equal(t, []string{"a-commit", "b-commit", "a-op"}, calls)
	assert.Nil(t, hooks.OnRollback)
}

func TestLoggingHooks(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug}))
	hooks := observability.LoggingHooks(logger)

	hooks.OnCommandEnd(context.Background(), &domain.CommandEvent{Command: "signal", Err: errors.New("boom")})
	hooks.OnHistory(context.Background(), &domain.HistoryEvent{Type: domain.EventInstanceEnd, InstanceID: "p1"})

	out := buf.String()
	assert.Contains(t, out, "command failed")
	assert.Contains(t, out, "err=boom")
	assert.Contains(t, out, "instance_id=p1")
}
