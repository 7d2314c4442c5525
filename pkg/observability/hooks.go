package observability

import (
	"context"
	"log/slog"

	"github.com/aretw0/pvm/pkg/domain"
)

// Combine returns hooks that call every non-nil callback of each set, in order.
func Combine(sets ...domain.LifecycleHooks) domain.LifecycleHooks {
	var out domain.LifecycleHooks
	for _, h := range sets {
		out.OnCommandStart = chain(out.OnCommandStart, h.OnCommandStart)
		out.OnCommandEnd = chain(out.OnCommandEnd, h.OnCommandEnd)
		out.OnOperation = chain(out.OnOperation, h.OnOperation)
		out.OnCommit = chain0(out.OnCommit, h.OnCommit)
		out.OnRollback = chain0(out.OnRollback, h.OnRollback)
		out.OnHistory = chain(out.OnHistory, h.OnHistory)
	}
	return out
}

func chain[T any](a, b func(context.Context, T)) func(context.Context, T) {
	switch {
	case a == nil:
		return b
	case b == nil:
		return a
	}
	return func(ctx context.Context, v T) {
		a(ctx, v)
		b(ctx, v)
	}
}

func chain0(a, b func(context.Context)) func(context.Context) {
	switch {
	case a == nil:
		return b
	case b == nil:
		return a
	}
	return func(ctx context.Context) {
		a(ctx)
		b(ctx)
	}
}

// LoggingHooks logs command outcomes and history events.
func LoggingHooks(logger *slog.Logger) domain.LifecycleHooks {
	return domain.LifecycleHooks{
		OnCommandEnd: func(ctx context.Context, e *domain.CommandEvent) {
			if e.Err != nil {
				logger.WarnContext(ctx, "command failed", "command", e.Command, "duration", e.Duration, "err", e.Err)
				return
			}
			logger.DebugContext(ctx, "command done", "command", e.Command, "duration", e.Duration)
		},
		OnHistory: func(ctx context.Context, e *domain.HistoryEvent) {
			logger.DebugContext(ctx, "history",
				"type", e.Type,
				"instance_id", e.InstanceID,
				"execution_id", e.ExecutionID,
				"activity", e.ActivityID,
			)
		},
	}
}
