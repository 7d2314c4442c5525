package command

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/aretw0/pvm/internal/logging"
	"github.com/aretw0/pvm/pkg/domain"
	"github.com/aretw0/pvm/pkg/ports"
)

const tracerName = "github.com/aretw0/pvm/pkg/command"

// Executor runs commands, each inside its own Context and transaction.
// It is safe for concurrent use; the contexts it creates are not shared.
type Executor struct {
	factories []ports.SessionFactory
	txFactory ports.TransactionContextFactory
	logger    *slog.Logger
	hooks     domain.LifecycleHooks
	tracer    trace.Tracer
}

// Option configures an Executor.
type Option func(*Executor)

// WithSessionFactory registers the factory for its tag, replacing any earlier one.
func WithSessionFactory(f ports.SessionFactory) Option {
	return func(e *Executor) {
		for i, existing := range e.factories {
			if existing.Tag() == f.Tag() {
				e.factories[i] = f
				return
			}
		}
		e.factories = append(e.factories, f)
	}
}

// WithTransactionContextFactory sets where command transactions come from.
func WithTransactionContextFactory(f ports.TransactionContextFactory) Option {
	return func(e *Executor) {
		e.txFactory = f
	}
}

// WithLogger sets the logger handed to every command context.
func WithLogger(logger *slog.Logger) Option {
	return func(e *Executor) {
		e.logger = logger
	}
}

// WithLifecycleHooks sets the observability callbacks.
func WithLifecycleHooks(hooks domain.LifecycleHooks) Option {
	return func(e *Executor) {
		e.hooks = hooks
	}
}

// WithTracer overrides the tracer taken from the global OpenTelemetry provider.
func WithTracer(tracer trace.Tracer) Option {
	return func(e *Executor) {
		e.tracer = tracer
	}
}

// NewExecutor creates an executor. Without a transaction factory, commands run
// against a transaction that commits and rolls back nothing.
func NewExecutor(opts ...Option) *Executor {
	e := &Executor{
		txFactory: ports.TransactionContextFactoryFunc(func(context.Context) (ports.TransactionContext, error) {
			return nopTransaction{}, nil
		}),
		logger: logging.NewNop(),
	}
	for _, opt := range opts {
		opt(e)
	}
	if e.tracer == nil {
		e.tracer = otel.Tracer(tracerName)
	}
	return e
}

// Execute runs cmd in a fresh Context and closes it. The command result is
// returned only when the context closed without a fault.
func (e *Executor) Execute(ctx context.Context, cmd Command) (result any, err error) {
	name := NameOf(cmd)
	ctx, span := e.tracer.Start(ctx, "pvm.command "+name, trace.WithAttributes(attribute.String("pvm.command", name)))
	defer span.End()

	start := time.Now()
	if e.hooks.OnCommandStart != nil {
		e.hooks.OnCommandStart(ctx, name)
	}
	defer func() {
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		if e.hooks.OnCommandEnd != nil {
			e.hooks.OnCommandEnd(ctx, &domain.CommandEvent{Command: name, Duration: time.Since(start), Err: err})
		}
	}()

	tx, err := e.txFactory.OpenTransactionContext(ctx)
	if err != nil {
		return nil, &CommandExecutionError{Command: name, Err: fmt.Errorf("open transaction: %w", err)}
	}

	cc := NewContext(ctx, cmd, tx, e.factories,
		WithContextLogger(e.logger.With("command", name)),
		WithContextHooks(e.hooks),
	)
	e.logger.Debug("executing command", "command", name)

	result, runErr := run(cc, cmd)
	cc.Exception(runErr)
	if err := cc.Close(); err != nil {
		return nil, err
	}
	return result, nil
}

func run(cc *Context, cmd Command) (result any, err error) {
	defer func() {
		if r := recover(); r != nil {
			cc.Logger().Error("command panicked", "panic", r)
			err = &PanicError{Value: r}
		}
	}()
	return cmd.Execute(cc)
}

// Run executes cmd and asserts its result type.
func Run[T any](ctx context.Context, e *Executor, cmd Command) (T, error) {
	var zero T
	res, err := e.Execute(ctx, cmd)
	if err != nil {
		return zero, err
	}
	if res == nil {
		return zero, nil
	}
	v, ok := res.(T)
	if !ok {
		return zero, fmt.Errorf("command %s returned %T, want %T", NameOf(cmd), res, zero)
	}
	return v, nil
}

type nopTransaction struct{}

func (nopTransaction) Commit(context.Context) error   { return nil }
func (nopTransaction) Rollback(context.Context) error { return nil }
