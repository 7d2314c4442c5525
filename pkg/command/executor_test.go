package command_test

import (
	"context"
	"errors"
	"testing"

	"github.com/aretw0/pvm/pkg/command"
	"github.com/aretw0/pvm/pkg/domain"
	"github.com/aretw0/pvm/pkg/ports"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/codes"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

type namedCommand struct {
	fn func(cc *command.Context) (any, error)
}

func (c namedCommand) Name() string { return "named" }

func (c namedCommand) Execute(cc *command.Context) (any, error) { return c.fn(cc) }

func newExecutor(j *journal, opts ...command.Option) *command.Executor {
	base := []command.Option{
		command.WithTransactionContextFactory(ports.TransactionContextFactoryFunc(func(context.Context) (ports.TransactionContext, error) {
			return &recordingTx{j: j}, nil
		})),
	}
	return command.NewExecutor(append(base, opts...)...)
}

func TestExecutor_ReturnsResultAfterCommit(t *testing.T) {
	j := &journal{}
	exec := newExecutor(j, command.WithSessionFactory(newFactory(j, ports.SessionRuntime)))

	res, err := command.Run[string](context.Background(), exec, command.Func(func(cc *command.Context) (any, error) {
		if _, err := cc.Session(ports.SessionRuntime); err != nil {
			return nil, err
		}
		return "done", nil
	}))

	require.NoError(t, err)
	assert.Equal(t, "done", res)
	assert.Equal(t, []string{"flush runtime", "commit", "close runtime"}, j.calls)
}

func TestExecutor_WrapsUntypedErrors(t *testing.T) {
	j := &journal{}
	exec := newExecutor(j)
	cause := errors.New("socket closed")

	_, err := exec.Execute(context.Background(), namedCommand{fn: func(*command.Context) (any, error) {
		return nil, cause
	}})

	var execErr *command.CommandExecutionError
	require.ErrorAs(t, err, &execErr)
	assert.Equal(t, "named", execErr.Command)
	assert.ErrorIs(t, err, cause)
	assert.Equal(t, []string{"rollback"}, j.calls)
}

func TestExecutor_DomainErrorsPropagateUnwrapped(t *testing.T) {
	exec := newExecutor(&journal{})

	_, err := exec.Execute(context.Background(), command.Func(func(*command.Context) (any, error) {
		return nil, domain.ErrExecutionNotFound
	}))

	assert.Equal(t, domain.ErrExecutionNotFound, err)
}

func TestExecutor_RecoversPanics(t *testing.T) {
	j := &journal{}
	exec := newExecutor(j)

	_, err := exec.Execute(context.Background(), command.Func(func(*command.Context) (any, error) {
		panic("kaboom")
	}))

	var panicErr *command.PanicError
	require.ErrorAs(t, err, &panicErr)
	assert.Equal(t, "kaboom", panicErr.Value)
	assert.Equal(t, 1, j.count("rollback"))
}

func TestExecutor_TransactionOpenFailure(t *testing.T) {
	exec := command.NewExecutor(command.WithTransactionContextFactory(ports.TransactionContextFactoryFunc(func(context.Context) (ports.TransactionContext, error) {
		return nil, errors.New("pool exhausted")
	})))
	ran := false

	_, err := exec.Execute(context.Background(), command.Func(func(*command.Context) (any, error) {
		ran = true
		return nil, nil
	}))

	var execErr *command.CommandExecutionError
	require.ErrorAs(t, err, &execErr)
	assert.False(t, ran)
}

func TestExecutor_Hooks(t *testing.T) {
	var started []string
	var ended []*domain.CommandEvent
	commits, rollbacks := 0, 0
	hooks := domain.LifecycleHooks{
		OnCommandStart: func(_ context.Context, name string) { started = append(started, name) },
		OnCommandEnd:   func(_ context.Context, e *domain.CommandEvent) { ended = append(ended, e) },
		OnCommit:       func(context.Context) { commits++ },
		OnRollback:     func(context.Context) { rollbacks++ },
	}
	exec := newExecutor(&journal{}, command.WithLifecycleHooks(hooks))
	ok := namedCommand{fn: func(*command.Context) (any, error) { return nil, nil }}
	bad := namedCommand{fn: func(*command.Context) (any, error) { return nil, domain.ErrNotWaiting }}

	_, _ = exec.Execute(context.Background(), ok)
	_, _ = exec.Execute(context.Background(), bad)

	assert.Equal(t, []string{"named", "named"}, started)
	require.Len(t, ended, 2)
	assert.NoError(t, ended[0].Err)
	assert.ErrorIs(t, ended[1].Err, domain.ErrNotWaiting)
	assert.Equal(t, 1, commits)
	assert.Equal(t, 1, rollbacks)
}

func TestExecutor_RecordsSpans(t *testing.T) {
	recorder := tracetest.NewSpanRecorder()
	provider := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(recorder))
	exec := newExecutor(&journal{}, command.WithTracer(provider.Tracer("test")))

	_, _ = exec.Execute(context.Background(), namedCommand{fn: func(*command.Context) (any, error) {
		return nil, domain.ErrInstanceNotFound
	}})

	spans := recorder.Ended()
	require.Len(t, spans, 1)
	assert.Equal(t, "pvm.command named", spans[0].Name())
	assert.Equal(t, codes.Error, spans[0].Status().Code)
}
