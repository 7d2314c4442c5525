package pvm

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel/trace"

	"github.com/aretw0/pvm/internal/logging"
	"github.com/aretw0/pvm/internal/runtime"
	"github.com/aretw0/pvm/pkg/adapters/memory"
	"github.com/aretw0/pvm/pkg/command"
	"github.com/aretw0/pvm/pkg/domain"
	"github.com/aretw0/pvm/pkg/locking"
	"github.com/aretw0/pvm/pkg/ports"
	"github.com/aretw0/pvm/pkg/registry"
)

// ErrNoHistory is returned by History when the engine has no history store.
var ErrNoHistory = errors.New("no history store configured")

// Engine is the high-level entry point of the process virtual machine.
// Every method runs one command: it opens a transaction, drives the
// interpreter and commits or rolls back as a unit. Commands addressing an
// existing instance are serialised per instance.
type Engine struct {
	store     ports.StateStore
	history   ports.HistoryStore
	repo      ports.DefinitionRepository
	behaviors *registry.Registry
	factories []ports.SessionFactory
	hooks     domain.LifecycleHooks
	logger    *slog.Logger
	tracer    trace.Tracer
	newID     func() string
	locker    ports.DistributedLocker
	lockTTL   time.Duration

	runtime  *runtime.Runtime
	executor *command.Executor
	locks    *locking.Manager
}

// Option defines a functional option for configuring the Engine.
type Option func(*Engine)

// WithStore sets where process instances live. A store that also implements
// ports.HistoryStore records history unless WithHistoryStore overrides it.
func WithStore(store ports.StateStore) Option {
	return func(e *Engine) {
		e.store = store
	}
}

// WithHistoryStore sets where audit events are written.
func WithHistoryStore(history ports.HistoryStore) Option {
	return func(e *Engine) {
		e.history = history
	}
}

// WithDefinitionRepository sets where deployed definitions are resolved.
func WithDefinitionRepository(repo ports.DefinitionRepository) Option {
	return func(e *Engine) {
		e.repo = repo
	}
}

// WithBehaviors sets the registry service activities run against.
func WithBehaviors(r *registry.Registry) Option {
	return func(e *Engine) {
		e.behaviors = r
	}
}

// WithSessionFactory registers an additional session factory, e.g. for
// custom commands run through Execute.
func WithSessionFactory(f ports.SessionFactory) Option {
	return func(e *Engine) {
		e.factories = append(e.factories, f)
	}
}

// WithLifecycleHooks registers observability hooks.
func WithLifecycleHooks(hooks domain.LifecycleHooks) Option {
	return func(e *Engine) {
		e.hooks = hooks
	}
}

// WithLogger sets a custom structured logger for the engine.
func WithLogger(logger *slog.Logger) Option {
	return func(e *Engine) {
		e.logger = logger
	}
}

// WithTracer sets the tracer commands open spans with.
func WithTracer(tracer trace.Tracer) Option {
	return func(e *Engine) {
		e.tracer = tracer
	}
}

// WithIDGenerator replaces the UUID generator for instances and executions.
func WithIDGenerator(fn func() string) Option {
	return func(e *Engine) {
		e.newID = fn
	}
}

// WithLocker also serialises commands across processes sharing the store.
func WithLocker(locker ports.DistributedLocker) Option {
	return func(e *Engine) {
		e.locker = locker
	}
}

// WithLockTTL sets the expiry of distributed locks.
func WithLockTTL(ttl time.Duration) Option {
	return func(e *Engine) {
		e.lockTTL = ttl
	}
}

// New creates an Engine. Without options it keeps everything in memory.
func New(opts ...Option) (*Engine, error) {
	eng := &Engine{}
	for _, opt := range opts {
		opt(eng)
	}

	if eng.logger == nil {
		eng.logger = logging.NewNop()
	}
	if eng.store == nil {
		eng.store = memory.NewStore()
	}
	if eng.history == nil {
		eng.history, _ = eng.store.(ports.HistoryStore)
	}
	if eng.repo == nil {
		repo, err := memory.NewRepository()
		if err != nil {
			return nil, err
		}
		eng.repo = repo
	}
	if eng.behaviors == nil {
		eng.behaviors = registry.NewRegistry()
	}

	rtOpts := []runtime.Option{
		runtime.WithBehaviors(eng.behaviors),
		runtime.WithLogger(eng.logger),
	}
	if eng.newID != nil {
		rtOpts = append(rtOpts, runtime.WithIDGenerator(eng.newID))
	}
	eng.runtime = runtime.New(rtOpts...)

	execOpts := []command.Option{
		command.WithTransactionContextFactory(eng.store),
		command.WithSessionFactory(runtime.RuntimeSessionFactory{Store: eng.store}),
		command.WithSessionFactory(runtime.RepositorySessionFactory{Repository: eng.repo}),
		command.WithLifecycleHooks(eng.hooks),
		command.WithLogger(eng.logger),
	}
	if eng.history != nil {
		execOpts = append(execOpts, command.WithSessionFactory(runtime.HistorySessionFactory{Store: eng.history}))
	}
	for _, f := range eng.factories {
		execOpts = append(execOpts, command.WithSessionFactory(f))
	}
	if eng.tracer != nil {
		execOpts = append(execOpts, command.WithTracer(eng.tracer))
	}
	eng.executor = command.NewExecutor(execOpts...)

	lockOpts := []locking.Option{locking.WithLogger(eng.logger)}
	if eng.locker != nil {
		lockOpts = append(lockOpts, locking.WithLocker(eng.locker))
	}
	if eng.lockTTL > 0 {
		lockOpts = append(lockOpts, locking.WithTTL(eng.lockTTL))
	}
	eng.locks = locking.NewManager(lockOpts...)

	return eng, nil
}

// Behaviors returns the registry service activities are resolved against.
func (e *Engine) Behaviors() *registry.Registry {
	return e.behaviors
}

// Store returns the state store.
func (e *Engine) Store() ports.StateStore {
	return e.store
}

// Execute runs an arbitrary command in its own command context.
func (e *Engine) Execute(ctx context.Context, cmd command.Command) (any, error) {
	return e.executor.Execute(ctx, cmd)
}

func locked[T any](ctx context.Context, e *Engine, instanceID string, cmd command.Command) (T, error) {
	var result T
	err := e.locks.WithLock(ctx, instanceID, func(ctx context.Context) error {
		var err error
		result, err = command.Run[T](ctx, e.executor, cmd)
		return err
	})
	return result, err
}

// Deploy validates and publishes a process definition.
func (e *Engine) Deploy(ctx context.Context, def *domain.ProcessDefinition) error {
	_, err := e.executor.Execute(ctx, e.runtime.Deploy(def))
	return err
}

// StartProcessInstance starts an instance of a deployed definition and runs
// it until every token waits or ended. It returns the instance ID.
func (e *Engine) StartProcessInstance(ctx context.Context, definitionID string, vars map[string]any) (string, error) {
	return command.Run[string](ctx, e.executor, e.runtime.StartProcessInstance(definitionID, vars))
}

// Signal completes the wait state an execution is parked at.
func (e *Engine) Signal(ctx context.Context, instanceID, executionID string, vars map[string]any) error {
	_, err := locked[any](ctx, e, instanceID, e.runtime.Signal(instanceID, executionID, vars))
	return err
}

// CompleteTask signals the first task waiting at the activity with the given ID or name.
func (e *Engine) CompleteTask(ctx context.Context, instanceID, activity string, vars map[string]any) error {
	_, err := locked[any](ctx, e, instanceID, e.runtime.CompleteTask(instanceID, activity, vars))
	return err
}

// ThrowCompensation compensates the handlers captured at the process level,
// only those of activityRef when it is set. It returns the number of handlers started.
func (e *Engine) ThrowCompensation(ctx context.Context, instanceID, activityRef string) (int, error) {
	return locked[int](ctx, e, instanceID, e.runtime.ThrowCompensation(instanceID, activityRef))
}

// CancelExecution ends an execution and its subtree.
func (e *Engine) CancelExecution(ctx context.Context, instanceID, executionID string) error {
	_, err := locked[any](ctx, e, instanceID, e.runtime.CancelExecution(instanceID, executionID))
	return err
}

// DeleteProcessInstance ends every execution of an instance and removes it.
func (e *Engine) DeleteProcessInstance(ctx context.Context, instanceID, reason string) error {
	_, err := locked[any](ctx, e, instanceID, e.runtime.DeleteProcessInstance(instanceID, reason))
	return err
}

// Tasks lists the waiting tasks of an instance.
func (e *Engine) Tasks(ctx context.Context, instanceID string) ([]domain.Task, error) {
	return command.Run[[]domain.Task](ctx, e.executor, e.runtime.Tasks(instanceID))
}

// Variables returns the variables visible from an execution, or the process
// variables when executionID is empty.
func (e *Engine) Variables(ctx context.Context, instanceID, executionID string) (map[string]any, error) {
	return command.Run[map[string]any](ctx, e.executor, e.runtime.Variables(instanceID, executionID))
}

// Instance returns a copy of the execution tree of an instance.
func (e *Engine) Instance(ctx context.Context, instanceID string) (*domain.ProcessInstance, error) {
	return command.Run[*domain.ProcessInstance](ctx, e.executor, e.runtime.Instance(instanceID))
}

// Instances lists the stored instance IDs.
func (e *Engine) Instances(ctx context.Context) ([]string, error) {
	return e.store.List(ctx)
}

// History returns the audit events of an instance.
func (e *Engine) History(ctx context.Context, instanceID string) ([]domain.HistoryEvent, error) {
	if e.history == nil {
		return nil, ErrNoHistory
	}
	events, err := e.history.Events(ctx, instanceID)
	if err != nil {
		return nil, fmt.Errorf("history of %s: %w", instanceID, err)
	}
	return events, nil
}
