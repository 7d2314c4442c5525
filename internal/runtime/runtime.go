package runtime

import (
	"errors"
	"fmt"
	"log/slog"

	"github.com/google/uuid"

	"github.com/aretw0/pvm/internal/logging"
	"github.com/aretw0/pvm/pkg/command"
	"github.com/aretw0/pvm/pkg/domain"
	"github.com/aretw0/pvm/pkg/registry"
)

// Operation names, as reported to hooks and logs.
const (
	OpActivityStart     = "activity-start"
	OpActivityExecute   = "activity-execute"
	OpActivityEnd       = "activity-end"
	OpTransitionTake    = "transition-take"
	OpExecutionEnd      = "execution-end"
	OpScopeComplete     = "scope-complete"
	OpExecutionSignal   = "execution-signal"
	OpCompensationEnter = "compensation-enter"
	OpMultiInstanceNext = "multi-instance-next"
)

const (
	endReasonCompleted = "completed"
	endReasonDeleted   = "deleted"
)

// Runtime is the atomic-operation interpreter. It holds no per-instance state:
// every operation binds the instance and definition from the command's sessions.
type Runtime struct {
	behaviors *registry.Registry
	newID     func() string
	logger    *slog.Logger

	activityStart     *operation
	activityExecute   *operation
	activityEnd       *operation
	transitionTake    *operation
	executionEnd      *operation
	scopeComplete     *operation
	executionSignal   *operation
	compensationEnter *operation
	multiInstanceNext *operation
}

// Option configures a Runtime.
type Option func(*Runtime)

// WithBehaviors sets the registry service activities are resolved against.
func WithBehaviors(r *registry.Registry) Option {
	return func(rt *Runtime) {
		rt.behaviors = r
	}
}

// WithIDGenerator replaces the UUID generator used for instances and executions.
func WithIDGenerator(fn func() string) Option {
	return func(rt *Runtime) {
		rt.newID = fn
	}
}

// WithLogger sets the runtime logger.
func WithLogger(logger *slog.Logger) Option {
	return func(rt *Runtime) {
		rt.logger = logger
	}
}

// New creates a runtime.
func New(opts ...Option) *Runtime {
	rt := &Runtime{
		behaviors: registry.NewRegistry(),
		newID:     uuid.NewString,
		logger:    logging.NewNop(),
	}
	for _, opt := range opts {
		opt(rt)
	}

	rt.activityStart = rt.op(OpActivityStart, (*machine).startActivity)
	rt.activityExecute = rt.op(OpActivityExecute, (*machine).executeActivity)
	rt.activityEnd = rt.op(OpActivityEnd, (*machine).endActivity)
	rt.transitionTake = rt.op(OpTransitionTake, (*machine).takeTransition)
	rt.executionEnd = rt.op(OpExecutionEnd, (*machine).endExecution)
	rt.scopeComplete = rt.op(OpScopeComplete, (*machine).completeScope)
	rt.executionSignal = rt.op(OpExecutionSignal, (*machine).signal)
	rt.compensationEnter = rt.op(OpCompensationEnter, (*machine).enterCompensation)
	rt.multiInstanceNext = rt.op(OpMultiInstanceNext, (*machine).nextInstance)
	return rt
}

// Behaviors returns the behavior registry.
func (rt *Runtime) Behaviors() *registry.Registry {
	return rt.behaviors
}

// operation is a named step of the interpreter bound to the runtime.
type operation struct {
	name string
	rt   *Runtime
	fn   func(m *machine, exec *domain.Execution) error
}

func (rt *Runtime) op(name string, fn func(m *machine, exec *domain.Execution) error) *operation {
	return &operation{name: name, rt: rt, fn: fn}
}

func (o *operation) Name() string { return o.name }

func (o *operation) Execute(cc *command.Context, exec *domain.Execution) error {
	m, err := o.rt.bind(cc, exec.InstanceID)
	if err != nil {
		return err
	}
	m.log.Debug("operation", "op", o.name, "execution_id", exec.ID, "activity", exec.ActivityID)
	return o.fn(m, exec)
}

// machine is the view of one process instance inside one command.
type machine struct {
	rt      *Runtime
	cc      *command.Context
	inst    *domain.ProcessInstance
	def     *domain.ProcessDefinition
	history *HistorySession
	log     *slog.Logger
}

func (rt *Runtime) bind(cc *command.Context, instanceID string) (*machine, error) {
	rs, err := runtimeSession(cc)
	if err != nil {
		return nil, err
	}
	inst, err := rs.Instance(cc.Context(), instanceID)
	if err != nil {
		return nil, err
	}
	return rt.bindInstance(cc, inst)
}

func (rt *Runtime) bindInstance(cc *command.Context, inst *domain.ProcessInstance) (*machine, error) {
	repo, err := repositorySession(cc)
	if err != nil {
		return nil, err
	}
	def, err := repo.Definition(cc.Context(), inst.DefinitionID)
	if err != nil {
		return nil, err
	}
	// History is optional: without a registered factory events are only sent to hooks.
	hist, err := historySession(cc)
	if err != nil {
		var cfg *command.ConfigurationError
		if !errors.As(err, &cfg) {
			return nil, err
		}
	}
	return &machine{
		rt:      rt,
		cc:      cc,
		inst:    inst,
		def:     def,
		history: hist,
		log:     rt.logger.With("instance_id", inst.ID),
	}, nil
}

func (m *machine) perform(op *operation, exec *domain.Execution) error {
	return m.cc.PerformOperation(op, exec)
}

func (m *machine) activity(id string) (*domain.Activity, error) {
	act, err := m.def.Activity(id)
	if err != nil {
		return nil, fmt.Errorf("instance %s: %w", m.inst.ID, err)
	}
	return act, nil
}

func (m *machine) record(ev domain.HistoryEvent) {
	ev.InstanceID = m.inst.ID
	if m.history != nil {
		m.history.Record(ev)
	}
	if hook := m.cc.Hooks().OnHistory; hook != nil {
		hook(m.cc.Context(), &ev)
	}
}
