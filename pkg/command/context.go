package command

import (
	"context"
	"errors"
	"log/slog"

	"github.com/aretw0/pvm/internal/logging"
	"github.com/aretw0/pvm/pkg/domain"
	"github.com/aretw0/pvm/pkg/ports"
)

type pendingOperation struct {
	op   AtomicOperation
	exec *domain.Execution
}

// Context is the per-invocation environment of one command: its lazily opened
// sessions, its transaction and its queue of pending atomic operations.
// A Context is confined to the goroutine running the command.
type Context struct {
	ctx     context.Context
	command Command
	name    string
	logger  *slog.Logger
	hooks   domain.LifecycleHooks

	tx        ports.TransactionContext
	factories map[ports.SessionTag]ports.SessionFactory
	sessions  map[ports.SessionTag]ports.Session
	opened    []ports.SessionTag

	queue    []pendingOperation
	draining bool

	fault      error
	suppressed []error

	closed   bool
	closeErr error
}

// ContextOption configures a Context.
type ContextOption func(*Context)

// WithContextLogger sets the logger used for close-phase diagnostics.
func WithContextLogger(logger *slog.Logger) ContextOption {
	return func(c *Context) {
		c.logger = logger
	}
}

// WithContextHooks sets the observability callbacks fired by the context.
func WithContextHooks(hooks domain.LifecycleHooks) ContextOption {
	return func(c *Context) {
		c.hooks = hooks
	}
}

// NewContext builds the context of one command invocation around an open transaction.
func NewContext(ctx context.Context, cmd Command, tx ports.TransactionContext, factories []ports.SessionFactory, opts ...ContextOption) *Context {
	c := &Context{
		ctx:       ctx,
		command:   cmd,
		name:      NameOf(cmd),
		logger:    logging.NewNop(),
		tx:        tx,
		factories: make(map[ports.SessionTag]ports.SessionFactory, len(factories)),
		sessions:  make(map[ports.SessionTag]ports.Session),
	}
	for _, f := range factories {
		c.factories[f.Tag()] = f
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Context returns the Go context of the invocation.
func (c *Context) Context() context.Context { return c.ctx }

// Command returns the command being executed.
func (c *Context) Command() Command { return c.command }

// TransactionContext returns the transaction shared by every session of this command.
func (c *Context) TransactionContext() ports.TransactionContext { return c.tx }

// Logger returns the logger of the invocation.
func (c *Context) Logger() *slog.Logger { return c.logger }

// Hooks returns the observability callbacks of the invocation.
func (c *Context) Hooks() domain.LifecycleHooks { return c.hooks }

// Session returns the session registered for tag, opening it on first use.
// Repeated calls return the same session.
func (c *Context) Session(tag ports.SessionTag) (ports.Session, error) {
	if s, ok := c.sessions[tag]; ok {
		return s, nil
	}
	f, ok := c.factories[tag]
	if !ok {
		return nil, &ConfigurationError{Tag: tag}
	}
	s, err := f.OpenSession(c)
	if err != nil {
		return nil, err
	}
	c.sessions[tag] = s
	c.opened = append(c.opened, tag)
	return s, nil
}

// PerformOperation appends op to the queue. The outermost caller drains the queue
// in FIFO order; calls made by operations while draining only enqueue.
// Operations whose target execution has ended are skipped.
// The first failing operation aborts the drain, discards the rest of the queue
// and is recorded as the fault of the command.
func (c *Context) PerformOperation(op AtomicOperation, exec *domain.Execution) error {
	c.queue = append(c.queue, pendingOperation{op: op, exec: exec})
	if c.draining {
		return nil
	}
	c.draining = true
	defer func() { c.draining = false }()

	for len(c.queue) > 0 {
		if err := c.ctx.Err(); err != nil {
			c.queue = nil
			c.Exception(err)
			return err
		}
		next := c.queue[0]
		c.queue[0] = pendingOperation{}
		c.queue = c.queue[1:]

		event := &domain.OperationEvent{Operation: next.op.Name()}
		if next.exec != nil {
			event.ExecutionID = next.exec.ID
			event.Skipped = next.exec.IsEnded
		}
		if c.hooks.OnOperation != nil {
			c.hooks.OnOperation(c.ctx, event)
		}
		if event.Skipped {
			c.logger.Debug("skipping operation on ended execution", "operation", event.Operation, "execution", event.ExecutionID)
			continue
		}
		if err := next.op.Execute(c, next.exec); err != nil {
			c.queue = nil
			c.Exception(err)
			return err
		}
	}
	return nil
}

// Pending reports the number of queued operations.
func (c *Context) Pending() int { return len(c.queue) }

// Exception records err as the fault of the command. Only the first fault is
// kept; later ones are logged and exposed through Suppressed.
func (c *Context) Exception(err error) {
	if err == nil {
		return
	}
	if c.fault == nil {
		c.fault = err
		return
	}
	if errors.Is(err, c.fault) {
		return
	}
	c.logger.Error("masked exception in command context", "command", c.name, "cause", c.fault.Error(), "err", err)
	c.suppressed = append(c.suppressed, err)
}

// Fault returns the recorded fault, if any.
func (c *Context) Fault() error { return c.fault }

// Suppressed returns the faults recorded after the first one.
func (c *Context) Suppressed() []error { return c.suppressed }

// Close ends the command: flush sessions unless faulted, commit unless faulted,
// roll back if faulted, then close every session. A failing session close is
// recorded like any other fault but cannot undo a commit. The first fault is returned,
// wrapped in *CommandExecutionError unless it already has an engine type.
// Close is idempotent.
func (c *Context) Close() error {
	if c.closed {
		return c.closeErr
	}
	c.closed = true

	if c.fault == nil {
		c.Exception(c.guard("flush", c.flushSessions))
	}
	if c.fault == nil {
		c.Exception(c.guard("commit", c.commit))
	}
	if c.fault != nil {
		c.logger.Error("error while closing command context", "command", c.name, "err", c.fault)
		if err := c.guard("rollback", c.rollback); err != nil {
			c.logger.Error("could not roll back transaction", "command", c.name, "err", err)
			c.suppressed = append(c.suppressed, err)
		}
	}
	c.closeSessions()

	c.closeErr = c.wrap(c.fault)
	return c.closeErr
}

func (c *Context) commit() error {
	if err := c.tx.Commit(c.ctx); err != nil {
		return err
	}
	if c.hooks.OnCommit != nil {
		c.hooks.OnCommit(c.ctx)
	}
	return nil
}

func (c *Context) rollback() error {
	if c.hooks.OnRollback != nil {
		c.hooks.OnRollback(c.ctx)
	}
	return c.tx.Rollback(context.WithoutCancel(c.ctx))
}

func (c *Context) flushSessions() error {
	for _, tag := range c.flushOrder() {
		if err := c.sessions[tag].Flush(c.ctx); err != nil {
			return err
		}
	}
	return nil
}

// flushOrder returns the opened tags in opening order, moving each session
// behind the opened sessions its factory declares through ports.FlushOrdered.
func (c *Context) flushOrder() []ports.SessionTag {
	order := make([]ports.SessionTag, 0, len(c.opened))
	visited := make(map[ports.SessionTag]bool, len(c.opened))
	var visit func(tag ports.SessionTag)
	visit = func(tag ports.SessionTag) {
		if visited[tag] {
			return
		}
		visited[tag] = true
		if fo, ok := c.factories[tag].(ports.FlushOrdered); ok {
			for _, dep := range fo.FlushAfter() {
				if _, open := c.sessions[dep]; open {
					visit(dep)
				}
			}
		}
		order = append(order, tag)
	}
	for _, tag := range c.opened {
		visit(tag)
	}
	return order
}

func (c *Context) closeSessions() {
	ctx := context.WithoutCancel(c.ctx)
	for _, tag := range c.opened {
		s := c.sessions[tag]
		err := c.guard("close session", func() error { return s.Close(ctx) })
		if err != nil {
			c.logger.Warn("failed to close session", "command", c.name, "session", string(tag), "err", err)
			c.Exception(err)
		}
	}
}

func (c *Context) guard(phase string, fn func() error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			c.logger.Error("panic in command context", "command", c.name, "phase", phase, "panic", r)
			err = &PanicError{Value: r}
		}
	}()
	return fn()
}

func (c *Context) wrap(err error) error {
	if err == nil || IsEngineError(err) {
		return err
	}
	return &CommandExecutionError{Command: c.name, Err: err}
}
