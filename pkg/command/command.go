package command

import (
	"fmt"

	"github.com/aretw0/pvm/pkg/domain"
)

// Command is one externally triggered unit of engine work, executed under one transaction.
// A Command value describes a single invocation and is not reused.
type Command interface {
	Execute(cc *Context) (any, error)
}

// Named is implemented by commands that provide their own identity for errors and logs.
type Named interface {
	Name() string
}

// Func adapts a plain function to Command.
type Func func(cc *Context) (any, error)

// Execute calls f.
func (f Func) Execute(cc *Context) (any, error) { return f(cc) }

// NameOf returns the identity of cmd used in diagnostics.
func NameOf(cmd Command) string {
	if n, ok := cmd.(Named); ok {
		return n.Name()
	}
	return fmt.Sprintf("%T", cmd)
}

// AtomicOperation is one indivisible state-machine transition applied to an execution.
// Operations enqueue their successors through Context.PerformOperation instead of calling them.
type AtomicOperation interface {
	Name() string
	Execute(cc *Context, exec *domain.Execution) error
}
