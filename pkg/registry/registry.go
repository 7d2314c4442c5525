package registry

import (
	"context"
	"fmt"
	"slices"
	"sync"

	"github.com/aretw0/pvm/pkg/domain"
)

// Scope is the view of the running execution handed to a behavior.
type Scope interface {
	ExecutionID() string
	ActivityID() string
	// Variable looks the name up through the enclosing scopes.
	Variable(name string) (any, bool)
	// SetVariable updates the variable where it is defined, or creates it in the nearest scope.
	SetVariable(name string, value any)
}

// Behavior implements a service activity.
// Returning an error aborts the command and rolls back its transaction.
type Behavior func(ctx context.Context, scope Scope) error

// Registry manages the available behaviors.
type Registry struct {
	mu        sync.RWMutex
	behaviors map[string]Behavior
}

// NewRegistry creates a new empty registry.
func NewRegistry() *Registry {
	return &Registry{
		behaviors: make(map[string]Behavior),
	}
}

// Register adds a behavior to the registry.
// If a behavior with the same name exists, it is overwritten.
func (r *Registry) Register(name string, fn Behavior) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.behaviors[name] = fn
}

// Has reports whether name is registered.
func (r *Registry) Has(name string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.behaviors[name]
	return ok
}

// Names returns the registered names in sorted order.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.behaviors))
	for name := range r.behaviors {
		names = append(names, name)
	}
	slices.Sort(names)
	return names
}

// Execute looks up a behavior by name and runs it against scope.
// Returns domain.ErrBehaviorNotFound if the behavior is not registered.
func (r *Registry) Execute(ctx context.Context, name string, scope Scope) error {
	r.mu.RLock()
	fn, ok := r.behaviors[name]
	r.mu.RUnlock()

	if !ok {
		return fmt.Errorf("%w: %s", domain.ErrBehaviorNotFound, name)
	}

	return fn(ctx, scope)
}
