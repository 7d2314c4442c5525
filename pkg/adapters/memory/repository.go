package memory

import (
	"context"
	"fmt"
	"slices"
	"sync"

	"github.com/aretw0/pvm/pkg/domain"
)

// Repository implements ports.DefinitionRepository using an in-memory map.
// Deployed definitions are treated as immutable.
type Repository struct {
	mu   sync.RWMutex
	defs map[string]*domain.ProcessDefinition
}

// NewRepository creates a repository holding the given definitions.
func NewRepository(defs ...*domain.ProcessDefinition) (*Repository, error) {
	r := &Repository{defs: make(map[string]*domain.ProcessDefinition)}
	for _, def := range defs {
		if err := r.Deploy(context.Background(), def); err != nil {
			return nil, err
		}
	}
	return r, nil
}

// Get returns the definition deployed under id.
func (r *Repository) Get(ctx context.Context, id string) (*domain.ProcessDefinition, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	def, ok := r.defs[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", domain.ErrDefinitionNotFound, id)
	}
	return def, nil
}

// Deploy validates and stores def, replacing any earlier version.
func (r *Repository) Deploy(ctx context.Context, def *domain.ProcessDefinition) error {
	if err := def.Validate(); err != nil {
		return fmt.Errorf("deploy %s: %w", def.ID, err)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.defs[def.ID] = def
	return nil
}

// List returns the deployed IDs in sorted order.
func (r *Repository) List(ctx context.Context) ([]string, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ids := make([]string, 0, len(r.defs))
	for id := range r.defs {
		ids = append(ids, id)
	}
	slices.Sort(ids)
	return ids, nil
}
