package memory

import (
	"context"
	"fmt"
	"slices"
	"sync"

	"github.com/aretw0/pvm/pkg/domain"
	"github.com/aretw0/pvm/pkg/ports"
)

// Store implements ports.StateStore and ports.HistoryStore in memory.
// Writes are staged by transactions and applied atomically on commit.
// Safe for concurrent use.
type Store struct {
	mu        sync.RWMutex
	instances map[string]*domain.ProcessInstance
	history   map[string][]domain.HistoryEvent
}

// NewStore creates a new in-memory store.
func NewStore() *Store {
	return &Store{
		instances: make(map[string]*domain.ProcessInstance),
		history:   make(map[string][]domain.HistoryEvent),
	}
}

// Load retrieves a copy of the instance so callers can't mutate stored state by pointer.
func (s *Store) Load(ctx context.Context, instanceID string) (*domain.ProcessInstance, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	inst, ok := s.instances[instanceID]
	if !ok {
		return nil, fmt.Errorf("%w: %s", domain.ErrInstanceNotFound, instanceID)
	}
	return inst.Clone(), nil
}

// List returns the stored instance IDs in sorted order.
func (s *Store) List(ctx context.Context) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	ids := make([]string, 0, len(s.instances))
	for id := range s.instances {
		ids = append(ids, id)
	}
	slices.Sort(ids)
	return ids, nil
}

// Append records events outside of any transaction.
func (s *Store) Append(ctx context.Context, events ...domain.HistoryEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.appendLocked(events)
	return nil
}

// Events returns the history of one instance in recording order.
func (s *Store) Events(ctx context.Context, instanceID string) ([]domain.HistoryEvent, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return slices.Clone(s.history[instanceID]), nil
}

func (s *Store) appendLocked(events []domain.HistoryEvent) {
	for _, ev := range events {
		s.history[ev.InstanceID] = append(s.history[ev.InstanceID], ev)
	}
}

// OpenTransactionContext starts a transaction staging writes until Commit.
func (s *Store) OpenTransactionContext(ctx context.Context) (ports.TransactionContext, error) {
	return &tx{store: s, saves: make(map[string]*domain.ProcessInstance), deletes: make(map[string]bool)}, nil
}

type tx struct {
	store   *Store
	saves   map[string]*domain.ProcessInstance
	deletes map[string]bool
	events  []domain.HistoryEvent
	done    bool
}

func (t *tx) SaveInstance(ctx context.Context, inst *domain.ProcessInstance) error {
	if t.done {
		return fmt.Errorf("memory: transaction already finished")
	}
	t.saves[inst.ID] = inst.Clone()
	delete(t.deletes, inst.ID)
	return nil
}

func (t *tx) DeleteInstance(ctx context.Context, instanceID string) error {
	if t.done {
		return fmt.Errorf("memory: transaction already finished")
	}
	delete(t.saves, instanceID)
	t.deletes[instanceID] = true
	return nil
}

func (t *tx) AppendHistory(ctx context.Context, events ...domain.HistoryEvent) error {
	if t.done {
		return fmt.Errorf("memory: transaction already finished")
	}
	t.events = append(t.events, events...)
	return nil
}

func (t *tx) Commit(ctx context.Context) error {
	if t.done {
		return fmt.Errorf("memory: transaction already finished")
	}
	t.done = true

	t.store.mu.Lock()
	defer t.store.mu.Unlock()
	for id, inst := range t.saves {
		t.store.instances[id] = inst
	}
	for id := range t.deletes {
		delete(t.store.instances, id)
	}
	t.store.appendLocked(t.events)
	return nil
}

func (t *tx) Rollback(ctx context.Context) error {
	t.done = true
	t.saves = nil
	t.deletes = nil
	t.events = nil
	return nil
}
