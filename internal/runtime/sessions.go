package runtime

import (
	"context"
	"fmt"
	"slices"
	"time"

	"github.com/aretw0/pvm/pkg/command"
	"github.com/aretw0/pvm/pkg/domain"
	"github.com/aretw0/pvm/pkg/ports"
)

// RuntimeSession caches the process instances touched by one command and
// stages the modified ones into the command transaction on flush.
type RuntimeSession struct {
	store     ports.StateStore
	tx        ports.TransactionContext
	instances map[string]*domain.ProcessInstance
	dirty     map[string]bool
	deleted   map[string]bool
	flushed   bool
}

// Instance returns the instance for modification, loading it on first use.
func (s *RuntimeSession) Instance(ctx context.Context, id string) (*domain.ProcessInstance, error) {
	inst, err := s.Peek(ctx, id)
	if err != nil {
		return nil, err
	}
	s.dirty[id] = true
	return inst, nil
}

// Peek returns the instance without scheduling it for writing.
func (s *RuntimeSession) Peek(ctx context.Context, id string) (*domain.ProcessInstance, error) {
	if s.deleted[id] {
		return nil, fmt.Errorf("%w: %s", domain.ErrInstanceNotFound, id)
	}
	if inst, ok := s.instances[id]; ok {
		return inst, nil
	}
	inst, err := s.store.Load(ctx, id)
	if err != nil {
		return nil, err
	}
	s.instances[id] = inst
	return inst, nil
}

// Insert registers a new instance.
func (s *RuntimeSession) Insert(inst *domain.ProcessInstance) {
	s.instances[inst.ID] = inst
	s.dirty[inst.ID] = true
	delete(s.deleted, inst.ID)
}

// Delete schedules the removal of an instance.
func (s *RuntimeSession) Delete(id string) {
	delete(s.instances, id)
	delete(s.dirty, id)
	s.deleted[id] = true
}

// Flush stages every dirty instance and deletion into the transaction.
func (s *RuntimeSession) Flush(ctx context.Context) error {
	if s.flushed {
		return nil
	}
	s.flushed = true
	if len(s.dirty) == 0 && len(s.deleted) == 0 {
		return nil
	}
	w, ok := s.tx.(ports.InstanceWriter)
	if !ok {
		return fmt.Errorf("runtime session: transaction %T cannot stage process instances", s.tx)
	}
	for _, id := range sortedKeys(s.dirty) {
		if err := w.SaveInstance(ctx, s.instances[id]); err != nil {
			return fmt.Errorf("save instance %s: %w", id, err)
		}
	}
	for _, id := range sortedKeys(s.deleted) {
		if err := w.DeleteInstance(ctx, id); err != nil {
			return fmt.Errorf("delete instance %s: %w", id, err)
		}
	}
	return nil
}

// Close drops the cache.
func (s *RuntimeSession) Close(context.Context) error {
	s.instances = nil
	return nil
}

// RuntimeSessionFactory opens RuntimeSessions over a StateStore.
type RuntimeSessionFactory struct {
	Store ports.StateStore
}

// Tag implements ports.SessionFactory.
func (f RuntimeSessionFactory) Tag() ports.SessionTag { return ports.SessionRuntime }

// OpenSession implements ports.SessionFactory.
func (f RuntimeSessionFactory) OpenSession(sc ports.SessionContext) (ports.Session, error) {
	return &RuntimeSession{
		store:     f.Store,
		tx:        sc.TransactionContext(),
		instances: make(map[string]*domain.ProcessInstance),
		dirty:     make(map[string]bool),
		deleted:   make(map[string]bool),
	}, nil
}

// RepositorySession resolves definitions for one command and publishes the
// ones deployed by it on flush.
type RepositorySession struct {
	repo    ports.DefinitionRepository
	cache   map[string]*domain.ProcessDefinition
	pending []*domain.ProcessDefinition
}

// Definition returns the deployed definition with the given ID.
func (s *RepositorySession) Definition(ctx context.Context, id string) (*domain.ProcessDefinition, error) {
	if def, ok := s.cache[id]; ok {
		return def, nil
	}
	def, err := s.repo.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	s.cache[id] = def
	return def, nil
}

// Deploy validates def and makes it visible to this command immediately and to
// others once flushed.
func (s *RepositorySession) Deploy(def *domain.ProcessDefinition) error {
	if err := def.Validate(); err != nil {
		return err
	}
	s.cache[def.ID] = def
	s.pending = append(s.pending, def)
	return nil
}

// Flush deploys the pending definitions.
func (s *RepositorySession) Flush(ctx context.Context) error {
	pending := s.pending
	s.pending = nil
	for _, def := range pending {
		if err := s.repo.Deploy(ctx, def); err != nil {
			return fmt.Errorf("deploy %s: %w", def.ID, err)
		}
	}
	return nil
}

// Close drops the cache.
func (s *RepositorySession) Close(context.Context) error {
	s.cache = nil
	return nil
}

// RepositorySessionFactory opens RepositorySessions over a DefinitionRepository.
type RepositorySessionFactory struct {
	Repository ports.DefinitionRepository
}

// Tag implements ports.SessionFactory.
func (f RepositorySessionFactory) Tag() ports.SessionTag { return ports.SessionRepository }

// OpenSession implements ports.SessionFactory.
func (f RepositorySessionFactory) OpenSession(ports.SessionContext) (ports.Session, error) {
	return &RepositorySession{
		repo:  f.Repository,
		cache: make(map[string]*domain.ProcessDefinition),
	}, nil
}

// HistorySession buffers audit events and writes them when the command flushes.
type HistorySession struct {
	store  ports.HistoryStore
	tx     ports.TransactionContext
	events []domain.HistoryEvent
}

// Record buffers ev.
func (s *HistorySession) Record(ev domain.HistoryEvent) {
	if ev.Timestamp.IsZero() {
		ev.Timestamp = time.Now().UTC()
	}
	s.events = append(s.events, ev)
}

// Events returns the buffered events.
func (s *HistorySession) Events() []domain.HistoryEvent {
	return s.events
}

// Flush stages the events in the transaction when it supports it, or appends
// them to the store directly.
func (s *HistorySession) Flush(ctx context.Context) error {
	events := s.events
	s.events = nil
	if len(events) == 0 {
		return nil
	}
	if w, ok := s.tx.(ports.HistoryWriter); ok {
		return w.AppendHistory(ctx, events...)
	}
	if s.store == nil {
		return nil
	}
	return s.store.Append(ctx, events...)
}

// Close drops unflushed events.
func (s *HistorySession) Close(context.Context) error {
	s.events = nil
	return nil
}

// HistorySessionFactory opens HistorySessions. They flush after the runtime session.
type HistorySessionFactory struct {
	Store ports.HistoryStore
}

// Tag implements ports.SessionFactory.
func (f HistorySessionFactory) Tag() ports.SessionTag { return ports.SessionHistory }

// FlushAfter implements ports.FlushOrdered.
func (f HistorySessionFactory) FlushAfter() []ports.SessionTag {
	return []ports.SessionTag{ports.SessionRuntime}
}

// OpenSession implements ports.SessionFactory.
func (f HistorySessionFactory) OpenSession(sc ports.SessionContext) (ports.Session, error) {
	return &HistorySession{store: f.Store, tx: sc.TransactionContext()}, nil
}

func sessionOf[T ports.Session](cc *command.Context, tag ports.SessionTag) (T, error) {
	var zero T
	s, err := cc.Session(tag)
	if err != nil {
		return zero, err
	}
	typed, ok := s.(T)
	if !ok {
		return zero, fmt.Errorf("session %s is %T, want %T", tag, s, zero)
	}
	return typed, nil
}

func runtimeSession(cc *command.Context) (*RuntimeSession, error) {
	return sessionOf[*RuntimeSession](cc, ports.SessionRuntime)
}

func repositorySession(cc *command.Context) (*RepositorySession, error) {
	return sessionOf[*RepositorySession](cc, ports.SessionRepository)
}

func historySession(cc *command.Context) (*HistorySession, error) {
	return sessionOf[*HistorySession](cc, ports.SessionHistory)
}

func sortedKeys(m map[string]bool) []string {
	keys := make([]string, 0, len(m))
	for k, ok := range m {
		if ok {
			keys = append(keys, k)
		}
	}
	slices.Sort(keys)
	return keys
}
