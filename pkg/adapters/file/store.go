// Package file implements ports.StateStore and ports.HistoryStore on the
// local filesystem: one JSON document per instance and one NDJSON history log
// per instance. Each instance file is replaced atomically; a commit touching
// several instances is applied file by file under the store lock.
package file

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"sync"

	"github.com/aretw0/pvm/pkg/domain"
	"github.com/aretw0/pvm/pkg/ports"
)

var errTxDone = errors.New("file: transaction already finished")

// Store keeps instances under BasePath/instances and history under BasePath/history.
type Store struct {
	BasePath string

	mu sync.RWMutex
}

// New creates a new Store with the given base path.
// If basePath is empty, it defaults to ".pvm".
func New(basePath string) *Store {
	if basePath == "" {
		basePath = ".pvm"
	}
	return &Store{BasePath: basePath}
}

func (s *Store) instancePath(id string) string {
	return filepath.Join(s.BasePath, "instances", id+".json")
}

func (s *Store) historyPath(id string) string {
	return filepath.Join(s.BasePath, "history", id+".jsonl")
}

func checkID(id string) error {
	if id == "" {
		return fmt.Errorf("instance id cannot be empty")
	}
	if strings.ContainsAny(id, `/\`) || id == "." || id == ".." {
		return fmt.Errorf("invalid instance id %q", id)
	}
	return nil
}

// Load reads the instance from its JSON file.
func (s *Store) Load(ctx context.Context, instanceID string) (*domain.ProcessInstance, error) {
	if err := checkID(instanceID); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	data, err := os.ReadFile(s.instancePath(instanceID))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("%w: %s", domain.ErrInstanceNotFound, instanceID)
		}
		return nil, fmt.Errorf("failed to read instance file: %w", err)
	}

	var inst domain.ProcessInstance
	if err := json.Unmarshal(data, &inst); err != nil {
		return nil, fmt.Errorf("failed to unmarshal instance %s: %w", instanceID, err)
	}
	return &inst, nil
}

// List returns the stored instance IDs in sorted order.
func (s *Store) List(ctx context.Context) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	entries, err := os.ReadDir(filepath.Join(s.BasePath, "instances"))
	if err != nil {
		if os.IsNotExist(err) {
			return []string{}, nil
		}
		return nil, fmt.Errorf("failed to list instances: %w", err)
	}

	ids := []string{}
	for _, entry := range entries {
		name := entry.Name()
		if !entry.IsDir() && filepath.Ext(name) == ".json" && !strings.HasPrefix(name, "tmp-") {
			ids = append(ids, strings.TrimSuffix(name, ".json"))
		}
	}
	slices.Sort(ids)
	return ids, nil
}

// Append records events outside of any transaction.
func (s *Store) Append(ctx context.Context, events ...domain.HistoryEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.appendLocked(events)
}

// Events returns the history of one instance in recording order.
func (s *Store) Events(ctx context.Context, instanceID string) ([]domain.HistoryEvent, error) {
	if err := checkID(instanceID); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	f, err := os.Open(s.historyPath(instanceID))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to open history: %w", err)
	}
	defer f.Close()

	var events []domain.HistoryEvent
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)
	for scanner.Scan() {
		var ev domain.HistoryEvent
		if err := json.Unmarshal(scanner.Bytes(), &ev); err != nil {
			return nil, fmt.Errorf("corrupt history of %s: %w", instanceID, err)
		}
		events = append(events, ev)
	}
	return events, scanner.Err()
}

func (s *Store) appendLocked(events []domain.HistoryEvent) error {
	byInstance := make(map[string]*bytes.Buffer)
	var order []string
	for _, ev := range events {
		if err := checkID(ev.InstanceID); err != nil {
			return err
		}
		buf, ok := byInstance[ev.InstanceID]
		if !ok {
			buf = &bytes.Buffer{}
			byInstance[ev.InstanceID] = buf
			order = append(order, ev.InstanceID)
		}
		if err := json.NewEncoder(buf).Encode(ev); err != nil {
			return fmt.Errorf("failed to marshal history event: %w", err)
		}
	}
	if len(order) == 0 {
		return nil
	}
	if err := os.MkdirAll(filepath.Join(s.BasePath, "history"), 0o755); err != nil {
		return fmt.Errorf("failed to ensure history directory: %w", err)
	}
	for _, id := range order {
		f, err := os.OpenFile(s.historyPath(id), os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
		if err != nil {
			return fmt.Errorf("failed to open history: %w", err)
		}
		_, err = f.Write(byInstance[id].Bytes())
		if cerr := f.Close(); err == nil {
			err = cerr
		}
		if err != nil {
			return fmt.Errorf("failed to append history of %s: %w", id, err)
		}
	}
	return nil
}

// writeAtomic writes data to a temp file in the destination directory, syncs
// it and renames it over the destination.
func writeAtomic(dir, dest string, data []byte) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("failed to ensure directory: %w", err)
	}
	tmpFile, err := os.CreateTemp(dir, "tmp-*.json")
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	tmpPath := tmpFile.Name()
	defer func() {
		_ = tmpFile.Close()
		_ = os.Remove(tmpPath)
	}()

	if _, err := tmpFile.Write(data); err != nil {
		return fmt.Errorf("failed to write to temp file: %w", err)
	}
	if err := tmpFile.Sync(); err != nil {
		return fmt.Errorf("failed to fsync temp file: %w", err)
	}
	// Windows cannot rename an open file.
	if err := tmpFile.Close(); err != nil {
		return fmt.Errorf("failed to close temp file: %w", err)
	}
	if err := os.Rename(tmpPath, dest); err != nil {
		return fmt.Errorf("failed to rename temp file: %w", err)
	}
	return nil
}

// OpenTransactionContext starts a transaction staging writes until Commit.
func (s *Store) OpenTransactionContext(ctx context.Context) (ports.TransactionContext, error) {
	return &tx{store: s, saves: make(map[string][]byte), deletes: make(map[string]bool)}, nil
}

type tx struct {
	store   *Store
	saves   map[string][]byte
	deletes map[string]bool
	events  []domain.HistoryEvent
	done    bool
}

func (t *tx) SaveInstance(ctx context.Context, inst *domain.ProcessInstance) error {
	if t.done {
		return errTxDone
	}
	if err := checkID(inst.ID); err != nil {
		return err
	}
	data, err := json.MarshalIndent(inst, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal instance %s: %w", inst.ID, err)
	}
	t.saves[inst.ID] = data
	delete(t.deletes, inst.ID)
	return nil
}

func (t *tx) DeleteInstance(ctx context.Context, instanceID string) error {
	if t.done {
		return errTxDone
	}
	if err := checkID(instanceID); err != nil {
		return err
	}
	delete(t.saves, instanceID)
	t.deletes[instanceID] = true
	return nil
}

func (t *tx) AppendHistory(ctx context.Context, events ...domain.HistoryEvent) error {
	if t.done {
		return errTxDone
	}
	t.events = append(t.events, events...)
	return nil
}

func (t *tx) Commit(ctx context.Context) error {
	if t.done {
		return errTxDone
	}
	t.done = true

	s := t.store
	s.mu.Lock()
	defer s.mu.Unlock()

	dir := filepath.Join(s.BasePath, "instances")
	for id, data := range t.saves {
		if err := writeAtomic(dir, s.instancePath(id), data); err != nil {
			return fmt.Errorf("save instance %s: %w", id, err)
		}
	}
	for id := range t.deletes {
		if err := os.Remove(s.instancePath(id)); err != nil && !os.IsNotExist(err) {
			return fmt.Errorf("failed to delete instance file: %w", err)
		}
	}
	return s.appendLocked(t.events)
}

func (t *tx) Rollback(ctx context.Context) error {
	t.done = true
	t.saves = nil
	t.deletes = nil
	t.events = nil
	return nil
}
