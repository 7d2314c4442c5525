// Package sqlite persists process instances, history and definitions in SQLite.
package sqlite

import (
	"context"
	"database/sql"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"github.com/aretw0/pvm/pkg/domain"
	"github.com/aretw0/pvm/pkg/ports"
)

//go:embed schema.sql
var schema string

// Store implements ports.StateStore, ports.HistoryStore and
// ports.DefinitionRepository on one SQLite database.
type Store struct {
	sqlDB *sql.DB
}

// Open opens the database at path and creates the schema when missing.
func Open(path string) (*Store, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("storage path is required")
	}
	dsn := filepath.Clean(path) + "?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)&_pragma=synchronous(NORMAL)"
	sqlDB, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}
	if err := sqlDB.Ping(); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("ping sqlite db: %w", err)
	}
	if _, err := sqlDB.Exec(schema); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("create schema: %w", err)
	}
	return &Store{sqlDB: sqlDB}, nil
}

// Close closes the SQLite handle.
func (s *Store) Close() error {
	if s == nil || s.sqlDB == nil {
		return nil
	}
	return s.sqlDB.Close()
}

// Load retrieves a process instance.
func (s *Store) Load(ctx context.Context, instanceID string) (*domain.ProcessInstance, error) {
	var body []byte
	err := s.sqlDB.QueryRowContext(ctx, `SELECT body FROM process_instances WHERE id = ?`, instanceID).Scan(&body)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", domain.ErrInstanceNotFound, instanceID)
	}
	if err != nil {
		return nil, fmt.Errorf("load instance %s: %w", instanceID, err)
	}
	var inst domain.ProcessInstance
	if err := json.Unmarshal(body, &inst); err != nil {
		return nil, fmt.Errorf("decode instance %s: %w", instanceID, err)
	}
	return &inst, nil
}

// List returns the stored instance IDs in sorted order.
func (s *Store) List(ctx context.Context) ([]string, error) {
	return s.ids(ctx, `SELECT id FROM process_instances ORDER BY id`)
}

func (s *Store) ids(ctx context.Context, query string) ([]string, error) {
	rows, err := s.sqlDB.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("list: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan id: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// Append records events outside of any transaction.
func (s *Store) Append(ctx context.Context, events ...domain.HistoryEvent) error {
	if len(events) == 0 {
		return nil
	}
	return s.inTx(ctx, func(tx *sql.Tx) error {
		return insertHistory(ctx, tx, events)
	})
}

// Events returns the history of one instance in recording order.
func (s *Store) Events(ctx context.Context, instanceID string) ([]domain.HistoryEvent, error) {
	rows, err := s.sqlDB.QueryContext(ctx,
		`SELECT body FROM history_events WHERE instance_id = ? ORDER BY seq`, instanceID)
	if err != nil {
		return nil, fmt.Errorf("history of %s: %w", instanceID, err)
	}
	defer rows.Close()

	var events []domain.HistoryEvent
	for rows.Next() {
		var body []byte
		if err := rows.Scan(&body); err != nil {
			return nil, fmt.Errorf("scan history: %w", err)
		}
		var ev domain.HistoryEvent
		if err := json.Unmarshal(body, &ev); err != nil {
			return nil, fmt.Errorf("decode history of %s: %w", instanceID, err)
		}
		events = append(events, ev)
	}
	return events, rows.Err()
}

// Get returns the deployed definition with the given ID.
func (s *Store) Get(ctx context.Context, id string) (*domain.ProcessDefinition, error) {
	var body []byte
	err := s.sqlDB.QueryRowContext(ctx, `SELECT body FROM process_definitions WHERE id = ?`, id).Scan(&body)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", domain.ErrDefinitionNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("load definition %s: %w", id, err)
	}
	var def domain.ProcessDefinition
	if err := json.Unmarshal(body, &def); err != nil {
		return nil, fmt.Errorf("decode definition %s: %w", id, err)
	}
	return &def, nil
}

// Deploy validates def and stores it, replacing any previous version.
func (s *Store) Deploy(ctx context.Context, def *domain.ProcessDefinition) error {
	if err := def.Validate(); err != nil {
		return err
	}
	body, err := json.Marshal(def)
	if err != nil {
		return fmt.Errorf("encode definition %s: %w", def.ID, err)
	}
	_, err = s.sqlDB.ExecContext(ctx,
		`INSERT INTO process_definitions (id, body, deployed_at) VALUES (?, ?, ?)
		 ON CONFLICT(id) DO UPDATE SET body = excluded.body, deployed_at = excluded.deployed_at`,
		def.ID, body, time.Now().UTC().UnixMilli())
	if err != nil {
		return fmt.Errorf("deploy %s: %w", def.ID, err)
	}
	return nil
}

// ListDefinitions returns the deployed definition IDs in sorted order.
func (s *Store) ListDefinitions(ctx context.Context) ([]string, error) {
	return s.ids(ctx, `SELECT id FROM process_definitions ORDER BY id`)
}

// Definitions adapts the store to ports.DefinitionRepository, whose List
// collides with the instance listing.
func (s *Store) Definitions() ports.DefinitionRepository {
	return definitions{s}
}

type definitions struct{ s *Store }

func (d definitions) Get(ctx context.Context, id string) (*domain.ProcessDefinition, error) {
	return d.s.Get(ctx, id)
}

func (d definitions) Deploy(ctx context.Context, def *domain.ProcessDefinition) error {
	return d.s.Deploy(ctx, def)
}

func (d definitions) List(ctx context.Context) ([]string, error) {
	return d.s.ListDefinitions(ctx)
}

func (s *Store) inTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := s.sqlDB.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

func insertHistory(ctx context.Context, tx *sql.Tx, events []domain.HistoryEvent) error {
	for _, ev := range events {
		body, err := json.Marshal(ev)
		if err != nil {
			return fmt.Errorf("encode history event: %w", err)
		}
		_, err = tx.ExecContext(ctx,
			`INSERT INTO history_events (instance_id, type, recorded_at, body) VALUES (?, ?, ?, ?)`,
			ev.InstanceID, string(ev.Type), ev.Timestamp.UTC().UnixMilli(), body)
		if err != nil {
			return fmt.Errorf("insert history event: %w", err)
		}
	}
	return nil
}

// OpenTransactionContext starts a transaction that buffers writes and applies
// them in a single SQL transaction on Commit.
func (s *Store) OpenTransactionContext(ctx context.Context) (ports.TransactionContext, error) {
	return &tx{store: s, saves: make(map[string]staged), deletes: make(map[string]bool)}, nil
}

type staged struct {
	definitionID string
	ended        bool
	body         []byte
}

type tx struct {
	store   *Store
	saves   map[string]staged
	deletes map[string]bool
	events  []domain.HistoryEvent
	done    bool
}

var errTxDone = errors.New("sqlite: transaction already finished")

func (t *tx) SaveInstance(ctx context.Context, inst *domain.ProcessInstance) error {
	if t.done {
		return errTxDone
	}
	body, err := json.Marshal(inst)
	if err != nil {
		return fmt.Errorf("encode instance %s: %w", inst.ID, err)
	}
	t.saves[inst.ID] = staged{definitionID: inst.DefinitionID, ended: inst.Ended, body: body}
	delete(t.deletes, inst.ID)
	return nil
}

func (t *tx) DeleteInstance(ctx context.Context, instanceID string) error {
	if t.done {
		return errTxDone
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
	if len(t.saves) == 0 && len(t.deletes) == 0 && len(t.events) == 0 {
		return nil
	}
	now := time.Now().UTC().UnixMilli()
	return t.store.inTx(ctx, func(sqlTx *sql.Tx) error {
		for id, st := range t.saves {
			_, err := sqlTx.ExecContext(ctx,
				`INSERT INTO process_instances (id, definition_id, ended, body, updated_at) VALUES (?, ?, ?, ?, ?)
				 ON CONFLICT(id) DO UPDATE SET definition_id = excluded.definition_id, ended = excluded.ended,
				   body = excluded.body, updated_at = excluded.updated_at`,
				id, st.definitionID, st.ended, st.body, now)
			if err != nil {
				return fmt.Errorf("save instance %s: %w", id, err)
			}
		}
		for id := range t.deletes {
			if _, err := sqlTx.ExecContext(ctx, `DELETE FROM process_instances WHERE id = ?`, id); err != nil {
				return fmt.Errorf("delete instance %s: %w", id, err)
			}
		}
		return insertHistory(ctx, sqlTx, t.events)
	})
}

func (t *tx) Rollback(ctx context.Context) error {
	t.done = true
	t.saves = nil
	t.deletes = nil
	t.events = nil
	return nil
}
