package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"slices"
	"strconv"
	"time"

	backend "github.com/redis/go-redis/v9"

	"github.com/aretw0/pvm/pkg/domain"
	"github.com/aretw0/pvm/pkg/ports"
)

const defaultPrefix = "pvm:"

// Store implements ports.StateStore and ports.HistoryStore on Redis.
// Instances are JSON documents; an index sorted set lists them. Transactions
// buffer their writes and apply them in one MULTI/EXEC block on commit.
type Store struct {
	client *backend.Client
	prefix string
	ttl    time.Duration
	now    func() time.Time
}

// Option configures the Store.
type Option func(*Store)

// WithTTL expires instances and their history after ttl. Zero keeps them forever.
func WithTTL(ttl time.Duration) Option {
	return func(s *Store) {
		s.ttl = ttl
	}
}

// WithPrefix namespaces every key written by the store.
func WithPrefix(prefix string) Option {
	return func(s *Store) {
		s.prefix = prefix
	}
}

// WithClock replaces the wall clock used to score and expire index entries.
func WithClock(now func() time.Time) Option {
	return func(s *Store) {
		s.now = now
	}
}

// NewFromClient creates a Store using an existing client.
func NewFromClient(client *backend.Client, opts ...Option) *Store {
	s := &Store{client: client, prefix: defaultPrefix, now: time.Now}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// New connects to addr and creates a Store.
func New(addr, password string, db int, opts ...Option) *Store {
	return NewFromClient(backend.NewClient(&backend.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	}), opts...)
}

// Client returns the underlying client, e.g. to share it with a Locker.
func (s *Store) Client() *backend.Client {
	return s.client
}

// Ping verifies the connection.
func (s *Store) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

func (s *Store) instanceKey(id string) string { return s.prefix + "instance:" + id }
func (s *Store) historyKey(id string) string  { return s.prefix + "history:" + id }
func (s *Store) indexKey() string             { return s.prefix + "index" }

// Load retrieves a process instance.
func (s *Store) Load(ctx context.Context, instanceID string) (*domain.ProcessInstance, error) {
	data, err := s.client.Get(ctx, s.instanceKey(instanceID)).Bytes()
	if errors.Is(err, backend.Nil) {
		return nil, fmt.Errorf("%w: %s", domain.ErrInstanceNotFound, instanceID)
	}
	if err != nil {
		return nil, fmt.Errorf("redis get %s: %w", instanceID, err)
	}
	var inst domain.ProcessInstance
	if err := json.Unmarshal(data, &inst); err != nil {
		return nil, fmt.Errorf("decode instance %s: %w", instanceID, err)
	}
	return &inst, nil
}

// List returns the stored instance IDs in sorted order. Expired entries are
// dropped from the index lazily. Index scores are expiry times in Unix
// milliseconds; an entry whose expiry has been reached is gone.
func (s *Store) List(ctx context.Context) ([]string, error) {
	if s.ttl > 0 {
		now := strconv.FormatInt(s.now().UnixMilli(), 10)
		if err := s.client.ZRemRangeByScore(ctx, s.indexKey(), "-inf", now).Err(); err != nil {
			return nil, fmt.Errorf("redis index cleanup: %w", err)
		}
	}
	ids, err := s.client.ZRange(ctx, s.indexKey(), 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("redis index: %w", err)
	}
	slices.Sort(ids)
	return ids, nil
}

// Append records events outside of any transaction.
func (s *Store) Append(ctx context.Context, events ...domain.HistoryEvent) error {
	if len(events) == 0 {
		return nil
	}
	_, err := s.client.TxPipelined(ctx, func(pipe backend.Pipeliner) error {
		return s.pushHistory(ctx, pipe, events)
	})
	return err
}

// Events returns the history of one instance in recording order.
func (s *Store) Events(ctx context.Context, instanceID string) ([]domain.HistoryEvent, error) {
	raw, err := s.client.LRange(ctx, s.historyKey(instanceID), 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("redis history %s: %w", instanceID, err)
	}
	events := make([]domain.HistoryEvent, 0, len(raw))
	for _, item := range raw {
		var ev domain.HistoryEvent
		if err := json.Unmarshal([]byte(item), &ev); err != nil {
			return nil, fmt.Errorf("decode history of %s: %w", instanceID, err)
		}
		events = append(events, ev)
	}
	return events, nil
}

func (s *Store) pushHistory(ctx context.Context, pipe backend.Pipeliner, events []domain.HistoryEvent) error {
	for _, ev := range events {
		data, err := json.Marshal(ev)
		if err != nil {
			return fmt.Errorf("encode history event: %w", err)
		}
		key := s.historyKey(ev.InstanceID)
		pipe.RPush(ctx, key, data)
		if s.ttl > 0 {
			pipe.Expire(ctx, key, s.ttl)
		}
	}
	return nil
}

// OpenTransactionContext starts a transaction buffering writes until Commit.
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

var errTxDone = errors.New("redis: transaction already finished")

// SaveInstance encodes the instance right away so later mutations are not published.
func (t *tx) SaveInstance(ctx context.Context, inst *domain.ProcessInstance) error {
	if t.done {
		return errTxDone
	}
	data, err := json.Marshal(inst)
	if err != nil {
		return fmt.Errorf("encode instance %s: %w", inst.ID, err)
	}
	t.saves[inst.ID] = data
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

	s := t.store
	now := s.now()
	score := float64(now.UnixMilli())
	if s.ttl > 0 {
		score = float64(now.Add(s.ttl).UnixMilli())
	}
	_, err := s.client.TxPipelined(ctx, func(pipe backend.Pipeliner) error {
		for id, data := range t.saves {
			pipe.Set(ctx, s.instanceKey(id), data, s.ttl)
			pipe.ZAdd(ctx, s.indexKey(), backend.Z{Score: score, Member: id})
		}
		for id := range t.deletes {
			pipe.Del(ctx, s.instanceKey(id))
			pipe.ZRem(ctx, s.indexKey(), id)
		}
		return s.pushHistory(ctx, pipe, t.events)
	})
	if err != nil {
		return fmt.Errorf("redis commit: %w", err)
	}
	return nil
}

func (t *tx) Rollback(ctx context.Context) error {
	t.done = true
	t.saves = nil
	t.deletes = nil
	t.events = nil
	return nil
}
