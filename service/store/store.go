// Package store owns the canonical in-memory transaction collection and keeps
// the persistent cache as a full mirror of it.
package store

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"log/slog"
	"slices"
	"sync"
	"time"

	"github.com/brojonat/p2pdash/service/cache"
	"github.com/brojonat/p2pdash/service/events"
	"github.com/brojonat/p2pdash/service/metrics"
	"github.com/brojonat/p2pdash/service/seed"
	"github.com/brojonat/p2pdash/service/txn"
)

// DefaultKey is the cache slot holding the serialized collection.
const DefaultKey = "transactions"

var (
	// ErrNotFound is returned by Get for an unknown id.
	ErrNotFound = errors.New("transaction not found")

	// ErrNotReady is returned by mutations before a successful Initialize.
	ErrNotReady = errors.New("transaction store is not ready")

	// ErrSeedUnavailable means the seed source could not be fetched or decoded.
	ErrSeedUnavailable = errors.New("seed source unavailable")

	// ErrCacheCorrupt means the cached payload could not be decoded.
	ErrCacheCorrupt = errors.New("persistent cache is corrupt")

	// ErrCacheUnavailable means the cache backend failed a read or write.
	ErrCacheUnavailable = errors.New("persistent cache unavailable")
)

// State is the store's lifecycle state.
type State string

const (
	StateLoading State = "loading"
	StateReady   State = "ready"
	StateFailed  State = "failed"
)

// Bucket is one slice of the status distribution.
type Bucket struct {
	Status txn.Status `json:"status"`
	Count  int        `json:"count"`
}

// Option configures a Store.
type Option func(*Store)

// WithKey overrides the cache key. Defaults to DefaultKey.
func WithKey(key string) Option {
	return func(s *Store) { s.key = key }
}

// WithClock overrides the time source used for ids and timestamps.
func WithClock(clock func() time.Time) Option {
	return func(s *Store) { s.clock = clock }
}

// WithSeedTimeout bounds every seed fetch. Zero means no bound.
func WithSeedTimeout(d time.Duration) Option {
	return func(s *Store) { s.seedTimeout = d }
}

// Store is the single source of truth for transactions during a process lifetime.
// All methods are safe for concurrent use; mutations are serialized.
type Store struct {
	cache    cache.Cache
	source   seed.Source
	notifier events.Notifier
	metrics  *metrics.Metrics
	logger   *slog.Logger

	key         string
	clock       func() time.Time
	seedTimeout time.Duration

	// loadMu serializes Initialize and Reseed so only one load runs at a time.
	loadMu sync.Mutex

	mu      sync.RWMutex
	txns    []txn.Transaction
	state   State
	lastErr error
	ids     idGenerator
}

// New creates a Store. It holds no data until Initialize succeeds.
// The notifier and metrics are optional.
func New(c cache.Cache, src seed.Source, notifier events.Notifier, m *metrics.Metrics, logger *slog.Logger, opts ...Option) *Store {
	s := &Store{
		cache:    c,
		source:   src,
		notifier: notifier,
		metrics:  m,
		logger:   logger,
		key:      DefaultKey,
		clock:    time.Now,
		txns:     []txn.Transaction{},
		state:    StateLoading,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Initialize loads the collection from the cache, falling back to the seed
// source when the cache slot is absent or empty. A seeded collection is
// written back to the cache immediately. On failure the collection is left
// empty, the store is marked failed and the classified error is returned;
// calling Initialize again retries.
func (s *Store) Initialize(ctx context.Context) error {
	return s.load(ctx, "initialize", false)
}

// Reseed discards whatever the cache holds, refetches the seed source and
// overwrites the cache. It is the recovery path for a corrupt cache.
func (s *Store) Reseed(ctx context.Context) error {
	return s.load(ctx, "reseed", true)
}

func (s *Store) load(ctx context.Context, operation string, forceSeed bool) error {
	s.loadMu.Lock()
	defer s.loadMu.Unlock()

	start := time.Now()
	s.setState(StateLoading)

	var (
		txns   []txn.Transaction
		seeded bool
		err    error
	)
	if forceSeed {
		txns, err = s.seed(ctx)
		seeded = true
	} else {
		txns, seeded, err = s.readThrough(ctx)
	}

	s.mu.Lock()
	if err != nil {
		s.txns = []txn.Transaction{}
		s.state = StateFailed
		s.lastErr = err
	} else {
		s.txns = txns
		s.state = StateReady
		s.lastErr = nil
		s.ids.observe(txns)
	}
	count, byStatus := len(s.txns), s.countLocked()
	s.mu.Unlock()

	s.metrics.RecordStoreOperation(operation, time.Since(start).Seconds(), err)
	s.metrics.SetStoreSize(count, byStatus)

	if err != nil {
		s.logger.Error("transaction store failed to load",
			"operation", operation,
			"error", err,
		)
		return err
	}

	s.logger.Info("transaction store ready",
		"operation", operation,
		"seeded", seeded,
		"count", count,
	)
	if seeded {
		s.notify(ctx, events.New(events.TypeReset, txn.Transaction{}, count))
	}
	return nil
}

// readThrough returns the cached collection, or the seed when the cache slot
// is absent or zero-length.
func (s *Store) readThrough(ctx context.Context) ([]txn.Transaction, bool, error) {
	data, err := s.cache.Get(ctx, s.key)
	switch {
	case errors.Is(err, cache.ErrNotFound):
		s.logger.Debug("cache empty, falling back to seed", "key", s.key)
	case err != nil:
		return nil, false, fmt.Errorf("%w: %w", ErrCacheUnavailable, err)
	case len(data) > 0:
		txns, err := txn.Decode(data)
		if err != nil {
			return nil, false, fmt.Errorf("%w: %w", ErrCacheCorrupt, err)
		}
		return txns, false, nil
	}

	txns, err := s.seed(ctx)
	return txns, true, err
}

// seed fetches the seed source and writes it to the cache.
func (s *Store) seed(ctx context.Context) ([]txn.Transaction, error) {
	fetchCtx := ctx
	if s.seedTimeout > 0 {
		var cancel context.CancelFunc
		fetchCtx, cancel = context.WithTimeout(ctx, s.seedTimeout)
		defer cancel()
	}

	name := seed.Name(s.source)
	start := time.Now()
	txns, err := s.source.Fetch(fetchCtx)
	s.metrics.RecordSeedFetch(name, time.Since(start).Seconds(), err)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrSeedUnavailable, err)
	}
	if txns == nil {
		txns = []txn.Transaction{}
	}

	if err := s.persist(ctx, txns); err != nil {
		return nil, err
	}
	s.logger.Info("seeded transaction store", "source", name, "count", len(txns))
	return txns, nil
}

// persist overwrites the cache slot with the full collection.
func (s *Store) persist(ctx context.Context, txns []txn.Transaction) error {
	data, err := txn.Encode(txns)
	if err != nil {
		return fmt.Errorf("failed to encode transactions: %w", err)
	}
	if err := s.cache.Set(ctx, s.key, data); err != nil {
		return fmt.Errorf("%w: %w", ErrCacheUnavailable, err)
	}
	return nil
}

// List returns a lazy, restartable sequence over a snapshot of the collection,
// narrowed by status and then by a case-insensitive search of sender,
// receiver and amount. Collection order is preserved.
func (s *Store) List(filter txn.Filter, query string) iter.Seq[txn.Transaction] {
	start := time.Now()
	s.mu.RLock()
	snapshot := slices.Clone(s.txns)
	s.mu.RUnlock()
	s.metrics.RecordStoreOperation("list", time.Since(start).Seconds(), nil)

	return func(yield func(txn.Transaction) bool) {
		for _, tx := range snapshot {
			if !tx.Matches(filter, query) {
				continue
			}
			if !yield(tx) {
				return
			}
		}
	}
}

// Get returns the transaction with the given id.
func (s *Store) Get(id int64) (txn.Transaction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, tx := range s.txns {
		if tx.ID == id {
			return tx, nil
		}
	}
	return txn.Transaction{}, fmt.Errorf("%w: id %d", ErrNotFound, id)
}

// Create validates the draft, assigns a fresh id and timestamp, appends the
// record and rewrites the cache. If the cache write fails nothing changes.
func (s *Store) Create(ctx context.Context, draft txn.Draft) (txn.Transaction, error) {
	start := time.Now()
	tx, count, byStatus, err := s.create(ctx, draft)
	s.metrics.RecordStoreOperation("create", time.Since(start).Seconds(), err)
	if err != nil {
		s.logger.Warn("failed to create transaction", "error", err)
		return txn.Transaction{}, err
	}
	s.metrics.SetStoreSize(count, byStatus)

	s.logger.Info("transaction created",
		"id", tx.ID,
		"status", tx.Status,
		"amount", tx.Amount.String(),
		"count", count,
	)
	s.notify(ctx, events.New(events.TypeCreated, tx, count))
	return tx, nil
}

func (s *Store) create(ctx context.Context, draft txn.Draft) (txn.Transaction, int, map[string]int, error) {
	if err := draft.Validate(); err != nil {
		return txn.Transaction{}, 0, nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state != StateReady {
		return txn.Transaction{}, 0, nil, ErrNotReady
	}

	now := s.clock()
	tx := draft.Build(s.ids.next(now), now)

	next := make([]txn.Transaction, len(s.txns), len(s.txns)+1)
	copy(next, s.txns)
	next = append(next, tx)

	if err := s.persist(ctx, next); err != nil {
		return txn.Transaction{}, 0, nil, err
	}
	s.txns = next
	return tx, len(next), s.countLocked(), nil
}

// Delete removes the first transaction with the given id and rewrites the
// cache. Deleting an absent id is a no-op.
func (s *Store) Delete(ctx context.Context, id int64) error {
	start := time.Now()
	removed, count, byStatus, err := s.remove(ctx, id)
	s.metrics.RecordStoreOperation("delete", time.Since(start).Seconds(), err)
	if err != nil {
		s.logger.Warn("failed to delete transaction", "id", id, "error", err)
		return err
	}
	if removed == nil {
		s.logger.Debug("delete of absent transaction ignored", "id", id)
		return nil
	}
	s.metrics.SetStoreSize(count, byStatus)

	s.logger.Info("transaction deleted", "id", id, "count", count)
	s.notify(ctx, events.New(events.TypeDeleted, *removed, count))
	return nil
}

func (s *Store) remove(ctx context.Context, id int64) (*txn.Transaction, int, map[string]int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state != StateReady {
		return nil, 0, nil, ErrNotReady
	}

	idx := slices.IndexFunc(s.txns, func(tx txn.Transaction) bool { return tx.ID == id })
	if idx < 0 {
		return nil, len(s.txns), nil, nil
	}
	removed := s.txns[idx]

	next := slices.Delete(slices.Clone(s.txns), idx, idx+1)
	if err := s.persist(ctx, next); err != nil {
		return nil, 0, nil, err
	}
	s.txns = next
	return &removed, len(next), s.countLocked(), nil
}

// AggregateByStatus counts the full collection per known status, in the
// fixed order Pending, Completed, Failed. Unknown statuses are excluded.
func (s *Store) AggregateByStatus() []Bucket {
	s.mu.RLock()
	counts := s.countLocked()
	s.mu.RUnlock()

	buckets := make([]Bucket, len(txn.Statuses))
	for i, status := range txn.Statuses {
		buckets[i] = Bucket{Status: status, Count: counts[string(status)]}
	}
	return buckets
}

// State reports the lifecycle state and, when failed, the error that caused it.
func (s *Store) State() (State, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state, s.lastErr
}

// Len returns the number of transactions held.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.txns)
}

func (s *Store) setState(state State) {
	s.mu.Lock()
	s.state = state
	s.mu.Unlock()
}

// countLocked tallies known statuses. Callers must hold s.mu.
func (s *Store) countLocked() map[string]int {
	counts := make(map[string]int, len(txn.Statuses))
	for _, status := range txn.Statuses {
		counts[string(status)] = 0
	}
	for _, tx := range s.txns {
		if tx.Status.Valid() {
			counts[string(tx.Status)]++
		}
	}
	return counts
}

// notify delivers an event outside the lock. Failures are logged only: a
// committed mutation is never undone because a listener is unreachable.
func (s *Store) notify(ctx context.Context, event *events.TransactionEvent) {
	if s.notifier == nil {
		return
	}
	if err := s.notifier.Notify(context.WithoutCancel(ctx), event); err != nil {
		s.logger.Warn("failed to deliver transaction event",
			"event_id", event.ID,
			"type", event.Type,
			"error", err,
		)
	}
}
