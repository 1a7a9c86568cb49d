package store

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"slices"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/brojonat/p2pdash/service/cache"
	"github.com/brojonat/p2pdash/service/events"
	"github.com/brojonat/p2pdash/service/metrics"
	"github.com/brojonat/p2pdash/service/seed"
	"github.com/brojonat/p2pdash/service/txn"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// flakyCache wraps a cache and fails reads or writes on demand.
type flakyCache struct {
	cache.Cache
	mu      sync.Mutex
	getErr  error
	setErr  error
	setCall int
}

func (f *flakyCache) Get(ctx context.Context, key string) ([]byte, error) {
	f.mu.Lock()
	err := f.getErr
	f.mu.Unlock()
	if err != nil {
		return nil, err
	}
	return f.Cache.Get(ctx, key)
}

func (f *flakyCache) Set(ctx context.Context, key string, value []byte) error {
	f.mu.Lock()
	f.setCall++
	err := f.setErr
	f.mu.Unlock()
	if err != nil {
		return err
	}
	return f.Cache.Set(ctx, key, value)
}

func (f *flakyCache) failWrites(err error) {
	f.mu.Lock()
	f.setErr = err
	f.mu.Unlock()
}

func (f *flakyCache) writes() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.setCall
}

// countingSource counts fetches and returns a fixed result.
type countingSource struct {
	mu    sync.Mutex
	calls int
	txns  []txn.Transaction
	err   error
}

func (c *countingSource) Fetch(ctx context.Context) ([]txn.Transaction, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.calls++
	if c.err != nil {
		return nil, c.err
	}
	return slices.Clone(c.txns), nil
}

func (c *countingSource) fetches() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.calls
}

func sample(id int64, status txn.Status) txn.Transaction {
	return txn.Transaction{
		ID:        id,
		Sender:    "Alice",
		Receiver:  "Bob",
		Amount:    decimal.NewFromInt(id * 10),
		Status:    status,
		Timestamp: "2025-01-01T00:00:00Z",
	}
}

func draft(status txn.Status) txn.Draft {
	return txn.Draft{
		Sender:   "X",
		Receiver: "Y",
		Amount:   decimal.NewFromInt(10),
		Status:   status,
	}
}

func collect(s *Store) []txn.Transaction {
	return slices.Collect(s.List(txn.FilterAll, ""))
}

func cached(t *testing.T, c cache.Cache) []txn.Transaction {
	t.Helper()
	data, err := c.Get(context.Background(), DefaultKey)
	require.NoError(t, err)
	txns, err := txn.Decode(data)
	require.NoError(t, err)
	return txns
}

func newReadyStore(t *testing.T, txns ...txn.Transaction) (*Store, *cache.Memory, *events.MockNotifier) {
	t.Helper()
	c := cache.NewMemory()
	notifier := events.NewMockNotifier()
	s := New(c, seed.Static(txns), notifier, nil, testLogger())
	require.NoError(t, s.Initialize(context.Background()))
	notifier.Reset()
	return s, c, notifier
}

func TestNewStartsLoading(t *testing.T) {
	s := New(cache.NewMemory(), seed.Static(nil), nil, nil, testLogger())

	state, err := s.State()
	assert.Equal(t, StateLoading, state)
	assert.NoError(t, err)
	assert.Equal(t, 0, s.Len())
}

func TestInitialize_SeedsEmptyCache(t *testing.T) {
	ctx := context.Background()
	c := cache.NewMemory()
	src := &countingSource{txns: []txn.Transaction{{
		ID:        1,
		Sender:    "A",
		Receiver:  "B",
		Amount:    decimal.NewFromInt(50),
		Status:    txn.StatusPending,
		Timestamp: "2025-01-01T00:00:00Z",
	}}}
	notifier := events.NewMockNotifier()

	s := New(c, src, notifier, nil, testLogger())
	require.NoError(t, s.Initialize(ctx))

	state, err := s.State()
	assert.Equal(t, StateReady, state)
	assert.NoError(t, err)
	assert.Equal(t, src.txns, collect(s))
	assert.Equal(t, src.txns, cached(t, c))
	assert.Equal(t, 1, src.fetches())

	data, err := c.Get(ctx, DefaultKey)
	require.NoError(t, err)
	assert.JSONEq(t,
		`[{"id":1,"sender":"A","receiver":"B","amount":50,"status":"Pending","timestamp":"2025-01-01T00:00:00Z"}]`,
		string(data))

	resets := notifier.EventsOfType(events.TypeReset)
	require.Len(t, resets, 1)
	assert.Equal(t, 1, resets[0].Count)
}

func TestInitialize_PrefersCache(t *testing.T) {
	ctx := context.Background()
	c := cache.NewMemory()
	existing := []txn.Transaction{sample(7, txn.StatusFailed), sample(3, txn.StatusCompleted)}
	data, err := txn.Encode(existing)
	require.NoError(t, err)
	require.NoError(t, c.Set(ctx, DefaultKey, data))

	src := &countingSource{txns: []txn.Transaction{sample(1, txn.StatusPending)}}
	notifier := events.NewMockNotifier()
	s := New(c, src, notifier, nil, testLogger())
	require.NoError(t, s.Initialize(ctx))

	assert.Equal(t, existing, collect(s))
	assert.Equal(t, 0, src.fetches(), "seed must not be fetched when the cache is populated")
	assert.Empty(t, notifier.Events())
}

func TestInitialize_CachedEmptyCollectionIsKept(t *testing.T) {
	ctx := context.Background()
	c := cache.NewMemory()
	require.NoError(t, c.Set(ctx, DefaultKey, []byte("[]")))

	src := &countingSource{txns: []txn.Transaction{sample(1, txn.StatusPending)}}
	s := New(c, src, nil, nil, testLogger())
	require.NoError(t, s.Initialize(ctx))

	assert.Equal(t, 0, s.Len())
	assert.Equal(t, 0, src.fetches())
}

func TestInitialize_ZeroLengthCacheSeeds(t *testing.T) {
	ctx := context.Background()
	c := cache.NewMemory()
	require.NoError(t, c.Set(ctx, DefaultKey, []byte{}))

	src := &countingSource{txns: []txn.Transaction{sample(1, txn.StatusPending)}}
	s := New(c, src, nil, nil, testLogger())
	require.NoError(t, s.Initialize(ctx))

	assert.Equal(t, 1, s.Len())
	assert.Equal(t, 1, src.fetches())
}

func TestInitialize_CorruptCache(t *testing.T) {
	ctx := context.Background()
	c := cache.NewMemory()
	require.NoError(t, c.Set(ctx, DefaultKey, []byte("{not json")))

	src := &countingSource{txns: []txn.Transaction{sample(1, txn.StatusPending)}}
	s := New(c, src, nil, nil, testLogger())

	err := s.Initialize(ctx)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrCacheCorrupt)

	state, stateErr := s.State()
	assert.Equal(t, StateFailed, state)
	assert.ErrorIs(t, stateErr, ErrCacheCorrupt)
	assert.Equal(t, 0, s.Len())
	assert.Equal(t, 0, src.fetches())

	// The corrupt payload stays in place until an explicit reseed.
	data, err := c.Get(ctx, DefaultKey)
	require.NoError(t, err)
	assert.Equal(t, "{not json", string(data))
}

func TestInitialize_SeedUnavailable(t *testing.T) {
	ctx := context.Background()
	c := cache.NewMemory()
	src := &countingSource{err: errors.New("connection refused")}
	s := New(c, src, nil, nil, testLogger())

	err := s.Initialize(ctx)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrSeedUnavailable)
	assert.Contains(t, err.Error(), "connection refused")

	state, _ := s.State()
	assert.Equal(t, StateFailed, state)
	assert.Equal(t, 0, s.Len())

	_, err = c.Get(ctx, DefaultKey)
	assert.ErrorIs(t, err, cache.ErrNotFound, "nothing is written when seeding fails")
}

func TestInitialize_CacheUnavailable(t *testing.T) {
	c := &flakyCache{Cache: cache.NewMemory(), getErr: errors.New("disk on fire")}
	s := New(c, seed.Static{sample(1, txn.StatusPending)}, nil, nil, testLogger())

	err := s.Initialize(context.Background())
	assert.ErrorIs(t, err, ErrCacheUnavailable)

	state, _ := s.State()
	assert.Equal(t, StateFailed, state)
}

func TestInitialize_SeedWriteFailure(t *testing.T) {
	c := &flakyCache{Cache: cache.NewMemory(), setErr: errors.New("read-only")}
	s := New(c, seed.Static{sample(1, txn.StatusPending)}, nil, nil, testLogger())

	err := s.Initialize(context.Background())
	assert.ErrorIs(t, err, ErrCacheUnavailable)
	assert.Equal(t, 0, s.Len())
}

func TestInitialize_RetryAfterFailure(t *testing.T) {
	ctx := context.Background()
	src := &countingSource{err: errors.New("timeout")}
	s := New(cache.NewMemory(), src, nil, nil, testLogger())

	require.ErrorIs(t, s.Initialize(ctx), ErrSeedUnavailable)

	src.mu.Lock()
	src.err = nil
	src.txns = []txn.Transaction{sample(1, txn.StatusPending), sample(2, txn.StatusFailed)}
	src.mu.Unlock()

	require.NoError(t, s.Initialize(ctx))
	state, err := s.State()
	assert.Equal(t, StateReady, state)
	assert.NoError(t, err)
	assert.Equal(t, 2, s.Len())
	assert.Equal(t, 2, src.fetches())
}

func TestInitialize_SeedTimeout(t *testing.T) {
	src := seedFunc(func(ctx context.Context) ([]txn.Transaction, error) {
		<-ctx.Done()
		return nil, ctx.Err()
	})
	s := New(cache.NewMemory(), src, nil, nil, testLogger(), WithSeedTimeout(20*time.Millisecond))

	err := s.Initialize(context.Background())
	assert.ErrorIs(t, err, ErrSeedUnavailable)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

type seedFunc func(ctx context.Context) ([]txn.Transaction, error)

func (f seedFunc) Fetch(ctx context.Context) ([]txn.Transaction, error) { return f(ctx) }

func TestInitialize_CustomKey(t *testing.T) {
	ctx := context.Background()
	c := cache.NewMemory()
	s := New(c, seed.Static{sample(1, txn.StatusPending)}, nil, nil, testLogger(), WithKey("other"))
	require.NoError(t, s.Initialize(ctx))

	_, err := c.Get(ctx, DefaultKey)
	assert.ErrorIs(t, err, cache.ErrNotFound)
	_, err = c.Get(ctx, "other")
	assert.NoError(t, err)
}

func TestReseed_RecoversCorruptCache(t *testing.T) {
	ctx := context.Background()
	c := cache.NewMemory()
	require.NoError(t, c.Set(ctx, DefaultKey, []byte("garbage")))

	seedData := []txn.Transaction{sample(1, txn.StatusPending)}
	notifier := events.NewMockNotifier()
	s := New(c, seed.Static(seedData), notifier, nil, testLogger())
	require.ErrorIs(t, s.Initialize(ctx), ErrCacheCorrupt)

	require.NoError(t, s.Reseed(ctx))
	state, _ := s.State()
	assert.Equal(t, StateReady, state)
	assert.Equal(t, seedData, collect(s))
	assert.Equal(t, seedData, cached(t, c))
	assert.Len(t, notifier.EventsOfType(events.TypeReset), 1)
}

func TestReseed_DiscardsLocalChanges(t *testing.T) {
	ctx := context.Background()
	s, c, _ := newReadyStore(t, sample(1, txn.StatusPending))

	_, err := s.Create(ctx, draft(txn.StatusCompleted))
	require.NoError(t, err)
	require.Equal(t, 2, s.Len())

	require.NoError(t, s.Reseed(ctx))
	assert.Equal(t, []txn.Transaction{sample(1, txn.StatusPending)}, collect(s))
	assert.Len(t, cached(t, c), 1)
}

func TestList_FilterByStatus(t *testing.T) {
	txns := []txn.Transaction{
		sample(1, txn.StatusPending),
		sample(2, txn.StatusCompleted),
		sample(3, txn.StatusPending),
		sample(4, txn.StatusFailed),
		sample(5, txn.Status("Refunded")),
	}
	s, _, _ := newReadyStore(t, txns...)

	assert.Equal(t, txns, collect(s), "All returns the collection unchanged")

	for _, status := range txn.Statuses {
		var want []txn.Transaction
		for _, tx := range txns {
			if tx.Status == status {
				want = append(want, tx)
			}
		}
		got := slices.Collect(s.List(txn.Filter(status), ""))
		assert.Equal(t, want, got, "status %s", status)
	}
}

func TestList_Search(t *testing.T) {
	txns := []txn.Transaction{
		{ID: 1, Sender: "Alice", Receiver: "Bob", Amount: decimal.RequireFromString("12.5"), Status: txn.StatusPending},
		{ID: 2, Sender: "Carol", Receiver: "alice", Amount: decimal.NewFromInt(300), Status: txn.StatusCompleted},
		{ID: 3, Sender: "Dave", Receiver: "Eve", Amount: decimal.NewFromInt(125), Status: txn.StatusFailed},
	}
	s, _, _ := newReadyStore(t, txns...)

	tests := []struct {
		name   string
		filter txn.Filter
		query  string
		want   []int64
	}{
		{name: "case insensitive name", filter: txn.FilterAll, query: "ALICE", want: []int64{1, 2}},
		{name: "amount text", filter: txn.FilterAll, query: "12", want: []int64{1, 3}},
		{name: "decimal amount", filter: txn.FilterAll, query: "12.5", want: []int64{1}},
		{name: "status then search", filter: txn.Filter(txn.StatusCompleted), query: "alice", want: []int64{2}},
		{name: "no match", filter: txn.FilterAll, query: "zzz", want: nil},
		{name: "empty query", filter: txn.FilterAll, query: "", want: []int64{1, 2, 3}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var got []int64
			for tx := range s.List(tt.filter, tt.query) {
				got = append(got, tx.ID)
			}
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestList_IsRestartableSnapshot(t *testing.T) {
	ctx := context.Background()
	s, _, _ := newReadyStore(t, sample(1, txn.StatusPending), sample(2, txn.StatusPending))

	seq := s.List(txn.FilterAll, "")
	first := slices.Collect(seq)

	_, err := s.Create(ctx, draft(txn.StatusPending))
	require.NoError(t, err)

	assert.Equal(t, first, slices.Collect(seq), "a sequence reflects the collection when List was called")
	assert.Len(t, collect(s), 3)
}

func TestList_EarlyBreak(t *testing.T) {
	s, _, _ := newReadyStore(t, sample(1, txn.StatusPending), sample(2, txn.StatusPending), sample(3, txn.StatusPending))

	var seen []int64
	for tx := range s.List(txn.FilterAll, "") {
		seen = append(seen, tx.ID)
		if len(seen) == 2 {
			break
		}
	}
	assert.Equal(t, []int64{1, 2}, seen)
}

func TestGet(t *testing.T) {
	s, _, _ := newReadyStore(t, sample(1, txn.StatusPending), sample(2, txn.StatusFailed))

	tx, err := s.Get(2)
	require.NoError(t, err)
	assert.Equal(t, sample(2, txn.StatusFailed), tx)

	_, err = s.Get(99)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestGet_SeesCreatedTransaction(t *testing.T) {
	s, _, _ := newReadyStore(t)

	created, err := s.Create(context.Background(), draft(txn.StatusCompleted))
	require.NoError(t, err)

	got, err := s.Get(created.ID)
	require.NoError(t, err)
	assert.Equal(t, created, got)
}

func TestCreate_OnEmptyCollection(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2025, 3, 4, 5, 6, 7, 890_000_000, time.UTC)
	c := cache.NewMemory()
	notifier := events.NewMockNotifier()
	s := New(c, seed.Static(nil), notifier, nil, testLogger(), WithClock(func() time.Time { return now }))
	require.NoError(t, s.Initialize(ctx))
	notifier.Reset()

	tx, err := s.Create(ctx, draft(txn.StatusCompleted))
	require.NoError(t, err)

	assert.Equal(t, now.UnixMilli(), tx.ID)
	assert.Equal(t, "2025-03-04T05:06:07.890Z", tx.Timestamp)
	assert.Equal(t, "X", tx.Sender)
	assert.Equal(t, "Y", tx.Receiver)
	assert.True(t, decimal.NewFromInt(10).Equal(tx.Amount))
	assert.Equal(t, txn.StatusCompleted, tx.Status)

	assert.Equal(t, []txn.Transaction{tx}, collect(s))
	assert.Equal(t, []txn.Transaction{tx}, cached(t, c))

	created := notifier.EventsOfType(events.TypeCreated)
	require.Len(t, created, 1)
	assert.Equal(t, tx, created[0].Transaction)
	assert.Equal(t, 1, created[0].Count)
}

func TestCreate_IDsUniqueUnderFrozenClock(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	s := New(cache.NewMemory(), seed.Static(nil), nil, nil, testLogger(), WithClock(func() time.Time { return now }))
	require.NoError(t, s.Initialize(ctx))

	seen := make(map[int64]bool)
	var last int64
	for i := range 50 {
		tx, err := s.Create(ctx, draft(txn.StatusPending))
		require.NoError(t, err)
		assert.False(t, seen[tx.ID], "duplicate id %d", tx.ID)
		assert.Greater(t, tx.ID, last)
		seen[tx.ID] = true
		last = tx.ID
		assert.Equal(t, i+1, s.Len())
	}
}

func TestCreate_IDsAboveSeededIDs(t *testing.T) {
	// Seeded ids far in the future must not be reused by the clock.
	future := time.Now().Add(24 * time.Hour).UnixMilli()
	s, _, _ := newReadyStore(t, sample(future, txn.StatusPending))

	tx, err := s.Create(context.Background(), draft(txn.StatusPending))
	require.NoError(t, err)
	assert.Greater(t, tx.ID, future)
}

func TestCreate_Invalid(t *testing.T) {
	ctx := context.Background()
	s, c, notifier := newReadyStore(t, sample(1, txn.StatusPending))
	before := cached(t, c)

	tests := []struct {
		name  string
		draft txn.Draft
	}{
		{name: "missing sender", draft: txn.Draft{Receiver: "Y", Amount: decimal.NewFromInt(1), Status: txn.StatusPending}},
		{name: "missing receiver", draft: txn.Draft{Sender: "X", Amount: decimal.NewFromInt(1), Status: txn.StatusPending}},
		{name: "negative amount", draft: txn.Draft{Sender: "X", Receiver: "Y", Amount: decimal.NewFromInt(-1), Status: txn.StatusPending}},
		{name: "unknown status", draft: txn.Draft{Sender: "X", Receiver: "Y", Amount: decimal.NewFromInt(1), Status: "Refunded"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := s.Create(ctx, tt.draft)
			assert.ErrorIs(t, err, txn.ErrInvalidTransaction)
		})
	}

	assert.Equal(t, 1, s.Len())
	assert.Equal(t, before, cached(t, c))
	assert.Empty(t, notifier.Events())
}

func TestCreate_CacheFailureRollsBack(t *testing.T) {
	ctx := context.Background()
	c := &flakyCache{Cache: cache.NewMemory()}
	notifier := events.NewMockNotifier()
	s := New(c, seed.Static{sample(1, txn.StatusPending)}, notifier, nil, testLogger())
	require.NoError(t, s.Initialize(ctx))
	notifier.Reset()

	c.failWrites(errors.New("quota exceeded"))
	_, err := s.Create(ctx, draft(txn.StatusCompleted))
	assert.ErrorIs(t, err, ErrCacheUnavailable)
	assert.Equal(t, 1, s.Len())
	assert.Empty(t, notifier.Events())

	c.failWrites(nil)
	_, err = s.Create(ctx, draft(txn.StatusCompleted))
	require.NoError(t, err)
	assert.Equal(t, 2, s.Len())
}

func TestCreate_NotifyFailureDoesNotFail(t *testing.T) {
	s, c, notifier := newReadyStore(t)
	notifier.SetNotifyError(errors.New("broker down"))

	tx, err := s.Create(context.Background(), draft(txn.StatusPending))
	require.NoError(t, err)
	assert.Equal(t, []txn.Transaction{tx}, cached(t, c))
}

func TestMutationsRequireReady(t *testing.T) {
	ctx := context.Background()
	s := New(cache.NewMemory(), &countingSource{err: errors.New("offline")}, nil, nil, testLogger())

	_, err := s.Create(ctx, draft(txn.StatusPending))
	assert.ErrorIs(t, err, ErrNotReady, "before Initialize")

	require.Error(t, s.Initialize(ctx))
	_, err = s.Create(ctx, draft(txn.StatusPending))
	assert.ErrorIs(t, err, ErrNotReady, "after failed Initialize")
	assert.ErrorIs(t, s.Delete(ctx, 1), ErrNotReady)
}

func TestDelete(t *testing.T) {
	ctx := context.Background()
	s, c, notifier := newReadyStore(t,
		sample(1, txn.StatusPending),
		sample(2, txn.StatusCompleted),
		sample(3, txn.StatusFailed),
	)

	require.NoError(t, s.Delete(ctx, 2))

	want := []txn.Transaction{sample(1, txn.StatusPending), sample(3, txn.StatusFailed)}
	assert.Equal(t, want, collect(s))
	assert.Equal(t, want, cached(t, c))

	_, err := s.Get(2)
	assert.ErrorIs(t, err, ErrNotFound)

	deleted := notifier.EventsOfType(events.TypeDeleted)
	require.Len(t, deleted, 1)
	assert.Equal(t, int64(2), deleted[0].Transaction.ID)
	assert.Equal(t, 2, deleted[0].Count)
}

func TestDelete_AbsentIsNoop(t *testing.T) {
	ctx := context.Background()
	c := &flakyCache{Cache: cache.NewMemory()}
	notifier := events.NewMockNotifier()
	s := New(c, seed.Static{sample(1, txn.StatusPending)}, notifier, nil, testLogger())
	require.NoError(t, s.Initialize(ctx))
	notifier.Reset()
	writes := c.writes()

	require.NoError(t, s.Delete(ctx, 42))
	require.NoError(t, s.Delete(ctx, 42))

	assert.Equal(t, 1, s.Len())
	assert.Equal(t, writes, c.writes(), "no cache write for an absent id")
	assert.Empty(t, notifier.Events())
}

func TestDelete_RemovesFirstMatchOnly(t *testing.T) {
	dup := sample(5, txn.StatusPending)
	other := sample(5, txn.StatusFailed)
	s, _, _ := newReadyStore(t, dup, other)

	require.NoError(t, s.Delete(context.Background(), 5))
	assert.Equal(t, []txn.Transaction{other}, collect(s))
}

func TestDelete_CacheFailureRollsBack(t *testing.T) {
	ctx := context.Background()
	c := &flakyCache{Cache: cache.NewMemory()}
	s := New(c, seed.Static{sample(1, txn.StatusPending)}, nil, nil, testLogger())
	require.NoError(t, s.Initialize(ctx))

	c.failWrites(errors.New("io error"))
	assert.ErrorIs(t, s.Delete(ctx, 1), ErrCacheUnavailable)
	assert.Equal(t, 1, s.Len())
}

func TestAggregateByStatus(t *testing.T) {
	s, _, _ := newReadyStore(t,
		sample(1, txn.StatusPending),
		sample(2, txn.StatusCompleted),
		sample(3, txn.StatusPending),
		sample(4, txn.StatusFailed),
	)

	assert.Equal(t, []Bucket{
		{Status: txn.StatusPending, Count: 2},
		{Status: txn.StatusCompleted, Count: 1},
		{Status: txn.StatusFailed, Count: 1},
	}, s.AggregateByStatus())
}

func TestAggregateByStatus_ExcludesUnknown(t *testing.T) {
	s, _, _ := newReadyStore(t,
		sample(1, txn.Status("Refunded")),
		sample(2, txn.StatusFailed),
		sample(3, txn.Status("")),
	)

	buckets := s.AggregateByStatus()
	total := 0
	for _, b := range buckets {
		total += b.Count
	}
	assert.Equal(t, 1, total)
	assert.Equal(t, 3, s.Len())
}

func TestAggregateByStatus_Empty(t *testing.T) {
	s, _, _ := newReadyStore(t)

	for i, b := range s.AggregateByStatus() {
		assert.Equal(t, txn.Statuses[i], b.Status)
		assert.Zero(t, b.Count)
	}
}

func TestRoundTripThroughCache(t *testing.T) {
	ctx := context.Background()
	c := cache.NewMemory()
	s := New(c, seed.Embedded(), nil, nil, testLogger())
	require.NoError(t, s.Initialize(ctx))

	_, err := s.Create(ctx, draft(txn.StatusFailed))
	require.NoError(t, err)
	first := collect(s)
	require.NoError(t, s.Delete(ctx, first[0].ID))
	before := collect(s)

	// A fresh store over the same cache simulates a reload.
	reloaded := New(c, &countingSource{err: errors.New("must not be called")}, nil, nil, testLogger())
	require.NoError(t, reloaded.Initialize(ctx))
	assert.Equal(t, before, collect(reloaded))
}

func TestRoundTripThroughSQLite(t *testing.T) {
	ctx := context.Background()
	path := t.TempDir() + "/p2pdash.db"

	c, err := cache.NewSQLite(path)
	require.NoError(t, err)
	s := New(c, seed.Embedded(), nil, nil, testLogger())
	require.NoError(t, s.Initialize(ctx))
	_, err = s.Create(ctx, draft(txn.StatusPending))
	require.NoError(t, err)
	before := collect(s)
	require.NoError(t, c.Close())

	c, err = cache.NewSQLite(path)
	require.NoError(t, err)
	defer c.Close()
	reloaded := New(c, seed.Static(nil), nil, nil, testLogger())
	require.NoError(t, reloaded.Initialize(ctx))
	assert.Equal(t, before, collect(reloaded))
}

func TestConcurrentMutations(t *testing.T) {
	ctx := context.Background()
	s, c, _ := newReadyStore(t)

	const workers = 8
	const perWorker = 25

	var wg sync.WaitGroup
	for range workers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for range perWorker {
				_, err := s.Create(ctx, draft(txn.StatusPending))
				assert.NoError(t, err)
				_ = s.AggregateByStatus()
				_ = slices.Collect(s.List(txn.FilterAll, "x"))
			}
		}()
	}
	wg.Wait()

	txns := collect(s)
	require.Len(t, txns, workers*perWorker)
	ids := make(map[int64]bool, len(txns))
	for _, tx := range txns {
		ids[tx.ID] = true
	}
	assert.Len(t, ids, workers*perWorker)
	assert.Equal(t, txns, cached(t, c))
}

func TestMetricsRecorded(t *testing.T) {
	ctx := context.Background()
	reg := prometheus.NewRegistry()
	m := metrics.NewMetrics(reg)
	s := New(cache.NewMemory(), seed.Static{sample(1, txn.StatusPending)}, nil, m, testLogger())
	require.NoError(t, s.Initialize(ctx))

	_, err := s.Create(ctx, draft(txn.StatusFailed))
	require.NoError(t, err)
	_, err = s.Create(ctx, txn.Draft{})
	require.Error(t, err)

	assert.Equal(t, 1.0, metricValue(t, reg, "store_operations_total", map[string]string{"operation": "initialize", "status": "success"}))
	assert.Equal(t, 1.0, metricValue(t, reg, "store_operations_total", map[string]string{"operation": "create", "status": "success"}))
	assert.Equal(t, 1.0, metricValue(t, reg, "store_operations_total", map[string]string{"operation": "create", "status": "error"}))
	assert.Equal(t, 2.0, metricValue(t, reg, "store_transactions", nil))
	assert.Equal(t, 1.0, metricValue(t, reg, "store_status_transactions", map[string]string{"status": "Failed"}))
	assert.Equal(t, 1.0, metricValue(t, reg, "seed_fetches_total", map[string]string{"source": "static", "status": "success"}))
}

// metricValue returns the counter or gauge value of the series matching labels.
func metricValue(t *testing.T, reg *prometheus.Registry, name string, labels map[string]string) float64 {
	t.Helper()
	families, err := reg.Gather()
	require.NoError(t, err)

	for _, family := range families {
		if family.GetName() != name {
			continue
		}
	series:
		for _, metric := range family.GetMetric() {
			for _, pair := range metric.GetLabel() {
				if want, ok := labels[pair.GetName()]; ok && want != pair.GetValue() {
					continue series
				}
			}
			if metric.GetCounter() != nil {
				return metric.GetCounter().GetValue()
			}
			return metric.GetGauge().GetValue()
		}
	}
	t.Fatalf("metric %s%v not found", name, labels)
	return 0
}
