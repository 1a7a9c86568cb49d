package cache

import (
	"context"
	"errors"
	"time"

	"github.com/brojonat/p2pdash/service/metrics"
)

// Instrumented decorates a Cache with Prometheus metrics.
type Instrumented struct {
	next    Cache
	backend string
	metrics *metrics.Metrics
}

// WithMetrics wraps c so every operation is recorded under the backend label.
// A nil m returns c unchanged.
func WithMetrics(c Cache, backend string, m *metrics.Metrics) Cache {
	if m == nil {
		return c
	}
	return &Instrumented{next: c, backend: backend, metrics: m}
}

// Get implements Cache.
func (i *Instrumented) Get(ctx context.Context, key string) ([]byte, error) {
	start := time.Now()
	value, err := i.next.Get(ctx, key)

	status := "hit"
	switch {
	case errors.Is(err, ErrNotFound):
		status = "miss"
	case err != nil:
		status = "error"
	}
	i.metrics.RecordCacheOperation(i.backend, "get", status, time.Since(start).Seconds())
	return value, err
}

// Set implements Cache.
func (i *Instrumented) Set(ctx context.Context, key string, value []byte) error {
	start := time.Now()
	err := i.next.Set(ctx, key, value)
	i.metrics.RecordCacheOperation(i.backend, "set", statusOf(err), time.Since(start).Seconds())
	if err == nil {
		i.metrics.RecordCachePayload(i.backend, len(value))
	}
	return err
}

// Delete implements Cache.
func (i *Instrumented) Delete(ctx context.Context, key string) error {
	start := time.Now()
	err := i.next.Delete(ctx, key)
	i.metrics.RecordCacheOperation(i.backend, "delete", statusOf(err), time.Since(start).Seconds())
	return err
}

// Close implements Cache.
func (i *Instrumented) Close() error {
	return i.next.Close()
}

func statusOf(err error) string {
	if err != nil {
		return "error"
	}
	return "success"
}
