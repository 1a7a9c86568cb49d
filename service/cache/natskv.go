package cache

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	natspkg "github.com/brojonat/p2pdash/service/nats"
	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
)

// NATSKV is a Cache backed by a JetStream key-value bucket.
type NATSKV struct {
	nc     *nats.Conn
	kv     jetstream.KeyValue
	logger *slog.Logger
}

// NewNATSKV connects to NATS and creates the bucket if it does not exist.
func NewNATSKV(ctx context.Context, natsURL, bucket string, logger *slog.Logger) (*NATSKV, error) {
	nc, err := natspkg.Connect(natsURL, "p2pdash-cache")
	if err != nil {
		return nil, err
	}

	js, err := jetstream.New(nc)
	if err != nil {
		nc.Close()
		return nil, fmt.Errorf("failed to create JetStream context: %w", err)
	}

	kv, err := js.CreateOrUpdateKeyValue(ctx, jetstream.KeyValueConfig{
		Bucket:      bucket,
		Description: "Persistent mirror of the transaction collection",
		History:     1,
		Storage:     jetstream.FileStorage,
	})
	if err != nil {
		nc.Close()
		return nil, fmt.Errorf("failed to create key-value bucket %q: %w", bucket, err)
	}

	logger.Info("NATS key-value cache initialized", "url", natsURL, "bucket", bucket)

	return &NATSKV{nc: nc, kv: kv, logger: logger}, nil
}

// Get implements Cache.
func (n *NATSKV) Get(ctx context.Context, key string) ([]byte, error) {
	e, err := n.kv.Get(ctx, key)
	if errors.Is(err, jetstream.ErrKeyNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read cache key %q: %w", key, err)
	}
	return e.Value(), nil
}

// Set implements Cache.
func (n *NATSKV) Set(ctx context.Context, key string, value []byte) error {
	if _, err := n.kv.Put(ctx, key, value); err != nil {
		return fmt.Errorf("failed to write cache key %q: %w", key, err)
	}
	return nil
}

// Delete implements Cache.
func (n *NATSKV) Delete(ctx context.Context, key string) error {
	err := n.kv.Delete(ctx, key)
	if err != nil && !errors.Is(err, jetstream.ErrKeyNotFound) {
		return fmt.Errorf("failed to delete cache key %q: %w", key, err)
	}
	return nil
}

// Close implements Cache.
func (n *NATSKV) Close() error {
	if n.nc != nil {
		n.nc.Close()
		n.logger.Info("NATS key-value cache closed")
	}
	return nil
}
