package cache

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/brojonat/p2pdash/service/config"
	"github.com/brojonat/p2pdash/service/metrics"
)

// Open builds the backend named by cfg.CacheBackend, wrapped with metrics.
func Open(ctx context.Context, cfg *config.Config, m *metrics.Metrics, logger *slog.Logger) (Cache, error) {
	var (
		c   Cache
		err error
	)

	switch cfg.CacheBackend {
	case config.CacheMemory, "":
		c = NewMemory()
	case config.CacheSQLite:
		c, err = NewSQLite(cfg.SQLitePath)
	case config.CachePostgres:
		c, err = OpenPostgres(ctx, cfg.DatabaseURL)
	case config.CacheNATS:
		c, err = NewNATSKV(ctx, cfg.NATSURL, cfg.NATSKVBucket, logger)
	default:
		return nil, fmt.Errorf("unsupported cache backend %q", cfg.CacheBackend)
	}
	if err != nil {
		return nil, err
	}

	backend := cfg.CacheBackend
	if backend == "" {
		backend = config.CacheMemory
	}
	logger.Info("persistent cache opened", "backend", backend, "key", cfg.CacheKey)

	return WithMetrics(c, backend, m), nil
}
