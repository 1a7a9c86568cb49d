package cache

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

const createEntriesTable = `CREATE TABLE IF NOT EXISTS cache_entries (
	cache_key  TEXT PRIMARY KEY,
	payload    BYTEA NOT NULL,
	updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
)`

// Postgres is a Cache backed by a PostgreSQL table.
type Postgres struct {
	pool  *pgxpool.Pool
	owned bool
}

// NewPostgres wraps an existing pool and ensures the table exists.
// The caller keeps ownership of the pool; Close does not close it.
func NewPostgres(ctx context.Context, pool *pgxpool.Pool) (*Postgres, error) {
	if _, err := pool.Exec(ctx, createEntriesTable); err != nil {
		return nil, fmt.Errorf("failed to create cache_entries table: %w", err)
	}
	return &Postgres{pool: pool}, nil
}

// OpenPostgres connects to databaseURL and returns a cache that owns the pool.
func OpenPostgres(ctx context.Context, databaseURL string) (*Postgres, error) {
	pool, err := pgxpool.New(ctx, databaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	p, err := NewPostgres(ctx, pool)
	if err != nil {
		pool.Close()
		return nil, err
	}
	p.owned = true
	return p, nil
}

// Get implements Cache.
func (p *Postgres) Get(ctx context.Context, key string) ([]byte, error) {
	var value []byte
	err := p.pool.QueryRow(ctx, `SELECT payload FROM cache_entries WHERE cache_key = $1`, key).Scan(&value)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read cache key %q: %w", key, err)
	}
	return value, nil
}

// Set implements Cache.
func (p *Postgres) Set(ctx context.Context, key string, value []byte) error {
	if value == nil {
		value = []byte{}
	}
	_, err := p.pool.Exec(ctx, `
		INSERT INTO cache_entries (cache_key, payload, updated_at)
		VALUES ($1, $2, NOW())
		ON CONFLICT (cache_key) DO UPDATE SET payload = EXCLUDED.payload, updated_at = EXCLUDED.updated_at`,
		key, value,
	)
	if err != nil {
		return fmt.Errorf("failed to write cache key %q: %w", key, err)
	}
	return nil
}

// Delete implements Cache.
func (p *Postgres) Delete(ctx context.Context, key string) error {
	if _, err := p.pool.Exec(ctx, `DELETE FROM cache_entries WHERE cache_key = $1`, key); err != nil {
		return fmt.Errorf("failed to delete cache key %q: %w", key, err)
	}
	return nil
}

// Close implements Cache.
func (p *Postgres) Close() error {
	if p.owned {
		p.pool.Close()
	}
	return nil
}
