package config

import (
	"fmt"
	"os"
	"time"
)

// Cache backends.
const (
	CacheMemory   = "memory"
	CacheSQLite   = "sqlite"
	CachePostgres = "postgres"
	CacheNATS     = "nats"
)

// Seed sources.
const (
	SeedEmbedded = "embedded"
	SeedFile     = "file"
	SeedHTTP     = "http"
)

// Config holds all application configuration loaded from environment variables.
// All required fields are validated at startup to ensure fail-fast behavior.
type Config struct {
	// Server configuration
	ServerAddr string
	LogLevel   string

	// Persistent cache configuration
	CacheBackend string
	CacheKey     string
	SQLitePath   string
	DatabaseURL  string

	// NATS configuration. When NATSURL is set, change events are published
	// to JetStream and the SSE stream is enabled.
	NATSURL      string
	NATSKVBucket string

	// Seed configuration
	SeedSource  string
	SeedPath    string
	SeedURL     string
	SeedTimeout time.Duration
}

// Load reads configuration from environment variables and validates all required fields.
// Returns an error if any required configuration is missing or invalid.
func Load() (*Config, error) {
	cfg := &Config{}
	var errs []error

	// Server configuration
	cfg.ServerAddr = getEnvOrDefault("SERVER_ADDR", ":8080")
	cfg.LogLevel = getEnvOrDefault("LOG_LEVEL", "info")

	// NATS configuration
	cfg.NATSURL = os.Getenv("NATS_URL")
	cfg.NATSKVBucket = getEnvOrDefault("NATS_KV_BUCKET", "P2PDASH_CACHE")

	// Persistent cache configuration
	cfg.CacheBackend = getEnvOrDefault("CACHE_BACKEND", CacheMemory)
	cfg.CacheKey = getEnvOrDefault("CACHE_KEY", "transactions")
	cfg.SQLitePath = getEnvOrDefault("SQLITE_PATH", "p2pdash.db")
	cfg.DatabaseURL = os.Getenv("DATABASE_URL")

	switch cfg.CacheBackend {
	case CacheMemory, CacheSQLite:
	case CachePostgres:
		if cfg.DatabaseURL == "" {
			errs = append(errs, fmt.Errorf("DATABASE_URL is required when CACHE_BACKEND=postgres"))
		}
	case CacheNATS:
		if cfg.NATSURL == "" {
			errs = append(errs, fmt.Errorf("NATS_URL is required when CACHE_BACKEND=nats"))
		}
	default:
		errs = append(errs, fmt.Errorf("CACHE_BACKEND: invalid value %q (must be memory, sqlite, postgres or nats)", cfg.CacheBackend))
	}

	// Seed configuration
	cfg.SeedSource = getEnvOrDefault("SEED_SOURCE", SeedEmbedded)
	cfg.SeedPath = os.Getenv("SEED_PATH")
	cfg.SeedURL = os.Getenv("SEED_URL")

	switch cfg.SeedSource {
	case SeedEmbedded:
	case SeedFile:
		if cfg.SeedPath == "" {
			errs = append(errs, fmt.Errorf("SEED_PATH is required when SEED_SOURCE=file"))
		}
	case SeedHTTP:
		if cfg.SeedURL == "" {
			errs = append(errs, fmt.Errorf("SEED_URL is required when SEED_SOURCE=http"))
		}
	default:
		errs = append(errs, fmt.Errorf("SEED_SOURCE: invalid value %q (must be embedded, file or http)", cfg.SeedSource))
	}

	seedTimeout, err := parseDuration("SEED_TIMEOUT", "10s")
	if err != nil {
		errs = append(errs, err)
	} else if seedTimeout <= 0 {
		errs = append(errs, fmt.Errorf("SEED_TIMEOUT must be positive"))
	} else {
		cfg.SeedTimeout = seedTimeout
	}

	// Return all validation errors
	if len(errs) > 0 {
		return nil, fmt.Errorf("configuration validation failed: %v", errs)
	}

	return cfg, nil
}

// MustLoad is like Load but panics if configuration is invalid.
// Useful for server initialization where misconfiguration should halt startup.
func MustLoad() *Config {
	cfg, err := Load()
	if err != nil {
		panic(fmt.Sprintf("failed to load configuration: %v", err))
	}
	return cfg
}

// Validate checks if the configuration is valid.
// This is useful for testing configuration without loading from env.
func (c *Config) Validate() error {
	var errs []error

	if c.ServerAddr == "" {
		errs = append(errs, fmt.Errorf("ServerAddr is required"))
	}

	if c.CacheKey == "" {
		errs = append(errs, fmt.Errorf("CacheKey is required"))
	}

	switch c.CacheBackend {
	case CacheMemory:
	case CacheSQLite:
		if c.SQLitePath == "" {
			errs = append(errs, fmt.Errorf("SQLitePath is required for the sqlite cache"))
		}
	case CachePostgres:
		if c.DatabaseURL == "" {
			errs = append(errs, fmt.Errorf("DatabaseURL is required for the postgres cache"))
		}
	case CacheNATS:
		if c.NATSURL == "" {
			errs = append(errs, fmt.Errorf("NATSURL is required for the nats cache"))
		}
		if c.NATSKVBucket == "" {
			errs = append(errs, fmt.Errorf("NATSKVBucket is required for the nats cache"))
		}
	default:
		errs = append(errs, fmt.Errorf("CacheBackend %q is not supported", c.CacheBackend))
	}

	switch c.SeedSource {
	case SeedEmbedded:
	case SeedFile:
		if c.SeedPath == "" {
			errs = append(errs, fmt.Errorf("SeedPath is required for the file seed"))
		}
	case SeedHTTP:
		if c.SeedURL == "" {
			errs = append(errs, fmt.Errorf("SeedURL is required for the http seed"))
		}
	default:
		errs = append(errs, fmt.Errorf("SeedSource %q is not supported", c.SeedSource))
	}

	if c.SeedTimeout <= 0 {
		errs = append(errs, fmt.Errorf("SeedTimeout must be positive"))
	}

	if len(errs) > 0 {
		return fmt.Errorf("configuration validation failed: %v", errs)
	}

	return nil
}

// getEnvOrDefault returns the environment variable value or a default if not set.
func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// parseDuration parses a duration from an environment variable or uses a default.
func parseDuration(key, defaultValue string) (time.Duration, error) {
	value := getEnvOrDefault(key, defaultValue)
	duration, err := time.ParseDuration(value)
	if err != nil {
		return 0, fmt.Errorf("%s: invalid duration %q: %w", key, value, err)
	}
	return duration, nil
}
