// Package seed provides the read-only sources used to populate an empty cache.
package seed

import (
	"context"
	_ "embed"
	"fmt"
	"io"
	"net/http"
	"os"
	"time"

	"github.com/brojonat/p2pdash/service/config"
	"github.com/brojonat/p2pdash/service/txn"
)

const maxSeedBodySize = 10 << 20 // 10MB

//go:embed transactions.json
var embeddedTransactions []byte

// Source yields the initial ordered list of transactions.
type Source interface {
	Fetch(ctx context.Context) ([]txn.Transaction, error)
}

// Static returns a fixed set of transactions. The slice is copied on every fetch.
type Static []txn.Transaction

// Fetch implements Source.
func (s Static) Fetch(ctx context.Context) ([]txn.Transaction, error) {
	out := make([]txn.Transaction, len(s))
	copy(out, s)
	return out, nil
}

func (Static) String() string { return "static" }

// Bytes decodes a JSON array held in memory.
type Bytes struct {
	name string
	data []byte
}

// Embedded returns the sample data compiled into the binary.
func Embedded() *Bytes {
	return &Bytes{name: config.SeedEmbedded, data: embeddedTransactions}
}

// Fetch implements Source.
func (b *Bytes) Fetch(ctx context.Context) ([]txn.Transaction, error) {
	txns, err := txn.Decode(b.data)
	if err != nil {
		return nil, fmt.Errorf("failed to decode %s seed: %w", b.name, err)
	}
	return txns, nil
}

func (b *Bytes) String() string { return b.name }

// File reads a JSON array from disk on every fetch.
type File struct {
	path string
}

// NewFile creates a source reading path.
func NewFile(path string) *File {
	return &File{path: path}
}

// Fetch implements Source.
func (f *File) Fetch(ctx context.Context) ([]txn.Transaction, error) {
	data, err := os.ReadFile(f.path)
	if err != nil {
		return nil, fmt.Errorf("failed to read seed file: %w", err)
	}
	txns, err := txn.Decode(data)
	if err != nil {
		return nil, fmt.Errorf("failed to decode seed file %s: %w", f.path, err)
	}
	return txns, nil
}

func (f *File) String() string { return config.SeedFile }

// HTTP fetches a JSON array from a URL.
type HTTP struct {
	url        string
	httpClient *http.Client
}

// NewHTTP creates a source fetching url. A nil client gets a 30s timeout.
func NewHTTP(url string, httpClient *http.Client) *HTTP {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 30 * time.Second}
	}
	return &HTTP{url: url, httpClient: httpClient}
}

// Fetch implements Source.
func (h *HTTP) Fetch(ctx context.Context) ([]txn.Transaction, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, h.url, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := h.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("seed request failed with status %d", resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxSeedBodySize+1))
	if err != nil {
		return nil, fmt.Errorf("failed to read seed response: %w", err)
	}
	if len(body) > maxSeedBodySize {
		return nil, fmt.Errorf("seed response too large: maximum size is 10MB")
	}

	txns, err := txn.Decode(body)
	if err != nil {
		return nil, fmt.Errorf("failed to decode seed response: %w", err)
	}
	return txns, nil
}

func (h *HTTP) String() string { return config.SeedHTTP }

// FromConfig builds the source named by cfg.SeedSource.
func FromConfig(cfg *config.Config) (Source, error) {
	switch cfg.SeedSource {
	case config.SeedEmbedded, "":
		return Embedded(), nil
	case config.SeedFile:
		return NewFile(cfg.SeedPath), nil
	case config.SeedHTTP:
		return NewHTTP(cfg.SeedURL, nil), nil
	default:
		return nil, fmt.Errorf("unsupported seed source %q", cfg.SeedSource)
	}
}

// Name reports a short label for src, used in logs and metrics.
func Name(src Source) string {
	if s, ok := src.(fmt.Stringer); ok {
		return s.String()
	}
	return fmt.Sprintf("%T", src)
}
