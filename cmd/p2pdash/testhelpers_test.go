package main

import (
	"bytes"
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/brojonat/p2pdash/service/cache"
	"github.com/brojonat/p2pdash/service/seed"
	"github.com/brojonat/p2pdash/service/server"
	"github.com/brojonat/p2pdash/service/store"
	"github.com/brojonat/p2pdash/service/txn"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
)

func sampleTransactions() []txn.Transaction {
	return []txn.Transaction{
		{ID: 1, Sender: "Alice", Receiver: "Bob", Amount: decimal.NewFromInt(50), Status: txn.StatusPending, Timestamp: "2025-01-01T00:00:00.000Z"},
		{ID: 2, Sender: "Carol", Receiver: "Dave", Amount: decimal.RequireFromString("150.25"), Status: txn.StatusCompleted, Timestamp: "2025-01-02T00:00:00.000Z"},
		{ID: 3, Sender: "Eve", Receiver: "alice", Amount: decimal.NewFromInt(300), Status: txn.StatusFailed, Timestamp: "2025-01-03T00:00:00.000Z"},
		{ID: 4, Sender: "Frank", Receiver: "Grace", Amount: decimal.NewFromInt(20), Status: txn.StatusPending, Timestamp: "2025-01-04T00:00:00.000Z"},
	}
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewJSONHandler(io.Discard, nil))
}

// newTestServer serves the real HTTP API over an in-memory store.
func newTestServer(t *testing.T, src seed.Source) (*httptest.Server, *store.Store) {
	t.Helper()
	st := store.New(cache.NewMemory(), src, nil, nil, testLogger())
	_ = st.Initialize(context.Background())

	srv := httptest.NewServer(server.New(":0", st, nil, nil, nil, testLogger()).Handler())
	t.Cleanup(srv.Close)
	return srv, st
}

type offlineSource struct{}

func (offlineSource) Fetch(ctx context.Context) ([]txn.Transaction, error) {
	return nil, errors.New("seed offline")
}

// runApp runs the CLI with args, feeding stdin and capturing what the
// commands write.
func runApp(t *testing.T, stdin string, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	app := newApp()
	app.Writer = &out
	app.ErrWriter = io.Discard
	app.Reader = strings.NewReader(stdin)

	err := app.Run(append([]string{"p2pdash"}, args...))
	return out.String(), err
}

func mustRun(t *testing.T, args ...string) string {
	t.Helper()
	out, err := runApp(t, "", args...)
	require.NoError(t, err, out)
	return out
}
