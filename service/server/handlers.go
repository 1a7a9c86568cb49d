package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"slices"
	"strconv"

	"github.com/brojonat/p2pdash/service/store"
	"github.com/brojonat/p2pdash/service/txn"
	"github.com/shopspring/decimal"
)

const (
	maxRequestBodySize = 1 << 20 // 1MB - plenty for a transaction draft
)

// createTransactionRequest is the JSON body accepted by POST /api/v1/transactions.
// Any id or timestamp supplied by the caller is ignored.
type createTransactionRequest struct {
	Sender   string          `json:"sender"`
	Receiver string          `json:"receiver"`
	Amount   decimal.Decimal `json:"amount"`
	Status   txn.Status      `json:"status"`
}

func (r createTransactionRequest) draft() txn.Draft {
	return txn.Draft{
		Sender:   r.Sender,
		Receiver: r.Receiver,
		Amount:   r.Amount,
		Status:   r.Status,
	}
}

// statsResponse is the JSON response format for the status distribution.
type statsResponse struct {
	Buckets []store.Bucket `json:"buckets"`
	Total   int            `json:"total"`
}

// storeStateResponse is the JSON response format for the store lifecycle state.
type storeStateResponse struct {
	State store.State `json:"state"`
	Error string      `json:"error,omitempty"`
	Count int         `json:"count"`
}

// handleListTransactions returns a handler that lists transactions.
// GET /api/v1/transactions?status=STATUS&q=QUERY
func handleListTransactions(st *store.Store, logger *slog.Logger) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		query := r.URL.Query()

		filter, err := txn.ParseFilter(query.Get("status"))
		if err != nil {
			writeError(w, err.Error(), http.StatusBadRequest)
			return
		}
		search := query.Get("q")

		transactions := slices.Collect(st.List(filter, search))
		if transactions == nil {
			transactions = []txn.Transaction{}
		}

		logger.Debug("transactions listed", "status", filter, "q", search, "count", len(transactions))

		writeJSON(w, map[string]interface{}{
			"transactions": transactions,
			"count":        len(transactions),
		}, http.StatusOK)
	})
}

// handleCreateTransaction returns a handler that creates a transaction.
// POST /api/v1/transactions
func handleCreateTransaction(st *store.Store, logger *slog.Logger) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		req, err := decodeCreateRequest(w, r)
		if err != nil {
			logger.Debug("invalid create request", "error", err)
			writeError(w, err.Error(), http.StatusBadRequest)
			return
		}

		tx, err := st.Create(r.Context(), req.draft())
		if err != nil {
			writeStoreError(w, logger, "failed to create transaction", err)
			return
		}

		writeJSON(w, tx, http.StatusCreated)
	})
}

// handleGetTransaction returns a handler that retrieves a single transaction.
// GET /api/v1/transactions/{id}
func handleGetTransaction(st *store.Store, logger *slog.Logger) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id, err := parseID(r.PathValue("id"))
		if err != nil {
			writeError(w, err.Error(), http.StatusBadRequest)
			return
		}

		tx, err := st.Get(id)
		if err != nil {
			writeStoreError(w, logger, "failed to get transaction", err)
			return
		}

		writeJSON(w, tx, http.StatusOK)
	})
}

// handleDeleteTransaction returns a handler that deletes a transaction.
// Deleting an unknown id succeeds without effect.
// DELETE /api/v1/transactions/{id}
func handleDeleteTransaction(st *store.Store, logger *slog.Logger) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id, err := parseID(r.PathValue("id"))
		if err != nil {
			writeError(w, err.Error(), http.StatusBadRequest)
			return
		}

		if err := st.Delete(r.Context(), id); err != nil {
			writeStoreError(w, logger, "failed to delete transaction", err)
			return
		}

		w.WriteHeader(http.StatusNoContent)
	})
}

// handleTransactionStats returns a handler that reports the status distribution.
// GET /api/v1/transactions/stats
func handleTransactionStats(st *store.Store, logger *slog.Logger) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		buckets := st.AggregateByStatus()
		total := 0
		for _, b := range buckets {
			total += b.Count
		}

		logger.Debug("transaction stats computed", "total", total)
		writeJSON(w, statsResponse{Buckets: buckets, Total: total}, http.StatusOK)
	})
}

// handleStoreState returns a handler that reports the store lifecycle state.
// GET /api/v1/store
func handleStoreState(st *store.Store) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, stateOf(st), http.StatusOK)
	})
}

// handleReloadStore returns a handler that re-runs store initialization.
// POST /api/v1/store/reload
func handleReloadStore(st *store.Store, logger *slog.Logger) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if err := st.Initialize(r.Context()); err != nil {
			logger.Warn("store reload failed", "error", err)
			writeJSON(w, stateOf(st), http.StatusServiceUnavailable)
			return
		}
		writeJSON(w, stateOf(st), http.StatusOK)
	})
}

// handleReseedStore returns a handler that discards the cache and refetches the seed.
// POST /api/v1/store/reseed
func handleReseedStore(st *store.Store, logger *slog.Logger) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if err := st.Reseed(r.Context()); err != nil {
			logger.Warn("store reseed failed", "error", err)
			writeJSON(w, stateOf(st), http.StatusServiceUnavailable)
			return
		}
		writeJSON(w, stateOf(st), http.StatusOK)
	})
}

func stateOf(st *store.Store) storeStateResponse {
	state, err := st.State()
	resp := storeStateResponse{State: state, Count: st.Len()}
	if err != nil {
		resp.Error = err.Error()
	}
	return resp
}

func decodeCreateRequest(w http.ResponseWriter, r *http.Request) (createTransactionRequest, error) {
	var req createTransactionRequest

	r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		var maxBytesErr *http.MaxBytesError
		if errors.As(err, &maxBytesErr) {
			return req, errors.New("request body too large")
		}
		return req, fmt.Errorf("invalid request body: %v", err)
	}
	return req, nil
}

// writeStoreError maps store errors onto HTTP status codes.
func writeStoreError(w http.ResponseWriter, logger *slog.Logger, msg string, err error) {
	switch {
	case errors.Is(err, txn.ErrInvalidTransaction):
		writeError(w, err.Error(), http.StatusBadRequest)
	case errors.Is(err, store.ErrNotFound):
		writeError(w, "transaction not found", http.StatusNotFound)
	case errors.Is(err, store.ErrNotReady):
		writeError(w, err.Error(), http.StatusServiceUnavailable)
	case errors.Is(err, store.ErrCacheUnavailable):
		logger.Error(msg, "error", err)
		writeError(w, "persistent cache unavailable", http.StatusServiceUnavailable)
	default:
		logger.Error(msg, "error", err)
		writeError(w, "internal server error", http.StatusInternalServerError)
	}
}

// parseID parses a transaction id path segment.
func parseID(raw string) (int64, error) {
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid transaction id %q: must be an integer", raw)
	}
	return id, nil
}

// writeJSON writes a JSON response.
func writeJSON(w http.ResponseWriter, data interface{}, statusCode int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	json.NewEncoder(w).Encode(data)
}

// writeError writes a JSON error response.
func writeError(w http.ResponseWriter, message string, statusCode int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	json.NewEncoder(w).Encode(map[string]string{
		"error": message,
	})
}
