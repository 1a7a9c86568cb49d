// Package client is the HTTP client for the p2pdash transaction service.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/brojonat/p2pdash/service/txn"
)

// ErrNotFound is returned by Get when the server has no such transaction.
var ErrNotFound = errors.New("transaction not found")

// StatusBucket is one entry of the status distribution.
type StatusBucket struct {
	Status txn.Status `json:"status"`
	Count  int        `json:"count"`
}

// Stats is the status distribution across the full collection.
type Stats struct {
	Buckets []StatusBucket `json:"buckets"`
	Total   int            `json:"total"`
}

// StoreState reports the server's store lifecycle.
type StoreState struct {
	State string `json:"state"`
	Error string `json:"error,omitempty"`
	Count int    `json:"count"`
}

// Client is the HTTP client for the p2pdash transaction service.
type Client struct {
	baseURL    string
	httpClient *http.Client
	logger     *slog.Logger
}

// NewClient creates a new transaction service client.
func NewClient(baseURL string, httpClient *http.Client, logger *slog.Logger) *Client {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 30 * time.Second}
	}
	if logger == nil {
		logger = slog.New(slog.NewJSONHandler(io.Discard, nil))
	}
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: httpClient,
		logger:     logger,
	}
}

// List retrieves transactions narrowed by status filter and search query.
// An empty filter means all statuses.
func (c *Client) List(ctx context.Context, filter txn.Filter, query string) ([]txn.Transaction, error) {
	params := url.Values{}
	if filter != "" && filter != txn.FilterAll {
		params.Set("status", string(filter))
	}
	if query != "" {
		params.Set("q", query)
	}
	path := "/api/v1/transactions"
	if len(params) > 0 {
		path += "?" + params.Encode()
	}

	var response struct {
		Transactions []txn.Transaction `json:"transactions"`
		Count        int               `json:"count"`
	}
	if err := c.do(ctx, http.MethodGet, path, nil, http.StatusOK, &response); err != nil {
		return nil, err
	}

	c.logger.Debug("transactions listed", "status", filter, "q", query, "count", response.Count)
	return response.Transactions, nil
}

// Get retrieves a single transaction by id.
func (c *Client) Get(ctx context.Context, id int64) (*txn.Transaction, error) {
	var tx txn.Transaction
	err := c.do(ctx, http.MethodGet, "/api/v1/transactions/"+strconv.FormatInt(id, 10), nil, http.StatusOK, &tx)
	if err != nil {
		return nil, err
	}
	return &tx, nil
}

// Create submits a new transaction and returns it with its assigned id and timestamp.
func (c *Client) Create(ctx context.Context, draft txn.Draft) (*txn.Transaction, error) {
	body := map[string]interface{}{
		"sender":   draft.Sender,
		"receiver": draft.Receiver,
		"amount":   draft.Amount,
		"status":   draft.Status,
	}

	var tx txn.Transaction
	if err := c.do(ctx, http.MethodPost, "/api/v1/transactions", body, http.StatusCreated, &tx); err != nil {
		return nil, err
	}

	c.logger.Debug("transaction created", "id", tx.ID)
	return &tx, nil
}

// Delete removes a transaction. Deleting an unknown id succeeds.
func (c *Client) Delete(ctx context.Context, id int64) error {
	if err := c.do(ctx, http.MethodDelete, "/api/v1/transactions/"+strconv.FormatInt(id, 10), nil, http.StatusNoContent, nil); err != nil {
		return err
	}
	c.logger.Debug("transaction deleted", "id", id)
	return nil
}

// Stats retrieves the status distribution.
func (c *Client) Stats(ctx context.Context) (*Stats, error) {
	var stats Stats
	if err := c.do(ctx, http.MethodGet, "/api/v1/transactions/stats", nil, http.StatusOK, &stats); err != nil {
		return nil, err
	}
	return &stats, nil
}

// StoreState retrieves the store lifecycle state.
func (c *Client) StoreState(ctx context.Context) (*StoreState, error) {
	var state StoreState
	if err := c.do(ctx, http.MethodGet, "/api/v1/store", nil, http.StatusOK, &state); err != nil {
		return nil, err
	}
	return &state, nil
}

// Reload asks the server to re-run store initialization.
func (c *Client) Reload(ctx context.Context) (*StoreState, error) {
	return c.lifecycle(ctx, "/api/v1/store/reload")
}

// Reseed asks the server to discard its cache and refetch the seed.
func (c *Client) Reseed(ctx context.Context) (*StoreState, error) {
	return c.lifecycle(ctx, "/api/v1/store/reseed")
}

// lifecycle posts to a store endpoint. A failed load still returns the state
// the server reports, alongside an error.
func (c *Client) lifecycle(ctx context.Context, path string) (*StoreState, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	var state StoreState
	if err := json.NewDecoder(resp.Body).Decode(&state); err != nil {
		return nil, fmt.Errorf("failed to decode response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return &state, fmt.Errorf("store %s: %s", state.State, state.Error)
	}
	return &state, nil
}

// Health checks the server's health endpoint.
func (c *Client) Health(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/health", nil)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("server unhealthy (status %d)", resp.StatusCode)
	}
	return nil
}

// do sends a JSON request and decodes the response into out when non-nil.
func (c *Client) do(ctx context.Context, method, path string, in interface{}, wantStatus int, out interface{}) error {
	var body io.Reader
	if in != nil {
		data, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("failed to marshal request: %w", err)
		}
		body = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != wantStatus {
		return c.parseErrorResponse(resp)
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}

// parseErrorResponse attempts to parse an error response from the server.
func (c *Client) parseErrorResponse(resp *http.Response) error {
	if resp.StatusCode == http.StatusNotFound {
		return ErrNotFound
	}

	var errResp struct {
		Error string `json:"error"`
	}

	body, _ := io.ReadAll(resp.Body)
	if err := json.Unmarshal(body, &errResp); err != nil || errResp.Error == "" {
		return fmt.Errorf("request failed with status %d: %s", resp.StatusCode, string(body))
	}

	return fmt.Errorf("request failed: %s", errResp.Error)
}
