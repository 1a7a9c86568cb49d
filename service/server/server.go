package server

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/brojonat/p2pdash/service/metrics"
	"github.com/brojonat/p2pdash/service/store"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Server represents the HTTP server for the transaction dashboard.
type Server struct {
	addr         string
	store        *store.Store
	ssePublisher *SSEPublisher
	hub          *Hub
	renderer     *TemplateRenderer
	metrics      *metrics.Metrics
	logger       *slog.Logger
	server       *http.Server
}

// New creates a new HTTP server with the given dependencies.
// The ssePublisher is optional - if nil, the SSE endpoint won't be available.
// The hub is optional - if nil, the websocket endpoint won't be available.
// The metrics is optional - if nil, the metrics endpoint won't be available.
func New(addr string, st *store.Store, ssePublisher *SSEPublisher, hub *Hub, m *metrics.Metrics, logger *slog.Logger) *Server {
	return &Server{
		addr:         addr,
		store:        st,
		ssePublisher: ssePublisher,
		hub:          hub,
		metrics:      m,
		logger:       logger,
	}
}

// WithTemplates adds template rendering support to the server using embedded files
func (s *Server) WithTemplates() error {
	renderer, err := NewTemplateRenderer(s.logger)
	if err != nil {
		return fmt.Errorf("failed to initialize templates: %w", err)
	}
	s.renderer = renderer
	s.logger.Info("HTML templates loaded from embedded files")
	return nil
}

// Handler builds the routed handler tree.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	route := func(pattern, name string, h http.Handler) {
		mux.Handle(pattern, metrics.HTTPMetricsMiddleware(s.metrics, name)(h))
	}

	// Transaction routes
	route("GET /api/v1/transactions", "/api/v1/transactions", handleListTransactions(s.store, s.logger))
	route("POST /api/v1/transactions", "/api/v1/transactions", handleCreateTransaction(s.store, s.logger))
	route("GET /api/v1/transactions/stats", "/api/v1/transactions/stats", handleTransactionStats(s.store, s.logger))
	route("GET /api/v1/transactions/{id}", "/api/v1/transactions/{id}", handleGetTransaction(s.store, s.logger))
	route("DELETE /api/v1/transactions/{id}", "/api/v1/transactions/{id}", handleDeleteTransaction(s.store, s.logger))

	// Store lifecycle routes
	route("GET /api/v1/store", "/api/v1/store", handleStoreState(s.store))
	route("POST /api/v1/store/reload", "/api/v1/store/reload", handleReloadStore(s.store, s.logger))
	route("POST /api/v1/store/reseed", "/api/v1/store/reseed", handleReseedStore(s.store, s.logger))

	// SSE streaming endpoint (if SSE publisher is configured)
	if s.ssePublisher != nil {
		route("GET /api/v1/stream/transactions", "/api/v1/stream/transactions", handleStreamTransactions(s.ssePublisher, s.logger))
		s.logger.Info("SSE streaming endpoint enabled")
	} else {
		s.logger.Warn("SSE publisher not configured, streaming endpoint disabled")
	}

	if s.hub != nil {
		route("GET /ws", "/ws", handleWebSocket(s.hub, s.store, s.logger))
		s.logger.Info("websocket endpoint enabled")
	}

	// HTML pages (if template renderer is configured)
	if s.renderer != nil {
		route("GET /{$}", "/", handleIndexPage(s.renderer, s.store))
		route("GET /dashboard", "/dashboard", handleDashboardPage(s.renderer, s.store))
		route("POST /dashboard/transactions", "/dashboard/transactions", handleDashboardCreate(s.renderer, s.store, s.logger))
		route("POST /dashboard/transactions/{id}/delete", "/dashboard/transactions/{id}/delete", handleDashboardDelete(s.store, s.logger))
		route("POST /dashboard/reload", "/dashboard/reload", handleDashboardReload(s.store, s.logger))
		route("GET /transaction/{id}", "/transaction/{id}", handleTransactionPage(s.renderer, s.store))
		mux.HandleFunc("GET /favicon.ico", handleFavicon())
		mux.HandleFunc("GET /favicon.svg", handleFavicon())
		s.logger.Info("HTML page endpoints enabled")
	}

	// Health check endpoint
	mux.HandleFunc("GET /health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("OK"))
	})

	// Prometheus metrics endpoint (if metrics collector is configured)
	if s.metrics != nil {
		mux.Handle("GET /metrics", promhttp.Handler())
		s.logger.Info("Prometheus metrics endpoint enabled")
	}

	// Wrap mux with CORS middleware
	return corsMiddleware(mux)
}

// Start starts the HTTP server.
func (s *Server) Start() error {
	s.server = &http.Server{
		Addr:        s.addr,
		Handler:     s.Handler(),
		ReadTimeout: 15 * time.Second,
		// Streaming endpoints hold the connection open; they manage their own deadlines.
		WriteTimeout: 0,
		IdleTimeout:  60 * time.Second,
	}

	s.logger.Info("starting HTTP server", "addr", s.addr)
	if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("server failed: %w", err)
	}

	return nil
}

// Shutdown gracefully shuts down the HTTP server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("shutting down HTTP server")

	// Close streams first (disconnects all clients)
	if s.ssePublisher != nil {
		s.ssePublisher.Close()
	}
	if s.hub != nil {
		s.hub.Close()
	}

	if s.server != nil {
		return s.server.Shutdown(ctx)
	}
	return nil
}

// corsMiddleware adds CORS headers to all responses and handles OPTIONS preflight requests.
func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, DELETE, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
		w.Header().Set("Access-Control-Max-Age", "3600")

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}

		next.ServeHTTP(w, r)
	})
}
