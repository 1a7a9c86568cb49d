package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/brojonat/p2pdash/service/cache"
	"github.com/brojonat/p2pdash/service/config"
	"github.com/brojonat/p2pdash/service/events"
	"github.com/brojonat/p2pdash/service/metrics"
	natspkg "github.com/brojonat/p2pdash/service/nats"
	"github.com/brojonat/p2pdash/service/seed"
	"github.com/brojonat/p2pdash/service/server"
	"github.com/brojonat/p2pdash/service/store"
	"github.com/joho/godotenv"
)

func main() {
	// A local .env is optional; real environment variables take precedence.
	_ = godotenv.Load()

	// Load and validate configuration from environment
	// This fails fast if any required config is missing or invalid
	cfg := config.MustLoad()

	logger := setupLogger(cfg.LogLevel)
	logger.Info("starting server",
		"addr", cfg.ServerAddr,
		"log_level", cfg.LogLevel,
		"cache_backend", cfg.CacheBackend,
		"seed_source", cfg.SeedSource,
	)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	m := metrics.NewMetrics(nil)

	c, err := cache.Open(ctx, cfg, m, logger)
	if err != nil {
		logger.Error("failed to open persistent cache", "backend", cfg.CacheBackend, "error", err)
		os.Exit(1)
	}
	defer c.Close()

	src, err := seed.FromConfig(cfg)
	if err != nil {
		logger.Error("failed to configure seed source", "error", err)
		os.Exit(1)
	}

	hub := server.NewHub(m, logger)
	hub.Start()

	notifiers := events.Multi{hub}

	// NATS is optional: without it there is no durable event stream and no SSE endpoint.
	var ssePublisher *server.SSEPublisher
	if cfg.NATSURL != "" {
		publisher, err := natspkg.NewPublisher(cfg.NATSURL, m, logger)
		if err != nil {
			logger.Error("failed to connect NATS publisher", "error", err)
			os.Exit(1)
		}
		defer publisher.Close()

		notifiers = append(notifiers, publisher)
		ssePublisher = server.NewSSEPublisher(publisher.JetStream(), m, logger)
	} else {
		logger.Warn("NATS_URL not set, event stream disabled")
	}

	st := store.New(c, src, notifiers, m, logger,
		store.WithKey(cfg.CacheKey),
		store.WithSeedTimeout(cfg.SeedTimeout),
	)

	// A failed load is not fatal: the dashboard shows the empty state with a retry.
	if err := st.Initialize(ctx); err != nil {
		logger.Warn("transaction store not ready, serving empty state", "error", err)
	}

	httpServer := server.New(cfg.ServerAddr, st, ssePublisher, hub, m, logger)
	if err := httpServer.WithTemplates(); err != nil {
		logger.Error("failed to load templates", "error", err)
		os.Exit(1)
	}

	serverErrors := make(chan error, 1)
	go func() {
		serverErrors <- httpServer.Start()
	}()

	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, os.Interrupt, syscall.SIGTERM)

	select {
	case err := <-serverErrors:
		logger.Error("server error", "error", err)
		os.Exit(1)
	case sig := <-shutdown:
		logger.Info("shutdown signal received", "signal", sig.String())

		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer shutdownCancel()

		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			logger.Error("failed to shutdown server gracefully", "error", err)
			os.Exit(1)
		}

		logger.Info("server shutdown complete")
	}
}

// setupLogger creates a structured logger with the given log level.
func setupLogger(levelStr string) *slog.Logger {
	var level slog.Level
	switch levelStr {
	case "debug":
		level = slog.LevelDebug
	case "info":
		level = slog.LevelInfo
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{
		Level: level,
	}

	return slog.New(slog.NewJSONHandler(os.Stderr, opts))
}
