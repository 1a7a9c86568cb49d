package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"

	"github.com/brojonat/p2pdash/service/cache"
	"github.com/brojonat/p2pdash/service/config"
	"github.com/brojonat/p2pdash/service/seed"
	"github.com/brojonat/p2pdash/service/txn"
	"github.com/joho/godotenv"
	"github.com/urfave/cli/v2"
)

func cacheCommands() *cli.Command {
	return &cli.Command{
		Name:  "cache",
		Usage: "Inspect the persistent cache directly",
		Description: `These commands open the cache backend named by the server's environment
(CACHE_BACKEND, SQLITE_PATH, DATABASE_URL, NATS_URL, CACHE_KEY) without going
through the HTTP API. Changes take effect on the server's next reload.`,
		Subcommands: []*cli.Command{
			cacheDumpCommand(),
			cacheClearCommand(),
			cacheImportCommand(),
		},
	}
}

// errNoPersistentCache is returned when the configured backend lives only in
// the server's memory, out of reach of this process.
var errNoPersistentCache = errors.New("cache commands need a persistent backend (sqlite, postgres, nats); set CACHE_BACKEND")

// withCache opens the configured backend for the duration of fn. The
// environment is read the same way the server reads it, .env included.
func withCache(fn func(ctx context.Context, c cache.Cache, key string) error) error {
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		return err
	}
	if cfg.CacheBackend == config.CacheMemory || cfg.CacheBackend == "" {
		return errNoPersistentCache
	}
	ctx := context.Background()
	logger := slog.New(slog.NewJSONHandler(io.Discard, nil))

	c, err := cache.Open(ctx, cfg, nil, logger)
	if err != nil {
		return fmt.Errorf("failed to open cache: %w", err)
	}
	defer c.Close()

	return fn(ctx, c, cfg.CacheKey)
}

func cacheDumpCommand() *cli.Command {
	return &cli.Command{
		Name:  "dump",
		Usage: "Print the cached collection",
		Action: func(c *cli.Context) error {
			return withCache(func(ctx context.Context, cc cache.Cache, key string) error {
				data, err := cc.Get(ctx, key)
				if errors.Is(err, cache.ErrNotFound) {
					fmt.Fprintf(c.App.Writer, "No cached collection under key %q\n", key)
					return nil
				}
				if err != nil {
					return fmt.Errorf("failed to read cache: %w", err)
				}
				txns, err := txn.Decode(data)
				if err != nil {
					return fmt.Errorf("cached collection under key %q is corrupt: %w", key, err)
				}

				if c.Bool("json") {
					return printJSON(c.App.Writer, txns)
				}
				if len(txns) == 0 {
					fmt.Fprintln(c.App.Writer, "No transactions found.")
					return nil
				}
				printTransactionTable(c.App.Writer, txns)
				return nil
			})
		},
	}
}

func cacheClearCommand() *cli.Command {
	return &cli.Command{
		Name:  "clear",
		Usage: "Remove the cached collection so the next load seeds again",
		Flags: []cli.Flag{
			&cli.BoolFlag{
				Name:    "yes",
				Aliases: []string{"y"},
				Usage:   "Skip the confirmation prompt",
			},
		},
		Action: func(c *cli.Context) error {
			if !c.Bool("yes") {
				ok, err := confirm(c.App.Reader, c.App.Writer, "Clear the cached collection?")
				if err != nil {
					return err
				}
				if !ok {
					fmt.Fprintln(c.App.Writer, "Cancelled.")
					return nil
				}
			}
			return withCache(func(ctx context.Context, cc cache.Cache, key string) error {
				if err := cc.Delete(ctx, key); err != nil {
					return fmt.Errorf("failed to clear cache: %w", err)
				}
				fmt.Fprintf(c.App.Writer, "✓ Cleared key %q\n", key)
				return nil
			})
		},
	}
}

func cacheImportCommand() *cli.Command {
	return &cli.Command{
		Name:      "import",
		Usage:     "Replace the cached collection with the contents of a JSON file",
		ArgsUsage: "FILE",
		Action: func(c *cli.Context) error {
			if c.NArg() != 1 {
				return fmt.Errorf("file path is required")
			}
			path := c.Args().First()

			txns, err := seed.NewFile(path).Fetch(context.Background())
			if err != nil {
				return err
			}
			data, err := txn.Encode(txns)
			if err != nil {
				return fmt.Errorf("failed to encode collection: %w", err)
			}

			return withCache(func(ctx context.Context, cc cache.Cache, key string) error {
				if err := cc.Set(ctx, key, data); err != nil {
					return fmt.Errorf("failed to write cache: %w", err)
				}
				fmt.Fprintf(c.App.Writer, "✓ Imported %d transaction(s) under key %q\n", len(txns), key)
				return nil
			})
		},
	}
}
