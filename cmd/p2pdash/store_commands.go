package main

import (
	"context"
	"fmt"
	"io"

	"github.com/brojonat/p2pdash/client"
	"github.com/urfave/cli/v2"
)

func storeCommands() *cli.Command {
	return &cli.Command{
		Name:  "store",
		Usage: "Inspect and drive the server's store lifecycle",
		Subcommands: []*cli.Command{
			{
				Name:  "state",
				Usage: "Show whether the store is loading, ready or failed",
				Action: func(c *cli.Context) error {
					cl, err := newClient(c)
					if err != nil {
						return err
					}
					state, err := cl.StoreState(context.Background())
					if err != nil {
						return fmt.Errorf("failed to get store state: %w", err)
					}
					return printStoreState(c, state)
				},
			},
			{
				Name:  "reload",
				Usage: "Re-run initialization, reading through the cache",
				Action: func(c *cli.Context) error {
					return runLifecycle(c, (*client.Client).Reload)
				},
			},
			{
				Name:  "reseed",
				Usage: "Discard the cached collection and fetch the seed again",
				Action: func(c *cli.Context) error {
					return runLifecycle(c, (*client.Client).Reseed)
				},
			},
		},
	}
}

func runLifecycle(c *cli.Context, op func(*client.Client, context.Context) (*client.StoreState, error)) error {
	cl, err := newClient(c)
	if err != nil {
		return err
	}
	state, err := op(cl, context.Background())
	if state != nil {
		if perr := printStoreState(c, state); perr != nil {
			return perr
		}
	}
	if err != nil {
		return fmt.Errorf("store %s failed: %w", c.Command.Name, err)
	}
	return nil
}

func printStoreState(c *cli.Context, state *client.StoreState) error {
	if c.Bool("json") {
		return printJSON(c.App.Writer, state)
	}
	writeStoreState(c.App.Writer, state)
	return nil
}

func writeStoreState(w io.Writer, state *client.StoreState) {
	marker := "✓"
	if state.State != "ready" {
		marker = "✗"
	}
	fmt.Fprintf(w, "%s Store is %s\n", marker, state.State)
	fmt.Fprintf(w, "  Transactions: %d\n", state.Count)
	if state.Error != "" {
		fmt.Fprintf(w, "  Error: %s\n", state.Error)
	}
}
