package main

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
	"text/tabwriter"

	"github.com/brojonat/p2pdash/client"
	"github.com/brojonat/p2pdash/service/txn"
	"github.com/itchyny/gojq"
	"github.com/shopspring/decimal"
	"github.com/urfave/cli/v2"
)

func txCommands() *cli.Command {
	return &cli.Command{
		Name:    "tx",
		Aliases: []string{"transactions"},
		Usage:   "Manage transactions",
		Subcommands: []*cli.Command{
			txListCommand(),
			txGetCommand(),
			txCreateCommand(),
			txDeleteCommand(),
			txStatsCommand(),
		},
	}
}

func newClient(c *cli.Context) (*client.Client, error) {
	serverURL := c.String("server-url")
	if serverURL == "" {
		return nil, fmt.Errorf("server-url is required (set SERVER_URL env var or use --server-url)")
	}
	return client.NewClient(serverURL, nil, nil), nil
}

func txListCommand() *cli.Command {
	return &cli.Command{
		Name:  "list",
		Usage: "List transactions",
		Description: `List transactions, optionally narrowed by status and a search query.

The search matches sender, receiver or amount text, case-insensitively. Each --jq filter
is evaluated against the transaction's JSON form and must be truthy.

Example:
  p2pdash tx list --status Pending --search alice
  p2pdash tx list --jq '.amount > 100'`,
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:  "status",
				Usage: "Status filter: All, Pending, Completed or Failed",
				Value: string(txn.FilterAll),
			},
			&cli.StringFlag{
				Name:    "search",
				Aliases: []string{"q"},
				Usage:   "Case-insensitive search over sender, receiver and amount",
			},
			&cli.StringSliceFlag{
				Name:  "jq",
				Usage: "jq filter expression that must evaluate to true (can be specified multiple times)",
			},
		},
		Action: func(c *cli.Context) error {
			filter, err := txn.ParseFilter(c.String("status"))
			if err != nil {
				return err
			}
			codes, err := compileJQ(c.StringSlice("jq"))
			if err != nil {
				return err
			}
			cl, err := newClient(c)
			if err != nil {
				return err
			}

			txns, err := cl.List(context.Background(), filter, c.String("search"))
			if err != nil {
				return fmt.Errorf("failed to list transactions: %w", err)
			}
			txns, err = applyJQ(codes, txns)
			if err != nil {
				return err
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
		},
	}
}

func txGetCommand() *cli.Command {
	return &cli.Command{
		Name:      "get",
		Usage:     "Show a single transaction",
		ArgsUsage: "ID",
		Action: func(c *cli.Context) error {
			id, err := parseIDArg(c)
			if err != nil {
				return err
			}
			cl, err := newClient(c)
			if err != nil {
				return err
			}

			tx, err := cl.Get(context.Background(), id)
			if errors.Is(err, client.ErrNotFound) {
				return fmt.Errorf("transaction %d not found", id)
			}
			if err != nil {
				return fmt.Errorf("failed to get transaction: %w", err)
			}

			if c.Bool("json") {
				return printJSON(c.App.Writer, tx)
			}
			printTransaction(c.App.Writer, *tx)
			return nil
		},
	}
}

func txCreateCommand() *cli.Command {
	return &cli.Command{
		Name:  "create",
		Usage: "Create a transaction",
		Description: `Create a transaction. The server assigns the id and timestamp.

Example:
  p2pdash tx create --sender alice --receiver bob --amount 12.50 --status Pending`,
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "sender", Usage: "Sender name", Required: true},
			&cli.StringFlag{Name: "receiver", Usage: "Receiver name", Required: true},
			&cli.StringFlag{Name: "amount", Usage: "Non-negative decimal amount", Required: true},
			&cli.StringFlag{
				Name:  "status",
				Usage: "Pending, Completed or Failed",
				Value: string(txn.StatusPending),
			},
		},
		Action: func(c *cli.Context) error {
			amount, err := decimal.NewFromString(c.String("amount"))
			if err != nil {
				return fmt.Errorf("invalid amount %q: %w", c.String("amount"), err)
			}
			draft := txn.Draft{
				Sender:   c.String("sender"),
				Receiver: c.String("receiver"),
				Amount:   amount,
				Status:   txn.Status(c.String("status")),
			}
			if err := draft.Validate(); err != nil {
				return err
			}
			cl, err := newClient(c)
			if err != nil {
				return err
			}

			tx, err := cl.Create(context.Background(), draft)
			if err != nil {
				return fmt.Errorf("failed to create transaction: %w", err)
			}

			if c.Bool("json") {
				return printJSON(c.App.Writer, tx)
			}
			fmt.Fprintf(c.App.Writer, "✓ Transaction created\n")
			printTransaction(c.App.Writer, *tx)
			return nil
		},
	}
}

func txDeleteCommand() *cli.Command {
	return &cli.Command{
		Name:      "delete",
		Aliases:   []string{"rm"},
		Usage:     "Delete a transaction",
		ArgsUsage: "ID",
		Flags: []cli.Flag{
			&cli.BoolFlag{
				Name:    "yes",
				Aliases: []string{"y"},
				Usage:   "Skip the confirmation prompt",
			},
		},
		Action: func(c *cli.Context) error {
			id, err := parseIDArg(c)
			if err != nil {
				return err
			}
			if !c.Bool("yes") {
				ok, err := confirm(c.App.Reader, c.App.Writer, "Are you sure you want to delete this transaction?")
				if err != nil {
					return err
				}
				if !ok {
					fmt.Fprintln(c.App.Writer, "Cancelled.")
					return nil
				}
			}
			cl, err := newClient(c)
			if err != nil {
				return err
			}

			if err := cl.Delete(context.Background(), id); err != nil {
				return fmt.Errorf("failed to delete transaction: %w", err)
			}

			if c.Bool("json") {
				return printJSON(c.App.Writer, map[string]interface{}{"id": id, "deleted": true})
			}
			fmt.Fprintf(c.App.Writer, "✓ Transaction %d deleted\n", id)
			return nil
		},
	}
}

func txStatsCommand() *cli.Command {
	return &cli.Command{
		Name:  "stats",
		Usage: "Show the transaction count per status",
		Action: func(c *cli.Context) error {
			cl, err := newClient(c)
			if err != nil {
				return err
			}
			stats, err := cl.Stats(context.Background())
			if err != nil {
				return fmt.Errorf("failed to get stats: %w", err)
			}

			if c.Bool("json") {
				return printJSON(c.App.Writer, stats)
			}
			w := tabwriter.NewWriter(c.App.Writer, 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, "STATUS\tCOUNT")
			for _, b := range stats.Buckets {
				fmt.Fprintf(w, "%s\t%d\n", b.Status, b.Count)
			}
			fmt.Fprintf(w, "Total\t%d\n", stats.Total)
			return w.Flush()
		},
	}
}

func parseIDArg(c *cli.Context) (int64, error) {
	if c.NArg() != 1 {
		return 0, fmt.Errorf("transaction id is required")
	}
	id, err := strconv.ParseInt(c.Args().First(), 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid transaction id %q", c.Args().First())
	}
	return id, nil
}

func confirm(r io.Reader, w io.Writer, prompt string) (bool, error) {
	fmt.Fprintf(w, "%s [y/N]: ", prompt)
	line, err := bufio.NewReader(r).ReadString('\n')
	if err != nil && err != io.EOF {
		return false, fmt.Errorf("failed to read confirmation: %w", err)
	}
	switch strings.ToLower(strings.TrimSpace(line)) {
	case "y", "yes":
		return true, nil
	}
	return false, nil
}

func compileJQ(filters []string) ([]*gojq.Code, error) {
	codes := make([]*gojq.Code, len(filters))
	for i, filter := range filters {
		query, err := gojq.Parse(filter)
		if err != nil {
			return nil, fmt.Errorf("failed to parse jq filter %q: %w", filter, err)
		}
		codes[i], err = gojq.Compile(query)
		if err != nil {
			return nil, fmt.Errorf("failed to compile jq filter %q: %w", filter, err)
		}
	}
	return codes, nil
}

// applyJQ keeps the transactions for which every filter yields a truthy first result.
func applyJQ(codes []*gojq.Code, txns []txn.Transaction) ([]txn.Transaction, error) {
	if len(codes) == 0 {
		return txns, nil
	}
	kept := make([]txn.Transaction, 0, len(txns))
	for _, tx := range txns {
		// gojq needs plain maps, slices and float64s
		raw, err := json.Marshal(tx)
		if err != nil {
			return nil, fmt.Errorf("failed to encode transaction %d: %w", tx.ID, err)
		}
		var doc interface{}
		if err := json.Unmarshal(raw, &doc); err != nil {
			return nil, fmt.Errorf("failed to decode transaction %d: %w", tx.ID, err)
		}

		match := true
		for _, code := range codes {
			v, ok := code.Run(doc).Next()
			if !ok {
				match = false
				break
			}
			if err, isErr := v.(error); isErr {
				return nil, fmt.Errorf("jq filter failed on transaction %d: %w", tx.ID, err)
			}
			if !isTruthy(v) {
				match = false
				break
			}
		}
		if match {
			kept = append(kept, tx)
		}
	}
	return kept, nil
}

// isTruthy checks if a jq result value is truthy.
// In jq, false and null are falsy, everything else is truthy.
func isTruthy(v interface{}) bool {
	if v == nil {
		return false
	}
	if b, ok := v.(bool); ok {
		return b
	}
	return true
}

func printJSON(w io.Writer, v interface{}) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal JSON: %w", err)
	}
	fmt.Fprintln(w, string(data))
	return nil
}

func printTransactionTable(w io.Writer, txns []txn.Transaction) {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tSENDER\tRECEIVER\tAMOUNT\tSTATUS\tTIMESTAMP")
	for _, tx := range txns {
		fmt.Fprintf(tw, "%d\t%s\t%s\t%s\t%s\t%s\n",
			tx.ID, tx.Sender, tx.Receiver, tx.Amount.StringFixed(2), tx.Status, tx.Timestamp)
	}
	tw.Flush()
	fmt.Fprintf(w, "\n%d transaction(s)\n", len(txns))
}

func printTransaction(w io.Writer, tx txn.Transaction) {
	fmt.Fprintf(w, "  ID:        %d\n", tx.ID)
	fmt.Fprintf(w, "  Sender:    %s\n", tx.Sender)
	fmt.Fprintf(w, "  Receiver:  %s\n", tx.Receiver)
	fmt.Fprintf(w, "  Amount:    %s\n", tx.Amount.StringFixed(2))
	fmt.Fprintf(w, "  Status:    %s\n", tx.Status)
	fmt.Fprintf(w, "  Timestamp: %s\n", tx.Timestamp)
}
