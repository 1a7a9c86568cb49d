package main

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/brojonat/p2pdash/service/events"
	natspkg "github.com/brojonat/p2pdash/service/nats"
	"github.com/nats-io/nats.go/jetstream"
	"github.com/urfave/cli/v2"
)

func eventsCommands() *cli.Command {
	return &cli.Command{
		Name:  "events",
		Usage: "Follow transaction change events",
		Subcommands: []*cli.Command{
			eventsSubscribeCommand(),
			eventsStreamCommand(),
		},
	}
}

var typeFlag = &cli.StringFlag{
	Name:  "type",
	Usage: "Only show events of this type: created, deleted or reset",
}

func parseEventType(s string) (events.Type, error) {
	switch t := events.Type(s); t {
	case "", events.TypeCreated, events.TypeDeleted, events.TypeReset:
		return t, nil
	}
	return "", fmt.Errorf("invalid event type %q: must be created, deleted or reset", s)
}

func eventsSubscribeCommand() *cli.Command {
	return &cli.Command{
		Name:  "subscribe",
		Usage: "Subscribe to events on NATS JetStream",
		Description: `Connect to NATS and stream transaction events published by the server.
Events are published to the subject txns.{type}.

Example:
  p2pdash events subscribe --type created --json`,
		Flags: []cli.Flag{
			typeFlag,
			&cli.BoolFlag{
				Name:    "durable",
				Aliases: []string{"d"},
				Usage:   "Create a durable consumer (survives restarts)",
			},
			&cli.StringFlag{
				Name:  "consumer-name",
				Usage: "Consumer name (required for durable)",
				Value: "p2pdash-cli",
			},
		},
		Action: func(c *cli.Context) error {
			typ, err := parseEventType(c.String("type"))
			if err != nil {
				return err
			}
			return subscribeEvents(c.App.Writer, c.String("nats-url"), typ, c.Bool("durable"), c.String("consumer-name"), c.Bool("json"))
		},
	}
}

// subscribeEvents streams events from JetStream until interrupted.
func subscribeEvents(w io.Writer, natsURL string, typ events.Type, durable bool, consumerName string, jsonOutput bool) error {
	nc, err := natspkg.Connect(natsURL, "p2pdash-cli")
	if err != nil {
		return err
	}
	defer nc.Close()

	js, err := jetstream.New(nc)
	if err != nil {
		return fmt.Errorf("failed to create JetStream context: %w", err)
	}

	subject := natspkg.StreamSubjects
	if typ != "" {
		subject = natspkg.Subject(typ)
	}

	if !jsonOutput {
		fmt.Fprintf(os.Stderr, "📡 Subscribing to: %s\n", subject)
		fmt.Fprintf(os.Stderr, "   NATS: %s\n", natsURL)
		if durable {
			fmt.Fprintf(os.Stderr, "   Consumer: %s (durable)\n", consumerName)
		}
		fmt.Fprintf(os.Stderr, "\nWaiting for events... (Ctrl-C to exit)\n\n")
	}

	consumerConfig := jetstream.ConsumerConfig{
		FilterSubject: subject,
		AckPolicy:     jetstream.AckExplicitPolicy,
		DeliverPolicy: jetstream.DeliverNewPolicy,
	}
	if durable {
		consumerConfig.Durable = consumerName
		consumerConfig.Name = consumerName
	}

	cons, err := js.CreateOrUpdateConsumer(context.Background(), natspkg.StreamName, consumerConfig)
	if err != nil {
		return fmt.Errorf("failed to create consumer: %w", err)
	}

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	msgChan := make(chan jetstream.Msg, 10)
	consumeCtx, err := cons.Consume(func(msg jetstream.Msg) {
		msgChan <- msg
	})
	if err != nil {
		return fmt.Errorf("failed to start consuming: %w", err)
	}
	defer consumeCtx.Stop()

	count := 0
	for {
		select {
		case msg := <-msgChan:
			var event events.TransactionEvent
			if err := json.Unmarshal(msg.Data(), &event); err != nil {
				fmt.Fprintf(os.Stderr, "Error parsing event: %v\n", err)
				msg.Ack()
				continue
			}
			count++
			if err := printEvent(w, &event, jsonOutput); err != nil {
				return err
			}
			msg.Ack()

		case <-sigChan:
			if !jsonOutput {
				fmt.Fprintf(os.Stderr, "\n👋 Received %d event(s)\n", count)
			}
			return nil
		}
	}
}

func eventsStreamCommand() *cli.Command {
	return &cli.Command{
		Name:  "stream",
		Usage: "Stream events from the server over Server-Sent Events",
		Flags: []cli.Flag{typeFlag},
		Action: func(c *cli.Context) error {
			typ, err := parseEventType(c.String("type"))
			if err != nil {
				return err
			}

			ctx, cancel := context.WithCancel(c.Context)
			defer cancel()

			sigChan := make(chan os.Signal, 1)
			signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
			defer signal.Stop(sigChan)
			go func() {
				select {
				case <-sigChan:
					cancel()
				case <-ctx.Done():
				}
			}()

			return streamEvents(ctx, c.App.Writer, c.String("server-url"), typ, c.Bool("json"))
		},
	}
}

// streamEvents reads the server's SSE endpoint until the stream ends or ctx is cancelled.
func streamEvents(ctx context.Context, w io.Writer, serverURL string, typ events.Type, jsonOutput bool) error {
	endpoint := strings.TrimRight(serverURL, "/") + "/api/v1/stream/transactions"
	if typ != "" {
		endpoint += "?" + url.Values{"type": {string(typ)}}.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Accept", "text/event-stream")

	// No timeout for streaming
	resp, err := (&http.Client{Timeout: 0}).Do(req)
	if err != nil {
		return fmt.Errorf("failed to connect to SSE endpoint: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("server returned status %d", resp.StatusCode)
	}

	scanner := bufio.NewScanner(resp.Body)
	var currentEvent, currentData string
	for scanner.Scan() {
		line := scanner.Text()

		// Empty line ends an event
		if line == "" {
			if err := handleSSEFrame(w, currentEvent, currentData, jsonOutput); err != nil {
				return err
			}
			currentEvent, currentData = "", ""
			continue
		}

		switch {
		case strings.HasPrefix(line, "event:"):
			currentEvent = strings.TrimSpace(strings.TrimPrefix(line, "event:"))
		case strings.HasPrefix(line, "data:"):
			currentData = strings.TrimSpace(strings.TrimPrefix(line, "data:"))
		}
	}

	if err := scanner.Err(); err != nil && ctx.Err() == nil {
		return fmt.Errorf("error reading stream: %w", err)
	}
	return nil
}

func handleSSEFrame(w io.Writer, name, data string, jsonOutput bool) error {
	switch name {
	case "":
		return nil
	case "connected":
		if !jsonOutput {
			fmt.Fprintf(os.Stderr, "Connected to SSE stream. Streaming events... (Ctrl+C to stop)\n\n")
		}
		return nil
	case "error":
		return fmt.Errorf("server reported stream error: %s", data)
	}

	var event events.TransactionEvent
	if err := json.Unmarshal([]byte(data), &event); err != nil {
		fmt.Fprintf(os.Stderr, "Error parsing event: %v\n", err)
		return nil
	}
	return printEvent(w, &event, jsonOutput)
}

func printEvent(w io.Writer, event *events.TransactionEvent, jsonOutput bool) error {
	if jsonOutput {
		data, err := json.Marshal(event)
		if err != nil {
			return fmt.Errorf("failed to marshal event: %w", err)
		}
		fmt.Fprintln(w, string(data))
		return nil
	}

	switch event.Type {
	case events.TypeReset:
		fmt.Fprintf(w, "🔄 Collection reset: %d transaction(s)\n", event.Count)
	case events.TypeCreated:
		fmt.Fprintf(w, "➕ Created #%d: %s → %s %s (%s)\n",
			event.Transaction.ID, event.Transaction.Sender, event.Transaction.Receiver,
			event.Transaction.Amount.StringFixed(2), event.Transaction.Status)
	case events.TypeDeleted:
		fmt.Fprintf(w, "➖ Deleted #%d: %s → %s %s\n",
			event.Transaction.ID, event.Transaction.Sender, event.Transaction.Receiver,
			event.Transaction.Amount.StringFixed(2))
	default:
		fmt.Fprintf(w, "%s event\n", event.Type)
	}
	fmt.Fprintf(w, "   Published: %s\n\n", event.PublishedAt.Format(time.RFC3339))
	return nil
}
