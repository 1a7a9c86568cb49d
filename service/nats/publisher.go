package nats

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/brojonat/p2pdash/service/events"
	"github.com/brojonat/p2pdash/service/metrics"
	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
)

const (
	// StreamName is the name of the JetStream stream for transaction events.
	StreamName = "TRANSACTIONS"

	// StreamSubjects is the subject pattern for the stream.
	StreamSubjects = "txns.*"

	// StreamRetention is how long messages are retained (7 days by default).
	StreamRetention = 7 * 24 * time.Hour

	// DuplicateWindow bounds how long JetStream remembers event ids.
	DuplicateWindow = 2 * time.Minute
)

// Subject returns the subject an event of the given type is published to.
func Subject(typ events.Type) string {
	return fmt.Sprintf("txns.%s", typ)
}

// JetStreamPublisher publishes transaction events to NATS JetStream.
// It implements events.Notifier.
type JetStreamPublisher struct {
	nc      *nats.Conn
	js      jetstream.JetStream
	metrics *metrics.Metrics
	logger  *slog.Logger
}

// Connect dials NATS with the options shared by every component.
func Connect(natsURL, name string) (*nats.Conn, error) {
	nc, err := nats.Connect(natsURL,
		nats.Name(name),
		nats.Timeout(10*time.Second),
		nats.ReconnectWait(1*time.Second),
		nats.MaxReconnects(-1), // Unlimited reconnects
	)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to NATS: %w", err)
	}
	return nc, nil
}

// NewPublisher creates a new JetStream publisher.
// It connects to NATS and ensures the stream exists.
func NewPublisher(natsURL string, m *metrics.Metrics, logger *slog.Logger) (*JetStreamPublisher, error) {
	nc, err := Connect(natsURL, "p2pdash-publisher")
	if err != nil {
		return nil, err
	}

	js, err := jetstream.New(nc)
	if err != nil {
		nc.Close()
		return nil, fmt.Errorf("failed to create JetStream context: %w", err)
	}

	publisher := &JetStreamPublisher{
		nc:      nc,
		js:      js,
		metrics: m,
		logger:  logger,
	}

	if err := EnsureStream(context.Background(), js, logger); err != nil {
		nc.Close()
		return nil, fmt.Errorf("failed to ensure stream exists: %w", err)
	}

	logger.Info("NATS publisher initialized",
		"url", natsURL,
		"stream", StreamName,
	)

	return publisher, nil
}

// EnsureStream creates the JetStream stream if it doesn't exist.
func EnsureStream(ctx context.Context, js jetstream.JetStream, logger *slog.Logger) error {
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	stream, err := js.Stream(ctx, StreamName)
	if err == nil {
		info, err := stream.Info(ctx)
		if err == nil {
			logger.Debug("JetStream stream already exists",
				"stream", StreamName,
				"messages", info.State.Msgs,
			)
		}
		return nil
	}

	logger.Info("creating JetStream stream", "stream", StreamName)

	_, err = js.CreateStream(ctx, jetstream.StreamConfig{
		Name:        StreamName,
		Description: "Transaction store change events",
		Subjects:    []string{StreamSubjects},
		Retention:   jetstream.LimitsPolicy,
		MaxAge:      StreamRetention,
		Duplicates:  DuplicateWindow,
		Storage:     jetstream.FileStorage,
		Replicas:    1,
	})
	if err != nil {
		return fmt.Errorf("failed to create stream: %w", err)
	}

	logger.Info("JetStream stream created successfully", "stream", StreamName)
	return nil
}

// Notify publishes a single event. The event id doubles as the JetStream
// message id so retried publishes are deduplicated.
func (p *JetStreamPublisher) Notify(ctx context.Context, event *events.TransactionEvent) error {
	subject := Subject(event.Type)
	start := time.Now()

	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal transaction event: %w", err)
	}

	_, err = p.js.Publish(ctx, subject, data, jetstream.WithMsgID(event.ID))
	if err != nil {
		p.metrics.RecordNATSPublish(subject, "error", time.Since(start).Seconds())
		return fmt.Errorf("failed to publish transaction event: %w", err)
	}
	p.metrics.RecordNATSPublish(subject, "success", time.Since(start).Seconds())

	p.logger.Debug("published transaction event",
		"subject", subject,
		"event_id", event.ID,
		"transaction_id", event.Transaction.ID,
	)

	return nil
}

// JetStream exposes the JetStream context so consumers can share the connection.
func (p *JetStreamPublisher) JetStream() jetstream.JetStream {
	return p.js
}

// Close closes the connection to NATS.
func (p *JetStreamPublisher) Close() error {
	if p.nc != nil {
		p.nc.Close()
		p.logger.Info("NATS publisher closed")
	}
	return nil
}
