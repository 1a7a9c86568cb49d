package server

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/brojonat/p2pdash/service/events"
	"github.com/brojonat/p2pdash/service/metrics"
	natspkg "github.com/brojonat/p2pdash/service/nats"
	"github.com/nats-io/nats.go/jetstream"
)

const sseKeepaliveInterval = 10 * time.Second

// SSEPublisher manages Server-Sent Events connections for transaction streaming.
// Each connection reads from its own ephemeral JetStream consumer.
type SSEPublisher struct {
	js      jetstream.JetStream
	metrics *metrics.Metrics
	logger  *slog.Logger
	done    chan struct{}
}

// NewSSEPublisher creates a new SSE publisher on top of an existing JetStream context.
func NewSSEPublisher(js jetstream.JetStream, m *metrics.Metrics, logger *slog.Logger) *SSEPublisher {
	logger.Info("SSE publisher initialized")
	return &SSEPublisher{
		js:      js,
		metrics: m,
		logger:  logger,
		done:    make(chan struct{}),
	}
}

// Close disconnects all streaming clients.
func (p *SSEPublisher) Close() error {
	select {
	case <-p.done:
	default:
		close(p.done)
		p.logger.Info("SSE publisher closed")
	}
	return nil
}

// handleStreamTransactions handles SSE streaming for transaction events.
// An optional ?type=created|deleted|reset narrows the stream to one event type.
// GET /api/v1/stream/transactions
func handleStreamTransactions(publisher *SSEPublisher, logger *slog.Logger) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		subject := natspkg.StreamSubjects
		if typ := r.URL.Query().Get("type"); typ != "" {
			switch events.Type(typ) {
			case events.TypeCreated, events.TypeDeleted, events.TypeReset:
				subject = natspkg.Subject(events.Type(typ))
			default:
				writeError(w, fmt.Sprintf("invalid event type %q: must be one of created, deleted, reset", typ), http.StatusBadRequest)
				return
			}
		}

		// Set SSE headers
		w.Header().Set("Content-Type", "text/event-stream")
		w.Header().Set("Cache-Control", "no-cache")
		w.Header().Set("Connection", "keep-alive")

		flusher, _ := w.(http.Flusher)
		flush := func() {
			if flusher != nil {
				flusher.Flush()
			}
		}
		flush()

		logger.DebugContext(r.Context(), "SSE client connected",
			"subject", subject,
			"remote_addr", r.RemoteAddr,
		)

		cons, err := publisher.js.CreateOrUpdateConsumer(r.Context(), natspkg.StreamName, jetstream.ConsumerConfig{
			FilterSubject:     subject,
			AckPolicy:         jetstream.AckExplicitPolicy,
			DeliverPolicy:     jetstream.DeliverNewPolicy, // Only deliver new messages after consumer creation
			InactiveThreshold: time.Minute,
		})
		if err != nil {
			logger.ErrorContext(r.Context(), "failed to create consumer",
				"subject", subject,
				"error", err,
			)
			fmt.Fprintf(w, "event: error\ndata: {\"error\": \"failed to subscribe\"}\n\n")
			return
		}

		publisher.metrics.RecordSSEConnectionChange(1)
		defer publisher.metrics.RecordSSEConnectionChange(-1)

		msgChan := make(chan jetstream.Msg, 10)
		doneChan := make(chan struct{})

		go func() {
			defer close(doneChan)
			cc, err := cons.Consume(func(msg jetstream.Msg) {
				select {
				case msgChan <- msg:
				case <-r.Context().Done():
				}
			})
			if err != nil {
				logger.ErrorContext(r.Context(), "failed to start consuming messages",
					"error", err,
				)
				return
			}
			select {
			case <-r.Context().Done():
			case <-publisher.done:
			}
			cc.Stop()
		}()

		fmt.Fprintf(w, "event: connected\ndata: {\"subject\":%q}\n\n", subject)
		flush()

		keepalive := time.NewTicker(sseKeepaliveInterval)
		defer keepalive.Stop()

		for {
			select {
			case <-keepalive.C:
				fmt.Fprintf(w, ": keepalive\n\n")
				flush()

			case msg := <-msgChan:
				var event events.TransactionEvent
				if err := json.Unmarshal(msg.Data(), &event); err != nil {
					logger.WarnContext(r.Context(), "failed to unmarshal event",
						"error", err,
					)
					msg.Ack()
					continue
				}

				fmt.Fprintf(w, "event: %s\ndata: %s\n\n", event.Type, msg.Data())
				flush()
				msg.Ack()
				publisher.metrics.RecordSSEEventSent(string(event.Type))

				logger.DebugContext(r.Context(), "sent transaction event",
					"event_id", event.ID,
					"type", event.Type,
				)

			case <-r.Context().Done():
				logger.DebugContext(r.Context(), "SSE client disconnected",
					"remote_addr", r.RemoteAddr,
				)
				return

			case <-publisher.done:
				return

			case <-doneChan:
				return
			}
		}
	})
}
