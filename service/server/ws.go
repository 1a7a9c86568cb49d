package server

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"slices"
	"sync"
	"time"

	"github.com/brojonat/p2pdash/service/events"
	"github.com/brojonat/p2pdash/service/metrics"
	"github.com/brojonat/p2pdash/service/store"
	"github.com/brojonat/p2pdash/service/txn"
	"github.com/gorilla/websocket"
)

// ErrHubClosed is returned by Notify after Close.
var ErrHubClosed = errors.New("websocket hub closed")

// snapshotMessage is the first frame a websocket client receives.
type snapshotMessage struct {
	Type         string            `json:"type"`
	Transactions []txn.Transaction `json:"transactions"`
	Count        int               `json:"count"`
}

const (
	wsWriteTimeout = 10 * time.Second

	// wsClientBuffer bounds how many messages may queue for one client
	// before it is dropped as too slow.
	wsClientBuffer = 16
)

// wsClient is one websocket connection. Only its writePump writes to conn.
type wsClient struct {
	conn *websocket.Conn
	send chan []byte
}

// registration carries a new client and the snapshot the hub sends it first.
type registration struct {
	client   *wsClient
	snapshot func() ([]byte, error)
}

// Hub fans transaction events out to connected websocket clients.
// It implements events.Notifier.
type Hub struct {
	clients    map[*wsClient]bool
	broadcast  chan []byte
	register   chan registration
	unregister chan *wsClient
	done       chan struct{}
	closeOnce  sync.Once
	mu         sync.Mutex

	upgrader websocket.Upgrader
	metrics  *metrics.Metrics
	logger   *slog.Logger
}

// NewHub creates a hub. Call Start before serving clients.
func NewHub(m *metrics.Metrics, logger *slog.Logger) *Hub {
	return &Hub{
		clients:    make(map[*wsClient]bool),
		broadcast:  make(chan []byte, 64),
		register:   make(chan registration),
		unregister: make(chan *wsClient),
		done:       make(chan struct{}),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
		metrics: m,
		logger:  logger,
	}
}

// Start runs the hub loop in the background until Close.
func (h *Hub) Start() {
	go h.run()
}

// run owns the client set and every client's send channel. The snapshot is
// taken here, in order with broadcasts, so a new client sees each committed
// change either in its snapshot or as an event.
func (h *Hub) run() {
	for {
		select {
		case reg := <-h.register:
			if reg.snapshot != nil {
				data, err := reg.snapshot()
				if err != nil {
					h.logger.Error("failed to build websocket snapshot", "error", err)
					close(reg.client.send)
					continue
				}
				reg.client.send <- data
			}
			h.mu.Lock()
			h.clients[reg.client] = true
			total := len(h.clients)
			h.mu.Unlock()
			h.metrics.RecordWSConnectionChange(1)
			h.logger.Debug("websocket client connected", "clients", total)

		case client := <-h.unregister:
			h.drop(client)

		case message := <-h.broadcast:
			h.mu.Lock()
			clients := make([]*wsClient, 0, len(h.clients))
			for client := range h.clients {
				clients = append(clients, client)
			}
			h.mu.Unlock()

			for _, client := range clients {
				select {
				case client.send <- message:
				default:
					h.logger.Warn("dropping slow websocket client")
					h.drop(client)
				}
			}

		case <-h.done:
			h.mu.Lock()
			for client := range h.clients {
				close(client.send)
				delete(h.clients, client)
				h.metrics.RecordWSConnectionChange(-1)
			}
			h.mu.Unlock()
			return
		}
	}
}

// drop removes the client and closes its send channel, which ends its
// writePump. Only the run loop calls it.
func (h *Hub) drop(client *wsClient) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.clients[client]; !ok {
		return
	}
	delete(h.clients, client)
	close(client.send)
	h.metrics.RecordWSConnectionChange(-1)
	h.logger.Debug("websocket client disconnected", "clients", len(h.clients))
}

// writePump writes queued messages until the hub closes the send channel
// or a write fails.
func (c *wsClient) writePump(logger *slog.Logger) {
	defer c.conn.Close()
	for message := range c.send {
		c.conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
		if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
			logger.Debug("failed to write to websocket client", "error", err)
			return
		}
	}
	c.conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseGoingAway, "connection closed by server"),
		time.Now().Add(time.Second))
}

// Notify broadcasts the event to every connected client.
func (h *Hub) Notify(ctx context.Context, event *events.TransactionEvent) error {
	data, err := json.Marshal(event)
	if err != nil {
		return err
	}
	select {
	case h.broadcast <- data:
		return nil
	case <-h.done:
		return ErrHubClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Clients returns the number of connected clients.
func (h *Hub) Clients() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients)
}

// Close disconnects every client and stops the hub loop.
func (h *Hub) Close() {
	h.closeOnce.Do(func() { close(h.done) })
}

// handleWebSocket upgrades the connection, sends the current collection and
// then relays events until the client goes away.
// GET /ws
func handleWebSocket(hub *Hub, st *store.Store, logger *slog.Logger) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := hub.upgrader.Upgrade(w, r, nil)
		if err != nil {
			logger.Warn("websocket upgrade failed", "error", err)
			return
		}

		client := &wsClient{conn: conn, send: make(chan []byte, wsClientBuffer)}
		go client.writePump(logger)

		select {
		case hub.register <- registration{client: client, snapshot: storeSnapshot(st)}:
		case <-hub.done:
			close(client.send)
			return
		}

		// Clients only listen; reading surfaces the close frame.
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				select {
				case hub.unregister <- client:
				case <-hub.done:
				}
				return
			}
		}
	})
}

// storeSnapshot encodes the full collection as a snapshot message.
func storeSnapshot(st *store.Store) func() ([]byte, error) {
	return func() ([]byte, error) {
		txns := slices.Collect(st.List(txn.FilterAll, ""))
		if txns == nil {
			txns = []txn.Transaction{}
		}
		return json.Marshal(snapshotMessage{Type: "snapshot", Transactions: txns, Count: len(txns)})
	}
}
