package server

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// Message types sent over the WebSocket connection.
const (
	MsgRunEvent = "run_event"
	MsgRescan   = "rescan"
)

// Connection timing. A client that misses two ping intervals is
// considered gone and disconnected by the read deadline.
const (
	wsWriteTimeout = 5 * time.Second
	wsPingInterval = 30 * time.Second
	wsReadTimeout  = 2*wsPingInterval + wsWriteTimeout
)

// WSMessage is the envelope sent to WebSocket clients.
type WSMessage struct {
	Type      string          `json:"type"`
	Payload   json.RawMessage `json:"payload"`
	Timestamp string          `json:"timestamp"`
}

// NewWSMessage wraps a payload in an envelope of the given type.
func NewWSMessage(msgType string, payload any) (WSMessage, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return WSMessage{}, err
	}
	return WSMessage{
		Type:      msgType,
		Payload:   data,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	}, nil
}

// Hub fans reconciliation activity out to every connected WebSocket
// client. It is safe for concurrent use.
type Hub struct {
	mu      sync.RWMutex
	clients map[*wsClient]struct{}
	logger  *slog.Logger
}

// NewHub creates a Hub ready to accept client connections.
func NewHub(logger *slog.Logger) *Hub {
	if logger == nil {
		logger = slog.Default()
	}
	return &Hub{
		clients: make(map[*wsClient]struct{}),
		logger:  logger,
	}
}

// Broadcast sends a message to every connected client. A client that
// cannot keep up with the stream is disconnected rather than allowed to
// block the rest.
func (h *Hub) Broadcast(msg WSMessage) {
	data, err := json.Marshal(msg)
	if err != nil {
		h.logger.Error("marshaling ws message", "error", err)
		return
	}

	var stale []*wsClient
	h.mu.RLock()
	for c := range h.clients {
		select {
		case c.outbox <- data:
		default:
			stale = append(stale, c)
		}
	}
	h.mu.RUnlock()

	for _, c := range stale {
		h.unregister(c)
	}
}

// BroadcastRunEvent wraps a payload in a run_event message and broadcasts
// it. Marshal failures are logged and dropped.
func (h *Hub) BroadcastRunEvent(payload any) {
	msg, err := NewWSMessage(MsgRunEvent, payload)
	if err != nil {
		h.logger.Error("building run_event message", "error", err)
		return
	}
	h.Broadcast(msg)
}

// ClientCount returns the number of currently connected clients.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

func (h *Hub) register(c *wsClient) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.clients[c] = struct{}{}
}

func (h *Hub) unregister(c *wsClient) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.clients[c]; ok {
		delete(h.clients, c)
		close(c.outbox)
	}
}

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// ServeWS upgrades the HTTP connection to a WebSocket, registers the
// client, and starts its read and write loops.
func (h *Hub) ServeWS(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Error("upgrading to websocket", "error", err)
		return
	}

	c := &wsClient{
		hub:    h,
		conn:   conn,
		outbox: make(chan []byte, 32),
	}
	h.register(c)

	go c.writeLoop()
	go c.readLoop()
}

type wsClient struct {
	hub    *Hub
	conn   *websocket.Conn
	outbox chan []byte
}

// readLoop drains the connection until it errors. Clients never send
// meaningful messages; the loop exists so disconnects and pongs are
// noticed.
func (c *wsClient) readLoop() {
	defer func() {
		c.hub.unregister(c)
		c.conn.Close()
	}()

	c.conn.SetReadLimit(512)
	c.conn.SetReadDeadline(time.Now().Add(wsReadTimeout))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(wsReadTimeout))
	})

	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			return
		}
	}
}

// writeLoop forwards the outbox to the connection and pings on an
// interval to keep intermediaries from closing an idle stream.
func (c *wsClient) writeLoop() {
	pings := time.NewTicker(wsPingInterval)
	defer func() {
		pings.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case msg, open := <-c.outbox:
			c.conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
			if !open {
				c.conn.WriteMessage(websocket.CloseMessage, nil)
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				return
			}
		case <-pings.C:
			c.conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
