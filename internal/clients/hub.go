// Package clients manages connected application instances and message
// fan-out.
package clients

import (
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/Georgexzy/quest-tracker/internal/core"
	"github.com/Georgexzy/quest-tracker/internal/logging"
)

// Message is a typed envelope broadcast or replied to clients.
type Message struct {
	Type      string    `json:"type"`
	Payload   any       `json:"payload,omitempty"`
	RequestID string    `json:"requestId,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// Inbound is a control message received from an application instance.
// RequestID, when present, names the reply channel for request/response
// message types.
type Inbound struct {
	Type      string          `json:"type"`
	Payload   json.RawMessage `json:"payload,omitempty"`
	RequestID string          `json:"requestId,omitempty"`
}

// client is one connected application instance.
type client struct {
	id      string
	conn    *websocket.Conn
	writeMu sync.Mutex
}

func (c *client) write(msg Message) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return c.conn.WriteJSON(msg)
}

// Hub is the registry of connected application instances. Every outbound
// broadcast fans out to all of them; replies go to a single client.
type Hub struct {
	upgrader websocket.Upgrader
	clients  map[string]*client
	log      *logging.Logger

	// onMessage handles inbound control messages; set by the coordinator.
	onMessage func(clientID string, msg Inbound)

	mu sync.RWMutex
}

// NewHub creates an empty hub.
func NewHub() *Hub {
	return &Hub{
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin: func(r *http.Request) bool {
				return true // Same-device clients only; no origin policy
			},
		},
		clients: make(map[string]*client),
		log:     logging.WithField("component", "clients"),
	}
}

// OnMessage sets the inbound control-message callback.
func (h *Hub) OnMessage(fn func(clientID string, msg Inbound)) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.onMessage = fn
}

// HandleWS upgrades an HTTP request and serves the connection until the
// client disconnects.
func (h *Hub) HandleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		http.Error(w, "could not upgrade connection", http.StatusBadRequest)
		return
	}

	c := &client{id: uuid.New().String(), conn: conn}

	h.mu.Lock()
	h.clients[c.id] = c
	h.mu.Unlock()

	h.log.Debug("client connected: %s", c.id)

	go h.readLoop(c)
}

func (h *Hub) readLoop(c *client) {
	defer func() {
		h.mu.Lock()
		delete(h.clients, c.id)
		h.mu.Unlock()
		c.conn.Close()
		h.log.Debug("client disconnected: %s", c.id)
	}()

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			return
		}

		var msg Inbound
		if err := json.Unmarshal(data, &msg); err != nil {
			h.log.Warn("malformed message from %s: %v", c.id, err)
			continue
		}

		h.mu.RLock()
		onMessage := h.onMessage
		h.mu.RUnlock()

		if onMessage != nil {
			onMessage(c.id, msg)
		}
	}
}

// Broadcast sends a typed message to every connected client. Send failures
// are logged and swallowed; a dead client is reaped by its read loop.
func (h *Hub) Broadcast(msgType string, payload any) {
	msg := Message{Type: msgType, Payload: payload, Timestamp: time.Now().UTC()}

	h.mu.RLock()
	targets := make([]*client, 0, len(h.clients))
	for _, c := range h.clients {
		targets = append(targets, c)
	}
	h.mu.RUnlock()

	for _, c := range targets {
		if err := c.write(msg); err != nil {
			h.log.Warn("broadcast to %s failed: %v", c.id, err)
		}
	}
}

// Send sends a message to one client, typically a reply carrying the
// request's id.
func (h *Hub) Send(clientID string, msg Message) error {
	h.mu.RLock()
	c, ok := h.clients[clientID]
	h.mu.RUnlock()

	if !ok {
		return core.ErrClientNotFound
	}

	if msg.Timestamp.IsZero() {
		msg.Timestamp = time.Now().UTC()
	}
	return c.write(msg)
}

// Count returns the number of connected clients.
func (h *Hub) Count() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// Close disconnects every client.
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for _, c := range h.clients {
		c.conn.Close()
	}
	h.clients = make(map[string]*client)
}
