package server

import (
	"context"
	"sync"

	"portfolio_trader/internal/core"

	"github.com/google/uuid"
)

// Message is one websocket frame sent to subscribers.
type Message struct {
	Type string      `json:"type"`
	Data interface{} `json:"data"`
}

// wsClient is one connected websocket subscriber.
type wsClient struct {
	id     string
	send   chan Message
	mu     sync.Mutex
	closed bool
}

func newWSClient() *wsClient {
	return &wsClient{
		id:   uuid.NewString(),
		send: make(chan Message, 256),
	}
}

// trySend queues a message without blocking. A full buffer means the client
// is too slow to keep up and the frame is dropped.
func (c *wsClient) trySend(msg Message) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return false
	}
	select {
	case c.send <- msg:
		return true
	default:
		return false
	}
}

func (c *wsClient) close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.closed {
		c.closed = true
		close(c.send)
	}
}

// Hub fans portfolio snapshots out to all connected websocket clients.
type Hub struct {
	mu      sync.RWMutex
	clients map[*wsClient]bool
	logger  core.ILogger
}

// NewHub creates an empty hub.
func NewHub(logger core.ILogger) *Hub {
	return &Hub{
		clients: make(map[*wsClient]bool),
		logger:  logger.WithField("component", "ws_hub"),
	}
}

func (h *Hub) register(c *wsClient) {
	h.mu.Lock()
	h.clients[c] = true
	count := len(h.clients)
	h.mu.Unlock()
	h.logger.Info("Websocket client connected", "client_id", c.id, "clients", count)
}

func (h *Hub) unregister(c *wsClient) {
	h.mu.Lock()
	if _, ok := h.clients[c]; ok {
		delete(h.clients, c)
		c.close()
	}
	count := len(h.clients)
	h.mu.Unlock()
	h.logger.Info("Websocket client disconnected", "client_id", c.id, "clients", count)
}

// Broadcast queues msg for every connected client. Slow clients drop frames
// rather than stalling the broadcaster.
func (h *Hub) Broadcast(msg Message) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for c := range h.clients {
		if !c.trySend(msg) {
			h.logger.Warn("Dropping frame for slow websocket client", "client_id", c.id)
		}
	}
}

// BroadcastSnapshot publishes one committed audit snapshot.
func (h *Hub) BroadcastSnapshot(snap *core.AuditSnapshot) {
	h.Broadcast(Message{Type: "snapshot", Data: snap})
}

// ClientCount returns the number of connected clients.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// Shutdown disconnects every client.
func (h *Hub) Shutdown(ctx context.Context) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for c := range h.clients {
		c.close()
		delete(h.clients, c)
	}
}
