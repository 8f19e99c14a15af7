package transport

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/lexiqai/segment-translator/internal/events"
	"github.com/lexiqai/segment-translator/internal/observability"
)

const writeWait = 10 * time.Second

// client is one WebSocket connection. All writes go through send and are
// performed by writeLoop, the connection's only writer.
type client struct {
	conn   *websocket.Conn
	send   chan []byte
	logger zerolog.Logger
}

func newClient(conn *websocket.Conn, buffer int, logger zerolog.Logger) *client {
	return &client{
		conn:   conn,
		send:   make(chan []byte, buffer),
		logger: logger,
	}
}

func (c *client) writeLoop() {
	defer c.conn.Close()

	for msg := range c.send {
		_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
		if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
			c.logger.Debug().Err(err).Msg("WebSocket write failed")
			// Keep draining so senders never block
			for range c.send {
			}
			return
		}
	}

	_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
	_ = c.conn.WriteMessage(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
}

// enqueue queues a message without blocking; it is dropped when the buffer is full
func (c *client) enqueue(msg []byte) bool {
	select {
	case c.send <- msg:
		return true
	default:
		c.logger.Warn().Msg("Client send buffer full, dropping message")
		return false
	}
}

// Hub tracks connected clients and broadcasts lifecycle events to all of them
type Hub struct {
	mu      sync.RWMutex
	clients map[*client]struct{}
	logger  zerolog.Logger
}

// NewHub creates an empty hub
func NewHub(logger zerolog.Logger) *Hub {
	return &Hub{
		clients: make(map[*client]struct{}),
		logger:  logger.With().Str("component", "hub").Logger(),
	}
}

func (h *Hub) register(c *client) {
	h.mu.Lock()
	h.clients[c] = struct{}{}
	count := len(h.clients)
	h.mu.Unlock()
	observability.ClientConnected()
	h.logger.Debug().Int("clients", count).Msg("Client registered")
}

// unregister removes the client and closes its send channel
func (h *Hub) unregister(c *client) {
	h.mu.Lock()
	if _, ok := h.clients[c]; ok {
		delete(h.clients, c)
		close(c.send)
		observability.ClientDisconnected()
	}
	h.mu.Unlock()
}

// Count returns the number of connected clients
func (h *Hub) Count() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// Broadcast sends v as JSON to every connected client
func (h *Hub) Broadcast(v interface{}) {
	data, err := json.Marshal(v)
	if err != nil {
		h.logger.Error().Err(err).Msg("Failed to encode broadcast message")
		return
	}

	h.mu.RLock()
	defer h.mu.RUnlock()
	for c := range h.clients {
		c.enqueue(data)
	}
}

// Attach broadcasts every bus event to connected clients
func (h *Hub) Attach(bus *events.Bus) func() {
	return bus.SubscribeAll(func(e events.Event) {
		h.Broadcast(e)
	})
}

// CloseAll closes every client connection, ending their read loops
func (h *Hub) CloseAll() {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for c := range h.clients {
		_ = c.conn.Close()
	}
}
