// Package websocket pushes queue updates to connected UI clients. The
// server is single-tenant, so every client sees every update; there is no
// per-user routing.
package websocket

import (
	"encoding/json"
	"sync"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/AmirrezaFarnamTaheri/YTDownloader-sub000/internal/queue"
)

// Message is the envelope sent to clients.
type Message struct {
	Type string      `json:"type"`
	Item *queue.Item `json:"item,omitempty"`
}

const (
	// MessageTypeItemUpdate carries one queue item snapshot.
	MessageTypeItemUpdate = "item_update"
	// MessageTypeQueueSnapshot carries the full queue, sent on connect.
	MessageTypeQueueSnapshot = "queue_snapshot"
)

// Hub maintains the set of active clients and broadcasts messages to them.
type Hub struct {
	clients    map[*Client]bool
	register   chan *Client
	unregister chan *Client
	broadcast  chan []byte
	done       chan struct{}

	mu     sync.RWMutex
	logger zerolog.Logger
}

// NewHub creates a new Hub instance.
func NewHub() *Hub {
	return &Hub{
		clients:    make(map[*Client]bool),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		broadcast:  make(chan []byte, 64),
		done:       make(chan struct{}),
		logger:     log.With().Str("component", "websocket").Logger(),
	}
}

// Run starts the hub's main loop. It returns when Close is called.
func (h *Hub) Run() {
	for {
		select {
		case client := <-h.register:
			h.mu.Lock()
			h.clients[client] = true
			h.mu.Unlock()

		case client := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.clients[client]; ok {
				delete(h.clients, client)
				close(client.send)
			}
			h.mu.Unlock()

		case message := <-h.broadcast:
			h.mu.Lock()
			for client := range h.clients {
				select {
				case client.send <- message:
				default:
					// Client's buffer is full, close the connection
					close(client.send)
					delete(h.clients, client)
				}
			}
			h.mu.Unlock()

		case <-h.done:
			h.mu.Lock()
			for client := range h.clients {
				close(client.send)
				delete(h.clients, client)
			}
			h.mu.Unlock()
			return
		}
	}
}

// Close shuts the hub down and disconnects all clients.
func (h *Hub) Close() {
	close(h.done)
}

// BroadcastItem sends one item snapshot to all clients.
func (h *Hub) BroadcastItem(it *queue.Item) {
	data, err := json.Marshal(Message{Type: MessageTypeItemUpdate, Item: it})
	if err != nil {
		h.logger.Warn().Err(err).Msg("failed to encode item update")
		return
	}
	select {
	case h.broadcast <- data:
	case <-h.done:
	}
}

// Listener adapts the hub into a queue store listener.
func (h *Hub) Listener() queue.Listener {
	return func(it *queue.Item) {
		h.BroadcastItem(it)
	}
}

// ClientCount returns the number of connected clients.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}
