package websocket

import (
	"encoding/json"
	"net/http"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"github.com/AmirrezaFarnamTaheri/YTDownloader-sub000/internal/queue"
)

// Handler handles WebSocket connections.
type Handler struct {
	hub      *Hub
	store    *queue.Store
	upgrader websocket.Upgrader
}

// NewHandler creates a new WebSocket handler. The store is used to send a
// full queue snapshot to each client on connect; allowedOrigins gates the
// upgrade the same way the CORS layer gates plain requests ("*" admits
// any origin, and so does a browserless request with no Origin header).
func NewHandler(hub *Hub, store *queue.Store, allowedOrigins []string) *Handler {
	return &Handler{
		hub:   hub,
		store: store,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin: func(r *http.Request) bool {
				origin := r.Header.Get("Origin")
				if origin == "" {
					return true
				}
				for _, o := range allowedOrigins {
					if o == "*" || o == origin {
						return true
					}
				}
				return false
			},
		},
	}
}

// ServeWS upgrades the request and attaches the client to the hub.
func (h *Handler) ServeWS(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Warn().Err(err).Msg("websocket upgrade failed")
		return
	}

	client := NewClient(h.hub, conn)
	go client.WritePump()

	// Snapshot goes out before registration so the hub cannot close the
	// send channel underneath it.
	h.sendSnapshot(client)

	select {
	case h.hub.register <- client:
	case <-h.hub.done:
		conn.Close()
		return
	}

	go client.ReadPump()
}

// sendSnapshot queues the current state of every item so a reconnecting
// client does not start blind.
func (h *Handler) sendSnapshot(client *Client) {
	for _, it := range h.store.Items() {
		data, err := json.Marshal(Message{Type: MessageTypeQueueSnapshot, Item: it})
		if err != nil {
			continue
		}
		select {
		case client.send <- data:
		default:
			return
		}
	}
}

// GetHub returns the hub instance for external access.
func (h *Handler) GetHub() *Hub {
	return h.hub
}
