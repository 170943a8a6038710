package live

import (
	"sync"

	"github.com/diagnosis/gatekeeper-relay/pkg/logger"
)

type Client struct {
	ID   string
	Send chan []byte
}

// Hub fans messages out to connected viewers. A viewer whose buffer is full
// misses the message rather than stalling the others.
type Hub struct {
	mu      sync.RWMutex
	clients map[string]*Client
}

func NewHub() *Hub {
	return &Hub{clients: make(map[string]*Client)}
}

func (h *Hub) Register(client *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.clients[client.ID] = client
}

func (h *Hub) Unregister(client *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.clients[client.ID]; !ok {
		return
	}
	delete(h.clients, client.ID)
	close(client.Send)
}

func (h *Hub) Len() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

func (h *Hub) Broadcast(payload []byte) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for _, client := range h.clients {
		select {
		case client.Send <- payload:
		default:
			logger.Warn("Dropping live message for slow viewer", "client_id", client.ID)
		}
	}
}
