// Package websocket fans domain events out to connected clients. The bridge
// subscribes to the whole event vocabulary and hands each event to the hub,
// which serializes once and pushes to every client whose filter matches.
package websocket

import (
	"context"
	"encoding/json"
	"sync"

	"go.uber.org/zap"

	"github.com/maestro/maestro/internal/common/logger"
	ws "github.com/maestro/maestro/pkg/websocket"
)

// outbound is one serialized broadcast plus the session scope it concerns.
// An empty scope means the event is global and goes to every client.
type outbound struct {
	data  []byte
	scope []string
}

// Hub manages all WebSocket client connections.
type Hub struct {
	clients map[*Client]bool

	register   chan *Client
	unregister chan *Client
	broadcast  chan *outbound

	mu     sync.RWMutex
	logger *logger.Logger
}

// NewHub creates a hub.
func NewHub(log *logger.Logger) *Hub {
	return &Hub{
		clients:    make(map[*Client]bool),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		broadcast:  make(chan *outbound, 256),
		logger:     log.WithFields(zap.String("component", "ws_hub")),
	}
}

// Run starts the hub's main processing loop.
func (h *Hub) Run(ctx context.Context) {
	h.logger.Info("WebSocket hub started")
	defer h.logger.Info("WebSocket hub stopped")

	for {
		select {
		case <-ctx.Done():
			h.closeAllClients()
			return

		case client := <-h.register:
			h.mu.Lock()
			h.clients[client] = true
			h.mu.Unlock()
			h.logger.Debug("Client registered", zap.String("client_id", client.ID))

		case client := <-h.unregister:
			h.removeClient(client)

		case msg := <-h.broadcast:
			h.broadcastMessage(msg)
		}
	}
}

func (h *Hub) closeAllClients() {
	h.mu.Lock()
	defer h.mu.Unlock()

	for client := range h.clients {
		client.closeSend()
		delete(h.clients, client)
	}
}

func (h *Hub) removeClient(client *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if _, ok := h.clients[client]; ok {
		delete(h.clients, client)
		client.closeSend()
	}
	h.logger.Debug("Client unregistered", zap.String("client_id", client.ID))
}

// broadcastMessage pushes one serialized event to every matching client.
// Delivery per client is in broadcast order; a client whose buffer is full
// is skipped rather than blocking the fabric.
func (h *Hub) broadcastMessage(msg *outbound) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	for client := range h.clients {
		if !client.wants(msg.scope) {
			continue
		}
		if !client.enqueue(msg.data) {
			h.logger.Warn("Dropping event, client closed or buffer full",
				zap.String("client_id", client.ID))
		}
	}
}

// Register adds a client to the hub.
func (h *Hub) Register(client *Client) {
	h.register <- client
}

// Unregister removes a client from the hub.
func (h *Hub) Unregister(client *Client) {
	h.unregister <- client
}

// Broadcast serializes an envelope and queues it for fan-out. Scope names
// the sessions the event concerns; empty means everyone.
func (h *Hub) Broadcast(envelope *ws.Broadcast, scope []string) {
	data, err := json.Marshal(envelope)
	if err != nil {
		h.logger.Error("Failed to marshal broadcast", zap.Error(err),
			zap.String("event", envelope.Event))
		return
	}
	h.broadcast <- &outbound{data: data, scope: scope}
}

// ClientCount returns the number of connected clients.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}
