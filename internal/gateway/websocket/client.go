package websocket

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/maestro/maestro/internal/common/logger"
	ws "github.com/maestro/maestro/pkg/websocket"
)

const (
	// Time allowed to read the next pong message from the peer
	pongWait = 60 * time.Second

	// Send pings to peer with this period (must be less than pongWait)
	pingPeriod = (pongWait * 9) / 10

	// Maximum message size allowed from peer
	maxMessageSize = 64 * 1024
)

// Client represents a single WebSocket connection. A nil filter means the
// client receives every event; a subscribe command narrows it to a session
// set.
type Client struct {
	ID        string
	conn      *websocket.Conn
	hub       *Hub
	send      chan []byte
	writeWait time.Duration

	mu     sync.RWMutex
	filter map[string]bool
	closed bool

	logger *logger.Logger
}

// NewClient creates a client over an upgraded connection.
func NewClient(id string, conn *websocket.Conn, hub *Hub, writeWait time.Duration, log *logger.Logger) *Client {
	return &Client{
		ID:        id,
		conn:      conn,
		hub:       hub,
		send:      make(chan []byte, 256),
		writeWait: writeWait,
		logger:    log.WithFields(zap.String("client_id", id)),
	}
}

// setFilter replaces the client's subscription. An empty set resets the
// client to the firehose.
func (c *Client) setFilter(sessionIDs []string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(sessionIDs) == 0 {
		c.filter = nil
		return
	}
	c.filter = make(map[string]bool, len(sessionIDs))
	for _, id := range sessionIDs {
		c.filter[id] = true
	}
}

// closeSend closes the send channel exactly once. Called by the hub when the
// client unregisters or the fabric shuts down.
func (c *Client) closeSend() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	c.closed = true
	close(c.send)
}

// enqueue queues one serialized frame. Returns false when the client is
// closed or its buffer is full; the frame is dropped either way.
func (c *Client) enqueue(data []byte) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.closed {
		return false
	}
	select {
	case c.send <- data:
		return true
	default:
		return false
	}
}

// wants reports whether an event with the given session scope should reach
// this client. Global events (empty scope) always match.
func (c *Client) wants(scope []string) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.filter == nil || len(scope) == 0 {
		return true
	}
	for _, id := range scope {
		if c.filter[id] {
			return true
		}
	}
	return false
}

// ReadPump consumes client commands until the connection drops.
func (c *Client) ReadPump() {
	defer func() {
		c.hub.Unregister(c)
		c.conn.Close()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, message, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				c.logger.Error("WebSocket read error", zap.Error(err))
			}
			break
		}

		var cmd ws.Command
		if err := json.Unmarshal(message, &cmd); err != nil {
			c.sendAck(ws.AckError, nil, "invalid command")
			continue
		}
		c.handleCommand(&cmd)
	}
}

func (c *Client) handleCommand(cmd *ws.Command) {
	switch cmd.Type {
	case ws.CommandSubscribe:
		c.setFilter(cmd.SessionIDs)
		c.sendAck(ws.AckSubscribed, cmd.SessionIDs, "")
	case ws.CommandPing:
		c.sendAck(ws.AckPong, nil, "")
	default:
		c.sendAck(ws.AckError, nil, "unknown command "+cmd.Type)
	}
}

func (c *Client) sendAck(ackType string, sessionIDs []string, message string) {
	ack := ws.NewAck(ackType)
	ack.SessionIDs = sessionIDs
	ack.Message = message
	data, err := json.Marshal(ack)
	if err != nil {
		c.logger.Error("Failed to marshal ack", zap.Error(err))
		return
	}
	if !c.enqueue(data) {
		c.logger.Warn("Dropping ack, client closed or buffer full")
	}
}

// WritePump pushes queued broadcasts to the connection, pinging to keep it
// alive.
func (c *Client) WritePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(c.writeWait))
			if !ok {
				// Hub closed the channel
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(c.writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
