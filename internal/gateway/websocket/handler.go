package websocket

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	gorillaws "github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/maestro/maestro/internal/common/logger"
)

var upgrader = gorillaws.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		// Single-node local coordinator; no cross-origin policy.
		return true
	},
}

// Handler upgrades HTTP connections into hub clients.
type Handler struct {
	hub       *Hub
	writeWait time.Duration
	logger    *logger.Logger
}

// NewHandler creates a WebSocket handler.
func NewHandler(hub *Hub, writeWait time.Duration, log *logger.Logger) *Handler {
	return &Handler{
		hub:       hub,
		writeWait: writeWait,
		logger:    log.WithFields(zap.String("component", "ws_handler")),
	}
}

// HandleConnection upgrades HTTP to WebSocket and runs the pumps.
func (h *Handler) HandleConnection(c *gin.Context) {
	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.logger.Error("Failed to upgrade connection", zap.Error(err))
		return
	}

	clientID := uuid.New().String()
	h.logger.Debug("WebSocket connection established",
		zap.String("client_id", clientID),
		zap.String("remote_addr", c.Request.RemoteAddr),
	)

	client := NewClient(clientID, conn, h.hub, h.writeWait, h.logger)
	h.hub.Register(client)

	go client.WritePump()
	client.ReadPump()
}
