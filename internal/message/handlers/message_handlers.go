// Package handlers exposes the inter-session mail REST API.
package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/maestro/maestro/internal/common/httpapi"
	"github.com/maestro/maestro/internal/common/logger"
	"github.com/maestro/maestro/internal/message/models"
	"github.com/maestro/maestro/internal/message/service"
	v1 "github.com/maestro/maestro/pkg/api/v1"
)

type MessageHandlers struct {
	service *service.Service
	logger  *logger.Logger
}

func NewMessageHandlers(svc *service.Service, log *logger.Logger) *MessageHandlers {
	return &MessageHandlers{
		service: svc,
		logger:  log.WithFields(zap.String("component", "message-handlers")),
	}
}

func RegisterMessageRoutes(router *gin.Engine, svc *service.Service, log *logger.Logger) {
	h := NewMessageHandlers(svc, log)
	api := router.Group("/api/v1")
	api.POST("/sessions/:id/messages", h.sendMessage)
	api.GET("/sessions/:id/messages", h.inbox)
	api.GET("/messages/:id", h.getMessage)
	api.POST("/messages/:id/read", h.markRead)
	api.DELETE("/messages/:id", h.deleteMessage)
}

type sendMessageRequest struct {
	To       string             `json:"to"`
	Body     string             `json:"body"`
	Metadata v1.MessageMetadata `json:"metadata"`
}

// sendMessage treats the path session as the sender.
func (h *MessageHandlers) sendMessage(c *gin.Context) {
	var req sendMessageRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		httpapi.BadRequest(c, "invalid request body")
		return
	}
	message, err := h.service.Send(c.Request.Context(), service.SendRequest{
		From:     c.Param("id"),
		To:       req.To,
		Body:     req.Body,
		Metadata: req.Metadata,
	})
	if err != nil {
		httpapi.Error(c, h.logger, err)
		return
	}
	c.JSON(http.StatusCreated, message)
}

type inboxResponse struct {
	Messages []*models.Message `json:"messages"`
	Total    int               `json:"total"`
}

func (h *MessageHandlers) inbox(c *gin.Context) {
	filter := service.InboxFilter{Status: v1.MessageStatus(c.Query("status"))}
	messages, err := h.service.Inbox(c.Request.Context(), c.Param("id"), filter)
	if err != nil {
		httpapi.Error(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, inboxResponse{Messages: messages, Total: len(messages)})
}

func (h *MessageHandlers) getMessage(c *gin.Context) {
	message, err := h.service.GetMessage(c.Request.Context(), c.Param("id"))
	if err != nil {
		httpapi.Error(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, message)
}

func (h *MessageHandlers) markRead(c *gin.Context) {
	message, err := h.service.MarkRead(c.Request.Context(), c.Param("id"))
	if err != nil {
		httpapi.Error(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, message)
}

func (h *MessageHandlers) deleteMessage(c *gin.Context) {
	if err := h.service.DeleteMessage(c.Request.Context(), c.Param("id")); err != nil {
		httpapi.Error(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"deleted": true})
}
