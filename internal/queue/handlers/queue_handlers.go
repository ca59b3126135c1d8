// Package handlers exposes the session work queue REST API.
package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/maestro/maestro/internal/common/httpapi"
	"github.com/maestro/maestro/internal/common/logger"
	"github.com/maestro/maestro/internal/queue/models"
	"github.com/maestro/maestro/internal/queue/service"
)

type QueueHandlers struct {
	service *service.Service
	logger  *logger.Logger
}

func NewQueueHandlers(svc *service.Service, log *logger.Logger) *QueueHandlers {
	return &QueueHandlers{
		service: svc,
		logger:  log.WithFields(zap.String("component", "queue-handlers")),
	}
}

func RegisterQueueRoutes(router *gin.Engine, svc *service.Service, log *logger.Logger) {
	h := NewQueueHandlers(svc, log)
	api := router.Group("/api/v1")
	api.GET("/sessions/:id/queue", h.listQueue)
	api.POST("/sessions/:id/queue", h.push)
	api.GET("/sessions/:id/queue/top", h.top)
	api.POST("/sessions/:id/queue/start", h.start)
	api.POST("/sessions/:id/queue/:taskId/complete", h.complete)
	api.POST("/sessions/:id/queue/:taskId/fail", h.fail)
	api.POST("/sessions/:id/queue/:taskId/skip", h.skip)
}

type listQueueResponse struct {
	Items []*models.Item `json:"items"`
	Total int            `json:"total"`
}

func (h *QueueHandlers) listQueue(c *gin.Context) {
	items, err := h.service.List(c.Request.Context(), c.Param("id"))
	if err != nil {
		httpapi.Error(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, listQueueResponse{Items: items, Total: len(items)})
}

type pushRequest struct {
	TaskID string `json:"taskId"`
}

func (h *QueueHandlers) push(c *gin.Context) {
	var req pushRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		httpapi.BadRequest(c, "invalid request body")
		return
	}
	item, err := h.service.Push(c.Request.Context(), c.Param("id"), req.TaskID)
	if err != nil {
		httpapi.Error(c, h.logger, err)
		return
	}
	c.JSON(http.StatusCreated, item)
}

func (h *QueueHandlers) top(c *gin.Context) {
	item, err := h.service.Top(c.Request.Context(), c.Param("id"))
	if err != nil {
		httpapi.Error(c, h.logger, err)
		return
	}
	if item == nil {
		c.JSON(http.StatusOK, gin.H{"item": nil})
		return
	}
	c.JSON(http.StatusOK, gin.H{"item": item})
}

func (h *QueueHandlers) start(c *gin.Context) {
	item, err := h.service.Start(c.Request.Context(), c.Param("id"))
	if err != nil {
		httpapi.Error(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, item)
}

func (h *QueueHandlers) complete(c *gin.Context) {
	item, err := h.service.Complete(c.Request.Context(), c.Param("id"), c.Param("taskId"))
	if err != nil {
		httpapi.Error(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, item)
}

func (h *QueueHandlers) fail(c *gin.Context) {
	item, err := h.service.Fail(c.Request.Context(), c.Param("id"), c.Param("taskId"))
	if err != nil {
		httpapi.Error(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, item)
}

func (h *QueueHandlers) skip(c *gin.Context) {
	item, err := h.service.Skip(c.Request.Context(), c.Param("id"), c.Param("taskId"))
	if err != nil {
		httpapi.Error(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, item)
}
