// Package handlers exposes the session REST API, including the spawn
// endpoint and the agent-facing telemetry hooks.
package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/maestro/maestro/internal/common/httpapi"
	"github.com/maestro/maestro/internal/common/logger"
	"github.com/maestro/maestro/internal/session/models"
	"github.com/maestro/maestro/internal/session/service"
)

type SessionHandlers struct {
	service *service.Service
	logger  *logger.Logger
}

func NewSessionHandlers(svc *service.Service, log *logger.Logger) *SessionHandlers {
	return &SessionHandlers{
		service: svc,
		logger:  log.WithFields(zap.String("component", "session-handlers")),
	}
}

func RegisterSessionRoutes(router *gin.Engine, svc *service.Service, log *logger.Logger) {
	h := NewSessionHandlers(svc, log)
	api := router.Group("/api/v1")
	api.GET("/sessions", h.listSessions)
	api.POST("/sessions", h.createSession)
	api.POST("/sessions/spawn", h.spawnSession)
	api.GET("/sessions/:id", h.getSession)
	api.PATCH("/sessions/:id", h.updateSession)
	api.DELETE("/sessions/:id", h.deleteSession)
	api.POST("/sessions/:id/register", h.registerSession)
	api.POST("/sessions/:id/complete", h.completeSession)
	api.POST("/sessions/:id/events", h.appendEvent)
	api.POST("/sessions/:id/timeline", h.appendTimeline)
	api.POST("/sessions/:id/view", h.viewSession)
	api.POST("/sessions/:id/needs-input", h.needsInput)
	api.POST("/sessions/:id/tasks/:taskId", h.linkTask)
	api.DELETE("/sessions/:id/tasks/:taskId", h.unlinkTask)
}

type listSessionsResponse struct {
	Sessions []*models.Session `json:"sessions"`
	Total    int               `json:"total"`
}

func (h *SessionHandlers) listSessions(c *gin.Context) {
	sessions, err := h.service.ListSessions(c.Request.Context(), c.Query("projectId"))
	if err != nil {
		httpapi.Error(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, listSessionsResponse{Sessions: sessions, Total: len(sessions)})
}

// createSession runs the spawn protocol with an api source: the session and
// its manifest are created but no session:spawn is announced.
func (h *SessionHandlers) createSession(c *gin.Context) {
	var req service.SpawnRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		httpapi.BadRequest(c, "invalid request body")
		return
	}
	req.SpawnSource = ""
	resp, err := h.service.Spawn(c.Request.Context(), req)
	if err != nil {
		httpapi.Error(c, h.logger, err)
		return
	}
	session, err := h.service.GetSession(c.Request.Context(), resp.SessionID)
	if err != nil {
		httpapi.Error(c, h.logger, err)
		return
	}
	c.JSON(http.StatusCreated, session)
}

func (h *SessionHandlers) spawnSession(c *gin.Context) {
	var req service.SpawnRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		httpapi.BadRequest(c, "invalid request body")
		return
	}
	resp, err := h.service.Spawn(c.Request.Context(), req)
	if err != nil {
		httpapi.Error(c, h.logger, err)
		return
	}
	c.JSON(http.StatusCreated, resp)
}

func (h *SessionHandlers) getSession(c *gin.Context) {
	session, err := h.service.GetSession(c.Request.Context(), c.Param("id"))
	if err != nil {
		httpapi.Error(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, session)
}

func (h *SessionHandlers) updateSession(c *gin.Context) {
	var req service.UpdateSessionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		httpapi.BadRequest(c, "invalid request body")
		return
	}
	session, err := h.service.UpdateSession(c.Request.Context(), c.Param("id"), req)
	if err != nil {
		httpapi.Error(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, session)
}

func (h *SessionHandlers) deleteSession(c *gin.Context) {
	if err := h.service.DeleteSession(c.Request.Context(), c.Param("id")); err != nil {
		httpapi.Error(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"deleted": true})
}

type registerSessionRequest struct {
	ProjectID string `json:"projectId"`
}

func (h *SessionHandlers) registerSession(c *gin.Context) {
	var req registerSessionRequest
	if err := c.ShouldBindJSON(&req); err != nil && c.Request.ContentLength > 0 {
		httpapi.BadRequest(c, "invalid request body")
		return
	}
	session, err := h.service.RegisterSession(c.Request.Context(), c.Param("id"), req.ProjectID)
	if err != nil {
		httpapi.Error(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, session)
}

func (h *SessionHandlers) completeSession(c *gin.Context) {
	session, err := h.service.CompleteSession(c.Request.Context(), c.Param("id"))
	if err != nil {
		httpapi.Error(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, session)
}

type appendEventRequest struct {
	Type string                 `json:"type"`
	Data map[string]interface{} `json:"data"`
}

func (h *SessionHandlers) appendEvent(c *gin.Context) {
	var req appendEventRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		httpapi.BadRequest(c, "invalid request body")
		return
	}
	session, err := h.service.AppendEvent(c.Request.Context(), c.Param("id"), req.Type, req.Data)
	if err != nil {
		httpapi.Error(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, session)
}

type appendTimelineRequest struct {
	Note string `json:"note"`
}

func (h *SessionHandlers) appendTimeline(c *gin.Context) {
	var req appendTimelineRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		httpapi.BadRequest(c, "invalid request body")
		return
	}
	session, err := h.service.AppendTimeline(c.Request.Context(), c.Param("id"), req.Note)
	if err != nil {
		httpapi.Error(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, session)
}

func (h *SessionHandlers) viewSession(c *gin.Context) {
	session, err := h.service.View(c.Request.Context(), c.Param("id"))
	if err != nil {
		httpapi.Error(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, session)
}

type needsInputRequest struct {
	Question string `json:"question"`
}

func (h *SessionHandlers) needsInput(c *gin.Context) {
	var req needsInputRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		httpapi.BadRequest(c, "invalid request body")
		return
	}
	session, err := h.service.SetNeedsInput(c.Request.Context(), c.Param("id"), req.Question)
	if err != nil {
		httpapi.Error(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, session)
}

func (h *SessionHandlers) linkTask(c *gin.Context) {
	session, err := h.service.LinkTask(c.Request.Context(), c.Param("id"), c.Param("taskId"))
	if err != nil {
		httpapi.Error(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, session)
}

func (h *SessionHandlers) unlinkTask(c *gin.Context) {
	session, err := h.service.UnlinkTask(c.Request.Context(), c.Param("id"), c.Param("taskId"))
	if err != nil {
		httpapi.Error(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, session)
}
