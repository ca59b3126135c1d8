// Package handlers exposes the task REST API.
package handlers

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/maestro/maestro/internal/common/httpapi"
	"github.com/maestro/maestro/internal/common/logger"
	"github.com/maestro/maestro/internal/task/models"
	"github.com/maestro/maestro/internal/task/service"
	v1 "github.com/maestro/maestro/pkg/api/v1"
)

type TaskHandlers struct {
	service *service.Service
	logger  *logger.Logger
}

func NewTaskHandlers(svc *service.Service, log *logger.Logger) *TaskHandlers {
	return &TaskHandlers{
		service: svc,
		logger:  log.WithFields(zap.String("component", "task-handlers")),
	}
}

func RegisterTaskRoutes(router *gin.Engine, svc *service.Service, log *logger.Logger) {
	h := NewTaskHandlers(svc, log)
	api := router.Group("/api/v1")
	api.GET("/tasks", h.listTasks)
	api.POST("/tasks", h.createTask)
	api.GET("/tasks/:id", h.getTask)
	api.PATCH("/tasks/:id", h.updateTask)
	api.DELETE("/tasks/:id", h.deleteTask)
	api.GET("/tasks/:id/children", h.listChildren)
	api.POST("/tasks/:id/timeline", h.appendTimeline)
}

type listTasksResponse struct {
	Tasks []*models.Task `json:"tasks"`
	Total int            `json:"total"`
}

// listTasks supports ?projectId=&status=&priority=&parentId= filters.
func (h *TaskHandlers) listTasks(c *gin.Context) {
	tasks, err := h.service.ListTasks(c.Request.Context(), c.Query("projectId"))
	if err != nil {
		httpapi.Error(c, h.logger, err)
		return
	}

	filtered := tasks[:0]
	status := c.Query("status")
	parentID, hasParent := c.GetQuery("parentId")
	priorityRaw, hasPriority := c.GetQuery("priority")
	priority, _ := strconv.Atoi(priorityRaw)
	for _, t := range tasks {
		if status != "" && string(t.Status) != status {
			continue
		}
		if hasParent && t.ParentID != parentID {
			continue
		}
		if hasPriority && t.Priority != priority {
			continue
		}
		filtered = append(filtered, t)
	}

	c.JSON(http.StatusOK, listTasksResponse{Tasks: filtered, Total: len(filtered)})
}

func (h *TaskHandlers) createTask(c *gin.Context) {
	var req service.CreateTaskRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		httpapi.BadRequest(c, "invalid request body")
		return
	}
	task, err := h.service.CreateTask(c.Request.Context(), req)
	if err != nil {
		httpapi.Error(c, h.logger, err)
		return
	}
	c.JSON(http.StatusCreated, task)
}

func (h *TaskHandlers) getTask(c *gin.Context) {
	task, err := h.service.GetTask(c.Request.Context(), c.Param("id"))
	if err != nil {
		httpapi.Error(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, task)
}

func (h *TaskHandlers) updateTask(c *gin.Context) {
	var req service.UpdateTaskRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		httpapi.BadRequest(c, "invalid request body")
		return
	}
	task, err := h.service.UpdateTask(c.Request.Context(), c.Param("id"), req)
	if err != nil {
		httpapi.Error(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, task)
}

func (h *TaskHandlers) deleteTask(c *gin.Context) {
	if err := h.service.DeleteTask(c.Request.Context(), c.Param("id")); err != nil {
		httpapi.Error(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"deleted": true})
}

func (h *TaskHandlers) listChildren(c *gin.Context) {
	children, err := h.service.ListChildren(c.Request.Context(), c.Param("id"))
	if err != nil {
		httpapi.Error(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, listTasksResponse{Tasks: children, Total: len(children)})
}

type appendTimelineRequest struct {
	Event        string          `json:"event"`
	Note         string          `json:"note"`
	UpdateSource v1.UpdateSource `json:"updateSource"`
	SessionID    string          `json:"sessionId"`
}

func (h *TaskHandlers) appendTimeline(c *gin.Context) {
	var req appendTimelineRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		httpapi.BadRequest(c, "invalid request body")
		return
	}
	task, err := h.service.AppendTimeline(c.Request.Context(), c.Param("id"), models.TimelineEntry{
		Event:        req.Event,
		Note:         req.Note,
		UpdateSource: req.UpdateSource,
		SessionID:    req.SessionID,
	})
	if err != nil {
		httpapi.Error(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, task)
}
