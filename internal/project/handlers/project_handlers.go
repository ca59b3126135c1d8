// Package handlers exposes the project REST API.
package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/maestro/maestro/internal/common/httpapi"
	"github.com/maestro/maestro/internal/common/logger"
	"github.com/maestro/maestro/internal/project/models"
	"github.com/maestro/maestro/internal/project/service"
)

type ProjectHandlers struct {
	service *service.Service
	logger  *logger.Logger
}

func NewProjectHandlers(svc *service.Service, log *logger.Logger) *ProjectHandlers {
	return &ProjectHandlers{
		service: svc,
		logger:  log.WithFields(zap.String("component", "project-handlers")),
	}
}

func RegisterProjectRoutes(router *gin.Engine, svc *service.Service, log *logger.Logger) {
	h := NewProjectHandlers(svc, log)
	api := router.Group("/api/v1")
	api.GET("/projects", h.listProjects)
	api.POST("/projects", h.createProject)
	api.GET("/projects/:id", h.getProject)
	api.PATCH("/projects/:id", h.updateProject)
	api.DELETE("/projects/:id", h.deleteProject)
}

type listProjectsResponse struct {
	Projects []*models.Project `json:"projects"`
	Total    int               `json:"total"`
}

func (h *ProjectHandlers) listProjects(c *gin.Context) {
	projects, err := h.service.ListProjects(c.Request.Context())
	if err != nil {
		httpapi.Error(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, listProjectsResponse{Projects: projects, Total: len(projects)})
}

func (h *ProjectHandlers) createProject(c *gin.Context) {
	var req service.CreateProjectRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		httpapi.BadRequest(c, "invalid request body")
		return
	}
	project, err := h.service.CreateProject(c.Request.Context(), req)
	if err != nil {
		httpapi.Error(c, h.logger, err)
		return
	}
	c.JSON(http.StatusCreated, project)
}

func (h *ProjectHandlers) getProject(c *gin.Context) {
	project, err := h.service.GetProject(c.Request.Context(), c.Param("id"))
	if err != nil {
		httpapi.Error(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, project)
}

func (h *ProjectHandlers) updateProject(c *gin.Context) {
	var req service.UpdateProjectRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		httpapi.BadRequest(c, "invalid request body")
		return
	}
	project, err := h.service.UpdateProject(c.Request.Context(), c.Param("id"), req)
	if err != nil {
		httpapi.Error(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, project)
}

func (h *ProjectHandlers) deleteProject(c *gin.Context) {
	if err := h.service.DeleteProject(c.Request.Context(), c.Param("id")); err != nil {
		httpapi.Error(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"deleted": true})
}
