// Package handlers exposes the team member REST API.
package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/maestro/maestro/internal/common/httpapi"
	"github.com/maestro/maestro/internal/common/logger"
	"github.com/maestro/maestro/internal/teammember/models"
	"github.com/maestro/maestro/internal/teammember/service"
)

type TeamMemberHandlers struct {
	service *service.Service
	logger  *logger.Logger
}

func NewTeamMemberHandlers(svc *service.Service, log *logger.Logger) *TeamMemberHandlers {
	return &TeamMemberHandlers{
		service: svc,
		logger:  log.WithFields(zap.String("component", "teammember-handlers")),
	}
}

func RegisterTeamMemberRoutes(router *gin.Engine, svc *service.Service, log *logger.Logger) {
	h := NewTeamMemberHandlers(svc, log)
	api := router.Group("/api/v1")
	api.GET("/team-members", h.listTeamMembers)
	api.POST("/team-members", h.createTeamMember)
	api.GET("/team-members/:id", h.getTeamMember)
	api.PATCH("/team-members/:id", h.updateTeamMember)
	api.DELETE("/team-members/:id", h.deleteTeamMember)
	api.POST("/team-members/:id/archive", h.archiveTeamMember)
	api.POST("/team-members/:id/unarchive", h.unarchiveTeamMember)
	api.POST("/team-members/:id/reset", h.resetTeamMember)
}

type listTeamMembersResponse struct {
	TeamMembers []*models.TeamMember `json:"teamMembers"`
	Total       int                  `json:"total"`
}

func (h *TeamMemberHandlers) listTeamMembers(c *gin.Context) {
	projectID := c.Query("projectId")
	if projectID == "" {
		httpapi.BadRequest(c, "projectId query parameter is required")
		return
	}
	members, err := h.service.ListByProject(c.Request.Context(), projectID)
	if err != nil {
		httpapi.Error(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, listTeamMembersResponse{TeamMembers: members, Total: len(members)})
}

func (h *TeamMemberHandlers) createTeamMember(c *gin.Context) {
	var req service.CreateTeamMemberRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		httpapi.BadRequest(c, "invalid request body")
		return
	}
	member, err := h.service.Create(c.Request.Context(), req)
	if err != nil {
		httpapi.Error(c, h.logger, err)
		return
	}
	c.JSON(http.StatusCreated, member)
}

func (h *TeamMemberHandlers) getTeamMember(c *gin.Context) {
	member, err := h.service.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		httpapi.Error(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, member)
}

func (h *TeamMemberHandlers) updateTeamMember(c *gin.Context) {
	var req service.UpdateTeamMemberRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		httpapi.BadRequest(c, "invalid request body")
		return
	}
	member, err := h.service.Update(c.Request.Context(), c.Param("id"), req)
	if err != nil {
		httpapi.Error(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, member)
}

func (h *TeamMemberHandlers) deleteTeamMember(c *gin.Context) {
	if err := h.service.Delete(c.Request.Context(), c.Param("id")); err != nil {
		httpapi.Error(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"deleted": true})
}

func (h *TeamMemberHandlers) archiveTeamMember(c *gin.Context) {
	member, err := h.service.Archive(c.Request.Context(), c.Param("id"))
	if err != nil {
		httpapi.Error(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, member)
}

func (h *TeamMemberHandlers) unarchiveTeamMember(c *gin.Context) {
	member, err := h.service.Unarchive(c.Request.Context(), c.Param("id"))
	if err != nil {
		httpapi.Error(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, member)
}

func (h *TeamMemberHandlers) resetTeamMember(c *gin.Context) {
	member, err := h.service.Reset(c.Request.Context(), c.Param("id"))
	if err != nil {
		httpapi.Error(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, member)
}
