// Package service implements team member business logic: code defaults with
// on-disk override patches, custom member CRUD, and the archive-then-delete
// lifecycle.
package service

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/maestro/maestro/internal/common/apperrors"
	"github.com/maestro/maestro/internal/common/besteffort"
	"github.com/maestro/maestro/internal/common/ident"
	"github.com/maestro/maestro/internal/common/keylock"
	"github.com/maestro/maestro/internal/common/logger"
	"github.com/maestro/maestro/internal/events"
	"github.com/maestro/maestro/internal/events/bus"
	projectmodels "github.com/maestro/maestro/internal/project/models"
	"github.com/maestro/maestro/internal/teammember/models"
	"github.com/maestro/maestro/internal/teammember/repository"
	v1 "github.com/maestro/maestro/pkg/api/v1"
)

const eventSource = "teammember-service"

// ProjectGetter is the slice of the project service the team member service
// needs.
type ProjectGetter interface {
	GetProject(ctx context.Context, id string) (*projectmodels.Project, error)
}

// Service coordinates team member mutations.
type Service struct {
	repo     repository.Repository
	projects ProjectGetter
	bus      bus.EventBus
	locks    *keylock.KeyLock
	logger   *logger.Logger
	best     *besteffort.Counter
}

// NewService creates a team member service.
func NewService(repo repository.Repository, projects ProjectGetter, eventBus bus.EventBus, locks *keylock.KeyLock, log *logger.Logger, best *besteffort.Counter) *Service {
	return &Service{
		repo:     repo,
		projects: projects,
		bus:      eventBus,
		locks:    locks,
		logger:   log,
		best:     best,
	}
}

// CreateTeamMemberRequest carries the fields a caller may set when creating a
// custom member.
type CreateTeamMemberRequest struct {
	ProjectID string            `json:"projectId"`
	Name      string            `json:"name"`
	Role      v1.TeamMemberRole `json:"role"`
	Identity  string            `json:"identity"`
	Avatar    string            `json:"avatar"`
	Model     string            `json:"model"`
	AgentTool string            `json:"agentTool"`
	SkillIDs  []string          `json:"skillIds"`
}

// UpdateTeamMemberRequest is a partial patch. For default members it is
// stored as the override; for custom members it mutates the record.
type UpdateTeamMemberRequest struct {
	Name      *string   `json:"name"`
	Identity  *string   `json:"identity"`
	Avatar    *string   `json:"avatar"`
	Model     *string   `json:"model"`
	AgentTool *string   `json:"agentTool"`
	SkillIDs  *[]string `json:"skillIds"`
}

func (r UpdateTeamMemberRequest) empty() bool {
	return r.Name == nil && r.Identity == nil && r.Avatar == nil &&
		r.Model == nil && r.AgentTool == nil && r.SkillIDs == nil
}

// Create persists a new custom team member and emits team_member.created.
func (s *Service) Create(ctx context.Context, req CreateTeamMemberRequest) (*models.TeamMember, error) {
	if req.Name == "" {
		return nil, apperrors.Validation("team member name is required")
	}
	if !v1.ValidTeamMemberRole(req.Role) {
		return nil, apperrors.Validation("invalid team member role %q", req.Role)
	}
	if req.ProjectID == "" {
		return nil, apperrors.Validation("projectId is required")
	}
	if _, err := s.projects.GetProject(ctx, req.ProjectID); err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	member := &models.TeamMember{
		ID:        ident.New(ident.KindTeamMember),
		ProjectID: req.ProjectID,
		Name:      req.Name,
		Role:      req.Role,
		Identity:  req.Identity,
		Avatar:    req.Avatar,
		Model:     req.Model,
		AgentTool: req.AgentTool,
		SkillIDs:  append([]string(nil), req.SkillIDs...),
		Status:    v1.TeamMemberActive,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := s.repo.CreateCustom(ctx, member); err != nil {
		return nil, err
	}
	s.publish(ctx, events.TeamMemberCreated, member.Clone())
	s.logger.Info("team member created",
		zap.String("team_member_id", member.ID),
		zap.String("project_id", member.ProjectID))
	return member, nil
}

// Get returns the effective record: for defaults, the code default merged
// with any stored override; for custom members, the stored record.
func (s *Service) Get(ctx context.Context, id string) (*models.TeamMember, error) {
	if projectID, role, ok := parseDefaultID(id); ok {
		if _, err := s.projects.GetProject(ctx, projectID); err != nil {
			return nil, err
		}
		override, err := s.repo.GetOverride(ctx, projectID, id)
		if err != nil {
			return nil, err
		}
		return override.Apply(codeDefault(projectID, role)), nil
	}
	return s.repo.GetCustom(ctx, id)
}

// ListByProject returns the project's two defaults (effective form) followed
// by its custom members.
func (s *Service) ListByProject(ctx context.Context, projectID string) ([]*models.TeamMember, error) {
	if _, err := s.projects.GetProject(ctx, projectID); err != nil {
		return nil, err
	}

	result := make([]*models.TeamMember, 0, 2)
	for _, role := range []v1.TeamMemberRole{v1.TeamMemberRoleWorker, v1.TeamMemberRoleCoordinator} {
		base := codeDefault(projectID, role)
		override, err := s.repo.GetOverride(ctx, projectID, base.ID)
		if err != nil {
			return nil, err
		}
		result = append(result, override.Apply(base))
	}
	custom, err := s.repo.ListCustomByProject(ctx, projectID)
	if err != nil {
		return nil, err
	}
	return append(result, custom...), nil
}

// Update applies a partial patch. Patching a default stores (or extends) its
// override file; an empty merged override is removed so the record lands back
// on the code default.
func (s *Service) Update(ctx context.Context, id string, req UpdateTeamMemberRequest) (*models.TeamMember, error) {
	s.locks.Lock(id)
	defer s.locks.Unlock(id)

	if projectID, role, ok := parseDefaultID(id); ok {
		return s.updateDefault(ctx, projectID, role, id, req)
	}

	member, err := s.repo.GetCustom(ctx, id)
	if err != nil {
		return nil, err
	}
	if req.Name != nil {
		if *req.Name == "" {
			return nil, apperrors.Validation("team member name cannot be empty")
		}
		member.Name = *req.Name
	}
	if req.Identity != nil {
		member.Identity = *req.Identity
	}
	if req.Avatar != nil {
		member.Avatar = *req.Avatar
	}
	if req.Model != nil {
		member.Model = *req.Model
	}
	if req.AgentTool != nil {
		member.AgentTool = *req.AgentTool
	}
	if req.SkillIDs != nil {
		member.SkillIDs = append([]string(nil), (*req.SkillIDs)...)
	}
	member.UpdatedAt = time.Now().UTC()
	if err := s.repo.UpdateCustom(ctx, member); err != nil {
		return nil, err
	}
	s.publish(ctx, events.TeamMemberUpdated, member.Clone())
	return member, nil
}

func (s *Service) updateDefault(ctx context.Context, projectID string, role v1.TeamMemberRole, id string, req UpdateTeamMemberRequest) (*models.TeamMember, error) {
	if _, err := s.projects.GetProject(ctx, projectID); err != nil {
		return nil, err
	}
	override, err := s.repo.GetOverride(ctx, projectID, id)
	if err != nil {
		return nil, err
	}
	if override == nil {
		override = &models.Override{}
	}
	if req.Name != nil {
		if *req.Name == "" {
			return nil, apperrors.Validation("team member name cannot be empty")
		}
		override.Name = req.Name
	}
	if req.Identity != nil {
		override.Identity = req.Identity
	}
	if req.Avatar != nil {
		override.Avatar = req.Avatar
	}
	if req.Model != nil {
		override.Model = req.Model
	}
	if req.AgentTool != nil {
		override.AgentTool = req.AgentTool
	}
	if req.SkillIDs != nil {
		skills := append([]string(nil), (*req.SkillIDs)...)
		override.SkillIDs = &skills
	}

	if override.Empty() {
		// Nothing is patched; make sure no stale override file lingers.
		if err := s.repo.DeleteOverride(ctx, projectID, id); err != nil {
			return nil, err
		}
		return codeDefault(projectID, role), nil
	}

	override.UpdatedAt = time.Now().UTC()
	if err := s.repo.SaveOverride(ctx, projectID, id, override); err != nil {
		return nil, err
	}
	effective := override.Apply(codeDefault(projectID, role))
	s.publish(ctx, events.TeamMemberUpdated, effective.Clone())
	return effective, nil
}

// Reset removes a default's override so subsequent reads return the code
// default unchanged. Resetting a custom member is meaningless.
func (s *Service) Reset(ctx context.Context, id string) (*models.TeamMember, error) {
	s.locks.Lock(id)
	defer s.locks.Unlock(id)

	projectID, role, ok := parseDefaultID(id)
	if !ok {
		return nil, apperrors.Validation("reset only applies to default team members")
	}
	if _, err := s.projects.GetProject(ctx, projectID); err != nil {
		return nil, err
	}
	if err := s.repo.DeleteOverride(ctx, projectID, id); err != nil {
		return nil, err
	}
	member := codeDefault(projectID, role)
	s.publish(ctx, events.TeamMemberUpdated, member.Clone())
	s.logger.Info("team member reset to default", zap.String("team_member_id", id))
	return member, nil
}

// Archive marks a custom member archived. Defaults cannot be archived.
func (s *Service) Archive(ctx context.Context, id string) (*models.TeamMember, error) {
	return s.setStatus(ctx, id, v1.TeamMemberArchived, events.TeamMemberArchived)
}

// Unarchive reactivates an archived custom member.
func (s *Service) Unarchive(ctx context.Context, id string) (*models.TeamMember, error) {
	return s.setStatus(ctx, id, v1.TeamMemberActive, events.TeamMemberUpdated)
}

func (s *Service) setStatus(ctx context.Context, id string, status v1.TeamMemberStatus, subject string) (*models.TeamMember, error) {
	s.locks.Lock(id)
	defer s.locks.Unlock(id)

	if _, _, ok := parseDefaultID(id); ok {
		return nil, apperrors.Forbidden("default team members cannot be archived")
	}
	member, err := s.repo.GetCustom(ctx, id)
	if err != nil {
		return nil, err
	}
	if member.Status == status {
		return member, nil
	}
	member.Status = status
	member.UpdatedAt = time.Now().UTC()
	if err := s.repo.UpdateCustom(ctx, member); err != nil {
		return nil, err
	}
	s.publish(ctx, subject, member.Clone())
	return member, nil
}

// Delete removes a custom member. Defaults cannot be deleted; custom members
// must be archived first.
func (s *Service) Delete(ctx context.Context, id string) error {
	s.locks.Lock(id)
	defer s.locks.Unlock(id)

	if _, _, ok := parseDefaultID(id); ok {
		return apperrors.Forbidden("default team members cannot be deleted, only reset")
	}
	member, err := s.repo.GetCustom(ctx, id)
	if err != nil {
		return err
	}
	if member.Status != v1.TeamMemberArchived {
		return apperrors.Conflict("team member %s must be archived before deletion", id)
	}
	if err := s.repo.DeleteCustom(ctx, id); err != nil {
		return err
	}
	s.publish(ctx, events.TeamMemberDeleted, map[string]string{
		"id":        member.ID,
		"projectId": member.ProjectID,
	})
	s.logger.Info("team member deleted", zap.String("team_member_id", id))
	return nil
}

// ResolveForSpawn returns the effective member a spawn should attach: the
// requested one when teamMemberID is set, otherwise the project default
// matching the session mode.
func (s *Service) ResolveForSpawn(ctx context.Context, projectID, teamMemberID string, mode v1.SessionMode) (*models.TeamMember, error) {
	if teamMemberID == "" {
		role := v1.TeamMemberRoleWorker
		if mode == v1.SessionModeCoordinator {
			role = v1.TeamMemberRoleCoordinator
		}
		return s.Get(ctx, ident.DefaultTeamMemberID(projectID, string(role)))
	}

	member, err := s.Get(ctx, teamMemberID)
	if err != nil {
		return nil, err
	}
	if member.ProjectID != projectID {
		return nil, apperrors.Validation("team member %s belongs to a different project", teamMemberID)
	}
	if member.Status != v1.TeamMemberActive {
		return nil, apperrors.Conflict("team member %s is archived", teamMemberID)
	}
	return member, nil
}

// PurgeProject drops the project's team member records and overrides. Used
// by the project cascade.
func (s *Service) PurgeProject(ctx context.Context, projectID string) error {
	return s.repo.DeleteByProject(ctx, projectID)
}

func (s *Service) publish(ctx context.Context, subject string, data interface{}) {
	s.best.Do(s.logger, "publish "+subject, func() error {
		return s.bus.Publish(ctx, subject, bus.NewEvent(subject, eventSource, data))
	})
}
