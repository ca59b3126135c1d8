// Package service implements project business logic, including the cascade
// that removes a project's tasks, sessions, and per-session artifacts.
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
	"github.com/maestro/maestro/internal/project/models"
	"github.com/maestro/maestro/internal/project/repository"
	sessionmodels "github.com/maestro/maestro/internal/session/models"
	taskmodels "github.com/maestro/maestro/internal/task/models"
)

const eventSource = "project-service"

// TaskCascader removes a project's tasks wholesale during cascade delete.
type TaskCascader interface {
	DeleteByProject(ctx context.Context, projectID string) ([]*taskmodels.Task, error)
}

// SessionCascader removes a project's sessions wholesale during cascade delete.
type SessionCascader interface {
	DeleteByProject(ctx context.Context, projectID string) ([]*sessionmodels.Session, error)
}

// SessionPurger drops the per-session artifacts (inbox files, queue state,
// team member overrides) that outlive the session record itself.
type SessionPurger interface {
	PurgeSession(ctx context.Context, sessionID string) error
}

// ProjectPurger drops per-project artifacts owned by another domain.
type ProjectPurger interface {
	PurgeProject(ctx context.Context, projectID string) error
}

// Service coordinates project mutations.
type Service struct {
	repo     repository.Repository
	tasks    TaskCascader
	sessions SessionCascader
	purgers  []SessionPurger
	project  []ProjectPurger
	bus      bus.EventBus
	locks    *keylock.KeyLock
	logger   *logger.Logger
	best     *besteffort.Counter
}

// NewService creates a project service. Session purgers run once per removed
// session during cascade delete; project purgers once per removed project.
func NewService(repo repository.Repository, tasks TaskCascader, sessions SessionCascader, eventBus bus.EventBus, locks *keylock.KeyLock, log *logger.Logger, best *besteffort.Counter) *Service {
	return &Service{
		repo:     repo,
		tasks:    tasks,
		sessions: sessions,
		bus:      eventBus,
		locks:    locks,
		logger:   log,
		best:     best,
	}
}

// AddSessionPurger registers a purger invoked for every session removed by a
// cascade. Wired after construction to break the dependency cycle with the
// domains that own the artifacts.
func (s *Service) AddSessionPurger(p SessionPurger) {
	s.purgers = append(s.purgers, p)
}

// AddProjectPurger registers a purger invoked for every removed project.
func (s *Service) AddProjectPurger(p ProjectPurger) {
	s.project = append(s.project, p)
}

// CreateProjectRequest carries the fields a caller may set at creation.
type CreateProjectRequest struct {
	Name       string `json:"name"`
	WorkingDir string `json:"workingDir"`
}

// UpdateProjectRequest is a partial patch. Nil fields are left untouched.
type UpdateProjectRequest struct {
	Name       *string `json:"name"`
	WorkingDir *string `json:"workingDir"`
}

// CreateProject validates and persists a new project, then emits
// project.created.
func (s *Service) CreateProject(ctx context.Context, req CreateProjectRequest) (*models.Project, error) {
	if req.Name == "" {
		return nil, apperrors.Validation("project name is required")
	}
	if req.WorkingDir == "" {
		return nil, apperrors.Validation("workingDir is required")
	}

	now := time.Now().UTC()
	project := &models.Project{
		ID:         ident.New(ident.KindProject),
		Name:       req.Name,
		WorkingDir: req.WorkingDir,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	if err := s.repo.Create(ctx, project); err != nil {
		return nil, err
	}
	s.publish(ctx, events.ProjectCreated, project.Clone())
	s.logger.WithProjectID(project.ID).Info("project created", zap.String("name", project.Name))
	return project, nil
}

// GetProject returns a project by ID.
func (s *Service) GetProject(ctx context.Context, id string) (*models.Project, error) {
	return s.repo.Get(ctx, id)
}

// ListProjects returns all projects.
func (s *Service) ListProjects(ctx context.Context) ([]*models.Project, error) {
	return s.repo.List(ctx)
}

// UpdateProject applies a partial patch and emits project.updated.
func (s *Service) UpdateProject(ctx context.Context, id string, req UpdateProjectRequest) (*models.Project, error) {
	s.locks.Lock(id)
	defer s.locks.Unlock(id)

	project, err := s.repo.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if req.Name != nil {
		if *req.Name == "" {
			return nil, apperrors.Validation("project name cannot be empty")
		}
		project.Name = *req.Name
	}
	if req.WorkingDir != nil {
		if *req.WorkingDir == "" {
			return nil, apperrors.Validation("workingDir cannot be empty")
		}
		project.WorkingDir = *req.WorkingDir
	}
	project.UpdatedAt = time.Now().UTC()
	if err := s.repo.Update(ctx, project); err != nil {
		return nil, err
	}
	s.publish(ctx, events.ProjectUpdated, project.Clone())
	return project, nil
}

// DeleteProject removes the project and cascades to its tasks and sessions.
// Event order is fixed: one project.deleted, then task.deleted per task, then
// session.deleted per session. Per-session artifacts (inbox files, queue
// state) are purged alongside.
func (s *Service) DeleteProject(ctx context.Context, id string) error {
	s.locks.Lock(id)
	defer s.locks.Unlock(id)

	project, err := s.repo.Get(ctx, id)
	if err != nil {
		return err
	}
	if err := s.repo.Delete(ctx, id); err != nil {
		return err
	}

	removedTasks, err := s.tasks.DeleteByProject(ctx, id)
	if err != nil {
		s.logger.WithError(err).Error("task cascade failed", zap.String("project_id", id))
	}
	removedSessions, err := s.sessions.DeleteByProject(ctx, id)
	if err != nil {
		s.logger.WithError(err).Error("session cascade failed", zap.String("project_id", id))
	}

	for _, sess := range removedSessions {
		for _, p := range s.purgers {
			if err := p.PurgeSession(ctx, sess.ID); err != nil {
				s.logger.WithError(err).Warn("session artifact purge failed",
					zap.String("session_id", sess.ID))
			}
		}
	}
	for _, p := range s.project {
		if err := p.PurgeProject(ctx, id); err != nil {
			s.logger.WithError(err).Warn("project artifact purge failed",
				zap.String("project_id", id))
		}
	}

	s.publish(ctx, events.ProjectDeleted, map[string]string{"id": project.ID})
	for _, task := range removedTasks {
		s.publish(ctx, events.TaskDeleted, map[string]string{
			"id":        task.ID,
			"projectId": task.ProjectID,
		})
	}
	for _, sess := range removedSessions {
		s.publish(ctx, events.SessionDeleted, map[string]string{
			"id":        sess.ID,
			"projectId": sess.ProjectID,
		})
	}

	s.logger.WithProjectID(id).Info("project deleted",
		zap.Int("tasks_removed", len(removedTasks)),
		zap.Int("sessions_removed", len(removedSessions)))
	return nil
}

func (s *Service) publish(ctx context.Context, subject string, data interface{}) {
	s.best.Do(s.logger, "publish "+subject, func() error {
		return s.bus.Publish(ctx, subject, bus.NewEvent(subject, eventSource, data))
	})
}
