// Package service implements task business logic: creation, the
// update-source narrowing rules, parent/child structure, and cascade
// behavior on delete.
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
	sessionmodels "github.com/maestro/maestro/internal/session/models"
	"github.com/maestro/maestro/internal/task/models"
	"github.com/maestro/maestro/internal/task/repository"
	v1 "github.com/maestro/maestro/pkg/api/v1"
)

const eventSource = "task-service"

// ProjectGetter is the slice of the project service the task service needs.
type ProjectGetter interface {
	GetProject(ctx context.Context, id string) (*projectmodels.Project, error)
}

// SessionStore is the slice of the session repository used for unlinking
// sessions when a task is deleted.
type SessionStore interface {
	Get(ctx context.Context, id string) (*sessionmodels.Session, error)
	Update(ctx context.Context, session *sessionmodels.Session) error
}

// Service coordinates task mutations. All read-modify-write cycles on a task
// run under its key lock; events are emitted after the write lands.
type Service struct {
	repo     repository.Repository
	projects ProjectGetter
	sessions SessionStore
	bus      bus.EventBus
	locks    *keylock.KeyLock
	logger   *logger.Logger
	best     *besteffort.Counter
}

// NewService creates a task service.
func NewService(repo repository.Repository, projects ProjectGetter, sessions SessionStore, eventBus bus.EventBus, locks *keylock.KeyLock, log *logger.Logger, best *besteffort.Counter) *Service {
	return &Service{
		repo:     repo,
		projects: projects,
		sessions: sessions,
		bus:      eventBus,
		locks:    locks,
		logger:   log,
		best:     best,
	}
}

// CreateTaskRequest carries the fields a caller may set at creation.
type CreateTaskRequest struct {
	ProjectID    string        `json:"projectId"`
	ParentID     string        `json:"parentId"`
	Title        string        `json:"title"`
	Description  string        `json:"description"`
	Status       v1.TaskStatus `json:"status"`
	Priority     int           `json:"priority"`
	Dependencies []string      `json:"dependencies"`
}

// UpdateTaskRequest is a partial patch. Nil fields are left untouched.
// UpdateSource decides which fields may apply: "user" may touch every
// user-owned field but never the session status map; "session" is narrowed to
// the caller's own taskSessionStatuses entry and everything else is ignored.
type UpdateTaskRequest struct {
	Title        *string       `json:"title"`
	Description  *string       `json:"description"`
	Status       *v1.TaskStatus `json:"status"`
	Priority     *int          `json:"priority"`
	ParentID     *string       `json:"parentId"`
	Dependencies *[]string     `json:"dependencies"`

	SessionStatus *v1.TaskSessionStatus `json:"sessionStatus"`

	UpdateSource v1.UpdateSource `json:"updateSource"`
	SessionID    string          `json:"sessionId"`
}

// CreateTask validates and persists a new task, then emits task.created.
func (s *Service) CreateTask(ctx context.Context, req CreateTaskRequest) (*models.Task, error) {
	if req.Title == "" {
		return nil, apperrors.Validation("task title is required")
	}
	if req.ProjectID == "" {
		return nil, apperrors.Validation("projectId is required")
	}
	if _, err := s.projects.GetProject(ctx, req.ProjectID); err != nil {
		return nil, err
	}
	status := req.Status
	if status == "" {
		status = v1.TaskStatusTodo
	}
	if !v1.ValidTaskStatus(status) {
		return nil, apperrors.Validation("invalid task status %q", status)
	}
	if req.ParentID != "" {
		parent, err := s.repo.Get(ctx, req.ParentID)
		if err != nil {
			if apperrors.IsCode(err, apperrors.CodeNotFound) {
				return nil, apperrors.Conflict("parent task %s does not exist", req.ParentID)
			}
			return nil, err
		}
		if parent.ProjectID != req.ProjectID {
			return nil, apperrors.Conflict("parent task %s belongs to a different project", req.ParentID)
		}
	}

	now := time.Now().UTC()
	task := &models.Task{
		ID:                  ident.New(ident.KindTask),
		ProjectID:           req.ProjectID,
		ParentID:            req.ParentID,
		Title:               req.Title,
		Description:         req.Description,
		Status:              status,
		Priority:            req.Priority,
		CreatedAt:           now,
		UpdatedAt:           now,
		SessionIDs:          []string{},
		TaskSessionStatuses: map[string]v1.TaskSessionStatus{},
		Dependencies:        append([]string(nil), req.Dependencies...),
	}
	task.Timeline = []models.TimelineEntry{{
		ID:           ident.New(ident.KindEvent),
		At:           now,
		Event:        "created",
		To:           string(status),
		UpdateSource: v1.UpdateSourceUser,
	}}
	if status == v1.TaskStatusInProgress {
		task.StartedAt = &now
	}

	if err := s.repo.Create(ctx, task); err != nil {
		return nil, err
	}
	s.publish(ctx, events.TaskCreated, task.Clone())
	s.logger.WithTaskID(task.ID).Info("task created", zap.String("project_id", task.ProjectID))
	return task, nil
}

// GetTask returns a task by ID.
func (s *Service) GetTask(ctx context.Context, id string) (*models.Task, error) {
	return s.repo.Get(ctx, id)
}

// ListTasks lists tasks, optionally filtered by project.
func (s *Service) ListTasks(ctx context.Context, projectID string) ([]*models.Task, error) {
	if projectID != "" {
		return s.repo.ListByProject(ctx, projectID)
	}
	return s.repo.List(ctx)
}

// ListChildren returns the direct children of a task.
func (s *Service) ListChildren(ctx context.Context, taskID string) ([]*models.Task, error) {
	if _, err := s.repo.Get(ctx, taskID); err != nil {
		return nil, err
	}
	return s.repo.ListByParent(ctx, taskID)
}

// UpdateTask applies a partial patch under the update-source rules and emits
// task.updated. Session-sourced patches only ever touch the caller's own
// entry in taskSessionStatuses; the remaining fields are ignored.
func (s *Service) UpdateTask(ctx context.Context, id string, req UpdateTaskRequest) (*models.Task, error) {
	source := req.UpdateSource
	if source == "" {
		source = v1.UpdateSourceUser
	}
	if source != v1.UpdateSourceUser && source != v1.UpdateSourceSession {
		return nil, apperrors.Validation("invalid updateSource %q", source)
	}

	s.locks.Lock(id)
	defer s.locks.Unlock(id)

	task, err := s.repo.Get(ctx, id)
	if err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	switch source {
	case v1.UpdateSourceSession:
		applied, err := s.applySessionPatch(task, req, now)
		if err != nil {
			return nil, err
		}
		// Everything else in a session-sourced patch is silently dropped,
		// so a patch carrying no sessionStatus applies nothing.
		if !applied {
			return task, nil
		}
	case v1.UpdateSourceUser:
		if err := s.applyUserPatch(ctx, task, req, now); err != nil {
			return nil, err
		}
	}

	task.UpdatedAt = now
	if err := s.repo.Update(ctx, task); err != nil {
		return nil, err
	}
	s.publish(ctx, events.TaskUpdated, task.Clone())
	return task, nil
}

func (s *Service) applySessionPatch(task *models.Task, req UpdateTaskRequest, now time.Time) (bool, error) {
	if req.SessionID == "" {
		return false, apperrors.Validation("sessionId is required for session-sourced updates")
	}
	if !task.HasSession(req.SessionID) {
		return false, apperrors.Forbidden("session %s is not linked to task %s", req.SessionID, task.ID)
	}
	if req.SessionStatus == nil {
		return false, nil
	}
	if !v1.ValidTaskSessionStatus(*req.SessionStatus) {
		return false, apperrors.Validation("invalid sessionStatus %q", *req.SessionStatus)
	}
	prev := task.TaskSessionStatuses[req.SessionID]
	task.TaskSessionStatuses[req.SessionID] = *req.SessionStatus
	if prev != *req.SessionStatus {
		task.Timeline = append(task.Timeline, models.TimelineEntry{
			ID:           ident.New(ident.KindEvent),
			At:           now,
			Event:        "session_status_changed",
			From:         string(prev),
			To:           string(*req.SessionStatus),
			UpdateSource: v1.UpdateSourceSession,
			SessionID:    req.SessionID,
		})
	}
	return true, nil
}

func (s *Service) applyUserPatch(ctx context.Context, task *models.Task, req UpdateTaskRequest, now time.Time) error {
	if req.SessionStatus != nil {
		return apperrors.Validation("sessionStatus can only be set by session-sourced updates")
	}
	if req.Title != nil {
		if *req.Title == "" {
			return apperrors.Validation("task title cannot be empty")
		}
		task.Title = *req.Title
	}
	if req.Description != nil {
		task.Description = *req.Description
	}
	if req.Priority != nil {
		task.Priority = *req.Priority
	}
	if req.Dependencies != nil {
		task.Dependencies = append([]string(nil), (*req.Dependencies)...)
	}
	if req.ParentID != nil {
		if err := s.reparent(ctx, task, *req.ParentID); err != nil {
			return err
		}
	}
	if req.Status != nil && *req.Status != task.Status {
		if !v1.ValidTaskStatus(*req.Status) {
			return apperrors.Validation("invalid task status %q", *req.Status)
		}
		prev := task.Status
		task.Status = *req.Status
		switch *req.Status {
		case v1.TaskStatusInProgress:
			if task.StartedAt == nil {
				at := now
				task.StartedAt = &at
			}
		case v1.TaskStatusCompleted:
			at := now
			task.CompletedAt = &at
		}
		if prev == v1.TaskStatusCompleted && *req.Status != v1.TaskStatusCompleted {
			task.CompletedAt = nil
		}
		task.Timeline = append(task.Timeline, models.TimelineEntry{
			ID:           ident.New(ident.KindEvent),
			At:           now,
			Event:        "status_changed",
			From:         string(prev),
			To:           string(*req.Status),
			UpdateSource: v1.UpdateSourceUser,
		})
	}
	return nil
}

// reparent moves the task under newParent (or to the root when empty),
// rejecting cross-project parents and cycles.
func (s *Service) reparent(ctx context.Context, task *models.Task, newParent string) error {
	if newParent == "" {
		task.ParentID = ""
		return nil
	}
	if newParent == task.ID {
		return apperrors.Conflict("task cannot be its own parent")
	}
	parent, err := s.repo.Get(ctx, newParent)
	if err != nil {
		if apperrors.IsCode(err, apperrors.CodeNotFound) {
			return apperrors.Conflict("parent task %s does not exist", newParent)
		}
		return err
	}
	if parent.ProjectID != task.ProjectID {
		return apperrors.Conflict("parent task %s belongs to a different project", newParent)
	}
	// Walk the ancestor chain to reject cycles.
	for cur := parent; cur.ParentID != ""; {
		if cur.ParentID == task.ID {
			return apperrors.Conflict("reparenting %s under %s would create a cycle", task.ID, newParent)
		}
		cur, err = s.repo.Get(ctx, cur.ParentID)
		if err != nil {
			return err
		}
	}
	task.ParentID = newParent
	return nil
}

// ApplySessionStatus records a session's progress on a task. Used by the
// queue runner; equivalent to a session-sourced PATCH of sessionStatus.
func (s *Service) ApplySessionStatus(ctx context.Context, taskID, sessionID string, status v1.TaskSessionStatus) (*models.Task, error) {
	return s.UpdateTask(ctx, taskID, UpdateTaskRequest{
		UpdateSource:  v1.UpdateSourceSession,
		SessionID:     sessionID,
		SessionStatus: &status,
	})
}

// AppendTimeline appends a free-form note to the task timeline.
func (s *Service) AppendTimeline(ctx context.Context, taskID string, entry models.TimelineEntry) (*models.Task, error) {
	s.locks.Lock(taskID)
	defer s.locks.Unlock(taskID)

	task, err := s.repo.Get(ctx, taskID)
	if err != nil {
		return nil, err
	}
	if entry.Event == "" {
		return nil, apperrors.Validation("timeline event is required")
	}
	entry.ID = ident.New(ident.KindEvent)
	if entry.At.IsZero() {
		entry.At = time.Now().UTC()
	}
	task.Timeline = append(task.Timeline, entry)
	task.UpdatedAt = time.Now().UTC()
	if err := s.repo.Update(ctx, task); err != nil {
		return nil, err
	}
	s.publish(ctx, events.TaskUpdated, task.Clone())
	return task, nil
}

// DeleteTask removes a task, unlinks it from its sessions, and orphans its
// children (they become roots). Emits task.deleted plus one session.updated
// per formerly linked session.
func (s *Service) DeleteTask(ctx context.Context, id string) error {
	s.locks.Lock(id)
	task, err := s.repo.Get(ctx, id)
	if err != nil {
		s.locks.Unlock(id)
		return err
	}
	children, err := s.repo.ListByParent(ctx, id)
	if err != nil {
		s.locks.Unlock(id)
		return err
	}
	if err := s.repo.Delete(ctx, id); err != nil {
		s.locks.Unlock(id)
		return err
	}
	s.locks.Unlock(id)

	for _, child := range children {
		s.locks.Lock(child.ID)
		c, err := s.repo.Get(ctx, child.ID)
		if err == nil {
			c.ParentID = ""
			c.UpdatedAt = time.Now().UTC()
			if err = s.repo.Update(ctx, c); err == nil {
				s.publish(ctx, events.TaskUpdated, c.Clone())
			}
		}
		s.locks.Unlock(child.ID)
		if err != nil {
			s.logger.WithError(err).Warn("failed to orphan child task",
				zap.String("task_id", child.ID))
		}
	}

	for _, sessionID := range task.SessionIDs {
		s.unlinkFromSession(ctx, sessionID, id)
	}

	s.publish(ctx, events.TaskDeleted, map[string]string{
		"id":        task.ID,
		"projectId": task.ProjectID,
	})
	s.logger.WithTaskID(id).Info("task deleted")
	return nil
}

func (s *Service) unlinkFromSession(ctx context.Context, sessionID, taskID string) {
	s.locks.Lock(sessionID)
	defer s.locks.Unlock(sessionID)

	sess, err := s.sessions.Get(ctx, sessionID)
	if err != nil {
		s.logger.WithError(err).Warn("failed to load session for task unlink",
			zap.String("session_id", sessionID), zap.String("task_id", taskID))
		return
	}
	if !sess.HasTask(taskID) {
		return
	}
	sess.RemoveTask(taskID)
	sess.LastActivity = time.Now().UTC()
	if err := s.sessions.Update(ctx, sess); err != nil {
		s.logger.WithError(err).Warn("failed to unlink task from session",
			zap.String("session_id", sessionID), zap.String("task_id", taskID))
		return
	}
	s.publish(ctx, events.SessionUpdated, sess.Clone())
}

func (s *Service) publish(ctx context.Context, subject string, data interface{}) {
	s.best.Do(s.logger, "publish "+subject, func() error {
		return s.bus.Publish(ctx, subject, bus.NewEvent(subject, eventSource, data))
	})
}
