// Package service implements session business logic: the state machine with
// sticky terminal states, task linking, telemetry, needs-input handling, and
// the spawn coordinator.
package service

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/maestro/maestro/internal/common/apperrors"
	"github.com/maestro/maestro/internal/common/besteffort"
	"github.com/maestro/maestro/internal/common/config"
	"github.com/maestro/maestro/internal/common/ident"
	"github.com/maestro/maestro/internal/common/keylock"
	"github.com/maestro/maestro/internal/common/logger"
	"github.com/maestro/maestro/internal/events"
	"github.com/maestro/maestro/internal/events/bus"
	projectmodels "github.com/maestro/maestro/internal/project/models"
	"github.com/maestro/maestro/internal/session/models"
	"github.com/maestro/maestro/internal/session/repository"
	taskmodels "github.com/maestro/maestro/internal/task/models"
	tmmodels "github.com/maestro/maestro/internal/teammember/models"
	v1 "github.com/maestro/maestro/pkg/api/v1"
)

const eventSource = "session-service"

// TaskStore is the slice of the task repository used for mutual linking.
type TaskStore interface {
	Get(ctx context.Context, id string) (*taskmodels.Task, error)
	Update(ctx context.Context, task *taskmodels.Task) error
}

// ProjectGetter is the slice of the project service the session service needs.
type ProjectGetter interface {
	GetProject(ctx context.Context, id string) (*projectmodels.Project, error)
}

// TeamMemberDirectory resolves team members for spawn and enumerates the
// roster for coordinator manifests.
type TeamMemberDirectory interface {
	ResolveForSpawn(ctx context.Context, projectID, teamMemberID string, mode v1.SessionMode) (*tmmodels.TeamMember, error)
	ListByProject(ctx context.Context, projectID string) ([]*tmmodels.TeamMember, error)
}

// Purger drops per-session artifacts owned by another domain (inbox files,
// queue state) when the session record goes away.
type Purger interface {
	PurgeSession(ctx context.Context, sessionID string) error
}

// Service coordinates session mutations. Cross-entity operations (linking,
// spawn) take both entity locks in canonical order.
type Service struct {
	repo        repository.Repository
	tasks       TaskStore
	projects    ProjectGetter
	teamMembers TeamMemberDirectory
	bus         bus.EventBus
	locks       *keylock.KeyLock
	spawnCfg    config.SpawnConfig
	purgers     []Purger
	logger      *logger.Logger
	best        *besteffort.Counter
}

// NewService creates a session service.
func NewService(repo repository.Repository, tasks TaskStore, projects ProjectGetter, teamMembers TeamMemberDirectory, eventBus bus.EventBus, locks *keylock.KeyLock, spawnCfg config.SpawnConfig, log *logger.Logger, best *besteffort.Counter) *Service {
	return &Service{
		repo:        repo,
		tasks:       tasks,
		projects:    projects,
		teamMembers: teamMembers,
		bus:         eventBus,
		locks:       locks,
		spawnCfg:    spawnCfg,
		logger:      log,
		best:        best,
	}
}

// AddPurger registers a purger invoked for every deleted session. Wired
// after construction to break the dependency cycle with the domains that own
// the artifacts.
func (s *Service) AddPurger(p Purger) {
	s.purgers = append(s.purgers, p)
}

// GetSession returns a session by ID.
func (s *Service) GetSession(ctx context.Context, id string) (*models.Session, error) {
	return s.repo.Get(ctx, id)
}

// ListSessions lists sessions, optionally filtered by project.
func (s *Service) ListSessions(ctx context.Context, projectID string) ([]*models.Session, error) {
	if projectID != "" {
		return s.repo.ListByProject(ctx, projectID)
	}
	return s.repo.List(ctx)
}

// UpdateSessionRequest is a partial patch. Nil fields are left untouched.
type UpdateSessionRequest struct {
	Name     *string                 `json:"name"`
	Status   *v1.SessionStatus       `json:"status"`
	Metadata *map[string]interface{} `json:"metadata"`
}

// UpdateSession applies a partial patch and emits session.updated. Status
// transitions out of a terminal state are forbidden; a patch that does not
// touch status is accepted regardless of state.
func (s *Service) UpdateSession(ctx context.Context, id string, req UpdateSessionRequest) (*models.Session, error) {
	s.locks.Lock(id)
	defer s.locks.Unlock(id)

	session, err := s.repo.Get(ctx, id)
	if err != nil {
		return nil, err
	}

	if req.Status != nil && *req.Status != session.Status {
		if !v1.ValidSessionStatus(*req.Status) {
			return nil, apperrors.Validation("invalid session status %q", *req.Status)
		}
		if session.Status.IsTerminal() {
			return nil, apperrors.Forbidden("session %s is %s; terminal states are sticky", id, session.Status)
		}
		s.applyStatus(session, *req.Status)
	}
	if req.Name != nil {
		session.Name = *req.Name
	}
	if req.Metadata != nil {
		session.Metadata = *req.Metadata
	}
	session.LastActivity = time.Now().UTC()

	if err := s.repo.Update(ctx, session); err != nil {
		return nil, err
	}
	s.publish(ctx, events.SessionUpdated, session.Clone())
	return session, nil
}

// applyStatus moves the session to status, stamping completedAt on terminal
// transitions. Callers have already validated the transition.
func (s *Service) applyStatus(session *models.Session, status v1.SessionStatus) {
	session.Status = status
	if status.IsTerminal() {
		at := time.Now().UTC()
		session.CompletedAt = &at
	}
}

// RegisterSession is the idempotent "I've started" hook an agent calls once
// it is alive. A missing session gets a shell record; an existing one moves
// to working (unless already terminal, which is rejected).
func (s *Service) RegisterSession(ctx context.Context, id, projectID string) (*models.Session, error) {
	s.locks.Lock(id)
	defer s.locks.Unlock(id)

	session, err := s.repo.Get(ctx, id)
	if apperrors.IsCode(err, apperrors.CodeNotFound) {
		if projectID == "" {
			return nil, apperrors.Validation("projectId is required to register an unknown session")
		}
		if _, err := s.projects.GetProject(ctx, projectID); err != nil {
			return nil, err
		}
		now := time.Now().UTC()
		session = &models.Session{
			ID:           id,
			ProjectID:    projectID,
			TaskIDs:      []string{},
			Status:       v1.SessionStatusWorking,
			Mode:         v1.SessionModeWorker,
			StartedAt:    now,
			LastActivity: now,
			Events:       []models.Event{},
		}
		if err := s.repo.Create(ctx, session); err != nil {
			return nil, err
		}
		s.publish(ctx, events.SessionCreated, session.Clone())
		return session, nil
	}
	if err != nil {
		return nil, err
	}

	if session.Status.IsTerminal() {
		return nil, apperrors.Forbidden("session %s is %s; terminal states are sticky", id, session.Status)
	}
	if session.Status == v1.SessionStatusWorking {
		return session, nil
	}
	s.applyStatus(session, v1.SessionStatusWorking)
	session.LastActivity = time.Now().UTC()
	if err := s.repo.Update(ctx, session); err != nil {
		return nil, err
	}
	s.publish(ctx, events.SessionUpdated, session.Clone())
	return session, nil
}

// CompleteSession moves the session to completed and records completedAt.
func (s *Service) CompleteSession(ctx context.Context, id string) (*models.Session, error) {
	status := v1.SessionStatusCompleted
	return s.UpdateSession(ctx, id, UpdateSessionRequest{Status: &status})
}

// DeleteSession removes a session, unlinking it from its tasks. Emits
// session.deleted plus one task.updated per formerly linked task.
func (s *Service) DeleteSession(ctx context.Context, id string) error {
	s.locks.Lock(id)
	session, err := s.repo.Get(ctx, id)
	if err != nil {
		s.locks.Unlock(id)
		return err
	}
	if err := s.repo.Delete(ctx, id); err != nil {
		s.locks.Unlock(id)
		return err
	}
	s.locks.Unlock(id)

	for _, taskID := range session.TaskIDs {
		s.unlinkFromTask(ctx, taskID, id)
	}
	for _, purger := range s.purgers {
		s.best.Do(s.logger, "purge session artifacts", func() error {
			return purger.PurgeSession(ctx, id)
		})
	}

	s.publish(ctx, events.SessionDeleted, map[string]string{
		"id":        session.ID,
		"projectId": session.ProjectID,
	})
	s.logger.WithSessionID(id).Info("session deleted")
	return nil
}

func (s *Service) unlinkFromTask(ctx context.Context, taskID, sessionID string) {
	s.locks.Lock(taskID)
	defer s.locks.Unlock(taskID)

	task, err := s.tasks.Get(ctx, taskID)
	if err != nil {
		s.logger.WithError(err).Warn("failed to load task for session unlink",
			zap.String("task_id", taskID), zap.String("session_id", sessionID))
		return
	}
	if !task.HasSession(sessionID) {
		return
	}
	task.RemoveSession(sessionID)
	task.UpdatedAt = time.Now().UTC()
	if err := s.tasks.Update(ctx, task); err != nil {
		s.logger.WithError(err).Warn("failed to unlink session from task",
			zap.String("task_id", taskID), zap.String("session_id", sessionID))
		return
	}
	s.publish(ctx, events.TaskUpdated, task.Clone())
}

// LinkTask links a task to the session bidirectionally, initializing the
// session's status entry to queued. Emits session.task_added, task.updated
// and session.updated.
func (s *Service) LinkTask(ctx context.Context, sessionID, taskID string) (*models.Session, error) {
	s.locks.LockPair(sessionID, taskID)
	defer s.locks.UnlockPair(sessionID, taskID)

	session, err := s.repo.Get(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	task, err := s.tasks.Get(ctx, taskID)
	if err != nil {
		return nil, err
	}
	if task.ProjectID != session.ProjectID {
		return nil, apperrors.Validation("task %s belongs to a different project", taskID)
	}
	if session.HasTask(taskID) {
		return session, nil
	}

	task.AddSession(sessionID)
	if task.TaskSessionStatuses == nil {
		task.TaskSessionStatuses = make(map[string]v1.TaskSessionStatus)
	}
	if _, ok := task.TaskSessionStatuses[sessionID]; !ok {
		task.TaskSessionStatuses[sessionID] = v1.TaskSessionQueued
	}
	task.UpdatedAt = time.Now().UTC()
	if err := s.tasks.Update(ctx, task); err != nil {
		return nil, err
	}

	session.AddTask(taskID)
	session.LastActivity = time.Now().UTC()
	if err := s.repo.Update(ctx, session); err != nil {
		return nil, err
	}

	s.publish(ctx, events.SessionTaskAdded, map[string]string{
		"sessionId": sessionID,
		"taskId":    taskID,
	})
	s.publish(ctx, events.TaskUpdated, task.Clone())
	s.publish(ctx, events.SessionUpdated, session.Clone())
	return session, nil
}

// UnlinkTask removes the bidirectional link and the session's status entry.
// Emits session.task_removed, task.updated and session.updated.
func (s *Service) UnlinkTask(ctx context.Context, sessionID, taskID string) (*models.Session, error) {
	s.locks.LockPair(sessionID, taskID)
	defer s.locks.UnlockPair(sessionID, taskID)

	session, err := s.repo.Get(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if !session.HasTask(taskID) {
		return session, nil
	}

	session.RemoveTask(taskID)
	session.LastActivity = time.Now().UTC()
	if err := s.repo.Update(ctx, session); err != nil {
		return nil, err
	}

	task, err := s.tasks.Get(ctx, taskID)
	if err == nil {
		task.RemoveSession(sessionID)
		task.UpdatedAt = time.Now().UTC()
		if err := s.tasks.Update(ctx, task); err != nil {
			s.logger.WithError(err).Warn("failed to unlink session from task",
				zap.String("task_id", taskID), zap.String("session_id", sessionID))
		} else {
			s.publish(ctx, events.SessionTaskRemoved, map[string]string{
				"sessionId": sessionID,
				"taskId":    taskID,
			})
			s.publish(ctx, events.TaskUpdated, task.Clone())
		}
	}
	s.publish(ctx, events.SessionUpdated, session.Clone())
	return session, nil
}

// SetNeedsInput records that the agent is waiting on a human and broadcasts
// session.updated. The status itself does not change.
func (s *Service) SetNeedsInput(ctx context.Context, id, question string) (*models.Session, error) {
	s.locks.Lock(id)
	defer s.locks.Unlock(id)

	session, err := s.repo.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if session.Status.IsTerminal() {
		return nil, apperrors.Forbidden("session %s is %s; terminal states are sticky", id, session.Status)
	}
	session.NeedsInput = &v1.NeedsInput{
		Active:   true,
		Question: question,
		Since:    time.Now().UTC(),
	}
	session.LastActivity = time.Now().UTC()
	if err := s.repo.Update(ctx, session); err != nil {
		return nil, err
	}
	s.publish(ctx, events.SessionUpdated, session.Clone())
	return session, nil
}

// View marks the session as viewed by a human, clearing any needs-input flag.
func (s *Service) View(ctx context.Context, id string) (*models.Session, error) {
	s.locks.Lock(id)
	defer s.locks.Unlock(id)

	session, err := s.repo.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if session.NeedsInput == nil || !session.NeedsInput.Active {
		return session, nil
	}
	session.NeedsInput = &v1.NeedsInput{Active: false, Since: session.NeedsInput.Since}
	if err := s.repo.Update(ctx, session); err != nil {
		return nil, err
	}
	s.publish(ctx, events.SessionUpdated, session.Clone())
	return session, nil
}

// AppendEvent records agent telemetry on the session's bounded event log.
// Any fresh event clears an active needs-input flag. Modal events are also
// rebroadcast under their dedicated subjects.
func (s *Service) AppendEvent(ctx context.Context, id, eventType string, data map[string]interface{}) (*models.Session, error) {
	if eventType == "" {
		return nil, apperrors.Validation("event type is required")
	}

	s.locks.Lock(id)
	defer s.locks.Unlock(id)

	session, err := s.repo.Get(ctx, id)
	if err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	session.AppendEvent(models.Event{
		ID:   ident.New(ident.KindEvent),
		Type: eventType,
		At:   now,
		Data: data,
	})
	if session.NeedsInput != nil && session.NeedsInput.Active {
		session.NeedsInput = &v1.NeedsInput{Active: false, Since: session.NeedsInput.Since}
	}
	session.LastActivity = now
	if err := s.repo.Update(ctx, session); err != nil {
		return nil, err
	}

	s.publish(ctx, events.SessionUpdated, session.Clone())
	switch eventType {
	case "modal_opened":
		s.publish(ctx, events.SessionModalOpened, map[string]interface{}{"sessionId": id, "data": data})
	case "modal_closed":
		s.publish(ctx, events.SessionModalClosed, map[string]interface{}{"sessionId": id, "data": data})
	case "modal_action":
		s.publish(ctx, events.SessionModalAction, map[string]interface{}{"sessionId": id, "data": data})
	}
	return session, nil
}

// AppendTimeline appends a timeline entry to the session's event log.
func (s *Service) AppendTimeline(ctx context.Context, id, note string) (*models.Session, error) {
	if note == "" {
		return nil, apperrors.Validation("timeline note is required")
	}
	return s.AppendEvent(ctx, id, "timeline", map[string]interface{}{"note": note})
}

// NotifyTimeline is the best-effort variant used by other services (e.g. the
// mail service telling a sender its message expired). Failures are counted,
// never propagated.
func (s *Service) NotifyTimeline(ctx context.Context, id, note string) {
	s.best.Do(s.logger, "session timeline notify", func() error {
		_, err := s.AppendTimeline(ctx, id, note)
		return err
	})
}

// IsActive reports whether the session exists and is in a non-terminal state.
func (s *Service) IsActive(ctx context.Context, id string) (bool, error) {
	session, err := s.repo.Get(ctx, id)
	if err != nil {
		return false, err
	}
	return !session.Status.IsTerminal(), nil
}

func (s *Service) publish(ctx context.Context, subject string, data interface{}) {
	s.best.Do(s.logger, "publish "+subject, func() error {
		return s.bus.Publish(ctx, subject, bus.NewEvent(subject, eventSource, data))
	})
}
