// Package service implements the per-session work queue: an ordered list of
// tasks a session chews through one at a time.
package service

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/maestro/maestro/internal/common/apperrors"
	"github.com/maestro/maestro/internal/common/besteffort"
	"github.com/maestro/maestro/internal/common/keylock"
	"github.com/maestro/maestro/internal/common/logger"
	"github.com/maestro/maestro/internal/events"
	"github.com/maestro/maestro/internal/events/bus"
	"github.com/maestro/maestro/internal/queue/models"
	"github.com/maestro/maestro/internal/queue/repository"
	sessionmodels "github.com/maestro/maestro/internal/session/models"
	taskmodels "github.com/maestro/maestro/internal/task/models"
	v1 "github.com/maestro/maestro/pkg/api/v1"
)

const eventSource = "queue-service"

// SessionGetter is the slice of the session service the queue needs.
type SessionGetter interface {
	GetSession(ctx context.Context, id string) (*sessionmodels.Session, error)
}

// TaskProgressor applies session-sourced task status changes; linkage is
// enforced on the task side.
type TaskProgressor interface {
	ApplySessionStatus(ctx context.Context, taskID, sessionID string, status v1.TaskSessionStatus) (*taskmodels.Task, error)
}

// Service owns the session work queues. At most one item per session is ever
// processing; everything serializes on the session's lock.
type Service struct {
	repo     repository.Repository
	sessions SessionGetter
	tasks    TaskProgressor
	bus      bus.EventBus
	locks    *keylock.KeyLock
	logger   *logger.Logger
	best     *besteffort.Counter
}

// NewService creates a queue service.
func NewService(repo repository.Repository, sessions SessionGetter, tasks TaskProgressor, eventBus bus.EventBus, locks *keylock.KeyLock, log *logger.Logger, best *besteffort.Counter) *Service {
	return &Service{
		repo:     repo,
		sessions: sessions,
		tasks:    tasks,
		bus:      eventBus,
		locks:    locks,
		logger:   log,
		best:     best,
	}
}

// itemEvent is the payload of every queue.* event.
type itemEvent struct {
	SessionID string       `json:"sessionId"`
	Item      *models.Item `json:"item"`
}

// List returns the session's full queue in position order.
func (s *Service) List(ctx context.Context, sessionID string) ([]*models.Item, error) {
	if _, err := s.sessions.GetSession(ctx, sessionID); err != nil {
		return nil, err
	}
	return s.repo.GetQueue(ctx, sessionID)
}

// Push appends a task to the session's queue. The task must already be
// linked to the session; a task with a live queue entry cannot be pushed
// again until that entry settles.
func (s *Service) Push(ctx context.Context, sessionID, taskID string) (*models.Item, error) {
	if taskID == "" {
		return nil, apperrors.Validation("taskId is required")
	}
	session, err := s.sessions.GetSession(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if session.Status.IsTerminal() {
		return nil, apperrors.Conflict("session %s is %s", sessionID, session.Status)
	}
	if !session.HasTask(taskID) {
		return nil, apperrors.Forbidden("task %s is not linked to session %s", taskID, sessionID)
	}

	s.locks.Lock(sessionID)
	defer s.locks.Unlock(sessionID)

	items, err := s.repo.GetQueue(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	position := 0
	for _, item := range items {
		if item.TaskID == taskID && !item.Status.IsTerminal() {
			return nil, apperrors.Conflict("task %s is already queued for session %s", taskID, sessionID)
		}
		if item.Position >= position {
			position = item.Position + 1
		}
	}

	item := &models.Item{
		SessionID: sessionID,
		TaskID:    taskID,
		Position:  position,
		Status:    v1.QueueItemQueued,
	}
	items = append(items, item)
	if err := s.repo.SaveQueue(ctx, sessionID, items); err != nil {
		return nil, err
	}
	return item.Clone(), nil
}

// Top returns the first queued item, or nil when the queue has no work left.
func (s *Service) Top(ctx context.Context, sessionID string) (*models.Item, error) {
	items, err := s.List(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	for _, item := range items {
		if item.Status == v1.QueueItemQueued {
			return item, nil
		}
	}
	return nil, nil
}

// Start moves the first queued item to processing and marks the task working
// for this session.
func (s *Service) Start(ctx context.Context, sessionID string) (*models.Item, error) {
	session, err := s.sessions.GetSession(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if session.Status.IsTerminal() {
		return nil, apperrors.Conflict("session %s is %s", sessionID, session.Status)
	}

	s.locks.Lock(sessionID)
	defer s.locks.Unlock(sessionID)

	items, err := s.repo.GetQueue(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	var next *models.Item
	for _, item := range items {
		if item.Status == v1.QueueItemProcessing {
			return nil, apperrors.Conflict("session %s already has task %s processing", sessionID, item.TaskID)
		}
		if next == nil && item.Status == v1.QueueItemQueued {
			next = item
		}
	}
	if next == nil {
		return nil, apperrors.NotFound("session %s has no queued work", sessionID)
	}

	if _, err := s.tasks.ApplySessionStatus(ctx, next.TaskID, sessionID, v1.TaskSessionWorking); err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	next.Status = v1.QueueItemProcessing
	next.StartedAt = &now
	if err := s.repo.SaveQueue(ctx, sessionID, items); err != nil {
		return nil, err
	}

	s.publish(ctx, events.QueueItemStarted, itemEvent{SessionID: sessionID, Item: next.Clone()})
	s.logger.Info("queue item started",
		zap.String("session_id", sessionID),
		zap.String("task_id", next.TaskID))
	return next.Clone(), nil
}

// Complete settles the processing item as completed.
func (s *Service) Complete(ctx context.Context, sessionID, taskID string) (*models.Item, error) {
	return s.finish(ctx, sessionID, taskID, v1.QueueItemCompleted)
}

// Fail settles the processing item as failed.
func (s *Service) Fail(ctx context.Context, sessionID, taskID string) (*models.Item, error) {
	return s.finish(ctx, sessionID, taskID, v1.QueueItemFailed)
}

// Skip settles an item as skipped. Unlike complete/fail, a queued item that
// never started can be skipped too.
func (s *Service) Skip(ctx context.Context, sessionID, taskID string) (*models.Item, error) {
	return s.finish(ctx, sessionID, taskID, v1.QueueItemSkipped)
}

func (s *Service) finish(ctx context.Context, sessionID, taskID string, outcome v1.QueueItemStatus) (*models.Item, error) {
	if _, err := s.sessions.GetSession(ctx, sessionID); err != nil {
		return nil, err
	}

	s.locks.Lock(sessionID)
	defer s.locks.Unlock(sessionID)

	items, err := s.repo.GetQueue(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	var target *models.Item
	for _, item := range items {
		if item.TaskID == taskID && !item.Status.IsTerminal() {
			target = item
			break
		}
	}
	if target == nil {
		return nil, apperrors.NotFound("task %s has no live queue entry for session %s", taskID, sessionID)
	}
	if target.Status != v1.QueueItemProcessing && outcome != v1.QueueItemSkipped {
		return nil, apperrors.Conflict("task %s is %s, not processing", taskID, target.Status)
	}

	taskStatus := map[v1.QueueItemStatus]v1.TaskSessionStatus{
		v1.QueueItemCompleted: v1.TaskSessionCompleted,
		v1.QueueItemFailed:    v1.TaskSessionFailed,
		v1.QueueItemSkipped:   v1.TaskSessionSkipped,
	}[outcome]
	if _, err := s.tasks.ApplySessionStatus(ctx, taskID, sessionID, taskStatus); err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	target.Status = outcome
	target.CompletedAt = &now
	if err := s.repo.SaveQueue(ctx, sessionID, items); err != nil {
		return nil, err
	}

	// The vocabulary has no skipped subject; a skip surfaces only through the
	// task.updated it already produced.
	switch outcome {
	case v1.QueueItemCompleted:
		s.publish(ctx, events.QueueItemCompleted, itemEvent{SessionID: sessionID, Item: target.Clone()})
	case v1.QueueItemFailed:
		s.publish(ctx, events.QueueItemFailed, itemEvent{SessionID: sessionID, Item: target.Clone()})
	}

	s.logger.Info("queue item settled",
		zap.String("session_id", sessionID),
		zap.String("task_id", taskID),
		zap.String("outcome", string(outcome)))
	return target.Clone(), nil
}

// PurgeSession drops a deleted session's queue. Called from the session and
// project delete cascades.
func (s *Service) PurgeSession(ctx context.Context, sessionID string) error {
	s.locks.Lock(sessionID)
	defer s.locks.Unlock(sessionID)
	return s.repo.DeleteQueue(ctx, sessionID)
}

func (s *Service) publish(ctx context.Context, subject string, data interface{}) {
	s.best.Do(s.logger, "publish "+subject, func() error {
		return s.bus.Publish(ctx, subject, bus.NewEvent(subject, eventSource, data))
	})
}
