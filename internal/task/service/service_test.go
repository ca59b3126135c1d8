package service

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/maestro/maestro/internal/common/apperrors"
	"github.com/maestro/maestro/internal/common/besteffort"
	"github.com/maestro/maestro/internal/common/keylock"
	"github.com/maestro/maestro/internal/common/logger"
	"github.com/maestro/maestro/internal/events"
	"github.com/maestro/maestro/internal/events/bus"
	projectmodels "github.com/maestro/maestro/internal/project/models"
	sessionmodels "github.com/maestro/maestro/internal/session/models"
	"github.com/maestro/maestro/internal/task/models"
	v1 "github.com/maestro/maestro/pkg/api/v1"
)

type memTaskRepo struct {
	mu    sync.Mutex
	tasks map[string]*models.Task
}

func newMemTaskRepo() *memTaskRepo {
	return &memTaskRepo{tasks: make(map[string]*models.Task)}
}

func (r *memTaskRepo) Initialize(ctx context.Context) error { return nil }

func (r *memTaskRepo) Create(ctx context.Context, task *models.Task) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.tasks[task.ID] = task.Clone()
	return nil
}

func (r *memTaskRepo) Get(ctx context.Context, id string) (*models.Task, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	t, ok := r.tasks[id]
	if !ok {
		return nil, apperrors.NotFound("task %s not found", id)
	}
	return t.Clone(), nil
}

func (r *memTaskRepo) Update(ctx context.Context, task *models.Task) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.tasks[task.ID]; !ok {
		return apperrors.NotFound("task %s not found", task.ID)
	}
	r.tasks[task.ID] = task.Clone()
	return nil
}

func (r *memTaskRepo) Delete(ctx context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.tasks, id)
	return nil
}

func (r *memTaskRepo) List(ctx context.Context) ([]*models.Task, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]*models.Task, 0, len(r.tasks))
	for _, t := range r.tasks {
		out = append(out, t.Clone())
	}
	return out, nil
}

func (r *memTaskRepo) ListByProject(ctx context.Context, projectID string) ([]*models.Task, error) {
	all, _ := r.List(ctx)
	out := all[:0]
	for _, t := range all {
		if t.ProjectID == projectID {
			out = append(out, t)
		}
	}
	return out, nil
}

func (r *memTaskRepo) ListByParent(ctx context.Context, parentID string) ([]*models.Task, error) {
	all, _ := r.List(ctx)
	out := all[:0]
	for _, t := range all {
		if t.ParentID == parentID {
			out = append(out, t)
		}
	}
	return out, nil
}

func (r *memTaskRepo) DeleteByProject(ctx context.Context, projectID string) ([]*models.Task, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var removed []*models.Task
	for id, t := range r.tasks {
		if t.ProjectID == projectID {
			removed = append(removed, t.Clone())
			delete(r.tasks, id)
		}
	}
	return removed, nil
}

func (r *memTaskRepo) Close() error { return nil }

type fakeProjects struct{ ids map[string]bool }

func (f *fakeProjects) GetProject(ctx context.Context, id string) (*projectmodels.Project, error) {
	if !f.ids[id] {
		return nil, apperrors.NotFound("project %s not found", id)
	}
	return &projectmodels.Project{ID: id, Name: "p"}, nil
}

type memSessionStore struct {
	mu       sync.Mutex
	sessions map[string]*sessionmodels.Session
}

func (s *memSessionStore) Get(ctx context.Context, id string) (*sessionmodels.Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.sessions[id]
	if !ok {
		return nil, apperrors.NotFound("session %s not found", id)
	}
	return sess.Clone(), nil
}

func (s *memSessionStore) Update(ctx context.Context, sess *sessionmodels.Session) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sessions[sess.ID] = sess.Clone()
	return nil
}

type recordedEvent struct {
	subject string
	event   *bus.Event
}

func newTestService(t *testing.T) (*Service, *memTaskRepo, *memSessionStore, *[]recordedEvent) {
	t.Helper()
	repo := newMemTaskRepo()
	sessions := &memSessionStore{sessions: make(map[string]*sessionmodels.Session)}
	eventBus := bus.NewMemoryEventBus(logger.Default())
	var (
		mu       sync.Mutex
		received []recordedEvent
	)
	_, err := eventBus.Subscribe(">", func(ctx context.Context, evt *bus.Event) error {
		mu.Lock()
		defer mu.Unlock()
		received = append(received, recordedEvent{subject: evt.Type, event: evt})
		return nil
	})
	require.NoError(t, err)

	svc := NewService(repo,
		&fakeProjects{ids: map[string]bool{"proj_1_aaaaaaaaaa": true}},
		sessions, eventBus, keylock.New(), logger.Default(), besteffort.NewCounter())
	return svc, repo, sessions, &received
}

func TestCreateTaskValidation(t *testing.T) {
	svc, _, _, _ := newTestService(t)
	ctx := context.Background()

	_, err := svc.CreateTask(ctx, CreateTaskRequest{ProjectID: "proj_1_aaaaaaaaaa"})
	assert.True(t, apperrors.IsCode(err, apperrors.CodeValidation))

	_, err = svc.CreateTask(ctx, CreateTaskRequest{Title: "x", ProjectID: "proj_missing"})
	assert.True(t, apperrors.IsCode(err, apperrors.CodeNotFound))

	task, err := svc.CreateTask(ctx, CreateTaskRequest{Title: "x", ProjectID: "proj_1_aaaaaaaaaa"})
	require.NoError(t, err)
	assert.Equal(t, v1.TaskStatusTodo, task.Status)
	assert.NotEmpty(t, task.ID)
	require.Len(t, task.Timeline, 1)
	assert.Equal(t, "created", task.Timeline[0].Event)
}

func TestSessionSourcedUpdateIsNarrowed(t *testing.T) {
	svc, repo, _, received := newTestService(t)
	ctx := context.Background()

	task, err := svc.CreateTask(ctx, CreateTaskRequest{Title: "build", ProjectID: "proj_1_aaaaaaaaaa"})
	require.NoError(t, err)

	// Link a session directly, as the session service would.
	stored, err := repo.Get(ctx, task.ID)
	require.NoError(t, err)
	stored.AddSession("sess_1_bbbbbbbbbb")
	require.NoError(t, repo.Update(ctx, stored))

	completed := v1.TaskStatusCompleted
	sessDone := v1.TaskSessionCompleted
	updated, err := svc.UpdateTask(ctx, task.ID, UpdateTaskRequest{
		UpdateSource:  v1.UpdateSourceSession,
		SessionID:     "sess_1_bbbbbbbbbb",
		Status:        &completed,
		SessionStatus: &sessDone,
	})
	require.NoError(t, err)

	// The user-owned status is untouched; only the session's own entry moved.
	assert.Equal(t, v1.TaskStatusTodo, updated.Status)
	assert.Equal(t, v1.TaskSessionCompleted, updated.TaskSessionStatuses["sess_1_bbbbbbbbbb"])
	assert.Nil(t, updated.CompletedAt)

	var sawUpdated bool
	for _, rec := range *received {
		if rec.subject == events.TaskUpdated {
			sawUpdated = true
		}
	}
	assert.True(t, sawUpdated, "expected a task.updated event")
}

func TestSessionSourcedUpdateRequiresLinkedSession(t *testing.T) {
	svc, _, _, _ := newTestService(t)
	ctx := context.Background()

	task, err := svc.CreateTask(ctx, CreateTaskRequest{Title: "t", ProjectID: "proj_1_aaaaaaaaaa"})
	require.NoError(t, err)

	working := v1.TaskSessionWorking
	_, err = svc.UpdateTask(ctx, task.ID, UpdateTaskRequest{
		UpdateSource:  v1.UpdateSourceSession,
		SessionID:     "sess_unlinked",
		SessionStatus: &working,
	})
	assert.True(t, apperrors.IsCode(err, apperrors.CodeForbidden))

	_, err = svc.UpdateTask(ctx, task.ID, UpdateTaskRequest{
		UpdateSource:  v1.UpdateSourceSession,
		SessionStatus: &working,
	})
	assert.True(t, apperrors.IsCode(err, apperrors.CodeValidation))
}

func TestSessionSourcedPatchWithoutSessionStatusIsNoOp(t *testing.T) {
	svc, repo, _, received := newTestService(t)
	ctx := context.Background()

	task, err := svc.CreateTask(ctx, CreateTaskRequest{Title: "build", ProjectID: "proj_1_aaaaaaaaaa"})
	require.NoError(t, err)
	stored, err := repo.Get(ctx, task.ID)
	require.NoError(t, err)
	stored.AddSession("sess_1_bbbbbbbbbb")
	require.NoError(t, repo.Update(ctx, stored))

	before := len(*received)
	newTitle := "renamed"
	completed := v1.TaskStatusCompleted
	updated, err := svc.UpdateTask(ctx, task.ID, UpdateTaskRequest{
		UpdateSource: v1.UpdateSourceSession,
		SessionID:    "sess_1_bbbbbbbbbb",
		Title:        &newTitle,
		Status:       &completed,
	})
	require.NoError(t, err)

	// Every field was dropped and nothing was written or announced.
	assert.Equal(t, "build", updated.Title)
	assert.Equal(t, v1.TaskStatusTodo, updated.Status)
	assert.Equal(t, stored.UpdatedAt, updated.UpdatedAt)
	assert.Equal(t, before, len(*received), "no task.updated for a dropped patch")
}

func TestUserUpdateStampsLifecycleTimes(t *testing.T) {
	svc, _, _, _ := newTestService(t)
	ctx := context.Background()

	task, err := svc.CreateTask(ctx, CreateTaskRequest{Title: "t", ProjectID: "proj_1_aaaaaaaaaa"})
	require.NoError(t, err)

	inProgress := v1.TaskStatusInProgress
	task, err = svc.UpdateTask(ctx, task.ID, UpdateTaskRequest{Status: &inProgress})
	require.NoError(t, err)
	require.NotNil(t, task.StartedAt)
	started := *task.StartedAt

	completed := v1.TaskStatusCompleted
	task, err = svc.UpdateTask(ctx, task.ID, UpdateTaskRequest{Status: &completed})
	require.NoError(t, err)
	require.NotNil(t, task.CompletedAt)

	// Reopening clears completedAt but keeps the original startedAt.
	todo := v1.TaskStatusTodo
	task, err = svc.UpdateTask(ctx, task.ID, UpdateTaskRequest{Status: &todo})
	require.NoError(t, err)
	assert.Nil(t, task.CompletedAt)
	require.NotNil(t, task.StartedAt)
	assert.Equal(t, started, *task.StartedAt)

	// Two status transitions plus creation on the timeline.
	assert.GreaterOrEqual(t, len(task.Timeline), 4)
}

func TestUserUpdateCannotTouchSessionStatuses(t *testing.T) {
	svc, _, _, _ := newTestService(t)
	ctx := context.Background()

	task, err := svc.CreateTask(ctx, CreateTaskRequest{Title: "t", ProjectID: "proj_1_aaaaaaaaaa"})
	require.NoError(t, err)

	working := v1.TaskSessionWorking
	_, err = svc.UpdateTask(ctx, task.ID, UpdateTaskRequest{SessionStatus: &working})
	assert.True(t, apperrors.IsCode(err, apperrors.CodeValidation))
}

func TestReparentRejectsCycles(t *testing.T) {
	svc, _, _, _ := newTestService(t)
	ctx := context.Background()

	root, err := svc.CreateTask(ctx, CreateTaskRequest{Title: "root", ProjectID: "proj_1_aaaaaaaaaa"})
	require.NoError(t, err)
	child, err := svc.CreateTask(ctx, CreateTaskRequest{Title: "child", ProjectID: "proj_1_aaaaaaaaaa", ParentID: root.ID})
	require.NoError(t, err)

	_, err = svc.UpdateTask(ctx, root.ID, UpdateTaskRequest{ParentID: &child.ID})
	assert.True(t, apperrors.IsCode(err, apperrors.CodeConflict))

	self := root.ID
	_, err = svc.UpdateTask(ctx, root.ID, UpdateTaskRequest{ParentID: &self})
	assert.True(t, apperrors.IsCode(err, apperrors.CodeConflict))

	missing := "task_0_zzzzzzzzzz"
	_, err = svc.UpdateTask(ctx, root.ID, UpdateTaskRequest{ParentID: &missing})
	assert.True(t, apperrors.IsCode(err, apperrors.CodeConflict))
}

func TestDeleteTaskOrphansChildrenAndUnlinksSessions(t *testing.T) {
	svc, repo, sessions, received := newTestService(t)
	ctx := context.Background()

	parent, err := svc.CreateTask(ctx, CreateTaskRequest{Title: "parent", ProjectID: "proj_1_aaaaaaaaaa"})
	require.NoError(t, err)
	child, err := svc.CreateTask(ctx, CreateTaskRequest{Title: "child", ProjectID: "proj_1_aaaaaaaaaa", ParentID: parent.ID})
	require.NoError(t, err)

	sessions.sessions["sess_1_cccccccccc"] = &sessionmodels.Session{
		ID:        "sess_1_cccccccccc",
		ProjectID: "proj_1_aaaaaaaaaa",
		TaskIDs:   []string{parent.ID},
	}
	stored, err := repo.Get(ctx, parent.ID)
	require.NoError(t, err)
	stored.AddSession("sess_1_cccccccccc")
	require.NoError(t, repo.Update(ctx, stored))

	require.NoError(t, svc.DeleteTask(ctx, parent.ID))

	_, err = svc.GetTask(ctx, parent.ID)
	assert.True(t, apperrors.IsCode(err, apperrors.CodeNotFound))

	orphan, err := svc.GetTask(ctx, child.ID)
	require.NoError(t, err)
	assert.Empty(t, orphan.ParentID)

	sess, err := sessions.Get(ctx, "sess_1_cccccccccc")
	require.NoError(t, err)
	assert.False(t, sess.HasTask(parent.ID))

	var sawDeleted, sawSessionUpdated bool
	for _, rec := range *received {
		switch rec.subject {
		case events.TaskDeleted:
			sawDeleted = true
		case events.SessionUpdated:
			sawSessionUpdated = true
		}
	}
	assert.True(t, sawDeleted)
	assert.True(t, sawSessionUpdated)
}
