package service

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/maestro/maestro/internal/common/apperrors"
	"github.com/maestro/maestro/internal/common/besteffort"
	"github.com/maestro/maestro/internal/common/keylock"
	"github.com/maestro/maestro/internal/common/logger"
	"github.com/maestro/maestro/internal/events"
	"github.com/maestro/maestro/internal/events/bus"
	"github.com/maestro/maestro/internal/queue/models"
	"github.com/maestro/maestro/internal/queue/repository"
	sessionmodels "github.com/maestro/maestro/internal/session/models"
	"github.com/maestro/maestro/internal/storage"
	taskmodels "github.com/maestro/maestro/internal/task/models"
	v1 "github.com/maestro/maestro/pkg/api/v1"
)

const (
	testSession = "sess_1_aaaaaaaaaa"
	testTaskA   = "task_1_aaaaaaaaaa"
	testTaskB   = "task_2_bbbbbbbbbb"
)

type fakeSessions struct {
	mu       sync.Mutex
	sessions map[string]*sessionmodels.Session
}

func (f *fakeSessions) GetSession(ctx context.Context, id string) (*sessionmodels.Session, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	session, ok := f.sessions[id]
	if !ok {
		return nil, apperrors.NotFound("session %s not found", id)
	}
	return session.Clone(), nil
}

type fakeTasks struct {
	mu      sync.Mutex
	applied []string // "taskID:status"
}

func (f *fakeTasks) ApplySessionStatus(ctx context.Context, taskID, sessionID string, status v1.TaskSessionStatus) (*taskmodels.Task, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.applied = append(f.applied, taskID+":"+string(status))
	return &taskmodels.Task{ID: taskID}, nil
}

type queueFixture struct {
	svc      *Service
	repo     repository.Repository
	tasks    *fakeTasks
	subjects *[]string
	mu       *sync.Mutex
}

func newQueueFixture(t *testing.T) *queueFixture {
	t.Helper()
	store, err := storage.NewStore(t.TempDir(), logger.Default())
	require.NoError(t, err)
	repo := repository.NewFileRepository(store, logger.Default())
	require.NoError(t, repo.Initialize(context.Background()))

	sessions := &fakeSessions{sessions: map[string]*sessionmodels.Session{
		testSession: {
			ID:        testSession,
			ProjectID: "proj_1_aaaaaaaaaa",
			Status:    v1.SessionStatusWorking,
			TaskIDs:   []string{testTaskA, testTaskB},
		},
		"sess_2_done": {
			ID:        "sess_2_done",
			ProjectID: "proj_1_aaaaaaaaaa",
			Status:    v1.SessionStatusCompleted,
			TaskIDs:   []string{testTaskA},
		},
	}}
	tasks := &fakeTasks{}

	eventBus := bus.NewMemoryEventBus(logger.Default())
	var (
		mu       sync.Mutex
		subjects []string
	)
	_, err = eventBus.Subscribe(">", func(ctx context.Context, evt *bus.Event) error {
		mu.Lock()
		defer mu.Unlock()
		subjects = append(subjects, evt.Type)
		return nil
	})
	require.NoError(t, err)

	svc := NewService(repo, sessions, tasks, eventBus, keylock.New(), logger.Default(), besteffort.NewCounter())
	return &queueFixture{svc: svc, repo: repo, tasks: tasks, subjects: &subjects, mu: &mu}
}

func (f *queueFixture) count(subject string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, s := range *f.subjects {
		if s == subject {
			n++
		}
	}
	return n
}

func TestPushValidatesLinkage(t *testing.T) {
	f := newQueueFixture(t)
	ctx := context.Background()

	item, err := f.svc.Push(ctx, testSession, testTaskA)
	require.NoError(t, err)
	assert.Equal(t, v1.QueueItemQueued, item.Status)
	assert.Equal(t, 0, item.Position)

	_, err = f.svc.Push(ctx, testSession, "task_9_zzzzzzzzzz")
	require.Error(t, err)
	assert.Equal(t, apperrors.CodeForbidden, apperrors.CodeOf(err))

	// Re-pushing a live entry is rejected.
	_, err = f.svc.Push(ctx, testSession, testTaskA)
	require.Error(t, err)
	assert.Equal(t, apperrors.CodeConflict, apperrors.CodeOf(err))

	_, err = f.svc.Push(ctx, "sess_2_done", testTaskA)
	require.Error(t, err)
	assert.Equal(t, apperrors.CodeConflict, apperrors.CodeOf(err))
}

func TestStartProcessesOneItemAtATime(t *testing.T) {
	f := newQueueFixture(t)
	ctx := context.Background()

	_, err := f.svc.Push(ctx, testSession, testTaskA)
	require.NoError(t, err)
	_, err = f.svc.Push(ctx, testSession, testTaskB)
	require.NoError(t, err)

	started, err := f.svc.Start(ctx, testSession)
	require.NoError(t, err)
	assert.Equal(t, testTaskA, started.TaskID)
	assert.Equal(t, v1.QueueItemProcessing, started.Status)
	require.NotNil(t, started.StartedAt)
	assert.Equal(t, 1, f.count(events.QueueItemStarted))
	assert.Equal(t, []string{testTaskA + ":working"}, f.tasks.applied)

	// A second start while A is processing violates the single-processing
	// invariant.
	_, err = f.svc.Start(ctx, testSession)
	require.Error(t, err)
	assert.Equal(t, apperrors.CodeConflict, apperrors.CodeOf(err))

	top, err := f.svc.Top(ctx, testSession)
	require.NoError(t, err)
	require.NotNil(t, top)
	assert.Equal(t, testTaskB, top.TaskID)
}

func TestCompleteAdvancesQueue(t *testing.T) {
	f := newQueueFixture(t)
	ctx := context.Background()

	_, err := f.svc.Push(ctx, testSession, testTaskA)
	require.NoError(t, err)
	_, err = f.svc.Push(ctx, testSession, testTaskB)
	require.NoError(t, err)

	_, err = f.svc.Start(ctx, testSession)
	require.NoError(t, err)

	done, err := f.svc.Complete(ctx, testSession, testTaskA)
	require.NoError(t, err)
	assert.Equal(t, v1.QueueItemCompleted, done.Status)
	require.NotNil(t, done.CompletedAt)
	assert.Equal(t, 1, f.count(events.QueueItemCompleted))
	assert.Contains(t, f.tasks.applied, testTaskA+":completed")

	// B is next and can start now.
	started, err := f.svc.Start(ctx, testSession)
	require.NoError(t, err)
	assert.Equal(t, testTaskB, started.TaskID)
}

func TestFailRequiresProcessing(t *testing.T) {
	f := newQueueFixture(t)
	ctx := context.Background()

	_, err := f.svc.Push(ctx, testSession, testTaskA)
	require.NoError(t, err)

	_, err = f.svc.Fail(ctx, testSession, testTaskA)
	require.Error(t, err)
	assert.Equal(t, apperrors.CodeConflict, apperrors.CodeOf(err))

	_, err = f.svc.Start(ctx, testSession)
	require.NoError(t, err)
	failed, err := f.svc.Fail(ctx, testSession, testTaskA)
	require.NoError(t, err)
	assert.Equal(t, v1.QueueItemFailed, failed.Status)
	assert.Equal(t, 1, f.count(events.QueueItemFailed))
	assert.Contains(t, f.tasks.applied, testTaskA+":failed")
}

func TestSkipWorksFromQueued(t *testing.T) {
	f := newQueueFixture(t)
	ctx := context.Background()

	_, err := f.svc.Push(ctx, testSession, testTaskA)
	require.NoError(t, err)
	_, err = f.svc.Push(ctx, testSession, testTaskB)
	require.NoError(t, err)

	skipped, err := f.svc.Skip(ctx, testSession, testTaskA)
	require.NoError(t, err)
	assert.Equal(t, v1.QueueItemSkipped, skipped.Status)
	assert.Contains(t, f.tasks.applied, testTaskA+":skipped")

	// Skipping settles the entry; B moves to the top.
	top, err := f.svc.Top(ctx, testSession)
	require.NoError(t, err)
	require.NotNil(t, top)
	assert.Equal(t, testTaskB, top.TaskID)

	// A settled task can be queued again.
	again, err := f.svc.Push(ctx, testSession, testTaskA)
	require.NoError(t, err)
	assert.Equal(t, 2, again.Position)
}

func TestQueuePersistsAcrossReload(t *testing.T) {
	dir := t.TempDir()
	ctx := context.Background()

	store, err := storage.NewStore(dir, logger.Default())
	require.NoError(t, err)
	repo := repository.NewFileRepository(store, logger.Default())
	require.NoError(t, repo.Initialize(ctx))

	now := time.Now().UTC()
	require.NoError(t, repo.SaveQueue(ctx, testSession, []*models.Item{
		{SessionID: testSession, TaskID: testTaskA, Position: 0, Status: v1.QueueItemProcessing, StartedAt: &now},
		{SessionID: testSession, TaskID: testTaskB, Position: 1, Status: v1.QueueItemQueued},
	}))

	// A fresh repository over the same directory sees the same queue.
	reloadedStore, err := storage.NewStore(dir, logger.Default())
	require.NoError(t, err)
	reloaded := repository.NewFileRepository(reloadedStore, logger.Default())
	require.NoError(t, reloaded.Initialize(ctx))
	restored, err := reloaded.GetQueue(ctx, testSession)
	require.NoError(t, err)
	require.Len(t, restored, 2)
	assert.Equal(t, v1.QueueItemProcessing, restored[0].Status)
	assert.Equal(t, testTaskB, restored[1].TaskID)
}

func TestPurgeSessionDropsQueue(t *testing.T) {
	f := newQueueFixture(t)
	ctx := context.Background()

	_, err := f.svc.Push(ctx, testSession, testTaskA)
	require.NoError(t, err)

	require.NoError(t, f.svc.PurgeSession(ctx, testSession))
	items, err := f.repo.GetQueue(ctx, testSession)
	require.NoError(t, err)
	assert.Empty(t, items)
}
