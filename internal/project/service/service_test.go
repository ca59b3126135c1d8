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
	"github.com/maestro/maestro/internal/project/models"
	"github.com/maestro/maestro/internal/project/repository"
	sessionmodels "github.com/maestro/maestro/internal/session/models"
	"github.com/maestro/maestro/internal/storage"
	taskmodels "github.com/maestro/maestro/internal/task/models"
)

type fakeTaskCascader struct {
	byProject map[string][]*taskmodels.Task
}

func (f *fakeTaskCascader) DeleteByProject(ctx context.Context, projectID string) ([]*taskmodels.Task, error) {
	removed := f.byProject[projectID]
	delete(f.byProject, projectID)
	return removed, nil
}

type fakeSessionCascader struct {
	byProject map[string][]*sessionmodels.Session
}

func (f *fakeSessionCascader) DeleteByProject(ctx context.Context, projectID string) ([]*sessionmodels.Session, error) {
	removed := f.byProject[projectID]
	delete(f.byProject, projectID)
	return removed, nil
}

type fakePurger struct {
	mu     sync.Mutex
	purged []string
}

func (f *fakePurger) PurgeSession(ctx context.Context, sessionID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.purged = append(f.purged, sessionID)
	return nil
}

func newProjectService(t *testing.T) (*Service, *fakeTaskCascader, *fakeSessionCascader, *fakePurger, *[]string) {
	t.Helper()
	store, err := storage.NewStore(t.TempDir(), logger.Default())
	require.NoError(t, err)
	repo := repository.NewFileRepository(store, logger.Default())
	require.NoError(t, repo.Initialize(context.Background()))

	tasks := &fakeTaskCascader{byProject: map[string][]*taskmodels.Task{}}
	sessions := &fakeSessionCascader{byProject: map[string][]*sessionmodels.Session{}}
	purger := &fakePurger{}

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

	svc := NewService(repo, tasks, sessions, eventBus, keylock.New(), logger.Default(), besteffort.NewCounter())
	svc.AddSessionPurger(purger)
	return svc, tasks, sessions, purger, &subjects
}

func TestCreateProjectValidation(t *testing.T) {
	svc, _, _, _, _ := newProjectService(t)
	ctx := context.Background()

	_, err := svc.CreateProject(ctx, CreateProjectRequest{WorkingDir: "/tmp/x"})
	assert.True(t, apperrors.IsCode(err, apperrors.CodeValidation))

	_, err = svc.CreateProject(ctx, CreateProjectRequest{Name: "x"})
	assert.True(t, apperrors.IsCode(err, apperrors.CodeValidation))

	project, err := svc.CreateProject(ctx, CreateProjectRequest{Name: "x", WorkingDir: "/tmp/x"})
	require.NoError(t, err)
	assert.NotEmpty(t, project.ID)
	assert.Contains(t, project.ID, "proj_")
}

func TestUpdateProject(t *testing.T) {
	svc, _, _, _, subjects := newProjectService(t)
	ctx := context.Background()

	project, err := svc.CreateProject(ctx, CreateProjectRequest{Name: "old", WorkingDir: "/tmp/p"})
	require.NoError(t, err)

	name := "new"
	updated, err := svc.UpdateProject(ctx, project.ID, UpdateProjectRequest{Name: &name})
	require.NoError(t, err)
	assert.Equal(t, "new", updated.Name)
	assert.Equal(t, "/tmp/p", updated.WorkingDir)
	assert.Contains(t, *subjects, events.ProjectUpdated)
}

func TestDeleteProjectCascadeOrder(t *testing.T) {
	svc, tasks, sessions, purger, subjects := newProjectService(t)
	ctx := context.Background()

	project, err := svc.CreateProject(ctx, CreateProjectRequest{Name: "p", WorkingDir: "/tmp/p"})
	require.NoError(t, err)

	tasks.byProject[project.ID] = []*taskmodels.Task{
		{ID: "task_1_aaaaaaaaaa", ProjectID: project.ID},
		{ID: "task_2_bbbbbbbbbb", ProjectID: project.ID},
	}
	sessions.byProject[project.ID] = []*sessionmodels.Session{
		{ID: "sess_1_cccccccccc", ProjectID: project.ID, TaskIDs: []string{"task_1_aaaaaaaaaa", "task_2_bbbbbbbbbb"}},
	}

	require.NoError(t, svc.DeleteProject(ctx, project.ID))

	_, err = svc.GetProject(ctx, project.ID)
	assert.True(t, apperrors.IsCode(err, apperrors.CodeNotFound))

	// One project.deleted, then task.deleted per task, then session.deleted.
	var cascade []string
	for _, subject := range *subjects {
		switch subject {
		case events.ProjectDeleted, events.TaskDeleted, events.SessionDeleted:
			cascade = append(cascade, subject)
		}
	}
	require.Equal(t, []string{
		events.ProjectDeleted,
		events.TaskDeleted, events.TaskDeleted,
		events.SessionDeleted,
	}, cascade)

	assert.Equal(t, []string{"sess_1_cccccccccc"}, purger.purged)
}

func TestDeleteMissingProject(t *testing.T) {
	svc, _, _, _, _ := newProjectService(t)
	err := svc.DeleteProject(context.Background(), "proj_missing")
	assert.True(t, apperrors.IsCode(err, apperrors.CodeNotFound))
}

func TestProjectPersistsAcrossReload(t *testing.T) {
	dir := t.TempDir()
	store, err := storage.NewStore(dir, logger.Default())
	require.NoError(t, err)
	repo := repository.NewFileRepository(store, logger.Default())
	require.NoError(t, repo.Initialize(context.Background()))

	project := &models.Project{ID: "proj_1_aaaaaaaaaa", Name: "p", WorkingDir: "/tmp/p"}
	require.NoError(t, repo.Create(context.Background(), project))

	reloaded := repository.NewFileRepository(store, logger.Default())
	require.NoError(t, reloaded.Initialize(context.Background()))
	got, err := reloaded.Get(context.Background(), project.ID)
	require.NoError(t, err)
	assert.Equal(t, project.Name, got.Name)
	assert.Equal(t, project.WorkingDir, got.WorkingDir)
}
