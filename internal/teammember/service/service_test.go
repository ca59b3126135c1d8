package service

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/maestro/maestro/internal/common/apperrors"
	"github.com/maestro/maestro/internal/common/besteffort"
	"github.com/maestro/maestro/internal/common/ident"
	"github.com/maestro/maestro/internal/common/keylock"
	"github.com/maestro/maestro/internal/common/logger"
	"github.com/maestro/maestro/internal/events/bus"
	projectmodels "github.com/maestro/maestro/internal/project/models"
	"github.com/maestro/maestro/internal/storage"
	"github.com/maestro/maestro/internal/teammember/repository"
	v1 "github.com/maestro/maestro/pkg/api/v1"
)

type fakeProjects struct{ ids map[string]bool }

func (f *fakeProjects) GetProject(ctx context.Context, id string) (*projectmodels.Project, error) {
	if !f.ids[id] {
		return nil, apperrors.NotFound("project %s not found", id)
	}
	return &projectmodels.Project{ID: id, Name: "p"}, nil
}

const testProject = "proj_1_aaaaaaaaaa"

func newTeamMemberService(t *testing.T) *Service {
	t.Helper()
	store, err := storage.NewStore(t.TempDir(), logger.Default())
	require.NoError(t, err)
	repo := repository.NewFileRepository(store, logger.Default())
	require.NoError(t, repo.Initialize(context.Background()))

	return NewService(repo,
		&fakeProjects{ids: map[string]bool{testProject: true}},
		bus.NewMemoryEventBus(logger.Default()),
		keylock.New(), logger.Default(), besteffort.NewCounter())
}

func TestDefaultsResolvePerProject(t *testing.T) {
	svc := newTeamMemberService(t)
	ctx := context.Background()

	members, err := svc.ListByProject(ctx, testProject)
	require.NoError(t, err)
	require.Len(t, members, 2)
	assert.Equal(t, v1.TeamMemberRoleWorker, members[0].Role)
	assert.Equal(t, v1.TeamMemberRoleCoordinator, members[1].Role)
	assert.True(t, members[0].IsDefault)
	assert.Equal(t, ident.DefaultTeamMemberID(testProject, "worker"), members[0].ID)
}

func TestDefaultResetIdempotence(t *testing.T) {
	svc := newTeamMemberService(t)
	ctx := context.Background()
	workerID := ident.DefaultTeamMemberID(testProject, "worker")

	original, err := svc.Get(ctx, workerID)
	require.NoError(t, err)

	custom := "X"
	patched, err := svc.Update(ctx, workerID, UpdateTeamMemberRequest{Identity: &custom})
	require.NoError(t, err)
	assert.Equal(t, "X", patched.Identity)
	assert.Equal(t, original.Name, patched.Name)

	_, err = svc.Reset(ctx, workerID)
	require.NoError(t, err)

	after, err := svc.Get(ctx, workerID)
	require.NoError(t, err)
	assert.Equal(t, original, after)

	a, err := storage.Marshal(original)
	require.NoError(t, err)
	b, err := storage.Marshal(after)
	require.NoError(t, err)
	assert.Equal(t, a, b)
}

func TestEmptyPatchAfterResetYieldsCodeDefault(t *testing.T) {
	svc := newTeamMemberService(t)
	ctx := context.Background()
	workerID := ident.DefaultTeamMemberID(testProject, "worker")

	original, err := svc.Get(ctx, workerID)
	require.NoError(t, err)

	_, err = svc.Reset(ctx, workerID)
	require.NoError(t, err)
	after, err := svc.Update(ctx, workerID, UpdateTeamMemberRequest{})
	require.NoError(t, err)
	assert.Equal(t, original, after)
}

func TestDefaultDeleteForbidden(t *testing.T) {
	svc := newTeamMemberService(t)
	err := svc.Delete(context.Background(), ident.DefaultTeamMemberID(testProject, "worker"))
	assert.True(t, apperrors.IsCode(err, apperrors.CodeForbidden))
}

func TestCustomMemberLifecycle(t *testing.T) {
	svc := newTeamMemberService(t)
	ctx := context.Background()

	member, err := svc.Create(ctx, CreateTeamMemberRequest{
		ProjectID: testProject,
		Name:      "Reviewer",
		Role:      v1.TeamMemberRoleWorker,
		Identity:  "You review code.",
	})
	require.NoError(t, err)
	assert.False(t, member.IsDefault)
	assert.Equal(t, v1.TeamMemberActive, member.Status)

	// Deleting while active violates the archive-first rule.
	err = svc.Delete(ctx, member.ID)
	assert.True(t, apperrors.IsCode(err, apperrors.CodeConflict))

	archived, err := svc.Archive(ctx, member.ID)
	require.NoError(t, err)
	assert.Equal(t, v1.TeamMemberArchived, archived.Status)

	require.NoError(t, svc.Delete(ctx, member.ID))
	_, err = svc.Get(ctx, member.ID)
	assert.True(t, apperrors.IsCode(err, apperrors.CodeNotFound))
}

func TestResolveForSpawn(t *testing.T) {
	svc := newTeamMemberService(t)
	ctx := context.Background()

	worker, err := svc.ResolveForSpawn(ctx, testProject, "", v1.SessionModeWorker)
	require.NoError(t, err)
	assert.Equal(t, v1.TeamMemberRoleWorker, worker.Role)

	coordinator, err := svc.ResolveForSpawn(ctx, testProject, "", v1.SessionModeCoordinator)
	require.NoError(t, err)
	assert.Equal(t, v1.TeamMemberRoleCoordinator, coordinator.Role)

	member, err := svc.Create(ctx, CreateTeamMemberRequest{
		ProjectID: testProject, Name: "Custom", Role: v1.TeamMemberRoleWorker,
	})
	require.NoError(t, err)

	resolved, err := svc.ResolveForSpawn(ctx, testProject, member.ID, v1.SessionModeWorker)
	require.NoError(t, err)
	assert.Equal(t, member.ID, resolved.ID)

	_, err = svc.Archive(ctx, member.ID)
	require.NoError(t, err)
	_, err = svc.ResolveForSpawn(ctx, testProject, member.ID, v1.SessionModeWorker)
	assert.True(t, apperrors.IsCode(err, apperrors.CodeConflict))
}

func TestOverrideSurvivesReload(t *testing.T) {
	dir := t.TempDir()
	store, err := storage.NewStore(dir, logger.Default())
	require.NoError(t, err)
	repo := repository.NewFileRepository(store, logger.Default())
	require.NoError(t, repo.Initialize(context.Background()))
	projects := &fakeProjects{ids: map[string]bool{testProject: true}}
	svc := NewService(repo, projects, bus.NewMemoryEventBus(logger.Default()),
		keylock.New(), logger.Default(), besteffort.NewCounter())

	ctx := context.Background()
	workerID := ident.DefaultTeamMemberID(testProject, "worker")
	custom := "persistent identity"
	_, err = svc.Update(ctx, workerID, UpdateTeamMemberRequest{Identity: &custom})
	require.NoError(t, err)

	store2, err := storage.NewStore(dir, logger.Default())
	require.NoError(t, err)
	repo2 := repository.NewFileRepository(store2, logger.Default())
	require.NoError(t, repo2.Initialize(context.Background()))
	svc2 := NewService(repo2, projects, bus.NewMemoryEventBus(logger.Default()),
		keylock.New(), logger.Default(), besteffort.NewCounter())

	reloaded, err := svc2.Get(ctx, workerID)
	require.NoError(t, err)
	assert.Equal(t, "persistent identity", reloaded.Identity)
}
