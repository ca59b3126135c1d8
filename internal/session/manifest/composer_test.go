package manifest

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	sessionmodels "github.com/maestro/maestro/internal/session/models"
	"github.com/maestro/maestro/internal/storage"
	taskmodels "github.com/maestro/maestro/internal/task/models"
	v1 "github.com/maestro/maestro/pkg/api/v1"
)

func composeInput() ComposeInput {
	return ComposeInput{
		Session: &sessionmodels.Session{
			ID:        "sess_1_aaaaaaaaaa",
			ProjectID: "proj_1_bbbbbbbbbb",
			Mode:      v1.SessionModeWorker,
		},
		Tasks: []*taskmodels.Task{
			{ID: "task_1_cccccccccc", Title: "Ship auth", Description: "OAuth flow", Status: v1.TaskStatusTodo},
		},
		Snapshot: &v1.TeamMemberSnapshot{
			TeamMemberID: "tm_proj_1_bbbbbbbbbb_worker",
			Name:         "Worker",
			Role:         v1.TeamMemberRoleWorker,
			IsDefault:    true,
		},
		Model:     "sonnet",
		AgentTool: "claude",
	}
}

func TestComposeIsDeterministic(t *testing.T) {
	in := composeInput()
	a, err := storage.Marshal(Compose(in))
	require.NoError(t, err)
	b, err := storage.Marshal(Compose(in))
	require.NoError(t, err)
	assert.Equal(t, a, b)
}

func TestComposeWorker(t *testing.T) {
	m := Compose(composeInput())

	assert.Equal(t, ManifestVersion, m.Version)
	assert.Equal(t, v1.SessionModeWorker, m.Mode)
	assert.Contains(t, m.Task.Prompt, "Ship auth")
	require.Len(t, m.Task.Tasks, 1)
	assert.Equal(t, "task_1_cccccccccc", m.Task.Tasks[0].ID)

	// Default team members contribute no separate identity block.
	assert.Empty(t, m.System.TeamIdentity)
	assert.Empty(t, m.System.Roster)
	assert.Empty(t, m.Task.SpawnInstructions)

	// Workers may not spawn sessions.
	assert.NotContains(t, m.Permissions.AllowedCommands, "session:spawn")
	for _, core := range CoreCommands {
		assert.Contains(t, m.Permissions.AllowedCommands, core)
	}
}

func TestComposeCoordinator(t *testing.T) {
	in := composeInput()
	in.Session.Mode = v1.SessionModeCoordinator
	in.Roster = []v1.RosterEntry{
		{TeamMemberID: "tm_b", Name: "B", Role: v1.TeamMemberRoleWorker},
		{TeamMemberID: "tm_a", Name: "A", Role: v1.TeamMemberRoleWorker},
	}
	m := Compose(in)

	assert.Contains(t, m.Permissions.AllowedCommands, "session:spawn")
	assert.NotEmpty(t, m.Task.SpawnInstructions)
	require.Len(t, m.System.Roster, 2)
	assert.Equal(t, "tm_a", m.System.Roster[0].TeamMemberID)
}

func TestComposeCustomTeamIdentity(t *testing.T) {
	in := composeInput()
	in.Snapshot = &v1.TeamMemberSnapshot{
		TeamMemberID: "tm_1_dddddddddd",
		Name:         "Reviewer",
		Role:         v1.TeamMemberRoleWorker,
		Identity:     "You review code for security issues.",
		IsDefault:    false,
	}
	m := Compose(in)
	assert.Contains(t, m.System.TeamIdentity, "Reviewer")
	assert.Contains(t, m.System.TeamIdentity, "security issues")
}

func TestResolvePermissionsNarrowingKeepsCore(t *testing.T) {
	commands := ResolvePermissions(v1.SessionModeWorker, []string{"task:get"})

	assert.Contains(t, commands, "task:get")
	assert.NotContains(t, commands, "task:update")
	for _, core := range CoreCommands {
		assert.Contains(t, commands, core)
	}

	// Narrowing cannot smuggle in commands outside the role set.
	commands = ResolvePermissions(v1.SessionModeWorker, []string{"session:spawn"})
	assert.NotContains(t, commands, "session:spawn")
}

func TestResolvePermissionsSorted(t *testing.T) {
	commands := ResolvePermissions(v1.SessionModeCoordinator, nil)
	for i := 1; i < len(commands); i++ {
		assert.Less(t, commands[i-1], commands[i])
	}
}
