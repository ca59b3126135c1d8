package service

import (
	"strings"

	"github.com/maestro/maestro/internal/common/ident"
	"github.com/maestro/maestro/internal/teammember/models"
	v1 "github.com/maestro/maestro/pkg/api/v1"
)

// Every project has exactly one Worker and one Coordinator default. They are
// served from code so that a reset always lands back on the same record,
// byte for byte; only the override patch touches disk.

const workerIdentity = "You are a worker agent. You execute the tasks assigned to you, " +
	"report progress through your task session statuses, and ask for input when blocked."

const coordinatorIdentity = "You are a coordinator agent. You break work into subtasks, " +
	"delegate them to worker sessions, and track their progress to completion."

func codeDefault(projectID string, role v1.TeamMemberRole) *models.TeamMember {
	member := &models.TeamMember{
		ID:        ident.DefaultTeamMemberID(projectID, string(role)),
		ProjectID: projectID,
		Role:      role,
		IsDefault: true,
		Status:    v1.TeamMemberActive,
	}
	switch role {
	case v1.TeamMemberRoleWorker:
		member.Name = "Worker"
		member.Identity = workerIdentity
	case v1.TeamMemberRoleCoordinator:
		member.Name = "Coordinator"
		member.Identity = coordinatorIdentity
	}
	return member
}

// parseDefaultID splits a deterministic default ID (tm_{projectId}_{role})
// into its parts. Project IDs contain underscores, so the role is matched as
// a suffix.
func parseDefaultID(id string) (projectID string, role v1.TeamMemberRole, ok bool) {
	if !strings.HasPrefix(id, ident.KindTeamMember+"_") {
		return "", "", false
	}
	rest := strings.TrimPrefix(id, ident.KindTeamMember+"_")
	for _, r := range []v1.TeamMemberRole{v1.TeamMemberRoleWorker, v1.TeamMemberRoleCoordinator} {
		suffix := "_" + string(r)
		if strings.HasSuffix(rest, suffix) && len(rest) > len(suffix) {
			return strings.TrimSuffix(rest, suffix), r, true
		}
	}
	return "", "", false
}
