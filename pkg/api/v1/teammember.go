package v1

// TeamMemberStatus represents the lifecycle of a team member identity.
type TeamMemberStatus string

const (
	TeamMemberActive   TeamMemberStatus = "active"
	TeamMemberArchived TeamMemberStatus = "archived"
)

// TeamMemberRole is the role a team member fills when attached to a session.
type TeamMemberRole string

const (
	TeamMemberRoleWorker      TeamMemberRole = "worker"
	TeamMemberRoleCoordinator TeamMemberRole = "coordinator"
)

// ValidTeamMemberRole reports whether r is a member of the role enum.
func ValidTeamMemberRole(r TeamMemberRole) bool {
	return r == TeamMemberRoleWorker || r == TeamMemberRoleCoordinator
}

// TeamMemberSnapshot is the frozen copy of a team member's identity stored on a
// session at spawn time. It never changes after first write, even if the team
// member is later edited or archived.
type TeamMemberSnapshot struct {
	TeamMemberID string         `json:"teamMemberId"`
	Name         string         `json:"name"`
	Role         TeamMemberRole `json:"role"`
	Identity     string         `json:"identity,omitempty"`
	Avatar       string         `json:"avatar,omitempty"`
	Model        string         `json:"model,omitempty"`
	AgentTool    string         `json:"agentTool,omitempty"`
	SkillIDs     []string       `json:"skillIds,omitempty"`
	IsDefault    bool           `json:"isDefault"`
}
