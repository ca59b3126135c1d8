package v1

// Manifest is the structured context bundle handed to an external agent at
// spawn. Its schema is part of the contract with agent front-ends: the file at
// MAESTRO_MANIFEST_PATH contains exactly this document. Composition is
// deterministic: the same inputs always yield byte-identical JSON.
type Manifest struct {
	Version    int              `json:"version"`
	SessionID  string           `json:"sessionId"`
	ProjectID  string           `json:"projectId"`
	Mode       SessionMode      `json:"mode"`
	Model      string           `json:"model,omitempty"`
	AgentTool  string           `json:"agentTool,omitempty"`
	System     SystemEnvelope   `json:"system"`
	Task       TaskEnvelope     `json:"task"`
	Permissions ManifestPermissions `json:"permissions"`
}

// SystemEnvelope combines the mode identity block, the optional team-member
// identity, the allowed-commands brief, and (for coordinators) the roster.
type SystemEnvelope struct {
	Identity      string          `json:"identity"`
	TeamIdentity  string          `json:"teamIdentity,omitempty"`
	CommandsBrief string          `json:"commandsBrief"`
	Roster        []RosterEntry   `json:"roster,omitempty"`
}

// RosterEntry lists a delegation target for coordinator sessions.
type RosterEntry struct {
	TeamMemberID string         `json:"teamMemberId"`
	Name         string         `json:"name"`
	Role         TeamMemberRole `json:"role"`
	Identity     string         `json:"identity,omitempty"`
}

// TaskEnvelope describes the work assigned to the session.
type TaskEnvelope struct {
	Prompt string         `json:"prompt"`
	Tasks  []ManifestTask `json:"tasks"`
	// SpawnInstructions is set for coordinators only: the exact command shape
	// to delegate a subtask to a named team member.
	SpawnInstructions string `json:"spawnInstructions,omitempty"`
}

// ManifestTask is the per-task slice of the task envelope.
type ManifestTask struct {
	ID           string     `json:"id"`
	Title        string     `json:"title"`
	Description  string     `json:"description,omitempty"`
	Status       TaskStatus `json:"status"`
	Priority     int        `json:"priority"`
	Dependencies []string   `json:"dependencies,omitempty"`
}

// ManifestPermissions is the resolved closed set of CLI subcommands the agent
// may invoke. The server also uses it to reject disallowed operations
// attributed to the session.
type ManifestPermissions struct {
	AllowedCommands []string `json:"allowedCommands"`
}

// SpawnEnv is the environment block of the session:spawn announcement.
type SpawnEnv struct {
	Vars           map[string]string `json:"vars"`
	InitialCommand string            `json:"initialCommand"`
}
