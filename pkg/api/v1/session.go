package v1

import "time"

// SessionStatus represents the session-controlled lifecycle state.
type SessionStatus string

const (
	SessionStatusSpawning  SessionStatus = "spawning"
	SessionStatusIdle      SessionStatus = "idle"
	SessionStatusWorking   SessionStatus = "working"
	SessionStatusCompleted SessionStatus = "completed"
	SessionStatusFailed    SessionStatus = "failed"
	SessionStatusStopped   SessionStatus = "stopped"
)

// ValidSessionStatus reports whether s is a member of the session status enum.
func ValidSessionStatus(s SessionStatus) bool {
	switch s {
	case SessionStatusSpawning, SessionStatusIdle, SessionStatusWorking,
		SessionStatusCompleted, SessionStatusFailed, SessionStatusStopped:
		return true
	}
	return false
}

// IsTerminal reports whether s is a sticky terminal state.
func (s SessionStatus) IsTerminal() bool {
	switch s {
	case SessionStatusCompleted, SessionStatusFailed, SessionStatusStopped:
		return true
	}
	return false
}

// SessionMode determines prompt composition and the permitted command set.
type SessionMode string

const (
	SessionModeWorker      SessionMode = "worker"
	SessionModeCoordinator SessionMode = "coordinator"
)

// ValidSessionMode reports whether m is a member of the session mode enum.
func ValidSessionMode(m SessionMode) bool {
	return m == SessionModeWorker || m == SessionModeCoordinator
}

// SpawnSource identifies who asked for a session to be spawned.
// session:spawn is only announced for ui/session sources; plain API creation
// does not represent an intent to launch an agent.
type SpawnSource string

const (
	SpawnSourceUI      SpawnSource = "ui"
	SpawnSourceSession SpawnSource = "session"
	SpawnSourceAPI     SpawnSource = "api"
)

// NeedsInput flags that a session's agent is waiting on a human.
type NeedsInput struct {
	Active   bool      `json:"active"`
	Question string    `json:"question,omitempty"`
	Since    time.Time `json:"since"`
}

// Environment variable names of the spawn contract handed to the launcher.
const (
	EnvSessionID    = "MAESTRO_SESSION_ID"
	EnvProjectID    = "MAESTRO_PROJECT_ID"
	EnvManifestPath = "MAESTRO_MANIFEST_PATH"
	EnvTaskIDs      = "MAESTRO_TASK_IDS"
)
