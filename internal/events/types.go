// Package events provides the closed event vocabulary for the Maestro core.
//
// Subjects use dotted NATS style internally (task.updated). On the WebSocket
// wire they are serialized in the colon form clients expect (task:updated);
// WireName owns the mapping.
package events

import "strings"

// Event types for projects
const (
	ProjectCreated = "project.created"
	ProjectUpdated = "project.updated"
	ProjectDeleted = "project.deleted"
)

// Event types for tasks
const (
	TaskCreated = "task.created"
	TaskUpdated = "task.updated"
	TaskDeleted = "task.deleted"
)

// Event types for sessions
const (
	SessionCreated         = "session.created"
	SessionUpdated         = "session.updated"
	SessionDeleted         = "session.deleted"
	SessionSpawn           = "session.spawn"
	SessionTaskAdded       = "session.task_added"
	SessionTaskRemoved     = "session.task_removed"
	SessionModalOpened     = "session.modal_opened"
	SessionModalClosed     = "session.modal_closed"
	SessionModalAction     = "session.modal_action"
	SessionMessageReceived = "session.message_received"
)

// Event types for team members
const (
	TeamMemberCreated  = "team_member.created"
	TeamMemberUpdated  = "team_member.updated"
	TeamMemberDeleted  = "team_member.deleted"
	TeamMemberArchived = "team_member.archived"
)

// Event types for inter-session messages
const (
	MessageCreated   = "message.created"
	MessageDelivered = "message.delivered"
	MessageRead      = "message.read"
)

// Event types for session work queues
const (
	QueueItemStarted   = "queue.item_started"
	QueueItemCompleted = "queue.item_completed"
	QueueItemFailed    = "queue.item_failed"
)

// All enumerates the complete vocabulary. The WebSocket bridge subscribes to
// exactly this set; anything published outside it is a programming error.
var All = []string{
	ProjectCreated, ProjectUpdated, ProjectDeleted,
	TaskCreated, TaskUpdated, TaskDeleted,
	SessionCreated, SessionUpdated, SessionDeleted, SessionSpawn,
	SessionTaskAdded, SessionTaskRemoved,
	SessionModalOpened, SessionModalClosed, SessionModalAction,
	SessionMessageReceived,
	TeamMemberCreated, TeamMemberUpdated, TeamMemberDeleted, TeamMemberArchived,
	MessageCreated, MessageDelivered, MessageRead,
	QueueItemStarted, QueueItemCompleted, QueueItemFailed,
}

// WireName converts an internal subject to the colon form used on the wire:
// the first dot separates entity from verb (task.updated -> task:updated,
// session.task_added -> session:task_added).
func WireName(subject string) string {
	return strings.Replace(subject, ".", ":", 1)
}
