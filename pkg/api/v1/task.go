package v1

// TaskStatus represents the user-controlled status of a task
type TaskStatus string

const (
	TaskStatusTodo       TaskStatus = "todo"
	TaskStatusInProgress TaskStatus = "in_progress"
	TaskStatusCompleted  TaskStatus = "completed"
	TaskStatusCancelled  TaskStatus = "cancelled"
	TaskStatusBlocked    TaskStatus = "blocked"
)

// ValidTaskStatus reports whether s is a member of the task status enum.
func ValidTaskStatus(s TaskStatus) bool {
	switch s {
	case TaskStatusTodo, TaskStatusInProgress, TaskStatusCompleted, TaskStatusCancelled, TaskStatusBlocked:
		return true
	}
	return false
}

// TaskSessionStatus represents a session's own progress on a task.
// It is session-controlled and lives in task.taskSessionStatuses keyed by session ID.
type TaskSessionStatus string

const (
	TaskSessionQueued    TaskSessionStatus = "queued"
	TaskSessionWorking   TaskSessionStatus = "working"
	TaskSessionBlocked   TaskSessionStatus = "blocked"
	TaskSessionCompleted TaskSessionStatus = "completed"
	TaskSessionFailed    TaskSessionStatus = "failed"
	TaskSessionSkipped   TaskSessionStatus = "skipped"
)

// ValidTaskSessionStatus reports whether s is a member of the task session status enum.
func ValidTaskSessionStatus(s TaskSessionStatus) bool {
	switch s {
	case TaskSessionQueued, TaskSessionWorking, TaskSessionBlocked, TaskSessionCompleted, TaskSessionFailed, TaskSessionSkipped:
		return true
	}
	return false
}

// UpdateSource identifies the principal responsible for a mutation.
// "user" mutations may touch every user-owned field; "session" mutations are
// narrowed to the caller's own taskSessionStatuses entry.
type UpdateSource string

const (
	UpdateSourceUser    UpdateSource = "user"
	UpdateSourceSession UpdateSource = "session"
)

// TaskPriority is a free-form ordering hint (higher runs first in queues).
type TaskPriority int

const (
	TaskPriorityLow    TaskPriority = 0
	TaskPriorityNormal TaskPriority = 1
	TaskPriorityHigh   TaskPriority = 2
	TaskPriorityUrgent TaskPriority = 3
)
