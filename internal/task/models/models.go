// Package models defines the task entity and its timeline.
package models

import (
	"time"

	v1 "github.com/maestro/maestro/pkg/api/v1"
)

// Task is a unit of work inside a project. Tasks form a forest via ParentID;
// deleting a task orphans its children (they become roots). Sessions link to
// tasks many-to-many: SessionIDs and the sessions' TaskIDs are kept mutual by
// the services, and TaskSessionStatuses holds one session-controlled progress
// entry per linked session.
type Task struct {
	ID          string                               `json:"id"`
	ProjectID   string                               `json:"projectId"`
	ParentID    string                               `json:"parentId,omitempty"`
	Title       string                               `json:"title"`
	Description string                               `json:"description,omitempty"`
	Status      v1.TaskStatus                        `json:"status"`
	Priority    int                                  `json:"priority"`
	CreatedAt   time.Time                            `json:"createdAt"`
	UpdatedAt   time.Time                            `json:"updatedAt"`
	StartedAt   *time.Time                           `json:"startedAt,omitempty"`
	CompletedAt *time.Time                           `json:"completedAt,omitempty"`
	SessionIDs  []string                             `json:"sessionIds"`
	// TaskSessionStatuses keys are always a subset of SessionIDs.
	TaskSessionStatuses map[string]v1.TaskSessionStatus `json:"taskSessionStatuses"`
	Timeline            []TimelineEntry                 `json:"timeline"`
	Dependencies        []string                        `json:"dependencies,omitempty"`
}

// TimelineEntry is one record of the task's append-only audit log.
type TimelineEntry struct {
	ID           string          `json:"id"`
	At           time.Time       `json:"at"`
	Event        string          `json:"event"`
	From         string          `json:"from,omitempty"`
	To           string          `json:"to,omitempty"`
	UpdateSource v1.UpdateSource `json:"updateSource,omitempty"`
	SessionID    string          `json:"sessionId,omitempty"`
	Note         string          `json:"note,omitempty"`
}

// Clone returns a deep copy so callers can mutate without aliasing the
// repository's in-memory index.
func (t *Task) Clone() *Task {
	if t == nil {
		return nil
	}
	c := *t
	c.SessionIDs = append([]string(nil), t.SessionIDs...)
	c.Dependencies = append([]string(nil), t.Dependencies...)
	c.Timeline = append([]TimelineEntry(nil), t.Timeline...)
	c.TaskSessionStatuses = make(map[string]v1.TaskSessionStatus, len(t.TaskSessionStatuses))
	for k, v := range t.TaskSessionStatuses {
		c.TaskSessionStatuses[k] = v
	}
	if t.StartedAt != nil {
		at := *t.StartedAt
		c.StartedAt = &at
	}
	if t.CompletedAt != nil {
		at := *t.CompletedAt
		c.CompletedAt = &at
	}
	return &c
}

// HasSession reports whether sessionID is linked to the task.
func (t *Task) HasSession(sessionID string) bool {
	for _, id := range t.SessionIDs {
		if id == sessionID {
			return true
		}
	}
	return false
}

// AddSession links sessionID if not already present.
func (t *Task) AddSession(sessionID string) {
	if !t.HasSession(sessionID) {
		t.SessionIDs = append(t.SessionIDs, sessionID)
	}
}

// RemoveSession unlinks sessionID and drops its status entry.
func (t *Task) RemoveSession(sessionID string) {
	for i, id := range t.SessionIDs {
		if id == sessionID {
			t.SessionIDs = append(t.SessionIDs[:i], t.SessionIDs[i+1:]...)
			break
		}
	}
	delete(t.TaskSessionStatuses, sessionID)
}
