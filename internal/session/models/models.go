// Package models defines the session entity: one running (or finished) agent
// process coordinated by the core.
package models

import (
	"time"

	v1 "github.com/maestro/maestro/pkg/api/v1"
)

// EventLogCap bounds the per-session event ring; older entries are dropped.
const EventLogCap = 500

// Session tracks an agent process from spawn to a sticky terminal state.
// TaskIDs and the linked tasks' SessionIDs are kept mutual by the services.
// TeamMemberSnapshot is immutable once set, even if the team member is later
// edited or archived.
type Session struct {
	ID                 string                 `json:"id"`
	ProjectID          string                 `json:"projectId"`
	TaskIDs            []string               `json:"taskIds"`
	Name               string                 `json:"name,omitempty"`
	Status             v1.SessionStatus       `json:"status"`
	Mode               v1.SessionMode         `json:"mode"`
	AllowedCommands    []string               `json:"allowedCommands,omitempty"`
	StartedAt          time.Time              `json:"startedAt"`
	LastActivity       time.Time              `json:"lastActivity"`
	CompletedAt        *time.Time             `json:"completedAt,omitempty"`
	Env                map[string]string      `json:"env,omitempty"`
	Events             []Event                `json:"events"`
	TeamMemberID       string                 `json:"teamMemberId,omitempty"`
	TeamMemberSnapshot *v1.TeamMemberSnapshot `json:"teamMemberSnapshot,omitempty"`
	NeedsInput         *v1.NeedsInput         `json:"needsInput,omitempty"`
	Metadata           map[string]interface{} `json:"metadata,omitempty"`
}

// Event is one entry of the session's append-only event log. The log doubles
// as the session timeline: timeline appends are events of type "timeline".
type Event struct {
	ID   string                 `json:"id"`
	Type string                 `json:"type"`
	At   time.Time              `json:"at"`
	Data map[string]interface{} `json:"data,omitempty"`
}

// Clone returns a deep copy so callers can mutate without aliasing the
// repository's in-memory index.
func (s *Session) Clone() *Session {
	if s == nil {
		return nil
	}
	c := *s
	c.TaskIDs = append([]string(nil), s.TaskIDs...)
	c.AllowedCommands = append([]string(nil), s.AllowedCommands...)
	c.Events = append([]Event(nil), s.Events...)
	if s.Env != nil {
		c.Env = make(map[string]string, len(s.Env))
		for k, v := range s.Env {
			c.Env[k] = v
		}
	}
	if s.Metadata != nil {
		c.Metadata = make(map[string]interface{}, len(s.Metadata))
		for k, v := range s.Metadata {
			c.Metadata[k] = v
		}
	}
	if s.CompletedAt != nil {
		at := *s.CompletedAt
		c.CompletedAt = &at
	}
	if s.NeedsInput != nil {
		ni := *s.NeedsInput
		c.NeedsInput = &ni
	}
	if s.TeamMemberSnapshot != nil {
		snap := *s.TeamMemberSnapshot
		snap.SkillIDs = append([]string(nil), s.TeamMemberSnapshot.SkillIDs...)
		c.TeamMemberSnapshot = &snap
	}
	return &c
}

// HasTask reports whether taskID is linked to the session.
func (s *Session) HasTask(taskID string) bool {
	for _, id := range s.TaskIDs {
		if id == taskID {
			return true
		}
	}
	return false
}

// AddTask links taskID if not already present.
func (s *Session) AddTask(taskID string) {
	if !s.HasTask(taskID) {
		s.TaskIDs = append(s.TaskIDs, taskID)
	}
}

// RemoveTask unlinks taskID.
func (s *Session) RemoveTask(taskID string) {
	for i, id := range s.TaskIDs {
		if id == taskID {
			s.TaskIDs = append(s.TaskIDs[:i], s.TaskIDs[i+1:]...)
			return
		}
	}
}

// AppendEvent adds an event to the log, trimming to EventLogCap.
func (s *Session) AppendEvent(evt Event) {
	s.Events = append(s.Events, evt)
	if overflow := len(s.Events) - EventLogCap; overflow > 0 {
		s.Events = append([]Event(nil), s.Events[overflow:]...)
	}
}
