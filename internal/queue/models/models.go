// Package models defines the per-session work queue item.
package models

import (
	"time"

	v1 "github.com/maestro/maestro/pkg/api/v1"
)

// Item is one queued task in a session's ordered work queue. At most one
// item per session is ever processing.
type Item struct {
	SessionID   string             `json:"sessionId"`
	TaskID      string             `json:"taskId"`
	Position    int                `json:"position"`
	Status      v1.QueueItemStatus `json:"status"`
	StartedAt   *time.Time         `json:"startedAt,omitempty"`
	CompletedAt *time.Time         `json:"completedAt,omitempty"`
}

// Clone returns a copy of the item.
func (i *Item) Clone() *Item {
	if i == nil {
		return nil
	}
	c := *i
	if i.StartedAt != nil {
		at := *i.StartedAt
		c.StartedAt = &at
	}
	if i.CompletedAt != nil {
		at := *i.CompletedAt
		c.CompletedAt = &at
	}
	return &c
}
