// Package models defines the inter-session mail message.
package models

import (
	"time"

	v1 "github.com/maestro/maestro/pkg/api/v1"
)

// Message is server-mediated mail between two sessions. The sender's session
// is the authenticated principal; delivery state advances pending ->
// delivered (first inbox fetch) -> read (acknowledgement), or expires on TTL
// or when the receiver is terminal.
type Message struct {
	ID          string             `json:"id"`
	From        string             `json:"from"`
	To          string             `json:"to"`
	Body        string             `json:"body"`
	Status      v1.MessageStatus   `json:"status"`
	CreatedAt   time.Time          `json:"createdAt"`
	DeliveredAt *time.Time         `json:"deliveredAt,omitempty"`
	ReadAt      *time.Time         `json:"readAt,omitempty"`
	ExpiresAt   *time.Time         `json:"expiresAt,omitempty"`
	Metadata    v1.MessageMetadata `json:"metadata,omitempty"`
}

// Clone returns a copy of the message record.
func (m *Message) Clone() *Message {
	if m == nil {
		return nil
	}
	c := *m
	if m.DeliveredAt != nil {
		at := *m.DeliveredAt
		c.DeliveredAt = &at
	}
	if m.ReadAt != nil {
		at := *m.ReadAt
		c.ReadAt = &at
	}
	if m.ExpiresAt != nil {
		at := *m.ExpiresAt
		c.ExpiresAt = &at
	}
	return &c
}

// Expired reports whether the message TTL has lapsed at the given time.
func (m *Message) Expired(now time.Time) bool {
	return m.ExpiresAt != nil && now.After(*m.ExpiresAt)
}
