// Package repository persists per-session work queues. Each session's queue
// is a single JSON document, rewritten whole on every mutation.
package repository

import (
	"context"

	"github.com/maestro/maestro/internal/queue/models"
)

// Repository is the storage interface for session work queues.
type Repository interface {
	// Initialize replays the queue directory into memory. Must be called once
	// before any other operation.
	Initialize(ctx context.Context) error

	// GetQueue returns the session's items ordered by position. A session
	// with no queue yields an empty slice, not an error.
	GetQueue(ctx context.Context, sessionID string) ([]*models.Item, error)

	// SaveQueue replaces the session's queue document.
	SaveQueue(ctx context.Context, sessionID string, items []*models.Item) error

	// DeleteQueue removes the session's queue document.
	DeleteQueue(ctx context.Context, sessionID string) error

	Close() error
}
