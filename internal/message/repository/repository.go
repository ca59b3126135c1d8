// Package repository provides message persistence over the JSON file store.
package repository

import (
	"context"

	"github.com/maestro/maestro/internal/message/models"
)

// Repository is the storage interface for inter-session messages.
type Repository interface {
	// Initialize replays the message directory into memory. Must be called
	// once before any other operation.
	Initialize(ctx context.Context) error

	Create(ctx context.Context, message *models.Message) error
	Get(ctx context.Context, id string) (*models.Message, error)
	Update(ctx context.Context, message *models.Message) error
	Delete(ctx context.Context, id string) error

	// ListByReceiver returns the receiver's messages ordered by creation time.
	ListByReceiver(ctx context.Context, sessionID string) ([]*models.Message, error)

	// DeleteByReceiver removes a session's whole inbox directory.
	DeleteByReceiver(ctx context.Context, sessionID string) error

	Close() error
}
