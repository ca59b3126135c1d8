// Package repository provides session persistence over the JSON file store.
package repository

import (
	"context"

	"github.com/maestro/maestro/internal/session/models"
	v1 "github.com/maestro/maestro/pkg/api/v1"
)

// Repository is the storage interface for sessions. Besides the session
// records it owns the spawn manifest artifacts written next to them.
type Repository interface {
	// Initialize replays the session directory into memory. Must be called
	// once before any other operation.
	Initialize(ctx context.Context) error

	Create(ctx context.Context, session *models.Session) error
	Get(ctx context.Context, id string) (*models.Session, error)
	Update(ctx context.Context, session *models.Session) error
	Delete(ctx context.Context, id string) error

	List(ctx context.Context) ([]*models.Session, error)
	ListByProject(ctx context.Context, projectID string) ([]*models.Session, error)

	// DeleteByProject removes every session of a project, returning the
	// removed records (for cascade event emission).
	DeleteByProject(ctx context.Context, projectID string) ([]*models.Session, error)

	// WriteManifest persists the spawn manifest for a session and returns the
	// absolute path handed to the launcher via MAESTRO_MANIFEST_PATH.
	WriteManifest(ctx context.Context, sessionID string, manifest *v1.Manifest) (string, error)

	// ManifestPath returns the absolute path a session's manifest lives at.
	ManifestPath(sessionID string) string

	Close() error
}
