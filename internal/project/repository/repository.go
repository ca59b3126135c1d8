// Package repository provides project persistence over the JSON file store.
package repository

import (
	"context"

	"github.com/maestro/maestro/internal/project/models"
)

// Repository is the storage interface for projects.
type Repository interface {
	// Initialize replays the project directory into memory. Must be called
	// once before any other operation.
	Initialize(ctx context.Context) error

	Create(ctx context.Context, project *models.Project) error
	Get(ctx context.Context, id string) (*models.Project, error)
	Update(ctx context.Context, project *models.Project) error
	Delete(ctx context.Context, id string) error
	List(ctx context.Context) ([]*models.Project, error)

	Close() error
}
