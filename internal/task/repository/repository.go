// Package repository provides task persistence over the JSON file store.
package repository

import (
	"context"

	"github.com/maestro/maestro/internal/task/models"
)

// Repository is the storage interface for tasks.
type Repository interface {
	// Initialize replays the task directory into memory, applying legacy
	// migrations. Must be called once before any other operation.
	Initialize(ctx context.Context) error

	Create(ctx context.Context, task *models.Task) error
	Get(ctx context.Context, id string) (*models.Task, error)
	Update(ctx context.Context, task *models.Task) error
	Delete(ctx context.Context, id string) error

	List(ctx context.Context) ([]*models.Task, error)
	ListByProject(ctx context.Context, projectID string) ([]*models.Task, error)
	ListByParent(ctx context.Context, parentID string) ([]*models.Task, error)

	// DeleteByProject removes every task of a project, returning the removed
	// records (for cascade event emission).
	DeleteByProject(ctx context.Context, projectID string) ([]*models.Task, error)

	Close() error
}
