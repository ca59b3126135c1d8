// Package repository provides team member persistence over the JSON file
// store. Custom members are full records; default members live in code and
// only their override patches are stored here.
package repository

import (
	"context"

	"github.com/maestro/maestro/internal/teammember/models"
)

// Repository is the storage interface for team members.
type Repository interface {
	// Initialize replays the team member directory into memory. Must be
	// called once before any other operation.
	Initialize(ctx context.Context) error

	CreateCustom(ctx context.Context, member *models.TeamMember) error
	GetCustom(ctx context.Context, id string) (*models.TeamMember, error)
	UpdateCustom(ctx context.Context, member *models.TeamMember) error
	DeleteCustom(ctx context.Context, id string) error
	ListCustomByProject(ctx context.Context, projectID string) ([]*models.TeamMember, error)

	// GetOverride returns the stored patch for a default member, or nil when
	// the default is unmodified.
	GetOverride(ctx context.Context, projectID, memberID string) (*models.Override, error)
	SaveOverride(ctx context.Context, projectID, memberID string, override *models.Override) error
	DeleteOverride(ctx context.Context, projectID, memberID string) error

	// DeleteByProject removes every record and override of a project.
	DeleteByProject(ctx context.Context, projectID string) error

	Close() error
}
