package repository

import (
	"context"
	"encoding/json"
	"path/filepath"
	"sort"
	"sync"

	"go.uber.org/zap"

	"github.com/maestro/maestro/internal/common/apperrors"
	"github.com/maestro/maestro/internal/common/logger"
	"github.com/maestro/maestro/internal/project/models"
	"github.com/maestro/maestro/internal/storage"
)

const projectsDir = "projects"

// FileRepository stores projects as projects/{projectId}.json and serves
// reads from an in-memory index.
type FileRepository struct {
	store    *storage.Store
	projects map[string]*models.Project
	mu       sync.RWMutex
	logger   *logger.Logger
}

var _ Repository = (*FileRepository)(nil)

// NewFileRepository creates a project repository over the given store.
func NewFileRepository(store *storage.Store, log *logger.Logger) *FileRepository {
	return &FileRepository{
		store:    store,
		projects: make(map[string]*models.Project),
		logger:   log.WithFields(zap.String("component", "project-repository")),
	}
}

func projectPath(id string) string {
	return filepath.Join(projectsDir, id+".json")
}

// Initialize replays the project directory.
func (r *FileRepository) Initialize(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	return r.store.ReplayDir(projectsDir, func(path string, data []byte) error {
		var project models.Project
		if err := json.Unmarshal(data, &project); err != nil {
			return err
		}
		r.projects[project.ID] = &project
		return nil
	})
}

func (r *FileRepository) Create(ctx context.Context, project *models.Project) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.projects[project.ID]; ok {
		return apperrors.Conflict("project %s already exists", project.ID)
	}
	if err := r.store.WriteJSON(projectPath(project.ID), project); err != nil {
		return apperrors.Internal("failed to persist project %s", project.ID).Wrap(err)
	}
	r.projects[project.ID] = project.Clone()
	return nil
}

func (r *FileRepository) Get(ctx context.Context, id string) (*models.Project, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	project, ok := r.projects[id]
	if !ok {
		return nil, apperrors.NotFound("project %s not found", id)
	}
	return project.Clone(), nil
}

func (r *FileRepository) Update(ctx context.Context, project *models.Project) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.projects[project.ID]; !ok {
		return apperrors.NotFound("project %s not found", project.ID)
	}
	if err := r.store.WriteJSON(projectPath(project.ID), project); err != nil {
		return apperrors.Internal("failed to persist project %s", project.ID).Wrap(err)
	}
	r.projects[project.ID] = project.Clone()
	return nil
}

func (r *FileRepository) Delete(ctx context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.projects[id]; !ok {
		return apperrors.NotFound("project %s not found", id)
	}
	if err := r.store.Delete(projectPath(id)); err != nil {
		return apperrors.Internal("failed to delete project %s", id).Wrap(err)
	}
	delete(r.projects, id)
	return nil
}

func (r *FileRepository) List(ctx context.Context) ([]*models.Project, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	result := make([]*models.Project, 0, len(r.projects))
	for _, project := range r.projects {
		result = append(result, project.Clone())
	}
	sort.Slice(result, func(i, j int) bool {
		if result[i].CreatedAt.Equal(result[j].CreatedAt) {
			return result[i].ID < result[j].ID
		}
		return result[i].CreatedAt.Before(result[j].CreatedAt)
	})
	return result, nil
}

func (r *FileRepository) Close() error {
	return nil
}
