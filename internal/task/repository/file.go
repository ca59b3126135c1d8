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
	"github.com/maestro/maestro/internal/storage"
	"github.com/maestro/maestro/internal/task/models"
	v1 "github.com/maestro/maestro/pkg/api/v1"
)

const tasksDir = "tasks"

// FileRepository stores tasks as tasks/{projectId}/{taskId}.json and serves
// reads from an in-memory index.
type FileRepository struct {
	store  *storage.Store
	tasks  map[string]*models.Task
	mu     sync.RWMutex
	logger *logger.Logger
}

var _ Repository = (*FileRepository)(nil)

// NewFileRepository creates a task repository over the given store.
func NewFileRepository(store *storage.Store, log *logger.Logger) *FileRepository {
	return &FileRepository{
		store:  store,
		tasks:  make(map[string]*models.Task),
		logger: log.WithFields(zap.String("component", "task-repository")),
	}
}

// taskRecord adds the deprecated fields the legacy migration collapses.
type taskRecord struct {
	models.Task
	LegacySessionStatus v1.TaskSessionStatus `json:"sessionStatus,omitempty"`
	LegacyType          string               `json:"type,omitempty"`
}

func taskPath(projectID, id string) string {
	return filepath.Join(tasksDir, projectID, id+".json")
}

// Initialize replays the task directory. Records with the deprecated
// "team-member" type are deleted; a legacy scalar sessionStatus is collapsed
// into the taskSessionStatuses map and the file rewritten.
func (r *FileRepository) Initialize(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	return r.store.ReplayDir(tasksDir, func(path string, data []byte) error {
		var rec taskRecord
		if err := json.Unmarshal(data, &rec); err != nil {
			return err
		}

		if rec.LegacyType == "team-member" {
			r.logger.Info("dropping deprecated team-member task", zap.String("task_id", rec.ID))
			rel, err := filepath.Rel(r.store.Root(), path)
			if err == nil {
				_ = r.store.Delete(rel)
			}
			return nil
		}

		task := rec.Task
		if task.TaskSessionStatuses == nil {
			task.TaskSessionStatuses = make(map[string]v1.TaskSessionStatus)
		}
		migrated := false
		if rec.LegacySessionStatus != "" && len(task.SessionIDs) > 0 {
			if _, ok := task.TaskSessionStatuses[task.SessionIDs[0]]; !ok {
				task.TaskSessionStatuses[task.SessionIDs[0]] = rec.LegacySessionStatus
			}
			migrated = true
		}

		r.tasks[task.ID] = &task
		if migrated {
			if err := r.store.WriteJSON(taskPath(task.ProjectID, task.ID), &task); err != nil {
				r.logger.Warn("failed to rewrite migrated task",
					zap.String("task_id", task.ID), zap.Error(err))
			}
		}
		return nil
	})
}

func (r *FileRepository) Create(ctx context.Context, task *models.Task) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.tasks[task.ID]; ok {
		return apperrors.Conflict("task %s already exists", task.ID)
	}
	if err := r.store.WriteJSON(taskPath(task.ProjectID, task.ID), task); err != nil {
		return apperrors.Internal("failed to persist task %s", task.ID).Wrap(err)
	}
	r.tasks[task.ID] = task.Clone()
	return nil
}

func (r *FileRepository) Get(ctx context.Context, id string) (*models.Task, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	task, ok := r.tasks[id]
	if !ok {
		return nil, apperrors.NotFound("task %s not found", id)
	}
	return task.Clone(), nil
}

func (r *FileRepository) Update(ctx context.Context, task *models.Task) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.tasks[task.ID]; !ok {
		return apperrors.NotFound("task %s not found", task.ID)
	}
	if err := r.store.WriteJSON(taskPath(task.ProjectID, task.ID), task); err != nil {
		return apperrors.Internal("failed to persist task %s", task.ID).Wrap(err)
	}
	r.tasks[task.ID] = task.Clone()
	return nil
}

func (r *FileRepository) Delete(ctx context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	task, ok := r.tasks[id]
	if !ok {
		return apperrors.NotFound("task %s not found", id)
	}
	if err := r.store.Delete(taskPath(task.ProjectID, id)); err != nil {
		return apperrors.Internal("failed to delete task %s", id).Wrap(err)
	}
	delete(r.tasks, id)
	return nil
}

func (r *FileRepository) List(ctx context.Context) ([]*models.Task, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	result := make([]*models.Task, 0, len(r.tasks))
	for _, task := range r.tasks {
		result = append(result, task.Clone())
	}
	sortTasks(result)
	return result, nil
}

func (r *FileRepository) ListByProject(ctx context.Context, projectID string) ([]*models.Task, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var result []*models.Task
	for _, task := range r.tasks {
		if task.ProjectID == projectID {
			result = append(result, task.Clone())
		}
	}
	sortTasks(result)
	return result, nil
}

func (r *FileRepository) ListByParent(ctx context.Context, parentID string) ([]*models.Task, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var result []*models.Task
	for _, task := range r.tasks {
		if task.ParentID == parentID {
			result = append(result, task.Clone())
		}
	}
	sortTasks(result)
	return result, nil
}

func (r *FileRepository) DeleteByProject(ctx context.Context, projectID string) ([]*models.Task, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var removed []*models.Task
	for id, task := range r.tasks {
		if task.ProjectID == projectID {
			removed = append(removed, task)
			delete(r.tasks, id)
		}
	}
	if err := r.store.DeleteDir(filepath.Join(tasksDir, projectID)); err != nil {
		return nil, apperrors.Internal("failed to delete task directory for project %s", projectID).Wrap(err)
	}
	sortTasks(removed)
	return removed, nil
}

func (r *FileRepository) Close() error {
	return nil
}

// sortTasks orders by creation time, then ID for stability.
func sortTasks(tasks []*models.Task) {
	sort.Slice(tasks, func(i, j int) bool {
		if tasks[i].CreatedAt.Equal(tasks[j].CreatedAt) {
			return tasks[i].ID < tasks[j].ID
		}
		return tasks[i].CreatedAt.Before(tasks[j].CreatedAt)
	})
}
