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
	"github.com/maestro/maestro/internal/session/models"
	"github.com/maestro/maestro/internal/storage"
	v1 "github.com/maestro/maestro/pkg/api/v1"
)

const (
	sessionsDir  = "sessions"
	manifestFile = "manifest.json"
)

// FileRepository stores sessions as sessions/{projectId}/{sessionId}.json
// and the spawn manifest as sessions/{sessionId}/manifest.json, serving reads
// from an in-memory index.
type FileRepository struct {
	store    *storage.Store
	sessions map[string]*models.Session
	mu       sync.RWMutex
	logger   *logger.Logger
}

var _ Repository = (*FileRepository)(nil)

// NewFileRepository creates a session repository over the given store.
func NewFileRepository(store *storage.Store, log *logger.Logger) *FileRepository {
	return &FileRepository{
		store:    store,
		sessions: make(map[string]*models.Session),
		logger:   log.WithFields(zap.String("component", "session-repository")),
	}
}

func sessionPath(projectID, id string) string {
	return filepath.Join(sessionsDir, projectID, id+".json")
}

func manifestRelPath(sessionID string) string {
	return filepath.Join(sessionsDir, sessionID, manifestFile)
}

// Initialize replays the session directory. Manifest artifacts live in the
// same tree and are skipped; they are rewritten on the next spawn.
func (r *FileRepository) Initialize(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	return r.store.ReplayDir(sessionsDir, func(path string, data []byte) error {
		if filepath.Base(path) == manifestFile {
			return nil
		}
		var session models.Session
		if err := json.Unmarshal(data, &session); err != nil {
			return err
		}
		r.sessions[session.ID] = &session
		return nil
	})
}

func (r *FileRepository) Create(ctx context.Context, session *models.Session) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.sessions[session.ID]; ok {
		return apperrors.Conflict("session %s already exists", session.ID)
	}
	if err := r.store.WriteJSON(sessionPath(session.ProjectID, session.ID), session); err != nil {
		return apperrors.Internal("failed to persist session %s", session.ID).Wrap(err)
	}
	r.sessions[session.ID] = session.Clone()
	return nil
}

func (r *FileRepository) Get(ctx context.Context, id string) (*models.Session, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	session, ok := r.sessions[id]
	if !ok {
		return nil, apperrors.NotFound("session %s not found", id)
	}
	return session.Clone(), nil
}

func (r *FileRepository) Update(ctx context.Context, session *models.Session) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.sessions[session.ID]; !ok {
		return apperrors.NotFound("session %s not found", session.ID)
	}
	if err := r.store.WriteJSON(sessionPath(session.ProjectID, session.ID), session); err != nil {
		return apperrors.Internal("failed to persist session %s", session.ID).Wrap(err)
	}
	r.sessions[session.ID] = session.Clone()
	return nil
}

func (r *FileRepository) Delete(ctx context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	session, ok := r.sessions[id]
	if !ok {
		return apperrors.NotFound("session %s not found", id)
	}
	if err := r.store.Delete(sessionPath(session.ProjectID, id)); err != nil {
		return apperrors.Internal("failed to delete session %s", id).Wrap(err)
	}
	if err := r.store.DeleteDir(filepath.Join(sessionsDir, id)); err != nil {
		r.logger.Warn("failed to remove session manifest directory",
			zap.String("session_id", id), zap.Error(err))
	}
	delete(r.sessions, id)
	return nil
}

func (r *FileRepository) List(ctx context.Context) ([]*models.Session, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	result := make([]*models.Session, 0, len(r.sessions))
	for _, session := range r.sessions {
		result = append(result, session.Clone())
	}
	sortSessions(result)
	return result, nil
}

func (r *FileRepository) ListByProject(ctx context.Context, projectID string) ([]*models.Session, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var result []*models.Session
	for _, session := range r.sessions {
		if session.ProjectID == projectID {
			result = append(result, session.Clone())
		}
	}
	sortSessions(result)
	return result, nil
}

func (r *FileRepository) DeleteByProject(ctx context.Context, projectID string) ([]*models.Session, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var removed []*models.Session
	for id, session := range r.sessions {
		if session.ProjectID == projectID {
			removed = append(removed, session)
			delete(r.sessions, id)
		}
	}
	if err := r.store.DeleteDir(filepath.Join(sessionsDir, projectID)); err != nil {
		return nil, apperrors.Internal("failed to delete session directory for project %s", projectID).Wrap(err)
	}
	for _, session := range removed {
		if err := r.store.DeleteDir(filepath.Join(sessionsDir, session.ID)); err != nil {
			r.logger.Warn("failed to remove session manifest directory",
				zap.String("session_id", session.ID), zap.Error(err))
		}
	}
	sortSessions(removed)
	return removed, nil
}

// WriteManifest renders the manifest in the canonical deterministic form and
// persists it atomically, returning the absolute path.
func (r *FileRepository) WriteManifest(ctx context.Context, sessionID string, manifest *v1.Manifest) (string, error) {
	if err := r.store.WriteJSON(manifestRelPath(sessionID), manifest); err != nil {
		return "", apperrors.Internal("failed to write manifest for session %s", sessionID).Wrap(err)
	}
	return r.ManifestPath(sessionID), nil
}

func (r *FileRepository) ManifestPath(sessionID string) string {
	return r.store.Path(manifestRelPath(sessionID))
}

func (r *FileRepository) Close() error {
	return nil
}

// sortSessions orders by start time, then ID for stability.
func sortSessions(sessions []*models.Session) {
	sort.Slice(sessions, func(i, j int) bool {
		if sessions[i].StartedAt.Equal(sessions[j].StartedAt) {
			return sessions[i].ID < sessions[j].ID
		}
		return sessions[i].StartedAt.Before(sessions[j].StartedAt)
	})
}
