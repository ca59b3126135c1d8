package repository

import (
	"context"
	"encoding/json"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"go.uber.org/zap"

	"github.com/maestro/maestro/internal/common/apperrors"
	"github.com/maestro/maestro/internal/common/logger"
	"github.com/maestro/maestro/internal/storage"
	"github.com/maestro/maestro/internal/teammember/models"
)

const (
	teamMembersDir = "team-members"
	overrideSuffix = ".override.json"
)

// FileRepository stores custom members as team-members/{projectId}/{tmId}.json
// and default overrides as team-members/{projectId}/{tmId}.override.json.
type FileRepository struct {
	store     *storage.Store
	members   map[string]*models.TeamMember
	overrides map[string]*models.Override // keyed by default member ID
	mu        sync.RWMutex
	logger    *logger.Logger
}

var _ Repository = (*FileRepository)(nil)

// NewFileRepository creates a team member repository over the given store.
func NewFileRepository(store *storage.Store, log *logger.Logger) *FileRepository {
	return &FileRepository{
		store:     store,
		members:   make(map[string]*models.TeamMember),
		overrides: make(map[string]*models.Override),
		logger:    log.WithFields(zap.String("component", "teammember-repository")),
	}
}

func memberPath(projectID, id string) string {
	return filepath.Join(teamMembersDir, projectID, id+".json")
}

func overridePath(projectID, id string) string {
	return filepath.Join(teamMembersDir, projectID, id+overrideSuffix)
}

// Initialize replays the team member directory. Override patch files share
// the tree with full records and are told apart by their suffix.
func (r *FileRepository) Initialize(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	return r.store.ReplayDir(teamMembersDir, func(path string, data []byte) error {
		base := filepath.Base(path)
		if strings.HasSuffix(base, overrideSuffix) {
			var override models.Override
			if err := json.Unmarshal(data, &override); err != nil {
				return err
			}
			memberID := strings.TrimSuffix(base, overrideSuffix)
			r.overrides[memberID] = &override
			return nil
		}
		var member models.TeamMember
		if err := json.Unmarshal(data, &member); err != nil {
			return err
		}
		r.members[member.ID] = &member
		return nil
	})
}

func (r *FileRepository) CreateCustom(ctx context.Context, member *models.TeamMember) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.members[member.ID]; ok {
		return apperrors.Conflict("team member %s already exists", member.ID)
	}
	if err := r.store.WriteJSON(memberPath(member.ProjectID, member.ID), member); err != nil {
		return apperrors.Internal("failed to persist team member %s", member.ID).Wrap(err)
	}
	r.members[member.ID] = member.Clone()
	return nil
}

func (r *FileRepository) GetCustom(ctx context.Context, id string) (*models.TeamMember, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	member, ok := r.members[id]
	if !ok {
		return nil, apperrors.NotFound("team member %s not found", id)
	}
	return member.Clone(), nil
}

func (r *FileRepository) UpdateCustom(ctx context.Context, member *models.TeamMember) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.members[member.ID]; !ok {
		return apperrors.NotFound("team member %s not found", member.ID)
	}
	if err := r.store.WriteJSON(memberPath(member.ProjectID, member.ID), member); err != nil {
		return apperrors.Internal("failed to persist team member %s", member.ID).Wrap(err)
	}
	r.members[member.ID] = member.Clone()
	return nil
}

func (r *FileRepository) DeleteCustom(ctx context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	member, ok := r.members[id]
	if !ok {
		return apperrors.NotFound("team member %s not found", id)
	}
	if err := r.store.Delete(memberPath(member.ProjectID, id)); err != nil {
		return apperrors.Internal("failed to delete team member %s", id).Wrap(err)
	}
	delete(r.members, id)
	return nil
}

func (r *FileRepository) ListCustomByProject(ctx context.Context, projectID string) ([]*models.TeamMember, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var result []*models.TeamMember
	for _, member := range r.members {
		if member.ProjectID == projectID {
			result = append(result, member.Clone())
		}
	}
	sort.Slice(result, func(i, j int) bool {
		if result[i].CreatedAt.Equal(result[j].CreatedAt) {
			return result[i].ID < result[j].ID
		}
		return result[i].CreatedAt.Before(result[j].CreatedAt)
	})
	return result, nil
}

func (r *FileRepository) GetOverride(ctx context.Context, projectID, memberID string) (*models.Override, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	override, ok := r.overrides[memberID]
	if !ok {
		return nil, nil
	}
	clone := *override
	if override.SkillIDs != nil {
		skills := append([]string(nil), (*override.SkillIDs)...)
		clone.SkillIDs = &skills
	}
	return &clone, nil
}

func (r *FileRepository) SaveOverride(ctx context.Context, projectID, memberID string, override *models.Override) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if err := r.store.WriteJSON(overridePath(projectID, memberID), override); err != nil {
		return apperrors.Internal("failed to persist override for %s", memberID).Wrap(err)
	}
	r.overrides[memberID] = override
	return nil
}

func (r *FileRepository) DeleteOverride(ctx context.Context, projectID, memberID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if err := r.store.Delete(overridePath(projectID, memberID)); err != nil {
		return apperrors.Internal("failed to delete override for %s", memberID).Wrap(err)
	}
	delete(r.overrides, memberID)
	return nil
}

func (r *FileRepository) DeleteByProject(ctx context.Context, projectID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	for id, member := range r.members {
		if member.ProjectID == projectID {
			delete(r.members, id)
		}
	}
	for id := range r.overrides {
		if strings.HasPrefix(id, "tm_"+projectID+"_") {
			delete(r.overrides, id)
		}
	}
	return r.store.DeleteDir(filepath.Join(teamMembersDir, projectID))
}

func (r *FileRepository) Close() error {
	return nil
}
