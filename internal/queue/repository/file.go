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
	"github.com/maestro/maestro/internal/queue/models"
	"github.com/maestro/maestro/internal/storage"
)

const queuesDir = "queues"

// queueDocument is the on-disk shape of queues/{sessionId}.json.
type queueDocument struct {
	SessionID string         `json:"sessionId"`
	Items     []*models.Item `json:"items"`
}

// FileRepository stores each session's queue as one document and serves
// reads from an in-memory index.
type FileRepository struct {
	store  *storage.Store
	queues map[string][]*models.Item
	mu     sync.RWMutex
	logger *logger.Logger
}

var _ Repository = (*FileRepository)(nil)

// NewFileRepository creates a queue repository over the given store.
func NewFileRepository(store *storage.Store, log *logger.Logger) *FileRepository {
	return &FileRepository{
		store:  store,
		queues: make(map[string][]*models.Item),
		logger: log.WithFields(zap.String("component", "queue-repository")),
	}
}

func queuePath(sessionID string) string {
	return filepath.Join(queuesDir, sessionID+".json")
}

// Initialize replays the queue directory.
func (r *FileRepository) Initialize(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	return r.store.ReplayDir(queuesDir, func(path string, data []byte) error {
		var doc queueDocument
		if err := json.Unmarshal(data, &doc); err != nil {
			return err
		}
		if doc.SessionID == "" {
			doc.SessionID = strings.TrimSuffix(filepath.Base(path), ".json")
		}
		sort.Slice(doc.Items, func(i, j int) bool {
			return doc.Items[i].Position < doc.Items[j].Position
		})
		r.queues[doc.SessionID] = doc.Items
		return nil
	})
}

func (r *FileRepository) GetQueue(ctx context.Context, sessionID string) ([]*models.Item, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	items := r.queues[sessionID]
	result := make([]*models.Item, 0, len(items))
	for _, item := range items {
		result = append(result, item.Clone())
	}
	return result, nil
}

func (r *FileRepository) SaveQueue(ctx context.Context, sessionID string, items []*models.Item) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	doc := queueDocument{SessionID: sessionID, Items: items}
	if doc.Items == nil {
		doc.Items = []*models.Item{}
	}
	if err := r.store.WriteJSON(queuePath(sessionID), doc); err != nil {
		return apperrors.Internal("failed to persist queue for session %s", sessionID).Wrap(err)
	}
	clones := make([]*models.Item, 0, len(items))
	for _, item := range items {
		clones = append(clones, item.Clone())
	}
	r.queues[sessionID] = clones
	return nil
}

func (r *FileRepository) DeleteQueue(ctx context.Context, sessionID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.queues[sessionID]; !ok {
		return nil
	}
	if err := r.store.Delete(queuePath(sessionID)); err != nil {
		return apperrors.Internal("failed to delete queue for session %s", sessionID).Wrap(err)
	}
	delete(r.queues, sessionID)
	return nil
}

func (r *FileRepository) Close() error {
	return nil
}
