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
	"github.com/maestro/maestro/internal/message/models"
	"github.com/maestro/maestro/internal/storage"
)

const messagesDir = "messages/by-receiver"

// FileRepository stores messages as messages/by-receiver/{sessionId}/{msgId}.json
// and serves reads from an in-memory index.
type FileRepository struct {
	store    *storage.Store
	messages map[string]*models.Message
	mu       sync.RWMutex
	logger   *logger.Logger
}

var _ Repository = (*FileRepository)(nil)

// NewFileRepository creates a message repository over the given store.
func NewFileRepository(store *storage.Store, log *logger.Logger) *FileRepository {
	return &FileRepository{
		store:    store,
		messages: make(map[string]*models.Message),
		logger:   log.WithFields(zap.String("component", "message-repository")),
	}
}

func messagePath(receiverID, id string) string {
	return filepath.Join(messagesDir, receiverID, id+".json")
}

// Initialize replays the message directory.
func (r *FileRepository) Initialize(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	return r.store.ReplayDir(messagesDir, func(path string, data []byte) error {
		var message models.Message
		if err := json.Unmarshal(data, &message); err != nil {
			return err
		}
		r.messages[message.ID] = &message
		return nil
	})
}

func (r *FileRepository) Create(ctx context.Context, message *models.Message) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.messages[message.ID]; ok {
		return apperrors.Conflict("message %s already exists", message.ID)
	}
	if err := r.store.WriteJSON(messagePath(message.To, message.ID), message); err != nil {
		return apperrors.Internal("failed to persist message %s", message.ID).Wrap(err)
	}
	r.messages[message.ID] = message.Clone()
	return nil
}

func (r *FileRepository) Get(ctx context.Context, id string) (*models.Message, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	message, ok := r.messages[id]
	if !ok {
		return nil, apperrors.NotFound("message %s not found", id)
	}
	return message.Clone(), nil
}

func (r *FileRepository) Update(ctx context.Context, message *models.Message) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.messages[message.ID]; !ok {
		return apperrors.NotFound("message %s not found", message.ID)
	}
	if err := r.store.WriteJSON(messagePath(message.To, message.ID), message); err != nil {
		return apperrors.Internal("failed to persist message %s", message.ID).Wrap(err)
	}
	r.messages[message.ID] = message.Clone()
	return nil
}

func (r *FileRepository) Delete(ctx context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	message, ok := r.messages[id]
	if !ok {
		return apperrors.NotFound("message %s not found", id)
	}
	if err := r.store.Delete(messagePath(message.To, id)); err != nil {
		return apperrors.Internal("failed to delete message %s", id).Wrap(err)
	}
	delete(r.messages, id)
	return nil
}

func (r *FileRepository) ListByReceiver(ctx context.Context, sessionID string) ([]*models.Message, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var result []*models.Message
	for _, message := range r.messages {
		if message.To == sessionID {
			result = append(result, message.Clone())
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

func (r *FileRepository) DeleteByReceiver(ctx context.Context, sessionID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	for id, message := range r.messages {
		if message.To == sessionID {
			delete(r.messages, id)
		}
	}
	return r.store.DeleteDir(filepath.Join(messagesDir, sessionID))
}

func (r *FileRepository) Close() error {
	return nil
}
