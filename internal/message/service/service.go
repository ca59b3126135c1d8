// Package service implements the inter-session mail queue: rate-limited
// sends, inbox delivery, acknowledgement, and TTL expiry.
package service

import (
	"context"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/maestro/maestro/internal/common/apperrors"
	"github.com/maestro/maestro/internal/common/besteffort"
	"github.com/maestro/maestro/internal/common/config"
	"github.com/maestro/maestro/internal/common/ident"
	"github.com/maestro/maestro/internal/common/keylock"
	"github.com/maestro/maestro/internal/common/logger"
	"github.com/maestro/maestro/internal/events"
	"github.com/maestro/maestro/internal/events/bus"
	"github.com/maestro/maestro/internal/message/models"
	"github.com/maestro/maestro/internal/message/repository"
	sessionmodels "github.com/maestro/maestro/internal/session/models"
	v1 "github.com/maestro/maestro/pkg/api/v1"
)

const eventSource = "message-service"

// SessionDirectory is the slice of the session service the mail queue needs:
// existence and liveness checks plus best-effort sender notification.
type SessionDirectory interface {
	GetSession(ctx context.Context, id string) (*sessionmodels.Session, error)
	NotifyTimeline(ctx context.Context, id, note string)
}

// Service mediates all inter-session messages. Senders are identified by
// their session ID; there is no other principal.
type Service struct {
	repo     repository.Repository
	sessions SessionDirectory
	bus      bus.EventBus
	locks    *keylock.KeyLock
	cfg      config.MessagingConfig
	logger   *logger.Logger
	best     *besteffort.Counter

	limiterMu sync.Mutex
	limiters  map[string]*rate.Limiter
}

// NewService creates a message service.
func NewService(repo repository.Repository, sessions SessionDirectory, eventBus bus.EventBus, locks *keylock.KeyLock, cfg config.MessagingConfig, log *logger.Logger, best *besteffort.Counter) *Service {
	return &Service{
		repo:     repo,
		sessions: sessions,
		bus:      eventBus,
		locks:    locks,
		cfg:      cfg,
		logger:   log,
		best:     best,
		limiters: make(map[string]*rate.Limiter),
	}
}

// SendRequest carries a send call. From is the authenticated sender session.
type SendRequest struct {
	From     string             `json:"from"`
	To       string             `json:"to"`
	Body     string             `json:"body"`
	Metadata v1.MessageMetadata `json:"metadata"`
}

// messageReceivedPayload is the session.message_received event body. The
// SessionID field is what the sync fabric routes on.
type messageReceivedPayload struct {
	SessionID string          `json:"sessionId"`
	Message   *models.Message `json:"message"`
}

// Send validates, rate-limits, and persists a message. A terminal receiver
// still gets a record, but it is expired on arrival and the sender is told
// via its timeline instead of the receiver's inbox.
func (s *Service) Send(ctx context.Context, req SendRequest) (*models.Message, error) {
	if req.From == "" || req.To == "" {
		return nil, apperrors.Validation("from and to session ids are required")
	}
	if req.From == req.To {
		return nil, apperrors.Validation("a session cannot message itself")
	}

	sender, err := s.sessions.GetSession(ctx, req.From)
	if err != nil {
		return nil, err
	}
	if sender.Status.IsTerminal() {
		return nil, apperrors.Conflict("sender session %s is %s", sender.ID, sender.Status)
	}
	receiver, err := s.sessions.GetSession(ctx, req.To)
	if err != nil {
		return nil, err
	}
	if sender.ProjectID != receiver.ProjectID && !s.cfg.AllowCrossProject {
		return nil, apperrors.Forbidden("cross-project messaging is disabled")
	}

	if !s.limiter(req.From).Allow() {
		return nil, apperrors.RateLimited("session %s exceeded %d messages per minute", req.From, s.cfg.RateLimitPerMinute)
	}

	body := sanitizeBody(req.Body, s.cfg.MaxBodyBytes)
	if body == "" {
		return nil, apperrors.Validation("message body is empty")
	}

	now := time.Now().UTC()
	message := &models.Message{
		ID:        ident.New(ident.KindMessage),
		From:      req.From,
		To:        req.To,
		Body:      body,
		Status:    v1.MessagePending,
		CreatedAt: now,
		Metadata:  req.Metadata,
	}
	if ttl := s.cfg.TTL(); ttl > 0 {
		expires := now.Add(ttl)
		message.ExpiresAt = &expires
	}

	deadReceiver := receiver.Status.IsTerminal()
	if deadReceiver {
		message.Status = v1.MessageExpired
	}

	s.locks.Lock(req.To)
	err = s.repo.Create(ctx, message)
	s.locks.Unlock(req.To)
	if err != nil {
		return nil, err
	}

	s.publish(ctx, events.MessageCreated, message.Clone())
	if deadReceiver {
		s.sessions.NotifyTimeline(ctx, req.From,
			"message "+message.ID+" to "+req.To+" expired: receiver is "+string(receiver.Status))
	} else {
		s.publish(ctx, events.SessionMessageReceived, messageReceivedPayload{
			SessionID: req.To,
			Message:   message.Clone(),
		})
	}

	s.logger.Info("message sent",
		zap.String("message_id", message.ID),
		zap.String("from", req.From),
		zap.String("to", req.To),
		zap.String("status", string(message.Status)))
	return message, nil
}

// InboxFilter narrows an inbox fetch.
type InboxFilter struct {
	Status v1.MessageStatus
}

// Inbox returns the session's messages in arrival order. Pending messages
// become delivered on this fetch; lapsed TTLs are settled first.
func (s *Service) Inbox(ctx context.Context, sessionID string, filter InboxFilter) ([]*models.Message, error) {
	if _, err := s.sessions.GetSession(ctx, sessionID); err != nil {
		return nil, err
	}

	s.locks.Lock(sessionID)
	defer s.locks.Unlock(sessionID)

	messages, err := s.repo.ListByReceiver(ctx, sessionID)
	if err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	result := make([]*models.Message, 0, len(messages))
	for _, message := range messages {
		if (message.Status == v1.MessagePending || message.Status == v1.MessageDelivered) && message.Expired(now) {
			message.Status = v1.MessageExpired
			if err := s.repo.Update(ctx, message); err != nil {
				return nil, err
			}
		} else if message.Status == v1.MessagePending {
			message.Status = v1.MessageDelivered
			at := now
			message.DeliveredAt = &at
			if err := s.repo.Update(ctx, message); err != nil {
				return nil, err
			}
			s.publish(ctx, events.MessageDelivered, message.Clone())
		}
		if filter.Status != "" && message.Status != filter.Status {
			continue
		}
		result = append(result, message)
	}
	return result, nil
}

// MarkRead acknowledges a delivered message.
func (s *Service) MarkRead(ctx context.Context, id string) (*models.Message, error) {
	message, err := s.repo.Get(ctx, id)
	if err != nil {
		return nil, err
	}

	s.locks.Lock(message.To)
	defer s.locks.Unlock(message.To)

	message, err = s.repo.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	switch message.Status {
	case v1.MessageRead:
		return message, nil
	case v1.MessageExpired:
		return nil, apperrors.Conflict("message %s is expired", id)
	case v1.MessagePending:
		// Reading implies delivery happened out of band.
		at := time.Now().UTC()
		message.DeliveredAt = &at
	}
	now := time.Now().UTC()
	message.Status = v1.MessageRead
	message.ReadAt = &now
	if err := s.repo.Update(ctx, message); err != nil {
		return nil, err
	}
	s.publish(ctx, events.MessageRead, message.Clone())
	return message, nil
}

// GetMessage fetches a single message.
func (s *Service) GetMessage(ctx context.Context, id string) (*models.Message, error) {
	return s.repo.Get(ctx, id)
}

// DeleteMessage removes a message outright.
func (s *Service) DeleteMessage(ctx context.Context, id string) error {
	message, err := s.repo.Get(ctx, id)
	if err != nil {
		return err
	}
	s.locks.Lock(message.To)
	defer s.locks.Unlock(message.To)
	return s.repo.Delete(ctx, id)
}

// PurgeSession drops a deleted session's inbox and rate-limit state. Called
// from the session and project delete cascades.
func (s *Service) PurgeSession(ctx context.Context, sessionID string) error {
	s.locks.Lock(sessionID)
	defer s.locks.Unlock(sessionID)

	s.limiterMu.Lock()
	delete(s.limiters, sessionID)
	s.limiterMu.Unlock()

	return s.repo.DeleteByReceiver(ctx, sessionID)
}

// limiter returns the sender's sliding-window limiter, creating it on first
// use. Burst equals the per-minute cap so a quiet sender can flush a batch.
func (s *Service) limiter(sessionID string) *rate.Limiter {
	s.limiterMu.Lock()
	defer s.limiterMu.Unlock()

	l, ok := s.limiters[sessionID]
	if !ok {
		perMinute := s.cfg.RateLimitPerMinute
		l = rate.NewLimiter(rate.Limit(float64(perMinute)/60.0), perMinute)
		s.limiters[sessionID] = l
	}
	return l
}

func (s *Service) publish(ctx context.Context, subject string, data interface{}) {
	s.best.Do(s.logger, "publish "+subject, func() error {
		return s.bus.Publish(ctx, subject, bus.NewEvent(subject, eventSource, data))
	})
}

// sanitizeBody strips control characters (keeping newlines and tabs) and caps
// the result at maxBytes on a rune boundary.
func sanitizeBody(body string, maxBytes int) string {
	var b strings.Builder
	b.Grow(len(body))
	for _, r := range body {
		if r == '\n' || r == '\t' {
			b.WriteRune(r)
			continue
		}
		if r < 0x20 || r == 0x7f {
			continue
		}
		b.WriteRune(r)
	}
	clean := strings.TrimSpace(b.String())
	if maxBytes > 0 && len(clean) > maxBytes {
		cut := maxBytes
		for cut > 0 && !utf8.RuneStart(clean[cut]) {
			cut--
		}
		clean = clean[:cut]
	}
	return clean
}
