package service

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/maestro/maestro/internal/common/apperrors"
	"github.com/maestro/maestro/internal/common/besteffort"
	"github.com/maestro/maestro/internal/common/config"
	"github.com/maestro/maestro/internal/common/keylock"
	"github.com/maestro/maestro/internal/common/logger"
	"github.com/maestro/maestro/internal/events"
	"github.com/maestro/maestro/internal/events/bus"
	"github.com/maestro/maestro/internal/message/repository"
	sessionmodels "github.com/maestro/maestro/internal/session/models"
	"github.com/maestro/maestro/internal/storage"
	v1 "github.com/maestro/maestro/pkg/api/v1"
)

type fakeSessions struct {
	mu       sync.Mutex
	sessions map[string]*sessionmodels.Session
	notes    []string
}

func (f *fakeSessions) GetSession(ctx context.Context, id string) (*sessionmodels.Session, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	session, ok := f.sessions[id]
	if !ok {
		return nil, apperrors.NotFound("session %s not found", id)
	}
	return session.Clone(), nil
}

func (f *fakeSessions) NotifyTimeline(ctx context.Context, id, note string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.notes = append(f.notes, id+": "+note)
}

type messageFixture struct {
	svc      *Service
	repo     repository.Repository
	sessions *fakeSessions
	subjects *[]string
	mu       *sync.Mutex
}

func defaultMessagingConfig() config.MessagingConfig {
	return config.MessagingConfig{
		RateLimitPerMinute: 30,
		TTLSeconds:         3600,
		MaxBodyBytes:       64 * 1024,
	}
}

func newMessageFixture(t *testing.T, cfg config.MessagingConfig) *messageFixture {
	t.Helper()
	store, err := storage.NewStore(t.TempDir(), logger.Default())
	require.NoError(t, err)
	repo := repository.NewFileRepository(store, logger.Default())
	require.NoError(t, repo.Initialize(context.Background()))

	sessions := &fakeSessions{sessions: map[string]*sessionmodels.Session{
		"sess_1_aaaaaaaaaa": {ID: "sess_1_aaaaaaaaaa", ProjectID: "proj_1_aaaaaaaaaa", Status: v1.SessionStatusWorking},
		"sess_2_bbbbbbbbbb": {ID: "sess_2_bbbbbbbbbb", ProjectID: "proj_1_aaaaaaaaaa", Status: v1.SessionStatusWorking},
		"sess_3_cccccccccc": {ID: "sess_3_cccccccccc", ProjectID: "proj_2_dddddddddd", Status: v1.SessionStatusIdle},
		"sess_4_eeeeeeeeee": {ID: "sess_4_eeeeeeeeee", ProjectID: "proj_1_aaaaaaaaaa", Status: v1.SessionStatusCompleted},
	}}

	eventBus := bus.NewMemoryEventBus(logger.Default())
	var (
		mu       sync.Mutex
		subjects []string
	)
	_, err = eventBus.Subscribe(">", func(ctx context.Context, evt *bus.Event) error {
		mu.Lock()
		defer mu.Unlock()
		subjects = append(subjects, evt.Type)
		return nil
	})
	require.NoError(t, err)

	svc := NewService(repo, sessions, eventBus, keylock.New(), cfg, logger.Default(), besteffort.NewCounter())
	return &messageFixture{svc: svc, repo: repo, sessions: sessions, subjects: &subjects, mu: &mu}
}

func (f *messageFixture) count(subject string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, s := range *f.subjects {
		if s == subject {
			n++
		}
	}
	return n
}

func TestSendCreatesPendingMessage(t *testing.T) {
	f := newMessageFixture(t, defaultMessagingConfig())
	ctx := context.Background()

	message, err := f.svc.Send(ctx, SendRequest{
		From: "sess_1_aaaaaaaaaa",
		To:   "sess_2_bbbbbbbbbb",
		Body: "please review",
	})
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(message.ID, "msg_"))
	assert.Equal(t, v1.MessagePending, message.Status)
	require.NotNil(t, message.ExpiresAt)
	assert.True(t, message.ExpiresAt.After(message.CreatedAt))

	assert.Equal(t, 1, f.count(events.MessageCreated))
	assert.Equal(t, 1, f.count(events.SessionMessageReceived))
}

func TestInboxDeliversPendingOnce(t *testing.T) {
	f := newMessageFixture(t, defaultMessagingConfig())
	ctx := context.Background()

	_, err := f.svc.Send(ctx, SendRequest{
		From: "sess_1_aaaaaaaaaa",
		To:   "sess_2_bbbbbbbbbb",
		Body: "please review",
	})
	require.NoError(t, err)

	inbox, err := f.svc.Inbox(ctx, "sess_2_bbbbbbbbbb", InboxFilter{})
	require.NoError(t, err)
	require.Len(t, inbox, 1)
	assert.Equal(t, v1.MessageDelivered, inbox[0].Status)
	require.NotNil(t, inbox[0].DeliveredAt)
	assert.Equal(t, 1, f.count(events.MessageDelivered))

	// A second fetch must not re-deliver.
	inbox, err = f.svc.Inbox(ctx, "sess_2_bbbbbbbbbb", InboxFilter{})
	require.NoError(t, err)
	require.Len(t, inbox, 1)
	assert.Equal(t, v1.MessageDelivered, inbox[0].Status)
	assert.Equal(t, 1, f.count(events.MessageDelivered))
}

func TestSendToTerminalReceiverExpiresImmediately(t *testing.T) {
	f := newMessageFixture(t, defaultMessagingConfig())
	ctx := context.Background()

	message, err := f.svc.Send(ctx, SendRequest{
		From: "sess_1_aaaaaaaaaa",
		To:   "sess_4_eeeeeeeeee",
		Body: "anyone home",
	})
	require.NoError(t, err)
	assert.Equal(t, v1.MessageExpired, message.Status)

	assert.Equal(t, 1, f.count(events.MessageCreated))
	assert.Equal(t, 0, f.count(events.SessionMessageReceived))

	f.sessions.mu.Lock()
	notes := append([]string(nil), f.sessions.notes...)
	f.sessions.mu.Unlock()
	require.Len(t, notes, 1)
	assert.Contains(t, notes[0], "sess_1_aaaaaaaaaa")
	assert.Contains(t, notes[0], "expired")
}

func TestSendFromTerminalSenderRejected(t *testing.T) {
	f := newMessageFixture(t, defaultMessagingConfig())

	_, err := f.svc.Send(context.Background(), SendRequest{
		From: "sess_4_eeeeeeeeee",
		To:   "sess_1_aaaaaaaaaa",
		Body: "hello",
	})
	require.Error(t, err)
	assert.Equal(t, apperrors.CodeConflict, apperrors.CodeOf(err))
}

func TestSendRateLimited(t *testing.T) {
	cfg := defaultMessagingConfig()
	cfg.RateLimitPerMinute = 2
	f := newMessageFixture(t, cfg)
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		_, err := f.svc.Send(ctx, SendRequest{
			From: "sess_1_aaaaaaaaaa",
			To:   "sess_2_bbbbbbbbbb",
			Body: "ping",
		})
		require.NoError(t, err)
	}
	_, err := f.svc.Send(ctx, SendRequest{
		From: "sess_1_aaaaaaaaaa",
		To:   "sess_2_bbbbbbbbbb",
		Body: "ping",
	})
	require.Error(t, err)
	assert.Equal(t, apperrors.CodeRateLimited, apperrors.CodeOf(err))

	// The receiver's own allowance is untouched.
	_, err = f.svc.Send(ctx, SendRequest{
		From: "sess_2_bbbbbbbbbb",
		To:   "sess_1_aaaaaaaaaa",
		Body: "pong",
	})
	require.NoError(t, err)
}

func TestSendCrossProjectPolicy(t *testing.T) {
	f := newMessageFixture(t, defaultMessagingConfig())
	ctx := context.Background()

	_, err := f.svc.Send(ctx, SendRequest{
		From: "sess_1_aaaaaaaaaa",
		To:   "sess_3_cccccccccc",
		Body: "hello over there",
	})
	require.Error(t, err)
	assert.Equal(t, apperrors.CodeForbidden, apperrors.CodeOf(err))

	cfg := defaultMessagingConfig()
	cfg.AllowCrossProject = true
	open := newMessageFixture(t, cfg)
	_, err = open.svc.Send(ctx, SendRequest{
		From: "sess_1_aaaaaaaaaa",
		To:   "sess_3_cccccccccc",
		Body: "hello over there",
	})
	require.NoError(t, err)
}

func TestSendSanitizesBody(t *testing.T) {
	cfg := defaultMessagingConfig()
	cfg.MaxBodyBytes = 10
	f := newMessageFixture(t, cfg)
	ctx := context.Background()

	message, err := f.svc.Send(ctx, SendRequest{
		From: "sess_1_aaaaaaaaaa",
		To:   "sess_2_bbbbbbbbbb",
		Body: "a\x00b\x07c\td and then some more text",
	})
	require.NoError(t, err)
	assert.Equal(t, "abc\td and ", message.Body)
	assert.LessOrEqual(t, len(message.Body), 10)

	_, err = f.svc.Send(ctx, SendRequest{
		From: "sess_1_aaaaaaaaaa",
		To:   "sess_2_bbbbbbbbbb",
		Body: "\x00\x01\x02",
	})
	require.Error(t, err)
	assert.Equal(t, apperrors.CodeValidation, apperrors.CodeOf(err))
}

func TestMarkReadLifecycle(t *testing.T) {
	f := newMessageFixture(t, defaultMessagingConfig())
	ctx := context.Background()

	sent, err := f.svc.Send(ctx, SendRequest{
		From: "sess_1_aaaaaaaaaa",
		To:   "sess_2_bbbbbbbbbb",
		Body: "please review",
	})
	require.NoError(t, err)

	_, err = f.svc.Inbox(ctx, "sess_2_bbbbbbbbbb", InboxFilter{})
	require.NoError(t, err)

	read, err := f.svc.MarkRead(ctx, sent.ID)
	require.NoError(t, err)
	assert.Equal(t, v1.MessageRead, read.Status)
	require.NotNil(t, read.ReadAt)
	assert.Equal(t, 1, f.count(events.MessageRead))

	// Idempotent.
	again, err := f.svc.MarkRead(ctx, sent.ID)
	require.NoError(t, err)
	assert.Equal(t, v1.MessageRead, again.Status)
	assert.Equal(t, 1, f.count(events.MessageRead))
}

func TestInboxExpiresLapsedMessages(t *testing.T) {
	f := newMessageFixture(t, defaultMessagingConfig())
	ctx := context.Background()

	sent, err := f.svc.Send(ctx, SendRequest{
		From: "sess_1_aaaaaaaaaa",
		To:   "sess_2_bbbbbbbbbb",
		Body: "stale",
	})
	require.NoError(t, err)

	// Backdate the TTL directly in the store.
	stored, err := f.repo.Get(ctx, sent.ID)
	require.NoError(t, err)
	past := time.Now().UTC().Add(-time.Minute)
	stored.ExpiresAt = &past
	require.NoError(t, f.repo.Update(ctx, stored))

	inbox, err := f.svc.Inbox(ctx, "sess_2_bbbbbbbbbb", InboxFilter{})
	require.NoError(t, err)
	require.Len(t, inbox, 1)
	assert.Equal(t, v1.MessageExpired, inbox[0].Status)
	assert.Equal(t, 0, f.count(events.MessageDelivered))

	_, err = f.svc.MarkRead(ctx, sent.ID)
	require.Error(t, err)
	assert.Equal(t, apperrors.CodeConflict, apperrors.CodeOf(err))
}

func TestPurgeSessionRemovesInbox(t *testing.T) {
	f := newMessageFixture(t, defaultMessagingConfig())
	ctx := context.Background()

	sent, err := f.svc.Send(ctx, SendRequest{
		From: "sess_1_aaaaaaaaaa",
		To:   "sess_2_bbbbbbbbbb",
		Body: "doomed",
	})
	require.NoError(t, err)

	require.NoError(t, f.svc.PurgeSession(ctx, "sess_2_bbbbbbbbbb"))

	_, err = f.repo.Get(ctx, sent.ID)
	require.Error(t, err)
	assert.Equal(t, apperrors.CodeNotFound, apperrors.CodeOf(err))
}
