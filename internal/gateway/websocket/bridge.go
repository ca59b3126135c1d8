package websocket

import (
	"context"
	"encoding/json"
	"strings"

	"go.uber.org/zap"

	"github.com/maestro/maestro/internal/common/ident"
	"github.com/maestro/maestro/internal/common/logger"
	"github.com/maestro/maestro/internal/events"
	"github.com/maestro/maestro/internal/events/bus"
	ws "github.com/maestro/maestro/pkg/websocket"
)

// Bridge subscribes to the whole event vocabulary and forwards every event
// to the hub in the wire envelope. No persistence, no replay: a reconnecting
// client refetches visible state over REST.
type Bridge struct {
	bus    bus.EventBus
	hub    *Hub
	subs   []bus.Subscription
	logger *logger.Logger
}

// NewBridge creates the bus-to-hub bridge.
func NewBridge(eventBus bus.EventBus, hub *Hub, log *logger.Logger) *Bridge {
	return &Bridge{
		bus:    eventBus,
		hub:    hub,
		logger: log.WithFields(zap.String("component", "ws_bridge")),
	}
}

// Start subscribes to every subject in the vocabulary.
func (b *Bridge) Start() error {
	for _, subject := range events.All {
		sub, err := b.bus.Subscribe(subject, b.forward)
		if err != nil {
			b.Stop()
			return err
		}
		b.subs = append(b.subs, sub)
	}
	return nil
}

// Stop drops all bus subscriptions.
func (b *Bridge) Stop() {
	for _, sub := range b.subs {
		if err := sub.Unsubscribe(); err != nil {
			b.logger.WithError(err).Warn("failed to unsubscribe")
		}
	}
	b.subs = nil
}

func (b *Bridge) forward(ctx context.Context, evt *bus.Event) error {
	envelope := ws.NewBroadcast(events.WireName(evt.Type), evt.Data)
	envelope.Timestamp = evt.Timestamp
	b.hub.Broadcast(envelope, eventScope(evt.Data))
	return nil
}

// eventScope extracts the session IDs an event concerns, read from the
// payload's JSON shape: a session entity's own id, an explicit sessionId
// routing field, or a task's sessionIds.
func eventScope(data interface{}) []string {
	raw, err := json.Marshal(data)
	if err != nil {
		return nil
	}
	var probe struct {
		ID         string   `json:"id"`
		SessionID  string   `json:"sessionId"`
		SessionIDs []string `json:"sessionIds"`
	}
	if err := json.Unmarshal(raw, &probe); err != nil {
		return nil
	}

	var scope []string
	seen := make(map[string]bool)
	add := func(id string) {
		if id != "" && !seen[id] {
			seen[id] = true
			scope = append(scope, id)
		}
	}
	if strings.HasPrefix(probe.ID, ident.KindSession+"_") {
		add(probe.ID)
	}
	add(probe.SessionID)
	for _, id := range probe.SessionIDs {
		add(id)
	}
	return scope
}
