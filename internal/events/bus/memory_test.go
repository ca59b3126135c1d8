package bus

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/maestro/maestro/internal/common/logger"
)

func testBus(t *testing.T) *MemoryEventBus {
	t.Helper()
	log, err := logger.NewLogger(logger.LoggingConfig{Level: "error", Format: "json", OutputPath: "stdout"})
	require.NoError(t, err)
	return NewMemoryEventBus(log)
}

func TestMemoryEventBus_PublishSubscribe(t *testing.T) {
	b := testBus(t)
	defer b.Close()

	var received []*Event
	_, err := b.Subscribe("task.updated", func(ctx context.Context, e *Event) error {
		received = append(received, e)
		return nil
	})
	require.NoError(t, err)

	evt := NewEvent("task.updated", "test", map[string]interface{}{"task_id": "task_1"})
	require.NoError(t, b.Publish(context.Background(), "task.updated", evt))

	// Delivery is synchronous: the handler has run before Publish returned.
	require.Len(t, received, 1)
	assert.Equal(t, evt.ID, received[0].ID)
	assert.Equal(t, "task.updated", received[0].Type)
}

func TestMemoryEventBus_DeliveryOrder(t *testing.T) {
	b := testBus(t)
	defer b.Close()

	var order []string
	for _, name := range []string{"first", "second", "third"} {
		name := name
		_, err := b.Subscribe("session.>", func(ctx context.Context, e *Event) error {
			order = append(order, name)
			return nil
		})
		require.NoError(t, err)
	}

	require.NoError(t, b.Publish(context.Background(), "session.updated", NewEvent("session.updated", "test", nil)))
	assert.Equal(t, []string{"first", "second", "third"}, order)
}

func TestMemoryEventBus_WildcardMatching(t *testing.T) {
	b := testBus(t)
	defer b.Close()

	counts := map[string]int{}
	sub := func(pattern string) {
		_, err := b.Subscribe(pattern, func(ctx context.Context, e *Event) error {
			counts[pattern]++
			return nil
		})
		require.NoError(t, err)
	}
	sub("task.*")
	sub("task.updated")
	sub(">")
	sub("session.*")

	require.NoError(t, b.Publish(context.Background(), "task.updated", NewEvent("task.updated", "test", nil)))

	assert.Equal(t, 1, counts["task.*"])
	assert.Equal(t, 1, counts["task.updated"])
	assert.Equal(t, 1, counts[">"])
	assert.Equal(t, 0, counts["session.*"])
}

func TestMemoryEventBus_Unsubscribe(t *testing.T) {
	b := testBus(t)
	defer b.Close()

	calls := 0
	sub, err := b.Subscribe("task.created", func(ctx context.Context, e *Event) error {
		calls++
		return nil
	})
	require.NoError(t, err)

	require.NoError(t, b.Publish(context.Background(), "task.created", NewEvent("task.created", "test", nil)))
	require.NoError(t, sub.Unsubscribe())
	assert.False(t, sub.IsValid())
	require.NoError(t, b.Publish(context.Background(), "task.created", NewEvent("task.created", "test", nil)))

	assert.Equal(t, 1, calls)
}

func TestMemoryEventBus_QueueSubscribeRoundRobin(t *testing.T) {
	b := testBus(t)
	defer b.Close()

	counts := make([]int, 2)
	for i := range counts {
		i := i
		_, err := b.QueueSubscribe("queue.item_started", "workers", func(ctx context.Context, e *Event) error {
			counts[i]++
			return nil
		})
		require.NoError(t, err)
	}

	for i := 0; i < 4; i++ {
		require.NoError(t, b.Publish(context.Background(), "queue.item_started", NewEvent("queue.item_started", "test", nil)))
	}

	// One delivery per publication, spread round-robin.
	assert.Equal(t, 2, counts[0])
	assert.Equal(t, 2, counts[1])
}

func TestMemoryEventBus_Close(t *testing.T) {
	b := testBus(t)

	_, err := b.Subscribe("task.created", func(ctx context.Context, e *Event) error { return nil })
	require.NoError(t, err)

	assert.True(t, b.IsConnected())
	b.Close()
	assert.False(t, b.IsConnected())

	err = b.Publish(context.Background(), "task.created", NewEvent("task.created", "test", nil))
	assert.Error(t, err)

	_, err = b.Subscribe("task.created", func(ctx context.Context, e *Event) error { return nil })
	assert.Error(t, err)
}
