package mqtt

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/simplui/simplui/internal/events"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func startPublisher(t *testing.T, mock *MockMQTTClient) {
	t.Helper()
	before := events.SubscriberCount()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		NewEventPublisher(mock, "simplui", nil).Run(ctx)
		close(done)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})
	require.Eventually(t, func() bool { return events.SubscriberCount() > before }, 2*time.Second, 5*time.Millisecond)
}

func TestEventPublisher_PublishesByName(t *testing.T) {
	mock := NewMockMQTTClient()
	startPublisher(t, mock)

	_, err := events.Emit("info", "batch.started", "", map[string]interface{}{"session_id": "s-abc", "batch_count": 2})
	require.NoError(t, err)

	topic := "simplui/events/batch.started"
	require.Eventually(t, func() bool { return len(mock.Published(topic)) == 1 }, 2*time.Second, 5*time.Millisecond)

	var e events.Event
	require.NoError(t, json.Unmarshal(mock.Published(topic)[0], &e))
	assert.Equal(t, "batch.started", e.Name)
	assert.Equal(t, "s-abc", e.SessionID())
}

func TestEventPublisher_SkipsWhileDisconnected(t *testing.T) {
	mock := NewMockMQTTClient()
	mock.connected = false
	startPublisher(t, mock)

	_, err := events.Emit("info", "session.created", "", map[string]interface{}{"session_id": "s-1"})
	require.NoError(t, err)
	require.Eventually(t, func() bool { c, _ := mock.counts(); return c == 1 }, 2*time.Second, 5*time.Millisecond)

	mock.mu.Lock()
	mock.connected = true
	mock.mu.Unlock()
	_, err = events.Emit("info", "session.closed", "", map[string]interface{}{"session_id": "s-1"})
	require.NoError(t, err)

	require.Eventually(t, func() bool { return len(mock.Published("simplui/events/session.closed")) == 1 }, 2*time.Second, 5*time.Millisecond)
	assert.Empty(t, mock.Published("simplui/events/session.created"))
}

func TestEventPublisher_PublishErrorDoesNotStop(t *testing.T) {
	mock := NewMockMQTTClient()
	mock.publishErr = errors.New("broker gone")
	startPublisher(t, mock)

	_, err := events.Emit("warn", "schema.degraded", "", nil)
	require.NoError(t, err)
	require.Eventually(t, func() bool { _, a := mock.counts(); return a == 1 }, 2*time.Second, 5*time.Millisecond)

	mock.mu.Lock()
	mock.publishErr = nil
	mock.mu.Unlock()

	_, err = events.Emit("info", "system.startup", "", nil)
	require.NoError(t, err)
	require.Eventually(t, func() bool { return len(mock.Published("simplui/events/system.startup")) == 1 }, 2*time.Second, 5*time.Millisecond)
}

func TestEventPublisher_StopsWhenSubscriptionClosed(t *testing.T) {
	mock := NewMockMQTTClient()
	done := make(chan struct{})
	before := events.SubscriberCount()
	go func() {
		NewEventPublisher(mock, "simplui", nil).Run(context.Background())
		close(done)
	}()
	require.Eventually(t, func() bool { return events.SubscriberCount() > before }, 2*time.Second, 5*time.Millisecond)

	events.CloseAllSubscribers()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("publisher did not stop")
	}
}
