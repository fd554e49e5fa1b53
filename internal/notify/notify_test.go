package notify

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Harsh-BH/codesandbox/internal/domain"
)

func TestHub_DeliversOnlyToSubscribersOfTask(t *testing.T) {
	hub := NewHub()
	a, b := uuid.New(), uuid.New()

	chA, unsubA := hub.Subscribe(a)
	defer unsubA()
	chB, unsubB := hub.Subscribe(b)
	defer unsubB()

	require.NoError(t, hub.Notify(context.Background(), domain.TaskEvent{TaskID: a, Status: domain.StatusRunning}))

	select {
	case e := <-chA:
		assert.Equal(t, domain.StatusRunning, e.Status)
	default:
		t.Fatal("expected event for subscriber of task a")
	}
	select {
	case e := <-chB:
		t.Fatalf("unexpected event for task b: %+v", e)
	default:
	}
}

func TestHub_FullBacklogDropsInsteadOfBlocking(t *testing.T) {
	hub := NewHub()
	id := uuid.New()
	ch, unsub := hub.Subscribe(id)
	defer unsub()

	for i := 0; i < subscriberBuffer+5; i++ {
		require.NoError(t, hub.Notify(context.Background(), domain.TaskEvent{TaskID: id}))
	}
	assert.Len(t, ch, subscriberBuffer)
}

func TestHub_UnsubscribeClosesChannelOnce(t *testing.T) {
	hub := NewHub()
	id := uuid.New()
	ch, unsub := hub.Subscribe(id)
	assert.Equal(t, 1, hub.Subscribers(id))

	unsub()
	unsub()

	_, open := <-ch
	assert.False(t, open)
	assert.Equal(t, 0, hub.Subscribers(id))

	// Notifying after unsubscribe must not panic on the closed channel.
	require.NoError(t, hub.Notify(context.Background(), domain.TaskEvent{TaskID: id}))
}
