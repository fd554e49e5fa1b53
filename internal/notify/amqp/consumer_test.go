package amqp

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/Harsh-BH/codesandbox/internal/domain"
	"github.com/Harsh-BH/codesandbox/internal/notify"
)

func TestConsumerHandle_ForwardsDecodedEvent(t *testing.T) {
	hub := notify.NewHub()
	c := &Consumer{sink: hub, logger: zap.NewNop()}

	id := uuid.New()
	events, unsubscribe := hub.Subscribe(id)
	defer unsubscribe()

	now := time.Now().UTC().Truncate(time.Millisecond)
	body, err := json.Marshal(domain.TaskEvent{
		TaskID:      id,
		Status:      domain.StatusCompleted,
		CompletedAt: &now,
	})
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}

	c.handle(context.Background(), body)

	select {
	case e := <-events:
		if e.Status != domain.StatusCompleted {
			t.Errorf("expected COMPLETED, got %s", e.Status)
		}
		if e.CompletedAt == nil || !e.CompletedAt.Equal(now) {
			t.Errorf("completed_at not preserved: %v", e.CompletedAt)
		}
	default:
		t.Fatal("expected event to reach hub subscriber")
	}
}

func TestConsumerHandle_DropsMalformedBody(t *testing.T) {
	hub := notify.NewHub()
	c := &Consumer{sink: hub, logger: zap.NewNop()}

	// Must not panic.
	c.handle(context.Background(), []byte("{not json"))
}

func TestPublisherNotify_NoChannel(t *testing.T) {
	p := &Publisher{exchange: "codesandbox.events", logger: zap.NewNop()}

	if err := p.Notify(context.Background(), domain.TaskEvent{TaskID: uuid.New()}); err == nil {
		t.Fatal("expected error when channel is unavailable")
	}
	if err := p.Ping(context.Background()); err == nil {
		t.Fatal("expected ping error when channel is unavailable")
	}
}
