// Package notify fans task status events out to interested parties.
// Delivery is best effort: polling a task by id always reflects the truth.
package notify

import (
	"context"
	"sync"

	"github.com/google/uuid"

	"github.com/Harsh-BH/codesandbox/internal/domain"
)

// Sink receives status change events.
type Sink interface {
	Notify(ctx context.Context, event domain.TaskEvent) error
}

// subscriberBuffer is the per-subscriber backlog before events are dropped.
const subscriberBuffer = 8

// Hub is an in-process Sink that delivers events to per-task subscribers.
type Hub struct {
	mu     sync.Mutex
	nextID uint64
	subs   map[uuid.UUID]map[uint64]chan domain.TaskEvent
}

func NewHub() *Hub {
	return &Hub{subs: make(map[uuid.UUID]map[uint64]chan domain.TaskEvent)}
}

// Subscribe registers interest in one task. The returned func unsubscribes
// and closes the channel; it is safe to call more than once.
func (h *Hub) Subscribe(taskID uuid.UUID) (<-chan domain.TaskEvent, func()) {
	ch := make(chan domain.TaskEvent, subscriberBuffer)

	h.mu.Lock()
	h.nextID++
	id := h.nextID
	if h.subs[taskID] == nil {
		h.subs[taskID] = make(map[uint64]chan domain.TaskEvent)
	}
	h.subs[taskID][id] = ch
	h.mu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			h.mu.Lock()
			defer h.mu.Unlock()
			delete(h.subs[taskID], id)
			if len(h.subs[taskID]) == 0 {
				delete(h.subs, taskID)
			}
			close(ch)
		})
	}
}

// Notify never blocks: a subscriber with a full backlog misses the event.
func (h *Hub) Notify(_ context.Context, event domain.TaskEvent) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	for _, ch := range h.subs[event.TaskID] {
		select {
		case ch <- event:
		default:
		}
	}
	return nil
}

// Subscribers returns the number of live subscriptions for a task.
func (h *Hub) Subscribers(taskID uuid.UUID) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.subs[taskID])
}
