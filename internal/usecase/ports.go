package usecase

import (
	"context"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/Harsh-BH/codesandbox/internal/domain"
	"github.com/Harsh-BH/codesandbox/internal/metrics"
	"github.com/Harsh-BH/codesandbox/internal/notify"
)

// Queue accepts admitted PENDING tasks for execution in FIFO order.
type Queue interface {
	// Enqueue never blocks; it returns domain.ErrQueueFull when saturated.
	Enqueue(task *domain.Task) error
}

// Canceller interrupts a task that currently holds a local slot.
type Canceller interface {
	// Cancel reports whether the task was running locally and has been signalled.
	Cancel(id uuid.UUID, cause error) bool
}

// publish sends the task's current state to the sink. Failures are logged and
// counted, never returned.
func publish(ctx context.Context, sink notify.Sink, logger *zap.Logger, task *domain.Task) {
	if sink == nil {
		return
	}
	if err := sink.Notify(context.WithoutCancel(ctx), domain.EventFor(task)); err != nil {
		metrics.NotificationsDropped.WithLabelValues("task_event").Inc()
		logger.Warn("Failed to publish task event",
			zap.String("task_id", task.ID.String()),
			zap.String("status", string(task.Status)),
			zap.Error(err),
		)
	}
}
