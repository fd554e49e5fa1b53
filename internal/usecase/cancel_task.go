package usecase

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/Harsh-BH/codesandbox/internal/domain"
	"github.com/Harsh-BH/codesandbox/internal/notify"
	"github.com/Harsh-BH/codesandbox/internal/repository"
)

// CancelTaskUsecase stops a PENDING or RUNNING task. Cancelling a terminal
// task is a no-op that returns it unchanged.
type CancelTaskUsecase struct {
	store     repository.TaskStore
	canceller Canceller
	sink      notify.Sink
	terminal  *terminalWriter
	logger    *zap.Logger
}

// NewCancelTaskUsecase creates a new CancelTaskUsecase.
func NewCancelTaskUsecase(store repository.TaskStore, canceller Canceller, sink notify.Sink, retry RetryPolicy, logger *zap.Logger) *CancelTaskUsecase {
	return &CancelTaskUsecase{
		store:     store,
		canceller: canceller,
		sink:      sink,
		terminal:  &terminalWriter{store: store, policy: retry, logger: logger},
		logger:    logger,
	}
}

// Execute returns the task as it stands after the cancel request. A task
// running in a local slot is signalled and finishes asynchronously, so it may
// still read RUNNING here.
func (uc *CancelTaskUsecase) Execute(ctx context.Context, id uuid.UUID) (*domain.Task, error) {
	task, err := uc.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}

	// A PENDING task may be claimed concurrently; fall through to RUNNING.
	if task.Status == domain.StatusPending {
		if done, err := uc.force(ctx, task, domain.StatusPending); err != nil || done != nil {
			return done, err
		}
		if task, err = uc.store.Get(ctx, id); err != nil {
			return nil, err
		}
	}

	if task.Status == domain.StatusRunning {
		if uc.canceller != nil && uc.canceller.Cancel(id, domain.ErrCancelled) {
			uc.logger.Info("Cancellation signalled to running task", zap.String("task_id", id.String()))
			return task, nil
		}
		// Not in a local slot: record the outcome directly.
		if done, err := uc.force(ctx, task, domain.StatusRunning); err != nil || done != nil {
			return done, err
		}
		return uc.store.Get(ctx, id)
	}

	return task, nil
}

func (uc *CancelTaskUsecase) force(ctx context.Context, task *domain.Task, from domain.TaskStatus) (*domain.Task, error) {
	tr := &domain.Transition{
		FailureReason: domain.ReasonCancelled,
		Error:         domain.ErrCancelled.Error(),
		CompletedAt:   domain.Time(time.Now().UTC()),
	}
	ok, err := uc.terminal.write(ctx, task.ID, from, domain.StatusFailed, tr)
	if err != nil {
		return nil, fmt.Errorf("cancel task: %w", err)
	}
	if !ok {
		return nil, nil
	}

	done := task.Clone()
	tr.Apply(done, domain.StatusFailed)
	publish(ctx, uc.sink, uc.logger, done)
	uc.logger.Info("Task cancelled",
		zap.String("task_id", task.ID.String()),
		zap.String("from_status", string(from)),
	)
	return done, nil
}
