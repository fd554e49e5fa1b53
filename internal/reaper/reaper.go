// Package reaper force-terminates tasks stuck in a non-terminal state.
package reaper

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/Harsh-BH/codesandbox/internal/domain"
	"github.com/Harsh-BH/codesandbox/internal/metrics"
	"github.com/Harsh-BH/codesandbox/internal/notify"
	"github.com/Harsh-BH/codesandbox/internal/repository"
)

// SlotReleaser interrupts the sandbox of a task running locally.
type SlotReleaser interface {
	Cancel(id uuid.UUID, cause error) bool
}

// Config controls the sweep cadence.
type Config struct {
	Interval      time.Duration
	StuckDeadline time.Duration
	BatchSize     int
}

// Reaper periodically moves PENDING or RUNNING tasks older than the stuck
// deadline to TIMEOUT. Each write is conditioned on the status it observed,
// so a task that completes concurrently is left alone.
type Reaper struct {
	store   repository.TaskStore
	slots   SlotReleaser
	sink    notify.Sink
	cfg     Config
	logger  *zap.Logger
	now     func() time.Time
	stopCh  chan struct{}
	stopped sync.Once
	wg      sync.WaitGroup
}

// New creates a reaper. slots and sink may be nil.
func New(store repository.TaskStore, slots SlotReleaser, sink notify.Sink, cfg Config, logger *zap.Logger) *Reaper {
	return &Reaper{
		store:  store,
		slots:  slots,
		sink:   sink,
		cfg:    cfg,
		logger: logger,
		now:    func() time.Time { return time.Now().UTC() },
		stopCh: make(chan struct{}),
	}
}

// WithClock replaces the sweep clock.
func (r *Reaper) WithClock(now func() time.Time) *Reaper {
	r.now = now
	return r
}

// Start runs Sweep every Interval until ctx is cancelled or Stop is called.
func (r *Reaper) Start(ctx context.Context) {
	r.logger.Info("Starting reaper",
		zap.Duration("interval", r.cfg.Interval),
		zap.Duration("stuck_deadline", r.cfg.StuckDeadline),
	)

	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		ticker := time.NewTicker(r.cfg.Interval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-r.stopCh:
				return
			case <-ticker.C:
				if _, err := r.Sweep(ctx); err != nil {
					r.logger.Error("Reaper sweep failed", zap.Error(err))
				}
			}
		}
	}()
}

// Stop ends the sweep loop and waits for an in-flight sweep.
func (r *Reaper) Stop() {
	r.stopped.Do(func() { close(r.stopCh) })
	r.wg.Wait()
	r.logger.Info("Reaper stopped")
}

// Sweep reaps one batch and returns how many tasks it forced. Running it
// twice over the same state forces nothing the second time.
func (r *Reaper) Sweep(ctx context.Context) (int, error) {
	now := r.now()
	deadline := now.Add(-r.cfg.StuckDeadline)

	stuck, err := r.store.ListNonTerminalOlderThan(ctx, deadline, r.cfg.BatchSize)
	if err != nil {
		return 0, err
	}

	reaped := 0
	for _, task := range stuck {
		if ctx.Err() != nil {
			break
		}
		if r.reap(ctx, task, now) {
			reaped++
		}
	}
	return reaped, nil
}

func (r *Reaper) reap(ctx context.Context, task *domain.Task, now time.Time) bool {
	observed := task.Status
	tr := &domain.Transition{
		FailureReason: domain.ReasonStuck,
		Error:         domain.ErrStuckTask.Error(),
		CompletedAt:   &now,
		Forced:        true,
	}

	ok, err := r.store.CompareAndSetStatus(ctx, task.ID, observed, domain.StatusTimeout, tr)
	if err != nil {
		r.logger.Error("Failed to reap stuck task", zap.String("task_id", task.ID.String()), zap.Error(err))
		return false
	}
	if !ok {
		// Finished or reaped by someone else since the listing.
		return false
	}

	released := false
	if r.slots != nil {
		released = r.slots.Cancel(task.ID, domain.ErrStuckTask)
	}

	metrics.TasksReaped.WithLabelValues(string(observed)).Inc()
	r.logger.Warn("Reaped stuck task",
		zap.String("task_id", task.ID.String()),
		zap.String("executor_id", task.ExecutorID),
		zap.String("from_status", string(observed)),
		zap.String("slot_id", task.SlotID),
		zap.Time("queued_at", task.QueuedAt),
		zap.Bool("slot_released", released),
	)

	if r.sink != nil {
		forced := task.Clone()
		tr.Apply(forced, domain.StatusTimeout)
		if err := r.sink.Notify(ctx, domain.EventFor(forced)); err != nil {
			metrics.NotificationsDropped.WithLabelValues("reaper").Inc()
			r.logger.Warn("Failed to publish reaped task event", zap.String("task_id", task.ID.String()), zap.Error(err))
		}
	}
	return true
}
