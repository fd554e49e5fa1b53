package usecase

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/Harsh-BH/codesandbox/internal/domain"
	"github.com/Harsh-BH/codesandbox/internal/metrics"
	"github.com/Harsh-BH/codesandbox/internal/repository"
)

const maxTerminalWriteBackoff = 5 * time.Second

// RetryPolicy bounds how hard a terminal status write is retried.
type RetryPolicy struct {
	Retries int
	Backoff time.Duration
}

// terminalWriter persists terminal transitions. It survives caller
// cancellation so a cancelled or shutting-down task still gets its outcome.
type terminalWriter struct {
	store  repository.TaskStore
	policy RetryPolicy
	logger *zap.Logger
}

// write attempts the compare-and-set up to Retries+1 times with exponential
// backoff. A false result with nil error means another writer won the race.
func (w *terminalWriter) write(ctx context.Context, id uuid.UUID, expected, next domain.TaskStatus, tr *domain.Transition) (bool, error) {
	ctx = context.WithoutCancel(ctx)
	backoff := w.policy.Backoff

	var lastErr error
	for attempt := 0; attempt <= w.policy.Retries; attempt++ {
		applied, err := w.store.CompareAndSetStatus(ctx, id, expected, next, tr)
		if err == nil {
			return applied, nil
		}
		if errors.Is(err, domain.ErrTaskNotFound) {
			return false, err
		}
		lastErr = err

		if attempt < w.policy.Retries {
			w.logger.Warn("Terminal write failed, retrying",
				zap.String("task_id", id.String()),
				zap.String("status", string(next)),
				zap.Int("attempt", attempt+1),
				zap.Duration("backoff", backoff),
				zap.Error(err),
			)
			time.Sleep(backoff)
			backoff = min(backoff*2, maxTerminalWriteBackoff)
		}
	}

	metrics.TerminalWriteFailures.Inc()
	w.logger.Error("Terminal write failed permanently after retries",
		zap.String("task_id", id.String()),
		zap.String("status", string(next)),
		zap.Error(lastErr),
	)
	return false, lastErr
}
