package usecase

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/Harsh-BH/codesandbox/internal/domain"
	"github.com/Harsh-BH/codesandbox/internal/executor"
	"github.com/Harsh-BH/codesandbox/internal/metrics"
	"github.com/Harsh-BH/codesandbox/internal/notify"
	"github.com/Harsh-BH/codesandbox/internal/repository"
	"github.com/Harsh-BH/codesandbox/internal/tracing"
)

// runtimeGrace is added to the task limit for the host-side backstop deadline,
// leaving the runtime room to report its own timeout with partial output.
const runtimeGrace = 2 * time.Second

// ExecuteTaskUsecase runs one admitted task inside a worker slot.
type ExecuteTaskUsecase struct {
	store    repository.TaskStore
	cache    repository.ResultCache
	runtime  executor.Runtime
	sink     notify.Sink
	terminal *terminalWriter
	tracer   *tracing.Tracer
	logger   *zap.Logger
	now      func() time.Time
}

// NewExecuteTaskUsecase creates a new ExecuteTaskUsecase.
func NewExecuteTaskUsecase(
	store repository.TaskStore,
	cache repository.ResultCache,
	runtime executor.Runtime,
	sink notify.Sink,
	retry RetryPolicy,
	logger *zap.Logger,
) *ExecuteTaskUsecase {
	return &ExecuteTaskUsecase{
		store:    store,
		cache:    cache,
		runtime:  runtime,
		sink:     sink,
		terminal: &terminalWriter{store: store, policy: retry, logger: logger},
		tracer:   tracing.NewTracer(),
		logger:   logger,
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// Execute claims the task (PENDING → RUNNING), runs it and writes exactly one
// terminal outcome. ctx is the task's own context: cancelling it with
// domain.ErrCancelled, domain.ErrShutdown or domain.ErrStuckTask as the
// cause kills the sandbox and selects the failure reason.
//
// A task that is no longer PENDING (cancelled or reaped while queued) is
// skipped and nil is returned.
func (uc *ExecuteTaskUsecase) Execute(ctx context.Context, task *domain.Task, slotID string) error {
	ctx, span := uc.tracer.StartSpan(ctx, "execute",
		tracing.AttrTaskID.String(task.ID.String()),
		tracing.AttrLanguage.String(string(task.Language)),
		tracing.AttrSlotID.String(slotID),
	)
	defer span.End()

	if ctx.Err() != nil {
		next, tr := classifyInterruption(context.Cause(ctx), nil)
		uc.finish(ctx, task, domain.StatusPending, next, tr)
		return nil
	}

	startedAt := uc.now()
	claim := &domain.Transition{StartedAt: &startedAt, SlotID: slotID}
	ok, err := uc.store.CompareAndSetStatus(ctx, task.ID, domain.StatusPending, domain.StatusRunning, claim)
	if err != nil {
		uc.logger.Error("Failed to claim task", zap.String("task_id", task.ID.String()), zap.Error(err))
		tracing.RecordError(span, err)
		return fmt.Errorf("claim task: %w", err)
	}
	if !ok {
		uc.logger.Info("Task no longer pending, skipping", zap.String("task_id", task.ID.String()))
		return nil
	}

	running := task.Clone()
	claim.Apply(running, domain.StatusRunning)
	publish(ctx, uc.sink, uc.logger, running)

	limit := time.Duration(task.TimeLimitMs) * time.Millisecond
	req := &domain.ExecutionRequest{
		TaskID:   task.ID,
		Language: task.Language,
		Code:     task.Code,
		Input:    task.Input,
		Limits:   domain.Limits{TimeLimit: limit, MemoryLimitKB: task.MemoryLimitKB},
	}

	runCtx, cancel := context.WithTimeout(ctx, limit+runtimeGrace)
	result, runErr := uc.runtime.Run(runCtx, req)
	backstop := errors.Is(runCtx.Err(), context.DeadlineExceeded) && ctx.Err() == nil
	cancel()

	var (
		next domain.TaskStatus
		tr   *domain.Transition
	)
	switch {
	case ctx.Err() != nil:
		next, tr = classifyInterruption(context.Cause(ctx), result)
	case backstop:
		next, tr = domain.StatusTimeout, &domain.Transition{FailureReason: domain.ReasonTimeout, ExitCode: domain.Int(-1)}
		withOutput(tr, result)
	case runErr != nil || result == nil:
		if runErr == nil {
			runErr = errors.New("runtime returned no result")
		}
		metrics.SandboxFailures.Inc()
		uc.logger.Error("Sandbox execution failed", zap.String("task_id", task.ID.String()), zap.Error(runErr))
		tracing.RecordError(span, runErr)
		next, tr = domain.StatusFailed, &domain.Transition{FailureReason: domain.ReasonInternalError, Error: runErr.Error()}
	default:
		next, tr = classifyResult(result)
	}

	uc.finish(ctx, running, domain.StatusRunning, next, tr)
	span.SetAttributes(tracing.AttrStatus.String(string(next)))

	if result != nil {
		metrics.ExecutionDuration.WithLabelValues(string(task.Language)).Observe(result.Duration.Seconds())
	}
	return nil
}

// Fail forces a task still owned by this worker into FAILED. It is used when
// the handler panicked or the pool is draining a task that never started.
func (uc *ExecuteTaskUsecase) Fail(ctx context.Context, task *domain.Task, reason domain.FailureReason, message string) {
	tr := &domain.Transition{FailureReason: reason, Error: message}
	for _, from := range []domain.TaskStatus{domain.StatusRunning, domain.StatusPending} {
		current := task.Clone()
		current.Status = from
		if uc.finish(ctx, current, from, domain.StatusFailed, tr) {
			return
		}
	}
}

// finish persists the terminal outcome and, when this writer won, records
// metrics, feeds the cache and notifies.
func (uc *ExecuteTaskUsecase) finish(ctx context.Context, task *domain.Task, from, next domain.TaskStatus, tr *domain.Transition) bool {
	if tr.CompletedAt == nil {
		tr.CompletedAt = domain.Time(uc.now())
	}

	applied, err := uc.terminal.write(ctx, task.ID, from, next, tr)
	if err != nil || !applied {
		if err == nil {
			uc.logger.Debug("Terminal write lost race",
				zap.String("task_id", task.ID.String()),
				zap.String("expected", string(from)),
				zap.String("next", string(next)),
			)
		}
		return false
	}

	done := task.Clone()
	tr.Apply(done, next)
	metrics.ExecutionsTotal.WithLabelValues(string(done.Language), string(next)).Inc()

	if next == domain.StatusCompleted {
		uc.remember(ctx, done)
	}
	publish(ctx, uc.sink, uc.logger, done)

	uc.logger.Info("Task finished",
		zap.String("task_id", done.ID.String()),
		zap.String("status", string(next)),
		zap.String("failure_reason", string(done.FailureReason)),
	)
	return true
}

// remember inserts a completed result into the cache. Failures are logged only.
func (uc *ExecuteTaskUsecase) remember(ctx context.Context, task *domain.Task) {
	entry := &domain.CacheEntry{
		Fingerprint: task.Fingerprint,
		Output:      task.Output,
		Stderr:      task.Error,
		StoredAt:    uc.now(),
	}
	if task.ExitCode != nil {
		entry.ExitCode = *task.ExitCode
	}
	if task.DurationMs != nil {
		entry.DurationMs = *task.DurationMs
	}
	if task.PeakMemoryKB != nil {
		entry.PeakMemoryKB = *task.PeakMemoryKB
	}

	if _, err := uc.cache.Insert(context.WithoutCancel(ctx), task.Fingerprint, entry); err != nil {
		uc.logger.Warn("Result cache insert failed",
			zap.String("task_id", task.ID.String()),
			zap.String("fingerprint", task.Fingerprint),
			zap.Error(err),
		)
	}
}

// classifyResult maps a finished sandbox run onto a terminal status.
func classifyResult(result *domain.ExecutionResult) (domain.TaskStatus, *domain.Transition) {
	tr := &domain.Transition{ExitCode: domain.Int(result.ExitCode)}
	withOutput(tr, result)

	switch {
	case result.TimedOut:
		tr.FailureReason = domain.ReasonTimeout
		return domain.StatusTimeout, tr
	case result.OOMKilled:
		tr.FailureReason = domain.ReasonMemoryLimit
		return domain.StatusFailed, tr
	case result.ExitCode != 0:
		tr.FailureReason = domain.ReasonRuntimeError
		return domain.StatusFailed, tr
	}
	return domain.StatusCompleted, tr
}

// classifyInterruption picks the outcome for a task whose context was cancelled.
func classifyInterruption(cause error, result *domain.ExecutionResult) (domain.TaskStatus, *domain.Transition) {
	tr := &domain.Transition{}
	withOutput(tr, result)
	tr.Error = cause.Error()

	switch {
	case errors.Is(cause, domain.ErrCancelled):
		tr.FailureReason = domain.ReasonCancelled
	case errors.Is(cause, domain.ErrStuckTask):
		tr.FailureReason = domain.ReasonStuck
		tr.Forced = true
		return domain.StatusTimeout, tr
	default:
		tr.FailureReason = domain.ReasonInterrupted
	}
	return domain.StatusFailed, tr
}

func withOutput(tr *domain.Transition, result *domain.ExecutionResult) {
	if result == nil {
		return
	}
	tr.Output = result.Stdout
	tr.Error = result.Stderr
	tr.DurationMs = domain.Int64(result.Duration.Milliseconds())
	if result.PeakMemoryKB > 0 {
		tr.PeakMemoryKB = domain.Int64(result.PeakMemoryKB)
	}
}
