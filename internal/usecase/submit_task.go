package usecase

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/Harsh-BH/codesandbox/internal/domain"
	"github.com/Harsh-BH/codesandbox/internal/fingerprint"
	"github.com/Harsh-BH/codesandbox/internal/metrics"
	"github.com/Harsh-BH/codesandbox/internal/notify"
	"github.com/Harsh-BH/codesandbox/internal/ratelimit"
	"github.com/Harsh-BH/codesandbox/internal/repository"
	"github.com/Harsh-BH/codesandbox/internal/tracing"
)

const maxCodeSize = 1 << 20 // 1 MB

// SubmitLimits are the default and maximum per-task resource limits.
type SubmitLimits struct {
	DefaultTimeout  time.Duration
	MaxTimeout      time.Duration
	DefaultMemoryKB int
	MaxMemoryKB     int
}

// SubmitTaskUsecase is the dispatcher: it admits submissions, serves cache
// hits and hands everything else to the worker queue.
type SubmitTaskUsecase struct {
	store   repository.TaskStore
	cache   repository.ResultCache
	limiter ratelimit.Limiter
	queue   Queue
	sink    notify.Sink
	limits  SubmitLimits
	tracer  *tracing.Tracer
	logger  *zap.Logger
	now     func() time.Time
}

// NewSubmitTaskUsecase creates a new SubmitTaskUsecase.
func NewSubmitTaskUsecase(
	store repository.TaskStore,
	cache repository.ResultCache,
	limiter ratelimit.Limiter,
	queue Queue,
	sink notify.Sink,
	limits SubmitLimits,
	logger *zap.Logger,
) *SubmitTaskUsecase {
	return &SubmitTaskUsecase{
		store:   store,
		cache:   cache,
		limiter: limiter,
		queue:   queue,
		sink:    sink,
		limits:  limits,
		tracer:  tracing.NewTracer(),
		logger:  logger,
		now:     func() time.Time { return time.Now().UTC() },
	}
}

// WithClock replaces the admission clock. Used by tests to drive the rate window.
func (uc *SubmitTaskUsecase) WithClock(now func() time.Time) *SubmitTaskUsecase {
	uc.now = now
	return uc
}

// Execute validates, fingerprints, consults the cache and the rate limiter,
// then persists a PENDING task and enqueues it.
func (uc *SubmitTaskUsecase) Execute(ctx context.Context, req *domain.SubmitRequest) (*domain.SubmitResponse, error) {
	ctx, span := uc.tracer.StartSpan(ctx, "submit",
		tracing.AttrExecutorID.String(req.ExecutorID),
		tracing.AttrLanguage.String(string(req.Language)),
	)
	defer span.End()

	if err := validate(req); err != nil {
		metrics.SubmissionsTotal.WithLabelValues("rejected").Inc()
		return nil, err
	}

	fp := fingerprint.Compute(req.Language, req.Code, req.Input)
	span.SetAttributes(tracing.AttrFingerprint.String(fp))
	now := uc.now()

	if entry := uc.lookup(ctx, fp); entry != nil {
		task, err := uc.createCached(ctx, req, fp, entry, now)
		if err != nil {
			tracing.RecordError(span, err)
			return nil, err
		}
		span.SetAttributes(tracing.AttrCached.Bool(true), tracing.AttrTaskID.String(task.ID.String()))
		metrics.SubmissionsTotal.WithLabelValues("cached").Inc()
		return &domain.SubmitResponse{TaskID: task.ID, Status: task.Status, Cached: true, Task: task}, nil
	}

	admitted, err := uc.limiter.TryAdmit(ctx, req.ExecutorID, now)
	if err != nil {
		metrics.RateLimiterErrors.Inc()
		uc.logger.Warn("Rate limiter unavailable, admitting",
			zap.String("executor_id", req.ExecutorID),
			zap.Error(err),
		)
		admitted = true
	}
	if !admitted {
		metrics.SubmissionsTotal.WithLabelValues("quota_exceeded").Inc()
		uc.logger.Info("Submission denied by rate limiter", zap.String("executor_id", req.ExecutorID))
		return nil, domain.ErrQuotaExceeded
	}

	task, err := uc.newTask(req, fp, now)
	if err != nil {
		return nil, err
	}
	span.SetAttributes(tracing.AttrTaskID.String(task.ID.String()))

	if err := uc.store.Create(ctx, task); err != nil {
		metrics.SubmissionsTotal.WithLabelValues("store_error").Inc()
		uc.logger.Error("Failed to create task", zap.Error(err), zap.String("task_id", task.ID.String()))
		tracing.RecordError(span, err)
		return nil, fmt.Errorf("create task: %w", err)
	}
	publish(ctx, uc.sink, uc.logger, task)

	if err := uc.queue.Enqueue(task); err != nil {
		return nil, uc.reject(ctx, task, err)
	}

	metrics.SubmissionsTotal.WithLabelValues("queued").Inc()
	uc.logger.Info("Task submitted",
		zap.String("task_id", task.ID.String()),
		zap.String("executor_id", task.ExecutorID),
		zap.String("language", string(task.Language)),
	)

	return &domain.SubmitResponse{TaskID: task.ID, Status: task.Status}, nil
}

func validate(req *domain.SubmitRequest) error {
	if strings.TrimSpace(req.ExecutorID) == "" {
		return domain.ErrEmptyExecutor
	}
	if req.Language == "" {
		return domain.ErrEmptyLanguage
	}
	if !req.Language.IsValid() {
		return domain.ErrInvalidLanguage
	}
	if strings.TrimSpace(req.Code) == "" {
		return domain.ErrEmptyCode
	}
	if len(req.Code) > maxCodeSize {
		return domain.ErrPayloadTooLarge
	}
	return nil
}

// lookup treats every cache failure as a miss.
func (uc *SubmitTaskUsecase) lookup(ctx context.Context, fp string) *domain.CacheEntry {
	entry, err := uc.cache.Lookup(ctx, fp)
	if err != nil {
		metrics.CacheLookups.WithLabelValues("error").Inc()
		uc.logger.Warn("Result cache lookup failed", zap.String("fingerprint", fp), zap.Error(err))
		return nil
	}
	if entry == nil {
		metrics.CacheLookups.WithLabelValues("miss").Inc()
		return nil
	}
	metrics.CacheLookups.WithLabelValues("hit").Inc()
	return entry
}

func (uc *SubmitTaskUsecase) newTask(req *domain.SubmitRequest, fp string, now time.Time) (*domain.Task, error) {
	id, err := uuid.NewV7()
	if err != nil {
		return nil, fmt.Errorf("generate UUIDv7: %w", err)
	}

	timeLimit := uc.limits.DefaultTimeout
	if req.TimeLimitMs != nil && *req.TimeLimitMs > 0 {
		if d := time.Duration(*req.TimeLimitMs) * time.Millisecond; d <= uc.limits.MaxTimeout {
			timeLimit = d
		}
	}
	memoryLimitKB := uc.limits.DefaultMemoryKB
	if req.MemoryLimitKB != nil && *req.MemoryLimitKB > 0 && *req.MemoryLimitKB <= uc.limits.MaxMemoryKB {
		memoryLimitKB = *req.MemoryLimitKB
	}

	return &domain.Task{
		ID:            id,
		ExecutorID:    req.ExecutorID,
		SnippetID:     req.SnippetID,
		Language:      req.Language,
		Code:          req.Code,
		Input:         req.Input,
		Fingerprint:   fp,
		Status:        domain.StatusPending,
		TimeLimitMs:   int(timeLimit / time.Millisecond),
		MemoryLimitKB: memoryLimitKB,
		QueuedAt:      now,
	}, nil
}

// createCached persists a task that was answered from the cache. It is
// terminal from birth and never touches the limiter or a slot.
func (uc *SubmitTaskUsecase) createCached(ctx context.Context, req *domain.SubmitRequest, fp string, entry *domain.CacheEntry, now time.Time) (*domain.Task, error) {
	task, err := uc.newTask(req, fp, now)
	if err != nil {
		return nil, err
	}
	task.Status = domain.StatusCompleted
	task.Output = entry.Output
	task.Error = entry.Stderr
	task.ExitCode = domain.Int(entry.ExitCode)
	task.DurationMs = domain.Int64(entry.DurationMs)
	if entry.PeakMemoryKB > 0 {
		task.PeakMemoryKB = domain.Int64(entry.PeakMemoryKB)
	}
	task.StartedAt = domain.Time(now)
	task.CompletedAt = domain.Time(now)
	task.Cached = true

	if err := uc.store.Create(ctx, task); err != nil {
		metrics.SubmissionsTotal.WithLabelValues("store_error").Inc()
		uc.logger.Error("Failed to create cached task", zap.Error(err), zap.String("task_id", task.ID.String()))
		return nil, fmt.Errorf("create task: %w", err)
	}
	publish(ctx, uc.sink, uc.logger, task)

	uc.logger.Info("Task served from result cache",
		zap.String("task_id", task.ID.String()),
		zap.String("executor_id", task.ExecutorID),
		zap.String("fingerprint", fp),
	)
	return task, nil
}

// reject fails a task the queue would not take.
func (uc *SubmitTaskUsecase) reject(ctx context.Context, task *domain.Task, cause error) error {
	metrics.SubmissionsTotal.WithLabelValues("queue_full").Inc()
	uc.logger.Warn("Task rejected by worker queue", zap.String("task_id", task.ID.String()), zap.Error(cause))

	tr := &domain.Transition{FailureReason: domain.ReasonQueueFull, Error: cause.Error()}
	ok, err := uc.store.CompareAndSetStatus(context.WithoutCancel(ctx), task.ID, domain.StatusPending, domain.StatusFailed, tr)
	if err != nil {
		uc.logger.Error("Failed to mark rejected task", zap.String("task_id", task.ID.String()), zap.Error(err))
	} else if ok {
		failed := task.Clone()
		tr.Apply(failed, domain.StatusFailed)
		publish(ctx, uc.sink, uc.logger, failed)
	}

	if errors.Is(cause, domain.ErrQueueFull) {
		return cause
	}
	return fmt.Errorf("%w: %v", domain.ErrQueueFull, cause)
}
