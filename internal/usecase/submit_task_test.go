package usecase_test

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/Harsh-BH/codesandbox/internal/domain"
	"github.com/Harsh-BH/codesandbox/internal/repository/mock"
	"github.com/Harsh-BH/codesandbox/internal/usecase"
)

var testLimits = usecase.SubmitLimits{
	DefaultTimeout:  5 * time.Second,
	MaxTimeout:      30 * time.Second,
	DefaultMemoryKB: 262144,
	MaxMemoryKB:     524288,
}

type submitHarness struct {
	store   *mock.TaskStore
	cache   *mock.ResultCache
	limiter *mock.Limiter
	queue   *mock.Queue
	sink    *mock.Sink
	uc      *usecase.SubmitTaskUsecase
}

func newSubmitHarness() *submitHarness {
	h := &submitHarness{
		store:   mock.NewTaskStore(),
		cache:   &mock.ResultCache{},
		limiter: &mock.Limiter{},
		queue:   &mock.Queue{},
		sink:    &mock.Sink{},
	}
	h.uc = usecase.NewSubmitTaskUsecase(h.store, h.cache, h.limiter, h.queue, h.sink, testLimits, zap.NewNop())
	return h
}

func validRequest() *domain.SubmitRequest {
	return &domain.SubmitRequest{
		ExecutorID: "alice",
		Language:   domain.LangPython,
		Code:       "print(1+1)",
	}
}

func TestSubmit_QueuesPendingTask(t *testing.T) {
	h := newSubmitHarness()

	resp, err := h.uc.Execute(context.Background(), validRequest())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if resp.Status != domain.StatusPending || resp.Cached {
		t.Errorf("expected uncached PENDING, got %s cached=%v", resp.Status, resp.Cached)
	}

	task, err := h.store.Get(context.Background(), resp.TaskID)
	if err != nil {
		t.Fatalf("task not persisted: %v", err)
	}
	if len(task.Fingerprint) != 64 {
		t.Errorf("expected 64-char fingerprint, got %q", task.Fingerprint)
	}
	if task.TimeLimitMs != 5000 || task.MemoryLimitKB != 262144 {
		t.Errorf("expected default limits, got %dms/%dKB", task.TimeLimitMs, task.MemoryLimitKB)
	}
	if task.CompletedAt != nil {
		t.Error("PENDING task must not have CompletedAt")
	}
	if len(h.queue.Enqueued) != 1 || h.queue.Enqueued[0].ID != resp.TaskID {
		t.Fatalf("expected the task to be enqueued once, got %d", len(h.queue.Enqueued))
	}
}

func TestSubmit_ValidationErrors(t *testing.T) {
	tests := []struct {
		name string
		mut  func(r *domain.SubmitRequest)
		want error
	}{
		{"empty executor", func(r *domain.SubmitRequest) { r.ExecutorID = " " }, domain.ErrEmptyExecutor},
		{"empty language", func(r *domain.SubmitRequest) { r.Language = "" }, domain.ErrEmptyLanguage},
		{"unsupported language", func(r *domain.SubmitRequest) { r.Language = "ruby" }, domain.ErrInvalidLanguage},
		{"blank code", func(r *domain.SubmitRequest) { r.Code = "  \n\t" }, domain.ErrEmptyCode},
		{"oversized code", func(r *domain.SubmitRequest) { r.Code = strings.Repeat("x", 1<<20+1) }, domain.ErrPayloadTooLarge},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newSubmitHarness()
			req := validRequest()
			tt.mut(req)

			_, err := h.uc.Execute(context.Background(), req)
			if !errors.Is(err, tt.want) {
				t.Fatalf("expected %v, got %v", tt.want, err)
			}
			if !errors.Is(err, domain.ErrValidation) {
				t.Errorf("expected error to wrap ErrValidation")
			}
			if len(h.store.Created) != 0 || len(h.cache.Lookups) != 0 {
				t.Error("validation failure must not touch the store or the cache")
			}
		})
	}
}

func TestSubmit_CacheHitReturnsCompletedWithoutCharging(t *testing.T) {
	h := newSubmitHarness()
	h.cache.LookupFn = func(ctx context.Context, fp string) (*domain.CacheEntry, error) {
		return &domain.CacheEntry{Fingerprint: fp, Output: "2\n", DurationMs: 12, PeakMemoryKB: 900}, nil
	}
	charged := false
	h.limiter.TryAdmitFn = func(ctx context.Context, id string, now time.Time) (bool, error) {
		charged = true
		return true, nil
	}

	resp, err := h.uc.Execute(context.Background(), validRequest())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !resp.Cached || resp.Status != domain.StatusCompleted || resp.Task == nil {
		t.Fatalf("expected cached COMPLETED response with task, got %+v", resp)
	}
	if resp.Task.Output != "2\n" || *resp.Task.DurationMs != 12 || resp.Task.CompletedAt == nil {
		t.Errorf("cached task does not carry the entry: %+v", resp.Task)
	}
	if charged {
		t.Error("cache hit must not consult the rate limiter")
	}
	if len(h.queue.Enqueued) != 0 {
		t.Error("cache hit must not be enqueued")
	}
	stored, _ := h.store.Get(context.Background(), resp.TaskID)
	if stored == nil || !stored.Cached {
		t.Error("cached task should be persisted with Cached=true")
	}
}

func TestSubmit_CacheHitWithoutMeasuredMemory(t *testing.T) {
	h := newSubmitHarness()
	h.cache.LookupFn = func(ctx context.Context, fp string) (*domain.CacheEntry, error) {
		return &domain.CacheEntry{Fingerprint: fp, Output: "2\n", DurationMs: 12}, nil
	}

	resp, err := h.uc.Execute(context.Background(), validRequest())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if resp.Task.PeakMemoryKB != nil {
		t.Errorf("expected nil peak memory on replay, got %d", *resp.Task.PeakMemoryKB)
	}
}

func TestSubmit_QuotaExceededPersistsNothing(t *testing.T) {
	h := newSubmitHarness()
	h.limiter.TryAdmitFn = func(ctx context.Context, id string, now time.Time) (bool, error) {
		return false, nil
	}

	_, err := h.uc.Execute(context.Background(), validRequest())
	if !errors.Is(err, domain.ErrQuotaExceeded) {
		t.Fatalf("expected ErrQuotaExceeded, got %v", err)
	}
	if len(h.store.Created) != 0 || len(h.queue.Enqueued) != 0 {
		t.Error("denied submission must not create or enqueue a task")
	}
}

func TestSubmit_LimiterErrorFailsOpen(t *testing.T) {
	h := newSubmitHarness()
	h.limiter.TryAdmitFn = func(ctx context.Context, id string, now time.Time) (bool, error) {
		return false, errors.New("redis down")
	}

	if _, err := h.uc.Execute(context.Background(), validRequest()); err != nil {
		t.Fatalf("expected admission on limiter failure, got %v", err)
	}
	if len(h.queue.Enqueued) != 1 {
		t.Error("expected task to be enqueued")
	}
}

func TestSubmit_CacheErrorIsAMiss(t *testing.T) {
	h := newSubmitHarness()
	h.cache.LookupFn = func(ctx context.Context, fp string) (*domain.CacheEntry, error) {
		return nil, errors.New("cache unavailable")
	}

	resp, err := h.uc.Execute(context.Background(), validRequest())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if resp.Cached || resp.Status != domain.StatusPending {
		t.Errorf("expected normal admission, got %+v", resp)
	}
}

func TestSubmit_StoreErrorIsSurfaced(t *testing.T) {
	h := newSubmitHarness()
	h.store.CreateFn = func(ctx context.Context, task *domain.Task) error {
		return domain.ErrStoreUnavailable
	}

	_, err := h.uc.Execute(context.Background(), validRequest())
	if !errors.Is(err, domain.ErrStoreUnavailable) {
		t.Fatalf("expected ErrStoreUnavailable, got %v", err)
	}
	if len(h.queue.Enqueued) != 0 {
		t.Error("task must not be enqueued when it was never stored")
	}
}

func TestSubmit_QueueFullFailsTask(t *testing.T) {
	h := newSubmitHarness()
	h.queue.EnqueueFn = func(task *domain.Task) error { return domain.ErrQueueFull }

	_, err := h.uc.Execute(context.Background(), validRequest())
	if !errors.Is(err, domain.ErrQueueFull) {
		t.Fatalf("expected ErrQueueFull, got %v", err)
	}

	created := h.store.Created[0]
	task, _ := h.store.Get(context.Background(), created.ID)
	if task.Status != domain.StatusFailed || task.FailureReason != domain.ReasonQueueFull {
		t.Errorf("expected FAILED/queue_full, got %s/%s", task.Status, task.FailureReason)
	}
	if task.CompletedAt == nil {
		t.Error("terminal task must have CompletedAt")
	}
}

func TestSubmit_LimitOverrides(t *testing.T) {
	tests := []struct {
		name       string
		timeMs     *int
		memKB      *int
		wantTimeMs int
		wantMemKB  int
	}{
		{"within bounds", domain.Int(2000), domain.Int(65536), 2000, 65536},
		{"above max falls back", domain.Int(60000), domain.Int(1 << 30), 5000, 262144},
		{"non-positive falls back", domain.Int(0), domain.Int(-1), 5000, 262144},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newSubmitHarness()
			req := validRequest()
			req.TimeLimitMs, req.MemoryLimitKB = tt.timeMs, tt.memKB

			resp, err := h.uc.Execute(context.Background(), req)
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			task, _ := h.store.Get(context.Background(), resp.TaskID)
			if task.TimeLimitMs != tt.wantTimeMs || task.MemoryLimitKB != tt.wantMemKB {
				t.Errorf("got %dms/%dKB, want %dms/%dKB", task.TimeLimitMs, task.MemoryLimitKB, tt.wantTimeMs, tt.wantMemKB)
			}
		})
	}
}
