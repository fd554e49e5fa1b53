package pool_test

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/Harsh-BH/codesandbox/internal/domain"
	"github.com/Harsh-BH/codesandbox/internal/pool"
	"github.com/Harsh-BH/codesandbox/internal/repository/mock"
	"github.com/Harsh-BH/codesandbox/internal/usecase"
)

var fastRetry = usecase.RetryPolicy{Retries: 1, Backoff: time.Millisecond}

func newTestPool(t *testing.T, size, depth int, rt *mock.Runtime) (*pool.WorkerPool, *mock.TaskStore) {
	t.Helper()

	logger := zap.NewNop()
	store := mock.NewTaskStore()
	uc := usecase.NewExecuteTaskUsecase(store, &mock.ResultCache{}, rt, &mock.Sink{}, fastRetry, logger)

	wp := pool.NewWorkerPool(size, depth, uc, logger)
	wp.Start(context.Background())
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		wp.Stop(ctx)
	})
	return wp, store
}

func enqueueTask(t *testing.T, wp *pool.WorkerPool, store *mock.TaskStore) *domain.Task {
	t.Helper()
	task := &domain.Task{
		ID:            uuid.New(),
		ExecutorID:    "alice",
		Language:      domain.LangPython,
		Code:          "print('test')",
		Fingerprint:   uuid.NewString(),
		Status:        domain.StatusPending,
		TimeLimitMs:   5000,
		MemoryLimitKB: 262144,
		QueuedAt:      time.Now().UTC(),
	}
	if err := store.Create(context.Background(), task); err != nil {
		t.Fatalf("create: %v", err)
	}
	if err := wp.Enqueue(task); err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	return task
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func statusOf(store *mock.TaskStore, id uuid.UUID) domain.TaskStatus {
	task, err := store.Get(context.Background(), id)
	if err != nil {
		return ""
	}
	return task.Status
}

func TestPool_BoundsConcurrency(t *testing.T) {
	const slots = 3
	var current, peak atomic.Int32
	release := make(chan struct{})
	rt := &mock.Runtime{RunFn: func(ctx context.Context, req *domain.ExecutionRequest) (*domain.ExecutionResult, error) {
		n := current.Add(1)
		for {
			p := peak.Load()
			if n <= p || peak.CompareAndSwap(p, n) {
				break
			}
		}
		<-release
		current.Add(-1)
		return &domain.ExecutionResult{Stdout: "ok"}, nil
	}}
	wp, store := newTestPool(t, slots, 16, rt)

	var tasks []*domain.Task
	for i := 0; i < 10; i++ {
		tasks = append(tasks, enqueueTask(t, wp, store))
	}

	waitFor(t, "all slots busy", func() bool { return wp.InUse() == slots })
	if wp.Pending() != 10-slots {
		t.Errorf("expected %d queued, got %d", 10-slots, wp.Pending())
	}
	close(release)

	for _, task := range tasks {
		id := task.ID
		waitFor(t, "task completion", func() bool { return statusOf(store, id) == domain.StatusCompleted })
	}
	waitFor(t, "slots released", func() bool { return wp.InUse() == 0 })

	if peak.Load() > slots {
		t.Errorf("expected at most %d concurrent runs, saw %d", slots, peak.Load())
	}
}

func TestPool_DispatchesInFIFOOrder(t *testing.T) {
	var mu sync.Mutex
	var order []uuid.UUID
	gate := make(chan struct{})
	rt := &mock.Runtime{RunFn: func(ctx context.Context, req *domain.ExecutionRequest) (*domain.ExecutionResult, error) {
		<-gate
		mu.Lock()
		order = append(order, req.TaskID)
		mu.Unlock()
		return &domain.ExecutionResult{}, nil
	}}
	wp, store := newTestPool(t, 1, 16, rt)

	var want []uuid.UUID
	for i := 0; i < 5; i++ {
		want = append(want, enqueueTask(t, wp, store).ID)
	}
	close(gate)

	waitFor(t, "all tasks run", func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(order) == len(want)
	})
	for i := range want {
		if order[i] != want[i] {
			t.Fatalf("position %d: got %s, want %s", i, order[i], want[i])
		}
	}
}

func TestPool_QueueFull(t *testing.T) {
	block := make(chan struct{})
	defer close(block)
	rt := &mock.Runtime{RunFn: func(ctx context.Context, req *domain.ExecutionRequest) (*domain.ExecutionResult, error) {
		<-block
		return &domain.ExecutionResult{}, nil
	}}
	wp, store := newTestPool(t, 1, 1, rt)

	enqueueTask(t, wp, store)
	waitFor(t, "slot busy", func() bool { return wp.InUse() == 1 })
	enqueueTask(t, wp, store)

	extra := &domain.Task{ID: uuid.New(), Status: domain.StatusPending}
	if err := wp.Enqueue(extra); !errors.Is(err, domain.ErrQueueFull) {
		t.Fatalf("expected ErrQueueFull, got %v", err)
	}
}

func TestPool_CancelRunningTask(t *testing.T) {
	rt := &mock.Runtime{RunFn: func(ctx context.Context, req *domain.ExecutionRequest) (*domain.ExecutionResult, error) {
		<-ctx.Done()
		return &domain.ExecutionResult{ExitCode: -1}, ctx.Err()
	}}
	wp, store := newTestPool(t, 1, 4, rt)

	task := enqueueTask(t, wp, store)
	waitFor(t, "task running", func() bool { return statusOf(store, task.ID) == domain.StatusRunning })

	if !wp.Cancel(task.ID, domain.ErrCancelled) {
		t.Fatal("expected running task to be cancellable")
	}
	waitFor(t, "task failed", func() bool { return statusOf(store, task.ID) == domain.StatusFailed })
	waitFor(t, "slot released", func() bool { return wp.InUse() == 0 })

	got, _ := store.Get(context.Background(), task.ID)
	if got.FailureReason != domain.ReasonCancelled {
		t.Errorf("expected cancelled, got %s", got.FailureReason)
	}
	if wp.Cancel(uuid.New(), domain.ErrCancelled) {
		t.Error("unknown task must not be cancellable")
	}
}

func TestPool_PanicReleasesSlotAndFailsTask(t *testing.T) {
	var calls atomic.Int32
	rt := &mock.Runtime{RunFn: func(ctx context.Context, req *domain.ExecutionRequest) (*domain.ExecutionResult, error) {
		if calls.Add(1) == 1 {
			panic("sandbox exploded")
		}
		return &domain.ExecutionResult{Stdout: "fine"}, nil
	}}
	wp, store := newTestPool(t, 1, 4, rt)

	first := enqueueTask(t, wp, store)
	second := enqueueTask(t, wp, store)

	waitFor(t, "second task completes", func() bool { return statusOf(store, second.ID) == domain.StatusCompleted })

	got, _ := store.Get(context.Background(), first.ID)
	if got.Status != domain.StatusFailed || got.FailureReason != domain.ReasonInternalError {
		t.Errorf("expected FAILED/internal_error after panic, got %s/%s", got.Status, got.FailureReason)
	}
	waitFor(t, "slot released", func() bool { return wp.InUse() == 0 })
}

func TestPool_StopInterruptsQueuedTasks(t *testing.T) {
	rt := &mock.Runtime{RunFn: func(ctx context.Context, req *domain.ExecutionRequest) (*domain.ExecutionResult, error) {
		<-ctx.Done()
		return nil, ctx.Err()
	}}
	logger := zap.NewNop()
	store := mock.NewTaskStore()
	uc := usecase.NewExecuteTaskUsecase(store, &mock.ResultCache{}, rt, &mock.Sink{}, fastRetry, logger)
	wp := pool.NewWorkerPool(1, 4, uc, logger)
	wp.Start(context.Background())

	running := enqueueTask(t, wp, store)
	waitFor(t, "task running", func() bool { return statusOf(store, running.ID) == domain.StatusRunning })
	queued := enqueueTask(t, wp, store)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	wp.Stop(ctx)

	for _, id := range []uuid.UUID{running.ID, queued.ID} {
		got, _ := store.Get(context.Background(), id)
		if got.Status != domain.StatusFailed || got.FailureReason != domain.ReasonInterrupted {
			t.Errorf("task %s: expected FAILED/interrupted, got %s/%s", id, got.Status, got.FailureReason)
		}
	}
	if err := wp.Enqueue(&domain.Task{ID: uuid.New()}); !errors.Is(err, domain.ErrQueueFull) {
		t.Errorf("expected enqueue after stop to be rejected, got %v", err)
	}
	if wp.InUse() != 0 {
		t.Errorf("expected no slots in use after stop, got %d", wp.InUse())
	}
}
