package pool

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/Harsh-BH/codesandbox/internal/domain"
	"github.com/Harsh-BH/codesandbox/internal/metrics"
	"github.com/Harsh-BH/codesandbox/internal/usecase"
)

// WorkerPool runs admitted tasks on a fixed number of slots. Tasks wait in a
// bounded FIFO queue; submission never blocks on a free slot.
type WorkerPool struct {
	size      int
	queue     chan *domain.Task
	executeUC *usecase.ExecuteTaskUsecase
	logger    *zap.Logger
	wg        sync.WaitGroup

	stateMu sync.RWMutex
	closed  bool
	quit    chan struct{}
	cancel  context.CancelCauseFunc

	runMu   sync.Mutex
	running map[uuid.UUID]context.CancelCauseFunc
	inUse   atomic.Int32
}

var (
	_ usecase.Queue     = (*WorkerPool)(nil)
	_ usecase.Canceller = (*WorkerPool)(nil)
)

// NewWorkerPool creates a pool with size slots and room for queueDepth waiting tasks.
func NewWorkerPool(size, queueDepth int, executeUC *usecase.ExecuteTaskUsecase, logger *zap.Logger) *WorkerPool {
	return &WorkerPool{
		size:      size,
		queue:     make(chan *domain.Task, queueDepth),
		executeUC: executeUC,
		logger:    logger,
		quit:      make(chan struct{}),
		running:   make(map[uuid.UUID]context.CancelCauseFunc),
	}
}

// Start launches all worker goroutines. Call Stop to drain them.
func (p *WorkerPool) Start(ctx context.Context) {
	ctx, cancel := context.WithCancelCause(ctx)
	p.stateMu.Lock()
	p.cancel = cancel
	p.stateMu.Unlock()

	p.logger.Info("Starting worker pool", zap.Int("pool_size", p.size), zap.Int("queue_depth", cap(p.queue)))

	for i := 0; i < p.size; i++ {
		p.wg.Add(1)
		go p.worker(ctx, fmt.Sprintf("slot-%d", i))
	}
}

// Enqueue hands a PENDING task to the pool without blocking.
func (p *WorkerPool) Enqueue(task *domain.Task) error {
	p.stateMu.RLock()
	defer p.stateMu.RUnlock()
	if p.closed {
		return fmt.Errorf("%w: %v", domain.ErrQueueFull, domain.ErrShutdown)
	}

	select {
	case p.queue <- task:
		metrics.QueueDepth.Inc()
		return nil
	default:
		return domain.ErrQueueFull
	}
}

// Cancel signals a task currently holding a slot. Returns false if the task
// is not running in this pool.
func (p *WorkerPool) Cancel(id uuid.UUID, cause error) bool {
	p.runMu.Lock()
	cancel, ok := p.running[id]
	p.runMu.Unlock()
	if ok {
		cancel(cause)
	}
	return ok
}

// InUse returns the number of occupied slots.
func (p *WorkerPool) InUse() int { return int(p.inUse.Load()) }

// Size returns the number of slots.
func (p *WorkerPool) Size() int { return p.size }

// Pending returns the number of tasks waiting for a slot.
func (p *WorkerPool) Pending() int { return len(p.queue) }

// Stop stops accepting tasks and waits for running ones until ctx expires,
// after which they are interrupted. Tasks still queued are failed as interrupted.
func (p *WorkerPool) Stop(ctx context.Context) {
	p.stateMu.Lock()
	if p.closed {
		p.stateMu.Unlock()
		return
	}
	p.closed = true
	close(p.quit)
	cancel := p.cancel
	p.stateMu.Unlock()

	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-ctx.Done():
		p.logger.Warn("Worker pool drain deadline reached, interrupting running tasks", zap.Int("in_use", p.InUse()))
		if cancel != nil {
			cancel(domain.ErrShutdown)
		}
		<-done
	}
	if cancel != nil {
		cancel(domain.ErrShutdown)
	}

	for {
		select {
		case task := <-p.queue:
			metrics.QueueDepth.Dec()
			p.executeUC.Fail(context.Background(), task, domain.ReasonInterrupted, domain.ErrShutdown.Error())
		default:
			p.logger.Info("Worker pool stopped")
			return
		}
	}
}

func (p *WorkerPool) worker(ctx context.Context, slotID string) {
	defer p.wg.Done()

	p.logger.Debug("Worker started", zap.String("slot_id", slotID))

	for {
		// Prefer quitting over picking up more work.
		select {
		case <-p.quit:
			return
		default:
		}

		select {
		case <-p.quit:
			return
		case <-ctx.Done():
			return
		case task := <-p.queue:
			metrics.QueueDepth.Dec()
			p.run(ctx, slotID, task)
		}
	}
}

// run executes one task in a slot. The slot is released on every exit path,
// including a panic inside the handler.
func (p *WorkerPool) run(ctx context.Context, slotID string, task *domain.Task) {
	taskCtx, cancel := context.WithCancelCause(ctx)

	p.runMu.Lock()
	p.running[task.ID] = cancel
	p.runMu.Unlock()
	p.inUse.Add(1)
	metrics.SlotsInUse.Inc()

	defer func() {
		p.runMu.Lock()
		delete(p.running, task.ID)
		p.runMu.Unlock()
		cancel(nil)
		p.inUse.Add(-1)
		metrics.SlotsInUse.Dec()
	}()

	defer func() {
		if r := recover(); r != nil {
			p.logger.Error("Worker panic recovered",
				zap.String("slot_id", slotID),
				zap.String("task_id", task.ID.String()),
				zap.Any("panic", r),
			)
			p.executeUC.Fail(context.Background(), task, domain.ReasonInternalError, fmt.Sprintf("panic: %v", r))
		}
	}()

	p.logger.Info("Worker processing task",
		zap.String("slot_id", slotID),
		zap.String("task_id", task.ID.String()),
		zap.String("language", string(task.Language)),
		zap.Duration("waited", time.Since(task.QueuedAt)),
	)

	if err := p.executeUC.Execute(taskCtx, task, slotID); err != nil {
		p.logger.Error("Task execution failed",
			zap.String("slot_id", slotID),
			zap.String("task_id", task.ID.String()),
			zap.Error(err),
		)
	}
}
