package mock

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/Harsh-BH/codesandbox/internal/domain"
	"github.com/Harsh-BH/codesandbox/internal/executor"
	"github.com/Harsh-BH/codesandbox/internal/repository"
	"github.com/Harsh-BH/codesandbox/internal/repository/memory"
)

// ---- TaskStore mock ----

var _ repository.TaskStore = (*TaskStore)(nil)

// TaskStore is a test double for repository.TaskStore. Methods without a hook
// delegate to an in-memory store so state stays consistent.
type TaskStore struct {
	mu    sync.Mutex
	Inner *memory.TaskStore

	CreateFn func(ctx context.Context, task *domain.Task) error
	GetFn    func(ctx context.Context, id uuid.UUID) (*domain.Task, error)
	CASFn    func(ctx context.Context, id uuid.UUID, expected, next domain.TaskStatus, tr *domain.Transition) (bool, error)
	ListFn   func(ctx context.Context, deadline time.Time, limit int) ([]*domain.Task, error)

	// Recorded calls for assertions.
	Created []*domain.Task
	CASs    []CASCall
}

type CASCall struct {
	ID       uuid.UUID
	Expected domain.TaskStatus
	Next     domain.TaskStatus
	Applied  bool
}

func NewTaskStore() *TaskStore {
	return &TaskStore{Inner: memory.NewTaskStore()}
}

func (m *TaskStore) Create(ctx context.Context, task *domain.Task) error {
	m.mu.Lock()
	m.Created = append(m.Created, task.Clone())
	m.mu.Unlock()
	if m.CreateFn != nil {
		return m.CreateFn(ctx, task)
	}
	return m.Inner.Create(ctx, task)
}

func (m *TaskStore) Get(ctx context.Context, id uuid.UUID) (*domain.Task, error) {
	if m.GetFn != nil {
		return m.GetFn(ctx, id)
	}
	return m.Inner.Get(ctx, id)
}

func (m *TaskStore) CompareAndSetStatus(ctx context.Context, id uuid.UUID, expected, next domain.TaskStatus, tr *domain.Transition) (bool, error) {
	var (
		ok  bool
		err error
	)
	if m.CASFn != nil {
		ok, err = m.CASFn(ctx, id, expected, next, tr)
	} else {
		ok, err = m.Inner.CompareAndSetStatus(ctx, id, expected, next, tr)
	}
	m.mu.Lock()
	m.CASs = append(m.CASs, CASCall{ID: id, Expected: expected, Next: next, Applied: ok && err == nil})
	m.mu.Unlock()
	return ok, err
}

func (m *TaskStore) ListNonTerminalOlderThan(ctx context.Context, deadline time.Time, limit int) ([]*domain.Task, error) {
	if m.ListFn != nil {
		return m.ListFn(ctx, deadline, limit)
	}
	return m.Inner.ListNonTerminalOlderThan(ctx, deadline, limit)
}

func (m *TaskStore) ListByExecutor(ctx context.Context, executorID string, limit int) ([]*domain.Task, error) {
	return m.Inner.ListByExecutor(ctx, executorID, limit)
}

func (m *TaskStore) ListBySnippet(ctx context.Context, snippetID string, limit int) ([]*domain.Task, error) {
	return m.Inner.ListBySnippet(ctx, snippetID, limit)
}

func (m *TaskStore) ListByStatus(ctx context.Context, status domain.TaskStatus, limit int) ([]*domain.Task, error) {
	return m.Inner.ListByStatus(ctx, status, limit)
}

func (m *TaskStore) CountByLanguage(ctx context.Context) (map[domain.Language]int, error) {
	return m.Inner.CountByLanguage(ctx)
}

// CASCalls returns a snapshot of the recorded compare-and-set calls.
func (m *TaskStore) CASCalls() []CASCall {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]CASCall(nil), m.CASs...)
}

// ---- ResultCache mock ----

var _ repository.ResultCache = (*ResultCache)(nil)

// ResultCache is a test double for repository.ResultCache. Without hooks it
// behaves as an always-empty cache that accepts inserts.
type ResultCache struct {
	mu sync.Mutex

	LookupFn func(ctx context.Context, fingerprint string) (*domain.CacheEntry, error)
	InsertFn func(ctx context.Context, fingerprint string, entry *domain.CacheEntry) (bool, error)

	Lookups []string
	Inserts []*domain.CacheEntry
}

func (m *ResultCache) Lookup(ctx context.Context, fingerprint string) (*domain.CacheEntry, error) {
	m.mu.Lock()
	m.Lookups = append(m.Lookups, fingerprint)
	m.mu.Unlock()
	if m.LookupFn != nil {
		return m.LookupFn(ctx, fingerprint)
	}
	return nil, nil
}

func (m *ResultCache) Insert(ctx context.Context, fingerprint string, entry *domain.CacheEntry) (bool, error) {
	m.mu.Lock()
	m.Inserts = append(m.Inserts, entry)
	m.mu.Unlock()
	if m.InsertFn != nil {
		return m.InsertFn(ctx, fingerprint, entry)
	}
	return true, nil
}

// ---- Limiter mock ----

// Limiter is a test double for ratelimit.Limiter. Admits by default.
type Limiter struct {
	TryAdmitFn func(ctx context.Context, executorID string, now time.Time) (bool, error)
}

func (m *Limiter) TryAdmit(ctx context.Context, executorID string, now time.Time) (bool, error) {
	if m.TryAdmitFn != nil {
		return m.TryAdmitFn(ctx, executorID, now)
	}
	return true, nil
}

// ---- Runtime mock ----

var _ executor.Runtime = (*Runtime)(nil)

// Runtime is a test double for executor.Runtime.
type Runtime struct {
	mu sync.Mutex

	RunFn func(ctx context.Context, req *domain.ExecutionRequest) (*domain.ExecutionResult, error)

	RunCalls []*domain.ExecutionRequest
}

func (m *Runtime) Run(ctx context.Context, req *domain.ExecutionRequest) (*domain.ExecutionResult, error) {
	m.mu.Lock()
	m.RunCalls = append(m.RunCalls, req)
	m.mu.Unlock()
	if m.RunFn != nil {
		return m.RunFn(ctx, req)
	}
	return &domain.ExecutionResult{
		Stdout:   "Hello, World!\n",
		ExitCode: 0,
		Duration: 42 * time.Millisecond,
	}, nil
}

// Calls returns the number of Run invocations so far.
func (m *Runtime) Calls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.RunCalls)
}

// ---- Sink mock ----

// Sink is a test double for notify.Sink that records events.
type Sink struct {
	mu sync.Mutex

	NotifyFn func(ctx context.Context, event domain.TaskEvent) error

	Events []domain.TaskEvent
}

func (m *Sink) Notify(ctx context.Context, event domain.TaskEvent) error {
	m.mu.Lock()
	m.Events = append(m.Events, event)
	m.mu.Unlock()
	if m.NotifyFn != nil {
		return m.NotifyFn(ctx, event)
	}
	return nil
}

// Statuses returns the recorded statuses for one task, in order.
func (m *Sink) Statuses(id uuid.UUID) []domain.TaskStatus {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []domain.TaskStatus
	for _, e := range m.Events {
		if e.TaskID == id {
			out = append(out, e.Status)
		}
	}
	return out
}

// ---- Queue / Canceller mock ----

// Queue is a test double for the worker queue. It records enqueued tasks and
// acts as the canceller for running ones.
type Queue struct {
	mu sync.Mutex

	EnqueueFn func(task *domain.Task) error
	CancelFn  func(id uuid.UUID, cause error) bool

	Enqueued  []*domain.Task
	Cancelled []uuid.UUID
}

func (m *Queue) Enqueue(task *domain.Task) error {
	m.mu.Lock()
	m.Enqueued = append(m.Enqueued, task)
	m.mu.Unlock()
	if m.EnqueueFn != nil {
		return m.EnqueueFn(task)
	}
	return nil
}

func (m *Queue) Cancel(id uuid.UUID, cause error) bool {
	m.mu.Lock()
	m.Cancelled = append(m.Cancelled, id)
	m.mu.Unlock()
	if m.CancelFn != nil {
		return m.CancelFn(id, cause)
	}
	return false
}
