// Package memory holds process-local implementations of the repository
// interfaces, used for single-node deployments and tests.
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/Harsh-BH/codesandbox/internal/domain"
	"github.com/Harsh-BH/codesandbox/internal/repository"
)

var _ repository.TaskStore = (*TaskStore)(nil)

// TaskStore keeps tasks in a map guarded by a mutex. Reads return clones.
type TaskStore struct {
	mu    sync.RWMutex
	tasks map[uuid.UUID]*domain.Task
}

// NewTaskStore creates an empty in-memory task store.
func NewTaskStore() *TaskStore {
	return &TaskStore{tasks: make(map[uuid.UUID]*domain.Task)}
}

func (s *TaskStore) Create(ctx context.Context, task *domain.Task) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.tasks[task.ID]; ok {
		return domain.ErrTaskExists
	}
	s.tasks[task.ID] = task.Clone()
	return nil
}

func (s *TaskStore) Get(ctx context.Context, id uuid.UUID) (*domain.Task, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	task, ok := s.tasks[id]
	if !ok {
		return nil, domain.ErrTaskNotFound
	}
	return task.Clone(), nil
}

func (s *TaskStore) CompareAndSetStatus(ctx context.Context, id uuid.UUID, expected, next domain.TaskStatus, tr *domain.Transition) (bool, error) {
	if !domain.CanTransition(expected, next) {
		return false, nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	task, ok := s.tasks[id]
	if !ok {
		return false, domain.ErrTaskNotFound
	}
	if task.Status != expected {
		return false, nil
	}
	tr.Apply(task, next)
	return true, nil
}

func (s *TaskStore) ListNonTerminalOlderThan(ctx context.Context, deadline time.Time, limit int) ([]*domain.Task, error) {
	s.mu.RLock()
	var out []*domain.Task
	for _, task := range s.tasks {
		if !task.Status.IsTerminal() && task.QueuedAt.Before(deadline) {
			out = append(out, task.Clone())
		}
	}
	s.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool { return out[i].QueuedAt.Before(out[j].QueuedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *TaskStore) ListByExecutor(ctx context.Context, executorID string, limit int) ([]*domain.Task, error) {
	return s.newest(limit, func(t *domain.Task) bool { return t.ExecutorID == executorID }), nil
}

func (s *TaskStore) ListBySnippet(ctx context.Context, snippetID string, limit int) ([]*domain.Task, error) {
	return s.newest(limit, func(t *domain.Task) bool {
		return t.SnippetID != nil && *t.SnippetID == snippetID
	}), nil
}

func (s *TaskStore) ListByStatus(ctx context.Context, status domain.TaskStatus, limit int) ([]*domain.Task, error) {
	return s.newest(limit, func(t *domain.Task) bool { return t.Status == status }), nil
}

func (s *TaskStore) CountByLanguage(ctx context.Context) (map[domain.Language]int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	counts := make(map[domain.Language]int)
	for _, task := range s.tasks {
		counts[task.Language]++
	}
	return counts, nil
}

// newest returns clones of the tasks matching keep, most recently queued first.
func (s *TaskStore) newest(limit int, keep func(*domain.Task) bool) []*domain.Task {
	s.mu.RLock()
	var out []*domain.Task
	for _, task := range s.tasks {
		if keep(task) {
			out = append(out, task.Clone())
		}
	}
	s.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool { return out[i].QueuedAt.After(out[j].QueuedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out
}

// Ping always succeeds; it lets the health handler treat every store alike.
func (s *TaskStore) Ping(ctx context.Context) error { return nil }
