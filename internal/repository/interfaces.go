package repository

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/Harsh-BH/codesandbox/internal/domain"
)

// TaskStore is the durable record of task state. Implementations must be safe
// for concurrent use. Every status write goes through CompareAndSetStatus.
type TaskStore interface {
	// Create inserts a new task. The task's status is written as given.
	Create(ctx context.Context, task *domain.Task) error

	// Get retrieves a task by ID, or domain.ErrTaskNotFound.
	Get(ctx context.Context, id uuid.UUID) (*domain.Task, error)

	// CompareAndSetStatus moves the task from expected to next and applies the
	// transition fields, only if the stored status still equals expected and the
	// edge is allowed. Returns false without writing otherwise.
	CompareAndSetStatus(ctx context.Context, id uuid.UUID, expected, next domain.TaskStatus, tr *domain.Transition) (bool, error)

	// ListNonTerminalOlderThan returns PENDING or RUNNING tasks queued before
	// deadline, oldest first, at most limit (0 means no limit).
	ListNonTerminalOlderThan(ctx context.Context, deadline time.Time, limit int) ([]*domain.Task, error)

	// ListByExecutor returns an executor's most recent tasks, newest first.
	ListByExecutor(ctx context.Context, executorID string, limit int) ([]*domain.Task, error)

	// ListBySnippet returns the most recent executions of one snippet, newest first.
	ListBySnippet(ctx context.Context, snippetID string, limit int) ([]*domain.Task, error)

	// ListByStatus returns tasks currently in status, newest first.
	ListByStatus(ctx context.Context, status domain.TaskStatus, limit int) ([]*domain.Task, error)

	// CountByLanguage returns how many tasks were submitted per language.
	// Languages with no tasks are absent from the map.
	CountByLanguage(ctx context.Context) (map[domain.Language]int, error)
}

// ResultCache maps fingerprints to completed results.
type ResultCache interface {
	// Lookup returns the entry for fingerprint, or nil if absent or stale.
	Lookup(ctx context.Context, fingerprint string) (*domain.CacheEntry, error)

	// Insert stores entry only if no live entry exists for fingerprint.
	// Returns true if this call performed the insert.
	Insert(ctx context.Context, fingerprint string, entry *domain.CacheEntry) (bool, error)
}
