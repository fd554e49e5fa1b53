package postgres

import (
	"context"
	_ "embed"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/Harsh-BH/codesandbox/internal/domain"
	"github.com/Harsh-BH/codesandbox/internal/repository"
)

//go:embed schema.sql
var schema string

// Ensure pgTaskStore implements repository.TaskStore.
var _ repository.TaskStore = (*pgTaskStore)(nil)

const taskColumns = `
	task_id, executor_id, snippet_id, language, code_content, input_data, code_hash,
	status, output_data, error_message, failure_reason, exit_code,
	time_limit_ms, memory_limit_kb, queued_at, started_at, completed_at,
	duration_ms, peak_memory_kb, slot_id, cached, forced`

type pgTaskStore struct {
	pool *pgxpool.Pool
}

// NewPostgresTaskStore creates a new PostgreSQL-backed task store.
func NewPostgresTaskStore(pool *pgxpool.Pool) repository.TaskStore {
	return &pgTaskStore{pool: pool}
}

// EnsureSchema creates the execution_tasks table and its indexes if missing.
func EnsureSchema(ctx context.Context, pool *pgxpool.Pool) error {
	if _, err := pool.Exec(ctx, schema); err != nil {
		return fmt.Errorf("postgres: ensure schema: %w", err)
	}
	return nil
}

func (r *pgTaskStore) Create(ctx context.Context, task *domain.Task) error {
	query := `INSERT INTO execution_tasks (` + taskColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19, $20, $21, $22)`

	_, err := r.pool.Exec(ctx, query,
		task.ID, task.ExecutorID, task.SnippetID, string(task.Language), task.Code, task.Input, task.Fingerprint,
		string(task.Status), task.Output, task.Error, string(task.FailureReason), task.ExitCode,
		task.TimeLimitMs, task.MemoryLimitKB, task.QueuedAt, task.StartedAt, task.CompletedAt,
		task.DurationMs, task.PeakMemoryKB, task.SlotID, task.Cached, task.Forced,
	)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return domain.ErrTaskExists
		}
		return fmt.Errorf("postgres: create task: %w", err)
	}
	return nil
}

func (r *pgTaskStore) Get(ctx context.Context, id uuid.UUID) (*domain.Task, error) {
	query := `SELECT ` + taskColumns + ` FROM execution_tasks WHERE task_id = $1`

	task, err := scanTask(r.pool.QueryRow(ctx, query, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, domain.ErrTaskNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("postgres: get task: %w", err)
	}
	return task, nil
}

// CompareAndSetStatus locks the row, checks the observed status against
// expected, applies the transition in Go and writes it back in one transaction.
func (r *pgTaskStore) CompareAndSetStatus(ctx context.Context, id uuid.UUID, expected, next domain.TaskStatus, tr *domain.Transition) (bool, error) {
	if !domain.CanTransition(expected, next) {
		return false, nil
	}

	var applied bool
	err := pgx.BeginFunc(ctx, r.pool, func(tx pgx.Tx) error {
		query := `SELECT ` + taskColumns + ` FROM execution_tasks WHERE task_id = $1 FOR UPDATE`
		task, err := scanTask(tx.QueryRow(ctx, query, id))
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.ErrTaskNotFound
		}
		if err != nil {
			return fmt.Errorf("postgres: lock task: %w", err)
		}
		if task.Status != expected {
			return nil
		}

		tr.Apply(task, next)

		update := `
			UPDATE execution_tasks
			SET status = $1, output_data = $2, error_message = $3, failure_reason = $4,
			    exit_code = $5, started_at = $6, completed_at = $7, duration_ms = $8,
			    peak_memory_kb = $9, slot_id = $10, forced = $11
			WHERE task_id = $12 AND status = $13`
		tag, err := tx.Exec(ctx, update,
			string(task.Status), task.Output, task.Error, string(task.FailureReason),
			task.ExitCode, task.StartedAt, task.CompletedAt, task.DurationMs,
			task.PeakMemoryKB, task.SlotID, task.Forced,
			id, string(expected),
		)
		if err != nil {
			return fmt.Errorf("postgres: set status: %w", err)
		}
		applied = tag.RowsAffected() == 1
		return nil
	})
	if err != nil {
		return false, err
	}
	return applied, nil
}

func (r *pgTaskStore) ListNonTerminalOlderThan(ctx context.Context, deadline time.Time, limit int) ([]*domain.Task, error) {
	query := `SELECT ` + taskColumns + ` FROM execution_tasks
		WHERE status IN ('PENDING', 'RUNNING') AND queued_at < $1
		ORDER BY queued_at ASC`
	args := []any{deadline}
	if limit > 0 {
		query += ` LIMIT $2`
		args = append(args, limit)
	}
	return r.list(ctx, query, args...)
}

func (r *pgTaskStore) ListByExecutor(ctx context.Context, executorID string, limit int) ([]*domain.Task, error) {
	return r.newest(ctx, `executor_id = $1`, executorID, limit)
}

func (r *pgTaskStore) ListBySnippet(ctx context.Context, snippetID string, limit int) ([]*domain.Task, error) {
	return r.newest(ctx, `snippet_id = $1`, snippetID, limit)
}

func (r *pgTaskStore) ListByStatus(ctx context.Context, status domain.TaskStatus, limit int) ([]*domain.Task, error) {
	return r.newest(ctx, `status = $1`, string(status), limit)
}

func (r *pgTaskStore) CountByLanguage(ctx context.Context) (map[domain.Language]int, error) {
	rows, err := r.pool.Query(ctx, `SELECT language, COUNT(*) FROM execution_tasks GROUP BY language`)
	if err != nil {
		return nil, fmt.Errorf("postgres: count by language: %w", err)
	}
	defer rows.Close()

	counts := make(map[domain.Language]int)
	for rows.Next() {
		var (
			language string
			n        int
		)
		if err := rows.Scan(&language, &n); err != nil {
			return nil, fmt.Errorf("postgres: scan language count: %w", err)
		}
		counts[domain.Language(language)] = n
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: count by language: %w", err)
	}
	return counts, nil
}

// newest lists tasks matching a single-parameter predicate, most recent first.
func (r *pgTaskStore) newest(ctx context.Context, where string, arg any, limit int) ([]*domain.Task, error) {
	query := `SELECT ` + taskColumns + ` FROM execution_tasks
		WHERE ` + where + `
		ORDER BY queued_at DESC`
	args := []any{arg}
	if limit > 0 {
		query += ` LIMIT $2`
		args = append(args, limit)
	}
	return r.list(ctx, query, args...)
}

// Ping checks database connectivity.
func (r *pgTaskStore) Ping(ctx context.Context) error {
	return r.pool.Ping(ctx)
}

func (r *pgTaskStore) list(ctx context.Context, query string, args ...any) ([]*domain.Task, error) {
	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: list tasks: %w", err)
	}
	defer rows.Close()

	var tasks []*domain.Task
	for rows.Next() {
		task, err := scanTask(rows)
		if err != nil {
			return nil, fmt.Errorf("postgres: scan task: %w", err)
		}
		tasks = append(tasks, task)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: list tasks: %w", err)
	}
	return tasks, nil
}

func scanTask(row pgx.Row) (*domain.Task, error) {
	task := &domain.Task{}
	var language, status, reason string
	err := row.Scan(
		&task.ID, &task.ExecutorID, &task.SnippetID, &language, &task.Code, &task.Input, &task.Fingerprint,
		&status, &task.Output, &task.Error, &reason, &task.ExitCode,
		&task.TimeLimitMs, &task.MemoryLimitKB, &task.QueuedAt, &task.StartedAt, &task.CompletedAt,
		&task.DurationMs, &task.PeakMemoryKB, &task.SlotID, &task.Cached, &task.Forced,
	)
	if err != nil {
		return nil, err
	}
	task.Language = domain.Language(language)
	task.Status = domain.TaskStatus(status)
	task.FailureReason = domain.FailureReason(reason)
	return task, nil
}
