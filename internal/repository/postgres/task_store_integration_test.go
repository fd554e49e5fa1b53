//go:build integration

package postgres

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/Harsh-BH/codesandbox/internal/domain"
)

// Run with: DATABASE_URL=postgres://... go test -tags integration ./internal/repository/postgres/
func newIntegrationStore(t *testing.T) *pgTaskStore {
	t.Helper()
	url := os.Getenv("DATABASE_URL")
	if url == "" {
		t.Skip("DATABASE_URL not set, skipping integration test")
	}
	ctx := context.Background()
	pool, err := pgxpool.New(ctx, url)
	if err != nil {
		t.Fatalf("connect: %v", err)
	}
	t.Cleanup(pool.Close)
	if err := EnsureSchema(ctx, pool); err != nil {
		t.Fatalf("schema: %v", err)
	}
	return &pgTaskStore{pool: pool}
}

func TestIntegration_CompareAndSetStatus(t *testing.T) {
	store := newIntegrationStore(t)
	ctx := context.Background()

	id, _ := uuid.NewV7()
	task := &domain.Task{
		ID:            id,
		ExecutorID:    "integration",
		Language:      domain.LangPython,
		Code:          "print(1)",
		Fingerprint:   "0000000000000000000000000000000000000000000000000000000000000000",
		Status:        domain.StatusPending,
		TimeLimitMs:   5000,
		MemoryLimitKB: 262144,
		QueuedAt:      time.Now().UTC(),
	}
	if err := store.Create(ctx, task); err != nil {
		t.Fatalf("create: %v", err)
	}

	now := time.Now().UTC()
	ok, err := store.CompareAndSetStatus(ctx, id, domain.StatusPending, domain.StatusRunning,
		&domain.Transition{StartedAt: &now, SlotID: "slot-0"})
	if err != nil || !ok {
		t.Fatalf("PENDING->RUNNING: ok=%v err=%v", ok, err)
	}

	ok, err = store.CompareAndSetStatus(ctx, id, domain.StatusRunning, domain.StatusCompleted,
		&domain.Transition{Output: "1\n", DurationMs: domain.Int64(10), ExitCode: domain.Int(0)})
	if err != nil || !ok {
		t.Fatalf("RUNNING->COMPLETED: ok=%v err=%v", ok, err)
	}

	ok, err = store.CompareAndSetStatus(ctx, id, domain.StatusRunning, domain.StatusTimeout, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if ok {
		t.Fatal("expected CAS on a terminal task to be a no-op")
	}

	got, err := store.Get(ctx, id)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.Status != domain.StatusCompleted || got.CompletedAt == nil {
		t.Errorf("unexpected final task: status=%s completed_at=%v", got.Status, got.CompletedAt)
	}
}

func TestIntegration_SnippetStatusAndLanguageQueries(t *testing.T) {
	store := newIntegrationStore(t)
	ctx := context.Background()

	snippet := "integration-" + uuid.NewString()
	before, err := store.CountByLanguage(ctx)
	if err != nil {
		t.Fatalf("count: %v", err)
	}

	base := time.Now().UTC()
	var ids []uuid.UUID
	for i, lang := range []domain.Language{domain.LangCpp, domain.LangCpp} {
		id, _ := uuid.NewV7()
		ids = append(ids, id)
		task := &domain.Task{
			ID:            id,
			ExecutorID:    "integration",
			SnippetID:     &snippet,
			Language:      lang,
			Code:          "int main(){}",
			Fingerprint:   "1111111111111111111111111111111111111111111111111111111111111111",
			Status:        domain.StatusPending,
			TimeLimitMs:   5000,
			MemoryLimitKB: 262144,
			QueuedAt:      base.Add(time.Duration(i) * time.Second),
		}
		if err := store.Create(ctx, task); err != nil {
			t.Fatalf("create: %v", err)
		}
	}

	got, err := store.ListBySnippet(ctx, snippet, 10)
	if err != nil {
		t.Fatalf("list by snippet: %v", err)
	}
	if len(got) != 2 || got[0].ID != ids[1] || got[1].ID != ids[0] {
		t.Fatalf("expected both tasks newest first, got %d", len(got))
	}

	now := time.Now().UTC()
	if ok, err := store.CompareAndSetStatus(ctx, ids[0], domain.StatusPending, domain.StatusRunning,
		&domain.Transition{StartedAt: &now, SlotID: "slot-0"}); err != nil || !ok {
		t.Fatalf("PENDING->RUNNING: ok=%v err=%v", ok, err)
	}
	running, err := store.ListByStatus(ctx, domain.StatusRunning, 0)
	if err != nil {
		t.Fatalf("list by status: %v", err)
	}
	found := false
	for _, task := range running {
		if task.Status != domain.StatusRunning {
			t.Errorf("task %s has status %s", task.ID, task.Status)
		}
		found = found || task.ID == ids[0]
	}
	if !found {
		t.Error("running task missing from status listing")
	}

	after, err := store.CountByLanguage(ctx)
	if err != nil {
		t.Fatalf("count: %v", err)
	}
	if after[domain.LangCpp]-before[domain.LangCpp] != 2 {
		t.Errorf("expected cpp count to grow by 2, got %d -> %d", before[domain.LangCpp], after[domain.LangCpp])
	}
}
