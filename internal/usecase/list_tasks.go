package usecase

import (
	"context"
	"sort"
	"strings"

	"github.com/Harsh-BH/codesandbox/internal/domain"
	"github.com/Harsh-BH/codesandbox/internal/repository"
)

const (
	defaultHistoryLimit = 10
	maxHistoryLimit     = 100
)

// ListTasksUsecase answers the read-only task queries: an executor's history,
// a snippet's executions, tasks in one status and per-language totals.
type ListTasksUsecase struct {
	store repository.TaskStore
}

func NewListTasksUsecase(store repository.TaskStore) *ListTasksUsecase {
	return &ListTasksUsecase{store: store}
}

// Execute lists an executor's tasks newest first. A non-positive limit means
// the default; larger limits are clamped.
func (uc *ListTasksUsecase) Execute(ctx context.Context, executorID string, limit int) ([]*domain.Task, error) {
	if strings.TrimSpace(executorID) == "" {
		return nil, domain.ErrEmptyExecutor
	}
	return nonNil(uc.store.ListByExecutor(ctx, executorID, clampLimit(limit)))
}

// BySnippet lists executions of one snippet newest first.
func (uc *ListTasksUsecase) BySnippet(ctx context.Context, snippetID string, limit int) ([]*domain.Task, error) {
	if strings.TrimSpace(snippetID) == "" {
		return nil, domain.ErrEmptySnippet
	}
	return nonNil(uc.store.ListBySnippet(ctx, snippetID, clampLimit(limit)))
}

// ByStatus lists tasks currently in status newest first.
func (uc *ListTasksUsecase) ByStatus(ctx context.Context, status domain.TaskStatus, limit int) ([]*domain.Task, error) {
	if !status.IsValid() {
		return nil, domain.ErrInvalidStatus
	}
	return nonNil(uc.store.ListByStatus(ctx, status, clampLimit(limit)))
}

// LanguageCounts returns per-language totals, busiest first and ties by name.
func (uc *ListTasksUsecase) LanguageCounts(ctx context.Context) ([]domain.LanguageCount, error) {
	counts, err := uc.store.CountByLanguage(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]domain.LanguageCount, 0, len(counts))
	for lang, n := range counts {
		out = append(out, domain.LanguageCount{Language: lang, Count: n})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Count != out[j].Count {
			return out[i].Count > out[j].Count
		}
		return out[i].Language < out[j].Language
	})
	return out, nil
}

func clampLimit(limit int) int {
	switch {
	case limit <= 0:
		return defaultHistoryLimit
	case limit > maxHistoryLimit:
		return maxHistoryLimit
	}
	return limit
}

func nonNil(tasks []*domain.Task, err error) ([]*domain.Task, error) {
	if err != nil {
		return nil, err
	}
	if tasks == nil {
		tasks = []*domain.Task{}
	}
	return tasks, nil
}
