package usecase

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/Harsh-BH/codesandbox/internal/domain"
	"github.com/Harsh-BH/codesandbox/internal/repository"
)

// GetTaskUsecase handles fetching task status and results.
type GetTaskUsecase struct {
	store  repository.TaskStore
	logger *zap.Logger
}

// NewGetTaskUsecase creates a new GetTaskUsecase.
func NewGetTaskUsecase(store repository.TaskStore, logger *zap.Logger) *GetTaskUsecase {
	return &GetTaskUsecase{
		store:  store,
		logger: logger,
	}
}

// Execute retrieves a task by its ID.
func (uc *GetTaskUsecase) Execute(ctx context.Context, id uuid.UUID) (*domain.Task, error) {
	task, err := uc.store.Get(ctx, id)
	if errors.Is(err, domain.ErrTaskNotFound) {
		uc.logger.Debug("Task not found", zap.String("task_id", id.String()))
		return nil, err
	}
	if err != nil {
		uc.logger.Error("Failed to load task", zap.String("task_id", id.String()), zap.Error(err))
		return nil, err
	}
	return task, nil
}
