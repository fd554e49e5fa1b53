package domain

import (
	"errors"
	"fmt"
)

var (
	// ErrValidation is the parent of every malformed-submission error.
	ErrValidation = errors.New("validation failed")

	// ErrEmptyLanguage is returned when no language is given.
	ErrEmptyLanguage = fmt.Errorf("%w: language cannot be empty", ErrValidation)

	// ErrInvalidLanguage is returned when an unsupported language is submitted.
	ErrInvalidLanguage = fmt.Errorf("%w: invalid or unsupported language", ErrValidation)

	// ErrEmptyCode is returned when the code content is empty.
	ErrEmptyCode = fmt.Errorf("%w: code cannot be empty", ErrValidation)

	// ErrEmptyExecutor is returned when the submitting executor is not identified.
	ErrEmptyExecutor = fmt.Errorf("%w: executor id cannot be empty", ErrValidation)

	// ErrEmptySnippet is returned when a snippet listing names no snippet.
	ErrEmptySnippet = fmt.Errorf("%w: snippet id cannot be empty", ErrValidation)

	// ErrInvalidStatus is returned when a status filter is not a known status.
	ErrInvalidStatus = fmt.Errorf("%w: invalid task status", ErrValidation)

	// ErrPayloadTooLarge is returned when the code exceeds the size limit.
	ErrPayloadTooLarge = fmt.Errorf("%w: code payload exceeds maximum size (1MB)", ErrValidation)

	// ErrQuotaExceeded is returned when the executor's rate limit denies admission.
	ErrQuotaExceeded = errors.New("rate limit exceeded, try again later")

	// ErrQueueFull is returned when the worker queue cannot accept more tasks.
	ErrQueueFull = errors.New("execution queue is full")

	// ErrTaskNotFound is returned when a task cannot be found by ID.
	ErrTaskNotFound = errors.New("task not found")

	// ErrTaskExists is returned when a task with the same ID is created twice.
	ErrTaskExists = errors.New("task already exists")

	// ErrStoreUnavailable is returned when the task store cannot be reached.
	ErrStoreUnavailable = errors.New("task store is currently unavailable")

	// ErrCancelled is the cancellation cause for a caller-requested cancel.
	ErrCancelled = errors.New("task cancelled")

	// ErrStuckTask is the cancellation cause used when the reaper forces a task.
	ErrStuckTask = errors.New("task exceeded stuck deadline")

	// ErrShutdown is the cancellation cause used when the worker pool stops.
	ErrShutdown = errors.New("worker pool shutting down")
)
