package domain

import (
	"time"

	"github.com/google/uuid"
)

// TaskStatus represents the lifecycle state of an execution task.
type TaskStatus string

const (
	StatusPending   TaskStatus = "PENDING"
	StatusRunning   TaskStatus = "RUNNING"
	StatusCompleted TaskStatus = "COMPLETED"
	StatusFailed    TaskStatus = "FAILED"
	StatusTimeout   TaskStatus = "TIMEOUT"
)

// IsTerminal returns true if the status represents a final state.
func (s TaskStatus) IsTerminal() bool {
	switch s {
	case StatusCompleted, StatusFailed, StatusTimeout:
		return true
	}
	return false
}

// IsValid reports whether s is one of the known statuses.
func (s TaskStatus) IsValid() bool {
	switch s {
	case StatusPending, StatusRunning, StatusCompleted, StatusFailed, StatusTimeout:
		return true
	}
	return false
}

// transitions is the closed set of allowed status edges. Terminal states have no entry.
var transitions = map[TaskStatus][]TaskStatus{
	StatusPending: {StatusRunning, StatusFailed, StatusTimeout},
	StatusRunning: {StatusCompleted, StatusFailed, StatusTimeout},
}

// CanTransition reports whether a task may move from one status to another.
func CanTransition(from, to TaskStatus) bool {
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// FailureReason distinguishes why a task ended in FAILED or TIMEOUT.
type FailureReason string

const (
	ReasonNone          FailureReason = ""
	ReasonRuntimeError  FailureReason = "runtime_error"
	ReasonMemoryLimit   FailureReason = "memory_limit"
	ReasonTimeout       FailureReason = "timeout"
	ReasonCancelled     FailureReason = "cancelled"
	ReasonInterrupted   FailureReason = "interrupted"
	ReasonQueueFull     FailureReason = "queue_full"
	ReasonInternalError FailureReason = "internal_error"
	ReasonStuck         FailureReason = "stuck"
)

// Task is one execution request and its outcome.
// Executor and snippet are plain identifiers owned elsewhere.
type Task struct {
	ID            uuid.UUID     `json:"task_id"`
	ExecutorID    string        `json:"executor_id"`
	SnippetID     *string       `json:"snippet_id,omitempty"`
	Language      Language      `json:"language"`
	Code          string        `json:"code"`
	Input         string        `json:"input"`
	Fingerprint   string        `json:"fingerprint"`
	Status        TaskStatus    `json:"status"`
	Output        string        `json:"output,omitempty"`
	Error         string        `json:"error,omitempty"`
	FailureReason FailureReason `json:"failure_reason,omitempty"`
	ExitCode      *int          `json:"exit_code,omitempty"`
	TimeLimitMs   int           `json:"time_limit_ms"`
	MemoryLimitKB int           `json:"memory_limit_kb"`
	QueuedAt      time.Time     `json:"queued_at"`
	StartedAt     *time.Time    `json:"started_at,omitempty"`
	CompletedAt   *time.Time    `json:"completed_at,omitempty"`
	DurationMs    *int64        `json:"duration_ms,omitempty"`
	PeakMemoryKB  *int64        `json:"peak_memory_kb,omitempty"`
	SlotID        string        `json:"slot_id,omitempty"`
	Cached        bool          `json:"cached"`
	Forced        bool          `json:"forced"`
}

// Clone returns a deep copy so callers never share mutable state with a store.
func (t *Task) Clone() *Task {
	if t == nil {
		return nil
	}
	c := *t
	c.SnippetID = cloneString(t.SnippetID)
	c.ExitCode = cloneInt(t.ExitCode)
	c.StartedAt = cloneTime(t.StartedAt)
	c.CompletedAt = cloneTime(t.CompletedAt)
	c.DurationMs = cloneInt64(t.DurationMs)
	c.PeakMemoryKB = cloneInt64(t.PeakMemoryKB)
	return &c
}

// Transition carries the write-once fields that accompany a status change.
// Nil pointers and empty strings leave the stored value untouched.
type Transition struct {
	StartedAt     *time.Time
	CompletedAt   *time.Time
	Output        string
	Error         string
	FailureReason FailureReason
	ExitCode      *int
	DurationMs    *int64
	PeakMemoryKB  *int64
	SlotID        string
	Forced        bool
}

// Apply writes the transition onto t with the new status. It enforces that
// CompletedAt is present exactly when the new status is terminal and that
// the duration is never negative.
func (tr *Transition) Apply(t *Task, next TaskStatus) {
	t.Status = next
	if tr != nil {
		if tr.StartedAt != nil {
			t.StartedAt = cloneTime(tr.StartedAt)
		}
		if tr.CompletedAt != nil {
			t.CompletedAt = cloneTime(tr.CompletedAt)
		}
		if tr.Output != "" {
			t.Output = tr.Output
		}
		if tr.Error != "" {
			t.Error = tr.Error
		}
		if tr.FailureReason != ReasonNone {
			t.FailureReason = tr.FailureReason
		}
		if tr.ExitCode != nil {
			t.ExitCode = cloneInt(tr.ExitCode)
		}
		if tr.DurationMs != nil {
			d := *tr.DurationMs
			if d < 0 {
				d = 0
			}
			t.DurationMs = &d
		}
		if tr.PeakMemoryKB != nil {
			t.PeakMemoryKB = cloneInt64(tr.PeakMemoryKB)
		}
		if tr.SlotID != "" {
			t.SlotID = tr.SlotID
		}
		if tr.Forced {
			t.Forced = true
		}
	}
	if next.IsTerminal() {
		if t.CompletedAt == nil {
			now := time.Now().UTC()
			t.CompletedAt = &now
		}
	} else {
		t.CompletedAt = nil
	}
}

// TaskEvent is the payload pushed to notification sinks on terminal transitions.
type TaskEvent struct {
	TaskID        uuid.UUID     `json:"task_id"`
	ExecutorID    string        `json:"executor_id"`
	Status        TaskStatus    `json:"status"`
	FailureReason FailureReason `json:"failure_reason,omitempty"`
	Cached        bool          `json:"cached"`
	Forced        bool          `json:"forced"`
	CompletedAt   *time.Time    `json:"completed_at,omitempty"`
}

// EventFor builds the notification payload for a task.
func EventFor(t *Task) TaskEvent {
	return TaskEvent{
		TaskID:        t.ID,
		ExecutorID:    t.ExecutorID,
		Status:        t.Status,
		FailureReason: t.FailureReason,
		Cached:        t.Cached,
		Forced:        t.Forced,
		CompletedAt:   cloneTime(t.CompletedAt),
	}
}

func cloneTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := *t
	return &v
}

func cloneInt(i *int) *int {
	if i == nil {
		return nil
	}
	v := *i
	return &v
}

func cloneInt64(i *int64) *int64 {
	if i == nil {
		return nil
	}
	v := *i
	return &v
}

func cloneString(s *string) *string {
	if s == nil {
		return nil
	}
	v := *s
	return &v
}

// Int returns a pointer to v.
func Int(v int) *int { return &v }

// Int64 returns a pointer to v.
func Int64(v int64) *int64 { return &v }

// Time returns a pointer to t.
func Time(t time.Time) *time.Time { return &t }
