package domain

import (
	"time"

	"github.com/google/uuid"
)

// Language represents a supported programming language.
type Language string

const (
	LangPython     Language = "python"
	LangCpp        Language = "cpp"
	LangJavaScript Language = "javascript"
)

// IsValid checks if the language is supported.
func (l Language) IsValid() bool {
	switch l {
	case LangPython, LangCpp, LangJavaScript:
		return true
	}
	return false
}

// LanguageInfo describes a supported language.
type LanguageInfo struct {
	Name     Language `json:"name"`
	Version  string   `json:"version"`
	Compiler string   `json:"compiler,omitempty"`
}

// SupportedLanguages lists what the sandboxes can run.
func SupportedLanguages() []LanguageInfo {
	return []LanguageInfo{
		{Name: LangPython, Version: "3.12"},
		{Name: LangCpp, Version: "17", Compiler: "g++ (GCC 13)"},
		{Name: LangJavaScript, Version: "20", Compiler: "node"},
	}
}

// LanguageCount is the number of tasks submitted in one language.
type LanguageCount struct {
	Language Language `json:"language"`
	Count    int      `json:"count"`
}

// Limits are the resource ceilings applied to one sandbox run.
type Limits struct {
	TimeLimit     time.Duration
	MemoryLimitKB int
}

// ExecutionRequest is passed to the sandbox runtime.
type ExecutionRequest struct {
	TaskID   uuid.UUID
	Language Language
	Code     string
	Input    string
	Limits   Limits
}

// ExecutionResult is returned by the sandbox runtime after execution completes.
type ExecutionResult struct {
	Stdout       string
	Stderr       string
	ExitCode     int
	TimedOut     bool
	OOMKilled    bool
	Duration     time.Duration
	PeakMemoryKB int64
}

// CacheEntry is a completed result shared by every task with the same fingerprint.
type CacheEntry struct {
	Fingerprint  string    `json:"fingerprint"`
	Output       string    `json:"output"`
	Stderr       string    `json:"stderr,omitempty"`
	ExitCode     int       `json:"exit_code"`
	DurationMs   int64     `json:"duration_ms"`
	PeakMemoryKB int64     `json:"peak_memory_kb"`
	StoredAt     time.Time `json:"stored_at"`
}

// IsStale reports whether the entry is at least ttl old at now. A zero ttl never expires.
func (e *CacheEntry) IsStale(now time.Time, ttl time.Duration) bool {
	if ttl <= 0 {
		return false
	}
	return now.Sub(e.StoredAt) >= ttl
}

// Quota is an executor's sliding-window admission budget.
type Quota struct {
	Max    int
	Window time.Duration
}

// SubmitRequest represents an incoming execution request.
type SubmitRequest struct {
	ExecutorID    string   `json:"executor_id" binding:"required"`
	SnippetID     *string  `json:"snippet_id,omitempty"`
	Language      Language `json:"language" binding:"required"`
	Code          string   `json:"code" binding:"required"`
	Input         string   `json:"input"`
	TimeLimitMs   *int     `json:"time_limit_ms,omitempty"`
	MemoryLimitKB *int     `json:"memory_limit_kb,omitempty"`
}

// SubmitResponse is returned after a successful submission. Task is set
// when the result was served from the cache.
type SubmitResponse struct {
	TaskID uuid.UUID  `json:"task_id"`
	Status TaskStatus `json:"status"`
	Cached bool       `json:"cached"`
	Task   *Task      `json:"task,omitempty"`
}
