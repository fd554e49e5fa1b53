package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// SubmissionsTotal counts dispatcher decisions by outcome
	// (queued, cached, rejected, quota_exceeded, queue_full, store_error).
	SubmissionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "codesandbox_submissions_total",
			Help: "Total number of task submissions by outcome",
		},
		[]string{"outcome"},
	)

	// CacheLookups counts result cache lookups by result (hit, miss, error).
	CacheLookups = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "codesandbox_cache_lookups_total",
			Help: "Total number of result cache lookups",
		},
		[]string{"result"},
	)

	// ExecutionsTotal counts the total number of code executions by language and terminal status.
	ExecutionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "codesandbox_executions_total",
			Help: "Total number of code executions",
		},
		[]string{"language", "status"},
	)

	// ExecutionDuration tracks the duration of code executions in seconds.
	ExecutionDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "codesandbox_execution_duration_seconds",
			Help:    "Duration of code executions in seconds",
			Buckets: prometheus.ExponentialBuckets(0.01, 2, 12), // 10ms to ~40s
		},
		[]string{"language"},
	)

	// SlotsInUse tracks the number of occupied execution slots.
	SlotsInUse = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "codesandbox_slots_in_use",
			Help: "Number of execution slots currently running a task",
		},
	)

	// QueueDepth tracks admitted tasks waiting for a slot.
	QueueDepth = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "codesandbox_queue_depth",
			Help: "Number of admitted tasks waiting for a free slot",
		},
	)

	// TasksReaped counts tasks force-terminated by the reaper sweep.
	TasksReaped = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "codesandbox_tasks_reaped_total",
			Help: "Total number of stuck tasks force-terminated",
		},
		[]string{"from_status"},
	)

	// TerminalWriteFailures counts terminal transitions that could not be persisted.
	TerminalWriteFailures = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "codesandbox_terminal_write_failures_total",
			Help: "Total number of terminal status writes that exhausted retries",
		},
	)

	// RateLimiterErrors counts limiter backend failures that were failed open.
	RateLimiterErrors = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "codesandbox_rate_limiter_errors_total",
			Help: "Total number of rate limiter backend errors",
		},
	)

	// SandboxFailures counts sandbox infrastructure failures (not user code errors).
	SandboxFailures = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "codesandbox_sandbox_failures_total",
			Help: "Total number of sandbox infrastructure failures",
		},
	)

	// NotificationsDropped counts status events a sink failed to deliver.
	NotificationsDropped = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "codesandbox_notifications_dropped_total",
			Help: "Total number of status notifications that could not be delivered",
		},
		[]string{"sink"},
	)
)
