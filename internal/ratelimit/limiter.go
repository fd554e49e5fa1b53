// Package ratelimit implements per-executor sliding-window admission control.
package ratelimit

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/Harsh-BH/codesandbox/internal/domain"
)

// Limiter admits or denies a submission for an executor at a point in time.
// A denied attempt is not recorded.
type Limiter interface {
	TryAdmit(ctx context.Context, executorID string, now time.Time) (bool, error)
}

// QuotaSource supplies the admission budget for an executor.
type QuotaSource interface {
	QuotaFor(ctx context.Context, executorID string) (domain.Quota, error)
}

// StaticQuota returns a default quota with optional per-executor overrides.
type StaticQuota struct {
	Default   domain.Quota
	Overrides map[string]domain.Quota
}

var _ QuotaSource = (*StaticQuota)(nil)

func (q *StaticQuota) QuotaFor(ctx context.Context, executorID string) (domain.Quota, error) {
	if o, ok := q.Overrides[executorID]; ok {
		return o, nil
	}
	return q.Default, nil
}

// ParseOverrides parses "executor:max:window" entries separated by commas,
// e.g. "ci-bot:100:1m,guest:3:30s".
func ParseOverrides(s string) (map[string]domain.Quota, error) {
	out := make(map[string]domain.Quota)
	s = strings.TrimSpace(s)
	if s == "" {
		return out, nil
	}
	for _, item := range strings.Split(s, ",") {
		parts := strings.Split(strings.TrimSpace(item), ":")
		if len(parts) != 3 || parts[0] == "" {
			return nil, fmt.Errorf("ratelimit: malformed override %q, want executor:max:window", item)
		}
		max, err := strconv.Atoi(parts[1])
		if err != nil || max <= 0 {
			return nil, fmt.Errorf("ratelimit: invalid max in override %q", item)
		}
		window, err := time.ParseDuration(parts[2])
		if err != nil || window <= 0 {
			return nil, fmt.Errorf("ratelimit: invalid window in override %q", item)
		}
		out[parts[0]] = domain.Quota{Max: max, Window: window}
	}
	return out, nil
}

var _ Limiter = (*SlidingWindow)(nil)

// SlidingWindow keeps the admission timestamps of each executor in memory.
// Check-and-record happens under one lock, so concurrent calls for the same
// executor can never both pass the limit.
type SlidingWindow struct {
	quotas QuotaSource

	mu      sync.Mutex
	windows map[string][]time.Time
}

// NewSlidingWindow creates an in-process limiter backed by quotas.
func NewSlidingWindow(quotas QuotaSource) *SlidingWindow {
	return &SlidingWindow{
		quotas:  quotas,
		windows: make(map[string][]time.Time),
	}
}

func (l *SlidingWindow) TryAdmit(ctx context.Context, executorID string, now time.Time) (bool, error) {
	quota, err := l.quotas.QuotaFor(ctx, executorID)
	if err != nil {
		return false, fmt.Errorf("ratelimit: quota for %s: %w", executorID, err)
	}
	if quota.Max <= 0 {
		return false, nil
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	stamps := prune(l.windows[executorID], now.Add(-quota.Window))
	if len(stamps) >= quota.Max {
		l.windows[executorID] = stamps
		return false, nil
	}
	l.windows[executorID] = append(stamps, now)
	return true, nil
}

// Count returns the admissions recorded for executorID inside the window ending at now.
func (l *SlidingWindow) Count(ctx context.Context, executorID string, now time.Time) int {
	quota, err := l.quotas.QuotaFor(ctx, executorID)
	if err != nil {
		return 0
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	stamps := prune(l.windows[executorID], now.Add(-quota.Window))
	l.windows[executorID] = stamps
	return len(stamps)
}

// Evict drops executors whose windows have fully expired. It is safe to call
// periodically to bound memory.
func (l *SlidingWindow) Evict(ctx context.Context, now time.Time) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	var n int
	for id, stamps := range l.windows {
		if len(stamps) == 0 {
			delete(l.windows, id)
			n++
			continue
		}
		quota, err := l.quotas.QuotaFor(ctx, id)
		if err != nil {
			continue
		}
		kept := prune(stamps, now.Add(-quota.Window))
		if len(kept) == 0 {
			delete(l.windows, id)
			n++
			continue
		}
		l.windows[id] = kept
	}
	return n
}

// prune drops timestamps at or before cutoff, keeping the rest in place.
func prune(stamps []time.Time, cutoff time.Time) []time.Time {
	kept := stamps[:0]
	for _, ts := range stamps {
		if ts.After(cutoff) {
			kept = append(kept, ts)
		}
	}
	return kept
}
