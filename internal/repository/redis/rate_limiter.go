package redis

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	goredis "github.com/redis/go-redis/v9"

	"github.com/Harsh-BH/codesandbox/internal/ratelimit"
)

var _ ratelimit.Limiter = (*slidingWindowLimiter)(nil)

const quotaKeyPrefix = "sandbox:quota:"

// admitScript prunes, counts and records in one step so two replicas can
// never both admit past the limit.
var admitScript = goredis.NewScript(`
local key = KEYS[1]
local now = tonumber(ARGV[1])
local window = tonumber(ARGV[2])
local max = tonumber(ARGV[3])
redis.call('ZREMRANGEBYSCORE', key, '-inf', now - window)
if redis.call('ZCARD', key) >= max then
	return 0
end
redis.call('ZADD', key, now, ARGV[4])
redis.call('PEXPIRE', key, window)
return 1
`)

type slidingWindowLimiter struct {
	client *goredis.Client
	quotas ratelimit.QuotaSource
}

// NewRedisRateLimiter creates a sliding-window limiter shared by every replica
// that points at the same Redis. Each executor's window is a sorted set of
// admission timestamps in milliseconds.
func NewRedisRateLimiter(client *goredis.Client, quotas ratelimit.QuotaSource) ratelimit.Limiter {
	return &slidingWindowLimiter{client: client, quotas: quotas}
}

func (l *slidingWindowLimiter) TryAdmit(ctx context.Context, executorID string, now time.Time) (bool, error) {
	quota, err := l.quotas.QuotaFor(ctx, executorID)
	if err != nil {
		return false, fmt.Errorf("redis: quota for %s: %w", executorID, err)
	}
	if quota.Max <= 0 {
		return false, nil
	}

	member := fmt.Sprintf("%d-%s", now.UnixNano(), uuid.NewString())
	res, err := admitScript.Run(ctx, l.client,
		[]string{quotaKeyPrefix + executorID},
		now.UnixMilli(), quota.Window.Milliseconds(), quota.Max, member,
	).Int()
	if err != nil {
		return false, fmt.Errorf("redis: rate limit check: %w", err)
	}
	return res == 1, nil
}
