package redis

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	goredis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Harsh-BH/codesandbox/internal/domain"
	"github.com/Harsh-BH/codesandbox/internal/ratelimit"
)

func newTestClient(t *testing.T) (*miniredis.Miniredis, *goredis.Client) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := goredis.NewClient(&goredis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return mr, client
}

func TestResultCache_InsertIfAbsent(t *testing.T) {
	_, client := newTestClient(t)
	cache := NewRedisResultCache(client, time.Hour)
	ctx := context.Background()

	miss, err := cache.Lookup(ctx, "fp")
	require.NoError(t, err)
	assert.Nil(t, miss)

	ok, err := cache.Insert(ctx, "fp", &domain.CacheEntry{Output: "2\n", DurationMs: 30})
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = cache.Insert(ctx, "fp", &domain.CacheEntry{Output: "other"})
	require.NoError(t, err)
	assert.False(t, ok)

	hit, err := cache.Lookup(ctx, "fp")
	require.NoError(t, err)
	require.NotNil(t, hit)
	assert.Equal(t, "2\n", hit.Output)
	assert.Equal(t, int64(30), hit.DurationMs)
	assert.Equal(t, "fp", hit.Fingerprint)
}

func TestResultCache_ExpiresAfterTTL(t *testing.T) {
	mr, client := newTestClient(t)
	cache := NewRedisResultCache(client, time.Minute)
	ctx := context.Background()

	_, err := cache.Insert(ctx, "fp", &domain.CacheEntry{Output: "x"})
	require.NoError(t, err)

	mr.FastForward(time.Minute + time.Second)

	hit, err := cache.Lookup(ctx, "fp")
	require.NoError(t, err)
	assert.Nil(t, hit)
}

func TestResultCache_ConcurrentInsertsOneWinner(t *testing.T) {
	_, client := newTestClient(t)
	cache := NewRedisResultCache(client, time.Hour)
	ctx := context.Background()

	var wins atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if ok, err := cache.Insert(ctx, "same", &domain.CacheEntry{Output: "v"}); err == nil && ok {
				wins.Add(1)
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, int32(1), wins.Load())
}

func TestResultCache_UnavailableReturnsError(t *testing.T) {
	mr, client := newTestClient(t)
	cache := NewRedisResultCache(client, time.Hour)
	mr.Close()

	_, err := cache.Lookup(context.Background(), "fp")
	assert.Error(t, err)
}

func TestRateLimiter_SlidingWindow(t *testing.T) {
	_, client := newTestClient(t)
	limiter := NewRedisRateLimiter(client, &ratelimit.StaticQuota{
		Default: domain.Quota{Max: 10, Window: time.Minute},
	})
	ctx := context.Background()
	start := time.Now()

	for i := 0; i < 10; i++ {
		ok, err := limiter.TryAdmit(ctx, "alice", start.Add(time.Duration(i)*time.Second))
		require.NoError(t, err)
		require.True(t, ok)
	}

	ok, err := limiter.TryAdmit(ctx, "alice", start.Add(10*time.Second))
	require.NoError(t, err)
	assert.False(t, ok)

	ok, err = limiter.TryAdmit(ctx, "bob", start.Add(10*time.Second))
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = limiter.TryAdmit(ctx, "alice", start.Add(time.Minute))
	require.NoError(t, err)
	assert.True(t, ok)
}
