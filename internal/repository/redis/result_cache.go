package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/Harsh-BH/codesandbox/internal/domain"
	"github.com/Harsh-BH/codesandbox/internal/repository"
)

var _ repository.ResultCache = (*resultCache)(nil)

const resultKeyPrefix = "sandbox:result:"

type resultCache struct {
	client *goredis.Client
	ttl    time.Duration
	now    func() time.Time
}

// NewRedisResultCache creates a Redis-backed result cache. Insertion uses
// SETNX so the first writer for a fingerprint wins; Redis expiry enforces the TTL.
func NewRedisResultCache(client *goredis.Client, ttl time.Duration) repository.ResultCache {
	return &resultCache{client: client, ttl: ttl, now: time.Now}
}

func (c *resultCache) Lookup(ctx context.Context, fingerprint string) (*domain.CacheEntry, error) {
	data, err := c.client.Get(ctx, resultKeyPrefix+fingerprint).Bytes()
	if errors.Is(err, goredis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("redis: lookup result: %w", err)
	}

	var entry domain.CacheEntry
	if err := json.Unmarshal(data, &entry); err != nil {
		return nil, fmt.Errorf("redis: decode result: %w", err)
	}
	if entry.IsStale(c.now(), c.ttl) {
		return nil, nil
	}
	return &entry, nil
}

func (c *resultCache) Insert(ctx context.Context, fingerprint string, entry *domain.CacheEntry) (bool, error) {
	cp := *entry
	cp.Fingerprint = fingerprint
	if cp.StoredAt.IsZero() {
		cp.StoredAt = c.now().UTC()
	}
	data, err := json.Marshal(&cp)
	if err != nil {
		return false, fmt.Errorf("redis: encode result: %w", err)
	}

	ok, err := c.client.SetNX(ctx, resultKeyPrefix+fingerprint, data, c.ttl).Result()
	if err != nil {
		return false, fmt.Errorf("redis: insert result: %w", err)
	}
	return ok, nil
}
