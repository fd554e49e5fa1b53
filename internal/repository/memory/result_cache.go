package memory

import (
	"context"
	"sync"
	"time"

	"github.com/Harsh-BH/codesandbox/internal/domain"
	"github.com/Harsh-BH/codesandbox/internal/repository"
)

var _ repository.ResultCache = (*ResultCache)(nil)

// ResultCache is a TTL-bounded map of fingerprint to entry.
// A stale entry counts as absent for both Lookup and Insert.
type ResultCache struct {
	mu      sync.Mutex
	ttl     time.Duration
	now     func() time.Time
	entries map[string]*domain.CacheEntry
}

// NewResultCache creates an in-memory cache. now may be nil to use time.Now.
func NewResultCache(ttl time.Duration, now func() time.Time) *ResultCache {
	if now == nil {
		now = time.Now
	}
	return &ResultCache{
		ttl:     ttl,
		now:     now,
		entries: make(map[string]*domain.CacheEntry),
	}
}

func (c *ResultCache) Lookup(ctx context.Context, fingerprint string) (*domain.CacheEntry, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	entry, ok := c.entries[fingerprint]
	if !ok {
		return nil, nil
	}
	if entry.IsStale(c.now(), c.ttl) {
		delete(c.entries, fingerprint)
		return nil, nil
	}
	cp := *entry
	return &cp, nil
}

func (c *ResultCache) Insert(ctx context.Context, fingerprint string, entry *domain.CacheEntry) (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	now := c.now()
	if existing, ok := c.entries[fingerprint]; ok && !existing.IsStale(now, c.ttl) {
		return false, nil
	}
	cp := *entry
	cp.Fingerprint = fingerprint
	if cp.StoredAt.IsZero() {
		cp.StoredAt = now
	}
	c.entries[fingerprint] = &cp
	return true, nil
}

// Len returns the number of stored entries, stale or not.
func (c *ResultCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}
