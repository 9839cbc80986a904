package memory

import (
	"context"
	"sync"
	"time"

	"github.com/ilse31/anime-scrapper/internal/crawler"
)

// FreshnessCache records refresh timestamps in memory.
type FreshnessCache struct {
	mu    sync.RWMutex
	clock crawler.Clock
	last  map[string]time.Time
}

// NewFreshnessCache constructs a cache that reads time from clock.
func NewFreshnessCache(clock crawler.Clock) *FreshnessCache {
	return &FreshnessCache{
		clock: clock,
		last:  make(map[string]time.Time),
	}
}

// IsFresh reports whether key was refreshed less than maxAge ago.
func (c *FreshnessCache) IsFresh(_ context.Context, key string, maxAge time.Duration) (bool, error) {
	c.mu.RLock()
	last, ok := c.last[key]
	c.mu.RUnlock()
	if !ok {
		return false, nil
	}
	return c.clock.Now().Sub(last) < maxAge, nil
}

// MarkRefreshed stamps key with the current time. Timestamps never move
// backwards.
func (c *FreshnessCache) MarkRefreshed(_ context.Context, key string) error {
	now := c.clock.Now()
	c.mu.Lock()
	defer c.mu.Unlock()
	if prev, ok := c.last[key]; ok && prev.After(now) {
		return nil
	}
	c.last[key] = now
	return nil
}

// LastRefreshed returns the stored timestamp for key.
func (c *FreshnessCache) LastRefreshed(_ context.Context, key string) (time.Time, bool, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	last, ok := c.last[key]
	return last, ok, nil
}

// Invalidate forgets key.
func (c *FreshnessCache) Invalidate(_ context.Context, key string) (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.last[key]
	delete(c.last, key)
	return ok, nil
}

// InvalidateAll forgets every key and returns how many were removed.
func (c *FreshnessCache) InvalidateAll(context.Context) (int64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := int64(len(c.last))
	c.last = make(map[string]time.Time)
	return n, nil
}
