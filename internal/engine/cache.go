package engine

import (
	"crypto/md5"
	"encoding/json"
	"fmt"
	"sync"
	"time"
)

// resultCache is the TTL-bounded result store. Writes are whole-value with
// last-writer-wins; reads discard expired entries on access.
type resultCache struct {
	mu      sync.RWMutex
	entries map[string]cacheEntry
	ttl     time.Duration
	now     func() time.Time
}

type cacheEntry struct {
	dataset  *NormalizedDataset
	storedAt time.Time
}

func newResultCache(ttl time.Duration) *resultCache {
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	return &resultCache{
		entries: make(map[string]cacheEntry),
		ttl:     ttl,
		now:     time.Now,
	}
}

// CacheKey derives the deterministic key for an intent: a short hash over
// intent type, metric, dimension, and the sorted filter map.
func CacheKey(intent ResolvedIntent) string {
	filters := make(map[string]string)
	for _, f := range intent.sortedFilters() {
		filters[f.Column] = f.Value
	}
	// Map keys marshal sorted, so equivalent filter sets hash identically.
	filterJSON, _ := json.Marshal(filters)

	seed := fmt.Sprintf("%s_%s_%s_%s",
		intent.IntentType, intent.Metric, intent.Dimension, filterJSON)
	return fmt.Sprintf("%x", md5.Sum([]byte(seed)))[:12]
}

// get returns the cached dataset for key when present and fresh.
func (c *resultCache) get(key string) (*NormalizedDataset, bool) {
	c.mu.RLock()
	entry, ok := c.entries[key]
	c.mu.RUnlock()
	if !ok {
		return nil, false
	}
	if c.now().Sub(entry.storedAt) >= c.ttl {
		c.mu.Lock()
		delete(c.entries, key)
		c.mu.Unlock()
		return nil, false
	}
	return entry.dataset, true
}

// set stores a dataset. Only successful, non-cache-hit datasets belong here;
// the caller enforces that.
func (c *resultCache) set(key string, ds *NormalizedDataset) {
	c.mu.Lock()
	c.entries[key] = cacheEntry{dataset: ds, storedAt: c.now()}
	c.mu.Unlock()
}

func (c *resultCache) len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}
