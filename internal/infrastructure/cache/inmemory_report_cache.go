package cache

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	appledger "github.com/erp/stockledger/internal/application/ledger"
)

// InMemoryReportCache is a process-local report cache for single-instance
// deployments and tests. Entries expire lazily on read.
type InMemoryReportCache struct {
	mu      sync.RWMutex
	entries map[string]inMemoryEntry
	ttl     time.Duration
	nowFunc func() time.Time
}

type inMemoryEntry struct {
	raw       []byte
	expiresAt time.Time
}

// NewInMemoryReportCache creates an in-memory report cache with the given TTL
func NewInMemoryReportCache(ttl time.Duration) *InMemoryReportCache {
	if ttl <= 0 {
		ttl = 30 * time.Second
	}
	return &InMemoryReportCache{
		entries: make(map[string]inMemoryEntry),
		ttl:     ttl,
		nowFunc: time.Now,
	}
}

// Get unmarshals the cached value into v, reporting whether it was present
func (c *InMemoryReportCache) Get(_ context.Context, key string, v any) (bool, error) {
	c.mu.RLock()
	entry, ok := c.entries[key]
	c.mu.RUnlock()
	if !ok {
		return false, nil
	}
	if c.nowFunc().After(entry.expiresAt) {
		c.mu.Lock()
		delete(c.entries, key)
		c.mu.Unlock()
		return false, nil
	}
	if err := json.Unmarshal(entry.raw, v); err != nil {
		return false, err
	}
	return true, nil
}

// Set stores v under key with the cache's TTL
func (c *InMemoryReportCache) Set(_ context.Context, key string, v any) error {
	raw, err := json.Marshal(v)
	if err != nil {
		return err
	}
	c.mu.Lock()
	c.entries[key] = inMemoryEntry{raw: raw, expiresAt: c.nowFunc().Add(c.ttl)}
	c.mu.Unlock()
	return nil
}

// Invalidate drops the given keys
func (c *InMemoryReportCache) Invalidate(_ context.Context, keys ...string) error {
	c.mu.Lock()
	for _, key := range keys {
		delete(c.entries, key)
	}
	c.mu.Unlock()
	return nil
}

// Ensure InMemoryReportCache implements ReportCache
var _ appledger.ReportCache = (*InMemoryReportCache)(nil)
