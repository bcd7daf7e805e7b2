package idempotency

import (
	"context"
	"sync"
	"time"

	"provote/internal/votes/models"
)

// MemoryCache is the single-instance cache tier. Used in tests and when Redis
// is not configured.
type MemoryCache struct {
	mu      sync.RWMutex
	entries map[string]memoryEntry
}

type memoryEntry struct {
	vote      models.Vote
	expiresAt time.Time
}

func NewMemoryCache() *MemoryCache {
	return &MemoryCache{entries: make(map[string]memoryEntry)}
}

func (c *MemoryCache) Get(ctx context.Context, key string) (*models.Vote, bool, error) {
	c.mu.RLock()
	entry, ok := c.entries[key]
	c.mu.RUnlock()
	if !ok {
		return nil, false, nil
	}
	if time.Now().After(entry.expiresAt) {
		c.mu.Lock()
		delete(c.entries, key)
		c.mu.Unlock()
		return nil, false, nil
	}
	vote := entry.vote
	return &vote, true, nil
}

func (c *MemoryCache) Set(ctx context.Context, key string, vote *models.Vote, ttl time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[key] = memoryEntry{vote: *vote, expiresAt: time.Now().Add(ttl)}
	return nil
}

// Evict drops an entry. Tests use it to simulate cache eviction between
// retries.
func (c *MemoryCache) Evict(key string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.entries, key)
}
