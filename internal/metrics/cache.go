// Package metrics collects node metrics and keeps the most recent snapshot in
// a TTL-bounded cache shared across pipelines.
package metrics

import (
	"sync"
	"time"

	"github.com/joescharf/opsassist/internal/models"
)

// DefaultTTL is how long a captured snapshot stays servable.
const DefaultTTL = 300 * time.Second

// Cache is a single-slot snapshot cache. Snapshots are immutable, so Get hands
// out the stored pointer; Put swaps the slot atomically.
type Cache struct {
	mu   sync.RWMutex
	snap *models.MetricsSnapshot
	ttl  time.Duration
	now  func() time.Time
}

// NewCache creates a cache with the fixed 300s TTL.
func NewCache() *Cache {
	return &Cache{ttl: DefaultTTL, now: time.Now}
}

// NewCacheWithClock is NewCache with an injectable clock.
func NewCacheWithClock(now func() time.Time) *Cache {
	c := NewCache()
	c.now = now
	return c
}

// Get returns the cached snapshot while now - CapturedAt < TTL.
func (c *Cache) Get() (*models.MetricsSnapshot, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.snap == nil {
		return nil, false
	}
	if c.now().Sub(c.snap.CapturedAt) >= c.ttl {
		return nil, false
	}
	return c.snap, true
}

// Put replaces the slot. A nil snapshot clears it.
func (c *Cache) Put(s *models.MetricsSnapshot) {
	c.mu.Lock()
	c.snap = s
	c.mu.Unlock()
}

// TTL returns the configured time-to-live.
func (c *Cache) TTL() time.Duration { return c.ttl }
