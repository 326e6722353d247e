package metrics

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/joescharf/opsassist/internal/models"
)

// fakeClock is a manually advanced clock.
type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (f *fakeClock) Now() time.Time {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.now
}

func (f *fakeClock) Advance(d time.Duration) {
	f.mu.Lock()
	f.now = f.now.Add(d)
	f.mu.Unlock()
}

func newSnapshot(at time.Time) *models.MetricsSnapshot {
	return &models.MetricsSnapshot{
		Payload:    map[string]models.Metric{"cpu_usage_percent": {Name: "cpu_usage_percent", Value: 12}},
		CapturedAt: at,
	}
}

func TestCache_EmptyGet(t *testing.T) {
	c := NewCache()
	s, ok := c.Get()
	assert.False(t, ok)
	assert.Nil(t, s)
}

func TestCache_PutThenGet(t *testing.T) {
	clk := &fakeClock{now: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)}
	c := NewCacheWithClock(clk.Now)

	s := newSnapshot(clk.Now())
	c.Put(s)

	got, ok := c.Get()
	require.True(t, ok)
	assert.Same(t, s, got)
}

func TestCache_Expiry(t *testing.T) {
	clk := &fakeClock{now: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)}
	c := NewCacheWithClock(clk.Now)
	c.Put(newSnapshot(clk.Now()))

	clk.Advance(299 * time.Second)
	_, ok := c.Get()
	assert.True(t, ok, "still fresh just under the TTL")

	clk.Advance(1 * time.Second)
	_, ok = c.Get()
	assert.False(t, ok, "expired exactly at the TTL")

	clk.Advance(time.Hour)
	_, ok = c.Get()
	assert.False(t, ok)
}

func TestCache_ExpiryMeasuredFromCapture(t *testing.T) {
	clk := &fakeClock{now: time.Date(2026, 1, 1, 0, 10, 0, 0, time.UTC)}
	c := NewCacheWithClock(clk.Now)

	// Captured 6 minutes before it was put: already stale.
	c.Put(newSnapshot(clk.Now().Add(-6 * time.Minute)))
	_, ok := c.Get()
	assert.False(t, ok)
}

func TestCache_PutReplaces(t *testing.T) {
	clk := &fakeClock{now: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)}
	c := NewCacheWithClock(clk.Now)

	first := newSnapshot(clk.Now())
	c.Put(first)
	clk.Advance(400 * time.Second)

	second := newSnapshot(clk.Now())
	c.Put(second)

	got, ok := c.Get()
	require.True(t, ok)
	assert.Same(t, second, got)
	assert.Equal(t, 12.0, first.Payload["cpu_usage_percent"].Value, "old snapshot untouched")
}

func TestCache_ConcurrentAccess(t *testing.T) {
	c := NewCache()
	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			c.Put(newSnapshot(time.Now()))
		}()
		go func() {
			defer wg.Done()
			if s, ok := c.Get(); ok {
				_ = s.Payload["cpu_usage_percent"]
			}
		}()
	}
	wg.Wait()

	_, ok := c.Get()
	assert.True(t, ok)
}
