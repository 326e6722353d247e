package metrics

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/joescharf/opsassist/internal/models"
)

type countingCollector struct {
	calls   atomic.Int32
	now     func() time.Time
	err     error
	gate    chan struct{}
	started chan struct{}
	once    sync.Once
}

func (c *countingCollector) Collect(ctx context.Context) (*models.MetricsSnapshot, error) {
	c.calls.Add(1)
	if c.started != nil {
		c.once.Do(func() { close(c.started) })
	}
	if c.gate != nil {
		select {
		case <-c.gate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if c.err != nil {
		return nil, c.err
	}
	return newSnapshot(c.now()), nil
}

func TestCachedSource_HitAndMiss(t *testing.T) {
	clk := &fakeClock{now: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)}
	coll := &countingCollector{now: clk.Now}
	src := NewCachedSource(coll, NewCacheWithClock(clk.Now), nil)
	ctx := context.Background()

	s1, cached, err := src.Snapshot(ctx, false)
	require.NoError(t, err)
	assert.False(t, cached)

	s2, cached, err := src.Snapshot(ctx, false)
	require.NoError(t, err)
	assert.True(t, cached)
	assert.Same(t, s1, s2)
	assert.Equal(t, int32(1), coll.calls.Load())

	clk.Advance(DefaultTTL)
	_, cached, err = src.Snapshot(ctx, false)
	require.NoError(t, err)
	assert.False(t, cached, "expired snapshot triggers a refresh")
	assert.Equal(t, int32(2), coll.calls.Load())
}

func TestCachedSource_FreshBypassesCache(t *testing.T) {
	clk := &fakeClock{now: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)}
	coll := &countingCollector{now: clk.Now}
	cache := NewCacheWithClock(clk.Now)
	src := NewCachedSource(coll, cache, nil)

	_, _, err := src.Snapshot(context.Background(), false)
	require.NoError(t, err)

	clk.Advance(time.Second)
	s, cached, err := src.Snapshot(context.Background(), true)
	require.NoError(t, err)
	assert.False(t, cached)
	assert.Equal(t, int32(2), coll.calls.Load())

	got, ok := cache.Get()
	require.True(t, ok)
	assert.Same(t, s, got, "fresh collection still refreshes the cache")
}

func TestCachedSource_ErrorLeavesCacheEmpty(t *testing.T) {
	coll := &countingCollector{now: time.Now, err: models.ErrCollectionFailed}
	cache := NewCache()
	src := NewCachedSource(coll, cache, nil)

	_, _, err := src.Snapshot(context.Background(), false)
	require.Error(t, err)
	assert.True(t, errors.Is(err, models.ErrCollectionFailed))

	_, ok := cache.Get()
	assert.False(t, ok)
}

func TestCachedSource_ConcurrentRefreshCollapses(t *testing.T) {
	coll := &countingCollector{
		now:     time.Now,
		gate:    make(chan struct{}),
		started: make(chan struct{}),
	}
	src := NewCachedSource(coll, NewCache(), nil)

	const callers = 8
	var wg sync.WaitGroup
	results := make([]*models.MetricsSnapshot, callers)
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			s, _, err := src.Snapshot(context.Background(), true)
			assert.NoError(t, err)
			results[i] = s
		}(i)
	}

	<-coll.started
	time.Sleep(50 * time.Millisecond)
	close(coll.gate)
	wg.Wait()

	assert.Equal(t, int32(1), coll.calls.Load())
	for _, s := range results {
		assert.Same(t, results[0], s)
	}
}
