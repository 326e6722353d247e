package metrics

import (
	"context"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/joescharf/opsassist/internal/models"
)

// CachedSource serves snapshots from the cache and refreshes it through the
// collector. Concurrent refreshes collapse into a single scrape.
type CachedSource struct {
	collector Collector
	cache     *Cache
	group     singleflight.Group
	logger    *zap.Logger
}

// NewCachedSource wires a collector to a cache.
func NewCachedSource(collector Collector, cache *Cache, logger *zap.Logger) *CachedSource {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &CachedSource{collector: collector, cache: cache, logger: logger}
}

// Snapshot returns a snapshot and whether it came from the cache. With fresh
// set the cache is bypassed for reading but still refreshed.
func (s *CachedSource) Snapshot(ctx context.Context, fresh bool) (*models.MetricsSnapshot, bool, error) {
	if !fresh {
		if snap, ok := s.cache.Get(); ok {
			return snap, true, nil
		}
	}

	v, err, shared := s.group.Do("collect", func() (any, error) {
		snap, err := s.collector.Collect(ctx)
		if err != nil {
			return nil, err
		}
		s.cache.Put(snap)
		return snap, nil
	})
	if err != nil {
		s.logger.Warn("metrics refresh failed", zap.Error(err))
		return nil, false, err
	}
	if shared {
		s.logger.Debug("metrics refresh shared with concurrent caller")
	}
	return v.(*models.MetricsSnapshot), false, nil
}

// Cache exposes the underlying cache.
func (s *CachedSource) Cache() *Cache { return s.cache }
