package redis

import (
	"context"
	"fmt"

	"github.com/planloop/schedule-hub/internal/application/query"
)

// ══════════════════════════════════════════════════════════════════════════════
// REPORT CACHE
// Closed-week reports are immutable once their snapshot exists, which
// makes them the one read model worth caching. Live views are cached
// briefly and invalidated on every instance write.
// ══════════════════════════════════════════════════════════════════════════════

// ReportCache caches weekly report and instance view payloads.
type ReportCache struct {
	cache *Cache
}

// NewReportCache creates a new ReportCache.
func NewReportCache(cache *Cache) *ReportCache {
	return &ReportCache{cache: cache}
}

// GetReport returns a cached weekly report, or false on a miss.
func (c *ReportCache) GetReport(ctx context.Context, instanceID string, weekNumber int) (*query.GetWeeklyReportResult, bool) {
	var result query.GetWeeklyReportResult
	err := c.cache.Get(ctx, ReportKey(instanceID, weekNumber), &result)
	if err != nil {
		return nil, false
	}
	return &result, true
}

// SetReport caches a weekly report. Only closed weeks should be cached
// with the long TTL; the caller decides via closed.
func (c *ReportCache) SetReport(ctx context.Context, instanceID string, weekNumber int, result *query.GetWeeklyReportResult, closed bool) error {
	ttl := TTLInstanceCache
	if closed {
		ttl = TTLReportCache
	}
	return c.cache.Set(ctx, ReportKey(instanceID, weekNumber), result, ttl)
}

// GetInstanceView returns a cached instance view, or false on a miss.
func (c *ReportCache) GetInstanceView(ctx context.Context, instanceID string) (*query.GetInstanceProgressResult, bool) {
	var result query.GetInstanceProgressResult
	err := c.cache.Get(ctx, InstanceKey(instanceID), &result)
	if err != nil {
		return nil, false
	}
	return &result, true
}

// SetInstanceView caches an instance view.
func (c *ReportCache) SetInstanceView(ctx context.Context, instanceID string, result *query.GetInstanceProgressResult) error {
	return c.cache.Set(ctx, InstanceKey(instanceID), result, TTLInstanceCache)
}

// InvalidateInstance drops all cached payloads of one instance. Called
// on every instance write: transitions, pauses and the weekly rollover.
func (c *ReportCache) InvalidateInstance(ctx context.Context, instanceID string) error {
	if instanceID == "" {
		return ErrCacheKeyEmpty
	}
	err := c.cache.Delete(ctx, InstanceKey(instanceID))
	if err != nil {
		return fmt.Errorf("failed to invalidate instance view: %w", err)
	}
	if err := c.cache.DeleteByPattern(ctx, PrefixReport+instanceID+":*"); err != nil {
		return fmt.Errorf("failed to invalidate reports: %w", err)
	}
	return nil
}
