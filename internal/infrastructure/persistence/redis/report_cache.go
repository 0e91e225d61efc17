package redis

import (
	"context"
	"errors"
	"time"

	"github.com/habitquest/progression-engine/internal/domain/integrity"
)

// ReportCache implements store.ReportCache on top of Cache.
type ReportCache struct {
	cache *Cache
	ttl   time.Duration
}

// NewReportCache creates a report cache. A non-positive ttl uses TTLReport.
func NewReportCache(cache *Cache, ttl time.Duration) *ReportCache {
	if ttl <= 0 {
		ttl = TTLReport
	}
	return &ReportCache{cache: cache, ttl: ttl}
}

// Get returns the cached report for userID.
func (r *ReportCache) Get(ctx context.Context, userID string) (*integrity.Report, bool, error) {
	var report integrity.Report
	if err := r.cache.Get(ctx, ReportKey(userID), &report); err != nil {
		if errors.Is(err, ErrCacheMiss) {
			return nil, false, nil
		}
		return nil, false, err
	}
	return &report, true, nil
}

// Set caches report under its user id.
func (r *ReportCache) Set(ctx context.Context, report *integrity.Report) error {
	return r.cache.Set(ctx, ReportKey(report.UserID), report, r.ttl)
}

// Invalidate drops the cached report for userID.
func (r *ReportCache) Invalidate(ctx context.Context, userID string) error {
	return r.cache.Delete(ctx, ReportKey(userID))
}
