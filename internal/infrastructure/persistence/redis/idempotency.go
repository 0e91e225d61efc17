package redis

import (
	"context"
	"time"
)

// IdempotencyGuard implements store.IdempotencyGuard with SETNX claims.
type IdempotencyGuard struct {
	cache *Cache
	ttl   time.Duration
}

// NewIdempotencyGuard creates a guard. A non-positive ttl uses TTLIdempotency.
func NewIdempotencyGuard(cache *Cache, ttl time.Duration) *IdempotencyGuard {
	if ttl <= 0 {
		ttl = TTLIdempotency
	}
	return &IdempotencyGuard{cache: cache, ttl: ttl}
}

// Claim reserves requestID and reports whether this caller owns it.
func (g *IdempotencyGuard) Claim(ctx context.Context, requestID string) (bool, error) {
	return g.cache.SetNX(ctx, IdempotencyKey(requestID), time.Now().UTC(), g.ttl)
}

// Release drops the claim on requestID.
func (g *IdempotencyGuard) Release(ctx context.Context, requestID string) error {
	return g.cache.Delete(ctx, IdempotencyKey(requestID))
}
