package redis

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/habitquest/progression-engine/internal/application/eventhandler"
)

// DefaultFeedSize caps each user's activity feed.
const DefaultFeedSize = 50

// ActivityFeed implements eventhandler.FeedWriter as one capped Redis list
// per user, newest first.
type ActivityFeed struct {
	cache  *Cache
	maxLen int64
}

// NewActivityFeed creates a feed keeping maxLen entries per user.
func NewActivityFeed(cache *Cache, maxLen int64) *ActivityFeed {
	if maxLen <= 0 {
		maxLen = DefaultFeedSize
	}
	return &ActivityFeed{cache: cache, maxLen: maxLen}
}

// Append implements eventhandler.FeedWriter.
func (f *ActivityFeed) Append(ctx context.Context, entry eventhandler.FeedEntry) error {
	return f.cache.PushCapped(ctx, FeedKey(entry.UserID), f.maxLen, entry)
}

// Recent returns up to n of the user's newest entries.
func (f *ActivityFeed) Recent(ctx context.Context, userID string, n int64) ([]eventhandler.FeedEntry, error) {
	if n <= 0 {
		return nil, nil
	}
	raw, err := f.cache.Range(ctx, FeedKey(userID), 0, n-1)
	if err != nil {
		return nil, err
	}

	out := make([]eventhandler.FeedEntry, 0, len(raw))
	for _, item := range raw {
		var e eventhandler.FeedEntry
		if err := json.Unmarshal([]byte(item), &e); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrCacheSerialization, err)
		}
		out = append(out, e)
	}
	return out, nil
}
