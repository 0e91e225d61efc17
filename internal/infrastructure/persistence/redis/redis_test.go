package redis

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	goredis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/habitquest/progression-engine/internal/application/eventhandler"
	"github.com/habitquest/progression-engine/internal/domain/integrity"
	"github.com/habitquest/progression-engine/internal/infrastructure/telemetry"
)

// newTestCache connects to REDIS_ADDR and skips the test when it is unset.
func newTestCache(t *testing.T) *Cache {
	t.Helper()
	addr := os.Getenv("REDIS_ADDR")
	if addr == "" {
		t.Skip("REDIS_ADDR not set")
	}

	client := goredis.NewClient(&goredis.Options{Addr: addr})
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, client.Ping(ctx).Err())

	t.Cleanup(func() { _ = client.Close() })
	return NewCacheWithClient(client)
}

func TestKeys(t *testing.T) {
	assert.Equal(t, "integrity:report:user-1", ReportKey("user-1"))
	assert.Equal(t, "progression:request:req-9", IdempotencyKey("req-9"))
	assert.Equal(t, "progression:feed:user-1", FeedKey("user-1"))
	assert.Equal(t, "localhost:6379", DefaultConfig().Addr())
}

func TestCache_Validation(t *testing.T) {
	c := NewCacheWithClient(goredis.NewClient(&goredis.Options{Addr: "127.0.0.1:0"}))
	ctx := context.Background()

	assert.ErrorIs(t, c.Set(ctx, "", 1, time.Second), ErrCacheKeyEmpty)
	assert.ErrorIs(t, c.Set(ctx, "k", 1, -time.Second), ErrCacheInvalidTTL)
	assert.ErrorIs(t, c.Get(ctx, "", new(int)), ErrCacheKeyEmpty)
	_, err := c.SetNX(ctx, "", 1, time.Second)
	assert.ErrorIs(t, err, ErrCacheKeyEmpty)
	assert.NoError(t, c.PushCapped(ctx, "k", 10))
}

func TestReportCache_RoundTrip(t *testing.T) {
	cache := newTestCache(t)
	ctx := context.Background()
	rc := NewReportCache(cache, time.Minute)
	userID := "test-" + uuid.NewString()

	_, ok, err := rc.Get(ctx, userID)
	require.NoError(t, err)
	assert.False(t, ok)

	report := &integrity.Report{
		UserID:    userID,
		CheckedAt: time.Date(2026, 10, 15, 0, 0, 0, 0, time.UTC),
		IsValid:   true,
		Errors:    []integrity.Finding{},
		Warnings: []integrity.Finding{{
			Severity: integrity.SeverityWarning, Code: integrity.CodeLevelDrift,
			EntityKind: integrity.EntityCharacter, EntityID: "c1", Field: "level", Stored: "3", Expected: "2",
		}},
		Recommendations: []string{"x"},
	}
	require.NoError(t, rc.Set(ctx, report))

	got, ok, err := rc.Get(ctx, userID)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, report, got)

	require.NoError(t, rc.Invalidate(ctx, userID))
	_, ok, err = rc.Get(ctx, userID)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestIdempotencyGuard(t *testing.T) {
	cache := newTestCache(t)
	ctx := context.Background()
	g := NewIdempotencyGuard(cache, time.Minute)
	key := "test-" + uuid.NewString()

	ok, err := g.Claim(ctx, key)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = g.Claim(ctx, key)
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, g.Release(ctx, key))
	ok, err = g.Claim(ctx, key)
	require.NoError(t, err)
	assert.True(t, ok)
	require.NoError(t, g.Release(ctx, key))
}

func TestErrorSink_Capped(t *testing.T) {
	cache := newTestCache(t)
	ctx := context.Background()
	sink := &ErrorSink{cache: cache, key: "test-errors-" + uuid.NewString(), maxLen: 3}
	t.Cleanup(func() { _ = cache.Delete(context.Background(), sink.key) })

	for i := 0; i < 5; i++ {
		require.NoError(t, sink.WriteReports(ctx, []telemetry.ErrorReport{{Message: string(rune('a' + i))}}))
	}

	got, err := sink.Recent(ctx, 10)
	require.NoError(t, err)
	require.Len(t, got, 3)
	assert.Equal(t, "e", got[0].Message)
	assert.Equal(t, "c", got[2].Message)
}

func TestActivityFeed_Capped(t *testing.T) {
	cache := newTestCache(t)
	ctx := context.Background()
	feed := NewActivityFeed(cache, 2)
	userID := "test-" + uuid.NewString()
	t.Cleanup(func() { _ = cache.Delete(context.Background(), FeedKey(userID)) })

	for i, kind := range []string{"level_up", "achievement", "goal"} {
		require.NoError(t, feed.Append(ctx, eventhandler.FeedEntry{
			UserID:     userID,
			Kind:       kind,
			EntityID:   "char-1",
			OccurredAt: time.Unix(int64(i), 0).UTC(),
		}))
	}

	got, err := feed.Recent(ctx, userID, 10)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "goal", got[0].Kind)
	assert.Equal(t, "achievement", got[1].Kind)

	none, err := feed.Recent(ctx, userID, 0)
	require.NoError(t, err)
	assert.Empty(t, none)
}

func TestPubSub_RoundTrip(t *testing.T) {
	cache := newTestCache(t)
	ps := NewPubSub(cache)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	channel := "test-events-" + uuid.NewString()
	messages, unsubscribe, err := ps.Subscribe(ctx, channel)
	require.NoError(t, err)
	defer func() { _ = unsubscribe() }()

	require.NoError(t, ps.Publish(ctx, channel, `{"type":"x"}`))

	select {
	case msg := <-messages:
		assert.Equal(t, channel, msg.Channel)
		assert.Equal(t, `{"type":"x"}`, msg.Payload)
	case <-ctx.Done():
		t.Fatal("message not delivered")
	}
}
