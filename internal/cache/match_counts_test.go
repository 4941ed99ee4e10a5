package cache

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestCache(t *testing.T) (*MatchCounts, *miniredis.Miniredis) {
	t.Helper()
	server := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: server.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return &MatchCounts{Client: client, TTL: time.Minute}, server
}

func TestLookupMissOnEmptyCache(t *testing.T) {
	cache, _ := newTestCache(t)

	_, hit := cache.Lookup(context.Background(), "alice")
	assert.False(t, hit)
}

func TestStoreThenLookup(t *testing.T) {
	cache, server := newTestCache(t)
	ctx := context.Background()

	cache.Store(ctx, "alice", 2)
	count, hit := cache.Lookup(ctx, "alice")
	require.True(t, hit)
	assert.Equal(t, int64(2), count)

	ttl := server.TTL("matches:count:alice")
	assert.Equal(t, time.Minute, ttl)
}

func TestLookupRefreshesTTL(t *testing.T) {
	cache, server := newTestCache(t)
	ctx := context.Background()

	cache.Store(ctx, "alice", 1)
	server.FastForward(30 * time.Second)

	_, hit := cache.Lookup(ctx, "alice")
	require.True(t, hit)
	assert.Equal(t, time.Minute, server.TTL("matches:count:alice"))
}

func TestLookupIgnoresCorruptValue(t *testing.T) {
	cache, server := newTestCache(t)

	require.NoError(t, server.Set("matches:count:alice", "not-a-number"))
	_, hit := cache.Lookup(context.Background(), "alice")
	assert.False(t, hit)
}

func TestInvalidateRemovesKey(t *testing.T) {
	cache, server := newTestCache(t)
	ctx := context.Background()

	cache.Store(ctx, "alice", 2)
	require.NoError(t, cache.Invalidate(ctx, "alice"))
	assert.False(t, server.Exists("matches:count:alice"))
}

func TestNilCacheIsAlwaysMiss(t *testing.T) {
	var cache *MatchCounts
	ctx := context.Background()

	_, hit := cache.Lookup(ctx, "alice")
	assert.False(t, hit)

	// Store and Invalidate must be safe no-ops on the nil receiver.
	cache.Store(ctx, "alice", 1)
	assert.NoError(t, cache.Invalidate(ctx, "alice"))
}

func TestExpiredEntryIsMiss(t *testing.T) {
	cache, server := newTestCache(t)
	ctx := context.Background()

	cache.Store(ctx, "alice", 2)
	server.FastForward(2 * time.Minute)

	_, hit := cache.Lookup(ctx, "alice")
	assert.False(t, hit)
}
