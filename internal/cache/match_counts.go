package cache

import (
	"context"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

const defaultTTL = time.Hour

// MatchCounts caches per-user match counts in Redis. The cache is an
// optimization only: a nil *MatchCounts (or unreachable Redis) makes
// every lookup a miss and callers fall back to the database.
type MatchCounts struct {
	Client *redis.Client
	TTL    time.Duration
}

// NewMatchCounts initializes the Redis-backed counter cache.
// Only addr is mandatory; password and db are optional.
func NewMatchCounts(addr, password string, db int) *MatchCounts {
	opts := &redis.Options{Addr: addr}
	if password != "" {
		opts.Password = password
	}
	if db != 0 {
		opts.DB = db
	}
	return &MatchCounts{Client: redis.NewClient(opts), TTL: defaultTTL}
}

// Ping verifies connectivity.
func (c *MatchCounts) Ping(ctx context.Context) error {
	return c.Client.Ping(ctx).Err()
}

// Lookup returns the cached count for userID. The second return value
// reports a hit; any error or absence is a miss. TTL is refreshed on
// hit since the user is active.
func (c *MatchCounts) Lookup(ctx context.Context, userID string) (int64, bool) {
	if c == nil || c.Client == nil {
		return 0, false
	}
	value, err := c.Client.Get(ctx, keyForMatchCount(userID)).Result()
	if err != nil {
		return 0, false
	}
	count, err := strconv.ParseInt(value, 10, 64)
	if err != nil {
		return 0, false
	}
	_ = c.Client.Expire(ctx, keyForMatchCount(userID), c.ttl()).Err()
	return count, true
}

// Store writes the count with a TTL. Best effort: failures are dropped.
func (c *MatchCounts) Store(ctx context.Context, userID string, count int64) {
	if c == nil || c.Client == nil {
		return
	}
	_ = c.Client.Set(ctx, keyForMatchCount(userID), strconv.FormatInt(count, 10), c.ttl()).Err()
}

// Invalidate removes the cached count after a match is created or dissolved.
func (c *MatchCounts) Invalidate(ctx context.Context, userID string) error {
	if c == nil || c.Client == nil {
		return nil
	}
	return c.Client.Del(ctx, keyForMatchCount(userID)).Err()
}

func (c *MatchCounts) ttl() time.Duration {
	if c.TTL > 0 {
		return c.TTL
	}
	return defaultTTL
}

func keyForMatchCount(userID string) string {
	return "matches:count:" + userID
}
