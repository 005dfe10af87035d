package redis

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	goredis "github.com/redis/go-redis/v9"
)

// Client wraps a Redis connection for rate limiting and the resolved
// permission cache.
type Client struct {
	rdb *goredis.Client
}

// NewClient creates a Redis client from a URL and verifies the connection.
func NewClient(redisURL string) (*Client, error) {
	opts, err := goredis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("parsing redis URL: %w", err)
	}
	rdb := goredis.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := rdb.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("connecting to redis: %w", err)
	}
	return &Client{rdb: rdb}, nil
}

// Ping checks the Redis connection.
func (c *Client) Ping(ctx context.Context) error {
	return c.rdb.Ping(ctx).Err()
}

// Close closes the Redis connection.
func (c *Client) Close() error {
	return c.rdb.Close()
}

// rateLimitScript atomically increments a counter, sets its TTL on first
// use, and returns the count with the remaining TTL in milliseconds.
var rateLimitScript = goredis.NewScript(`
local count = redis.call("INCR", KEYS[1])
if count == 1 then
    redis.call("PEXPIRE", KEYS[1], ARGV[1])
end
local ttl = redis.call("PTTL", KEYS[1])
return {count, ttl}
`)

// CheckRateLimit reports whether the request is allowed under a fixed
// window of limit requests, along with the current count and the
// milliseconds until the window resets.
func (c *Client) CheckRateLimit(ctx context.Context, key string, limit int, window time.Duration) (bool, int64, int64, error) {
	res, err := rateLimitScript.Run(ctx, c.rdb, []string{key}, window.Milliseconds()).Int64Slice()
	if err != nil {
		return false, 0, 0, fmt.Errorf("checking rate limit: %w", err)
	}
	if len(res) != 2 {
		return false, 0, 0, fmt.Errorf("checking rate limit: unexpected reply %v", res)
	}
	count, ttlMs := res[0], res[1]
	if ttlMs < 0 {
		ttlMs = window.Milliseconds()
	}
	return count <= int64(limit), count, ttlMs, nil
}

const (
	permissionPrefix   = "perm:"
	permissionCacheTTL = 10 * time.Minute
)

// Permission cache scopes.
const (
	ScopeServer  = "server"
	ScopeChannel = "channel"
)

// PermissionKey identifies one resolved permission value. Epoch and
// Version name the snapshot it was computed from, so a changed mirror
// never reads results computed against an older one.
type PermissionKey struct {
	Epoch    string
	Version  uint64
	Scope    string
	TargetID string
	UserID   string
}

func (k PermissionKey) String() string {
	return permissionPrefix + k.Epoch + ":" + strconv.FormatUint(k.Version, 10) + ":" + k.Scope + ":" + k.TargetID + ":" + k.UserID
}

// GetCachedPermissions returns a cached permission value. ok is false on a
// cache miss.
func (c *Client) GetCachedPermissions(ctx context.Context, key PermissionKey) (uint64, bool, error) {
	val, err := c.rdb.Get(ctx, key.String()).Result()
	if errors.Is(err, goredis.Nil) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, fmt.Errorf("getting cached permissions: %w", err)
	}
	perms, err := strconv.ParseUint(val, 10, 64)
	if err != nil {
		return 0, false, fmt.Errorf("parsing cached permissions: %w", err)
	}
	return perms, true, nil
}

// CachePermissions stores a resolved permission value.
func (c *Client) CachePermissions(ctx context.Context, key PermissionKey, perms uint64) error {
	if err := c.rdb.Set(ctx, key.String(), strconv.FormatUint(perms, 10), permissionCacheTTL).Err(); err != nil {
		return fmt.Errorf("caching permissions: %w", err)
	}
	return nil
}
