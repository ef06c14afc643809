package redis

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/angelmondragon/visamarket-backend/pkg/config"
	"github.com/angelmondragon/visamarket-backend/pkg/logger"
)

const (
	keyNamespace      = "vm"
	lockPrefix        = "lock"
	quoteCachePrefix  = "quote_cache"
	rateLimitPrefix   = "rate_limit"
	idempotencyPrefix = "idempotency"
)

// Nil is returned by Get when the key does not exist.
var Nil = redis.Nil

// windowScript counts a hit and starts the window on the first one. It returns the
// count and the milliseconds left in the window.
var windowScript = redis.NewScript(`
local n = redis.call('INCR', KEYS[1])
if n == 1 then
  redis.call('PEXPIRE', KEYS[1], ARGV[1])
end
return {n, redis.call('PTTL', KEYS[1])}
`)

// releaseScript deletes KEYS[1] only while it still holds ARGV[1].
var releaseScript = redis.NewScript(`
if redis.call('GET', KEYS[1]) == ARGV[1] then
  return redis.call('DEL', KEYS[1])
end
return 0
`)

// Client is the marketplace's view of Redis: the response replay store, the
// submission rate limiter, the cron lease and the provider quote cache.
type Client struct {
	rdb *redis.Client
}

// Pinger exposes the health-check surface.
type Pinger interface {
	Ping(context.Context) error
}

// IdempotencyStore keeps responses for replay under a client-chosen key.
type IdempotencyStore interface {
	Get(context.Context, string) (string, error)
	SetNX(context.Context, string, any, time.Duration) (bool, error)
	IdempotencyKey(scope, key string) string
}

// Window is the state of one fixed rate-limit window after a hit.
type Window struct {
	Allowed bool
	Count   int64
	ResetIn time.Duration
}

// RateLimiter counts requests per scope in fixed windows.
type RateLimiter interface {
	FixedWindowAllow(ctx context.Context, scope string, limit int64, window time.Duration) (Window, error)
}

// Cache is the read-through surface used by provider clients.
type Cache interface {
	Get(context.Context, string) (string, error)
	Set(context.Context, string, any, time.Duration) error
	QuoteCacheKey(parts ...string) string
}

// New connects using cfg and fails fast when the server does not answer a PING.
func New(ctx context.Context, cfg config.RedisConfig, logg *logger.Logger) (*Client, error) {
	opts, err := optionsFromConfig(cfg)
	if err != nil {
		return nil, err
	}
	rdb := redis.NewClient(opts)
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("ping redis: %w", err)
	}
	if logg != nil {
		logg.Debug(logg.WithField(ctx, "redis_addr", opts.Addr), "redis connection established")
	}
	return &Client{rdb: rdb}, nil
}

// Wrap adapts an existing go-redis client, e.g. one pointed at miniredis.
func Wrap(rdb *redis.Client) *Client {
	return &Client{rdb: rdb}
}

// optionsFromConfig prefers the URL; pool and timeout settings fill whatever the
// URL leaves unset.
func optionsFromConfig(cfg config.RedisConfig) (*redis.Options, error) {
	var opts *redis.Options
	switch {
	case cfg.URL != "":
		parsed, err := redis.ParseURL(cfg.URL)
		if err != nil {
			return nil, fmt.Errorf("parsing redis url: %w", err)
		}
		opts = parsed
		if opts.DB == 0 {
			opts.DB = cfg.DB
		}
	case cfg.Address != "":
		opts = &redis.Options{Addr: cfg.Address, Password: cfg.Password, DB: cfg.DB}
	default:
		return nil, errors.New("redis url or address is required")
	}

	setIfZero(&opts.PoolSize, cfg.PoolSize)
	setIfZero(&opts.MinIdleConns, cfg.MinIdleConns)
	setIfZero(&opts.DialTimeout, cfg.DialTimeout)
	setIfZero(&opts.ReadTimeout, cfg.ReadTimeout)
	setIfZero(&opts.WriteTimeout, cfg.WriteTimeout)
	return opts, nil
}

func setIfZero[T comparable](dst *T, v T) {
	var zero T
	if *dst == zero {
		*dst = v
	}
}

func (c *Client) Set(ctx context.Context, key string, value any, ttl time.Duration) error {
	return c.rdb.Set(ctx, key, value, ttl).Err()
}

// Get returns Nil when key is absent.
func (c *Client) Get(ctx context.Context, key string) (string, error) {
	return c.rdb.Get(ctx, key).Result()
}

func (c *Client) SetNX(ctx context.Context, key string, value any, ttl time.Duration) (bool, error) {
	return c.rdb.SetNX(ctx, key, value, ttl).Result()
}

func (c *Client) Del(ctx context.Context, keys ...string) error {
	return c.rdb.Del(ctx, keys...).Err()
}

// ReleaseIfOwner deletes key when its value is still owner. It reports whether the
// key was removed.
func (c *Client) ReleaseIfOwner(ctx context.Context, key, owner string) (bool, error) {
	n, err := releaseScript.Run(ctx, c.rdb, []string{key}, owner).Int64()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

// FixedWindowAllow counts one hit against scope. The window starts with the first
// hit and the count and expiry are updated atomically.
func (c *Client) FixedWindowAllow(ctx context.Context, scope string, limit int64, window time.Duration) (Window, error) {
	if window <= 0 {
		return Window{}, fmt.Errorf("window must be positive")
	}
	res, err := windowScript.Run(ctx, c.rdb, []string{c.RateLimitKey(scope)}, window.Milliseconds()).Int64Slice()
	if err != nil {
		return Window{}, err
	}
	if len(res) != 2 {
		return Window{}, fmt.Errorf("unexpected rate limit reply %v", res)
	}
	resetIn := time.Duration(res[1]) * time.Millisecond
	if resetIn < 0 {
		resetIn = window
	}
	return Window{Allowed: res[0] <= limit, Count: res[0], ResetIn: resetIn}, nil
}

func (c *Client) LockKey(name string) string {
	return buildKey(lockPrefix, name)
}

func (c *Client) QuoteCacheKey(parts ...string) string {
	return buildKey(append([]string{quoteCachePrefix}, parts...)...)
}

func (c *Client) RateLimitKey(scope string) string {
	return buildKey(rateLimitPrefix, scope)
}

func (c *Client) IdempotencyKey(scope, key string) string {
	return buildKey(idempotencyPrefix, scope, key)
}

func (c *Client) Ping(ctx context.Context) error {
	return c.rdb.Ping(ctx).Err()
}

func (c *Client) Close() error {
	if c == nil || c.rdb == nil {
		return nil
	}
	return c.rdb.Close()
}

// buildKey joins the non-blank parts under the service namespace.
func buildKey(parts ...string) string {
	key := keyNamespace
	for _, part := range parts {
		if part = strings.TrimSpace(part); part != "" {
			key += ":" + part
		}
	}
	return key
}
