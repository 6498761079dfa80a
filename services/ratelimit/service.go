package ratelimit

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/sitecrew/construction-api/config"
	"go.uber.org/zap"
)

// Decision is the result of counting one attempt against a key
type Decision struct {
	Allowed   bool
	Count     int
	Limit     int
	Remaining int
	ResetAt   time.Time
}

// RetryAfter returns how long until the window resets, rounded up to a second
func (d Decision) RetryAfter(now time.Time) time.Duration {
	wait := d.ResetAt.Sub(now)
	if wait <= 0 {
		return time.Second
	}
	return wait.Truncate(time.Second) + time.Second
}

// Limiter counts attempts per key in fixed windows
type Limiter interface {
	Allow(ctx context.Context, key string, limit int) Decision
	Reset(ctx context.Context, key string)
}

// InMemoryLimiter is a fixed-window counter local to the process
type InMemoryLimiter struct {
	mu     sync.Mutex
	window time.Duration
	items  map[string]entry
	now    func() time.Time
}

type entry struct {
	count   int
	resetAt time.Time
}

// NewInMemory creates a limiter counting attempts per window
func NewInMemory(window time.Duration) *InMemoryLimiter {
	if window <= 0 {
		window = time.Minute
	}
	return &InMemoryLimiter{
		window: window,
		items:  make(map[string]entry),
		now:    time.Now,
	}
}

// Allow counts one attempt for key
func (l *InMemoryLimiter) Allow(_ context.Context, key string, limit int) Decision {
	if limit <= 0 {
		limit = 1
	}
	now := l.now().UTC()

	l.mu.Lock()
	defer l.mu.Unlock()
	l.cleanup(now)

	curr, ok := l.items[key]
	if !ok || !now.Before(curr.resetAt) {
		curr = entry{resetAt: now.Add(l.window)}
	}
	curr.count++
	l.items[key] = curr
	return decide(curr.count, limit, curr.resetAt)
}

// Reset forgets every attempt counted for key
func (l *InMemoryLimiter) Reset(_ context.Context, key string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.items, key)
}

func (l *InMemoryLimiter) cleanup(now time.Time) {
	for k, v := range l.items {
		if !now.Before(v.resetAt) {
			delete(l.items, k)
		}
	}
}

// INCR then set the expiry on the first hit so the window is fixed from the first attempt
var rateLimitScript = redis.NewScript(`
local current = redis.call("INCR", KEYS[1])
if current == 1 then
  redis.call("PEXPIRE", KEYS[1], ARGV[1])
end
local ttl = redis.call("PTTL", KEYS[1])
return {current, ttl}
`)

// RedisLimiter shares counters across instances through Redis.
// Any Redis error falls back to the in-memory limiter.
type RedisLimiter struct {
	client   redis.UniversalClient
	window   time.Duration
	prefix   string
	timeout  time.Duration
	fallback *InMemoryLimiter
	logger   *zap.Logger
}

// NewRedis creates a Redis-backed limiter
func NewRedis(client redis.UniversalClient, window time.Duration, logger *zap.Logger) *RedisLimiter {
	if window <= 0 {
		window = time.Minute
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &RedisLimiter{
		client:   client,
		window:   window,
		prefix:   "login:",
		timeout:  2 * time.Second,
		fallback: NewInMemory(window),
		logger:   logger,
	}
}

// Allow counts one attempt for key
func (l *RedisLimiter) Allow(ctx context.Context, key string, limit int) Decision {
	if limit <= 0 {
		limit = 1
	}
	if l.client == nil {
		return l.fallback.Allow(ctx, key, limit)
	}

	ctx, cancel := context.WithTimeout(ctx, l.timeout)
	defer cancel()

	res, err := rateLimitScript.Run(ctx, l.client, []string{l.prefix + key}, l.window.Milliseconds()).Result()
	if err != nil {
		l.logger.Warn("redis rate limit failed, using in-memory counter", zap.Error(err))
		return l.fallback.Allow(ctx, key, limit)
	}
	vals, ok := res.([]interface{})
	if !ok || len(vals) < 2 {
		l.logger.Warn("unexpected redis rate limit reply", zap.Any("reply", res))
		return l.fallback.Allow(ctx, key, limit)
	}

	count, _ := vals[0].(int64)
	ttlMs, _ := vals[1].(int64)
	if ttlMs < 0 {
		ttlMs = l.window.Milliseconds()
	}
	return decide(int(count), limit, time.Now().UTC().Add(time.Duration(ttlMs)*time.Millisecond))
}

// Reset deletes the counter for key in Redis and in the fallback
func (l *RedisLimiter) Reset(ctx context.Context, key string) {
	l.fallback.Reset(ctx, key)
	if l.client == nil {
		return
	}
	ctx, cancel := context.WithTimeout(ctx, l.timeout)
	defer cancel()
	if err := l.client.Del(ctx, l.prefix+key).Err(); err != nil {
		l.logger.Warn("failed to reset redis rate limit", zap.Error(err))
	}
}

func decide(count, limit int, resetAt time.Time) Decision {
	remaining := limit - count
	if remaining < 0 {
		remaining = 0
	}
	return Decision{
		Allowed:   count <= limit,
		Count:     count,
		Limit:     limit,
		Remaining: remaining,
		ResetAt:   resetAt,
	}
}

// LoginThrottle limits login attempts per email and client address
type LoginThrottle struct {
	limiter Limiter
	limit   int
}

// NewLoginThrottle creates a throttle allowing limit attempts per window of limiter
func NewLoginThrottle(limiter Limiter, limit int) *LoginThrottle {
	if limit <= 0 {
		limit = 5
	}
	return &LoginThrottle{limiter: limiter, limit: limit}
}

// Attempt counts one login attempt
func (t *LoginThrottle) Attempt(ctx context.Context, email, ip string) Decision {
	return t.limiter.Allow(ctx, loginKey(email, ip), t.limit)
}

// Succeeded clears the counter after a successful login
func (t *LoginThrottle) Succeeded(ctx context.Context, email, ip string) {
	t.limiter.Reset(ctx, loginKey(email, ip))
}

func loginKey(email, ip string) string {
	return strings.ToLower(strings.TrimSpace(email)) + "|" + ip
}

// NewFromConfig builds the login throttle. When Redis is enabled the returned client must be closed by the caller.
func NewFromConfig(cfg *config.Config, logger *zap.Logger) (*LoginThrottle, redis.UniversalClient, error) {
	window := cfg.Auth.LoginWindow
	if !cfg.Redis.Enabled {
		logger.Info("login throttle using in-memory counters")
		return NewLoginThrottle(NewInMemory(window), cfg.Auth.LoginMaxAttempts), nil, nil
	}

	opts, err := redis.ParseURL(cfg.Redis.URL)
	if err != nil {
		return nil, nil, fmt.Errorf("invalid REDIS_URL: %w", err)
	}
	client := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		// counters fall back to memory until Redis answers
		logger.Warn("redis not reachable at startup", zap.Error(err))
	} else {
		logger.Info("login throttle using redis", zap.String("addr", opts.Addr))
	}
	return NewLoginThrottle(NewRedis(client, window, logger), cfg.Auth.LoginMaxAttempts), client, nil
}
