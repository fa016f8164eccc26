package ratelimit

import (
	"context"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"
)

const defaultPrefix = "switchboard:rl:"

// RedisLimiter shares fixed windows across server instances.
// When Redis is unreachable it defers to Fallback, or allows the call.
type RedisLimiter struct {
	Client   *redis.Client
	Limit    int
	Window   time.Duration
	Prefix   string
	Fallback Limiter
}

// NewRedis creates a RedisLimiter with an in-memory fallback.
func NewRedis(client *redis.Client, limit int, window time.Duration) *RedisLimiter {
	if limit <= 0 {
		limit = 1
	}
	if window <= 0 {
		window = time.Minute
	}
	return &RedisLimiter{
		Client:   client,
		Limit:    limit,
		Window:   window,
		Prefix:   defaultPrefix,
		Fallback: NewMemory(limit, window),
	}
}

// Allow increments the window counter for key.
func (l *RedisLimiter) Allow(ctx context.Context, key string) Decision {
	if l.Client == nil {
		return l.fallback(ctx, key)
	}
	k := l.Prefix + key

	count, err := l.Client.Incr(ctx, k).Result()
	if err != nil {
		slog.Warn("rate limit increment failed", "key", key, "error", err)
		return l.fallback(ctx, key)
	}
	if count == 1 {
		if err := l.Client.Expire(ctx, k, l.Window).Err(); err != nil {
			slog.Warn("rate limit expire failed", "key", key, "error", err)
		}
	}

	ttl, err := l.Client.PTTL(ctx, k).Result()
	if err != nil || ttl <= 0 {
		// Key lost its expiry; start a fresh window so it cannot live forever.
		if err == nil {
			_ = l.Client.Expire(ctx, k, l.Window).Err()
		}
		ttl = l.Window
	}

	return decide(int(count), l.Limit, time.Now().UTC().Add(ttl))
}

func (l *RedisLimiter) fallback(ctx context.Context, key string) Decision {
	if l.Fallback != nil {
		return l.Fallback.Allow(ctx, key)
	}
	return Decision{Allowed: true, Limit: l.Limit, Remaining: l.Limit}
}
