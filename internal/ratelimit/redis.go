package ratelimit

import (
	"context"
	"log/slog"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisLimiter implements Limiter with a Redis sliding window (sorted set
// per key). When Redis is unreachable the decision falls back to a local
// in-process limiter, so losing the shared store degrades accuracy without
// dropping or crashing traffic.
type RedisLimiter struct {
	client   *redis.Client
	fallback *MemoryLimiter
	logger   *slog.Logger
}

// NewRedisLimiter creates a Redis-backed limiter with a local fallback.
func NewRedisLimiter(client *redis.Client, logger *slog.Logger) *RedisLimiter {
	return &RedisLimiter{
		client:   client,
		fallback: NewMemoryLimiter(),
		logger:   logger,
	}
}

// Allow records the request in the key's sliding window and admits it if
// the window holds at most rule.Limit entries.
func (r *RedisLimiter) Allow(ctx context.Context, rule Rule, key string) Result {
	now := time.Now()
	full := "rl:" + rule.Prefix + ":" + key
	member := strconv.FormatInt(now.UnixNano(), 10)
	windowStart := now.Add(-rule.Window).UnixMicro()

	pipe := r.client.TxPipeline()
	pipe.ZRemRangeByScore(ctx, full, "0", strconv.FormatInt(windowStart, 10))
	pipe.ZAdd(ctx, full, redis.Z{Score: float64(now.UnixMicro()), Member: member})
	cardCmd := pipe.ZCard(ctx, full)
	pipe.Expire(ctx, full, rule.Window)
	if _, err := pipe.Exec(ctx); err != nil {
		r.logger.Warn("ratelimit: redis unavailable, using local fallback", "error", err)
		return r.fallback.Allow(ctx, rule, key)
	}

	count := int(cardCmd.Val())
	if count > rule.Limit {
		// Over the limit: this request doesn't count against the window.
		if err := r.client.ZRem(ctx, full, member).Err(); err != nil {
			r.logger.Warn("ratelimit: failed to remove rejected member", "error", err)
		}
		return Result{
			Allowed:    false,
			Limit:      rule.Limit,
			Remaining:  0,
			RetryAfter: r.retryAfter(ctx, full, rule, now),
			ResetAt:    now.Add(rule.Window),
		}
	}

	return Result{
		Allowed:   true,
		Limit:     rule.Limit,
		Remaining: rule.Limit - count,
		ResetAt:   now.Add(rule.Window),
	}
}

// retryAfter computes when the oldest entry leaves the window.
func (r *RedisLimiter) retryAfter(ctx context.Context, key string, rule Rule, now time.Time) time.Duration {
	oldest, err := r.client.ZRangeWithScores(ctx, key, 0, 0).Result()
	if err != nil || len(oldest) == 0 {
		return rule.Window
	}
	oldestAt := time.UnixMicro(int64(oldest[0].Score))
	wait := oldestAt.Add(rule.Window).Sub(now)
	if wait < 0 {
		wait = 0
	}
	return wait
}

// Close stops the fallback limiter. The Redis client is owned by the caller.
func (r *RedisLimiter) Close() error {
	return r.fallback.Close()
}
