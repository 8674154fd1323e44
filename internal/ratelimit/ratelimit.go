// Package ratelimit provides request throttling independent of the policy
// guard.
//
// The primary implementation is Redis-backed (sliding window) so limits
// hold across restarts; it degrades to an in-process fixed-window limiter
// when Redis is unreachable rather than failing requests or crashing.
package ratelimit

import (
	"context"
	"fmt"
	"time"
)

// Rule names one limiter scope: at most Limit requests per Window,
// counted separately per key under the given prefix.
type Rule struct {
	Prefix string
	Limit  int
	Window time.Duration
}

// Result is the structured throttling decision.
type Result struct {
	Allowed    bool          `json:"allowed"`
	Limit      int           `json:"limit"`
	Remaining  int           `json:"remaining_points"`
	RetryAfter time.Duration `json:"ms_before_next"`
	ResetAt    time.Time     `json:"reset_at"`
}

// FormatHeaders renders the standard rate-limit response headers.
func (r Result) FormatHeaders() map[string]string {
	return map[string]string{
		"X-RateLimit-Limit":     fmt.Sprintf("%d", r.Limit),
		"X-RateLimit-Remaining": fmt.Sprintf("%d", r.Remaining),
		"X-RateLimit-Reset":     fmt.Sprintf("%d", r.ResetAt.Unix()),
	}
}

// Limiter decides whether a request identified by (rule, key) should proceed.
// Implementations must be safe for concurrent use and must never return an
// error to callers: a limiter malfunction degrades, it does not block traffic.
type Limiter interface {
	Allow(ctx context.Context, rule Rule, key string) Result

	// Close releases resources (cleanup goroutines, connections).
	Close() error
}

// NoopLimiter permits every request. Used when rate limiting is disabled.
type NoopLimiter struct{}

// Allow always permits.
func (NoopLimiter) Allow(_ context.Context, rule Rule, _ string) Result {
	return Result{Allowed: true, Limit: rule.Limit, Remaining: rule.Limit}
}

// Close is a no-op.
func (NoopLimiter) Close() error { return nil }
