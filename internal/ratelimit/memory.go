package ratelimit

import (
	"context"
	"sync"
	"time"
)

// window is the counting state for one (prefix, key) pair.
type window struct {
	start      time.Time
	count      int
	lastAccess time.Time
}

// MemoryLimiter implements Limiter with an in-process fixed window per key.
//
// Exactly Limit requests succeed within a window; the next is denied until
// the window rolls over. A background goroutine evicts stale entries every
// minute to bound memory. Call Close to stop it.
type MemoryLimiter struct {
	mu      sync.Mutex
	windows map[string]*window

	stopOnce sync.Once
	done     chan struct{}
}

// NewMemoryLimiter creates an in-process limiter.
func NewMemoryLimiter() *MemoryLimiter {
	m := &MemoryLimiter{
		windows: make(map[string]*window),
		done:    make(chan struct{}),
	}
	go m.cleanup()
	return m
}

// Allow consumes one slot in the current window for (rule, key).
func (m *MemoryLimiter) Allow(_ context.Context, rule Rule, key string) Result {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := time.Now()
	full := rule.Prefix + ":" + key

	w, ok := m.windows[full]
	if !ok || now.Sub(w.start) >= rule.Window {
		w = &window{start: now}
		m.windows[full] = w
	}
	w.lastAccess = now

	resetAt := w.start.Add(rule.Window)
	if w.count >= rule.Limit {
		return Result{
			Allowed:    false,
			Limit:      rule.Limit,
			Remaining:  0,
			RetryAfter: time.Until(resetAt),
			ResetAt:    resetAt,
		}
	}

	w.count++
	return Result{
		Allowed:   true,
		Limit:     rule.Limit,
		Remaining: rule.Limit - w.count,
		ResetAt:   resetAt,
	}
}

// Close stops the cleanup goroutine. Safe to call multiple times.
func (m *MemoryLimiter) Close() error {
	m.stopOnce.Do(func() { close(m.done) })
	return nil
}

const staleThreshold = 10 * time.Minute

func (m *MemoryLimiter) cleanup() {
	ticker := time.NewTicker(1 * time.Minute)
	defer ticker.Stop()

	for {
		select {
		case <-m.done:
			return
		case <-ticker.C:
			m.evictStale()
		}
	}
}

func (m *MemoryLimiter) evictStale() {
	m.mu.Lock()
	defer m.mu.Unlock()

	cutoff := time.Now().Add(-staleThreshold)
	for key, w := range m.windows {
		if w.lastAccess.Before(cutoff) {
			delete(m.windows, key)
		}
	}
}
