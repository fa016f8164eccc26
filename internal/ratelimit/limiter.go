// Package ratelimit caps HTTP calls per caller with fixed one-minute windows,
// kept in process memory or shared through Redis.
package ratelimit

import (
	"context"
	"sync"
	"time"
)

// Decision is the outcome of one Allow call.
type Decision struct {
	Allowed   bool
	Count     int
	Limit     int
	Remaining int
	ResetAt   time.Time
}

// Limiter counts hits for a key inside the current window.
type Limiter interface {
	Allow(ctx context.Context, key string) Decision
}

func decide(count, limit int, resetAt time.Time) Decision {
	remaining := max(limit-count, 0)
	return Decision{
		Allowed:   count <= limit,
		Count:     count,
		Limit:     limit,
		Remaining: remaining,
		ResetAt:   resetAt,
	}
}

// MemoryLimiter is a single-process fixed window limiter.
type MemoryLimiter struct {
	mu     sync.Mutex
	limit  int
	window time.Duration
	items  map[string]entry
	now    func() time.Time
}

type entry struct {
	count   int
	resetAt time.Time
}

// NewMemory creates a MemoryLimiter allowing limit hits per window.
func NewMemory(limit int, window time.Duration) *MemoryLimiter {
	if limit <= 0 {
		limit = 1
	}
	if window <= 0 {
		window = time.Minute
	}
	return &MemoryLimiter{
		limit:  limit,
		window: window,
		items:  make(map[string]entry),
		now:    time.Now,
	}
}

// Allow records a hit for key.
func (l *MemoryLimiter) Allow(_ context.Context, key string) Decision {
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

	return decide(curr.count, l.limit, curr.resetAt)
}

func (l *MemoryLimiter) cleanup(now time.Time) {
	for k, e := range l.items {
		if !now.Before(e.resetAt) {
			delete(l.items, k)
		}
	}
}
