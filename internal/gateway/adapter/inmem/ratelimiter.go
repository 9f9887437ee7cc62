package inmem

import (
	"context"
	"sync"
	"time"

	"wsgateway/internal/gateway"
)

// Keys idle for longer than this are dropped by Cleanup.
const staleAfter = 10 * time.Minute

var _ gateway.RateLimiter = (*RateLimiter)(nil)

// RateLimiter is a per-key GCRA limiter, equivalent to a token bucket of
// size burst refilled at rate per second. The gateway runs two: one keyed by
// client IP for upgrades and one keyed by session ID for inbound frames.
type RateLimiter struct {
	interval  time.Duration // cost of one request
	tolerance time.Duration // how far ahead of now a key may run
	now       func() time.Time

	mu   sync.Mutex
	keys map[string]*cell
}

type cell struct {
	tat      time.Time // theoretical arrival time of the next request
	lastSeen time.Time
}

// NewRateLimiter creates a limiter allowing rate requests per second with
// bursts of up to burst. A nil clock uses time.Now.
func NewRateLimiter(rate float64, burst int, clock func() time.Time) *RateLimiter {
	if clock == nil {
		clock = time.Now
	}
	interval := time.Duration(float64(time.Second) / rate)
	return &RateLimiter{
		interval:  interval,
		tolerance: time.Duration(burst) * interval,
		now:       clock,
		keys:      make(map[string]*cell),
	}
}

// Allow spends one request from key's allowance. Denials carry the whole
// seconds until the next request would pass, never less than one.
func (rl *RateLimiter) Allow(key string) gateway.RateLimitResult {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := rl.now()
	c, ok := rl.keys[key]
	if !ok {
		c = &cell{tat: now}
		rl.keys[key] = c
	}
	c.lastSeen = now

	tat := c.tat
	if tat.Before(now) {
		tat = now
	}
	next := tat.Add(rl.interval)
	if over := next.Sub(now) - rl.tolerance; over > 0 {
		wait := int((over + time.Second - 1) / time.Second)
		return gateway.RateLimitResult{RetryAfter: max(wait, 1)}
	}
	c.tat = next
	return gateway.RateLimitResult{Allowed: true}
}

// Forget drops key's state, e.g. when a session ends.
func (rl *RateLimiter) Forget(key string) {
	rl.mu.Lock()
	delete(rl.keys, key)
	rl.mu.Unlock()
}

// Cleanup drops keys idle for longer than staleAfter and reports how many
// went.
func (rl *RateLimiter) Cleanup() int {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	cutoff := rl.now().Add(-staleAfter)
	n := 0
	for key, c := range rl.keys {
		if c.lastSeen.Before(cutoff) {
			delete(rl.keys, key)
			n++
		}
	}
	return n
}

// RunCleanup calls Cleanup every interval until ctx is done.
func (rl *RateLimiter) RunCleanup(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			rl.Cleanup()
		}
	}
}

// BucketCount returns the number of tracked keys.
func (rl *RateLimiter) BucketCount() int {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	return len(rl.keys)
}
