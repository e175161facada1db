// Package ratelimit implements a keyed token bucket limiter with time-based
// refill and a bounded bucket map.
package ratelimit

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// MaxBuckets is the upper bound on tracked keys before the pruner runs.
const MaxBuckets = 1000

// RateLimitExceededError carries the key and configured rate for a denied call.
type RateLimitExceededError struct {
	Key           string
	RatePerMinute float64
}

func (e *RateLimitExceededError) Error() string {
	return fmt.Sprintf("rate limit exceeded for %q: %.2f/min", e.Key, e.RatePerMinute)
}

type bucket struct {
	limiter    *rate.Limiter
	lastAccess time.Time
}

// Limiter is a per-key token bucket, backed per key by golang.org/x/time/rate.
// Configuration is a single rate-per-minute; bucket capacity equals the rate,
// matching the spec's capacity = rate_per_minute rule.
type Limiter struct {
	ratePerMinute float64

	mu      sync.Mutex
	buckets map[string]*bucket

	now func() time.Time
}

// New creates a Limiter with the given requests-per-minute rate. Capacity
// equals ratePerMinute, so a key can briefly burst up to a minute's worth of
// allowance before being throttled back to the steady rate.
func New(ratePerMinute float64) *Limiter {
	return &Limiter{
		ratePerMinute: ratePerMinute,
		buckets:       make(map[string]*bucket),
		now:           time.Now,
	}
}

// Check consumes one token for key if available, refilling continuously at
// ratePerMinute/60 tokens per second (x/time/rate.Limiter models the refill
// internally; we only need to track last access for pruning). Returns
// RateLimitExceededError when the bucket is empty.
func (l *Limiter) Check(key string) error {
	l.mu.Lock()
	b, ok := l.buckets[key]
	if !ok {
		b = &bucket{limiter: rate.NewLimiter(rate.Limit(l.ratePerMinute/60), int(l.ratePerMinute))}
		l.buckets[key] = b
	}
	b.lastAccess = l.now()
	allowed := b.limiter.Allow()
	l.mu.Unlock()

	if !allowed {
		return &RateLimitExceededError{Key: key, RatePerMinute: l.ratePerMinute}
	}
	return nil
}

// Len returns the number of tracked keys (for diagnostics and tests).
func (l *Limiter) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.buckets)
}

// Prune clears the bucket map once it exceeds MaxBuckets entries. Safe to
// call repeatedly; buckets refill on next use so clearing loses no
// correctness, only a burst allowance already earned.
func (l *Limiter) Prune() {
	l.mu.Lock()
	defer l.mu.Unlock()
	if len(l.buckets) > MaxBuckets {
		cleared := len(l.buckets)
		l.buckets = make(map[string]*bucket)
		slog.Debug("rate limiter pruned", "cleared_keys", cleared)
	}
}

// RunPruner starts a cancellable background loop that calls Prune on each
// tick. Returns immediately; the loop exits when ctx is cancelled.
func (l *Limiter) RunPruner(ctx context.Context, interval time.Duration) {
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				l.Prune()
			}
		}
	}()
}
