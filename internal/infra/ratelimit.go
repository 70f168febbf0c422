// Package infra provides the shared infrastructure of the ingestion
// pipeline: the outbound rate limiter and the single-flight TTL/LRU cache.
// Both are safe for concurrent use without caller-side locking; they are
// the only shared mutable state in the system.
package infra

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"
)

// ErrRateLimitTimeout is returned when a caller's deadline elapses before
// the limiter can hand out the requested tokens. Retryable with backoff.
var ErrRateLimitTimeout = errors.New("rate limit acquisition timed out")

// RateLimiter is a token-bucket limiter bounding outbound requests to the
// market-data feed. The bucket holds at most maxTokens and mints one token
// per refill interval; acquisition blocks cooperatively until enough
// tokens accumulate or the caller's context expires.
type RateLimiter struct {
	mu         sync.Mutex
	tokens     int
	maxTokens  int
	refillRate time.Duration
	lastRefill time.Time
}

// NewRateLimiter creates a limiter with the given bucket capacity that
// mints one token per refillRate. A feed quota of "2 requests per second"
// is NewRateLimiter(2, 500*time.Millisecond).
func NewRateLimiter(maxTokens int, refillRate time.Duration) *RateLimiter {
	return &RateLimiter{
		tokens:     maxTokens,
		maxTokens:  maxTokens,
		refillRate: refillRate,
		lastRefill: time.Now(),
	}
}

// Acquire blocks until cost tokens are available and spends them, or until
// ctx is done. A deadline expiry surfaces ErrRateLimitTimeout; a plain
// cancellation surfaces the context error. Tokens are decremented under a
// single mutex, so concurrent acquirers can never double-spend.
func (rl *RateLimiter) Acquire(ctx context.Context, cost int) error {
	if cost <= 0 {
		cost = 1
	}
	if cost > rl.maxTokens {
		return fmt.Errorf("cost %d exceeds bucket capacity %d", cost, rl.maxTokens)
	}

	for {
		rl.mu.Lock()
		rl.refill()
		if rl.tokens >= cost {
			rl.tokens -= cost
			rl.mu.Unlock()
			return nil
		}
		// Sleep exactly until enough tokens will have been minted.
		missing := cost - rl.tokens
		wakeAt := rl.lastRefill.Add(time.Duration(missing) * rl.refillRate)
		rl.mu.Unlock()

		timer := time.NewTimer(time.Until(wakeAt))
		select {
		case <-ctx.Done():
			timer.Stop()
			if errors.Is(ctx.Err(), context.DeadlineExceeded) {
				return fmt.Errorf("%w after %v", ErrRateLimitTimeout, rl.refillRate)
			}
			return ctx.Err()
		case <-timer.C:
			// Re-check under the lock; another acquirer may have won.
		}
	}
}

// TryAcquire spends cost tokens if immediately available.
func (rl *RateLimiter) TryAcquire(cost int) bool {
	if cost <= 0 {
		cost = 1
	}
	rl.mu.Lock()
	defer rl.mu.Unlock()
	rl.refill()
	if rl.tokens >= cost {
		rl.tokens -= cost
		return true
	}
	return false
}

// refill mints tokens for the elapsed time. Must be called with mu held.
func (rl *RateLimiter) refill() {
	now := time.Now()
	elapsed := now.Sub(rl.lastRefill)
	if elapsed < rl.refillRate {
		return
	}
	periods := int(elapsed / rl.refillRate)
	rl.tokens += periods
	if rl.tokens > rl.maxTokens {
		rl.tokens = rl.maxTokens
	}
	rl.lastRefill = rl.lastRefill.Add(time.Duration(periods) * rl.refillRate)
}
