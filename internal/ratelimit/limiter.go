// Package ratelimit bounds outbound remote calls with a token bucket.
package ratelimit

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/driftq/driftq/internal/domain"
)

// Limiter is a token bucket with capacity C and continuous refill at R
// tokens per second. Tokens accumulate fractionally, so burst-then-idle
// traffic is not penalized beyond the bucket capacity. The bucket is a
// single mutex-guarded counter plus a monotonic clock read; there is no
// background refill goroutine.
type Limiter struct {
	mu       sync.Mutex
	capacity float64
	refill   float64 // tokens per second
	tokens   float64
	last     time.Time

	// now is the clock source, replaceable in tests.
	now func() time.Time
}

// NewLimiter creates a full bucket. Capacity and refill must be positive.
func NewLimiter(capacity, refillPerSecond float64) (*Limiter, error) {
	if capacity <= 0 {
		return nil, fmt.Errorf("%w: rate limit capacity must be positive, got %v",
			domain.ErrValidation, capacity)
	}
	if refillPerSecond <= 0 {
		return nil, fmt.Errorf("%w: rate limit refill must be positive, got %v",
			domain.ErrValidation, refillPerSecond)
	}

	l := &Limiter{
		capacity: capacity,
		refill:   refillPerSecond,
		tokens:   capacity,
		now:      time.Now,
	}
	l.last = l.now()
	return l, nil
}

// SetClock replaces the limiter's time source. Intended for tests.
func (l *Limiter) SetClock(now func() time.Time) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.now = now
	l.last = now()
}

// Acquire blocks until a token is available or the context's deadline
// elapses. Deadline expiry is reported as domain.ErrRateLimitTimeout so
// the retry policy classifies it transient; plain cancellation returns
// context.Canceled untouched so a shutdown-interrupted acquire is not
// charged as a failed attempt. Contending callers are arbitrated by the
// bucket alone.
func (l *Limiter) Acquire(ctx context.Context) error {
	for {
		wait, ok := l.take()
		if ok {
			return nil
		}

		// Check that the wait fits inside the caller's deadline before
		// sleeping; failing early keeps worker slots from idling on a
		// timeout that is already certain.
		if deadline, hasDeadline := ctx.Deadline(); hasDeadline {
			if l.now().Add(wait).After(deadline) {
				return fmt.Errorf("%w: next token in %v exceeds deadline", domain.ErrRateLimitTimeout, wait)
			}
		}

		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			if errors.Is(ctx.Err(), context.Canceled) {
				return ctx.Err()
			}
			return fmt.Errorf("%w: %v", domain.ErrRateLimitTimeout, ctx.Err())
		case <-timer.C:
		}
	}
}

// TryAcquire takes a token without blocking, reporting success.
func (l *Limiter) TryAcquire() bool {
	_, ok := l.take()
	return ok
}

// Tokens returns the current token balance after refill accounting.
func (l *Limiter) Tokens() float64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.advance()
	return l.tokens
}

// take consumes a token if one is available. When the bucket is empty it
// returns the duration until the next whole token accrues.
func (l *Limiter) take() (time.Duration, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.advance()
	if l.tokens >= 1 {
		l.tokens--
		return 0, true
	}

	deficit := 1 - l.tokens
	wait := time.Duration(deficit / l.refill * float64(time.Second))
	if wait <= 0 {
		wait = time.Millisecond
	}
	return wait, false
}

// advance credits tokens for the time elapsed since the last refill.
// Callers must hold the mutex.
func (l *Limiter) advance() {
	now := l.now()
	elapsed := now.Sub(l.last).Seconds()
	if elapsed <= 0 {
		return
	}
	l.last = now
	l.tokens += elapsed * l.refill
	if l.tokens > l.capacity {
		l.tokens = l.capacity
	}
}
