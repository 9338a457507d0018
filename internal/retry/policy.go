// Package retry decides whether and when a failed sync operation is
// attempted again.
package retry

import (
	"math"
	"math/rand"
	"sync"
	"time"

	"github.com/driftq/driftq/internal/domain"
)

// Config holds the retry policy tuning knobs.
type Config struct {
	// MaxAttempts is the total number of attempts before an operation is
	// abandoned. Must be at least 1.
	MaxAttempts int

	// BaseDelay is the delay after the first failed attempt.
	BaseDelay time.Duration

	// MaxDelay caps the computed backoff.
	MaxDelay time.Duration

	// BackoffFactor is the exponential growth factor between attempts.
	BackoffFactor float64

	// Jitter enables a multiplicative jitter in [0.5, 1.5] to spread
	// retry storms across many queued operations.
	Jitter bool
}

// DefaultConfig returns a Config with reasonable defaults.
func DefaultConfig() Config {
	return Config{
		MaxAttempts:   5,
		BaseDelay:     500 * time.Millisecond,
		MaxDelay:      30 * time.Second,
		BackoffFactor: 2.0,
		Jitter:        true,
	}
}

// Policy computes backoff delays and give-up decisions. The zero value is
// not usable; construct with NewPolicy.
type Policy struct {
	cfg Config

	// mu guards rand, which is drawn from by concurrent scheduler workers.
	mu   sync.Mutex
	rand *rand.Rand
}

// NewPolicy creates a Policy, normalizing out-of-range config values.
func NewPolicy(cfg Config) *Policy {
	if cfg.MaxAttempts < 1 {
		cfg.MaxAttempts = 1
	}
	if cfg.BaseDelay <= 0 {
		cfg.BaseDelay = 500 * time.Millisecond
	}
	if cfg.MaxDelay < cfg.BaseDelay {
		cfg.MaxDelay = cfg.BaseDelay
	}
	if cfg.BackoffFactor < 1 {
		cfg.BackoffFactor = 2.0
	}
	return &Policy{
		cfg:  cfg,
		rand: rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

// SeedJitter makes jitter deterministic. Intended for tests.
func (p *Policy) SeedJitter(seed int64) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.rand = rand.New(rand.NewSource(seed))
}

// NextDelay returns the backoff before attempt+1, computed as
// min(maxDelay, baseDelay * factor^(attempt-1)), optionally jittered by a
// multiplier in [0.5, 1.5]. Attempt numbers start at 1.
func (p *Policy) NextDelay(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}

	backoff := float64(p.cfg.BaseDelay) * math.Pow(p.cfg.BackoffFactor, float64(attempt-1))
	if backoff > float64(p.cfg.MaxDelay) {
		backoff = float64(p.cfg.MaxDelay)
	}

	if p.cfg.Jitter {
		p.mu.Lock()
		mult := 0.5 + p.rand.Float64()
		p.mu.Unlock()
		backoff *= mult
	}
	return time.Duration(backoff)
}

// ShouldRetry reports whether a failed attempt should be retried. Only
// transient error classes are retried, and never beyond MaxAttempts.
func (p *Policy) ShouldRetry(err error, attempt int) bool {
	if attempt >= p.cfg.MaxAttempts {
		return false
	}
	return domain.IsTransient(err)
}

// MaxAttempts exposes the configured attempt budget.
func (p *Policy) MaxAttempts() int {
	return p.cfg.MaxAttempts
}
