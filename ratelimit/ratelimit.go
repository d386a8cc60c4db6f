// Package ratelimit implements a token-bucket rate limiter used to gate
// pipeline execution attempts.
package ratelimit

import (
	"context"
	"errors"
	"sync"
	"time"
)

// Config configures a Limiter. TokensPerSecond and BurstCapacity are
// required; TokensPerOperation defaults to 1 when zero.
type Config struct {
	// TokensPerSecond is the steady-state refill rate.
	TokensPerSecond float64
	// BurstCapacity bounds how many tokens can accumulate while idle.
	BurstCapacity float64
	// TokensPerOperation is the cost charged per execution attempt.
	// Defaults to 1 when zero.
	TokensPerOperation float64
	// OnThrottle, if set, is invoked (once per wait episode, off the
	// calling goroutine) whenever Acquire must block for tokens.
	OnThrottle func(ctx context.Context)
}

func (c Config) Validate() error {
	if c.TokensPerSecond <= 0 {
		return errors.New("tokens per second must be positive")
	}
	if c.BurstCapacity <= 0 {
		return errors.New("burst capacity must be positive")
	}
	if c.TokensPerOperation < 0 {
		return errors.New("tokens per operation must not be negative")
	}
	if c.BurstCapacity < c.costPerOp() {
		return errors.New("burst capacity must be at least the cost per operation")
	}
	return nil
}

func (c Config) costPerOp() float64 {
	if c.TokensPerOperation == 0 {
		return 1
	}
	return c.TokensPerOperation
}

// Limiter is a mutex-guarded token bucket. The zero value is not usable;
// construct one with New.
type Limiter struct {
	mu         sync.Mutex
	rate       float64
	capacity   float64
	costPerOp  float64
	tokens     float64
	lastRefill time.Time
	onThrottle func(ctx context.Context)

	// now is overridable in tests; defaults to time.Now.
	now func() time.Time
}

// New constructs a Limiter from cfg, starting with a full bucket.
func New(cfg Config) (*Limiter, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &Limiter{
		rate:       cfg.TokensPerSecond,
		capacity:   cfg.BurstCapacity,
		costPerOp:  cfg.costPerOp(),
		tokens:     cfg.BurstCapacity,
		lastRefill: time.Now(),
		onThrottle: cfg.OnThrottle,
		now:        time.Now,
	}, nil
}

func (l *Limiter) refillLocked(now time.Time) {
	elapsed := now.Sub(l.lastRefill).Seconds()
	if elapsed <= 0 {
		return
	}
	l.tokens += elapsed * l.rate
	if l.tokens > l.capacity {
		l.tokens = l.capacity
	}
	l.lastRefill = now
}

// TryAcquire attempts to spend one operation's worth of tokens without
// blocking, reporting whether it succeeded.
func (l *Limiter) TryAcquire() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.refillLocked(l.now())
	if l.tokens >= l.costPerOp {
		l.tokens -= l.costPerOp
		return true
	}
	return false
}

// GetAvailable returns the current token count, after applying any refill
// owed since the last access.
func (l *Limiter) GetAvailable() float64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.refillLocked(l.now())
	return l.tokens
}

// Acquire blocks until one operation's worth of tokens is available, ctx is
// cancelled, or an error is returned from ctx.Err(). OnThrottle fires once
// per contiguous wait episode, not once per poll.
func (l *Limiter) Acquire(ctx context.Context) error {
	throttled := false
	for {
		l.mu.Lock()
		now := l.now()
		l.refillLocked(now)
		if l.tokens >= l.costPerOp {
			l.tokens -= l.costPerOp
			l.mu.Unlock()
			return nil
		}
		deficit := l.costPerOp - l.tokens
		wait := time.Duration(deficit / l.rate * float64(time.Second))
		l.mu.Unlock()

		if !throttled {
			throttled = true
			if l.onThrottle != nil {
				go func() {
					defer func() { _ = recover() }()
					l.onThrottle(ctx)
				}()
			}
		}

		if wait <= 0 {
			wait = time.Millisecond
		}
		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}
}
