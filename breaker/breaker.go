// Package breaker implements a circuit breaker gate for pipeline execution
// attempts, modelled as a Closed/Open/HalfOpen state machine.
package breaker

import (
	"errors"
	"sync"
	"time"
)

// State is one of Closed, Open, or HalfOpen.
type State int

const (
	Closed State = iota
	Open
	HalfOpen
)

func (s State) String() string {
	switch s {
	case Closed:
		return "closed"
	case Open:
		return "open"
	case HalfOpen:
		return "half-open"
	default:
		return "unknown"
	}
}

// ErrOpen is returned by Allow while the breaker is Open.
var ErrOpen = errors.New("breaker: circuit open")

// Config configures a Breaker.
type Config struct {
	// FailureThreshold is the number of failures (consecutive, or within
	// SamplingDuration if set) that trips the breaker from Closed to Open.
	FailureThreshold int
	// SuccessThreshold is the number of consecutive successes in HalfOpen
	// required to close the breaker again.
	SuccessThreshold int
	// OpenTimeout is how long the breaker stays Open before the next
	// attempt moves it to HalfOpen. Attempts made while HalfOpen are not
	// limited to one.
	OpenTimeout time.Duration
	// SamplingDuration, if set, switches failure counting from
	// "consecutive" to "within this sliding window".
	SamplingDuration time.Duration
	// OnStateChange, if set, is invoked (async, panic-swallowing) on every
	// state transition.
	OnStateChange func(old, new State)
}

func (c Config) Validate() error {
	if c.FailureThreshold < 1 {
		return errors.New("failure threshold must be at least 1")
	}
	if c.SuccessThreshold < 1 {
		return errors.New("success threshold must be at least 1")
	}
	if c.OpenTimeout <= 0 {
		return errors.New("open timeout must be positive")
	}
	if c.SamplingDuration < 0 {
		return errors.New("sampling duration must not be negative")
	}
	return nil
}

// Breaker is a mutex-guarded circuit breaker. Construct with New.
type Breaker struct {
	mu  sync.Mutex
	cfg Config

	state                 State
	consecutiveFailures   int
	consecutiveSuccesses  int
	failureTimestamps     []time.Time
	openedAt              time.Time

	now func() time.Time
}

// New constructs a Breaker from cfg, starting Closed.
func New(cfg Config) (*Breaker, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &Breaker{
		cfg: cfg,
		now: time.Now,
	}, nil
}

// State reports the breaker's current state.
func (b *Breaker) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

// Allow reports whether an attempt may proceed. On success it returns a
// completion function that the caller must invoke exactly once with the
// attempt's outcome. On failure it returns ErrOpen.
func (b *Breaker) Allow() (complete func(success bool), err error) {
	b.mu.Lock()
	switch b.state {
	case Open:
		if b.now().Sub(b.openedAt) < b.cfg.OpenTimeout {
			b.mu.Unlock()
			return nil, ErrOpen
		}
		b.transitionLocked(HalfOpen)
		b.consecutiveSuccesses = 0
	case HalfOpen, Closed:
	}
	b.mu.Unlock()
	return func(success bool) { b.record(success) }, nil
}

// Reset forces the breaker back to Closed, clearing all counters.
func (b *Breaker) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.transitionLocked(Closed)
	b.consecutiveFailures = 0
	b.consecutiveSuccesses = 0
	b.failureTimestamps = nil
}

func (b *Breaker) record(success bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	now := b.now()
	if success {
		switch b.state {
		case Closed:
			b.consecutiveFailures = 0
		case HalfOpen:
			b.consecutiveSuccesses++
			if b.consecutiveSuccesses >= b.cfg.SuccessThreshold {
				b.transitionLocked(Closed)
				b.consecutiveFailures = 0
				b.consecutiveSuccesses = 0
				b.failureTimestamps = nil
			}
		}
		return
	}

	switch b.state {
	case Closed:
		if b.cfg.SamplingDuration > 0 {
			b.failureTimestamps = pruneOlderThan(append(b.failureTimestamps, now), now, b.cfg.SamplingDuration)
			if len(b.failureTimestamps) >= b.cfg.FailureThreshold {
				b.openLocked(now)
			}
		} else {
			b.consecutiveFailures++
			if b.consecutiveFailures >= b.cfg.FailureThreshold {
				b.openLocked(now)
			}
		}
	case HalfOpen:
		b.openLocked(now)
	}
}

func (b *Breaker) openLocked(now time.Time) {
	b.transitionLocked(Open)
	b.openedAt = now
	b.consecutiveFailures = 0
	b.consecutiveSuccesses = 0
}

func (b *Breaker) transitionLocked(to State) {
	if b.state == to {
		return
	}
	old := b.state
	b.state = to
	if b.cfg.OnStateChange != nil {
		onStateChange := b.cfg.OnStateChange
		go func() {
			defer func() { _ = recover() }()
			onStateChange(old, to)
		}()
	}
}

func pruneOlderThan(ts []time.Time, now time.Time, window time.Duration) []time.Time {
	cutoff := now.Add(-window)
	i := 0
	for ; i < len(ts); i++ {
		if ts[i].After(cutoff) {
			break
		}
	}
	if i == 0 {
		return ts
	}
	return append(ts[:0], ts[i:]...)
}
