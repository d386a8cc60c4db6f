package parapipe

import (
	"math/rand/v2"
	"time"
)

// BackoffStrategy selects how the delay between a failed attempt and the
// next retry is computed. An unrecognised value behaves as Exponential.
type BackoffStrategy int

const (
	BackoffExponential BackoffStrategy = iota
	BackoffExponentialJitter
	BackoffDecorrelatedJitter
	BackoffLinear
	BackoffLinearJitter
)

// maxBackoffDelay bounds every computed delay, guarding against overflow
// from a large attempt count or a pathological base delay.
const maxBackoffDelay = 10 * time.Minute

// computeBackoff returns the delay to wait after the given attempt (the
// attempt that just failed, 1-based) before the next one, plus the
// prevDelay value to carry into the next call for the same envelope (only meaningful for
// BackoffDecorrelatedJitter; other strategies ignore it).
func computeBackoff(strategy BackoffStrategy, attempt int, base, prevDelay time.Duration) (delay, nextPrev time.Duration) {
	if base <= 0 {
		return 0, 0
	}
	switch strategy {
	case BackoffLinear:
		delay = capDelay(base * time.Duration(attempt))
	case BackoffLinearJitter:
		delay = uniformDelay(0, capDelay(base*time.Duration(attempt)))
	case BackoffExponentialJitter:
		delay = uniformDelay(0, capDelay(exponentialDelay(base, attempt)))
	case BackoffDecorrelatedJitter:
		ceiling := prevDelay * 3
		if ceiling < base {
			ceiling = base
		}
		delay = uniformDelay(base, capDelay(ceiling))
	default: // BackoffExponential and any unrecognised value
		delay = capDelay(exponentialDelay(base, attempt))
	}
	nextPrev = delay
	if nextPrev <= 0 {
		nextPrev = base
	}
	return delay, nextPrev
}

func exponentialDelay(base time.Duration, attempt int) time.Duration {
	shift := attempt - 1
	if shift < 0 {
		shift = 0
	}
	if shift > 30 {
		// anything this large is already well past maxBackoffDelay
		shift = 30
	}
	return base * time.Duration(int64(1)<<uint(shift))
}

func capDelay(d time.Duration) time.Duration {
	if d > maxBackoffDelay || d < 0 {
		return maxBackoffDelay
	}
	return d
}

// uniformDelay returns a uniformly distributed duration in [lo, hi].
func uniformDelay(lo, hi time.Duration) time.Duration {
	if hi <= lo {
		return lo
	}
	span := int64(hi - lo)
	return lo + time.Duration(rand.Int64N(span+1))
}
