package parapipe

import (
	"context"
	"errors"
	"time"

	"github.com/joeycumines/parapipe/adaptive"
	"github.com/joeycumines/parapipe/breaker"
	"github.com/joeycumines/parapipe/ratelimit"
)

// engineGates bundles the optional resilience gates a worker consults
// before executing an attempt.
type engineGates struct {
	rateLimiter *ratelimit.Limiter
	breaker     *breaker.Breaker
	adaptive    *adaptive.Controller
}

type itemIndexKey struct{}

// withItemIndex tags ctx with the envelope index a gate-level callback (such
// as ratelimit.Config.OnThrottle) can recover, letting one shared gate
// instance report which in-flight item it throttled.
func withItemIndex(ctx context.Context, index int64) context.Context {
	return context.WithValue(ctx, itemIndexKey{}, index)
}

func itemIndexFromContext(ctx context.Context) (int64, bool) {
	index, ok := ctx.Value(itemIndexKey{}).(int64)
	return index, ok
}

// poolSize returns the number of worker goroutines to spawn. With adaptive
// concurrency configured, the pool is sized to the controller's ceiling and
// individual workers idle themselves down to the controller's live target;
// without it, the pool is exactly opts.MaxParallelism.
func poolSize[T, R any](opts *Options[T, R]) int {
	if opts.AdaptiveConcurrency != nil {
		return opts.AdaptiveConcurrency.Max
	}
	return opts.MaxParallelism
}

// runWorker pulls envelopes from in and pushes results to out until in is
// closed or ctx is cancelled. ordinal is this goroutine's position among its
// siblings, used to idle it down when adaptive concurrency's live target is
// below the pool's ceiling.
func runWorker[T, R any](
	ctx context.Context,
	ordinal int,
	in <-chan envelope[T],
	out chan<- result[R],
	fn func(context.Context, T) (R, error),
	opts *Options[T, R],
	gates *engineGates,
	counters *pipelineCounters,
	cancelRun func(),
) error {
	for {
		if gates.adaptive != nil {
			if err := waitForAdaptiveSlot(ctx, gates.adaptive, ordinal); err != nil {
				return nil
			}
		}

		select {
		case env, ok := <-in:
			if !ok {
				return nil
			}
			counters.activeWorkers.Add(1)
			res := processItem(ctx, env, fn, opts, gates, counters, cancelRun)
			counters.activeWorkers.Add(-1)

			select {
			case out <- res:
			case <-ctx.Done():
				return nil
			}
		case <-ctx.Done():
			return nil
		}
	}
}

// waitForAdaptiveSlot blocks ordinal-numbered workers above the controller's
// current live target, polling at a coarse interval since concurrency
// targets change at most once per sample interval.
func waitForAdaptiveSlot(ctx context.Context, controller *adaptive.Controller, ordinal int) error {
	const pollInterval = 50 * time.Millisecond
	for ordinal >= controller.Current() {
		timer := time.NewTimer(pollInterval)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}
	return nil
}

// processItem runs the full per-item state machine: optional gating
// (rate limiter, circuit breaker, adaptive concurrency permit), the
// attempt itself, classification of any failure, backoff-and-retry, and
// finally fallback-or-fail.
func processItem[T, R any](
	ctx context.Context,
	env envelope[T],
	fn func(context.Context, T) (R, error),
	opts *Options[T, R],
	gates *engineGates,
	counters *pipelineCounters,
	cancelRun func(),
) result[R] {
	opts.callOnStartItem(ctx, env.index)
	counters.startItem()

	// DecorrelatedJitter's prev_delay starts at base per item, so the first
	// retry's ceiling is base*3 rather than collapsing to exactly base.
	prevDelay := opts.BaseDelay

	for {
		env.attempts++
		attempts := env.attempts

		if err := ctx.Err(); err != nil {
			opts.callOnCompleteItem(ctx, env.index, false)
			return failed[R](env.index, &CancellationError{Err: err})
		}

		var (
			attemptErr      error
			breakerComplete func(bool)
			permit          *adaptive.Permit
			value           R
		)

		if gates.rateLimiter != nil {
			if err := gates.rateLimiter.Acquire(withItemIndex(ctx, env.index)); err != nil {
				attemptErr = &CancellationError{Err: err}
			}
		}

		if attemptErr == nil && gates.breaker != nil {
			complete, err := gates.breaker.Allow()
			if err != nil {
				attemptErr = &CircuitOpenError{Err: err}
			} else {
				breakerComplete = complete
			}
		}

		if attemptErr == nil {
			if gates.adaptive != nil {
				permit = gates.adaptive.Acquire()
			}

			attemptCtx := ctx
			var cancelTimeout context.CancelFunc
			if opts.PerItemTimeout > 0 {
				attemptCtx, cancelTimeout = context.WithTimeout(ctx, opts.PerItemTimeout)
			}

			value, attemptErr = fn(attemptCtx, env.value)

			if cancelTimeout != nil {
				cancelTimeout()
			}
			if attemptErr != nil && errors.Is(attemptCtx.Err(), context.DeadlineExceeded) && ctx.Err() == nil {
				attemptErr = &TimeoutError{Err: attemptErr}
			}

			if permit != nil {
				permit.Release(attemptErr == nil)
			}
			if breakerComplete != nil {
				breakerComplete(attemptErr == nil)
			}
		}

		if attemptErr == nil {
			counters.completeItem()
			opts.callOnCompleteItem(ctx, env.index, true)
			return succeeded[R](env.index, value)
		}

		if isCancellation(attemptErr) {
			opts.callOnCompleteItem(ctx, env.index, false)
			return failed[R](env.index, attemptErr)
		}

		if attempts <= opts.MaxRetries && opts.isTransient(attemptErr) {
			counters.recordRetry()
			opts.callOnRetry(ctx, env.index, attempts, attemptErr)
			logRetry(opts.logger(), ctx, env.index, attempts, attemptErr)
			delay, next := computeBackoff(opts.Backoff, attempts, opts.BaseDelay, prevDelay)
			prevDelay = next
			if delay > 0 {
				timer := time.NewTimer(delay)
				select {
				case <-timer.C:
				case <-ctx.Done():
					timer.Stop()
					opts.callOnCompleteItem(ctx, env.index, false)
					return failed[R](env.index, &CancellationError{Err: ctx.Err()})
				}
			}
			continue
		}

		counters.recordFailure()
		logTerminalFailure(opts.logger(), ctx, env.index, attemptErr)
		if cont := opts.callOnError(ctx, env.index, attemptErr); !cont {
			cancelRun()
		}
		if fb, ok := opts.callOnFallback(ctx, env.index, attemptErr); ok {
			logFallback(opts.logger(), ctx, env.index, attemptErr)
			counters.completeItem()
			opts.callOnCompleteItem(ctx, env.index, true)
			return succeeded[R](env.index, fb)
		}
		opts.callOnCompleteItem(ctx, env.index, false)
		return failed[R](env.index, attemptErr)
	}
}

func isCancellation(err error) bool {
	var ce *CancellationError
	return errors.As(err, &ce)
}
