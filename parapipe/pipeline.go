package parapipe

import (
	"context"
	"errors"
	"iter"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/joeycumines/parapipe/adaptive"
	"github.com/joeycumines/parapipe/breaker"
	"github.com/joeycumines/parapipe/metrics"
	"github.com/joeycumines/parapipe/progress"
	"github.com/joeycumines/parapipe/ratelimit"
)

// runEngine runs a writer and a worker pool under one errgroup.Group, plus
// an output relay goroutine outside that group, all derived from a single
// cancellable root context, per the
// single-root-cancellation model: any unrecoverable failure (writer error,
// FailFast's first terminal failure, an on_error hook vetoing continuation)
// cancels the shared context, which every stage observes.
//
// It returns the channel of terminal results in arrival order (reordering,
// where requested, is the output stage's job — see ordering.go and map.go)
// and a wait function that blocks until the run has fully drained and
// yields the run's final error, if any, per Options.ErrorMode.
func runEngine[T, R any](ctx context.Context, src iter.Seq[T], fn func(context.Context, T) (R, error), opts *Options[T, R]) (<-chan result[R], func() error) {
	if err := opts.validate(); err != nil {
		ch := make(chan result[R])
		close(ch)
		return ch, func() error { return err }
	}

	runCtx, cancel := context.WithCancel(ctx)

	counters := newPipelineCounters(opts.Counters)

	gates := &engineGates{}
	if opts.RateLimit != nil {
		cfg := *opts.RateLimit
		userOnThrottle := cfg.OnThrottle
		cfg.OnThrottle = func(c context.Context) {
			counters.recordThrottle()
			if index, ok := itemIndexFromContext(c); ok {
				opts.callOnThrottle(c, index)
			}
			if userOnThrottle != nil {
				userOnThrottle(c)
			}
		}
		gates.rateLimiter, _ = ratelimit.New(cfg)
	}
	if opts.CircuitBreaker != nil {
		gates.breaker, _ = breaker.New(*opts.CircuitBreaker)
	}
	if opts.AdaptiveConcurrency != nil {
		gates.adaptive, _ = adaptive.New(*opts.AdaptiveConcurrency)
	}

	var progressTracker *progress.Tracker
	if opts.Progress != nil {
		progressTracker = progress.New(*opts.Progress, counters)
	}
	var metricsTracker *metrics.Tracker
	if opts.Metrics != nil {
		metricsTracker = metrics.New(*opts.Metrics, counters)
	}

	// Writer and workers share one errgroup/context: the core pipeline drains
	// (cleanly or on error) once the source is exhausted and every admitted
	// item reaches a terminal state. Samplers (adaptive/progress/metrics) are
	// deliberately kept off this group: their Run loops only return on their
	// own context's cancellation or an explicit Stop, neither of which a
	// clean, error-free core drain would otherwise trigger — putting them in
	// the same group would leave eg.Wait() blocked forever waiting for
	// sampler loops nothing ever signals to stop.
	eg, groupCtx := errgroup.WithContext(runCtx)

	inCh := make(chan envelope[T], opts.ChannelCapacity)
	outCh := make(chan result[R], opts.ChannelCapacity)
	counters.queueLen = func() int { return len(inCh) }

	cancelRun := func() { cancel() }

	eg.Go(func() error {
		return writeSource(groupCtx, src, inCh)
	})

	n := poolSize(opts)
	if n < 1 {
		n = 1
	}
	for i := 0; i < n; i++ {
		ordinal := i
		eg.Go(func() error {
			return runWorker(groupCtx, ordinal, inCh, outCh, fn, opts, gates, counters, cancelRun)
		})
	}

	samplerCtx, samplerCancel := context.WithCancel(runCtx)
	var samplersWG sync.WaitGroup
	if gates.adaptive != nil {
		samplersWG.Add(1)
		go func() {
			defer samplersWG.Done()
			gates.adaptive.Run(samplerCtx)
		}()
	}
	if progressTracker != nil {
		samplersWG.Add(1)
		go func() {
			defer samplersWG.Done()
			progressTracker.Run(samplerCtx)
		}()
	}
	if metricsTracker != nil {
		samplersWG.Add(1)
		go func() {
			defer samplersWG.Done()
			metricsTracker.Run(samplerCtx)
		}()
	}

	var groupErr error
	go func() {
		groupErr = eg.Wait()

		// The core pipeline has drained; break the samplers out of their
		// loops and wait for them to actually return before closing outCh,
		// so by the time the relay (and Wait) sees a drained run, nothing
		// from this run is still running.
		samplerCancel()
		if gates.adaptive != nil {
			gates.adaptive.Stop()
		}
		if progressTracker != nil {
			progressTracker.Stop()
		}
		if metricsTracker != nil {
			metricsTracker.Stop()
		}
		samplersWG.Wait()

		close(outCh)
	}()

	resultsOut := make(chan result[R], opts.ChannelCapacity)
	waitDone := make(chan struct{})
	var finalErr error

	go func() {
		defer close(resultsOut)

		var failFast error
		var collected []error

		for res := range outCh {
			firstFailure := false
			if res.outcome.kind == outcomeFailure {
				switch opts.ErrorMode {
				case FailFast:
					if failFast == nil {
						failFast = res.outcome.err
						firstFailure = true
					}
				case CollectAndContinue:
					collected = append(collected, res.outcome.err)
				case BestEffort:
					res = skipped[R](res.index, res.outcome.err)
				}
			}
			select {
			case resultsOut <- res:
			case <-runCtx.Done():
			}
			if firstFailure {
				// Cancel only once the failure itself has been handed on, so
				// a stream consumer still receives it.
				cancel()
			}
		}

		counters.recordDrain()
		opts.callOnDrain(runCtx)
		logDrain(opts.logger(), runCtx)

		switch opts.ErrorMode {
		case FailFast:
			if failFast != nil {
				finalErr = failFast
			} else if groupErr != nil && !errors.Is(groupErr, context.Canceled) {
				finalErr = groupErr
			}
		case CollectAndContinue:
			if len(collected) > 0 {
				finalErr = &AggregateError{Errs: collected}
			}
		case BestEffort:
			finalErr = nil
		}

		cancel()
		close(waitDone)
	}()

	return resultsOut, func() error {
		<-waitDone
		return finalErr
	}
}
