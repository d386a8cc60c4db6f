package parapipe

import (
	"context"
	"runtime"
	"time"

	"github.com/joeycumines/parapipe/adaptive"
	"github.com/joeycumines/parapipe/breaker"
	"github.com/joeycumines/parapipe/internal/xlog"
	"github.com/joeycumines/parapipe/metrics"
	"github.com/joeycumines/parapipe/progress"
	"github.com/joeycumines/parapipe/ratelimit"
)

// ErrorMode selects how a pipeline reacts to a terminal per-item failure.
type ErrorMode int

const (
	// FailFast cancels the remainder of the run on the first terminal
	// failure and returns that failure, as the item recorded it (not
	// wrapped again), as soon as outstanding work drains.
	FailFast ErrorMode = iota
	// CollectAndContinue keeps processing every item, then returns an
	// AggregateError of every terminal failure once the source is
	// exhausted.
	CollectAndContinue
	// BestEffort keeps processing every item, silently omitting failed
	// items from the output rather than surfacing an error at all.
	BestEffort
)

// Options holds every knob a pipeline run accepts. newOptions starts from
// the defaults and then applies the With* options passed to MapToList,
// MapToStream or ForEach.
type Options[T, R any] struct {
	MaxParallelism  int
	ChannelCapacity int
	OrderedOutput   bool
	ErrorMode       ErrorMode

	PerItemTimeout  time.Duration
	MaxRetries      int
	BaseDelay       time.Duration
	Backoff         BackoffStrategy
	IsTransient     func(err error) bool

	RateLimit           *ratelimit.Config
	CircuitBreaker      *breaker.Config
	AdaptiveConcurrency *adaptive.Config
	Progress            *progress.Config
	Metrics             *metrics.Config
	Counters            *Counters
	Logger              *xlog.Logger

	OnStartItem    func(ctx context.Context, index int64)
	OnCompleteItem func(ctx context.Context, index int64, success bool)
	OnRetry        func(ctx context.Context, index int64, attempt int, err error)
	OnError        func(ctx context.Context, index int64, err error) bool
	OnFallback     func(ctx context.Context, index int64, err error) (R, bool)
	OnThrottle     func(ctx context.Context, index int64)
	OnDrain        func(ctx context.Context)
}

// Option configures an Options value. Construct them with the With*
// functions below and pass them to MapToList, MapToStream, ForEach, or the
// batch package's equivalents.
type Option[T, R any] func(*Options[T, R])

func newOptions[T, R any](opts ...Option[T, R]) *Options[T, R] {
	o := &Options[T, R]{
		MaxParallelism:  runtime.NumCPU(),
		ChannelCapacity: 1024,
		ErrorMode:       FailFast,
		BaseDelay:       100 * time.Millisecond,
		Backoff:         BackoffExponential,
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

func (o *Options[T, R]) validate() error {
	switch {
	case o.MaxParallelism < 1:
		return newConfigErrorf("max parallelism must be at least 1, got %d", o.MaxParallelism)
	case o.ChannelCapacity < 1:
		return newConfigErrorf("channel capacity must be at least 1, got %d", o.ChannelCapacity)
	case o.MaxRetries < 0:
		return newConfigErrorf("max retries must not be negative, got %d", o.MaxRetries)
	case o.PerItemTimeout < 0:
		return newConfigErrorf("per-item timeout must not be negative, got %s", o.PerItemTimeout)
	case o.BaseDelay < 0:
		return newConfigErrorf("base delay must not be negative, got %s", o.BaseDelay)
	}
	if o.RateLimit != nil {
		if err := o.RateLimit.Validate(); err != nil {
			return newConfigErrorf("rate limit: %w", err)
		}
	}
	if o.CircuitBreaker != nil {
		if err := o.CircuitBreaker.Validate(); err != nil {
			return newConfigErrorf("circuit breaker: %w", err)
		}
	}
	if o.AdaptiveConcurrency != nil {
		if err := o.AdaptiveConcurrency.Validate(); err != nil {
			return newConfigErrorf("adaptive concurrency: %w", err)
		}
	}
	return nil
}

func (o *Options[T, R]) logger() *xlog.Logger {
	if o.Logger != nil {
		return o.Logger
	}
	return xlog.Noop()
}

func (o *Options[T, R]) isTransient(err error) bool {
	if o.IsTransient == nil {
		return false
	}
	return o.IsTransient(err)
}

// fireAsync invokes fn on its own goroutine, recovering any panic, for hooks
// whose return value the pipeline does not need to observe.
func fireAsync(fn func()) {
	if fn == nil {
		return
	}
	go func() {
		defer func() { _ = recover() }()
		fn()
	}()
}

func (o *Options[T, R]) callOnStartItem(ctx context.Context, index int64) {
	hook := o.OnStartItem
	if hook == nil {
		return
	}
	fireAsync(func() { hook(ctx, index) })
}

func (o *Options[T, R]) callOnCompleteItem(ctx context.Context, index int64, success bool) {
	hook := o.OnCompleteItem
	if hook == nil {
		return
	}
	fireAsync(func() { hook(ctx, index, success) })
}

func (o *Options[T, R]) callOnRetry(ctx context.Context, index int64, attempt int, err error) {
	hook := o.OnRetry
	if hook == nil {
		return
	}
	fireAsync(func() { hook(ctx, index, attempt, err) })
}

func (o *Options[T, R]) callOnThrottle(ctx context.Context, index int64) {
	hook := o.OnThrottle
	if hook == nil {
		return
	}
	fireAsync(func() { hook(ctx, index) })
}

func (o *Options[T, R]) callOnDrain(ctx context.Context) {
	hook := o.OnDrain
	if hook == nil {
		return
	}
	fireAsync(func() { hook(ctx) })
}

// callOnError runs synchronously, since its bool return steers the state
// machine. A panicking hook is treated as "continue" so a broken callback
// cannot silently turn CollectAndContinue/BestEffort into FailFast.
func (o *Options[T, R]) callOnError(ctx context.Context, index int64, err error) (cont bool) {
	hook := o.OnError
	if hook == nil {
		return true
	}
	cont = true
	func() {
		defer func() {
			if recover() != nil {
				cont = true
			}
		}()
		cont = hook(ctx, index, err)
	}()
	return cont
}

// callOnFallback runs synchronously, since its return value supplies the
// fallback result. A panicking hook behaves as "no fallback configured".
func (o *Options[T, R]) callOnFallback(ctx context.Context, index int64, err error) (value R, ok bool) {
	hook := o.OnFallback
	if hook == nil {
		return value, false
	}
	func() {
		defer func() {
			if recover() != nil {
				ok = false
			}
		}()
		value, ok = hook(ctx, index, err)
	}()
	return value, ok
}

// WithMaxParallelism bounds the number of concurrent worker goroutines.
// Ignored (in favour of AdaptiveConcurrency's Initial) if WithAdaptiveConcurrency
// is also configured.
func WithMaxParallelism[T, R any](n int) Option[T, R] {
	return func(o *Options[T, R]) { o.MaxParallelism = n }
}

// WithChannelCapacity bounds the input and output channel sizes.
func WithChannelCapacity[T, R any](n int) Option[T, R] {
	return func(o *Options[T, R]) { o.ChannelCapacity = n }
}

// WithOrderedOutput requests that MapToStream's consumer observe results in
// source order. Has no effect on MapToList, which always restores source
// order since it materialises a full slice.
func WithOrderedOutput[T, R any](ordered bool) Option[T, R] {
	return func(o *Options[T, R]) { o.OrderedOutput = ordered }
}

// WithErrorMode selects FailFast, CollectAndContinue, or BestEffort.
func WithErrorMode[T, R any](mode ErrorMode) Option[T, R] {
	return func(o *Options[T, R]) { o.ErrorMode = mode }
}

// WithPerItemTimeout bounds the duration of a single attempt. Zero (the
// default) disables the timeout.
func WithPerItemTimeout[T, R any](d time.Duration) Option[T, R] {
	return func(o *Options[T, R]) { o.PerItemTimeout = d }
}

// WithMaxRetries bounds the number of retries attempted after the first
// failure of an item (so MaxRetries=2 allows up to 3 total attempts).
func WithMaxRetries[T, R any](n int) Option[T, R] {
	return func(o *Options[T, R]) { o.MaxRetries = n }
}

// WithBaseDelay sets the backoff strategies' base delay unit.
func WithBaseDelay[T, R any](d time.Duration) Option[T, R] {
	return func(o *Options[T, R]) { o.BaseDelay = d }
}

// WithBackoffStrategy selects the retry delay curve.
func WithBackoffStrategy[T, R any](s BackoffStrategy) Option[T, R] {
	return func(o *Options[T, R]) { o.Backoff = s }
}

// WithTransient classifies errors as worth retrying. Without this option,
// every failure is treated as terminal on its first occurrence.
func WithTransient[T, R any](fn func(err error) bool) Option[T, R] {
	return func(o *Options[T, R]) { o.IsTransient = fn }
}

// WithRateLimit gates execution attempts behind a token bucket.
func WithRateLimit[T, R any](cfg ratelimit.Config) Option[T, R] {
	return func(o *Options[T, R]) { o.RateLimit = &cfg }
}

// WithCircuitBreaker gates execution attempts behind a circuit breaker.
func WithCircuitBreaker[T, R any](cfg breaker.Config) Option[T, R] {
	return func(o *Options[T, R]) { o.CircuitBreaker = &cfg }
}

// WithAdaptiveConcurrency replaces the static MaxParallelism worker count
// with one the controller adjusts at runtime.
func WithAdaptiveConcurrency[T, R any](cfg adaptive.Config) Option[T, R] {
	return func(o *Options[T, R]) { o.AdaptiveConcurrency = &cfg }
}

// WithProgress enables periodic progress snapshots.
func WithProgress[T, R any](cfg progress.Config) Option[T, R] {
	return func(o *Options[T, R]) { o.Progress = &cfg }
}

// WithMetrics enables periodic internal metrics snapshots.
func WithMetrics[T, R any](cfg metrics.Config) Option[T, R] {
	return func(o *Options[T, R]) { o.Metrics = &cfg }
}

// WithCounters redirects this run's process-wide telemetry accumulation to a
// Counters instance other than Default.
func WithCounters[T, R any](c *Counters) Option[T, R] {
	return func(o *Options[T, R]) { o.Counters = c }
}

// WithLogger attaches structured logging to the run's lifecycle events.
func WithLogger[T, R any](l *xlog.Logger) Option[T, R] {
	return func(o *Options[T, R]) { o.Logger = l }
}

// WithOnStartItem registers a hook fired as each item is admitted to a
// worker.
func WithOnStartItem[T, R any](fn func(ctx context.Context, index int64)) Option[T, R] {
	return func(o *Options[T, R]) { o.OnStartItem = fn }
}

// WithOnCompleteItem registers a hook fired as each item reaches a terminal
// state.
func WithOnCompleteItem[T, R any](fn func(ctx context.Context, index int64, success bool)) Option[T, R] {
	return func(o *Options[T, R]) { o.OnCompleteItem = fn }
}

// WithOnRetry registers a hook fired before each retry attempt.
func WithOnRetry[T, R any](fn func(ctx context.Context, index int64, attempt int, err error)) Option[T, R] {
	return func(o *Options[T, R]) { o.OnRetry = fn }
}

// WithOnError registers a hook invoked on each terminal failure, before
// classification into Failed/Skipped. Returning false is honoured in
// CollectAndContinue and BestEffort modes by cancelling the remainder of the
// run early; it has no additional effect in FailFast, which cancels on the
// first terminal failure regardless.
func WithOnError[T, R any](fn func(ctx context.Context, index int64, err error) bool) Option[T, R] {
	return func(o *Options[T, R]) { o.OnError = fn }
}

// WithOnFallback registers a hook that may supply a substitute value for an
// item that exhausted its retries, turning what would be a Failed/Skipped
// outcome into a Succeeded one.
func WithOnFallback[T, R any](fn func(ctx context.Context, index int64, err error) (R, bool)) Option[T, R] {
	return func(o *Options[T, R]) { o.OnFallback = fn }
}

// WithOnThrottle registers a hook fired once per wait episode when the rate
// limiter delays an attempt.
func WithOnThrottle[T, R any](fn func(ctx context.Context, index int64)) Option[T, R] {
	return func(o *Options[T, R]) { o.OnThrottle = fn }
}

// WithOnDrain registers a hook fired once the source is exhausted and every
// admitted item has reached a terminal state.
func WithOnDrain[T, R any](fn func(ctx context.Context)) Option[T, R] {
	return func(o *Options[T, R]) { o.OnDrain = fn }
}
