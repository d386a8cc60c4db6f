package parapipe

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/joeycumines/parapipe/adaptive"
	"github.com/joeycumines/parapipe/breaker"
	"github.com/joeycumines/parapipe/ratelimit"
)

func TestHooks_StartCompleteRetryDrainFire(t *testing.T) {
	defer checkNumGoroutines(3 * time.Second)(t)

	var started, completed, retried atomic.Int64
	var drainedMu sync.Mutex
	drained := false

	var attempts atomic.Int64
	_, err := MapToList(context.Background(), []int{1, 2, 3}, func(_ context.Context, v int) (int, error) {
		if v == 2 && attempts.Add(1) == 1 {
			return 0, errBoom
		}
		return v, nil
	},
		WithMaxRetries[int, int](1),
		WithBaseDelay[int, int](time.Millisecond),
		WithTransient[int, int](func(error) bool { return true }),
		WithOnStartItem[int, int](func(_ context.Context, _ int64) { started.Add(1) }),
		WithOnCompleteItem[int, int](func(_ context.Context, _ int64, _ bool) { completed.Add(1) }),
		WithOnRetry[int, int](func(_ context.Context, _ int64, _ int, _ error) { retried.Add(1) }),
		WithOnDrain[int, int](func(_ context.Context) {
			drainedMu.Lock()
			drained = true
			drainedMu.Unlock()
		}),
	)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	deadline := time.Now().Add(time.Second)
	for started.Load() != 3 || completed.Load() != 3 || retried.Load() != 1 {
		if time.Now().After(deadline) {
			t.Fatalf("hooks did not fire as expected: started=%d completed=%d retried=%d", started.Load(), completed.Load(), retried.Load())
		}
		time.Sleep(time.Millisecond)
	}

	drainedMu.Lock()
	d := drained
	drainedMu.Unlock()
	if !d {
		t.Error("expected OnDrain to fire")
	}
}

func TestOptions_OnErrorVetoesContinuation(t *testing.T) {
	defer checkNumGoroutines(3 * time.Second)(t)

	items := make([]int, 20)
	for i := range items {
		items[i] = i
	}

	var processed atomic.Int64
	_, err := MapToList(context.Background(), items, func(_ context.Context, v int) (int, error) {
		processed.Add(1)
		if v == 0 {
			return 0, errBoom
		}
		time.Sleep(5 * time.Millisecond)
		return v, nil
	},
		WithErrorMode[int, int](CollectAndContinue),
		WithMaxParallelism[int, int](4),
		WithOnError[int, int](func(_ context.Context, _ int64, _ error) bool { return false }),
	)
	if err == nil {
		t.Fatal("expected an error")
	}
	if processed.Load() >= int64(len(items)) {
		t.Errorf("expected on_error veto to cut the run short, but all %d items were processed", len(items))
	}
}

func TestOptions_OnThrottleFiresWithThrottledItemIndex(t *testing.T) {
	defer checkNumGoroutines(3 * time.Second)(t)

	var throttledIndex atomic.Int64
	throttledIndex.Store(-1)
	_, err := MapToList(context.Background(), []int{1, 2}, func(_ context.Context, v int) (int, error) {
		return v, nil
	},
		WithRateLimit[int, int](ratelimit.Config{TokensPerSecond: 10, BurstCapacity: 1}),
		WithMaxParallelism[int, int](2),
		WithOnThrottle[int, int](func(_ context.Context, index int64) { throttledIndex.Store(index) }),
	)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	deadline := time.Now().Add(time.Second)
	for throttledIndex.Load() == -1 {
		if time.Now().After(deadline) {
			t.Fatal("expected WithOnThrottle to fire for whichever item lost the race for the single token")
		}
		time.Sleep(time.Millisecond)
	}
	if idx := throttledIndex.Load(); idx != 0 && idx != 1 {
		t.Errorf("expected throttled item index 0 or 1, got %d", idx)
	}
}

func TestOptions_RateLimitGatesExecution(t *testing.T) {
	defer checkNumGoroutines(3 * time.Second)(t)

	var throttled atomic.Bool
	start := time.Now()
	_, err := MapToList(context.Background(), []int{1, 2, 3}, func(_ context.Context, v int) (int, error) {
		return v, nil
	}, WithRateLimit[int, int](ratelimit.Config{
		TokensPerSecond:    10,
		BurstCapacity:      1,
		TokensPerOperation: 1,
		OnThrottle:         func(context.Context) { throttled.Store(true) },
	}), WithMaxParallelism[int, int](3))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if time.Since(start) < 100*time.Millisecond {
		t.Error("expected rate limiting to introduce measurable delay across 3 items at burst 1")
	}
}

func TestOptions_CircuitBreakerOpensAfterFailures(t *testing.T) {
	defer checkNumGoroutines(3 * time.Second)(t)

	var opened atomic.Bool
	_, _ = MapToList(context.Background(), []int{1, 2, 3, 4, 5}, func(_ context.Context, v int) (int, error) {
		return 0, errBoom
	},
		WithMaxParallelism[int, int](1),
		WithErrorMode[int, int](CollectAndContinue),
		WithCircuitBreaker[int, int](breaker.Config{
			FailureThreshold: 2,
			SuccessThreshold: 1,
			OpenTimeout:      time.Hour,
			OnStateChange: func(_, new breaker.State) {
				if new == breaker.Open {
					opened.Store(true)
				}
			},
		}),
	)

	deadline := time.Now().Add(time.Second)
	for !opened.Load() {
		if time.Now().After(deadline) {
			t.Fatal("expected circuit breaker to open after consecutive failures")
		}
		time.Sleep(time.Millisecond)
	}
}

func TestOptions_AdaptiveConcurrencyStaysWithinBounds(t *testing.T) {
	defer checkNumGoroutines(3 * time.Second)(t)

	items := make([]int, 50)
	for i := range items {
		items[i] = i
	}

	out, err := MapToList(context.Background(), items, func(_ context.Context, v int) (int, error) {
		return v, nil
	}, WithAdaptiveConcurrency[int, int](adaptive.Config{
		Min:            1,
		Max:            8,
		Initial:        2,
		SampleInterval: 5 * time.Millisecond,
		TargetLatency:  time.Second,
		MinSuccessRate: 0.5,
	}))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(out) != len(items) {
		t.Errorf("expected all %d items processed, got %d", len(items), len(out))
	}
}
