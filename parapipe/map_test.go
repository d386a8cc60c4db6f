package parapipe

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync/atomic"
	"testing"
	"time"
)

func TestMapToList_Success(t *testing.T) {
	defer checkNumGoroutines(3 * time.Second)(t)

	items := []int{1, 2, 3, 4, 5}
	out, err := MapToList(context.Background(), items, func(_ context.Context, v int) (int, error) {
		return v * 2, nil
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	want := []int{2, 4, 6, 8, 10}
	if fmt.Sprint(out) != fmt.Sprint(want) {
		t.Errorf("got %v, want %v", out, want)
	}
}

func TestMapToList_IdentityRoundTrip(t *testing.T) {
	defer checkNumGoroutines(3 * time.Second)(t)

	items := make([]int, 100)
	for i := range items {
		items[i] = i
	}
	out, err := MapToList(context.Background(), items, func(_ context.Context, v int) (int, error) {
		return v, nil
	}, WithOrderedOutput[int, int](true))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(out) != len(items) {
		t.Fatalf("expected %d results, got %d", len(items), len(out))
	}
	for i, v := range out {
		if v != items[i] {
			t.Errorf("position %d: got %d, want %d", i, v, items[i])
		}
	}
}

func TestMapToList_FailFastDiscardsPartialList(t *testing.T) {
	defer checkNumGoroutines(3 * time.Second)(t)

	items := []int{1, 2, 3, 4, 5}
	out, err := MapToList(context.Background(), items, func(_ context.Context, v int) (int, error) {
		if v == 3 {
			return 0, errBoom
		}
		return v, nil
	}, WithMaxParallelism[int, int](1))
	if err == nil {
		t.Fatal("expected an error")
	}
	if out != nil {
		t.Errorf("expected nil partial list under FailFast, got %v", out)
	}
}

func TestMapToList_CollectAndContinueReturnsPartialListAndAggregate(t *testing.T) {
	defer checkNumGoroutines(3 * time.Second)(t)

	items := []int{1, 2, 3, 4, 5, 6}
	out, err := MapToList(context.Background(), items, func(_ context.Context, v int) (int, error) {
		if v%2 == 0 {
			return 0, fmt.Errorf("even: %d", v)
		}
		return v, nil
	}, WithErrorMode[int, int](CollectAndContinue))

	var agg *AggregateError
	if !errors.As(err, &agg) {
		t.Fatalf("expected AggregateError, got %v", err)
	}
	if len(agg.Errs) != 3 {
		t.Errorf("expected 3 collected errors, got %d", len(agg.Errs))
	}
	sort.Ints(out)
	want := []int{1, 3, 5}
	if fmt.Sprint(out) != fmt.Sprint(want) {
		t.Errorf("got %v, want %v", out, want)
	}
}

func TestMapToList_BestEffortOmitsFailuresSilently(t *testing.T) {
	defer checkNumGoroutines(3 * time.Second)(t)

	items := []int{1, 2, 3, 4}
	out, err := MapToList(context.Background(), items, func(_ context.Context, v int) (int, error) {
		if v == 2 {
			return 0, errBoom
		}
		return v * 10, nil
	}, WithErrorMode[int, int](BestEffort))
	if err != nil {
		t.Fatalf("BestEffort should never return an error, got %v", err)
	}
	sort.Ints(out)
	want := []int{10, 30, 40}
	if fmt.Sprint(out) != fmt.Sprint(want) {
		t.Errorf("got %v, want %v", out, want)
	}
}

func TestMapToList_RetriesTransientErrorsThenSucceeds(t *testing.T) {
	defer checkNumGoroutines(3 * time.Second)(t)

	var attempts atomic.Int64
	out, err := MapToList(context.Background(), []int{1}, func(_ context.Context, v int) (int, error) {
		n := attempts.Add(1)
		if n < 3 {
			return 0, errBoom
		}
		return v, nil
	},
		WithMaxRetries[int, int](5),
		WithBaseDelay[int, int](time.Millisecond),
		WithTransient[int, int](func(err error) bool { return errors.Is(err, errBoom) }),
	)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if attempts.Load() != 3 {
		t.Errorf("expected exactly 3 attempts, got %d", attempts.Load())
	}
	if len(out) != 1 || out[0] != 1 {
		t.Errorf("got %v", out)
	}
}

func TestMapToList_ExhaustsRetriesThenFails(t *testing.T) {
	defer checkNumGoroutines(3 * time.Second)(t)

	var attempts atomic.Int64
	_, err := MapToList(context.Background(), []int{1}, func(_ context.Context, v int) (int, error) {
		attempts.Add(1)
		return 0, errBoom
	},
		WithMaxRetries[int, int](2),
		WithBaseDelay[int, int](time.Millisecond),
		WithTransient[int, int](func(err error) bool { return true }),
	)
	if err == nil {
		t.Fatal("expected an error")
	}
	if attempts.Load() != 3 {
		t.Errorf("expected MaxRetries+1=3 attempts, got %d", attempts.Load())
	}
}

func TestMapToList_PerItemTimeout(t *testing.T) {
	defer checkNumGoroutines(3 * time.Second)(t)

	_, err := MapToList(context.Background(), []int{1}, func(ctx context.Context, v int) (int, error) {
		select {
		case <-time.After(time.Second):
			return v, nil
		case <-ctx.Done():
			return 0, ctx.Err()
		}
	}, WithPerItemTimeout[int, int](10*time.Millisecond))

	var timeoutErr *TimeoutError
	if !errors.As(err, &timeoutErr) {
		t.Fatalf("expected TimeoutError, got %v", err)
	}
}

func TestMapToList_FallbackSubstitutesValue(t *testing.T) {
	defer checkNumGoroutines(3 * time.Second)(t)

	out, err := MapToList(context.Background(), []int{1, 2}, func(_ context.Context, v int) (int, error) {
		if v == 2 {
			return 0, errBoom
		}
		return v, nil
	}, WithOnFallback[int, int](func(_ context.Context, _ int64, _ error) (int, bool) {
		return -1, true
	}))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	sort.Ints(out)
	want := []int{-1, 1}
	if fmt.Sprint(out) != fmt.Sprint(want) {
		t.Errorf("got %v, want %v", out, want)
	}
}

func TestMapToList_ConfigurationErrorSurfacesImmediately(t *testing.T) {
	_, err := MapToList(context.Background(), []int{1}, func(_ context.Context, v int) (int, error) {
		t.Fatal("fn should never be called with invalid options")
		return v, nil
	}, WithMaxParallelism[int, int](0))

	var cfgErr *ConfigurationError
	if !errors.As(err, &cfgErr) {
		t.Fatalf("expected ConfigurationError, got %v", err)
	}
}

func TestMapToStream_OrderedOutput(t *testing.T) {
	defer checkNumGoroutines(3 * time.Second)(t)

	items := []int{0, 1, 2, 3, 4, 5, 6, 7}
	seq, wait := MapToStream(context.Background(), items, func(_ context.Context, v int) (int, error) {
		if v%2 == 0 {
			time.Sleep(5 * time.Millisecond)
		}
		return v, nil
	}, WithOrderedOutput[int, int](true))

	var got []int
	for v, err := range seq {
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		got = append(got, v)
	}
	if err := wait(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	for i, v := range got {
		if v != items[i] {
			t.Errorf("position %d: got %d, want %d", i, v, items[i])
		}
	}
}

func TestForEach_RunsSideEffects(t *testing.T) {
	defer checkNumGoroutines(3 * time.Second)(t)

	var sum atomic.Int64
	err := ForEach(context.Background(), []int{1, 2, 3, 4}, func(_ context.Context, v int) error {
		sum.Add(int64(v))
		return nil
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if sum.Load() != 10 {
		t.Errorf("got %d, want 10", sum.Load())
	}
}

func TestForEach_FailFastStopsOnFirstError(t *testing.T) {
	defer checkNumGoroutines(3 * time.Second)(t)

	err := ForEach(context.Background(), []int{1, 2, 3}, func(_ context.Context, v int) error {
		if v == 2 {
			return errBoom
		}
		return nil
	}, WithMaxParallelism[int, struct{}](1))
	if !errors.Is(err, errBoom) {
		t.Fatalf("expected errBoom, got %v", err)
	}
}
