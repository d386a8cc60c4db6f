package parapipe

import (
	"context"
	"iter"
)

// ForEachSeq runs fn over every value of src purely for its side effects,
// with the same concurrency, retry, and error-mode machinery as
// MapToListSeq/MapToStreamSeq. It returns once every item has reached a
// terminal state, yielding the run's final error per Options.ErrorMode.
func ForEachSeq[T any](ctx context.Context, src iter.Seq[T], fn func(context.Context, T) error, opts ...Option[T, struct{}]) error {
	wrapped := func(c context.Context, v T) (struct{}, error) {
		return struct{}{}, fn(c, v)
	}
	o := newOptions(opts...)
	resultsCh, wait := runEngine(ctx, src, wrapped, o)
	for range resultsCh {
	}
	return wait()
}

// ForEach is ForEachSeq over a plain slice.
func ForEach[T any](ctx context.Context, items []T, fn func(context.Context, T) error, opts ...Option[T, struct{}]) error {
	return ForEachSeq(ctx, sliceSource(items), fn, opts...)
}
