package parapipe

import (
	"context"
	"iter"
)

// MapToListSeq runs fn over every value of src with up to
// Options.MaxParallelism concurrent attempts, and returns the results in
// source order once every item has reached a terminal state.
//
// Under FailFast, a terminal failure discards the partial list: the
// returned slice is nil and err is non-nil. Under CollectAndContinue, the
// returned slice holds every successful result (in source order, failures
// omitted) and err is an *AggregateError of every failure. Under
// BestEffort, the returned slice holds every successful result and err is
// nil unless the options fail validation.
func MapToListSeq[T, R any](ctx context.Context, src iter.Seq[T], fn func(context.Context, T) (R, error), opts ...Option[T, R]) ([]R, error) {
	o := newOptions(opts...)
	resultsCh, wait := runEngine(ctx, src, fn, o)

	byIndex := drainByIndex(resultsCh)
	err := wait()

	if o.ErrorMode == FailFast && err != nil {
		return nil, err
	}

	var maxIndex int64 = -1
	for idx := range byIndex {
		if idx > maxIndex {
			maxIndex = idx
		}
	}

	out := make([]R, 0, len(byIndex))
	for idx := int64(0); idx <= maxIndex; idx++ {
		res, ok := byIndex[idx]
		if !ok || res.outcome.kind != outcomeSuccess {
			continue
		}
		out = append(out, res.outcome.value)
	}
	return out, err
}

// MapToList is MapToListSeq over a plain slice.
func MapToList[T, R any](ctx context.Context, items []T, fn func(context.Context, T) (R, error), opts ...Option[T, R]) ([]R, error) {
	return MapToListSeq(ctx, sliceSource(items), fn, opts...)
}

// MapToStreamSeq runs fn over every value of src, yielding each terminal
// result as soon as it's available (or, if Options.OrderedOutput is set,
// once source order permits). Successful items yield (value, nil); failed
// items yield (zero value, err) so the consumer observes failures inline —
// except under BestEffort, where failed items are omitted from the stream
// entirely. Call the returned wait function after fully draining the
// sequence to get the run's final error, per Options.ErrorMode.
func MapToStreamSeq[T, R any](ctx context.Context, src iter.Seq[T], fn func(context.Context, T) (R, error), opts ...Option[T, R]) (iter.Seq2[R, error], func() error) {
	o := newOptions(opts...)
	resultsCh, wait := runEngine(ctx, src, fn, o)

	seq := func(yield func(R, error) bool) {
		emit := func(res result[R]) bool {
			switch res.outcome.kind {
			case outcomeSkipped:
				return true
			case outcomeSuccess:
				return yield(res.outcome.value, nil)
			default:
				var zero R
				return yield(zero, res.outcome.err)
			}
		}
		if o.OrderedOutput {
			drainOrdered(resultsCh, emit)
		} else {
			drainUnordered(resultsCh, emit)
		}
	}
	return seq, wait
}

// MapToStream is MapToStreamSeq over a plain slice.
func MapToStream[T, R any](ctx context.Context, items []T, fn func(context.Context, T) (R, error), opts ...Option[T, R]) (iter.Seq2[R, error], func() error) {
	return MapToStreamSeq(ctx, sliceSource(items), fn, opts...)
}
