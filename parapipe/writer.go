package parapipe

import (
	"context"
	"iter"
)

// writeSource reads every value of src, wraps each in an envelope tagged
// with its source-order index, and sends it to out. It owns out: it closes
// out once src is exhausted or ctx is cancelled, mirroring a single-owner
// producer goroutine pushing into a bounded channel.
//
// Backpressure comes for free from out's buffering: writeSource blocks on
// send once downstream workers fall behind, which is what keeps an
// unbounded/streaming source from ballooning memory.
func writeSource[T any](ctx context.Context, src iter.Seq[T], out chan<- envelope[T]) error {
	defer close(out)
	var index int64
	for value := range src {
		select {
		case out <- envelope[T]{index: index, value: value}:
			index++
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return nil
}

// sliceSource adapts a plain slice to iter.Seq, for the common finite-input
// case (MapToList, MapToStream given a []T, ForEach given a []T).
func sliceSource[T any](values []T) iter.Seq[T] {
	return func(yield func(T) bool) {
		for _, v := range values {
			if !yield(v) {
				return
			}
		}
	}
}
