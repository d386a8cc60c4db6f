// Package batch implements the batching variant of parapipe: instead of
// running fn once per item, it groups the source into batches (by size
// and/or a flush timeout) and runs a BatchFunc once per batch, through the
// same core engine parapipe uses for per-item execution — so a batch gets
// retries, backoff, timeouts, rate limiting, circuit breaking, and ordered
// output exactly as an ordinary item would.
package batch

import (
	"context"
	"errors"
	"iter"
	"time"

	"github.com/joeycumines/parapipe/parapipe"
)

// Config controls how the source is grouped into batches. The zero value
// uses microbatch-style defaults: MaxBatchSize 16, FlushInterval 50ms. Set
// either field negative to explicitly disable that trigger; NewBatcher-style
// construction would panic if both ended up disabled, but resolve returns
// an error instead, matching this module's error-over-panic convention.
type Config struct {
	// MaxBatchSize caps the number of jobs per batch. Zero defaults to 16;
	// negative disables size-based flushing.
	MaxBatchSize int
	// FlushInterval bounds how long an incomplete batch waits before being
	// flushed anyway. Zero defaults to 50ms; negative disables time-based
	// flushing.
	FlushInterval time.Duration
}

func (c Config) resolve() (Config, error) {
	if c.MaxBatchSize == 0 {
		c.MaxBatchSize = 16
	}
	if c.FlushInterval == 0 {
		c.FlushInterval = 50 * time.Millisecond
	}
	if c.MaxBatchSize <= 0 && c.FlushInterval <= 0 {
		return c, errors.New("batch: one of MaxBatchSize or FlushInterval must be enabled")
	}
	return c, nil
}

// BatchFunc processes one full batch of jobs, returning exactly one result
// per job, in the same order as jobs.
type BatchFunc[Job, Result any] func(ctx context.Context, jobs []Job) ([]Result, error)

func sliceSeq[T any](values []T) iter.Seq[T] {
	return func(yield func(T) bool) {
		for _, v := range values {
			if !yield(v) {
				return
			}
		}
	}
}

// MapToListSeq groups src into batches per cfg, runs batchFn over each batch
// through the core engine (honouring opts the same way parapipe.MapToListSeq
// does), and flattens the per-batch results back into one source-ordered
// slice.
func MapToListSeq[Job, Result any](ctx context.Context, src iter.Seq[Job], cfg Config, batchFn BatchFunc[Job, Result], opts ...parapipe.Option[[]Job, []Result]) ([]Result, error) {
	resolved, err := cfg.resolve()
	if err != nil {
		return nil, err
	}
	batches := batchSeq(ctx, src, resolved)

	batchResults, err := parapipe.MapToListSeq(ctx, batches, func(c context.Context, jobs []Job) ([]Result, error) {
		return batchFn(c, jobs)
	}, opts...)
	if err != nil && batchResults == nil {
		return nil, err
	}

	out := make([]Result, 0, len(batchResults))
	for _, br := range batchResults {
		out = append(out, br...)
	}
	return out, err
}

// MapToList is MapToListSeq over a plain slice.
func MapToList[Job, Result any](ctx context.Context, items []Job, cfg Config, batchFn BatchFunc[Job, Result], opts ...parapipe.Option[[]Job, []Result]) ([]Result, error) {
	return MapToListSeq(ctx, sliceSeq(items), cfg, batchFn, opts...)
}

// MapToStreamSeq is MapToListSeq's streaming counterpart: it yields each
// job's individual result as soon as its batch completes (or, with
// parapipe.WithOrderedOutput, once batch order permits), unpacking each
// batch's []Result back into individual (Result, nil) pairs. A batch-level
// error is yielded once as (zero, err), matching MapToStreamSeq's
// per-item error surfacing convention.
func MapToStreamSeq[Job, Result any](ctx context.Context, src iter.Seq[Job], cfg Config, batchFn BatchFunc[Job, Result], opts ...parapipe.Option[[]Job, []Result]) (iter.Seq2[Result, error], func() error) {
	resolved, err := cfg.resolve()
	if err != nil {
		return func(func(Result, error) bool) {}, func() error { return err }
	}
	batches := batchSeq(ctx, src, resolved)

	batchOut, wait := parapipe.MapToStreamSeq(ctx, batches, func(c context.Context, jobs []Job) ([]Result, error) {
		return batchFn(c, jobs)
	}, opts...)

	seq := func(yield func(Result, error) bool) {
		for results, berr := range batchOut {
			if berr != nil {
				var zero Result
				if !yield(zero, berr) {
					return
				}
				continue
			}
			for _, r := range results {
				if !yield(r, nil) {
					return
				}
			}
		}
	}
	return seq, wait
}

// MapToStream is MapToStreamSeq over a plain slice.
func MapToStream[Job, Result any](ctx context.Context, items []Job, cfg Config, batchFn BatchFunc[Job, Result], opts ...parapipe.Option[[]Job, []Result]) (iter.Seq2[Result, error], func() error) {
	return MapToStreamSeq(ctx, sliceSeq(items), cfg, batchFn, opts...)
}
