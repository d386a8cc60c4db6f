package batch

import (
	"context"
	"iter"
	"time"
)

// batchSeq groups src into []Job batches, flushing whenever a batch reaches
// cfg.MaxBatchSize or cfg.FlushInterval elapses since the batch's first job,
// whichever comes first. It is adapted from microbatch.Batcher.run's
// select-loop: that implementation multiplexes an externally-driven Submit
// (ping) channel against a per-batch flush timer; this one instead owns a
// single producer goroutine draining src, since the batching variant groups
// a known source rather than servicing ad-hoc external submissions.
func batchSeq[Job any](ctx context.Context, src iter.Seq[Job], cfg Config) iter.Seq[[]Job] {
	return func(yield func([]Job) bool) {
		jobCh := make(chan Job)
		done := make(chan struct{})
		defer close(done)
		go func() {
			defer close(jobCh)
			for job := range src {
				select {
				case jobCh <- job:
				case <-ctx.Done():
					return
				case <-done:
					return
				}
			}
		}()

		var batch []Job
		var timer *time.Timer
		var timerC <-chan time.Time

		stopTimer := func() {
			if timer != nil {
				timer.Stop()
				timer = nil
				timerC = nil
			}
		}

		// flush reports whether the caller should keep looping: false means
		// the consumer asked to stop early (yield returned false).
		flush := func() bool {
			if len(batch) == 0 {
				return true
			}
			b := batch
			batch = nil
			stopTimer()
			return yield(b)
		}

		defer stopTimer()

		for {
			select {
			case job, ok := <-jobCh:
				if !ok {
					flush()
					return
				}
				batch = append(batch, job)
				if cfg.MaxBatchSize > 0 && len(batch) >= cfg.MaxBatchSize {
					if !flush() {
						return
					}
				} else if cfg.FlushInterval > 0 && len(batch) == 1 {
					timer = time.NewTimer(cfg.FlushInterval)
					timerC = timer.C
				}

			case <-timerC:
				if !flush() {
					return
				}

			case <-ctx.Done():
				flush()
				return
			}
		}
	}
}
