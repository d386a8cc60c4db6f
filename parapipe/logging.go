package parapipe

import (
	"context"

	"github.com/joeycumines/parapipe/internal/xlog"
)

// logRetry emits a debug-level record for a retried attempt.
func logRetry(log *xlog.Logger, ctx context.Context, index int64, attempt int, err error) {
	_ = ctx
	log.Debug().
		Int64("index", index).
		Int("attempt", attempt).
		Err(err).
		Log("retrying item")
}

// logTerminalFailure emits a warning-level record for a terminal failure.
func logTerminalFailure(log *xlog.Logger, ctx context.Context, index int64, err error) {
	_ = ctx
	log.Warning().
		Int64("index", index).
		Err(err).
		Log("item failed terminally")
}

// logFallback emits an info-level record when a fallback value substitutes
// for a failure.
func logFallback(log *xlog.Logger, ctx context.Context, index int64, err error) {
	_ = ctx
	log.Info().
		Int64("index", index).
		Err(err).
		Log("fallback value substituted")
}

// logDrain emits an info-level record when a run finishes draining.
func logDrain(log *xlog.Logger, ctx context.Context) {
	_ = ctx
	log.Info().Log("pipeline drained")
}
