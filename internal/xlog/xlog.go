// Package xlog wires the structured logging facade shared by every parapipe
// package onto a concrete backend, so the engine never has to special-case
// "no logger configured".
package xlog

import (
	"io"

	"github.com/joeycumines/logiface"
	izerolog "github.com/joeycumines/logiface-zerolog"
	"github.com/rs/zerolog"
)

// Logger is the concrete logger type threaded through parapipe's options.
type Logger = logiface.Logger[*izerolog.Event]

// New wraps an existing zerolog.Logger as a parapipe Logger.
func New(z zerolog.Logger) *Logger {
	return logiface.New[*izerolog.Event](izerolog.WithZerolog(z))
}

// Noop returns a Logger that discards everything, used when the caller does
// not configure one. Calling through a real (silent) logger keeps the hot
// path free of "is logging enabled" branches, matching the no-op tracker
// approach used for progress/metrics.
func Noop() *Logger {
	return New(zerolog.New(io.Discard))
}
