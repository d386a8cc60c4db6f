package parapipe

import (
	"errors"
	"fmt"
)

// ConfigurationError wraps a validation failure discovered while assembling
// Options. It is returned eagerly, before any item is read from the source.
type ConfigurationError struct {
	Err error
}

func (e *ConfigurationError) Error() string {
	return fmt.Sprintf("parapipe: configuration: %s", e.Err)
}

func (e *ConfigurationError) Unwrap() error { return e.Err }

func newConfigErrorf(format string, args ...any) *ConfigurationError {
	return &ConfigurationError{Err: fmt.Errorf(format, args...)}
}

// TimeoutError reports that an item's per-attempt timeout elapsed before the
// processing function returned.
type TimeoutError struct {
	Err error
}

func (e *TimeoutError) Error() string {
	if e.Err == nil {
		return "parapipe: attempt timed out"
	}
	return fmt.Sprintf("parapipe: attempt timed out: %s", e.Err)
}

func (e *TimeoutError) Unwrap() error { return e.Err }

// CircuitOpenError reports that the circuit breaker gate rejected an attempt
// because it is currently in the Open state.
type CircuitOpenError struct {
	Err error
}

func (e *CircuitOpenError) Error() string {
	return fmt.Sprintf("parapipe: circuit open: %s", e.Err)
}

func (e *CircuitOpenError) Unwrap() error { return e.Err }

// CancellationError reports that an item did not complete because the
// pipeline's context was cancelled, typically as a consequence of FailFast
// mode reacting to some other item's terminal failure.
type CancellationError struct {
	Err error
}

func (e *CancellationError) Error() string {
	return fmt.Sprintf("parapipe: cancelled: %s", e.Err)
}

func (e *CancellationError) Unwrap() error { return e.Err }

// AggregateError collects every terminal failure observed by a
// CollectAndContinue run. Errors.Is/As traverse every wrapped
// error via Unwrap() []error, matching the stdlib errors.Join contract.
type AggregateError struct {
	Errs []error
}

func (e *AggregateError) Error() string {
	return errors.Join(e.Errs...).Error()
}

func (e *AggregateError) Unwrap() []error { return e.Errs }
