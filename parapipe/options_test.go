package parapipe

import (
	"context"
	"errors"
	"testing"

	"github.com/joeycumines/parapipe/ratelimit"
)

func TestOptions_Defaults(t *testing.T) {
	o := newOptions[int, int]()
	if o.MaxParallelism < 1 {
		t.Errorf("expected positive default MaxParallelism, got %d", o.MaxParallelism)
	}
	if o.ChannelCapacity != 1024 {
		t.Errorf("expected default channel capacity 1024, got %d", o.ChannelCapacity)
	}
	if o.ErrorMode != FailFast {
		t.Errorf("expected default error mode FailFast, got %v", o.ErrorMode)
	}
	if err := o.validate(); err != nil {
		t.Errorf("defaults should validate cleanly: %v", err)
	}
}

func TestOptions_ValidateRejectsBadConfig(t *testing.T) {
	cases := []Option[int, int]{
		WithMaxParallelism[int, int](0),
		WithChannelCapacity[int, int](0),
		WithMaxRetries[int, int](-1),
		WithBaseDelay[int, int](-1),
	}
	for _, opt := range cases {
		o := newOptions(opt)
		var cfgErr *ConfigurationError
		if err := o.validate(); !errors.As(err, &cfgErr) {
			t.Errorf("expected ConfigurationError, got %v", err)
		}
	}
}

func TestOptions_ValidatePropagatesRateLimitConfig(t *testing.T) {
	o := newOptions(WithRateLimit[int, int](ratelimit.Config{TokensPerSecond: -1, BurstCapacity: 1}))
	var cfgErr *ConfigurationError
	if err := o.validate(); !errors.As(err, &cfgErr) {
		t.Errorf("expected ConfigurationError wrapping rate limit validation, got %v", err)
	}
}

func TestOptions_OnErrorPanicIsTreatedAsContinue(t *testing.T) {
	o := newOptions(WithOnError[int, int](func(ctx_ context.Context, idx int64, err error) bool {
		panic("boom")
	}))
	if cont := o.callOnError(nil, 0, errors.New("x")); !cont {
		t.Error("expected panic to be treated as continue=true")
	}
}

func TestOptions_OnFallbackPanicYieldsNoFallback(t *testing.T) {
	o := newOptions(WithOnFallback[int, int](func(ctx_ context.Context, idx int64, err error) (int, bool) {
		panic("boom")
	}))
	if _, ok := o.callOnFallback(nil, 0, errors.New("x")); ok {
		t.Error("expected panic to be treated as no fallback")
	}
}
