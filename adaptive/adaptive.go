// Package adaptive implements an adaptive concurrency controller that
// periodically samples recent throughput/latency and adjusts a worker pool's
// target size within configured bounds.
package adaptive

import (
	"context"
	"errors"
	"math"
	"sync"
	"sync/atomic"
	"time"
)

// Strategy selects the curve used to grow or shrink the target concurrency.
type Strategy int

const (
	// AIMD increases by 1 and decreases by half, the classic additive
	// increase / multiplicative decrease curve.
	AIMD Strategy = iota
	// Aggressive doubles on increase and halves on decrease.
	Aggressive
	// Gradual increases by 10% and decreases by 25%.
	Gradual
)

// Config configures a Controller.
type Config struct {
	Min            int
	Max            int
	Initial        int
	SampleInterval time.Duration
	// TargetLatency is the average attempt latency above which the
	// controller treats the sample window as degraded.
	TargetLatency time.Duration
	// MinSuccessRate is the success ratio below which the sample window is
	// treated as degraded, in [0, 1].
	MinSuccessRate float64
	// IncreaseStrategy/DecreaseStrategy select the growth/shrink curve.
	IncreaseStrategy Strategy
	DecreaseStrategy Strategy
	// OnConcurrencyChange, if set, is invoked (async, panic-swallowing)
	// whenever the target changes.
	OnConcurrencyChange func(old, new int)
}

// resolve defaults Initial to Min when unset, then validates the result.
func (c Config) resolve() (Config, error) {
	if c.Initial == 0 {
		c.Initial = c.Min
	}
	if err := c.Validate(); err != nil {
		return c, err
	}
	return c, nil
}

// Validate reports whether cfg is usable. Initial is optional: zero is
// treated as "use Min" and does not error here, since that defaulting is
// applied by resolve before a Controller is constructed.
func (c Config) Validate() error {
	if c.Min < 1 {
		return errors.New("min must be at least 1")
	}
	if c.Max < c.Min {
		return errors.New("max must be >= min")
	}
	if c.Initial != 0 && (c.Initial < c.Min || c.Initial > c.Max) {
		return errors.New("initial must be within [min, max]")
	}
	if c.SampleInterval <= 0 {
		return errors.New("sample interval must be positive")
	}
	if c.MinSuccessRate < 0 || c.MinSuccessRate > 1 {
		return errors.New("min success rate must be within [0, 1]")
	}
	return nil
}

// Controller tracks a target concurrency level, adjusted by a sampler
// goroutine started with Run. Callers read the current target via Current
// and report attempt outcomes via Acquire/Permit.Release.
type Controller struct {
	cfg Config

	current atomic.Int64

	mu             sync.Mutex
	successCount   int64
	failureCount   int64
	latencySum     time.Duration
	sampleCount    int64

	stopOnce sync.Once
	stopCh   chan struct{}

	now func() time.Time
}

// New constructs a Controller from cfg, seeded with cfg.Initial (defaulted
// to cfg.Min when left zero).
func New(cfg Config) (*Controller, error) {
	cfg, err := cfg.resolve()
	if err != nil {
		return nil, err
	}
	c := &Controller{
		cfg:    cfg,
		stopCh: make(chan struct{}),
		now:    time.Now,
	}
	c.current.Store(int64(cfg.Initial))
	return c, nil
}

// Current reports the controller's current target concurrency.
func (c *Controller) Current() int { return int(c.current.Load()) }

// Permit represents one in-flight execution slot, opened by Acquire and
// closed by Release once the attempt concludes.
type Permit struct {
	c     *Controller
	start time.Time
}

// Acquire opens a Permit, starting its latency clock.
func (c *Controller) Acquire() *Permit {
	return &Permit{c: c, start: c.now()}
}

// Release records the permit's outcome and latency for the next sample.
func (p *Permit) Release(success bool) {
	p.c.observe(p.c.now().Sub(p.start), success)
}

func (c *Controller) observe(latency time.Duration, success bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if success {
		c.successCount++
	} else {
		c.failureCount++
	}
	c.latencySum += latency
	c.sampleCount++
}

// Run drives the periodic sampling loop until ctx is cancelled or Stop is
// called. Intended to run on its own goroutine for the lifetime of the
// pipeline.
func (c *Controller) Run(ctx context.Context) {
	ticker := time.NewTicker(c.cfg.SampleInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-c.stopCh:
			return
		case <-ticker.C:
			c.sample()
		}
	}
}

// Stop ends the Run loop early. Safe to call multiple times.
func (c *Controller) Stop() {
	c.stopOnce.Do(func() { close(c.stopCh) })
}

func (c *Controller) sample() {
	c.mu.Lock()
	sc, fc, ls, n := c.successCount, c.failureCount, c.latencySum, c.sampleCount
	c.successCount, c.failureCount, c.latencySum, c.sampleCount = 0, 0, 0, 0
	c.mu.Unlock()

	if n == 0 {
		return
	}

	avgLatency := ls / time.Duration(n)
	successRate := float64(sc) / float64(sc+fc)

	old := int(c.current.Load())
	var next int
	if successRate < c.cfg.MinSuccessRate || (c.cfg.TargetLatency > 0 && avgLatency > c.cfg.TargetLatency) {
		next = applyDecrease(c.cfg.DecreaseStrategy, old)
	} else {
		next = applyIncrease(c.cfg.IncreaseStrategy, old)
	}
	if next < c.cfg.Min {
		next = c.cfg.Min
	}
	if next > c.cfg.Max {
		next = c.cfg.Max
	}
	if next == old {
		return
	}
	c.current.Store(int64(next))
	if c.cfg.OnConcurrencyChange != nil {
		onChange := c.cfg.OnConcurrencyChange
		go func() {
			defer func() { _ = recover() }()
			onChange(old, next)
		}()
	}
}

func applyIncrease(s Strategy, cur int) int {
	switch s {
	case Aggressive:
		v := cur * 2
		if v <= cur {
			v = cur + 1
		}
		return v
	case Gradual:
		return int(math.Ceil(float64(cur) * 1.1))
	default: // AIMD
		return cur + 1
	}
}

func applyDecrease(s Strategy, cur int) int {
	switch s {
	case Gradual:
		v := int(math.Floor(float64(cur) * 0.75))
		if v < 1 {
			v = 1
		}
		return v
	default: // AIMD, Aggressive
		v := int(math.Floor(float64(cur) * 0.5))
		if v < 1 {
			v = 1
		}
		return v
	}
}
