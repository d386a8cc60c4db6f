// Package metrics implements a periodic internal-metrics sampler over a
// running pipeline's counters: queue depth, active workers, retries,
// throttle/drain events, in addition to the item counts progress tracks.
package metrics

import (
	"context"
	"sync"
	"time"
)

// Source is the subset of a pipeline's counters a Tracker needs to read.
type Source interface {
	ItemsStarted() int64
	ItemsCompleted() int64
	TotalRetries() int64
	TotalFailures() int64
	ThrottleEvents() int64
	DrainEvents() int64
	ActiveWorkers() int
	QueueDepth() int
}

// Snapshot is a point-in-time view of a run's internal metrics.
type Snapshot struct {
	ActiveWorkers  int
	QueueDepth     int
	ItemsStarted   int64
	ItemsCompleted int64
	TotalRetries   int64
	TotalFailures  int64
	ThrottleEvents int64
	DrainEvents    int64
	Elapsed        time.Duration
	ItemsPerSecond float64
	ErrorRate      float64
}

// Config configures a Tracker. A Tracker with a nil OnSample is a no-op.
type Config struct {
	ReportInterval time.Duration
	OnSample       func(Snapshot)
}

// Tracker samples a Source on a ticker and reports Snapshots to
// Config.OnSample.
type Tracker struct {
	cfg    Config
	source Source
	start  time.Time

	stopOnce sync.Once
	stopCh   chan struct{}

	now func() time.Time
}

// New constructs a Tracker reading from source.
func New(cfg Config, source Source) *Tracker {
	return &Tracker{
		cfg:    cfg,
		source: source,
		start:  time.Now(),
		stopCh: make(chan struct{}),
		now:    time.Now,
	}
}

// Run drives the sampling loop until ctx is cancelled or Stop is called,
// emitting a final snapshot on the way out. A Tracker with no OnSample
// callback returns immediately.
func (t *Tracker) Run(ctx context.Context) {
	if t.cfg.OnSample == nil {
		return
	}
	interval := t.cfg.ReportInterval
	if interval <= 0 {
		interval = time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			t.emit()
			return
		case <-t.stopCh:
			t.emit()
			return
		case <-ticker.C:
			t.emit()
		}
	}
}

// Stop ends the Run loop early. Safe to call multiple times.
func (t *Tracker) Stop() {
	t.stopOnce.Do(func() { close(t.stopCh) })
}

func (t *Tracker) emit() {
	completed := t.source.ItemsCompleted()
	failures := t.source.TotalFailures()
	elapsed := t.now().Sub(t.start)

	snap := Snapshot{
		ActiveWorkers:  t.source.ActiveWorkers(),
		QueueDepth:     t.source.QueueDepth(),
		ItemsStarted:   t.source.ItemsStarted(),
		ItemsCompleted: completed,
		TotalRetries:   t.source.TotalRetries(),
		TotalFailures:  failures,
		ThrottleEvents: t.source.ThrottleEvents(),
		DrainEvents:    t.source.DrainEvents(),
		Elapsed:        elapsed,
	}
	if elapsed > 0 {
		snap.ItemsPerSecond = float64(completed) / elapsed.Seconds()
	}
	if completed > 0 {
		snap.ErrorRate = float64(failures) / float64(completed)
	}

	onSample := t.cfg.OnSample
	func() {
		defer func() { _ = recover() }()
		onSample(snap)
	}()
}
