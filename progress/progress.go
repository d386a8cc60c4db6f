// Package progress implements a periodic progress-snapshot sampler over a
// running pipeline's item counters.
package progress

import (
	"context"
	"sync"
	"time"
)

// Source is the subset of a pipeline's counters a Tracker needs to read.
// parapipe's internal counters implement this directly.
type Source interface {
	ItemsStarted() int64
	ItemsCompleted() int64
	Errors() int64
}

// Snapshot is a point-in-time view of a run's progress.
type Snapshot struct {
	ItemsStarted   int64
	ItemsCompleted int64
	ErrorCount     int64
	Elapsed        time.Duration
	ItemsPerSecond float64

	// TotalItems and the fields derived from it are nil unless Config.TotalItems
	// was set, since an unbounded/streaming source has no known total.
	TotalItems             *int64
	PercentComplete        *float64
	EstimatedTimeRemaining *time.Duration
}

// Config configures a Tracker. A Tracker with a nil OnSample is a no-op:
// Run returns immediately without starting a ticker, so an unconfigured
// progress tracker costs nothing on the hot path.
type Config struct {
	ReportInterval time.Duration
	OnSample       func(Snapshot)
	// TotalItems, if known ahead of time, enables PercentComplete and
	// EstimatedTimeRemaining in every Snapshot.
	TotalItems *int64
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
	started := t.source.ItemsStarted()
	completed := t.source.ItemsCompleted()
	elapsed := t.now().Sub(t.start)

	snap := Snapshot{
		ItemsStarted:   started,
		ItemsCompleted: completed,
		ErrorCount:     t.source.Errors(),
		Elapsed:        elapsed,
	}
	if elapsed > 0 {
		snap.ItemsPerSecond = float64(completed) / elapsed.Seconds()
	}
	if t.cfg.TotalItems != nil {
		total := *t.cfg.TotalItems
		snap.TotalItems = &total
		if total > 0 {
			pct := float64(completed) / float64(total)
			snap.PercentComplete = &pct
			if snap.ItemsPerSecond > 0 && completed < total {
				remainingSeconds := float64(total-completed) / snap.ItemsPerSecond
				remaining := time.Duration(remainingSeconds * float64(time.Second))
				snap.EstimatedTimeRemaining = &remaining
			}
		}
	}

	onSample := t.cfg.OnSample
	func() {
		defer func() { _ = recover() }()
		onSample(snap)
	}()
}
