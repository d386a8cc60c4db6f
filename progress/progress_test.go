package progress

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeSource struct {
	started, completed, errs int64
}

func (f *fakeSource) ItemsStarted() int64   { return f.started }
func (f *fakeSource) ItemsCompleted() int64 { return f.completed }
func (f *fakeSource) Errors() int64         { return f.errs }

func TestTracker_NoOpWithoutOnSample(t *testing.T) {
	tr := New(Config{}, &fakeSource{})
	done := make(chan struct{})
	go func() {
		tr.Run(context.Background())
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("expected Run to return immediately when OnSample is nil")
	}
}

func TestTracker_EmitsSnapshotOnStop(t *testing.T) {
	src := &fakeSource{started: 5, completed: 3, errs: 1}
	var got Snapshot
	tr := New(Config{ReportInterval: time.Hour, OnSample: func(s Snapshot) { got = s }}, src)

	done := make(chan struct{})
	go func() {
		tr.Run(context.Background())
		close(done)
	}()
	tr.Stop()
	<-done

	assert.Equal(t, int64(5), got.ItemsStarted)
	assert.Equal(t, int64(3), got.ItemsCompleted)
	assert.Equal(t, int64(1), got.ErrorCount)
}

func TestTracker_PercentCompleteAndETA(t *testing.T) {
	src := &fakeSource{started: 10, completed: 5}
	total := int64(10)

	snapCh := make(chan Snapshot, 1)
	tr := New(Config{ReportInterval: time.Hour, TotalItems: &total, OnSample: func(s Snapshot) {
		select {
		case snapCh <- s:
		default:
		}
	}}, src)
	tr.now = func() time.Time { return tr.start.Add(5 * time.Second) }

	done := make(chan struct{})
	go func() {
		tr.Run(context.Background())
		close(done)
	}()
	tr.Stop()
	<-done

	snap := <-snapCh
	require.NotNil(t, snap.TotalItems)
	assert.Equal(t, int64(10), *snap.TotalItems)
	require.NotNil(t, snap.PercentComplete)
	assert.InDelta(t, 0.5, *snap.PercentComplete, 0.001)
	assert.InDelta(t, 1.0, snap.ItemsPerSecond, 0.001)
	require.NotNil(t, snap.EstimatedTimeRemaining)
	assert.InDelta(t, 5*time.Second, *snap.EstimatedTimeRemaining, float64(100*time.Millisecond))
}

func TestTracker_StopIsIdempotent(t *testing.T) {
	tr := New(Config{ReportInterval: time.Millisecond, OnSample: func(Snapshot) {}}, &fakeSource{})
	done := make(chan struct{})
	go func() {
		tr.Run(context.Background())
		close(done)
	}()
	tr.Stop()
	tr.Stop()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("expected Run to return after Stop")
	}
}

func TestTracker_RunEndsOnContextCancellation(t *testing.T) {
	tr := New(Config{ReportInterval: time.Millisecond, OnSample: func(Snapshot) {}}, &fakeSource{})
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		tr.Run(ctx)
		close(done)
	}()
	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("expected Run to return after context cancellation")
	}
}
