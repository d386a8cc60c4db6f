package parapipe

import "sync/atomic"

// Counters accumulates telemetry across every pipeline that shares an
// instance. Unless overridden with WithCounters, every pipeline run updates
// the same process-wide instance (Default), so a process embedding several
// independent pipelines gets one place to read aggregate health from.
type Counters struct {
	ItemsStarted   atomic.Int64
	ItemsCompleted atomic.Int64
	TotalRetries   atomic.Int64
	TotalFailures  atomic.Int64
	ThrottleEvents atomic.Int64
	DrainEvents    atomic.Int64
}

// Default is the process-wide Counters instance used by every pipeline that
// does not configure its own via WithCounters.
var Default = &Counters{}

// CountersSnapshot is a point-in-time copy of Counters' fields, safe to read without
// races once taken.
type CountersSnapshot struct {
	ItemsStarted   int64
	ItemsCompleted int64
	TotalRetries   int64
	TotalFailures  int64
	ThrottleEvents int64
	DrainEvents    int64
}

// Snapshot reads every field of c atomically (though not as a single atomic
// transaction across fields).
func (c *Counters) Snapshot() CountersSnapshot {
	return CountersSnapshot{
		ItemsStarted:   c.ItemsStarted.Load(),
		ItemsCompleted: c.ItemsCompleted.Load(),
		TotalRetries:   c.TotalRetries.Load(),
		TotalFailures:  c.TotalFailures.Load(),
		ThrottleEvents: c.ThrottleEvents.Load(),
		DrainEvents:    c.DrainEvents.Load(),
	}
}

// pipelineCounters is the per-run counter set used internally to drive the
// progress and metrics trackers. It also feeds the shared Counters instance
// configured for the run, so process-wide totals stay in sync without the
// trackers needing to know about both.
type pipelineCounters struct {
	shared *Counters

	itemsStarted   atomic.Int64
	itemsCompleted atomic.Int64
	errors         atomic.Int64
	retries        atomic.Int64
	throttleEvents atomic.Int64
	drainEvents    atomic.Int64
	activeWorkers  atomic.Int64

	// queueLen backs QueueDepth with a live read of the input channel's
	// buffered length. Set by pipeline.go right after it creates that
	// channel, since pipelineCounters itself doesn't own it.
	queueLen func() int
}

func newPipelineCounters(shared *Counters) *pipelineCounters {
	if shared == nil {
		shared = Default
	}
	return &pipelineCounters{shared: shared}
}

func (c *pipelineCounters) startItem() {
	c.itemsStarted.Add(1)
	c.shared.ItemsStarted.Add(1)
}

func (c *pipelineCounters) completeItem() {
	c.itemsCompleted.Add(1)
	c.shared.ItemsCompleted.Add(1)
}

func (c *pipelineCounters) recordRetry() {
	c.retries.Add(1)
	c.shared.TotalRetries.Add(1)
}

func (c *pipelineCounters) recordFailure() {
	c.errors.Add(1)
	c.shared.TotalFailures.Add(1)
}

func (c *pipelineCounters) recordThrottle() {
	c.throttleEvents.Add(1)
	c.shared.ThrottleEvents.Add(1)
}

func (c *pipelineCounters) recordDrain() {
	c.drainEvents.Add(1)
	c.shared.DrainEvents.Add(1)
}

// Methods below implement the progress.Source and metrics.Source interfaces
// on *pipelineCounters, so it can be handed directly to both trackers.

func (c *pipelineCounters) ItemsStarted() int64   { return c.itemsStarted.Load() }
func (c *pipelineCounters) ItemsCompleted() int64 { return c.itemsCompleted.Load() }
func (c *pipelineCounters) Errors() int64         { return c.errors.Load() }
func (c *pipelineCounters) TotalRetries() int64   { return c.retries.Load() }
func (c *pipelineCounters) TotalFailures() int64  { return c.errors.Load() }
func (c *pipelineCounters) ThrottleEvents() int64 { return c.throttleEvents.Load() }
func (c *pipelineCounters) DrainEvents() int64    { return c.drainEvents.Load() }
func (c *pipelineCounters) ActiveWorkers() int    { return int(c.activeWorkers.Load()) }

func (c *pipelineCounters) QueueDepth() int {
	if c.queueLen == nil {
		return 0
	}
	return c.queueLen()
}
