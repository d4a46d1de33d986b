// Copyright (C) IntelliMaint contributors.
// All rights reserved. This file is part of intellimaint.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

// Package dispatcher implements the fan-out stage between the ingest
// pipeline and its downstream consumers: one bounded queue per target
// (writer, threshold, roc, volatility, last-data-tracker), a fast try-write
// path, and a short hard-deadline slow path so one lagging target can never
// back-pressure the others.
package dispatcher

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/intellimaint/intellimaint/internal/obslog"
	"github.com/intellimaint/intellimaint/internal/pipeline"
	"github.com/intellimaint/intellimaint/pkg/schema"
)

// SlowPathDeadline is the hard per-target wait before a sample is dropped
// on the slow path.
const SlowPathDeadline = 10 * time.Millisecond

// TargetCounters reports a target's delivery outcome. FastPathMiss and
// DropDeadline are independent signals, not two halves of one "dropped"
// total: FastPathMiss counts every time the fast try-write found the queue
// already full, whether or not the slow path subsequently delivered the
// sample, so it measures contention rather than loss. DropDeadline is the
// only counter that represents a sample this target actually never
// received — use it alone when a true drop count is needed.
type TargetCounters struct {
	Delivered    int64
	FastPathMiss int64
	DropDeadline int64
}

// Target is one bounded downstream consumer queue.
type Target struct {
	Name         string
	ch           chan schema.TypedSample
	delivered    atomic.Int64
	fastPathMiss atomic.Int64
	dropDeadline atomic.Int64
}

// NewTarget builds a Target with the given queue capacity.
func NewTarget(name string, capacity int) *Target {
	if capacity <= 0 {
		capacity = 10_000
	}
	return &Target{Name: name, ch: make(chan schema.TypedSample, capacity)}
}

// Chan exposes the target's queue for the owning consumer's read loop.
func (t *Target) Chan() <-chan schema.TypedSample { return t.ch }

// Counters returns a snapshot of this target's delivery/drop counters.
func (t *Target) Counters() TargetCounters {
	return TargetCounters{
		Delivered:    t.delivered.Load(),
		FastPathMiss: t.fastPathMiss.Load(),
		DropDeadline: t.dropDeadline.Load(),
	}
}

// Dispatcher reads a Pipeline and replicates each sample to every Target.
type Dispatcher struct {
	in      *pipeline.Pipeline
	targets []*Target
}

// New builds a Dispatcher over the given Pipeline and targets.
func New(in *pipeline.Pipeline, targets ...*Target) *Dispatcher {
	return &Dispatcher{in: in, targets: targets}
}

// Run drains the Pipeline until ctx is cancelled, fanning each sample out
// to every target. Targets may skew relative to each other under load;
// only per-target FIFO is guaranteed.
func (d *Dispatcher) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case s, ok := <-d.in.Chan():
			if !ok {
				return
			}
			d.fanOut(ctx, s)
		}
	}
}

func (d *Dispatcher) fanOut(ctx context.Context, s schema.TypedSample) {
	var lagging []*Target

	// Fast path: try-write on every target first. A miss here is only
	// contention, not yet a loss — the slow path below gets a chance to
	// recover it, so fastPathMiss must not be read as a drop count.
	for _, t := range d.targets {
		select {
		case t.ch <- s:
			t.delivered.Add(1)
		default:
			t.fastPathMiss.Add(1)
			lagging = append(lagging, t)
		}
	}
	if len(lagging) == 0 {
		return
	}

	// Slow path: wait concurrently on each lagging target with a hard
	// per-target deadline, so one slow consumer cannot delay delivery to
	// another.
	deadline, cancel := context.WithTimeout(ctx, SlowPathDeadline)
	defer cancel()

	var wg sync.WaitGroup
	wg.Add(len(lagging))
	for _, t := range lagging {
		go func(t *Target) {
			defer wg.Done()
			select {
			case t.ch <- s:
				t.delivered.Add(1)
			case <-deadline.Done():
				t.dropDeadline.Add(1)
				obslog.Debugf("dispatcher: target %s dropped sample %s/%s after slow-path deadline", t.Name, s.DeviceID, s.TagID)
			}
		}(t)
	}
	wg.Wait()
}
