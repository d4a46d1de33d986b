// Copyright (C) IntelliMaint contributors.
// All rights reserved. This file is part of intellimaint.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

// Package pipeline implements the bounded single-queue fan-in buffer that
// sits between every collector and the dispatcher: a fixed-capacity channel
// with drop-oldest overflow semantics and counters that always satisfy
// totalReceived = totalWritten + totalDropped, so downstream consumers can
// account for every sample the collectors produced.
package pipeline

import (
	"sync/atomic"

	"github.com/intellimaint/intellimaint/pkg/schema"
)

// DefaultGlobalCapacity is the default Pipeline capacity.
const DefaultGlobalCapacity = 100_000

// Counters is a point-in-time snapshot of Pipeline activity.
type Counters struct {
	TotalReceived int64
	TotalWritten  int64
	TotalDropped  int64
	QueueDepth    int64
}

// Pipeline is a bounded FIFO of TypedSample with drop-oldest overflow: when
// full, Put drops the oldest buffered sample (not the incoming one) to make
// room, so the ingest frontier always advances.
type Pipeline struct {
	ch            chan schema.TypedSample
	totalReceived atomic.Int64
	totalWritten  atomic.Int64
	totalDropped  atomic.Int64
}

// New builds a Pipeline with the given capacity (0 = DefaultGlobalCapacity).
func New(capacity int) *Pipeline {
	if capacity <= 0 {
		capacity = DefaultGlobalCapacity
	}
	return &Pipeline{ch: make(chan schema.TypedSample, capacity)}
}

// Put enqueues s, dropping the oldest buffered sample if the queue is full.
// Put never blocks.
func (p *Pipeline) Put(s schema.TypedSample) {
	p.totalReceived.Add(1)
	for {
		select {
		case p.ch <- s:
			p.totalWritten.Add(1)
			return
		default:
		}

		select {
		case <-p.ch:
			// The evicted sample was counted as written when it was
			// enqueued; move it to dropped so the totals still balance.
			p.totalWritten.Add(-1)
			p.totalDropped.Add(1)
		default:
			// Raced with a concurrent consumer that just freed a slot;
			// retry the enqueue instead of dropping a sample we didn't
			// need to.
		}
	}
}

// Chan exposes the underlying channel for the Dispatcher's read loop.
func (p *Pipeline) Chan() <-chan schema.TypedSample { return p.ch }

// Counters returns a snapshot of the Pipeline's activity counters.
func (p *Pipeline) Counters() Counters {
	return Counters{
		TotalReceived: p.totalReceived.Load(),
		TotalWritten:  p.totalWritten.Load(),
		TotalDropped:  p.totalDropped.Load(),
		QueueDepth:    int64(len(p.ch)),
	}
}
