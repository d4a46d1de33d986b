// Copyright (C) IntelliMaint contributors.
// All rights reserved. This file is part of intellimaint.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

// Package writer implements a batching writer: it reads a dispatcher target
// until a batch size or flush interval is reached, writes the batch via a
// Repository, retries with exponential backoff, and hands permanently-failed
// batches to an OverflowSink rather than dropping them.
package writer

import (
	"container/ring"
	"context"
	"sort"
	"sync"
	"time"

	"github.com/intellimaint/intellimaint/internal/obslog"
	"github.com/intellimaint/intellimaint/pkg/schema"
)

// Defaults for batch size, flush cadence, and retry backoff.
const (
	DefaultBatchSize  = 500
	DefaultFlushMs    = 1000
	DefaultMaxRetries = 5
	DefaultBaseDelay  = 500 * time.Millisecond
	DefaultMaxDelay   = 30 * time.Second
	latencyWindowSize = 100
)

// Repository is the durable telemetry sink a BatchWriter appends into.
type Repository interface {
	AppendBatch(ctx context.Context, samples []schema.TypedSample) error
}

// OverflowSink receives batches the writer could not persist after
// exhausting retries.
type OverflowSink interface {
	Write(ctx context.Context, samples []schema.TypedSample) error
}

// Stats holds the writer's lifetime counters, the latency of its latest
// successful write, and the p95 latency over the last 100 successful writes.
type Stats struct {
	WrittenTotal int64
	Batches      int64
	Retries      int64
	Overflowed   int64
	LastWriteMs  int64
	P95Ms        int64
}

// Config tunes a Writer's batching and retry behavior.
type Config struct {
	BatchSize  int
	FlushMs    int64
	MaxRetries int
	BaseDelay  time.Duration
	MaxDelay   time.Duration
}

func (c Config) withDefaults() Config {
	if c.BatchSize <= 0 {
		c.BatchSize = DefaultBatchSize
	}
	if c.FlushMs <= 0 {
		c.FlushMs = DefaultFlushMs
	}
	if c.MaxRetries <= 0 {
		c.MaxRetries = DefaultMaxRetries
	}
	if c.BaseDelay <= 0 {
		c.BaseDelay = DefaultBaseDelay
	}
	if c.MaxDelay <= 0 {
		c.MaxDelay = DefaultMaxDelay
	}
	return c
}

// Writer is the C7 BatchWriter.
type Writer struct {
	repo     Repository
	overflow OverflowSink
	cfg      Config

	mu           sync.Mutex
	writtenTotal int64
	batches      int64
	retries      int64
	overflowed   int64
	lastWriteMs  int64
	latencies    *ring.Ring
}

// New builds a Writer persisting through repo and spilling exhausted
// batches to overflow; Run supplies the input channel.
func New(repo Repository, overflow OverflowSink, cfg Config) *Writer {
	return &Writer{
		repo:      repo,
		overflow:  overflow,
		cfg:       cfg.withDefaults(),
		latencies: ring.New(latencyWindowSize),
	}
}

// Run accumulates batches from in until ctx is cancelled, then drains the
// remainder with an uncancellable write context so in-flight samples still
// reach the repository instead of being dropped on shutdown.
func (w *Writer) Run(ctx context.Context, in <-chan schema.TypedSample) {
	flushTimer := time.NewTimer(time.Duration(w.cfg.FlushMs) * time.Millisecond)
	defer flushTimer.Stop()

	batch := make([]schema.TypedSample, 0, w.cfg.BatchSize)

	flush := func(ctx context.Context) {
		if len(batch) == 0 {
			return
		}
		w.writeWithRetry(ctx, batch)
		batch = make([]schema.TypedSample, 0, w.cfg.BatchSize)
	}

	for {
		select {
		case <-ctx.Done():
			w.drain(in, &batch)
			flush(context.Background())
			return
		case s, ok := <-in:
			if !ok {
				flush(context.Background())
				return
			}
			batch = append(batch, s)
			if len(batch) >= w.cfg.BatchSize {
				flush(ctx)
				flushTimer.Reset(time.Duration(w.cfg.FlushMs) * time.Millisecond)
			}
		case <-flushTimer.C:
			flush(ctx)
			flushTimer.Reset(time.Duration(w.cfg.FlushMs) * time.Millisecond)
		}
	}
}

// drain pulls every sample currently buffered in the channel without
// blocking, so a shutdown doesn't lose in-flight samples.
func (w *Writer) drain(in <-chan schema.TypedSample, batch *[]schema.TypedSample) {
	for {
		select {
		case s, ok := <-in:
			if !ok {
				return
			}
			*batch = append(*batch, s)
		default:
			return
		}
	}
}

func (w *Writer) writeWithRetry(ctx context.Context, batch []schema.TypedSample) {
	start := time.Now()
	delay := w.cfg.BaseDelay

retryLoop:
	for attempt := 0; attempt <= w.cfg.MaxRetries; attempt++ {
		err := w.repo.AppendBatch(ctx, batch)
		if err == nil {
			w.recordSuccess(start, len(batch))
			return
		}

		obslog.Warnf("writer: append batch failed (attempt %d/%d): %v", attempt+1, w.cfg.MaxRetries+1, err)
		if attempt == w.cfg.MaxRetries {
			break
		}

		w.mu.Lock()
		w.retries++
		w.mu.Unlock()

		select {
		case <-time.After(delay):
		case <-ctx.Done():
			break retryLoop
		}
		delay *= 2
		if delay > w.cfg.MaxDelay {
			delay = w.cfg.MaxDelay
		}
	}

	w.overflowBatch(batch)
}

func (w *Writer) overflowBatch(batch []schema.TypedSample) {
	w.mu.Lock()
	w.overflowed += int64(len(batch))
	w.mu.Unlock()

	if w.overflow == nil {
		obslog.Errorf("writer: no overflow sink configured, %d samples lost", len(batch))
		return
	}
	// Overflow writes must never be cancelled by the caller's context, so a
	// batch that exhausted its retries still lands on disk instead of
	// vanishing silently.
	if err := w.overflow.Write(context.Background(), batch); err != nil {
		obslog.Errorf("writer: overflow sink write failed, %d samples lost: %v", len(batch), err)
	}
}

func (w *Writer) recordSuccess(start time.Time, n int) {
	elapsedMs := time.Since(start).Milliseconds()
	w.mu.Lock()
	defer w.mu.Unlock()
	w.writtenTotal += int64(n)
	w.batches++
	w.lastWriteMs = elapsedMs
	w.latencies.Value = elapsedMs
	w.latencies = w.latencies.Next()
}

// Stats returns a snapshot of the writer's counters, including p95 latency
// over the last 100 successful writes.
func (w *Writer) Stats() Stats {
	w.mu.Lock()
	defer w.mu.Unlock()

	samples := make([]int64, 0, latencyWindowSize)
	w.latencies.Do(func(v any) {
		if v == nil {
			return
		}
		samples = append(samples, v.(int64))
	})
	sort.Slice(samples, func(i, j int) bool { return samples[i] < samples[j] })

	var p95 int64
	if len(samples) > 0 {
		idx := int(float64(len(samples)) * 0.95)
		if idx >= len(samples) {
			idx = len(samples) - 1
		}
		p95 = samples[idx]
	}

	return Stats{
		WrittenTotal: w.writtenTotal,
		Batches:      w.batches,
		Retries:      w.retries,
		Overflowed:   w.overflowed,
		LastWriteMs:  w.lastWriteMs,
		P95Ms:        p95,
	}
}
