// Copyright (C) IntelliMaint contributors.
// All rights reserved. This file is part of intellimaint.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

// Package evaluator implements the four alarm evaluators: Threshold, RoC,
// Volatility, and Offline. All four share one debounce/dedup contract
// against an AlarmSink.
package evaluator

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/intellimaint/intellimaint/internal/aggregator"
	"github.com/intellimaint/intellimaint/internal/alarmstore"
	"github.com/intellimaint/intellimaint/pkg/schema"
)

// Key identifies one rule's evaluation state for one (device, tag) pair.
type Key struct {
	RuleID   string
	DeviceID string
	TagID    string
}

// AlarmSink is the narrow interface evaluators emit through: a dedup check
// against the store's open-code index, followed by an emit that persists
// the record and folds it into its alarm group.
type AlarmSink interface {
	HasOpenByCode(ctx context.Context, code string) (bool, error)
	Emit(ctx context.Context, intent schema.AlarmIntent) error
}

// StoreSink is the default AlarmSink, composing the alarm store and the
// aggregator: evaluator -> aggregator -> store.
type StoreSink struct {
	Store      alarmstore.Store
	Aggregator *aggregator.Aggregator
}

// NewStoreSink builds a StoreSink over store and agg.
func NewStoreSink(store alarmstore.Store, agg *aggregator.Aggregator) *StoreSink {
	return &StoreSink{Store: store, Aggregator: agg}
}

func (s *StoreSink) HasOpenByCode(ctx context.Context, code string) (bool, error) {
	return s.Store.HasOpenByCode(ctx, code)
}

// Emit persists intent as a new AlarmRecord and folds it into its group.
// A unique-constraint rejection from a racing writer is treated as success:
// the alarm is already open, which is exactly the state the caller wanted.
func (s *StoreSink) Emit(ctx context.Context, intent schema.AlarmIntent) error {
	record := alarmstore.NewRecord(uuid.NewString(), intent.DeviceID, intent.TagID, intent.Ts, intent.Severity, intent.Code, intent.Message)
	if err := s.Store.Create(ctx, record); err != nil {
		var uv *alarmstore.ErrUniqueViolation
		if !errors.As(err, &uv) {
			return err
		}
		return nil
	}
	_, err := s.Aggregator.Aggregate(ctx, record)
	return err
}

// StateSweepInterval is how often per-rule runtime state (duration-gate and
// debounce maps) is swept for idle entries; stateIdleMs is the idle age at
// which an entry is dropped.
const (
	StateSweepInterval = 5 * time.Minute
	stateIdleMs        = int64(24 * time.Hour / time.Millisecond)
)

// debouncer tracks the last time a (rule, device, tag) key was suppressed
// so repeated fire candidates don't hammer the store with open-code checks.
type debouncer struct {
	mu          sync.Mutex
	lastCheckMs map[Key]int64
	hasSuppress map[Key]bool
}

func newDebouncer() *debouncer {
	return &debouncer{lastCheckMs: make(map[Key]int64), hasSuppress: make(map[Key]bool)}
}

// shouldSuppress reports whether key was checked within debounceMs of nowMs,
// without making a new HasOpenByCode round trip.
func (d *debouncer) shouldSuppress(key Key, nowMs, debounceMs int64) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	last, ok := d.hasSuppress[key]
	if !ok || !last {
		return false
	}
	lastMs := d.lastCheckMs[key]
	return nowMs-lastMs < debounceMs
}

func (d *debouncer) recordSuppressed(key Key, nowMs int64) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.lastCheckMs[key] = nowMs
	d.hasSuppress[key] = true
}

func (d *debouncer) recordEmitted(key Key, nowMs int64) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.lastCheckMs[key] = nowMs
	d.hasSuppress[key] = false
}

// sweep drops entries untouched for longer than maxIdleMs and returns how
// many were removed.
func (d *debouncer) sweep(nowMs, maxIdleMs int64) int {
	d.mu.Lock()
	defer d.mu.Unlock()
	removed := 0
	for k, last := range d.lastCheckMs {
		if nowMs-last > maxIdleMs {
			delete(d.lastCheckMs, k)
			delete(d.hasSuppress, k)
			removed++
		}
	}
	return removed
}

// extractScalar applies the evaluators' shared scalar-extraction rule:
// booleans -> {0,1}, numeric types widen to float64, strings parse,
// anything else is skipped.
func extractScalar(s schema.TypedSample) (float64, bool) {
	return s.AsFloat64()
}

func nowMs() int64 {
	return time.Now().UnixMilli()
}

func compare(op schema.ConditionOperator, value, threshold float64) bool {
	switch op {
	case schema.OpGT:
		return value > threshold
	case schema.OpGE:
		return value >= threshold
	case schema.OpLT:
		return value < threshold
	case schema.OpLE:
		return value <= threshold
	case schema.OpEQ:
		return absDiff(value, threshold) <= schema.EqTolerance
	case schema.OpNE:
		return absDiff(value, threshold) > schema.EqTolerance
	default:
		return false
	}
}

func absDiff(a, b float64) float64 {
	d := a - b
	if d < 0 {
		return -d
	}
	return d
}
