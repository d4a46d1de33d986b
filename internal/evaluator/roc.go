// Copyright (C) IntelliMaint contributors.
// All rights reserved. This file is part of intellimaint.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package evaluator

import (
	"context"
	"fmt"

	"github.com/intellimaint/intellimaint/internal/obslog"
	"github.com/intellimaint/intellimaint/internal/ruleregistry"
	"github.com/intellimaint/intellimaint/internal/window"
	"github.com/intellimaint/intellimaint/pkg/schema"
)

// RoC is the sole writer into the shared SlidingWindow, then fires on
// absolute or percent rate-of-change against each RoC rule scoped to the
// sample.
type RoC struct {
	registry *ruleregistry.Registry
	window   *window.Window
	sink     AlarmSink
	debounce *debouncer
}

// NewRoC builds a RoC evaluator over the shared window w.
func NewRoC(registry *ruleregistry.Registry, w *window.Window, sink AlarmSink) *RoC {
	return &RoC{registry: registry, window: w, sink: sink, debounce: newDebouncer()}
}

// Run consumes samples from in until ctx is cancelled.
func (r *RoC) Run(ctx context.Context, in <-chan schema.TypedSample) {
	for {
		select {
		case <-ctx.Done():
			return
		case s, ok := <-in:
			if !ok {
				return
			}
			r.Evaluate(ctx, s)
		}
	}
}

// Evaluate ingests s into the shared window and checks every RoC rule
// scoped to s's (device, tag).
func (r *RoC) Evaluate(ctx context.Context, s schema.TypedSample) {
	value, ok := extractScalar(s)
	if !ok {
		return
	}
	r.window.Insert(s.DeviceID, s.TagID, s.Ts, value)

	snap := r.registry.Snapshot()
	rules := ruleregistry.ForTagDevice(snap.Roc, s.DeviceID, s.TagID)
	for _, rule := range rules {
		r.evaluateRule(ctx, rule, s)
	}
}

// SweepState drops debounce entries untouched for over a day.
func (r *RoC) SweepState() {
	r.debounce.sweep(nowMs(), stateIdleMs)
}

func (r *RoC) evaluateRule(ctx context.Context, rule schema.AlarmRule, s schema.TypedSample) {
	roc := r.window.GetRateOfChange(s.DeviceID, s.TagID, rule.RocWindowMs)
	if roc.Count < 2 {
		return
	}

	var metric float64
	switch rule.ConditionType {
	case schema.OpRocPercent:
		metric = roc.PercentChange
	default:
		metric = roc.AbsoluteChange
	}
	if metric < rule.Threshold {
		return
	}

	key := Key{RuleID: rule.RuleID, DeviceID: s.DeviceID, TagID: s.TagID}
	code := "RULE:" + rule.RuleID
	now := nowMs()
	debounceMs := rule.EffectiveDebounceMs()

	if r.debounce.shouldSuppress(key, now, debounceMs) {
		return
	}

	open, err := r.sink.HasOpenByCode(ctx, code)
	if err != nil {
		obslog.Warnf("evaluator/roc: dedup check failed for %s: %v", code, err)
		return
	}
	if open {
		r.debounce.recordSuppressed(key, now)
		return
	}

	intent := schema.AlarmIntent{
		DeviceID: s.DeviceID,
		TagID:    s.TagID,
		Ts:       s.Ts,
		Severity: rule.Severity,
		Code:     code,
		Message:  fmt.Sprintf("%s/%s rate of change %.4f over %dms", s.DeviceID, s.TagID, metric, rule.RocWindowMs),
	}
	if err := r.sink.Emit(ctx, intent); err != nil {
		obslog.Warnf("evaluator/roc: emit failed for %s: %v", code, err)
		return
	}
	r.debounce.recordEmitted(key, now)
}
