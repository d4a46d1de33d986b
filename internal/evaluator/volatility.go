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

// Volatility reads the same shared SlidingWindow RoC populates and never
// inserts into it itself, to avoid double-counting samples in the window.
type Volatility struct {
	registry *ruleregistry.Registry
	window   *window.Window
	sink     AlarmSink
	debounce *debouncer
}

// NewVolatility builds a Volatility evaluator over the shared window w.
func NewVolatility(registry *ruleregistry.Registry, w *window.Window, sink AlarmSink) *Volatility {
	return &Volatility{registry: registry, window: w, sink: sink, debounce: newDebouncer()}
}

// Run consumes samples from in until ctx is cancelled.
func (v *Volatility) Run(ctx context.Context, in <-chan schema.TypedSample) {
	for {
		select {
		case <-ctx.Done():
			return
		case s, ok := <-in:
			if !ok {
				return
			}
			v.Evaluate(ctx, s)
		}
	}
}

// Evaluate checks every Volatility rule scoped to s's (device, tag) against
// the current window stddev. It does not ingest s into the window.
func (v *Volatility) Evaluate(ctx context.Context, s schema.TypedSample) {
	snap := v.registry.Snapshot()
	rules := ruleregistry.ForTagDevice(snap.Volatility, s.DeviceID, s.TagID)
	if len(rules) == 0 {
		return
	}

	stats := v.window.GetWindowStats(s.DeviceID, s.TagID)
	if stats.Count < 2 {
		return
	}

	for _, rule := range rules {
		v.evaluateRule(ctx, rule, s, stats)
	}
}

// SweepState drops debounce entries untouched for over a day.
func (v *Volatility) SweepState() {
	v.debounce.sweep(nowMs(), stateIdleMs)
}

func (v *Volatility) evaluateRule(ctx context.Context, rule schema.AlarmRule, s schema.TypedSample, stats window.Stats) {
	if stats.StdDev < rule.Threshold {
		return
	}

	key := Key{RuleID: rule.RuleID, DeviceID: s.DeviceID, TagID: s.TagID}
	code := "RULE:" + rule.RuleID
	now := nowMs()
	debounceMs := rule.EffectiveDebounceMs()

	if v.debounce.shouldSuppress(key, now, debounceMs) {
		return
	}

	open, err := v.sink.HasOpenByCode(ctx, code)
	if err != nil {
		obslog.Warnf("evaluator/volatility: dedup check failed for %s: %v", code, err)
		return
	}
	if open {
		v.debounce.recordSuppressed(key, now)
		return
	}

	intent := schema.AlarmIntent{
		DeviceID: s.DeviceID,
		TagID:    s.TagID,
		Ts:       s.Ts,
		Severity: rule.Severity,
		Code:     code,
		Message:  fmt.Sprintf("%s/%s stddev %.4f over %d samples", s.DeviceID, s.TagID, stats.StdDev, stats.Count),
	}
	if err := v.sink.Emit(ctx, intent); err != nil {
		obslog.Warnf("evaluator/volatility: emit failed for %s: %v", code, err)
		return
	}
	v.debounce.recordEmitted(key, now)
}
