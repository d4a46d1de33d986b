// Copyright (C) IntelliMaint contributors.
// All rights reserved. This file is part of intellimaint.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package evaluator

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/intellimaint/intellimaint/internal/ruleregistry"
	"github.com/intellimaint/intellimaint/pkg/schema"
)

func newRegistry(t *testing.T, rules ...schema.AlarmRule) *ruleregistry.Registry {
	t.Helper()
	reg := ruleregistry.New(fakeRepo{rules: rules})
	require.NoError(t, reg.Refresh(context.Background()))
	return reg
}

func TestThresholdFiresImmediatelyWhenDurationIsZero(t *testing.T) {
	rule := schema.AlarmRule{RuleID: "r1", Family: schema.FamilyThreshold, TagID: "T1",
		ConditionType: schema.OpGT, Threshold: 90, Severity: 3}
	reg := newRegistry(t, rule)
	sink := newFakeSink()
	th := NewThreshold(reg, sink)

	sample := schema.TypedSample{DeviceID: "D1", TagID: "T1", Ts: 1000, ValueType: schema.Float64, Value: 95.0}
	th.Evaluate(context.Background(), sample)

	require.Equal(t, 1, sink.emittedCount())
	assert.Equal(t, "RULE:r1", sink.emitted[0].Code)
}

func TestThresholdDedupsAgainstOpenAlarm(t *testing.T) {
	rule := schema.AlarmRule{RuleID: "r1", Family: schema.FamilyThreshold, TagID: "T1",
		ConditionType: schema.OpGT, Threshold: 90, Severity: 3}
	reg := newRegistry(t, rule)
	sink := newFakeSink()
	sink.open["RULE:r1"] = true
	th := NewThreshold(reg, sink)

	sample := schema.TypedSample{DeviceID: "D1", TagID: "T1", Ts: 1000, ValueType: schema.Float64, Value: 95.0}
	th.Evaluate(context.Background(), sample)

	assert.Equal(t, 0, sink.emittedCount(), "must not emit while an alarm for this code is already open")
}

func TestThresholdHoldsForDurationBeforeFiring(t *testing.T) {
	rule := schema.AlarmRule{RuleID: "r2", Family: schema.FamilyThreshold, TagID: "T1",
		ConditionType: schema.OpGT, Threshold: 100, Severity: 3, DurationMs: 2000}
	reg := newRegistry(t, rule)
	sink := newFakeSink()
	th := NewThreshold(reg, sink)

	ctx := context.Background()
	th.Evaluate(ctx, schema.TypedSample{DeviceID: "D1", TagID: "T1", Ts: 1000, ValueType: schema.Float64, Value: 110.0})
	assert.Equal(t, 0, sink.emittedCount(), "duration gate must hold off the first sample")

	// The gate measures event time, so a second sample whose Ts is 2500ms
	// past the arming sample satisfies the 2000ms gate even though both
	// Evaluate calls happen back to back in wall-clock terms.
	th.Evaluate(ctx, schema.TypedSample{DeviceID: "D1", TagID: "T1", Ts: 3500, ValueType: schema.Float64, Value: 110.0})
	assert.Equal(t, 1, sink.emittedCount(), "duration elapsed in event time, fire candidate must emit")
}

func TestThresholdDurationGateIgnoresWallClock(t *testing.T) {
	rule := schema.AlarmRule{RuleID: "r2", Family: schema.FamilyThreshold, TagID: "T1",
		ConditionType: schema.OpGT, Threshold: 100, Severity: 3, DurationMs: 2000}
	reg := newRegistry(t, rule)
	sink := newFakeSink()
	th := NewThreshold(reg, sink)

	ctx := context.Background()
	th.Evaluate(ctx, schema.TypedSample{DeviceID: "D1", TagID: "T1", Ts: 1000, ValueType: schema.Float64, Value: 110.0})
	th.Evaluate(ctx, schema.TypedSample{DeviceID: "D1", TagID: "T1", Ts: 1500, ValueType: schema.Float64, Value: 110.0})
	assert.Equal(t, 0, sink.emittedCount(), "500ms of event time must not satisfy a 2000ms gate, however long the calls take")
}

func TestThresholdReturnsToIdleWhenConditionClears(t *testing.T) {
	rule := schema.AlarmRule{RuleID: "r1", Family: schema.FamilyThreshold, TagID: "T1",
		ConditionType: schema.OpGT, Threshold: 90, Severity: 3, DurationMs: 5000}
	reg := newRegistry(t, rule)
	sink := newFakeSink()
	th := NewThreshold(reg, sink)
	ctx := context.Background()

	th.Evaluate(ctx, schema.TypedSample{DeviceID: "D1", TagID: "T1", Ts: 1000, ValueType: schema.Float64, Value: 95.0})
	th.Evaluate(ctx, schema.TypedSample{DeviceID: "D1", TagID: "T1", Ts: 1500, ValueType: schema.Float64, Value: 10.0})

	key := Key{RuleID: "r1", DeviceID: "D1", TagID: "T1"}
	th.mu.Lock()
	phase := th.state[key].phase
	th.mu.Unlock()
	assert.Equal(t, phaseIdle, phase)
}

func TestSweepStateDropsIdleEntries(t *testing.T) {
	rule := schema.AlarmRule{RuleID: "r1", Family: schema.FamilyThreshold, TagID: "T1",
		ConditionType: schema.OpGT, Threshold: 90, Severity: 3, DurationMs: 5000}
	reg := newRegistry(t, rule)
	sink := newFakeSink()
	th := NewThreshold(reg, sink)
	ctx := context.Background()

	th.Evaluate(ctx, schema.TypedSample{DeviceID: "D1", TagID: "T1", Ts: 1000, ValueType: schema.Float64, Value: 95.0})

	key := Key{RuleID: "r1", DeviceID: "D1", TagID: "T1"}
	th.mu.Lock()
	require.Contains(t, th.state, key)
	th.state[key].touchedMs = nowMs() - stateIdleMs - 1
	th.mu.Unlock()

	th.SweepState()

	th.mu.Lock()
	_, ok := th.state[key]
	th.mu.Unlock()
	assert.False(t, ok, "entries idle past the sweep age must be dropped")
}

func TestThresholdIgnoresUnscopedRule(t *testing.T) {
	rule := schema.AlarmRule{RuleID: "r1", Family: schema.FamilyThreshold, TagID: "OTHER",
		ConditionType: schema.OpGT, Threshold: 90, Severity: 3}
	reg := newRegistry(t, rule)
	sink := newFakeSink()
	th := NewThreshold(reg, sink)

	th.Evaluate(context.Background(), schema.TypedSample{DeviceID: "D1", TagID: "T1", Ts: 1000, ValueType: schema.Float64, Value: 95.0})
	assert.Equal(t, 0, sink.emittedCount())
}
