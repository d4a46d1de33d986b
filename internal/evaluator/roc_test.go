// Copyright (C) IntelliMaint contributors.
// All rights reserved. This file is part of intellimaint.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package evaluator

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/intellimaint/intellimaint/internal/window"
	"github.com/intellimaint/intellimaint/pkg/schema"
)

func TestRoCFiresOnPercentChange(t *testing.T) {
	rule := schema.AlarmRule{RuleID: "r1", Family: schema.FamilyRoc, TagID: "T1",
		ConditionType: schema.OpRocPercent, Threshold: 20, RocWindowMs: 60_000, Severity: 4}
	reg := newRegistry(t, rule)
	w := window.New()
	sink := newFakeSink()
	roc := NewRoC(reg, w, sink)
	ctx := context.Background()

	roc.Evaluate(ctx, schema.TypedSample{DeviceID: "D1", TagID: "T1", Ts: 1000, ValueType: schema.Float64, Value: 100.0})
	roc.Evaluate(ctx, schema.TypedSample{DeviceID: "D1", TagID: "T1", Ts: 2000, ValueType: schema.Float64, Value: 130.0})

	assert.Equal(t, 1, sink.emittedCount())
	assert.Equal(t, "RULE:r1", sink.emitted[0].Code)
}

func TestRoCRequiresAtLeastTwoPoints(t *testing.T) {
	rule := schema.AlarmRule{RuleID: "r1", Family: schema.FamilyRoc, TagID: "T1",
		ConditionType: schema.OpRocPercent, Threshold: 1, RocWindowMs: 60_000, Severity: 4}
	reg := newRegistry(t, rule)
	w := window.New()
	sink := newFakeSink()
	roc := NewRoC(reg, w, sink)

	roc.Evaluate(context.Background(), schema.TypedSample{DeviceID: "D1", TagID: "T1", Ts: 1000, ValueType: schema.Float64, Value: 100.0})
	assert.Equal(t, 0, sink.emittedCount())
}

func TestRoCUsesAbsoluteChangeWhenNotPercent(t *testing.T) {
	rule := schema.AlarmRule{RuleID: "r1", Family: schema.FamilyRoc, TagID: "T1",
		ConditionType: schema.OpRocAbsolute, Threshold: 10, RocWindowMs: 60_000, Severity: 4}
	reg := newRegistry(t, rule)
	w := window.New()
	sink := newFakeSink()
	roc := NewRoC(reg, w, sink)
	ctx := context.Background()

	roc.Evaluate(ctx, schema.TypedSample{DeviceID: "D1", TagID: "T1", Ts: 1000, ValueType: schema.Float64, Value: 100.0})
	roc.Evaluate(ctx, schema.TypedSample{DeviceID: "D1", TagID: "T1", Ts: 2000, ValueType: schema.Float64, Value: 108.0})
	assert.Equal(t, 0, sink.emittedCount(), "absolute change of 8 is below threshold 10")

	roc.Evaluate(ctx, schema.TypedSample{DeviceID: "D1", TagID: "T1", Ts: 3000, ValueType: schema.Float64, Value: 112.0})
	assert.Equal(t, 1, sink.emittedCount())
}
