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

func TestVolatilityFiresOnStdDevWithoutReinserting(t *testing.T) {
	rule := schema.AlarmRule{RuleID: "r1", Family: schema.FamilyVolatility, TagID: "T1",
		Threshold: 5, Severity: 2}
	reg := newRegistry(t, rule)
	w := window.New()
	// Simulate RoC having already populated the shared window.
	w.Insert("D1", "T1", 1000, 10)
	w.Insert("D1", "T1", 2000, 40)

	sink := newFakeSink()
	vol := NewVolatility(reg, w, sink)
	vol.Evaluate(context.Background(), schema.TypedSample{DeviceID: "D1", TagID: "T1", Ts: 2000, ValueType: schema.Float64, Value: 40})

	assert.Equal(t, 1, sink.emittedCount())
	assert.Equal(t, 2, w.Count("D1", "T1"), "volatility must not insert into the shared window")
}

func TestVolatilityRequiresAtLeastTwoPoints(t *testing.T) {
	rule := schema.AlarmRule{RuleID: "r1", Family: schema.FamilyVolatility, TagID: "T1", Threshold: 1, Severity: 2}
	reg := newRegistry(t, rule)
	w := window.New()
	w.Insert("D1", "T1", 1000, 10)

	sink := newFakeSink()
	vol := NewVolatility(reg, w, sink)
	vol.Evaluate(context.Background(), schema.TypedSample{DeviceID: "D1", TagID: "T1", Ts: 1000, ValueType: schema.Float64, Value: 10})
	assert.Equal(t, 0, sink.emittedCount())
}

func TestVolatilityBelowThresholdDoesNotFire(t *testing.T) {
	rule := schema.AlarmRule{RuleID: "r1", Family: schema.FamilyVolatility, TagID: "T1", Threshold: 100, Severity: 2}
	reg := newRegistry(t, rule)
	w := window.New()
	w.Insert("D1", "T1", 1000, 10)
	w.Insert("D1", "T1", 2000, 11)

	sink := newFakeSink()
	vol := NewVolatility(reg, w, sink)
	vol.Evaluate(context.Background(), schema.TypedSample{DeviceID: "D1", TagID: "T1", Ts: 2000, ValueType: schema.Float64, Value: 11})
	assert.Equal(t, 0, sink.emittedCount())
}
