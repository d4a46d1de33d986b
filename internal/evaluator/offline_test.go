// Copyright (C) IntelliMaint contributors.
// All rights reserved. This file is part of intellimaint.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package evaluator

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/intellimaint/intellimaint/internal/lastdata"
	"github.com/intellimaint/intellimaint/pkg/schema"
)

func TestOfflineFiresWhenAgeExceedsMillisecondThreshold(t *testing.T) {
	rule := schema.AlarmRule{RuleID: "r1", Family: schema.FamilyOffline, DeviceID: "D1", TagID: "T1",
		Threshold: 5000, Severity: 5}
	reg := newRegistry(t, rule)
	tracker := lastdata.New(nil)
	tracker.Observe("D1", "T1", time.Now().UnixMilli()-10_000)

	sink := newFakeSink()
	off := NewOffline(reg, tracker, sink)
	off.Sweep(context.Background())

	require := assert.New(t)
	require.Equal(1, sink.emittedCount())
	require.Equal("OFFLINE:r1", sink.emitted[0].Code)
}

func TestOfflineDoesNotFireWhenRecentlySeen(t *testing.T) {
	rule := schema.AlarmRule{RuleID: "r1", Family: schema.FamilyOffline, DeviceID: "D1", TagID: "T1",
		Threshold: 60_000, Severity: 5}
	reg := newRegistry(t, rule)
	tracker := lastdata.New(nil)
	tracker.Observe("D1", "T1", time.Now().UnixMilli())

	sink := newFakeSink()
	off := NewOffline(reg, tracker, sink)
	off.Sweep(context.Background())
	assert.Equal(t, 0, sink.emittedCount())
}

func TestOfflineFiresWhenNeverObserved(t *testing.T) {
	rule := schema.AlarmRule{RuleID: "r1", Family: schema.FamilyOffline, DeviceID: "D1", TagID: "T1", Threshold: 1000}
	reg := newRegistry(t, rule)
	tracker := lastdata.New(nil)

	sink := newFakeSink()
	off := NewOffline(reg, tracker, sink)
	off.Sweep(context.Background())
	// A tag with no recorded lastTs at all is treated as offline when the
	// rule is configured to do so, which is the default.
	assert.Equal(t, 1, sink.emittedCount())
	assert.Equal(t, "OFFLINE:r1", sink.emitted[0].Code)
}

func TestOfflineSkipsUnscopedRule(t *testing.T) {
	rule := schema.AlarmRule{RuleID: "r1", Family: schema.FamilyOffline, Threshold: 1000}
	reg := newRegistry(t, rule)
	tracker := lastdata.New(nil)
	tracker.Observe("D1", "T1", time.Now().UnixMilli()-10_000)

	sink := newFakeSink()
	off := NewOffline(reg, tracker, sink)
	off.Sweep(context.Background())
	assert.Equal(t, 0, sink.emittedCount(), "offline rules without an explicit (device,tag) scope are skipped")
}
