// Copyright (C) IntelliMaint contributors.
// All rights reserved. This file is part of intellimaint.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package evaluator

import (
	"context"
	"fmt"
	"time"

	"github.com/intellimaint/intellimaint/internal/lastdata"
	"github.com/intellimaint/intellimaint/internal/obslog"
	"github.com/intellimaint/intellimaint/internal/ruleregistry"
	"github.com/intellimaint/intellimaint/pkg/schema"
)

// SweepInterval is the default Offline sweep cadence; cmd/intellimaint
// registers Sweep on it as a scheduler job.
const SweepInterval = 5 * time.Second

// Offline implements a periodic sweep over every Offline
// rule, comparing now - LastDataTracker.Get(device, tag) against the rule's
// threshold, interpreted uniformly as milliseconds.
type Offline struct {
	registry *ruleregistry.Registry
	tracker  *lastdata.Tracker
	sink     AlarmSink
	debounce *debouncer
}

// NewOffline builds an Offline evaluator reading last-seen timestamps from
// tracker.
func NewOffline(registry *ruleregistry.Registry, tracker *lastdata.Tracker, sink AlarmSink) *Offline {
	return &Offline{registry: registry, tracker: tracker, sink: sink, debounce: newDebouncer()}
}

// Sweep evaluates every Offline rule against the current LastDataTracker
// snapshot.
func (o *Offline) Sweep(ctx context.Context) {
	snap := o.registry.Snapshot()
	if len(snap.Offline) == 0 {
		return
	}

	now := time.Now().UnixMilli()
	for _, rule := range snap.Offline {
		o.evaluateRule(ctx, rule, now)
	}
}

// SweepState drops debounce entries untouched for over a day.
func (o *Offline) SweepState() {
	o.debounce.sweep(nowMs(), stateIdleMs)
}

func (o *Offline) evaluateRule(ctx context.Context, rule schema.AlarmRule, now int64) {
	if rule.DeviceID == "" || rule.TagID == "" {
		// Offline rules require an explicit (device, tag) scope; a global
		// offline rule has no single last-seen timestamp to sweep against.
		return
	}

	// A tag with no observation on record yet is treated as offline:
	// its last-seen timestamp is taken as the epoch, so age always
	// exceeds the rule's threshold.
	lastSeen, ok := o.tracker.Get(rule.DeviceID, rule.TagID)
	if !ok {
		lastSeen = 0
	}
	age := now - lastSeen
	if age < int64(rule.Threshold) {
		return
	}

	key := Key{RuleID: rule.RuleID, DeviceID: rule.DeviceID, TagID: rule.TagID}
	code := "OFFLINE:" + rule.RuleID
	debounceMs := rule.EffectiveDebounceMs()

	if o.debounce.shouldSuppress(key, now, debounceMs) {
		return
	}

	open, err := o.sink.HasOpenByCode(ctx, code)
	if err != nil {
		obslog.Warnf("evaluator/offline: dedup check failed for %s: %v", code, err)
		return
	}
	if open {
		o.debounce.recordSuppressed(key, now)
		return
	}

	intent := schema.AlarmIntent{
		DeviceID: rule.DeviceID,
		TagID:    rule.TagID,
		Ts:       now,
		Severity: rule.Severity,
		Code:     code,
		Message:  fmt.Sprintf("%s/%s offline for %dms", rule.DeviceID, rule.TagID, age),
	}
	if err := o.sink.Emit(ctx, intent); err != nil {
		obslog.Warnf("evaluator/offline: emit failed for %s: %v", code, err)
		return
	}
	o.debounce.recordEmitted(key, now)
}
