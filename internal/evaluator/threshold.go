// Copyright (C) IntelliMaint contributors.
// All rights reserved. This file is part of intellimaint.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package evaluator

import (
	"context"
	"fmt"
	"sync"

	"github.com/intellimaint/intellimaint/internal/obslog"
	"github.com/intellimaint/intellimaint/internal/ruleregistry"
	"github.com/intellimaint/intellimaint/pkg/schema"
)

type thresholdPhase int

const (
	phaseIdle thresholdPhase = iota
	phaseArmed
)

type thresholdState struct {
	phase     thresholdPhase
	startMs   int64 // event time: the Ts of the sample that armed the gate
	touchedMs int64 // wall clock, for the idle-state sweep
}

// Threshold implements a per-rule Idle/Armed/FireCandidate/Emit state
// machine gated by a duration hold and a debounce + open-alarm dedup check
// before emitting.
type Threshold struct {
	registry *ruleregistry.Registry
	sink     AlarmSink
	debounce *debouncer

	mu    sync.Mutex
	state map[Key]*thresholdState
}

// NewThreshold builds a Threshold evaluator reading rules from registry and
// emitting through sink.
func NewThreshold(registry *ruleregistry.Registry, sink AlarmSink) *Threshold {
	return &Threshold{
		registry: registry,
		sink:     sink,
		debounce: newDebouncer(),
		state:    make(map[Key]*thresholdState),
	}
}

// Run consumes samples from in until ctx is cancelled.
func (t *Threshold) Run(ctx context.Context, in <-chan schema.TypedSample) {
	for {
		select {
		case <-ctx.Done():
			return
		case s, ok := <-in:
			if !ok {
				return
			}
			t.Evaluate(ctx, s)
		}
	}
}

// Evaluate advances the state machine for every Threshold rule matching
// s's (device, tag) scope.
func (t *Threshold) Evaluate(ctx context.Context, s schema.TypedSample) {
	snap := t.registry.Snapshot()
	rules := ruleregistry.ForTagDevice(snap.Threshold, s.DeviceID, s.TagID)
	if len(rules) == 0 {
		return
	}

	value, ok := extractScalar(s)
	if !ok {
		return
	}

	for _, rule := range rules {
		t.evaluateRule(ctx, rule, s, value)
	}
}

func (t *Threshold) evaluateRule(ctx context.Context, rule schema.AlarmRule, s schema.TypedSample, value float64) {
	key := Key{RuleID: rule.RuleID, DeviceID: s.DeviceID, TagID: s.TagID}
	cond := compare(rule.ConditionType, value, rule.Threshold)

	t.mu.Lock()
	st, ok := t.state[key]
	if !ok {
		st = &thresholdState{phase: phaseIdle}
		t.state[key] = st
	}
	st.touchedMs = nowMs()

	// The duration gate runs on event time (the samples' own Ts), not wall
	// clock: a replayed or bursty backlog whose samples arrive within the
	// same wall-clock instant must gate exactly as the live stream would.
	switch st.phase {
	case phaseIdle:
		if !cond {
			t.mu.Unlock()
			return
		}
		// Arm at this sample's timestamp, then immediately fall through to
		// the duration-gate check below with elapsed=0: a zero-duration rule
		// must fire off this very sample rather than waiting for the next
		// one to observe the gate.
		st.phase = phaseArmed
		st.startMs = s.Ts
		fallthrough
	case phaseArmed:
		if !cond {
			st.phase = phaseIdle
			t.mu.Unlock()
			return
		}
		if s.Ts-st.startMs < rule.DurationMs {
			t.mu.Unlock()
			return
		}
		// Fire candidate: reset to Idle regardless of outcome, so the
		// duration gate re-arms from scratch whether this emits or not.
		st.phase = phaseIdle
		t.mu.Unlock()
	default:
		t.mu.Unlock()
		return
	}

	t.fireCandidate(ctx, key, rule, s, nowMs())
}

func (t *Threshold) fireCandidate(ctx context.Context, key Key, rule schema.AlarmRule, s schema.TypedSample, now int64) {
	code := "RULE:" + rule.RuleID
	debounceMs := rule.EffectiveDebounceMs()

	if t.debounce.shouldSuppress(key, now, debounceMs) {
		return
	}

	open, err := t.sink.HasOpenByCode(ctx, code)
	if err != nil {
		obslog.Warnf("evaluator/threshold: dedup check failed for %s: %v", code, err)
		return
	}
	if open {
		t.debounce.recordSuppressed(key, now)
		return
	}

	intent := schema.AlarmIntent{
		DeviceID: s.DeviceID,
		TagID:    s.TagID,
		Ts:       s.Ts,
		Severity: rule.Severity,
		Code:     code,
		Message:  thresholdMessage(rule, s),
	}
	if err := t.sink.Emit(ctx, intent); err != nil {
		obslog.Warnf("evaluator/threshold: emit failed for %s: %v", code, err)
		return
	}
	t.debounce.recordEmitted(key, now)
}

// SweepState drops per-key duration-gate and debounce entries that have sat
// untouched for over a day, so rules for decommissioned tags don't pin their
// state forever. Registered as a periodic job by the caller.
func (t *Threshold) SweepState() {
	now := nowMs()
	t.mu.Lock()
	for k, st := range t.state {
		if now-st.touchedMs > stateIdleMs {
			delete(t.state, k)
		}
	}
	t.mu.Unlock()
	t.debounce.sweep(now, stateIdleMs)
}

func thresholdMessage(rule schema.AlarmRule, s schema.TypedSample) string {
	if rule.MessageTemplate != "" {
		return rule.MessageTemplate
	}
	return fmt.Sprintf("%s/%s %s %s %g", s.DeviceID, s.TagID, rule.ConditionType, "threshold", rule.Threshold)
}
