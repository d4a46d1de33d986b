// Copyright (C) IntelliMaint contributors.
// All rights reserved. This file is part of intellimaint.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

// Package aggregator groups alarms sharing (deviceId, extracted ruleId) into
// an AlarmGroup, rolling up severity and membership counts.
package aggregator

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/intellimaint/intellimaint/pkg/schema"
)

// GroupStore is the persistence collaborator for AlarmGroup records. The
// sqlite-backed implementation lives alongside alarmstore but is kept as a
// separate interface so the aggregator never depends on alarm-row shape.
type GroupStore interface {
	GetActiveGroup(ctx context.Context, deviceID, ruleID string) (schema.AlarmGroup, bool, error)
	SaveGroup(ctx context.Context, group schema.AlarmGroup) error
	LinkMember(ctx context.Context, groupID, alarmID string) error
}

// Aggregator groups schema.AlarmRecord occurrences into AlarmGroups.
type Aggregator struct {
	store GroupStore

	mu sync.Mutex
}

// New builds an Aggregator backed by store.
func New(store GroupStore) *Aggregator {
	return &Aggregator{store: store}
}

// ExtractRuleID pulls the ruleId out of an alarm code ("RULE:r1" -> "r1",
// "OFFLINE:r7" -> "r7", bare codes pass through unchanged), then sanitizes
// it to [A-Za-z0-9_-].
func ExtractRuleID(code string) string {
	ruleID := code
	if idx := strings.Index(code, ":"); idx >= 0 {
		ruleID = code[idx+1:]
	}
	return sanitize(ruleID)
}

func sanitize(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	for _, r := range s {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '_', r == '-':
			b.WriteRune(r)
		default:
			b.WriteRune('_')
		}
	}
	return b.String()
}

// Aggregate folds alarm into its (deviceId, extractedRuleId) group, creating
// one if none is active, and returns the resulting group.
func (a *Aggregator) Aggregate(ctx context.Context, alarm schema.AlarmRecord) (schema.AlarmGroup, error) {
	ruleID := ExtractRuleID(alarm.Code)

	// Serialize read-modify-write per aggregator instance; concurrent
	// evaluators sharing one Aggregator must not race on group creation.
	a.mu.Lock()
	defer a.mu.Unlock()

	occurred := time.UnixMilli(alarm.Ts).UTC()

	group, found, err := a.store.GetActiveGroup(ctx, alarm.DeviceID, ruleID)
	if err != nil {
		return schema.AlarmGroup{}, fmt.Errorf("aggregator: lookup group: %w", err)
	}

	if found {
		group.AlarmCount++
		if occurred.After(group.LastOccurredUtc) {
			group.LastOccurredUtc = occurred
		}
		if alarm.Severity > group.Severity {
			group.Severity = alarm.Severity
		}
		group.Message = alarm.Message
	} else {
		group = schema.AlarmGroup{
			GroupID:          fmt.Sprintf("grp-%s-%s-%d", alarm.DeviceID, ruleID, alarm.Ts),
			DeviceID:         alarm.DeviceID,
			RuleID:           ruleID,
			Severity:         alarm.Severity,
			AlarmCount:       1,
			Message:          alarm.Message,
			FirstOccurredUtc: occurred,
			LastOccurredUtc:  occurred,
			AggregateStatus:  schema.StatusOpen,
		}
	}

	if err := a.store.SaveGroup(ctx, group); err != nil {
		return schema.AlarmGroup{}, fmt.Errorf("aggregator: save group: %w", err)
	}
	if err := a.store.LinkMember(ctx, group.GroupID, alarm.AlarmID); err != nil {
		return schema.AlarmGroup{}, fmt.Errorf("aggregator: link member: %w", err)
	}
	return group, nil
}
