// Copyright (C) IntelliMaint contributors.
// All rights reserved. This file is part of intellimaint.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package aggregator

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/intellimaint/intellimaint/pkg/schema"
)

type memGroupStore struct {
	mu      sync.Mutex
	groups  map[string]schema.AlarmGroup
	members map[string][]string
}

func newMemGroupStore() *memGroupStore {
	return &memGroupStore{groups: make(map[string]schema.AlarmGroup), members: make(map[string][]string)}
}

func (m *memGroupStore) GetActiveGroup(ctx context.Context, deviceID, ruleID string) (schema.AlarmGroup, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, g := range m.groups {
		if g.DeviceID == deviceID && g.RuleID == ruleID && g.AggregateStatus != schema.StatusClosed {
			return g, true, nil
		}
	}
	return schema.AlarmGroup{}, false, nil
}

func (m *memGroupStore) SaveGroup(ctx context.Context, group schema.AlarmGroup) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.groups[group.GroupID] = group
	return nil
}

func (m *memGroupStore) LinkMember(ctx context.Context, groupID, alarmID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.members[groupID] = append(m.members[groupID], alarmID)
	return nil
}

func TestExtractRuleIDTakesColonSuffix(t *testing.T) {
	assert.Equal(t, "r1", ExtractRuleID("RULE:r1"))
	assert.Equal(t, "r7", ExtractRuleID("OFFLINE:r7"))
	assert.Equal(t, "bare-code", ExtractRuleID("bare-code"))
}

func TestExtractRuleIDSanitizesDisallowedChars(t *testing.T) {
	assert.Equal(t, "r1_2_3", ExtractRuleID("RULE:r1 2/3"))
}

func TestAggregateCreatesThenExtendsGroup(t *testing.T) {
	store := newMemGroupStore()
	agg := New(store)
	ctx := context.Background()

	a1 := schema.AlarmRecord{AlarmID: "a1", DeviceID: "D1", Ts: 1000, Severity: 2, Code: "RULE:r1"}
	g1, err := agg.Aggregate(ctx, a1)
	require.NoError(t, err)
	assert.Equal(t, 1, g1.AlarmCount)
	assert.Equal(t, 2, g1.Severity)

	a2 := schema.AlarmRecord{AlarmID: "a2", DeviceID: "D1", Ts: 2000, Severity: 5, Code: "RULE:r1"}
	g2, err := agg.Aggregate(ctx, a2)
	require.NoError(t, err)
	assert.Equal(t, g1.GroupID, g2.GroupID)
	assert.Equal(t, 2, g2.AlarmCount)
	assert.Equal(t, 5, g2.Severity, "severity rolls up to max of members")
	assert.Len(t, store.members[g2.GroupID], 2)
}

func TestAggregateReplacesMessageOnExtend(t *testing.T) {
	store := newMemGroupStore()
	agg := New(store)
	ctx := context.Background()

	a1 := schema.AlarmRecord{AlarmID: "a1", DeviceID: "D1", Ts: 1000, Severity: 2, Code: "RULE:r1", Message: "first"}
	g1, err := agg.Aggregate(ctx, a1)
	require.NoError(t, err)
	assert.Equal(t, "first", g1.Message)

	a2 := schema.AlarmRecord{AlarmID: "a2", DeviceID: "D1", Ts: 2000, Severity: 1, Code: "RULE:r1", Message: "second"}
	g2, err := agg.Aggregate(ctx, a2)
	require.NoError(t, err)
	assert.Equal(t, "second", g2.Message, "Message is replaced by the most recently folded-in member")
}

func TestAggregateSeparatesByDeviceAndRule(t *testing.T) {
	store := newMemGroupStore()
	agg := New(store)
	ctx := context.Background()

	g1, err := agg.Aggregate(ctx, schema.AlarmRecord{AlarmID: "a1", DeviceID: "D1", Ts: 1000, Severity: 1, Code: "RULE:r1"})
	require.NoError(t, err)
	g2, err := agg.Aggregate(ctx, schema.AlarmRecord{AlarmID: "a2", DeviceID: "D2", Ts: 1000, Severity: 1, Code: "RULE:r1"})
	require.NoError(t, err)
	assert.NotEqual(t, g1.GroupID, g2.GroupID)
}

func TestAggregateIgnoresClosedGroupsWhenLookingUpActive(t *testing.T) {
	store := newMemGroupStore()
	agg := New(store)
	ctx := context.Background()

	g1, err := agg.Aggregate(ctx, schema.AlarmRecord{AlarmID: "a1", DeviceID: "D1", Ts: 1000, Severity: 1, Code: "RULE:r1"})
	require.NoError(t, err)

	g1.AggregateStatus = schema.StatusClosed
	require.NoError(t, store.SaveGroup(ctx, g1))

	g2, err := agg.Aggregate(ctx, schema.AlarmRecord{AlarmID: "a2", DeviceID: "D1", Ts: 2000, Severity: 1, Code: "RULE:r1"})
	require.NoError(t, err)
	assert.NotEqual(t, g1.GroupID, g2.GroupID, "a closed group must not be extended")
}
