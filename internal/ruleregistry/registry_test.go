// Copyright (C) IntelliMaint contributors.
// All rights reserved. This file is part of intellimaint.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package ruleregistry

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/intellimaint/intellimaint/pkg/schema"
)

type fakeRepo struct{ rules []schema.AlarmRule }

func (f fakeRepo) ListEnabled(ctx context.Context) ([]schema.AlarmRule, error) {
	return f.rules, nil
}

func TestRefreshPartitionsByFamily(t *testing.T) {
	repo := fakeRepo{rules: []schema.AlarmRule{
		{RuleID: "r1", Family: schema.FamilyThreshold},
		{RuleID: "r2", Family: schema.FamilyRoc},
		{RuleID: "r3", Family: schema.FamilyVolatility},
		{RuleID: "r4", Family: schema.FamilyOffline},
	}}
	reg := New(repo)
	require.NoError(t, reg.Refresh(context.Background()))

	snap := reg.Snapshot()
	assert.Len(t, snap.Threshold, 1)
	assert.Len(t, snap.Roc, 1)
	assert.Len(t, snap.Volatility, 1)
	assert.Len(t, snap.Offline, 1)
	assert.Len(t, snap.All, 4)
}

func TestForTagDeviceFiltersOptionalScope(t *testing.T) {
	rules := []schema.AlarmRule{
		{RuleID: "global", Family: schema.FamilyThreshold},
		{RuleID: "dev-only", DeviceID: "D1", Family: schema.FamilyThreshold},
		{RuleID: "tag-only", TagID: "T1", Family: schema.FamilyThreshold},
		{RuleID: "other-dev", DeviceID: "D2", Family: schema.FamilyThreshold},
	}
	out := ForTagDevice(rules, "D1", "T1")
	var ids []string
	for _, r := range out {
		ids = append(ids, r.RuleID)
	}
	assert.ElementsMatch(t, []string{"global", "dev-only", "tag-only"}, ids)
}
