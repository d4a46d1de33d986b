// Copyright (C) IntelliMaint contributors.
// All rights reserved. This file is part of intellimaint.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package health

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSnapshotStartsConnected(t *testing.T) {
	tr := New()
	snap := tr.Snapshot("E1")
	assert.Equal(t, Connected, snap.State)
}

func TestSnapshotDegradesAfterOneError(t *testing.T) {
	tr := New()
	tr.RecordError("E1", Timeout)
	snap := tr.Snapshot("E1")
	assert.Equal(t, Degraded, snap.State)
	assert.EqualValues(t, 1, snap.ErrorCounts[Timeout])
}

func TestSnapshotDisconnectsAfterFiveConsecutiveErrors(t *testing.T) {
	tr := New()
	for i := 0; i < 5; i++ {
		tr.RecordError("E1", NoRoute)
	}
	snap := tr.Snapshot("E1")
	assert.Equal(t, Disconnected, snap.State)
}

func TestSuccessResetsConsecutiveErrors(t *testing.T) {
	tr := New()
	tr.RecordError("E1", Timeout)
	tr.RecordError("E1", Timeout)
	tr.RecordSuccess("E1", 42)
	snap := tr.Snapshot("E1")
	assert.Equal(t, Connected, snap.State)
	assert.EqualValues(t, 42, snap.AvgLatencyMs)
}

func TestAllReturnsSortedSnapshots(t *testing.T) {
	tr := New()
	tr.RecordSuccess("E2", 1)
	tr.RecordSuccess("E1", 1)
	all := tr.All()
	assert.Len(t, all, 2)
	assert.Equal(t, "E1", all[0].EndpointID)
	assert.Equal(t, "E2", all[1].EndpointID)
}
