// Copyright (C) IntelliMaint contributors.
// All rights reserved. This file is part of intellimaint.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package checkpoint

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/intellimaint/intellimaint/internal/lastdata"
)

func TestSaveThenLoadRoundTrips(t *testing.T) {
	dir := t.TempDir()
	tracker := lastdata.New(nil)
	tracker.Observe("D1", "T1", 12345)
	tracker.Observe("D2", "T2", 67890)

	cp, err := New(tracker, dir)
	require.NoError(t, err)

	path, err := cp.Save()
	require.NoError(t, err)

	restored := lastdata.New(nil)
	cp2, err := New(restored, dir)
	require.NoError(t, err)
	require.NoError(t, cp2.Load(path))

	ts, ok := restored.Get("D1", "T1")
	require.True(t, ok)
	assert.EqualValues(t, 12345, ts)

	ts, ok = restored.Get("D2", "T2")
	require.True(t, ok)
	assert.EqualValues(t, 67890, ts)
}

func TestLatestFindsNewestCheckpoint(t *testing.T) {
	dir := t.TempDir()

	_, ok, err := Latest(dir)
	require.NoError(t, err)
	assert.False(t, ok, "empty dir has no checkpoint yet")

	tracker := lastdata.New(nil)
	cp, err := New(tracker, dir)
	require.NoError(t, err)

	first, err := cp.Save()
	require.NoError(t, err)

	path, ok, err := Latest(dir)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, first, path)
}
