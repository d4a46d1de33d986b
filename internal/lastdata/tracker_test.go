// Copyright (C) IntelliMaint contributors.
// All rights reserved. This file is part of intellimaint.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package lastdata

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type memStore struct {
	mu      sync.Mutex
	fail    bool
	applied map[Key]int64
}

func (m *memStore) UpsertLastSeen(ctx context.Context, updates map[Key]int64) error {
	if m.fail {
		return errors.New("simulated store failure")
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.applied == nil {
		m.applied = make(map[Key]int64)
	}
	for k, v := range updates {
		m.applied[k] = v
	}
	return nil
}

func TestObserveIsMaxMerge(t *testing.T) {
	tr := New(nil)
	tr.Observe("D", "T", 100)
	tr.Observe("D", "T", 50) // must not move backwards
	ts, ok := tr.Get("D", "T")
	require.True(t, ok)
	assert.EqualValues(t, 100, ts)
}

func TestFlushFailureReenqueues(t *testing.T) {
	store := &memStore{fail: true}
	tr := New(store)
	tr.Observe("D", "T", 123)

	err := tr.Flush(context.Background())
	assert.Error(t, err)

	store.fail = false
	require.NoError(t, tr.Flush(context.Background()))
	assert.EqualValues(t, 123, store.applied[Key{"D", "T"}])
}

func TestFlushNoOpWhenNothingPending(t *testing.T) {
	store := &memStore{}
	tr := New(store)
	require.NoError(t, tr.Flush(context.Background()))
	assert.Nil(t, store.applied)
}
