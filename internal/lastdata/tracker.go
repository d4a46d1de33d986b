// Copyright (C) IntelliMaint contributors.
// All rights reserved. This file is part of intellimaint.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

// Package lastdata tracks the most recent observation timestamp per
// (device, tag): an in-memory (device,tag) -> max(ts) map with concurrent
// max-merge inserts, plus a pending-changes map flushed to durable storage
// every 5s so the offline detector survives a restart without replaying the
// full sample history.
package lastdata

import (
	"context"
	"sync"
	"time"

	"github.com/intellimaint/intellimaint/internal/obslog"
	"github.com/intellimaint/intellimaint/pkg/schema"
)

// FlushInterval is the default pending-change flush cadence;
// cmd/intellimaint registers Flush on it as a scheduler job.
const FlushInterval = 5 * time.Second

// Key identifies a (device, tag) pair.
type Key struct {
	DeviceID string
	TagID    string
}

// Store is the durable collaborator LastDataTracker flushes into. A flush
// failure re-enqueues the affected keys for the next tick.
type Store interface {
	UpsertLastSeen(ctx context.Context, updates map[Key]int64) error
}

// Tracker tracks the most recent timestamp observed per (device, tag).
type Tracker struct {
	mu      sync.Mutex
	lastTs  map[Key]int64
	pending map[Key]int64
	store   Store
}

// New builds a Tracker backed by store (nil disables persistence; the
// in-memory map still serves OfflineDetector reads).
func New(store Store) *Tracker {
	return &Tracker{
		lastTs:  make(map[Key]int64),
		pending: make(map[Key]int64),
		store:   store,
	}
}

// Observe records ts for (deviceID, tagID) using max-merge: concurrent
// observers never move the tracked value backwards.
func (t *Tracker) Observe(deviceID, tagID string, ts int64) {
	k := Key{deviceID, tagID}
	t.mu.Lock()
	defer t.mu.Unlock()
	if cur, ok := t.lastTs[k]; !ok || ts > cur {
		t.lastTs[k] = ts
		t.pending[k] = ts
	}
}

// Seed preloads lastTs from a durable snapshot (e.g. SQLiteStore's
// last_seen table or a recovered avro checkpoint) without marking the
// entries pending; only new Observe calls dirty the flush queue.
func (t *Tracker) Seed(snapshot map[Key]int64) {
	t.mu.Lock()
	defer t.mu.Unlock()
	for k, ts := range snapshot {
		if cur, ok := t.lastTs[k]; !ok || ts > cur {
			t.lastTs[k] = ts
		}
	}
}

// Get returns the most recent ts for (deviceID, tagID) and whether any
// observation has ever been recorded.
func (t *Tracker) Get(deviceID, tagID string) (int64, bool) {
	k := Key{deviceID, tagID}
	t.mu.Lock()
	defer t.mu.Unlock()
	ts, ok := t.lastTs[k]
	return ts, ok
}

// Snapshot returns a copy of every tracked (device, tag) -> ts pair, used by
// OfflineDetector's sweep.
func (t *Tracker) Snapshot() map[Key]int64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make(map[Key]int64, len(t.lastTs))
	for k, v := range t.lastTs {
		out[k] = v
	}
	return out
}

// Flush pushes accumulated pending changes to Store via a single batched
// upsert. On failure, the pending changes are re-enqueued for the next tick
// rather than discarded.
func (t *Tracker) Flush(ctx context.Context) error {
	if t.store == nil {
		return nil
	}

	t.mu.Lock()
	if len(t.pending) == 0 {
		t.mu.Unlock()
		return nil
	}
	batch := t.pending
	t.pending = make(map[Key]int64)
	t.mu.Unlock()

	if err := t.store.UpsertLastSeen(ctx, batch); err != nil {
		obslog.Warnf("lastdata: flush failed, re-enqueuing %d updates: %v", len(batch), err)
		t.mu.Lock()
		for k, v := range batch {
			if cur, ok := t.pending[k]; !ok || v > cur {
				t.pending[k] = v
			}
		}
		t.mu.Unlock()
		return err
	}
	return nil
}

// Consume reads from the tracker's own dispatcher target and records each
// sample's timestamp until in closes or ctx is cancelled.
func (t *Tracker) Consume(ctx context.Context, in <-chan schema.TypedSample) {
	for {
		select {
		case <-ctx.Done():
			return
		case s, ok := <-in:
			if !ok {
				return
			}
			t.Observe(s.DeviceID, s.TagID, s.Ts)
		}
	}
}
