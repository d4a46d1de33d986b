// Copyright (C) IntelliMaint contributors.
// All rights reserved. This file is part of intellimaint.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package alarmstore

import (
	"context"
	"fmt"

	"github.com/intellimaint/intellimaint/internal/lastdata"
)

// UpsertLastSeen implements lastdata.Store on top of the same sqlite3
// database as the alarm tables, so a single file backs both C15's durable
// checkpoint fallback and C17's alarm history. Batched in one transaction;
// the upsert only advances ts, matching Tracker's own max-merge semantics
// in case a stale batch races a newer one to disk.
func (s *SQLiteStore) UpsertLastSeen(ctx context.Context, updates map[lastdata.Key]int64) error {
	if len(updates) == 0 {
		return nil
	}

	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("alarmstore: last-seen begin: %w", err)
	}
	defer tx.Rollback()

	const stmt = `
		INSERT INTO last_seen (device_id, tag_id, ts) VALUES (?, ?, ?)
		ON CONFLICT(device_id, tag_id) DO UPDATE SET ts = excluded.ts
		WHERE excluded.ts > last_seen.ts`

	for k, ts := range updates {
		if _, err := tx.ExecContext(ctx, stmt, k.DeviceID, k.TagID, ts); err != nil {
			return fmt.Errorf("alarmstore: last-seen upsert %s/%s: %w", k.DeviceID, k.TagID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("alarmstore: last-seen commit: %w", err)
	}
	return nil
}

// LoadLastSeen reads the full last_seen table, used at startup to seed a
// Tracker's in-memory state from the durable checkpoint before avro
// recovery (or in place of it, when no avro checkpoint file exists yet).
func (s *SQLiteStore) LoadLastSeen(ctx context.Context) (map[lastdata.Key]int64, error) {
	rows, err := s.db.QueryxContext(ctx, "SELECT device_id, tag_id, ts FROM last_seen")
	if err != nil {
		return nil, fmt.Errorf("alarmstore: last-seen load: %w", err)
	}
	defer rows.Close()

	out := make(map[lastdata.Key]int64)
	for rows.Next() {
		var deviceID, tagID string
		var ts int64
		if err := rows.Scan(&deviceID, &tagID, &ts); err != nil {
			return nil, fmt.Errorf("alarmstore: last-seen scan: %w", err)
		}
		out[lastdata.Key{DeviceID: deviceID, TagID: tagID}] = ts
	}
	return out, rows.Err()
}
