// Copyright (C) IntelliMaint contributors.
// All rights reserved. This file is part of intellimaint.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

// Package checkpoint periodically serializes LastDataTracker state to disk
// as Avro so a restart doesn't forget every (device, tag)'s last-seen
// timestamp.
package checkpoint

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/linkedin/goavro/v2"

	"github.com/intellimaint/intellimaint/internal/lastdata"
	"github.com/intellimaint/intellimaint/internal/obslog"
)

// Interval is the default checkpoint cadence.
const Interval = 5 * time.Minute

const avroSchema = `{
  "type": "record",
  "name": "LastSeenEntry",
  "fields": [
    {"name": "deviceId", "type": "string"},
    {"name": "tagId", "type": "string"},
    {"name": "ts", "type": "long"}
  ]
}`

// Checkpointer periodically snapshots a lastdata.Tracker to an Avro file.
type Checkpointer struct {
	tracker *lastdata.Tracker
	dir     string
	codec   *goavro.Codec
}

// New builds a Checkpointer writing snapshots of tracker under dir.
func New(tracker *lastdata.Tracker, dir string) (*Checkpointer, error) {
	codec, err := goavro.NewCodec(avroSchema)
	if err != nil {
		return nil, fmt.Errorf("checkpoint: build codec: %w", err)
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("checkpoint: create dir: %w", err)
	}
	return &Checkpointer{tracker: tracker, dir: dir, codec: codec}, nil
}

// Save writes the current tracker snapshot to a timestamped Avro file and
// returns its path.
func (c *Checkpointer) Save() (string, error) {
	snap := c.tracker.Snapshot()

	buf := make([]byte, 0, len(snap)*32)
	var err error
	for key, ts := range snap {
		native := map[string]any{
			"deviceId": key.DeviceID,
			"tagId":    key.TagID,
			"ts":       ts,
		}
		buf, err = c.codec.BinaryFromNative(buf, native)
		if err != nil {
			return "", fmt.Errorf("checkpoint: encode entry: %w", err)
		}
	}

	path := filepath.Join(c.dir, fmt.Sprintf("lastdata_%s.avro", time.Now().UTC().Format("20060102_150405")))
	if err := os.WriteFile(path, buf, 0o644); err != nil {
		return "", fmt.Errorf("checkpoint: write file: %w", err)
	}
	return path, nil
}

// Load reads a previously saved checkpoint file back into tracker, used on
// process restart to avoid a burst of false Offline alarms.
func (c *Checkpointer) Load(path string) error {
	buf, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("checkpoint: read file: %w", err)
	}

	for len(buf) > 0 {
		native, rest, err := c.codec.NativeFromBinary(buf)
		if err != nil {
			return fmt.Errorf("checkpoint: decode entry: %w", err)
		}
		buf = rest

		rec, ok := native.(map[string]any)
		if !ok {
			continue
		}
		deviceID, _ := rec["deviceId"].(string)
		tagID, _ := rec["tagId"].(string)
		ts, _ := rec["ts"].(int64)
		c.tracker.Observe(deviceID, tagID, ts)
	}
	return nil
}

// Latest returns the path of the most recently written checkpoint file
// under dir, or ok=false if none exists yet (e.g. first run). Filenames sort
// lexically by their embedded timestamp, so the last match is the newest.
func Latest(dir string) (path string, ok bool, err error) {
	matches, err := filepath.Glob(filepath.Join(dir, "lastdata_*.avro"))
	if err != nil {
		return "", false, fmt.Errorf("checkpoint: glob %s: %w", dir, err)
	}
	if len(matches) == 0 {
		return "", false, nil
	}
	sort.Strings(matches)
	return matches[len(matches)-1], true, nil
}

// Run saves a checkpoint on Interval until ctx is cancelled.
func (c *Checkpointer) Run(ctx context.Context) {
	ticker := time.NewTicker(Interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			path, err := c.Save()
			if err != nil {
				obslog.Warnf("checkpoint: save failed: %v", err)
				continue
			}
			obslog.Debugf("checkpoint: saved %s", path)
		}
	}
}
