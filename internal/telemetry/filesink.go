// Copyright (C) IntelliMaint contributors.
// All rights reserved. This file is part of intellimaint.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package telemetry

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// FileSink is the default Sink used when no NATS bridge is configured: it
// appends every published line-protocol payload to a rolling local file,
// the same size-based rotation internal/overflow uses for its own sink.
type FileSink struct {
	dir        string
	rollSizeMB int64

	mu      sync.Mutex
	file    *os.File
	written int64
}

// NewFileSink builds a FileSink writing under dir, creating it if needed.
// rollSizeMB <= 0 defaults to 64MB.
func NewFileSink(dir string, rollSizeMB int64) (*FileSink, error) {
	if rollSizeMB <= 0 {
		rollSizeMB = 64
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("telemetry: create dir: %w", err)
	}
	return &FileSink{dir: dir, rollSizeMB: rollSizeMB}, nil
}

// Publish appends payload, newline-terminated, rotating first if the active
// file has reached rollSizeMB.
func (s *FileSink) Publish(ctx context.Context, payload []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.file == nil {
		if err := s.openLocked(); err != nil {
			return err
		}
	}
	if s.written >= s.rollSizeMB*1024*1024 {
		if err := s.rotateLocked(); err != nil {
			return err
		}
	}

	n, err := s.file.Write(append(payload, '\n'))
	if err != nil {
		return fmt.Errorf("telemetry: write: %w", err)
	}
	s.written += int64(n)
	return nil
}

func (s *FileSink) openLocked() error {
	name := fmt.Sprintf("telemetry_%s.lp", time.Now().UTC().Format("20060102_150405"))
	f, err := os.Create(filepath.Join(s.dir, name))
	if err != nil {
		return fmt.Errorf("telemetry: create file: %w", err)
	}
	s.file = f
	s.written = 0
	return nil
}

func (s *FileSink) rotateLocked() error {
	if s.file != nil {
		s.file.Close()
		s.file = nil
	}
	return s.openLocked()
}

// Close closes the active file.
func (s *FileSink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.file == nil {
		return nil
	}
	err := s.file.Close()
	s.file = nil
	return err
}
