// Copyright (C) IntelliMaint contributors.
// All rights reserved. This file is part of intellimaint.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

// Package overflow implements a rolling, gzip-rotated CSV file sink that
// BatchWriter spills into when a batch exhausts its retries, so no sample
// is ever silently dropped.
package overflow

import (
	"compress/gzip"
	"context"
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"sync"
	"time"

	"github.com/intellimaint/intellimaint/internal/obslog"
	"github.com/intellimaint/intellimaint/pkg/schema"
)

var csvHeader = []string{"DeviceId", "TagId", "Ts", "Seq", "ValueType", "Value", "Quality", "Source", "Protocol"}

// Config tunes rotation and retention.
type Config struct {
	Dir           string
	RollSizeMB    int64
	Gzip          bool
	RetentionDays int
}

func (c Config) withDefaults() Config {
	if c.RollSizeMB <= 0 {
		c.RollSizeMB = 64
	}
	if c.RetentionDays <= 0 {
		c.RetentionDays = 14
	}
	return c
}

// Sink is the default OverflowSink, writing RFC 4180 CSV lines to a rolling
// file under Config.Dir.
type Sink struct {
	cfg Config

	mu      sync.Mutex
	file    *os.File
	writer  *csv.Writer
	written int64
}

// New builds a Sink writing under cfg.Dir, creating the directory if needed.
func New(cfg Config) (*Sink, error) {
	cfg = cfg.withDefaults()
	if err := os.MkdirAll(cfg.Dir, 0o755); err != nil {
		return nil, fmt.Errorf("overflow: create dir: %w", err)
	}
	return &Sink{cfg: cfg}, nil
}

// Write appends samples as CSV rows, rotating the active file first if it
// has reached RollSizeMB.
func (s *Sink) Write(ctx context.Context, samples []schema.TypedSample) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.file == nil {
		if err := s.openLocked(); err != nil {
			return err
		}
	}
	if s.written >= s.cfg.RollSizeMB*1024*1024 {
		if err := s.rotateLocked(); err != nil {
			return err
		}
	}

	for _, sample := range samples {
		row := []string{
			sample.DeviceID,
			sample.TagID,
			strconv.FormatInt(sample.Ts, 10),
			strconv.FormatInt(sample.Seq, 10),
			sample.ValueType.String(),
			fmt.Sprintf("%v", sample.Value),
			strconv.Itoa(int(sample.Quality)),
			"overflow",
			sample.Protocol,
		}
		if err := s.writer.Write(row); err != nil {
			return fmt.Errorf("overflow: write row: %w", err)
		}
	}
	s.writer.Flush()
	if err := s.writer.Error(); err != nil {
		return fmt.Errorf("overflow: flush: %w", err)
	}

	info, err := s.file.Stat()
	if err == nil {
		s.written = info.Size()
	}
	return nil
}

func (s *Sink) openLocked() error {
	base := filepath.Join(s.cfg.Dir, "overflow_"+time.Now().UTC().Format("20060102_150405"))
	path := base + ".csv"
	// A file opened within the same second as an earlier one gets a numeric
	// suffix instead of truncating that file or its pending .gz copy.
	taken := func(p string) bool {
		_, errCSV := os.Stat(p)
		_, errGz := os.Stat(p + ".gz")
		return errCSV == nil || errGz == nil
	}
	for i := 1; taken(path); i++ {
		path = fmt.Sprintf("%s_%d.csv", base, i)
	}
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("overflow: create file: %w", err)
	}
	s.file = f
	s.writer = csv.NewWriter(f)
	s.written = 0
	if err := s.writer.Write(csvHeader); err != nil {
		return fmt.Errorf("overflow: write header: %w", err)
	}
	s.writer.Flush()
	return s.writer.Error()
}

func (s *Sink) rotateLocked() error {
	closedPath := s.file.Name()
	if err := s.file.Close(); err != nil {
		obslog.Warnf("overflow: close rotated file: %v", err)
	}
	s.file = nil
	s.writer = nil

	if s.cfg.Gzip {
		go compressAndRemove(closedPath)
	}
	return s.openLocked()
}

func compressAndRemove(path string) {
	in, err := os.Open(path)
	if err != nil {
		obslog.Warnf("overflow: gzip open %s: %v", path, err)
		return
	}
	defer in.Close()

	out, err := os.Create(path + ".gz")
	if err != nil {
		obslog.Warnf("overflow: gzip create %s: %v", path, err)
		return
	}
	defer out.Close()

	gw := gzip.NewWriter(out)
	if _, err := io.Copy(gw, in); err != nil {
		obslog.Warnf("overflow: gzip write %s: %v", path, err)
		gw.Close()
		return
	}
	if err := gw.Close(); err != nil {
		obslog.Warnf("overflow: gzip close %s: %v", path, err)
		return
	}
	if err := os.Remove(path); err != nil {
		obslog.Warnf("overflow: remove source after gzip %s: %v", path, err)
	}
}

// Close closes the active file.
func (s *Sink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.file == nil {
		return nil
	}
	err := s.file.Close()
	s.file = nil
	s.writer = nil
	return err
}

// CleanOld removes overflow files (compressed or not) older than
// RetentionDays, meant to be run hourly.
func (s *Sink) CleanOld(ctx context.Context) error {
	entries, err := os.ReadDir(s.cfg.Dir)
	if err != nil {
		return fmt.Errorf("overflow: read dir: %w", err)
	}

	cutoff := time.Now().Add(-time.Duration(s.cfg.RetentionDays) * 24 * time.Hour)
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		info, err := entry.Info()
		if err != nil {
			continue
		}
		if info.ModTime().Before(cutoff) {
			path := filepath.Join(s.cfg.Dir, entry.Name())
			if err := os.Remove(path); err != nil {
				obslog.Warnf("overflow: retention remove %s: %v", path, err)
			}
		}
	}
	return nil
}
