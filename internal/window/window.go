// Copyright (C) IntelliMaint contributors.
// All rights reserved. This file is part of intellimaint.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

// Package window implements the per-(device,tag) sliding window: a
// time-bounded ring of (ts, value) pairs shared by the RoC and Volatility
// evaluators, guarded by a map-of-mutexes so unrelated keys never serialize
// against each other.
package window

import (
	"math"
	"sort"
	"sync"
)

// MaxPoints and MaxAgeMs bound every window's memory footprint.
const (
	MaxPoints = 1000
	MaxAgeMs  = 3_600_000
)

type point struct {
	ts  int64
	val float64
}

type series struct {
	mu     sync.Mutex
	points []point // ordered oldest->newest on read; insertion order otherwise
}

// Key identifies one (device, tag) window.
type Key struct {
	DeviceID string
	TagID    string
}

// Window is the shared sliding-window store keyed by (device, tag).
type Window struct {
	mu     sync.RWMutex // guards the map itself, not its values
	series map[Key]*series
}

// New builds an empty Window.
func New() *Window {
	return &Window{series: make(map[Key]*series)}
}

func (w *Window) seriesFor(key Key) *series {
	w.mu.RLock()
	s, ok := w.series[key]
	w.mu.RUnlock()
	if ok {
		return s
	}

	w.mu.Lock()
	defer w.mu.Unlock()
	if s, ok = w.series[key]; ok {
		return s
	}
	s = &series{points: make([]point, 0, 64)}
	w.series[key] = s
	return s
}

// Insert adds (ts, value) to the window for (device, tag), trimming entries
// older than MaxAgeMs relative to ts and capping at MaxPoints (oldest
// trimmed first). Out-of-order inserts are tolerated; statistics sort by ts
// at read time.
func (w *Window) Insert(deviceID, tagID string, ts int64, value float64) {
	s := w.seriesFor(Key{deviceID, tagID})
	s.mu.Lock()
	defer s.mu.Unlock()

	s.points = append(s.points, point{ts: ts, val: value})

	// Trim by age relative to the newest point seen so far.
	newest := ts
	for _, p := range s.points {
		if p.ts > newest {
			newest = p.ts
		}
	}
	cutoff := newest - MaxAgeMs
	if cutoff > 0 {
		kept := s.points[:0]
		for _, p := range s.points {
			if p.ts >= cutoff {
				kept = append(kept, p)
			}
		}
		s.points = kept
	}

	if len(s.points) > MaxPoints {
		sort.Slice(s.points, func(i, j int) bool { return s.points[i].ts < s.points[j].ts })
		s.points = s.points[len(s.points)-MaxPoints:]
	}
}

// Stats summarizes a window's contents at read time.
type Stats struct {
	Count  int
	Min    float64
	Max    float64
	First  float64
	Last   float64
	Avg    float64
	StdDev float64
}

func sortedCopy(s *series) []point {
	cp := make([]point, len(s.points))
	copy(cp, s.points)
	sort.Slice(cp, func(i, j int) bool { return cp[i].ts < cp[j].ts })
	return cp
}

// GetWindowStats computes min/max/first/last/avg/stddev over all points
// currently in the window (already trimmed to MaxAgeMs/MaxPoints by Insert).
func (w *Window) GetWindowStats(deviceID, tagID string) Stats {
	s := w.seriesFor(Key{deviceID, tagID})
	s.mu.Lock()
	pts := sortedCopy(s)
	s.mu.Unlock()

	return computeStats(pts)
}

// GetWindowStatsSince restricts the computation to points within the last
// windowMs relative to the newest point (used by RoC, which defines its own
// rocWindowMs per rule rather than the shared MaxAgeMs).
func (w *Window) GetWindowStatsSince(deviceID, tagID string, windowMs int64) Stats {
	s := w.seriesFor(Key{deviceID, tagID})
	s.mu.Lock()
	pts := sortedCopy(s)
	s.mu.Unlock()

	if len(pts) == 0 {
		return Stats{}
	}
	newest := pts[len(pts)-1].ts
	cutoff := newest - windowMs
	filtered := pts[:0:0]
	for _, p := range pts {
		if p.ts >= cutoff {
			filtered = append(filtered, p)
		}
	}
	return computeStats(filtered)
}

func computeStats(pts []point) Stats {
	if len(pts) == 0 {
		return Stats{}
	}
	st := Stats{
		Count: len(pts),
		Min:   math.Inf(1),
		Max:   math.Inf(-1),
		First: pts[0].val,
		Last:  pts[len(pts)-1].val,
	}
	sum := 0.0
	for _, p := range pts {
		if p.val < st.Min {
			st.Min = p.val
		}
		if p.val > st.Max {
			st.Max = p.val
		}
		sum += p.val
	}
	st.Avg = sum / float64(len(pts))

	var variance float64
	for _, p := range pts {
		d := p.val - st.Avg
		variance += d * d
	}
	variance /= float64(len(pts))
	st.StdDev = math.Sqrt(variance)

	return st
}

// RateOfChange is the RoC evaluator's derived metric set.
type RateOfChange struct {
	AbsoluteChange float64
	PercentChange  float64
	Count          int
}

// GetRateOfChange computes absoluteChange = max-min and percentChange =
// |absoluteChange/first|*100 (0 when |first| <= 1e-9) over the window
// within rocWindowMs. The minimum point count for a meaningful RoC is 2;
// callers should treat Count < 2 as "not enough data yet".
func (w *Window) GetRateOfChange(deviceID, tagID string, rocWindowMs int64) RateOfChange {
	st := w.GetWindowStatsSince(deviceID, tagID, rocWindowMs)
	roc := RateOfChange{Count: st.Count}
	if st.Count < 2 {
		return roc
	}
	roc.AbsoluteChange = st.Max - st.Min
	if math.Abs(st.First) > 1e-9 {
		roc.PercentChange = math.Abs(roc.AbsoluteChange/st.First) * 100
	} else {
		roc.PercentChange = 0
	}
	return roc
}

// Count returns the number of points currently retained for (device, tag).
func (w *Window) Count(deviceID, tagID string) int {
	s := w.seriesFor(Key{deviceID, tagID})
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.points)
}
