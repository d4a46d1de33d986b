// Copyright (C) IntelliMaint contributors.
// All rights reserved. This file is part of intellimaint.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

// Package health tracks rolling per-collector read latency, error-class
// counters, and an aggregated Connected/Degraded/Disconnected state.
package health

import (
	"container/ring"
	"sort"
	"sync"
	"time"
)

// ErrorClass mirrors the collector's failure classification.
type ErrorClass int

const (
	OK ErrorClass = iota
	Timeout
	NoRoute
	BadTag
	TypeMismatch
	TooManyConn
	Unknown
)

// State is the aggregated connection health of one endpoint.
type State int

const (
	Connected State = iota
	Degraded
	Disconnected
)

func (s State) String() string {
	switch s {
	case Connected:
		return "Connected"
	case Degraded:
		return "Degraded"
	case Disconnected:
		return "Disconnected"
	default:
		return "Unknown"
	}
}

const latencyWindowSize = 100

// Snapshot is a point-in-time view of one endpoint's health.
type Snapshot struct {
	EndpointID    string
	State         State
	ErrorCounts   map[ErrorClass]int64
	AvgLatencyMs  float64
	P95LatencyMs  int64
	LastSuccessAt time.Time
	LastErrorAt   time.Time
	ConsecutiveOK int
	ConsecutiveNG int
}

type endpointHealth struct {
	mu            sync.Mutex
	errorCounts   map[ErrorClass]int64
	latencies     *ring.Ring
	lastSuccessAt time.Time
	lastErrorAt   time.Time
	consecutiveOK int
	consecutiveNG int
}

func newEndpointHealth() *endpointHealth {
	return &endpointHealth{
		errorCounts: make(map[ErrorClass]int64),
		latencies:   ring.New(latencyWindowSize),
	}
}

// Tracker holds per-endpoint health state (C4). One Tracker is shared by
// every Collector loop in the program.
type Tracker struct {
	mu        sync.Mutex
	endpoints map[string]*endpointHealth
}

// New builds an empty Tracker.
func New() *Tracker {
	return &Tracker{endpoints: make(map[string]*endpointHealth)}
}

func (t *Tracker) endpointFor(id string) *endpointHealth {
	t.mu.Lock()
	defer t.mu.Unlock()
	e, ok := t.endpoints[id]
	if !ok {
		e = newEndpointHealth()
		t.endpoints[id] = e
	}
	return e
}

// RecordSuccess records a successful read's latency for endpointID.
func (t *Tracker) RecordSuccess(endpointID string, latencyMs int64) {
	e := t.endpointFor(endpointID)
	e.mu.Lock()
	defer e.mu.Unlock()
	e.lastSuccessAt = time.Now()
	e.consecutiveOK++
	e.consecutiveNG = 0
	e.latencies.Value = latencyMs
	e.latencies = e.latencies.Next()
}

// RecordError records a classified failure for endpointID.
func (t *Tracker) RecordError(endpointID string, class ErrorClass) {
	e := t.endpointFor(endpointID)
	e.mu.Lock()
	defer e.mu.Unlock()
	e.errorCounts[class]++
	e.lastErrorAt = time.Now()
	e.consecutiveNG++
	e.consecutiveOK = 0
}

// Snapshot returns the current aggregated view for endpointID. An endpoint
// with 5 or more consecutive errors and no recent success is Disconnected;
// 1-4 consecutive errors is Degraded; otherwise Connected. A NoRoute or
// TooManyConn classification marks the endpoint faulted upstream, which
// this tracker surfaces as Degraded or Disconnected depending on how
// persistent the failure is.
func (t *Tracker) Snapshot(endpointID string) Snapshot {
	e := t.endpointFor(endpointID)
	e.mu.Lock()
	defer e.mu.Unlock()

	samples := make([]int64, 0, latencyWindowSize)
	e.latencies.Do(func(v any) {
		if v == nil {
			return
		}
		samples = append(samples, v.(int64))
	})

	snap := Snapshot{
		EndpointID:    endpointID,
		ErrorCounts:   cloneCounts(e.errorCounts),
		LastSuccessAt: e.lastSuccessAt,
		LastErrorAt:   e.lastErrorAt,
		ConsecutiveOK: e.consecutiveOK,
		ConsecutiveNG: e.consecutiveNG,
	}

	if len(samples) > 0 {
		var sum int64
		sorted := append([]int64(nil), samples...)
		sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })
		for _, v := range samples {
			sum += v
		}
		snap.AvgLatencyMs = float64(sum) / float64(len(samples))
		idx := int(float64(len(sorted)) * 0.95)
		if idx >= len(sorted) {
			idx = len(sorted) - 1
		}
		snap.P95LatencyMs = sorted[idx]
	}

	switch {
	case e.consecutiveNG >= 5:
		snap.State = Disconnected
	case e.consecutiveNG >= 1:
		snap.State = Degraded
	default:
		snap.State = Connected
	}
	return snap
}

func cloneCounts(m map[ErrorClass]int64) map[ErrorClass]int64 {
	out := make(map[ErrorClass]int64, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

// All returns a snapshot for every endpoint the tracker has ever seen,
// used by the program's top-level status surface.
func (t *Tracker) All() []Snapshot {
	t.mu.Lock()
	ids := make([]string, 0, len(t.endpoints))
	for id := range t.endpoints {
		ids = append(ids, id)
	}
	t.mu.Unlock()

	sort.Strings(ids)
	out := make([]Snapshot, 0, len(ids))
	for _, id := range ids {
		out = append(out, t.Snapshot(id))
	}
	return out
}
