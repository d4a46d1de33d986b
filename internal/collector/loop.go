// Copyright (C) IntelliMaint contributors.
// All rights reserved. This file is part of intellimaint.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package collector

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/intellimaint/intellimaint/internal/connpool"
	"github.com/intellimaint/intellimaint/internal/errkind"
	"github.com/intellimaint/intellimaint/internal/health"
	"github.com/intellimaint/intellimaint/internal/obslog"
	"github.com/intellimaint/intellimaint/internal/pipeline"
	"github.com/intellimaint/intellimaint/internal/typemapper"
	"github.com/intellimaint/intellimaint/pkg/schema"
)

// Loop is one independently-scheduled (endpoint, scanGroup) scan loop: no
// cross-group coupling, so one faulty group cannot starve another sharing
// the same endpoint's pool entry.
type Loop struct {
	reader  Reader
	pool    *connpool.Pool
	health  *health.Tracker
	out     *pipeline.Pipeline

	mu       sync.Mutex
	endpoint schema.EndpointDescriptor
	group    schema.ScanGroup
	skip     map[string]bool // BadTag permanently disables a tag for this run

	seq atomic.Int64
}

// NewLoop builds a Loop over endpoint/group, reading through reader,
// acquiring connections from pool, recording health into tracker, and
// emitting accepted samples into out.
func NewLoop(endpoint schema.EndpointDescriptor, group schema.ScanGroup, reader Reader, pool *connpool.Pool, tracker *health.Tracker, out *pipeline.Pipeline) *Loop {
	return &Loop{
		reader:   reader,
		pool:     pool,
		health:   tracker,
		out:      out,
		endpoint: endpoint,
		group:    group,
		skip:     make(map[string]bool),
	}
}

// Reload swaps the endpoint/tag set a running Loop polls, clearing its
// skip-list so previously bad-tagged points get a fresh chance. The output
// Pipeline is never touched here — only the upstream poll targets change.
func (l *Loop) Reload(endpoint schema.EndpointDescriptor, group schema.ScanGroup) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.endpoint = endpoint
	l.group = group
	l.skip = make(map[string]bool)
}

func (l *Loop) snapshot() (schema.EndpointDescriptor, schema.ScanGroup, []schema.TagDescriptor) {
	l.mu.Lock()
	defer l.mu.Unlock()
	tags := make([]schema.TagDescriptor, 0, len(l.group.Tags))
	for _, t := range l.group.Tags {
		if l.skip[t.TagID] {
			continue
		}
		tags = append(tags, t)
	}
	return l.endpoint, l.group, tags
}

func (l *Loop) markSkip(tagID string) {
	l.mu.Lock()
	l.skip[tagID] = true
	l.mu.Unlock()
}

// Run executes scan iterations until ctx is cancelled, honoring
// cancellation within the group's interval.
func (l *Loop) Run(ctx context.Context) {
	for {
		if ctx.Err() != nil {
			return
		}
		start := time.Now()
		l.iterate(ctx)
		l.sleep(ctx, time.Since(start))
	}
}

func (l *Loop) sleep(ctx context.Context, elapsed time.Duration) {
	endpoint, group, _ := l.snapshot()

	interval := time.Duration(group.ScanIntervalMs) * time.Millisecond
	delay := interval - elapsed
	if delay < 0 {
		delay = 0
	}

	if backoff := l.pool.Status(endpoint.EndpointID).RemainingBackoff(); backoff > delay {
		delay = backoff
	}

	select {
	case <-ctx.Done():
	case <-time.After(delay):
	}
}

func (l *Loop) iterate(ctx context.Context) {
	endpoint, group, tags := l.snapshot()
	if len(tags) == 0 {
		return
	}

	handle, err := l.pool.Acquire(endpoint, group.Name)
	if err != nil {
		l.recordHealthError(endpoint.EndpointID, err)
		return
	}
	defer handle.Release()

	start := time.Now()
	results, err := l.reader.ReadBatch(ctx, endpoint, tags)
	latencyMs := time.Since(start).Milliseconds()

	if err != nil {
		l.handleBatchError(endpoint, err)
		return
	}

	l.health.RecordSuccess(endpoint.EndpointID, latencyMs)

	for _, res := range results {
		l.handleResult(endpoint, res)
	}
}

func (l *Loop) handleBatchError(endpoint schema.EndpointDescriptor, err error) {
	kind := errkind.Classify(err)
	l.recordHealthError(endpoint.EndpointID, err)

	switch kind {
	case errkind.NoRoute, errkind.ConnectionLost, errkind.TooManyConn:
		l.pool.MarkFaulted(endpoint.EndpointID, err)
	case errkind.Timeout:
		l.pool.MarkDegraded(endpoint.EndpointID, err)
	default:
		obslog.Warnf("collector: %s/%s batch read failed: %v", endpoint.EndpointID, "(group)", err)
	}
}

func (l *Loop) handleResult(endpoint schema.EndpointDescriptor, res ReadResult) {
	if res.Err != nil {
		kind := errkind.Classify(res.Err)
		switch kind {
		case errkind.BadTag:
			l.markSkip(res.TagID)
			obslog.Warnf("collector: %s/%s permanently skipped (bad tag): %v", endpoint.EndpointID, res.TagID, res.Err)
		case errkind.Timeout:
			l.pool.MarkDegraded(endpoint.EndpointID, res.Err)
		default:
			obslog.Warnf("collector: %s/%s read failed: %v", endpoint.EndpointID, res.TagID, res.Err)
		}
		l.health.RecordError(endpoint.EndpointID, toHealthClass(kind))
		return
	}

	tagDef := tagFor(l, res.TagID)
	declaredType := tagDef.DeclaredType
	if _, simulated := l.reader.(*SimulatedReader); simulated {
		// Simulated tags carry no real protocol type hint, whether the
		// endpoint's protocol is "simulate" or the whole-program switch put
		// a SimulatedReader behind a cip/opcua endpoint; infer ValueType
		// from the generator's own Go value instead. Simulation mode
		// touches no network but still flows through the same TypeMapper
		// as a live read.
		declaredType = ""
	}
	vt, err := typemapper.MapType(endpoint.Protocol, res.TagID, declaredType, res.Value)
	if err != nil {
		l.health.RecordError(endpoint.EndpointID, health.TypeMismatch)
		obslog.Warnf("collector: %s/%s type mismatch: %v", endpoint.EndpointID, res.TagID, err)
		return
	}

	sample, err := typemapper.MapValue(tagDef.DeviceID, res.TagID, vt, res.Value, res.Quality, endpoint.Protocol)
	if err != nil {
		l.health.RecordError(endpoint.EndpointID, health.TypeMismatch)
		obslog.Warnf("collector: %s/%s map value failed: %v", endpoint.EndpointID, res.TagID, err)
		return
	}

	sample.Ts = time.Now().UnixMilli()
	sample.Seq = l.seq.Add(1)
	sample.Unit = tagDef.Unit
	l.out.Put(sample)
}

func tagFor(l *Loop, tagID string) schema.TagDescriptor {
	l.mu.Lock()
	defer l.mu.Unlock()
	for _, t := range l.group.Tags {
		if t.TagID == tagID {
			return t
		}
	}
	return schema.TagDescriptor{TagID: tagID}
}

func (l *Loop) recordHealthError(endpointID string, err error) {
	l.health.RecordError(endpointID, toHealthClass(errkind.Classify(err)))
}

func toHealthClass(k errkind.Kind) health.ErrorClass {
	switch k {
	case errkind.Timeout:
		return health.Timeout
	case errkind.NoRoute, errkind.ConnectionLost:
		return health.NoRoute
	case errkind.BadTag:
		return health.BadTag
	case errkind.TypeMismatch:
		return health.TypeMismatch
	case errkind.TooManyConn:
		return health.TooManyConn
	default:
		return health.Unknown
	}
}
