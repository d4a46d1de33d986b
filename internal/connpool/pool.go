// Copyright (C) IntelliMaint contributors.
// All rights reserved. This file is part of intellimaint.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

// Package connpool implements a per-endpoint connection pool: capped
// concurrency per endpoint (clamped by PLC family), exponential backoff
// after a fault, and LRU-based idle reaping.
package connpool

import (
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	"golang.org/x/time/rate"

	"github.com/intellimaint/intellimaint/internal/errkind"
	"github.com/intellimaint/intellimaint/internal/obslog"
	"github.com/intellimaint/intellimaint/pkg/schema"
)

// backoffScheduleSeconds is the fixed backoff ladder: 0, 1, 2, 5, 10, 30,
// 60s; capped at step 6.
var backoffScheduleSeconds = []int64{0, 1, 2, 5, 10, 30, 60}

const idleReapAfter = 5 * time.Minute

// classBurstMultiplier sizes each PLC-family's aggregate token bucket as a
// multiple of one endpoint's own clamp, so the per-class limiter only bites
// when many endpoints of the same family burst concurrently, never a single
// well-behaved one (the per-endpoint clamp already governs that case).
const classBurstMultiplier = 8

// Handle represents an acquired connection slot. Release must be called
// exactly once to return the slot to its endpoint.
type Handle struct {
	EndpointID string
	pool       *Pool
}

// Release returns the handle's slot to the pool and refreshes the
// endpoint's last-used time. The backoff step is reset by a successful
// Acquire, not here.
func (h *Handle) Release() {
	h.pool.release(h.EndpointID)
}

type endpointState struct {
	mu           sync.Mutex
	descriptor   schema.EndpointDescriptor
	inUse        int
	backoffStep  int
	faultedUntil time.Time
	lastUsed     time.Time
}

// Pool is the singleton connection pool; one instance serves all endpoints,
// each tracked independently so one faulted endpoint cannot starve another.
type Pool struct {
	mu        sync.Mutex
	endpoints map[string]*endpointState
	recent    *lru.Cache[string, struct{}]

	classMu       sync.Mutex
	classLimiters map[schema.PLCFamily]*rate.Limiter
}

// New constructs a Pool. capacity bounds the LRU used for idle tracking;
// it does not bound the number of live endpoints (those are tracked in
// endpoints directly, since reaping must still find entries beyond the LRU
// window to evict).
func New(capacity int) *Pool {
	if capacity <= 0 {
		capacity = 1024
	}
	c, _ := lru.New[string, struct{}](capacity)
	return &Pool{
		endpoints:     make(map[string]*endpointState),
		recent:        c,
		classLimiters: make(map[schema.PLCFamily]*rate.Limiter),
	}
}

// limiterFor returns the shared token bucket for family, lazily sized to
// classBurstMultiplier times that family's per-endpoint connection clamp.
func (p *Pool) limiterFor(family schema.PLCFamily) *rate.Limiter {
	p.classMu.Lock()
	defer p.classMu.Unlock()
	l, ok := p.classLimiters[family]
	if !ok {
		n := family.MaxConnections() * classBurstMultiplier
		l = rate.NewLimiter(rate.Limit(n), n)
		p.classLimiters[family] = l
	}
	return l
}

func (p *Pool) stateFor(d schema.EndpointDescriptor) *endpointState {
	p.mu.Lock()
	defer p.mu.Unlock()
	st, ok := p.endpoints[d.EndpointID]
	if !ok {
		st = &endpointState{descriptor: d}
		p.endpoints[d.EndpointID] = st
	}
	return st
}

// Acquire returns a Handle for the given endpoint/scanGroup, or
// errkind.ErrPoolFaulted if the endpoint is within its backoff window, or
// errkind.ErrPoolBusy if the per-endpoint connection clamp is already
// reached.
func (p *Pool) Acquire(d schema.EndpointDescriptor, scanGroup string) (*Handle, error) {
	st := p.stateFor(d)

	st.mu.Lock()
	defer st.mu.Unlock()

	now := time.Now()
	if now.Before(st.faultedUntil) {
		return nil, errkind.Tag(errkind.ConnectionLost, errkind.ErrPoolFaulted)
	}

	if st.inUse >= d.Clamp() {
		return nil, errkind.Tag(errkind.TooManyConn, errkind.ErrPoolBusy)
	}

	if !p.limiterFor(d.PLCFamily).Allow() {
		return nil, errkind.Tag(errkind.TooManyConn, errkind.ErrPoolBusy)
	}

	st.inUse++
	st.lastUsed = now
	st.backoffStep = 0

	p.mu.Lock()
	p.recent.Add(d.EndpointID, struct{}{})
	p.mu.Unlock()

	return &Handle{EndpointID: d.EndpointID, pool: p}, nil
}

func (p *Pool) release(endpointID string) {
	p.mu.Lock()
	st, ok := p.endpoints[endpointID]
	p.mu.Unlock()
	if !ok {
		return
	}
	st.mu.Lock()
	if st.inUse > 0 {
		st.inUse--
	}
	st.lastUsed = time.Now()
	st.mu.Unlock()
}

// MarkFaulted records a failure that should trigger backoff (NoRoute,
// ConnectionLost, TooManyConn). The backoff step advances (capped at the
// last rung of backoffScheduleSeconds); callers reset the step implicitly
// on the next successful Acquire. An endpoint not yet seen by Acquire is
// tracked from this call on.
func (p *Pool) MarkFaulted(endpointID string, reason error) {
	p.mu.Lock()
	st, ok := p.endpoints[endpointID]
	if !ok {
		st = &endpointState{descriptor: schema.EndpointDescriptor{EndpointID: endpointID}}
		p.endpoints[endpointID] = st
	}
	p.mu.Unlock()
	st.mu.Lock()
	defer st.mu.Unlock()

	step := st.backoffStep
	if step >= len(backoffScheduleSeconds)-1 {
		step = len(backoffScheduleSeconds) - 1
	} else {
		step++
	}
	st.backoffStep = step
	delay := time.Duration(backoffScheduleSeconds[step]) * time.Second
	st.faultedUntil = time.Now().Add(delay)
	obslog.Warnf("connpool: endpoint %s faulted (%v), backing off %s", endpointID, reason, delay)
}

// MarkDegraded records a softer failure (Timeout) that does not trigger
// backoff. It is only logged; Status does not report it.
func (p *Pool) MarkDegraded(endpointID string, reason error) {
	obslog.Warnf("connpool: endpoint %s degraded: %v", endpointID, reason)
}

func (p *Pool) endpointFor(endpointID string) *endpointState {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.endpoints[endpointID]
}

// Status reports whether endpointID is currently within its backoff window
// and how many handles are in use.
type Status struct {
	Faulted      bool
	FaultedUntil time.Time
	InUse        int
	Clamp        int
}

// RemainingBackoff returns how long Status.Faulted will stay true, or 0 if
// the endpoint isn't currently faulted. Collector loops use this to extend
// their next-iteration delay so a faulted endpoint isn't re-polled every
// scan interval — whichever delay is longer wins.
func (s Status) RemainingBackoff() time.Duration {
	if !s.Faulted {
		return 0
	}
	return time.Until(s.FaultedUntil)
}

func (p *Pool) Status(endpointID string) Status {
	st := p.endpointFor(endpointID)
	if st == nil {
		return Status{}
	}
	st.mu.Lock()
	defer st.mu.Unlock()
	return Status{
		Faulted:      time.Now().Before(st.faultedUntil),
		FaultedUntil: st.faultedUntil,
		InUse:        st.inUse,
		Clamp:        st.descriptor.Clamp(),
	}
}

// Reap removes endpoints unused for longer than idleReapAfter. Intended to
// run every 10s from internal/scheduler.
func (p *Pool) Reap() int {
	p.mu.Lock()
	defer p.mu.Unlock()

	now := time.Now()
	removed := 0
	for id, st := range p.endpoints {
		st.mu.Lock()
		idle := st.inUse == 0 && !st.lastUsed.IsZero() && now.Sub(st.lastUsed) > idleReapAfter
		st.mu.Unlock()
		if idle {
			delete(p.endpoints, id)
			p.recent.Remove(id)
			removed++
		}
	}
	if removed > 0 {
		obslog.Debugf("connpool: reaped %d idle endpoints", removed)
	}
	return removed
}
