// Copyright (C) IntelliMaint contributors.
// All rights reserved. This file is part of intellimaint.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package collector

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/intellimaint/intellimaint/internal/config"
	"github.com/intellimaint/intellimaint/internal/connpool"
	"github.com/intellimaint/intellimaint/internal/health"
	"github.com/intellimaint/intellimaint/internal/obslog"
	"github.com/intellimaint/intellimaint/internal/pipeline"
	"github.com/intellimaint/intellimaint/pkg/schema"
)

type loopKey struct {
	endpointID string
	scanGroup  string
}

type runningLoop struct {
	loop   *Loop
	reader Reader
	cancel context.CancelFunc
	done   chan struct{}
}

// Collector owns one Loop per (endpoint, scanGroup) pair, each running
// against its own protocol Reader chosen from the endpoint's Protocol
// field. Reload diffs the new endpoint set against what's running:
// existing pairs are updated in place with the new endpoint and tag set
// (keeping their Reader), removed pairs are torn down, new pairs are
// started.
type Collector struct {
	pool   *connpool.Pool
	health *health.Tracker
	out    *pipeline.Pipeline

	simulate bool

	mu      sync.Mutex
	running map[loopKey]*runningLoop
	wg      sync.WaitGroup
}

// New builds a Collector. When simulate is true every endpoint is served by
// a SimulatedReader regardless of its configured Protocol: simulation mode
// is a whole-program switch, not a per-endpoint one.
func New(pool *connpool.Pool, tracker *health.Tracker, out *pipeline.Pipeline, simulate bool) *Collector {
	return &Collector{
		pool:     pool,
		health:   tracker,
		out:      out,
		simulate: simulate,
		running:  make(map[loopKey]*runningLoop),
	}
}

func readerFor(endpoint schema.EndpointDescriptor, simulate bool) (Reader, error) {
	if simulate {
		return NewSimulatedReader(seedFor(endpoint.EndpointID)), nil
	}
	switch endpoint.Protocol {
	case "cip":
		return NewCIPReader(0, 0), nil
	case "opcua":
		return NewOPCUAReader(0, 0), nil
	case "simulate":
		return NewSimulatedReader(seedFor(endpoint.EndpointID)), nil
	default:
		return nil, fmt.Errorf("collector: unknown protocol %q for endpoint %s", endpoint.Protocol, endpoint.EndpointID)
	}
}

// seedFor derives a stable per-endpoint simulation seed from its ID, so
// restarts reproduce the same waveform phase instead of reseeding from wall
// clock (disallowed: no time.Now()-derived randomness in hot paths here).
func seedFor(endpointID string) int64 {
	var h int64 = 1469598103934665603
	for _, b := range []byte(endpointID) {
		h ^= int64(b)
		h *= 1099511628211
	}
	if h < 0 {
		h = -h
	}
	return h
}

// Reload starts or stops loops so the running set matches endpoints
// exactly. Loops whose (endpoint, scanGroup) pair already exists keep
// running and are updated in place through Loop.Reload; neither their
// Reader nor the Pipeline they feed is recreated.
func (c *Collector) Reload(ctx context.Context, endpoints []config.EndpointConfig) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	wanted := make(map[loopKey]struct{})
	for _, epCfg := range endpoints {
		ep := epCfg.ToDescriptor()
		for _, groupCfg := range epCfg.ScanGroups {
			group := groupCfg.ToScanGroup()
			key := loopKey{endpointID: ep.EndpointID, scanGroup: group.Name}
			wanted[key] = struct{}{}

			if rl, ok := c.running[key]; ok {
				rl.loop.Reload(ep, group)
				continue
			}

			reader, err := readerFor(ep, c.simulate)
			if err != nil {
				obslog.Warnf("collector: %s", err)
				continue
			}
			loopCtx, cancel := context.WithCancel(ctx)
			loop := NewLoop(ep, group, reader, c.pool, c.health, c.out)
			rl := &runningLoop{loop: loop, reader: reader, cancel: cancel, done: make(chan struct{})}
			c.running[key] = rl

			c.wg.Add(1)
			go func() {
				defer c.wg.Done()
				defer close(rl.done)
				loop.Run(loopCtx)
				reader.Close()
			}()
		}
	}

	for key, rl := range c.running {
		if _, ok := wanted[key]; !ok {
			rl.cancel()
			delete(c.running, key)
		}
	}

	return nil
}

// Start is a convenience for the initial Reload.
func (c *Collector) Start(ctx context.Context, endpoints []config.EndpointConfig) error {
	return c.Reload(ctx, endpoints)
}

// Stop cancels every running loop and waits up to deadline for them to
// finish closing their readers.
func (c *Collector) Stop(deadline time.Duration) {
	c.mu.Lock()
	for _, rl := range c.running {
		rl.cancel()
	}
	c.mu.Unlock()

	done := make(chan struct{})
	go func() {
		c.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(deadline):
		obslog.Warnf("collector: shutdown deadline exceeded, some loops still draining")
	}
}

// Health returns the current aggregated health snapshot for every endpoint
// the Collector has ever run a loop against.
func (c *Collector) Health() []health.Snapshot {
	return c.health.All()
}
