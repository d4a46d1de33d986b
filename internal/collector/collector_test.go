// Copyright (C) IntelliMaint contributors.
// All rights reserved. This file is part of intellimaint.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package collector

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/intellimaint/intellimaint/internal/config"
	"github.com/intellimaint/intellimaint/internal/connpool"
	"github.com/intellimaint/intellimaint/internal/health"
	"github.com/intellimaint/intellimaint/internal/pipeline"
)

func simEndpoint(endpointID string, intervalMs int64) config.EndpointConfig {
	return config.EndpointConfig{
		EndpointID: endpointID,
		Protocol:   "simulate",
		PLCFamily:  "Default",
		ScanGroups: []config.ScanGroupConfig{
			{
				Name:           "Fast",
				ScanIntervalMs: intervalMs,
				BatchSize:      10,
				Tags: []config.TagConfig{
					{TagID: "TempA", DeviceID: "D1", Enabled: true},
					{TagID: "LevelB", DeviceID: "D1", Enabled: true},
				},
			},
		},
	}
}

func newTestCollector(simulate bool) (*Collector, *pipeline.Pipeline) {
	pool := connpool.New(0)
	tracker := health.New()
	pipe := pipeline.New(16)
	return New(pool, tracker, pipe, simulate), pipe
}

func TestCollectorSimulationEmitsSamples(t *testing.T) {
	c, pipe := newTestCollector(true)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	require.NoError(t, c.Start(ctx, []config.EndpointConfig{simEndpoint("E1", 100)}))
	defer c.Stop(time.Second)

	var got int
	deadline := time.After(2 * time.Second)
	for got < 2 {
		select {
		case s := <-pipe.Chan():
			assert.Equal(t, "D1", s.DeviceID)
			assert.NotEmpty(t, s.TagID)
			assert.Greater(t, s.Ts, int64(0))
			got++
		case <-deadline:
			t.Fatalf("timed out waiting for simulated samples, got %d", got)
		}
	}
}

func TestCollectorHealthTracksSuccess(t *testing.T) {
	c, _ := newTestCollector(true)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	require.NoError(t, c.Start(ctx, []config.EndpointConfig{simEndpoint("E1", 50)}))
	defer c.Stop(time.Second)

	require.Eventually(t, func() bool {
		snaps := c.Health()
		for _, s := range snaps {
			if s.EndpointID == "E1" && s.LastSuccessAt.After(time.Time{}) {
				return true
			}
		}
		return false
	}, 2*time.Second, 20*time.Millisecond)
}

func TestCollectorReloadPreservesOutputQueue(t *testing.T) {
	c, pipe := newTestCollector(true)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	require.NoError(t, c.Start(ctx, []config.EndpointConfig{simEndpoint("E1", 50)}))
	defer c.Stop(time.Second)

	// Drain at least one sample on the original config before reloading.
	select {
	case <-pipe.Chan():
	case <-time.After(time.Second):
		t.Fatal("no sample before reload")
	}

	require.NoError(t, c.Reload(ctx, []config.EndpointConfig{simEndpoint("E1", 50)}))

	// The same Pipeline instance (and its channel) must still deliver after
	// Reload: reload swaps the endpoint/tag set, not the output channel.
	select {
	case s := <-pipe.Chan():
		assert.Equal(t, "D1", s.DeviceID)
	case <-time.After(time.Second):
		t.Fatal("no sample after reload")
	}
}

func TestCollectorStopTerminatesLoops(t *testing.T) {
	c, _ := newTestCollector(true)
	ctx := context.Background()
	require.NoError(t, c.Start(ctx, []config.EndpointConfig{simEndpoint("E1", 50)}))

	done := make(chan struct{})
	go func() {
		c.Stop(time.Second)
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Stop did not return within its deadline")
	}
}
