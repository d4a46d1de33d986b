// Copyright (C) IntelliMaint contributors.
// All rights reserved. This file is part of intellimaint.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package dispatcher

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/intellimaint/intellimaint/internal/pipeline"
	"github.com/intellimaint/intellimaint/pkg/schema"
)

func TestFanOutDeliversToAllTargets(t *testing.T) {
	in := pipeline.New(8)
	writer := NewTarget("writer", 8)
	threshold := NewTarget("threshold", 8)
	d := New(in, writer, threshold)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go d.Run(ctx)

	in.Put(schema.TypedSample{DeviceID: "D", TagID: "T", Ts: 1, ValueType: schema.Float64, Value: 1.0})

	select {
	case <-writer.Chan():
	case <-time.After(time.Second):
		t.Fatal("writer did not receive sample")
	}
	select {
	case <-threshold.Chan():
	case <-time.After(time.Second):
		t.Fatal("threshold did not receive sample")
	}
}

// TestSlowConsumerDoesNotBlockFastConsumer: a full writer target must not
// prevent the threshold target from observing the sample, and the writer's
// drop counter (not the pipeline's) absorbs the loss.
func TestSlowConsumerDoesNotBlockFastConsumer(t *testing.T) {
	in := pipeline.New(8)
	writer := NewTarget("writer", 1)
	threshold := NewTarget("threshold", 8)
	d := New(in, writer, threshold)

	// Fill the writer target so it's already full before dispatch.
	writer.ch <- schema.TypedSample{}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	d.fanOut(ctx, schema.TypedSample{DeviceID: "D", TagID: "T", Ts: 2})

	select {
	case s := <-threshold.Chan():
		assert.EqualValues(t, 2, s.Ts)
	default:
		t.Fatal("threshold target should have received the sample immediately")
	}

	counters := writer.Counters()
	assert.EqualValues(t, 1, counters.FastPathMiss)
	require.Eventually(t, func() bool {
		return writer.Counters().DropDeadline == 1
	}, time.Second, 5*time.Millisecond, "writer should drop after slow-path deadline")
}

// TestSlowPathRecoveryIsNotCountedAsDropped covers a fast-path miss that the
// slow path goes on to deliver: FastPathMiss records the contention but the
// sample must show up as Delivered, and DropDeadline must stay at zero since
// nothing was actually lost.
func TestSlowPathRecoveryIsNotCountedAsDropped(t *testing.T) {
	in := pipeline.New(8)
	writer := NewTarget("writer", 1)
	d := New(in, writer)

	// Fill the writer target, then drain it shortly after dispatch starts so
	// the slow path's try-write succeeds well within the 10ms deadline.
	writer.ch <- schema.TypedSample{}
	go func() {
		time.Sleep(time.Millisecond)
		<-writer.Chan()
	}()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	d.fanOut(ctx, schema.TypedSample{DeviceID: "D", TagID: "T", Ts: 3})

	select {
	case s := <-writer.Chan():
		assert.EqualValues(t, 3, s.Ts)
	case <-time.After(time.Second):
		t.Fatal("writer should have received the sample via the slow path")
	}

	counters := writer.Counters()
	assert.EqualValues(t, 1, counters.Delivered)
	assert.EqualValues(t, 1, counters.FastPathMiss)
	assert.EqualValues(t, 0, counters.DropDeadline)
}
