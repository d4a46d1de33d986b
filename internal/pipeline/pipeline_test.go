// Copyright (C) IntelliMaint contributors.
// All rights reserved. This file is part of intellimaint.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package pipeline

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/intellimaint/intellimaint/pkg/schema"
)

func sample(seq int64) schema.TypedSample {
	return schema.TypedSample{DeviceID: "D", TagID: "T", Ts: seq, Seq: seq, ValueType: schema.Int64, Value: seq}
}

func TestPutWithinCapacityNeverDrops(t *testing.T) {
	p := New(4)
	for i := int64(1); i <= 4; i++ {
		p.Put(sample(i))
	}
	c := p.Counters()
	assert.EqualValues(t, 4, c.TotalReceived)
	assert.EqualValues(t, 4, c.TotalWritten)
	assert.EqualValues(t, 0, c.TotalDropped)
}

func TestPutOverflowDropsOldest(t *testing.T) {
	p := New(2)
	p.Put(sample(1))
	p.Put(sample(2))
	p.Put(sample(3)) // should drop sample(1)

	first := <-p.Chan()
	assert.EqualValues(t, 2, first.Seq)
	second := <-p.Chan()
	assert.EqualValues(t, 3, second.Seq)

	c := p.Counters()
	assert.EqualValues(t, 3, c.TotalReceived)
	assert.EqualValues(t, 1, c.TotalDropped)
	assert.Equal(t, c.TotalReceived, c.TotalWritten+c.TotalDropped)
}
