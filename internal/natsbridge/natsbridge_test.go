// Copyright (C) IntelliMaint contributors.
// All rights reserved. This file is part of intellimaint.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package natsbridge

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/intellimaint/intellimaint/pkg/schema"
)

func TestDecodeFrameParsesTagsAndField(t *testing.T) {
	line := []byte("sample,device=press-01,tag=temp,protocol=opcua value=42.5 1700000000000000000\n")

	samples, err := decodeFrame(line)
	require.NoError(t, err)
	require.Len(t, samples, 1)

	s := samples[0]
	assert.Equal(t, "press-01", s.DeviceID)
	assert.Equal(t, "temp", s.TagID)
	assert.Equal(t, "opcua", s.Protocol)
	assert.Equal(t, schema.Float64, s.ValueType)
	assert.Equal(t, 42.5, s.Value)
	assert.Equal(t, schema.QualityGood, s.Quality)
	assert.EqualValues(t, 1700000000000, s.Ts)
}

func TestDecodeFrameSkipsOtherMeasurements(t *testing.T) {
	line := []byte("other,device=x value=1 1700000000000000000\n")

	samples, err := decodeFrame(line)
	require.NoError(t, err)
	assert.Empty(t, samples)
}

func TestEncodeAlarmEvent(t *testing.T) {
	frame, err := encodeAlarmEvent(schema.AlarmIntent{
		DeviceID: "press-01",
		TagID:    "temp",
		Ts:       1700000000000,
		Severity: 3,
		Code:     "RULE:r1",
		Message:  "high temp",
	})
	require.NoError(t, err)

	got := string(frame)
	assert.Contains(t, got, "alarm,")
	assert.Contains(t, got, "device=press-01")
	assert.Contains(t, got, "code=RULE:r1")
	assert.Contains(t, got, "severity=3")
	assert.Contains(t, got, `event="high temp"`)
}

func TestDecodeFrameHandlesMultipleLines(t *testing.T) {
	line := []byte(
		"sample,device=d1,tag=t1 value=1i 1700000000000000000\n" +
			"sample,device=d2,tag=t2 value=2i 1700000001000000000\n",
	)

	samples, err := decodeFrame(line)
	require.NoError(t, err)
	require.Len(t, samples, 2)
	assert.Equal(t, "d1", samples[0].DeviceID)
	assert.Equal(t, "d2", samples[1].DeviceID)
	assert.Equal(t, schema.Int64, samples[0].ValueType)
}
