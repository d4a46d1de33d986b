// Copyright (C) IntelliMaint contributors.
// All rights reserved. This file is part of intellimaint.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package telemetry

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/intellimaint/intellimaint/pkg/schema"
)

func TestEncodeLineProtocolIncludesTagsAndValue(t *testing.T) {
	samples := []schema.TypedSample{
		{DeviceID: "D1", TagID: "T1", Ts: 1700000000000, ValueType: schema.Float64, Value: 42.5, Quality: schema.QualityGood, Protocol: "cip"},
	}
	out, err := EncodeLineProtocol(samples)
	require.NoError(t, err)

	line := string(out)
	assert.True(t, strings.HasPrefix(line, "sample,"))
	assert.Contains(t, line, "device=D1")
	assert.Contains(t, line, "tag=T1")
	assert.Contains(t, line, "value=42.5")
}

func TestEncodeLineProtocolEmptyBatchReturnsEmpty(t *testing.T) {
	out, err := EncodeLineProtocol(nil)
	require.NoError(t, err)
	assert.Empty(t, out)
}

func TestEncodeLineProtocolRejectsUnsupportedValue(t *testing.T) {
	samples := []schema.TypedSample{
		{DeviceID: "D1", TagID: "T1", Ts: 1, ValueType: schema.ByteArray, Value: struct{}{}},
	}
	_, err := EncodeLineProtocol(samples)
	assert.Error(t, err)
}
