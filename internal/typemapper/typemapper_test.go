// Copyright (C) IntelliMaint contributors.
// All rights reserved. This file is part of intellimaint.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package typemapper

import (
	"encoding/binary"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/intellimaint/intellimaint/pkg/schema"
)

func TestMapTypeDeclaredHintAuthoritative(t *testing.T) {
	vt, err := MapType("cip", "T1", "REAL", float32(1.5))
	require.NoError(t, err)
	assert.Equal(t, schema.Float32, vt)
}

func TestMapTypeUnknownHintFails(t *testing.T) {
	_, err := MapType("cip", "T1", "NOT_A_TYPE", float32(1.5))
	assert.Error(t, err)
}

func TestMapTypeInfersFromGoTypeWhenHintMissing(t *testing.T) {
	vt, err := MapType("cip", "T1", "", float64(2.0))
	require.NoError(t, err)
	assert.Equal(t, schema.Float64, vt)
}

func TestMapValueNoImplicitWidening(t *testing.T) {
	_, err := MapValue("D1", "T1", schema.Float32, int32(5), RawGood, "cip")
	assert.Error(t, err, "Int32 raw into Float32 expected must be a type mismatch")
}

func TestMapValueQuality(t *testing.T) {
	s, err := MapValue("D1", "T1", schema.Float64, float64(3.14), RawGood, "opcua")
	require.NoError(t, err)
	assert.Equal(t, schema.QualityGood, s.Quality)
	assert.True(t, s.IsValid())

	s, err = MapValue("D1", "T1", schema.Float64, float64(3.14), RawBad, "opcua")
	require.NoError(t, err)
	assert.Equal(t, schema.QualityBad, s.Quality)
}

func TestMapValueCIPStringDecodesLengthPrefixed(t *testing.T) {
	buf := make([]byte, 4+5)
	binary.LittleEndian.PutUint32(buf[0:4], 5)
	copy(buf[4:], "hello")

	s, err := MapValue("D1", "T1", schema.String, buf, RawGood, "cip")
	require.NoError(t, err)
	assert.Equal(t, "hello", s.Value)
}

func TestMapValueCIPStringTruncatesToAvailableBuffer(t *testing.T) {
	buf := make([]byte, 4+3)
	binary.LittleEndian.PutUint32(buf[0:4], 10) // claims more than is present
	copy(buf[4:], "abc")

	s, err := MapValue("D1", "T1", schema.String, buf, RawGood, "cip")
	require.NoError(t, err)
	assert.Equal(t, "abc", s.Value)
}

func TestMapValueDateTimeStoredAsInt64EpochMs(t *testing.T) {
	s, err := MapValue("D1", "T1", schema.DateTime, int64(1_700_000_000_000), RawGood, "opcua")
	require.NoError(t, err)
	assert.Equal(t, schema.DateTime, s.ValueType)
	assert.Equal(t, int64(1_700_000_000_000), s.Value)
}
