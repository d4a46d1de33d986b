// Copyright (C) IntelliMaint contributors.
// All rights reserved. This file is part of intellimaint.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package schema

import (
	"fmt"
	"reflect"
)

// ValueType is the canonical tag for the single typed value slot carried by
// a TypedSample. TypeMapper (internal/typemapper) is the only component
// permitted to produce a sample from a raw protocol value; everything else
// treats ValueType as authoritative and read-only.
type ValueType int

const (
	Bool ValueType = iota
	Int8
	UInt8
	Int16
	UInt16
	Int32
	UInt32
	Int64
	UInt64
	Float32
	Float64
	String
	DateTime
	ByteArray
)

func (vt ValueType) String() string {
	switch vt {
	case Bool:
		return "Bool"
	case Int8:
		return "Int8"
	case UInt8:
		return "UInt8"
	case Int16:
		return "Int16"
	case UInt16:
		return "UInt16"
	case Int32:
		return "Int32"
	case UInt32:
		return "UInt32"
	case Int64:
		return "Int64"
	case UInt64:
		return "UInt64"
	case Float32:
		return "Float32"
	case Float64:
		return "Float64"
	case String:
		return "String"
	case DateTime:
		return "DateTime"
	case ByteArray:
		return "ByteArray"
	default:
		return "Unknown"
	}
}

// Quality mirrors the OPC UA / CIP notion of data quality attached to a
// sample. Good=192, Uncertain=64, Bad=0; anything else is folded to
// Uncertain by TypeMapper.MapValue.
type Quality int

const (
	QualityBad       Quality = 0
	QualityUncertain Quality = 64
	QualityGood      Quality = 192
)

// TypedSample is an immutable reading from a single (device, tag) at a point
// in time. Exactly one of the typed value accessors is meaningful; which one
// is determined by ValueType, and Value's dynamic type must match it (see
// IsValid). Within a single producer, (Ts, Seq) is non-decreasing.
type TypedSample struct {
	DeviceID  string
	TagID     string
	Ts        int64 // ms since epoch
	Seq       int64 // monotonic per producer process
	ValueType ValueType
	// Value holds the Go-native representation matching ValueType:
	// bool, int8/16/32/64, uint8/16/32/64, float32/64, string, or []byte.
	// DateTime is carried as int64 (epoch ms), the same representation as
	// Int64, but tagged DateTime so consumers can tell the two apart.
	Value    any
	Quality  Quality
	Unit     string
	Protocol string
}

// IsValid reports whether exactly one typed value slot is populated and its
// dynamic type matches ValueType, and that Ts/Seq are well-formed. Every
// sample a Collector emits must satisfy this before it reaches the pipeline.
func (s TypedSample) IsValid() bool {
	if s.Ts <= 0 {
		return false
	}
	wantKind, ok := kindFor(s.ValueType)
	if !ok {
		return false
	}
	if s.Value == nil {
		return false
	}
	return reflect.TypeOf(s.Value).Kind() == wantKind
}

func kindFor(vt ValueType) (reflect.Kind, bool) {
	switch vt {
	case Bool:
		return reflect.Bool, true
	case Int8:
		return reflect.Int8, true
	case UInt8:
		return reflect.Uint8, true
	case Int16:
		return reflect.Int16, true
	case UInt16:
		return reflect.Uint16, true
	case Int32:
		return reflect.Int32, true
	case UInt32:
		return reflect.Uint32, true
	case Int64, DateTime:
		return reflect.Int64, true
	case UInt64:
		return reflect.Uint64, true
	case Float32:
		return reflect.Float32, true
	case Float64:
		return reflect.Float64, true
	case String:
		return reflect.String, true
	case ByteArray:
		return reflect.Slice, true
	default:
		return 0, false
	}
}

// AsFloat64 extracts a numeric scalar from the sample's value, matching the
// evaluators' shared scalar-extraction rule: booleans map to {0,1}, numeric
// types widen to float64, strings are parsed, and anything else fails with
// ok=false so the caller can skip the sample.
func (s TypedSample) AsFloat64() (v float64, ok bool) {
	switch x := s.Value.(type) {
	case bool:
		if x {
			return 1, true
		}
		return 0, true
	case int8:
		return float64(x), true
	case uint8:
		return float64(x), true
	case int16:
		return float64(x), true
	case uint16:
		return float64(x), true
	case int32:
		return float64(x), true
	case uint32:
		return float64(x), true
	case int64:
		return float64(x), true
	case uint64:
		return float64(x), true
	case float32:
		return float64(x), true
	case float64:
		return x, true
	case string:
		var f float64
		if _, err := fmt.Sscanf(x, "%g", &f); err != nil {
			return 0, false
		}
		return f, true
	default:
		return 0, false
	}
}
