// Copyright (C) IntelliMaint contributors.
// All rights reserved. This file is part of intellimaint.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

// Package typemapper is the single site permitted to turn a raw protocol
// value into a schema.TypedSample. It is fail-fast: a declared type hint
// that disagrees with the raw value's shape is rejected rather than coerced.
package typemapper

import (
	"encoding/binary"
	"fmt"
	"time"
	"unicode/utf8"

	"github.com/intellimaint/intellimaint/internal/errkind"
	"github.com/intellimaint/intellimaint/pkg/schema"
)

// MapType resolves a declared type hint (CIP "REAL", UA "Float", ...) to the
// canonical schema.ValueType. A missing hint falls back to inferring from
// the raw Go value's own type; if neither source is conclusive, MapType
// fails rather than guess.
func MapType(protocol, tagID, declaredTypeHint string, rawValue any) (schema.ValueType, error) {
	if declaredTypeHint != "" {
		if vt, ok := fromHint(protocol, declaredTypeHint); ok {
			return vt, nil
		}
		return 0, &errkind.TypeMismatchError{TagID: tagID, Expected: declaredTypeHint, ActualType: fmt.Sprintf("%T", rawValue)}
	}
	if vt, ok := fromGoType(rawValue); ok {
		return vt, nil
	}
	return 0, &errkind.TypeMismatchError{TagID: tagID, Expected: "(none declared)", ActualType: fmt.Sprintf("%T", rawValue)}
}

func fromHint(protocol, hint string) (schema.ValueType, bool) {
	switch protocol {
	case "cip":
		switch hint {
		case "BOOL":
			return schema.Bool, true
		case "SINT":
			return schema.Int8, true
		case "USINT":
			return schema.UInt8, true
		case "INT":
			return schema.Int16, true
		case "UINT":
			return schema.UInt16, true
		case "DINT":
			return schema.Int32, true
		case "UDINT":
			return schema.UInt32, true
		case "LINT":
			return schema.Int64, true
		case "ULINT":
			return schema.UInt64, true
		case "REAL":
			return schema.Float32, true
		case "LREAL":
			return schema.Float64, true
		case "STRING":
			return schema.String, true
		}
	case "opcua":
		switch hint {
		case "Boolean":
			return schema.Bool, true
		case "SByte":
			return schema.Int8, true
		case "Byte":
			return schema.UInt8, true
		case "Int16":
			return schema.Int16, true
		case "UInt16":
			return schema.UInt16, true
		case "Int32":
			return schema.Int32, true
		case "UInt32":
			return schema.UInt32, true
		case "Int64":
			return schema.Int64, true
		case "UInt64":
			return schema.UInt64, true
		case "Float":
			return schema.Float32, true
		case "Double":
			return schema.Float64, true
		case "String":
			return schema.String, true
		case "DateTime":
			return schema.DateTime, true
		case "ByteString":
			return schema.ByteArray, true
		}
	}
	return 0, false
}

// fromGoType infers a ValueType from a raw value's own Go type when no
// declared hint was supplied. No implicit numeric widening/narrowing is
// performed elsewhere; this merely identifies what's already there.
func fromGoType(rawValue any) (schema.ValueType, bool) {
	switch rawValue.(type) {
	case bool:
		return schema.Bool, true
	case int8:
		return schema.Int8, true
	case uint8:
		return schema.UInt8, true
	case int16:
		return schema.Int16, true
	case uint16:
		return schema.UInt16, true
	case int32:
		return schema.Int32, true
	case uint32:
		return schema.UInt32, true
	case int64:
		return schema.Int64, true
	case uint64:
		return schema.UInt64, true
	case float32:
		return schema.Float32, true
	case float64:
		return schema.Float64, true
	case string:
		return schema.String, true
	case []byte:
		return schema.ByteArray, true
	default:
		return 0, false
	}
}

// RawQuality is the collector-facing quality classification prior to
// mapping onto the schema.Quality numeric convention.
type RawQuality int

const (
	RawGood RawQuality = iota
	RawBad
	RawUncertain
)

func mapQuality(q RawQuality) schema.Quality {
	switch q {
	case RawGood:
		return schema.QualityGood
	case RawBad:
		return schema.QualityBad
	default:
		return schema.QualityUncertain
	}
}

// MapValue produces a TypedSample from a raw protocol value. expectedValueType
// is authoritative: rawValue's dynamic type must already match it exactly
// (no implicit widening/narrowing, e.g. an Int32 raw value into a Float32
// expected type is a mismatch), except for the two protocol-specific
// encodings handled explicitly below (AB length-prefixed strings, UA
// DateTime-as-epoch-ms). The sample's Ts is stamped with the current
// wall-clock time in ms; Seq is left zero.
func MapValue(deviceID, tagID string, expectedValueType schema.ValueType, rawValue any, quality RawQuality, protocol string) (schema.TypedSample, error) {
	value, err := coerce(expectedValueType, rawValue, protocol)
	if err != nil {
		return schema.TypedSample{}, &errkind.TypeMismatchError{
			DeviceID: deviceID, TagID: tagID,
			Expected: expectedValueType.String(), ActualType: fmt.Sprintf("%T", rawValue),
		}
	}

	return schema.TypedSample{
		DeviceID:  deviceID,
		TagID:     tagID,
		Ts:        time.Now().UnixMilli(),
		ValueType: expectedValueType,
		Value:     value,
		Quality:   mapQuality(quality),
		Protocol:  protocol,
	}, nil
}

func coerce(expected schema.ValueType, rawValue any, protocol string) (any, error) {
	// AB-style length-prefixed strings: [len:int32-LE][bytes...].
	if expected == schema.String && protocol == "cip" {
		if raw, ok := rawValue.([]byte); ok {
			return decodeCIPString(raw)
		}
	}
	// UA DateTime arrives as an int64 epoch-ms already, or as a native
	// time-like int64; either way it's stored as Int64 bit pattern.
	if expected == schema.DateTime {
		if v, ok := rawValue.(int64); ok {
			return v, nil
		}
		return nil, fmt.Errorf("datetime value not int64")
	}

	wantKind, ok := kindFor(expected)
	if !ok {
		return nil, fmt.Errorf("unsupported value type %v", expected)
	}
	gotKind, ok := kindForValue(rawValue)
	if !ok || gotKind != wantKind {
		return nil, fmt.Errorf("kind mismatch: want %v got %T", expected, rawValue)
	}
	return rawValue, nil
}

func decodeCIPString(raw []byte) (string, error) {
	if len(raw) < 4 {
		return "", fmt.Errorf("cip string buffer too short: %d bytes", len(raw))
	}
	length := int(int32(binary.LittleEndian.Uint32(raw[0:4])))
	if length < 0 {
		return "", fmt.Errorf("cip string negative length %d", length)
	}
	avail := len(raw) - 4
	n := length
	if n > avail {
		n = avail
	}
	b := raw[4 : 4+n]
	// Decode only the valid-UTF8 prefix; truncate at the first invalid byte
	// rather than replacing with U+FFFD, so partial reads stay inspectable.
	return string(validUTF8Prefix(b)), nil
}

func validUTF8Prefix(b []byte) []byte {
	for i := 0; i < len(b); {
		r, size := utf8.DecodeRune(b[i:])
		if r == utf8.RuneError && size <= 1 {
			return b[:i]
		}
		i += size
	}
	return b
}

func kindFor(vt schema.ValueType) (string, bool) {
	switch vt {
	case schema.Bool:
		return "bool", true
	case schema.Int8:
		return "int8", true
	case schema.UInt8:
		return "uint8", true
	case schema.Int16:
		return "int16", true
	case schema.UInt16:
		return "uint16", true
	case schema.Int32:
		return "int32", true
	case schema.UInt32:
		return "uint32", true
	case schema.Int64:
		return "int64", true
	case schema.UInt64:
		return "uint64", true
	case schema.Float32:
		return "float32", true
	case schema.Float64:
		return "float64", true
	case schema.String:
		return "string", true
	case schema.ByteArray:
		return "[]byte", true
	default:
		return "", false
	}
}

func kindForValue(v any) (string, bool) {
	switch v.(type) {
	case bool:
		return "bool", true
	case int8:
		return "int8", true
	case uint8:
		return "uint8", true
	case int16:
		return "int16", true
	case uint16:
		return "uint16", true
	case int32:
		return "int32", true
	case uint32:
		return "uint32", true
	case int64:
		return "int64", true
	case uint64:
		return "uint64", true
	case float32:
		return "float32", true
	case float64:
		return "float64", true
	case string:
		return "string", true
	case []byte:
		return "[]byte", true
	default:
		return "", false
	}
}
