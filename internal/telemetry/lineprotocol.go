// Copyright (C) IntelliMaint contributors.
// All rights reserved. This file is part of intellimaint.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package telemetry

import (
	"time"

	influx "github.com/influxdata/line-protocol/v2/lineprotocol"

	"github.com/intellimaint/intellimaint/pkg/schema"
)

// EncodeLineProtocol renders samples as InfluxDB line protocol, one line per
// sample, measurement "sample" tagged by device/tag/protocol. This is the
// same wire shape natsbridge.decodeFrame parses on the subscribe side, just
// from the encoder side instead of the decoder side.
func EncodeLineProtocol(samples []schema.TypedSample) ([]byte, error) {
	var enc influx.Encoder
	enc.SetPrecision(influx.Millisecond)

	for _, s := range samples {
		enc.StartLine("sample")
		enc.AddTag("device", s.DeviceID)
		enc.AddTag("protocol", s.Protocol)
		enc.AddTag("quality", qualityLabel(s.Quality))
		enc.AddTag("tag", s.TagID)

		value, err := fieldValue(s)
		if err != nil {
			return nil, err
		}
		enc.AddField("value", value)
		enc.EndLine(time.UnixMilli(s.Ts))

		if err := enc.Err(); err != nil {
			return nil, err
		}
	}
	return enc.Bytes(), nil
}

func qualityLabel(q schema.Quality) string {
	switch q {
	case schema.QualityGood:
		return "good"
	case schema.QualityBad:
		return "bad"
	default:
		return "uncertain"
	}
}

func fieldValue(s schema.TypedSample) (influx.Value, error) {
	switch v := s.Value.(type) {
	case bool:
		return influx.BoolValue(v), nil
	case int8:
		return influx.IntValue(int64(v)), nil
	case int16:
		return influx.IntValue(int64(v)), nil
	case int32:
		return influx.IntValue(int64(v)), nil
	case int64:
		return influx.IntValue(v), nil
	case uint8:
		return influx.UintValue(uint64(v)), nil
	case uint16:
		return influx.UintValue(uint64(v)), nil
	case uint32:
		return influx.UintValue(uint64(v)), nil
	case uint64:
		return influx.UintValue(v), nil
	case float32:
		val, ok := influx.FloatValue(float64(v))
		if !ok {
			return influx.Value{}, errUnsupportedValue(s)
		}
		return val, nil
	case float64:
		val, ok := influx.FloatValue(v)
		if !ok {
			return influx.Value{}, errUnsupportedValue(s)
		}
		return val, nil
	case string:
		val, ok := influx.StringValue(v)
		if !ok {
			return influx.Value{}, errUnsupportedValue(s)
		}
		return val, nil
	default:
		f, ok := s.AsFloat64()
		if !ok {
			return influx.Value{}, errUnsupportedValue(s)
		}
		val, ok := influx.FloatValue(f)
		if !ok {
			return influx.Value{}, errUnsupportedValue(s)
		}
		return val, nil
	}
}

type unsupportedValueError struct {
	deviceID, tagID string
}

func (e *unsupportedValueError) Error() string {
	return "telemetry: unsupported value type for " + e.deviceID + "/" + e.tagID
}

func errUnsupportedValue(s schema.TypedSample) error {
	return &unsupportedValueError{deviceID: s.DeviceID, tagID: s.TagID}
}
