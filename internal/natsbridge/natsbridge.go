// Copyright (C) IntelliMaint contributors.
// All rights reserved. This file is part of intellimaint.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

// Package natsbridge wires pkg/nats.Client in as an alternate ingestion
// transport: line-protocol frames published on a subject are decoded into
// samples and fed to the Pipeline, and outbound telemetry batches can be
// republished the same way via Publisher.
package natsbridge

import (
	"context"
	"fmt"
	"math"
	"strconv"
	"time"

	influx "github.com/influxdata/line-protocol/v2/lineprotocol"

	"github.com/intellimaint/intellimaint/internal/obslog"
	"github.com/intellimaint/intellimaint/internal/pipeline"
	"github.com/intellimaint/intellimaint/pkg/nats"
	"github.com/intellimaint/intellimaint/pkg/schema"
)

// Bridge subscribes to a NATS subject and feeds decoded samples into a
// Pipeline's Put, matching the overflow policy already enforced there.
type Bridge struct {
	client  *nats.Client
	pipe    *pipeline.Pipeline
	subject string
}

// New builds a Bridge over an already-connected client.
func New(client *nats.Client, pipe *pipeline.Pipeline, subject string) *Bridge {
	return &Bridge{client: client, pipe: pipe, subject: subject}
}

// Start subscribes to the configured subject and decodes every message as a
// line-protocol frame, inserting one TypedSample per measurement line.
func (b *Bridge) Start() error {
	return b.client.Subscribe(b.subject, func(subject string, data []byte) {
		samples, err := decodeFrame(data)
		if err != nil {
			obslog.Warnf("natsbridge: decode frame from %s failed: %v", subject, err)
			return
		}
		for _, s := range samples {
			b.pipe.Put(s)
		}
	})
}

func decodeFrame(data []byte) ([]schema.TypedSample, error) {
	dec := influx.NewDecoderWithBytes(data)

	var out []schema.TypedSample
	for dec.Next() {
		measurement, err := dec.Measurement()
		if err != nil {
			return nil, fmt.Errorf("natsbridge: measurement: %w", err)
		}
		if string(measurement) != "sample" {
			continue
		}

		var sample schema.TypedSample
		for {
			key, value, err := dec.NextTag()
			if err != nil {
				return nil, fmt.Errorf("natsbridge: tag: %w", err)
			}
			if key == nil {
				break
			}
			switch string(key) {
			case "device":
				sample.DeviceID = string(value)
			case "tag":
				sample.TagID = string(value)
			case "protocol":
				sample.Protocol = string(value)
			}
		}

		for {
			key, value, err := dec.NextField()
			if err != nil {
				return nil, fmt.Errorf("natsbridge: field: %w", err)
			}
			if key == nil {
				break
			}
			if string(key) != "value" {
				continue
			}
			switch value.Kind() {
			case influx.Float:
				sample.ValueType, sample.Value = schema.Float64, value.FloatV()
			case influx.Int:
				sample.ValueType, sample.Value = schema.Int64, value.IntV()
			case influx.Uint:
				sample.ValueType, sample.Value = schema.UInt64, value.UintV()
			case influx.String:
				sample.ValueType, sample.Value = schema.String, value.StringV()
			case influx.Bool:
				sample.ValueType, sample.Value = schema.Bool, value.BoolV()
			default:
				return nil, fmt.Errorf("natsbridge: unsupported value kind %s", value.Kind().String())
			}
		}

		t := time.Now()
		tb, err := dec.TimeBytes()
		if err != nil {
			return nil, fmt.Errorf("natsbridge: timestamp: %w", err)
		}
		if tb != nil {
			n, err := strconv.ParseInt(string(tb), 10, 64)
			if err != nil {
				return nil, fmt.Errorf("natsbridge: timestamp: %w", err)
			}
			// Second, then Millisecond, Microsecond, Nanosecond: the first
			// precision whose scaling to nanoseconds does not overflow wins.
			for _, unit := range []int64{1e9, 1e6, 1e3, 1} {
				if n <= math.MaxInt64/unit && n >= math.MinInt64/unit {
					t = time.Unix(0, n*unit)
					break
				}
			}
		}

		sample.Ts = t.UnixMilli()
		sample.Quality = schema.QualityGood
		out = append(out, sample)
	}
	if err := dec.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

// Publisher adapts a nats.Client into telemetry.Sink, publishing encoded
// batches on subject.
type Publisher struct {
	client  *nats.Client
	subject string
}

// NewPublisher builds a Publisher over an already-connected client.
func NewPublisher(client *nats.Client, subject string) *Publisher {
	return &Publisher{client: client, subject: subject}
}

// Publish sends payload on the configured subject.
func (p *Publisher) Publish(ctx context.Context, payload []byte) error {
	return p.client.Publish(p.subject, payload)
}
