// Copyright (C) IntelliMaint contributors.
// All rights reserved. This file is part of intellimaint.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

// Package telemetry implements the durable repository the batch writer
// appends accepted samples into, encoding batches as InfluxDB line
// protocol before handing them to a pluggable Sink.
package telemetry

import (
	"context"
	"fmt"

	"github.com/intellimaint/intellimaint/pkg/schema"
)

// Sink is the durable destination for encoded line-protocol payloads: a
// file, a NATS publish, a TSDB write endpoint. Kept minimal so Repository
// stays independent of the transport.
type Sink interface {
	Publish(ctx context.Context, payload []byte) error
}

// Repository is the default TelemetryRepository, encoding each batch as
// InfluxDB line protocol before handing it to Sink.
type Repository struct {
	sink Sink
}

// New builds a Repository publishing encoded batches through sink.
func New(sink Sink) *Repository {
	return &Repository{sink: sink}
}

// AppendBatch encodes samples as line protocol and publishes the result.
func (r *Repository) AppendBatch(ctx context.Context, samples []schema.TypedSample) error {
	if len(samples) == 0 {
		return nil
	}
	payload, err := EncodeLineProtocol(samples)
	if err != nil {
		return fmt.Errorf("telemetry: encode: %w", err)
	}
	if err := r.sink.Publish(ctx, payload); err != nil {
		return fmt.Errorf("telemetry: publish: %w", err)
	}
	return nil
}
