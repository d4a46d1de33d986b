// Copyright (C) IntelliMaint contributors.
// All rights reserved. This file is part of intellimaint.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

// Package collector implements one independently-scheduled loop per
// (endpoint, scanGroup) that acquires a pooled connection, batch-reads a
// group's tags through a protocol Reader, classifies failures, and emits
// TypedSamples into the shared Pipeline.
package collector

import (
	"context"

	"github.com/intellimaint/intellimaint/internal/typemapper"
	"github.com/intellimaint/intellimaint/pkg/schema"
)

// ReadResult is one tag's outcome within a batch read. Err, when non-nil, is
// always classified via errkind.Tag so the Loop can branch without
// re-deriving the failure kind from error text.
type ReadResult struct {
	TagID        string
	Value        any
	DeclaredType string
	Quality      typemapper.RawQuality
	Err          error
}

// Reader is the protocol-specific collaborator behind a Loop: given an
// endpoint and a set of tags, it returns one ReadResult per tag. A non-nil
// top-level error means the whole batch failed (dial/session failure); a
// per-ReadResult Err means only that tag failed (bad address, timeout).
type Reader interface {
	ReadBatch(ctx context.Context, endpoint schema.EndpointDescriptor, tags []schema.TagDescriptor) ([]ReadResult, error)
	Close() error
}

