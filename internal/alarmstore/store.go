// Copyright (C) IntelliMaint contributors.
// All rights reserved. This file is part of intellimaint.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

// Package alarmstore defines the alarm persistence boundary and a
// SQLite-backed implementation built on sqlx, squirrel, and golang-migrate.
package alarmstore

import (
	"context"
	"time"

	"github.com/intellimaint/intellimaint/pkg/schema"
)

// Filter narrows Query results; zero values are unconstrained.
type Filter struct {
	DeviceID string
	TagID    string
	Status   *schema.AlarmStatus
	Code     string
}

// Paging bounds a Query result set.
type Paging struct {
	Page         int
	ItemsPerPage int
}

// Page is a single page of AlarmRecords plus the total matching count.
type Page struct {
	Items []schema.AlarmRecord
	Total int
}

// Store is the alarm persistence boundary. Evaluators and the aggregator
// depend only on this interface; engine, compression, and retention choices
// are the implementation's concern.
type Store interface {
	Create(ctx context.Context, alarm schema.AlarmRecord) error
	Get(ctx context.Context, id string) (schema.AlarmRecord, error)
	Query(ctx context.Context, filter Filter, paging Paging) (Page, error)
	Ack(ctx context.Context, id, user, note string) error
	Close(ctx context.Context, id string) error
	HasOpenByCode(ctx context.Context, code string) (bool, error)
	Shutdown(ctx context.Context) error
}

// ErrUniqueViolation is returned by Create when the partial unique index on
// (code) WHERE status <> Closed rejects a second concurrently open alarm
// for the same code. Call sites treat this as "already open" and suppress
// it silently rather than surfacing a duplicate-alarm error.
type ErrUniqueViolation struct {
	Code string
}

func (e *ErrUniqueViolation) Error() string {
	return "alarmstore: an open alarm for code " + e.Code + " already exists"
}

// NewRecord is a small constructor helper used by evaluators/aggregator to
// stamp the timestamps consistently.
func NewRecord(id, deviceID, tagID string, ts int64, severity int, code, message string) schema.AlarmRecord {
	now := time.Now().UTC()
	return schema.AlarmRecord{
		AlarmID:    id,
		DeviceID:   deviceID,
		TagID:      tagID,
		Ts:         ts,
		Severity:   severity,
		Code:       code,
		Message:    message,
		Status:     schema.StatusOpen,
		CreatedUtc: now,
		UpdatedUtc: now,
	}
}
