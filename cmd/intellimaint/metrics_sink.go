// Copyright (C) IntelliMaint contributors.
// All rights reserved. This file is part of intellimaint.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package main

import (
	"context"

	"github.com/intellimaint/intellimaint/internal/evaluator"
	"github.com/intellimaint/intellimaint/internal/metrics"
	"github.com/intellimaint/intellimaint/internal/natsbridge"
	"github.com/intellimaint/intellimaint/internal/obslog"
	"github.com/intellimaint/intellimaint/pkg/schema"
)

// metricsAlarmSink decorates an evaluator.AlarmSink with a per-family
// Prometheus counter. Each of the four evaluator constructors in main gets
// its own instance so RecordAlarm always carries the right family label,
// since StoreSink itself only sees an alarm code, not which evaluator fired.
type metricsAlarmSink struct {
	evaluator.AlarmSink
	family string
	reg    *metrics.Registry
}

func (s metricsAlarmSink) Emit(ctx context.Context, intent schema.AlarmIntent) error {
	if err := s.AlarmSink.Emit(ctx, intent); err != nil {
		return err
	}
	s.reg.RecordAlarm(s.family)
	return nil
}

// publishAlarmSink decorates an evaluator.AlarmSink with best-effort NATS
// republishing: a publish failure is logged, never surfaced, since the alarm
// is already persisted by the inner sink at that point.
type publishAlarmSink struct {
	evaluator.AlarmSink
	pub *natsbridge.AlarmPublisher
}

func (s publishAlarmSink) Emit(ctx context.Context, intent schema.AlarmIntent) error {
	if err := s.AlarmSink.Emit(ctx, intent); err != nil {
		return err
	}
	if err := s.pub.PublishAlarm(intent); err != nil {
		obslog.Warnf("natsbridge: alarm publish %s failed: %v", intent.Code, err)
	}
	return nil
}
