// Copyright (C) IntelliMaint contributors.
// All rights reserved. This file is part of intellimaint.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package natsbridge

import (
	"fmt"
	"strconv"
	"time"

	ccmsg "github.com/ClusterCockpit/cc-lib/v2/ccMessage"

	"github.com/intellimaint/intellimaint/pkg/nats"
	"github.com/intellimaint/intellimaint/pkg/schema"
)

// AlarmPublisher republishes persisted alarms as ccMessage events on a NATS
// subject, so a downstream historian or notification fan-out can follow the
// alarm stream without polling the store.
type AlarmPublisher struct {
	client  *nats.Client
	subject string
}

// NewAlarmPublisher builds an AlarmPublisher over an already-connected client.
func NewAlarmPublisher(client *nats.Client, subject string) *AlarmPublisher {
	return &AlarmPublisher{client: client, subject: subject}
}

// PublishAlarm encodes intent as a line-protocol event frame and publishes
// it on the configured subject.
func (p *AlarmPublisher) PublishAlarm(intent schema.AlarmIntent) error {
	frame, err := encodeAlarmEvent(intent)
	if err != nil {
		return err
	}
	return p.client.Publish(p.subject, frame)
}

func encodeAlarmEvent(intent schema.AlarmIntent) ([]byte, error) {
	msg, err := ccmsg.NewEvent(
		"alarm",
		map[string]string{
			"device":   intent.DeviceID,
			"tag":      intent.TagID,
			"code":     intent.Code,
			"severity": strconv.Itoa(intent.Severity),
		},
		nil,
		intent.Message,
		time.UnixMilli(intent.Ts),
	)
	if err != nil {
		return nil, fmt.Errorf("natsbridge: alarm event: %w", err)
	}
	return []byte(msg.ToLineProtocol(nil)), nil
}
