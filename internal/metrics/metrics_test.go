// Copyright (C) IntelliMaint contributors.
// All rights reserved. This file is part of intellimaint.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/intellimaint/intellimaint/internal/dispatcher"
	"github.com/intellimaint/intellimaint/internal/pipeline"
	"github.com/intellimaint/intellimaint/pkg/schema"
)

func TestNewRegistryRegistersAllMetrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	pipe := pipeline.New(8)
	target := dispatcher.NewTarget("threshold", 8)

	m := NewRegistry(reg, pipe, []*dispatcher.Target{target}, nil)
	require.NotNil(t, m)

	pipe.Put(schema.TypedSample{DeviceID: "D", TagID: "T"})
	m.RecordAlarm("threshold")

	families, err := reg.Gather()
	require.NoError(t, err)
	assert.NotEmpty(t, families)

	var sawPipelineReceived, sawAlarmsEmitted bool
	for _, f := range families {
		switch f.GetName() {
		case "intellimaint_pipeline_received_total":
			sawPipelineReceived = true
			assert.EqualValues(t, 1, f.Metric[0].GetCounter().GetValue())
		case "intellimaint_alarm_emitted_total":
			sawAlarmsEmitted = true
		}
	}
	assert.True(t, sawPipelineReceived, "pipeline counters should be collected live")
	assert.True(t, sawAlarmsEmitted, "alarm counter should reflect RecordAlarm calls")
}

func TestNewRegistryToleratesNilSources(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewRegistry(reg, nil, nil, nil)
	require.NotNil(t, m)

	_, err := reg.Gather()
	require.NoError(t, err)
}
