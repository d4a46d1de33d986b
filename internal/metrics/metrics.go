// Copyright (C) IntelliMaint contributors.
// All rights reserved. This file is part of intellimaint.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

// Package metrics exports Prometheus counters and gauges for the pipeline,
// dispatcher, writer, and evaluator components. Pipeline, Dispatcher, and
// Writer already keep their own atomic counters; this package exposes them
// to Prometheus as a pull-based Collector instead of threading increment
// calls through the hot path a second time.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/intellimaint/intellimaint/internal/dispatcher"
	"github.com/intellimaint/intellimaint/internal/pipeline"
	"github.com/intellimaint/intellimaint/internal/writer"
)

var (
	pipelineReceivedDesc = prometheus.NewDesc(
		"intellimaint_pipeline_received_total", "Samples accepted into the ingest pipeline.", nil, nil)
	pipelineDroppedDesc = prometheus.NewDesc(
		"intellimaint_pipeline_dropped_total", "Samples dropped by the ingest pipeline's overflow policy.", nil, nil)

	dispatcherDeliveredDesc = prometheus.NewDesc(
		"intellimaint_dispatcher_delivered_total", "Samples delivered to a dispatcher target.", []string{"target"}, nil)
	dispatcherFastPathMissDesc = prometheus.NewDesc(
		"intellimaint_dispatcher_fastpath_miss_total",
		"Times a dispatcher target's queue was already full on the fast try-write path. A contention signal, not a loss count: the slow path may still deliver these.",
		[]string{"target"}, nil)
	dispatcherDropDeadlineDesc = prometheus.NewDesc(
		"intellimaint_dispatcher_drop_deadline_total",
		"Samples actually dropped after the dispatcher's slow-path deadline expired. The authoritative per-target loss count.",
		[]string{"target"}, nil)

	writerBatchesDesc = prometheus.NewDesc(
		"intellimaint_writer_batches_total", "Batches successfully written to the telemetry repository.", nil, nil)
	writerRetriesDesc = prometheus.NewDesc(
		"intellimaint_writer_retries_total", "Batch write retries.", nil, nil)
	writerOverflowedDesc = prometheus.NewDesc(
		"intellimaint_writer_overflowed_total", "Samples handed to the overflow sink after exhausting retries.", nil, nil)
	writerLastWriteDesc = prometheus.NewDesc(
		"intellimaint_writer_last_write_ms", "Duration of the most recent batch write.", nil, nil)
)

// liveCollector implements prometheus.Collector by reading the current
// values off the live components on every scrape, rather than mirroring
// their atomics into a second set of counters that could drift.
type liveCollector struct {
	pipe    *pipeline.Pipeline
	targets []*dispatcher.Target
	writer  *writer.Writer
}

func (c *liveCollector) Describe(ch chan<- *prometheus.Desc) {
	ch <- pipelineReceivedDesc
	ch <- pipelineDroppedDesc
	ch <- dispatcherDeliveredDesc
	ch <- dispatcherFastPathMissDesc
	ch <- dispatcherDropDeadlineDesc
	ch <- writerBatchesDesc
	ch <- writerRetriesDesc
	ch <- writerOverflowedDesc
	ch <- writerLastWriteDesc
}

func (c *liveCollector) Collect(ch chan<- prometheus.Metric) {
	if c.pipe != nil {
		pc := c.pipe.Counters()
		ch <- prometheus.MustNewConstMetric(pipelineReceivedDesc, prometheus.CounterValue, float64(pc.TotalReceived))
		ch <- prometheus.MustNewConstMetric(pipelineDroppedDesc, prometheus.CounterValue, float64(pc.TotalDropped))
	}
	for _, t := range c.targets {
		tc := t.Counters()
		ch <- prometheus.MustNewConstMetric(dispatcherDeliveredDesc, prometheus.CounterValue, float64(tc.Delivered), t.Name)
		ch <- prometheus.MustNewConstMetric(dispatcherFastPathMissDesc, prometheus.CounterValue, float64(tc.FastPathMiss), t.Name)
		ch <- prometheus.MustNewConstMetric(dispatcherDropDeadlineDesc, prometheus.CounterValue, float64(tc.DropDeadline), t.Name)
	}
	if c.writer != nil {
		ws := c.writer.Stats()
		ch <- prometheus.MustNewConstMetric(writerBatchesDesc, prometheus.CounterValue, float64(ws.Batches))
		ch <- prometheus.MustNewConstMetric(writerRetriesDesc, prometheus.CounterValue, float64(ws.Retries))
		ch <- prometheus.MustNewConstMetric(writerOverflowedDesc, prometheus.CounterValue, float64(ws.Overflowed))
		ch <- prometheus.MustNewConstMetric(writerLastWriteDesc, prometheus.GaugeValue, float64(ws.LastWriteMs))
	}
}

// Registry bundles every metric this program exports: a live-pull Collector
// over the pipeline/dispatcher/writer atomics, plus an event-driven counter
// for alarms, which have no atomic of their own to poll.
type Registry struct {
	AlarmsEmitted *prometheus.CounterVec
}

// NewRegistry builds and registers every metric against reg. pipe, targets,
// and w may be nil (e.g. in tests exercising only the alarm counter); a nil
// source is simply skipped on each scrape.
func NewRegistry(reg prometheus.Registerer, pipe *pipeline.Pipeline, targets []*dispatcher.Target, w *writer.Writer) *Registry {
	m := &Registry{
		AlarmsEmitted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "intellimaint", Subsystem: "alarm", Name: "emitted_total",
			Help: "Alarms emitted by family.",
		}, []string{"family"}),
	}

	reg.MustRegister(m.AlarmsEmitted)
	reg.MustRegister(&liveCollector{pipe: pipe, targets: targets, writer: w})
	return m
}

// RecordAlarm increments the emitted counter for family ("threshold", "roc",
// "volatility", "offline").
func (m *Registry) RecordAlarm(family string) {
	m.AlarmsEmitted.WithLabelValues(family).Inc()
}
