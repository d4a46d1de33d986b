// Copyright (C) IntelliMaint contributors.
// All rights reserved. This file is part of intellimaint.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

// Package config loads and validates the program's JSON configuration file:
// a decoded ProgramConfig value, published through an atomically-swapped
// package-level pointer, populated via json.Decoder.DisallowUnknownFields
// and checked against an embedded JSON Schema before decode.
package config

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"sync/atomic"

	"github.com/intellimaint/intellimaint/internal/obslog"
	"github.com/intellimaint/intellimaint/pkg/schema"
)

// EndpointConfig describes one PLC/OPC UA endpoint and the scan groups
// polled against it.
type EndpointConfig struct {
	EndpointID     string            `json:"endpointId"`
	Protocol       string            `json:"protocol"` // "cip", "opcua", "simulate"
	Host           string            `json:"host"`
	Port           int               `json:"port"`
	CIPPath        string            `json:"cipPath"`
	PLCFamily      string            `json:"plcFamily"`
	SecurityPolicy string            `json:"securityPolicy"`
	SecurityMode   string            `json:"securityMode"`
	Username       string            `json:"username"`
	Password       string            `json:"password"`
	MaxConnections int               `json:"maxConnections"`
	ScanGroups     []ScanGroupConfig `json:"scanGroups"`
}

// ToDescriptor converts e into the runtime schema.EndpointDescriptor.
func (e EndpointConfig) ToDescriptor() schema.EndpointDescriptor {
	return schema.EndpointDescriptor{
		EndpointID:     e.EndpointID,
		Protocol:       e.Protocol,
		Host:           e.Host,
		Port:           e.Port,
		CIPPath:        e.CIPPath,
		PLCFamily:      schema.PLCFamily(e.PLCFamily),
		SecurityPolicy: e.SecurityPolicy,
		SecurityMode:   e.SecurityMode,
		Username:       e.Username,
		Password:       e.Password,
		MaxConnections: e.MaxConnections,
	}
}

// ScanGroupConfig is one named polling interval within an EndpointConfig.
type ScanGroupConfig struct {
	Name           string      `json:"name"`
	ScanIntervalMs int64       `json:"scanIntervalMs"`
	BatchSize      int         `json:"batchSize"`
	Tags           []TagConfig `json:"tags"`
}

// ToScanGroup converts g into the runtime schema.ScanGroup, stamping every
// contained tag with the group's name and scan interval.
func (g ScanGroupConfig) ToScanGroup() schema.ScanGroup {
	tags := make([]schema.TagDescriptor, 0, len(g.Tags))
	for _, t := range g.Tags {
		tags = append(tags, t.ToDescriptor(g.Name, g.ScanIntervalMs))
	}
	return schema.ScanGroup{
		Name:           g.Name,
		ScanIntervalMs: g.ScanIntervalMs,
		BatchSize:      g.BatchSize,
		Tags:           tags,
	}
}

// TagConfig describes a single polled point.
type TagConfig struct {
	TagID        string `json:"tagId"`
	DeviceID     string `json:"deviceId"`
	Address      string `json:"address"`
	DeclaredType string `json:"declaredType"`
	Unit         string `json:"unit"`
	Enabled      bool   `json:"enabled"`
}

// ToDescriptor converts t into a schema.TagDescriptor scoped to scanGroup.
func (t TagConfig) ToDescriptor(scanGroup string, scanIntervalMs int64) schema.TagDescriptor {
	return schema.TagDescriptor{
		TagID:          t.TagID,
		DeviceID:       t.DeviceID,
		Address:        t.Address,
		DeclaredType:   t.DeclaredType,
		ScanGroup:      scanGroup,
		ScanIntervalMs: scanIntervalMs,
		Unit:           t.Unit,
		Enabled:        t.Enabled,
	}
}

// RuleConfig is the on-disk shape of an AlarmRule. Rules are externally
// managed; in this edge deployment "externally" means this config file,
// hot-reloadable via Reload (see main's SIGHUP handler).
type RuleConfig struct {
	RuleID          string   `json:"ruleId"`
	Name            string   `json:"name"`
	DeviceID        string   `json:"deviceId"`
	TagID           string   `json:"tagId"`
	Family          string   `json:"family"` // threshold, offline, roc, volatility
	ConditionType   string   `json:"conditionType"`
	Threshold       float64  `json:"threshold"`
	ThresholdHigh   *float64 `json:"thresholdHigh"`
	Severity        int      `json:"severity"`
	Enabled         bool     `json:"enabled"`
	DebounceMs      int64    `json:"debounceMs"`
	DurationMs      int64    `json:"durationMs"`
	RocWindowMs     int64    `json:"rocWindowMs"`
	MessageTemplate string   `json:"messageTemplate"`
}

// ToAlarmRule converts r into the runtime schema.AlarmRule.
func (r RuleConfig) ToAlarmRule() schema.AlarmRule {
	return schema.AlarmRule{
		RuleID:          r.RuleID,
		Name:            r.Name,
		DeviceID:        r.DeviceID,
		TagID:           r.TagID,
		Family:          schema.RuleFamily(r.Family),
		ConditionType:   schema.ConditionOperator(r.ConditionType),
		Threshold:       r.Threshold,
		ThresholdHigh:   r.ThresholdHigh,
		Severity:        r.Severity,
		Enabled:         r.Enabled,
		DebounceMs:      r.DebounceMs,
		DurationMs:      r.DurationMs,
		RocWindowMs:     r.RocWindowMs,
		MessageTemplate: r.MessageTemplate,
	}
}

// WriterConfig tunes the batch writer; zero values fall back to
// internal/writer's own defaults.
type WriterConfig struct {
	BatchSize  int   `json:"batchSize"`
	FlushMs    int64 `json:"flushMs"`
	MaxRetries int   `json:"maxRetries"`
}

// OverflowConfig tunes the overflow sink.
type OverflowConfig struct {
	Dir           string `json:"dir"`
	RollSizeMB    int64  `json:"rollSizeMB"`
	Gzip          bool   `json:"gzip"`
	RetentionDays int    `json:"retentionDays"`
}

// NatsBridgeConfig configures pkg/nats.Client as an alternate
// ingestion/republish transport alongside the protocol collectors.
type NatsBridgeConfig struct {
	Address        string `json:"address"`
	Username       string `json:"username"`
	Password       string `json:"password"`
	CredsFilePath  string `json:"creds-file-path"`
	SampleSubject  string `json:"sample-subject"`
	PublishSubject string `json:"publish-subject"`
	AlarmSubject   string `json:"alarm-subject"`
}

// ProgramConfig is the top-level configuration: one flat struct, JSON-tagged,
// validated against an embedded schema before being decoded and published.
type ProgramConfig struct {
	Endpoints []EndpointConfig `json:"endpoints"`
	Rules     []RuleConfig     `json:"rules"`

	AlarmDB       string `json:"alarm-db"`
	CheckpointDir string `json:"checkpoint-dir"`

	PipelineCapacity   int `json:"pipeline-capacity"`
	DispatcherCapacity int `json:"dispatcher-capacity"`

	Writer   WriterConfig      `json:"writer"`
	Overflow OverflowConfig    `json:"overflow"`
	Nats     *NatsBridgeConfig `json:"nats"`

	Simulation bool `json:"simulation"`

	MetricsAddr string `json:"metrics-addr"`
	Gops        bool   `json:"gops"`
	LogLevel    string `json:"log-level"`
}

// defaults returns a fully-populated default configuration that a config
// file only needs to override partially.
func defaults() ProgramConfig {
	return ProgramConfig{
		AlarmDB:            "./var/alarm.db",
		CheckpointDir:      "./var/checkpoint",
		PipelineCapacity:   0, // 0 => pipeline.DefaultGlobalCapacity
		DispatcherCapacity: 0, // 0 => dispatcher.NewTarget's own default
		Overflow: OverflowConfig{
			Dir:           "./var/overflow",
			RollSizeMB:    64,
			Gzip:          true,
			RetentionDays: 14,
		},
		Simulation:  true,
		MetricsAddr: "",
		LogLevel:    "info",
	}
}

var current atomic.Pointer[ProgramConfig]

func init() {
	d := defaults()
	current.Store(&d)
}

// Keys returns the currently active configuration. Safe for concurrent use;
// callers should re-fetch it rather than cache it across a Reload.
func Keys() *ProgramConfig {
	return current.Load()
}

// Init loads path over the defaults, validates it against the embedded
// schema, and publishes it as the active configuration. A missing file is
// not an error: the defaults (pure simulation mode, no endpoints) stand.
func Init(path string) error {
	cfg, err := load(path)
	if err != nil {
		return err
	}
	current.Store(cfg)
	return nil
}

// Reload re-reads path and atomically swaps the active configuration,
// without requiring a process restart. Intended to be wired to SIGHUP; the
// ruleregistry.Registry should be notified afterwards to pick up rule
// changes before its next 30s refresh tick.
func Reload(path string) error {
	cfg, err := load(path)
	if err != nil {
		return err
	}
	current.Store(cfg)
	obslog.Infof("config: reloaded %s (%d endpoints, %d rules)", path, len(cfg.Endpoints), len(cfg.Rules))
	return nil
}

func load(path string) (*ProgramConfig, error) {
	cfg := defaults()

	raw, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return &cfg, nil
		}
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	}

	if err := Validate(configSchema, raw); err != nil {
		return nil, fmt.Errorf("config: validate %s: %w", path, err)
	}

	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&cfg); err != nil {
		return nil, fmt.Errorf("config: decode %s: %w", path, err)
	}
	return &cfg, nil
}
