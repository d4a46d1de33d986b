// Copyright (C) IntelliMaint contributors.
// All rights reserved. This file is part of intellimaint.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package config

var configSchema = `
{
  "type": "object",
  "properties": {
    "endpoints": {
      "description": "PLC/OPC UA endpoints to poll.",
      "type": "array",
      "items": {
        "type": "object",
        "properties": {
          "endpointId": { "type": "string" },
          "protocol": { "type": "string", "enum": ["cip", "opcua", "simulate"] },
          "host": { "type": "string" },
          "port": { "type": "integer" },
          "cipPath": { "type": "string" },
          "plcFamily": { "type": "string" },
          "securityPolicy": { "type": "string" },
          "securityMode": { "type": "string" },
          "username": { "type": "string" },
          "password": { "type": "string" },
          "maxConnections": { "type": "integer", "minimum": 0 },
          "scanGroups": {
            "type": "array",
            "items": {
              "type": "object",
              "properties": {
                "name": { "type": "string" },
                "scanIntervalMs": { "type": "integer", "minimum": 1 },
                "batchSize": { "type": "integer", "minimum": 1 },
                "tags": {
                  "type": "array",
                  "items": {
                    "type": "object",
                    "properties": {
                      "tagId": { "type": "string" },
                      "deviceId": { "type": "string" },
                      "address": { "type": "string" },
                      "declaredType": { "type": "string" },
                      "unit": { "type": "string" },
                      "enabled": { "type": "boolean" }
                    },
                    "required": ["tagId", "deviceId", "address"]
                  }
                }
              },
              "required": ["name", "scanIntervalMs", "tags"]
            }
          }
        },
        "required": ["endpointId", "protocol", "scanGroups"]
      }
    },
    "rules": {
      "description": "Statically configured alarm rules (AlarmRuleRepository contents).",
      "type": "array",
      "items": {
        "type": "object",
        "properties": {
          "ruleId": { "type": "string" },
          "name": { "type": "string" },
          "deviceId": { "type": "string" },
          "tagId": { "type": "string" },
          "family": { "type": "string", "enum": ["threshold", "offline", "roc", "volatility"] },
          "conditionType": { "type": "string" },
          "threshold": { "type": "number" },
          "thresholdHigh": { "type": "number" },
          "severity": { "type": "integer" },
          "enabled": { "type": "boolean" },
          "debounceMs": { "type": "integer", "minimum": 0 },
          "durationMs": { "type": "integer", "minimum": 0 },
          "rocWindowMs": { "type": "integer", "minimum": 0 },
          "messageTemplate": { "type": "string" }
        },
        "required": ["ruleId", "family", "conditionType"]
      }
    },
    "alarm-db": {
      "description": "Path to the sqlite3 database file backing the AlarmStore.",
      "type": "string"
    },
    "checkpoint-dir": {
      "description": "Directory where LastDataTracker avro checkpoints are written.",
      "type": "string"
    },
    "pipeline-capacity": {
      "description": "Bounded channel capacity of the ingestion Pipeline. 0 means use the built-in default.",
      "type": "integer",
      "minimum": 0
    },
    "dispatcher-capacity": {
      "description": "Bounded channel capacity of each Dispatcher target. 0 means use the built-in default.",
      "type": "integer",
      "minimum": 0
    },
    "writer": {
      "type": "object",
      "properties": {
        "batchSize": { "type": "integer", "minimum": 0 },
        "flushMs": { "type": "integer", "minimum": 0 },
        "maxRetries": { "type": "integer", "minimum": 0 }
      }
    },
    "overflow": {
      "type": "object",
      "properties": {
        "dir": { "type": "string" },
        "rollSizeMB": { "type": "integer", "minimum": 1 },
        "gzip": { "type": "boolean" },
        "retentionDays": { "type": "integer", "minimum": 0 }
      }
    },
    "nats": {
      "type": ["object", "null"],
      "properties": {
        "address": { "type": "string" },
        "username": { "type": "string" },
        "password": { "type": "string" },
        "creds-file-path": { "type": "string" },
        "sample-subject": { "type": "string" },
        "publish-subject": { "type": "string" },
        "alarm-subject": { "type": "string" }
      }
    },
    "simulation": {
      "description": "When true, every endpoint is driven by waveform generators instead of real I/O, whatever its protocol. Endpoints with protocol 'simulate' are simulated either way.",
      "type": "boolean"
    },
    "metrics-addr": {
      "description": "If non-empty, address to serve /metrics (Prometheus) on.",
      "type": "string"
    },
    "gops": {
      "description": "Start the google/gops diagnostics agent.",
      "type": "boolean"
    },
    "log-level": {
      "description": "One of debug, info, warn, err, fatal.",
      "type": "string",
      "enum": ["debug", "info", "warn", "err", "fatal"]
    }
  }
}`
