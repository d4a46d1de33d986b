// Copyright (C) IntelliMaint contributors.
// All rights reserved. This file is part of intellimaint.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package schema

// PLCFamily enumerates the Allen-Bradley CIP families whose connection
// limits are clamped by the pool per family.
type PLCFamily string

const (
	PLCControlLogix PLCFamily = "ControlLogix"
	PLCCompactLogix PLCFamily = "CompactLogix"
	PLCMicro800     PLCFamily = "Micro800"
	PLCUnknown      PLCFamily = ""
)

// MaxConnections returns the hard per-endpoint connection clamp for the
// family: ControlLogix<=8, CompactLogix<=4, Micro800<=2, default<=4.
func (f PLCFamily) MaxConnections() int {
	switch f {
	case PLCControlLogix:
		return 8
	case PLCCompactLogix:
		return 4
	case PLCMicro800:
		return 2
	default:
		return 4
	}
}

// EndpointDescriptor identifies a single PLC or OPC UA server.
type EndpointDescriptor struct {
	EndpointID string
	Protocol   string // "cip" or "opcua"
	Host       string
	Port       int

	// CIP extras.
	CIPPath   string
	PLCFamily PLCFamily

	// OPC UA extras.
	SecurityPolicy string
	SecurityMode   string
	Username       string
	Password       string

	MaxConnections int
}

// Clamp returns the effective per-endpoint connection limit: the configured
// MaxConnections if set and not larger than the family clamp, else the
// family clamp.
func (e EndpointDescriptor) Clamp() int {
	familyMax := e.PLCFamily.MaxConnections()
	if e.MaxConnections <= 0 || e.MaxConnections > familyMax {
		return familyMax
	}
	return e.MaxConnections
}

// ScanGroup is a named set of tags sharing a polling interval within one
// endpoint. Invariant: ScanIntervalMs >= 100.
type ScanGroup struct {
	Name           string
	ScanIntervalMs int64
	BatchSize      int
	Tags           []TagDescriptor
}

// TagDescriptor configures a single point of telemetry on an endpoint.
type TagDescriptor struct {
	TagID          string
	DeviceID       string
	Address        string // protocol-native identifier
	DeclaredType   string // e.g. CIP "REAL", UA "Float"
	ScanGroup      string // "Fast" / "Normal" / "Slow"
	ScanIntervalMs int64
	Unit           string
	Enabled        bool
}
