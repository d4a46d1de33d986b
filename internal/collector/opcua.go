// Copyright (C) IntelliMaint contributors.
// All rights reserved. This file is part of intellimaint.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package collector

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"net"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/intellimaint/intellimaint/internal/errkind"
	"github.com/intellimaint/intellimaint/internal/typemapper"
	"github.com/intellimaint/intellimaint/pkg/schema"
)

// OPCUAReader is the UA counterpart to CIPReader: the same minimal
// line-oriented stand-in session, grounded in the same reasoning (no
// public, license-clean gopcua-equivalent in the example pack). It adds
// UA's DateTime-as-epoch-ms convention on top of CIPReader's numeric/string
// handling.
type OPCUAReader struct {
	mu          sync.Mutex
	sessions    map[string]*uaSession
	dialTimeout time.Duration
	ioTimeout   time.Duration
}

type uaSession struct {
	conn net.Conn
	r    *bufio.Reader
}

// NewOPCUAReader builds an OPCUAReader with the given per-operation
// timeouts. SecurityPolicy/SecurityMode/credentials on the endpoint
// descriptor are accepted but not enforced by this stand-in transport.
func NewOPCUAReader(dialTimeout, ioTimeout time.Duration) *OPCUAReader {
	if dialTimeout <= 0 {
		dialTimeout = 3 * time.Second
	}
	if ioTimeout <= 0 {
		ioTimeout = 2 * time.Second
	}
	return &OPCUAReader{
		sessions:    make(map[string]*uaSession),
		dialTimeout: dialTimeout,
		ioTimeout:   ioTimeout,
	}
}

func (r *OPCUAReader) sessionFor(endpoint schema.EndpointDescriptor) (*uaSession, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if s, ok := r.sessions[endpoint.EndpointID]; ok {
		return s, nil
	}

	addr := net.JoinHostPort(endpoint.Host, strconv.Itoa(endpoint.Port))
	conn, err := net.DialTimeout("tcp", addr, r.dialTimeout)
	if err != nil {
		return nil, classifyDialErr(err)
	}
	s := &uaSession{conn: conn, r: bufio.NewReader(conn)}
	r.sessions[endpoint.EndpointID] = s
	return s, nil
}

func (r *OPCUAReader) dropSession(endpointID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if s, ok := r.sessions[endpointID]; ok {
		s.conn.Close()
		delete(r.sessions, endpointID)
	}
}

// ReadBatch reads every enabled tag (UA node) over the endpoint's session.
func (r *OPCUAReader) ReadBatch(ctx context.Context, endpoint schema.EndpointDescriptor, tags []schema.TagDescriptor) ([]ReadResult, error) {
	s, err := r.sessionFor(endpoint)
	if err != nil {
		return nil, err
	}

	out := make([]ReadResult, 0, len(tags))
	for _, tag := range tags {
		if !tag.Enabled {
			continue
		}
		value, err := r.readNode(s, tag)
		if err != nil {
			if errkind.Classify(err) == errkind.ConnectionLost {
				r.dropSession(endpoint.EndpointID)
				return out, err
			}
			out = append(out, ReadResult{TagID: tag.TagID, Err: err})
			continue
		}
		out = append(out, ReadResult{TagID: tag.TagID, Value: value, DeclaredType: tag.DeclaredType, Quality: typemapper.RawGood})
	}
	return out, nil
}

func (r *OPCUAReader) readNode(s *uaSession, tag schema.TagDescriptor) (any, error) {
	s.conn.SetDeadline(time.Now().Add(r.ioTimeout))

	if _, err := fmt.Fprintf(s.conn, "GET %s\n", tag.Address); err != nil {
		return nil, errkind.Tag(errkind.ConnectionLost, err)
	}
	line, err := s.r.ReadString('\n')
	if err != nil {
		var netErr net.Error
		if errors.As(err, &netErr) && netErr.Timeout() {
			return nil, errkind.Tag(errkind.Timeout, err)
		}
		return nil, errkind.Tag(errkind.ConnectionLost, err)
	}

	line = strings.TrimSpace(line)
	fields := strings.SplitN(line, " ", 2)
	if len(fields) != 2 || fields[0] != "GOOD" {
		return nil, errkind.Tag(errkind.BadTag, fmt.Errorf("opcua: %s: %s", tag.Address, line))
	}
	return parseUAPayload(tag.DeclaredType, fields[1])
}

// parseUAPayload decodes a response payload into the Go-native value
// TypeMapper.MapValue expects, including DateTime's epoch-ms convention.
func parseUAPayload(hint, payload string) (any, error) {
	switch hint {
	case "Boolean":
		return payload == "1", nil
	case "SByte":
		v, err := strconv.ParseInt(payload, 10, 8)
		return int8(v), err
	case "Byte":
		v, err := strconv.ParseUint(payload, 10, 8)
		return uint8(v), err
	case "Int16":
		v, err := strconv.ParseInt(payload, 10, 16)
		return int16(v), err
	case "UInt16":
		v, err := strconv.ParseUint(payload, 10, 16)
		return uint16(v), err
	case "Int32":
		v, err := strconv.ParseInt(payload, 10, 32)
		return int32(v), err
	case "UInt32":
		v, err := strconv.ParseUint(payload, 10, 32)
		return uint32(v), err
	case "Int64":
		return strconv.ParseInt(payload, 10, 64)
	case "UInt64":
		return strconv.ParseUint(payload, 10, 64)
	case "Float":
		v, err := strconv.ParseFloat(payload, 32)
		return float32(v), err
	case "Double":
		return strconv.ParseFloat(payload, 64)
	case "String":
		return payload, nil
	case "DateTime":
		return strconv.ParseInt(payload, 10, 64)
	case "ByteString":
		return decodeHexBytes(payload)
	default:
		return nil, fmt.Errorf("opcua: unknown declared type %q", hint)
	}
}

// Close tears down every cached session.
func (r *OPCUAReader) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for id, s := range r.sessions {
		s.conn.Close()
		delete(r.sessions, id)
	}
	return nil
}
