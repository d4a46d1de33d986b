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

// CIPReader talks a minimal line-oriented stand-in for an Allen-Bradley
// EtherNet/IP session: one persistent TCP connection per endpoint, one
// "READ <address>\n" round-trip per tag. There is no public, license-clean
// CIP/EtherNet-IP driver in the example pack to build on (see DESIGN.md), so
// the wire shape here is intentionally the smallest thing that exercises
// TypeMapper's documented CIP conventions (REAL/DINT/... hints, the
// length-prefixed STRING encoding) end to end; swapping in a real CIP stack
// means replacing this file's dial/readTag bodies only.
type CIPReader struct {
	mu          sync.Mutex
	conns       map[string]*cipConn
	dialTimeout time.Duration
	ioTimeout   time.Duration
}

type cipConn struct {
	conn net.Conn
	r    *bufio.Reader
}

// NewCIPReader builds a CIPReader with the given per-operation timeouts.
func NewCIPReader(dialTimeout, ioTimeout time.Duration) *CIPReader {
	if dialTimeout <= 0 {
		dialTimeout = 3 * time.Second
	}
	if ioTimeout <= 0 {
		ioTimeout = 2 * time.Second
	}
	return &CIPReader{
		conns:       make(map[string]*cipConn),
		dialTimeout: dialTimeout,
		ioTimeout:   ioTimeout,
	}
}

func (r *CIPReader) connFor(endpoint schema.EndpointDescriptor) (*cipConn, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if c, ok := r.conns[endpoint.EndpointID]; ok {
		return c, nil
	}

	addr := net.JoinHostPort(endpoint.Host, strconv.Itoa(endpoint.Port))
	conn, err := net.DialTimeout("tcp", addr, r.dialTimeout)
	if err != nil {
		return nil, classifyDialErr(err)
	}
	c := &cipConn{conn: conn, r: bufio.NewReader(conn)}
	r.conns[endpoint.EndpointID] = c
	return c, nil
}

func (r *CIPReader) dropConn(endpointID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if c, ok := r.conns[endpointID]; ok {
		c.conn.Close()
		delete(r.conns, endpointID)
	}
}

// ReadBatch opens (or reuses) the endpoint's connection and reads every
// enabled tag in sequence. A connection-level failure fails the whole batch;
// a per-tag protocol error is reported on that tag's ReadResult only.
func (r *CIPReader) ReadBatch(ctx context.Context, endpoint schema.EndpointDescriptor, tags []schema.TagDescriptor) ([]ReadResult, error) {
	c, err := r.connFor(endpoint)
	if err != nil {
		return nil, err
	}

	out := make([]ReadResult, 0, len(tags))
	for _, tag := range tags {
		if !tag.Enabled {
			continue
		}
		value, err := r.readTag(c, tag)
		if err != nil {
			if errkind.Classify(err) == errkind.ConnectionLost {
				r.dropConn(endpoint.EndpointID)
				return out, err
			}
			out = append(out, ReadResult{TagID: tag.TagID, Err: err})
			continue
		}
		out = append(out, ReadResult{TagID: tag.TagID, Value: value, DeclaredType: tag.DeclaredType, Quality: typemapper.RawGood})
	}
	return out, nil
}

func (r *CIPReader) readTag(c *cipConn, tag schema.TagDescriptor) (any, error) {
	c.conn.SetDeadline(time.Now().Add(r.ioTimeout))

	if _, err := fmt.Fprintf(c.conn, "READ %s\n", tag.Address); err != nil {
		return nil, errkind.Tag(errkind.ConnectionLost, err)
	}
	line, err := c.r.ReadString('\n')
	if err != nil {
		var netErr net.Error
		if errors.As(err, &netErr) && netErr.Timeout() {
			return nil, errkind.Tag(errkind.Timeout, err)
		}
		return nil, errkind.Tag(errkind.ConnectionLost, err)
	}

	line = strings.TrimSpace(line)
	fields := strings.SplitN(line, " ", 2)
	if len(fields) != 2 || fields[0] != "OK" {
		return nil, errkind.Tag(errkind.BadTag, fmt.Errorf("cip: %s: %s", tag.Address, line))
	}
	return parseCIPPayload(tag.DeclaredType, fields[1])
}

// parseCIPPayload decodes a response payload into the Go-native value
// TypeMapper.MapValue expects for hint, with no implicit widening: the wire
// kind must already match the declared hint.
func parseCIPPayload(hint, payload string) (any, error) {
	switch hint {
	case "BOOL":
		return payload == "1", nil
	case "SINT":
		v, err := strconv.ParseInt(payload, 10, 8)
		return int8(v), err
	case "USINT":
		v, err := strconv.ParseUint(payload, 10, 8)
		return uint8(v), err
	case "INT":
		v, err := strconv.ParseInt(payload, 10, 16)
		return int16(v), err
	case "UINT":
		v, err := strconv.ParseUint(payload, 10, 16)
		return uint16(v), err
	case "DINT":
		v, err := strconv.ParseInt(payload, 10, 32)
		return int32(v), err
	case "UDINT":
		v, err := strconv.ParseUint(payload, 10, 32)
		return uint32(v), err
	case "LINT":
		return strconv.ParseInt(payload, 10, 64)
	case "ULINT":
		return strconv.ParseUint(payload, 10, 64)
	case "REAL":
		v, err := strconv.ParseFloat(payload, 32)
		return float32(v), err
	case "LREAL":
		return strconv.ParseFloat(payload, 64)
	case "STRING":
		// AB-style length-prefixed encoding travels hex-encoded on the wire;
		// decodeCIPString (internal/typemapper) expects the raw bytes.
		raw, err := decodeHexBytes(payload)
		if err != nil {
			return nil, err
		}
		return raw, nil
	default:
		return nil, fmt.Errorf("cip: unknown declared type %q", hint)
	}
}

func decodeHexBytes(s string) ([]byte, error) {
	if len(s)%2 != 0 {
		return nil, fmt.Errorf("cip: odd-length hex payload")
	}
	out := make([]byte, len(s)/2)
	for i := range out {
		var b int
		if _, err := fmt.Sscanf(s[2*i:2*i+2], "%02x", &b); err != nil {
			return nil, fmt.Errorf("cip: bad hex payload: %w", err)
		}
		out[i] = byte(b)
	}
	return out, nil
}

// Close tears down every cached connection.
func (r *CIPReader) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for id, c := range r.conns {
		c.conn.Close()
		delete(r.conns, id)
	}
	return nil
}

func classifyDialErr(err error) error {
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return errkind.Tag(errkind.Timeout, err)
	}
	return errkind.Tag(errkind.NoRoute, err)
}
