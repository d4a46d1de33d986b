// Copyright (C) IntelliMaint contributors.
// All rights reserved. This file is part of intellimaint.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package collector

import (
	"context"
	"math"
	"math/rand"
	"strings"
	"sync"

	"github.com/intellimaint/intellimaint/internal/typemapper"
	"github.com/intellimaint/intellimaint/pkg/schema"
)

// waveform names a generator kind selected by a tag-name heuristic, giving
// the pipeline a runnable demo path with no hardware attached.
type waveform int

const (
	waveSine waveform = iota
	waveRamp
	waveRandom
	waveToggle
	waveCounter
)

func waveformFor(tagID string) waveform {
	lower := strings.ToLower(tagID)
	switch {
	case strings.Contains(lower, "temp"):
		return waveSine
	case strings.Contains(lower, "level"):
		return waveRamp
	case strings.Contains(lower, "flow"):
		return waveRandom
	case strings.Contains(lower, "state"):
		return waveToggle
	case strings.Contains(lower, "count"):
		return waveCounter
	default:
		return waveSine
	}
}

type simTagState struct {
	wave waveform
	tick int
	acc  float64
	flag bool
}

// SimulatedReader is the Collector's simulation-mode producer: it generates
// synthetic values per tag without touching any network, driven by a small
// per-tag generator selected by waveformFor.
type SimulatedReader struct {
	mu    sync.Mutex
	rng   *rand.Rand
	state map[string]*simTagState
}

// NewSimulatedReader builds a SimulatedReader seeded from seed (vary the
// seed across endpoints/runs to decorrelate their waveforms).
func NewSimulatedReader(seed int64) *SimulatedReader {
	return &SimulatedReader{
		rng:   rand.New(rand.NewSource(seed)),
		state: make(map[string]*simTagState),
	}
}

func (r *SimulatedReader) stateFor(tagID string) *simTagState {
	st, ok := r.state[tagID]
	if !ok {
		st = &simTagState{wave: waveformFor(tagID)}
		r.state[tagID] = st
	}
	return st
}

// ReadBatch generates one value per requested tag. It never fails at the
// batch level; per-tag failures don't occur in simulation.
func (r *SimulatedReader) ReadBatch(ctx context.Context, endpoint schema.EndpointDescriptor, tags []schema.TagDescriptor) ([]ReadResult, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]ReadResult, 0, len(tags))
	for _, tag := range tags {
		if !tag.Enabled {
			continue
		}
		st := r.stateFor(tag.TagID)
		value := r.generate(st)
		out = append(out, ReadResult{TagID: tag.TagID, Value: value, Quality: typemapper.RawGood})
		st.tick++
	}
	return out, nil
}

func (r *SimulatedReader) generate(st *simTagState) any {
	switch st.wave {
	case waveSine:
		return 50 + 20*math.Sin(float64(st.tick)/10)
	case waveRamp:
		level := float64(st.tick%100) / 100 * 100
		return level
	case waveRandom:
		return r.rng.Float64() * 100
	case waveToggle:
		st.flag = !st.flag
		return st.flag
	case waveCounter:
		st.acc++
		return int64(st.acc)
	default:
		return 0.0
	}
}

// Close is a no-op for SimulatedReader; there is no underlying connection.
func (r *SimulatedReader) Close() error { return nil }
