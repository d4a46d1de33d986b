// Copyright (C) IntelliMaint contributors.
// All rights reserved. This file is part of intellimaint.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package evaluator

import (
	"context"
	"sync"

	"github.com/intellimaint/intellimaint/pkg/schema"
)

type fakeRepo struct{ rules []schema.AlarmRule }

func (f fakeRepo) ListEnabled(ctx context.Context) ([]schema.AlarmRule, error) {
	return f.rules, nil
}

// fakeSink is an in-memory AlarmSink double: it tracks which codes are
// "open" and records every Emit call.
type fakeSink struct {
	mu      sync.Mutex
	open    map[string]bool
	emitted []schema.AlarmIntent
	failDup error
	failOn  error
}

func newFakeSink() *fakeSink {
	return &fakeSink{open: make(map[string]bool)}
}

func (f *fakeSink) HasOpenByCode(ctx context.Context, code string) (bool, error) {
	if f.failDup != nil {
		return false, f.failDup
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.open[code], nil
}

func (f *fakeSink) Emit(ctx context.Context, intent schema.AlarmIntent) error {
	if f.failOn != nil {
		return f.failOn
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.open[intent.Code] = true
	f.emitted = append(f.emitted, intent)
	return nil
}

func (f *fakeSink) emittedCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.emitted)
}
