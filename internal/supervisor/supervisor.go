// Copyright (C) IntelliMaint contributors.
// All rights reserved. This file is part of intellimaint.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

// Package supervisor runs the program's long-lived workers (dispatcher,
// writer, evaluators, rule registry, lastdata tracker, checkpointer) under
// one errgroup.Group, with a bounded shutdown wait for stragglers
// once any worker exits or the parent context is cancelled.
package supervisor

import (
	"context"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/intellimaint/intellimaint/internal/obslog"
)

// Supervisor runs a fixed set of ctx-cancellable workers together and
// unwinds them on Shutdown, bounding how long it waits for stragglers.
type Supervisor struct {
	group  *errgroup.Group
	ctx    context.Context
	cancel context.CancelFunc
}

// New builds a Supervisor deriving its own cancellable context from parent.
func New(parent context.Context) *Supervisor {
	ctx, cancel := context.WithCancel(parent)
	group, gctx := errgroup.WithContext(ctx)
	return &Supervisor{group: group, ctx: gctx, cancel: cancel}
}

// Context returns the context workers should select on; it is cancelled
// either by Shutdown or by any worker returning a non-nil error.
func (s *Supervisor) Context() context.Context { return s.ctx }

// Go starts a named worker. fn must return promptly once s.Context() is
// cancelled; a worker that returns a non-nil error cancels every other
// worker's context (errgroup's fail-fast semantics), reserved for the
// handful of startup-only failures (e.g. a store that can no longer open
// its file) that warrant bringing the whole program down.
func (s *Supervisor) Go(name string, fn func(ctx context.Context) error) {
	s.group.Go(func() error {
		err := fn(s.ctx)
		if err != nil {
			obslog.Errorf("supervisor: worker %s exited: %v", name, err)
		}
		return err
	})
}

// GoLoop starts a worker whose fn has no error return (the common case: a
// Run(ctx) loop that only exits via ctx cancellation).
func (s *Supervisor) GoLoop(name string, fn func(ctx context.Context)) {
	s.Go(name, func(ctx context.Context) error {
		fn(ctx)
		return nil
	})
}

// Shutdown cancels every worker's context and waits up to deadline for them
// to return, logging (not blocking forever) if any are still running after
// the deadline.
func (s *Supervisor) Shutdown(deadline time.Duration) error {
	s.cancel()

	done := make(chan error, 1)
	go func() { done <- s.group.Wait() }()

	select {
	case err := <-done:
		return err
	case <-time.After(deadline):
		obslog.Warnf("supervisor: shutdown deadline of %s exceeded, some workers still draining", deadline)
		return nil
	}
}
