// Copyright (C) IntelliMaint contributors.
// All rights reserved. This file is part of intellimaint.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

// Package ruleregistry implements a cached, periodically refreshed rule
// cache: an immutable snapshot published by atomic pointer swap, so
// evaluators never take a per-sample lock on the rule set.
package ruleregistry

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/intellimaint/intellimaint/internal/obslog"
	"github.com/intellimaint/intellimaint/pkg/schema"
)

// RefreshInterval is the default cache refresh cadence.
const RefreshInterval = 30 * time.Second

// Repository is the out-of-core collaborator that lists currently enabled
// rules for the registry to cache.
type Repository interface {
	ListEnabled(ctx context.Context) ([]schema.AlarmRule, error)
}

// Snapshot is an immutable view of the enabled rule set, partitioned by
// family so each evaluator only iterates its own slice.
type Snapshot struct {
	All         []schema.AlarmRule
	Threshold   []schema.AlarmRule
	Roc         []schema.AlarmRule
	Volatility  []schema.AlarmRule
	Offline     []schema.AlarmRule
	GeneratedAt time.Time
}

// ForTagDevice filters rules from family matching (deviceId is empty-or-equal)
// and (tagId is empty-or-equal).
func ForTagDevice(rules []schema.AlarmRule, deviceID, tagID string) []schema.AlarmRule {
	out := make([]schema.AlarmRule, 0, len(rules))
	for _, r := range rules {
		if r.DeviceID != "" && r.DeviceID != deviceID {
			continue
		}
		if r.TagID != "" && r.TagID != tagID {
			continue
		}
		out = append(out, r)
	}
	return out
}

// Registry holds the latest Snapshot, refreshed from Repository.
type Registry struct {
	repo     Repository
	current  atomic.Pointer[Snapshot]
	notifyCh chan struct{}
}

// New builds a Registry backed by repo. Refresh must be called at least once
// (directly, or via Run) before evaluators can see any rules.
func New(repo Repository) *Registry {
	r := &Registry{repo: repo, notifyCh: make(chan struct{}, 1)}
	r.current.Store(&Snapshot{GeneratedAt: time.Time{}})
	return r
}

// Snapshot returns the current immutable rule snapshot.
func (r *Registry) Snapshot() *Snapshot { return r.current.Load() }

// Notify requests an out-of-cadence refresh on the next Run iteration,
// rather than waiting for the next RefreshInterval tick.
func (r *Registry) Notify() {
	select {
	case r.notifyCh <- struct{}{}:
	default:
	}
}

// Refresh pulls the enabled rule list and publishes a new Snapshot via
// atomic pointer swap.
func (r *Registry) Refresh(ctx context.Context) error {
	rules, err := r.repo.ListEnabled(ctx)
	if err != nil {
		obslog.Warnf("ruleregistry: refresh failed: %v", err)
		return err
	}

	snap := &Snapshot{All: rules, GeneratedAt: time.Now()}
	for _, rule := range rules {
		switch rule.Family {
		case schema.FamilyThreshold:
			snap.Threshold = append(snap.Threshold, rule)
		case schema.FamilyRoc:
			snap.Roc = append(snap.Roc, rule)
		case schema.FamilyVolatility:
			snap.Volatility = append(snap.Volatility, rule)
		case schema.FamilyOffline:
			snap.Offline = append(snap.Offline, rule)
		}
	}
	r.current.Store(snap)
	obslog.Debugf("ruleregistry: refreshed %d enabled rules", len(rules))
	return nil
}

// Run refreshes on RefreshInterval and whenever Notify fires, until ctx is
// cancelled.
func (r *Registry) Run(ctx context.Context) {
	if err := r.Refresh(ctx); err != nil {
		obslog.Warnf("ruleregistry: initial refresh failed: %v", err)
	}

	ticker := time.NewTicker(RefreshInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			_ = r.Refresh(ctx)
		case <-r.notifyCh:
			_ = r.Refresh(ctx)
		}
	}
}
