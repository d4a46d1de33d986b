// Copyright (C) IntelliMaint contributors.
// All rights reserved. This file is part of intellimaint.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

// Package scheduler wires the program's periodic jobs onto gocron/v2 as
// named, independently schedulable jobs instead of one ad-hoc time.Ticker
// per concern.
package scheduler

import (
	"context"
	"time"

	"github.com/go-co-op/gocron/v2"

	"github.com/intellimaint/intellimaint/internal/obslog"
)

// Scheduler owns the gocron job scheduler for the program's pure-periodic
// tasks: Offline sweep, LastDataTracker flush, rule-state sweep, overflow
// retention, and connection-pool idle reap. RuleRegistry refresh is the one
// periodic concern that stays on its own supervised loop, since it must
// also wake on an explicit Notify.
type Scheduler struct {
	cron gocron.Scheduler
}

// New builds a Scheduler backed by a fresh gocron instance.
func New() (*Scheduler, error) {
	cron, err := gocron.NewScheduler()
	if err != nil {
		return nil, err
	}
	return &Scheduler{cron: cron}, nil
}

// Job describes one periodic task to register.
type Job struct {
	Name     string
	Interval time.Duration
	Run      func(ctx context.Context) error
}

// Register adds job to the scheduler, logging (not panicking) on failure so
// one misconfigured job cannot prevent the others from starting.
func (s *Scheduler) Register(ctx context.Context, job Job) error {
	_, err := s.cron.NewJob(
		gocron.DurationJob(job.Interval),
		gocron.NewTask(func() {
			if err := job.Run(ctx); err != nil {
				obslog.Warnf("scheduler: job %s failed: %v", job.Name, err)
			}
		}),
		gocron.WithName(job.Name),
	)
	if err != nil {
		return err
	}
	obslog.Infof("scheduler: registered job %s every %s", job.Name, job.Interval)
	return nil
}

// Start begins running registered jobs.
func (s *Scheduler) Start() {
	s.cron.Start()
}

// Shutdown stops the scheduler, waiting for in-flight jobs to finish.
func (s *Scheduler) Shutdown() error {
	return s.cron.Shutdown()
}
