// Copyright (C) IntelliMaint contributors.
// All rights reserved. This file is part of intellimaint.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package config

import (
	"context"

	"github.com/intellimaint/intellimaint/pkg/schema"
)

// RuleRepository implements ruleregistry.Repository over the config file's
// static rule list. Rules are externally managed in the sense that operators
// edit the config and SIGHUP the process (wired to config.Reload in
// cmd/intellimaint); ruleregistry.Registry.Notify then forces an
// out-of-cadence pickup instead of waiting for the 30s tick.
type RuleRepository struct{}

// NewRuleRepository builds a RuleRepository reading from the package's
// current active configuration (see Keys).
func NewRuleRepository() *RuleRepository {
	return &RuleRepository{}
}

// ListEnabled returns every rule in the active config with Enabled set,
// converted to the runtime schema.AlarmRule shape.
func (r *RuleRepository) ListEnabled(ctx context.Context) ([]schema.AlarmRule, error) {
	cfg := Keys()
	out := make([]schema.AlarmRule, 0, len(cfg.Rules))
	for _, rc := range cfg.Rules {
		if !rc.Enabled {
			continue
		}
		out = append(out, rc.ToAlarmRule())
	}
	return out, nil
}
