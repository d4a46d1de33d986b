// Copyright (C) IntelliMaint contributors.
// All rights reserved. This file is part of intellimaint.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package alarmstore

import (
	"context"
	"database/sql"
	"fmt"

	sq "github.com/Masterminds/squirrel"

	"github.com/intellimaint/intellimaint/pkg/schema"
)

var groupColumns = []string{
	"group_id", "device_id", "rule_id", "severity", "alarm_count", "message",
	"first_occurred_utc", "last_occurred_utc", "aggregate_status",
}

// GroupStore adapts SQLiteStore to implement aggregator.GroupStore without
// importing the aggregator package, keeping the persistence layer leaf-level.
func (s *SQLiteStore) GetActiveGroup(ctx context.Context, deviceID, ruleID string) (schema.AlarmGroup, bool, error) {
	query, args, err := s.bld.Select(groupColumns...).From("alarm_group").
		Where(sq.And{
			sq.Eq{"device_id": deviceID},
			sq.Eq{"rule_id": ruleID},
			sq.NotEq{"aggregate_status": int(schema.StatusClosed)},
		}).ToSql()
	if err != nil {
		return schema.AlarmGroup{}, false, err
	}

	row := s.db.QueryRowxContext(ctx, query, args...)
	var g schema.AlarmGroup
	var status int
	err = row.Scan(&g.GroupID, &g.DeviceID, &g.RuleID, &g.Severity, &g.AlarmCount, &g.Message,
		&g.FirstOccurredUtc, &g.LastOccurredUtc, &status)
	if err == sql.ErrNoRows {
		return schema.AlarmGroup{}, false, nil
	}
	if err != nil {
		return schema.AlarmGroup{}, false, fmt.Errorf("alarmstore: get active group: %w", err)
	}
	g.AggregateStatus = schema.AlarmStatus(status)
	return g, true, nil
}

func (s *SQLiteStore) SaveGroup(ctx context.Context, group schema.AlarmGroup) error {
	_, err := s.bld.Insert("alarm_group").
		Columns(groupColumns...).
		Values(group.GroupID, group.DeviceID, group.RuleID, group.Severity, group.AlarmCount, group.Message,
			group.FirstOccurredUtc, group.LastOccurredUtc, int(group.AggregateStatus)).
		Suffix("ON CONFLICT(group_id) DO UPDATE SET severity=excluded.severity, "+
			"alarm_count=excluded.alarm_count, message=excluded.message, "+
			"last_occurred_utc=excluded.last_occurred_utc, "+
			"aggregate_status=excluded.aggregate_status").
		RunWith(s.db).ExecContext(ctx)
	if err != nil {
		return fmt.Errorf("alarmstore: save group: %w", err)
	}
	return nil
}

func (s *SQLiteStore) LinkMember(ctx context.Context, groupID, alarmID string) error {
	_, err := s.bld.Insert("alarm_group_member").
		Columns("group_id", "alarm_id").
		Values(groupID, alarmID).
		Suffix("ON CONFLICT DO NOTHING").
		RunWith(s.db).ExecContext(ctx)
	if err != nil {
		return fmt.Errorf("alarmstore: link member: %w", err)
	}
	return nil
}
