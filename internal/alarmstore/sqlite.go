// Copyright (C) IntelliMaint contributors.
// All rights reserved. This file is part of intellimaint.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package alarmstore

import (
	"context"
	"database/sql"
	"embed"
	"fmt"
	"strings"

	sq "github.com/Masterminds/squirrel"
	"github.com/golang-migrate/migrate/v4"
	migratesqlite3 "github.com/golang-migrate/migrate/v4/database/sqlite3"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"github.com/jmoiron/sqlx"
	"github.com/mattn/go-sqlite3"
	"github.com/qustavo/sqlhooks/v2"

	"github.com/intellimaint/intellimaint/internal/obslog"
	"github.com/intellimaint/intellimaint/pkg/schema"
)

//go:embed migrations/sqlite3/*.sql
var migrationFiles embed.FS

// sqlLogHooks traces every statement IntelliMaint runs against the alarm
// store at debug level.
type sqlLogHooks struct{}

func (sqlLogHooks) Before(ctx context.Context, query string, args ...any) (context.Context, error) {
	obslog.Debugf("alarmstore: SQL %s %q", query, args)
	return ctx, nil
}

func (sqlLogHooks) After(ctx context.Context, query string, args ...any) (context.Context, error) {
	return ctx, nil
}

var hooksRegistered bool

// SQLiteStore is the default Store implementation, backed by sqlite3 via
// sqlx + squirrel.
type SQLiteStore struct {
	db  *sqlx.DB
	bld sq.StatementBuilderType
}

// Open connects to (and migrates) a sqlite3 alarm database at path.
func Open(path string) (*SQLiteStore, error) {
	if !hooksRegistered {
		sql.Register("sqlite3WithHooks", sqlhooks.Wrap(sqliteDriver(), sqlLogHooks{}))
		hooksRegistered = true
	}

	db, err := sqlx.Open("sqlite3WithHooks", fmt.Sprintf("%s?_foreign_keys=on", path))
	if err != nil {
		return nil, fmt.Errorf("alarmstore: open: %w", err)
	}
	// sqlite does not multiplex writers; serialize through one connection.
	db.SetMaxOpenConns(1)

	if err := migrateUp(db.DB); err != nil {
		return nil, err
	}

	return &SQLiteStore{db: db, bld: sq.StatementBuilder.PlaceholderFormat(sq.Question)}, nil
}

func sqliteDriver() *sqlite3.SQLiteDriver {
	return &sqlite3.SQLiteDriver{}
}

func migrateUp(db *sql.DB) error {
	driver, err := migratesqlite3.WithInstance(db, &migratesqlite3.Config{})
	if err != nil {
		return fmt.Errorf("alarmstore: migration driver: %w", err)
	}
	src, err := iofs.New(migrationFiles, "migrations/sqlite3")
	if err != nil {
		return fmt.Errorf("alarmstore: migration source: %w", err)
	}
	m, err := migrate.NewWithInstance("iofs", src, "sqlite3", driver)
	if err != nil {
		return fmt.Errorf("alarmstore: migration init: %w", err)
	}
	if err := m.Up(); err != nil && err != migrate.ErrNoChange {
		return fmt.Errorf("alarmstore: migration up: %w", err)
	}
	return nil
}

var alarmColumns = []string{
	"alarm_id", "device_id", "tag_id", "ts", "severity", "code", "message",
	"status", "created_utc", "updated_utc", "group_id", "ack_user", "ack_note",
}

func (s *SQLiteStore) Create(ctx context.Context, a schema.AlarmRecord) error {
	_, err := s.bld.Insert("alarm").
		Columns(alarmColumns...).
		Values(a.AlarmID, a.DeviceID, a.TagID, a.Ts, a.Severity, a.Code, a.Message,
			int(a.Status), a.CreatedUtc, a.UpdatedUtc, nullableString(a.GroupID),
			a.AckUser, a.AckNote).
		RunWith(s.db).ExecContext(ctx)
	if err != nil {
		if isUniqueViolation(err) {
			return &ErrUniqueViolation{Code: a.Code}
		}
		return fmt.Errorf("alarmstore: create: %w", err)
	}
	return nil
}

func isUniqueViolation(err error) bool {
	return strings.Contains(err.Error(), "UNIQUE constraint failed")
}

func nullableString(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func (s *SQLiteStore) Get(ctx context.Context, id string) (schema.AlarmRecord, error) {
	query, args, err := s.bld.Select(alarmColumns...).From("alarm").Where(sq.Eq{"alarm_id": id}).ToSql()
	if err != nil {
		return schema.AlarmRecord{}, err
	}
	row := s.db.QueryRowxContext(ctx, query, args...)
	return scanAlarm(row)
}

func (s *SQLiteStore) Query(ctx context.Context, filter Filter, paging Paging) (Page, error) {
	base := s.bld.Select(alarmColumns...).From("alarm")
	base = applyFilter(base, filter)

	countQuery, countArgs, err := s.bld.Select("COUNT(*)").From("alarm").Where(filterWhere(filter)).ToSql()
	if err != nil {
		return Page{}, err
	}
	var total int
	if err := s.db.GetContext(ctx, &total, countQuery, countArgs...); err != nil {
		return Page{}, fmt.Errorf("alarmstore: query count: %w", err)
	}

	if paging.ItemsPerPage > 0 {
		offset := uint64(0)
		if paging.Page > 1 {
			offset = uint64(paging.Page-1) * uint64(paging.ItemsPerPage)
		}
		base = base.Limit(uint64(paging.ItemsPerPage)).Offset(offset)
	}
	base = base.OrderBy("ts DESC")

	query, args, err := base.ToSql()
	if err != nil {
		return Page{}, err
	}
	rows, err := s.db.QueryxContext(ctx, query, args...)
	if err != nil {
		return Page{}, fmt.Errorf("alarmstore: query: %w", err)
	}
	defer rows.Close()

	items := make([]schema.AlarmRecord, 0, 32)
	for rows.Next() {
		rec, err := scanAlarmRows(rows)
		if err != nil {
			return Page{}, err
		}
		items = append(items, rec)
	}
	return Page{Items: items, Total: total}, nil
}

func filterWhere(f Filter) sq.Sqlizer {
	and := sq.And{}
	if f.DeviceID != "" {
		and = append(and, sq.Eq{"device_id": f.DeviceID})
	}
	if f.TagID != "" {
		and = append(and, sq.Eq{"tag_id": f.TagID})
	}
	if f.Code != "" {
		and = append(and, sq.Eq{"code": f.Code})
	}
	if f.Status != nil {
		and = append(and, sq.Eq{"status": int(*f.Status)})
	}
	if len(and) == 0 {
		return sq.Expr("1 = 1")
	}
	return and
}

func applyFilter(b sq.SelectBuilder, f Filter) sq.SelectBuilder {
	return b.Where(filterWhere(f))
}

func (s *SQLiteStore) Ack(ctx context.Context, id, user, note string) error {
	_, err := s.bld.Update("alarm").
		Set("status", int(schema.StatusAcknowledged)).
		Set("ack_user", user).
		Set("ack_note", note).
		Set("updated_utc", sq.Expr("CURRENT_TIMESTAMP")).
		Where(sq.And{sq.Eq{"alarm_id": id}, sq.Lt{"status": int(schema.StatusClosed)}}).
		RunWith(s.db).ExecContext(ctx)
	if err != nil {
		return fmt.Errorf("alarmstore: ack: %w", err)
	}
	return nil
}

func (s *SQLiteStore) Close(ctx context.Context, id string) error {
	_, err := s.bld.Update("alarm").
		Set("status", int(schema.StatusClosed)).
		Set("updated_utc", sq.Expr("CURRENT_TIMESTAMP")).
		Where(sq.Eq{"alarm_id": id}).
		RunWith(s.db).ExecContext(ctx)
	if err != nil {
		return fmt.Errorf("alarmstore: close: %w", err)
	}
	return nil
}

func (s *SQLiteStore) HasOpenByCode(ctx context.Context, code string) (bool, error) {
	query, args, err := s.bld.Select("COUNT(*)").From("alarm").
		Where(sq.And{sq.Eq{"code": code}, sq.Lt{"status": int(schema.StatusClosed)}}).
		ToSql()
	if err != nil {
		return false, err
	}
	var count int
	if err := s.db.GetContext(ctx, &count, query, args...); err != nil {
		return false, fmt.Errorf("alarmstore: has-open-by-code: %w", err)
	}
	return count > 0, nil
}

func (s *SQLiteStore) Shutdown(ctx context.Context) error {
	return s.db.Close()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanAlarm(row rowScanner) (schema.AlarmRecord, error) {
	var a schema.AlarmRecord
	var status int
	var groupID sql.NullString
	err := row.Scan(&a.AlarmID, &a.DeviceID, &a.TagID, &a.Ts, &a.Severity, &a.Code, &a.Message,
		&status, &a.CreatedUtc, &a.UpdatedUtc, &groupID, &a.AckUser, &a.AckNote)
	if err != nil {
		return schema.AlarmRecord{}, fmt.Errorf("alarmstore: scan: %w", err)
	}
	a.Status = schema.AlarmStatus(status)
	a.GroupID = groupID.String
	return a, nil
}

func scanAlarmRows(rows *sqlx.Rows) (schema.AlarmRecord, error) {
	return scanAlarm(rows)
}
