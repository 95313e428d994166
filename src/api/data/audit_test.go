package data

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"gorm.io/driver/mysql"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/bigpicture/pujo-pictures/src/api/types"
)

type captured struct {
	sql  string
	vars []interface{}
}

// dryRunDB builds statements against the MySQL dialect without a server.
func dryRunDB(t *testing.T) (*gorm.DB, *[]captured) {
	t.Helper()
	db, err := gorm.Open(mysql.New(mysql.Config{
		DSN:                       "pujo:secret@tcp(127.0.0.1:3306)/pujo?parseTime=true",
		SkipInitializeWithVersion: true,
	}), &gorm.Config{DryRun: true, DisableAutomaticPing: true, Logger: logger.Discard})
	require.NoError(t, err)
	t.Cleanup(func() { _ = CloseMySQL(db) })

	var stmts []captured
	capture := func(tx *gorm.DB) {
		stmts = append(stmts, captured{sql: tx.Statement.SQL.String(), vars: tx.Statement.Vars})
	}
	require.NoError(t, db.Callback().Create().After("gorm:create").Register("test:capture", capture))
	require.NoError(t, db.Callback().Query().After("gorm:query").Register("test:capture", capture))
	return db, &stmts
}

func TestAuditRecordInsertsEvent(t *testing.T) {
	db, stmts := dryRunDB(t)
	audit := NewAuditLog(db)

	err := audit.Record(context.Background(), types.ModerationEvent{
		SubmissionID: "a1",
		Action:       "approve",
		Outcome:      "applied",
		PandalID:     "42",
		CreatedAt:    time.Date(2026, 10, 19, 8, 0, 0, 0, time.UTC),
	})
	require.NoError(t, err)

	require.Len(t, *stmts, 1)
	stmt := (*stmts)[0]
	require.Contains(t, stmt.sql, "INSERT INTO `moderation_events`")
	require.Contains(t, stmt.sql, "`submission_id`")
	require.Contains(t, stmt.vars, "a1")
	require.Contains(t, stmt.vars, "approve")
	require.Contains(t, stmt.vars, "applied")
}

func TestAuditRecentQueriesNewestFirst(t *testing.T) {
	db, stmts := dryRunDB(t)
	audit := NewAuditLog(db)

	events, err := audit.Recent(context.Background(), "a1", 0)
	require.NoError(t, err)
	require.Empty(t, events)

	require.Len(t, *stmts, 1)
	stmt := (*stmts)[0]
	require.Contains(t, stmt.sql, "FROM `moderation_events`")
	require.Contains(t, stmt.sql, "WHERE submission_id = ?")
	require.Contains(t, stmt.sql, "ORDER BY id DESC")
	require.Contains(t, stmt.sql, "LIMIT")
	require.Contains(t, stmt.vars, "a1")
}
