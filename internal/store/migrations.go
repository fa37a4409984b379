package store

import (
	"context"
	"database/sql"
	_ "embed"
	"strings"

	"github.com/tideflow-io/tideflow/pkg/schema"
)

//go:embed migrations/001_initial_schema.sql
var migration001 string

type migration struct {
	Version int
	Name    string
	SQL     string
}

var migrations = []migration{
	{Version: 1, Name: "initial_schema", SQL: migration001},
}

// runMigrations brings the database up to the latest schema version. Each
// migration runs in its own transaction and is recorded in schema_version,
// so reopening an already-migrated database is a no-op.
func runMigrations(ctx context.Context, db *sql.DB) error {
	_, err := db.ExecContext(ctx, `CREATE TABLE IF NOT EXISTS schema_version (
		version INTEGER PRIMARY KEY,
		name TEXT NOT NULL,
		applied_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
	)`)
	if err != nil {
		return schema.NewError(schema.ErrCodeStore, "create schema_version table").WithCause(err)
	}

	var current int
	if err := db.QueryRowContext(ctx, `SELECT COALESCE(MAX(version), 0) FROM schema_version`).Scan(&current); err != nil {
		return schema.NewError(schema.ErrCodeStore, "read schema version").WithCause(err)
	}

	for _, m := range migrations {
		if m.Version <= current {
			continue
		}
		if err := applyMigration(ctx, db, m); err != nil {
			return err
		}
	}
	return nil
}

func applyMigration(ctx context.Context, db *sql.DB, m migration) error {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return schema.NewErrorf(schema.ErrCodeStore, "begin migration %d", m.Version).WithCause(err)
	}
	defer tx.Rollback()

	for _, stmt := range splitStatements(m.SQL) {
		if _, err := tx.ExecContext(ctx, stmt); err != nil {
			return schema.NewErrorf(schema.ErrCodeStore, "apply migration %d (%s)", m.Version, m.Name).WithCause(err)
		}
	}
	if _, err := tx.ExecContext(ctx, `INSERT INTO schema_version (version, name) VALUES (?, ?)`, m.Version, m.Name); err != nil {
		return schema.NewErrorf(schema.ErrCodeStore, "record migration %d", m.Version).WithCause(err)
	}
	if err := tx.Commit(); err != nil {
		return schema.NewErrorf(schema.ErrCodeStore, "commit migration %d", m.Version).WithCause(err)
	}
	return nil
}

// splitStatements splits a migration script into individual statements.
// SQL comment lines are dropped so a trailing comment never produces an
// empty statement.
func splitStatements(script string) []string {
	var clean []string
	for _, line := range strings.Split(script, "\n") {
		if strings.HasPrefix(strings.TrimSpace(line), "--") {
			continue
		}
		clean = append(clean, line)
	}

	var stmts []string
	for _, part := range strings.Split(strings.Join(clean, "\n"), ";") {
		if s := strings.TrimSpace(part); s != "" {
			stmts = append(stmts, s)
		}
	}
	return stmts
}
