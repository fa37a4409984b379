package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/tursodatabase/go-libsql"
)

// LibSQLSink implements Sink on libSQL (embedded SQLite fork).
type LibSQLSink struct {
	db *sql.DB
}

// NewLibSQLSink opens a libSQL database at the given path and runs
// migrations. The path should be a file URI, e.g. "file:/path/to/db.db".
func NewLibSQLSink(ctx context.Context, dbPath string) (*LibSQLSink, error) {
	db, err := sql.Open("libsql", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open libsql: %w", err)
	}
	db.SetMaxOpenConns(1)

	// Apply connection-level PRAGMAs. Some PRAGMAs return rows so we use QueryRow.
	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA temp_store=MEMORY",
	}
	for _, p := range pragmas {
		var result string
		_ = db.QueryRow(p).Scan(&result)
	}

	if err := runMigrations(ctx, db); err != nil {
		db.Close()
		return nil, err
	}

	return &LibSQLSink{db: db}, nil
}

// Close closes the database.
func (s *LibSQLSink) Close() error { return s.db.Close() }

// RecordInstance upserts the latest snapshot of an instance.
func (s *LibSQLSink) RecordInstance(ctx context.Context, rec *InstanceRecord) error {
	var finished any
	if !rec.FinishedAt.IsZero() {
		finished = rec.FinishedAt.UTC().Format(time.RFC3339Nano)
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO instances (id, definition_id, version, status, error_code, error_message, started_at, finished_at, depth, parent_id)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(id) DO UPDATE SET
		   status=excluded.status,
		   error_code=excluded.error_code,
		   error_message=excluded.error_message,
		   finished_at=excluded.finished_at`,
		rec.InstanceID, rec.DefinitionID, rec.Version, rec.Status,
		nullIfEmpty(rec.ErrorCode), nullIfEmpty(rec.ErrorMessage),
		rec.StartedAt.UTC().Format(time.RFC3339Nano), finished,
		rec.Depth, nullIfEmpty(rec.ParentID),
	)
	if err != nil {
		return fmt.Errorf("record instance %s: %w", rec.InstanceID, err)
	}
	return nil
}

// RecordEvent appends one event. The (instance_id, sequence) primary key
// makes replays idempotent.
func (s *LibSQLSink) RecordEvent(ctx context.Context, rec *EventRecord) error {
	var payload any
	if len(rec.Payload) > 0 {
		payload = string(rec.Payload)
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO instance_events (instance_id, sequence, node_id, type, payload, created_at)
		 VALUES (?, ?, ?, ?, ?, ?)
		 ON CONFLICT(instance_id, sequence) DO NOTHING`,
		rec.InstanceID, rec.Sequence, nullIfEmpty(rec.NodeID), rec.Type,
		payload, rec.Timestamp.UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return fmt.Errorf("record event %s/%d: %w", rec.InstanceID, rec.Sequence, err)
	}
	return nil
}

func nullIfEmpty(s string) any {
	if s == "" {
		return nil
	}
	return s
}

var _ Sink = (*LibSQLSink)(nil)
