package joblog

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"
)

const maxErrorBytes = 4 * 1024

// Entry is one completed render, successful or not.
type Entry struct {
	JobID       string `json:"job_id"`
	Status      string `json:"status"`
	Kind        string `json:"kind,omitempty"`
	Bytes       int    `json:"bytes"`
	DurationMs  int64  `json:"duration_ms"`
	Error       string `json:"error,omitempty"`
	SubmittedAt string `json:"submitted_at"`
	CompletedAt string `json:"completed_at"`
}

const (
	StatusSucceeded = "succeeded"
	StatusFailed    = "failed"
)

// Log persists completed renders to SQLite for later inspection.
type Log struct {
	db *sql.DB
}

// Open opens (and creates if needed) the render log database at path and
// ensures the table exists.
func Open(ctx context.Context, path string) (*Log, error) {
	if path == "" {
		return nil, fmt.Errorf("render log path is empty")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create render log directory: %w", err)
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}

	pctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if _, err := db.ExecContext(pctx, "PRAGMA busy_timeout = 5000;"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("set busy_timeout: %w", err)
	}
	if err := bootstrap(ctx, db); err != nil {
		_ = db.Close()
		return nil, err
	}
	return &Log{db: db}, nil
}

func bootstrap(ctx context.Context, db *sql.DB) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS render_log (
  job_id       TEXT PRIMARY KEY,
  status       TEXT NOT NULL,
  kind         TEXT,
  bytes        INTEGER NOT NULL DEFAULT 0,
  duration_ms  INTEGER NOT NULL DEFAULT 0,
  error        TEXT,
  submitted_at TEXT NOT NULL,
  completed_at TEXT NOT NULL
);`,
		`CREATE INDEX IF NOT EXISTS render_log_completed_at_idx ON render_log(completed_at);`,
	}
	for _, stmt := range stmts {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("bootstrap render log: %w", err)
		}
	}
	return nil
}

// Record writes one completed render. Oversized error text is truncated.
func (l *Log) Record(ctx context.Context, e Entry) error {
	if e.JobID == "" {
		return fmt.Errorf("job id is empty")
	}
	if e.Status != StatusSucceeded && e.Status != StatusFailed {
		return fmt.Errorf("invalid status: %q", e.Status)
	}
	if len(e.Error) > maxErrorBytes {
		e.Error = e.Error[:maxErrorBytes]
	}
	if e.CompletedAt == "" {
		e.CompletedAt = time.Now().UTC().Format(time.RFC3339Nano)
	}

	_, err := l.db.ExecContext(ctx, `
INSERT INTO render_log(
  job_id, status, kind, bytes, duration_ms, error, submitted_at, completed_at
)
VALUES(?, ?, ?, ?, ?, ?, ?, ?)
ON CONFLICT(job_id) DO UPDATE SET
  status = excluded.status,
  kind = excluded.kind,
  bytes = excluded.bytes,
  duration_ms = excluded.duration_ms,
  error = excluded.error,
  completed_at = excluded.completed_at;
`, e.JobID, e.Status, nullable(e.Kind), e.Bytes, e.DurationMs, nullable(e.Error), e.SubmittedAt, e.CompletedAt)
	if err != nil {
		return fmt.Errorf("insert render_log: %w", err)
	}
	return nil
}

// Recent returns the most recently completed renders, newest first.
func (l *Log) Recent(ctx context.Context, limit int) ([]Entry, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := l.db.QueryContext(ctx, `
SELECT job_id, status, kind, bytes, duration_ms, error, submitted_at, completed_at
FROM render_log
ORDER BY completed_at DESC
LIMIT ?;
`, limit)
	if err != nil {
		return nil, fmt.Errorf("query render_log: %w", err)
	}
	defer rows.Close()

	var entries []Entry
	for rows.Next() {
		var (
			e    Entry
			kind sql.NullString
			msg  sql.NullString
		)
		if err := rows.Scan(&e.JobID, &e.Status, &kind, &e.Bytes, &e.DurationMs, &msg, &e.SubmittedAt, &e.CompletedAt); err != nil {
			return nil, fmt.Errorf("scan render_log row: %w", err)
		}
		e.Kind = kind.String
		e.Error = msg.String
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate render_log: %w", err)
	}
	return entries, nil
}

// Close releases the underlying database handle.
func (l *Log) Close() error {
	return l.db.Close()
}

func nullable(s string) any {
	if s == "" {
		return nil
	}
	return s
}
