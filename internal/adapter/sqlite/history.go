package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"
)

// Run is one ingestion run as recorded in the ledger.
type Run struct {
	ID               string
	Mode             string
	Success          bool
	PeriodsProcessed int
	RecordsSaved     int
	Errors           int
	EmptyStreak      int
	Failure          string // error that ended the run, if any
	StartedAt        time.Time
	FinishedAt       time.Time
}

// History is a SQLite ledger of past runs.
type History struct {
	sql *sql.DB
}

// Open opens (creating if needed) the ledger at path.
func Open(path string) (*History, error) {
	dsn := "file:" + path + "?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open history %s: %w", path, err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("open history %s: %w", path, err)
	}
	if _, err := db.Exec(`
CREATE TABLE IF NOT EXISTS runs (
  id                TEXT PRIMARY KEY,
  mode              TEXT NOT NULL,
  success           INTEGER NOT NULL CHECK (success IN (0,1)),
  periods_processed INTEGER NOT NULL,
  records_saved     INTEGER NOT NULL,
  errors            INTEGER NOT NULL,
  empty_streak      INTEGER NOT NULL DEFAULT 0,
  failure           TEXT,
  started_at        TEXT NOT NULL,
  finished_at       TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_runs_started ON runs(started_at);
    `); err != nil {
		db.Close()
		return nil, fmt.Errorf("create history schema: %w", err)
	}
	return &History{sql: db}, nil
}

func (h *History) Close() error {
	if h == nil || h.sql == nil {
		return nil
	}
	return h.sql.Close()
}

// RecordRun inserts r, assigning a new ID when r.ID is empty.
func (h *History) RecordRun(ctx context.Context, r Run) (Run, error) {
	if r.ID == "" {
		r.ID = uuid.New().String()
	}
	_, err := h.sql.ExecContext(ctx, `INSERT INTO runs(id, mode, success, periods_processed, records_saved, errors, empty_streak, failure, started_at, finished_at) VALUES(?,?,?,?,?,?,?,?,?,?)`,
		r.ID, r.Mode, boolToInt(r.Success), r.PeriodsProcessed, r.RecordsSaved, r.Errors, r.EmptyStreak,
		nullIfEmpty(r.Failure), formatTime(r.StartedAt), formatTime(r.FinishedAt))
	if err != nil {
		return r, fmt.Errorf("record run %s: %w", r.ID, err)
	}
	return r, nil
}

// ListRuns returns the most recent runs, newest first.
func (h *History) ListRuns(ctx context.Context, limit int) ([]Run, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := h.sql.QueryContext(ctx, `SELECT id, mode, success, periods_processed, records_saved, errors, empty_streak, failure, started_at, finished_at FROM runs ORDER BY started_at DESC, rowid DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("list runs: %w", err)
	}
	defer rows.Close()

	var out []Run
	for rows.Next() {
		var (
			r                 Run
			success           int
			failure           sql.NullString
			started, finished string
		)
		if err := rows.Scan(&r.ID, &r.Mode, &success, &r.PeriodsProcessed, &r.RecordsSaved, &r.Errors, &r.EmptyStreak, &failure, &started, &finished); err != nil {
			return nil, fmt.Errorf("scan run: %w", err)
		}
		r.Success = success == 1
		r.Failure = failure.String
		r.StartedAt, _ = time.Parse(timeLayout, started)
		r.FinishedAt, _ = time.Parse(timeLayout, finished)
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list runs: %w", err)
	}
	return out, nil
}

// timeLayout is fixed-width UTC so lexical order is chronological.
const timeLayout = "2006-01-02T15:04:05.000000000Z"

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func nullIfEmpty(s string) any {
	if s == "" {
		return nil
	}
	return s
}
