package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	_ "modernc.org/sqlite" // Pure-Go SQLite driver.
)

// Compile-time interface check.
var _ RunJournal = (*SQLiteStore)(nil)

// RunStatus is the lifecycle state of a journaled run.
type RunStatus string

const (
	RunRunning   RunStatus = "running"
	RunSucceeded RunStatus = "succeeded"
	RunFailed    RunStatus = "failed"
)

// Run is one journaled crawl.
type Run struct {
	ID           string
	TradeDate    string // empty until the calendar bounds are resolved
	StartDate    string
	EndDate      string
	DownloadType string
	Kinds        []string // materialized kinds, set on success
	Status       RunStatus
	Instruments  int
	Error        string
	StartedAt    time.Time
	FinishedAt   time.Time // zero while running
}

const schema = `
CREATE TABLE IF NOT EXISTS runs (
	id            TEXT PRIMARY KEY,
	trade_date    TEXT NOT NULL DEFAULT '',
	start_date    TEXT NOT NULL,
	end_date      TEXT NOT NULL,
	download_type TEXT NOT NULL,
	kinds         TEXT NOT NULL DEFAULT '',
	status        TEXT NOT NULL,
	instruments   INTEGER NOT NULL DEFAULT 0,
	error         TEXT NOT NULL DEFAULT '',
	started_at    INTEGER NOT NULL,
	finished_at   INTEGER
);
CREATE INDEX IF NOT EXISTS runs_started_at ON runs(started_at);
`

// SQLiteStore implements RunJournal backed by a SQLite database.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore opens (or creates) a SQLite database at dbPath, creates the
// journal tables and returns a ready-to-use SQLiteStore.
func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(1)
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrating %s: %w", dbPath, err)
	}
	return &SQLiteStore{db: db}, nil
}

// Close closes the underlying database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// ---------------------------------------------------------------------------
// RunJournal implementation
// ---------------------------------------------------------------------------

// StartRun inserts run with status running. StartedAt defaults to now.
func (s *SQLiteStore) StartRun(ctx context.Context, run *Run) error {
	if run.ID == "" {
		return errors.New("run id is empty")
	}
	if run.StartedAt.IsZero() {
		run.StartedAt = time.Now()
	}
	run.Status = RunRunning

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO runs (id, trade_date, start_date, end_date, download_type, status, started_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		run.ID, run.TradeDate, run.StartDate, run.EndDate, run.DownloadType,
		string(run.Status), run.StartedAt.UnixMilli())
	if err != nil {
		return fmt.Errorf("inserting run %s: %w", run.ID, err)
	}
	return nil
}

// FinishRun stores the final state of run. FinishedAt defaults to now.
func (s *SQLiteStore) FinishRun(ctx context.Context, run *Run) error {
	if run.FinishedAt.IsZero() {
		run.FinishedAt = time.Now()
	}

	res, err := s.db.ExecContext(ctx, `
		UPDATE runs
		SET trade_date = ?, kinds = ?, status = ?, instruments = ?, error = ?, finished_at = ?
		WHERE id = ?`,
		run.TradeDate, strings.Join(run.Kinds, ","), string(run.Status), run.Instruments,
		run.Error, run.FinishedAt.UnixMilli(), run.ID)
	if err != nil {
		return fmt.Errorf("updating run %s: %w", run.ID, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("updating run %s: not found", run.ID)
	}
	return nil
}

// ListRuns returns the most recent runs, newest first, up to limit.
func (s *SQLiteStore) ListRuns(ctx context.Context, limit int) ([]Run, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, trade_date, start_date, end_date, download_type, kinds, status,
		       instruments, error, started_at, finished_at
		FROM runs
		ORDER BY started_at DESC, id DESC
		LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var runs []Run
	for rows.Next() {
		var (
			r        Run
			kinds    string
			status   string
			started  int64
			finished sql.NullInt64
		)
		if err := rows.Scan(&r.ID, &r.TradeDate, &r.StartDate, &r.EndDate, &r.DownloadType,
			&kinds, &status, &r.Instruments, &r.Error, &started, &finished); err != nil {
			return nil, err
		}
		if kinds != "" {
			r.Kinds = strings.Split(kinds, ",")
		}
		r.Status = RunStatus(status)
		r.StartedAt = time.UnixMilli(started)
		if finished.Valid {
			r.FinishedAt = time.UnixMilli(finished.Int64)
		}
		runs = append(runs, r)
	}
	return runs, rows.Err()
}
