// Package store persists crawled data: the date-stamped TSV snapshots that
// each crawl produces, a Parquet archive built from completed snapshots, and
// a SQLite journal of crawl runs.
package store

import (
	"context"

	"tsdata/internal/domain"
)

// BarStore persists and retrieves daily price bars.
type BarStore interface {
	// WriteDailyBars persists a batch of bars, replacing rows with the same
	// code and trade date.
	WriteDailyBars(ctx context.Context, bars []domain.DailyBar) error

	// ReadDailyBars returns bars for code with start <= trade_date <= end.
	ReadDailyBars(ctx context.Context, code, start, end string) ([]domain.DailyBar, error)
}

// ValuationStore persists and retrieves daily valuation metrics.
type ValuationStore interface {
	// WriteDailyValuations persists a batch of rows, replacing rows with the
	// same code and trade date.
	WriteDailyValuations(ctx context.Context, rows []domain.DailyValuation) error

	// ReadDailyValuations returns rows for code with start <= trade_date <= end.
	ReadDailyValuations(ctx context.Context, code, start, end string) ([]domain.DailyValuation, error)
}

// RunJournal records crawl runs.
type RunJournal interface {
	// StartRun inserts run with status running.
	StartRun(ctx context.Context, run *Run) error

	// FinishRun stores the final state of a run started with StartRun.
	FinishRun(ctx context.Context, run *Run) error

	// ListRuns returns the most recent runs, newest first, up to limit.
	ListRuns(ctx context.Context, limit int) ([]Run, error)
}
