package store

import (
	"context"
	"fmt"
	"time"
)

const runsSchema = `
CREATE TABLE IF NOT EXISTS runs (
    run_id TEXT PRIMARY KEY,
    started_ts INTEGER NOT NULL,
    finished_ts INTEGER,
    status TEXT NOT NULL,
    discovered INTEGER NOT NULL DEFAULT 0,
    stored INTEGER NOT NULL DEFAULT 0,
    batch_id TEXT NOT NULL DEFAULT '',
    error TEXT NOT NULL DEFAULT ''
);
`

// RunSummary is the bookkeeping row of one daily run.
type RunSummary struct {
	ID         string
	Status     string
	Discovered int
	Stored     int
	BatchID    string
	Error      string
}

const insertRunSQL = `INSERT INTO runs (run_id, started_ts, status) VALUES (?, ?, 'running')`

const finishRunSQL = `
UPDATE runs SET finished_ts = ?, status = ?, discovered = ?, stored = ?, batch_id = ?, error = ?
WHERE run_id = ?`

func (s queries) StartRun(ctx context.Context, id string, at time.Time) error {
	if _, err := s.q.ExecContext(ctx, insertRunSQL, id, toMillis(at)); err != nil {
		return fmt.Errorf("insert run %s: %w", id, err)
	}
	return nil
}

func (s queries) FinishRun(ctx context.Context, sum RunSummary, at time.Time) error {
	_, err := s.q.ExecContext(ctx, finishRunSQL, toMillis(at), sum.Status, sum.Discovered, sum.Stored, sum.BatchID, sum.Error, sum.ID)
	if err != nil {
		return fmt.Errorf("finish run %s: %w", sum.ID, err)
	}
	return nil
}
