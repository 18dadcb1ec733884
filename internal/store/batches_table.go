package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/spigell/jobpipe/internal/domain"
)

const batchesSchema = `
CREATE TABLE IF NOT EXISTS batches (
    batch_id TEXT PRIMARY KEY,
    status TEXT NOT NULL,
    created_ts INTEGER NOT NULL,
    closed_ts INTEGER
);
CREATE TABLE IF NOT EXISTS batch_items (
    batch_id TEXT NOT NULL REFERENCES batches(batch_id),
    fingerprint TEXT NOT NULL REFERENCES postings(fingerprint),
    PRIMARY KEY (batch_id, fingerprint)
);
CREATE INDEX IF NOT EXISTS batch_items_fingerprint_idx ON batch_items(fingerprint);
`

const insertBatchSQL = `INSERT INTO batches (batch_id, status, created_ts) VALUES (?, 'open', ?)`

const insertBatchItemSQL = `INSERT INTO batch_items (batch_id, fingerprint) VALUES (?, ?)`

const selectBatchSQL = `SELECT batch_id, status, created_ts, closed_ts FROM batches WHERE batch_id = ?`

const selectBatchesSQL = `SELECT batch_id, status, created_ts, closed_ts FROM batches ORDER BY created_ts DESC, batch_id ASC`

const selectBatchItemsSQL = `
SELECT ` + scoredColumns + `
FROM batch_items bi
JOIN scored sc ON sc.fingerprint = bi.fingerprint
JOIN postings p ON p.fingerprint = bi.fingerprint
WHERE bi.batch_id = ?
ORDER BY sc.score DESC, sc.fingerprint ASC`

const selectBatchHasItemSQL = `SELECT 1 FROM batch_items WHERE batch_id = ? AND fingerprint = ?`

const selectOpenBatchOfSQL = `
SELECT b.batch_id FROM batch_items bi JOIN batches b ON b.batch_id = bi.batch_id
WHERE bi.fingerprint = ? AND b.status = 'open' LIMIT 1`

const closeBatchSQL = `UPDATE batches SET status = 'closed', closed_ts = ? WHERE batch_id = ? AND status = 'open'`

// InsertBatch creates an open batch holding fingerprints.
func (s queries) InsertBatch(ctx context.Context, id string, fingerprints []string, createdAt time.Time) error {
	if _, err := s.q.ExecContext(ctx, insertBatchSQL, id, toMillis(createdAt)); err != nil {
		return fmt.Errorf("insert batch %s: %w", id, err)
	}
	for _, fp := range fingerprints {
		if _, err := s.q.ExecContext(ctx, insertBatchItemSQL, id, fp); err != nil {
			return fmt.Errorf("insert batch item %s: %w", fp, err)
		}
	}
	return nil
}

// GetBatch returns the batch with its fingerprints in review order, or
// domain.ErrUnknownBatch.
func (s queries) GetBatch(ctx context.Context, id string) (domain.ReviewBatch, error) {
	b, err := scanBatch(s.q.QueryRowContext(ctx, selectBatchSQL, id))
	if errors.Is(err, sql.ErrNoRows) {
		return domain.ReviewBatch{}, fmt.Errorf("%w: %s", domain.ErrUnknownBatch, id)
	}
	if err != nil {
		return domain.ReviewBatch{}, fmt.Errorf("select batch %s: %w", id, err)
	}

	items, err := s.BatchItems(ctx, id)
	if err != nil {
		return domain.ReviewBatch{}, err
	}
	for _, item := range items {
		b.Fingerprints = append(b.Fingerprints, item.Fingerprint)
	}
	return b, nil
}

// ListBatches returns batch headers, newest first.
func (s queries) ListBatches(ctx context.Context) ([]domain.ReviewBatch, error) {
	rows, err := s.q.QueryContext(ctx, selectBatchesSQL)
	if err != nil {
		return nil, fmt.Errorf("select batches: %w", err)
	}
	defer rows.Close()

	var result []domain.ReviewBatch
	for rows.Next() {
		b, err := scanBatch(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, b)
	}
	return result, rows.Err()
}

// BatchItems returns the scored postings of a batch ordered by score
// descending, then fingerprint ascending.
func (s queries) BatchItems(ctx context.Context, id string) ([]domain.ScoredPosting, error) {
	return s.queryScored(ctx, selectBatchItemsSQL, id)
}

func (s queries) BatchHasItem(ctx context.Context, batchID, fingerprint string) (bool, error) {
	var one int
	err := s.q.QueryRowContext(ctx, selectBatchHasItemSQL, batchID, fingerprint).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("select batch item: %w", err)
	}
	return true, nil
}

// OpenBatchOf returns the open batch containing fingerprint, if any.
func (s queries) OpenBatchOf(ctx context.Context, fingerprint string) (string, bool, error) {
	var id string
	err := s.q.QueryRowContext(ctx, selectOpenBatchOfSQL, fingerprint).Scan(&id)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("select open batch of %s: %w", fingerprint, err)
	}
	return id, true, nil
}

// CloseBatch closes an open batch. Closing an already closed batch yields
// domain.ErrBatchClosed.
func (s queries) CloseBatch(ctx context.Context, id string, closedAt time.Time) error {
	res, err := s.q.ExecContext(ctx, closeBatchSQL, toMillis(closedAt), id)
	if err != nil {
		return fmt.Errorf("close batch %s: %w", id, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("%w: %s", domain.ErrBatchClosed, id)
	}
	return nil
}

func scanBatch(row rowScanner) (domain.ReviewBatch, error) {
	var (
		b       domain.ReviewBatch
		created int64
		closed  sql.NullInt64
	)
	if err := row.Scan(&b.ID, &b.Status, &created, &closed); err != nil {
		return domain.ReviewBatch{}, err
	}
	b.CreatedAt = fromMillis(created)
	b.ClosedAt = fromNullMillis(closed)
	return b, nil
}
