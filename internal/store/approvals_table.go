package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/spigell/jobpipe/internal/domain"
)

const approvalsSchema = `
CREATE TABLE IF NOT EXISTS approvals (
    version INTEGER PRIMARY KEY AUTOINCREMENT,
    model TEXT NOT NULL,
    written_approval BOOLEAN NOT NULL,
    armed_by TEXT NOT NULL,
    armed_ts INTEGER NOT NULL,
    consumed_ts INTEGER,
    consumed_by TEXT NOT NULL DEFAULT ''
);
`

const insertApprovalSQL = `INSERT INTO approvals (model, written_approval, armed_by, armed_ts) VALUES (?, ?, ?, ?)`

const selectLatestApprovalSQL = `
SELECT version, model, written_approval, armed_by, armed_ts, consumed_ts, consumed_by
FROM approvals ORDER BY version DESC LIMIT 1`

// Only the latest, unconsumed version can be consumed.
const consumeApprovalSQL = `
UPDATE approvals SET consumed_ts = ?, consumed_by = ?
WHERE version = ? AND consumed_ts IS NULL
  AND version = (SELECT MAX(version) FROM approvals)`

// InsertApproval adds a new approval version, superseding older ones.
func (s queries) InsertApproval(ctx context.Context, rec domain.ApprovalRecord) (int64, error) {
	res, err := s.q.ExecContext(ctx, insertApprovalSQL, rec.Model, rec.WrittenApproval, rec.ArmedBy, toMillis(rec.ArmedAt))
	if err != nil {
		return 0, fmt.Errorf("insert approval: %w", err)
	}
	return res.LastInsertId()
}

// LatestApproval returns the newest approval record; a zero record when none
// exists.
func (s queries) LatestApproval(ctx context.Context) (domain.ApprovalRecord, error) {
	var (
		rec      domain.ApprovalRecord
		armed    int64
		consumed sql.NullInt64
	)
	err := s.q.QueryRowContext(ctx, selectLatestApprovalSQL).
		Scan(&rec.Version, &rec.Model, &rec.WrittenApproval, &rec.ArmedBy, &armed, &consumed, &rec.ConsumedBy)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.ApprovalRecord{}, nil
	}
	if err != nil {
		return domain.ApprovalRecord{}, fmt.Errorf("select approval: %w", err)
	}
	rec.ArmedAt = fromMillis(armed)
	rec.ConsumedAt = fromNullMillis(consumed)
	return rec, nil
}

// ConsumeApproval marks version consumed. It fails with domain.ErrConflict
// when the version was consumed or superseded in the meantime.
func (s queries) ConsumeApproval(ctx context.Context, version int64, by string, at time.Time) error {
	res, err := s.q.ExecContext(ctx, consumeApprovalSQL, toMillis(at), by, version)
	if err != nil {
		return fmt.Errorf("consume approval v%d: %w", version, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("%w: approval v%d already consumed or superseded", domain.ErrConflict, version)
	}
	return nil
}
