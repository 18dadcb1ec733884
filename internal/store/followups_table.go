package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spigell/jobpipe/internal/domain"
)

// A posting has one follow-up per plan and at most one pending at a time.
const followUpsSchema = `
CREATE TABLE IF NOT EXISTS followups (
    followup_id TEXT PRIMARY KEY,
    fingerprint TEXT NOT NULL REFERENCES postings(fingerprint),
    plan_id TEXT NOT NULL,
    company TEXT NOT NULL DEFAULT '',
    status TEXT NOT NULL,
    due_ts INTEGER NOT NULL,
    created_ts INTEGER NOT NULL,
    closed_ts INTEGER,
    UNIQUE (fingerprint, plan_id)
);
CREATE UNIQUE INDEX IF NOT EXISTS followups_one_pending_idx ON followups(fingerprint) WHERE status = 'pending';
CREATE INDEX IF NOT EXISTS followups_due_idx ON followups(status, due_ts);
`

const followUpColumns = `followup_id, fingerprint, plan_id, company, status, due_ts, created_ts, closed_ts`

const insertFollowUpSQL = `
INSERT INTO followups (` + followUpColumns + `) VALUES (?, ?, ?, ?, ?, ?, ?, NULL)
ON CONFLICT DO NOTHING`

const selectFollowUpSQL = `SELECT ` + followUpColumns + ` FROM followups WHERE followup_id = ?`

const closeFollowUpSQL = `
UPDATE followups SET status = ?, closed_ts = ? WHERE followup_id = ? AND status = 'pending'`

const cancelFollowUpsSQL = `
UPDATE followups SET status = 'cancelled', closed_ts = ? WHERE fingerprint = ? AND status = 'pending'`

// FollowUpFilter narrows ListFollowUps. Empty fields match everything.
type FollowUpFilter struct {
	Status domain.FollowUpStatus
	// DueBy keeps follow-ups due at or before it.
	DueBy time.Time
	Limit int
}

// InsertFollowUp stores f unless the posting already has a pending
// follow-up or one for the same plan. It reports whether f was stored.
func (s queries) InsertFollowUp(ctx context.Context, f domain.FollowUp) (bool, error) {
	res, err := s.q.ExecContext(ctx, insertFollowUpSQL,
		f.ID, f.Fingerprint, f.PlanID, f.Company, f.Status, toMillis(f.DueAt), toMillis(f.CreatedAt))
	if err != nil {
		return false, fmt.Errorf("insert follow-up for %s: %w", f.Fingerprint, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

func (s queries) GetFollowUp(ctx context.Context, id string) (domain.FollowUp, error) {
	f, err := scanFollowUp(s.q.QueryRowContext(ctx, selectFollowUpSQL, id))
	if errors.Is(err, sql.ErrNoRows) {
		return domain.FollowUp{}, fmt.Errorf("%w: %s", domain.ErrUnknownFollowUp, id)
	}
	if err != nil {
		return domain.FollowUp{}, fmt.Errorf("select follow-up %s: %w", id, err)
	}
	return f, nil
}

// ListFollowUps returns matching follow-ups, earliest due first.
func (s queries) ListFollowUps(ctx context.Context, f FollowUpFilter) ([]domain.FollowUp, error) {
	var (
		where []string
		args  []any
	)
	if f.Status != "" {
		where = append(where, "status = ?")
		args = append(args, f.Status)
	}
	if !f.DueBy.IsZero() {
		where = append(where, "due_ts <= ?")
		args = append(args, toMillis(f.DueBy))
	}

	query := `SELECT ` + followUpColumns + ` FROM followups`
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY due_ts ASC, followup_id ASC LIMIT ?"
	limit := f.Limit
	if limit <= 0 {
		limit = -1
	}
	args = append(args, limit)

	rows, err := s.q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("select follow-ups: %w", err)
	}
	defer rows.Close()

	var result []domain.FollowUp
	for rows.Next() {
		fu, err := scanFollowUp(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, fu)
	}
	return result, rows.Err()
}

// CloseFollowUp moves a pending follow-up to status. A follow-up that is no
// longer pending yields ErrConflict.
func (s queries) CloseFollowUp(ctx context.Context, id string, status domain.FollowUpStatus, at time.Time) error {
	res, err := s.q.ExecContext(ctx, closeFollowUpSQL, status, toMillis(at), id)
	if err != nil {
		return fmt.Errorf("close follow-up %s: %w", id, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 1 {
		return nil
	}

	f, err := s.GetFollowUp(ctx, id)
	if err != nil {
		return err
	}
	return fmt.Errorf("%w: follow-up %s is already %s", domain.ErrConflict, id, f.Status)
}

// CancelFollowUps cancels the pending follow-up of a posting, if any.
func (s queries) CancelFollowUps(ctx context.Context, fingerprint string, at time.Time) (int, error) {
	res, err := s.q.ExecContext(ctx, cancelFollowUpsSQL, toMillis(at), fingerprint)
	if err != nil {
		return 0, fmt.Errorf("cancel follow-ups of %s: %w", fingerprint, err)
	}
	n, err := res.RowsAffected()
	return int(n), err
}

func scanFollowUp(row rowScanner) (domain.FollowUp, error) {
	var (
		f            domain.FollowUp
		due, created int64
		closed       sql.NullInt64
	)
	if err := row.Scan(&f.ID, &f.Fingerprint, &f.PlanID, &f.Company, &f.Status, &due, &created, &closed); err != nil {
		return domain.FollowUp{}, err
	}
	f.DueAt = fromMillis(due)
	f.CreatedAt = fromMillis(created)
	f.ClosedAt = fromNullMillis(closed)
	return f, nil
}
