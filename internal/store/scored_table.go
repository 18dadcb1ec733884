package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/spigell/jobpipe/internal/domain"
)

const scoredSchema = `
CREATE TABLE IF NOT EXISTS scored (
    fingerprint TEXT PRIMARY KEY REFERENCES postings(fingerprint),
    score REAL NOT NULL,
    rationale TEXT NOT NULL DEFAULT '[]',
    status TEXT NOT NULL,
    revision INTEGER NOT NULL DEFAULT 1,
    scored_ts INTEGER NOT NULL,
    updated_ts INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS scored_status_idx ON scored(status);
`

const scoredColumns = postingColumns + `, sc.score, sc.rationale, sc.status, sc.revision, sc.scored_ts`

const insertScoreSQL = `
INSERT INTO scored (fingerprint, score, rationale, status, revision, scored_ts, updated_ts)
VALUES (?, ?, ?, ?, 1, ?, ?)
ON CONFLICT(fingerprint) DO NOTHING`

const selectScoredSQL = `
SELECT ` + scoredColumns + `
FROM scored sc JOIN postings p ON p.fingerprint = sc.fingerprint
WHERE sc.fingerprint = ?`

const updateStatusSQL = `
UPDATE scored SET status = ?, revision = revision + 1, updated_ts = ?
WHERE fingerprint = ? AND revision = ?`

// Eligible postings wait for review and are not part of an open batch.
const selectEligibleSQL = `
SELECT ` + scoredColumns + `
FROM scored sc JOIN postings p ON p.fingerprint = sc.fingerprint
WHERE sc.status IN ('pending_review', 'deferred')
  AND NOT EXISTS (
    SELECT 1 FROM batch_items bi JOIN batches b ON b.batch_id = bi.batch_id
    WHERE bi.fingerprint = sc.fingerprint AND b.status = 'open')
ORDER BY sc.score DESC, sc.fingerprint ASC
LIMIT ?`

// InsertScore records the scoring result and the initial pending_review status.
func (s queries) InsertScore(ctx context.Context, fingerprint string, score float64, rationale []string, at time.Time) (bool, error) {
	encoded, err := json.Marshal(nonNil(rationale))
	if err != nil {
		return false, fmt.Errorf("encode rationale: %w", err)
	}

	res, err := s.q.ExecContext(ctx, insertScoreSQL, fingerprint, score, string(encoded), domain.StatusPendingReview, toMillis(at), toMillis(at))
	if err != nil {
		return false, fmt.Errorf("insert score %s: %w", fingerprint, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// GetScored returns the scored posting or domain.ErrUnknownPosting.
func (s queries) GetScored(ctx context.Context, fingerprint string) (domain.ScoredPosting, error) {
	sp, err := scanScored(s.q.QueryRowContext(ctx, selectScoredSQL, fingerprint))
	if errors.Is(err, sql.ErrNoRows) {
		return domain.ScoredPosting{}, fmt.Errorf("%w: %s", domain.ErrUnknownPosting, fingerprint)
	}
	if err != nil {
		return domain.ScoredPosting{}, fmt.Errorf("select scored %s: %w", fingerprint, err)
	}
	return sp, nil
}

// UpdateStatus moves the posting to status if its revision still equals
// expected. A mismatch yields domain.ErrStaleRevision.
func (s queries) UpdateStatus(ctx context.Context, fingerprint string, status domain.Status, expected int64, at time.Time) error {
	res, err := s.q.ExecContext(ctx, updateStatusSQL, status, toMillis(at), fingerprint, expected)
	if err != nil {
		return fmt.Errorf("update status %s: %w", fingerprint, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("%w: %s at revision %d", domain.ErrStaleRevision, fingerprint, expected)
	}
	return nil
}

// Eligible lists postings that can go into the next batch, in review order.
func (s queries) Eligible(ctx context.Context, limit int) ([]domain.ScoredPosting, error) {
	if limit <= 0 {
		limit = -1
	}
	return s.queryScored(ctx, selectEligibleSQL, limit)
}

func (s queries) queryScored(ctx context.Context, query string, args ...any) ([]domain.ScoredPosting, error) {
	rows, err := s.q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("select scored postings: %w", err)
	}
	defer rows.Close()

	var result []domain.ScoredPosting
	for rows.Next() {
		sp, err := scanScored(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, sp)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return result, nil
}

func scanScored(row rowScanner) (domain.ScoredPosting, error) {
	var (
		sp        domain.ScoredPosting
		rationale string
		scored    int64
	)
	p, err := scanPosting(row, &sp.Score, &rationale, &sp.Status, &sp.Revision, &scored)
	if err != nil {
		return domain.ScoredPosting{}, err
	}
	sp.Posting = p
	sp.ScoredAt = fromMillis(scored)
	if err := json.Unmarshal([]byte(rationale), &sp.Rationale); err != nil {
		return domain.ScoredPosting{}, fmt.Errorf("decode rationale of %s: %w", p.Fingerprint, err)
	}
	return sp, nil
}
