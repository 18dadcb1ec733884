package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/spigell/jobpipe/internal/domain"
)

const decisionsSchema = `
CREATE TABLE IF NOT EXISTS decisions (
    seq INTEGER PRIMARY KEY AUTOINCREMENT,
    decision_id TEXT NOT NULL UNIQUE,
    batch_id TEXT NOT NULL REFERENCES batches(batch_id),
    fingerprint TEXT NOT NULL REFERENCES postings(fingerprint),
    kind TEXT NOT NULL,
    note TEXT NOT NULL DEFAULT '',
    decided_by TEXT NOT NULL,
    decided_ts INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS decisions_fingerprint_idx ON decisions(fingerprint, seq);
CREATE TRIGGER IF NOT EXISTS decisions_no_update BEFORE UPDATE ON decisions
BEGIN
    SELECT RAISE(ABORT, 'decisions are immutable');
END;
CREATE TRIGGER IF NOT EXISTS decisions_no_delete BEFORE DELETE ON decisions
BEGIN
    SELECT RAISE(ABORT, 'decisions are immutable');
END;
`

const decisionColumns = `decision_id, batch_id, fingerprint, kind, note, decided_by, decided_ts`

const insertDecisionSQL = `INSERT INTO decisions (` + decisionColumns + `) VALUES (?, ?, ?, ?, ?, ?, ?)`

const selectLatestDecisionSQL = `
SELECT ` + decisionColumns + ` FROM decisions WHERE fingerprint = ? ORDER BY seq DESC LIMIT 1`

const selectDecisionsSQL = `
SELECT ` + decisionColumns + ` FROM decisions WHERE fingerprint = ? ORDER BY seq ASC`

func (s queries) InsertDecision(ctx context.Context, d domain.Decision) error {
	_, err := s.q.ExecContext(ctx, insertDecisionSQL,
		d.ID, d.BatchID, d.Fingerprint, d.Kind, d.Note, d.DecidedBy, toMillis(d.DecidedAt))
	if err != nil {
		return fmt.Errorf("insert decision for %s: %w", d.Fingerprint, err)
	}
	return nil
}

// LatestDecision returns the decision that governs the current status.
func (s queries) LatestDecision(ctx context.Context, fingerprint string) (domain.Decision, bool, error) {
	d, err := scanDecision(s.q.QueryRowContext(ctx, selectLatestDecisionSQL, fingerprint))
	if errors.Is(err, sql.ErrNoRows) {
		return domain.Decision{}, false, nil
	}
	if err != nil {
		return domain.Decision{}, false, fmt.Errorf("select latest decision of %s: %w", fingerprint, err)
	}
	return d, true, nil
}

// Decisions returns the full decision history of a posting, oldest first.
func (s queries) Decisions(ctx context.Context, fingerprint string) ([]domain.Decision, error) {
	rows, err := s.q.QueryContext(ctx, selectDecisionsSQL, fingerprint)
	if err != nil {
		return nil, fmt.Errorf("select decisions of %s: %w", fingerprint, err)
	}
	defer rows.Close()

	var result []domain.Decision
	for rows.Next() {
		d, err := scanDecision(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, d)
	}
	return result, rows.Err()
}

func scanDecision(row rowScanner) (domain.Decision, error) {
	var (
		d  domain.Decision
		ts int64
	)
	if err := row.Scan(&d.ID, &d.BatchID, &d.Fingerprint, &d.Kind, &d.Note, &d.DecidedBy, &ts); err != nil {
		return domain.Decision{}, err
	}
	d.DecidedAt = fromMillis(ts)
	return d, nil
}
