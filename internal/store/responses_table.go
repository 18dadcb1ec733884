package store

import (
	"context"
	"fmt"

	"github.com/spigell/jobpipe/internal/domain"
)

const responsesSchema = `
CREATE TABLE IF NOT EXISTS responses (
    seq INTEGER PRIMARY KEY AUTOINCREMENT,
    response_id TEXT NOT NULL UNIQUE,
    fingerprint TEXT NOT NULL REFERENCES postings(fingerprint),
    kind TEXT NOT NULL,
    note TEXT NOT NULL DEFAULT '',
    recorded_by TEXT NOT NULL,
    recorded_ts INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS responses_fingerprint_idx ON responses(fingerprint, kind);
`

const responseColumns = `response_id, fingerprint, kind, note, recorded_by, recorded_ts`

const insertResponseSQL = `INSERT INTO responses (` + responseColumns + `) VALUES (?, ?, ?, ?, ?, ?)`

const selectResponsesSQL = `SELECT ` + responseColumns + ` FROM responses WHERE fingerprint = ? ORDER BY seq ASC`

func (s queries) InsertResponse(ctx context.Context, r domain.Response) error {
	_, err := s.q.ExecContext(ctx, insertResponseSQL,
		r.ID, r.Fingerprint, r.Kind, r.Note, r.RecordedBy, toMillis(r.RecordedAt))
	if err != nil {
		return fmt.Errorf("insert %s response for %s: %w", r.Kind, r.Fingerprint, err)
	}
	return nil
}

// Responses returns the responses recorded for a posting, oldest first.
func (s queries) Responses(ctx context.Context, fingerprint string) ([]domain.Response, error) {
	rows, err := s.q.QueryContext(ctx, selectResponsesSQL, fingerprint)
	if err != nil {
		return nil, fmt.Errorf("select responses of %s: %w", fingerprint, err)
	}
	defer rows.Close()

	var result []domain.Response
	for rows.Next() {
		var (
			r  domain.Response
			ts int64
		)
		if err := rows.Scan(&r.ID, &r.Fingerprint, &r.Kind, &r.Note, &r.RecordedBy, &ts); err != nil {
			return nil, err
		}
		r.RecordedAt = fromMillis(ts)
		result = append(result, r)
	}
	return result, rows.Err()
}
