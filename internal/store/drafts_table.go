package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/spigell/jobpipe/internal/domain"
)

const draftsSchema = `
CREATE TABLE IF NOT EXISTS drafts (
    fingerprint TEXT PRIMARY KEY REFERENCES postings(fingerprint),
    generator TEXT NOT NULL,
    cv_summary TEXT NOT NULL DEFAULT '',
    cover_letter TEXT NOT NULL DEFAULT '',
    outreach TEXT NOT NULL DEFAULT '',
    error TEXT NOT NULL DEFAULT '',
    created_ts INTEGER NOT NULL
);
`

// A failed attempt may be replaced by a later successful one; a successful
// draft is kept.
const upsertDraftsSQL = `
INSERT INTO drafts (fingerprint, generator, cv_summary, cover_letter, outreach, error, created_ts)
VALUES (?, ?, ?, ?, ?, ?, ?)
ON CONFLICT(fingerprint) DO UPDATE SET
    generator = excluded.generator,
    cv_summary = excluded.cv_summary,
    cover_letter = excluded.cover_letter,
    outreach = excluded.outreach,
    error = excluded.error,
    created_ts = excluded.created_ts
WHERE drafts.error != ''`

// draftsEditSchema adds reviewer edits on top of the generated texts.
const draftsEditSchema = `
ALTER TABLE drafts ADD COLUMN edited_by TEXT NOT NULL DEFAULT '';
ALTER TABLE drafts ADD COLUMN edited_ts INTEGER;
`

const selectDraftsSQL = `
SELECT fingerprint, generator, cv_summary, cover_letter, outreach, error, created_ts, edited_by, edited_ts
FROM drafts WHERE fingerprint = ?`

// An edit replaces the texts whatever the generator produced, and clears a
// generation error: the reviewer wrote the drafts themselves.
const editDraftsSQL = `
INSERT INTO drafts (fingerprint, generator, cv_summary, cover_letter, outreach, error, created_ts, edited_by, edited_ts)
VALUES (?, ?, ?, ?, ?, '', ?, ?, ?)
ON CONFLICT(fingerprint) DO UPDATE SET
    generator = CASE WHEN drafts.error != '' THEN excluded.generator ELSE drafts.generator END,
    created_ts = CASE WHEN drafts.error != '' THEN excluded.created_ts ELSE drafts.created_ts END,
    cv_summary = excluded.cv_summary,
    cover_letter = excluded.cover_letter,
    outreach = excluded.outreach,
    error = '',
    edited_by = excluded.edited_by,
    edited_ts = excluded.edited_ts`

const selectDraftedSQL = `SELECT fingerprint FROM drafts WHERE error = '' AND fingerprint IN (%s)`

func (s queries) SaveDrafts(ctx context.Context, d domain.Drafts) error {
	_, err := s.q.ExecContext(ctx, upsertDraftsSQL,
		d.Fingerprint, d.Generator, d.CVSummary, d.CoverLetter, d.Outreach, d.Error, toMillis(d.CreatedAt))
	if err != nil {
		return fmt.Errorf("save drafts for %s: %w", d.Fingerprint, err)
	}
	return nil
}

// GetDrafts returns the drafts for a posting; ok is false when none exist.
func (s queries) GetDrafts(ctx context.Context, fingerprint string) (domain.Drafts, bool, error) {
	var (
		d      domain.Drafts
		ts     int64
		edited sql.NullInt64
	)
	err := s.q.QueryRowContext(ctx, selectDraftsSQL, fingerprint).
		Scan(&d.Fingerprint, &d.Generator, &d.CVSummary, &d.CoverLetter, &d.Outreach, &d.Error, &ts, &d.EditedBy, &edited)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.Drafts{}, false, nil
	}
	if err != nil {
		return domain.Drafts{}, false, fmt.Errorf("select drafts of %s: %w", fingerprint, err)
	}
	d.CreatedAt = fromMillis(ts)
	d.EditedAt = fromNullMillis(edited)
	return d, true, nil
}

// EditDrafts stores reviewer-written texts for d.Fingerprint. Generator and
// CreatedAt only replace those of a missing or failed generation.
func (s queries) EditDrafts(ctx context.Context, d domain.Drafts, by string, at time.Time) error {
	_, err := s.q.ExecContext(ctx, editDraftsSQL,
		d.Fingerprint, d.Generator, d.CVSummary, d.CoverLetter, d.Outreach, toMillis(d.CreatedAt), by, toMillis(at))
	if err != nil {
		return fmt.Errorf("edit drafts of %s: %w", d.Fingerprint, err)
	}
	return nil
}

// WithoutDrafts returns the fingerprints that have no successful drafts yet,
// preserving input order.
func (s queries) WithoutDrafts(ctx context.Context, fingerprints []string) ([]string, error) {
	if len(fingerprints) == 0 {
		return nil, nil
	}

	rows, err := s.q.QueryContext(ctx, fmt.Sprintf(selectDraftedSQL, placeholders(len(fingerprints))), stringArgs(fingerprints)...)
	if err != nil {
		return nil, fmt.Errorf("select drafted postings: %w", err)
	}
	defer rows.Close()

	drafted := make(map[string]bool)
	for rows.Next() {
		var fp string
		if err := rows.Scan(&fp); err != nil {
			return nil, err
		}
		drafted[fp] = true
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	var missing []string
	for _, fp := range fingerprints {
		if !drafted[fp] {
			missing = append(missing, fp)
		}
	}
	return missing, nil
}
