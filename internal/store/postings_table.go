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

const postingsSchema = `
CREATE TABLE IF NOT EXISTS postings (
    fingerprint TEXT PRIMARY KEY,
    source TEXT NOT NULL,
    source_job_id TEXT NOT NULL DEFAULT '',
    title TEXT NOT NULL,
    company TEXT NOT NULL,
    geography TEXT NOT NULL,
    role_family TEXT NOT NULL DEFAULT '',
    seniority TEXT NOT NULL DEFAULT '',
    description TEXT NOT NULL DEFAULT '',
    apply_url TEXT NOT NULL DEFAULT '',
    contact TEXT NOT NULL DEFAULT '',
    skills TEXT NOT NULL DEFAULT '[]',
    remote BOOLEAN NOT NULL DEFAULT 0,
    compensation_min INTEGER NOT NULL DEFAULT 0,
    compensation_max INTEGER NOT NULL DEFAULT 0,
    discovered_ts INTEGER NOT NULL,
    stored_ts INTEGER NOT NULL
);
CREATE TRIGGER IF NOT EXISTS postings_immutable BEFORE UPDATE ON postings
BEGIN
    SELECT RAISE(ABORT, 'postings are immutable');
END;
`

const postingColumns = `p.fingerprint, p.source, p.source_job_id, p.title, p.company, p.geography, p.role_family,
    p.seniority, p.description, p.apply_url, p.contact, p.skills, p.remote, p.compensation_min,
    p.compensation_max, p.discovered_ts`

const insertPostingSQL = `
INSERT INTO postings (fingerprint, source, source_job_id, title, company, geography, role_family, seniority,
    description, apply_url, contact, skills, remote, compensation_min, compensation_max, discovered_ts, stored_ts)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
ON CONFLICT(fingerprint) DO NOTHING`

const selectPostingSQL = `SELECT ` + postingColumns + ` FROM postings p WHERE p.fingerprint = ?`

// InsertPosting stores p unless its fingerprint is already present. The
// returned flag reports whether a row was written.
func (s queries) InsertPosting(ctx context.Context, p domain.Posting, storedAt time.Time) (bool, error) {
	skills, err := json.Marshal(nonNil(p.Skills))
	if err != nil {
		return false, fmt.Errorf("encode skills: %w", err)
	}

	res, err := s.q.ExecContext(ctx, insertPostingSQL,
		p.Fingerprint, p.Source, p.SourceJobID, p.Title, p.Company, p.Geography, p.RoleFamily, p.Seniority,
		p.Description, p.ApplyURL, p.Contact, string(skills), p.Remote, p.CompensationMin, p.CompensationMax,
		toMillis(p.DiscoveredAt), toMillis(storedAt),
	)
	if err != nil {
		return false, fmt.Errorf("insert posting %s: %w", p.Fingerprint, err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("insert posting %s: %w", p.Fingerprint, err)
	}
	return n > 0, nil
}

// GetPosting returns the stored posting or domain.ErrUnknownPosting.
func (s queries) GetPosting(ctx context.Context, fingerprint string) (domain.Posting, error) {
	p, err := scanPosting(s.q.QueryRowContext(ctx, selectPostingSQL, fingerprint))
	if errors.Is(err, sql.ErrNoRows) {
		return domain.Posting{}, fmt.Errorf("%w: %s", domain.ErrUnknownPosting, fingerprint)
	}
	if err != nil {
		return domain.Posting{}, fmt.Errorf("select posting %s: %w", fingerprint, err)
	}
	return p, nil
}

// KnownFingerprints returns the subset of fingerprints already stored.
func (s queries) KnownFingerprints(ctx context.Context, fingerprints []string) (map[string]bool, error) {
	known := make(map[string]bool)
	const chunk = 500
	for start := 0; start < len(fingerprints); start += chunk {
		end := min(start+chunk, len(fingerprints))
		part := fingerprints[start:end]

		query := fmt.Sprintf(`SELECT fingerprint FROM postings WHERE fingerprint IN (%s)`, placeholders(len(part)))
		rows, err := s.q.QueryContext(ctx, query, stringArgs(part)...)
		if err != nil {
			return nil, fmt.Errorf("select known fingerprints: %w", err)
		}
		for rows.Next() {
			var fp string
			if err := rows.Scan(&fp); err != nil {
				rows.Close()
				return nil, err
			}
			known[fp] = true
		}
		err = rows.Err()
		rows.Close()
		if err != nil {
			return nil, err
		}
	}
	return known, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanPosting(row rowScanner, extra ...any) (domain.Posting, error) {
	var (
		p          domain.Posting
		skills     string
		discovered int64
	)
	dest := []any{
		&p.Fingerprint, &p.Source, &p.SourceJobID, &p.Title, &p.Company, &p.Geography, &p.RoleFamily,
		&p.Seniority, &p.Description, &p.ApplyURL, &p.Contact, &skills, &p.Remote, &p.CompensationMin,
		&p.CompensationMax, &discovered,
	}
	if err := row.Scan(append(dest, extra...)...); err != nil {
		return domain.Posting{}, err
	}
	if err := json.Unmarshal([]byte(skills), &p.Skills); err != nil {
		return domain.Posting{}, fmt.Errorf("decode skills of %s: %w", p.Fingerprint, err)
	}
	p.DiscoveredAt = fromMillis(discovered)
	return p, nil
}

func nonNil(values []string) []string {
	if values == nil {
		return []string{}
	}
	return values
}
