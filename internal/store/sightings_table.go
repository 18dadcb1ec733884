package store

import (
	"context"
	"fmt"
	"time"

	"github.com/spigell/jobpipe/internal/domain"
)

// Every posting returned by discovery is recorded as a sighting, duplicates
// included. The funnel counts them as "discovered".
const sightingsSchema = `
CREATE TABLE IF NOT EXISTS sightings (
    sighting_id INTEGER PRIMARY KEY AUTOINCREMENT,
    run_id TEXT NOT NULL,
    fingerprint TEXT NOT NULL,
    source TEXT NOT NULL,
    geography TEXT NOT NULL,
    role_family TEXT NOT NULL DEFAULT '',
    seen_ts INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS sightings_fingerprint_idx ON sightings(fingerprint);
`

const insertSightingSQL = `
INSERT INTO sightings (run_id, fingerprint, source, geography, role_family, seen_ts) VALUES (?, ?, ?, ?, ?, ?)`

func (s queries) InsertSightings(ctx context.Context, runID string, postings []domain.Posting, seenAt time.Time) error {
	for _, p := range postings {
		if _, err := s.q.ExecContext(ctx, insertSightingSQL, runID, p.Fingerprint, p.Source, p.Geography, p.RoleFamily, toMillis(seenAt)); err != nil {
			return fmt.Errorf("insert sighting %s: %w", p.Fingerprint, err)
		}
	}
	return nil
}
