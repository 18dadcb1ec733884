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

// Profiles are stored as JSON documents; every ingest adds a version.
const profilesSchema = `
CREATE TABLE IF NOT EXISTS profiles (
    version INTEGER PRIMARY KEY AUTOINCREMENT,
    document TEXT NOT NULL,
    created_ts INTEGER NOT NULL
);
`

const insertProfileSQL = `INSERT INTO profiles (document, created_ts) VALUES (?, ?)`

const selectLatestProfileSQL = `SELECT version, document, created_ts FROM profiles ORDER BY version DESC LIMIT 1`

// ErrNoProfile is returned when no profile was ingested yet.
var ErrNoProfile = errors.New("no candidate profile ingested")

// InsertProfile stores p as a new version and returns that version.
func (s queries) InsertProfile(ctx context.Context, p domain.Profile, at time.Time) (int, error) {
	p.Version = 0
	doc, err := json.Marshal(p)
	if err != nil {
		return 0, fmt.Errorf("encode profile: %w", err)
	}

	res, err := s.q.ExecContext(ctx, insertProfileSQL, string(doc), toMillis(at))
	if err != nil {
		return 0, fmt.Errorf("insert profile: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, err
	}
	return int(id), nil
}

// LatestProfile returns the newest profile version or ErrNoProfile.
func (s queries) LatestProfile(ctx context.Context) (domain.Profile, error) {
	var (
		p       domain.Profile
		version int
		doc     string
		created int64
	)
	err := s.q.QueryRowContext(ctx, selectLatestProfileSQL).Scan(&version, &doc, &created)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.Profile{}, ErrNoProfile
	}
	if err != nil {
		return domain.Profile{}, fmt.Errorf("select profile: %w", err)
	}
	if err := json.Unmarshal([]byte(doc), &p); err != nil {
		return domain.Profile{}, fmt.Errorf("decode profile v%d: %w", version, err)
	}
	p.Version = version
	p.CreatedAt = fromMillis(created)
	return p, nil
}
