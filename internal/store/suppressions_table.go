package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/spigell/jobpipe/internal/domain"
)

const suppressionsSchema = `
CREATE TABLE IF NOT EXISTS suppressions (
    suppression_id TEXT PRIMARY KEY,
    scope TEXT NOT NULL,
    value TEXT NOT NULL,
    reason TEXT NOT NULL DEFAULT '',
    created_ts INTEGER NOT NULL,
    expires_ts INTEGER
);
CREATE INDEX IF NOT EXISTS suppressions_scope_idx ON suppressions(scope, value);
`

const suppressionColumns = `suppression_id, scope, value, reason, created_ts, expires_ts`

const insertSuppressionSQL = `INSERT INTO suppressions (` + suppressionColumns + `) VALUES (?, ?, ?, ?, ?, ?)`

const selectSuppressionsSQL = `SELECT ` + suppressionColumns + ` FROM suppressions ORDER BY created_ts ASC, suppression_id ASC`

const selectActiveSuppressionsSQL = `
SELECT ` + suppressionColumns + ` FROM suppressions
WHERE expires_ts IS NULL OR expires_ts > ?
ORDER BY created_ts ASC, suppression_id ASC`

func (s queries) InsertSuppression(ctx context.Context, e domain.SuppressionEntry) error {
	_, err := s.q.ExecContext(ctx, insertSuppressionSQL,
		e.ID, e.Scope, e.Value, e.Reason, toMillis(e.CreatedAt), nullMillis(e.ExpiresAt))
	if err != nil {
		return fmt.Errorf("insert suppression %s %q: %w", e.Scope, e.Value, err)
	}
	return nil
}

// ListSuppressions returns every entry, expired ones included.
func (s queries) ListSuppressions(ctx context.Context) ([]domain.SuppressionEntry, error) {
	return s.querySuppressions(ctx, selectSuppressionsSQL)
}

// ActiveSuppressions returns entries still in force at t.
func (s queries) ActiveSuppressions(ctx context.Context, t time.Time) ([]domain.SuppressionEntry, error) {
	return s.querySuppressions(ctx, selectActiveSuppressionsSQL, toMillis(t))
}

func (s queries) querySuppressions(ctx context.Context, query string, args ...any) ([]domain.SuppressionEntry, error) {
	rows, err := s.q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("select suppressions: %w", err)
	}
	defer rows.Close()

	var result []domain.SuppressionEntry
	for rows.Next() {
		var (
			e       domain.SuppressionEntry
			created int64
			expires sql.NullInt64
		)
		if err := rows.Scan(&e.ID, &e.Scope, &e.Value, &e.Reason, &created, &expires); err != nil {
			return nil, err
		}
		e.CreatedAt = fromMillis(created)
		e.ExpiresAt = fromNullMillis(expires)
		result = append(result, e)
	}
	return result, rows.Err()
}
