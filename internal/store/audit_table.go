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

const auditSchema = `
CREATE TABLE IF NOT EXISTS audit_records (
    seq INTEGER PRIMARY KEY AUTOINCREMENT,
    record_id TEXT NOT NULL UNIQUE,
    ts INTEGER NOT NULL,
    fingerprint TEXT NOT NULL,
    plan_id TEXT NOT NULL DEFAULT '',
    action TEXT NOT NULL,
    outcome TEXT NOT NULL,
    reason TEXT NOT NULL DEFAULT '',
    external_ref TEXT NOT NULL DEFAULT '',
    company TEXT NOT NULL DEFAULT '',
    role_family TEXT NOT NULL DEFAULT ''
);
CREATE INDEX IF NOT EXISTS audit_records_fingerprint_idx ON audit_records(fingerprint, action, outcome);
CREATE INDEX IF NOT EXISTS audit_records_ts_idx ON audit_records(outcome, ts);
CREATE TRIGGER IF NOT EXISTS audit_records_no_update BEFORE UPDATE ON audit_records
BEGIN
    SELECT RAISE(ABORT, 'audit log is append-only');
END;
CREATE TRIGGER IF NOT EXISTS audit_records_no_delete BEFORE DELETE ON audit_records
BEGIN
    SELECT RAISE(ABORT, 'audit log is append-only');
END;
`

const auditColumns = `record_id, ts, fingerprint, plan_id, action, outcome, reason, external_ref, company, role_family`

const insertAuditSQL = `INSERT INTO audit_records (` + auditColumns + `) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

const selectSuccessExistsSQL = `
SELECT 1 FROM audit_records WHERE fingerprint = ? AND action = ? AND outcome = 'success' LIMIT 1`

const selectSuccessSinceSQL = `
SELECT ` + auditColumns + ` FROM audit_records WHERE outcome = 'success' AND ts >= ? ORDER BY seq ASC`

const countAuditSQL = `SELECT COUNT(*) FROM audit_records`

// AuditFilter narrows ListAudit. Empty fields match everything.
type AuditFilter struct {
	Fingerprint string
	PlanID      string
	Outcome     domain.Outcome
	Limit       int
}

func (s queries) AppendAudit(ctx context.Context, rec domain.AuditRecord) error {
	_, err := s.q.ExecContext(ctx, insertAuditSQL,
		rec.ID, toMillis(rec.Timestamp), rec.Fingerprint, rec.PlanID, rec.Action, rec.Outcome,
		rec.Reason, rec.ExternalRef, rec.Company, rec.RoleFamily)
	if err != nil {
		return fmt.Errorf("append audit record for %s: %w", rec.Fingerprint, err)
	}
	return nil
}

// HasSuccessfulExecution reports whether action already succeeded for the
// posting.
func (s queries) HasSuccessfulExecution(ctx context.Context, fingerprint string, action domain.Action) (bool, error) {
	var one int
	err := s.q.QueryRowContext(ctx, selectSuccessExistsSQL, fingerprint, action).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("select successful execution of %s: %w", fingerprint, err)
	}
	return true, nil
}

// SuccessfulSince returns successful executions recorded at or after since.
func (s queries) SuccessfulSince(ctx context.Context, since time.Time) ([]domain.AuditRecord, error) {
	return s.queryAudit(ctx, selectSuccessSinceSQL, toMillis(since))
}

// ListAudit returns audit records in append order.
func (s queries) ListAudit(ctx context.Context, f AuditFilter) ([]domain.AuditRecord, error) {
	var (
		where []string
		args  []any
	)
	if f.Fingerprint != "" {
		where = append(where, "fingerprint = ?")
		args = append(args, f.Fingerprint)
	}
	if f.PlanID != "" {
		where = append(where, "plan_id = ?")
		args = append(args, f.PlanID)
	}
	if f.Outcome != "" {
		where = append(where, "outcome = ?")
		args = append(args, f.Outcome)
	}

	query := `SELECT ` + auditColumns + ` FROM audit_records`
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY seq ASC"
	if f.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, f.Limit)
	}
	return s.queryAudit(ctx, query, args...)
}

func (s queries) CountAudit(ctx context.Context) (int, error) {
	var n int
	if err := s.q.QueryRowContext(ctx, countAuditSQL).Scan(&n); err != nil {
		return 0, fmt.Errorf("count audit records: %w", err)
	}
	return n, nil
}

func (s queries) queryAudit(ctx context.Context, query string, args ...any) ([]domain.AuditRecord, error) {
	rows, err := s.q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("select audit records: %w", err)
	}
	defer rows.Close()

	var result []domain.AuditRecord
	for rows.Next() {
		var (
			rec domain.AuditRecord
			ts  int64
		)
		if err := rows.Scan(&rec.ID, &ts, &rec.Fingerprint, &rec.PlanID, &rec.Action, &rec.Outcome,
			&rec.Reason, &rec.ExternalRef, &rec.Company, &rec.RoleFamily); err != nil {
			return nil, err
		}
		rec.Timestamp = fromMillis(ts)
		result = append(result, rec)
	}
	return result, rows.Err()
}
