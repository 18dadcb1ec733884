package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/spigell/jobpipe/internal/domain"
)

const plansSchema = `
CREATE TABLE IF NOT EXISTS plans (
    plan_id TEXT PRIMARY KEY,
    action TEXT NOT NULL,
    status TEXT NOT NULL,
    created_ts INTEGER NOT NULL,
    updated_ts INTEGER NOT NULL
);
CREATE TABLE IF NOT EXISTS plan_items (
    plan_id TEXT NOT NULL REFERENCES plans(plan_id),
    position INTEGER NOT NULL,
    fingerprint TEXT NOT NULL REFERENCES postings(fingerprint),
    PRIMARY KEY (plan_id, position),
    UNIQUE (plan_id, fingerprint)
);
`

const insertPlanSQL = `INSERT INTO plans (plan_id, action, status, created_ts, updated_ts) VALUES (?, ?, ?, ?, ?)`

const insertPlanItemSQL = `INSERT INTO plan_items (plan_id, position, fingerprint) VALUES (?, ?, ?)`

const selectPlanSQL = `SELECT plan_id, action, status, created_ts, updated_ts FROM plans WHERE plan_id = ?`

const selectPlanItemsSQL = `SELECT fingerprint FROM plan_items WHERE plan_id = ? ORDER BY position ASC`

const updatePlanStatusSQL = `UPDATE plans SET status = ?, updated_ts = ? WHERE plan_id = ? AND status = ?`

func (s queries) InsertPlan(ctx context.Context, plan domain.ExecutionPlan) error {
	if _, err := s.q.ExecContext(ctx, insertPlanSQL,
		plan.ID, plan.Action, plan.Status, toMillis(plan.CreatedAt), toMillis(plan.UpdatedAt)); err != nil {
		return fmt.Errorf("insert plan %s: %w", plan.ID, err)
	}
	for i, fp := range plan.Fingerprints {
		if _, err := s.q.ExecContext(ctx, insertPlanItemSQL, plan.ID, i, fp); err != nil {
			return fmt.Errorf("insert plan item %s: %w", fp, err)
		}
	}
	return nil
}

// GetPlan returns the plan with its fingerprints in plan order, or
// domain.ErrUnknownPlan.
func (s queries) GetPlan(ctx context.Context, id string) (domain.ExecutionPlan, error) {
	var (
		plan             domain.ExecutionPlan
		created, updated int64
	)
	err := s.q.QueryRowContext(ctx, selectPlanSQL, id).Scan(&plan.ID, &plan.Action, &plan.Status, &created, &updated)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.ExecutionPlan{}, fmt.Errorf("%w: %s", domain.ErrUnknownPlan, id)
	}
	if err != nil {
		return domain.ExecutionPlan{}, fmt.Errorf("select plan %s: %w", id, err)
	}
	plan.CreatedAt = fromMillis(created)
	plan.UpdatedAt = fromMillis(updated)

	rows, err := s.q.QueryContext(ctx, selectPlanItemsSQL, id)
	if err != nil {
		return domain.ExecutionPlan{}, fmt.Errorf("select plan items %s: %w", id, err)
	}
	defer rows.Close()
	for rows.Next() {
		var fp string
		if err := rows.Scan(&fp); err != nil {
			return domain.ExecutionPlan{}, err
		}
		plan.Fingerprints = append(plan.Fingerprints, fp)
	}
	return plan, rows.Err()
}

// UpdatePlanStatus moves a plan from one status to the next. It fails with
// domain.ErrConflict when the plan is no longer in from.
func (s queries) UpdatePlanStatus(ctx context.Context, id string, from, to domain.PlanStatus, at time.Time) error {
	res, err := s.q.ExecContext(ctx, updatePlanStatusSQL, to, toMillis(at), id, from)
	if err != nil {
		return fmt.Errorf("update plan %s: %w", id, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("%w: plan %s is not %s", domain.ErrConflict, id, from)
	}
	return nil
}
