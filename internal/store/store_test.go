package store

import (
	"context"
	"database/sql"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/spigell/jobpipe/internal/domain"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(context.Background(), filepath.Join(t.TempDir(), "jobpipe.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func testPosting(company, title string) domain.Posting {
	return domain.NewPosting(domain.RawPosting{
		Source:       "fixture",
		Company:      company,
		Title:        title,
		Geography:    "London, UK",
		RoleFamily:   "analyst",
		Skills:       []string{"economics"},
		ApplyURL:     "https://jobs.example.com/" + title,
		DiscoveredAt: time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC),
	})
}

func TestOpenReappliesNothing(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "jobpipe.db")

	s, err := Open(ctx, path)
	require.NoError(t, err)
	require.NoError(t, s.Close())

	s, err = Open(ctx, path)
	require.NoError(t, err)
	defer s.Close()

	var version int
	require.NoError(t, s.db.QueryRowContext(ctx, `PRAGMA user_version;`).Scan(&version))
	require.Equal(t, len(migrations), version)
}

func TestOpenUpgradesFirstSchema(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "jobpipe.db")
	p := testPosting("NorthBridge", "analyst")
	created := time.Date(2026, 1, 3, 0, 0, 0, 0, time.UTC)

	db, err := sql.Open("sqlite", "file:"+path)
	require.NoError(t, err)
	_, err = db.ExecContext(ctx, migrations[0])
	require.NoError(t, err)
	_, err = db.ExecContext(ctx, `PRAGMA user_version = 1;`)
	require.NoError(t, err)
	_, err = db.ExecContext(ctx, `INSERT INTO postings (fingerprint, source, company, title, geography, role_family, seniority, skills, apply_url, description, discovered_ts, stored_ts)
VALUES (?, 'fixture', 'NorthBridge', 'analyst', 'London, UK', 'analyst', '', '[]', '', '', 0, 0)`, p.Fingerprint)
	require.NoError(t, err)
	_, err = db.ExecContext(ctx, `INSERT INTO drafts (fingerprint, generator, cv_summary, outreach, created_ts) VALUES (?, 'template', 'cv', 'hello', ?)`,
		p.Fingerprint, toMillis(created))
	require.NoError(t, err)
	require.NoError(t, db.Close())

	s, err := Open(ctx, path)
	require.NoError(t, err)
	defer s.Close()

	d, ok, err := s.GetDrafts(ctx, p.Fingerprint)
	require.NoError(t, err)
	require.True(t, ok)
	require.Empty(t, d.EditedBy)
	require.Nil(t, d.EditedAt)

	edited := created.Add(time.Hour)
	require.NoError(t, s.EditDrafts(ctx, domain.Drafts{
		Fingerprint: p.Fingerprint, Generator: "manual", CVSummary: "cv v2", Outreach: "hello", CreatedAt: edited,
	}, "asha", edited))

	d, _, err = s.GetDrafts(ctx, p.Fingerprint)
	require.NoError(t, err)
	require.Equal(t, "template", d.Generator, "an edit keeps the generator of a successful draft")
	require.True(t, created.Equal(d.CreatedAt))
	require.Equal(t, "cv v2", d.CVSummary)
	require.Equal(t, "asha", d.EditedBy)
	require.NotNil(t, d.EditedAt)
	require.True(t, edited.Equal(*d.EditedAt))

	n, err := s.CancelFollowUps(ctx, p.Fingerprint, edited)
	require.NoError(t, err)
	require.Zero(t, n)
}

func TestInsertPostingIsConditional(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)
	p := testPosting("NorthBridge", "analyst")

	added, err := s.InsertPosting(ctx, p, time.Now())
	require.NoError(t, err)
	require.True(t, added)

	added, err = s.InsertPosting(ctx, p, time.Now())
	require.NoError(t, err)
	require.False(t, added)

	got, err := s.GetPosting(ctx, p.Fingerprint)
	require.NoError(t, err)
	require.Equal(t, p.Company, got.Company)
	require.Equal(t, []string{"economics"}, got.Skills)
	require.True(t, p.DiscoveredAt.Equal(got.DiscoveredAt))

	_, err = s.GetPosting(ctx, "missing")
	require.ErrorIs(t, err, domain.ErrUnknownPosting)

	known, err := s.KnownFingerprints(ctx, []string{p.Fingerprint, "missing"})
	require.NoError(t, err)
	require.Equal(t, map[string]bool{p.Fingerprint: true}, known)
}

func TestUpdateStatusCompareAndSwap(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)
	p := testPosting("Aurum", "consultant")

	_, err := s.InsertPosting(ctx, p, time.Now())
	require.NoError(t, err)
	_, err = s.InsertScore(ctx, p.Fingerprint, 55.5, []string{"role_family: match"}, time.Now())
	require.NoError(t, err)

	sp, err := s.GetScored(ctx, p.Fingerprint)
	require.NoError(t, err)
	require.Equal(t, domain.StatusPendingReview, sp.Status)
	require.Equal(t, int64(1), sp.Revision)

	require.NoError(t, s.UpdateStatus(ctx, p.Fingerprint, domain.StatusApproved, 1, time.Now()))

	err = s.UpdateStatus(ctx, p.Fingerprint, domain.StatusRejected, 1, time.Now())
	require.ErrorIs(t, err, domain.ErrConflict)

	sp, err = s.GetScored(ctx, p.Fingerprint)
	require.NoError(t, err)
	require.Equal(t, domain.StatusApproved, sp.Status)
	require.Equal(t, int64(2), sp.Revision)
}

func TestAuditLogIsAppendOnly(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)

	rec := domain.AuditRecord{
		ID:          "rec-1",
		Timestamp:   time.Now(),
		Fingerprint: "fp",
		Action:      domain.ActionSubmitApplication,
		Outcome:     domain.OutcomeSuccess,
	}
	require.NoError(t, s.AppendAudit(ctx, rec))

	_, err := s.db.ExecContext(ctx, `UPDATE audit_records SET outcome = 'failed'`)
	require.Error(t, err)
	_, err = s.db.ExecContext(ctx, `DELETE FROM audit_records`)
	require.Error(t, err)

	n, err := s.CountAudit(ctx)
	require.NoError(t, err)
	require.Equal(t, 1, n)

	ok, err := s.HasSuccessfulExecution(ctx, "fp", domain.ActionSubmitApplication)
	require.NoError(t, err)
	require.True(t, ok)

	ok, err = s.HasSuccessfulExecution(ctx, "fp", domain.ActionSendOutreach)
	require.NoError(t, err)
	require.False(t, ok)
}

func TestWithTxRollsBack(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)
	p := testPosting("SignalStack", "strategy")
	boom := errors.New("boom")

	err := s.WithTx(ctx, func(tx *Tx) error {
		if _, err := tx.InsertPosting(ctx, p, time.Now()); err != nil {
			return err
		}
		return boom
	})
	require.ErrorIs(t, err, boom)

	_, err = s.GetPosting(ctx, p.Fingerprint)
	require.ErrorIs(t, err, domain.ErrUnknownPosting)
}

func TestApprovalConsumeOnce(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)

	rec, err := s.LatestApproval(ctx)
	require.NoError(t, err)
	require.Zero(t, rec.Version)

	v1, err := s.InsertApproval(ctx, domain.ApprovalRecord{Model: domain.ApprovalModelAutoExecute, WrittenApproval: true, ArmedBy: "me", ArmedAt: time.Now()})
	require.NoError(t, err)

	require.NoError(t, s.ConsumeApproval(ctx, v1, "run-1", time.Now()))
	require.ErrorIs(t, s.ConsumeApproval(ctx, v1, "run-2", time.Now()), domain.ErrConflict)

	v2, err := s.InsertApproval(ctx, domain.ApprovalRecord{Model: domain.ApprovalModelAutoExecute, WrittenApproval: true, ArmedBy: "me", ArmedAt: time.Now()})
	require.NoError(t, err)
	require.Greater(t, v2, v1)

	rec, err = s.LatestApproval(ctx)
	require.NoError(t, err)
	require.True(t, rec.Armed())
}

func TestSuppressionsExpiry(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)
	now := time.Date(2026, 5, 1, 0, 0, 0, 0, time.UTC)
	past := now.Add(-time.Minute)

	require.NoError(t, s.InsertSuppression(ctx, domain.SuppressionEntry{ID: "a", Scope: domain.ScopeCompany, Value: "Aurum", CreatedAt: now}))
	require.NoError(t, s.InsertSuppression(ctx, domain.SuppressionEntry{ID: "b", Scope: domain.ScopeDomain, Value: "x.com", CreatedAt: now, ExpiresAt: &past}))

	all, err := s.ListSuppressions(ctx)
	require.NoError(t, err)
	require.Len(t, all, 2)

	active, err := s.ActiveSuppressions(ctx, now)
	require.NoError(t, err)
	require.Len(t, active, 1)
	require.Equal(t, "a", active[0].ID)
	require.True(t, active[0].Permanent())
}

func TestFunnelCountsEmpty(t *testing.T) {
	s := openTestStore(t)

	counts, err := s.FunnelCounts(context.Background(), FunnelFilter{Source: "any", Status: domain.StatusApproved})
	require.NoError(t, err)
	require.Equal(t, FunnelCounts{}, counts)
}
