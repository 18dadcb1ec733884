package followups

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/spigell/jobpipe/internal/domain"
	"github.com/spigell/jobpipe/internal/store"
)

var testNow = time.Date(2026, 7, 1, 9, 30, 0, 0, time.UTC)

type env struct {
	store *store.Store
	now   time.Time
	fu    *Manager
}

func newEnv(t *testing.T) *env {
	t.Helper()

	s, err := store.Open(context.Background(), filepath.Join(t.TempDir(), "jobpipe.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })

	e := &env{store: s, now: testNow}
	e.fu = New(s, Options{Now: func() time.Time { return e.now }}, nil)
	return e
}

// executed stores a posting with a successful action recorded under planID.
func (e *env) executed(t *testing.T, company, planID string, action domain.Action) string {
	t.Helper()
	ctx := context.Background()

	p := domain.NewPosting(domain.RawPosting{Source: "fixture", Company: company, Title: "Analyst", Geography: "Remote"})
	_, err := e.store.InsertPosting(ctx, p, testNow)
	require.NoError(t, err)
	if planID == "" {
		return p.Fingerprint
	}
	require.NoError(t, e.store.AppendAudit(ctx, domain.AuditRecord{
		ID:          planID + "-" + p.Fingerprint[:8],
		Timestamp:   testNow,
		Fingerprint: p.Fingerprint,
		PlanID:      planID,
		Action:      action,
		Outcome:     domain.OutcomeSuccess,
		Company:     company,
	}))
	return p.Fingerprint
}

func outreachPlan(id string) domain.ExecutionPlan {
	return domain.ExecutionPlan{ID: id, Action: domain.ActionSendOutreach}
}

func TestScheduleForPlanIsIdempotent(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()

	a := e.executed(t, "NorthBridge", "plan-1", domain.ActionSendOutreach)
	b := e.executed(t, "Aurum", "plan-1", domain.ActionSendOutreach)

	n, err := e.fu.ScheduleForPlan(ctx, outreachPlan("plan-1"))
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	n, err = e.fu.ScheduleForPlan(ctx, outreachPlan("plan-1"))
	require.NoError(t, err)
	assert.Zero(t, n, "scheduling the same plan again adds nothing")

	pending, err := e.fu.List(ctx, store.FollowUpFilter{Status: domain.FollowUpPending})
	require.NoError(t, err)
	require.Len(t, pending, 2)
	for _, f := range pending {
		assert.Contains(t, []string{a, b}, f.Fingerprint)
		assert.True(t, f.DueAt.Equal(testNow.Add(DefaultDelay)))
	}

	n, err = e.fu.ScheduleForPlan(ctx, domain.ExecutionPlan{ID: "plan-1", Action: domain.ActionSubmitApplication})
	require.NoError(t, err)
	assert.Zero(t, n, "only outreach is followed up")
}

func TestScheduleKeepsOnePendingPerPosting(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()

	fp := e.executed(t, "NorthBridge", "plan-1", domain.ActionSendOutreach)
	_, err := e.fu.ScheduleForPlan(ctx, outreachPlan("plan-1"))
	require.NoError(t, err)

	// A second successful outreach for the same posting under another plan.
	require.NoError(t, e.store.AppendAudit(ctx, domain.AuditRecord{
		ID: "again", Timestamp: testNow, Fingerprint: fp, PlanID: "plan-2",
		Action: domain.ActionSendOutreach, Outcome: domain.OutcomeSuccess,
	}))
	n, err := e.fu.ScheduleForPlan(ctx, outreachPlan("plan-2"))
	require.NoError(t, err)
	assert.Zero(t, n, "the posting already has a pending follow-up")

	pending, err := e.fu.List(ctx, store.FollowUpFilter{Status: domain.FollowUpPending})
	require.NoError(t, err)
	require.Len(t, pending, 1)
	require.NoError(t, e.fu.Complete(ctx, pending[0].ID))

	n, err = e.fu.ScheduleForPlan(ctx, outreachPlan("plan-2"))
	require.NoError(t, err)
	assert.Equal(t, 1, n, "a new plan may follow up once the previous one is done")
}

func TestDueAndClose(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()

	e.executed(t, "NorthBridge", "plan-1", domain.ActionSendOutreach)
	e.executed(t, "Aurum", "plan-1", domain.ActionSendOutreach)
	_, err := e.fu.ScheduleForPlan(ctx, outreachPlan("plan-1"))
	require.NoError(t, err)

	due, err := e.fu.Due(ctx)
	require.NoError(t, err)
	assert.Empty(t, due, "nothing is due on the day of the outreach")

	e.now = testNow.Add(DefaultDelay)
	due, err = e.fu.Due(ctx)
	require.NoError(t, err)
	require.Len(t, due, 2)
	assert.True(t, due[0].Due(e.now))

	require.NoError(t, e.fu.Complete(ctx, due[0].ID))
	require.NoError(t, e.fu.Cancel(ctx, due[1].ID))
	require.ErrorIs(t, e.fu.Complete(ctx, due[1].ID), domain.ErrConflict)
	require.ErrorIs(t, e.fu.Cancel(ctx, "missing"), domain.ErrUnknownFollowUp)
	require.ErrorIs(t, e.fu.Complete(ctx, " "), domain.ErrValidation)

	done, err := e.fu.List(ctx, store.FollowUpFilter{Status: domain.FollowUpDone})
	require.NoError(t, err)
	require.Len(t, done, 1)
	require.NotNil(t, done[0].ClosedAt)
	assert.True(t, done[0].ClosedAt.Equal(e.now))

	_, err = e.fu.List(ctx, store.FollowUpFilter{Status: "sent"})
	require.ErrorIs(t, err, domain.ErrValidation)
}

func TestRecordResponse(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()

	reached := e.executed(t, "NorthBridge", "plan-1", domain.ActionSendOutreach)
	applied := e.executed(t, "Aurum", "plan-2", domain.ActionSubmitApplication)
	untouched := e.executed(t, "IMF", "", "")

	_, err := e.fu.ScheduleForPlan(ctx, outreachPlan("plan-1"))
	require.NoError(t, err)

	tests := []struct {
		name string
		req  ResponseRequest
		err  error
	}{
		{"unknown kind", ResponseRequest{Fingerprint: reached, Kind: "ghosted", RecordedBy: "asha"}, domain.ErrValidation},
		{"no recorder", ResponseRequest{Fingerprint: reached, Kind: domain.ResponseReply}, domain.ErrValidation},
		{"unknown posting", ResponseRequest{Fingerprint: "missing", Kind: domain.ResponseReply, RecordedBy: "asha"}, domain.ErrUnknownPosting},
		{"not executed", ResponseRequest{Fingerprint: untouched, Kind: domain.ResponseReply, RecordedBy: "asha"}, domain.ErrNotExecuted},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := e.fu.RecordResponse(ctx, tt.req)
			require.ErrorIs(t, err, tt.err)
		})
	}

	resp, err := e.fu.RecordResponse(ctx, ResponseRequest{Fingerprint: reached, Kind: "Reply", Note: " asked for a call ", RecordedBy: "asha"})
	require.NoError(t, err)
	assert.Equal(t, domain.ResponseReply, resp.Kind)
	assert.Equal(t, "asked for a call", resp.Note)

	pending, err := e.fu.List(ctx, store.FollowUpFilter{Status: domain.FollowUpPending})
	require.NoError(t, err)
	assert.Empty(t, pending, "a reply cancels the pending follow-up")

	_, err = e.fu.RecordResponse(ctx, ResponseRequest{Fingerprint: applied, Kind: domain.ResponseOffer, RecordedBy: "asha"})
	require.NoError(t, err)

	got, err := e.fu.Responses(ctx, reached)
	require.NoError(t, err)
	require.Len(t, got, 1)

	counts, err := e.store.FunnelCounts(ctx, store.FunnelFilter{})
	require.NoError(t, err)
	assert.Equal(t, 2, counts.Replied)
	assert.Equal(t, 1, counts.Interviewed, "an offer counts as an interview")
	assert.Equal(t, 1, counts.Offered)
}

func TestScheduleSkipsAnsweredPostings(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()

	fp := e.executed(t, "NorthBridge", "plan-1", domain.ActionSendOutreach)
	_, err := e.fu.RecordResponse(ctx, ResponseRequest{Fingerprint: fp, Kind: domain.ResponseReply, RecordedBy: "asha"})
	require.NoError(t, err)

	n, err := e.fu.ScheduleForPlan(ctx, outreachPlan("plan-1"))
	require.NoError(t, err)
	assert.Zero(t, n)
}
