package pipeline

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest"

	"github.com/spigell/jobpipe/internal/ai"
	"github.com/spigell/jobpipe/internal/analytics"
	"github.com/spigell/jobpipe/internal/approval"
	"github.com/spigell/jobpipe/internal/audit"
	"github.com/spigell/jobpipe/internal/compliance"
	"github.com/spigell/jobpipe/internal/connectors"
	"github.com/spigell/jobpipe/internal/domain"
	"github.com/spigell/jobpipe/internal/execution"
	"github.com/spigell/jobpipe/internal/filtering"
	"github.com/spigell/jobpipe/internal/review"
	"github.com/spigell/jobpipe/internal/scoring"
	"github.com/spigell/jobpipe/internal/store"
)

var testNow = time.Date(2026, 7, 1, 9, 30, 0, 0, time.UTC)

func clock() time.Time { return testNow }

var testProfile = domain.Profile{
	Name:         "Asha Rao",
	RoleFamilies: []string{"investment", "research"},
	Geographies:  []string{"London"},
	AcceptRemote: true,
	Seniority:    "junior",
	Skills:       []string{"economics", "research", "excel"},
}

type failingDrafts struct{}

func (failingDrafts) Name() string { return "broken" }

func (failingDrafts) Generate(context.Context, domain.Posting, domain.Profile) (domain.Drafts, error) {
	return domain.Drafts{}, errors.New("quota exceeded")
}

type env struct {
	store     *store.Store
	deps      Deps
	approvals *approval.Manager
}

func newEnv(t *testing.T, sources ...connectors.Source) *env {
	t.Helper()
	ctx := context.Background()

	s, err := store.Open(ctx, filepath.Join(t.TempDir(), "jobpipe.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })

	scorer, err := scoring.New(scoring.DefaultWeights())
	require.NoError(t, err)

	if len(sources) == 0 {
		sources = []connectors.Source{connectors.NewFixture("boards", connectors.FixtureOptions{}, clock)}
	}

	gate := compliance.New(s, compliance.Limits{}, clock, nil)
	sink := connectors.NewSimulated(connectors.SimulatedOptions{}, nil)
	approvals := approval.New(s, clock, nil)

	return &env{
		store:     s,
		approvals: approvals,
		deps: Deps{
			Store:     s,
			Sources:   sources,
			Deduper:   filtering.NewDeduper(filtering.DefaultSteps(s, "", clock, nil), nil),
			Scorer:    scorer,
			Drafts:    ai.NewTemplate(clock),
			Review:    review.New(s, nil, review.WithClock(clock)),
			Executor:  execution.New(s, gate, sink, audit.New(s, clock, nil), execution.Options{Now: clock}, nil),
			Approvals: approvals,
		},
	}
}

func (e *env) ingestProfile(t *testing.T, p domain.Profile) {
	t.Helper()
	_, err := e.store.InsertProfile(context.Background(), p, testNow)
	require.NoError(t, err)
}

func (e *env) pipeline(t *testing.T, opts Options) *Pipeline {
	t.Helper()
	opts.Now = clock
	p, err := New(e.deps, opts, nil)
	require.NoError(t, err)
	return p
}

func TestRunStoresScoresAndBatches(t *testing.T) {
	failing := connectors.NewFixture("offline", connectors.FixtureOptions{Fail: true}, clock)
	e := newEnv(t, connectors.NewFixture("boards", connectors.FixtureOptions{}, clock), failing)
	e.ingestProfile(t, testProfile)
	ctx := context.Background()

	textfile := filepath.Join(t.TempDir(), "metrics", "jobpipe.prom")
	report, err := e.pipeline(t, Options{Workers: 3, MetricsTextfile: textfile}).Run(ctx)
	require.NoError(t, err)

	assert.Equal(t, 6, report.Discovered)
	assert.Equal(t, 5, report.Stored, "the cross-board copy is dropped")
	assert.Equal(t, 1, report.Filtered["duplicates"].Dropped)
	assert.Contains(t, report.SourceErrors, "offline")
	assert.Zero(t, report.DraftFailures)
	assert.Nil(t, report.Execution)
	require.NotNil(t, report.Batch)
	assert.Len(t, report.Batch.Fingerprints, 5)

	items, err := e.deps.Review.Items(ctx, report.Batch.ID)
	require.NoError(t, err)
	for i := 1; i < len(items); i++ {
		assert.GreaterOrEqual(t, items[i-1].Score, items[i].Score)
	}
	for _, item := range items {
		d, ok, err := e.store.GetDrafts(ctx, item.Fingerprint)
		require.NoError(t, err)
		require.True(t, ok)
		assert.Equal(t, "template", d.Generator)
		assert.Empty(t, d.Error)
	}

	_, err = os.Stat(textfile)
	require.NoError(t, err, "metrics textfile is written after the run")

	again, err := e.pipeline(t, Options{}).Run(ctx)
	require.NoError(t, err)
	assert.Equal(t, 6, again.Discovered)
	assert.Zero(t, again.Stored, "re-running never stores a posting twice")
	assert.Nil(t, again.Batch, "everything is already in the open batch")

	funnel, err := analytics.Compute(ctx, e.store, analytics.Filter{})
	require.NoError(t, err)
	discovered, _ := funnel.Stage(analytics.StageDiscovered)
	deduped, _ := funnel.Stage(analytics.StageDeduped)
	assert.Equal(t, 12, discovered.Count)
	assert.Equal(t, 5, deduped.Count)
}

func TestRunDraftFailuresDoNotBlockReview(t *testing.T) {
	e := newEnv(t)
	e.deps.Drafts = failingDrafts{}
	e.ingestProfile(t, testProfile)
	ctx := context.Background()

	report, err := e.pipeline(t, Options{}).Run(ctx)
	require.NoError(t, err)
	assert.Equal(t, 5, report.DraftFailures)
	require.NotNil(t, report.Batch)
	assert.Len(t, report.Batch.Fingerprints, 5)

	d, ok, err := e.store.GetDrafts(ctx, report.Batch.Fingerprints[0])
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "broken", d.Generator)
	assert.Contains(t, d.Error, "quota exceeded")
}

func TestRunResumesAfterCancellation(t *testing.T) {
	e := newEnv(t)
	e.ingestProfile(t, testProfile)

	const checkpoints = 2
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Cancel as soon as the second posting has been committed.
	var stored atomic.Int32
	log := zaptest.NewLogger(t, zaptest.Level(zap.DebugLevel), zaptest.WrapOptions(zap.Hooks(func(entry zapcore.Entry) error {
		if entry.Message == "posting stored" && stored.Add(1) == checkpoints {
			cancel()
		}
		return nil
	})))
	p, err := New(e.deps, Options{Now: clock}, log)
	require.NoError(t, err)

	report, err := p.Run(ctx)
	require.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, checkpoints, report.Stored)
	assert.Nil(t, report.Batch)

	counts, err := e.store.FunnelCounts(context.Background(), store.FunnelFilter{})
	require.NoError(t, err)
	assert.Equal(t, checkpoints, counts.Deduped, "only committed postings are stored")
	assert.Equal(t, checkpoints, counts.Scored, "every stored posting has its score")

	resumed, err := e.pipeline(t, Options{}).Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 5-checkpoints, resumed.Stored)
	require.NotNil(t, resumed.Batch)
	assert.Len(t, resumed.Batch.Fingerprints, 5)

	counts, err = e.store.FunnelCounts(context.Background(), store.FunnelFilter{})
	require.NoError(t, err)
	assert.Equal(t, 5, counts.Deduped, "no posting is stored twice")
	assert.Equal(t, 5, counts.Scored)

	for _, fp := range resumed.Batch.Fingerprints {
		d, ok, err := e.store.GetDrafts(context.Background(), fp)
		require.NoError(t, err)
		require.True(t, ok, "drafts of %s", fp)
		assert.Empty(t, d.Error)
	}
}

func TestRunProfileErrors(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()

	_, err := e.pipeline(t, Options{}).Run(ctx)
	require.ErrorIs(t, err, store.ErrNoProfile)

	incomplete := testProfile
	incomplete.Geographies = nil
	incomplete.Seniority = " "
	e.ingestProfile(t, incomplete)

	_, err = e.pipeline(t, Options{}).Run(ctx)
	var perr *domain.ProfileIncompleteError
	require.ErrorAs(t, err, &perr)
	assert.Equal(t, []string{"geographies", "seniority"}, perr.Missing)
	assert.ErrorIs(t, err, domain.ErrValidation)
}

func TestRunFailsWhenEverySourceFails(t *testing.T) {
	e := newEnv(t, connectors.NewFixture("offline", connectors.FixtureOptions{Fail: true}, clock))
	e.ingestProfile(t, testProfile)

	report, err := e.pipeline(t, Options{}).Run(context.Background())
	require.ErrorIs(t, err, ErrNoSources)
	assert.Nil(t, report.Batch)
}

func TestRunExecutesUnderArmedApproval(t *testing.T) {
	e := newEnv(t)
	e.ingestProfile(t, testProfile)
	ctx := context.Background()

	_, err := e.approvals.Arm(ctx, "asha", true)
	require.NoError(t, err)

	report, err := e.pipeline(t, Options{AutoAction: domain.ActionSubmitApplication}).Run(ctx)
	require.NoError(t, err)
	require.NotNil(t, report.Batch)
	require.NotNil(t, report.Execution)
	assert.Equal(t, domain.PlanExecuted, report.Execution.Plan.Status)
	assert.Len(t, report.Execution.Outcomes, 5)

	batch, err := e.deps.Review.Batch(ctx, report.Batch.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.BatchClosed, batch.Status)

	rec, err := e.approvals.Current(ctx)
	require.NoError(t, err)
	assert.False(t, rec.Armed(), "approval is single use")
	assert.Equal(t, "run "+report.RunID, rec.ConsumedBy)

	decision, ok, err := e.store.LatestDecision(ctx, report.Batch.Fingerprints[0])
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "asha (policy approval v1)", decision.DecidedBy)
}

func TestRunWithoutApprovalLeavesBatchOpen(t *testing.T) {
	e := newEnv(t)
	e.ingestProfile(t, testProfile)
	ctx := context.Background()

	report, err := e.pipeline(t, Options{AutoAction: domain.ActionSubmitApplication}).Run(ctx)
	require.NoError(t, err)
	require.NotNil(t, report.Batch)
	assert.Nil(t, report.Execution)

	batch, err := e.deps.Review.Batch(ctx, report.Batch.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.BatchOpen, batch.Status)

	n, err := e.store.CountAudit(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestNewValidatesDeps(t *testing.T) {
	e := newEnv(t)

	deps := e.deps
	deps.Sources = nil
	_, err := New(deps, Options{}, nil)
	require.ErrorIs(t, err, domain.ErrValidation)

	deps = e.deps
	deps.Executor = nil
	_, err = New(deps, Options{AutoAction: domain.ActionSendOutreach}, nil)
	require.Error(t, err)
}

func TestAcquireRunLock(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "data")

	release, err := AcquireRunLock(dir)
	require.NoError(t, err)

	_, err = AcquireRunLock(dir)
	require.ErrorIs(t, err, ErrAlreadyRunning)
	assert.ErrorIs(t, err, domain.ErrConflict)

	require.NoError(t, release())

	release, err = AcquireRunLock(dir)
	require.NoError(t, err)
	require.NoError(t, release())
}
