// Package pipeline runs the daily job search: discovery over every source,
// dedupe, scoring, drafts and a fresh review batch. With an armed approval it
// also executes that batch without waiting for a human.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/spigell/jobpipe/internal/ai"
	"github.com/spigell/jobpipe/internal/approval"
	"github.com/spigell/jobpipe/internal/connectors"
	"github.com/spigell/jobpipe/internal/domain"
	"github.com/spigell/jobpipe/internal/execution"
	"github.com/spigell/jobpipe/internal/filtering"
	"github.com/spigell/jobpipe/internal/logger"
	"github.com/spigell/jobpipe/internal/metrics"
	"github.com/spigell/jobpipe/internal/review"
	"github.com/spigell/jobpipe/internal/scoring"
	"github.com/spigell/jobpipe/internal/store"
	"github.com/spigell/jobpipe/internal/utils"
)

const (
	runStatusFinished = "finished"
	runStatusFailed   = "failed"

	defaultDiscoveryTimeout = 2 * time.Minute
	defaultDraftTimeout     = 30 * time.Second
	defaultBatchSize        = 20
)

// ErrNoSources is returned when every discovery source failed.
var ErrNoSources = errors.New("every discovery source failed")

// Deps are the collaborators of a run. Executor and Approvals are only
// needed for autonomous execution.
type Deps struct {
	Store     *store.Store
	Sources   []connectors.Source
	Deduper   *filtering.Deduper
	Scorer    *scoring.Scorer
	Drafts    ai.DraftGenerator
	Review    *review.Queue
	Executor  *execution.Executor
	Approvals *approval.Manager
}

type Options struct {
	Workers          int
	DiscoveryTimeout time.Duration
	DraftTimeout     time.Duration
	BatchSize        int
	// AutoAction is executed when the approval read at run start is armed.
	AutoAction      domain.Action
	MetricsTextfile string
	Now             func() time.Time
}

// Report summarizes one run.
type Report struct {
	RunID          string
	ProfileVersion int
	Discovered     int
	SourceErrors   map[string]string
	Filtered       map[string]filtering.Step
	Stored         int
	DraftFailures  int
	Batch          *domain.ReviewBatch
	Execution      *execution.Result
}

type Pipeline struct {
	deps   Deps
	opts   Options
	newID  func() string
	logger *zap.Logger
}

func New(deps Deps, opts Options, log *zap.Logger) (*Pipeline, error) {
	switch {
	case deps.Store == nil:
		return nil, errors.New("pipeline needs a store")
	case len(deps.Sources) == 0:
		return nil, fmt.Errorf("%w: no discovery sources configured", domain.ErrValidation)
	case deps.Deduper == nil || deps.Scorer == nil || deps.Drafts == nil || deps.Review == nil:
		return nil, errors.New("pipeline needs a deduper, a scorer, a draft generator and a review queue")
	case opts.AutoAction != "" && (deps.Executor == nil || deps.Approvals == nil):
		return nil, errors.New("autonomous execution needs an executor and an approval manager")
	}

	if opts.Workers <= 0 {
		opts.Workers = 1
	}
	if opts.DiscoveryTimeout <= 0 {
		opts.DiscoveryTimeout = defaultDiscoveryTimeout
	}
	if opts.DraftTimeout <= 0 {
		opts.DraftTimeout = defaultDraftTimeout
	}
	if opts.BatchSize <= 0 {
		opts.BatchSize = defaultBatchSize
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}

	return &Pipeline{deps: deps, opts: opts, newID: uuid.NewString, logger: logger.WithFields(log)}, nil
}

// Run executes one daily run. Every stored posting is its own checkpoint, so
// a cancelled run can simply be started again.
func (p *Pipeline) Run(ctx context.Context) (report Report, err error) {
	start := p.opts.Now()
	report = Report{RunID: p.newID(), SourceErrors: make(map[string]string)}
	log := p.logger.With(zap.String(logger.FieldRun, report.RunID))

	// Read once: a re-arm during the run applies to the next one.
	var armed domain.ApprovalRecord
	if p.opts.AutoAction != "" {
		if armed, err = p.deps.Approvals.Current(ctx); err != nil {
			return report, fmt.Errorf("reading approval: %w", err)
		}
	}

	profile, err := p.deps.Store.LatestProfile(ctx)
	if err != nil {
		return report, err
	}
	if missing := profile.Missing(); len(missing) > 0 {
		return report, &domain.ProfileIncompleteError{Missing: missing}
	}
	report.ProfileVersion = profile.Version

	if err := p.deps.Store.StartRun(ctx, report.RunID, start); err != nil {
		return report, err
	}
	log.Info("starting the run", zap.Int("profile_version", profile.Version), zap.Int("sources", len(p.deps.Sources)))

	defer func() {
		end := p.opts.Now()
		sum := store.RunSummary{
			ID:         report.RunID,
			Status:     runStatusFinished,
			Discovered: report.Discovered,
			Stored:     report.Stored,
		}
		if report.Batch != nil {
			sum.BatchID = report.Batch.ID
		}
		if err != nil {
			sum.Status = runStatusFailed
			sum.Error = err.Error()
		}
		if ferr := p.deps.Store.FinishRun(context.WithoutCancel(ctx), sum, end); ferr != nil {
			log.Error("recording run result", zap.Error(ferr))
		}

		metrics.RunFinished(start, end)
		if werr := metrics.WriteTextfile(p.opts.MetricsTextfile); werr != nil {
			log.Warn("writing metrics textfile", zap.Error(werr))
		}
		log.Info("run finished", zap.String("status", sum.Status), zap.Duration("took", end.Sub(start)))
	}()

	raws, err := p.discover(ctx, log, &report)
	if err != nil {
		return report, err
	}

	postings := filtering.Fingerprint(raws)
	report.Discovered = len(postings)
	if err := p.deps.Store.InsertSightings(ctx, report.RunID, postings, p.opts.Now()); err != nil {
		return report, err
	}

	fresh, steps, err := p.deps.Deduper.FilterPostings(ctx, postings)
	if err != nil {
		return report, fmt.Errorf("deduplicating: %w", err)
	}
	report.Filtered = steps
	for name, step := range steps {
		metrics.Filtered(name, step.Dropped)
	}

	results, err := p.score(ctx, fresh, profile)
	if err != nil {
		return report, err
	}

	stored, err := p.checkpoint(ctx, log, fresh, results)
	report.Stored = len(stored)
	if err != nil {
		return report, err
	}

	pending, err := p.undrafted(ctx, stored)
	if err != nil {
		return report, err
	}
	report.DraftFailures, err = p.draft(ctx, log, pending, profile)
	if err != nil {
		return report, err
	}

	batch, err := p.deps.Review.NextBatch(ctx, p.opts.BatchSize)
	switch {
	case errors.Is(err, domain.ErrEmptyBatch):
		log.Info("nothing waits for review")
		return report, nil
	case err != nil:
		return report, fmt.Errorf("creating review batch: %w", err)
	}
	report.Batch = &batch
	log.Info("review batch created", zap.String(logger.FieldBatch, batch.ID), zap.Int("postings", len(batch.Fingerprints)))

	if p.opts.AutoAction == "" || !armed.Armed() {
		return report, nil
	}

	res, err := p.autoExecute(ctx, log, armed, report.RunID, batch)
	if err != nil {
		return report, err
	}
	report.Execution = res
	return report, nil
}

func (p *Pipeline) discover(ctx context.Context, log *zap.Logger, report *Report) ([]domain.RawPosting, error) {
	found := make([][]domain.RawPosting, len(p.deps.Sources))
	failed := make([]error, len(p.deps.Sources))

	var g errgroup.Group
	for i, src := range p.deps.Sources {
		g.Go(func() error {
			sctx, cancel := utils.WithTimeout(ctx, p.opts.DiscoveryTimeout)
			defer cancel()

			raws, err := src.Discover(sctx)
			if err != nil {
				failed[i] = &domain.CapabilityError{Capability: src.Name(), Op: "discover", Err: err}
				return nil
			}
			found[i] = raws
			return nil
		})
	}
	_ = g.Wait()

	var all []domain.RawPosting
	for i, src := range p.deps.Sources {
		if failed[i] != nil {
			report.SourceErrors[src.Name()] = failed[i].Error()
			metrics.SourceFailed(src.Name())
			log.Warn("source failed", zap.String(logger.FieldSource, src.Name()), zap.Error(failed[i]))
			continue
		}
		metrics.Discovered(src.Name(), len(found[i]))
		log.Info("postings discovered", zap.String(logger.FieldSource, src.Name()), zap.Int("count", len(found[i])))
		all = append(all, found[i]...)
	}

	if len(report.SourceErrors) == len(p.deps.Sources) {
		return nil, ErrNoSources
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return all, nil
}

// score runs the scorer in parallel; results keep the input order.
func (p *Pipeline) score(ctx context.Context, postings []domain.Posting, profile domain.Profile) ([]scoring.Result, error) {
	results := make([]scoring.Result, len(postings))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(p.opts.Workers)
	for i, posting := range postings {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			res, err := p.deps.Scorer.Score(posting, profile)
			if err != nil {
				return fmt.Errorf("scoring %s: %w", posting.Fingerprint, err)
			}
			results[i] = res
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return results, nil
}

// checkpoint stores every posting with its score in its own transaction and
// returns the postings written by this run.
func (p *Pipeline) checkpoint(ctx context.Context, log *zap.Logger, postings []domain.Posting, results []scoring.Result) ([]domain.Posting, error) {
	stored := make([]domain.Posting, 0, len(postings))
	for i, posting := range postings {
		if err := ctx.Err(); err != nil {
			return stored, err
		}

		now := p.opts.Now()
		var inserted bool
		err := p.deps.Store.WithTx(ctx, func(tx *store.Tx) error {
			ok, err := tx.InsertPosting(ctx, posting, now)
			if err != nil || !ok {
				return err
			}
			inserted = true
			_, err = tx.InsertScore(ctx, posting.Fingerprint, results[i].Score, results[i].Rationale, now)
			return err
		})
		if err != nil {
			return stored, err
		}
		if !inserted {
			continue
		}

		metrics.Scored()
		log.Debug("posting stored",
			append(logger.PostingFields(posting.Fingerprint, posting.Company, posting.Title),
				zap.Float64("score", results[i].Score))...,
		)
		stored = append(stored, posting)
	}
	return stored, nil
}

// undrafted appends to stored the postings of earlier runs that still wait
// for review without usable drafts, such as those checkpointed by a run that
// was cancelled before its draft stage.
func (p *Pipeline) undrafted(ctx context.Context, stored []domain.Posting) ([]domain.Posting, error) {
	eligible, err := p.deps.Store.Eligible(ctx, 0)
	if err != nil {
		return nil, fmt.Errorf("listing postings waiting for review: %w", err)
	}

	fresh := make(map[string]bool, len(stored))
	for _, posting := range stored {
		fresh[posting.Fingerprint] = true
	}
	earlier := make(map[string]domain.Posting)
	var fingerprints []string
	for _, sp := range eligible {
		if fresh[sp.Fingerprint] {
			continue
		}
		earlier[sp.Fingerprint] = sp.Posting
		fingerprints = append(fingerprints, sp.Fingerprint)
	}

	missing, err := p.deps.Store.WithoutDrafts(ctx, fingerprints)
	if err != nil {
		return nil, err
	}
	out := make([]domain.Posting, 0, len(stored)+len(missing))
	out = append(out, stored...)
	for _, fp := range missing {
		out = append(out, earlier[fp])
	}
	return out, nil
}

// draft generates drafts for the given postings. A failed generation is
// recorded on the draft row and counted; it does not fail the run.
func (p *Pipeline) draft(ctx context.Context, log *zap.Logger, postings []domain.Posting, profile domain.Profile) (int, error) {
	drafts := make([]domain.Drafts, len(postings))
	gen := p.deps.Drafts

	var (
		g        errgroup.Group
		mu       sync.Mutex
		failures int
	)
	g.SetLimit(p.opts.Workers)
	for i, posting := range postings {
		g.Go(func() error {
			dctx, cancel := utils.WithTimeout(ctx, p.opts.DraftTimeout)
			defer cancel()

			d, err := gen.Generate(dctx, posting, profile)
			if err != nil {
				cerr := &domain.CapabilityError{Capability: gen.Name(), Op: "generate drafts", Err: err}
				d = domain.Drafts{Generator: gen.Name(), Error: cerr.Error(), CreatedAt: p.opts.Now().UTC()}

				mu.Lock()
				failures++
				mu.Unlock()
				metrics.DraftFailed(gen.Name())
				log.Warn("drafts failed", append(logger.PostingFields(posting.Fingerprint, posting.Company, posting.Title), zap.Error(cerr))...)
			}
			d.Fingerprint = posting.Fingerprint
			drafts[i] = d
			return nil
		})
	}
	_ = g.Wait()

	for _, d := range drafts {
		if err := p.deps.Store.SaveDrafts(ctx, d); err != nil {
			return failures, err
		}
	}
	return failures, nil
}

// autoExecute approves and executes batch under the policy approval. The
// approval is consumed before anything is executed; losing that race skips
// execution and leaves the batch for human review.
func (p *Pipeline) autoExecute(ctx context.Context, log *zap.Logger, rec domain.ApprovalRecord, runID string, batch domain.ReviewBatch) (*execution.Result, error) {
	err := p.deps.Approvals.Consume(ctx, rec, "run "+runID)
	if errors.Is(err, domain.ErrConflict) {
		log.Warn("approval was consumed elsewhere, leaving the batch for review", zap.Int64("version", rec.Version))
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("consuming approval: %w", err)
	}

	decidedBy := fmt.Sprintf("%s (policy approval v%d)", rec.ArmedBy, rec.Version)
	for _, fp := range batch.Fingerprints {
		_, err := p.deps.Review.Decide(ctx, review.DecideRequest{
			BatchID:     batch.ID,
			Fingerprint: fp,
			Kind:        domain.DecisionApprove,
			Note:        "autonomous execution in run " + runID,
			DecidedBy:   decidedBy,
		})
		if err != nil {
			return nil, fmt.Errorf("auto-approving %s: %w", fp, err)
		}
	}
	if _, err := p.deps.Review.CloseBatch(ctx, batch.ID); err != nil {
		return nil, err
	}

	plan, err := p.deps.Executor.PlanFromBatch(ctx, batch.ID, p.opts.AutoAction)
	if err != nil {
		return nil, err
	}
	res, err := p.deps.Executor.RunPlan(ctx, plan.ID)
	if err != nil {
		return nil, err
	}
	log.Info("batch executed autonomously",
		append(logger.PlanFields(plan.ID, string(plan.Action)), zap.String("status", string(res.Plan.Status)))...)
	return &res, nil
}
