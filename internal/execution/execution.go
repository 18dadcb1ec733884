// Package execution turns approved postings into real-world actions. Every
// attempt passes the compliance gate and leaves exactly one audit record.
// There are no automatic retries.
package execution

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/spigell/jobpipe/internal/audit"
	"github.com/spigell/jobpipe/internal/compliance"
	"github.com/spigell/jobpipe/internal/connectors"
	"github.com/spigell/jobpipe/internal/domain"
	"github.com/spigell/jobpipe/internal/lock"
	"github.com/spigell/jobpipe/internal/logger"
	"github.com/spigell/jobpipe/internal/store"
	"github.com/spigell/jobpipe/internal/utils"
)

const defaultTimeout = 30 * time.Second

// Outcome is the result of one posting within a plan run.
type Outcome struct {
	Fingerprint string
	Outcome     domain.Outcome
	Reason      string
	ExternalRef string
	RecordID    string
}

type Result struct {
	Plan     domain.ExecutionPlan
	Outcomes []Outcome
	// FollowUps is the number of follow-ups scheduled after the run.
	FollowUps int
}

// FollowUpScheduler plans what comes after the successful executions of a
// finished plan.
type FollowUpScheduler interface {
	ScheduleForPlan(ctx context.Context, plan domain.ExecutionPlan) (int, error)
}

type Options struct {
	Timeout time.Duration
	// Limiter paces calls to the sink. Nil means unpaced.
	Limiter   *rate.Limiter
	Locker    lock.Locker
	FollowUps FollowUpScheduler
	Now       func() time.Time
}

type Executor struct {
	store   *store.Store
	gate    *compliance.Gate
	sink    connectors.Sink
	audit   *audit.Log
	locker    lock.Locker
	limiter   *rate.Limiter
	followUps FollowUpScheduler
	timeout   time.Duration
	now       func() time.Time
	newID     func() string
	logger    *zap.Logger

	// runs serializes plan runs so rate-limit counting and execution are
	// atomic with respect to each other.
	runs sync.Mutex
}

func New(s *store.Store, gate *compliance.Gate, sink connectors.Sink, auditLog *audit.Log, opts Options, log *zap.Logger) *Executor {
	if opts.Timeout <= 0 {
		opts.Timeout = defaultTimeout
	}
	if opts.Locker == nil {
		opts.Locker = lock.NewKeyed()
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Executor{
		store:     s,
		gate:      gate,
		sink:      sink,
		audit:     auditLog,
		locker:    opts.Locker,
		limiter:   opts.Limiter,
		followUps: opts.FollowUps,
		timeout:   opts.Timeout,
		now:       opts.Now,
		newID:     uuid.NewString,
		logger:    logger.WithFields(log),
	}
}

// CreatePlan stores a pending plan. Every posting must have an approve as
// its latest decision, made in a batch that is now closed.
func (e *Executor) CreatePlan(ctx context.Context, action domain.Action, fingerprints []string) (domain.ExecutionPlan, error) {
	if _, err := domain.ParseAction(string(action)); err != nil {
		return domain.ExecutionPlan{}, err
	}
	if len(fingerprints) == 0 {
		return domain.ExecutionPlan{}, fmt.Errorf("%w: plan has no postings", domain.ErrValidation)
	}

	seen := make(map[string]bool, len(fingerprints))
	for _, fp := range fingerprints {
		if seen[fp] {
			return domain.ExecutionPlan{}, fmt.Errorf("%w: %s listed twice", domain.ErrValidation, fp)
		}
		seen[fp] = true
	}

	now := e.now()
	plan := domain.ExecutionPlan{
		ID:           e.newID(),
		Action:       action,
		Status:       domain.PlanPending,
		CreatedAt:    now,
		UpdatedAt:    now,
		Fingerprints: append([]string(nil), fingerprints...),
	}

	err := e.store.WithTx(ctx, func(tx *store.Tx) error {
		for _, fp := range plan.Fingerprints {
			if err := checkApproved(ctx, tx, fp); err != nil {
				return err
			}
		}
		return tx.InsertPlan(ctx, plan)
	})
	if err != nil {
		return domain.ExecutionPlan{}, fmt.Errorf("create plan: %w", err)
	}

	e.logger.Info("execution plan created",
		append(logger.PlanFields(plan.ID, string(action)), zap.Int("count", len(plan.Fingerprints)))...,
	)
	return plan, nil
}

// PlanFromBatch plans action for every approved posting of a closed batch.
func (e *Executor) PlanFromBatch(ctx context.Context, batchID string, action domain.Action) (domain.ExecutionPlan, error) {
	batch, err := e.store.GetBatch(ctx, batchID)
	if err != nil {
		return domain.ExecutionPlan{}, err
	}
	if batch.Status != domain.BatchClosed {
		return domain.ExecutionPlan{}, fmt.Errorf("%w: batch %s is still open", domain.ErrNotApproved, batchID)
	}

	items, err := e.store.BatchItems(ctx, batchID)
	if err != nil {
		return domain.ExecutionPlan{}, err
	}

	var fps []string
	for _, item := range items {
		if item.Status != domain.StatusApproved {
			continue
		}
		d, ok, err := e.store.LatestDecision(ctx, item.Fingerprint)
		if err != nil {
			return domain.ExecutionPlan{}, err
		}
		if ok && d.BatchID == batchID {
			fps = append(fps, item.Fingerprint)
		}
	}
	if len(fps) == 0 {
		return domain.ExecutionPlan{}, fmt.Errorf("%w: batch %s has no approved postings", domain.ErrNotApproved, batchID)
	}
	return e.CreatePlan(ctx, action, fps)
}

type approvalReader interface {
	GetScored(ctx context.Context, fingerprint string) (domain.ScoredPosting, error)
	LatestDecision(ctx context.Context, fingerprint string) (domain.Decision, bool, error)
	GetBatch(ctx context.Context, id string) (domain.ReviewBatch, error)
}

func checkApproved(ctx context.Context, r approvalReader, fp string) error {
	sp, err := r.GetScored(ctx, fp)
	if err != nil {
		return err
	}
	d, ok, err := r.LatestDecision(ctx, fp)
	if err != nil {
		return err
	}
	if !ok || d.Kind != domain.DecisionApprove || sp.Status != domain.StatusApproved {
		return fmt.Errorf("%w: %s", domain.ErrNotApproved, fp)
	}
	batch, err := r.GetBatch(ctx, d.BatchID)
	if err != nil {
		return err
	}
	if batch.Status != domain.BatchClosed {
		return fmt.Errorf("%w: %s is in open batch %s", domain.ErrNotApproved, fp, batch.ID)
	}
	return nil
}

// RunPlan runs a pending plan: one compliance check, then one audit record
// per posting in plan order, then the final plan status.
func (e *Executor) RunPlan(ctx context.Context, planID string) (Result, error) {
	e.runs.Lock()
	defer e.runs.Unlock()

	plan, err := e.store.GetPlan(ctx, planID)
	if err != nil {
		return Result{}, err
	}
	if plan.Status != domain.PlanPending {
		return Result{}, fmt.Errorf("%w: %s is %s", domain.ErrPlanNotPending, plan.ID, plan.Status)
	}

	log := logger.WithFields(e.logger, logger.PlanFields(plan.ID, string(plan.Action))...)

	report, err := e.gate.Check(ctx, plan)
	if err != nil {
		return Result{}, fmt.Errorf("compliance check: %w", err)
	}

	next := domain.PlanPassedCompliance
	if report.AllBlocked() {
		next = domain.PlanBlocked
	}
	if err := e.setStatus(ctx, &plan, domain.PlanPending, next); err != nil {
		return Result{}, err
	}
	log.Info("compliance check finished",
		zap.Int("allowed", len(report.Allowed())),
		zap.Int("total", len(report.Verdicts)),
	)

	result := Result{Outcomes: make([]Outcome, 0, len(report.Verdicts))}
	for _, v := range report.Verdicts {
		var out Outcome
		if v.Allowed {
			out, err = e.Execute(ctx, plan, v.Fingerprint)
		} else {
			out, err = e.record(ctx, plan, v.Fingerprint, domain.OutcomeBlocked, strings.Join(v.Reasons, "; "), "")
		}
		if err != nil {
			return Result{}, err
		}
		result.Outcomes = append(result.Outcomes, out)
	}

	if next == domain.PlanPassedCompliance {
		final := domain.PlanExecuted
		for _, out := range result.Outcomes {
			if out.Outcome != domain.OutcomeSuccess {
				final = domain.PlanPartiallyExecuted
				break
			}
		}
		if err := e.setStatus(context.WithoutCancel(ctx), &plan, domain.PlanPassedCompliance, final); err != nil {
			return Result{}, err
		}
	}

	// The executions already happened; a scheduling failure must not hide
	// them. `jobpipe followups schedule` can be run again for the plan.
	if e.followUps != nil && next == domain.PlanPassedCompliance {
		n, err := e.followUps.ScheduleForPlan(context.WithoutCancel(ctx), plan)
		if err != nil {
			log.Error("scheduling follow-ups", zap.Error(err))
		}
		result.FollowUps = n
	}

	log.Info("execution plan finished", zap.String("status", string(plan.Status)), zap.Int("followups", result.FollowUps))
	result.Plan = plan
	return result, nil
}

// Execute performs the plan action for one posting. It holds the posting
// lock for the whole attempt and re-checks that the action has not already
// succeeded. The returned error is only set when the audit record could not
// be written; sink failures are reported as a failed outcome.
func (e *Executor) Execute(ctx context.Context, plan domain.ExecutionPlan, fingerprint string) (Outcome, error) {
	unlock, err := e.locker.Lock(ctx, fingerprint)
	if err != nil {
		return e.record(ctx, plan, fingerprint, domain.OutcomeFailed, fmt.Sprintf("acquiring posting lock: %v", err), "")
	}
	defer unlock()

	done, err := e.store.HasSuccessfulExecution(ctx, fingerprint, plan.Action)
	if err != nil {
		return e.record(ctx, plan, fingerprint, domain.OutcomeFailed, fmt.Sprintf("checking execution history: %v", err), "")
	}
	if done {
		return e.record(ctx, plan, fingerprint, domain.OutcomeBlocked, fmt.Sprintf("%s already succeeded for this posting", plan.Action), "")
	}

	posting, err := e.store.GetPosting(ctx, fingerprint)
	if err != nil {
		return e.record(ctx, plan, fingerprint, domain.OutcomeFailed, err.Error(), "")
	}

	if e.limiter != nil {
		if err := e.limiter.Wait(ctx); err != nil {
			return e.record(ctx, plan, fingerprint, domain.OutcomeFailed, fmt.Sprintf("waiting for rate limiter: %v", err), "")
		}
	}

	callCtx, cancel := utils.WithTimeout(ctx, e.timeout)
	ref, err := e.sink.Execute(callCtx, plan.Action, posting)
	cancel()
	if err != nil {
		capErr := &domain.CapabilityError{Capability: e.sink.Name(), Op: string(plan.Action), Err: err}
		return e.record(ctx, plan, fingerprint, domain.OutcomeFailed, capErr.Error(), "")
	}

	return e.record(ctx, plan, fingerprint, domain.OutcomeSuccess, "", ref)
}

func (e *Executor) record(ctx context.Context, plan domain.ExecutionPlan, fp string, outcome domain.Outcome, reason, ref string) (Outcome, error) {
	rec := domain.AuditRecord{
		Fingerprint: fp,
		PlanID:      plan.ID,
		Action:      plan.Action,
		Outcome:     outcome,
		Reason:      reason,
		ExternalRef: ref,
	}
	if p, err := e.store.GetPosting(context.WithoutCancel(ctx), fp); err == nil {
		rec.Company = p.Company
		rec.RoleFamily = p.RoleFamily
	}

	rec, err := e.audit.Append(ctx, rec)
	if err != nil {
		return Outcome{}, fmt.Errorf("recording %s outcome for %s: %w", outcome, fp, err)
	}

	fields := append(logger.PostingFields(fp, rec.Company, ""),
		zap.String(logger.FieldPlan, plan.ID),
		zap.String("outcome", string(outcome)),
	)
	switch outcome {
	case domain.OutcomeSuccess:
		e.logger.Info("execution succeeded", append(fields, zap.String("external_ref", ref))...)
	default:
		e.logger.Warn("execution did not proceed", append(fields, zap.String("reason", reason))...)
	}

	return Outcome{Fingerprint: fp, Outcome: outcome, Reason: reason, ExternalRef: ref, RecordID: rec.ID}, nil
}

func (e *Executor) setStatus(ctx context.Context, plan *domain.ExecutionPlan, from, to domain.PlanStatus) error {
	now := e.now()
	if err := e.store.UpdatePlanStatus(ctx, plan.ID, from, to, now); err != nil {
		if errors.Is(err, domain.ErrConflict) {
			return fmt.Errorf("%w: %s", domain.ErrPlanNotPending, plan.ID)
		}
		return err
	}
	plan.Status = to
	plan.UpdatedAt = now
	return nil
}
