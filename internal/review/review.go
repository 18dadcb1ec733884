// Package review is the human approval state machine.
//
//	pending_review -> approved | rejected | deferred
//	deferred       -> pending_review   (when put into the next batch)
//
// A decision can be revised while its batch is open. Once the batch is
// closed, approved and rejected are terminal.
package review

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/spigell/jobpipe/internal/domain"
	"github.com/spigell/jobpipe/internal/logger"
	"github.com/spigell/jobpipe/internal/metrics"
	"github.com/spigell/jobpipe/internal/store"
)

// Queue persists batches and decisions. Every operation runs in a single
// transaction so that a failed call leaves no partial state.
type Queue struct {
	store  *store.Store
	now    func() time.Time
	newID  func() string
	logger *zap.Logger
}

type Option func(*Queue)

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(q *Queue) { q.now = now }
}

func New(s *store.Store, log *zap.Logger, opts ...Option) *Queue {
	q := &Queue{
		store:  s,
		now:    time.Now,
		newID:  uuid.NewString,
		logger: logger.WithFields(log),
	}
	for _, opt := range opts {
		opt(q)
	}
	return q
}

// CreateBatch opens a batch over the given postings. Deferred candidates go
// back to pending_review. The batch keeps score-descending,
// fingerprint-ascending order whatever the input order.
func (q *Queue) CreateBatch(ctx context.Context, fingerprints []string) (domain.ReviewBatch, error) {
	fps, err := uniqueFingerprints(fingerprints)
	if err != nil {
		return domain.ReviewBatch{}, err
	}

	id := q.newID()
	now := q.now()

	err = q.store.WithTx(ctx, func(tx *store.Tx) error {
		for _, fp := range fps {
			sp, err := tx.GetScored(ctx, fp)
			if err != nil {
				return err
			}

			if batchID, open, err := tx.OpenBatchOf(ctx, fp); err != nil {
				return err
			} else if open {
				return fmt.Errorf("%w: %s is in batch %s", domain.ErrAlreadyQueued, fp, batchID)
			}

			switch sp.Status {
			case domain.StatusPendingReview:
			case domain.StatusDeferred:
				if err := tx.UpdateStatus(ctx, fp, domain.StatusPendingReview, sp.Revision, now); err != nil {
					return err
				}
			default:
				return fmt.Errorf("%w: %s is %s", domain.ErrInvalidTransition, fp, sp.Status)
			}
		}
		return tx.InsertBatch(ctx, id, fps, now)
	})
	if err != nil {
		return domain.ReviewBatch{}, fmt.Errorf("create batch: %w", err)
	}

	batch, err := q.store.GetBatch(ctx, id)
	if err != nil {
		return domain.ReviewBatch{}, err
	}

	q.logger.Info("review batch created", zap.String(logger.FieldBatch, id), zap.Int("count", len(fps)))
	return batch, nil
}

// DecideRequest describes one reviewer decision. Revision is the posting
// revision the reviewer saw; the decision fails with domain.ErrConflict if
// the posting changed since. A zero Revision is accepted only while the
// posting is still pending_review.
type DecideRequest struct {
	BatchID     string
	Fingerprint string
	Kind        domain.DecisionKind
	Note        string
	DecidedBy   string
	Revision    int64
}

// Decide records a decision and moves the posting accordingly. It writes no
// audit record.
func (q *Queue) Decide(ctx context.Context, req DecideRequest) (domain.Decision, error) {
	if _, err := domain.ParseDecisionKind(string(req.Kind)); err != nil {
		return domain.Decision{}, err
	}
	if strings.TrimSpace(req.DecidedBy) == "" {
		return domain.Decision{}, fmt.Errorf("%w: decided_by is required", domain.ErrValidation)
	}

	decision := domain.Decision{
		ID:          q.newID(),
		BatchID:     req.BatchID,
		Fingerprint: req.Fingerprint,
		Kind:        req.Kind,
		Note:        strings.TrimSpace(req.Note),
		DecidedBy:   strings.TrimSpace(req.DecidedBy),
		DecidedAt:   q.now(),
	}

	err := q.store.WithTx(ctx, func(tx *store.Tx) error {
		batch, err := tx.GetBatch(ctx, req.BatchID)
		if err != nil {
			return err
		}
		if batch.Status != domain.BatchOpen {
			return fmt.Errorf("%w: %s", domain.ErrBatchClosed, req.BatchID)
		}

		inBatch, err := tx.BatchHasItem(ctx, req.BatchID, req.Fingerprint)
		if err != nil {
			return err
		}
		if !inBatch {
			return fmt.Errorf("%w: %s is not in batch %s", domain.ErrUnknownPosting, req.Fingerprint, req.BatchID)
		}

		sp, err := tx.GetScored(ctx, req.Fingerprint)
		if err != nil {
			return err
		}

		// Without a revision only a first decision is accepted. Revising one
		// needs the revision it overrides.
		expected := req.Revision
		if expected == 0 {
			if sp.Status != domain.StatusPendingReview {
				return fmt.Errorf("%w: %s is already %s", domain.ErrStaleRevision, req.Fingerprint, sp.Status)
			}
			expected = sp.Revision
		}
		if err := tx.UpdateStatus(ctx, req.Fingerprint, req.Kind.Status(), expected, decision.DecidedAt); err != nil {
			return err
		}
		return tx.InsertDecision(ctx, decision)
	})
	if err != nil {
		return domain.Decision{}, fmt.Errorf("decide: %w", err)
	}

	metrics.Decision(string(decision.Kind))
	q.logger.Info("decision recorded",
		append(logger.PostingFields(decision.Fingerprint, "", ""),
			zap.String(logger.FieldBatch, decision.BatchID),
			zap.String("kind", string(decision.Kind)),
			zap.String("decided_by", decision.DecidedBy),
		)...,
	)
	return decision, nil
}

// DraftEdit replaces draft texts of a posting. A nil field keeps the
// current text.
type DraftEdit struct {
	Fingerprint string
	CVSummary   *string
	CoverLetter *string
	Outreach    *string
	EditedBy    string
}

// EditDrafts changes the drafts of a posting that sits in an open batch.
// Drafts are frozen once the batch is closed. A posting whose generation
// failed gets reviewer-written drafts.
func (q *Queue) EditDrafts(ctx context.Context, edit DraftEdit) (domain.Drafts, error) {
	by := strings.TrimSpace(edit.EditedBy)
	if by == "" {
		return domain.Drafts{}, fmt.Errorf("%w: edited_by is required", domain.ErrValidation)
	}
	if edit.CVSummary == nil && edit.CoverLetter == nil && edit.Outreach == nil {
		return domain.Drafts{}, fmt.Errorf("%w: nothing to edit", domain.ErrValidation)
	}

	now := q.now()
	var (
		drafts  domain.Drafts
		batchID string
	)
	err := q.store.WithTx(ctx, func(tx *store.Tx) error {
		if _, err := tx.GetScored(ctx, edit.Fingerprint); err != nil {
			return err
		}
		id, open, err := tx.OpenBatchOf(ctx, edit.Fingerprint)
		if err != nil {
			return err
		}
		if !open {
			return fmt.Errorf("%w: %s is not in an open batch", domain.ErrBatchClosed, edit.Fingerprint)
		}
		batchID = id

		d, ok, err := tx.GetDrafts(ctx, edit.Fingerprint)
		if err != nil {
			return err
		}
		if !ok || !d.Usable() {
			d = domain.Drafts{Fingerprint: edit.Fingerprint, Generator: "manual", CreatedAt: now}
		}
		if edit.CVSummary != nil {
			d.CVSummary = strings.TrimSpace(*edit.CVSummary)
		}
		if edit.CoverLetter != nil {
			d.CoverLetter = strings.TrimSpace(*edit.CoverLetter)
		}
		if edit.Outreach != nil {
			d.Outreach = strings.TrimSpace(*edit.Outreach)
		}
		if err := tx.EditDrafts(ctx, d, by, now); err != nil {
			return err
		}

		d.EditedBy = by
		d.EditedAt = &now
		drafts = d
		return nil
	})
	if err != nil {
		return domain.Drafts{}, fmt.Errorf("edit drafts: %w", err)
	}

	q.logger.Info("drafts edited",
		append(logger.PostingFields(edit.Fingerprint, "", ""),
			zap.String(logger.FieldBatch, batchID),
			zap.String("edited_by", by),
		)...,
	)
	return drafts, nil
}

// CloseBatch closes the batch. Undecided postings stay pending_review and
// become eligible for the next batch.
func (q *Queue) CloseBatch(ctx context.Context, batchID string) (domain.ReviewBatch, error) {
	err := q.store.WithTx(ctx, func(tx *store.Tx) error {
		if _, err := tx.GetBatch(ctx, batchID); err != nil {
			return err
		}
		return tx.CloseBatch(ctx, batchID, q.now())
	})
	if err != nil {
		return domain.ReviewBatch{}, fmt.Errorf("close batch: %w", err)
	}

	q.logger.Info("review batch closed", zap.String(logger.FieldBatch, batchID))
	return q.store.GetBatch(ctx, batchID)
}

// Items returns the batch postings in review order. Repeated calls on an
// unmodified batch return the same sequence.
func (q *Queue) Items(ctx context.Context, batchID string) ([]domain.ScoredPosting, error) {
	if _, err := q.store.GetBatch(ctx, batchID); err != nil {
		return nil, err
	}
	return q.store.BatchItems(ctx, batchID)
}

func (q *Queue) Batch(ctx context.Context, batchID string) (domain.ReviewBatch, error) {
	return q.store.GetBatch(ctx, batchID)
}

// Eligible lists up to limit postings awaiting review outside any open
// batch, in review order. A non-positive limit means no limit.
func (q *Queue) Eligible(ctx context.Context, limit int) ([]domain.ScoredPosting, error) {
	return q.store.Eligible(ctx, limit)
}

// NextBatch opens a batch over the eligible postings. It returns
// domain.ErrEmptyBatch when nothing waits for review.
func (q *Queue) NextBatch(ctx context.Context, limit int) (domain.ReviewBatch, error) {
	eligible, err := q.Eligible(ctx, limit)
	if err != nil {
		return domain.ReviewBatch{}, err
	}

	fps := make([]string, 0, len(eligible))
	for _, sp := range eligible {
		fps = append(fps, sp.Fingerprint)
	}
	return q.CreateBatch(ctx, fps)
}

// OpenBatches returns the batches that still accept decisions.
func (q *Queue) OpenBatches(ctx context.Context) ([]domain.ReviewBatch, error) {
	all, err := q.store.ListBatches(ctx)
	if err != nil {
		return nil, err
	}
	open := all[:0]
	for _, b := range all {
		if b.Status == domain.BatchOpen {
			open = append(open, b)
		}
	}
	return open, nil
}

func uniqueFingerprints(fingerprints []string) ([]string, error) {
	if len(fingerprints) == 0 {
		return nil, domain.ErrEmptyBatch
	}

	seen := make(map[string]bool, len(fingerprints))
	out := make([]string, 0, len(fingerprints))
	for _, fp := range fingerprints {
		fp = strings.TrimSpace(fp)
		if fp == "" {
			return nil, fmt.Errorf("%w: empty fingerprint", domain.ErrValidation)
		}
		if seen[fp] {
			continue
		}
		seen[fp] = true
		out = append(out, fp)
	}
	return out, nil
}

// IsConflict reports whether err means the caller should reload and retry.
func IsConflict(err error) bool {
	return errors.Is(err, domain.ErrConflict)
}
