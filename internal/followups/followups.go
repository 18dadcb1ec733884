// Package followups tracks what happens after an outreach went out: a
// reminder to chase it when nobody answered, and the replies, interviews and
// offers that came back.
package followups

import (
	"context"
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

// DefaultDelay puts the follow-up on the next day at the earliest.
const DefaultDelay = 31 * time.Hour

type Options struct {
	Delay time.Duration
	Now   func() time.Time
}

type Manager struct {
	store  *store.Store
	delay  time.Duration
	now    func() time.Time
	newID  func() string
	logger *zap.Logger
}

func New(s *store.Store, opts Options, log *zap.Logger) *Manager {
	if opts.Delay <= 0 {
		opts.Delay = DefaultDelay
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Manager{
		store:  s,
		delay:  opts.Delay,
		now:    opts.Now,
		newID:  uuid.NewString,
		logger: logger.WithFields(log),
	}
}

func (m *Manager) Delay() time.Duration { return m.delay }

// ScheduleForPlan adds a follow-up for every successful outreach of plan.
// Postings that already have a pending follow-up, or one from this plan, or
// that already got a response are skipped, so calling it again is harmless.
// It returns the number of follow-ups created.
func (m *Manager) ScheduleForPlan(ctx context.Context, plan domain.ExecutionPlan) (int, error) {
	if plan.Action != domain.ActionSendOutreach {
		return 0, nil
	}

	records, err := m.store.ListAudit(ctx, store.AuditFilter{PlanID: plan.ID, Outcome: domain.OutcomeSuccess})
	if err != nil {
		return 0, fmt.Errorf("listing outreach of plan %s: %w", plan.ID, err)
	}

	now := m.now().UTC()
	var created []domain.FollowUp
	err = m.store.WithTx(ctx, func(tx *store.Tx) error {
		created = created[:0]
		for _, rec := range records {
			answered, err := tx.Responses(ctx, rec.Fingerprint)
			if err != nil {
				return err
			}
			if len(answered) > 0 {
				continue
			}

			f := domain.FollowUp{
				ID:          m.newID(),
				Fingerprint: rec.Fingerprint,
				PlanID:      plan.ID,
				Company:     rec.Company,
				Status:      domain.FollowUpPending,
				DueAt:       now.Add(m.delay),
				CreatedAt:   now,
			}
			ok, err := tx.InsertFollowUp(ctx, f)
			if err != nil {
				return err
			}
			if ok {
				created = append(created, f)
			}
		}
		return nil
	})
	if err != nil {
		return 0, err
	}

	metrics.FollowUpsScheduled(len(created))
	for _, f := range created {
		m.logger.Info("follow-up scheduled",
			append(logger.PostingFields(f.Fingerprint, f.Company, ""),
				zap.String(logger.FieldFollowUp, f.ID),
				zap.String(logger.FieldPlan, f.PlanID),
				zap.Time("due_at", f.DueAt),
			)...,
		)
	}
	return len(created), nil
}

// List returns follow-ups matching f, earliest due first.
func (m *Manager) List(ctx context.Context, f store.FollowUpFilter) ([]domain.FollowUp, error) {
	if f.Status != "" {
		switch f.Status {
		case domain.FollowUpPending, domain.FollowUpDone, domain.FollowUpCancelled:
		default:
			return nil, fmt.Errorf("%w: unknown follow-up status %q", domain.ErrValidation, f.Status)
		}
	}
	return m.store.ListFollowUps(ctx, f)
}

// Due lists pending follow-ups whose time has come.
func (m *Manager) Due(ctx context.Context) ([]domain.FollowUp, error) {
	return m.store.ListFollowUps(ctx, store.FollowUpFilter{Status: domain.FollowUpPending, DueBy: m.now()})
}

// Complete marks a pending follow-up as sent.
func (m *Manager) Complete(ctx context.Context, id string) error {
	return m.close(ctx, id, domain.FollowUpDone)
}

// Cancel drops a pending follow-up without sending it.
func (m *Manager) Cancel(ctx context.Context, id string) error {
	return m.close(ctx, id, domain.FollowUpCancelled)
}

func (m *Manager) close(ctx context.Context, id string, status domain.FollowUpStatus) error {
	id = strings.TrimSpace(id)
	if id == "" {
		return fmt.Errorf("%w: follow-up id is required", domain.ErrValidation)
	}
	if err := m.store.CloseFollowUp(ctx, id, status, m.now().UTC()); err != nil {
		return err
	}
	m.logger.Info("follow-up closed", zap.String(logger.FieldFollowUp, id), zap.String("status", string(status)))
	return nil
}

type ResponseRequest struct {
	Fingerprint string
	Kind        domain.ResponseKind
	Note        string
	RecordedBy  string
}

// RecordResponse stores what a company answered. Only postings with a
// successful execution can get a response. Any pending follow-up of the
// posting is cancelled in the same transaction.
func (m *Manager) RecordResponse(ctx context.Context, req ResponseRequest) (domain.Response, error) {
	kind, err := domain.ParseResponseKind(string(req.Kind))
	if err != nil {
		return domain.Response{}, err
	}
	by := strings.TrimSpace(req.RecordedBy)
	if by == "" {
		return domain.Response{}, fmt.Errorf("%w: recorded_by is required", domain.ErrValidation)
	}

	now := m.now().UTC()
	resp := domain.Response{
		ID:          m.newID(),
		Fingerprint: strings.TrimSpace(req.Fingerprint),
		Kind:        kind,
		Note:        strings.TrimSpace(req.Note),
		RecordedBy:  by,
		RecordedAt:  now,
	}

	var (
		posting   domain.Posting
		cancelled int
	)
	err = m.store.WithTx(ctx, func(tx *store.Tx) error {
		posting, err = tx.GetPosting(ctx, resp.Fingerprint)
		if err != nil {
			return err
		}

		executed := false
		for _, action := range []domain.Action{domain.ActionSubmitApplication, domain.ActionSendOutreach} {
			done, err := tx.HasSuccessfulExecution(ctx, resp.Fingerprint, action)
			if err != nil {
				return err
			}
			executed = executed || done
		}
		if !executed {
			return fmt.Errorf("%w: %s", domain.ErrNotExecuted, resp.Fingerprint)
		}

		if err := tx.InsertResponse(ctx, resp); err != nil {
			return err
		}
		cancelled, err = tx.CancelFollowUps(ctx, resp.Fingerprint, now)
		return err
	})
	if err != nil {
		return domain.Response{}, err
	}

	metrics.Response(string(kind))
	m.logger.Info("response recorded",
		append(logger.PostingFields(posting.Fingerprint, posting.Company, posting.Title),
			zap.String("kind", string(kind)),
			zap.Int("followups_cancelled", cancelled),
		)...,
	)
	return resp, nil
}

// Responses returns the responses recorded for a posting.
func (m *Manager) Responses(ctx context.Context, fingerprint string) ([]domain.Response, error) {
	return m.store.Responses(ctx, fingerprint)
}
