// Package audit is the write path of the execution ledger. Records are only
// ever appended; the store rejects updates and deletes.
package audit

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

type Ledger interface {
	AppendAudit(ctx context.Context, rec domain.AuditRecord) error
	ListAudit(ctx context.Context, f store.AuditFilter) ([]domain.AuditRecord, error)
}

type Log struct {
	ledger Ledger
	now    func() time.Time
	newID  func() string
	logger *zap.Logger
}

func New(ledger Ledger, now func() time.Time, log *zap.Logger) *Log {
	if now == nil {
		now = time.Now
	}
	return &Log{ledger: ledger, now: now, newID: uuid.NewString, logger: logger.WithFields(log)}
}

// Append assigns an id and timestamp and writes rec. The write ignores
// cancellation of ctx so an attempted execution is never left unrecorded.
func (l *Log) Append(ctx context.Context, rec domain.AuditRecord) (domain.AuditRecord, error) {
	if rec.Fingerprint == "" || rec.Action == "" || rec.Outcome == "" {
		return domain.AuditRecord{}, fmt.Errorf("%w: audit record needs fingerprint, action and outcome", domain.ErrValidation)
	}
	if rec.Outcome != domain.OutcomeSuccess && strings.TrimSpace(rec.Reason) == "" {
		return domain.AuditRecord{}, fmt.Errorf("%w: %s audit record needs a reason", domain.ErrValidation, rec.Outcome)
	}

	rec.ID = l.newID()
	rec.Timestamp = l.now().UTC()

	if err := l.ledger.AppendAudit(context.WithoutCancel(ctx), rec); err != nil {
		l.logger.Error("failed to append audit record",
			append(logger.PostingFields(rec.Fingerprint, rec.Company, ""),
				zap.String(logger.FieldAction, string(rec.Action)),
				zap.String("outcome", string(rec.Outcome)),
				zap.Error(err),
			)...,
		)
		return domain.AuditRecord{}, err
	}

	metrics.Execution(string(rec.Action), string(rec.Outcome))
	l.logger.Debug("audit record appended",
		zap.String("record_id", rec.ID),
		zap.String(logger.FieldFingerprint, rec.Fingerprint),
		zap.String("outcome", string(rec.Outcome)),
	)
	return rec, nil
}

func (l *Log) List(ctx context.Context, f store.AuditFilter) ([]domain.AuditRecord, error) {
	return l.ledger.ListAudit(ctx, f)
}
