// Package approval manages the switch that lets a daily run execute without
// a human review step. The switch is versioned and single-use: the first run
// that executes under it consumes it, and it has to be armed again.
package approval

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/spigell/jobpipe/internal/domain"
	"github.com/spigell/jobpipe/internal/logger"
)

type Store interface {
	InsertApproval(ctx context.Context, rec domain.ApprovalRecord) (int64, error)
	LatestApproval(ctx context.Context) (domain.ApprovalRecord, error)
	ConsumeApproval(ctx context.Context, version int64, by string, at time.Time) error
}

type Manager struct {
	store  Store
	now    func() time.Time
	logger *zap.Logger
}

func New(s Store, now func() time.Time, log *zap.Logger) *Manager {
	if now == nil {
		now = time.Now
	}
	return &Manager{store: s, now: now, logger: logger.WithFields(log)}
}

// Arm writes a new approval version. written must be true: it records that
// the operator gave an explicit written approval for autonomous execution.
func (m *Manager) Arm(ctx context.Context, armedBy string, written bool) (domain.ApprovalRecord, error) {
	armedBy = strings.TrimSpace(armedBy)
	if armedBy == "" {
		return domain.ApprovalRecord{}, fmt.Errorf("%w: armed_by is required", domain.ErrValidation)
	}
	if !written {
		return domain.ApprovalRecord{}, fmt.Errorf("%w: autonomous execution needs a written approval", domain.ErrValidation)
	}
	return m.insert(ctx, domain.ApprovalRecord{
		Model:           domain.ApprovalModelAutoExecute,
		WrittenApproval: true,
		ArmedBy:         armedBy,
		ArmedAt:         m.now().UTC(),
	})
}

// Disarm supersedes any armed version with one that allows nothing.
func (m *Manager) Disarm(ctx context.Context, by string) (domain.ApprovalRecord, error) {
	by = strings.TrimSpace(by)
	if by == "" {
		return domain.ApprovalRecord{}, fmt.Errorf("%w: disarmed_by is required", domain.ErrValidation)
	}
	return m.insert(ctx, domain.ApprovalRecord{
		Model:   domain.ApprovalModelAutoExecute,
		ArmedBy: by,
		ArmedAt: m.now().UTC(),
	})
}

func (m *Manager) insert(ctx context.Context, rec domain.ApprovalRecord) (domain.ApprovalRecord, error) {
	version, err := m.store.InsertApproval(ctx, rec)
	if err != nil {
		return domain.ApprovalRecord{}, err
	}
	rec.Version = version

	m.logger.Info("approval record written",
		zap.Int64("version", rec.Version),
		zap.Bool("armed", rec.Armed()),
		zap.String("by", rec.ArmedBy),
	)
	return rec, nil
}

// Current returns the latest approval version. A zero record means no
// approval was ever written.
func (m *Manager) Current(ctx context.Context) (domain.ApprovalRecord, error) {
	return m.store.LatestApproval(ctx)
}

// Consume spends rec. It fails with domain.ErrConflict if another run
// consumed it first or it was superseded since it was read.
func (m *Manager) Consume(ctx context.Context, rec domain.ApprovalRecord, by string) error {
	if !rec.Armed() {
		return fmt.Errorf("%w: approval v%d is not armed", domain.ErrValidation, rec.Version)
	}
	if err := m.store.ConsumeApproval(ctx, rec.Version, by, m.now().UTC()); err != nil {
		return err
	}
	m.logger.Info("approval consumed", zap.Int64("version", rec.Version), zap.String("by", by))
	return nil
}
