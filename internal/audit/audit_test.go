package audit

import (
	"context"
	"errors"
	"testing"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/spigell/jobpipe/internal/domain"
	"github.com/spigell/jobpipe/internal/store"
)

type memLedger struct {
	records []domain.AuditRecord
	err     error
}

func (m *memLedger) AppendAudit(ctx context.Context, rec domain.AuditRecord) error {
	if ctx.Err() != nil {
		return ctx.Err()
	}
	if m.err != nil {
		return m.err
	}
	m.records = append(m.records, rec)
	return nil
}

func (m *memLedger) ListAudit(_ context.Context, f store.AuditFilter) ([]domain.AuditRecord, error) {
	var out []domain.AuditRecord
	for _, r := range m.records {
		if f.Outcome == "" || r.Outcome == f.Outcome {
			out = append(out, r)
		}
	}
	return out, nil
}

func TestAppendFillsIdentity(t *testing.T) {
	t.Parallel()

	at := time.Date(2026, 6, 1, 8, 0, 0, 0, time.FixedZone("IST", 5*3600+1800))
	ledger := &memLedger{}
	log := New(ledger, func() time.Time { return at }, nil)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	rec, err := log.Append(ctx, domain.AuditRecord{
		Fingerprint: "fp",
		Action:      domain.ActionSubmitApplication,
		Outcome:     domain.OutcomeFailed,
		Reason:      "sink timed out",
	})
	if err != nil {
		t.Fatalf("expected append to survive cancellation, got %v", err)
	}
	if rec.ID == "" {
		t.Fatalf("expected record id")
	}
	if !rec.Timestamp.Equal(at) || rec.Timestamp.Location() != time.UTC {
		t.Fatalf("expected UTC timestamp, got %s", rec.Timestamp)
	}

	got, _ := log.List(context.Background(), store.AuditFilter{Outcome: domain.OutcomeFailed})
	if len(got) != 1 {
		t.Fatalf("expected 1 record, got %d", len(got))
	}
}

func TestAppendValidation(t *testing.T) {
	t.Parallel()

	log := New(&memLedger{}, nil, nil)
	tests := []struct {
		name string
		rec  domain.AuditRecord
	}{
		{"no fingerprint", domain.AuditRecord{Action: domain.ActionSendOutreach, Outcome: domain.OutcomeSuccess}},
		{"blocked without reason", domain.AuditRecord{Fingerprint: "fp", Action: domain.ActionSendOutreach, Outcome: domain.OutcomeBlocked}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			if _, err := log.Append(context.Background(), tt.rec); !errors.Is(err, domain.ErrValidation) {
				t.Fatalf("expected validation error, got %v", err)
			}
		})
	}
}

func TestAppendLogsStoreFailure(t *testing.T) {
	t.Parallel()

	core, observed := observer.New(zapcore.InfoLevel)
	boom := errors.New("disk full")
	log := New(&memLedger{err: boom}, nil, zap.New(core))

	_, err := log.Append(context.Background(), domain.AuditRecord{Fingerprint: "fp", Action: domain.ActionSendOutreach, Outcome: domain.OutcomeSuccess})
	if !errors.Is(err, boom) {
		t.Fatalf("expected store error, got %v", err)
	}
	if observed.FilterMessage("failed to append audit record").Len() != 1 {
		t.Fatalf("expected error log entry")
	}
}
