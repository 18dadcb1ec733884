package filtering

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"go.uber.org/zap"

	"github.com/spigell/jobpipe/internal/domain"
	"github.com/spigell/jobpipe/internal/logger"
)

// SuppressionSource lists suppression entries in force at a moment.
type SuppressionSource interface {
	ActiveSuppressions(ctx context.Context, at time.Time) ([]domain.SuppressionEntry, error)
}

type suppressedFilter struct {
	toggle
	source SuppressionSource
	now    func() time.Time
	logger *zap.Logger
}

// NewSuppressed creates a filter that drops postings matching a permanent
// suppression entry. Temporary entries are left to the compliance gate.
func NewSuppressed(source SuppressionSource, now func() time.Time, log *zap.Logger) Filter {
	if now == nil {
		now = time.Now
	}
	return &suppressedFilter{source: source, now: now, logger: logger.WithFields(log)}
}

func (f *suppressedFilter) Name() string { return "suppressed" }

func (f *suppressedFilter) Validate() error {
	if f.source == nil {
		return errors.New("suppression source is required")
	}
	return nil
}

func (f *suppressedFilter) Apply(ctx context.Context, postings []domain.Posting) ([]domain.Posting, Step, error) {
	entries, err := f.source.ActiveSuppressions(ctx, f.now())
	if err != nil {
		return nil, Step{}, fmt.Errorf("loading suppressions: %w", err)
	}

	permanent := entries[:0:0]
	for _, e := range entries {
		if e.Permanent() {
			permanent = append(permanent, e)
		}
	}

	kept, dropped := keep(postings, func(p domain.Posting) bool {
		for _, e := range permanent {
			if e.Matches(p) {
				f.logger.Debug("excluding suppressed posting",
					zap.String(logger.FieldFingerprint, p.Fingerprint),
					zap.String("suppression", e.Describe()),
				)
				return true
			}
		}
		return false
	})

	return kept, Step{Initial: len(postings), Dropped: len(dropped), Left: len(kept)}, nil
}

func (f *suppressedFilter) Status() Status {
	return Status{
		Name:    f.Name(),
		Enabled: f.IsEnabled(),
		Reason:  f.reason,
		Details: map[string]string{"permanent_only": strconv.FormatBool(true)},
	}
}
