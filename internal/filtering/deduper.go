package filtering

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/spigell/jobpipe/internal/domain"
	"github.com/spigell/jobpipe/internal/logger"
)

// Deduper fingerprints raw postings and runs them through the filter chain.
// It does not write anything; persisting survivors is up to the caller.
type Deduper struct {
	steps  []Filter
	logger *zap.Logger
}

// Store is what the default chain needs from the posting store.
type Store interface {
	KnownPostings
	SuppressionSource
}

// DefaultSteps returns the standard chain: in-input duplicates, stored
// postings, permanent suppressions and the optional exclude file.
func DefaultSteps(store Store, excludeFile string, now func() time.Time, log *zap.Logger) []Filter {
	return []Filter{
		NewDuplicates(),
		NewSeenPostings(store, log),
		NewSuppressed(store, now, log),
		NewExcludeFile(excludeFile, log),
	}
}

func NewDeduper(steps []Filter, log *zap.Logger) *Deduper {
	return &Deduper{steps: steps, logger: logger.WithFields(log)}
}

// Fingerprint wraps every raw posting, preserving order.
func Fingerprint(raws []domain.RawPosting) []domain.Posting {
	postings := make([]domain.Posting, 0, len(raws))
	for _, raw := range raws {
		postings = append(postings, domain.NewPosting(raw))
	}
	return postings
}

// Filter returns the postings whose fingerprint is new and not permanently
// suppressed, in input order.
func (d *Deduper) Filter(ctx context.Context, raws []domain.RawPosting) ([]domain.Posting, error) {
	left, _, err := d.FilterPostings(ctx, Fingerprint(raws))
	return left, err
}

// FilterPostings is Filter for already fingerprinted postings; it also
// returns per-step statistics.
func (d *Deduper) FilterPostings(ctx context.Context, postings []domain.Posting) ([]domain.Posting, map[string]Step, error) {
	return Run(ctx, d.logger, d.steps, postings)
}

func (d *Deduper) Describe() []Status {
	return Describe(d.steps)
}
