package filtering

import (
	"context"
	"errors"
	"fmt"
	"strconv"

	"go.uber.org/zap"

	"github.com/spigell/jobpipe/internal/domain"
	"github.com/spigell/jobpipe/internal/logger"
)

// KnownPostings reports which fingerprints are already stored.
type KnownPostings interface {
	KnownFingerprints(ctx context.Context, fingerprints []string) (map[string]bool, error)
}

type seenPostingsFilter struct {
	toggle
	known  KnownPostings
	logger *zap.Logger
}

// NewSeenPostings creates a filter that removes postings already present in
// the posting store, whatever their review status.
func NewSeenPostings(known KnownPostings, log *zap.Logger) Filter {
	return &seenPostingsFilter{known: known, logger: logger.WithFields(log)}
}

func (f *seenPostingsFilter) Name() string { return "seen_postings" }

func (f *seenPostingsFilter) Validate() error {
	if f.known == nil {
		return errors.New("posting store is required")
	}
	return nil
}

func (f *seenPostingsFilter) Apply(ctx context.Context, postings []domain.Posting) ([]domain.Posting, Step, error) {
	fps := make([]string, 0, len(postings))
	for _, p := range postings {
		fps = append(fps, p.Fingerprint)
	}

	known, err := f.known.KnownFingerprints(ctx, fps)
	if err != nil {
		return nil, Step{}, fmt.Errorf("looking up stored postings: %w", err)
	}

	kept, dropped := keep(postings, func(p domain.Posting) bool { return known[p.Fingerprint] })
	if len(dropped) > 0 {
		f.logger.Debug("excluding already stored postings",
			zap.Strings("fingerprints", dropped),
			zap.Int("postings_left", len(kept)),
		)
	}

	return kept, Step{Initial: len(postings), Dropped: len(dropped), Left: len(kept)}, nil
}

func (f *seenPostingsFilter) Status() Status {
	return Status{
		Name:    f.Name(),
		Enabled: f.IsEnabled(),
		Reason:  f.reason,
		Details: map[string]string{"store_configured": strconv.FormatBool(f.known != nil)},
	}
}
