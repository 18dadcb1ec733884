package filtering

import (
	"context"

	"github.com/spigell/jobpipe/internal/domain"
)

type duplicatesFilter struct {
	toggle
}

// NewDuplicates creates a filter that keeps only the first posting of every
// fingerprint within one input.
func NewDuplicates() Filter {
	return &duplicatesFilter{}
}

func (f *duplicatesFilter) Name() string { return "duplicates" }

func (f *duplicatesFilter) Validate() error { return nil }

func (f *duplicatesFilter) Apply(_ context.Context, postings []domain.Posting) ([]domain.Posting, Step, error) {
	seen := make(map[string]bool, len(postings))
	kept, dropped := keep(postings, func(p domain.Posting) bool {
		if seen[p.Fingerprint] {
			return true
		}
		seen[p.Fingerprint] = true
		return false
	})
	return kept, Step{Initial: len(postings), Dropped: len(dropped), Left: len(kept)}, nil
}
