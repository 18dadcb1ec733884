package filtering

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/spigell/jobpipe/internal/domain"
	"github.com/spigell/jobpipe/internal/logger"
)

type excludeFileFilter struct {
	toggle
	path   string
	logger *zap.Logger
}

// NewExcludeFile creates a filter that removes postings listed in the
// exclude file. An empty path turns the filter into a pass-through.
func NewExcludeFile(path string, log *zap.Logger) Filter {
	return &excludeFileFilter{path: strings.TrimSpace(path), logger: logger.WithFields(log)}
}

func (f *excludeFileFilter) Name() string { return "exclude_file" }

func (f *excludeFileFilter) Validate() error { return nil }

func (f *excludeFileFilter) Apply(_ context.Context, postings []domain.Posting) ([]domain.Posting, Step, error) {
	initial := len(postings)
	if f.path == "" {
		return postings, Step{Initial: initial, Left: initial}, nil
	}

	excluded, err := ReadExcludeFile(f.path)
	if err != nil {
		return nil, Step{}, fmt.Errorf("getting excluded postings from file: %w", err)
	}

	fps := excluded.Fingerprints()
	kept, dropped := keep(postings, func(p domain.Posting) bool { return fps[p.Fingerprint] })
	if len(dropped) > 0 {
		f.logger.Info("excluding postings based on exclude file",
			zap.String("path", f.path),
			zap.Strings("excluded_postings", dropped),
			zap.Int("postings_left", len(kept)),
		)
	}

	return kept, Step{Initial: initial, Dropped: len(dropped), Left: len(kept)}, nil
}

func (f *excludeFileFilter) Status() Status {
	details := map[string]string{}
	if f.path != "" {
		details["path"] = f.path
	}
	return Status{Name: f.Name(), Enabled: f.IsEnabled(), Reason: f.reason, Details: details}
}
