package connectors

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/spigell/jobpipe/internal/domain"
	"github.com/spigell/jobpipe/internal/logger"
	"github.com/spigell/jobpipe/internal/utils"
)

type SimulatedOptions struct {
	// Latency delays every call; useful to exercise execution timeouts.
	Latency time.Duration `mapstructure:"latency"`
	// FailCompanies lists companies whose executions fail.
	FailCompanies []string `mapstructure:"fail-companies"`
}

// Simulated is an offline sink. It performs nothing outside the process and
// returns a deterministic reference.
type Simulated struct {
	latency time.Duration
	fail    map[string]bool
	logger  *zap.Logger
}

func NewSimulated(opts SimulatedOptions, log *zap.Logger) *Simulated {
	fail := make(map[string]bool, len(opts.FailCompanies))
	for _, c := range opts.FailCompanies {
		fail[domain.Normalize(c)] = true
	}
	return &Simulated{latency: opts.Latency, fail: fail, logger: logger.WithFields(log)}
}

func (s *Simulated) Name() string { return KindSimulated }

func (s *Simulated) Execute(ctx context.Context, action domain.Action, p domain.Posting) (string, error) {
	if err := utils.WaitFor(ctx, s.latency); err != nil {
		return "", err
	}
	if err := ctx.Err(); err != nil {
		return "", err
	}
	if s.fail[domain.Normalize(p.Company)] {
		return "", fmt.Errorf("%s rejected by %s", action, p.Company)
	}

	ref := fmt.Sprintf("sim-%s-%s", short(p.Fingerprint), action)
	s.logger.Info("simulated execution",
		append(logger.PostingFields(p.Fingerprint, p.Company, p.Title),
			zap.String(logger.FieldAction, string(action)),
			zap.String("external_ref", ref),
		)...,
	)
	return ref, nil
}

func short(fp string) string {
	if len(fp) > 12 {
		return fp[:12]
	}
	return fp
}
