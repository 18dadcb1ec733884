package config

import (
	"fmt"
	"path/filepath"
	"runtime"
	"strings"
	"time"

	"github.com/spigell/jobpipe/internal/compliance"
	"github.com/spigell/jobpipe/internal/connectors"
	"github.com/spigell/jobpipe/internal/domain"
	"github.com/spigell/jobpipe/internal/followups"
	"github.com/spigell/jobpipe/internal/scoring"
)

const (
	defaultBatchSize        = 20
	defaultDraftTimeout     = 30 * time.Second
	defaultExecTimeout      = 30 * time.Second
	defaultDiscoveryTimeout = 2 * time.Minute
	defaultLockTTL          = 2 * time.Minute
	minFollowUpDelay        = 24 * time.Hour
	defaultLockPrefix       = "jobpipe:fp"
	defaultGeminiModel      = "gemini-2.5-flash"
	defaultGeminiRetries    = 3
)

type Validation struct {
	Errors   []string `json:"errors"`
	Warnings []string `json:"warnings"`
}

func (v *Validation) addErr(format string, args ...any) {
	v.Errors = append(v.Errors, fmt.Sprintf(format, args...))
}

func (v *Validation) addWarn(format string, args ...any) {
	v.Warnings = append(v.Warnings, fmt.Sprintf(format, args...))
}

func (v Validation) OK() bool { return len(v.Errors) == 0 }

// Err folds the errors into one validation error, or nil.
func (v Validation) Err() error {
	if v.OK() {
		return nil
	}
	return fmt.Errorf("%w: invalid config: %s", domain.ErrValidation, strings.Join(v.Errors, "; "))
}

// NormalizeAndValidate returns a copy of cfg with defaults filled in, plus
// every problem found. The input is not modified.
func NormalizeAndValidate(cfg Config) (Config, Validation) {
	out := cfg
	var res Validation

	out.DataDir = strings.TrimSpace(out.DataDir)
	if out.DataDir == "" {
		out.DataDir = DefaultDataDir
	}
	out.Database = strings.TrimSpace(out.Database)
	if out.Database == "" {
		out.Database = filepath.Join(out.DataDir, DefaultDatabase)
	}
	out.ExcludeFile = strings.TrimSpace(out.ExcludeFile)

	normalizeSources(&out, &res)
	normalizeScoring(&out, &res)

	if out.Review.BatchSize <= 0 {
		out.Review.BatchSize = defaultBatchSize
	}
	out.Review.Reviewer = strings.TrimSpace(out.Review.Reviewer)
	if out.Review.Reviewer == "" {
		res.addWarn("review.reviewer is empty; pass --reviewer when deciding")
	}

	normalizeDrafts(&out, &res)
	normalizeCompliance(&out, &res)
	normalizeExecution(&out, &res)

	if out.Pipeline.Workers <= 0 {
		out.Pipeline.Workers = runtime.NumCPU()
	}
	if out.Pipeline.DiscoveryTimeout <= 0 {
		out.Pipeline.DiscoveryTimeout = defaultDiscoveryTimeout
	}
	if action := strings.TrimSpace(out.Pipeline.AutoAction); action != "" {
		parsed, err := domain.ParseAction(action)
		if err != nil {
			res.addErr("pipeline.auto-action: %v", err)
		} else {
			out.Pipeline.AutoAction = string(parsed)
		}
	}

	if out.FollowUps.Delay <= 0 {
		out.FollowUps.Delay = followups.DefaultDelay
	}
	if out.FollowUps.Delay < minFollowUpDelay {
		res.addErr("followups.delay (%s) must be at least %s so a follow-up never lands on the outreach day", out.FollowUps.Delay, minFollowUpDelay)
	}

	out.Metrics.Textfile = strings.TrimSpace(out.Metrics.Textfile)

	return out, res
}

func normalizeSources(out *Config, res *Validation) {
	if len(out.Sources) == 0 {
		res.addWarn("no sources configured; run has nothing to discover")
		return
	}

	sources := make([]connectors.SourceConfig, 0, len(out.Sources))
	seen := make(map[string]bool)
	for i, src := range out.Sources {
		src.Kind = strings.ToLower(strings.TrimSpace(src.Kind))
		src.Name = strings.TrimSpace(src.Name)
		if src.Name == "" {
			src.Name = src.Kind
		}

		switch src.Kind {
		case connectors.KindFixture, connectors.KindFile:
		case "":
			res.addErr("sources[%d].kind is required", i)
		default:
			res.addErr("sources[%d].kind %q is unknown", i, src.Kind)
		}

		if src.Kind == connectors.KindFile {
			if path, _ := src.Options["path"].(string); strings.TrimSpace(path) == "" {
				res.addErr("sources[%d].options.path is required for file sources", i)
			}
		}

		if src.Name != "" && seen[src.Name] {
			res.addErr("source name %q is used twice", src.Name)
		}
		seen[src.Name] = true
		sources = append(sources, src)
	}
	out.Sources = sources
}

func normalizeScoring(out *Config, res *Validation) {
	if out.Scoring.Weights == nil {
		w := scoring.DefaultWeights()
		out.Scoring.Weights = &w
		return
	}
	w := *out.Scoring.Weights
	if err := w.Validate(); err != nil {
		res.addErr("scoring.weights: %v", err)
	}
	out.Scoring.Weights = &w
}

func normalizeDrafts(out *Config, res *Validation) {
	out.Drafts.Provider = strings.ToLower(strings.TrimSpace(out.Drafts.Provider))
	if out.Drafts.Provider == "" {
		out.Drafts.Provider = ProviderTemplate
	}
	if out.Drafts.Timeout <= 0 {
		out.Drafts.Timeout = defaultDraftTimeout
	}

	switch out.Drafts.Provider {
	case ProviderTemplate:
		return
	case ProviderGemini:
	default:
		res.addErr("drafts.provider %q is unknown (template or gemini)", out.Drafts.Provider)
		return
	}

	g := GeminiConfig{}
	if out.Drafts.Gemini != nil {
		g = *out.Drafts.Gemini
	}
	g.Model = strings.TrimSpace(g.Model)
	if g.Model == "" {
		g.Model = defaultGeminiModel
	}
	if g.MaxRetries <= 0 {
		g.MaxRetries = defaultGeminiRetries
	}
	if strings.TrimSpace(g.APIKey) == "" && strings.TrimSpace(g.APIKeyFile) == "" && strings.TrimSpace(g.KeyringAccount) == "" {
		res.addErr("drafts.gemini needs one of api-key, api-key-file or keyring-account")
	}
	if strings.TrimSpace(g.APIKey) != "" {
		res.addWarn("drafts.gemini.api-key is stored in plain text; prefer api-key-file or keyring-account")
	}
	out.Drafts.Gemini = &g
}

func normalizeCompliance(out *Config, res *Validation) {
	if out.Compliance == (compliance.Limits{}) {
		out.Compliance = compliance.DefaultLimits()
		return
	}

	l := out.Compliance
	if l.Window <= 0 {
		l.Window = compliance.DefaultLimits().Window
	}
	if l.PerCompany < 0 || l.PerRoleFamily < 0 || l.Overall < 0 {
		res.addErr("compliance ceilings must not be negative")
	}
	if l.PerCompany == 0 && l.PerRoleFamily == 0 && l.Overall == 0 {
		res.addWarn("all compliance ceilings are 0; executions are not rate limited")
	}
	out.Compliance = l
}

func normalizeExecution(out *Config, res *Validation) {
	e := &out.Execution
	e.Sink.Kind = strings.ToLower(strings.TrimSpace(e.Sink.Kind))
	if e.Sink.Kind == "" {
		e.Sink.Kind = connectors.KindSimulated
	}
	if e.Sink.Kind != connectors.KindSimulated {
		res.addErr("execution.sink.kind %q is unknown", e.Sink.Kind)
	}
	if e.Timeout <= 0 {
		e.Timeout = defaultExecTimeout
	}
	if e.Rate < 0 {
		res.addErr("execution.rate must not be negative")
	}
	if e.Rate > 0 && e.Burst <= 0 {
		e.Burst = 1
	}

	e.Lock.Backend = strings.ToLower(strings.TrimSpace(e.Lock.Backend))
	if e.Lock.Backend == "" {
		e.Lock.Backend = LockLocal
	}
	if e.Lock.TTL <= 0 {
		e.Lock.TTL = defaultLockTTL
	}
	if strings.TrimSpace(e.Lock.Prefix) == "" {
		e.Lock.Prefix = defaultLockPrefix
	}
	switch e.Lock.Backend {
	case LockLocal:
	case LockRedis:
		if strings.TrimSpace(e.Lock.RedisURL) == "" {
			res.addErr("execution.lock.redis-url is required for the redis backend")
		}
		// The key must outlive a sink call, else a second holder can enter.
		if e.Lock.TTL <= e.Timeout {
			res.addErr("execution.lock.ttl (%s) must be longer than execution.timeout (%s)", e.Lock.TTL, e.Timeout)
		}
	default:
		res.addErr("execution.lock.backend %q is unknown (local or redis)", e.Lock.Backend)
	}
}
