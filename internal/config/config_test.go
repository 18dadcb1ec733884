package config

import (
	"errors"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/spf13/viper"

	"github.com/spigell/jobpipe/internal/compliance"
	"github.com/spigell/jobpipe/internal/connectors"
	"github.com/spigell/jobpipe/internal/domain"
	"github.com/spigell/jobpipe/internal/followups"
	"github.com/spigell/jobpipe/internal/scoring"
)

const sampleYAML = `
data-dir: /var/lib/jobpipe
sources:
  - name: boards
    kind: fixture
    options:
      seed: north
  - kind: file
    options:
      path: postings.yaml
scoring:
  weights:
    role-family: 40
    geography: 20
    seniority: 20
    compensation: 10
    skills: 10
review:
  batch-size: 5
  reviewer: asha
drafts:
  provider: Gemini
  timeout: 45s
  gemini:
    keyring-account: gemini
compliance:
  window: 12h
  per-company: 1
  per-role-family: 3
  overall: 4
execution:
  sink:
    kind: simulated
    options:
      fail-companies: [Acme]
  rate: 2
  lock:
    backend: redis
    redis-url: redis://localhost:6379/0
pipeline:
  workers: 3
  auto-action: apply
`

func decodeYAML(t *testing.T, doc string) Config {
	t.Helper()

	v := viper.New()
	v.SetConfigType("yaml")
	if err := v.ReadConfig(strings.NewReader(doc)); err != nil {
		t.Fatalf("reading yaml: %v", err)
	}
	cfg, err := Decode(v)
	if err != nil {
		t.Fatalf("decoding: %v", err)
	}
	return cfg
}

func TestDecodeAndNormalize(t *testing.T) {
	t.Parallel()

	cfg, res := NormalizeAndValidate(decodeYAML(t, sampleYAML))
	if !res.OK() {
		t.Fatalf("unexpected errors: %v", res.Errors)
	}

	if cfg.Database != filepath.Join("/var/lib/jobpipe", DefaultDatabase) {
		t.Fatalf("unexpected database path %q", cfg.Database)
	}
	if len(cfg.Sources) != 2 || cfg.Sources[0].Name != "boards" || cfg.Sources[1].Name != connectors.KindFile {
		t.Fatalf("unexpected sources: %+v", cfg.Sources)
	}
	if seed, _ := cfg.Sources[0].Options["seed"].(string); seed != "north" {
		t.Fatalf("expected seed option to survive decoding, got %+v", cfg.Sources[0].Options)
	}
	if cfg.Scoring.Weights.RoleFamily != 40 {
		t.Fatalf("unexpected weights: %+v", cfg.Scoring.Weights)
	}
	if cfg.Drafts.Provider != ProviderGemini || cfg.Drafts.Timeout != 45*time.Second {
		t.Fatalf("unexpected drafts: %+v", cfg.Drafts)
	}
	if cfg.Drafts.Gemini.Model != defaultGeminiModel || cfg.Drafts.Gemini.MaxRetries != defaultGeminiRetries {
		t.Fatalf("expected gemini defaults, got %+v", cfg.Drafts.Gemini)
	}
	want := compliance.Limits{Window: 12 * time.Hour, PerCompany: 1, PerRoleFamily: 3, Overall: 4}
	if cfg.Compliance != want {
		t.Fatalf("expected %+v, got %+v", want, cfg.Compliance)
	}
	if cfg.Execution.Burst != 1 || cfg.Execution.Timeout != defaultExecTimeout {
		t.Fatalf("unexpected execution defaults: %+v", cfg.Execution)
	}
	if cfg.Execution.Lock.TTL != defaultLockTTL || cfg.Execution.Lock.Prefix != defaultLockPrefix {
		t.Fatalf("unexpected lock defaults: %+v", cfg.Execution.Lock)
	}
	if cfg.Pipeline.AutoAction != string(domain.ActionSubmitApplication) {
		t.Fatalf("expected canonical auto action, got %q", cfg.Pipeline.AutoAction)
	}
}

func TestNormalizeDefaults(t *testing.T) {
	t.Parallel()

	in := Config{Sources: []connectors.SourceConfig{{Kind: " Fixture "}}}
	cfg, res := NormalizeAndValidate(in)
	if !res.OK() {
		t.Fatalf("unexpected errors: %v", res.Errors)
	}

	if cfg.DataDir != DefaultDataDir || cfg.Drafts.Provider != ProviderTemplate {
		t.Fatalf("unexpected defaults: %+v", cfg)
	}
	if *cfg.Scoring.Weights != scoring.DefaultWeights() {
		t.Fatalf("expected default weights, got %+v", cfg.Scoring.Weights)
	}
	if cfg.Compliance != compliance.DefaultLimits() {
		t.Fatalf("expected default limits, got %+v", cfg.Compliance)
	}
	if cfg.Sources[0].Name != connectors.KindFixture {
		t.Fatalf("expected source named after its kind, got %q", cfg.Sources[0].Name)
	}
	if cfg.FollowUps.Delay != followups.DefaultDelay {
		t.Fatalf("expected default follow-up delay, got %s", cfg.FollowUps.Delay)
	}
	if cfg.Pipeline.Workers <= 0 || cfg.Review.BatchSize != defaultBatchSize {
		t.Fatalf("unexpected pipeline defaults: %+v %+v", cfg.Pipeline, cfg.Review)
	}
	if len(res.Warnings) == 0 {
		t.Fatalf("expected a warning about the missing reviewer")
	}
	if _, res := NormalizeAndValidate(Config{}); !res.OK() || !strings.Contains(strings.Join(res.Warnings, "\n"), "no sources") {
		t.Fatalf("expected a warning only for missing sources, got %+v", res)
	}
	if in.Sources[0].Name != "" || in.Scoring.Weights != nil {
		t.Fatalf("input was modified: %+v", in)
	}
}

func TestNormalizeAndValidateErrors(t *testing.T) {
	t.Parallel()

	fixture := []connectors.SourceConfig{{Kind: connectors.KindFixture}}
	negative := scoring.Weights{RoleFamily: -1, Skills: 1}

	tests := []struct {
		name string
		cfg  Config
		want string
	}{
		{"unknown kind", Config{Sources: []connectors.SourceConfig{{Kind: "linkedin"}}}, `"linkedin" is unknown`},
		{"file without path", Config{Sources: []connectors.SourceConfig{{Kind: connectors.KindFile}}}, "options.path is required"},
		{"duplicate names", Config{Sources: []connectors.SourceConfig{{Kind: "fixture"}, {Kind: "fixture"}}}, "used twice"},
		{"bad weights", Config{Sources: fixture, Scoring: ScoringConfig{Weights: &negative}}, "scoring.weights"},
		{"unknown provider", Config{Sources: fixture, Drafts: DraftsConfig{Provider: "gpt"}}, `"gpt" is unknown`},
		{"gemini without key", Config{Sources: fixture, Drafts: DraftsConfig{Provider: "gemini"}}, "needs one of api-key"},
		{"negative ceiling", Config{Sources: fixture, Compliance: compliance.Limits{PerCompany: -1}}, "must not be negative"},
		{"unknown sink", Config{Sources: fixture, Execution: ExecutionConfig{Sink: connectors.SinkConfig{Kind: "smtp"}}}, "sink.kind"},
		{"redis without url", Config{Sources: fixture, Execution: ExecutionConfig{Lock: LockConfig{Backend: "redis"}}}, "redis-url is required"},
		{"lock ttl within timeout", Config{Sources: fixture, Execution: ExecutionConfig{Timeout: 30 * time.Second, Lock: LockConfig{Backend: "redis", RedisURL: "redis://localhost:6379/0", TTL: 10 * time.Second}}}, "must be longer than execution.timeout"},
		{"same-day follow-up", Config{Sources: fixture, FollowUps: FollowUpsConfig{Delay: 6 * time.Hour}}, "followups.delay"},
		{"unknown lock", Config{Sources: fixture, Execution: ExecutionConfig{Lock: LockConfig{Backend: "etcd"}}}, `"etcd" is unknown`},
		{"bad auto action", Config{Sources: fixture, Pipeline: PipelineConfig{AutoAction: "call"}}, "pipeline.auto-action"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			_, res := NormalizeAndValidate(tt.cfg)
			if res.OK() {
				t.Fatalf("expected errors")
			}
			if !strings.Contains(strings.Join(res.Errors, "\n"), tt.want) {
				t.Fatalf("expected error containing %q, got %v", tt.want, res.Errors)
			}
			if err := res.Err(); !errors.Is(err, domain.ErrValidation) {
				t.Fatalf("expected validation error, got %v", err)
			}
		})
	}
}
