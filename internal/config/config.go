// Package config holds the jobpipe configuration file layout. The file is
// read by viper in cmd and decoded into Config through mapstructure tags.
package config

import (
	"fmt"
	"time"

	"github.com/spf13/viper"

	"github.com/spigell/jobpipe/internal/compliance"
	"github.com/spigell/jobpipe/internal/connectors"
	"github.com/spigell/jobpipe/internal/scoring"
)

const (
	DefaultDataDir  = ".jobpipe"
	DefaultDatabase = "jobpipe.db"

	ProviderTemplate = "template"
	ProviderGemini   = "gemini"

	LockLocal = "local"
	LockRedis = "redis"
)

type Config struct {
	DataDir     string                    `mapstructure:"data-dir"`
	Database    string                    `mapstructure:"database"`
	ExcludeFile string                    `mapstructure:"exclude-file"`
	Sources     []connectors.SourceConfig `mapstructure:"sources"`
	Scoring     ScoringConfig             `mapstructure:"scoring"`
	Review      ReviewConfig              `mapstructure:"review"`
	Drafts      DraftsConfig              `mapstructure:"drafts"`
	Compliance  compliance.Limits         `mapstructure:"compliance"`
	Execution   ExecutionConfig           `mapstructure:"execution"`
	Pipeline    PipelineConfig            `mapstructure:"pipeline"`
	FollowUps   FollowUpsConfig           `mapstructure:"followups"`
	Metrics     MetricsConfig             `mapstructure:"metrics"`
}

type ScoringConfig struct {
	Weights *scoring.Weights `mapstructure:"weights"`
}

type ReviewConfig struct {
	BatchSize int `mapstructure:"batch-size"`
	// Reviewer is recorded on decisions made from the CLI.
	Reviewer string `mapstructure:"reviewer"`
}

type DraftsConfig struct {
	Provider string        `mapstructure:"provider"`
	Timeout  time.Duration `mapstructure:"timeout"`
	Gemini   *GeminiConfig `mapstructure:"gemini"`
}

type GeminiConfig struct {
	APIKey         string `mapstructure:"api-key"`
	APIKeyFile     string `mapstructure:"api-key-file"`
	KeyringAccount string `mapstructure:"keyring-account"`
	Model          string `mapstructure:"model"`
	MaxRetries     int    `mapstructure:"max-retries"`
	MaxLogLength   int    `mapstructure:"max-log-length"`
}

type ExecutionConfig struct {
	Sink    connectors.SinkConfig `mapstructure:"sink"`
	Timeout time.Duration         `mapstructure:"timeout"`
	// Rate is the number of sink calls per second; 0 disables pacing.
	Rate  float64    `mapstructure:"rate"`
	Burst int        `mapstructure:"burst"`
	Lock  LockConfig `mapstructure:"lock"`
}

type LockConfig struct {
	Backend  string        `mapstructure:"backend"`
	RedisURL string        `mapstructure:"redis-url"`
	TTL      time.Duration `mapstructure:"ttl"`
	Prefix   string        `mapstructure:"prefix"`
}

type PipelineConfig struct {
	Workers          int           `mapstructure:"workers"`
	DiscoveryTimeout time.Duration `mapstructure:"discovery-timeout"`
	// AutoAction is executed for the fresh batch when an autonomous
	// execution approval is armed. Empty disables autonomous execution.
	AutoAction string `mapstructure:"auto-action"`
}

type FollowUpsConfig struct {
	// Delay between a successful outreach and its follow-up.
	Delay time.Duration `mapstructure:"delay"`
}

type MetricsConfig struct {
	// Textfile is a node-exporter textfile collector path written after
	// every run.
	Textfile string `mapstructure:"textfile"`
}

// Decode unmarshals the settings held by v. Durations accept Go duration
// strings ("30s", "24h").
func Decode(v *viper.Viper) (Config, error) {
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("decoding config: %w", err)
	}
	return cfg, nil
}
