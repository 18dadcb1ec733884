// Package connectors holds the pluggable edges of the pipeline: discovery
// sources that produce raw postings and execution sinks that perform
// applications and outreach. Only offline implementations ship here.
package connectors

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/mitchellh/mapstructure"
	"go.uber.org/zap"

	"github.com/spigell/jobpipe/internal/domain"
)

// Source discovers raw postings.
type Source interface {
	Name() string
	Discover(ctx context.Context) ([]domain.RawPosting, error)
}

// Sink performs an action for a posting and returns an external reference
// (a confirmation id, a message id).
type Sink interface {
	Name() string
	Execute(ctx context.Context, action domain.Action, posting domain.Posting) (string, error)
}

// SourceConfig is one entry of the sources list in the config file. Options
// are kind-specific.
type SourceConfig struct {
	Name    string         `mapstructure:"name"`
	Kind    string         `mapstructure:"kind"`
	Options map[string]any `mapstructure:"options"`
}

// SinkConfig selects the execution sink.
type SinkConfig struct {
	Kind    string         `mapstructure:"kind"`
	Options map[string]any `mapstructure:"options"`
}

const (
	KindFixture   = "fixture"
	KindFile      = "file"
	KindSimulated = "simulated"
)

// NewSource builds a source from its config entry.
func NewSource(cfg SourceConfig, now func() time.Time, log *zap.Logger) (Source, error) {
	name := strings.TrimSpace(cfg.Name)
	if name == "" {
		name = cfg.Kind
	}
	if now == nil {
		now = time.Now
	}

	switch strings.ToLower(strings.TrimSpace(cfg.Kind)) {
	case KindFixture:
		var opts FixtureOptions
		if err := decodeOptions(cfg.Options, &opts); err != nil {
			return nil, fmt.Errorf("source %s: %w", name, err)
		}
		return NewFixture(name, opts, now), nil
	case KindFile:
		var opts FileOptions
		if err := decodeOptions(cfg.Options, &opts); err != nil {
			return nil, fmt.Errorf("source %s: %w", name, err)
		}
		return NewFile(name, opts, now, log)
	}
	return nil, fmt.Errorf("%w: source %s has unknown kind %q", domain.ErrValidation, name, cfg.Kind)
}

// NewSink builds the execution sink.
func NewSink(cfg SinkConfig, log *zap.Logger) (Sink, error) {
	kind := strings.ToLower(strings.TrimSpace(cfg.Kind))
	if kind == "" {
		kind = KindSimulated
	}

	switch kind {
	case KindSimulated:
		var opts SimulatedOptions
		if err := decodeOptions(cfg.Options, &opts); err != nil {
			return nil, fmt.Errorf("sink %s: %w", kind, err)
		}
		return NewSimulated(opts, log), nil
	}
	return nil, fmt.Errorf("%w: unknown sink kind %q", domain.ErrValidation, cfg.Kind)
}

func decodeOptions(input map[string]any, out any) error {
	decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		Result:           out,
		TagName:          "mapstructure",
		ErrorUnused:      true,
		WeaklyTypedInput: true,
		DecodeHook:       mapstructure.StringToTimeDurationHookFunc(),
	})
	if err != nil {
		return err
	}
	if err := decoder.Decode(input); err != nil {
		return fmt.Errorf("%w: decoding options: %v", domain.ErrValidation, err)
	}
	return nil
}
