package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/spigell/jobpipe/internal/ai"
	"github.com/spigell/jobpipe/internal/ai/gemini"
	"github.com/spigell/jobpipe/internal/approval"
	"github.com/spigell/jobpipe/internal/audit"
	"github.com/spigell/jobpipe/internal/compliance"
	"github.com/spigell/jobpipe/internal/config"
	"github.com/spigell/jobpipe/internal/connectors"
	"github.com/spigell/jobpipe/internal/domain"
	"github.com/spigell/jobpipe/internal/execution"
	"github.com/spigell/jobpipe/internal/filtering"
	"github.com/spigell/jobpipe/internal/followups"
	"github.com/spigell/jobpipe/internal/lock"
	"github.com/spigell/jobpipe/internal/logger"
	"github.com/spigell/jobpipe/internal/pipeline"
	"github.com/spigell/jobpipe/internal/review"
	"github.com/spigell/jobpipe/internal/scoring"
	"github.com/spigell/jobpipe/internal/secrets"
	"github.com/spigell/jobpipe/internal/store"
)

// env is what every command that touches state starts from.
type env struct {
	cfg    config.Config
	logger *zap.Logger
	store  *store.Store
	// closers run in reverse order by Close.
	closers []func() error
}

func newLogger() *zap.Logger {
	l, err := logger.New(logger.Options{
		JSON:    viper.GetBool("json"),
		Debug:   viper.GetBool("debug"),
		Version: version,
	})
	if err != nil {
		log.Fatalf("creating a logger: %s", err)
	}
	return l
}

// setup loads the config and opens the store. Any failure here is fatal.
func setup(ctx context.Context) *env {
	l := newLogger()

	raw, err := config.Decode(viper.GetViper())
	if err != nil {
		l.Fatal("getting a config", zap.Error(err))
	}

	cfg, res := config.NormalizeAndValidate(raw)
	for _, w := range res.Warnings {
		l.Warn("config warning", zap.String("warning", w))
	}
	if err := res.Err(); err != nil {
		l.Fatal("config is invalid", zap.Strings("errors", res.Errors))
	}

	shown := cfg
	if g := shown.Drafts.Gemini; g != nil && g.APIKey != "" {
		masked := *g
		masked.APIKey = "***"
		shown.Drafts.Gemini = &masked
	}
	// do not bother error since there is a valid parseable config
	pretty, _ := json.MarshalIndent(shown, "", "  ")
	l.Debug(fmt.Sprintf("starting with config: \n %s", pretty))

	if err := os.MkdirAll(filepath.Dir(cfg.Database), 0o755); err != nil {
		l.Fatal("creating database directory", zap.Error(err))
	}
	s, err := store.Open(ctx, cfg.Database)
	if err != nil {
		l.Fatal("opening the store", zap.Error(err), zap.String("database", cfg.Database))
	}

	e := &env{cfg: cfg, logger: l, store: s}
	e.closers = append(e.closers, s.Close)
	return e
}

func (e *env) Close() {
	for i := len(e.closers) - 1; i >= 0; i-- {
		if err := e.closers[i](); err != nil {
			e.logger.Warn("closing", zap.Error(err))
		}
	}
	_ = e.logger.Sync()
}

func (e *env) reviewQueue() *review.Queue {
	return review.New(e.store, e.logger)
}

func (e *env) approvals() *approval.Manager {
	return approval.New(e.store, time.Now, e.logger)
}

// reviewer returns the flag value when given, else review.reviewer.
func (e *env) reviewer(flag string) string {
	if by := strings.TrimSpace(flag); by != "" {
		return by
	}
	return e.cfg.Review.Reviewer
}

func (e *env) executor() (*execution.Executor, error) {
	ec := e.cfg.Execution

	sink, err := connectors.NewSink(ec.Sink, e.logger)
	if err != nil {
		return nil, err
	}

	var locker lock.Locker = lock.NewKeyed()
	if ec.Lock.Backend == config.LockRedis {
		rl, err := lock.NewRedis(ec.Lock.RedisURL, ec.Lock.Prefix, ec.Lock.TTL, e.logger)
		if err != nil {
			return nil, err
		}
		e.closers = append(e.closers, rl.Close)
		locker = rl
	}

	var limiter *rate.Limiter
	if ec.Rate > 0 {
		limiter = rate.NewLimiter(rate.Limit(ec.Rate), ec.Burst)
	}

	gate := compliance.New(e.store, e.cfg.Compliance, time.Now, e.logger)
	auditLog := audit.New(e.store, time.Now, e.logger)

	return execution.New(e.store, gate, sink, auditLog, execution.Options{
		Timeout:   ec.Timeout,
		Limiter:   limiter,
		Locker:    locker,
		FollowUps: e.followUps(),
	}, e.logger), nil
}

func (e *env) followUps() *followups.Manager {
	return followups.New(e.store, followups.Options{Delay: e.cfg.FollowUps.Delay}, e.logger)
}

func (e *env) draftGenerator(ctx context.Context) (ai.DraftGenerator, error) {
	if e.cfg.Drafts.Provider != config.ProviderGemini {
		return ai.NewTemplate(time.Now), nil
	}

	g := e.cfg.Drafts.Gemini
	apiKey, err := secrets.Load(secrets.Source{
		Name:           "gemini api key",
		Value:          g.APIKey,
		File:           g.APIKeyFile,
		KeyringAccount: g.KeyringAccount,
	})
	if err != nil {
		return nil, fmt.Errorf("%w (set drafts.gemini.api-key-file or run `%s secret set`)", err, app)
	}

	genLogger := e.logger.With(
		zap.String(logger.FieldProvider, "gemini"),
		zap.String(logger.FieldModel, g.Model),
		zap.Int("ai_retry_attempts", g.MaxRetries),
	)
	generator, err := gemini.NewGenerator(ctx, apiKey, g.Model, g.MaxRetries, genLogger)
	if err != nil {
		return nil, err
	}
	return gemini.NewDrafter(generator, e.logger, g.MaxLogLength), nil
}

func (e *env) pipeline(ctx context.Context) (*pipeline.Pipeline, error) {
	sources := make([]connectors.Source, 0, len(e.cfg.Sources))
	for _, sc := range e.cfg.Sources {
		src, err := connectors.NewSource(sc, time.Now, e.logger)
		if err != nil {
			return nil, err
		}
		sources = append(sources, src)
	}

	scorer, err := scoring.New(*e.cfg.Scoring.Weights)
	if err != nil {
		return nil, err
	}

	drafts, err := e.draftGenerator(ctx)
	if err != nil {
		return nil, err
	}

	deps := pipeline.Deps{
		Store:   e.store,
		Sources: sources,
		Deduper: filtering.NewDeduper(filtering.DefaultSteps(e.store, e.cfg.ExcludeFile, time.Now, e.logger), e.logger),
		Scorer:  scorer,
		Drafts:  drafts,
		Review:  e.reviewQueue(),
	}

	opts := pipeline.Options{
		Workers:          e.cfg.Pipeline.Workers,
		DiscoveryTimeout: e.cfg.Pipeline.DiscoveryTimeout,
		DraftTimeout:     e.cfg.Drafts.Timeout,
		BatchSize:        e.cfg.Review.BatchSize,
		AutoAction:       domain.Action(e.cfg.Pipeline.AutoAction),
		MetricsTextfile:  e.cfg.Metrics.Textfile,
	}
	if opts.AutoAction != "" {
		if deps.Executor, err = e.executor(); err != nil {
			return nil, err
		}
		deps.Approvals = e.approvals()
	}

	return pipeline.New(deps, opts, e.logger)
}

// runLock guards state-changing commands against a concurrent run.
func (e *env) runLock() {
	release, err := pipeline.AcquireRunLock(e.cfg.DataDir)
	if err != nil {
		e.logger.Fatal("acquiring the run lock", zap.Error(err))
	}
	e.closers = append(e.closers, release)
}
