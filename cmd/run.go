package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/spigell/jobpipe/internal/logger"
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the daily pipeline: discover, dedupe, score, draft and open a review batch",
	RunE: func(cmd *cobra.Command, _ []string) error {
		return run(cmd.Context())
	},
}

func init() {
	rootCmd.AddCommand(runCmd)

	runCmd.Flags().StringP("exclude-file", "e", "", "special file with posting fingerprints to exclude. Default is unset.")
	runCmd.Flags().Int("workers", 0, "parallel scoring and drafting workers (default is pipeline.workers or the CPU count)")

	viper.BindPFlag("exclude-file", runCmd.Flags().Lookup("exclude-file"))
	viper.BindPFlag("pipeline.workers", runCmd.Flags().Lookup("workers"))
}

// run is the main command for the cli.
func run(parent context.Context) error {
	if parent == nil {
		parent = context.Background()
	}
	ctx, stop := signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
	defer stop()

	e := setup(ctx)
	defer e.Close()
	e.runLock()

	e.logger.Info("starting the jobpipe run", zap.Int("sources", len(e.cfg.Sources)))

	p, err := e.pipeline(ctx)
	if err != nil {
		return fmt.Errorf("building the pipeline: %w", err)
	}

	report, err := p.Run(ctx)
	if err != nil {
		return fmt.Errorf("run %s: %w", report.RunID, err)
	}

	fields := []zap.Field{
		zap.String(logger.FieldRun, report.RunID),
		zap.Int("profile_version", report.ProfileVersion),
		zap.Int("discovered", report.Discovered),
		zap.Int("stored", report.Stored),
		zap.Int("draft_failures", report.DraftFailures),
		zap.Any("source_errors", report.SourceErrors),
	}
	if report.Batch != nil {
		fields = append(fields, zap.String(logger.FieldBatch, report.Batch.ID), zap.Int("to_review", len(report.Batch.Fingerprints)))
	}
	if report.Execution != nil {
		fields = append(fields, zap.String(logger.FieldPlan, report.Execution.Plan.ID), zap.String("plan_status", string(report.Execution.Plan.Status)))
	}
	e.logger.Info("run summary", fields...)

	if report.Batch != nil && report.Execution == nil {
		e.logger.Info("next step", zap.String("hint", app+" review --batch "+report.Batch.ID))
	}
	return nil
}
