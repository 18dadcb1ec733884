package cmd

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/spigell/jobpipe/internal/domain"
	"github.com/spigell/jobpipe/internal/profile"
)

var profileCmd = &cobra.Command{
	Use:   "profile",
	Short: "Manage the candidate profile used for scoring and drafts",
}

var profileIngestCmd = &cobra.Command{
	Use:   "ingest <profile.yaml>",
	Short: "Store a new profile version; the next run uses it",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		p, err := profile.Load(args[0])
		if err != nil {
			return err
		}
		if missing := p.Missing(); len(missing) > 0 {
			return &domain.ProfileIncompleteError{Missing: missing}
		}

		e := setup(cmd.Context())
		defer e.Close()

		version, err := e.store.InsertProfile(cmd.Context(), p, time.Now())
		if err != nil {
			return err
		}
		e.logger.Info("profile ingested", zap.Int("version", version), zap.String("name", p.Name))
		fmt.Fprintf(cmd.OutOrStdout(), "profile v%d stored\n", version)
		return nil
	},
}

var profileShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Print the latest profile version",
	RunE: func(cmd *cobra.Command, _ []string) error {
		e := setup(cmd.Context())
		defer e.Close()

		p, err := e.store.LatestProfile(cmd.Context())
		if err != nil {
			return err
		}
		enc := json.NewEncoder(cmd.OutOrStdout())
		enc.SetIndent("", "  ")
		if err := enc.Encode(p); err != nil {
			return err
		}
		if missing := p.Missing(); len(missing) > 0 {
			fmt.Fprintf(cmd.ErrOrStderr(), "warning: profile misses %s; runs will fail\n", strings.Join(missing, ", "))
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(profileCmd)
	profileCmd.AddCommand(profileIngestCmd, profileShowCmd)
}
