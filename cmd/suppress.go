package cmd

import (
	"fmt"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/spigell/jobpipe/internal/domain"
)

var suppressCmd = &cobra.Command{
	Use:   "suppress",
	Short: "Manage the suppression list (companies, domains and contacts never to contact)",
}

var suppressAddCmd = &cobra.Command{
	Use:   "add company|domain|contact <value>",
	Short: "Suppress a company, domain or contact, permanently or for --for",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		reason, _ := cmd.Flags().GetString("reason")
		ttl, _ := cmd.Flags().GetDuration("for")

		entry, err := newSuppression(args[0], args[1], reason, ttl, time.Now())
		if err != nil {
			return err
		}

		e := setup(cmd.Context())
		defer e.Close()

		if err := e.store.InsertSuppression(cmd.Context(), entry); err != nil {
			return err
		}
		e.logger.Info("suppression added",
			zap.String("scope", string(entry.Scope)),
			zap.String("value", entry.Value),
			zap.Bool("permanent", entry.Permanent()),
		)
		fmt.Fprintln(cmd.OutOrStdout(), entry.Describe())
		return nil
	},
}

var suppressListCmd = &cobra.Command{
	Use:   "list",
	Short: "List suppression entries",
	RunE: func(cmd *cobra.Command, _ []string) error {
		all, _ := cmd.Flags().GetBool("all")

		e := setup(cmd.Context())
		defer e.Close()

		var (
			entries []domain.SuppressionEntry
			err     error
		)
		if all {
			entries, err = e.store.ListSuppressions(cmd.Context())
		} else {
			entries, err = e.store.ActiveSuppressions(cmd.Context(), time.Now())
		}
		if err != nil {
			return err
		}

		w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "SCOPE\tVALUE\tEXPIRES\tREASON")
		for _, s := range entries {
			expires := "never"
			if s.ExpiresAt != nil {
				expires = s.ExpiresAt.Local().Format(time.RFC3339)
			}
			fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", s.Scope, s.Value, expires, s.Reason)
		}
		return w.Flush()
	},
}

func init() {
	rootCmd.AddCommand(suppressCmd)
	suppressCmd.AddCommand(suppressAddCmd, suppressListCmd)

	suppressAddCmd.Flags().String("reason", "", "why the entry exists")
	suppressAddCmd.Flags().Duration("for", 0, "temporary suppression length, e.g. 720h; permanent when unset")
	suppressListCmd.Flags().Bool("all", false, "include expired temporary entries")
}

func newSuppression(scope, value, reason string, ttl time.Duration, now time.Time) (domain.SuppressionEntry, error) {
	sc, err := domain.ParseSuppressionScope(scope)
	if err != nil {
		return domain.SuppressionEntry{}, err
	}
	value = strings.TrimSpace(value)
	if value == "" {
		return domain.SuppressionEntry{}, fmt.Errorf("%w: suppression value is empty", domain.ErrValidation)
	}
	if ttl < 0 {
		return domain.SuppressionEntry{}, fmt.Errorf("%w: --for must be positive", domain.ErrValidation)
	}

	entry := domain.SuppressionEntry{
		ID:        uuid.NewString(),
		Scope:     sc,
		Value:     value,
		Reason:    strings.TrimSpace(reason),
		CreatedAt: now.UTC(),
	}
	if ttl > 0 {
		expires := now.Add(ttl).UTC()
		entry.ExpiresAt = &expires
	}
	return entry, nil
}
