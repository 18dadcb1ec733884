package cmd

import (
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/spigell/jobpipe/internal/audit"
	"github.com/spigell/jobpipe/internal/domain"
	"github.com/spigell/jobpipe/internal/store"
)

var auditCmd = &cobra.Command{
	Use:   "audit",
	Short: "List execution attempts from the audit log",
	RunE: func(cmd *cobra.Command, _ []string) error {
		fp, _ := cmd.Flags().GetString("fingerprint")
		plan, _ := cmd.Flags().GetString("plan")
		outcome, _ := cmd.Flags().GetString("outcome")
		limit, _ := cmd.Flags().GetInt("limit")

		e := setup(cmd.Context())
		defer e.Close()

		records, err := audit.New(e.store, time.Now, e.logger).List(cmd.Context(), store.AuditFilter{
			Fingerprint: fp,
			PlanID:      plan,
			Outcome:     domain.Outcome(outcome),
			Limit:       limit,
		})
		if err != nil {
			return err
		}

		w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "TIME\tACTION\tOUTCOME\tCOMPANY\tFINGERPRINT\tDETAIL")
		for _, r := range records {
			detail := r.ExternalRef
			if r.Reason != "" {
				detail = r.Reason
			}
			fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\n",
				r.Timestamp.Local().Format(time.RFC3339), r.Action, r.Outcome, r.Company, short(r.Fingerprint), detail)
		}
		return w.Flush()
	},
}

func init() {
	rootCmd.AddCommand(auditCmd)

	auditCmd.Flags().String("fingerprint", "", "only records of this posting")
	auditCmd.Flags().String("plan", "", "only records of this plan")
	auditCmd.Flags().String("outcome", "", "only records with this outcome: success, blocked or failed")
	auditCmd.Flags().Int("limit", 50, "maximum number of records, newest first")
}

func short(fp string) string {
	if len(fp) > 12 {
		return fp[:12]
	}
	return fp
}
