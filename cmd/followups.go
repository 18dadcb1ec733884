package cmd

import (
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/spigell/jobpipe/internal/domain"
	"github.com/spigell/jobpipe/internal/followups"
	"github.com/spigell/jobpipe/internal/store"
)

var followUpsCmd = &cobra.Command{
	Use:   "followups",
	Short: "Follow-ups scheduled after successful outreach",
}

var followUpsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List follow-ups, earliest due first",
	RunE: func(cmd *cobra.Command, _ []string) error {
		status, _ := cmd.Flags().GetString("status")
		dueOnly, _ := cmd.Flags().GetBool("due")
		limit, _ := cmd.Flags().GetInt("limit")

		e := setup(cmd.Context())
		defer e.Close()

		f := store.FollowUpFilter{Status: domain.FollowUpStatus(status), Limit: limit}
		if dueOnly {
			f.Status = domain.FollowUpPending
			f.DueBy = time.Now()
		}
		list, err := e.followUps().List(cmd.Context(), f)
		if err != nil {
			return err
		}

		w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "ID\tDUE\tSTATUS\tCOMPANY\tFINGERPRINT")
		for _, fu := range list {
			fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n",
				fu.ID, fu.DueAt.Local().Format(time.RFC3339), fu.Status, fu.Company, short(fu.Fingerprint))
		}
		return w.Flush()
	},
}

var followUpsDoneCmd = &cobra.Command{
	Use:   "done <id>",
	Short: "Mark a follow-up as sent",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		e := setup(cmd.Context())
		defer e.Close()

		if err := e.followUps().Complete(cmd.Context(), args[0]); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "follow-up %s done\n", args[0])
		return nil
	},
}

var followUpsCancelCmd = &cobra.Command{
	Use:   "cancel <id>",
	Short: "Drop a pending follow-up without sending it",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		e := setup(cmd.Context())
		defer e.Close()

		if err := e.followUps().Cancel(cmd.Context(), args[0]); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "follow-up %s cancelled\n", args[0])
		return nil
	},
}

var followUpsScheduleCmd = &cobra.Command{
	Use:   "schedule <plan-id>",
	Short: "Schedule follow-ups for the successful outreach of a finished plan",
	Long: "Execution schedules follow-ups on its own. Use this when that step failed; " +
		"postings that already have a follow-up are skipped.",
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		e := setup(cmd.Context())
		defer e.Close()

		plan, err := e.store.GetPlan(cmd.Context(), args[0])
		if err != nil {
			return err
		}
		if plan.Status == domain.PlanPending {
			return fmt.Errorf("%w: plan %s has not run yet", domain.ErrValidation, plan.ID)
		}

		fu := e.followUps()
		n, err := fu.ScheduleForPlan(cmd.Context(), plan)
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "%d follow-ups scheduled, due %s after now\n", n, fu.Delay())
		return nil
	},
}

var responseCmd = &cobra.Command{
	Use:   "response",
	Short: "Record what companies answered",
}

var responseRecordCmd = &cobra.Command{
	Use:   "record <fingerprint> reply|interview|offer",
	Short: "Record a reply, interview or offer for an executed posting",
	Long: "Record a reply, interview or offer for a posting with a successful execution. " +
		"Its pending follow-up is cancelled. The funnel counts these after the executed stage.",
	Args: cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		kind, err := domain.ParseResponseKind(args[1])
		if err != nil {
			return err
		}
		by, _ := cmd.Flags().GetString("by")
		note, _ := cmd.Flags().GetString("note")

		e := setup(cmd.Context())
		defer e.Close()

		resp, err := e.followUps().RecordResponse(cmd.Context(), followups.ResponseRequest{
			Fingerprint: args[0],
			Kind:        kind,
			Note:        note,
			RecordedBy:  e.reviewer(by),
		})
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "%s recorded for %s\n", resp.Kind, short(resp.Fingerprint))
		return nil
	},
}

var responseListCmd = &cobra.Command{
	Use:   "list <fingerprint>",
	Short: "List the responses recorded for a posting",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		e := setup(cmd.Context())
		defer e.Close()

		list, err := e.followUps().Responses(cmd.Context(), args[0])
		if err != nil {
			return err
		}
		w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "TIME\tKIND\tBY\tNOTE")
		for _, r := range list {
			fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", r.RecordedAt.Local().Format(time.RFC3339), r.Kind, r.RecordedBy, r.Note)
		}
		return w.Flush()
	},
}

func init() {
	rootCmd.AddCommand(followUpsCmd, responseCmd)
	followUpsCmd.AddCommand(followUpsListCmd, followUpsDoneCmd, followUpsCancelCmd, followUpsScheduleCmd)
	responseCmd.AddCommand(responseRecordCmd, responseListCmd)

	followUpsListCmd.Flags().String("status", "", "only follow-ups with this status: pending, done or cancelled")
	followUpsListCmd.Flags().Bool("due", false, "only pending follow-ups that are due now")
	followUpsListCmd.Flags().Int("limit", 50, "maximum number of follow-ups")

	responseRecordCmd.Flags().String("by", "", "operator name (default is review.reviewer)")
	responseRecordCmd.Flags().String("note", "", "free text kept with the response")
}
