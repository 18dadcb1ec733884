package cmd

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/spigell/jobpipe/internal/domain"
	"github.com/spigell/jobpipe/internal/execution"
	"github.com/spigell/jobpipe/internal/logger"
)

var executeCmd = &cobra.Command{
	Use:   "execute [fingerprint...]",
	Short: "Execute an action for approved postings of a closed batch",
	Long: "Build an execution plan from a closed batch (--batch) or from the given fingerprints, " +
		"check it against compliance and execute every allowed posting. Each attempt lands in the audit log.",
	RunE: func(cmd *cobra.Command, args []string) error {
		batchID, _ := cmd.Flags().GetString("batch")
		actionFlag, _ := cmd.Flags().GetString("action")

		batchID = strings.TrimSpace(batchID)
		if (batchID == "") == (len(args) == 0) {
			return fmt.Errorf("%w: pass either --batch or fingerprints", domain.ErrValidation)
		}
		action, err := domain.ParseAction(actionFlag)
		if err != nil {
			return err
		}

		ctx := cmd.Context()
		e := setup(ctx)
		defer e.Close()
		e.runLock()

		exec, err := e.executor()
		if err != nil {
			return err
		}

		var plan domain.ExecutionPlan
		if batchID != "" {
			plan, err = exec.PlanFromBatch(ctx, batchID, action)
		} else {
			plan, err = exec.CreatePlan(ctx, action, args)
		}
		if err != nil {
			return err
		}

		res, err := exec.RunPlan(ctx, plan.ID)
		if err != nil {
			return err
		}
		printOutcomes(cmd, res)
		e.logger.Info("plan finished",
			append(logger.PlanFields(res.Plan.ID, string(res.Plan.Action)), zap.String("status", string(res.Plan.Status)))...)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(executeCmd)

	executeCmd.Flags().String("batch", "", "closed review batch whose approved postings are executed")
	executeCmd.Flags().StringP("action", "a", "apply", "action to execute: apply or outreach")
}

func printOutcomes(cmd *cobra.Command, res execution.Result) {
	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "plan %s (%s): %s\n", res.Plan.ID, res.Plan.Action, res.Plan.Status)
	for _, o := range res.Outcomes {
		line := fmt.Sprintf("  %-8s %s", o.Outcome, o.Fingerprint)
		if o.ExternalRef != "" {
			line += " ref=" + o.ExternalRef
		}
		if o.Reason != "" {
			line += " reason=" + o.Reason
		}
		fmt.Fprintln(out, line)
	}
	if res.FollowUps > 0 {
		fmt.Fprintf(out, "%d follow-ups scheduled; see `%s followups list`\n", res.FollowUps, app)
	}
}
