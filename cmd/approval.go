package cmd

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"
)

var approvalCmd = &cobra.Command{
	Use:   "approval",
	Short: "Manage the single-use approval for autonomous execution",
	Long: "A run executes its fresh batch without human review only when pipeline.auto-action is set " +
		"and an armed approval exists. The first such run consumes it; arm it again for the next one.",
}

var approvalArmCmd = &cobra.Command{
	Use:   "arm",
	Short: "Arm autonomous execution for the next run",
	RunE: func(cmd *cobra.Command, _ []string) error {
		by, _ := cmd.Flags().GetString("by")
		written, _ := cmd.Flags().GetBool("written-approval")

		e := setup(cmd.Context())
		defer e.Close()

		rec, err := e.approvals().Arm(cmd.Context(), e.reviewer(by), written)
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "approval v%d armed by %s\n", rec.Version, rec.ArmedBy)
		if e.cfg.Pipeline.AutoAction == "" {
			fmt.Fprintln(cmd.ErrOrStderr(), "warning: pipeline.auto-action is empty, runs will not execute anything")
		}
		return nil
	},
}

var approvalDisarmCmd = &cobra.Command{
	Use:   "disarm",
	Short: "Withdraw an armed approval",
	RunE: func(cmd *cobra.Command, _ []string) error {
		by, _ := cmd.Flags().GetString("by")

		e := setup(cmd.Context())
		defer e.Close()

		rec, err := e.approvals().Disarm(cmd.Context(), e.reviewer(by))
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "approval v%d written, autonomous execution is off\n", rec.Version)
		return nil
	},
}

var approvalShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Print the current approval version",
	RunE: func(cmd *cobra.Command, _ []string) error {
		e := setup(cmd.Context())
		defer e.Close()

		rec, err := e.approvals().Current(cmd.Context())
		if err != nil {
			return err
		}
		if rec.Version == 0 {
			fmt.Fprintln(cmd.OutOrStdout(), "no approval was ever armed")
			return nil
		}

		enc := json.NewEncoder(cmd.OutOrStdout())
		enc.SetIndent("", "  ")
		if err := enc.Encode(rec); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "armed: %t\n", rec.Armed())
		return nil
	},
}

func init() {
	rootCmd.AddCommand(approvalCmd)
	approvalCmd.AddCommand(approvalArmCmd, approvalDisarmCmd, approvalShowCmd)

	approvalCmd.PersistentFlags().String("by", "", "operator name (default is review.reviewer)")
	approvalArmCmd.Flags().Bool("written-approval", false, "confirm that a written approval for autonomous execution exists")
}
