package cmd

import (
	"encoding/json"
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/spigell/jobpipe/internal/analytics"
	"github.com/spigell/jobpipe/internal/domain"
)

var funnelCmd = &cobra.Command{
	Use:   "funnel",
	Short: "Show how many postings reached each stage, from discovery to an offer",
	RunE: func(cmd *cobra.Command, _ []string) error {
		source, _ := cmd.Flags().GetString("source")
		geography, _ := cmd.Flags().GetString("geography")
		roleFamily, _ := cmd.Flags().GetString("role-family")
		status, _ := cmd.Flags().GetString("status")
		asJSON, _ := cmd.Flags().GetBool("output-json")

		e := setup(cmd.Context())
		defer e.Close()

		f := analytics.Filter{
			Source:     source,
			Geography:  geography,
			RoleFamily: roleFamily,
			Status:     domain.Status(status),
		}
		funnel, err := analytics.Compute(cmd.Context(), e.store, f)
		if err != nil {
			return err
		}

		out := cmd.OutOrStdout()
		if asJSON {
			enc := json.NewEncoder(out)
			enc.SetIndent("", "  ")
			return enc.Encode(funnel)
		}

		fmt.Fprintf(out, "funnel for %s\n", analytics.Describe(f))
		w := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "STAGE\tCOUNT\tFROM PREVIOUS")
		for _, s := range funnel.Stages {
			fmt.Fprintf(w, "%s\t%d\t%.1f%%\n", s.Name, s.Count, s.Ratio*100)
		}
		return w.Flush()
	},
}

func init() {
	rootCmd.AddCommand(funnelCmd)

	funnelCmd.Flags().String("source", "", "only postings from this source")
	funnelCmd.Flags().String("geography", "", "only postings in this geography")
	funnelCmd.Flags().String("role-family", "", "only postings of this role family")
	funnelCmd.Flags().String("status", "", "only postings in this review status")
	funnelCmd.Flags().Bool("output-json", false, "print the funnel as JSON")
}
