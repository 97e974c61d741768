package cmd

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/gcolon75/Project-Valine-sub002/internal/doctor"
)

var doctorSkipUpstream bool

var doctorCmd = &cobra.Command{
	Use:   "doctor",
	Short: "Run preflight checks (data dir, keys, settings DB, workflow API)",
	Long:  "Verifies the data directory is writable, the interaction public key decodes, the settings DB opens, the workflow API is reachable, and the alert channel is configured.",
	RunE:  runDoctor,
}

func init() {
	doctorCmd.Flags().BoolVar(&doctorSkipUpstream, "skip-upstream", false, "skip workflow API connectivity checks")
	rootCmd.AddCommand(doctorCmd)
}

func runDoctor(cmd *cobra.Command, args []string) error {
	ctx, cancel := context.WithTimeout(cmd.Context(), 15*time.Second)
	defer cancel()

	report := doctor.Run(ctx, doctor.Options{SkipUpstream: doctorSkipUpstream})

	out := cmd.OutOrStdout()
	for _, c := range report.Checks {
		switch c.Status {
		case "pass":
			fmt.Fprintf(out, "✓ %s: %s\n", c.Name, c.Message)
		case "warn":
			fmt.Fprintf(out, "⚠ %s: %s", c.Name, c.Message)
			if c.Fix != "" {
				fmt.Fprintf(out, " — %s", c.Fix)
			}
			fmt.Fprintln(out)
		default:
			fmt.Fprintf(out, "✗ %s: %s", c.Name, c.Message)
			if c.Fix != "" {
				fmt.Fprintf(out, " — %s", c.Fix)
			}
			fmt.Fprintln(out)
		}
	}

	fmt.Fprintf(out, "\n%d passed, %d warnings, %d failed\n",
		report.Summary.Pass, report.Summary.Warn, report.Summary.Fail)
	if report.Status == "fail" {
		return fmt.Errorf("preflight checks failed")
	}
	return nil
}
