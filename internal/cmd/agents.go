package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/gcolon75/Project-Valine-sub002/internal/registry"
)

var agentsCmd = &cobra.Command{
	Use:   "agents",
	Short: "List registered automation agents",
	RunE: func(cmd *cobra.Command, args []string) error {
		reg, err := registry.Load()
		if err != nil {
			return fmt.Errorf("loading agent registry: %w", err)
		}

		out := cmd.OutOrStdout()
		for _, a := range reg.List() {
			fmt.Fprintf(out, "%-12s %s\n", a.ID, a.Name)
			fmt.Fprintf(out, "             %s (entry: %s)\n", a.Description, a.EntryCommand)
		}
		fmt.Fprintf(out, "\n%d agents\n", reg.Count())
		return nil
	},
}

func init() {
	rootCmd.AddCommand(agentsCmd)
}
