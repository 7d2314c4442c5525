package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/aretw0/pvm/internal/validator"
	"github.com/aretw0/pvm/pkg/dsl"
)

var validateCmd = &cobra.Command{
	Use:   "validate <definition.yaml>...",
	Short: "Check process definitions for consistency",
	Long: `Parses each definition, then crawls it from the initial activity and reports
unreachable activities, unused compensation handlers and degenerate joins.`,
	Args: cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		out := cmd.OutOrStdout()
		for _, path := range args {
			data, err := os.ReadFile(path)
			if err != nil {
				return err
			}
			def, err := dsl.Parse(data)
			if err != nil {
				return fmt.Errorf("%s: %w", path, err)
			}
			if err := validator.ValidateGraph(def); err != nil {
				return fmt.Errorf("%s: %w", path, err)
			}
			fmt.Fprintf(out, "%s: %s is valid (%d activities)\n", path, def.ID, len(def.Activities))
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(validateCmd)
}
