package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/aretw0/pvm/internal/presentation/graph"
	"github.com/aretw0/pvm/pkg/domain"
	"github.com/aretw0/pvm/pkg/dsl"
)

var graphCmd = &cobra.Command{
	Use:   "graph [definition.yaml]",
	Short: "Print a process definition as a Mermaid flowchart",
	Long: `Renders the definition (the built-in demo when no file is given). With
--instance, activities the instance has visited and the tasks it waits at are
highlighted.`,
	Args: cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		def := demoDefinition()
		if len(args) == 1 {
			data, err := os.ReadFile(args[0])
			if err != nil {
				return err
			}
			if def, err = dsl.Parse(data); err != nil {
				return err
			}
		}

		var overlay *graph.GraphOverlay
		if instanceID, _ := cmd.Flags().GetString("instance"); instanceID != "" {
			ctx := cmd.Context()
			eng, cleanup, err := openEngine(ctx, domain.LifecycleHooks{})
			if err != nil {
				return err
			}
			defer cleanup()

			events, err := eng.History(ctx, instanceID)
			if err != nil {
				return err
			}
			tasks, err := eng.Tasks(ctx, instanceID)
			if err != nil {
				return err
			}
			overlay = graph.OverlayFromHistory(events, tasks)
		}

		fmt.Fprint(cmd.OutOrStdout(), graph.GenerateMermaid(def, overlay))
		return nil
	},
}

func init() {
	rootCmd.AddCommand(graphCmd)
	graphCmd.Flags().String("instance", "", "Highlight the state of a stored instance")
}
