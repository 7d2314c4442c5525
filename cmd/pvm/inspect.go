package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/aretw0/pvm/pkg/domain"
)

var instancesCmd = &cobra.Command{
	Use:   "instances",
	Short: "List stored process instances",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		eng, cleanup, err := openEngine(ctx, domain.LifecycleHooks{})
		if err != nil {
			return err
		}
		defer cleanup()

		ids, err := eng.Instances(ctx)
		if err != nil {
			return err
		}
		out := cmd.OutOrStdout()
		for _, id := range ids {
			inst, err := eng.Instance(ctx, id)
			if err != nil {
				return err
			}
			state := "waiting"
			if inst.Ended {
				state = inst.EndReason
			}
			fmt.Fprintf(out, "%s\t%s\t%s\n", id, inst.DefinitionID, state)
		}
		return nil
	},
}

var historyCmd = &cobra.Command{
	Use:   "history <instance-id>",
	Short: "Print the history of a process instance",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		eng, cleanup, err := openEngine(ctx, domain.LifecycleHooks{})
		if err != nil {
			return err
		}
		defer cleanup()

		jsonMode, _ := cmd.Flags().GetBool("json")
		return printHistory(ctx, eng, args[0], jsonMode, cmd.OutOrStdout())
	},
}

func init() {
	rootCmd.AddCommand(instancesCmd, historyCmd)
	historyCmd.Flags().Bool("json", false, "Print history as NDJSON")
}
