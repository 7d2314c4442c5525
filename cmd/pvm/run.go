package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/aretw0/pvm"
	"github.com/aretw0/pvm/pkg/domain"
	"github.com/aretw0/pvm/pkg/dsl"
	"github.com/aretw0/pvm/pkg/registry"
)

var runCmd = &cobra.Command{
	Use:   "run [definition.yaml]",
	Short: "Run a process definition to completion",
	Long: `Deploys the definition (a built-in travel booking saga when no file is
given), starts an instance and completes its waiting tasks one by one. Every
service behavior named by the definition prints its name. With --compensate
the instance throws compensation at its first wait state instead.`,
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
		vars, _ := cmd.Flags().GetStringToString("var")
		compensate, _ := cmd.Flags().GetBool("compensate")
		maxSteps, _ := cmd.Flags().GetInt("max-steps")
		jsonMode, _ := cmd.Flags().GetBool("json")

		ctx := cmd.Context()
		eng, cleanup, err := openEngine(ctx, domain.LifecycleHooks{})
		if err != nil {
			return err
		}
		defer cleanup()

		out := cmd.OutOrStdout()
		registerEchoBehaviors(eng.Behaviors(), def, out)

		id, err := drive(ctx, eng, def, toAny(vars), compensate, maxSteps, out)
		if err != nil {
			return err
		}
		return printHistory(ctx, eng, id, jsonMode, out)
	},
}

func demoDefinition() *domain.ProcessDefinition {
	return dsl.New("trip").
		Add("start").Start().Go("hotel").
		Add("hotel").Service("book-hotel").CompensateWith("undo-hotel").Go("flights").
		Add("flights").Service("book-flight").Parallel(2).CompensateWith("undo-flight").Go("pay").
		Add("undo-hotel").Service("cancel-hotel").ForCompensation().
		Add("undo-flight").Service("cancel-flight").ForCompensation().
		Add("pay").Task("Pay").Go("end").
		Add("end").End().
		Done().MustBuild()
}

func registerEchoBehaviors(r *registry.Registry, def *domain.ProcessDefinition, out io.Writer) {
	for _, a := range def.Activities {
		name := a.Behavior
		if name == "" || r.Has(name) {
			continue
		}
		r.Register(name, func(_ context.Context, s registry.Scope) error {
			if idx, ok := s.Variable(domain.VarLoopCounter); ok {
				fmt.Fprintf(out, "  service %s [%v]\n", name, idx)
			} else {
				fmt.Fprintf(out, "  service %s\n", name)
			}
			return nil
		})
	}
}

func drive(ctx context.Context, eng *pvm.Engine, def *domain.ProcessDefinition, vars map[string]any, compensate bool, maxSteps int, out io.Writer) (string, error) {
	if err := eng.Deploy(ctx, def); err != nil {
		return "", err
	}
	id, err := eng.StartProcessInstance(ctx, def.ID, vars)
	if err != nil {
		return "", err
	}
	fmt.Fprintf(out, "started %s (%s)\n", id, def.ID)

	thrown := false
	for step := 0; step < maxSteps; step++ {
		tasks, err := eng.Tasks(ctx, id)
		if err != nil {
			return id, err
		}
		if len(tasks) == 0 {
			break
		}
		if compensate && !thrown {
			thrown = true
			n, err := eng.ThrowCompensation(ctx, id, "")
			if err != nil {
				return id, err
			}
			fmt.Fprintf(out, "compensation thrown: %d handler(s)\n", n)
			continue
		}
		task := tasks[0]
		fmt.Fprintf(out, "completing %s (%s)\n", task.Name, task.ExecutionID)
		if err := eng.Signal(ctx, id, task.ExecutionID, nil); err != nil {
			return id, err
		}
	}

	inst, err := eng.Instance(ctx, id)
	if err != nil {
		return id, err
	}
	if inst.Ended {
		fmt.Fprintf(out, "instance %s completed\n", id)
	} else {
		fmt.Fprintf(out, "instance %s still waiting after %d steps\n", id, maxSteps)
	}
	return id, nil
}

func printHistory(ctx context.Context, eng *pvm.Engine, id string, jsonMode bool, out io.Writer) error {
	events, err := eng.History(ctx, id)
	if err != nil {
		return err
	}
	if jsonMode {
		enc := json.NewEncoder(out)
		for _, ev := range events {
			if err := enc.Encode(ev); err != nil {
				return err
			}
		}
		return nil
	}
	fmt.Fprintln(out, "history:")
	for _, ev := range events {
		line := fmt.Sprintf("  %-22s %s", ev.Type, ev.ActivityID)
		if ev.Compensation {
			line += " (compensation)"
		}
		if ev.Type == domain.EventCompensationThrown {
			line += fmt.Sprintf(" handlers=%d", ev.Count)
		}
		fmt.Fprintln(out, line)
	}
	return nil
}

func toAny(m map[string]string) map[string]any {
	vars := make(map[string]any, len(m))
	for k, v := range m {
		vars[k] = v
	}
	return vars
}

func init() {
	rootCmd.AddCommand(runCmd)

	runCmd.Flags().StringToString("var", nil, "Initial process variables (key=value)")
	runCmd.Flags().Bool("compensate", false, "Throw compensation at the first wait state")
	runCmd.Flags().Int("max-steps", 100, "Maximum number of tasks to complete")
	runCmd.Flags().Bool("json", false, "Print history as NDJSON")
}
