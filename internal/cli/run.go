package cli

import (
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/shore-hpc/shore/internal/instance"
	"github.com/shore-hpc/shore/internal/models"
	"github.com/shore-hpc/shore/internal/progress"
	"github.com/shore-hpc/shore/internal/state"
)

// newRunCmd creates the 'run' command.
func newRunCmd() *cobra.Command {
	var (
		overwrite bool
		follow    bool
	)

	cmd := &cobra.Command{
		Use:   "run [instance...]",
		Short: "Launch calculations",
		Long: `Launch the named instances, or every instance of the job file.

An instance whose CNBSE directory already has content is skipped unless
--overwrite is given. With sbatch enabled the job is submitted and its id
recorded; otherwise the engine is started in the background.

Examples:
  shore run fe2o3-k
  shore run --monitor fe2o3-k
  shore run --overwrite`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := GetContext()
			ws, err := openWorkspace(ctx)
			if err != nil {
				return err
			}
			defer ws.Close()

			insts, err := ws.instances(args)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			ws.printEvents(out)
			for _, inst := range insts {
				rep, err := inst.Run(ctx, instance.RunOptions{Overwrite: overwrite, Monitor: follow})
				ws.events.flush()
				printRunReport(out, rep)
				if err != nil {
					return err
				}
			}
			return nil
		},
	}

	cmd.Flags().BoolVar(&overwrite, "overwrite", false, "Launch even when results already exist")
	cmd.Flags().BoolVarP(&follow, "monitor", "m", false, "Follow progress until the calculation finishes")

	return cmd
}

func printRunReport(w io.Writer, rep instance.RunReport) {
	switch {
	case rep.Err != nil:
		fmt.Fprintf(w, "%-24s failed: %v\n", rep.Instance, rep.Err)
	case rep.Skipped:
		fmt.Fprintf(w, "%-24s skipped (results exist, use --overwrite)\n", rep.Instance)
	case rep.JobID != "":
		fmt.Fprintf(w, "%-24s submitted job %s\n", rep.Instance, rep.JobID)
	default:
		fmt.Fprintf(w, "%-24s %s\n", rep.Instance, rep.Launch)
	}
	if rep.Monitor != nil {
		fmt.Fprintf(w, "%-24s progress %d%% (%s)\n", "", rep.Monitor.Percent, rep.Monitor.Milestone)
	}
}

// newMonitorCmd creates the 'monitor' command.
func newMonitorCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "monitor <instance>",
		Short: "Follow a running calculation's progress",
		Long: `Mirror the engine log of a launched instance and show a progress bar
driven by the engine's milestones. Ends when the engine reports completion
or on Ctrl+C.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := GetContext()
			ws, err := openReadOnlyWorkspace(ctx)
			if err != nil {
				return err
			}
			defer ws.Close()

			inst, err := ws.orch.Get(args[0])
			if err != nil {
				return err
			}
			if inst.Launch() == state.NotSubmitted {
				return fmt.Errorf("%s has not been launched", inst.Name)
			}

			ws.printEvents(cmd.OutOrStdout())
			res, err := inst.Watch(ctx)
			ws.events.flush()
			fmt.Fprintf(cmd.OutOrStdout(), "%s: %d%% (%s)\n", inst.Name, res.Percent, res.Milestone)
			if ctx.Err() != nil {
				// interrupted by the user; the run itself continues
				return nil
			}
			return err
		},
	}
	return cmd
}

// newStateCmd creates the 'state' command.
func newStateCmd() *cobra.Command {
	var reset bool

	cmd := &cobra.Command{
		Use:   "state [instance...]",
		Short: "Show which stages of a calculation are complete",
		Long: `Fetch the latest engine log and show, per stage, how many of its markers
have been seen. Completed stages stay complete unless --reset is given.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := GetContext()
			ws, err := openReadOnlyWorkspace(ctx)
			if err != nil {
				return err
			}
			defer ws.Close()

			insts, err := ws.instances(args)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			ws.printEvents(out)
			for _, inst := range insts {
				rep := inst.Refresh(ctx, reset)
				ws.events.flush()
				fmt.Fprintf(out, "%s (%s)\n", inst.Name, inst.Launch())
				if rep.LogErr != nil {
					fmt.Fprintf(out, "  log unavailable: %v\n", rep.LogErr)
				}

				ui := newStageUI(out)
				for _, r := range rep.Report.Results {
					found, total := r.FoundCount(), len(r.Found)
					if rep.Stages[r.Stage] {
						found = total
					}
					ui.AddStage(r.Stage, found, total)
				}
				ui.Wait()
			}
			return nil
		},
	}

	cmd.Flags().BoolVar(&reset, "reset", false, "Recompute stage flags from scratch")
	return cmd
}

// newStageUI draws live bars on a terminal and plain lines elsewhere.
func newStageUI(w io.Writer) *progress.StageUI {
	if w == os.Stdout {
		return progress.NewStageUI()
	}
	return progress.NewStageUITo(w)
}

// newStatusCmd creates the 'status' command.
func newStatusCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "status <instance>",
		Short: "Print scheduler messages and the queue",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := GetContext()
			ws, err := openReadOnlyWorkspace(ctx)
			if err != nil {
				return err
			}
			defer ws.Close()

			inst, err := ws.orch.Get(args[0])
			if err != nil {
				return err
			}
			return inst.Status(ctx, cmd.OutOrStdout())
		},
	}
	return cmd
}

// newSetCmd creates the 'set' command.
func newSetCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "set <instance> <key> <value>",
		Short: "Change an input parameter",
		Long: `Change one OCEAN input parameter of an instance and rewrite its input
file. The value is read as YAML, so 50, 0.5, "text" and [4, 4, 4] keep
their types.`,
		Args: cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := GetContext()
			ws, err := openWorkspace(ctx)
			if err != nil {
				return err
			}
			defer ws.Close()

			inst, err := ws.orch.Get(args[0])
			if err != nil {
				return err
			}
			res, err := inst.Set(ctx, args[1], parseValue(args[2]))
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			switch res {
			case models.SetUnchanged:
				fmt.Fprintf(out, "%s: %s unchanged\n", inst.Name, args[1])
			case models.SetAdded:
				fmt.Fprintf(out, "%s: added %s\n", inst.Name, args[1])
			default:
				fmt.Fprintf(out, "%s: changed %s\n", inst.Name, args[1])
			}
			return nil
		},
	}
	return cmd
}

// parseValue reads a command-line parameter value as YAML. Anything that
// does not parse is kept as a string.
func parseValue(s string) any {
	var v any
	if err := yaml.Unmarshal([]byte(s), &v); err != nil || v == nil {
		return s
	}
	return v
}
