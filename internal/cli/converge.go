package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/shore-hpc/shore/internal/instance"
	"github.com/shore-hpc/shore/internal/orchestrator"
)

// newConvergeCmd creates the 'converge' command.
func newConvergeCmd() *cobra.Command {
	var (
		materializeOnly bool
		overwrite       bool
	)

	cmd := &cobra.Command{
		Use:   "converge <base> <key> <value>...",
		Short: "Run a convergence study over one parameter",
		Long: `Clone the base input once per value, set <key> in each clone and launch
the clones as independent instances named <base>_<value>. Values are read
as YAML.

Examples:
  shore converge fe2o3-k ecut 40 60 80
  shore converge fe2o3-k nkpt "[4,4,4]" "[6,6,6]" --materialize-only`,
		Args: cobra.MinimumNArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := GetContext()
			ws, err := openWorkspace(ctx)
			if err != nil {
				return err
			}
			defer ws.Close()

			base, ok := ws.jobs.Input(args[0])
			if !ok {
				return fmt.Errorf("%w: %s", orchestrator.ErrUnknownInstance, args[0])
			}
			key := args[1]
			values := make([]any, 0, len(args)-2)
			for _, a := range args[2:] {
				values = append(values, parseValue(a))
			}

			out := cmd.OutOrStdout()
			if materializeOnly {
				created, err := ws.orch.Materialize(ctx, base, key, values, false)
				for _, inst := range created {
					fmt.Fprintf(out, "%-24s prepared in %s\n", inst.Name, inst.LocalDir)
				}
				return err
			}

			reports, err := ws.orch.Converge(ctx, base, key, values, instance.RunOptions{Overwrite: overwrite})
			for _, rep := range reports {
				printRunReport(out, rep)
			}
			return err
		},
	}

	cmd.Flags().BoolVar(&materializeOnly, "materialize-only", false, "Prepare the clones without launching them")
	cmd.Flags().BoolVar(&overwrite, "overwrite", false, "Launch even when results already exist")

	return cmd
}
