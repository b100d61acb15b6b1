package cli

import (
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"
)

var ErrLedgerUnavailable = errors.New("run ledger is unavailable")

// newGraphCmd creates the 'graph' command.
func newGraphCmd() *cobra.Command {
	var (
		format string
		output string
	)

	cmd := &cobra.Command{
		Use:   "graph",
		Short: "Export the workflow graph",
		Long: `Export the workflow graph of every instance of the job file: one chain
of stage nodes per instance, the results node and one node per absorbing
site. Active nodes are the completed ones.

Examples:
  shore graph --format dot | dot -Tsvg > graph.svg
  shore graph --format json -o graph.json`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := GetContext()
			ws, err := openReadOnlyWorkspace(ctx)
			if err != nil {
				return err
			}
			defer ws.Close()

			// node states come from the saved stage flags and local spectra
			for _, inst := range ws.orch.Instances() {
				if _, err := inst.Results().Spectrum(nil, nil); err != nil {
					ws.logger.Debug().Err(err).Str("instance", inst.Name).Msg("no spectra yet")
				}
			}

			var w io.Writer = cmd.OutOrStdout()
			if output != "" {
				f, err := os.Create(output)
				if err != nil {
					return fmt.Errorf("failed to create %s: %w", output, err)
				}
				defer f.Close()
				w = f
			}

			switch format {
			case "dot":
				return ws.orch.Graph().WriteDOT(w)
			case "json":
				return ws.orch.Graph().WriteJSON(w)
			default:
				return fmt.Errorf("unknown format %q (want dot or json)", format)
			}
		},
	}

	cmd.Flags().StringVarP(&format, "format", "f", "dot", "Output format: dot or json")
	cmd.Flags().StringVarP(&output, "output", "o", "", "Write to file instead of stdout")

	return cmd
}

// newHistoryCmd creates the 'history' command.
func newHistoryCmd() *cobra.Command {
	var limit int

	cmd := &cobra.Command{
		Use:   "history [instance]",
		Short: "Show launches, monitor runs and syncs from the run ledger",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := GetContext()
			ws, err := openReadOnlyWorkspace(ctx)
			if err != nil {
				return err
			}
			defer ws.Close()

			if ws.ledger == nil {
				return ErrLedgerUnavailable
			}
			name := ""
			if len(args) == 1 {
				name = args[0]
			}
			entries, err := ws.ledger.History(ctx, name, limit)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			if len(entries) == 0 {
				fmt.Fprintln(out, "No history recorded.")
				return nil
			}
			fmt.Fprintf(out, "%-20s %-24s %-8s %-10s %-14s %-8s %s\n", "TIME", "INSTANCE", "KIND", "JOB", "STATE", "OUTCOME", "DETAIL")
			for _, e := range entries {
				fmt.Fprintf(out, "%-20s %-24s %-8s %-10s %-14s %-8s %s\n",
					e.CreatedAt.Local().Format("2006-01-02 15:04:05"),
					e.Instance, e.Kind, orDash(e.JobID), orDash(e.Launch), e.Outcome, e.Detail)
			}
			return nil
		},
	}

	cmd.Flags().IntVarP(&limit, "limit", "n", 20, "Number of entries (0 for all)")
	return cmd
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}
