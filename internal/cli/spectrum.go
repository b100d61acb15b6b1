package cli

import (
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"
)

// newSpectrumCmd creates the 'spectrum' command.
func newSpectrumCmd() *cobra.Command {
	var (
		sites  []int
		pols   []int
		shift  float64
		output string
	)

	cmd := &cobra.Command{
		Use:   "spectrum <instance>",
		Short: "Write the summed absorption spectrum as two columns",
		Long: `Sum the synchronized spectra of an instance over the selected sites and
polarizations and write energy/intensity columns for plotting. Run
'shore sync' first.

Examples:
  shore spectrum fe2o3-k > fe.dat
  shore spectrum fe2o3-k --sites 1,2 --pols 1 --shift 7112.0`,
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
			spec, err := inst.Results().Spectrum(sites, pols)
			if err != nil {
				return err
			}
			if len(spec.Missing) > 0 {
				ws.logger.Warn().Strs("missing", spec.Missing).Msg("some spectra were not found")
			}
			spec.Shift(shift)

			var w io.Writer = cmd.OutOrStdout()
			if output != "" {
				f, err := os.Create(output)
				if err != nil {
					return fmt.Errorf("failed to create %s: %w", output, err)
				}
				defer f.Close()
				w = f
			}
			_, err = spec.WriteTo(w)
			return err
		},
	}

	cmd.Flags().IntSliceVar(&sites, "sites", nil, "Site ids to include (default: all)")
	cmd.Flags().IntSliceVar(&pols, "pols", nil, "Polarizations to include (default: 1,2,3)")
	cmd.Flags().Float64Var(&shift, "shift", 0, "Energy shift added to every point")
	cmd.Flags().StringVarP(&output, "output", "o", "", "Write to file instead of stdout")

	return cmd
}
