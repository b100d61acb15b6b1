package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"path/filepath"

	"github.com/robfig/cron/v3"
	"github.com/spf13/cobra"

	"github.com/shore-hpc/shore/internal/archive"
	"github.com/shore-hpc/shore/internal/constants"
	"github.com/shore-hpc/shore/internal/instance"
)

// newSyncCmd creates the 'sync' command.
func newSyncCmd() *cobra.Command {
	var (
		every   string
		publish bool
		workers int
	)

	cmd := &cobra.Command{
		Use:   "sync [instance...]",
		Short: "Pull results back from the cluster",
		Long: `Refresh stage state and download spectra, DFT inputs and outputs, and the
SCREEN and CNBSE logs of the named instances (all when none are named).
Each transfer group is attempted even if another one fails.

With --every the sync repeats on a cron schedule until Ctrl+C.
With --archive the results directory is uploaded to the object store
configured in the [archive] section. Credentials for S3 may be given in
SHORE_ARCHIVE_ACCESS_KEY_ID / SHORE_ARCHIVE_SECRET_ACCESS_KEY.

Examples:
  shore sync
  shore sync fe2o3-k --archive
  shore sync --every "@every 15m"
  shore sync --every "0 * * * *"`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := GetContext()
			ws, err := openReadOnlyWorkspace(ctx)
			if err != nil {
				return err
			}
			defer ws.Close()

			var pub *archive.Publisher
			if publish {
				store, err := archive.NewStore(ctx, ws.cfg.Archive, archiveCredentials())
				if err != nil {
					return fmt.Errorf("archive: %w", err)
				}
				pub = archive.NewPublisher(store, ws.cfg.Archive.Prefix, ws.logger)
			}

			out := cmd.OutOrStdout()
			ws.printEvents(out)
			pass := func() error {
				return syncPass(ctx, out, ws, args, workers, pub)
			}

			if every == "" {
				return pass()
			}

			c := newSyncScheduler()
			if _, err := c.AddFunc(every, func() {
				if err := pass(); err != nil {
					ws.logger.Error().Err(err).Msg("scheduled sync failed")
				}
			}); err != nil {
				return fmt.Errorf("invalid schedule %q: %w", every, err)
			}

			if err := pass(); err != nil {
				return err
			}
			ws.logger.Info().Str("schedule", every).Msg("sync scheduled, press Ctrl+C to stop")
			c.Start()
			<-ctx.Done()
			<-c.Stop().Done()
			return nil
		},
	}

	cmd.Flags().StringVar(&every, "every", "", "Repeat on a cron schedule (e.g. \"@every 10m\")")
	cmd.Flags().BoolVar(&publish, "archive", false, "Upload results to the configured object store")
	cmd.Flags().IntVarP(&workers, "workers", "w", 4, "Instances synchronized at once")

	return cmd
}

// newSyncScheduler returns a cron scheduler whose jobs skip a tick while
// the previous pass is still running on the same transport.
func newSyncScheduler() *cron.Cron {
	return cron.New(cron.WithChain(
		cron.SkipIfStillRunning(cron.DefaultLogger),
	))
}

// syncPass runs one synchronization over the selected instances and, when
// pub is set, publishes each results directory.
func syncPass(ctx context.Context, w io.Writer, ws *workspace, names []string, workers int, pub *archive.Publisher) error {
	var reports []*instance.SyncReport
	if len(names) == 0 {
		reports = ws.orch.SyncAll(ctx, workers)
	} else {
		insts, err := ws.instances(names)
		if err != nil {
			return err
		}
		for _, inst := range insts {
			rep, _ := inst.Sync(ctx)
			reports = append(reports, rep)
		}
	}

	ws.events.flush()
	var errs []error
	for _, rep := range reports {
		printSyncReport(w, rep)
		if pub == nil {
			continue
		}
		inst, err := ws.orch.Get(rep.Instance)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		n, err := pub.PublishDir(ctx, inst.Structure.Name, inst.Name, filepath.Join(inst.LocalDir, constants.ResultsDir))
		if err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", inst.Name, err))
		}
		fmt.Fprintf(w, "%-24s archived %d file(s)\n", "", n)
	}
	return errors.Join(errs...)
}

func printSyncReport(w io.Writer, rep *instance.SyncReport) {
	ok := len(rep.Groups) - rep.Failed()
	fmt.Fprintf(w, "%-24s %d/%d groups synchronized\n", rep.Instance, ok, len(rep.Groups))
	for _, g := range rep.Groups {
		if g.Err != nil {
			fmt.Fprintf(w, "  %-8s %v\n", g.Name, g.Err)
		}
	}
}
