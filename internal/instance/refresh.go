package instance

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/shore-hpc/shore/internal/constants"
	"github.com/shore-hpc/shore/internal/graph"
	"github.com/shore-hpc/shore/internal/jobscript"
	"github.com/shore-hpc/shore/internal/ledger"
	"github.com/shore-hpc/shore/internal/stage"
	"github.com/shore-hpc/shore/internal/state"
)

// StageReport is the outcome of one Refresh.
type StageReport struct {
	Report  stage.Report
	Stages  map[string]bool // merged flags as persisted
	Flipped []string        // stages that became complete, in pipeline order

	// Scheduler captures. Present is false when they could not be fetched.
	SchedulerErr string
	SchedulerOut string
	Present      bool

	LogErr error // the log could not be fetched or read
}

// Refresh downloads the latest log (and the scheduler's err/out files when
// they exist), infers stage completion once and persists the state.
// Completed stages stay complete unless reset is true. Nothing here is
// fatal; problems end up in the report and the log.
func (i *Instance) Refresh(ctx context.Context, reset bool) StageReport {
	var rep StageReport
	logsDir := i.localPath(constants.LogsDir)
	if err := os.MkdirAll(logsDir, 0755); err != nil {
		rep.LogErr = err
	}

	if err := i.transport.Connect(ctx); err != nil {
		rep.LogErr = err
		i.logger.Warn().Err(err).Msg("cannot reach compute host; using local log")
	} else {
		if err := i.transport.DownloadFile(ctx, constants.EngineLogName, logsDir, i.RemoteDir); err != nil {
			rep.LogErr = err
			i.logger.Warn().Err(err).Str("remote_dir", i.RemoteDir).Msg("failed to download log")
		}
		errCap := i.transport.DownloadFile(ctx, constants.SchedulerErrName, logsDir, i.RemoteDir)
		outCap := i.transport.DownloadFile(ctx, constants.SchedulerOutName, logsDir, i.RemoteDir)
		if errCap != nil || outCap != nil {
			i.logger.Debug().Msg("no info from the scheduler")
		} else {
			rep.Present = true
		}
	}
	if rep.Present {
		rep.SchedulerErr = readCapture(i.localPath(constants.LogsDir, constants.SchedulerErrName))
		rep.SchedulerOut = readCapture(i.localPath(constants.LogsDir, constants.SchedulerOutName))
	}

	report, err := i.opts.Pipeline.InferFile(i.localPath(constants.LogsDir, constants.EngineLogName))
	if err != nil && rep.LogErr == nil {
		rep.LogErr = err
	}
	rep.Report = report

	i.mu.Lock()
	merged, flipped := i.opts.Pipeline.Merge(i.st.Stages, report, reset)
	i.st.Stages = merged
	i.mu.Unlock()
	rep.Stages = merged
	rep.Flipped = flipped

	for _, name := range flipped {
		i.opts.Graph.SetState(graph.StageNode(i.Name, name), graph.Active)
		i.opts.Bus.PublishStage(i.Name, name, true)
		i.logger.Info().Str("stage", name).Msg("stage complete")
	}
	i.advanceLaunch(merged)

	outcome := ledger.OutcomeOK
	if rep.LogErr != nil {
		outcome = ledger.OutcomePartial
	}
	i.record(ctx, ledger.Entry{Kind: ledger.KindState, Outcome: outcome, Detail: strings.Join(flipped, ",")})
	if err := i.save(); err != nil {
		i.logger.Warn().Err(err).Msg("failed to save state")
	}
	return rep
}

// advanceLaunch moves the launch state forward from what the log shows:
// any completed stage means the job runs, the last one means it is done.
func (i *Instance) advanceLaunch(stages map[string]bool) {
	p := i.opts.Pipeline
	if len(p) == 0 {
		return
	}
	current := i.Launch()
	if stages[p[len(p)-1].Name] {
		if current != state.Done {
			i.setLaunch(state.Done)
		}
		return
	}
	if current == state.Submitted {
		for _, s := range p {
			if stages[s.Name] {
				i.setLaunch(state.Running)
				return
			}
		}
	}
}

func readCapture(path string) string {
	data, err := os.ReadFile(path)
	if err != nil {
		return ""
	}
	return string(data)
}

// Status refreshes the state and writes a human-readable diagnostic to w:
// the scheduler captures and the scheduler queue. The queue listing is for
// display only and never changes the launch state.
func (i *Instance) Status(ctx context.Context, w io.Writer) error {
	rep := i.Refresh(ctx, false)

	fmt.Fprintln(w, "Errors:")
	for _, line := range strings.Split(strings.TrimRight(rep.SchedulerErr, "\n"), "\n") {
		fmt.Fprintln(w, line)
	}
	fmt.Fprintln(w, "Messages:")
	for _, line := range strings.Split(strings.TrimRight(rep.SchedulerOut, "\n"), "\n") {
		fmt.Fprintln(w, line)
	}

	fmt.Fprintln(w, "Now is running:")
	if i.local {
		_, err := fmt.Fprintf(w, "local run, %s\n", i.Launch())
		return err
	}
	stdout, stderr, err := i.transport.Exec(ctx, jobscript.SqueueCommand(i.transport.User(), i.JobID()))
	if err != nil {
		i.logger.Debug().Err(err).Msg("squeue failed")
		_, werr := fmt.Fprintln(w, "Nothing")
		return werr
	}
	_, err = fmt.Fprint(w, stdout, stderr)
	return err
}
