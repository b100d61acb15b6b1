package instance

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/shore-hpc/shore/internal/constants"
	"github.com/shore-hpc/shore/internal/graph"
	"github.com/shore-hpc/shore/internal/jobscript"
	"github.com/shore-hpc/shore/internal/ledger"
	"github.com/shore-hpc/shore/internal/monitor"
	"github.com/shore-hpc/shore/internal/progress"
	"github.com/shore-hpc/shore/internal/state"
)

// ErrSubmissionNotParsed means sbatch output had no job id.
var ErrSubmissionNotParsed = errors.New("could not retrieve job id from sbatch output")

// RunOptions control a launch.
type RunOptions struct {
	Overwrite bool // launch even when CNBSE output already exists
	Monitor   bool // block and follow the log until done or cancelled
}

// RunReport describes what Run did. Err holds a soft failure.
type RunReport struct {
	Instance string
	Skipped  bool
	JobID    string
	Launch   state.LaunchState
	Monitor  *monitor.Result
	Err      error
}

// Run launches the calculation once. If the CNBSE directory already has
// content and Overwrite is false nothing is launched. With a batch
// scheduler the job is submitted and its id recorded; otherwise the engine
// is started in the background and the instance is considered running.
//
// Transport and submission failures are reported in RunReport.Err. The
// returned error is reserved for a local run without a working directory
// and for cancellation while monitoring.
func (i *Instance) Run(ctx context.Context, opts RunOptions) (report RunReport, err error) {
	report.Instance = i.Name
	defer func() {
		report.JobID = i.JobID()
		report.Launch = i.Launch()
	}()

	if i.local {
		if info, err := os.Stat(i.LocalDir); i.LocalDir == "" || err != nil || !info.IsDir() {
			return report, fmt.Errorf("%s: %w", i.Name, ErrWorkDirNotSet)
		}
	}

	if err := i.save(); err != nil {
		i.logger.Warn().Err(err).Msg("failed to save state before launch")
	}
	if err := i.handleInput(ctx); err != nil {
		report.Err = err
		i.fail(ctx, ledger.KindRun, err)
		return report, nil
	}

	if err := i.transport.Connect(ctx); err != nil {
		report.Err = err
		i.logger.Error().Err(err).Msg("cannot reach compute host")
		i.fail(ctx, ledger.KindRun, err)
		return report, nil
	}

	done, err := i.transport.CheckFolderExistsAndNotEmpty(ctx, i.remotePath(constants.RemoteCNBSEDir))
	if err != nil {
		i.logger.Warn().Err(err).Msg("could not check for previous results")
	}
	if done && !opts.Overwrite {
		report.Skipped = true
		i.logger.Info().Msg("Heavy part is already done. Use overwrite to rerun it")
		i.record(ctx, ledger.Entry{Kind: ledger.KindRun, Outcome: ledger.OutcomeSkipped})
		return report, nil
	}

	i.clearStaleLogs()
	if i.opts.Sbatch && !i.local {
		err = i.submit(ctx)
	} else {
		err = i.launch(ctx)
	}
	if err != nil {
		report.Err = err
		i.fail(ctx, ledger.KindRun, err)
		return report, nil
	}
	i.resetProgress()
	i.record(ctx, ledger.Entry{Kind: ledger.KindRun, Outcome: ledger.OutcomeOK})
	if err := i.save(); err != nil {
		i.logger.Warn().Err(err).Msg("failed to save state after launch")
	}

	if opts.Monitor {
		res, err := i.Watch(ctx)
		report.Monitor = &res
		if err != nil {
			return report, err
		}
	}
	return report, nil
}

// submit runs sbatch in the remote directory and stores the job id.
func (i *Instance) submit(ctx context.Context) error {
	stdout, stderr, err := i.transport.Exec(ctx, jobscript.SubmitCommand(i.RemoteDir))
	if strings.TrimSpace(stderr) != "" {
		i.logger.Error().Str("stderr", strings.TrimSpace(stderr)).Msg("error submitting job")
	}
	if err != nil {
		return fmt.Errorf("sbatch failed: %w", err)
	}
	jobID, ok := jobscript.ParseSubmission(stdout)
	if !ok {
		i.logger.Error().Str("stdout", strings.TrimSpace(stdout)).Msg("could not retrieve job id from sbatch output")
		return ErrSubmissionNotParsed
	}

	i.mu.Lock()
	i.st.JobID = jobID
	i.st.LastError = ""
	i.mu.Unlock()
	i.logger.Info().Str("job_id", jobID).Msg("job submitted")
	i.setLaunch(state.Submitted)
	return nil
}

// launch dispatches the engine without waiting. The process may still die
// right away; only the log tells whether it is alive.
func (i *Instance) launch(ctx context.Context) error {
	if err := i.transport.Launch(ctx, jobscript.LaunchCommand(i.RemoteDir, &i.script)); err != nil {
		return fmt.Errorf("launch failed: %w", err)
	}
	i.mu.Lock()
	i.st.LastError = ""
	i.mu.Unlock()
	i.logger.Info().Msg("engine launched")
	i.setLaunch(state.Running)
	return nil
}

// clearStaleLogs removes local copies of a previous run's log and scheduler
// captures, which would make the monitor report a finished run straight
// away. The remote copies are removed by the dispatch command itself.
func (i *Instance) clearStaleLogs() {
	var stale []string
	for _, name := range []string{constants.EngineLogName, constants.SchedulerErrName, constants.SchedulerOutName} {
		stale = append(stale, i.localPath(constants.LogsDir, name))
		if i.local {
			stale = append(stale, i.localPath(name))
		}
	}
	for _, p := range stale {
		if err := os.Remove(p); err != nil && !os.IsNotExist(err) {
			i.logger.Debug().Err(err).Str("file", p).Msg("failed to remove previous log")
		}
	}
}

// resetProgress drops the stage flags and progress of the previous run
// once a new one has been dispatched.
func (i *Instance) resetProgress() {
	i.mu.Lock()
	i.st.Stages = make(map[string]bool, len(i.opts.Pipeline))
	for _, s := range i.opts.Pipeline {
		i.st.Stages[s.Name] = false
	}
	i.st.Progress = 0
	i.mu.Unlock()
}

// Watch follows the log until the run finishes or ctx is cancelled. The
// progress reached is persisted either way.
func (i *Instance) Watch(ctx context.Context) (monitor.Result, error) {
	reporter := progress.Reporter(progress.NewBusProgress(i.opts.Bus, i.Name))
	if i.opts.Monitor.Reporter != nil {
		reporter = progress.Multi{i.opts.Monitor.Reporter, reporter}
	}
	m := monitor.New(monitor.Config{
		Instance:     i.Name,
		Transport:    i.transport,
		RemoteDir:    i.RemoteDir,
		LocalDir:     i.LocalDir,
		PollInterval: i.opts.Monitor.PollInterval,
		StartupDelay: i.opts.Monitor.StartupDelay,
		Reporter:     reporter,
		Logger:       i.logger,
	})

	res, err := m.Watch(ctx)

	i.mu.Lock()
	if res.Percent > i.st.Progress {
		i.st.Progress = res.Percent
	}
	i.mu.Unlock()

	outcome := ledger.OutcomeOK
	switch {
	case res.Completed:
		i.setLaunch(state.Done)
		i.opts.Graph.SetState(i.Name, graph.Active)
	case err != nil:
		outcome = ledger.OutcomeFailed
	default:
		outcome = ledger.OutcomePartial
	}
	// cancellation must not prevent the final bookkeeping
	bg := context.WithoutCancel(ctx)
	i.record(bg, ledger.Entry{Kind: ledger.KindMonitor, Outcome: outcome, Detail: fmt.Sprintf("%d%% %s", res.Percent, res.Milestone)})
	if serr := i.save(); serr != nil {
		i.logger.Warn().Err(serr).Msg("failed to save state after monitoring")
	}
	return res, err
}

func (i *Instance) fail(ctx context.Context, kind ledger.Kind, err error) {
	i.mu.Lock()
	i.st.LastError = err.Error()
	i.mu.Unlock()
	i.record(ctx, ledger.Entry{Kind: kind, Outcome: ledger.OutcomeFailed, Detail: err.Error()})
	if serr := i.save(); serr != nil {
		i.logger.Warn().Err(serr).Msg("failed to save state")
	}
}
