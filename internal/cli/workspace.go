package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/shore-hpc/shore/internal/archive"
	"github.com/shore-hpc/shore/internal/config"
	"github.com/shore-hpc/shore/internal/constants"
	"github.com/shore-hpc/shore/internal/events"
	"github.com/shore-hpc/shore/internal/instance"
	"github.com/shore-hpc/shore/internal/jobscript"
	"github.com/shore-hpc/shore/internal/ledger"
	"github.com/shore-hpc/shore/internal/logging"
	"github.com/shore-hpc/shore/internal/models"
	"github.com/shore-hpc/shore/internal/orchestrator"
	"github.com/shore-hpc/shore/internal/pathutil"
	"github.com/shore-hpc/shore/internal/progress"
	"github.com/shore-hpc/shore/internal/remote"
	"github.com/shore-hpc/shore/internal/state"
)

// workspace is everything one command needs: configuration, the shared
// collaborators and the orchestrator holding the job file's instances.
type workspace struct {
	cfg       *config.Config
	logger    *logging.Logger
	bus       *events.EventBus
	transport remote.Transport // nil in local mode
	ledger    *ledger.Ledger
	jobs      *models.JobFile
	orch      *orchestrator.Orchestrator
	events    *eventPrinter // nil unless printEvents was called
}

// loadConfig reads the config file and applies the global flag overrides.
func loadConfig() (*config.Config, error) {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return nil, err
	}
	if rootDir != "" {
		abs, err := pathutil.ResolveAbsolutePath(rootDir)
		if err != nil {
			return nil, fmt.Errorf("invalid --root: %w", err)
		}
		cfg.Workspace.Root = abs
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// openWorkspace loads the config and the job file and registers every
// declared instance, resuming saved state and staging inputs on the
// compute host.
func openWorkspace(ctx context.Context) (*workspace, error) {
	return loadWorkspace(ctx, false)
}

// openReadOnlyWorkspace is openWorkspace for commands that only inspect
// instances; nothing is uploaded until a later run or set.
func openReadOnlyWorkspace(ctx context.Context) (*workspace, error) {
	return loadWorkspace(ctx, true)
}

func loadWorkspace(ctx context.Context, deferStaging bool) (*workspace, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}

	jobs, err := models.LoadJobFile(jobsFile)
	if err != nil {
		return nil, err
	}

	ws := &workspace{
		cfg: cfg,
		bus: events.NewEventBus(0),
	}

	logFile := cfg.Workspace.LogFile
	if logFile == "" {
		if err := config.EnsureLogDirectory(); err == nil {
			logFile = filepath.Join(config.LogDirectory(), constants.AppName+".log")
		}
	}
	ws.logger = logging.NewLogger(logging.Options{
		LogFile:  logFile,
		Verbose:  verbose,
		EventBus: ws.bus,
	})

	if cfg.Remote.Enabled {
		ws.transport = remote.NewSSH(remote.SSHConfig{
			Host:                  cfg.Remote.Host,
			Port:                  cfg.Remote.Port,
			User:                  cfg.Remote.User,
			KeyFile:               cfg.Remote.KeyFile,
			KnownHosts:            cfg.Remote.KnownHosts,
			InsecureIgnoreHostKey: cfg.Remote.InsecureIgnoreHostKey,
			Root:                  cfg.Remote.Root,
			MirrorInterval:        cfg.MirrorInterval(),
		}, ws.logger)
	}

	ws.ledger, err = ledger.Open(cfg.LedgerPath())
	if err != nil {
		// history is a convenience; runs still work without it
		ws.logger.Warn().Err(err).Msg("run ledger unavailable")
		ws.ledger = nil
	}

	opts := instance.Options{
		Root:      cfg.Workspace.Root,
		Transport: ws.transport,
		Sbatch:    cfg.Remote.Enabled && cfg.Remote.Sbatch,
		Script: jobscript.Script{
			Cores:     cfg.Remote.Cores,
			Partition: cfg.Remote.Partition,
			Walltime:  cfg.Remote.Walltime,
			Activate:  cfg.Remote.Activate,
			Engine:    cfg.Remote.Engine,
		},
		Store:        state.NewStore(filepath.Join(cfg.Workspace.Root, constants.JarDir)),
		Bus:          ws.bus,
		Logger:       ws.logger,
		DeferStaging: deferStaging,
		Monitor: instance.MonitorOptions{
			PollInterval: cfg.PollInterval(),
			StartupDelay: cfg.StartupDelay(),
			Reporter:     progress.NewCLIProgress(),
		},
	}
	if ws.ledger != nil {
		opts.Recorder = ws.ledger
	}

	ws.jobs = jobs
	ws.orch = orchestrator.New(opts)
	if err := ws.orch.AddJobFile(ctx, jobs, false); err != nil {
		ws.Close()
		return nil, err
	}
	return ws, nil
}

// instances resolves names to instances; no names means all of them.
func (ws *workspace) instances(names []string) ([]*instance.Instance, error) {
	if len(names) == 0 {
		return ws.orch.Instances(), nil
	}
	out := make([]*instance.Instance, 0, len(names))
	for _, n := range names {
		inst, err := ws.orch.Get(n)
		if err != nil {
			return nil, err
		}
		out = append(out, inst)
	}
	return out, nil
}

// printEvents starts collecting launch transitions and stage completions
// for printing to w.
func (ws *workspace) printEvents(w io.Writer) {
	ws.events = newEventPrinter(ws.bus, w)
}

// Close releases the transport and the ledger.
func (ws *workspace) Close() {
	var errs []error
	if ws.transport != nil {
		errs = append(errs, ws.transport.Disconnect())
	}
	if ws.ledger != nil {
		errs = append(errs, ws.ledger.Close())
	}
	ws.bus.Close()
	if err := errors.Join(errs...); err != nil {
		ws.logger.Debug().Err(err).Msg("workspace close")
	}
	ws.logger.Close()
}

// archiveCredentials reads object store credentials from the environment.
func archiveCredentials() archive.Credentials {
	return archive.Credentials{
		AccessKeyID:     os.Getenv("SHORE_ARCHIVE_ACCESS_KEY_ID"),
		SecretAccessKey: os.Getenv("SHORE_ARCHIVE_SECRET_ACCESS_KEY"),
		SessionToken:    os.Getenv("SHORE_ARCHIVE_SESSION_TOKEN"),
		Endpoint:        os.Getenv("SHORE_ARCHIVE_ENDPOINT"),
	}
}
