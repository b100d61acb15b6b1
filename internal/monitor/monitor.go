package monitor

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/shore-hpc/shore/internal/constants"
	"github.com/shore-hpc/shore/internal/logging"
	"github.com/shore-hpc/shore/internal/progress"
	"github.com/shore-hpc/shore/internal/remote"
)

// Config holds what one monitor run needs.
type Config struct {
	Instance  string
	Transport remote.Transport
	RemoteDir string // directory the engine writes its log in
	LocalDir  string // instance directory; the log is mirrored into LocalDir/logs

	PollInterval time.Duration
	StartupDelay time.Duration
	Milestones   []Milestone

	Reporter progress.Reporter
	Logger   *logging.Logger
}

// Result is the outcome of a monitor run.
type Result struct {
	Percent   int
	Milestone string
	Completed bool // the terminal milestone was observed
}

// Monitor mirrors one instance log and polls it for milestones.
// Each Watch call owns exactly one mirroring goroutine.
type Monitor struct {
	cfg     Config
	tracker *Tracker
}

// New creates a monitor, filling unset intervals with defaults.
func New(cfg Config) *Monitor {
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = constants.MonitorPollInterval
	}
	if cfg.StartupDelay < 0 {
		cfg.StartupDelay = 0
	}
	if cfg.Reporter == nil {
		cfg.Reporter = progress.NewNoOpProgress()
	}
	if cfg.Logger == nil {
		cfg.Logger = logging.Nop()
	}
	return &Monitor{cfg: cfg, tracker: NewTracker(cfg.Milestones)}
}

// LogPath is the local mirror of the engine log.
func (m *Monitor) LogPath() string {
	return filepath.Join(m.cfg.LocalDir, constants.LogsDir, constants.EngineLogName)
}

// Watch blocks until the terminal milestone is seen or ctx is cancelled.
// On every exit path the mirror goroutine is stopped and joined, the
// transport is disconnected and the reporter is finished. Cancellation is
// returned as ctx.Err() together with the progress reached so far.
func (m *Monitor) Watch(ctx context.Context) (res Result, err error) {
	log := m.cfg.Logger
	logsDir := filepath.Join(m.cfg.LocalDir, constants.LogsDir)
	if err := os.MkdirAll(logsDir, 0755); err != nil {
		return res, err
	}

	if err := m.cfg.Transport.Connect(ctx); err != nil {
		return res, err
	}

	watchCtx, stopWatch := context.WithCancel(ctx)
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		err := m.cfg.Transport.MonitorFiles(watchCtx, m.cfg.RemoteDir, []string{constants.EngineLogName}, logsDir)
		if err != nil && !errors.Is(err, context.Canceled) {
			log.Warn().Err(err).Str("remote_dir", m.cfg.RemoteDir).Msg("log mirror stopped")
		}
	}()

	m.cfg.Reporter.Start(constants.TerminalPercent, "ocean is rising")
	defer func() {
		stopWatch()
		wg.Wait()
		if derr := m.cfg.Transport.Disconnect(); derr != nil {
			log.Debug().Err(derr).Msg("disconnect after monitor failed")
		}
		m.cfg.Reporter.Finish()
		res = m.result()
	}()

	if !sleep(ctx, m.cfg.StartupDelay) {
		log.Info().Msg("monitor interrupted")
		return res, ctx.Err()
	}

	ticker := time.NewTicker(m.cfg.PollInterval)
	defer ticker.Stop()

	for {
		m.poll()
		if m.tracker.Done() {
			log.Info().Msg("Ocean is done")
			return res, nil
		}
		select {
		case <-ctx.Done():
			log.Info().Int("percent", m.tracker.Percent()).Msg("monitor interrupted")
			return res, ctx.Err()
		case <-ticker.C:
		}
	}
}

func (m *Monitor) poll() {
	before := m.tracker.Percent()
	pct, err := m.tracker.ScanFile(m.LogPath())
	if err != nil {
		if !errors.Is(err, os.ErrNotExist) {
			m.cfg.Logger.Debug().Err(err).Msg("log scan failed")
		}
		return
	}
	if pct != before {
		m.cfg.Reporter.SetDescription(m.tracker.Milestone())
		m.cfg.Reporter.Update(int64(pct))
		m.cfg.Logger.Debug().Int("percent", pct).Str("milestone", m.tracker.Milestone()).Msg("progress")
	}
}

func (m *Monitor) result() Result {
	return Result{
		Percent:   m.tracker.Percent(),
		Milestone: m.tracker.Milestone(),
		Completed: m.tracker.Done(),
	}
}

// sleep waits for d or until ctx is done. It reports whether d elapsed.
func sleep(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return ctx.Err() == nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
