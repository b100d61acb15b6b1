package constants

import (
	"time"
)

// Application identity
const (
	AppName = "shore"

	// StateVersion is bumped whenever the persisted instance state layout changes.
	StateVersion = 1
)

// Local workspace layout: {root}/{structure}/{instance}/{InputFileName, ResultsDir, DFTDir, LogsDir}
const (
	InputFileName  = "ocean.in"
	JobScriptName  = "job.sh"
	ResultsDir     = "results"
	DFTDir         = "dft"
	LogsDir        = "logs"
	JarDir         = "jar"
	LedgerFileName = "ledger.db"
)

// Files produced by the simulation engine and the batch scheduler
const (
	EngineLogName    = "log"
	SchedulerOutName = "out"
	SchedulerErrName = "err"
	ScreenLogName    = "mpi_avg.log"
	CNBSELogName     = "ocean.log"
	SpectraPrefix    = "absspct"
)

// Remote subdirectories written by the engine
const (
	RemoteCNBSEDir  = "CNBSE"
	RemoteDFTDir    = "DFT"
	RemoteScreenDir = "SCREEN"
)

// DFTFiles are the input/output pairs pulled back from the DFT stage.
var DFTFiles = []string{"scf.in", "scf.out", "nscf.in", "nscf.out"}

// Monitoring
const (
	// MonitorPollInterval - interval between re-scans of the mirrored log (1 Hz)
	MonitorPollInterval = 1 * time.Second

	// MonitorStartupDelay - grace period before the first scan so the engine can create its log
	MonitorStartupDelay = 5 * time.Second

	// MirrorInterval - how often the remote mirror stats the watched files
	MirrorInterval = 2 * time.Second

	// TerminalPercent - milestone value that ends background monitoring
	TerminalPercent = 100
)

// Retry configuration for remote connections
const (
	// MaxRetries - maximum number of attempts for transient connection errors
	MaxRetries = 5

	// RetryInitialDelay - initial delay before first retry (200ms)
	RetryInitialDelay = 200 * time.Millisecond

	// RetryMaxDelay - maximum delay between retries (15s)
	RetryMaxDelay = 15 * time.Second
)

// Event System
const (
	// EventBusDefaultBuffer - default buffer size for event channels
	EventBusDefaultBuffer = 1000

	// EventBusMaxBuffer - maximum buffer size for high-throughput scenarios
	EventBusMaxBuffer = 5000
)

// Remote defaults
const (
	DefaultSSHPort     = 22
	DefaultCores       = 1
	DefaultEngine      = "ocean.pl"
	DefaultWalltime    = "24:00:00"
	DefaultDialTimeout = 30 * time.Second
)
