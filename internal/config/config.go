package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"gopkg.in/ini.v1"

	"github.com/shore-hpc/shore/internal/constants"
	"github.com/shore-hpc/shore/internal/pathutil"
)

// Config is the shore configuration file.
//
// INI format:
//
//	[workspace]
//	root = /home/me/shore
//	log_file =
//
//	[remote]
//	enabled = true
//	host = cluster.example.org
//	port = 22
//	user = me
//	key_file = /home/me/.ssh/id_ed25519
//	known_hosts = /home/me/.ssh/known_hosts
//	insecure_ignore_host_key = false
//	root = /scratch/me/ocean
//	cores = 32
//	sbatch = true
//	activate = /opt/ocean/bin/activate
//	engine = ocean.pl
//	partition = normal
//	walltime = 24:00:00
//
//	[monitor]
//	poll_interval_seconds = 1
//	startup_delay_seconds = 5
//	mirror_interval_seconds = 2
//
//	[archive]
//	provider = none
//	bucket =
//	region =
//	prefix =
//	account_url =
type Config struct {
	Workspace WorkspaceConfig
	Remote    RemoteConfig
	Monitor   MonitorConfig
	Archive   ArchiveConfig
}

// WorkspaceConfig locates the local instance tree.
type WorkspaceConfig struct {
	Root    string `ini:"root" validate:"required"`
	LogFile string `ini:"log_file"`
}

// RemoteConfig describes the compute host. When Enabled is false,
// instances run locally.
type RemoteConfig struct {
	Enabled               bool   `ini:"enabled"`
	Host                  string `ini:"host" validate:"required_if=Enabled true"`
	Port                  int    `ini:"port" validate:"min=1,max=65535"`
	User                  string `ini:"user" validate:"required_if=Enabled true"`
	KeyFile               string `ini:"key_file"`
	KnownHosts            string `ini:"known_hosts"`
	InsecureIgnoreHostKey bool   `ini:"insecure_ignore_host_key"`
	Root                  string `ini:"root" validate:"required_if=Enabled true"`
	Cores                 int    `ini:"cores" validate:"min=1"`
	Sbatch                bool   `ini:"sbatch"`
	Activate              string `ini:"activate"`
	Engine                string `ini:"engine" validate:"required"`
	Partition             string `ini:"partition"`
	Walltime              string `ini:"walltime"`
}

// MonitorConfig holds the polling cadence of the progress monitor.
type MonitorConfig struct {
	PollIntervalSeconds   int `ini:"poll_interval_seconds" validate:"min=1,max=3600"`
	StartupDelaySeconds   int `ini:"startup_delay_seconds" validate:"min=0,max=600"`
	MirrorIntervalSeconds int `ini:"mirror_interval_seconds" validate:"min=1,max=3600"`
}

// ArchiveConfig selects the optional results archive.
type ArchiveConfig struct {
	Provider   string `ini:"provider" validate:"oneof=none s3 azure"`
	Bucket     string `ini:"bucket"`
	Region     string `ini:"region"`
	Prefix     string `ini:"prefix"`
	AccountURL string `ini:"account_url" validate:"omitempty,url"`
}

// Validation errors that the struct tags cannot express.
var (
	ErrArchiveMissingBucket = errors.New("archive bucket (or container) is required when provider is set")
	ErrArchiveMissingURL    = errors.New("archive account_url is required for the azure provider")
	ErrRemoteMissingAuth    = errors.New("remote key_file is required when remote is enabled")
	ErrRemoteHostKey        = errors.New("remote known_hosts is required unless insecure_ignore_host_key is set")
)

var validate = validator.New()

// NewConfig returns a Config populated with defaults.
func NewConfig() *Config {
	return &Config{
		Workspace: WorkspaceConfig{
			Root: DefaultWorkspaceRoot(),
		},
		Remote: RemoteConfig{
			Port:     constants.DefaultSSHPort,
			Cores:    constants.DefaultCores,
			Sbatch:   true,
			Engine:   constants.DefaultEngine,
			Walltime: constants.DefaultWalltime,
		},
		Monitor: MonitorConfig{
			PollIntervalSeconds:   int(constants.MonitorPollInterval / time.Second),
			StartupDelaySeconds:   int(constants.MonitorStartupDelay / time.Second),
			MirrorIntervalSeconds: int(constants.MirrorInterval / time.Second),
		},
		Archive: ArchiveConfig{
			Provider: "none",
		},
	}
}

// Load reads configuration from path. An empty path means the default location.
// A missing file yields defaults and no error.
func Load(path string) (*Config, error) {
	cfg := NewConfig()

	if path == "" {
		var err error
		path, err = DefaultConfigPath()
		if err != nil {
			return cfg, nil
		}
	}

	if _, err := os.Stat(path); os.IsNotExist(err) {
		return cfg, nil
	}

	iniFile, err := ini.Load(path)
	if err != nil {
		return nil, fmt.Errorf("failed to load %s: %w", filepath.Base(path), err)
	}

	ws := iniFile.Section("workspace")
	cfg.Workspace.Root = ws.Key("root").MustString(cfg.Workspace.Root)
	cfg.Workspace.LogFile = ws.Key("log_file").String()

	rs := iniFile.Section("remote")
	cfg.Remote.Enabled = rs.Key("enabled").MustBool(false)
	cfg.Remote.Host = rs.Key("host").String()
	cfg.Remote.Port = rs.Key("port").MustInt(constants.DefaultSSHPort)
	cfg.Remote.User = rs.Key("user").String()
	cfg.Remote.KeyFile = rs.Key("key_file").String()
	cfg.Remote.KnownHosts = rs.Key("known_hosts").String()
	cfg.Remote.InsecureIgnoreHostKey = rs.Key("insecure_ignore_host_key").MustBool(false)
	cfg.Remote.Root = rs.Key("root").String()
	cfg.Remote.Cores = rs.Key("cores").MustInt(constants.DefaultCores)
	cfg.Remote.Sbatch = rs.Key("sbatch").MustBool(true)
	cfg.Remote.Activate = rs.Key("activate").String()
	cfg.Remote.Engine = rs.Key("engine").MustString(constants.DefaultEngine)
	cfg.Remote.Partition = rs.Key("partition").String()
	cfg.Remote.Walltime = rs.Key("walltime").MustString(constants.DefaultWalltime)

	ms := iniFile.Section("monitor")
	cfg.Monitor.PollIntervalSeconds = ms.Key("poll_interval_seconds").MustInt(cfg.Monitor.PollIntervalSeconds)
	cfg.Monitor.StartupDelaySeconds = ms.Key("startup_delay_seconds").MustInt(cfg.Monitor.StartupDelaySeconds)
	cfg.Monitor.MirrorIntervalSeconds = ms.Key("mirror_interval_seconds").MustInt(cfg.Monitor.MirrorIntervalSeconds)

	as := iniFile.Section("archive")
	cfg.Archive.Provider = strings.ToLower(as.Key("provider").MustString("none"))
	cfg.Archive.Bucket = as.Key("bucket").String()
	cfg.Archive.Region = as.Key("region").String()
	cfg.Archive.Prefix = as.Key("prefix").String()
	cfg.Archive.AccountURL = as.Key("account_url").String()

	if err := cfg.expandPaths(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// expandPaths resolves ~ and relative local paths.
func (cfg *Config) expandPaths() error {
	root, err := pathutil.ResolveAbsolutePath(cfg.Workspace.Root)
	if err != nil {
		return fmt.Errorf("invalid workspace root: %w", err)
	}
	cfg.Workspace.Root = root

	for _, p := range []*string{&cfg.Workspace.LogFile, &cfg.Remote.KeyFile, &cfg.Remote.KnownHosts} {
		if *p == "" {
			continue
		}
		if *p, err = pathutil.ExpandHome(*p); err != nil {
			return err
		}
	}
	return nil
}

// Save writes cfg to path atomically with owner-only permissions.
// An empty path means the default location.
func Save(cfg *Config, path string) error {
	if path == "" {
		var err error
		path, err = DefaultConfigPath()
		if err != nil {
			return fmt.Errorf("failed to determine config path: %w", err)
		}
	}

	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	iniFile := ini.Empty()
	sections := []struct {
		name string
		v    interface{}
	}{
		{"workspace", &cfg.Workspace},
		{"remote", &cfg.Remote},
		{"monitor", &cfg.Monitor},
		{"archive", &cfg.Archive},
	}
	for _, s := range sections {
		sec, err := iniFile.NewSection(s.name)
		if err != nil {
			return fmt.Errorf("failed to create %s section: %w", s.name, err)
		}
		if err := sec.ReflectFrom(s.v); err != nil {
			return fmt.Errorf("failed to write %s section: %w", s.name, err)
		}
	}

	tmpPath := path + ".tmp"
	if err := iniFile.SaveTo(tmpPath); err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}

	if runtime.GOOS != "windows" {
		if err := os.Chmod(tmpPath, 0600); err != nil {
			os.Remove(tmpPath)
			return fmt.Errorf("failed to set config permissions: %w", err)
		}
	}

	if err := os.Rename(tmpPath, path); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("failed to save config: %w", err)
	}

	return nil
}

// Validate checks the configuration. Struct tags cover ranges and
// required fields; cross-field rules are checked explicitly.
func (cfg *Config) Validate() error {
	if err := validate.Struct(cfg); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	if cfg.Remote.Enabled {
		if strings.TrimSpace(cfg.Remote.KeyFile) == "" {
			return ErrRemoteMissingAuth
		}
		if cfg.Remote.KnownHosts == "" && !cfg.Remote.InsecureIgnoreHostKey {
			return ErrRemoteHostKey
		}
	}

	switch cfg.Archive.Provider {
	case "s3":
		if cfg.Archive.Bucket == "" {
			return ErrArchiveMissingBucket
		}
	case "azure":
		if cfg.Archive.Bucket == "" {
			return ErrArchiveMissingBucket
		}
		if cfg.Archive.AccountURL == "" {
			return ErrArchiveMissingURL
		}
	}

	return nil
}

// PollInterval returns the monitor polling interval.
func (cfg *Config) PollInterval() time.Duration {
	return time.Duration(cfg.Monitor.PollIntervalSeconds) * time.Second
}

// StartupDelay returns the pause before the first log scan.
func (cfg *Config) StartupDelay() time.Duration {
	return time.Duration(cfg.Monitor.StartupDelaySeconds) * time.Second
}

// MirrorInterval returns how often remote log files are re-checked.
func (cfg *Config) MirrorInterval() time.Duration {
	return time.Duration(cfg.Monitor.MirrorIntervalSeconds) * time.Second
}

// LedgerPath returns the run ledger location under the workspace root.
func (cfg *Config) LedgerPath() string {
	return filepath.Join(cfg.Workspace.Root, constants.JarDir, constants.LedgerFileName)
}
