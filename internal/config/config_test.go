package config

import (
	"errors"
	"os"
	"path/filepath"
	"runtime"
	"testing"
	"time"
)

func TestNewConfigDefaults(t *testing.T) {
	cfg := NewConfig()

	if cfg.Remote.Enabled {
		t.Errorf("Expected remote disabled by default")
	}
	if cfg.Remote.Port != 22 {
		t.Errorf("Expected Port=22, got %d", cfg.Remote.Port)
	}
	if cfg.Remote.Engine != "ocean.pl" {
		t.Errorf("Expected Engine=ocean.pl, got %s", cfg.Remote.Engine)
	}
	if cfg.PollInterval() != time.Second {
		t.Errorf("Expected 1s poll interval, got %v", cfg.PollInterval())
	}
	if cfg.StartupDelay() != 5*time.Second {
		t.Errorf("Expected 5s startup delay, got %v", cfg.StartupDelay())
	}
	if cfg.Archive.Provider != "none" {
		t.Errorf("Expected archive provider none, got %s", cfg.Archive.Provider)
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("defaults should validate: %v", err)
	}
}

func TestLoadMissingFileReturnsDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "absent.conf"))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Remote.Cores != 1 {
		t.Errorf("Expected default cores, got %d", cfg.Remote.Cores)
	}
}

func TestConfigSaveLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "shore.conf")

	cfg := NewConfig()
	cfg.Workspace.Root = "/data/shore"
	cfg.Remote.Enabled = true
	cfg.Remote.Host = "cluster.example.org"
	cfg.Remote.User = "me"
	cfg.Remote.KeyFile = "/home/me/.ssh/id_ed25519"
	cfg.Remote.InsecureIgnoreHostKey = true
	cfg.Remote.Root = "/scratch/me"
	cfg.Remote.Cores = 64
	cfg.Remote.Sbatch = false
	cfg.Monitor.PollIntervalSeconds = 3
	cfg.Archive.Provider = "s3"
	cfg.Archive.Bucket = "spectra"

	if err := Save(cfg, path); err != nil {
		t.Fatalf("Save: %v", err)
	}

	if runtime.GOOS != "windows" {
		info, err := os.Stat(path)
		if err != nil {
			t.Fatalf("stat: %v", err)
		}
		if info.Mode().Perm() != 0600 {
			t.Errorf("Expected 0600 permissions, got %o", info.Mode().Perm())
		}
	}

	loaded, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if *loaded != *cfg {
		t.Errorf("round trip mismatch:\n got  %+v\n want %+v", loaded, cfg)
	}
	if err := loaded.Validate(); err != nil {
		t.Errorf("loaded config should validate: %v", err)
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr error
		anyErr  bool
	}{
		{
			name:   "remote enabled without host",
			mutate: func(c *Config) { c.Remote.Enabled = true; c.Remote.User = "u"; c.Remote.Root = "/r" },
			anyErr: true,
		},
		{
			name: "remote enabled without key",
			mutate: func(c *Config) {
				c.Remote.Enabled = true
				c.Remote.Host, c.Remote.User, c.Remote.Root = "h", "u", "/r"
			},
			wantErr: ErrRemoteMissingAuth,
		},
		{
			name: "remote enabled without host key policy",
			mutate: func(c *Config) {
				c.Remote.Enabled = true
				c.Remote.Host, c.Remote.User, c.Remote.Root = "h", "u", "/r"
				c.Remote.KeyFile = "/k"
			},
			wantErr: ErrRemoteHostKey,
		},
		{
			name:   "zero cores",
			mutate: func(c *Config) { c.Remote.Cores = 0 },
			anyErr: true,
		},
		{
			name:   "unknown archive provider",
			mutate: func(c *Config) { c.Archive.Provider = "ftp" },
			anyErr: true,
		},
		{
			name:    "s3 without bucket",
			mutate:  func(c *Config) { c.Archive.Provider = "s3" },
			wantErr: ErrArchiveMissingBucket,
		},
		{
			name:    "azure without url",
			mutate:  func(c *Config) { c.Archive.Provider = "azure"; c.Archive.Bucket = "results" },
			wantErr: ErrArchiveMissingURL,
		},
		{
			name:   "poll interval out of range",
			mutate: func(c *Config) { c.Monitor.PollIntervalSeconds = 0 },
			anyErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := NewConfig()
			tt.mutate(cfg)
			err := cfg.Validate()
			if err == nil {
				t.Fatal("expected validation error")
			}
			if tt.wantErr != nil && !errors.Is(err, tt.wantErr) {
				t.Errorf("got %v, want %v", err, tt.wantErr)
			}
		})
	}
}

func TestLedgerPath(t *testing.T) {
	cfg := NewConfig()
	cfg.Workspace.Root = "/w"
	if got := cfg.LedgerPath(); got != filepath.Join("/w", "jar", "ledger.db") {
		t.Errorf("unexpected ledger path %s", got)
	}
}

func TestLoadExpandsHome(t *testing.T) {
	home, err := os.UserHomeDir()
	if err != nil {
		t.Skip("no home directory")
	}
	path := filepath.Join(t.TempDir(), "shore.conf")
	data := "[remote]\nkey_file = ~/.ssh/id_ed25519\n"
	if err := os.WriteFile(path, []byte(data), 0600); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if want := filepath.Join(home, ".ssh", "id_ed25519"); cfg.Remote.KeyFile != want {
		t.Errorf("key file = %q, want %q", cfg.Remote.KeyFile, want)
	}
	if !filepath.IsAbs(cfg.Workspace.Root) {
		t.Errorf("workspace root %q is not absolute", cfg.Workspace.Root)
	}
}
