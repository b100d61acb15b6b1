// Package state persists one versioned state file per job instance.
package state

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/shore-hpc/shore/internal/constants"
)

// LaunchState tracks a run through not_submitted -> submitted -> running -> done.
// Direct launches skip submitted.
type LaunchState string

const (
	NotSubmitted LaunchState = "not_submitted"
	Submitted    LaunchState = "submitted"
	Running      LaunchState = "running"
	Done         LaunchState = "done"
)

// InstanceState lists exactly the fields of an instance that survive a restart.
type InstanceState struct {
	Version   int             `json:"version"`
	Name      string          `json:"name"`
	Structure string          `json:"structure"`
	Element   string          `json:"element"`
	Edge      string          `json:"edge"`
	LocalDir  string          `json:"local_dir"`
	RemoteDir string          `json:"remote_dir,omitempty"`
	JobID     string          `json:"job_id,omitempty"`
	Launch    LaunchState     `json:"launch_state"`
	Stages    map[string]bool `json:"stages"`
	SiteIDs   []int           `json:"site_ids"`
	Params    map[string]any  `json:"params,omitempty"`
	Progress  int             `json:"progress"`
	LastError string          `json:"last_error,omitempty"`
	UpdatedAt time.Time       `json:"updated_at"`
}

var (
	ErrNotFound           = errors.New("no saved state")
	ErrUnsupportedVersion = errors.New("state file version is newer than this build")
)

const fileSuffix = "_state"

// Store keeps state files in one directory.
type Store struct {
	dir string
}

// NewStore returns a store rooted at dir. The directory is created on first save.
func NewStore(dir string) *Store {
	return &Store{dir: dir}
}

// Dir returns the store directory.
func (s *Store) Dir() string { return s.dir }

// Path returns the state file path for an instance.
func (s *Store) Path(name string) string {
	return filepath.Join(s.dir, "."+name+fileSuffix)
}

// Load reads the state of name. A missing file yields ErrNotFound.
func (s *Store) Load(name string) (*InstanceState, error) {
	data, err := os.ReadFile(s.Path(name))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("%w for %s", ErrNotFound, name)
		}
		return nil, fmt.Errorf("failed to read state file: %w", err)
	}

	var st InstanceState
	if err := json.Unmarshal(data, &st); err != nil {
		return nil, fmt.Errorf("failed to parse state file: %w", err)
	}
	if st.Version > constants.StateVersion {
		return nil, fmt.Errorf("%w: %d", ErrUnsupportedVersion, st.Version)
	}
	if st.Stages == nil {
		st.Stages = make(map[string]bool)
	}
	if st.Launch == "" {
		st.Launch = NotSubmitted
	}
	return &st, nil
}

// Save writes st atomically, stamping version and update time.
func (s *Store) Save(st *InstanceState) error {
	if err := os.MkdirAll(s.dir, 0755); err != nil {
		return fmt.Errorf("failed to create state directory: %w", err)
	}

	st.Version = constants.StateVersion
	st.UpdatedAt = time.Now().UTC()

	data, err := json.MarshalIndent(st, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal state: %w", err)
	}

	path := s.Path(st.Name)
	tmpFile := path + ".tmp"
	if err := os.WriteFile(tmpFile, data, 0644); err != nil {
		return fmt.Errorf("failed to write state file: %w", err)
	}
	if err := os.Rename(tmpFile, path); err != nil {
		os.Remove(tmpFile)
		return fmt.Errorf("failed to rename state file: %w", err)
	}
	return nil
}

// List returns the names of all saved instances, sorted.
func (s *Store) List() ([]string, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to list state directory: %w", err)
	}
	var names []string
	for _, e := range entries {
		n := e.Name()
		if e.IsDir() || !strings.HasPrefix(n, ".") || !strings.HasSuffix(n, fileSuffix) {
			continue
		}
		names = append(names, strings.TrimSuffix(strings.TrimPrefix(n, "."), fileSuffix))
	}
	sort.Strings(names)
	return names, nil
}
