// Package remote moves files and commands between the workstation and the
// compute host. SSH talks to a cluster over SSH/SFTP; Local performs the same
// operations on the local filesystem for runs without a cluster.
package remote

import (
	"context"
	"errors"
	"strings"

	"github.com/shore-hpc/shore/internal/constants"
)

// Transport is the session a job instance uses to reach its working directory.
// Every operation may fail; callers decide whether a failure is fatal.
type Transport interface {
	// Connect opens the session. Calling it on an open session is a no-op.
	Connect(ctx context.Context) error
	// Disconnect closes the session. Calling it on a closed session is a no-op.
	Disconnect() error

	// Root is the base directory under which instance directories live.
	Root() string
	// User is the account jobs run under.
	User() string

	EnsureDir(ctx context.Context, dir string) error
	UploadFile(ctx context.Context, localPath, remoteDir string) error
	DownloadFile(ctx context.Context, name, localDir, remoteDir string) error
	// DownloadSpectra copies every spectrum file of remoteDir into localDir
	// and returns how many were copied.
	DownloadSpectra(ctx context.Context, remoteDir, localDir string) (int, error)
	CheckFolderExistsAndNotEmpty(ctx context.Context, dir string) (bool, error)

	// MonitorFiles mirrors the named files of remoteDir into localDir each
	// time they change. It blocks until ctx is done and then returns nil.
	MonitorFiles(ctx context.Context, remoteDir string, names []string, localDir string) error

	// Exec runs cmd to completion and captures its output.
	Exec(ctx context.Context, cmd string) (stdout, stderr string, err error)
	// Launch dispatches cmd and returns without waiting for it. Returning
	// says nothing about whether the process is alive.
	Launch(ctx context.Context, cmd string) error
}

var (
	ErrNotConnected = errors.New("transport is not connected")
	ErrNotExist     = errors.New("remote path does not exist")
)

// IsSpectrumFile reports whether name is an OCEAN spectrum output.
func IsSpectrumFile(name string) bool {
	return strings.HasPrefix(name, constants.SpectraPrefix)
}
