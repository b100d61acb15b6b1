package remote

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"os/exec"
	"os/user"
	"path/filepath"
	"sync"

	"github.com/fsnotify/fsnotify"

	"github.com/shore-hpc/shore/internal/diskspace"
	"github.com/shore-hpc/shore/internal/logging"
	"github.com/shore-hpc/shore/internal/validation"
)

// Local is a Transport whose "remote" side is the local filesystem.
// Commands run through sh -c.
type Local struct {
	root   string
	logger *logging.Logger

	wg sync.WaitGroup // launched processes
}

// NewLocal creates a local transport rooted at root.
func NewLocal(root string, logger *logging.Logger) *Local {
	if logger == nil {
		logger = logging.Nop()
	}
	return &Local{root: root, logger: logger}
}

func (l *Local) Connect(ctx context.Context) error { return ctx.Err() }
func (l *Local) Disconnect() error                 { return nil }
func (l *Local) Root() string                      { return l.root }

func (l *Local) User() string {
	if u, err := user.Current(); err == nil {
		return u.Username
	}
	return os.Getenv("USER")
}

func (l *Local) EnsureDir(_ context.Context, dir string) error {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create %s: %w", dir, err)
	}
	return nil
}

func (l *Local) UploadFile(_ context.Context, localPath, remoteDir string) error {
	return copyFile(localPath, filepath.Join(remoteDir, filepath.Base(localPath)))
}

func (l *Local) DownloadFile(_ context.Context, name, localDir, remoteDir string) error {
	return copyFile(filepath.Join(remoteDir, name), filepath.Join(localDir, name))
}

func (l *Local) DownloadSpectra(_ context.Context, remoteDir, localDir string) (int, error) {
	entries, err := os.ReadDir(remoteDir)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return 0, fmt.Errorf("%w: %s", ErrNotExist, remoteDir)
		}
		return 0, fmt.Errorf("failed to list %s: %w", remoteDir, err)
	}

	var names []string
	var total int64
	for _, e := range entries {
		if e.IsDir() || !IsSpectrumFile(e.Name()) {
			continue
		}
		if info, err := e.Info(); err == nil {
			total += info.Size()
		}
		names = append(names, e.Name())
	}
	if err := diskspace.Check(localDir, total, diskspace.DefaultMargin); err != nil {
		return 0, err
	}

	n := 0
	for _, name := range names {
		dst, err := validation.SafeJoin(localDir, name)
		if err != nil {
			return n, err
		}
		if err := copyFile(filepath.Join(remoteDir, name), dst); err != nil {
			return n, err
		}
		n++
	}
	return n, nil
}

func (l *Local) CheckFolderExistsAndNotEmpty(_ context.Context, dir string) (bool, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return false, nil
		}
		return false, fmt.Errorf("failed to list %s: %w", dir, err)
	}
	return len(entries) > 0, nil
}

// MonitorFiles copies the named files once, then again on every write
// event fsnotify reports for them.
func (l *Local) MonitorFiles(ctx context.Context, remoteDir string, names []string, localDir string) error {
	if err := os.MkdirAll(remoteDir, 0755); err != nil {
		return fmt.Errorf("failed to create %s: %w", remoteDir, err)
	}

	w, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create watcher: %w", err)
	}
	defer w.Close()
	if err := w.Add(remoteDir); err != nil {
		return fmt.Errorf("failed to watch %s: %w", remoteDir, err)
	}

	// initial copy after Add so no write falls between the two
	watched := make(map[string]bool, len(names))
	for _, n := range names {
		watched[n] = true
		l.mirror(remoteDir, n, localDir)
	}

	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-w.Events:
			if !ok {
				return nil
			}
			name := filepath.Base(ev.Name)
			if watched[name] && ev.Has(fsnotify.Write|fsnotify.Create) {
				l.mirror(remoteDir, name, localDir)
			}
		case err, ok := <-w.Errors:
			if !ok {
				return nil
			}
			l.logger.Debug().Err(err).Str("dir", remoteDir).Msg("watch error")
		}
	}
}

func (l *Local) mirror(remoteDir, name, localDir string) {
	src := filepath.Join(remoteDir, name)
	if _, err := os.Stat(src); err != nil {
		return
	}
	if err := copyFile(src, filepath.Join(localDir, name)); err != nil {
		l.logger.Debug().Err(err).Str("file", src).Msg("mirror: copy failed")
	}
}

func (l *Local) Exec(ctx context.Context, cmd string) (string, string, error) {
	c := exec.CommandContext(ctx, "sh", "-c", cmd)
	var stdout, stderr bytes.Buffer
	c.Stdout = &stdout
	c.Stderr = &stderr
	err := c.Run()
	return stdout.String(), stderr.String(), err
}

// Launch starts cmd detached from ctx and reaps it in the background.
func (l *Local) Launch(_ context.Context, cmd string) error {
	c := exec.Command("sh", "-c", cmd)
	if err := c.Start(); err != nil {
		return fmt.Errorf("failed to start command: %w", err)
	}
	l.wg.Add(1)
	go func() {
		defer l.wg.Done()
		if err := c.Wait(); err != nil {
			l.logger.Debug().Err(err).Str("cmd", cmd).Msg("launched process exited")
		}
	}()
	return nil
}

// Wait blocks until every launched process has exited. Used by tests.
func (l *Local) Wait() { l.wg.Wait() }

// copyFile copies src to dst atomically. Copying a file onto itself is a no-op.
func copyFile(src, dst string) error {
	if same, _ := samePath(src, dst); same {
		return nil
	}
	f, err := os.Open(src)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("%w: %s", ErrNotExist, src)
		}
		return fmt.Errorf("failed to open %s: %w", src, err)
	}
	defer f.Close()
	return writeAtomic(dst, f)
}

func samePath(a, b string) (bool, error) {
	aa, err := filepath.Abs(a)
	if err != nil {
		return false, err
	}
	bb, err := filepath.Abs(b)
	if err != nil {
		return false, err
	}
	return aa == bb, nil
}

var _ Transport = (*Local)(nil)
