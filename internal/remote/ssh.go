package remote

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"net"
	"os"
	"path"
	"path/filepath"
	"strconv"
	"sync"
	"time"

	"github.com/pkg/sftp"
	"golang.org/x/crypto/ssh"
	"golang.org/x/crypto/ssh/knownhosts"

	"github.com/shore-hpc/shore/internal/constants"
	"github.com/shore-hpc/shore/internal/diskspace"
	"github.com/shore-hpc/shore/internal/logging"
	"github.com/shore-hpc/shore/internal/validation"
)

// SSHConfig describes how to reach the cluster.
type SSHConfig struct {
	Host                  string
	Port                  int
	User                  string
	KeyFile               string
	KnownHosts            string
	InsecureIgnoreHostKey bool
	Root                  string
	DialTimeout           time.Duration
	MirrorInterval        time.Duration
	Retry                 RetryConfig
}

// SSH is a Transport over one SSH connection with an SFTP subsystem.
// Its methods are safe for concurrent use.
type SSH struct {
	cfg    SSHConfig
	logger *logging.Logger

	mu     sync.Mutex
	client *ssh.Client
	sftp   *sftp.Client
}

// NewSSH creates an unconnected SSH transport.
func NewSSH(cfg SSHConfig, logger *logging.Logger) *SSH {
	if cfg.Port == 0 {
		cfg.Port = constants.DefaultSSHPort
	}
	if cfg.DialTimeout == 0 {
		cfg.DialTimeout = constants.DefaultDialTimeout
	}
	if cfg.MirrorInterval == 0 {
		cfg.MirrorInterval = constants.MirrorInterval
	}
	if cfg.Retry.MaxRetries == 0 {
		cfg.Retry = DefaultRetryConfig()
	}
	if logger == nil {
		logger = logging.Nop()
	}
	return &SSH{cfg: cfg, logger: logger}
}

func (s *SSH) Root() string { return s.cfg.Root }
func (s *SSH) User() string { return s.cfg.User }

func (s *SSH) clientConfig() (*ssh.ClientConfig, error) {
	key, err := os.ReadFile(s.cfg.KeyFile)
	if err != nil {
		return nil, fmt.Errorf("failed to read key file: %w", err)
	}
	signer, err := ssh.ParsePrivateKey(key)
	if err != nil {
		return nil, fmt.Errorf("failed to parse key file: %w", err)
	}

	var hostKey ssh.HostKeyCallback
	if s.cfg.InsecureIgnoreHostKey {
		hostKey = ssh.InsecureIgnoreHostKey()
	} else {
		hostKey, err = knownhosts.New(s.cfg.KnownHosts)
		if err != nil {
			return nil, fmt.Errorf("failed to load known_hosts: %w", err)
		}
	}

	return &ssh.ClientConfig{
		User:            s.cfg.User,
		Auth:            []ssh.AuthMethod{ssh.PublicKeys(signer)},
		HostKeyCallback: hostKey,
		Timeout:         s.cfg.DialTimeout,
	}, nil
}

// Connect dials the host, retrying network failures with backoff.
func (s *SSH) Connect(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.client != nil {
		return nil
	}

	cc, err := s.clientConfig()
	if err != nil {
		return err
	}
	addr := net.JoinHostPort(s.cfg.Host, strconv.Itoa(s.cfg.Port))

	retry := s.cfg.Retry
	retry.OnRetry = func(attempt int, err error, errType ErrorType) {
		s.logger.Warn().Err(err).Int("attempt", attempt).Str("host", addr).
			Str("class", ErrorTypeName(errType)).Msg("SSH connect failed, retrying")
	}

	var client *ssh.Client
	err = ExecuteWithRetry(ctx, retry, func() error {
		d := net.Dialer{Timeout: s.cfg.DialTimeout}
		conn, err := d.DialContext(ctx, "tcp", addr)
		if err != nil {
			return err
		}
		c, chans, reqs, err := ssh.NewClientConn(conn, addr, cc)
		if err != nil {
			conn.Close()
			return err
		}
		client = ssh.NewClient(c, chans, reqs)
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to connect to %s: %w", addr, err)
	}

	sc, err := sftp.NewClient(client)
	if err != nil {
		client.Close()
		return fmt.Errorf("failed to start sftp on %s: %w", addr, err)
	}

	s.client = client
	s.sftp = sc
	s.logger.Debug().Str("host", addr).Msg("SSH session opened")
	go s.forgetOnClose(client)
	return nil
}

// forgetOnClose waits for client's connection to end and, unless it was
// replaced or closed by Disconnect, drops it so the next call reconnects.
func (s *SSH) forgetOnClose(client *ssh.Client) {
	err := client.Wait()
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.client != client {
		return
	}
	s.logger.Warn().Err(err).Str("host", s.cfg.Host).Msg("SSH connection lost")
	if s.sftp != nil {
		s.sftp.Close()
	}
	s.client, s.sftp = nil, nil
}

// connected reports whether a session is currently held.
func (s *SSH) connected() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.client != nil
}

// Disconnect closes the SFTP subsystem and the SSH connection.
func (s *SSH) Disconnect() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.client == nil {
		return nil
	}
	var errs []error
	if s.sftp != nil {
		errs = append(errs, s.sftp.Close())
	}
	errs = append(errs, s.client.Close())
	s.client, s.sftp = nil, nil
	return errors.Join(errs...)
}

func (s *SSH) session(ctx context.Context) (*ssh.Client, *sftp.Client, error) {
	if err := s.Connect(ctx); err != nil {
		return nil, nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.client == nil {
		return nil, nil, ErrNotConnected
	}
	return s.client, s.sftp, nil
}

func (s *SSH) EnsureDir(ctx context.Context, dir string) error {
	_, sc, err := s.session(ctx)
	if err != nil {
		return err
	}
	if err := sc.MkdirAll(dir); err != nil {
		return fmt.Errorf("failed to create %s: %w", dir, err)
	}
	return nil
}

func (s *SSH) UploadFile(ctx context.Context, localPath, remoteDir string) error {
	_, sc, err := s.session(ctx)
	if err != nil {
		return err
	}

	src, err := os.Open(localPath)
	if err != nil {
		return fmt.Errorf("failed to open %s: %w", localPath, err)
	}
	defer src.Close()

	target := path.Join(remoteDir, filepath.Base(localPath))
	dst, err := sc.Create(target)
	if err != nil {
		return fmt.Errorf("failed to create %s: %w", target, err)
	}
	if _, err := io.Copy(dst, src); err != nil {
		dst.Close()
		return fmt.Errorf("failed to upload %s: %w", target, err)
	}
	return dst.Close()
}

func (s *SSH) DownloadFile(ctx context.Context, name, localDir, remoteDir string) error {
	_, sc, err := s.session(ctx)
	if err != nil {
		return err
	}
	return s.download(sc, path.Join(remoteDir, name), filepath.Join(localDir, name))
}

func (s *SSH) download(sc *sftp.Client, remotePath, localPath string) error {
	src, err := sc.Open(remotePath)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("%w: %s", ErrNotExist, remotePath)
		}
		return fmt.Errorf("failed to open %s: %w", remotePath, err)
	}
	defer src.Close()
	return writeAtomic(localPath, src)
}

func (s *SSH) DownloadSpectra(ctx context.Context, remoteDir, localDir string) (int, error) {
	_, sc, err := s.session(ctx)
	if err != nil {
		return 0, err
	}
	entries, err := sc.ReadDir(remoteDir)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return 0, fmt.Errorf("%w: %s", ErrNotExist, remoteDir)
		}
		return 0, fmt.Errorf("failed to list %s: %w", remoteDir, err)
	}

	var selected []os.FileInfo
	var total int64
	for _, e := range entries {
		if e.IsDir() || !IsSpectrumFile(e.Name()) {
			continue
		}
		selected = append(selected, e)
		total += e.Size()
	}
	if err := diskspace.Check(localDir, total, diskspace.DefaultMargin); err != nil {
		return 0, err
	}

	n := 0
	for _, e := range selected {
		dst, err := validation.SafeJoin(localDir, e.Name())
		if err != nil {
			return n, err
		}
		if err := s.download(sc, path.Join(remoteDir, e.Name()), dst); err != nil {
			return n, err
		}
		n++
	}
	return n, nil
}

func (s *SSH) CheckFolderExistsAndNotEmpty(ctx context.Context, dir string) (bool, error) {
	_, sc, err := s.session(ctx)
	if err != nil {
		return false, err
	}
	entries, err := sc.ReadDir(dir)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return false, nil
		}
		return false, fmt.Errorf("failed to list %s: %w", dir, err)
	}
	return len(entries) > 0, nil
}

// MonitorFiles polls the remote files every MirrorInterval and downloads
// the ones whose size or modification time changed.
func (s *SSH) MonitorFiles(ctx context.Context, remoteDir string, names []string, localDir string) error {
	seen := make(map[string]fileStamp, len(names))
	ticker := time.NewTicker(s.cfg.MirrorInterval)
	defer ticker.Stop()

	for {
		_, sc, err := s.session(ctx)
		if err != nil {
			s.logger.Debug().Err(err).Str("remote_dir", remoteDir).Msg("mirror: no session")
		} else {
			for _, name := range names {
				remotePath := path.Join(remoteDir, name)
				info, err := sc.Stat(remotePath)
				if err != nil {
					continue // not written yet
				}
				stamp := fileStamp{size: info.Size(), mod: info.ModTime()}
				if seen[name] == stamp {
					continue
				}
				if err := s.download(sc, remotePath, filepath.Join(localDir, name)); err != nil {
					s.logger.Debug().Err(err).Str("file", remotePath).Msg("mirror: download failed")
					continue
				}
				seen[name] = stamp
			}
		}

		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
	}
}

type fileStamp struct {
	size int64
	mod  time.Time
}

func (s *SSH) Exec(ctx context.Context, cmd string) (string, string, error) {
	client, _, err := s.session(ctx)
	if err != nil {
		return "", "", err
	}
	sess, err := client.NewSession()
	if err != nil {
		return "", "", fmt.Errorf("failed to open session: %w", err)
	}
	defer sess.Close()

	var stdout, stderr bytes.Buffer
	sess.Stdout = &stdout
	sess.Stderr = &stderr

	done := make(chan error, 1)
	go func() { done <- sess.Run(cmd) }()

	select {
	case <-ctx.Done():
		sess.Close()
		<-done
		return stdout.String(), stderr.String(), ctx.Err()
	case err := <-done:
		var exitErr *ssh.ExitError
		if errors.As(err, &exitErr) {
			// non-zero exit still carries useful output
			return stdout.String(), stderr.String(), fmt.Errorf("remote command exited %d: %w", exitErr.ExitStatus(), err)
		}
		return stdout.String(), stderr.String(), err
	}
}

// Launch starts cmd on a fresh channel and closes the channel right away.
// The remote process outlives the channel when cmd backgrounds itself.
func (s *SSH) Launch(ctx context.Context, cmd string) error {
	client, _, err := s.session(ctx)
	if err != nil {
		return err
	}
	sess, err := client.NewSession()
	if err != nil {
		return fmt.Errorf("failed to open session: %w", err)
	}
	defer sess.Close()
	if err := sess.Start(cmd); err != nil {
		return fmt.Errorf("failed to dispatch command: %w", err)
	}
	return nil
}

// writeAtomic copies r into path via a temp file in the same directory.
func writeAtomic(path string, r io.Reader) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create %s: %w", dir, err)
	}
	tmp, err := os.CreateTemp(dir, "."+filepath.Base(path)+".*")
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	tmpPath := tmp.Name()
	if _, err := io.Copy(tmp, r); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("failed to write %s: %w", path, err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpPath)
		return err
	}
	if err := os.Rename(tmpPath, path); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("failed to rename %s: %w", path, err)
	}
	return nil
}

var _ Transport = (*SSH)(nil)
