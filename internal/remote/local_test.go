package remote

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
}

func TestLocalUploadDownload(t *testing.T) {
	ctx := context.Background()
	root := t.TempDir()
	l := NewLocal(root, nil)
	require.NoError(t, l.Connect(ctx))
	defer l.Disconnect()

	src := filepath.Join(t.TempDir(), "ocean.in")
	writeFile(t, src, "ecut { 50 }\n")

	remoteDir := filepath.Join(root, "Fe2O3", "fe-k")
	require.NoError(t, l.EnsureDir(ctx, remoteDir))
	require.NoError(t, l.UploadFile(ctx, src, remoteDir))

	data, err := os.ReadFile(filepath.Join(remoteDir, "ocean.in"))
	require.NoError(t, err)
	assert.Equal(t, "ecut { 50 }\n", string(data))

	localDir := filepath.Join(t.TempDir(), "logs")
	require.NoError(t, l.DownloadFile(ctx, "ocean.in", localDir, remoteDir))
	assert.FileExists(t, filepath.Join(localDir, "ocean.in"))

	err = l.DownloadFile(ctx, "missing", localDir, remoteDir)
	assert.ErrorIs(t, err, ErrNotExist)
}

func TestLocalCopyOntoItself(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "log"), "x")
	l := NewLocal(dir, nil)
	require.NoError(t, l.DownloadFile(context.Background(), "log", dir, dir))
}

func TestLocalCheckFolder(t *testing.T) {
	ctx := context.Background()
	root := t.TempDir()
	l := NewLocal(root, nil)

	ok, err := l.CheckFolderExistsAndNotEmpty(ctx, filepath.Join(root, "CNBSE"))
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, os.Mkdir(filepath.Join(root, "CNBSE"), 0755))
	ok, err = l.CheckFolderExistsAndNotEmpty(ctx, filepath.Join(root, "CNBSE"))
	require.NoError(t, err)
	assert.False(t, ok)

	writeFile(t, filepath.Join(root, "CNBSE", "absspct_Fe.0001_1s_01"), "1 2\n")
	ok, err = l.CheckFolderExistsAndNotEmpty(ctx, filepath.Join(root, "CNBSE"))
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestLocalDownloadSpectra(t *testing.T) {
	ctx := context.Background()
	remoteDir := filepath.Join(t.TempDir(), "CNBSE")
	writeFile(t, filepath.Join(remoteDir, "absspct_Fe.0001_1s_01"), "1 2\n")
	writeFile(t, filepath.Join(remoteDir, "absspct_Fe.0001_1s_02"), "1 3\n")
	writeFile(t, filepath.Join(remoteDir, "ocean.log"), "done\n")

	localDir := filepath.Join(t.TempDir(), "results")
	l := NewLocal("", nil)
	n, err := l.DownloadSpectra(ctx, remoteDir, localDir)
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	assert.NoFileExists(t, filepath.Join(localDir, "ocean.log"))

	_, err = l.DownloadSpectra(ctx, filepath.Join(t.TempDir(), "absent"), localDir)
	assert.ErrorIs(t, err, ErrNotExist)
}

func TestLocalExecAndLaunch(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	l := NewLocal(dir, nil)

	stdout, stderr, err := l.Exec(ctx, "echo Submitted batch job 42; echo oops 1>&2")
	require.NoError(t, err)
	assert.Equal(t, "Submitted batch job 42\n", stdout)
	assert.Equal(t, "oops\n", stderr)

	marker := filepath.Join(dir, "launched")
	require.NoError(t, l.Launch(ctx, "touch "+marker))
	l.Wait()
	assert.FileExists(t, marker)
}

func TestLocalMonitorFiles(t *testing.T) {
	remoteDir := t.TempDir()
	localDir := filepath.Join(t.TempDir(), "logs")
	writeFile(t, filepath.Join(remoteDir, "log"), "Welcome to OCEAN\n")

	l := NewLocal(remoteDir, nil)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- l.MonitorFiles(ctx, remoteDir, []string{"log"}, localDir) }()

	mirrored := filepath.Join(localDir, "log")
	assert.Eventually(t, func() bool {
		data, err := os.ReadFile(mirrored)
		return err == nil && string(data) == "Welcome to OCEAN\n"
	}, 2*time.Second, 10*time.Millisecond)

	f, err := os.OpenFile(filepath.Join(remoteDir, "log"), os.O_APPEND|os.O_WRONLY, 0644)
	require.NoError(t, err)
	_, err = f.WriteString("Ocean is done\n")
	require.NoError(t, err)
	require.NoError(t, f.Close())

	assert.Eventually(t, func() bool {
		data, err := os.ReadFile(mirrored)
		return err == nil && string(data) == "Welcome to OCEAN\nOcean is done\n"
	}, 2*time.Second, 10*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("MonitorFiles did not return after cancel")
	}
}
