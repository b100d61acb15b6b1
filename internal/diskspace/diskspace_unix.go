//go:build !windows

package diskspace

import "syscall"

// Available returns the bytes available to unprivileged users on the
// filesystem holding dir, or 0 if unknown.
func Available(dir string) int64 {
	var stat syscall.Statfs_t
	if err := syscall.Statfs(dir, &stat); err != nil {
		return 0
	}
	return int64(stat.Bavail) * int64(stat.Bsize)
}
