// Package diskspace checks free space on the local filesystem before
// results are pulled back from the compute host.
package diskspace

import (
	"errors"
	"fmt"
)

// DefaultMargin is the headroom applied to a requested size.
const DefaultMargin = 1.1

// InsufficientSpaceError indicates that there is not enough disk space available.
type InsufficientSpaceError struct {
	Dir            string
	RequiredBytes  int64
	AvailableBytes int64
}

func (e *InsufficientSpaceError) Error() string {
	requiredMB := float64(e.RequiredBytes) / (1024 * 1024)
	availableMB := float64(e.AvailableBytes) / (1024 * 1024)
	return fmt.Sprintf("insufficient disk space in %s: need %.2f MB, have %.2f MB available",
		e.Dir, requiredMB, availableMB)
}

// Check returns an InsufficientSpaceError when the filesystem holding dir
// has less than requiredBytes*margin free. dir must exist. When free space
// cannot be determined the check passes and the transfer fails on its own.
func Check(dir string, requiredBytes int64, margin float64) error {
	if requiredBytes <= 0 {
		return nil
	}
	available := Available(dir)
	if available == 0 {
		return nil
	}

	required := int64(float64(requiredBytes) * margin)
	if available < required {
		return &InsufficientSpaceError{
			Dir:            dir,
			RequiredBytes:  required,
			AvailableBytes: available,
		}
	}
	return nil
}

// IsInsufficientSpaceError reports whether err wraps an InsufficientSpaceError.
func IsInsufficientSpaceError(err error) bool {
	var target *InsufficientSpaceError
	return errors.As(err, &target)
}
