// Package validation checks names and paths that come from the compute
// host before they are joined onto local directories.
package validation

import (
	"errors"
	"fmt"
	"path/filepath"
	"strings"
)

var (
	ErrUnsafeName = errors.New("unsafe file name")
	ErrEscapesDir = errors.New("path escapes base directory")
)

// Filename rejects names that are empty, contain a path separator or a
// NUL byte, or are "." or "..". Names like "scf..out" are fine.
func Filename(name string) error {
	switch {
	case name == "":
		return fmt.Errorf("%w: empty", ErrUnsafeName)
	case strings.ContainsRune(name, 0):
		return fmt.Errorf("%w: contains NUL: %q", ErrUnsafeName, name)
	case strings.ContainsAny(name, `/\`):
		return fmt.Errorf("%w: contains a path separator: %s", ErrUnsafeName, name)
	case name == "." || name == "..":
		return fmt.Errorf("%w: %s", ErrUnsafeName, name)
	}
	return nil
}

// WithinDir checks that p, resolved against base when relative, stays
// inside base.
func WithinDir(p, base string) error {
	if p == "" || base == "" {
		return fmt.Errorf("%w: empty path", ErrEscapesDir)
	}

	cleanBase, err := filepath.Abs(filepath.Clean(base))
	if err != nil {
		return fmt.Errorf("failed to resolve base directory: %w", err)
	}
	resolved := filepath.Clean(p)
	if !filepath.IsAbs(resolved) {
		resolved = filepath.Join(cleanBase, resolved)
	}

	rel, err := filepath.Rel(cleanBase, resolved)
	if err != nil {
		return fmt.Errorf("failed to compute relative path: %w", err)
	}
	if rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return fmt.Errorf("%w: %s (base: %s)", ErrEscapesDir, p, base)
	}
	return nil
}

// SafeJoin joins a remote-supplied name onto dir after validating it.
func SafeJoin(dir, name string) (string, error) {
	if err := Filename(name); err != nil {
		return "", err
	}
	joined := filepath.Join(dir, name)
	if err := WithinDir(joined, dir); err != nil {
		return "", err
	}
	return joined, nil
}
