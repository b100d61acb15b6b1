package pathutil

import (
	"os"
	"path/filepath"
	"testing"
)

func TestExpandHome(t *testing.T) {
	home, err := os.UserHomeDir()
	if err != nil {
		t.Skip("no home directory")
	}
	tests := map[string]string{
		"~":               home,
		"~/.ssh/id_rsa":   filepath.Join(home, ".ssh", "id_rsa"),
		"/abs/path":       "/abs/path",
		"relative/~/path": "relative/~/path",
		"~other/x":        "~other/x",
	}
	for in, want := range tests {
		got, err := ExpandHome(in)
		if err != nil {
			t.Fatalf("ExpandHome(%q) failed: %v", in, err)
		}
		if got != want {
			t.Errorf("ExpandHome(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestResolveAbsolutePathMissingTail(t *testing.T) {
	base, err := filepath.EvalSymlinks(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	got, err := ResolveAbsolutePath(filepath.Join(base, "ws", "jar"))
	if err != nil {
		t.Fatalf("ResolveAbsolutePath failed: %v", err)
	}
	if want := filepath.Join(base, "ws", "jar"); got != want {
		t.Errorf("got %q, want %q", got, want)
	}
}

func TestResolveAbsolutePathSymlink(t *testing.T) {
	base, err := filepath.EvalSymlinks(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	real := filepath.Join(base, "real")
	if err := os.Mkdir(real, 0755); err != nil {
		t.Fatal(err)
	}
	link := filepath.Join(base, "link")
	if err := os.Symlink(real, link); err != nil {
		t.Skipf("symlinks unsupported: %v", err)
	}

	got, err := ResolveAbsolutePath(filepath.Join(link, "new"))
	if err != nil {
		t.Fatalf("ResolveAbsolutePath failed: %v", err)
	}
	if want := filepath.Join(real, "new"); got != want {
		t.Errorf("got %q, want %q", got, want)
	}
}
