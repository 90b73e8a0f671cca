package expertloop

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
)

func newTestSandbox(t *testing.T) *Sandbox {
	t.Helper()
	sb, err := NewSandbox(t.TempDir())
	if err != nil {
		t.Fatalf("NewSandbox: %v", err)
	}
	return sb
}

func TestResolveContainsRelativePaths(t *testing.T) {
	sb := newTestSandbox(t)

	abs, err := sb.Resolve("sub/dir/file.txt")
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if want := filepath.Join(sb.Root(), "sub", "dir", "file.txt"); abs != want {
		t.Errorf("Resolve = %q, want %q", abs, want)
	}
}

func TestResolveRejectsEscapes(t *testing.T) {
	sb := newTestSandbox(t)

	tests := []struct {
		name string
		path string
	}{
		{"parent traversal", "../outside.txt"},
		{"nested traversal", "a/b/../../../outside.txt"},
		{"absolute outside", "/etc/passwd"},
		{"root parent", ".."},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := sb.Resolve(tt.path); !errors.Is(err, ErrPathEscapesSandbox) {
				t.Errorf("Resolve(%q) err = %v, want ErrPathEscapesSandbox", tt.path, err)
			}
		})
	}
}

func TestResolveAllowsInternalTraversal(t *testing.T) {
	sb := newTestSandbox(t)

	abs, err := sb.Resolve("a/b/../c.txt")
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if want := filepath.Join(sb.Root(), "a", "c.txt"); abs != want {
		t.Errorf("Resolve = %q, want %q", abs, want)
	}
}

func TestResolveRejectsSymlinkEscape(t *testing.T) {
	outside := t.TempDir()
	sb := newTestSandbox(t)

	link := filepath.Join(sb.Root(), "escape")
	if err := os.Symlink(outside, link); err != nil {
		t.Skipf("symlinks unavailable: %v", err)
	}
	if _, err := sb.Resolve("escape/file.txt"); !errors.Is(err, ErrPathEscapesSandbox) {
		t.Errorf("Resolve through symlink err = %v, want ErrPathEscapesSandbox", err)
	}
}

func TestResolveAcceptsAbsolutePathInsideRoot(t *testing.T) {
	sb := newTestSandbox(t)

	inside := filepath.Join(sb.Root(), "ok.txt")
	abs, err := sb.Resolve(inside)
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if abs != inside {
		t.Errorf("Resolve = %q, want %q", abs, inside)
	}
}

func TestAuthorizeAllowsInspection(t *testing.T) {
	sb := newTestSandbox(t)

	allowed := []string{
		"ls -la",
		"grep -r TODO .",
		"git status",
		"git log --oneline",
		"wc -l main.go",
		"cat README.md",
	}
	for _, cmd := range allowed {
		if err := sb.Authorize(cmd); err != nil {
			t.Errorf("Authorize(%q) = %v, want nil", cmd, err)
		}
	}
}

func TestAuthorizeRejectsDangerous(t *testing.T) {
	sb := newTestSandbox(t)

	denied := []string{
		"",
		"rm -rf /",
		"sudo ls",
		"ls; rm file",
		"cat a > b",
		"cat `whoami`",
		"echo $(id)",
		"ls | grep x",
		"curl http://example.com",
		"python -c 'import os'",
		"git push origin main",
		"git commit -m x",
		"sed -i s/a/b/ file.txt",
		"nc -l 8080",
	}
	for _, cmd := range denied {
		if err := sb.Authorize(cmd); !errors.Is(err, ErrCommandNotPermitted) {
			t.Errorf("Authorize(%q) = %v, want ErrCommandNotPermitted", cmd, err)
		}
	}
}

func TestRelReturnsSandboxRelativePath(t *testing.T) {
	sb := newTestSandbox(t)

	abs := filepath.Join(sb.Root(), "pkg", "main.go")
	if got := sb.Rel(abs); got != filepath.Join("pkg", "main.go") {
		t.Errorf("Rel = %q", got)
	}
}
