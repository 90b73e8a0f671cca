package expertloop

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"sort"
	"strings"
	"syscall"
	"time"
)

// DefaultCommandTimeout bounds execute_command when the caller does not
// supply a timeout.
const DefaultCommandTimeout = 120 * time.Second

// ExecResult captures the outcome of a sandboxed command.
type ExecResult struct {
	Command  string
	Output   string
	ExitCode int
	TimedOut bool
	Duration time.Duration
}

// Success reports whether the command exited zero without timing out.
func (r *ExecResult) Success() bool {
	return !r.TimedOut && r.ExitCode == 0
}

// DirEntry is one row of a directory listing.
type DirEntry struct {
	Name  string
	IsDir bool
	Size  int64
}

// Workspace performs all filesystem and process work for one session,
// with every path funneled through the session's sandbox.
type Workspace struct {
	sandbox *Sandbox
}

// NewWorkspace wraps a sandbox.
func NewWorkspace(sandbox *Sandbox) *Workspace {
	return &Workspace{sandbox: sandbox}
}

// Sandbox exposes the underlying sandbox for path display.
func (w *Workspace) Sandbox() *Sandbox {
	return w.sandbox
}

// ReadFile returns the contents of a sandboxed file.
func (w *Workspace) ReadFile(path string) (string, error) {
	abs, err := w.sandbox.Resolve(path)
	if err != nil {
		return "", err
	}
	data, err := os.ReadFile(abs)
	if err != nil {
		return "", err
	}
	return string(data), nil
}

// WriteFile writes content to a sandboxed path, creating parent
// directories as needed. It reports whether the file was newly created
// and, for overwrites, the prior content for diff reporting.
func (w *Workspace) WriteFile(path, content string) (created bool, previous string, err error) {
	abs, err := w.sandbox.Resolve(path)
	if err != nil {
		return false, "", err
	}
	if existing, readErr := os.ReadFile(abs); readErr == nil {
		previous = string(existing)
	} else {
		created = true
	}
	if err := os.MkdirAll(filepath.Dir(abs), 0o755); err != nil {
		return created, previous, err
	}
	if err := os.WriteFile(abs, []byte(content), 0o644); err != nil {
		return created, previous, err
	}
	return created, previous, nil
}

// ListDirectory lists a sandboxed directory, directories first.
func (w *Workspace) ListDirectory(path string) ([]DirEntry, error) {
	abs, err := w.sandbox.Resolve(path)
	if err != nil {
		return nil, err
	}
	entries, err := os.ReadDir(abs)
	if err != nil {
		return nil, err
	}
	out := make([]DirEntry, 0, len(entries))
	for _, e := range entries {
		de := DirEntry{Name: e.Name(), IsDir: e.IsDir()}
		if info, err := e.Info(); err == nil {
			de.Size = info.Size()
		}
		out = append(out, de)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].IsDir != out[j].IsDir {
			return out[i].IsDir
		}
		return out[i].Name < out[j].Name
	})
	return out, nil
}

// RunCommand runs a shell command inside the sandbox with a hard
// timeout. The whole process group is killed on timeout or context
// cancellation so grandchildren cannot linger. workingDir is
// sandbox-relative; empty means the sandbox root.
func (w *Workspace) RunCommand(ctx context.Context, command, workingDir string, timeout time.Duration) (*ExecResult, error) {
	if strings.TrimSpace(command) == "" {
		return nil, fmt.Errorf("empty command")
	}
	dir := w.sandbox.Root()
	if workingDir != "" {
		resolved, err := w.sandbox.Resolve(workingDir)
		if err != nil {
			return nil, err
		}
		dir = resolved
	}
	if timeout <= 0 {
		timeout = DefaultCommandTimeout
	}

	cmd := exec.Command("bash", "-c", command)
	cmd.Dir = dir
	cmd.Env = commandEnv()
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}

	var buf bytes.Buffer
	cmd.Stdout = &buf
	cmd.Stderr = &buf

	start := time.Now()
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("starting command: %w", err)
	}

	done := make(chan error, 1)
	go func() { done <- cmd.Wait() }()

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	result := &ExecResult{Command: command}
	select {
	case err := <-done:
		result.ExitCode = exitCode(err)
	case <-timer.C:
		killGroup(cmd)
		<-done
		result.TimedOut = true
		result.ExitCode = -1
	case <-ctx.Done():
		killGroup(cmd)
		<-done
		return nil, ctx.Err()
	}
	result.Duration = time.Since(start)
	result.Output = buf.String()
	return result, nil
}

func exitCode(err error) int {
	if err == nil {
		return 0
	}
	if exitErr, ok := err.(*exec.ExitError); ok {
		return exitErr.ExitCode()
	}
	return -1
}

func killGroup(cmd *exec.Cmd) {
	if cmd.Process == nil {
		return
	}
	// Negative pid signals the whole process group.
	_ = syscall.Kill(-cmd.Process.Pid, syscall.SIGKILL)
}

// commandEnv passes through a minimal, non-sensitive environment.
func commandEnv() []string {
	keep := []string{"PATH", "HOME", "LANG", "LC_ALL", "TERM", "TMPDIR", "USER"}
	env := make([]string, 0, len(keep))
	for _, key := range keep {
		if val, ok := os.LookupEnv(key); ok {
			env = append(env, key+"="+val)
		}
	}
	return env
}

// diffStats counts line-level additions and deletions between two
// versions of a file using multiset difference. It is a display
// statistic, not a patch.
func diffStats(before, after string) (additions, deletions int) {
	beforeLines := strings.Split(before, "\n")
	afterLines := strings.Split(after, "\n")
	counts := make(map[string]int, len(beforeLines))
	for _, line := range beforeLines {
		counts[line]++
	}
	for _, line := range afterLines {
		if counts[line] > 0 {
			counts[line]--
		} else {
			additions++
		}
	}
	for _, remaining := range counts {
		deletions += remaining
	}
	return additions, deletions
}
