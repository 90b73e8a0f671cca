package expertloop

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
)

// ErrPathEscapesSandbox is wrapped by Resolve when a path points outside
// the sandbox root, whether by traversal, absolute prefix, or symlink.
var ErrPathEscapesSandbox = errors.New("path escapes sandbox")

// ErrCommandNotPermitted is wrapped by Authorize when a command fails the
// safe-command policy.
var ErrCommandNotPermitted = errors.New("command not permitted")

// Sandbox confines an expert's filesystem and command activity to a
// single root directory. All tool paths go through Resolve and all
// execute_safe_command invocations go through Authorize.
type Sandbox struct {
	root string
}

// NewSandbox creates (if needed) and canonicalizes the root directory.
func NewSandbox(root string) (*Sandbox, error) {
	if root == "" {
		return nil, errors.New("sandbox root must not be empty")
	}
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("resolving sandbox root: %w", err)
	}
	if err := os.MkdirAll(abs, 0o755); err != nil {
		return nil, fmt.Errorf("creating sandbox root: %w", err)
	}
	canonical, err := filepath.EvalSymlinks(abs)
	if err != nil {
		return nil, fmt.Errorf("canonicalizing sandbox root: %w", err)
	}
	return &Sandbox{root: canonical}, nil
}

// Root returns the canonical sandbox root.
func (s *Sandbox) Root() string {
	return s.root
}

// Resolve maps a relative or absolute path to a canonical absolute path
// inside the sandbox. Relative paths are joined to the root. Symlinks in
// every existing ancestor are resolved before the containment check, so a
// link pointing outside the root cannot smuggle a path through.
func (s *Sandbox) Resolve(path string) (string, error) {
	if path == "" {
		path = "."
	}
	candidate := path
	if !filepath.IsAbs(candidate) {
		candidate = filepath.Join(s.root, candidate)
	}
	candidate = filepath.Clean(candidate)

	canonical, err := canonicalizeExisting(candidate)
	if err != nil {
		return "", fmt.Errorf("resolving %q: %w", path, err)
	}
	rel, err := filepath.Rel(s.root, canonical)
	if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", fmt.Errorf("%q resolves outside the workspace: %w", path, ErrPathEscapesSandbox)
	}
	return canonical, nil
}

// Rel converts a resolved absolute path back to a sandbox-relative path
// for display in events. Paths outside the root are returned unchanged.
func (s *Sandbox) Rel(abs string) string {
	rel, err := filepath.Rel(s.root, abs)
	if err != nil || strings.HasPrefix(rel, "..") {
		return abs
	}
	return rel
}

// canonicalizeExisting resolves symlinks through the nearest existing
// ancestor of p and rejoins the not-yet-existing remainder, so paths to
// files about to be created still get a canonical form.
func canonicalizeExisting(p string) (string, error) {
	var remainder []string
	cur := p
	for {
		resolved, err := filepath.EvalSymlinks(cur)
		if err == nil {
			parts := append([]string{resolved}, remainder...)
			return filepath.Join(parts...), nil
		}
		if !os.IsNotExist(err) {
			return "", err
		}
		remainder = append([]string{filepath.Base(cur)}, remainder...)
		parent := filepath.Dir(cur)
		if parent == cur {
			return "", err
		}
		cur = parent
	}
}

// dangerousPatterns reject destructive or escape-prone constructs before
// the allowlist is consulted. Shell operators are rejected wholesale so a
// permitted program cannot chain into a forbidden one.
var dangerousPatterns = []*regexp.Regexp{
	regexp.MustCompile(`[;&|]`),
	regexp.MustCompile("[`$]"),
	regexp.MustCompile(`[<>]`),
	regexp.MustCompile(`\brm\b`),
	regexp.MustCompile(`\bmv\b`),
	regexp.MustCompile(`\bdd\b`),
	regexp.MustCompile(`\bmkfs\b`),
	regexp.MustCompile(`\bchmod\b`),
	regexp.MustCompile(`\bchown\b`),
	regexp.MustCompile(`\bsudo\b`),
	regexp.MustCompile(`\bsu\b`),
	regexp.MustCompile(`\bkill(all)?\b`),
	regexp.MustCompile(`\b(shutdown|reboot|halt|poweroff)\b`),
	regexp.MustCompile(`\b(mount|umount|fdisk)\b`),
	regexp.MustCompile(`\bcurl\b`),
	regexp.MustCompile(`\bwget\b`),
	regexp.MustCompile(`\bssh\b`),
	regexp.MustCompile(`\bsed\s+-i\b`),
	regexp.MustCompile(`\b(python3?|node|ruby|perl|sh|bash|zsh)\b[^|]*\s-c\b`),
}

// safePrograms is the read-only inspection allowlist for
// execute_safe_command. Mutating tools go through execute_command, which
// is gated per expert rather than per command.
var safePrograms = map[string]struct{}{
	"ls": {}, "find": {}, "which": {}, "cat": {}, "head": {}, "tail": {},
	"file": {}, "stat": {}, "pwd": {}, "whoami": {}, "env": {}, "ps": {},
	"free": {}, "df": {}, "du": {}, "uname": {}, "hostname": {}, "uptime": {},
	"date": {}, "grep": {}, "awk": {}, "sed": {}, "sort": {}, "uniq": {},
	"wc": {}, "cut": {}, "tr": {}, "diff": {}, "cmp": {}, "echo": {},
	"git": {}, "go": {}, "python": {}, "python3": {}, "node": {},
	"npm": {}, "pip": {}, "pip3": {}, "make": {},
}

// gitWriteSubcommands are git operations denied even though git itself is
// allowlisted.
var gitWriteSubcommands = map[string]struct{}{
	"push": {}, "commit": {}, "reset": {}, "rebase": {}, "merge": {},
	"checkout": {}, "clean": {}, "rm": {}, "stash": {},
}

// Authorize validates a command against the safe-command policy: no
// dangerous pattern may match anywhere in the command, and the program
// must be allowlisted. The returned error wraps ErrCommandNotPermitted
// and names the offending construct.
func (s *Sandbox) Authorize(command string) error {
	trimmed := strings.TrimSpace(command)
	if trimmed == "" {
		return fmt.Errorf("empty command: %w", ErrCommandNotPermitted)
	}
	for _, pattern := range dangerousPatterns {
		if pattern.MatchString(trimmed) {
			return fmt.Errorf("command matches blocked pattern %q: %w", pattern.String(), ErrCommandNotPermitted)
		}
	}
	fields := strings.Fields(trimmed)
	program := filepath.Base(fields[0])
	if _, ok := safePrograms[program]; !ok {
		return fmt.Errorf("program %q is not on the safe-command allowlist: %w", program, ErrCommandNotPermitted)
	}
	if program == "git" && len(fields) > 1 {
		if _, ok := gitWriteSubcommands[fields[1]]; ok {
			return fmt.Errorf("git subcommand %q modifies state: %w", fields[1], ErrCommandNotPermitted)
		}
	}
	return nil
}
