// Package git resolves the work tree that contains a directory.
package git

import (
	"context"
	"errors"
	"fmt"
	"os/exec"
	"path/filepath"
	"strings"
	"time"
)

const detectTimeout = 5 * time.Second

// Info describes the work tree containing a path.
type Info struct {
	Root         string // git rev-parse --show-toplevel
	CommonDir    string // shared .git directory, absolute
	IsWorktree   bool   // linked worktree rather than the main checkout
	MainWorktree string // root of the main checkout
}

// Detect runs git to locate the work tree containing path. It fails when git
// is missing or path is not inside a repository.
func Detect(path string) (*Info, error) {
	ctx, cancel := context.WithTimeout(context.Background(), detectTimeout)
	defer cancel()

	root, err := revParse(ctx, path, "--show-toplevel")
	if err != nil {
		return nil, err
	}
	commonDir, err := revParse(ctx, path, "--git-common-dir")
	if err != nil {
		return nil, err
	}

	// A relative --git-common-dir is relative to the -C directory, not to
	// the work tree root.
	if !filepath.IsAbs(commonDir) {
		base, err := filepath.Abs(path)
		if err != nil {
			return nil, fmt.Errorf("failed to resolve %s: %w", path, err)
		}
		commonDir = filepath.Join(base, commonDir)
	}
	commonDir = resolvePath(commonDir)
	root = resolvePath(root)

	info := &Info{
		Root:       root,
		CommonDir:  commonDir,
		IsWorktree: commonDir != filepath.Join(root, ".git"),
	}

	// Main checkout: <main>/.git. Linked worktrees share it.
	if filepath.Base(commonDir) == ".git" {
		info.MainWorktree = filepath.Dir(commonDir)
	} else {
		info.MainWorktree = filepath.Dir(filepath.Dir(commonDir))
	}

	return info, nil
}

// resolvePath cleans p and resolves symlinks when p exists, so paths printed
// by git compare equal to paths built from the caller's input.
func resolvePath(p string) string {
	if resolved, err := filepath.EvalSymlinks(p); err == nil {
		return resolved
	}
	return filepath.Clean(p)
}

func revParse(ctx context.Context, path, arg string) (string, error) {
	out, err := exec.CommandContext(ctx, "git", "-C", path, "rev-parse", arg).Output()
	if err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			return "", fmt.Errorf("not a git repository or git command failed: %w (stderr: %s)", err, strings.TrimSpace(string(exitErr.Stderr)))
		}
		return "", fmt.Errorf("failed to execute git command (is git installed?): %w", err)
	}
	return strings.TrimSpace(string(out)), nil
}
