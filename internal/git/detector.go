// Package git inspects project working trees so turn outcomes can report
// whether an agent actually modified anything.
package git

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strings"
)

// ErrNotGitRepo indicates the directory is not a git repository.
var ErrNotGitRepo = errors.New("not a git repository")

// Detector reports working-tree state for a project directory.
// This abstraction allows for easy testing with fake implementations.
type Detector interface {
	// IsRepo reports whether dir is inside a git repository.
	IsRepo(ctx context.Context, dir string) bool
	// Snapshot captures the working-tree state: HEAD plus the porcelain
	// status of tracked and untracked files. Two equal snapshots mean no
	// file in the tree changed between them.
	Snapshot(ctx context.Context, dir string) (string, error)
	// CurrentBranch returns the checked-out branch name, or the short
	// HEAD hash when detached.
	CurrentBranch(ctx context.Context, dir string) (string, error)
}

// Compile-time check that Exec implements Detector.
var _ Detector = (*Exec)(nil)

// Exec implements Detector by executing actual git commands.
type Exec struct{}

// NewExec creates a git-backed detector.
func NewExec() *Exec {
	return &Exec{}
}

// runGit executes a git command in dir and returns trimmed stdout.
func (e *Exec) runGit(ctx context.Context, dir string, args ...string) (string, error) {
	//nolint:gosec // G204: args come from controlled sources
	cmd := exec.CommandContext(ctx, "git", args...)
	cmd.Dir = dir

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		stderrStr := strings.TrimSpace(stderr.String())
		if strings.Contains(strings.ToLower(stderrStr), "not a git repository") {
			return "", fmt.Errorf("%w: %s", ErrNotGitRepo, dir)
		}
		if stderrStr != "" {
			return "", fmt.Errorf("git %s: %s: %w", strings.Join(args, " "), stderrStr, err)
		}
		return "", fmt.Errorf("git %s: %w", strings.Join(args, " "), err)
	}

	return strings.TrimSpace(stdout.String()), nil
}

// IsRepo reports whether dir is inside a git repository.
func (e *Exec) IsRepo(ctx context.Context, dir string) bool {
	if dir == "" {
		return false
	}
	_, err := e.runGit(ctx, dir, "rev-parse", "--git-dir")
	return err == nil
}

// Snapshot captures HEAD and the porcelain status, untracked files included.
func (e *Exec) Snapshot(ctx context.Context, dir string) (string, error) {
	// Empty repos have no HEAD yet; treat that as a fixed marker so the
	// first commit still registers as a change.
	head, err := e.runGit(ctx, dir, "rev-parse", "HEAD")
	if err != nil {
		if errors.Is(err, ErrNotGitRepo) {
			return "", err
		}
		head = "unborn"
	}

	status, err := e.runGit(ctx, dir, "status", "--porcelain", "--untracked-files=all")
	if err != nil {
		return "", err
	}
	return head + "\n" + status, nil
}

// CurrentBranch returns the checked-out branch, or the short hash when HEAD
// is detached.
func (e *Exec) CurrentBranch(ctx context.Context, dir string) (string, error) {
	branch, err := e.runGit(ctx, dir, "branch", "--show-current")
	if err != nil {
		return "", err
	}
	if branch != "" {
		return branch, nil
	}
	return e.runGit(ctx, dir, "rev-parse", "--short", "HEAD")
}
