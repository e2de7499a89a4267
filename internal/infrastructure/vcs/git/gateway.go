// Package git implements the version-control gateway on git worktrees.
// Every agent gets an isolated worktree on its own branch; merges into a
// baseline run through a short-lived checkout so the primary working tree
// is never disturbed.
package git

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	"github.com/hmiyata/weave/internal/application/port/output"
)

const (
	// workspaceDirName is the relative path worktrees are materialized under.
	workspaceDirName = ".weave/workspaces"
	workspaceDirMode = 0o755
)

// Gateway implements output.VCSGateway against a local git repository
type Gateway struct {
	repoRoot     string
	workspaceDir string
}

// NewGateway constructs a gateway rooted at the provided repository root
func NewGateway(repoRoot string) (*Gateway, error) {
	if strings.TrimSpace(repoRoot) == "" {
		return nil, errors.New("repo root is required")
	}
	absRoot, err := filepath.Abs(repoRoot)
	if err != nil {
		return nil, fmt.Errorf("resolve absolute repo root %s: %w", repoRoot, err)
	}
	info, err := os.Stat(absRoot)
	if err != nil {
		return nil, fmt.Errorf("stat repo root %s: %w", absRoot, err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("repo root %s is not a directory", absRoot)
	}
	return &Gateway{
		repoRoot:     absRoot,
		workspaceDir: filepath.Join(absRoot, workspaceDirName),
	}, nil
}

// CreateWorkspace materializes an isolated worktree on a fresh branch cut
// from the baseline. An existing branch is attached rather than recreated so
// a reassigned execution keeps its history.
func (g *Gateway) CreateWorkspace(ctx context.Context, baseline, branch string) (*output.WorkspaceInfo, error) {
	if strings.TrimSpace(branch) == "" {
		return nil, errors.New("branch is required")
	}
	if err := os.MkdirAll(g.workspaceDir, workspaceDirMode); err != nil {
		return nil, fmt.Errorf("create workspace directory %s: %w", g.workspaceDir, err)
	}

	path := filepath.Join(g.workspaceDir, workspaceDirFor(branch))
	if _, err := os.Stat(path); err == nil {
		return nil, fmt.Errorf("workspace %s already exists", path)
	}

	exists, err := g.branchExists(ctx, branch)
	if err != nil {
		return nil, err
	}
	if exists {
		if _, err := g.runGit(ctx, "worktree", "add", path, branch); err != nil {
			return nil, err
		}
		return &output.WorkspaceInfo{Path: path, Branch: branch}, nil
	}

	if strings.TrimSpace(baseline) == "" {
		return nil, fmt.Errorf("branch %q does not exist; baseline is required", branch)
	}
	baseExists, err := g.branchExists(ctx, baseline)
	if err != nil {
		return nil, err
	}
	if !baseExists {
		return nil, fmt.Errorf("baseline %q does not exist", baseline)
	}
	if _, err := g.runGit(ctx, "worktree", "add", "-b", branch, path, baseline); err != nil {
		return nil, err
	}
	return &output.WorkspaceInfo{Path: path, Branch: branch}, nil
}

// RemoveWorkspace destroys the worktree and prunes its registration.
// The branch survives; a queued merge still needs its history.
func (g *Gateway) RemoveWorkspace(ctx context.Context, ws *output.WorkspaceInfo) error {
	if ws == nil || strings.TrimSpace(ws.Path) == "" {
		return errors.New("workspace path is required")
	}
	if _, err := g.runGit(ctx, "worktree", "remove", "--force", ws.Path); err != nil {
		// The directory may already be gone; prune cleans the registration.
		if _, statErr := os.Stat(ws.Path); statErr == nil {
			return err
		}
	}
	_, err := g.runGit(ctx, "worktree", "prune")
	return err
}

// ChangedPaths lists the paths the branch changed relative to the baseline
func (g *Gateway) ChangedPaths(ctx context.Context, branch, baseline string) ([]string, error) {
	out, err := g.runGit(ctx, "diff", "--name-only", baseline+"..."+branch)
	if err != nil {
		return nil, err
	}
	return splitLines(out), nil
}

// DryRunMerge reports the paths that would conflict when merging branch
// into baseline, without mutating anything. Uses merge-tree, which works
// entirely in the object database.
func (g *Gateway) DryRunMerge(ctx context.Context, branch, baseline string) ([]string, error) {
	out, err := g.runGitRaw(ctx, g.repoRoot,
		"merge-tree", "--write-tree", "--name-only", "--no-messages", baseline, branch)
	if err == nil {
		return nil, nil
	}
	// Exit status 1 means a conflicted merge; the output names the paths.
	if !isExitStatus(err, 1) {
		return nil, fmt.Errorf("merge-tree %s into %s: %w", branch, baseline, err)
	}
	lines := splitLines(out)
	if len(lines) <= 1 {
		return nil, fmt.Errorf("merge-tree produced no conflict detail for %s into %s", branch, baseline)
	}
	// The first line is the written tree OID; the rest are conflicted paths.
	return lines[1:], nil
}

// Merge merges branch into baseline. The merge runs in the primary working
// tree when it has the baseline checked out, otherwise in a temporary
// worktree that is removed afterwards.
func (g *Gateway) Merge(ctx context.Context, branch, baseline string) error {
	current, err := g.currentBranch(ctx, g.repoRoot)
	if err != nil {
		return err
	}
	msg := fmt.Sprintf("Merge branch '%s' into %s", branch, baseline)

	if current == baseline {
		if _, err := g.runGitIn(ctx, g.repoRoot, "merge", "--no-ff", "-m", msg, branch); err != nil {
			_, _ = g.runGitIn(ctx, g.repoRoot, "merge", "--abort")
			return err
		}
		return nil
	}

	tmp, err := os.MkdirTemp("", "weave-merge-")
	if err != nil {
		return fmt.Errorf("create merge checkout: %w", err)
	}
	mergeDir := filepath.Join(tmp, "co")
	defer os.RemoveAll(tmp)

	if _, err := g.runGit(ctx, "worktree", "add", mergeDir, baseline); err != nil {
		return err
	}
	defer func() {
		_, _ = g.runGit(ctx, "worktree", "remove", "--force", mergeDir)
		_, _ = g.runGit(ctx, "worktree", "prune")
	}()

	if _, err := g.runGitIn(ctx, mergeDir, "merge", "--no-ff", "-m", msg, branch); err != nil {
		_, _ = g.runGitIn(ctx, mergeDir, "merge", "--abort")
		return err
	}
	return nil
}

// BaselineRef returns the commit the baseline currently points at
func (g *Gateway) BaselineRef(ctx context.Context, baseline string) (string, error) {
	out, err := g.runGit(ctx, "rev-parse", "refs/heads/"+baseline)
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(out), nil
}

// branchExists reports whether a local branch exists in the repository
func (g *Gateway) branchExists(ctx context.Context, branch string) (bool, error) {
	_, err := g.runGit(ctx, "show-ref", "--verify", "--quiet", "refs/heads/"+branch)
	if err == nil {
		return true, nil
	}
	if isExitStatus(err, 1) {
		return false, nil
	}
	return false, err
}

func (g *Gateway) currentBranch(ctx context.Context, dir string) (string, error) {
	out, err := g.runGitIn(ctx, dir, "rev-parse", "--abbrev-ref", "HEAD")
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(out), nil
}

func (g *Gateway) runGit(ctx context.Context, args ...string) (string, error) {
	return g.runGitIn(ctx, g.repoRoot, args...)
}

func (g *Gateway) runGitIn(ctx context.Context, dir string, args ...string) (string, error) {
	out, err := g.runGitRaw(ctx, dir, args...)
	if err != nil {
		return "", fmt.Errorf("git %s failed: %w", strings.Join(args, " "), err)
	}
	return out, nil
}

// runGitRaw runs git and returns stdout even on failure; some callers need
// the output of a non-zero exit (merge-tree conflict listings).
func (g *Gateway) runGitRaw(ctx context.Context, dir string, args ...string) (string, error) {
	cmd := exec.CommandContext(ctx, "git", args...)
	cmd.Dir = dir
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			return stdout.String(), fmt.Errorf("%w: %s", err, strings.TrimSpace(stderr.String()))
		}
		return stdout.String(), err
	}
	return stdout.String(), nil
}

// workspaceDirFor flattens a branch name into a directory name
func workspaceDirFor(branch string) string {
	return strings.ReplaceAll(branch, "/", "-")
}

func splitLines(s string) []string {
	var out []string
	for _, line := range strings.Split(s, "\n") {
		line = strings.TrimSpace(line)
		if line != "" {
			out = append(out, line)
		}
	}
	return out
}

func isExitStatus(err error, status int) bool {
	var exitErr *exec.ExitError
	if !errors.As(err, &exitErr) {
		return false
	}
	return exitErr.ExitCode() == status
}
