package output

import "context"

// WorkspaceInfo describes one materialized isolated workspace
type WorkspaceInfo struct {
	Path   string // working directory of the workspace
	Branch string // branch backing the workspace
}

// VCSGateway is the version-control collaborator. The core treats it as a
// black box offering isolated workspaces and branch merges.
type VCSGateway interface {
	// CreateWorkspace materializes an isolated, independently buildable
	// workspace on a fresh branch cut from the baseline.
	CreateWorkspace(ctx context.Context, baseline, branch string) (*WorkspaceInfo, error)

	// RemoveWorkspace destroys a workspace and prunes its checkout.
	RemoveWorkspace(ctx context.Context, ws *WorkspaceInfo) error

	// ChangedPaths lists paths the branch changed relative to the baseline.
	ChangedPaths(ctx context.Context, branch, baseline string) ([]string, error)

	// DryRunMerge reports the paths that would conflict when merging branch
	// into baseline, without mutating anything. Empty means clean.
	DryRunMerge(ctx context.Context, branch, baseline string) ([]string, error)

	// Merge merges branch into baseline.
	Merge(ctx context.Context, branch, baseline string) error

	// BaselineRef returns an opaque identifier of the baseline's current
	// state. It changes whenever the baseline changes, which is the signal
	// for re-checking parked merge requests.
	BaselineRef(ctx context.Context, baseline string) (string, error)
}
