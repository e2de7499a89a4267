package storage

import (
	"context"
	"fmt"

	"github.com/spf13/afero"

	"github.com/hmiyata/weave/internal/application/port/output"
)

// WorkspaceArchiveService snapshots a workspace's changed files into the
// archive gateway. Used when an execution ends without merging so its work
// stays inspectable after the worktree is destroyed.
type WorkspaceArchiveService struct {
	fs       afero.Fs
	vcs      output.VCSGateway
	archives output.ArchiveGateway
}

// NewWorkspaceArchiveService creates a workspace archiver
func NewWorkspaceArchiveService(fs afero.Fs, vcs output.VCSGateway, archives output.ArchiveGateway) *WorkspaceArchiveService {
	return &WorkspaceArchiveService{fs: fs, vcs: vcs, archives: archives}
}

// Archive packs the paths the branch changed relative to the baseline and
// stores the tarball. A workspace with no changes produces no archive.
func (s *WorkspaceArchiveService) Archive(ctx context.Context, executionID string, ws *output.WorkspaceInfo, baseline, reason string) error {
	if ws == nil {
		return fmt.Errorf("workspace is required")
	}
	paths, err := s.vcs.ChangedPaths(ctx, ws.Branch, baseline)
	if err != nil {
		return fmt.Errorf("list changed paths: %w", err)
	}
	if len(paths) == 0 {
		return nil
	}
	content, err := PackWorkspace(s.fs, ws.Path, paths)
	if err != nil {
		return fmt.Errorf("pack workspace: %w", err)
	}
	_, err = s.archives.SaveArchive(ctx, output.SaveArchiveRequest{
		ExecutionID: executionID,
		Reason:      reason,
		Content:     content,
		Metadata: map[string]string{
			"branch":   ws.Branch,
			"baseline": baseline,
		},
	})
	if err != nil {
		return fmt.Errorf("save archive: %w", err)
	}
	return nil
}
