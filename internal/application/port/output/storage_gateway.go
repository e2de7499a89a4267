package output

import (
	"context"
	"time"
)

// ArchiveGateway stores workspace archives for aborted or completed
// executions. Backed by S3 in production and by a mock in tests.
type ArchiveGateway interface {
	// SaveArchive persists a workspace archive
	SaveArchive(ctx context.Context, req SaveArchiveRequest) (*ArchiveMetadata, error)

	// LoadArchive retrieves an archive by id
	LoadArchive(ctx context.Context, archiveID string) (*Archive, error)

	// ListArchives lists archives for a given execution
	ListArchives(ctx context.Context, executionID string) ([]*ArchiveMetadata, error)

	// DeleteArchive removes an archive
	DeleteArchive(ctx context.Context, archiveID string) error
}

// SaveArchiveRequest represents a request to archive a workspace
type SaveArchiveRequest struct {
	ExecutionID string            // Owning execution
	Reason      string            // Why the workspace was archived (aborted, completed)
	Content     []byte            // Tarball of the workspace's changed files
	Metadata    map[string]string // Additional metadata
}

// ArchiveMetadata describes a stored archive
type ArchiveMetadata struct {
	ArchiveID   string
	ExecutionID string
	Reason      string
	Size        int64
	Checksum    string // SHA-256 of the content
	Metadata    map[string]string
	CreatedAt   time.Time
}

// Archive is archive content plus its metadata
type Archive struct {
	Metadata *ArchiveMetadata
	Content  []byte
}
