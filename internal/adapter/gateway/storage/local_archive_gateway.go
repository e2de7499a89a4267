package storage

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/spf13/afero"

	"github.com/hmiyata/weave/internal/application/port/output"
)

// LocalArchiveGateway implements output.ArchiveGateway on a local directory.
// Same layout as the S3 gateway: <root>/archives/<executionID>/<archiveID>/.
type LocalArchiveGateway struct {
	fs   afero.Fs
	root string
}

// NewLocalArchiveGateway creates a filesystem-backed archive gateway
func NewLocalArchiveGateway(fs afero.Fs, root string) (*LocalArchiveGateway, error) {
	if root == "" {
		return nil, fmt.Errorf("archive root is required")
	}
	if err := fs.MkdirAll(filepath.Join(root, "archives"), 0o755); err != nil {
		return nil, fmt.Errorf("create archive root: %w", err)
	}
	return &LocalArchiveGateway{fs: fs, root: root}, nil
}

func (g *LocalArchiveGateway) SaveArchive(ctx context.Context, req output.SaveArchiveRequest) (*output.ArchiveMetadata, error) {
	if req.ExecutionID == "" {
		return nil, fmt.Errorf("execution id is required")
	}

	checksum := sha256.Sum256(req.Content)
	meta := &output.ArchiveMetadata{
		ArchiveID:   ulid.Make().String(),
		ExecutionID: req.ExecutionID,
		Reason:      req.Reason,
		Size:        int64(len(req.Content)),
		Checksum:    hex.EncodeToString(checksum[:]),
		Metadata:    req.Metadata,
		CreatedAt:   time.Now().UTC(),
	}

	dir := g.archiveDir(req.ExecutionID, meta.ArchiveID)
	if err := g.fs.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create archive directory: %w", err)
	}
	if err := afero.WriteFile(g.fs, filepath.Join(dir, contentObjectName), req.Content, 0o644); err != nil {
		return nil, fmt.Errorf("write archive content: %w", err)
	}
	metaJSON, err := json.MarshalIndent(meta, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("marshal archive metadata: %w", err)
	}
	if err := afero.WriteFile(g.fs, filepath.Join(dir, metadataObjectName), metaJSON, 0o644); err != nil {
		return nil, fmt.Errorf("write archive metadata: %w", err)
	}
	return meta, nil
}

func (g *LocalArchiveGateway) LoadArchive(ctx context.Context, archiveID string) (*output.Archive, error) {
	dir, err := g.findArchiveDir(archiveID)
	if err != nil {
		return nil, err
	}
	meta, err := g.readMetadataFile(filepath.Join(dir, metadataObjectName))
	if err != nil {
		return nil, err
	}
	content, err := afero.ReadFile(g.fs, filepath.Join(dir, contentObjectName))
	if err != nil {
		return nil, fmt.Errorf("read archive content: %w", err)
	}
	checksum := sha256.Sum256(content)
	if got := hex.EncodeToString(checksum[:]); got != meta.Checksum {
		return nil, fmt.Errorf("archive %s checksum mismatch: stored %s, computed %s", archiveID, meta.Checksum, got)
	}
	return &output.Archive{Metadata: meta, Content: content}, nil
}

func (g *LocalArchiveGateway) ListArchives(ctx context.Context, executionID string) ([]*output.ArchiveMetadata, error) {
	execDir := filepath.Join(g.root, "archives", executionID)
	entries, err := afero.ReadDir(g.fs, execDir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("list archives for %s: %w", executionID, err)
	}
	var metas []*output.ArchiveMetadata
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		meta, err := g.readMetadataFile(filepath.Join(execDir, entry.Name(), metadataObjectName))
		if err != nil {
			continue
		}
		metas = append(metas, meta)
	}
	return metas, nil
}

func (g *LocalArchiveGateway) DeleteArchive(ctx context.Context, archiveID string) error {
	dir, err := g.findArchiveDir(archiveID)
	if err != nil {
		return err
	}
	return g.fs.RemoveAll(dir)
}

func (g *LocalArchiveGateway) archiveDir(executionID, archiveID string) string {
	return filepath.Join(g.root, "archives", executionID, archiveID)
}

func (g *LocalArchiveGateway) findArchiveDir(archiveID string) (string, error) {
	base := filepath.Join(g.root, "archives")
	executions, err := afero.ReadDir(g.fs, base)
	if err != nil {
		return "", fmt.Errorf("list archive root: %w", err)
	}
	for _, exec := range executions {
		if !exec.IsDir() {
			continue
		}
		candidate := filepath.Join(base, exec.Name(), archiveID)
		if ok, _ := afero.DirExists(g.fs, candidate); ok {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("archive not found: %s", archiveID)
}

func (g *LocalArchiveGateway) readMetadataFile(path string) (*output.ArchiveMetadata, error) {
	raw, err := afero.ReadFile(g.fs, path)
	if err != nil {
		return nil, fmt.Errorf("read archive metadata: %w", err)
	}
	var meta output.ArchiveMetadata
	if err := json.Unmarshal(raw, &meta); err != nil {
		return nil, fmt.Errorf("unmarshal archive metadata: %w", err)
	}
	return &meta, nil
}
