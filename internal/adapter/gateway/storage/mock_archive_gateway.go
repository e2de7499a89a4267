package storage

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/hmiyata/weave/internal/application/port/output"
)

// MockArchiveGateway is an in-memory output.ArchiveGateway for tests
type MockArchiveGateway struct {
	mu       sync.RWMutex
	archives map[string]*output.Archive
}

func NewMockArchiveGateway() *MockArchiveGateway {
	return &MockArchiveGateway{archives: make(map[string]*output.Archive)}
}

func (m *MockArchiveGateway) SaveArchive(ctx context.Context, req output.SaveArchiveRequest) (*output.ArchiveMetadata, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

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
	content := make([]byte, len(req.Content))
	copy(content, req.Content)
	m.archives[meta.ArchiveID] = &output.Archive{Metadata: meta, Content: content}
	return meta, nil
}

func (m *MockArchiveGateway) LoadArchive(ctx context.Context, archiveID string) (*output.Archive, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	a, ok := m.archives[archiveID]
	if !ok {
		return nil, fmt.Errorf("archive not found: %s", archiveID)
	}
	return a, nil
}

func (m *MockArchiveGateway) ListArchives(ctx context.Context, executionID string) ([]*output.ArchiveMetadata, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var metas []*output.ArchiveMetadata
	for _, a := range m.archives {
		if a.Metadata.ExecutionID == executionID {
			metas = append(metas, a.Metadata)
		}
	}
	return metas, nil
}

func (m *MockArchiveGateway) DeleteArchive(ctx context.Context, archiveID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.archives, archiveID)
	return nil
}

var _ output.ArchiveGateway = (*MockArchiveGateway)(nil)
