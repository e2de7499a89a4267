package storage

import (
	"context"
	"testing"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hmiyata/weave/internal/application/port/output"
)

func TestLocalArchiveRoundTrip(t *testing.T) {
	fs := afero.NewMemMapFs()
	gw, err := NewLocalArchiveGateway(fs, "/var/weave")
	require.NoError(t, err)
	ctx := context.Background()

	content := []byte("tarball bytes")
	meta, err := gw.SaveArchive(ctx, output.SaveArchiveRequest{
		ExecutionID: "exec-001",
		Reason:      "completed",
		Content:     content,
	})
	require.NoError(t, err)

	loaded, err := gw.LoadArchive(ctx, meta.ArchiveID)
	require.NoError(t, err)
	assert.Equal(t, content, loaded.Content)
	assert.Equal(t, meta.Checksum, loaded.Metadata.Checksum)
}

func TestLocalArchiveListAndDelete(t *testing.T) {
	fs := afero.NewMemMapFs()
	gw, err := NewLocalArchiveGateway(fs, "/var/weave")
	require.NoError(t, err)
	ctx := context.Background()

	m1, err := gw.SaveArchive(ctx, output.SaveArchiveRequest{ExecutionID: "exec-a", Reason: "aborted", Content: []byte("a")})
	require.NoError(t, err)
	_, err = gw.SaveArchive(ctx, output.SaveArchiveRequest{ExecutionID: "exec-b", Reason: "aborted", Content: []byte("b")})
	require.NoError(t, err)

	metas, err := gw.ListArchives(ctx, "exec-a")
	require.NoError(t, err)
	require.Len(t, metas, 1)
	assert.Equal(t, m1.ArchiveID, metas[0].ArchiveID)

	none, err := gw.ListArchives(ctx, "exec-missing")
	require.NoError(t, err)
	assert.Empty(t, none)

	require.NoError(t, gw.DeleteArchive(ctx, m1.ArchiveID))
	_, err = gw.LoadArchive(ctx, m1.ArchiveID)
	assert.ErrorContains(t, err, "not found")
}

func TestPackWorkspaceRoundTrip(t *testing.T) {
	fs := afero.NewMemMapFs()
	require.NoError(t, afero.WriteFile(fs, "/ws/internal/service.go", []byte("package service\n"), 0o644))
	require.NoError(t, afero.WriteFile(fs, "/ws/README.md", []byte("readme\n"), 0o644))

	// A deleted file still shows up in the changed-path list.
	content, err := PackWorkspace(fs, "/ws", []string{"internal/service.go", "README.md", "deleted.txt"})
	require.NoError(t, err)
	require.NotEmpty(t, content)

	require.NoError(t, UnpackArchive(fs, content, "/restore"))

	got, err := afero.ReadFile(fs, "/restore/internal/service.go")
	require.NoError(t, err)
	assert.Equal(t, "package service\n", string(got))

	got, err = afero.ReadFile(fs, "/restore/README.md")
	require.NoError(t, err)
	assert.Equal(t, "readme\n", string(got))

	exists, err := afero.Exists(fs, "/restore/deleted.txt")
	require.NoError(t, err)
	assert.False(t, exists)
}

func TestPackWorkspaceSkipsEscapingPaths(t *testing.T) {
	fs := afero.NewMemMapFs()
	require.NoError(t, afero.WriteFile(fs, "/evil.txt", []byte("evil"), 0o644))

	content, err := PackWorkspace(fs, "/ws", []string{"../evil.txt", ""})
	require.NoError(t, err)

	require.NoError(t, UnpackArchive(fs, content, "/restore"))
	exists, err := afero.Exists(fs, "/restore/evil.txt")
	require.NoError(t, err)
	assert.False(t, exists)
}
