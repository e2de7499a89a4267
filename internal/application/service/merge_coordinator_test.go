package service

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hmiyata/weave/internal/application/port/output"
	"github.com/hmiyata/weave/internal/domain/model/errs"
	"github.com/hmiyata/weave/internal/domain/model/execution"
	"github.com/hmiyata/weave/internal/domain/model/merge"
	"github.com/hmiyata/weave/internal/infrastructure/repository/memory"
)

func newMergeFixture() (*MergeCoordinator, *memory.MergeRepository, *fakeVCS, *collectSink) {
	repo := memory.NewMergeRepository()
	vcs := newFakeVCS()
	sink := &collectSink{}
	return NewMergeCoordinator(repo, vcs, sink), repo, vcs, sink
}

func TestEnqueueAssignsFIFOPositions(t *testing.T) {
	ctx := context.Background()
	coord, _, _, _ := newMergeFixture()

	r1, err := coord.Enqueue(ctx, "exec-1", "weave/a", "main")
	require.NoError(t, err)
	r2, err := coord.Enqueue(ctx, "exec-2", "weave/b", "main")
	require.NoError(t, err)
	r3, err := coord.Enqueue(ctx, "exec-3", "weave/c", "release")
	require.NoError(t, err)

	assert.Less(t, r1.Position, r2.Position, "same target queues FIFO")
	assert.Equal(t, r1.Position, r3.Position, "positions are per target")
}

func TestCheckConflictsCleanAndParked(t *testing.T) {
	ctx := context.Background()
	coord, _, vcs, sink := newMergeFixture()

	clean, err := coord.Enqueue(ctx, "exec-1", "weave/clean", "main")
	require.NoError(t, err)
	dirty, err := coord.Enqueue(ctx, "exec-2", "weave/dirty", "main")
	require.NoError(t, err)
	vcs.setConflicts("weave/dirty", "internal/server.go")

	checked, err := coord.CheckConflicts(ctx, clean.ID)
	require.NoError(t, err)
	assert.Equal(t, merge.StatusReady, checked.Status)

	parked, err := coord.CheckConflicts(ctx, dirty.ID)
	require.NoError(t, err)
	assert.Equal(t, merge.StatusConflicted, parked.Status)
	assert.Equal(t, []string{"internal/server.go"}, parked.ConflictingPaths)

	assert.Len(t, sink.byType(output.EventMergeReady), 1)
	assert.Len(t, sink.byType(output.EventMergeConflicted), 1)
}

func TestExecuteMergeRequiresReady(t *testing.T) {
	ctx := context.Background()
	coord, _, _, _ := newMergeFixture()

	req, err := coord.Enqueue(ctx, "exec-1", "weave/a", "main")
	require.NoError(t, err)

	_, err = coord.ExecuteMerge(ctx, req.ID)
	require.Error(t, err)
	assert.Equal(t, errs.KindConflict, errs.KindOf(err))
}

func TestExecuteMergeParksLateConflict(t *testing.T) {
	ctx := context.Background()
	coord, repo, vcs, _ := newMergeFixture()

	req, err := coord.Enqueue(ctx, "exec-1", "weave/a", "main")
	require.NoError(t, err)
	_, err = coord.CheckConflicts(ctx, req.ID)
	require.NoError(t, err)

	// The baseline moved between the check and the merge.
	vcs.setConflicts("weave/a", "go.mod")

	_, err = coord.ExecuteMerge(ctx, req.ID)
	require.Error(t, err)
	assert.Equal(t, errs.KindMergeConflict, errs.KindOf(err))

	stored, err := repo.Find(ctx, req.ID)
	require.NoError(t, err)
	assert.Equal(t, merge.StatusConflicted, stored.Status)
	assert.Empty(t, vcs.mergedBranches(), "nothing merged on a late conflict")
}

func TestRecheckParkedAfterBaselineChange(t *testing.T) {
	ctx := context.Background()
	coord, repo, vcs, _ := newMergeFixture()

	req, err := coord.Enqueue(ctx, "exec-1", "weave/a", "main")
	require.NoError(t, err)
	vcs.setConflicts("weave/a", "internal/server.go")
	_, err = coord.CheckConflicts(ctx, req.ID)
	require.NoError(t, err)

	// A rebase cleared the conflict; a baseline change triggers the recheck.
	vcs.setConflicts("weave/a")
	require.NoError(t, coord.RecheckParked(ctx, "main"))

	stored, err := repo.Find(ctx, req.ID)
	require.NoError(t, err)
	assert.Equal(t, merge.StatusReady, stored.Status)
}

// Landing a merge moves the baseline, so parked requests whose conflicts
// came from the pre-merge baseline get rechecked without operator help.
func TestExecuteMergeRechecksParked(t *testing.T) {
	ctx := context.Background()
	coord, repo, vcs, _ := newMergeFixture()

	parked, err := coord.Enqueue(ctx, "exec-1", "weave/parked", "main")
	require.NoError(t, err)
	vcs.setConflicts("weave/parked", "internal/server.go")
	_, err = coord.CheckConflicts(ctx, parked.ID)
	require.NoError(t, err)

	clean, err := coord.Enqueue(ctx, "exec-2", "weave/clean", "main")
	require.NoError(t, err)
	_, err = coord.CheckConflicts(ctx, clean.ID)
	require.NoError(t, err)

	// The landing merge resolves what the parked branch conflicted on.
	vcs.setConflicts("weave/parked")
	_, err = coord.ExecuteMerge(ctx, clean.ID)
	require.NoError(t, err)

	stored, err := repo.Find(ctx, parked.ID)
	require.NoError(t, err)
	assert.Equal(t, merge.StatusReady, stored.Status, "parked request rechecked when the baseline moved")
}

// Concurrent submitters against one target must serialize: at no instant are
// two requests merging into the same baseline.
func TestMergesSerializePerTarget(t *testing.T) {
	ctx := context.Background()
	coord, _, vcs, _ := newMergeFixture()

	var inMerge int32
	var overlap int32
	vcs.mergeBarrier = func() {
		if atomic.AddInt32(&inMerge, 1) > 1 {
			atomic.StoreInt32(&overlap, 1)
		}
		time.Sleep(5 * time.Millisecond)
		atomic.AddInt32(&inMerge, -1)
	}

	const n = 8
	ids := make([]string, n)
	for i := 0; i < n; i++ {
		req, err := coord.Enqueue(ctx, execution.ExecutionID(fmt.Sprintf("exec-%d", i)), fmt.Sprintf("weave/b%d", i), "main")
		require.NoError(t, err)
		_, err = coord.CheckConflicts(ctx, req.ID)
		require.NoError(t, err)
		ids[i] = req.ID
	}

	var wg sync.WaitGroup
	for _, id := range ids {
		wg.Add(1)
		go func(id string) {
			defer wg.Done()
			_, err := coord.ExecuteMerge(ctx, id)
			assert.NoError(t, err)
		}(id)
	}
	wg.Wait()

	assert.Zero(t, atomic.LoadInt32(&overlap), "two merges overlapped on one target")
	assert.Len(t, vcs.mergedBranches(), n)
}

func TestCancelByExecution(t *testing.T) {
	ctx := context.Background()
	coord, repo, _, _ := newMergeFixture()

	req, err := coord.Enqueue(ctx, "exec-1", "weave/a", "main")
	require.NoError(t, err)

	require.NoError(t, coord.CancelByExecution(ctx, "exec-1"))

	stored, err := repo.Find(ctx, req.ID)
	require.NoError(t, err)
	assert.Equal(t, merge.StatusCanceled, stored.Status)
}
