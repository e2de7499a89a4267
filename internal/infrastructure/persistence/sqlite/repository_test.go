package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"path/filepath"
	"testing"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hmiyata/weave/internal/domain/model/errs"
	"github.com/hmiyata/weave/internal/domain/model/execution"
	"github.com/hmiyata/weave/internal/domain/model/merge"
	"github.com/hmiyata/weave/internal/domain/model/reservation"
	"github.com/hmiyata/weave/internal/domain/model/workitem"
	"github.com/hmiyata/weave/internal/infrastructure/transaction"
)

func setupDB(t *testing.T) *sql.DB {
	t.Helper()
	db, err := sql.Open("sqlite3", ":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	require.NoError(t, NewMigrator(db).Migrate())
	return db
}

func TestMigrateIsIdempotent(t *testing.T) {
	db := setupDB(t)
	m := NewMigrator(db)
	require.NoError(t, m.Migrate())
	require.NoError(t, m.Migrate())

	version, err := m.Version()
	require.NoError(t, err)
	assert.Equal(t, 1, version)
}

func newTestExecution(t *testing.T) *execution.Execution {
	t.Helper()
	phases := []execution.PhaseRecord{
		{
			Name:  "implement",
			Class: execution.ClassImplement,
			Units: []execution.WorkUnitInvocation{{UnitID: "write-code", Required: true, Status: execution.UnitPending}},
		},
		{Name: "ship", Class: execution.ClassShip},
	}
	gates := []execution.GateRecord{
		{ID: "code-review", AfterPhase: "implement", Type: execution.GateHuman, Required: true, Status: execution.GatePending},
	}
	e, err := execution.New("feature-basic", "item-1", phases, gates)
	require.NoError(t, err)
	return e
}

func TestExecutionRoundTrip(t *testing.T) {
	db := setupDB(t)
	repo := NewExecutionRepository(db)
	ctx := context.Background()

	e := newTestExecution(t)
	require.NoError(t, e.CompleteUnit("write-code"))
	require.NoError(t, e.ApproveGate("code-review", "reviewer"))
	require.NoError(t, e.Fail("substantive", "tests failed", "agent-1"))
	require.NoError(t, e.Retry(true))
	require.NoError(t, repo.Save(ctx, e))

	loaded, err := repo.Find(ctx, e.ID)
	require.NoError(t, err)
	assert.Equal(t, e.ID, loaded.ID)
	assert.Equal(t, execution.StatusActive, loaded.Status)
	assert.Equal(t, 1, loaded.RetryCount)
	require.Len(t, loaded.Phases, 2)
	assert.Equal(t, execution.UnitCompleted, loaded.Phases[0].Units[0].Status)
	require.Len(t, loaded.Gates, 1)
	assert.Equal(t, execution.GateApproved, loaded.Gates[0].Status)
	require.Len(t, loaded.Failures, 1)
	assert.Equal(t, "agent-1", loaded.Failures[0].AttemptBy)
	assert.Equal(t, len(e.Journal), len(loaded.Journal), "journal survives the round trip")
}

func TestExecutionFindNotFound(t *testing.T) {
	db := setupDB(t)
	repo := NewExecutionRepository(db)

	_, err := repo.Find(context.Background(), "exec-missing")
	require.Error(t, err)
	assert.Equal(t, errs.KindNotFound, errs.KindOf(err))
}

func TestExecutionListByStatus(t *testing.T) {
	db := setupDB(t)
	repo := NewExecutionRepository(db)
	ctx := context.Background()

	active := newTestExecution(t)
	require.NoError(t, repo.Save(ctx, active))

	paused := newTestExecution(t)
	require.NoError(t, paused.Pause())
	require.NoError(t, repo.Save(ctx, paused))

	got, err := repo.ListByStatus(ctx, execution.StatusPaused)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, paused.ID, got[0].ID)
}

// A rolled-back transaction must take the journal entries down with the
// record mutation.
func TestJournalWriteIsAtomicWithRecord(t *testing.T) {
	db := setupDB(t)
	repo := NewExecutionRepository(db)
	txn := transaction.NewSQLiteTransactionManager(db)
	ctx := context.Background()

	e := newTestExecution(t)
	require.NoError(t, repo.Save(ctx, e))
	journalBefore := len(e.Journal)

	boom := errors.New("downstream failure")
	err := txn.InTransaction(ctx, func(txCtx context.Context) error {
		require.NoError(t, e.CompleteUnit("write-code"))
		require.NoError(t, repo.Save(txCtx, e))
		return boom
	})
	require.ErrorIs(t, err, boom)

	loaded, err := repo.Find(ctx, e.ID)
	require.NoError(t, err)
	assert.Equal(t, execution.UnitPending, loaded.Phases[0].Units[0].Status)
	assert.Len(t, loaded.Journal, journalBefore)
}

func TestReservationClaimConflict(t *testing.T) {
	db := setupDB(t)
	repo := NewReservationRepository(db)
	ctx := context.Background()

	_, err := repo.Claim(ctx, "src/api.go", "agent-1", reservation.TypePath, time.Hour)
	require.NoError(t, err)

	_, err = repo.Claim(ctx, "src/api.go", "agent-2", reservation.TypePath, time.Hour)
	require.Error(t, err)
	assert.Equal(t, errs.KindConflict, errs.KindOf(err))
	assert.Contains(t, err.Error(), "agent-1")

	require.NoError(t, repo.Release(ctx, "src/api.go", "agent-1"))
	_, err = repo.Claim(ctx, "src/api.go", "agent-2", reservation.TypePath, time.Hour)
	require.NoError(t, err)
}

func TestReservationExpiryIsLazy(t *testing.T) {
	db := setupDB(t)
	repo := NewReservationRepository(db)
	ctx := context.Background()

	_, err := repo.Claim(ctx, "module-auth", "agent-1", reservation.TypeModule, 10*time.Millisecond)
	require.NoError(t, err)
	time.Sleep(20 * time.Millisecond)

	found, err := repo.Find(ctx, "module-auth")
	require.NoError(t, err)
	assert.Nil(t, found, "expired reservation reads as free")

	_, err = repo.Claim(ctx, "module-auth", "agent-2", reservation.TypeModule, time.Hour)
	require.NoError(t, err, "expired row is reclaimed by the next claim")
}

func TestReservationReleaseByHolder(t *testing.T) {
	db := setupDB(t)
	repo := NewReservationRepository(db)
	ctx := context.Background()

	for _, res := range []string{"a.go", "b.go"} {
		_, err := repo.Claim(ctx, res, "agent-1", reservation.TypePath, time.Hour)
		require.NoError(t, err)
	}
	n, err := repo.ReleaseByHolder(ctx, "agent-1")
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	live, err := repo.List(ctx)
	require.NoError(t, err)
	assert.Empty(t, live)
}

func TestMergeQueueFIFOPerTarget(t *testing.T) {
	db := setupDB(t)
	repo := NewMergeRepository(db)
	ctx := context.Background()

	enqueue := func(execID execution.ExecutionID, branch, target string) *merge.Request {
		req, err := merge.NewRequest(execID, branch, target)
		require.NoError(t, err)
		req.Position, err = repo.NextPosition(ctx, target)
		require.NoError(t, err)
		require.NoError(t, repo.Save(ctx, req))
		return req
	}

	a := enqueue("exec-1", "weave/a", "main")
	b := enqueue("exec-2", "weave/b", "main")
	c := enqueue("exec-3", "weave/c", "release")

	assert.Less(t, a.Position, b.Position)
	assert.Equal(t, a.Position, c.Position, "positions count per target")

	pending, err := repo.ListPendingByTarget(ctx, "main")
	require.NoError(t, err)
	require.Len(t, pending, 2)
	assert.Equal(t, a.ID, pending[0].ID)

	require.NoError(t, b.BeginCheck())
	require.NoError(t, b.Park([]string{"go.mod"}))
	require.NoError(t, repo.Save(ctx, b))

	loaded, err := repo.Find(ctx, b.ID)
	require.NoError(t, err)
	assert.Equal(t, merge.StatusConflicted, loaded.Status)
	assert.Equal(t, []string{"go.mod"}, loaded.ConflictingPaths)
}

func TestWorkItemSequenceAndRoundTrip(t *testing.T) {
	db := setupDB(t)
	repo := NewWorkItemRepository(db)
	ctx := context.Background()

	factors := workitem.LeverageFactors{Alignment: 7, DownstreamUnlock: 5, Likelihood: 8, Time: 3, Effort: 2}
	first, err := workitem.New("item-1", "Add rate limiting", "feature-basic", factors, nil)
	require.NoError(t, err)
	require.NoError(t, repo.Save(ctx, first))

	second, err := workitem.New("item-2", "Fix pagination", "feature-basic", factors, []string{"item-1"})
	require.NoError(t, err)
	require.NoError(t, repo.Save(ctx, second))

	assert.Less(t, first.Sequence, second.Sequence)

	loaded, err := repo.Find(ctx, "item-2")
	require.NoError(t, err)
	assert.Equal(t, []string{"item-1"}, loaded.DependsOn)
	assert.InDelta(t, second.Score(), loaded.Score(), 0.0001)

	require.NoError(t, loaded.MarkDispatched())
	require.NoError(t, repo.Save(ctx, loaded))

	dispatched, err := repo.ListByStatus(ctx, workitem.StatusDispatched)
	require.NoError(t, err)
	require.Len(t, dispatched, 1)
	assert.Equal(t, "item-2", dispatched[0].ID)
}

// A process crash between operations must lose nothing: state written
// before the crash is fully readable after reopening the same database
// file.
func TestStateSurvivesReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "weave.db")
	ctx := context.Background()

	open := func() *sql.DB {
		db, err := sql.Open("sqlite3", path)
		require.NoError(t, err)
		require.NoError(t, NewMigrator(db).Migrate())
		return db
	}

	db := open()

	e := newTestExecution(t)
	require.NoError(t, e.CompleteUnit("write-code"))
	require.NoError(t, e.Fail("substantive", "tests failed", "agent-1"))
	require.NoError(t, e.Block("tests still red; needs a human look"))
	require.NoError(t, NewExecutionRepository(db).Save(ctx, e))

	factors := workitem.LeverageFactors{Alignment: 7, DownstreamUnlock: 5, Likelihood: 8, Time: 3, Effort: 2}
	item, err := workitem.New("item-1", "Add rate limiting", "feature-basic", factors, nil)
	require.NoError(t, err)
	require.NoError(t, item.MarkDispatched())
	require.NoError(t, NewWorkItemRepository(db).Save(ctx, item))

	_, err = NewReservationRepository(db).Claim(ctx, "item-1", "agent-1", reservation.TypeWorkItem, time.Hour)
	require.NoError(t, err)

	req, err := merge.NewRequest(e.ID, "weave/item-1", "main")
	require.NoError(t, err)
	req.Position, err = NewMergeRepository(db).NextPosition(ctx, "main")
	require.NoError(t, err)
	require.NoError(t, NewMergeRepository(db).Save(ctx, req))

	require.NoError(t, db.Close())
	db = open()
	defer db.Close()

	loaded, err := NewExecutionRepository(db).Find(ctx, e.ID)
	require.NoError(t, err)
	assert.Equal(t, execution.StatusBlocked, loaded.Status)
	assert.Equal(t, execution.StatusFailed, loaded.PriorStatus())
	assert.Equal(t, "tests still red; needs a human look", loaded.BlockedNote)
	require.Len(t, loaded.Failures, 1)
	assert.Equal(t, execution.UnitCompleted, loaded.Phases[0].Units[0].Status)

	restored, err := NewWorkItemRepository(db).Find(ctx, "item-1")
	require.NoError(t, err)
	assert.Equal(t, workitem.StatusDispatched, restored.Status)

	held, err := NewReservationRepository(db).Find(ctx, "item-1")
	require.NoError(t, err)
	require.NotNil(t, held)
	assert.Equal(t, "agent-1", held.HolderID())

	pending, err := NewMergeRepository(db).ListPendingByTarget(ctx, "main")
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, req.ID, pending[0].ID)
}
