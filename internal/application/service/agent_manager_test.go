package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hmiyata/weave/internal/application/port/output"
	"github.com/hmiyata/weave/internal/domain/model/agent"
	"github.com/hmiyata/weave/internal/domain/model/errs"
	"github.com/hmiyata/weave/internal/domain/model/execution"
	"github.com/hmiyata/weave/internal/domain/model/workitem"
	"github.com/hmiyata/weave/internal/infrastructure/repository/memory"
)

func testExecution(t *testing.T, workItemID string) *execution.Execution {
	t.Helper()
	phases := []execution.PhaseRecord{{Name: "implement", Class: execution.ClassImplement}}
	e, err := execution.New("feature-basic", workItemID, phases, nil)
	require.NoError(t, err)
	return e
}

func testItem(t *testing.T, id string) *workitem.WorkItem {
	t.Helper()
	w, err := workitem.New(id, "Add rate limiting", "feature-basic", workitem.LeverageFactors{
		Alignment: 7, DownstreamUnlock: 5, Likelihood: 8, Time: 3, Effort: 3,
	}, nil)
	require.NoError(t, err)
	return w
}

func newManagerFixture(runner AgentRunner, cfg AgentManagerConfig) (*AgentManager, *ReservationService, *fakeVCS) {
	reservations := NewReservationService(memory.NewReservationRepository(), DefaultReservationServiceConfig(), nil)
	vcs := newFakeVCS()
	m := NewAgentManager(memory.NewAgentRepository(), memory.NewExecutionRepository(), reservations, vcs, runner, cfg)
	return m, reservations, vcs
}

func waitResult(t *testing.T, m *AgentManager) AgentResult {
	t.Helper()
	select {
	case r := <-m.Results():
		return r
	case <-time.After(2 * time.Second):
		t.Fatal("no agent result arrived")
		return AgentResult{}
	}
}

func TestSpawnRunsWorkerAndReports(t *testing.T) {
	runner := AgentRunnerFunc(func(_ context.Context, a *agent.Agent, _ *execution.Execution, ws *output.WorkspaceInfo) error {
		assert.Equal(t, agent.StatusRunning, a.Status)
		assert.NotEmpty(t, ws.Path)
		return nil
	})
	m, reservations, vcs := newManagerFixture(runner, DefaultAgentManagerConfig())

	item := testItem(t, "item-1")
	e := testExecution(t, item.ID)

	a, err := m.Spawn(context.Background(), e, item)
	require.NoError(t, err)

	// The work item is reserved for the spawned agent.
	holder, err := reservations.CheckBlocked(context.Background(), item.ID)
	require.NoError(t, err)
	assert.Equal(t, a.ID, holder)

	r := waitResult(t, m)
	assert.NoError(t, r.Err)
	assert.Equal(t, a.ID, r.Agent.ID)
	assert.Equal(t, e.ID, r.ExecutionID)
	assert.Equal(t, 1, vcs.workspaceCount())

	require.NoError(t, m.Finalize(context.Background(), r.Agent, agent.StatusCompleted))
	assert.Equal(t, 0, m.ActiveCount())
	assert.Equal(t, 0, vcs.workspaceCount(), "finalize removes the workspace")

	holder, err = reservations.CheckBlocked(context.Background(), item.ID)
	require.NoError(t, err)
	assert.Empty(t, holder, "finalize releases the reservation")
	m.Wait()
}

func TestSpawnConflictTearsDownWorkspace(t *testing.T) {
	runner := AgentRunnerFunc(func(context.Context, *agent.Agent, *execution.Execution, *output.WorkspaceInfo) error {
		return nil
	})
	m, reservations, vcs := newManagerFixture(runner, DefaultAgentManagerConfig())

	item := testItem(t, "item-1")
	_, err := reservations.Claim(context.Background(), item.ID, "agent-other", "work_item", time.Hour)
	require.NoError(t, err)

	_, err = m.Spawn(context.Background(), testExecution(t, item.ID), item)
	require.Error(t, err)
	assert.Equal(t, errs.KindConflict, errs.KindOf(err))
	assert.Equal(t, 0, vcs.workspaceCount(), "failed spawn leaves no workspace behind")
	assert.Equal(t, 0, m.ActiveCount())
}

func TestRetryInPlaceKeepsWorkspace(t *testing.T) {
	attempts := make(chan string, 2)
	runner := AgentRunnerFunc(func(_ context.Context, _ *agent.Agent, _ *execution.Execution, ws *output.WorkspaceInfo) error {
		attempts <- ws.Path
		return errors.New("unit failed")
	})
	m, _, _ := newManagerFixture(runner, DefaultAgentManagerConfig())

	item := testItem(t, "item-1")
	e := testExecution(t, item.ID)
	a, err := m.Spawn(context.Background(), e, item)
	require.NoError(t, err)

	r := waitResult(t, m)
	require.Error(t, r.Err)

	require.NoError(t, m.RetryInPlace(context.Background(), a, e, item.ID, 0))
	r = waitResult(t, m)
	require.Error(t, r.Err)
	assert.Equal(t, 1, a.RetryCount)

	first, second := <-attempts, <-attempts
	assert.Equal(t, first, second, "retry reuses the same workspace")
	require.NoError(t, m.Finalize(context.Background(), a, agent.StatusFailed))
	m.Wait()
}

func TestReassignSpawnsFreshWorkspace(t *testing.T) {
	paths := make(chan string, 2)
	runner := AgentRunnerFunc(func(_ context.Context, _ *agent.Agent, _ *execution.Execution, ws *output.WorkspaceInfo) error {
		paths <- ws.Path
		return nil
	})
	m, reservations, _ := newManagerFixture(runner, DefaultAgentManagerConfig())

	item := testItem(t, "item-1")
	e := testExecution(t, item.ID)
	old, err := m.Spawn(context.Background(), e, item)
	require.NoError(t, err)
	waitResult(t, m)

	fresh, err := m.Reassign(context.Background(), old, e, item)
	require.NoError(t, err)
	assert.NotEqual(t, old.ID, fresh.ID)
	assert.Equal(t, agent.StatusReassigned, old.Status)

	// The reservation moved to the fresh agent.
	holder, err := reservations.CheckBlocked(context.Background(), item.ID)
	require.NoError(t, err)
	assert.Equal(t, fresh.ID, holder)

	waitResult(t, m)
	require.NoError(t, m.Finalize(context.Background(), fresh, agent.StatusCompleted))
	m.Wait()
}

func TestCapacityByMode(t *testing.T) {
	cfg := DefaultAgentManagerConfig()

	cfg.Mode = ModeSequential
	assert.Equal(t, 1, cfg.Cap())

	cfg.Mode = ModeParallelBounded
	cfg.MaxParallel = 4
	assert.Equal(t, 4, cfg.Cap())

	cfg.Mode = ModeParallelUnbounded
	assert.Equal(t, 0, cfg.Cap())
}

func TestCancelStopsWorker(t *testing.T) {
	runner := AgentRunnerFunc(func(ctx context.Context, _ *agent.Agent, _ *execution.Execution, _ *output.WorkspaceInfo) error {
		<-ctx.Done()
		return ctx.Err()
	})
	m, _, _ := newManagerFixture(runner, DefaultAgentManagerConfig())

	item := testItem(t, "item-1")
	a, err := m.Spawn(context.Background(), testExecution(t, item.ID), item)
	require.NoError(t, err)

	m.Cancel(a.ID)
	r := waitResult(t, m)
	assert.ErrorIs(t, r.Err, context.Canceled)
	require.NoError(t, m.Finalize(context.Background(), a, agent.StatusFailed))
	m.Wait()
}

// Aborting an execution reclaims everything its live agent holds: the
// worker stops, the reservation frees, the workspace goes away.
func TestAbortExecutionReclaimsAgent(t *testing.T) {
	started := make(chan struct{})
	runner := AgentRunnerFunc(func(ctx context.Context, _ *agent.Agent, _ *execution.Execution, _ *output.WorkspaceInfo) error {
		close(started)
		<-ctx.Done()
		return ctx.Err()
	})
	m, reservations, vcs := newManagerFixture(runner, DefaultAgentManagerConfig())

	item := testItem(t, "item-1")
	e := testExecution(t, item.ID)
	a, err := m.Spawn(context.Background(), e, item)
	require.NoError(t, err)
	<-started

	require.NoError(t, m.AbortExecution(context.Background(), e.ID))
	r := waitResult(t, m)
	assert.ErrorIs(t, r.Err, context.Canceled)
	m.Wait()

	holder, err := reservations.CheckBlocked(context.Background(), item.ID)
	require.NoError(t, err)
	assert.Empty(t, holder, "reservation released")
	assert.Zero(t, vcs.workspaceCount(), "workspace removed")

	stored, err := m.agentRepo.FindByExecution(context.Background(), e.ID)
	require.NoError(t, err)
	assert.Equal(t, a.ID, stored.ID)
	assert.Equal(t, agent.StatusFailed, stored.Status)

	// Terminal agents make a second abort a no-op.
	require.NoError(t, m.AbortExecution(context.Background(), e.ID))
}
