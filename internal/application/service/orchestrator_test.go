package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/hmiyata/weave/internal/application/port/output"
	"github.com/hmiyata/weave/internal/catalog"
	"github.com/hmiyata/weave/internal/domain/model/agent"
	"github.com/hmiyata/weave/internal/domain/model/errs"
	"github.com/hmiyata/weave/internal/domain/model/execution"
	"github.com/hmiyata/weave/internal/domain/model/merge"
	"github.com/hmiyata/weave/internal/domain/model/workitem"
	"github.com/hmiyata/weave/internal/domain/service/cascade"
	"github.com/hmiyata/weave/internal/infrastructure/repository/memory"
)

func testCatalog() *catalog.Catalog {
	return &catalog.Catalog{
		Templates: map[string]*catalog.Template{
			"feature-basic": {
				ID: "feature-basic",
				Phases: []catalog.TemplatePhase{
					{Name: "implement", Class: "implement", Units: []catalog.TemplateUnit{{ID: "write-code", Required: true}}},
				},
			},
		},
		Units: map[string]*catalog.WorkUnit{
			"write-code": {ID: "write-code"},
		},
	}
}

type orchFixture struct {
	orch      *Orchestrator
	manager   *AgentManager
	merges    *MergeCoordinator
	mergeRepo *memory.MergeRepository
	items     *memory.WorkItemRepository
	execs     *memory.ExecutionRepository
	vcs       *fakeVCS
	sink      *collectSink
}

func newOrchFixture(t *testing.T, runner AgentRunner, mode ConcurrencyMode) *orchFixture {
	t.Helper()
	items := memory.NewWorkItemRepository()
	execs := memory.NewExecutionRepository()
	reservations := NewReservationService(memory.NewReservationRepository(), DefaultReservationServiceConfig(), nil)
	vcs := newFakeVCS()
	sink := &collectSink{}

	cfg := DefaultAgentManagerConfig()
	cfg.Mode = mode
	manager := NewAgentManager(memory.NewAgentRepository(), execs, reservations, vcs, runner, cfg)

	mergeRepo := memory.NewMergeRepository()
	merges := NewMergeCoordinator(mergeRepo, vcs, sink)

	policy := cascade.DefaultPolicy()
	policy.BaseBackoff = time.Millisecond

	orch := NewOrchestrator(items, execs, manager, merges, testCatalog(), policy, sink, nil, nil)
	return &orchFixture{
		orch:      orch,
		manager:   manager,
		merges:    merges,
		mergeRepo: mergeRepo,
		items:     items,
		execs:     execs,
		vcs:       vcs,
		sink:      sink,
	}
}

func (f *orchFixture) addItem(t *testing.T, id string, factors workitem.LeverageFactors, deps ...string) *workitem.WorkItem {
	t.Helper()
	w, err := workitem.New(id, "work on "+id, "feature-basic", factors, deps)
	require.NoError(t, err)
	w.Sequence = len(mustList(t, f.items))
	require.NoError(t, f.items.Save(context.Background(), w))
	return w
}

func mustList(t *testing.T, repo *memory.WorkItemRepository) []*workitem.WorkItem {
	t.Helper()
	all, err := repo.List(context.Background())
	require.NoError(t, err)
	return all
}

// drive runs dispatch and result handling until the backlog is quiescent:
// nothing dispatchable remains and no agent is live.
func (f *orchFixture) drive(t *testing.T) {
	t.Helper()
	ctx := context.Background()
	deadline := time.After(5 * time.Second)
	for {
		_, err := f.orch.Dispatch(ctx)
		require.NoError(t, err)

		if f.manager.ActiveCount() == 0 {
			batch, err := f.orch.NextBatch(ctx, 1)
			require.NoError(t, err)
			if len(batch) == 0 {
				f.manager.Wait()
				return
			}
		}

		select {
		case r := <-f.manager.Results():
			require.NoError(t, f.orch.HandleResult(ctx, r))
		case <-deadline:
			t.Fatal("dispatch loop did not quiesce")
		}
	}
}

// Higher leverage dispatches first. With a cap of one the full order is
// observable.
func TestDispatchOrderByLeverage(t *testing.T) {
	var mu sync.Mutex
	var order []string
	runner := AgentRunnerFunc(func(_ context.Context, _ *agent.Agent, e *execution.Execution, _ *output.WorkspaceInfo) error {
		mu.Lock()
		order = append(order, e.WorkItemID)
		mu.Unlock()
		return nil
	})
	f := newOrchFixture(t, runner, ModeSequential)

	// Scores: chore 1.17, feature 3.38, hotfix 8.00.
	f.addItem(t, "chore", workitem.LeverageFactors{Alignment: 2, DownstreamUnlock: 2, Likelihood: 3, Time: 6, Effort: 6})
	f.addItem(t, "feature", workitem.LeverageFactors{Alignment: 6, DownstreamUnlock: 5, Likelihood: 7, Time: 4, Effort: 4})
	f.addItem(t, "hotfix", workitem.LeverageFactors{Alignment: 9, DownstreamUnlock: 8, Likelihood: 8, Time: 1, Effort: 1})

	f.drive(t)

	assert.Equal(t, []string{"hotfix", "feature", "chore"}, order)
	for _, w := range mustList(t, f.items) {
		assert.Equal(t, workitem.StatusDone, w.Status, w.ID)
	}
}

func TestDispatchHonorsDependencies(t *testing.T) {
	var mu sync.Mutex
	var order []string
	runner := AgentRunnerFunc(func(_ context.Context, _ *agent.Agent, e *execution.Execution, _ *output.WorkspaceInfo) error {
		mu.Lock()
		order = append(order, e.WorkItemID)
		mu.Unlock()
		return nil
	})
	f := newOrchFixture(t, runner, ModeSequential)

	// schema scores lower than api but api depends on it.
	f.addItem(t, "schema", workitem.LeverageFactors{Alignment: 3, DownstreamUnlock: 9, Likelihood: 8, Time: 3, Effort: 3})
	f.addItem(t, "api", workitem.LeverageFactors{Alignment: 9, DownstreamUnlock: 4, Likelihood: 8, Time: 2, Effort: 2}, "schema")

	f.drive(t)

	assert.Equal(t, []string{"schema", "api"}, order)
}

// Two identical consecutive substantive failures escalate instead of
// burning the rest of the retry budget.
func TestIdenticalFailuresEscalate(t *testing.T) {
	var attempts int32
	var mu sync.Mutex
	runner := AgentRunnerFunc(func(context.Context, *agent.Agent, *execution.Execution, *output.WorkspaceInfo) error {
		mu.Lock()
		attempts++
		mu.Unlock()
		return errors.New("assertion failed in auth_test.go")
	})
	f := newOrchFixture(t, runner, ModeSequential)
	f.addItem(t, "auth", workitem.LeverageFactors{Alignment: 5, DownstreamUnlock: 5, Likelihood: 5, Time: 5, Effort: 5})

	f.drive(t)

	mu.Lock()
	got := attempts
	mu.Unlock()
	assert.Equal(t, int32(2), got, "second identical failure short-circuits")

	item, err := f.items.Find(context.Background(), "auth")
	require.NoError(t, err)
	assert.Equal(t, workitem.StatusBlocked, item.Status)

	e, err := f.execs.FindByWorkItem(context.Background(), "auth")
	require.NoError(t, err)
	assert.Equal(t, execution.StatusBlocked, e.Status)
	assert.Contains(t, e.BlockedNote, "identical consecutive failure")

	blocked := f.sink.byType(output.EventExecutionBlocked)
	require.Len(t, blocked, 1)
	assert.Contains(t, blocked[0].Summary, "failure history")
}

// Distinct substantive failures walk the whole cascade: two in-place
// retries, one reassignment to a fresh agent, then escalation.
func TestCascadeExhaustsBudgetThenEscalates(t *testing.T) {
	var mu sync.Mutex
	var agents []string
	attempt := 0
	runner := AgentRunnerFunc(func(_ context.Context, a *agent.Agent, _ *execution.Execution, _ *output.WorkspaceInfo) error {
		mu.Lock()
		defer mu.Unlock()
		attempt++
		agents = append(agents, a.ID)
		return fmt.Errorf("failure variant %d", attempt)
	})
	f := newOrchFixture(t, runner, ModeSequential)
	f.addItem(t, "flaky", workitem.LeverageFactors{Alignment: 5, DownstreamUnlock: 5, Likelihood: 5, Time: 5, Effort: 5})

	f.drive(t)

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, agents, 4, "budget of three retries plus the first attempt")
	assert.Equal(t, agents[0], agents[1], "first retries stay on the same agent")
	assert.Equal(t, agents[1], agents[2])
	assert.NotEqual(t, agents[2], agents[3], "final budgeted attempt goes to a fresh agent")

	e, err := f.execs.FindByWorkItem(context.Background(), "flaky")
	require.NoError(t, err)
	assert.Equal(t, execution.StatusBlocked, e.Status)
	assert.Contains(t, e.BlockedNote, "retry budget exhausted")
}

// Transient failures retry with backoff and never consume the budget.
func TestTransientFailuresDoNotConsumeBudget(t *testing.T) {
	var mu sync.Mutex
	attempt := 0
	runner := AgentRunnerFunc(func(context.Context, *agent.Agent, *execution.Execution, *output.WorkspaceInfo) error {
		mu.Lock()
		defer mu.Unlock()
		attempt++
		if attempt <= 2 {
			return errs.Newf(errs.KindTransient, "NET_TIMEOUT", "dial timeout on attempt %d", attempt)
		}
		return nil
	})
	f := newOrchFixture(t, runner, ModeSequential)
	f.addItem(t, "deploy", workitem.LeverageFactors{Alignment: 5, DownstreamUnlock: 5, Likelihood: 5, Time: 5, Effort: 5})

	f.drive(t)

	item, err := f.items.Find(context.Background(), "deploy")
	require.NoError(t, err)
	assert.Equal(t, workitem.StatusDone, item.Status)

	e, err := f.execs.FindByWorkItem(context.Background(), "deploy")
	require.NoError(t, err)
	assert.Zero(t, e.RetryCount, "transient retries are free")
	assert.Len(t, e.Failures, 2)
}

func TestParallelBoundedCapsLiveAgents(t *testing.T) {
	release := make(chan struct{})
	runner := AgentRunnerFunc(func(ctx context.Context, _ *agent.Agent, _ *execution.Execution, _ *output.WorkspaceInfo) error {
		select {
		case <-release:
			return nil
		case <-ctx.Done():
			return ctx.Err()
		}
	})
	f := newOrchFixture(t, runner, ModeParallelBounded)
	f.manager.config.MaxParallel = 2

	for i := 0; i < 4; i++ {
		f.addItem(t, fmt.Sprintf("item-%d", i), workitem.LeverageFactors{Alignment: 5, DownstreamUnlock: 5, Likelihood: 5, Time: 5, Effort: 5})
	}

	ctx := context.Background()
	started, err := f.orch.Dispatch(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, started)
	assert.Equal(t, 2, f.manager.ActiveCount())

	close(release)
	for i := 0; i < 2; i++ {
		select {
		case r := <-f.manager.Results():
			require.NoError(t, f.orch.HandleResult(ctx, r))
		case <-time.After(2 * time.Second):
			t.Fatal("agents did not report")
		}
	}
	f.drive(t)

	for _, w := range mustList(t, f.items) {
		assert.Equal(t, workitem.StatusDone, w.Status, w.ID)
	}
}

func TestCyclicDependenciesAreQuarantined(t *testing.T) {
	var mu sync.Mutex
	var order []string
	runner := AgentRunnerFunc(func(_ context.Context, _ *agent.Agent, e *execution.Execution, _ *output.WorkspaceInfo) error {
		mu.Lock()
		order = append(order, e.WorkItemID)
		mu.Unlock()
		return nil
	})
	f := newOrchFixture(t, runner, ModeSequential)

	factors := workitem.LeverageFactors{Alignment: 5, DownstreamUnlock: 5, Likelihood: 5, Time: 5, Effort: 5}
	f.addItem(t, "a", factors, "b")
	f.addItem(t, "b", factors, "a")
	f.addItem(t, "standalone", factors)

	f.drive(t)

	assert.Equal(t, []string{"standalone"}, order)
	for _, id := range []string{"a", "b"} {
		w, err := f.items.Find(context.Background(), id)
		require.NoError(t, err)
		assert.Equal(t, workitem.StatusBlocked, w.Status, id)
	}
}

// A completed execution must hand its branch to the merge queue; done
// work that never reaches the baseline is lost work.
func TestCompletionEnqueuesMerge(t *testing.T) {
	runner := AgentRunnerFunc(func(context.Context, *agent.Agent, *execution.Execution, *output.WorkspaceInfo) error {
		return nil
	})
	f := newOrchFixture(t, runner, ModeSequential)
	f.addItem(t, "checkout", workitem.LeverageFactors{Alignment: 5, DownstreamUnlock: 5, Likelihood: 5, Time: 5, Effort: 5})

	f.drive(t)

	ctx := context.Background()
	pending, err := f.mergeRepo.ListPendingByTarget(ctx, f.manager.config.Baseline)
	require.NoError(t, err)
	require.Len(t, pending, 1)

	req := pending[0]
	assert.Equal(t, merge.StatusQueued, req.Status)
	assert.Contains(t, req.SourceBranch, "checkout")

	e, err := f.execs.FindByWorkItem(ctx, "checkout")
	require.NoError(t, err)
	assert.Equal(t, e.ID, req.ExecutionID)

	completed := f.sink.byType(output.EventExecutionCompleted)
	require.Len(t, completed, 1)
	assert.Equal(t, req.ID, completed[0].Details["merge_request"])
}

// A reassignment whose replacement cannot spawn returns the work item to
// the backlog; a later dispatch round retries it.
func TestReassignSpawnFailureRequeuesItem(t *testing.T) {
	var mu sync.Mutex
	attempt := 0
	runner := AgentRunnerFunc(func(context.Context, *agent.Agent, *execution.Execution, *output.WorkspaceInfo) error {
		mu.Lock()
		defer mu.Unlock()
		attempt++
		return fmt.Errorf("failure variant %d", attempt)
	})
	f := newOrchFixture(t, runner, ModeSequential)
	f.addItem(t, "risky", workitem.LeverageFactors{Alignment: 5, DownstreamUnlock: 5, Likelihood: 5, Time: 5, Effort: 5})

	ctx := context.Background()
	_, err := f.orch.Dispatch(ctx)
	require.NoError(t, err)

	// Two in-place retries precede the reassignment.
	for i := 0; i < 2; i++ {
		select {
		case r := <-f.manager.Results():
			require.NoError(t, f.orch.HandleResult(ctx, r))
		case <-time.After(5 * time.Second):
			t.Fatal("agent did not report")
		}
	}

	f.vcs.setCreateErr(errors.New("worktree add: disk full"))
	select {
	case r := <-f.manager.Results():
		require.Error(t, f.orch.HandleResult(ctx, r))
	case <-time.After(5 * time.Second):
		t.Fatal("agent did not report")
	}
	f.manager.Wait()

	item, err := f.items.Find(ctx, "risky")
	require.NoError(t, err)
	assert.Equal(t, workitem.StatusAvailable, item.Status)
}

func TestRunDrainsBacklog(t *testing.T) {
	defer goleak.VerifyNone(t)

	runner := AgentRunnerFunc(func(context.Context, *agent.Agent, *execution.Execution, *output.WorkspaceInfo) error {
		return nil
	})
	f := newOrchFixture(t, runner, ModeSequential)
	f.orch.pollInterval = 5 * time.Millisecond
	f.addItem(t, "only", workitem.LeverageFactors{Alignment: 5, DownstreamUnlock: 5, Likelihood: 5, Time: 5, Effort: 5})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, f.orch.Run(ctx, true))
	f.manager.Wait()

	item, err := f.items.Find(context.Background(), "only")
	require.NoError(t, err)
	assert.Equal(t, workitem.StatusDone, item.Status)
}
