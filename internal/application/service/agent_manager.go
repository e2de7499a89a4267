package service

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/hmiyata/weave/internal/application/port/output"
	"github.com/hmiyata/weave/internal/domain/model/agent"
	"github.com/hmiyata/weave/internal/domain/model/errs"
	"github.com/hmiyata/weave/internal/domain/model/execution"
	"github.com/hmiyata/weave/internal/domain/model/reservation"
	"github.com/hmiyata/weave/internal/domain/model/workitem"
	"github.com/hmiyata/weave/internal/domain/repository"
	"github.com/hmiyata/weave/internal/pkg/slug"
)

// ConcurrencyMode controls how many agents may run at once
type ConcurrencyMode string

const (
	// ModeSequential runs one agent at a time.
	ModeSequential ConcurrencyMode = "sequential"
	// ModeParallelBounded runs up to MaxParallel agents concurrently.
	ModeParallelBounded ConcurrencyMode = "parallel-bounded"
	// ModeParallelUnbounded dispatches whenever an item is unblocked,
	// relying entirely on reservations for safety.
	ModeParallelUnbounded ConcurrencyMode = "parallel-unbounded"
)

// AgentResult is one worker's completion or failure report. Workers never
// talk to each other; every report flows through this channel into a single
// consuming loop.
type AgentResult struct {
	Agent       *agent.Agent
	ExecutionID execution.ExecutionID
	WorkItemID  string
	Branch      string
	Err         error
}

// WorkspaceArchiver snapshots a workspace's changed files before the
// workspace is destroyed. Wired for non-completed terminations so an
// aborted or escalated execution leaves an inspectable trail.
type WorkspaceArchiver interface {
	Archive(ctx context.Context, executionID string, ws *output.WorkspaceInfo, baseline, reason string) error
}

// AgentRunner drives one execution inside one workspace. The production
// implementation launches a worker process; tests substitute fakes.
type AgentRunner interface {
	Run(ctx context.Context, a *agent.Agent, e *execution.Execution, ws *output.WorkspaceInfo) error
}

// AgentRunnerFunc adapts a function to AgentRunner
type AgentRunnerFunc func(ctx context.Context, a *agent.Agent, e *execution.Execution, ws *output.WorkspaceInfo) error

// Run implements AgentRunner
func (f AgentRunnerFunc) Run(ctx context.Context, a *agent.Agent, e *execution.Execution, ws *output.WorkspaceInfo) error {
	return f(ctx, a, e, ws)
}

// AgentManagerConfig holds dispatch configuration
type AgentManagerConfig struct {
	Mode           ConcurrencyMode
	MaxParallel    int           // used by parallel-bounded
	Baseline       string        // target baseline workspaces branch from
	ReservationTTL time.Duration // ttl for work-item reservations
}

// DefaultAgentManagerConfig returns the stock configuration
func DefaultAgentManagerConfig() AgentManagerConfig {
	return AgentManagerConfig{
		Mode:           ModeSequential,
		MaxParallel:    1,
		Baseline:       "main",
		ReservationTTL: 30 * time.Minute,
	}
}

// Cap returns the effective concurrency cap, 0 meaning unbounded
func (c AgentManagerConfig) Cap() int {
	switch c.Mode {
	case ModeSequential:
		return 1
	case ModeParallelBounded:
		if c.MaxParallel < 1 {
			return 1
		}
		return c.MaxParallel
	default:
		return 0
	}
}

type activeAgent struct {
	ws     *output.WorkspaceInfo
	cancel context.CancelFunc
}

// AgentManager spawns worker agents, binds each to one execution and one
// isolated workspace, and reports terminations over the Results channel.
// Policy (what to do on completion or failure) is injected by the caller;
// the manager is mechanism only.
type AgentManager struct {
	agentRepo    repository.AgentRepository
	execRepo     repository.ExecutionRepository
	reservations *ReservationService
	vcs          output.VCSGateway
	runner       AgentRunner
	archiver     WorkspaceArchiver // optional
	config       AgentManagerConfig

	results chan AgentResult
	wg      sync.WaitGroup

	mu     sync.Mutex
	active map[string]activeAgent // agent id -> workspace + cancel
}

// NewAgentManager creates an agent manager
func NewAgentManager(
	agentRepo repository.AgentRepository,
	execRepo repository.ExecutionRepository,
	reservations *ReservationService,
	vcs output.VCSGateway,
	runner AgentRunner,
	config AgentManagerConfig,
) *AgentManager {
	return &AgentManager{
		agentRepo:    agentRepo,
		execRepo:     execRepo,
		reservations: reservations,
		vcs:          vcs,
		runner:       runner,
		config:       config,
		results:      make(chan AgentResult, 64),
		active:       make(map[string]activeAgent),
	}
}

// SetArchiver installs the workspace archiver used on non-completed
// terminations. Archiving is best effort; failures do not block teardown.
func (m *AgentManager) SetArchiver(archiver WorkspaceArchiver) {
	m.archiver = archiver
}

// Results is the single channel all worker terminations arrive on
func (m *AgentManager) Results() <-chan AgentResult {
	return m.results
}

// ActiveCount returns how many agents are currently live
func (m *AgentManager) ActiveCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.active)
}

// HasCapacity reports whether another agent may be dispatched
func (m *AgentManager) HasCapacity() bool {
	cap := m.config.Cap()
	if cap == 0 {
		return true
	}
	return m.ActiveCount() < cap
}

// Spawn creates a fresh workspace and agent for the execution and launches
// the worker. The work item is reserved for the agent before anything runs;
// a reservation conflict aborts the spawn and tears the workspace down.
func (m *AgentManager) Spawn(ctx context.Context, e *execution.Execution, item *workitem.WorkItem) (*agent.Agent, error) {
	branch := slug.Branch(item.ID, item.Title)
	ws, err := m.vcs.CreateWorkspace(ctx, m.config.Baseline, branch)
	if err != nil {
		return nil, fmt.Errorf("create workspace: %w", err)
	}

	a, err := agent.New(e.ID, ws.Path)
	if err != nil {
		_ = m.vcs.RemoveWorkspace(ctx, ws)
		return nil, err
	}

	if _, err := m.reservations.Claim(ctx, item.ID, a.ID, reservation.TypeWorkItem, m.config.ReservationTTL); err != nil {
		_ = m.vcs.RemoveWorkspace(ctx, ws)
		return nil, err
	}

	if err := m.agentRepo.Save(ctx, a); err != nil {
		_, _ = m.reservations.ReleaseAllFor(ctx, a.ID)
		_ = m.vcs.RemoveWorkspace(ctx, ws)
		return nil, fmt.Errorf("save agent: %w", err)
	}

	m.launch(ctx, a, e, item.ID, ws, 0)
	return a, nil
}

// RetryInPlace reruns the same worker in the same workspace, optionally
// after a backoff (transient failures).
func (m *AgentManager) RetryInPlace(ctx context.Context, a *agent.Agent, e *execution.Execution, workItemID string, backoff time.Duration) error {
	m.mu.Lock()
	entry, ok := m.active[a.ID]
	m.mu.Unlock()
	if !ok {
		return fmt.Errorf("agent %s has no live workspace", a.ID)
	}
	a.RetryCount++
	if err := m.agentRepo.Save(ctx, a); err != nil {
		return fmt.Errorf("save agent: %w", err)
	}
	m.launch(ctx, a, e, workItemID, entry.ws, backoff)
	return nil
}

// Reassign retires the failed agent, reclaims its workspace and
// reservations, and spawns a fresh agent for the same execution.
func (m *AgentManager) Reassign(ctx context.Context, old *agent.Agent, e *execution.Execution, item *workitem.WorkItem) (*agent.Agent, error) {
	if err := old.MarkReassigned(); err != nil {
		return nil, err
	}
	if err := m.agentRepo.Save(ctx, old); err != nil {
		return nil, fmt.Errorf("save agent: %w", err)
	}
	m.teardown(ctx, old.ID)
	return m.Spawn(ctx, e, item)
}

// Finalize marks the agent terminal and reclaims its reservations and
// workspace. The branch survives teardown; a pending merge needs its
// history, not the worktree. Non-completed terminations get the workspace
// archived first when an archiver is installed.
func (m *AgentManager) Finalize(ctx context.Context, a *agent.Agent, terminal agent.Status) error {
	var err error
	switch terminal {
	case agent.StatusCompleted:
		err = a.MarkCompleted()
	case agent.StatusFailed:
		err = a.MarkFailed()
	case agent.StatusReassigned:
		err = a.MarkReassigned()
	default:
		return fmt.Errorf("not a terminal agent status: %s", terminal)
	}
	if err != nil {
		return err
	}
	if err := m.agentRepo.Save(ctx, a); err != nil {
		return fmt.Errorf("save agent: %w", err)
	}
	if m.archiver != nil && terminal != agent.StatusCompleted {
		m.mu.Lock()
		entry, ok := m.active[a.ID]
		m.mu.Unlock()
		if ok && entry.ws != nil {
			_ = m.archiver.Archive(ctx, string(a.ExecutionID), entry.ws, m.config.Baseline, string(terminal))
		}
	}
	m.teardown(ctx, a.ID)
	return nil
}

// AbortExecution terminates the execution's live agent, if any, and
// reclaims its reservations and workspace. Called from the abort path;
// an execution with no non-terminal agent is a no-op.
func (m *AgentManager) AbortExecution(ctx context.Context, executionID execution.ExecutionID) error {
	a, err := m.agentRepo.FindByExecution(ctx, executionID)
	if err != nil {
		if errs.KindOf(err) == errs.KindNotFound {
			return nil
		}
		return err
	}
	if a.Status.IsTerminal() {
		return nil
	}
	m.Cancel(a.ID)
	return m.Finalize(ctx, a, agent.StatusFailed)
}

// Cancel instructs a running agent to terminate (aborted execution)
func (m *AgentManager) Cancel(agentID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if entry, ok := m.active[agentID]; ok && entry.cancel != nil {
		entry.cancel()
	}
}

// Wait blocks until every launched worker goroutine has reported
func (m *AgentManager) Wait() {
	m.wg.Wait()
}

func (m *AgentManager) launch(ctx context.Context, a *agent.Agent, e *execution.Execution, workItemID string, ws *output.WorkspaceInfo, backoff time.Duration) {
	runCtx, cancel := context.WithCancel(ctx)

	m.mu.Lock()
	m.active[a.ID] = activeAgent{ws: ws, cancel: cancel}
	m.mu.Unlock()

	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		defer cancel()

		if backoff > 0 {
			select {
			case <-time.After(backoff):
			case <-runCtx.Done():
				m.results <- AgentResult{Agent: a, ExecutionID: e.ID, WorkItemID: workItemID, Branch: ws.Branch, Err: runCtx.Err()}
				return
			}
		}

		if a.Status == agent.StatusStarting {
			if err := a.MarkRunning(); err == nil {
				_ = m.agentRepo.Save(runCtx, a)
			}
		}
		a.Heartbeat()

		err := m.runner.Run(runCtx, a, e, ws)
		m.results <- AgentResult{Agent: a, ExecutionID: e.ID, WorkItemID: workItemID, Branch: ws.Branch, Err: err}
	}()
}

// teardown releases the agent's reservations and removes its workspace
func (m *AgentManager) teardown(ctx context.Context, agentID string) {
	m.mu.Lock()
	entry, ok := m.active[agentID]
	delete(m.active, agentID)
	m.mu.Unlock()

	_, _ = m.reservations.ReleaseAllFor(ctx, agentID)
	if ok && entry.ws != nil {
		_ = m.vcs.RemoveWorkspace(ctx, entry.ws)
	}
}
