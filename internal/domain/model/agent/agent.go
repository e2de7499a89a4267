package agent

import (
	"time"

	"github.com/google/uuid"

	"github.com/hmiyata/weave/internal/domain/model/errs"
	"github.com/hmiyata/weave/internal/domain/model/execution"
)

// Status represents the lifecycle status of a worker agent
type Status string

const (
	StatusStarting   Status = "starting"
	StatusRunning    Status = "running"
	StatusCompleted  Status = "completed"
	StatusFailed     Status = "failed"
	StatusReassigned Status = "reassigned"
)

// IsTerminal returns true if the agent record will not change again
func (s Status) IsTerminal() bool {
	return s == StatusCompleted || s == StatusFailed || s == StatusReassigned
}

// Agent is a worker bound to exactly one execution and one workspace
type Agent struct {
	ID            string                `json:"id"`
	ExecutionID   execution.ExecutionID `json:"execution_id"`
	WorkspacePath string                `json:"workspace_path"`
	Status        Status                `json:"status"`
	AssignedAt    time.Time             `json:"assigned_at"`
	HeartbeatAt   time.Time             `json:"heartbeat_at"`
	RetryCount    int                   `json:"retry_count"`
}

// New creates an agent bound to the given execution and workspace
func New(executionID execution.ExecutionID, workspacePath string) (*Agent, error) {
	if executionID == "" {
		return nil, errs.New(errs.KindValidation, "AGENT_EXEC_REQUIRED", "agent requires an execution id")
	}
	if workspacePath == "" {
		return nil, errs.New(errs.KindValidation, "AGENT_WORKSPACE_REQUIRED", "agent requires a workspace path")
	}
	now := time.Now().UTC()
	return &Agent{
		ID:            "agent-" + uuid.NewString(),
		ExecutionID:   executionID,
		WorkspacePath: workspacePath,
		Status:        StatusStarting,
		AssignedAt:    now,
		HeartbeatAt:   now,
	}, nil
}

// MarkRunning records the worker process as up
func (a *Agent) MarkRunning() error {
	if a.Status != StatusStarting {
		return errs.Newf(errs.KindConflict, "AGENT_NOT_STARTING", "agent %s is %s", a.ID, a.Status)
	}
	a.Status = StatusRunning
	a.Heartbeat()
	return nil
}

// Heartbeat refreshes the liveness timestamp
func (a *Agent) Heartbeat() {
	a.HeartbeatAt = time.Now().UTC()
}

// IsStale reports whether no heartbeat arrived within maxStaleness
func (a *Agent) IsStale(maxStaleness time.Duration) bool {
	return time.Now().UTC().Sub(a.HeartbeatAt) > maxStaleness
}

// MarkCompleted records successful termination
func (a *Agent) MarkCompleted() error {
	return a.terminate(StatusCompleted)
}

// MarkFailed records failed termination
func (a *Agent) MarkFailed() error {
	return a.terminate(StatusFailed)
}

// MarkReassigned retires this agent in favor of a fresh one for the same execution
func (a *Agent) MarkReassigned() error {
	return a.terminate(StatusReassigned)
}

func (a *Agent) terminate(next Status) error {
	if a.Status.IsTerminal() {
		return errs.Newf(errs.KindConflict, "AGENT_TERMINAL", "agent %s is already %s", a.ID, a.Status)
	}
	a.Status = next
	return nil
}
