package sqlite

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/hmiyata/weave/internal/domain/model/agent"
	"github.com/hmiyata/weave/internal/domain/model/errs"
	"github.com/hmiyata/weave/internal/domain/model/execution"
	"github.com/hmiyata/weave/internal/domain/repository"
)

// AgentRepositoryImpl implements repository.AgentRepository with SQLite
type AgentRepositoryImpl struct {
	db *sql.DB
}

// NewAgentRepository creates a new SQLite-based agent repository
func NewAgentRepository(db *sql.DB) repository.AgentRepository {
	return &AgentRepositoryImpl{db: db}
}

// Save upserts an agent record
func (r *AgentRepositoryImpl) Save(ctx context.Context, a *agent.Agent) error {
	db := executor(ctx, r.db)
	_, err := db.ExecContext(ctx, `
		INSERT INTO agents (id, execution_id, workspace_path, status, assigned_at, heartbeat_at, retry_count)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			status = excluded.status,
			heartbeat_at = excluded.heartbeat_at,
			retry_count = excluded.retry_count
	`, a.ID, a.ExecutionID.String(), a.WorkspacePath, string(a.Status),
		formatTime(a.AssignedAt), formatTime(a.HeartbeatAt), a.RetryCount)
	if err != nil {
		return fmt.Errorf("save agent: %w", err)
	}
	return nil
}

// Find loads one agent record
func (r *AgentRepositoryImpl) Find(ctx context.Context, id string) (*agent.Agent, error) {
	db := executor(ctx, r.db)
	row := db.QueryRowContext(ctx, `
		SELECT id, execution_id, workspace_path, status, assigned_at, heartbeat_at, retry_count
		FROM agents WHERE id = ?
	`, id)
	a, err := scanAgent(row.Scan)
	if err == sql.ErrNoRows {
		return nil, errs.Newf(errs.KindNotFound, "AGENT_NOT_FOUND", "agent %s not found", id)
	}
	return a, err
}

// FindByExecution returns the newest agent bound to an execution
func (r *AgentRepositoryImpl) FindByExecution(ctx context.Context, executionID execution.ExecutionID) (*agent.Agent, error) {
	db := executor(ctx, r.db)
	row := db.QueryRowContext(ctx, `
		SELECT id, execution_id, workspace_path, status, assigned_at, heartbeat_at, retry_count
		FROM agents WHERE execution_id = ?
		ORDER BY assigned_at DESC LIMIT 1
	`, executionID.String())
	a, err := scanAgent(row.Scan)
	if err == sql.ErrNoRows {
		return nil, errs.Newf(errs.KindNotFound, "AGENT_NOT_FOUND", "no agent for execution %s", executionID)
	}
	return a, err
}

// ListActive returns agents in a non-terminal status
func (r *AgentRepositoryImpl) ListActive(ctx context.Context) ([]*agent.Agent, error) {
	db := executor(ctx, r.db)
	rows, err := db.QueryContext(ctx, `
		SELECT id, execution_id, workspace_path, status, assigned_at, heartbeat_at, retry_count
		FROM agents WHERE status IN (?, ?) ORDER BY assigned_at
	`, string(agent.StatusStarting), string(agent.StatusRunning))
	if err != nil {
		return nil, fmt.Errorf("query agents: %w", err)
	}
	defer rows.Close()

	var out []*agent.Agent
	for rows.Next() {
		a, err := scanAgent(rows.Scan)
		if err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

func scanAgent(scan func(dest ...interface{}) error) (*agent.Agent, error) {
	var (
		a                        agent.Agent
		executionID              string
		status                   string
		assignedAt, heartbeatAt  string
	)
	if err := scan(&a.ID, &executionID, &a.WorkspacePath, &status, &assignedAt, &heartbeatAt, &a.RetryCount); err != nil {
		return nil, err
	}
	a.ExecutionID = execution.ExecutionID(executionID)
	a.Status = agent.Status(status)

	var err error
	if a.AssignedAt, err = parseTime(assignedAt); err != nil {
		return nil, fmt.Errorf("parse assigned_at: %w", err)
	}
	if a.HeartbeatAt, err = parseTime(heartbeatAt); err != nil {
		return nil, fmt.Errorf("parse heartbeat_at: %w", err)
	}
	return &a, nil
}
