package repository

import (
	"context"

	"github.com/hmiyata/weave/internal/domain/model/agent"
	"github.com/hmiyata/weave/internal/domain/model/execution"
)

// AgentRepository persists worker agent records
type AgentRepository interface {
	Save(ctx context.Context, a *agent.Agent) error
	Find(ctx context.Context, id string) (*agent.Agent, error)
	FindByExecution(ctx context.Context, executionID execution.ExecutionID) (*agent.Agent, error)
	ListActive(ctx context.Context) ([]*agent.Agent, error)
}
