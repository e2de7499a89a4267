// Package repository defines the store boundary for the core components.
// All components depend on these interfaces, never on a shared global, so
// tests can substitute in-memory fakes without touching persistence code.
package repository

import (
	"context"

	"github.com/hmiyata/weave/internal/domain/model/execution"
)

// ExecutionRepository persists execution records.
// Save writes the record and its journal entries atomically: a crash never
// loses more than one in-flight transition and never tears a transition from
// its log entry.
type ExecutionRepository interface {
	Save(ctx context.Context, e *execution.Execution) error
	Find(ctx context.Context, id execution.ExecutionID) (*execution.Execution, error)
	FindByWorkItem(ctx context.Context, workItemID string) (*execution.Execution, error)
	List(ctx context.Context) ([]*execution.Execution, error)
	ListByStatus(ctx context.Context, status execution.Status) ([]*execution.Execution, error)
}
