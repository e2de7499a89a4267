// Package execution holds the use cases of the execution state machine:
// lifecycle control, phase advancement, work-unit resolution, and gate
// approval. Every mutation persists the record and its journal entries in
// one transaction and returns the updated read model.
package execution

import (
	"context"
	"fmt"
	"time"

	"github.com/hmiyata/weave/internal/application/dto"
	"github.com/hmiyata/weave/internal/application/port/output"
	"github.com/hmiyata/weave/internal/catalog"
	"github.com/hmiyata/weave/internal/domain/model/errs"
	"github.com/hmiyata/weave/internal/domain/model/execution"
	"github.com/hmiyata/weave/internal/domain/repository"
)

// StartExecutionInput names the work item and the workflow template to run
type StartExecutionInput struct {
	TemplateID string
	WorkItemID string
}

// AgentAborter terminates any live agent bound to an execution and
// reclaims its workspace and reservations.
type AgentAborter interface {
	AbortExecution(ctx context.Context, executionID execution.ExecutionID) error
}

// MergeCanceler pulls an execution's pending requests from the merge queue.
type MergeCanceler interface {
	CancelByExecution(ctx context.Context, executionID execution.ExecutionID) error
}

// LifecycleUseCase drives start, pause, resume, abort, and unblock
type LifecycleUseCase struct {
	execs   repository.ExecutionRepository
	catalog *catalog.Catalog
	txn     output.TransactionManager
	events  output.EventSink
	agents  AgentAborter
	merges  MergeCanceler
}

// NewLifecycleUseCase creates a lifecycle use case
func NewLifecycleUseCase(
	execs repository.ExecutionRepository,
	cat *catalog.Catalog,
	txn output.TransactionManager,
	events output.EventSink,
) *LifecycleUseCase {
	if events == nil {
		events = output.NopSink{}
	}
	return &LifecycleUseCase{execs: execs, catalog: cat, txn: txn, events: events}
}

// SetAbortCleanup installs the collaborators the abort path releases
// resources through
func (uc *LifecycleUseCase) SetAbortCleanup(agents AgentAborter, merges MergeCanceler) {
	uc.agents = agents
	uc.merges = merges
}

// Start instantiates the template and begins its first phase
func (uc *LifecycleUseCase) Start(ctx context.Context, input StartExecutionInput) (*dto.ExecutionView, error) {
	tmpl, ok := uc.catalog.Templates[input.TemplateID]
	if !ok {
		return nil, errs.Newf(errs.KindNotFound, "TEMPLATE_NOT_FOUND", "unknown workflow template %s", input.TemplateID)
	}

	phases, gates := tmpl.Instantiate()
	e, err := execution.New(tmpl.ID, input.WorkItemID, phases, gates)
	if err != nil {
		return nil, err
	}

	if err := uc.txn.InTransaction(ctx, func(txCtx context.Context) error {
		return uc.execs.Save(txCtx, e)
	}); err != nil {
		return nil, fmt.Errorf("save execution: %w", err)
	}
	return dto.NewExecutionView(e), nil
}

// Pause suspends an active execution
func (uc *LifecycleUseCase) Pause(ctx context.Context, id execution.ExecutionID) (*dto.ExecutionView, error) {
	return uc.mutate(ctx, id, func(e *execution.Execution) error { return e.Pause() })
}

// Resume reactivates a paused execution
func (uc *LifecycleUseCase) Resume(ctx context.Context, id execution.ExecutionID) (*dto.ExecutionView, error) {
	return uc.mutate(ctx, id, func(e *execution.Execution) error { return e.Resume() })
}

// Abort terminates the execution permanently. Everything the execution
// holds outside its own record is released as well: the live agent and its
// workspace, its reservations, and its pending merge requests.
func (uc *LifecycleUseCase) Abort(ctx context.Context, id execution.ExecutionID, reason string) (*dto.ExecutionView, error) {
	view, err := uc.mutate(ctx, id, func(e *execution.Execution) error { return e.Abort(reason) })
	if err != nil {
		return nil, err
	}
	if uc.agents != nil {
		if err := uc.agents.AbortExecution(ctx, id); err != nil {
			return view, fmt.Errorf("execution aborted but its agent was not reclaimed: %w", err)
		}
	}
	if uc.merges != nil {
		if err := uc.merges.CancelByExecution(ctx, id); err != nil {
			return view, fmt.Errorf("execution aborted but its merge requests were not canceled: %w", err)
		}
	}
	return view, nil
}

// Unblock is the explicit human action resuming a blocked execution
func (uc *LifecycleUseCase) Unblock(ctx context.Context, id execution.ExecutionID) (*dto.ExecutionView, error) {
	return uc.mutate(ctx, id, func(e *execution.Execution) error { return e.Unblock() })
}

// Get returns the read model without mutating anything
func (uc *LifecycleUseCase) Get(ctx context.Context, id execution.ExecutionID) (*dto.ExecutionView, error) {
	e, err := uc.execs.Find(ctx, id)
	if err != nil {
		return nil, err
	}
	return dto.NewExecutionView(e), nil
}

// List returns read models for every execution, optionally status-filtered
func (uc *LifecycleUseCase) List(ctx context.Context, status execution.Status) ([]*dto.ExecutionView, error) {
	var (
		records []*execution.Execution
		err     error
	)
	if status == "" {
		records, err = uc.execs.List(ctx)
	} else {
		records, err = uc.execs.ListByStatus(ctx, status)
	}
	if err != nil {
		return nil, err
	}
	views := make([]*dto.ExecutionView, 0, len(records))
	for _, e := range records {
		views = append(views, dto.NewExecutionView(e))
	}
	return views, nil
}

func (uc *LifecycleUseCase) mutate(ctx context.Context, id execution.ExecutionID, fn func(e *execution.Execution) error) (*dto.ExecutionView, error) {
	var view *dto.ExecutionView
	err := uc.txn.InTransaction(ctx, func(txCtx context.Context) error {
		e, err := uc.execs.Find(txCtx, id)
		if err != nil {
			return err
		}
		if err := fn(e); err != nil {
			return err
		}
		if err := uc.execs.Save(txCtx, e); err != nil {
			return fmt.Errorf("save execution: %w", err)
		}
		view = dto.NewExecutionView(e)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return view, nil
}

func emitGateWaiting(events output.EventSink, e *execution.Execution, g *execution.GateRecord) {
	events.Emit(output.Event{
		Type:        output.EventGateWaiting,
		ExecutionID: e.ID.String(),
		At:          time.Now().UTC(),
		Summary:     fmt.Sprintf("gate %s after phase %s is waiting for approval", g.ID, g.AfterPhase),
		Details:     map[string]interface{}{"gate": g.ID, "phase": g.AfterPhase},
	})
}
