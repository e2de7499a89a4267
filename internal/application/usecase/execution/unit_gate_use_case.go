package execution

import (
	"context"
	"fmt"

	"github.com/hmiyata/weave/internal/application/dto"
	"github.com/hmiyata/weave/internal/application/port/output"
	"github.com/hmiyata/weave/internal/domain/model/execution"
	"github.com/hmiyata/weave/internal/domain/repository"
)

// UnitUseCase resolves work-unit invocations in the current phase
type UnitUseCase struct {
	execs  repository.ExecutionRepository
	txn    output.TransactionManager
	events output.EventSink
}

// NewUnitUseCase creates a work-unit use case
func NewUnitUseCase(execs repository.ExecutionRepository, txn output.TransactionManager, events output.EventSink) *UnitUseCase {
	if events == nil {
		events = output.NopSink{}
	}
	return &UnitUseCase{execs: execs, txn: txn, events: events}
}

// Complete marks a unit in the current phase completed. When that resolves
// the last required unit and a gate still blocks, the gate-waiting event
// fires so an approver is notified exactly when their input is the only
// thing left.
func (uc *UnitUseCase) Complete(ctx context.Context, id execution.ExecutionID, unitID string) (*dto.ExecutionView, error) {
	return uc.resolve(ctx, id, func(e *execution.Execution) error {
		return e.CompleteUnit(unitID)
	})
}

// Skip marks a unit in the current phase skipped. A reason is mandatory.
func (uc *UnitUseCase) Skip(ctx context.Context, id execution.ExecutionID, unitID, reason string) (*dto.ExecutionView, error) {
	return uc.resolve(ctx, id, func(e *execution.Execution) error {
		return e.SkipUnit(unitID, reason)
	})
}

func (uc *UnitUseCase) resolve(ctx context.Context, id execution.ExecutionID, fn func(e *execution.Execution) error) (*dto.ExecutionView, error) {
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

		if p := e.CurrentPhase(); p != nil && p.RequiredUnitsResolved() {
			if g := e.GateAfter(p.Name); g != nil && g.Blocks() {
				emitGateWaiting(uc.events, e, g)
			}
		}
		view = dto.NewExecutionView(e)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return view, nil
}

// GateUseCase resolves approval checkpoints. Resolution is single-writer:
// concurrent approvals race through the transaction and the loser gets a
// conflict back.
type GateUseCase struct {
	execs  repository.ExecutionRepository
	txn    output.TransactionManager
	events output.EventSink
}

// NewGateUseCase creates a gate use case
func NewGateUseCase(execs repository.ExecutionRepository, txn output.TransactionManager, events output.EventSink) *GateUseCase {
	if events == nil {
		events = output.NopSink{}
	}
	return &GateUseCase{execs: execs, txn: txn, events: events}
}

// Approve resolves the gate in favor of advancement
func (uc *GateUseCase) Approve(ctx context.Context, id execution.ExecutionID, gateID, approver string) (*dto.ExecutionView, error) {
	return uc.resolve(ctx, id, func(e *execution.Execution) error {
		return e.ApproveGate(gateID, approver)
	})
}

// Reject resolves the gate against advancement; feedback is mandatory
func (uc *GateUseCase) Reject(ctx context.Context, id execution.ExecutionID, gateID, approver, feedback string) (*dto.ExecutionView, error) {
	return uc.resolve(ctx, id, func(e *execution.Execution) error {
		return e.RejectGate(gateID, approver, feedback)
	})
}

// Skip resolves the gate without approval; a reason is mandatory
func (uc *GateUseCase) Skip(ctx context.Context, id execution.ExecutionID, gateID, reason string) (*dto.ExecutionView, error) {
	return uc.resolve(ctx, id, func(e *execution.Execution) error {
		return e.SkipGate(gateID, reason)
	})
}

func (uc *GateUseCase) resolve(ctx context.Context, id execution.ExecutionID, fn func(e *execution.Execution) error) (*dto.ExecutionView, error) {
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
