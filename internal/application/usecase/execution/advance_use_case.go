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
	"github.com/hmiyata/weave/internal/domain/service/cascade"
)

// AdvanceInput identifies the execution to advance and where its work lives
type AdvanceInput struct {
	ExecutionID   execution.ExecutionID
	WorkspacePath string
	// AttemptBy names the agent for the failure record; empty for a
	// human-driven advance.
	AttemptBy string
}

// AdvanceUseCase completes the current phase and enters the next one.
// The preconditions are checked in order: required units resolved, gate
// resolved, verification hook passed. A verification failure records the
// cause and runs the failure cascade.
type AdvanceUseCase struct {
	execs  repository.ExecutionRepository
	hook   catalog.VerificationHook
	policy cascade.Policy
	txn    output.TransactionManager
	events output.EventSink
}

// NewAdvanceUseCase creates a phase-advance use case
func NewAdvanceUseCase(
	execs repository.ExecutionRepository,
	hook catalog.VerificationHook,
	policy cascade.Policy,
	txn output.TransactionManager,
	events output.EventSink,
) *AdvanceUseCase {
	if events == nil {
		events = output.NopSink{}
	}
	return &AdvanceUseCase{execs: execs, hook: hook, policy: policy, txn: txn, events: events}
}

// Execute advances the execution by one phase
func (uc *AdvanceUseCase) Execute(ctx context.Context, input AdvanceInput) (*dto.ExecutionView, error) {
	var view *dto.ExecutionView
	var verifyErr error

	err := uc.txn.InTransaction(ctx, func(txCtx context.Context) error {
		e, err := uc.execs.Find(txCtx, input.ExecutionID)
		if err != nil {
			return err
		}

		e.ResolveAutoGate()

		if err := e.CanAdvance(); err != nil {
			if g := e.GateAfter(currentPhaseName(e)); g != nil && g.Blocks() {
				emitGateWaiting(uc.events, e, g)
			}
			return err
		}

		if verr := uc.verify(txCtx, e, input); verr != nil {
			// The failure record must commit even though the advance did
			// not happen, so the cascade write stays in the transaction
			// and the verification error is reported outside it.
			vErr := errs.Newf(errs.KindVerification, "VERIFY_FAILED", "verification %s failed: %v", currentVerification(e), verr)
			verifyErr = vErr
			if failErr := e.Fail("verification", verr.Error(), input.AttemptBy); failErr != nil {
				return failErr
			}
			decision := uc.policy.Decide(e)
			switch decision.Outcome {
			case cascade.OutcomeEscalate:
				summary := cascade.EscalationSummary(e, decision.Reason)
				if blockErr := e.Block(summary); blockErr != nil {
					return blockErr
				}
				uc.events.Emit(output.Event{
					Type:        output.EventExecutionBlocked,
					ExecutionID: e.ID.String(),
					At:          time.Now().UTC(),
					Summary:     summary,
				})
			default:
				// Retry and reassign both return the execution to active;
				// the phase gets another attempt instead of stranding in
				// failed. Reassigning the worker is the dispatcher's
				// business, so the intent is reported on the error.
				if retryErr := e.Retry(decision.Budgeted); retryErr != nil {
					return retryErr
				}
				if decision.Outcome == cascade.OutcomeReassign {
					verifyErr = vErr.WithDetails(map[string]interface{}{"next_attempt": "reassign"})
				}
			}
			if saveErr := uc.execs.Save(txCtx, e); saveErr != nil {
				return fmt.Errorf("save execution: %w", saveErr)
			}
			view = dto.NewExecutionView(e)
			return nil
		}

		if err := e.Advance(); err != nil {
			return err
		}
		if err := uc.execs.Save(txCtx, e); err != nil {
			return fmt.Errorf("save execution: %w", err)
		}

		if e.IsCompleted() {
			uc.events.Emit(output.Event{
				Type:        output.EventExecutionCompleted,
				ExecutionID: e.ID.String(),
				At:          time.Now().UTC(),
				Summary:     fmt.Sprintf("execution %s completed all phases", e.ID),
			})
		}
		view = dto.NewExecutionView(e)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return view, verifyErr
}

func (uc *AdvanceUseCase) verify(ctx context.Context, e *execution.Execution, input AdvanceInput) error {
	p := e.CurrentPhase()
	if p == nil || p.Verification == "" || uc.hook == nil {
		return nil
	}
	return uc.hook.Verify(ctx, p.Verification, input.WorkspacePath)
}

func currentPhaseName(e *execution.Execution) string {
	if p := e.CurrentPhase(); p != nil {
		return p.Name
	}
	return ""
}

func currentVerification(e *execution.Execution) string {
	if p := e.CurrentPhase(); p != nil {
		return p.Verification
	}
	return ""
}
