package execution

import (
	"crypto/rand"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/hmiyata/weave/internal/domain/model/errs"
)

// ExecutionID is a value object for execution identifier
type ExecutionID string

// NewExecutionID creates a new ULID-based execution identifier
func NewExecutionID() ExecutionID {
	return ExecutionID("exec-" + ulid.MustNew(ulid.Timestamp(time.Now().UTC()), rand.Reader).String())
}

// String returns the string representation of the id
func (id ExecutionID) String() string { return string(id) }

// JournalEntry is one immutable log entry appended per transition.
// Entries are persisted in the same write as the execution record.
type JournalEntry struct {
	Seq    int       `json:"seq"`
	At     time.Time `json:"at"`
	Event  string    `json:"event"`
	Detail string    `json:"detail,omitempty"`
}

// FailureRecord captures one failure for cascade decisions and human handoff
type FailureRecord struct {
	At        time.Time `json:"at"`
	Kind      string    `json:"kind"` // transient or substantive
	Cause     string    `json:"cause"`
	Phase     string    `json:"phase"`
	AttemptBy string    `json:"attempt_by,omitempty"` // agent that hit the failure
}

// Execution is one workflow instance, tracked phase by phase.
// All mutation goes through its methods; repositories persist the record and
// the appended journal entries atomically after every transition.
type Execution struct {
	ID           ExecutionID     `json:"id"`
	TemplateID   string          `json:"template_id"`
	WorkItemID   string          `json:"work_item_id,omitempty"`
	Status       Status          `json:"status"`
	PhaseIndex   int             `json:"phase_index"`
	Phases       []PhaseRecord   `json:"phases"`
	Gates        []GateRecord    `json:"gates"`
	Failures     []FailureRecord `json:"failures"`
	RetryCount   int             `json:"retry_count"` // substantive retries consumed
	BlockedNote  string          `json:"blocked_note,omitempty"`
	priorStatus  Status          // status to restore on unblock
	Journal      []JournalEntry  `json:"journal"`
	StartedAt    time.Time       `json:"started_at"`
	UpdatedAt    time.Time       `json:"updated_at"`
	CompletedAt  *time.Time      `json:"completed_at,omitempty"`
}

// New creates an execution from template-derived phases and gates.
// The first phase starts in progress immediately.
func New(templateID, workItemID string, phases []PhaseRecord, gates []GateRecord) (*Execution, error) {
	if templateID == "" {
		return nil, errs.New(errs.KindValidation, "TEMPLATE_REQUIRED", "workflow template id is required")
	}
	if len(phases) == 0 {
		return nil, errs.New(errs.KindValidation, "PHASES_REQUIRED", "an execution needs at least one phase")
	}

	now := time.Now().UTC()
	e := &Execution{
		ID:         NewExecutionID(),
		TemplateID: templateID,
		WorkItemID: workItemID,
		Status:     StatusActive,
		PhaseIndex: 0,
		Phases:     phases,
		Gates:      gates,
		StartedAt:  now,
		UpdatedAt:  now,
	}
	e.Phases[0].Status = PhaseInProgress
	e.Phases[0].StartedAt = &now
	e.appendJournal("execution.started", "template "+templateID)
	return e, nil
}

// Reconstruct rebuilds an execution from persisted state.
// Used by repositories when loading from the store.
func Reconstruct(
	id ExecutionID,
	templateID, workItemID string,
	status Status,
	phaseIndex int,
	phases []PhaseRecord,
	gates []GateRecord,
	failures []FailureRecord,
	retryCount int,
	blockedNote string,
	priorStatus Status,
	journal []JournalEntry,
	startedAt, updatedAt time.Time,
	completedAt *time.Time,
) *Execution {
	return &Execution{
		ID:          id,
		TemplateID:  templateID,
		WorkItemID:  workItemID,
		Status:      status,
		PhaseIndex:  phaseIndex,
		Phases:      phases,
		Gates:       gates,
		Failures:    failures,
		RetryCount:  retryCount,
		BlockedNote: blockedNote,
		priorStatus: priorStatus,
		Journal:     journal,
		StartedAt:   startedAt,
		UpdatedAt:   updatedAt,
		CompletedAt: completedAt,
	}
}

// PriorStatus returns the status an unblock would restore
func (e *Execution) PriorStatus() Status { return e.priorStatus }

// CurrentPhase returns the phase record the execution is in
func (e *Execution) CurrentPhase() *PhaseRecord {
	if e.PhaseIndex < 0 || e.PhaseIndex >= len(e.Phases) {
		return nil
	}
	return &e.Phases[e.PhaseIndex]
}

// GateAfter returns the gate configured immediately after the named phase
func (e *Execution) GateAfter(phase string) *GateRecord {
	for i := range e.Gates {
		if e.Gates[i].AfterPhase == phase {
			return &e.Gates[i]
		}
	}
	return nil
}

// GateByID returns the gate with the given id
func (e *Execution) GateByID(gateID string) (*GateRecord, bool) {
	for i := range e.Gates {
		if e.Gates[i].ID == gateID {
			return &e.Gates[i], true
		}
	}
	return nil, false
}

// IsCompleted returns true if the execution finished every phase
func (e *Execution) IsCompleted() bool {
	return e.Status == StatusCompleted
}

// CanAdvance checks the transition preconditions for leaving the current
// phase: required units resolved and any gate after the phase not blocking.
// Verification is the caller's responsibility; it runs before Advance.
func (e *Execution) CanAdvance() error {
	if e.Status != StatusActive {
		return errs.Newf(errs.KindConflict, "EXEC_NOT_ACTIVE", "execution %s is %s", e.ID, e.Status)
	}
	phase := e.CurrentPhase()
	if phase == nil {
		return errs.Newf(errs.KindValidation, "EXEC_NO_PHASE", "execution %s has no current phase", e.ID)
	}
	if !phase.RequiredUnitsResolved() {
		return errs.Newf(errs.KindValidation, "PHASE_UNITS_UNRESOLVED",
			"phase %s has required work units neither completed nor skipped with a reason", phase.Name)
	}
	if gate := e.GateAfter(phase.Name); gate != nil && gate.Blocks() {
		return errs.Newf(errs.KindConflict, "GATE_PENDING", "gate %s after phase %s is unresolved", gate.ID, phase.Name)
	}
	return nil
}

// ResolveAutoGate passes a pending auto gate after the current phase once
// the phase's deliverables are present, meaning every required unit is
// resolved. Human and conditional gates wait for their explicit action, as
// does an auto gate that was explicitly rejected. Reports whether a gate
// was resolved.
func (e *Execution) ResolveAutoGate() bool {
	if e.Status != StatusActive {
		return false
	}
	p := e.CurrentPhase()
	if p == nil || !p.RequiredUnitsResolved() {
		return false
	}
	g := e.GateAfter(p.Name)
	if g == nil || g.Type != GateAuto || g.Status != GatePending {
		return false
	}
	now := time.Now().UTC()
	g.Status = GateApproved
	g.Approver = "auto"
	g.ResolvedAt = &now
	e.touch()
	e.appendJournal("gate.approved", g.ID+" passed on deliverable presence")
	return true
}

// Advance completes the current phase and enters the next one, or completes
// the execution when the last phase finishes. Preconditions are re-checked.
func (e *Execution) Advance() error {
	if err := e.CanAdvance(); err != nil {
		return err
	}

	now := time.Now().UTC()
	phase := e.CurrentPhase()
	phase.Status = PhaseCompleted
	phase.CompletedAt = &now
	e.appendJournal("phase.completed", phase.Name)

	if e.PhaseIndex == len(e.Phases)-1 {
		e.Status = StatusCompleted
		e.CompletedAt = &now
		e.UpdatedAt = now
		e.appendJournal("execution.completed", "")
		return nil
	}

	e.PhaseIndex++
	next := e.CurrentPhase()
	next.Status = PhaseInProgress
	next.StartedAt = &now
	e.UpdatedAt = now
	e.appendJournal("phase.started", next.Name)
	return nil
}

// CompleteUnit marks a work unit in the current phase completed
func (e *Execution) CompleteUnit(unitID string) error {
	if e.Status != StatusActive {
		return errs.Newf(errs.KindConflict, "EXEC_NOT_ACTIVE", "execution %s is %s", e.ID, e.Status)
	}
	phase := e.CurrentPhase()
	if err := phase.CompleteUnit(unitID); err != nil {
		return err
	}
	e.touch()
	e.appendJournal("unit.completed", phase.Name+"/"+unitID)
	return nil
}

// SkipUnit marks a work unit in the current phase skipped with a reason
func (e *Execution) SkipUnit(unitID, reason string) error {
	if e.Status != StatusActive {
		return errs.Newf(errs.KindConflict, "EXEC_NOT_ACTIVE", "execution %s is %s", e.ID, e.Status)
	}
	phase := e.CurrentPhase()
	if err := phase.SkipUnit(unitID, reason); err != nil {
		return err
	}
	e.touch()
	e.appendJournal("unit.skipped", phase.Name+"/"+unitID+": "+reason)
	return nil
}

// ApproveGate resolves a gate in favor of advancement
func (e *Execution) ApproveGate(gateID, approver string) error {
	g, ok := e.GateByID(gateID)
	if !ok {
		return errs.Newf(errs.KindNotFound, "GATE_NOT_FOUND", "execution %s has no gate %s", e.ID, gateID)
	}
	if err := g.Approve(approver); err != nil {
		return err
	}
	e.touch()
	e.appendJournal("gate.approved", g.ID+" by "+approver)
	return nil
}

// RejectGate resolves a gate against advancement, carrying the feedback
func (e *Execution) RejectGate(gateID, approver, feedback string) error {
	g, ok := e.GateByID(gateID)
	if !ok {
		return errs.Newf(errs.KindNotFound, "GATE_NOT_FOUND", "execution %s has no gate %s", e.ID, gateID)
	}
	if err := g.Reject(approver, feedback); err != nil {
		return err
	}
	e.touch()
	e.appendJournal("gate.rejected", g.ID+": "+feedback)
	return nil
}

// SkipGate resolves a gate without approval, carrying the reason
func (e *Execution) SkipGate(gateID, reason string) error {
	g, ok := e.GateByID(gateID)
	if !ok {
		return errs.Newf(errs.KindNotFound, "GATE_NOT_FOUND", "execution %s has no gate %s", e.ID, gateID)
	}
	if err := g.Skip(reason); err != nil {
		return err
	}
	e.touch()
	e.appendJournal("gate.skipped", g.ID+": "+reason)
	return nil
}

// Fail records a failure and moves the execution to failed. The failure
// cascade decides the follow-up transition (retry, reassign, or block).
func (e *Execution) Fail(kind, cause, attemptBy string) error {
	if !e.Status.CanTransitionTo(StatusFailed) && e.Status != StatusFailed {
		return errs.Newf(errs.KindConflict, "EXEC_INVALID_TRANSITION", "cannot fail execution in status %s", e.Status)
	}
	phase := ""
	if p := e.CurrentPhase(); p != nil {
		phase = p.Name
		p.Status = PhaseFailed
	}
	e.Failures = append(e.Failures, FailureRecord{
		At:        time.Now().UTC(),
		Kind:      kind,
		Cause:     cause,
		Phase:     phase,
		AttemptBy: attemptBy,
	})
	e.Status = StatusFailed
	e.touch()
	e.appendJournal("execution.failed", cause)
	return nil
}

// Retry returns a failed execution to active in its current phase,
// consuming one substantive retry when the failure was substantive.
func (e *Execution) Retry(substantive bool) error {
	if e.Status != StatusFailed {
		return errs.Newf(errs.KindConflict, "EXEC_NOT_FAILED", "cannot retry execution in status %s", e.Status)
	}
	if substantive {
		e.RetryCount++
	}
	e.Status = StatusActive
	if p := e.CurrentPhase(); p != nil {
		p.Status = PhaseInProgress
	}
	e.touch()
	e.appendJournal("execution.retry", "")
	return nil
}

// Block parks the execution for a human. The note must summarize what was
// tried and what is needed next. Blocked executions never auto-resume.
func (e *Execution) Block(note string) error {
	if note == "" {
		return errs.New(errs.KindValidation, "BLOCK_NOTE_REQUIRED", "blocking requires a human-readable summary")
	}
	if !e.Status.CanTransitionTo(StatusBlocked) {
		return errs.Newf(errs.KindConflict, "EXEC_INVALID_TRANSITION", "cannot block execution in status %s", e.Status)
	}
	e.priorStatus = e.Status
	e.Status = StatusBlocked
	e.BlockedNote = note
	e.touch()
	e.appendJournal("execution.blocked", note)
	return nil
}

// Unblock is the explicit human action that resumes a blocked execution.
// The status captured at block time is restored: a paused execution stays
// paused until resumed, while a failure block re-enters its phase as
// active so the next attempt can run.
func (e *Execution) Unblock() error {
	if e.Status != StatusBlocked {
		return errs.Newf(errs.KindConflict, "EXEC_NOT_BLOCKED", "execution %s is %s", e.ID, e.Status)
	}
	if p := e.CurrentPhase(); p != nil && p.Status == PhaseFailed {
		p.Status = PhaseInProgress
	}
	restored := e.priorStatus
	if restored != StatusPaused {
		restored = StatusActive
	}
	e.Status = restored
	e.priorStatus = ""
	e.BlockedNote = ""
	e.touch()
	e.appendJournal("execution.unblocked", "")
	return nil
}

// Pause suspends an active execution
func (e *Execution) Pause() error {
	if e.Status != StatusActive {
		return errs.Newf(errs.KindConflict, "EXEC_NOT_ACTIVE", "cannot pause execution in status %s", e.Status)
	}
	e.Status = StatusPaused
	e.touch()
	e.appendJournal("execution.paused", "")
	return nil
}

// Resume reactivates a paused execution
func (e *Execution) Resume() error {
	if e.Status != StatusPaused {
		return errs.Newf(errs.KindConflict, "EXEC_NOT_PAUSED", "cannot resume execution in status %s", e.Status)
	}
	e.Status = StatusActive
	e.touch()
	e.appendJournal("execution.resumed", "")
	return nil
}

// Abort terminates the execution by explicit operator action
func (e *Execution) Abort(reason string) error {
	if e.Status.IsTerminal() {
		return errs.Newf(errs.KindConflict, "EXEC_TERMINAL", "execution %s is already %s", e.ID, e.Status)
	}
	now := time.Now().UTC()
	e.Status = StatusAborted
	e.CompletedAt = &now
	e.UpdatedAt = now
	e.appendJournal("execution.aborted", reason)
	return nil
}

// LastFailure returns the most recent failure record, if any
func (e *Execution) LastFailure() (FailureRecord, bool) {
	if len(e.Failures) == 0 {
		return FailureRecord{}, false
	}
	return e.Failures[len(e.Failures)-1], true
}

func (e *Execution) touch() {
	e.UpdatedAt = time.Now().UTC()
}

func (e *Execution) appendJournal(event, detail string) {
	e.Journal = append(e.Journal, JournalEntry{
		Seq:    len(e.Journal) + 1,
		At:     time.Now().UTC(),
		Event:  event,
		Detail: detail,
	})
}
