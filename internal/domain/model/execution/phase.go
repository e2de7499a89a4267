package execution

import (
	"time"

	"github.com/hmiyata/weave/internal/domain/model/errs"
)

// PhaseClass groups template phases into the canonical pipeline stages
type PhaseClass string

const (
	ClassImplement PhaseClass = "implement"
	ClassValidate  PhaseClass = "validate"
	ClassDocument  PhaseClass = "document"
	ClassReview    PhaseClass = "review"
	ClassShip      PhaseClass = "ship"
)

// WorkUnitInvocation records one work-unit call within a phase
type WorkUnitInvocation struct {
	UnitID      string      `json:"unit_id"`
	Required    bool        `json:"required"`
	Status      UnitStatus  `json:"status"`
	SkipReason  string      `json:"skip_reason,omitempty"`
	StartedAt   *time.Time  `json:"started_at,omitempty"`
	CompletedAt *time.Time  `json:"completed_at,omitempty"`
}

// PhaseRecord tracks one ordered phase of an execution
type PhaseRecord struct {
	Name         string               `json:"name"`
	Class        PhaseClass           `json:"class"`
	Status       PhaseStatus          `json:"status"`
	Units        []WorkUnitInvocation `json:"units"`
	Verification string               `json:"verification,omitempty"` // verification hook name declared by the phase
	StartedAt    *time.Time           `json:"started_at,omitempty"`
	CompletedAt  *time.Time           `json:"completed_at,omitempty"`
}

// Unit returns the invocation record for the given unit id
func (p *PhaseRecord) Unit(unitID string) (*WorkUnitInvocation, bool) {
	for i := range p.Units {
		if p.Units[i].UnitID == unitID {
			return &p.Units[i], true
		}
	}
	return nil, false
}

// RequiredUnitsResolved reports whether every required unit is completed or
// skipped with a recorded reason. A phase may not complete until this holds.
func (p *PhaseRecord) RequiredUnitsResolved() bool {
	for i := range p.Units {
		u := &p.Units[i]
		if !u.Required {
			continue
		}
		if u.Status == UnitSkipped && u.SkipReason == "" {
			return false
		}
		if !u.Status.IsResolved() {
			return false
		}
	}
	return true
}

// CompleteUnit marks a work unit completed
func (p *PhaseRecord) CompleteUnit(unitID string) error {
	u, ok := p.Unit(unitID)
	if !ok {
		return errs.Newf(errs.KindNotFound, "UNIT_NOT_FOUND", "work unit %s not in phase %s", unitID, p.Name)
	}
	if u.Status.IsResolved() {
		return errs.Newf(errs.KindConflict, "UNIT_RESOLVED", "work unit %s already %s", unitID, u.Status)
	}
	now := time.Now().UTC()
	u.Status = UnitCompleted
	u.CompletedAt = &now
	return nil
}

// SkipUnit marks a work unit skipped. A reason is mandatory.
func (p *PhaseRecord) SkipUnit(unitID, reason string) error {
	if reason == "" {
		return errs.New(errs.KindValidation, "SKIP_REASON_REQUIRED", "skipping a work unit requires a reason")
	}
	u, ok := p.Unit(unitID)
	if !ok {
		return errs.Newf(errs.KindNotFound, "UNIT_NOT_FOUND", "work unit %s not in phase %s", unitID, p.Name)
	}
	if u.Status.IsResolved() {
		return errs.Newf(errs.KindConflict, "UNIT_RESOLVED", "work unit %s already %s", unitID, u.Status)
	}
	now := time.Now().UTC()
	u.Status = UnitSkipped
	u.SkipReason = reason
	u.CompletedAt = &now
	return nil
}
