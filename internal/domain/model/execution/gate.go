package execution

import (
	"time"

	"github.com/hmiyata/weave/internal/domain/model/errs"
)

// GateType represents how a gate resolves
type GateType string

const (
	GateHuman       GateType = "human"       // requires explicit sign-off
	GateAuto        GateType = "auto"        // passes on deliverable-presence check
	GateConditional GateType = "conditional" // may be skipped when its condition does not apply
)

// GateStatus represents the resolution state of a gate
type GateStatus string

const (
	GatePending  GateStatus = "pending"
	GateApproved GateStatus = "approved"
	GateRejected GateStatus = "rejected"
	GateSkipped  GateStatus = "skipped"
)

// GateRecord is an approval checkpoint between two phases.
// Resolution is single-writer: the first accepted approval or rejection wins.
// A rejected gate may be approved again after rework; an approved or skipped
// gate is final.
type GateRecord struct {
	ID         string     `json:"id"`
	AfterPhase string     `json:"after_phase"`
	Type       GateType   `json:"type"`
	Required   bool       `json:"required"`
	Status     GateStatus `json:"status"`
	Approver   string     `json:"approver,omitempty"`
	Feedback   string     `json:"feedback,omitempty"`
	SkipReason string     `json:"skip_reason,omitempty"`
	ResolvedAt *time.Time `json:"resolved_at,omitempty"`
}

// Blocks reports whether the gate currently prevents advancement
func (g *GateRecord) Blocks() bool {
	return g.Required && (g.Status == GatePending || g.Status == GateRejected)
}

// Approve resolves the gate in favor of advancement
func (g *GateRecord) Approve(approver string) error {
	if g.Status == GateApproved || g.Status == GateSkipped {
		return errs.Newf(errs.KindConflict, "GATE_RESOLVED", "gate %s already %s", g.ID, g.Status)
	}
	now := time.Now().UTC()
	g.Status = GateApproved
	g.Approver = approver
	g.ResolvedAt = &now
	return nil
}

// Reject resolves the gate against advancement. Feedback is mandatory so the
// owning execution carries what needs to change.
func (g *GateRecord) Reject(approver, feedback string) error {
	if feedback == "" {
		return errs.New(errs.KindValidation, "GATE_FEEDBACK_REQUIRED", "rejecting a gate requires feedback")
	}
	if g.Status != GatePending {
		return errs.Newf(errs.KindConflict, "GATE_RESOLVED", "gate %s already %s", g.ID, g.Status)
	}
	now := time.Now().UTC()
	g.Status = GateRejected
	g.Approver = approver
	g.Feedback = feedback
	g.ResolvedAt = &now
	return nil
}

// Skip resolves the gate without approval. A reason is mandatory.
func (g *GateRecord) Skip(reason string) error {
	if reason == "" {
		return errs.New(errs.KindValidation, "GATE_SKIP_REASON_REQUIRED", "skipping a gate requires a reason")
	}
	if g.Status == GateApproved || g.Status == GateSkipped {
		return errs.Newf(errs.KindConflict, "GATE_RESOLVED", "gate %s already %s", g.ID, g.Status)
	}
	now := time.Now().UTC()
	g.Status = GateSkipped
	g.SkipReason = reason
	g.ResolvedAt = &now
	return nil
}
