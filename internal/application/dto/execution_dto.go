package dto

import (
	"time"

	"github.com/hmiyata/weave/internal/domain/model/execution"
)

// UnitView is a work-unit invocation as shown to the control surface
type UnitView struct {
	UnitID     string `json:"unit_id"`
	Required   bool   `json:"required"`
	Status     string `json:"status"`
	SkipReason string `json:"skip_reason,omitempty"`
}

// PhaseView is one phase of an execution as shown to the control surface
type PhaseView struct {
	Name   string     `json:"name"`
	Class  string     `json:"class"`
	Status string     `json:"status"`
	Units  []UnitView `json:"units,omitempty"`
}

// GateView is an approval checkpoint as shown to the control surface
type GateView struct {
	ID         string `json:"id"`
	AfterPhase string `json:"after_phase"`
	Type       string `json:"type"`
	Required   bool   `json:"required"`
	Status     string `json:"status"`
	Feedback   string `json:"feedback,omitempty"`
}

// ExecutionView is the read model returned by every mutating operation
type ExecutionView struct {
	ID           string      `json:"id"`
	TemplateID   string      `json:"template_id"`
	WorkItemID   string      `json:"work_item_id,omitempty"`
	Status       string      `json:"status"`
	CurrentPhase string      `json:"current_phase,omitempty"`
	Phases       []PhaseView `json:"phases"`
	Gates        []GateView  `json:"gates,omitempty"`
	RetryCount   int         `json:"retry_count"`
	FailureCount int         `json:"failure_count"`
	BlockedNote  string      `json:"blocked_note,omitempty"`
	StartedAt    time.Time   `json:"started_at"`
	UpdatedAt    time.Time   `json:"updated_at"`
	CompletedAt  *time.Time  `json:"completed_at,omitempty"`
}

// NewExecutionView builds the read model from an execution record
func NewExecutionView(e *execution.Execution) *ExecutionView {
	v := &ExecutionView{
		ID:           e.ID.String(),
		TemplateID:   e.TemplateID,
		WorkItemID:   e.WorkItemID,
		Status:       e.Status.String(),
		RetryCount:   e.RetryCount,
		FailureCount: len(e.Failures),
		BlockedNote:  e.BlockedNote,
		StartedAt:    e.StartedAt,
		UpdatedAt:    e.UpdatedAt,
		CompletedAt:  e.CompletedAt,
	}
	if p := e.CurrentPhase(); p != nil {
		v.CurrentPhase = p.Name
	}
	for _, p := range e.Phases {
		pv := PhaseView{Name: p.Name, Class: string(p.Class), Status: p.Status.String()}
		for _, u := range p.Units {
			pv.Units = append(pv.Units, UnitView{
				UnitID:     u.UnitID,
				Required:   u.Required,
				Status:     string(u.Status),
				SkipReason: u.SkipReason,
			})
		}
		v.Phases = append(v.Phases, pv)
	}
	for _, g := range e.Gates {
		v.Gates = append(v.Gates, GateView{
			ID:         g.ID,
			AfterPhase: g.AfterPhase,
			Type:       string(g.Type),
			Required:   g.Required,
			Status:     string(g.Status),
			Feedback:   g.Feedback,
		})
	}
	return v
}
