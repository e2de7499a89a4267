package workitem

import (
	"time"

	"github.com/hmiyata/weave/internal/domain/model/errs"
)

// Status represents the dispatch state of a backlog work item
type Status string

const (
	StatusAvailable  Status = "available"
	StatusBlocked    Status = "blocked"
	StatusDispatched Status = "dispatched"
	StatusDone       Status = "done"
)

// LeverageFactors are the normalized inputs to the leverage score.
// Each factor is clamped to [1,10].
type LeverageFactors struct {
	Alignment       float64 `json:"alignment"`        // strategic alignment
	DownstreamUnlock float64 `json:"downstream_unlock"` // how much work this unblocks
	Likelihood      float64 `json:"likelihood"`       // likelihood of success
	Time            float64 `json:"time"`             // calendar cost
	Effort          float64 `json:"effort"`           // working cost
}

// WorkItem is a backlog entry ranked by leverage for dispatch
type WorkItem struct {
	ID           string          `json:"id"`
	Title        string          `json:"title"`
	TemplateID   string          `json:"template_id"`
	Factors      LeverageFactors `json:"factors"`
	DependsOn    []string        `json:"depends_on,omitempty"`
	Status       Status          `json:"status"`
	RegisteredAt time.Time       `json:"registered_at"`
	Sequence     int             `json:"sequence"`
}

// New creates a work item in the available state
func New(id, title, templateID string, factors LeverageFactors, dependsOn []string) (*WorkItem, error) {
	if id == "" {
		return nil, errs.New(errs.KindValidation, "ITEM_ID_REQUIRED", "work item id is required")
	}
	if templateID == "" {
		return nil, errs.New(errs.KindValidation, "ITEM_TEMPLATE_REQUIRED", "work item template id is required")
	}
	return &WorkItem{
		ID:           id,
		Title:        title,
		TemplateID:   templateID,
		Factors:      factors,
		DependsOn:    dependsOn,
		Status:       StatusAvailable,
		RegisteredAt: time.Now().UTC(),
	}, nil
}

// Score computes the leverage score:
//
//	(alignment*0.40 + downstreamUnlock*0.25 + likelihood*0.15) / (time*0.10 + effort*0.10)
//
// with every factor clamped to [1,10] first.
func (w *WorkItem) Score() float64 {
	f := w.Factors
	num := clamp(f.Alignment)*0.40 + clamp(f.DownstreamUnlock)*0.25 + clamp(f.Likelihood)*0.15
	den := clamp(f.Time)*0.10 + clamp(f.Effort)*0.10
	return num / den
}

// AreDependenciesMet reports whether every declared dependency is done
func (w *WorkItem) AreDependenciesMet(done map[string]bool) bool {
	for _, dep := range w.DependsOn {
		if !done[dep] {
			return false
		}
	}
	return true
}

// MarkDispatched transitions the item to dispatched
func (w *WorkItem) MarkDispatched() error {
	if w.Status != StatusAvailable {
		return errs.Newf(errs.KindConflict, "ITEM_NOT_AVAILABLE", "work item %s is %s", w.ID, w.Status)
	}
	w.Status = StatusDispatched
	return nil
}

// MarkDone transitions the item to done
func (w *WorkItem) MarkDone() error {
	if w.Status != StatusDispatched {
		return errs.Newf(errs.KindConflict, "ITEM_NOT_DISPATCHED", "work item %s is %s", w.ID, w.Status)
	}
	w.Status = StatusDone
	return nil
}

// Requeue returns a dispatched item to the backlog after a failed attempt
func (w *WorkItem) Requeue() error {
	if w.Status != StatusDispatched && w.Status != StatusBlocked {
		return errs.Newf(errs.KindConflict, "ITEM_NOT_DISPATCHED", "work item %s is %s", w.ID, w.Status)
	}
	w.Status = StatusAvailable
	return nil
}

// MarkBlocked halts further dispatch of the item until a human acts
func (w *WorkItem) MarkBlocked() {
	w.Status = StatusBlocked
}

func clamp(v float64) float64 {
	if v < 1 {
		return 1
	}
	if v > 10 {
		return 10
	}
	return v
}
