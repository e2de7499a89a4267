// Package presenter renders read models for the control surface. Two
// implementations: human-readable text and JSON lines, selected by flag.
package presenter

import (
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/hmiyata/weave/internal/application/dto"
	"github.com/hmiyata/weave/internal/domain/model/merge"
	"github.com/hmiyata/weave/internal/domain/model/reservation"
	"github.com/hmiyata/weave/internal/domain/model/workitem"
)

// Presenter renders the control surface's read models
type Presenter interface {
	Execution(v *dto.ExecutionView) error
	Executions(vs []*dto.ExecutionView) error
	WorkItems(items []*workitem.WorkItem) error
	MergeRequests(reqs []*merge.Request) error
	Reservations(rs []*reservation.Reservation) error
	Message(format string, args ...interface{}) error
}

// TextPresenter renders human-readable output
type TextPresenter struct {
	w io.Writer
}

// NewTextPresenter creates a text presenter writing to w
func NewTextPresenter(w io.Writer) *TextPresenter {
	return &TextPresenter{w: w}
}

func (p *TextPresenter) Execution(v *dto.ExecutionView) error {
	fmt.Fprintf(p.w, "Execution %s  [%s]\n", v.ID, v.Status)
	fmt.Fprintf(p.w, "  Template:  %s\n", v.TemplateID)
	if v.WorkItemID != "" {
		fmt.Fprintf(p.w, "  Work item: %s\n", v.WorkItemID)
	}
	if v.CurrentPhase != "" {
		fmt.Fprintf(p.w, "  Phase:     %s\n", v.CurrentPhase)
	}
	if v.RetryCount > 0 || v.FailureCount > 0 {
		fmt.Fprintf(p.w, "  Retries:   %d (failures recorded: %d)\n", v.RetryCount, v.FailureCount)
	}
	if v.BlockedNote != "" {
		fmt.Fprintf(p.w, "  Blocked:   %s\n", v.BlockedNote)
	}

	for _, ph := range v.Phases {
		fmt.Fprintf(p.w, "  - %-12s %-9s [%s]\n", ph.Name, ph.Class, ph.Status)
		for _, u := range ph.Units {
			marker := "optional"
			if u.Required {
				marker = "required"
			}
			line := fmt.Sprintf("      %-16s %-8s [%s]", u.UnitID, marker, u.Status)
			if u.SkipReason != "" {
				line += " skipped: " + u.SkipReason
			}
			fmt.Fprintln(p.w, line)
		}
	}
	for _, g := range v.Gates {
		fmt.Fprintf(p.w, "  gate %-14s after %-12s %-6s [%s]\n", g.ID, g.AfterPhase, g.Type, g.Status)
		if g.Feedback != "" {
			fmt.Fprintf(p.w, "      feedback: %s\n", g.Feedback)
		}
	}
	return nil
}

func (p *TextPresenter) Executions(vs []*dto.ExecutionView) error {
	if len(vs) == 0 {
		fmt.Fprintln(p.w, "No executions.")
		return nil
	}
	fmt.Fprintf(p.w, "%-30s %-10s %-14s %-20s %s\n", "ID", "STATUS", "PHASE", "TEMPLATE", "WORK ITEM")
	for _, v := range vs {
		fmt.Fprintf(p.w, "%-30s %-10s %-14s %-20s %s\n", v.ID, v.Status, v.CurrentPhase, v.TemplateID, v.WorkItemID)
	}
	return nil
}

func (p *TextPresenter) WorkItems(items []*workitem.WorkItem) error {
	if len(items) == 0 {
		fmt.Fprintln(p.w, "No work items.")
		return nil
	}
	fmt.Fprintf(p.w, "%-16s %-10s %-8s %-20s %s\n", "ID", "STATUS", "SCORE", "TEMPLATE", "TITLE")
	for _, item := range items {
		fmt.Fprintf(p.w, "%-16s %-10s %-8.2f %-20s %s\n", item.ID, item.Status, item.Score(), item.TemplateID, item.Title)
		if len(item.DependsOn) > 0 {
			fmt.Fprintf(p.w, "%-16s depends on: %s\n", "", strings.Join(item.DependsOn, ", "))
		}
	}
	return nil
}

func (p *TextPresenter) MergeRequests(reqs []*merge.Request) error {
	if len(reqs) == 0 {
		fmt.Fprintln(p.w, "Merge queue is empty.")
		return nil
	}
	fmt.Fprintf(p.w, "%-5s %-36s %-30s %-12s %s\n", "POS", "ID", "SOURCE", "STATUS", "TARGET")
	for _, r := range reqs {
		fmt.Fprintf(p.w, "%-5d %-36s %-30s %-12s %s\n", r.Position, r.ID, r.SourceBranch, r.Status, r.TargetBaseline)
		if len(r.ConflictingPaths) > 0 {
			fmt.Fprintf(p.w, "%-5s conflicts: %s\n", "", strings.Join(r.ConflictingPaths, ", "))
		}
	}
	return nil
}

func (p *TextPresenter) Reservations(rs []*reservation.Reservation) error {
	if len(rs) == 0 {
		fmt.Fprintln(p.w, "No active reservations.")
		return nil
	}
	fmt.Fprintf(p.w, "%-24s %-40s %-10s %s\n", "RESOURCE", "HOLDER", "TYPE", "EXPIRES")
	for _, r := range rs {
		expires := "never"
		if !r.ExpiresAt().IsZero() {
			expires = r.ExpiresAt().Format(time.RFC3339)
		}
		fmt.Fprintf(p.w, "%-24s %-40s %-10s %s\n", r.ResourceID(), r.HolderID(), r.ResType(), expires)
	}
	return nil
}

func (p *TextPresenter) Message(format string, args ...interface{}) error {
	_, err := fmt.Fprintf(p.w, format+"\n", args...)
	return err
}
