// Package catalog loads the read-only library of workflow templates and
// work-unit descriptors. The core never mutates the catalog and never runs a
// work unit itself; it dispatches by id through the WorkUnitRunner interface.
package catalog

import (
	"context"

	"github.com/hmiyata/weave/internal/domain/model/execution"
)

// WorkUnit describes one named, atomic unit of work
type WorkUnit struct {
	ID           string   `yaml:"id"`
	Description  string   `yaml:"description,omitempty"`
	Inputs       []string `yaml:"inputs,omitempty"`
	Outputs      []string `yaml:"outputs,omitempty"`
	Verification string   `yaml:"verification,omitempty"` // verification hook name
}

// TemplateUnit references a work unit from a template phase
type TemplateUnit struct {
	ID       string `yaml:"id"`
	Required bool   `yaml:"required"`
}

// TemplateGate configures the approval checkpoint after a phase
type TemplateGate struct {
	ID       string `yaml:"id"`
	Type     string `yaml:"type"` // human, auto, conditional
	Required bool   `yaml:"required"`
}

// TemplatePhase is one ordered stage of a workflow template
type TemplatePhase struct {
	Name         string         `yaml:"name"`
	Class        string         `yaml:"class"` // implement, validate, document, review, ship
	Units        []TemplateUnit `yaml:"units"`
	Verification string         `yaml:"verification,omitempty"`
	Gate         *TemplateGate  `yaml:"gate,omitempty"`
}

// Template is a complete workflow definition
type Template struct {
	ID     string          `yaml:"id"`
	Name   string          `yaml:"name,omitempty"`
	Phases []TemplatePhase `yaml:"phases"`
}

// Hook maps a verification hook name to the command implementing it
type Hook struct {
	ID      string `yaml:"id"`
	Command string `yaml:"command"`
}

// Catalog is the parsed, validated library
type Catalog struct {
	Templates map[string]*Template
	Units     map[string]*WorkUnit
	Hooks     map[string]*Hook
}

// UnitResult is the typed outcome of running one work unit
type UnitResult struct {
	UnitID  string
	Success bool
	Detail  string
}

// WorkUnitRunner is the uniform interface the core invokes work units
// through. What a unit actually does is outside the core.
type WorkUnitRunner interface {
	RunUnit(ctx context.Context, unit *WorkUnit, workspacePath string) (UnitResult, error)
}

// VerificationHook runs the build/test-equivalent check a phase declares
type VerificationHook interface {
	Verify(ctx context.Context, hookName, workspacePath string) error
}

// Instantiate materializes the execution-side phase and gate records for a
// template. Records start pending; the execution entity owns them from here.
func (t *Template) Instantiate() ([]execution.PhaseRecord, []execution.GateRecord) {
	phases := make([]execution.PhaseRecord, 0, len(t.Phases))
	var gates []execution.GateRecord

	for _, tp := range t.Phases {
		units := make([]execution.WorkUnitInvocation, 0, len(tp.Units))
		for _, tu := range tp.Units {
			units = append(units, execution.WorkUnitInvocation{
				UnitID:   tu.ID,
				Required: tu.Required,
				Status:   execution.UnitPending,
			})
		}
		phases = append(phases, execution.PhaseRecord{
			Name:         tp.Name,
			Class:        execution.PhaseClass(tp.Class),
			Status:       execution.PhasePending,
			Units:        units,
			Verification: tp.Verification,
		})
		if tp.Gate != nil {
			gates = append(gates, execution.GateRecord{
				ID:         tp.Gate.ID,
				AfterPhase: tp.Name,
				Type:       execution.GateType(tp.Gate.Type),
				Required:   tp.Gate.Required,
				Status:     execution.GatePending,
			})
		}
	}
	return phases, gates
}
