package execution

// Status represents the lifecycle status of an execution
type Status string

const (
	StatusActive    Status = "active"
	StatusPaused    Status = "paused"
	StatusBlocked   Status = "blocked"
	StatusFailed    Status = "failed"
	StatusCompleted Status = "completed"
	StatusAborted   Status = "aborted"
)

// String returns the string representation of the status
func (s Status) String() string {
	return string(s)
}

// IsTerminal returns true if no further transitions are allowed
func (s Status) IsTerminal() bool {
	return s == StatusCompleted || s == StatusAborted
}

// CanTransitionTo validates if transition to the next status is allowed
func (s Status) CanTransitionTo(next Status) bool {
	validTransitions := map[Status][]Status{
		StatusActive:    {StatusPaused, StatusBlocked, StatusFailed, StatusCompleted, StatusAborted},
		StatusPaused:    {StatusActive, StatusBlocked, StatusAborted},
		StatusBlocked:   {StatusActive, StatusAborted},
		StatusFailed:    {StatusActive, StatusBlocked, StatusAborted},
		StatusCompleted: {},
		StatusAborted:   {},
	}

	for _, allowed := range validTransitions[s] {
		if next == allowed {
			return true
		}
	}
	return false
}

// PhaseStatus represents the status of a single phase record
type PhaseStatus string

const (
	PhasePending    PhaseStatus = "pending"
	PhaseInProgress PhaseStatus = "in_progress"
	PhaseCompleted  PhaseStatus = "completed"
	PhaseSkipped    PhaseStatus = "skipped"
	PhaseFailed     PhaseStatus = "failed"
)

// String returns the string representation of the phase status
func (s PhaseStatus) String() string {
	return string(s)
}

// UnitStatus represents the status of a work-unit invocation
type UnitStatus string

const (
	UnitPending   UnitStatus = "pending"
	UnitRunning   UnitStatus = "running"
	UnitCompleted UnitStatus = "completed"
	UnitSkipped   UnitStatus = "skipped"
	UnitFailed    UnitStatus = "failed"
)

// IsResolved returns true if the unit no longer blocks phase completion
func (s UnitStatus) IsResolved() bool {
	return s == UnitCompleted || s == UnitSkipped
}
