// Package output defines the outbound ports of the application layer:
// notification egress, durable transactions, version control, and storage.
package output

import "time"

// EventType names a structured event the core emits
type EventType string

const (
	EventGateWaiting        EventType = "gate-waiting"
	EventExecutionCompleted EventType = "execution-completed"
	EventExecutionBlocked   EventType = "execution-blocked"
	EventAgentFailed        EventType = "agent-failed"
	EventMergeReady         EventType = "merge-ready"
	EventMergeConflicted    EventType = "merge-conflicted"
)

// Event is the structured payload handed to channel adapters. The core has
// no knowledge of delivery channels; formatting happens outside.
type Event struct {
	Type        EventType              `json:"type"`
	ExecutionID string                 `json:"execution_id,omitempty"`
	At          time.Time              `json:"at"`
	Summary     string                 `json:"summary"`
	Details     map[string]interface{} `json:"details,omitempty"`
}

// EventSink receives events for external delivery. Implementations must not
// block the caller for long; delivery failures are the adapter's problem.
type EventSink interface {
	Emit(event Event)
}

// EventSinkFunc adapts a function to the EventSink interface
type EventSinkFunc func(Event)

// Emit implements EventSink
func (f EventSinkFunc) Emit(event Event) { f(event) }

// NopSink discards all events
type NopSink struct{}

// Emit implements EventSink
func (NopSink) Emit(Event) {}
