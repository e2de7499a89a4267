// Package cascade holds the shared failure policy consulted by the execution
// state machine and the agent manager before any failure is finalized.
package cascade

import (
	"fmt"
	"strings"
	"time"

	"github.com/hmiyata/weave/internal/domain/model/errs"
	"github.com/hmiyata/weave/internal/domain/model/execution"
)

// Outcome is the decided follow-up for a failure
type Outcome string

const (
	// OutcomeRetry keeps the same worker and workspace and tries again.
	OutcomeRetry Outcome = "retry"
	// OutcomeReassign retires the worker and hands the same execution to a
	// fresh one with a fresh workspace.
	OutcomeReassign Outcome = "reassign"
	// OutcomeEscalate blocks the execution for a human.
	OutcomeEscalate Outcome = "escalate"
)

// Decision carries the outcome plus the context a caller needs to act on it
type Decision struct {
	Outcome Outcome
	Reason  string
	// Backoff applies to transient retries only.
	Backoff time.Duration
	// Budgeted is true when the retry consumed the substantive budget.
	Budgeted bool
}

// Policy is the cascade configuration
type Policy struct {
	// RetryBudget bounds substantive retries per execution. Default 3.
	RetryBudget int
	// GlobalCap bounds all substantive failures for one execution. It is
	// checked before the per-type budget and fails closed to escalation.
	// Default 10.
	GlobalCap int
	// BaseBackoff seeds the exponential backoff for transient failures.
	BaseBackoff time.Duration
}

// DefaultPolicy returns the stock cascade configuration
func DefaultPolicy() Policy {
	return Policy{
		RetryBudget: 3,
		GlobalCap:   10,
		BaseBackoff: 2 * time.Second,
	}
}

// Classify buckets an error for the cascade. Transient errors retry without
// consuming budget; everything else is substantive.
func Classify(err error) string {
	if errs.IsTransient(err) {
		return "transient"
	}
	return "substantive"
}

// Decide inspects the execution's failure history and returns the follow-up.
// The most recent failure must already be recorded on the execution.
func (p Policy) Decide(e *execution.Execution) Decision {
	last, ok := e.LastFailure()
	if !ok {
		return Decision{Outcome: OutcomeRetry, Reason: "no failure recorded"}
	}

	if last.Kind == "transient" {
		n := consecutiveTransient(e.Failures)
		return Decision{
			Outcome: OutcomeRetry,
			Reason:  fmt.Sprintf("transient failure (%s), retrying with backoff", last.Cause),
			Backoff: backoff(p.BaseBackoff, n),
		}
	}

	substantive := countSubstantive(e.Failures)

	// Global cap is checked first so a borderline case fails closed.
	if substantive >= p.GlobalCap {
		return Decision{
			Outcome: OutcomeEscalate,
			Reason:  fmt.Sprintf("global failure cap reached (%d substantive failures)", substantive),
		}
	}

	// Two substantively identical consecutive failures short-circuit to
	// escalation rather than exhausting the budget on a doomed fix.
	if prev, ok := previousSubstantive(e.Failures); ok && sameFailure(prev, last) {
		return Decision{
			Outcome: OutcomeEscalate,
			Reason:  fmt.Sprintf("identical consecutive failure: %s", last.Cause),
		}
	}

	if e.RetryCount >= p.RetryBudget {
		return Decision{
			Outcome: OutcomeEscalate,
			Reason:  fmt.Sprintf("retry budget exhausted (%d of %d)", e.RetryCount, p.RetryBudget),
		}
	}

	// The last budgeted attempt goes to a fresh worker and workspace in case
	// the environment, not the approach, is the problem.
	if e.RetryCount == p.RetryBudget-1 {
		return Decision{
			Outcome:  OutcomeReassign,
			Reason:   "final budgeted attempt, reassigning to a fresh workspace",
			Budgeted: true,
		}
	}

	return Decision{
		Outcome:  OutcomeRetry,
		Reason:   fmt.Sprintf("substantive failure, retry %d of %d", e.RetryCount+1, p.RetryBudget),
		Budgeted: true,
	}
}

// EscalationSummary renders the human handoff for a blocked execution:
// failure history, attempted fixes, and retry count.
func EscalationSummary(e *execution.Execution, reason string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "escalated: %s\n", reason)
	fmt.Fprintf(&b, "retries consumed: %d\n", e.RetryCount)
	fmt.Fprintf(&b, "failure history (%d):\n", len(e.Failures))
	for i, f := range e.Failures {
		fmt.Fprintf(&b, "  %d. [%s] phase=%s agent=%s: %s\n", i+1, f.Kind, f.Phase, f.AttemptBy, f.Cause)
	}
	return strings.TrimRight(b.String(), "\n")
}

func countSubstantive(failures []execution.FailureRecord) int {
	n := 0
	for _, f := range failures {
		if f.Kind != "transient" {
			n++
		}
	}
	return n
}

func consecutiveTransient(failures []execution.FailureRecord) int {
	n := 0
	for i := len(failures) - 1; i >= 0; i-- {
		if failures[i].Kind != "transient" {
			break
		}
		n++
	}
	return n
}

func previousSubstantive(failures []execution.FailureRecord) (execution.FailureRecord, bool) {
	seen := false
	for i := len(failures) - 1; i >= 0; i-- {
		if failures[i].Kind == "transient" {
			continue
		}
		if !seen {
			seen = true // skip the latest substantive failure itself
			continue
		}
		return failures[i], true
	}
	return execution.FailureRecord{}, false
}

func sameFailure(a, b execution.FailureRecord) bool {
	return a.Cause == b.Cause && a.Phase == b.Phase
}

func backoff(base time.Duration, attempt int) time.Duration {
	if base <= 0 {
		base = time.Second
	}
	d := base
	for i := 1; i < attempt; i++ {
		d *= 2
		if d > 5*time.Minute {
			return 5 * time.Minute
		}
	}
	return d
}
