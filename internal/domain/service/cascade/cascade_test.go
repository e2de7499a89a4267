package cascade

import (
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hmiyata/weave/internal/domain/model/errs"
	"github.com/hmiyata/weave/internal/domain/model/execution"
)

func failingExecution(t *testing.T) *execution.Execution {
	t.Helper()
	phases := []execution.PhaseRecord{{
		Name:   "implement",
		Class:  execution.ClassImplement,
		Status: execution.PhasePending,
		Units:  []execution.WorkUnitInvocation{{UnitID: "u1", Required: true, Status: execution.UnitPending}},
	}}
	e, err := execution.New("tpl", "item", phases, nil)
	require.NoError(t, err)
	return e
}

func TestClassify(t *testing.T) {
	assert.Equal(t, "transient", Classify(errs.New(errs.KindTransient, "NET_DOWN", "connection refused")))
	assert.Equal(t, "substantive", Classify(errs.New(errs.KindVerification, "VERIFY_FAILED", "tests red")))
	assert.Equal(t, "substantive", Classify(fmt.Errorf("plain error")))
}

func TestTransientRetriesDoNotConsumeBudget(t *testing.T) {
	p := DefaultPolicy()
	e := failingExecution(t)

	for i := 0; i < 20; i++ {
		require.NoError(t, e.Fail("transient", "connection reset", "agent-1"))
		d := p.Decide(e)
		assert.Equal(t, OutcomeRetry, d.Outcome)
		assert.False(t, d.Budgeted)
		assert.Greater(t, d.Backoff, time.Duration(0))
		require.NoError(t, e.Retry(false))
	}
	assert.Equal(t, 0, e.RetryCount)
}

func TestTransientBackoffGrows(t *testing.T) {
	p := DefaultPolicy()
	e := failingExecution(t)

	require.NoError(t, e.Fail("transient", "timeout", "agent-1"))
	first := p.Decide(e)
	require.NoError(t, e.Retry(false))
	require.NoError(t, e.Fail("transient", "timeout 2", "agent-1"))
	second := p.Decide(e)

	assert.Greater(t, second.Backoff, first.Backoff)
}

func TestSubstantiveBudgetExhaustionEscalates(t *testing.T) {
	p := DefaultPolicy()
	e := failingExecution(t)

	// Distinct causes so the identical-failure short circuit stays out of the way.
	require.NoError(t, e.Fail("substantive", "failure one", "agent-1"))
	d := p.Decide(e)
	assert.Equal(t, OutcomeRetry, d.Outcome)
	assert.True(t, d.Budgeted)
	require.NoError(t, e.Retry(true))

	require.NoError(t, e.Fail("substantive", "failure two", "agent-1"))
	d = p.Decide(e)
	assert.Equal(t, OutcomeRetry, d.Outcome)
	require.NoError(t, e.Retry(true))

	require.NoError(t, e.Fail("substantive", "failure three", "agent-1"))
	d = p.Decide(e)
	assert.Equal(t, OutcomeReassign, d.Outcome, "final budgeted attempt reassigns")
	require.NoError(t, e.Retry(true))

	// Budget of 3 consumed: the next substantive failure must escalate.
	require.NoError(t, e.Fail("substantive", "failure four", "agent-2"))
	d = p.Decide(e)
	assert.Equal(t, OutcomeEscalate, d.Outcome)
}

func TestIdenticalConsecutiveFailuresShortCircuit(t *testing.T) {
	p := DefaultPolicy()
	e := failingExecution(t)

	require.NoError(t, e.Fail("substantive", "nil deref in parser.go", "agent-1"))
	require.NoError(t, e.Retry(true))
	require.NoError(t, e.Fail("substantive", "nil deref in parser.go", "agent-1"))

	d := p.Decide(e)
	assert.Equal(t, OutcomeEscalate, d.Outcome)
	assert.Contains(t, d.Reason, "identical consecutive failure")
}

func TestGlobalCapCheckedFirst(t *testing.T) {
	p := Policy{RetryBudget: 100, GlobalCap: 3, BaseBackoff: time.Second}
	e := failingExecution(t)

	for i := 0; i < 3; i++ {
		require.NoError(t, e.Fail("substantive", fmt.Sprintf("failure %d", i), "agent-1"))
		if i < 2 {
			require.NoError(t, e.Retry(true))
		}
	}

	d := p.Decide(e)
	assert.Equal(t, OutcomeEscalate, d.Outcome)
	assert.Contains(t, d.Reason, "global failure cap")
}

func TestEscalationSummaryCarriesHistory(t *testing.T) {
	e := failingExecution(t)
	require.NoError(t, e.Fail("substantive", "tests red", "agent-1"))

	summary := EscalationSummary(e, "retry budget exhausted")
	assert.Contains(t, summary, "retry budget exhausted")
	assert.Contains(t, summary, "tests red")
	assert.Contains(t, summary, "agent-1")
}
