package workitem

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestScore(t *testing.T) {
	w, err := New("item-1", "refactor parser", "tpl-standard", LeverageFactors{
		Alignment:        8,
		DownstreamUnlock: 6,
		Likelihood:       7,
		Time:             4,
		Effort:           5,
	}, nil)
	require.NoError(t, err)

	// (8*0.40 + 6*0.25 + 7*0.15) / (4*0.10 + 5*0.10) = 5.75 / 0.9
	assert.InDelta(t, 5.75/0.9, w.Score(), 1e-9)
}

func TestScoreClampsFactors(t *testing.T) {
	w := &WorkItem{Factors: LeverageFactors{Alignment: 15, DownstreamUnlock: 0, Likelihood: -3, Time: 0.5, Effort: 20}}

	// alignment->10, downstream->1, likelihood->1, time->1, effort->10
	expected := (10*0.40 + 1*0.25 + 1*0.15) / (1*0.10 + 10*0.10)
	assert.InDelta(t, expected, w.Score(), 1e-9)
}

func TestDependencies(t *testing.T) {
	w, err := New("item-2", "wire cache", "tpl-standard", LeverageFactors{Alignment: 5, DownstreamUnlock: 5, Likelihood: 5, Time: 5, Effort: 5}, []string{"item-1"})
	require.NoError(t, err)

	assert.False(t, w.AreDependenciesMet(map[string]bool{}))
	assert.True(t, w.AreDependenciesMet(map[string]bool{"item-1": true}))
}

func TestStatusTransitions(t *testing.T) {
	w, _ := New("item-3", "t", "tpl", LeverageFactors{Alignment: 5, DownstreamUnlock: 5, Likelihood: 5, Time: 5, Effort: 5}, nil)

	require.NoError(t, w.MarkDispatched())
	require.Error(t, w.MarkDispatched(), "double dispatch is a conflict")

	require.NoError(t, w.Requeue())
	assert.Equal(t, StatusAvailable, w.Status)

	require.NoError(t, w.MarkDispatched())
	require.NoError(t, w.MarkDone())
	require.Error(t, w.Requeue())
}
