package errs

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestErrorFormat(t *testing.T) {
	err := New(KindConflict, "RES_HELD", "resource held by another holder")
	assert.Equal(t, "[RES_HELD] resource held by another holder", err.Error())
}

func TestKindPredicatesThroughWrapping(t *testing.T) {
	base := Newf(KindVerification, "VERIFY_FAILED", "tests failed on phase %s", "validate")
	wrapped := fmt.Errorf("advance phase: %w", base)

	assert.True(t, IsVerification(wrapped))
	assert.False(t, IsConflict(wrapped))
	assert.Equal(t, KindVerification, KindOf(wrapped))
}

func TestKindOfNonDomainError(t *testing.T) {
	assert.Equal(t, Kind(""), KindOf(fmt.Errorf("plain error")))
	assert.False(t, IsTransient(nil))
}

func TestWithDetailsDoesNotMutateOriginal(t *testing.T) {
	base := New(KindConflict, "GATE_RESOLVED", "gate already resolved")
	detailed := base.WithDetails(map[string]interface{}{"gate_id": "g-1"})

	assert.Nil(t, base.Details)
	assert.Equal(t, "g-1", detailed.Details["gate_id"])
	assert.Equal(t, base.Code, detailed.Code)
}
