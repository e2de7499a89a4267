package reservation

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewReservation(t *testing.T) {
	r, err := New("module-x", "agent-1", TypeModule, time.Minute)
	require.NoError(t, err)

	assert.Equal(t, "module-x", r.ResourceID())
	assert.Equal(t, "agent-1", r.HolderID())
	assert.False(t, r.IsExpired())
	assert.True(t, r.HeldBy("agent-1"))
	assert.False(t, r.HeldBy("agent-2"))
}

func TestNewReservationValidation(t *testing.T) {
	_, err := New("", "agent-1", TypePath, time.Minute)
	assert.Error(t, err)

	_, err = New("module-x", "", TypePath, time.Minute)
	assert.Error(t, err)
}

func TestExpiry(t *testing.T) {
	expired := Reconstruct("module-x", "agent-1", TypeModule,
		time.Now().UTC().Add(-2*time.Minute), time.Now().UTC().Add(-time.Minute))
	assert.True(t, expired.IsExpired())
	assert.False(t, expired.HeldBy("agent-1"), "expired reservation is not held")

	// Zero ttl means no expiry.
	forever, err := New("module-y", "agent-1", TypeModule, 0)
	require.NoError(t, err)
	assert.False(t, forever.IsExpired())
	assert.True(t, forever.ExpiresAt().IsZero())
}

func TestExtend(t *testing.T) {
	r, err := New("module-x", "agent-1", TypeModule, time.Second)
	require.NoError(t, err)

	r.Extend(time.Hour)
	assert.Greater(t, r.RemainingTime(), 50*time.Minute)

	r.Extend(0)
	assert.True(t, r.ExpiresAt().IsZero())
}
