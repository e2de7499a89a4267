package service

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hmiyata/weave/internal/domain/model/errs"
	"github.com/hmiyata/weave/internal/domain/model/reservation"
	"github.com/hmiyata/weave/internal/infrastructure/repository/memory"
)

func newReservationService() *ReservationService {
	return NewReservationService(memory.NewReservationRepository(), DefaultReservationServiceConfig(), nil)
}

func TestClaimConflictNamesHolder(t *testing.T) {
	ctx := context.Background()
	svc := newReservationService()

	_, err := svc.Claim(ctx, "src/server/api.go", "agent-1", reservation.TypePath, time.Hour)
	require.NoError(t, err)

	// A second claim on the same resource fails and the error names the
	// current holder so the caller can report who to wait for.
	_, err = svc.Claim(ctx, "src/server/api.go", "agent-2", reservation.TypePath, time.Hour)
	require.Error(t, err)
	assert.Equal(t, errs.KindConflict, errs.KindOf(err))
	assert.Contains(t, err.Error(), "agent-1")

	// Releasing frees the resource for the next claimant.
	require.NoError(t, svc.Release(ctx, "src/server/api.go", "agent-1"))
	_, err = svc.Claim(ctx, "src/server/api.go", "agent-2", reservation.TypePath, time.Hour)
	require.NoError(t, err)
}

func TestClaimIsIdempotentForHolder(t *testing.T) {
	ctx := context.Background()
	svc := newReservationService()

	_, err := svc.Claim(ctx, "module-auth", "agent-1", reservation.TypeModule, time.Hour)
	require.NoError(t, err)

	_, err = svc.Claim(ctx, "module-auth", "agent-1", reservation.TypeModule, time.Hour)
	assert.NoError(t, err, "re-claim by the same holder refreshes, not conflicts")
}

func TestCheckBlocked(t *testing.T) {
	ctx := context.Background()
	svc := newReservationService()

	holder, err := svc.CheckBlocked(ctx, "module-auth")
	require.NoError(t, err)
	assert.Empty(t, holder)

	_, err = svc.Claim(ctx, "module-auth", "agent-1", reservation.TypeModule, time.Hour)
	require.NoError(t, err)

	holder, err = svc.CheckBlocked(ctx, "module-auth")
	require.NoError(t, err)
	assert.Equal(t, "agent-1", holder)
}

func TestExpiredReservationDoesNotBlock(t *testing.T) {
	ctx := context.Background()
	svc := newReservationService()

	_, err := svc.Claim(ctx, "module-auth", "agent-1", reservation.TypeModule, 10*time.Millisecond)
	require.NoError(t, err)
	time.Sleep(20 * time.Millisecond)

	// The stale claim is cleaned up lazily on the next conflicting claim.
	_, err = svc.Claim(ctx, "module-auth", "agent-2", reservation.TypeModule, time.Hour)
	assert.NoError(t, err)
}

func TestReleaseAllFor(t *testing.T) {
	ctx := context.Background()
	svc := newReservationService()

	for _, res := range []string{"a.go", "b.go", "c.go"} {
		_, err := svc.Claim(ctx, res, "agent-1", reservation.TypePath, time.Hour)
		require.NoError(t, err)
	}
	_, err := svc.Claim(ctx, "d.go", "agent-2", reservation.TypePath, time.Hour)
	require.NoError(t, err)

	n, err := svc.ReleaseAllFor(ctx, "agent-1")
	require.NoError(t, err)
	assert.Equal(t, 3, n)

	holder, err := svc.CheckBlocked(ctx, "d.go")
	require.NoError(t, err)
	assert.Equal(t, "agent-2", holder, "other holders keep their claims")
}

func TestCleanupSchedulerStartStop(t *testing.T) {
	svc := newReservationService()
	require.NoError(t, svc.Start(context.Background()))
	svc.Stop()
	svc.Stop() // second stop is a no-op
}
