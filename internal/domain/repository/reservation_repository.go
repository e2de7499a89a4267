package repository

import (
	"context"
	"time"

	"github.com/hmiyata/weave/internal/domain/model/reservation"
)

// ReservationRepository persists exclusive resource claims.
// The store is the point of linearization: Claim must be atomic so no two
// holders can both believe they own the same live resource.
type ReservationRepository interface {
	// Claim inserts a reservation if no live one exists for resourceID.
	// Returns a conflict error naming the current holder otherwise.
	// Expired rows are reclaimed lazily as part of the claim.
	Claim(ctx context.Context, resourceID, holderID string, resType reservation.Type, ttl time.Duration) (*reservation.Reservation, error)

	// Release deletes the reservation when holderID owns it. Releasing a
	// non-held or expired resource is a no-op, not an error.
	Release(ctx context.Context, resourceID, holderID string) error

	// Extend replaces the expiry when holderID owns the reservation.
	Extend(ctx context.Context, resourceID, holderID string, newTTL time.Duration) error

	// Find returns the live reservation for resourceID, or nil when none.
	Find(ctx context.Context, resourceID string) (*reservation.Reservation, error)

	// ReleaseByHolder drops every reservation held by holderID.
	ReleaseByHolder(ctx context.Context, holderID string) (int, error)

	// CleanupExpired removes lapsed rows eagerly. Optional; expiry is also
	// checked lazily on every operation.
	CleanupExpired(ctx context.Context) (int, error)

	List(ctx context.Context) ([]*reservation.Reservation, error)
}
