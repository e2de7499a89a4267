package reservation

import (
	"time"

	"github.com/hmiyata/weave/internal/domain/model/errs"
)

// Type classifies what kind of resource a reservation covers
type Type string

const (
	TypeWorkItem Type = "work_item"
	TypePath     Type = "path"
	TypeModule   Type = "module"
)

// Reservation is an exclusive, time-bounded claim on a named resource.
// For any resource id at most one non-expired reservation exists at a time;
// a conflicting claim fails rather than displacing the holder.
type Reservation struct {
	resourceID string
	holderID   string
	resType    Type
	claimedAt  time.Time
	expiresAt  time.Time // zero means no expiry
}

// New creates a reservation held by holderID. A zero ttl means no expiry.
func New(resourceID, holderID string, resType Type, ttl time.Duration) (*Reservation, error) {
	if resourceID == "" {
		return nil, errs.New(errs.KindValidation, "RES_ID_REQUIRED", "resource id is required")
	}
	if holderID == "" {
		return nil, errs.New(errs.KindValidation, "RES_HOLDER_REQUIRED", "holder id is required")
	}
	now := time.Now().UTC()
	r := &Reservation{
		resourceID: resourceID,
		holderID:   holderID,
		resType:    resType,
		claimedAt:  now,
	}
	if ttl > 0 {
		r.expiresAt = now.Add(ttl)
	}
	return r, nil
}

// Reconstruct rebuilds a reservation from persisted data
func Reconstruct(resourceID, holderID string, resType Type, claimedAt, expiresAt time.Time) *Reservation {
	return &Reservation{
		resourceID: resourceID,
		holderID:   holderID,
		resType:    resType,
		claimedAt:  claimedAt,
		expiresAt:  expiresAt,
	}
}

// IsExpired checks if the reservation has lapsed
func (r *Reservation) IsExpired() bool {
	if r.expiresAt.IsZero() {
		return false
	}
	return time.Now().UTC().After(r.expiresAt)
}

// HeldBy reports whether holderID is the live holder
func (r *Reservation) HeldBy(holderID string) bool {
	return r.holderID == holderID && !r.IsExpired()
}

// Extend replaces the expiry with now+newTTL
func (r *Reservation) Extend(newTTL time.Duration) {
	if newTTL <= 0 {
		r.expiresAt = time.Time{}
		return
	}
	r.expiresAt = time.Now().UTC().Add(newTTL)
}

// Getters
func (r *Reservation) ResourceID() string           { return r.resourceID }
func (r *Reservation) HolderID() string             { return r.holderID }
func (r *Reservation) ResType() Type                { return r.resType }
func (r *Reservation) ClaimedAt() time.Time         { return r.claimedAt }
func (r *Reservation) ExpiresAt() time.Time         { return r.expiresAt }
func (r *Reservation) RemainingTime() time.Duration { return time.Until(r.expiresAt) }
