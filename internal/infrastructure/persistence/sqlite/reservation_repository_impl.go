package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/hmiyata/weave/internal/domain/model/errs"
	"github.com/hmiyata/weave/internal/domain/model/reservation"
	"github.com/hmiyata/weave/internal/domain/repository"
)

// ReservationRepositoryImpl implements repository.ReservationRepository with
// SQLite. The PRIMARY KEY on resource_id is the mutual exclusion guarantee:
// two concurrent claims race on the INSERT and exactly one wins.
type ReservationRepositoryImpl struct {
	db *sql.DB
}

// NewReservationRepository creates a new SQLite-based reservation repository
func NewReservationRepository(db *sql.DB) repository.ReservationRepository {
	return &ReservationRepositoryImpl{db: db}
}

// Claim acquires an exclusive reservation with lazy stale-claim cleanup
func (r *ReservationRepositoryImpl) Claim(ctx context.Context, resourceID, holderID string, resType reservation.Type, ttl time.Duration) (*reservation.Reservation, error) {
	db := executor(ctx, r.db)
	now := time.Now().UTC()

	// Clear a lapsed or self-held claim first so the INSERT below can win.
	if _, err := db.ExecContext(ctx, `
		DELETE FROM reservations
		WHERE resource_id = ? AND ((expires_at IS NOT NULL AND expires_at < ?) OR holder_id = ?)
	`, resourceID, formatTime(now), holderID); err != nil {
		return nil, fmt.Errorf("cleanup stale reservation: %w", err)
	}

	res, err := reservation.New(resourceID, holderID, resType, ttl)
	if err != nil {
		return nil, err
	}

	var expires interface{}
	if !res.ExpiresAt().IsZero() {
		expires = formatTime(res.ExpiresAt())
	}
	_, err = db.ExecContext(ctx, `
		INSERT INTO reservations (resource_id, holder_id, res_type, claimed_at, expires_at)
		VALUES (?, ?, ?, ?, ?)
	`, resourceID, holderID, string(resType), formatTime(res.ClaimedAt()), expires)
	if err != nil {
		if isUniqueViolation(err) {
			holder := ""
			if existing, findErr := r.Find(ctx, resourceID); findErr == nil && existing != nil {
				holder = existing.HolderID()
			}
			return nil, errs.Newf(errs.KindConflict, "RES_HELD", "resource %s is held by %s", resourceID, holder).
				WithDetails(map[string]interface{}{"holder": holder})
		}
		return nil, fmt.Errorf("insert reservation: %w", err)
	}
	return res, nil
}

// Release deletes the holder's reservation; non-held release is a no-op
func (r *ReservationRepositoryImpl) Release(ctx context.Context, resourceID, holderID string) error {
	db := executor(ctx, r.db)
	if _, err := db.ExecContext(ctx,
		`DELETE FROM reservations WHERE resource_id = ? AND holder_id = ?`,
		resourceID, holderID); err != nil {
		return fmt.Errorf("release reservation: %w", err)
	}
	return nil
}

// Extend refreshes the holder's reservation expiry
func (r *ReservationRepositoryImpl) Extend(ctx context.Context, resourceID, holderID string, newTTL time.Duration) error {
	existing, err := r.Find(ctx, resourceID)
	if err != nil {
		return err
	}
	if existing == nil {
		return errs.Newf(errs.KindNotFound, "RES_NOT_FOUND", "no live reservation on %s", resourceID)
	}
	if existing.HolderID() != holderID {
		return errs.Newf(errs.KindConflict, "RES_NOT_HOLDER", "resource %s is held by %s", resourceID, existing.HolderID())
	}

	var expires interface{}
	if newTTL > 0 {
		expires = formatTime(time.Now().UTC().Add(newTTL))
	}
	db := executor(ctx, r.db)
	if _, err := db.ExecContext(ctx,
		`UPDATE reservations SET expires_at = ? WHERE resource_id = ? AND holder_id = ?`,
		expires, resourceID, holderID); err != nil {
		return fmt.Errorf("extend reservation: %w", err)
	}
	return nil
}

// Find returns the live reservation on a resource, or nil
func (r *ReservationRepositoryImpl) Find(ctx context.Context, resourceID string) (*reservation.Reservation, error) {
	db := executor(ctx, r.db)
	row := db.QueryRowContext(ctx, `
		SELECT resource_id, holder_id, res_type, claimed_at, expires_at
		FROM reservations WHERE resource_id = ?
	`, resourceID)

	res, err := scanReservation(row.Scan)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	if res.IsExpired() {
		return nil, nil
	}
	return res, nil
}

// ReleaseByHolder drops every reservation held by holderID
func (r *ReservationRepositoryImpl) ReleaseByHolder(ctx context.Context, holderID string) (int, error) {
	db := executor(ctx, r.db)
	result, err := db.ExecContext(ctx, `DELETE FROM reservations WHERE holder_id = ?`, holderID)
	if err != nil {
		return 0, fmt.Errorf("release by holder: %w", err)
	}
	n, _ := result.RowsAffected()
	return int(n), nil
}

// CleanupExpired removes lapsed reservations
func (r *ReservationRepositoryImpl) CleanupExpired(ctx context.Context) (int, error) {
	db := executor(ctx, r.db)
	result, err := db.ExecContext(ctx,
		`DELETE FROM reservations WHERE expires_at IS NOT NULL AND expires_at < ?`,
		formatTime(time.Now().UTC()))
	if err != nil {
		return 0, fmt.Errorf("cleanup expired reservations: %w", err)
	}
	n, _ := result.RowsAffected()
	return int(n), nil
}

// List returns all live reservations ordered by claim time
func (r *ReservationRepositoryImpl) List(ctx context.Context) ([]*reservation.Reservation, error) {
	db := executor(ctx, r.db)
	rows, err := db.QueryContext(ctx, `
		SELECT resource_id, holder_id, res_type, claimed_at, expires_at
		FROM reservations ORDER BY claimed_at
	`)
	if err != nil {
		return nil, fmt.Errorf("query reservations: %w", err)
	}
	defer rows.Close()

	var out []*reservation.Reservation
	for rows.Next() {
		res, err := scanReservation(rows.Scan)
		if err != nil {
			return nil, err
		}
		if !res.IsExpired() {
			out = append(out, res)
		}
	}
	return out, rows.Err()
}

func scanReservation(scan func(dest ...interface{}) error) (*reservation.Reservation, error) {
	var (
		resourceID, holderID, resType, claimedAt string
		expiresAt                                sql.NullString
	)
	if err := scan(&resourceID, &holderID, &resType, &claimedAt, &expiresAt); err != nil {
		return nil, err
	}
	claimed, err := parseTime(claimedAt)
	if err != nil {
		return nil, fmt.Errorf("parse claimed_at: %w", err)
	}
	var expires time.Time
	if expiresAt.Valid && expiresAt.String != "" {
		if expires, err = parseTime(expiresAt.String); err != nil {
			return nil, fmt.Errorf("parse expires_at: %w", err)
		}
	}
	return reservation.Reconstruct(resourceID, holderID, reservation.Type(resType), claimed, expires), nil
}

func isUniqueViolation(err error) bool {
	return err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed")
}
