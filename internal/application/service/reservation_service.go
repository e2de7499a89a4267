package service

import (
	"context"
	"sync"
	"time"

	"github.com/hmiyata/weave/internal/domain/model/reservation"
	"github.com/hmiyata/weave/internal/domain/repository"
)

// ReservationService manages exclusive resource claims and their cleanup.
// It is the sole mechanism preventing two agents from editing the same work
// item or path concurrently; the state machine never enforces this itself.
type ReservationService struct {
	repo    repository.ReservationRepository
	config  ReservationServiceConfig
	warnLog func(format string, args ...interface{})

	mu            sync.Mutex
	cleanupCancel context.CancelFunc
	stopOnce      sync.Once
}

// ReservationServiceConfig holds configuration for the cleanup sweep
type ReservationServiceConfig struct {
	// CleanupInterval controls the expired-reservation sweep. Expiry is
	// also checked lazily on every operation; the sweep only reclaims rows
	// earlier. Zero disables the sweep.
	CleanupInterval time.Duration
}

// DefaultReservationServiceConfig returns default configuration
func DefaultReservationServiceConfig() ReservationServiceConfig {
	return ReservationServiceConfig{CleanupInterval: 60 * time.Second}
}

// NewReservationService creates a new reservation service
func NewReservationService(repo repository.ReservationRepository, config ReservationServiceConfig, warnLog func(format string, args ...interface{})) *ReservationService {
	if warnLog == nil {
		warnLog = func(format string, args ...interface{}) {}
	}
	return &ReservationService{repo: repo, config: config, warnLog: warnLog}
}

// Claim acquires an exclusive reservation on resourceID for holderID.
// A live conflicting reservation yields a conflict error naming the holder.
func (s *ReservationService) Claim(ctx context.Context, resourceID, holderID string, resType reservation.Type, ttl time.Duration) (*reservation.Reservation, error) {
	r, err := s.repo.Claim(ctx, resourceID, holderID, resType, ttl)
	if err != nil {
		return nil, err
	}
	return r, nil
}

// Release drops holderID's reservation on resourceID. Releasing a non-held
// or already-expired resource is a no-op.
func (s *ReservationService) Release(ctx context.Context, resourceID, holderID string) error {
	return s.repo.Release(ctx, resourceID, holderID)
}

// Extend replaces the reservation's expiry with now+newTTL
func (s *ReservationService) Extend(ctx context.Context, resourceID, holderID string, newTTL time.Duration) error {
	return s.repo.Extend(ctx, resourceID, holderID, newTTL)
}

// CheckBlocked returns the current holder of resourceID, or "" when free
func (s *ReservationService) CheckBlocked(ctx context.Context, resourceID string) (string, error) {
	r, err := s.repo.Find(ctx, resourceID)
	if err != nil {
		return "", err
	}
	if r == nil || r.IsExpired() {
		return "", nil
	}
	return r.HolderID(), nil
}

// ReleaseAllFor drops every reservation held by holderID (agent teardown)
func (s *ReservationService) ReleaseAllFor(ctx context.Context, holderID string) (int, error) {
	return s.repo.ReleaseByHolder(ctx, holderID)
}

// List returns all live reservations
func (s *ReservationService) List(ctx context.Context) ([]*reservation.Reservation, error) {
	return s.repo.List(ctx)
}

// Start launches the periodic cleanup sweep
func (s *ReservationService) Start(ctx context.Context) error {
	if s.config.CleanupInterval <= 0 {
		return nil
	}
	cleanupCtx, cancel := context.WithCancel(ctx)
	s.mu.Lock()
	s.cleanupCancel = cancel
	s.mu.Unlock()

	go s.cleanupScheduler(cleanupCtx)
	return nil
}

// Stop halts the cleanup sweep
func (s *ReservationService) Stop() {
	s.stopOnce.Do(func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		if s.cleanupCancel != nil {
			s.cleanupCancel()
		}
	})
}

func (s *ReservationService) cleanupScheduler(ctx context.Context) {
	ticker := time.NewTicker(s.config.CleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := s.repo.CleanupExpired(ctx); err != nil && ctx.Err() == nil {
				// Sweep failures are not fatal; lazy expiry still applies.
				s.warnLog("reservation cleanup: %v", err)
			}
		}
	}
}
