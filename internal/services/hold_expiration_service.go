package services

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"github.com/travelhub/reservation-core/internal/clock"
	"github.com/travelhub/reservation-core/internal/metrics"
	"github.com/travelhub/reservation-core/internal/models"
	"github.com/travelhub/reservation-core/internal/repository"
)

// HoldExpirationService expires holds past their TTL in the background.
// Readers already treat overdue holds as expired; the sweep makes that durable and
// surfaces converted holds that never got a reservation. It also cancels pay-later
// reservations left unsettled past pendingTTL, which would otherwise hold capacity forever.
type HoldExpirationService struct {
	store      repository.Store
	holds      *HoldManager
	ledger     *ReservationLedger
	clock      clock.Clock
	metrics    *metrics.BookingMetrics
	logger     *logrus.Logger
	interval   time.Duration
	batchSize  int
	pendingTTL time.Duration // Zero keeps pending reservations until settled or cancelled

	mu       sync.Mutex
	reported map[uuid.UUID]bool // Orphans already alerted on
	stopCh   chan struct{}
	doneCh   chan struct{}
}

// NewHoldExpirationService creates a new hold expiration service
func NewHoldExpirationService(
	store repository.Store,
	holds *HoldManager,
	ledger *ReservationLedger,
	clk clock.Clock,
	m *metrics.BookingMetrics,
	logger *logrus.Logger,
	interval time.Duration,
	batchSize int,
	pendingTTL time.Duration,
) *HoldExpirationService {
	if batchSize <= 0 {
		batchSize = 100
	}
	return &HoldExpirationService{
		store:      store,
		holds:      holds,
		ledger:     ledger,
		clock:      clk,
		metrics:    m,
		logger:     logger,
		interval:   interval,
		batchSize:  batchSize,
		pendingTTL: pendingTTL,
		reported:   make(map[uuid.UUID]bool),
		stopCh:     make(chan struct{}),
		doneCh:     make(chan struct{}),
	}
}

// Start begins the background sweep
func (s *HoldExpirationService) Start() {
	s.logger.WithField("interval", s.interval.String()).Info("🕐 Starting Hold Expiration Service")
	go s.run()
}

// Stop stops the background sweep and waits for the running cycle to finish
func (s *HoldExpirationService) Stop() {
	s.logger.Info("🛑 Stopping Hold Expiration Service")
	close(s.stopCh)
	<-s.doneCh
}

func (s *HoldExpirationService) run() {
	defer close(s.doneCh)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() {
		select {
		case <-s.stopCh:
			cancel()
		case <-ctx.Done():
		}
	}()

	// Run immediately on start
	s.RunOnce(ctx)

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			s.RunOnce(ctx)
		case <-ctx.Done():
			s.logger.Info("Hold Expiration Service stopped")
			return
		}
	}
}

// RunOnce runs a single sweep cycle and returns how many holds it expired
func (s *HoldExpirationService) RunOnce(ctx context.Context) int {
	started := time.Now()
	defer func() { s.metrics.ObserveSweep(time.Since(started)) }()

	expired := s.expireOverdue(ctx)
	s.cancelUnsettled(ctx)
	s.reportOrphans(ctx)
	return expired
}

// expireOverdue expires active holds past TTL, one batch at a time
func (s *HoldExpirationService) expireOverdue(ctx context.Context) int {
	now := s.clock.Now()

	// 1. Find overdue holds
	overdue, err := s.store.Holds().ListExpired(ctx, now, s.batchSize)
	if err != nil {
		s.logger.WithError(err).Error("Failed to list expired holds")
		return 0
	}
	if len(overdue) == 0 {
		return 0 // Nothing to expire
	}

	// 2. Expire each inside its unit's section; a concurrent convert or release wins
	expired := 0
	for _, hold := range overdue {
		if ctx.Err() != nil {
			break
		}
		ok, err := s.holds.Expire(ctx, hold.ID, now)
		if err != nil {
			s.logger.WithError(err).WithField("hold_id", hold.ID).Error("Failed to expire hold")
			continue
		}
		if ok {
			expired++
		}
	}

	s.logger.WithFields(logrus.Fields{
		"found":   len(overdue),
		"expired": expired,
	}).Info("Expired overdue holds")

	return expired
}

// cancelUnsettled cancels pending_payment reservations older than pendingTTL and
// returns how many it cancelled
func (s *HoldExpirationService) cancelUnsettled(ctx context.Context) int {
	if s.pendingTTL <= 0 || s.ledger == nil {
		return 0
	}

	cutoff := s.clock.Now().Add(-s.pendingTTL)
	pending, err := s.store.Reservations().ListPendingCreatedBefore(ctx, cutoff, s.batchSize)
	if err != nil {
		s.logger.WithError(err).Error("Failed to list unsettled reservations")
		return 0
	}

	cancelled := 0
	for _, res := range pending {
		if ctx.Err() != nil {
			break
		}
		// Settled or cancelled since the listing: the transition check refuses it
		_, err := s.ledger.Transition(ctx, res.Reference, models.ReservationCancelled, models.TransitionMeta{
			Reason:  "payment not settled in time",
			ActorID: "system",
		})
		if err != nil {
			if !errors.Is(err, models.ErrInvalidTransition) {
				s.logger.WithError(err).WithField("reference", res.Reference).Error("Failed to cancel unsettled reservation")
			}
			continue
		}
		cancelled++
	}

	if cancelled > 0 {
		s.logger.WithFields(logrus.Fields{
			"found":     len(pending),
			"cancelled": cancelled,
		}).Info("Cancelled unsettled reservations")
	}
	return cancelled
}

// reportOrphans alerts once per converted hold that has no reservation.
// Holds repaired or purged since the last sweep are forgotten.
func (s *HoldExpirationService) reportOrphans(ctx context.Context) {
	orphans, err := s.store.Holds().ListOrphanedConverted(ctx, s.batchSize)
	if err != nil {
		s.logger.WithError(err).Error("Failed to list orphaned holds")
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	// The listing is oldest first, so a full page keeps returning the same holds
	seen := make(map[uuid.UUID]bool, len(orphans))
	for _, hold := range orphans {
		seen[hold.ID] = true
		if s.reported[hold.ID] {
			continue
		}
		reportIntegrityViolation(s.logger, s.metrics,
			fmt.Errorf("%w: hold %s", models.ErrOrphanedHold, hold.ID),
			logrus.Fields{"hold_id": hold.ID, "unit_id": hold.UnitID})
	}
	s.reported = seen
}
