package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"github.com/travelhub/reservation-core/internal/clock"
	"github.com/travelhub/reservation-core/internal/metrics"
	"github.com/travelhub/reservation-core/internal/models"
	"github.com/travelhub/reservation-core/internal/repository"
)

// HoldManagerConfig holds TTL bounds for holds
type HoldManagerConfig struct {
	DefaultTTL time.Duration // Used when the caller passes 0 (default 10 min)
	MaxTTL     time.Duration // Longer requests are clamped (default 30 min)
}

// DefaultHoldManagerConfig returns default configuration
func DefaultHoldManagerConfig() HoldManagerConfig {
	return HoldManagerConfig{
		DefaultTTL: 10 * time.Minute,
		MaxTTL:     30 * time.Minute,
	}
}

// HoldManager creates and resolves holds.
// Every state change runs inside the unit's atomic section, so a hold is never granted
// against capacity another section is about to take.
type HoldManager struct {
	store        repository.Store
	availability *AvailabilityCalculator
	clock        clock.Clock
	config       HoldManagerConfig
	metrics      *metrics.BookingMetrics
	logger       *logrus.Logger
}

// NewHoldManager creates a new HoldManager
func NewHoldManager(
	store repository.Store,
	availability *AvailabilityCalculator,
	clk clock.Clock,
	config HoldManagerConfig,
	m *metrics.BookingMetrics,
	logger *logrus.Logger,
) *HoldManager {
	return &HoldManager{
		store:        store,
		availability: availability,
		clock:        clk,
		config:       config,
		metrics:      m,
		logger:       logger,
	}
}

// ============================================================================
// ACQUIRE
// ============================================================================

// Acquire reserves quantity on unitID for window until ttl passes.
// Returns models.ErrCapacityExhausted when the unit cannot fit the request right now.
func (m *HoldManager) Acquire(
	ctx context.Context,
	unitID string,
	window models.TimeWindow,
	quantity int,
	holderID string,
	ttl time.Duration,
) (*models.Hold, error) {
	if quantity < 1 {
		return nil, fmt.Errorf("%w: %d", models.ErrInvalidQuantity, quantity)
	}
	if holderID == "" {
		return nil, fmt.Errorf("%w: holder id is required", models.ErrNotHolder)
	}
	if err := window.Validate(); err != nil {
		return nil, err
	}
	ttl, err := m.effectiveTTL(ttl)
	if err != nil {
		return nil, err
	}

	var (
		hold        *models.Hold
		serviceType models.ServiceType
	)
	err = m.store.WithinUnit(ctx, unitID, func(ctx context.Context) error {
		// 1. Latest snapshot
		unit, err := m.store.Units().GetCurrent(ctx, unitID)
		if err != nil {
			return err
		}
		serviceType = unit.ServiceType

		// 2. Capacity check against this section's view
		now := m.clock.Now()
		remaining, err := m.availability.remainingFor(ctx, unit, window, now)
		if err != nil {
			return err
		}
		if remaining < quantity {
			return fmt.Errorf("%w: %d requested, %d remaining on %s", models.ErrCapacityExhausted, quantity, remaining, unitID)
		}

		// 3. Claim
		h := &models.Hold{
			ID:          uuid.New(),
			UnitID:      unitID,
			UnitVersion: unit.Version,
			Window:      window,
			Quantity:    quantity,
			HolderID:    holderID,
			State:       models.HoldActive,
			ExpiresAt:   now.Add(ttl),
			CreatedAt:   now,
		}
		if err := m.store.Holds().Create(ctx, h); err != nil {
			return fmt.Errorf("failed to create hold: %w", err)
		}
		hold = h
		return nil
	})
	if err != nil {
		if errors.Is(err, models.ErrCapacityExhausted) {
			m.metrics.HoldDenied(string(serviceType))
			m.logger.WithFields(logrus.Fields{
				"unit_id":  unitID,
				"window":   window.String(),
				"quantity": quantity,
			}).Info("Hold denied, capacity exhausted")
		}
		return nil, err
	}

	m.metrics.HoldAcquired(string(serviceType))
	m.logger.WithFields(logrus.Fields{
		"hold_id":    hold.ID,
		"unit_id":    unitID,
		"quantity":   quantity,
		"expires_at": hold.ExpiresAt,
	}).Info("🔒 Hold acquired")

	return hold, nil
}

func (m *HoldManager) effectiveTTL(ttl time.Duration) (time.Duration, error) {
	switch {
	case ttl < 0:
		return 0, fmt.Errorf("hold ttl must not be negative: %s", ttl)
	case ttl == 0:
		return m.config.DefaultTTL, nil
	case m.config.MaxTTL > 0 && ttl > m.config.MaxTTL:
		return m.config.MaxTTL, nil
	}
	return ttl, nil
}

// ============================================================================
// RESOLVE
// ============================================================================

// Release gives the capacity back. Releasing a hold that is already resolved is a no-op.
// An active hold whose TTL already passed is recorded as expired instead.
func (m *HoldManager) Release(ctx context.Context, holdID uuid.UUID) (*models.Hold, error) {
	existing, err := m.store.Holds().GetByID(ctx, holdID)
	if err != nil {
		return nil, err
	}

	var hold *models.Hold
	err = m.store.WithinUnit(ctx, existing.UnitID, func(ctx context.Context) error {
		h, err := m.store.Holds().GetByID(ctx, holdID)
		if err != nil {
			return err
		}
		hold = h
		if h.State != models.HoldActive {
			return nil
		}

		now := m.clock.Now()
		to := models.HoldReleased
		if h.IsExpiredAt(now) {
			to = models.HoldExpired
		}
		return m.resolve(ctx, h, to, now)
	})
	if err != nil {
		return nil, err
	}
	return hold, nil
}

// Expire marks an active hold past its TTL as expired and reports whether it did.
// Holds that are not active, or not yet due, are left alone.
func (m *HoldManager) Expire(ctx context.Context, holdID uuid.UUID, now time.Time) (bool, error) {
	existing, err := m.store.Holds().GetByID(ctx, holdID)
	if err != nil {
		return false, err
	}

	expired := false
	err = m.store.WithinUnit(ctx, existing.UnitID, func(ctx context.Context) error {
		h, err := m.store.Holds().GetByID(ctx, holdID)
		if err != nil {
			return err
		}
		if h.State != models.HoldActive || !h.IsExpiredAt(now) {
			return nil
		}
		if err := m.resolve(ctx, h, models.HoldExpired, now); err != nil {
			return err
		}
		expired = h.State == models.HoldExpired
		return nil
	})
	return expired, err
}

// Convert turns an active, unexpired hold into a reservation draft.
// Called inside the unit's section it joins it, so the ledger write commits with the state change.
func (m *HoldManager) Convert(ctx context.Context, holdID uuid.UUID) (*models.ReservationDraft, error) {
	existing, err := m.store.Holds().GetByID(ctx, holdID)
	if err != nil {
		return nil, err
	}

	var draft *models.ReservationDraft
	err = m.store.WithinUnit(ctx, existing.UnitID, func(ctx context.Context) error {
		h, err := m.store.Holds().GetByID(ctx, holdID)
		if err != nil {
			return err
		}

		now := m.clock.Now()
		if !h.CountsAt(now) {
			return fmt.Errorf("%w: hold %s is %s", models.ErrInvalidHoldState, holdID, h.EffectiveState(now))
		}

		unit, err := unitVersion(ctx, m.store.Units(), h.UnitID, h.UnitVersion)
		if err != nil {
			return err
		}

		if err := m.resolve(ctx, h, models.HoldConverted, now); err != nil {
			return err
		}
		if h.State != models.HoldConverted {
			return fmt.Errorf("%w: hold %s changed state concurrently", models.ErrInvalidHoldState, holdID)
		}

		draft = &models.ReservationDraft{
			HoldID:      h.ID,
			UnitID:      h.UnitID,
			UnitVersion: h.UnitVersion,
			ServiceType: unit.ServiceType,
			Window:      h.Window,
			Quantity:    h.Quantity,
			HolderID:    h.HolderID,
			Amount:      unit.Price(h.Window, h.Quantity),
			Currency:    unit.Currency,
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return draft, nil
}

// resolve moves h out of active and updates it in place when the store accepted the change
func (m *HoldManager) resolve(ctx context.Context, h *models.Hold, to models.HoldState, now time.Time) error {
	ok, err := m.store.Holds().UpdateState(ctx, h.ID, models.HoldActive, to, now)
	if err != nil {
		return fmt.Errorf("failed to update hold %s: %w", h.ID, err)
	}
	if !ok {
		return nil
	}

	resolvedAt := now
	h.State = to
	h.ResolvedAt = &resolvedAt
	repository.OnCommit(ctx, func() { m.metrics.HoldResolved(string(to)) })

	m.logger.WithFields(logrus.Fields{
		"hold_id": h.ID,
		"unit_id": h.UnitID,
		"state":   to,
	}).Debug("Hold resolved")
	return nil
}

// Get returns the hold as readers should see it: an active hold past its TTL reads as expired
func (m *HoldManager) Get(ctx context.Context, holdID uuid.UUID) (*models.Hold, error) {
	h, err := m.store.Holds().GetByID(ctx, holdID)
	if err != nil {
		return nil, err
	}
	h.State = h.EffectiveState(m.clock.Now())
	return h, nil
}
