package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
	"github.com/travelhub/reservation-core/internal/clock"
	"github.com/travelhub/reservation-core/internal/metrics"
	"github.com/travelhub/reservation-core/internal/models"
	"github.com/travelhub/reservation-core/internal/repository"
	"github.com/travelhub/reservation-core/pkg/notify"
	"github.com/travelhub/reservation-core/pkg/payment"
)

// BookingOrchestratorConfig holds configuration for the orchestrator
type BookingOrchestratorConfig struct {
	HoldTTL         time.Duration // How long holds are valid (default 10 min)
	PaymentTimeout  time.Duration // How long to wait for the payment collaborator (default 30s)
	DefaultCurrency string        // Used when a unit has none (default USD)
}

// DefaultOrchestratorConfig returns default configuration
func DefaultOrchestratorConfig() BookingOrchestratorConfig {
	return BookingOrchestratorConfig{
		HoldTTL:         10 * time.Minute,
		PaymentTimeout:  30 * time.Second,
		DefaultCurrency: "USD",
	}
}

// ReferenceIssuer hands out reservation reference codes
type ReferenceIssuer interface {
	Next() (string, error)
}

// BookingOrchestratorService drives the Hold → Payment → Confirm booking flow.
//
// Attempts are not stored: the hold is the durable part of an in-flight attempt, and the
// reservation is the durable result. An attempt is rebuilt from its hold on every call.
type BookingOrchestratorService struct {
	store      repository.Store
	registry   *InventoryRegistry
	holds      *HoldManager
	ledger     *ReservationLedger
	validator  *BookingValidator
	policy     *CancellationPolicy
	references ReferenceIssuer
	payments   payment.Gateway
	notifier   notify.Notifier
	clock      clock.Clock
	metrics    *metrics.BookingMetrics
	config     BookingOrchestratorConfig
	logger     *logrus.Logger
}

// NewBookingOrchestratorService creates a new orchestrator service
func NewBookingOrchestratorService(
	store repository.Store,
	registry *InventoryRegistry,
	holds *HoldManager,
	ledger *ReservationLedger,
	validator *BookingValidator,
	policy *CancellationPolicy,
	references ReferenceIssuer,
	payments payment.Gateway,
	notifier notify.Notifier,
	clk clock.Clock,
	m *metrics.BookingMetrics,
	config BookingOrchestratorConfig,
	logger *logrus.Logger,
) *BookingOrchestratorService {
	return &BookingOrchestratorService{
		store:      store,
		registry:   registry,
		holds:      holds,
		ledger:     ledger,
		validator:  validator,
		policy:     policy,
		references: references,
		payments:   payments,
		notifier:   notifier,
		clock:      clk,
		metrics:    m,
		config:     config,
		logger:     logger,
	}
}

// ============================================================================
// BOOK (end to end)
// ============================================================================

// Book runs Start and Pay back to back
func (s *BookingOrchestratorService) Book(ctx context.Context, req *models.BookingRequest) (*models.BookingAttempt, error) {
	attempt, err := s.Start(ctx, req)
	if err != nil || attempt.State != models.AttemptHoldAcquired {
		return attempt, err
	}
	return s.Pay(ctx, attempt.HoldID, req.HolderID)
}

// ============================================================================
// START (Phase 1: hold)
// ============================================================================

// Start validates the request and places a hold.
// A sold-out unit is not an error: the attempt comes back rejected.
func (s *BookingOrchestratorService) Start(ctx context.Context, req *models.BookingRequest) (*models.BookingAttempt, error) {
	now := s.clock.Now()

	// 1. Validate window
	window, err := req.Window()
	if err != nil {
		return nil, err
	}

	// 2. Load the latest snapshot
	unit, err := s.registry.Get(ctx, req.UnitID)
	if err != nil {
		return nil, err
	}

	// 3. Service rules
	if err := s.validator.Validate(unit, window, req.Quantity, now); err != nil {
		return nil, err
	}

	attempt := &models.BookingAttempt{
		UnitID:      unit.ID,
		ServiceType: unit.ServiceType,
		HolderID:    req.HolderID,
		Window:      window,
		Quantity:    req.Quantity,
		Amount:      unit.Price(window, req.Quantity),
		Currency:    s.currency(unit),
	}
	attempt.Advance(models.AttemptStarted, now)

	// 4. Check availability and hold in one section
	ttl := req.HoldTTL
	if ttl == 0 {
		ttl = s.config.HoldTTL
	}
	hold, err := s.holds.Acquire(ctx, unit.ID, window, req.Quantity, req.HolderID, ttl)
	if errors.Is(err, models.ErrCapacityExhausted) {
		attempt.FailureReason = err.Error()
		s.finish(attempt, models.AttemptRejected)
		return attempt, nil
	}
	if err != nil {
		return nil, err
	}

	// 5. Price against the snapshot the hold was actually taken on
	if hold.UnitVersion != unit.Version {
		held, err := s.registry.GetVersion(ctx, unit.ID, hold.UnitVersion)
		if err != nil {
			return nil, err
		}
		attempt.Amount = held.Price(window, req.Quantity)
		attempt.Currency = s.currency(held)
	}

	expiresAt := hold.ExpiresAt
	attempt.HoldID = hold.ID
	attempt.ExpiresAt = &expiresAt
	attempt.Advance(models.AttemptHoldAcquired, hold.CreatedAt)

	s.logger.WithFields(logrus.Fields{
		"hold_id":   hold.ID,
		"unit_id":   unit.ID,
		"holder_id": req.HolderID,
		"amount":    attempt.Amount.String(),
	}).Info("✅ Booking attempt holding capacity")

	return attempt, nil
}

// ============================================================================
// PAY (Phase 2: payment + confirmation)
// ============================================================================

// Pay charges for the hold and, on success, converts it and commits the reservation atomically.
// Payment failure or timeout releases the hold. Paying for a hold that expired meanwhile
// ends in confirmation_failed and the charge is refunded.
func (s *BookingOrchestratorService) Pay(ctx context.Context, holdID uuid.UUID, holderID string) (*models.BookingAttempt, error) {
	// 1. Rebuild the attempt; resolved holds end here
	attempt, hold, err := s.resume(ctx, holdID, holderID)
	if err != nil || hold == nil {
		return attempt, err
	}

	// 2. Reference first, so the charge carries it
	reference, err := s.references.Next()
	if err != nil {
		s.releaseQuietly(ctx, holdID, "reference generation failed")
		return nil, fmt.Errorf("failed to issue reference: %w", err)
	}
	attempt.Reference = reference
	attempt.Advance(models.AttemptPaymentPending, s.clock.Now())

	// 3. Charge
	result := s.charge(ctx, attempt)
	if result.Status != payment.StatusSuccess {
		if result.Status == payment.StatusTimeout {
			// Outcome unknown; void whatever may have been captured
			s.refundQuietly(ctx, attempt.Reference, attempt.Amount, attempt.Currency, result.TransactionID, "payment timed out")
			attempt.FailureReason = fmt.Sprintf("%v: %s", models.ErrPaymentTimeout, result.Message)
		} else {
			attempt.FailureReason = fmt.Sprintf("%v: %s", models.ErrPaymentFailed, result.Message)
		}
		s.releaseQuietly(ctx, holdID, string(result.Status))
		s.finish(attempt, models.AttemptCancelled)
		return attempt, nil
	}

	// Money has moved: finish even if the caller goes away
	ctx = context.WithoutCancel(ctx)

	// 4. Convert + commit in one section
	reservation, err := s.convertAndCommit(ctx, hold.UnitID, holdID, attempt, s.ledger.Commit)
	if err != nil {
		return s.failAfterCharge(ctx, attempt, result.TransactionID, err)
	}

	// 5. Confirm + notify
	attempt.Reservation = reservation
	s.finish(attempt, models.AttemptConfirmed)
	s.notify(ctx, reservationEvent(notify.EventConfirmed, reservation, nil, "", s.clock.Now()))

	return attempt, nil
}

// charge calls the payment collaborator under PaymentTimeout and folds transport errors into a Result
func (s *BookingOrchestratorService) charge(ctx context.Context, attempt *models.BookingAttempt) *payment.Result {
	payCtx, cancel := context.WithTimeout(ctx, s.config.PaymentTimeout)
	defer cancel()

	started := time.Now()
	result, err := s.payments.Charge(payCtx, payment.ChargeRequest{
		Reference: attempt.Reference,
		Amount:    attempt.Amount,
		Currency:  attempt.Currency,
		HolderID:  attempt.HolderID,
	})
	switch {
	case err != nil && errors.Is(payCtx.Err(), context.DeadlineExceeded):
		result = &payment.Result{Status: payment.StatusTimeout, Message: err.Error()}
	case err != nil:
		result = &payment.Result{Status: payment.StatusFailure, Message: err.Error()}
	case result == nil:
		result = &payment.Result{Status: payment.StatusFailure, Message: "empty response from payment collaborator"}
	}
	s.metrics.ObservePayment(string(result.Status), time.Since(started))

	s.logger.WithFields(logrus.Fields{
		"reference":      attempt.Reference,
		"hold_id":        attempt.HoldID,
		"status":         result.Status,
		"transaction_id": result.TransactionID,
	}).Info("💳 Payment settled")

	return result
}

// failAfterCharge handles a paid attempt whose reservation could not be committed
func (s *BookingOrchestratorService) failAfterCharge(
	ctx context.Context,
	attempt *models.BookingAttempt,
	transactionID string,
	err error,
) (*models.BookingAttempt, error) {
	fields := logrus.Fields{
		"hold_id":   attempt.HoldID,
		"reference": attempt.Reference,
		"unit_id":   attempt.UnitID,
	}
	s.refundQuietly(ctx, attempt.Reference, attempt.Amount, attempt.Currency, transactionID, "booking not confirmed")
	attempt.FailureReason = err.Error()

	switch {
	case errors.Is(err, models.ErrInvalidHoldState):
		// The hold expired or was released while payment was in flight
		s.logger.WithFields(fields).WithError(err).Warn("Payment captured for a hold that can no longer convert")
		s.finish(attempt, models.AttemptConfirmationFailed)
		s.notify(ctx, attemptEvent(notify.EventConfirmationFailed, attempt, err.Error(), s.clock.Now()))
		return attempt, nil
	case models.IsIntegrityViolation(err):
		reportIntegrityViolation(s.logger, s.metrics, err, fields)
		// The attempt is terminal, so the refunded hold must not be payable again
		s.releaseQuietly(ctx, attempt.HoldID, "booking not confirmed")
		s.finish(attempt, models.AttemptFailed)
		return attempt, err
	default:
		s.logger.WithFields(fields).WithError(err).Error("Failed to confirm paid booking")
		s.releaseQuietly(ctx, attempt.HoldID, "booking not confirmed")
		s.finish(attempt, models.AttemptFailed)
		return attempt, fmt.Errorf("failed to confirm booking: %w", err)
	}
}

// ============================================================================
// RESERVE (deferred settlement)
// ============================================================================

// Reserve converts the hold into a pending_payment reservation without charging.
// The reservation keeps its capacity until SettlePending or a cancellation.
func (s *BookingOrchestratorService) Reserve(ctx context.Context, holdID uuid.UUID, holderID string) (*models.BookingAttempt, error) {
	attempt, hold, err := s.resume(ctx, holdID, holderID)
	if err != nil || hold == nil {
		return attempt, err
	}

	reference, err := s.references.Next()
	if err != nil {
		return nil, fmt.Errorf("failed to issue reference: %w", err)
	}
	attempt.Reference = reference

	reservation, err := s.convertAndCommit(ctx, hold.UnitID, holdID, attempt, s.ledger.CommitPending)
	switch {
	case errors.Is(err, models.ErrInvalidHoldState):
		attempt.FailureReason = err.Error()
		s.finish(attempt, models.AttemptExpired)
		return attempt, nil
	case err != nil && models.IsIntegrityViolation(err):
		reportIntegrityViolation(s.logger, s.metrics, err, logrus.Fields{"hold_id": holdID, "reference": reference})
		attempt.FailureReason = err.Error()
		s.releaseQuietly(ctx, holdID, "booking not confirmed")
		s.finish(attempt, models.AttemptFailed)
		return attempt, err
	case err != nil:
		return nil, err
	}

	attempt.Reservation = reservation
	attempt.Advance(models.AttemptPaymentPending, s.clock.Now())
	s.notify(ctx, reservationEvent(notify.EventPendingPayment, reservation, nil, "", s.clock.Now()))

	return attempt, nil
}

// SettlePending confirms a pending_payment reservation once payment arrived out of band
func (s *BookingOrchestratorService) SettlePending(ctx context.Context, reference, actorID string) (*models.Reservation, error) {
	reservation, err := s.ledger.Transition(ctx, reference, models.ReservationConfirmed, models.TransitionMeta{
		Reason:  "payment settled",
		ActorID: actorID,
	})
	if err != nil {
		return nil, err
	}
	s.metrics.BookingFinished(string(models.AttemptConfirmed))
	s.notify(ctx, reservationEvent(notify.EventConfirmed, reservation, nil, "payment settled", s.clock.Now()))
	return reservation, nil
}

// ============================================================================
// ABANDON / CANCEL / REFUND
// ============================================================================

// Abandon releases a hold before payment. Repeating it is harmless.
func (s *BookingOrchestratorService) Abandon(ctx context.Context, holdID uuid.UUID, holderID string) (*models.BookingAttempt, error) {
	before, err := s.holds.Get(ctx, holdID)
	if err != nil {
		return nil, err
	}
	if before.HolderID != holderID {
		return nil, fmt.Errorf("%w: hold %s", models.ErrNotHolder, holdID)
	}
	if before.State == models.HoldConverted {
		return nil, fmt.Errorf("%w: hold %s is already converted, cancel the reservation instead", models.ErrInvalidHoldState, holdID)
	}

	hold, err := s.holds.Release(ctx, holdID)
	if err != nil {
		return nil, err
	}
	attempt, err := s.attemptFromHold(ctx, hold)
	if err != nil {
		return nil, err
	}

	state := models.AttemptCancelled
	if hold.State == models.HoldExpired {
		state = models.AttemptExpired
	}
	attempt.FailureReason = "abandoned by holder"
	if before.State == models.HoldActive {
		s.finish(attempt, state)
	} else {
		attempt.Advance(state, s.clock.Now())
	}
	return attempt, nil
}

// CancelReservation cancels a pending or confirmed reservation and refunds per the cancellation policy.
// Holders may only cancel their own reservations, and only before the policy cutoff.
// Admins may cancel any reservation at any time.
func (s *BookingOrchestratorService) CancelReservation(ctx context.Context, reference, actorID string, isAdmin bool) (*models.Reservation, error) {
	current, err := s.ledger.Get(ctx, reference)
	if err != nil {
		return nil, err
	}
	if !isAdmin && current.HolderID != actorID {
		return nil, fmt.Errorf("%w: reservation %s", models.ErrNotHolder, reference)
	}
	if !isAdmin && current.Status.HoldsCapacity() {
		if err := s.policy.CheckCancellable(current, s.clock.Now()); err != nil {
			return nil, err
		}
	}

	refund := s.policy.RefundAmount(current, s.clock.Now())
	reason := "cancelled by holder"
	if isAdmin {
		reason = "cancelled by admin"
	}

	reservation, err := s.ledger.Transition(ctx, reference, models.ReservationCancelled, models.TransitionMeta{
		Reason:       reason,
		ActorID:      actorID,
		RefundAmount: &refund,
	})
	if err != nil {
		return nil, err
	}

	if refund.IsPositive() {
		s.refundQuietly(ctx, reference, refund, reservation.Currency, "", reason)
	}
	s.notify(ctx, reservationEvent(notify.EventCancelled, reservation, &refund, reason, s.clock.Now()))

	return reservation, nil
}

// MarkRefunded records a full refund of a confirmed reservation and sends it to the payment collaborator
func (s *BookingOrchestratorService) MarkRefunded(ctx context.Context, reference, actorID, reason string) (*models.Reservation, error) {
	current, err := s.ledger.Get(ctx, reference)
	if err != nil {
		return nil, err
	}
	if reason == "" {
		reason = "refunded by admin"
	}

	amount := current.Amount
	reservation, err := s.ledger.Transition(ctx, reference, models.ReservationRefunded, models.TransitionMeta{
		Reason:       reason,
		ActorID:      actorID,
		RefundAmount: &amount,
	})
	if err != nil {
		return nil, err
	}

	s.refundQuietly(ctx, reference, amount, reservation.Currency, "", reason)
	s.notify(ctx, reservationEvent(notify.EventRefunded, reservation, &amount, reason, s.clock.Now()))

	return reservation, nil
}

// ============================================================================
// HELPERS
// ============================================================================

// resume loads holdID for holderID and rebuilds its attempt.
// When the hold is no longer active the attempt is returned finished and hold is nil.
func (s *BookingOrchestratorService) resume(ctx context.Context, holdID uuid.UUID, holderID string) (*models.BookingAttempt, *models.Hold, error) {
	hold, err := s.holds.Get(ctx, holdID)
	if err != nil {
		return nil, nil, err
	}
	if hold.HolderID != holderID {
		return nil, nil, fmt.Errorf("%w: hold %s", models.ErrNotHolder, holdID)
	}

	attempt, err := s.attemptFromHold(ctx, hold)
	if err != nil {
		return nil, nil, err
	}

	switch hold.State {
	case models.HoldActive:
		return attempt, hold, nil
	case models.HoldExpired:
		if _, err := s.holds.Expire(ctx, holdID, s.clock.Now()); err != nil {
			s.logger.WithError(err).WithField("hold_id", holdID).Warn("Failed to mark hold expired")
		}
		attempt.FailureReason = "hold expired before payment"
		s.finish(attempt, models.AttemptExpired)
		return attempt, nil, nil
	case models.HoldReleased:
		attempt.FailureReason = "hold was released"
		attempt.Advance(models.AttemptCancelled, s.clock.Now())
		return attempt, nil, nil
	default:
		return nil, nil, fmt.Errorf("%w: hold %s is already converted", models.ErrInvalidHoldState, holdID)
	}
}

func (s *BookingOrchestratorService) attemptFromHold(ctx context.Context, hold *models.Hold) (*models.BookingAttempt, error) {
	unit, err := s.registry.GetVersion(ctx, hold.UnitID, hold.UnitVersion)
	if err != nil {
		return nil, err
	}

	expiresAt := hold.ExpiresAt
	attempt := &models.BookingAttempt{
		HoldID:      hold.ID,
		UnitID:      hold.UnitID,
		ServiceType: unit.ServiceType,
		HolderID:    hold.HolderID,
		Window:      hold.Window,
		Quantity:    hold.Quantity,
		Amount:      unit.Price(hold.Window, hold.Quantity),
		Currency:    s.currency(unit),
		ExpiresAt:   &expiresAt,
	}
	attempt.Advance(models.AttemptStarted, hold.CreatedAt)
	attempt.Advance(models.AttemptHoldAcquired, hold.CreatedAt)
	return attempt, nil
}

// convertAndCommit converts the hold and writes the reservation in one atomic section.
// Either both happen or neither does.
func (s *BookingOrchestratorService) convertAndCommit(
	ctx context.Context,
	unitID string,
	holdID uuid.UUID,
	attempt *models.BookingAttempt,
	commit func(context.Context, *models.ReservationDraft, string) (*models.Reservation, error),
) (*models.Reservation, error) {
	var reservation *models.Reservation
	err := s.store.WithinUnit(ctx, unitID, func(ctx context.Context) error {
		draft, err := s.holds.Convert(ctx, holdID)
		if err != nil {
			return err
		}
		draft.Amount = attempt.Amount
		draft.Currency = attempt.Currency

		reservation, err = commit(ctx, draft, attempt.Reference)
		return err
	})
	if err != nil {
		return nil, err
	}
	return reservation, nil
}

func (s *BookingOrchestratorService) finish(attempt *models.BookingAttempt, state models.AttemptState) {
	attempt.Advance(state, s.clock.Now())
	s.metrics.BookingFinished(string(state))

	entry := s.logger.WithFields(logrus.Fields{
		"hold_id":   attempt.HoldID,
		"unit_id":   attempt.UnitID,
		"reference": attempt.Reference,
		"state":     state,
	})
	if attempt.FailureReason != "" {
		entry = entry.WithField("reason", attempt.FailureReason)
	}
	entry.Info("Booking attempt finished")
}

func (s *BookingOrchestratorService) releaseQuietly(ctx context.Context, holdID uuid.UUID, reason string) {
	if _, err := s.holds.Release(context.WithoutCancel(ctx), holdID); err != nil {
		s.logger.WithError(err).WithFields(logrus.Fields{
			"hold_id": holdID,
			"reason":  reason,
		}).Error("Failed to release hold, the sweeper will expire it")
	}
}

func (s *BookingOrchestratorService) refundQuietly(
	ctx context.Context,
	reference string,
	amount decimal.Decimal,
	currency string,
	transactionID string,
	reason string,
) {
	refundCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.config.PaymentTimeout)
	defer cancel()

	fields := logrus.Fields{
		"reference": reference,
		"amount":    amount.String(),
		"reason":    reason,
	}
	result, err := s.payments.Refund(refundCtx, payment.RefundRequest{
		Reference:     reference,
		TransactionID: transactionID,
		Amount:        amount,
		Currency:      currency,
	})
	if err != nil {
		s.logger.WithFields(fields).WithError(err).Error("Refund request failed, manual follow-up required")
		return
	}
	if result.Status != payment.StatusSuccess {
		s.logger.WithFields(fields).WithField("status", result.Status).Error("Refund not accepted, manual follow-up required")
		return
	}
	s.logger.WithFields(fields).Info("💸 Refund requested")
}

func (s *BookingOrchestratorService) notify(ctx context.Context, event notify.Event) {
	if s.notifier == nil {
		return
	}
	if err := s.notifier.Notify(context.WithoutCancel(ctx), event); err != nil {
		s.logger.WithError(err).WithField("type", event.Type).Warn("Failed to queue notification")
	}
}

func (s *BookingOrchestratorService) currency(unit *models.InventoryUnit) string {
	if unit.Currency != "" {
		return unit.Currency
	}
	return s.config.DefaultCurrency
}

func reservationEvent(t notify.EventType, res *models.Reservation, refund *decimal.Decimal, reason string, at time.Time) notify.Event {
	return notify.Event{
		Type:         t,
		Reference:    res.Reference,
		HoldID:       res.HoldID.String(),
		UnitID:       res.UnitID,
		ServiceType:  string(res.ServiceType),
		HolderID:     res.HolderID,
		Status:       string(res.Status),
		WindowStart:  res.Window.Start,
		WindowEnd:    res.Window.End,
		Quantity:     res.Quantity,
		Amount:       res.Amount,
		RefundAmount: refund,
		Currency:     res.Currency,
		Reason:       reason,
		OccurredAt:   at,
	}
}

func attemptEvent(t notify.EventType, a *models.BookingAttempt, reason string, at time.Time) notify.Event {
	return notify.Event{
		Type:        t,
		Reference:   a.Reference,
		HoldID:      a.HoldID.String(),
		UnitID:      a.UnitID,
		ServiceType: string(a.ServiceType),
		HolderID:    a.HolderID,
		Status:      string(a.State),
		WindowStart: a.Window.Start,
		WindowEnd:   a.Window.End,
		Quantity:    a.Quantity,
		Amount:      a.Amount,
		Currency:    a.Currency,
		Reason:      reason,
		OccurredAt:  at,
	}
}
