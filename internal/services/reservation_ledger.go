package services

import (
	"context"
	"fmt"

	"github.com/sirupsen/logrus"
	"github.com/travelhub/reservation-core/internal/clock"
	"github.com/travelhub/reservation-core/internal/models"
	"github.com/travelhub/reservation-core/internal/repository"
)

const (
	defaultListLimit = 20
	maxListLimit     = 100
)

// ReservationLedger is the append-only record of reservations.
// Rows never change after Commit; every status change is a new event and the
// current status is the projection of the latest one.
type ReservationLedger struct {
	store  repository.Store
	clock  clock.Clock
	logger *logrus.Logger
}

// NewReservationLedger creates a new ReservationLedger
func NewReservationLedger(store repository.Store, clk clock.Clock, logger *logrus.Logger) *ReservationLedger {
	return &ReservationLedger{store: store, clock: clk, logger: logger}
}

// Commit records a confirmed reservation for draft under reference.
// Integrity violations (reused reference or hold) are returned for the caller to escalate.
func (l *ReservationLedger) Commit(ctx context.Context, draft *models.ReservationDraft, reference string) (*models.Reservation, error) {
	return l.create(ctx, draft, reference, models.ReservationConfirmed, "payment captured")
}

// CommitPending records a reservation whose payment is settled later
func (l *ReservationLedger) CommitPending(ctx context.Context, draft *models.ReservationDraft, reference string) (*models.Reservation, error) {
	return l.create(ctx, draft, reference, models.ReservationPendingPayment, "awaiting payment")
}

func (l *ReservationLedger) create(
	ctx context.Context,
	draft *models.ReservationDraft,
	reference string,
	status models.ReservationStatus,
	reason string,
) (*models.Reservation, error) {
	if draft == nil {
		return nil, fmt.Errorf("%w: missing reservation draft", models.ErrIntegrityViolation)
	}
	if reference == "" {
		return nil, fmt.Errorf("%w: empty reference for hold %s", models.ErrIntegrityViolation, draft.HoldID)
	}

	now := l.clock.Now()
	reservation := &models.Reservation{
		Reference:   reference,
		HoldID:      draft.HoldID,
		UnitID:      draft.UnitID,
		UnitVersion: draft.UnitVersion,
		ServiceType: draft.ServiceType,
		Window:      draft.Window,
		Quantity:    draft.Quantity,
		HolderID:    draft.HolderID,
		Amount:      draft.Amount,
		Currency:    draft.Currency,
		Status:      status,
		CreatedAt:   now,
	}
	created := models.ReservationEvent{
		Reference: reference,
		Sequence:  1,
		ToStatus:  status,
		Reason:    reason,
		ActorID:   draft.HolderID,
		CreatedAt: now,
	}

	err := l.store.WithinUnit(ctx, draft.UnitID, func(ctx context.Context) error {
		return l.store.Reservations().Create(ctx, reservation, created)
	})
	if err != nil {
		return nil, err
	}

	l.logger.WithFields(logrus.Fields{
		"reference": reference,
		"hold_id":   draft.HoldID,
		"unit_id":   draft.UnitID,
		"status":    status,
	}).Info("📒 Reservation committed")

	return reservation, nil
}

// Transition appends a status change. Illegal moves return models.ErrInvalidTransition and change nothing.
func (l *ReservationLedger) Transition(
	ctx context.Context,
	reference string,
	to models.ReservationStatus,
	meta models.TransitionMeta,
) (*models.Reservation, error) {
	existing, err := l.store.Reservations().GetByReference(ctx, reference)
	if err != nil {
		return nil, err
	}

	var reservation *models.Reservation
	err = l.store.WithinUnit(ctx, existing.UnitID, func(ctx context.Context) error {
		// Re-read under the section so the check and the append see the same status
		res, err := l.store.Reservations().GetByReference(ctx, reference)
		if err != nil {
			return err
		}
		if !res.Status.CanTransitionTo(to) {
			return fmt.Errorf("%w: %s -> %s for %s", models.ErrInvalidTransition, res.Status, to, reference)
		}

		events, err := l.store.Reservations().ListEvents(ctx, reference)
		if err != nil {
			return err
		}
		next := 1
		if len(events) > 0 {
			next = events[len(events)-1].Sequence + 1
		}

		event := models.ReservationEvent{
			Reference:    reference,
			Sequence:     next,
			FromStatus:   res.Status,
			ToStatus:     to,
			Reason:       meta.Reason,
			RefundAmount: meta.RefundAmount,
			ActorID:      meta.ActorID,
			CreatedAt:    l.clock.Now(),
		}
		if err := l.store.Reservations().AppendEvent(ctx, event); err != nil {
			return err
		}

		res.Status = to
		reservation = res
		return nil
	})
	if err != nil {
		return nil, err
	}

	l.logger.WithFields(logrus.Fields{
		"reference": reference,
		"from":      existing.Status,
		"to":        to,
		"actor_id":  meta.ActorID,
	}).Info("Reservation status changed")

	return reservation, nil
}

// Get returns a reservation with its projected status
func (l *ReservationLedger) Get(ctx context.Context, reference string) (*models.Reservation, error) {
	return l.store.Reservations().GetByReference(ctx, reference)
}

// History returns a reservation with every event in sequence order
func (l *ReservationLedger) History(ctx context.Context, reference string) (*models.ReservationWithHistory, error) {
	res, err := l.store.Reservations().GetByReference(ctx, reference)
	if err != nil {
		return nil, err
	}
	events, err := l.store.Reservations().ListEvents(ctx, reference)
	if err != nil {
		return nil, err
	}
	return &models.ReservationWithHistory{Reservation: res, History: events}, nil
}

// ListByHolder pages through a holder's reservations, newest first
func (l *ReservationLedger) ListByHolder(ctx context.Context, holderID string, limit, offset int) ([]models.Reservation, error) {
	if limit <= 0 {
		limit = defaultListLimit
	}
	if limit > maxListLimit {
		limit = maxListLimit
	}
	if offset < 0 {
		offset = 0
	}
	return l.store.Reservations().ListByHolder(ctx, holderID, limit, offset)
}
