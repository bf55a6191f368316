package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// ============================================================================
// RESERVATION STATUS (matches DB ENUM reservation_status)
// ============================================================================

// ReservationStatus is the projection of a reservation's latest event
type ReservationStatus string

const (
	ReservationPendingPayment ReservationStatus = "pending_payment"
	ReservationConfirmed      ReservationStatus = "confirmed"
	ReservationCancelled      ReservationStatus = "cancelled"
	ReservationRefunded       ReservationStatus = "refunded"
)

// reservationTransitions is the legal status graph. Cancelled and refunded are terminal.
var reservationTransitions = map[ReservationStatus][]ReservationStatus{
	ReservationPendingPayment: {ReservationConfirmed, ReservationCancelled},
	ReservationConfirmed:      {ReservationCancelled, ReservationRefunded},
}

// CanTransitionTo reports whether s -> to is in the allowed table
func (s ReservationStatus) CanTransitionTo(to ReservationStatus) bool {
	for _, allowed := range reservationTransitions[s] {
		if allowed == to {
			return true
		}
	}
	return false
}

// IsTerminal reports whether no further transition is allowed
func (s ReservationStatus) IsTerminal() bool {
	return len(reservationTransitions[s]) == 0
}

// HoldsCapacity reports whether a reservation in this status occupies inventory
func (s ReservationStatus) HoldsCapacity() bool {
	return s == ReservationConfirmed || s == ReservationPendingPayment
}

// Valid reports whether s is a known status
func (s ReservationStatus) Valid() bool {
	switch s {
	case ReservationPendingPayment, ReservationConfirmed, ReservationCancelled, ReservationRefunded:
		return true
	}
	return false
}

// CapacityHoldingStatuses lists statuses counted by the availability calculator
func CapacityHoldingStatuses() []ReservationStatus {
	return []ReservationStatus{ReservationPendingPayment, ReservationConfirmed}
}

// ============================================================================
// RESERVATION (reservations table)
// ============================================================================

// Reservation is an immutable ledger row. Status is derived from the event history.
type Reservation struct {
	Reference   string            `json:"reference" db:"reference"`
	HoldID      uuid.UUID         `json:"hold_id" db:"hold_id"`
	UnitID      string            `json:"unit_id" db:"unit_id"`
	UnitVersion int               `json:"unit_version" db:"unit_version"`
	ServiceType ServiceType       `json:"service_type" db:"service_type"`
	Window      TimeWindow        `json:"window"`
	Quantity    int               `json:"quantity" db:"quantity"`
	HolderID    string            `json:"holder_id" db:"holder_id"`
	Amount      decimal.Decimal   `json:"amount" db:"amount"`
	Currency    string            `json:"currency" db:"currency"`
	Status      ReservationStatus `json:"status" db:"status"`
	CreatedAt   time.Time         `json:"created_at" db:"created_at"`
}

// ============================================================================
// RESERVATION EVENTS (reservation_events table, append-only)
// ============================================================================

// ReservationEvent records one status change. FromStatus is empty for the creation event.
type ReservationEvent struct {
	Reference    string            `json:"reference" db:"reference"`
	Sequence     int               `json:"sequence" db:"sequence"`
	FromStatus   ReservationStatus `json:"from_status,omitempty" db:"from_status"`
	ToStatus     ReservationStatus `json:"to_status" db:"to_status"`
	Reason       string            `json:"reason,omitempty" db:"reason"`
	RefundAmount *decimal.Decimal  `json:"refund_amount,omitempty" db:"refund_amount"`
	ActorID      string            `json:"actor_id,omitempty" db:"actor_id"`
	CreatedAt    time.Time         `json:"created_at" db:"created_at"`
}

// TransitionMeta carries optional details recorded with a status change
type TransitionMeta struct {
	Reason       string
	ActorID      string
	RefundAmount *decimal.Decimal
}

// ReservationWithHistory bundles a reservation with its events for read endpoints
type ReservationWithHistory struct {
	Reservation *Reservation       `json:"reservation"`
	History     []ReservationEvent `json:"history"`
}
