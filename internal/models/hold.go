package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// HoldState tracks a hold through its lifecycle
// Matches PostgreSQL ENUM: hold_state
type HoldState string

const (
	HoldActive    HoldState = "active"    // Capacity reserved, waiting for payment
	HoldConverted HoldState = "converted" // Turned into a reservation
	HoldReleased  HoldState = "released"  // Given back by the caller
	HoldExpired   HoldState = "expired"   // TTL passed before conversion
)

// IsTerminal reports whether the state can no longer change
func (s HoldState) IsTerminal() bool {
	return s != HoldActive
}

// Hold is a short-lived exclusive claim on capacity during checkout
type Hold struct {
	ID          uuid.UUID  `json:"id" db:"id"`
	UnitID      string     `json:"unit_id" db:"unit_id"`
	UnitVersion int        `json:"unit_version" db:"unit_version"`
	Window      TimeWindow `json:"window"`
	Quantity    int        `json:"quantity" db:"quantity"`
	HolderID    string     `json:"holder_id" db:"holder_id"`
	State       HoldState  `json:"state" db:"state"`
	ExpiresAt   time.Time  `json:"expires_at" db:"expires_at"`
	CreatedAt   time.Time  `json:"created_at" db:"created_at"`
	ResolvedAt  *time.Time `json:"resolved_at,omitempty" db:"resolved_at"`
}

// IsExpiredAt reports whether the hold's TTL has passed at now
func (h *Hold) IsExpiredAt(now time.Time) bool {
	return !now.Before(h.ExpiresAt)
}

// CountsAt reports whether the hold still consumes capacity at now.
// An active hold past expiry is logically released even before the sweeper touches it.
func (h *Hold) CountsAt(now time.Time) bool {
	return h.State == HoldActive && !h.IsExpiredAt(now)
}

// EffectiveState is the state a reader should observe at now
func (h *Hold) EffectiveState(now time.Time) HoldState {
	if h.State == HoldActive && h.IsExpiredAt(now) {
		return HoldExpired
	}
	return h.State
}

// ReservationDraft is produced by converting a hold and consumed by the ledger
type ReservationDraft struct {
	HoldID      uuid.UUID       `json:"hold_id"`
	UnitID      string          `json:"unit_id"`
	UnitVersion int             `json:"unit_version"`
	ServiceType ServiceType     `json:"service_type"`
	Window      TimeWindow      `json:"window"`
	Quantity    int             `json:"quantity"`
	HolderID    string          `json:"holder_id"`
	Amount      decimal.Decimal `json:"amount"`
	Currency    string          `json:"currency"`
}
