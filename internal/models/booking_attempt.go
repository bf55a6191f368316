package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// AttemptState is the orchestrator state of one booking attempt
type AttemptState string

const (
	AttemptStarted            AttemptState = "started"
	AttemptHoldAcquired       AttemptState = "hold_acquired"
	AttemptPaymentPending     AttemptState = "payment_pending"
	AttemptConfirmed          AttemptState = "confirmed"
	AttemptRejected           AttemptState = "rejected"            // Capacity exhausted
	AttemptCancelled          AttemptState = "cancelled"           // Payment failed, timed out or abandoned
	AttemptExpired            AttemptState = "expired"             // Hold TTL passed before payment
	AttemptConfirmationFailed AttemptState = "confirmation_failed" // Paid but hold no longer convertible, refund requested
	AttemptFailed             AttemptState = "failed"              // Integrity violation
)

// IsTerminal reports whether the attempt is finished. Terminal attempts are never retried.
func (s AttemptState) IsTerminal() bool {
	switch s {
	case AttemptConfirmed, AttemptRejected, AttemptCancelled, AttemptExpired,
		AttemptConfirmationFailed, AttemptFailed:
		return true
	}
	return false
}

// AttemptStep is one entry of an attempt's state trail
type AttemptStep struct {
	State AttemptState `json:"state"`
	At    time.Time    `json:"at"`
}

// BookingAttempt is the façade view of a single booking attempt
type BookingAttempt struct {
	HoldID        uuid.UUID       `json:"hold_id,omitempty"`
	UnitID        string          `json:"unit_id"`
	ServiceType   ServiceType     `json:"service_type"`
	HolderID      string          `json:"holder_id"`
	Window        TimeWindow      `json:"window"`
	Quantity      int             `json:"quantity"`
	Amount        decimal.Decimal `json:"amount"`
	Currency      string          `json:"currency"`
	Reference     string          `json:"reference,omitempty"`
	State         AttemptState    `json:"state"`
	ExpiresAt     *time.Time      `json:"expires_at,omitempty"`
	Trail         []AttemptStep   `json:"trail"`
	Reservation   *Reservation    `json:"reservation,omitempty"`
	FailureReason string          `json:"failure_reason,omitempty"`
}

// Advance moves the attempt to state and records it in the trail
func (a *BookingAttempt) Advance(state AttemptState, at time.Time) {
	a.State = state
	a.Trail = append(a.Trail, AttemptStep{State: state, At: at})
}

// BookingRequest starts a booking attempt
type BookingRequest struct {
	UnitID   string        `json:"unit_id" binding:"required"`
	Start    time.Time     `json:"start" binding:"required"`
	End      time.Time     `json:"end" binding:"required"`
	Quantity int           `json:"quantity" binding:"required,min=1"`
	HolderID string        `json:"-"`
	HoldTTL  time.Duration `json:"-"`
}

// Window returns the requested window
func (r *BookingRequest) Window() (TimeWindow, error) {
	return NewTimeWindow(r.Start, r.End)
}

// AvailabilityResponse is returned by availability queries
type AvailabilityResponse struct {
	UnitID    string     `json:"unit_id"`
	Window    TimeWindow `json:"window"`
	Quantity  int        `json:"quantity"`
	Available bool       `json:"available"`
	Remaining int        `json:"remaining"`
	Capacity  int        `json:"capacity"`
}
