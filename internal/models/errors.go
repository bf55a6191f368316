package models

import "errors"

// Expected outcomes. Callers translate these into terminal attempt states or HTTP responses.
var (
	ErrCapacityExhausted   = errors.New("capacity exhausted")
	ErrInvalidHoldState    = errors.New("invalid hold state")
	ErrInvalidTransition   = errors.New("invalid reservation status transition")
	ErrPaymentFailed       = errors.New("payment failed")
	ErrPaymentTimeout      = errors.New("payment timed out")
	ErrHoldNotFound        = errors.New("hold not found")
	ErrReservationNotFound = errors.New("reservation not found")
	ErrUnitNotFound        = errors.New("inventory unit not found")
	ErrInvalidWindow       = errors.New("invalid time window")
	ErrWindowOutOfRange    = errors.New("window outside unit validity")
	ErrInvalidQuantity     = errors.New("invalid quantity")
	ErrInvalidCapacity     = errors.New("invalid capacity")
	ErrInvalidRate         = errors.New("invalid rate")
	ErrInvalidServiceType  = errors.New("invalid service type")
	ErrNotHolder           = errors.New("hold or reservation belongs to another holder")
	ErrBookingRule         = errors.New("booking rule violated")
	ErrCancellationClosed  = errors.New("cancellation window closed")
)

// Integrity violations. These mean the atomicity guarantees were broken and need manual intervention.
var (
	ErrIntegrityViolation = errors.New("integrity violation")
	ErrDuplicateReference = errors.New("duplicate reservation reference")
	ErrOrphanedHold       = errors.New("converted hold without reservation")
)

// IsIntegrityViolation reports whether err must halt processing and raise an alert
func IsIntegrityViolation(err error) bool {
	return errors.Is(err, ErrIntegrityViolation) ||
		errors.Is(err, ErrDuplicateReference) ||
		errors.Is(err, ErrOrphanedHold)
}
