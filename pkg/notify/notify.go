// Package notify delivers reservation lifecycle events to downstream consumers.
// Delivery is best effort: failures are logged and never roll back a reservation.
package notify

import (
	"context"
	"errors"
	"time"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
)

// EventType names a lifecycle change
type EventType string

const (
	EventConfirmed          EventType = "reservation.confirmed"
	EventPendingPayment     EventType = "reservation.pending_payment"
	EventCancelled          EventType = "reservation.cancelled"
	EventRefunded           EventType = "reservation.refunded"
	EventConfirmationFailed EventType = "booking.confirmation_failed"
)

// Event is the payload sent to every channel
type Event struct {
	Type         EventType        `json:"type"`
	Reference    string           `json:"reference,omitempty"`
	HoldID       string           `json:"hold_id,omitempty"`
	UnitID       string           `json:"unit_id"`
	ServiceType  string           `json:"service_type"`
	HolderID     string           `json:"holder_id"`
	Status       string           `json:"status"`
	WindowStart  time.Time        `json:"window_start"`
	WindowEnd    time.Time        `json:"window_end"`
	Quantity     int              `json:"quantity"`
	Amount       decimal.Decimal  `json:"amount"`
	RefundAmount *decimal.Decimal `json:"refund_amount,omitempty"`
	Currency     string           `json:"currency"`
	Reason       string           `json:"reason,omitempty"`
	OccurredAt   time.Time        `json:"occurred_at"`
}

// Key returns the partition key: the reference, or the hold for attempts without one
func (e Event) Key() string {
	if e.Reference != "" {
		return e.Reference
	}
	return e.HoldID
}

// Notifier delivers one event
type Notifier interface {
	Notify(ctx context.Context, event Event) error
}

// LogNotifier writes events to the structured log
type LogNotifier struct {
	logger *logrus.Logger
}

func NewLogNotifier(logger *logrus.Logger) *LogNotifier {
	return &LogNotifier{logger: logger}
}

func (n *LogNotifier) Notify(ctx context.Context, event Event) error {
	n.logger.WithFields(logrus.Fields{
		"event":     event.Type,
		"reference": event.Reference,
		"unit_id":   event.UnitID,
		"holder_id": event.HolderID,
		"status":    event.Status,
		"amount":    event.Amount.StringFixed(2),
	}).Info("📣 Reservation event")
	return nil
}

// Multi fans an event out to every notifier and joins their errors
type Multi []Notifier

func (m Multi) Notify(ctx context.Context, event Event) error {
	var errs []error
	for _, n := range m {
		if err := n.Notify(ctx, event); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
