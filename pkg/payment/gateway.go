// Package payment talks to the payment collaborator that settles booking charges.
package payment

import (
	"context"

	"github.com/shopspring/decimal"
)

// Status is the outcome of a charge or refund
type Status string

const (
	StatusSuccess Status = "success"
	StatusFailure Status = "failure"
	StatusTimeout Status = "timeout"
)

// Result is returned for every settled call. Transport problems come back as errors instead.
type Result struct {
	Status        Status `json:"status"`
	TransactionID string `json:"transaction_id,omitempty"`
	Message       string `json:"message,omitempty"`
}

// ChargeRequest asks the collaborator to take Amount for a reservation
type ChargeRequest struct {
	Reference string
	Amount    decimal.Decimal
	Currency  string
	HolderID  string
}

// RefundRequest returns Amount of an earlier charge
type RefundRequest struct {
	Reference     string
	TransactionID string
	Amount        decimal.Decimal
	Currency      string
}

// Gateway is the narrow payment interface the booking flow depends on
type Gateway interface {
	Charge(ctx context.Context, req ChargeRequest) (*Result, error)
	Refund(ctx context.Context, req RefundRequest) (*Result, error)
}
