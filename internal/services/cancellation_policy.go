package services

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	"github.com/travelhub/reservation-core/internal/models"
)

// RefundTier refunds Fraction of the amount when cancelled at least MinNotice before the window starts
type RefundTier struct {
	MinNotice time.Duration
	Fraction  decimal.Decimal
}

// CancellationPolicy quotes refunds for cancelled reservations and decides
// how late a holder may still cancel
type CancellationPolicy struct {
	tiers   map[models.ServiceType][]RefundTier // Longest notice first
	cutoffs map[models.ServiceType]time.Duration
}

// DefaultCancellationPolicy returns the standard refund tiers
//
//	hotel  48h full, 24h half
//	car    7 days full, 3 days half
//	bus    4h full, nothing below
//	train  48h full, 24h half
//
// Holders may cancel up to a day before the window starts. Bus seats stay
// cancellable until departure so the 4h tier can apply.
func DefaultCancellationPolicy() *CancellationPolicy {
	full := decimal.NewFromInt(1)
	half := decimal.NewFromFloat(0.5)
	return NewCancellationPolicy(map[models.ServiceType][]RefundTier{
		models.ServiceHotelRoom:  {{48 * time.Hour, full}, {24 * time.Hour, half}},
		models.ServiceCar:        {{168 * time.Hour, full}, {72 * time.Hour, half}},
		models.ServiceBusSeat:    {{4 * time.Hour, full}},
		models.ServiceTrainBerth: {{48 * time.Hour, full}, {24 * time.Hour, half}},
	}, map[models.ServiceType]time.Duration{
		models.ServiceHotelRoom:  24 * time.Hour,
		models.ServiceCar:        24 * time.Hour,
		models.ServiceBusSeat:    0,
		models.ServiceTrainBerth: 24 * time.Hour,
	})
}

// NewCancellationPolicy creates a policy from explicit tiers and cutoffs.
// A service without a cutoff can be cancelled until its window starts.
func NewCancellationPolicy(tiers map[models.ServiceType][]RefundTier, cutoffs map[models.ServiceType]time.Duration) *CancellationPolicy {
	return &CancellationPolicy{tiers: tiers, cutoffs: cutoffs}
}

// CheckCancellable fails with ErrCancellationClosed once now is within the
// service's cutoff of the window start, or past it.
func (p *CancellationPolicy) CheckCancellable(res *models.Reservation, now time.Time) error {
	notice := res.Window.Start.Sub(now)
	cutoff := p.cutoffs[res.ServiceType]
	if notice <= 0 || notice < cutoff {
		return fmt.Errorf("%w: reservation %s starts %s, cancellation closes %s before",
			models.ErrCancellationClosed, res.Reference, res.Window.Start.UTC().Format(time.RFC3339), cutoff)
	}
	return nil
}

// RefundAmount returns what cancelling res at now gives back.
// Only confirmed reservations were charged, so everything else refunds nothing.
func (p *CancellationPolicy) RefundAmount(res *models.Reservation, now time.Time) decimal.Decimal {
	if res.Status != models.ReservationConfirmed {
		return decimal.Zero
	}

	notice := res.Window.Start.Sub(now)
	for _, tier := range p.tiers[res.ServiceType] {
		if notice >= tier.MinNotice {
			return res.Amount.Mul(tier.Fraction).Round(2)
		}
	}
	return decimal.Zero
}
