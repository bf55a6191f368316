package services

import (
	"fmt"
	"time"

	"github.com/travelhub/reservation-core/internal/models"
)

const day = 24 * time.Hour

// BookingRules are the per-service limits a booking must respect. Zero means unlimited.
type BookingRules struct {
	MaxDuration time.Duration // Longest stay or rental
	MaxAdvance  time.Duration // How far ahead the window may start
	MaxQuantity int           // Units per booking
}

// DefaultBookingRules returns the limits for every service type
func DefaultBookingRules() map[models.ServiceType]BookingRules {
	return map[models.ServiceType]BookingRules{
		models.ServiceHotelRoom:  {MaxDuration: 30 * day},
		models.ServiceCar:        {MaxDuration: 90 * day},
		models.ServiceBusSeat:    {MaxAdvance: 120 * day, MaxQuantity: 6},
		models.ServiceTrainBerth: {MaxAdvance: 120 * day, MaxQuantity: 6},
	}
}

// BookingValidator validates a booking request against the unit's service rules
type BookingValidator struct {
	rules map[models.ServiceType]BookingRules
}

// NewBookingValidator creates a new validator. nil rules selects DefaultBookingRules.
func NewBookingValidator(rules map[models.ServiceType]BookingRules) *BookingValidator {
	if rules == nil {
		rules = DefaultBookingRules()
	}
	return &BookingValidator{rules: rules}
}

// Validate checks window and quantity for unit at now
// Rules:
// 1. Quantity is at least 1 and within the per-booking maximum
// 2. The window does not start in the past
// 3. Stays and rentals stay under their maximum length
// 4. Trips are not booked too far ahead
func (v *BookingValidator) Validate(unit *models.InventoryUnit, window models.TimeWindow, quantity int, now time.Time) error {
	if quantity < 1 {
		return fmt.Errorf("%w: at least one unit is required", models.ErrInvalidQuantity)
	}
	if err := window.Validate(); err != nil {
		return err
	}

	rules := v.rules[unit.ServiceType]

	if rules.MaxQuantity > 0 && quantity > rules.MaxQuantity {
		return fmt.Errorf("%w: maximum %d per booking", models.ErrInvalidQuantity, rules.MaxQuantity)
	}

	if window.Start.Before(now) {
		return fmt.Errorf("%w: %s cannot be in the past", models.ErrBookingRule, startLabel(unit.ServiceType))
	}

	if rules.MaxDuration > 0 && window.Duration() > rules.MaxDuration {
		return fmt.Errorf("%w: maximum %s is %d days", models.ErrBookingRule,
			durationLabel(unit.ServiceType), int(rules.MaxDuration/day))
	}

	if rules.MaxAdvance > 0 && window.Start.After(now.Add(rules.MaxAdvance)) {
		return fmt.Errorf("%w: maximum advance booking is %d days", models.ErrBookingRule, int(rules.MaxAdvance/day))
	}

	return nil
}

func startLabel(s models.ServiceType) string {
	switch s {
	case models.ServiceHotelRoom:
		return "check-in"
	case models.ServiceCar:
		return "pick-up"
	default:
		return "departure"
	}
}

func durationLabel(s models.ServiceType) string {
	if s == models.ServiceCar {
		return "rental period"
	}
	return "stay"
}
