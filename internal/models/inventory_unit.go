package models

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// ============================================================================
// SERVICE TYPES
// ============================================================================

// ServiceType identifies which inventory pool a unit belongs to
type ServiceType string

const (
	ServiceHotelRoom  ServiceType = "hotel_room"
	ServiceCar        ServiceType = "car"
	ServiceBusSeat    ServiceType = "bus_seat"
	ServiceTrainBerth ServiceType = "train_berth"
)

// Valid reports whether the service type is one of the known pools
func (s ServiceType) Valid() bool {
	switch s {
	case ServiceHotelRoom, ServiceCar, ServiceBusSeat, ServiceTrainBerth:
		return true
	}
	return false
}

// IsTrip reports whether a window for this service is a single trip occurrence
func (s ServiceType) IsTrip() bool {
	return s == ServiceBusSeat || s == ServiceTrainBerth
}

// ============================================================================
// INVENTORY UNIT (inventory_units table)
// ============================================================================

// InventoryUnit is a published capacity snapshot for a bookable resource.
// Snapshots are immutable: a capacity change is a new row with Version+1.
type InventoryUnit struct {
	ID          string          `json:"id" db:"id"`
	Version     int             `json:"version" db:"version"`
	ServiceType ServiceType     `json:"service_type" db:"service_type"`
	ResourceID  string          `json:"resource_id" db:"resource_id"`
	Name        string          `json:"name" db:"name"`
	Capacity    int             `json:"capacity" db:"capacity"`
	Validity    TimeWindow      `json:"validity"`
	Rate        decimal.Decimal `json:"rate" db:"rate"`
	Currency    string          `json:"currency" db:"currency"`
	PublishedAt time.Time       `json:"published_at" db:"published_at"`
}

// Validate checks a snapshot before publication
func (u *InventoryUnit) Validate() error {
	if u.ID == "" {
		return fmt.Errorf("%w: unit id is required", ErrUnitNotFound)
	}
	if !u.ServiceType.Valid() {
		return fmt.Errorf("%w: %q", ErrInvalidServiceType, u.ServiceType)
	}
	if u.Capacity < 0 {
		return fmt.Errorf("%w: capacity must not be negative", ErrInvalidCapacity)
	}
	if u.Rate.IsNegative() {
		return fmt.Errorf("%w: rate must not be negative", ErrInvalidRate)
	}
	return u.Validity.Validate()
}

// BillablePeriods returns how many rate periods a window costs on this unit
func (u *InventoryUnit) BillablePeriods(window TimeWindow) int {
	if u.ServiceType.IsTrip() {
		return 1
	}
	return window.Days()
}

// Price returns Rate * quantity * billable periods
func (u *InventoryUnit) Price(window TimeWindow, quantity int) decimal.Decimal {
	return u.Rate.
		Mul(decimal.NewFromInt(int64(quantity))).
		Mul(decimal.NewFromInt(int64(u.BillablePeriods(window)))).
		Round(2)
}

// PublishUnitRequest is the admin payload for publishing a new snapshot
type PublishUnitRequest struct {
	ServiceType   ServiceType `json:"service_type" binding:"required"`
	ResourceID    string      `json:"resource_id" binding:"required"`
	Name          string      `json:"name"`
	Capacity      int         `json:"capacity" binding:"min=0"`
	ValidityStart time.Time   `json:"validity_start" binding:"required"`
	ValidityEnd   time.Time   `json:"validity_end" binding:"required"`
	Rate          string      `json:"rate" binding:"required"`
	Currency      string      `json:"currency"`
}
