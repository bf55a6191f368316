package repository

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/travelhub/reservation-core/internal/models"
)

// Transactor runs fn inside the atomic section of one inventory unit.
// Everything fn does through the repositories below commits or rolls back together,
// and sections for the same unit never interleave. Sections for different units run in parallel.
type Transactor interface {
	WithinUnit(ctx context.Context, unitID string, fn func(ctx context.Context) error) error
}

// InventoryUnitRepository stores versioned capacity snapshots
type InventoryUnitRepository interface {
	// Publish stores unit as the next version of unit.ID and sets unit.Version
	Publish(ctx context.Context, unit *models.InventoryUnit) error
	// GetCurrent returns the latest version or models.ErrUnitNotFound
	GetCurrent(ctx context.Context, unitID string) (*models.InventoryUnit, error)
	ListVersions(ctx context.Context, unitID string) ([]models.InventoryUnit, error)
}

// HoldRepository stores holds
type HoldRepository interface {
	Create(ctx context.Context, hold *models.Hold) error
	// GetByID returns models.ErrHoldNotFound when missing
	GetByID(ctx context.Context, id uuid.UUID) (*models.Hold, error)
	// ListCounting returns active, unexpired holds on unitID overlapping window
	ListCounting(ctx context.Context, unitID string, window models.TimeWindow, now time.Time) ([]models.Hold, error)
	// UpdateState moves a hold from one state to another and reports whether it did.
	// It is a compare-and-set: a hold not currently in from is left untouched.
	UpdateState(ctx context.Context, id uuid.UUID, from, to models.HoldState, at time.Time) (bool, error)
	// ListExpired returns active holds whose TTL passed at now
	ListExpired(ctx context.Context, now time.Time, limit int) ([]models.Hold, error)
	// ListOrphanedConverted returns converted holds that have no reservation
	ListOrphanedConverted(ctx context.Context, limit int) ([]models.Hold, error)
	// PurgeResolved deletes released and expired holds resolved before cutoff
	PurgeResolved(ctx context.Context, cutoff time.Time) (int, error)
}

// ReservationRepository is the append-only ledger store
type ReservationRepository interface {
	// Create inserts the reservation with its creation event.
	// A reused reference returns models.ErrDuplicateReference.
	Create(ctx context.Context, reservation *models.Reservation, created models.ReservationEvent) error
	// GetByReference returns the reservation with Status projected from its latest event
	GetByReference(ctx context.Context, reference string) (*models.Reservation, error)
	// ListCapacityHolding returns overlapping reservations whose current status holds capacity
	ListCapacityHolding(ctx context.Context, unitID string, window models.TimeWindow) ([]models.Reservation, error)
	// AppendEvent adds the next event. event.Sequence must be the latest sequence + 1.
	AppendEvent(ctx context.Context, event models.ReservationEvent) error
	ListEvents(ctx context.Context, reference string) ([]models.ReservationEvent, error)
	ListByHolder(ctx context.Context, holderID string, limit, offset int) ([]models.Reservation, error)
	// ListPendingCreatedBefore returns pending_payment reservations created before cutoff, oldest first
	ListPendingCreatedBefore(ctx context.Context, cutoff time.Time, limit int) ([]models.Reservation, error)
}

// Store bundles the repositories sharing one transactional boundary
type Store interface {
	Transactor
	Units() InventoryUnitRepository
	Holds() HoldRepository
	Reservations() ReservationRepository
}
