package database

import "github.com/travelhub/reservation-core/internal/repository"

// Store is the Postgres implementation of repository.Store
type Store struct {
	*Transactor
	units        *InventoryUnitRepository
	holds        *HoldRepository
	reservations *ReservationRepository
}

// NewStore wires the Postgres repositories around one connection pool
func NewStore(db DB) *Store {
	return &Store{
		Transactor:   NewTransactor(db),
		units:        NewInventoryUnitRepository(db),
		holds:        NewHoldRepository(db),
		reservations: NewReservationRepository(db),
	}
}

func (s *Store) Units() repository.InventoryUnitRepository { return s.units }

func (s *Store) Holds() repository.HoldRepository { return s.holds }

func (s *Store) Reservations() repository.ReservationRepository { return s.reservations }
