package repository

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/travelhub/reservation-core/internal/models"
)

// ErrCrossUnitSection is returned when code inside WithinUnit touches another unit
var ErrCrossUnitSection = errors.New("operation targets a unit outside the enclosing section")

// MemoryStore is the in-process Store used by STORAGE_DRIVER=memory and by tests.
//
// Every unit owns a published, never-mutated state. WithinUnit serializes sections per unit
// with a dedicated mutex, stages writes on a clone and swaps the clone in when fn succeeds,
// so a failing section leaves nothing behind.
type MemoryStore struct {
	mu       sync.RWMutex
	units    map[string]*unitState
	locks    map[string]*sync.Mutex
	holdUnit map[uuid.UUID]string
	refUnit  map[string]string
}

type unitState struct {
	versions     []models.InventoryUnit
	holds        map[uuid.UUID]models.Hold
	reservations map[string]models.Reservation
	events       map[string][]models.ReservationEvent
}

func newUnitState() *unitState {
	return &unitState{
		holds:        make(map[uuid.UUID]models.Hold),
		reservations: make(map[string]models.Reservation),
		events:       make(map[string][]models.ReservationEvent),
	}
}

func (u *unitState) clone() *unitState {
	c := &unitState{
		versions:     u.versions,
		holds:        make(map[uuid.UUID]models.Hold, len(u.holds)),
		reservations: make(map[string]models.Reservation, len(u.reservations)),
		events:       make(map[string][]models.ReservationEvent, len(u.events)),
	}
	for k, v := range u.holds {
		c.holds[k] = v
	}
	for k, v := range u.reservations {
		c.reservations[k] = v
	}
	for k, v := range u.events {
		c.events[k] = v
	}
	return c
}

// project returns the reservation with Status taken from its latest event
func (u *unitState) project(reference string) (models.Reservation, bool) {
	r, ok := u.reservations[reference]
	if !ok {
		return models.Reservation{}, false
	}
	if evs := u.events[reference]; len(evs) > 0 {
		r.Status = evs[len(evs)-1].ToStatus
	}
	return r, true
}

type memTx struct {
	unitID   string
	state    *unitState
	newHolds []uuid.UUID
	newRefs  []string
	purged   []uuid.UUID
}

type memTxKey struct{}

func memTxFromContext(ctx context.Context) *memTx {
	tx, _ := ctx.Value(memTxKey{}).(*memTx)
	return tx
}

// NewMemoryStore creates an empty store
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		units:    make(map[string]*unitState),
		locks:    make(map[string]*sync.Mutex),
		holdUnit: make(map[uuid.UUID]string),
		refUnit:  make(map[string]string),
	}
}

func (s *MemoryStore) Units() InventoryUnitRepository { return memoryUnits{s} }
func (s *MemoryStore) Holds() HoldRepository { return memoryHolds{s} }
func (s *MemoryStore) Reservations() ReservationRepository { return memoryReservations{s} }

// WithinUnit implements Transactor. A nested call for the same unit joins the enclosing section.
func (s *MemoryStore) WithinUnit(ctx context.Context, unitID string, fn func(ctx context.Context) error) error {
	if tx := memTxFromContext(ctx); tx != nil {
		if tx.unitID != unitID {
			return fmt.Errorf("%w: %s inside section of %s", ErrCrossUnitSection, unitID, tx.unitID)
		}
		return fn(ctx)
	}

	lock := s.unitLock(unitID)
	lock.Lock()
	defer lock.Unlock()

	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.RLock()
	current := s.units[unitID]
	s.mu.RUnlock()
	if current == nil {
		current = newUnitState()
	}

	tx := &memTx{unitID: unitID, state: current.clone()}
	ctx, committed := WithCommitHooks(context.WithValue(ctx, memTxKey{}, tx))
	if err := fn(ctx); err != nil {
		return err
	}
	if err := s.commit(tx); err != nil {
		return err
	}
	committed()
	return nil
}

func (s *MemoryStore) commit(tx *memTx) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	// References are unique across units, which the per-unit lock alone cannot see
	for _, ref := range tx.newRefs {
		if owner, ok := s.refUnit[ref]; ok {
			return fmt.Errorf("%w: %s already issued on unit %s", models.ErrDuplicateReference, ref, owner)
		}
	}

	s.units[tx.unitID] = tx.state
	for _, id := range tx.newHolds {
		s.holdUnit[id] = tx.unitID
	}
	for _, ref := range tx.newRefs {
		s.refUnit[ref] = tx.unitID
	}
	for _, id := range tx.purged {
		delete(s.holdUnit, id)
	}
	return nil
}

func (s *MemoryStore) unitLock(unitID string) *sync.Mutex {
	s.mu.Lock()
	defer s.mu.Unlock()
	l, ok := s.locks[unitID]
	if !ok {
		l = &sync.Mutex{}
		s.locks[unitID] = l
	}
	return l
}

// read returns the state a caller should see: the staged state inside a section, else the published one
func (s *MemoryStore) read(ctx context.Context, unitID string) *unitState {
	if tx := memTxFromContext(ctx); tx != nil && tx.unitID == unitID {
		return tx.state
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	if st := s.units[unitID]; st != nil {
		return st
	}
	return newUnitState()
}

func (s *MemoryStore) write(ctx context.Context, unitID string, fn func(tx *memTx) error) error {
	return s.WithinUnit(ctx, unitID, func(ctx context.Context) error {
		return fn(memTxFromContext(ctx))
	})
}

func (s *MemoryStore) unitIDs(ctx context.Context) []string {
	if tx := memTxFromContext(ctx); tx != nil {
		return []string{tx.unitID}
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	ids := make([]string, 0, len(s.units))
	for id := range s.units {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

func (s *MemoryStore) unitOfHold(ctx context.Context, id uuid.UUID) (string, bool) {
	if tx := memTxFromContext(ctx); tx != nil {
		if _, ok := tx.state.holds[id]; ok {
			return tx.unitID, true
		}
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	unitID, ok := s.holdUnit[id]
	return unitID, ok
}

func (s *MemoryStore) unitOfReference(ctx context.Context, reference string) (string, bool) {
	if tx := memTxFromContext(ctx); tx != nil {
		if _, ok := tx.state.reservations[reference]; ok {
			return tx.unitID, true
		}
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	unitID, ok := s.refUnit[reference]
	return unitID, ok
}

// ===== INVENTORY UNITS =====

type memoryUnits struct{ s *MemoryStore }

func (r memoryUnits) Publish(ctx context.Context, unit *models.InventoryUnit) error {
	return r.s.write(ctx, unit.ID, func(tx *memTx) error {
		unit.Version = len(tx.state.versions) + 1
		versions := make([]models.InventoryUnit, len(tx.state.versions), len(tx.state.versions)+1)
		copy(versions, tx.state.versions)
		tx.state.versions = append(versions, *unit)
		return nil
	})
}

func (r memoryUnits) GetCurrent(ctx context.Context, unitID string) (*models.InventoryUnit, error) {
	st := r.s.read(ctx, unitID)
	if len(st.versions) == 0 {
		return nil, fmt.Errorf("%w: %s", models.ErrUnitNotFound, unitID)
	}
	u := st.versions[len(st.versions)-1]
	return &u, nil
}

func (r memoryUnits) ListVersions(ctx context.Context, unitID string) ([]models.InventoryUnit, error) {
	st := r.s.read(ctx, unitID)
	return append([]models.InventoryUnit(nil), st.versions...), nil
}

// ===== HOLDS =====

type memoryHolds struct{ s *MemoryStore }

func (r memoryHolds) Create(ctx context.Context, hold *models.Hold) error {
	if _, exists := r.s.unitOfHold(ctx, hold.ID); exists {
		return fmt.Errorf("%w: hold %s already exists", models.ErrIntegrityViolation, hold.ID)
	}
	return r.s.write(ctx, hold.UnitID, func(tx *memTx) error {
		tx.state.holds[hold.ID] = *hold
		tx.newHolds = append(tx.newHolds, hold.ID)
		return nil
	})
}

func (r memoryHolds) GetByID(ctx context.Context, id uuid.UUID) (*models.Hold, error) {
	unitID, ok := r.s.unitOfHold(ctx, id)
	if !ok {
		return nil, fmt.Errorf("%w: %s", models.ErrHoldNotFound, id)
	}
	h, ok := r.s.read(ctx, unitID).holds[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", models.ErrHoldNotFound, id)
	}
	return &h, nil
}

func (r memoryHolds) ListCounting(ctx context.Context, unitID string, window models.TimeWindow, now time.Time) ([]models.Hold, error) {
	var out []models.Hold
	for _, h := range r.s.read(ctx, unitID).holds {
		if h.CountsAt(now) && h.Window.Overlaps(window) {
			out = append(out, h)
		}
	}
	return out, nil
}

func (r memoryHolds) UpdateState(ctx context.Context, id uuid.UUID, from, to models.HoldState, at time.Time) (bool, error) {
	unitID, ok := r.s.unitOfHold(ctx, id)
	if !ok {
		return false, fmt.Errorf("%w: %s", models.ErrHoldNotFound, id)
	}
	updated := false
	err := r.s.write(ctx, unitID, func(tx *memTx) error {
		h, ok := tx.state.holds[id]
		if !ok {
			return fmt.Errorf("%w: %s", models.ErrHoldNotFound, id)
		}
		if h.State != from {
			return nil
		}
		resolved := at
		h.State = to
		h.ResolvedAt = &resolved
		tx.state.holds[id] = h
		updated = true
		return nil
	})
	return updated, err
}

func (r memoryHolds) ListExpired(ctx context.Context, now time.Time, limit int) ([]models.Hold, error) {
	var out []models.Hold
	for _, unitID := range r.s.unitIDs(ctx) {
		for _, h := range r.s.read(ctx, unitID).holds {
			if h.State == models.HoldActive && h.IsExpiredAt(now) {
				out = append(out, h)
			}
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ExpiresAt.Before(out[j].ExpiresAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (r memoryHolds) ListOrphanedConverted(ctx context.Context, limit int) ([]models.Hold, error) {
	var out []models.Hold
	for _, unitID := range r.s.unitIDs(ctx) {
		st := r.s.read(ctx, unitID)
		converted := make(map[uuid.UUID]bool)
		for _, res := range st.reservations {
			converted[res.HoldID] = true
		}
		for _, h := range st.holds {
			if h.State == models.HoldConverted && !converted[h.ID] {
				out = append(out, h)
			}
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (r memoryHolds) PurgeResolved(ctx context.Context, cutoff time.Time) (int, error) {
	total := 0
	for _, unitID := range r.s.unitIDs(ctx) {
		err := r.s.write(ctx, unitID, func(tx *memTx) error {
			for id, h := range tx.state.holds {
				if h.State != models.HoldReleased && h.State != models.HoldExpired {
					continue
				}
				if h.ResolvedAt == nil || !h.ResolvedAt.Before(cutoff) {
					continue
				}
				delete(tx.state.holds, id)
				tx.purged = append(tx.purged, id)
				total++
			}
			return nil
		})
		if err != nil {
			return total, err
		}
	}
	return total, nil
}

// ===== RESERVATIONS =====

type memoryReservations struct{ s *MemoryStore }

func (r memoryReservations) Create(ctx context.Context, reservation *models.Reservation, created models.ReservationEvent) error {
	if _, exists := r.s.unitOfReference(ctx, reservation.Reference); exists {
		return fmt.Errorf("%w: %s", models.ErrDuplicateReference, reservation.Reference)
	}
	return r.s.write(ctx, reservation.UnitID, func(tx *memTx) error {
		for _, existing := range tx.state.reservations {
			if existing.HoldID == reservation.HoldID {
				return fmt.Errorf("%w: hold %s already backs reservation %s",
					models.ErrIntegrityViolation, reservation.HoldID, existing.Reference)
			}
		}
		tx.state.reservations[reservation.Reference] = *reservation
		tx.state.events[reservation.Reference] = []models.ReservationEvent{created}
		tx.newRefs = append(tx.newRefs, reservation.Reference)
		return nil
	})
}

func (r memoryReservations) GetByReference(ctx context.Context, reference string) (*models.Reservation, error) {
	unitID, ok := r.s.unitOfReference(ctx, reference)
	if !ok {
		return nil, fmt.Errorf("%w: %s", models.ErrReservationNotFound, reference)
	}
	res, ok := r.s.read(ctx, unitID).project(reference)
	if !ok {
		return nil, fmt.Errorf("%w: %s", models.ErrReservationNotFound, reference)
	}
	return &res, nil
}

func (r memoryReservations) ListCapacityHolding(ctx context.Context, unitID string, window models.TimeWindow) ([]models.Reservation, error) {
	st := r.s.read(ctx, unitID)
	var out []models.Reservation
	for ref := range st.reservations {
		res, _ := st.project(ref)
		if res.Status.HoldsCapacity() && res.Window.Overlaps(window) {
			out = append(out, res)
		}
	}
	return out, nil
}

func (r memoryReservations) AppendEvent(ctx context.Context, event models.ReservationEvent) error {
	unitID, ok := r.s.unitOfReference(ctx, event.Reference)
	if !ok {
		return fmt.Errorf("%w: %s", models.ErrReservationNotFound, event.Reference)
	}
	return r.s.write(ctx, unitID, func(tx *memTx) error {
		evs := tx.state.events[event.Reference]
		if len(evs) == 0 {
			return fmt.Errorf("%w: %s", models.ErrReservationNotFound, event.Reference)
		}
		if last := evs[len(evs)-1]; event.Sequence != last.Sequence+1 {
			return fmt.Errorf("%w: sequence %d does not follow %d", models.ErrInvalidTransition, event.Sequence, last.Sequence)
		}
		next := make([]models.ReservationEvent, len(evs), len(evs)+1)
		copy(next, evs)
		tx.state.events[event.Reference] = append(next, event)
		return nil
	})
}

func (r memoryReservations) ListEvents(ctx context.Context, reference string) ([]models.ReservationEvent, error) {
	unitID, ok := r.s.unitOfReference(ctx, reference)
	if !ok {
		return nil, fmt.Errorf("%w: %s", models.ErrReservationNotFound, reference)
	}
	return append([]models.ReservationEvent(nil), r.s.read(ctx, unitID).events[reference]...), nil
}

func (r memoryReservations) ListByHolder(ctx context.Context, holderID string, limit, offset int) ([]models.Reservation, error) {
	var out []models.Reservation
	for _, unitID := range r.s.unitIDs(ctx) {
		st := r.s.read(ctx, unitID)
		for ref, res := range st.reservations {
			if res.HolderID != holderID {
				continue
			}
			projected, _ := st.project(ref)
			out = append(out, projected)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].Reference < out[j].Reference
		}
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	if offset >= len(out) {
		return []models.Reservation{}, nil
	}
	out = out[offset:]
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (r memoryReservations) ListPendingCreatedBefore(ctx context.Context, cutoff time.Time, limit int) ([]models.Reservation, error) {
	var out []models.Reservation
	for _, unitID := range r.s.unitIDs(ctx) {
		st := r.s.read(ctx, unitID)
		for ref, res := range st.reservations {
			if !res.CreatedAt.Before(cutoff) {
				continue
			}
			if projected, _ := st.project(ref); projected.Status == models.ReservationPendingPayment {
				out = append(out, projected)
			}
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].Reference < out[j].Reference
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}
