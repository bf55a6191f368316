package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/shopspring/decimal"
	"github.com/travelhub/reservation-core/internal/models"
)

type reservationRow struct {
	Reference   string          `db:"reference"`
	HoldID      uuid.UUID       `db:"hold_id"`
	UnitID      string          `db:"unit_id"`
	UnitVersion int             `db:"unit_version"`
	ServiceType string          `db:"service_type"`
	WindowStart time.Time       `db:"window_start"`
	WindowEnd   time.Time       `db:"window_end"`
	Quantity    int             `db:"quantity"`
	HolderID    string          `db:"holder_id"`
	Amount      decimal.Decimal `db:"amount"`
	Currency    string          `db:"currency"`
	Status      string          `db:"status"`
	CreatedAt   time.Time       `db:"created_at"`
}

func (r reservationRow) toModel() models.Reservation {
	return models.Reservation{
		Reference:   r.Reference,
		HoldID:      r.HoldID,
		UnitID:      r.UnitID,
		UnitVersion: r.UnitVersion,
		ServiceType: models.ServiceType(r.ServiceType),
		Window:      models.TimeWindow{Start: r.WindowStart.UTC(), End: r.WindowEnd.UTC()},
		Quantity:    r.Quantity,
		HolderID:    r.HolderID,
		Amount:      r.Amount,
		Currency:    r.Currency,
		Status:      models.ReservationStatus(r.Status),
		CreatedAt:   r.CreatedAt.UTC(),
	}
}

type reservationEventRow struct {
	Reference    string              `db:"reference"`
	Sequence     int                 `db:"sequence"`
	FromStatus   sql.NullString      `db:"from_status"`
	ToStatus     string              `db:"to_status"`
	Reason       string              `db:"reason"`
	RefundAmount decimal.NullDecimal `db:"refund_amount"`
	ActorID      string              `db:"actor_id"`
	CreatedAt    time.Time           `db:"created_at"`
}

func (r reservationEventRow) toModel() models.ReservationEvent {
	ev := models.ReservationEvent{
		Reference:  r.Reference,
		Sequence:   r.Sequence,
		FromStatus: models.ReservationStatus(r.FromStatus.String),
		ToStatus:   models.ReservationStatus(r.ToStatus),
		Reason:     r.Reason,
		ActorID:    r.ActorID,
		CreatedAt:  r.CreatedAt.UTC(),
	}
	if r.RefundAmount.Valid {
		amount := r.RefundAmount.Decimal
		ev.RefundAmount = &amount
	}
	return ev
}

func eventArgs(ev models.ReservationEvent) []interface{} {
	from := sql.NullString{String: string(ev.FromStatus), Valid: ev.FromStatus != ""}
	refund := decimal.NullDecimal{}
	if ev.RefundAmount != nil {
		refund = decimal.NewNullDecimal(*ev.RefundAmount)
	}
	return []interface{}{ev.Reference, ev.Sequence, from, ev.ToStatus, ev.Reason, refund, ev.ActorID, ev.CreatedAt}
}

const reservationCurrentColumns = `reference, hold_id, unit_id, unit_version, service_type,
	window_start, window_end, quantity, holder_id, amount, currency, status, created_at`

// ReservationRepository handles the reservation ledger tables
type ReservationRepository struct {
	db DB
}

// NewReservationRepository creates a new ReservationRepository
func NewReservationRepository(db DB) *ReservationRepository {
	return &ReservationRepository{db: db}
}

// Create inserts an immutable reservation row and its first event
func (r *ReservationRepository) Create(ctx context.Context, res *models.Reservation, created models.ReservationEvent) error {
	q := ext(ctx, r.db)

	_, err := q.ExecContext(ctx, `
		INSERT INTO reservations (
			reference, hold_id, unit_id, unit_version, service_type,
			window_start, window_end, quantity, holder_id, amount, currency, created_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)`,
		res.Reference,
		res.HoldID,
		res.UnitID,
		res.UnitVersion,
		res.ServiceType,
		res.Window.Start,
		res.Window.End,
		res.Quantity,
		res.HolderID,
		res.Amount,
		res.Currency,
		res.CreatedAt,
	)
	if err != nil {
		switch {
		case isUniqueViolation(err, "reservations_pkey"):
			return fmt.Errorf("%w: %s", models.ErrDuplicateReference, res.Reference)
		case isUniqueViolation(err, "reservations_hold_id_key"):
			return fmt.Errorf("%w: hold %s already backs a reservation", models.ErrIntegrityViolation, res.HoldID)
		}
		return fmt.Errorf("failed to create reservation: %w", err)
	}

	_, err = q.ExecContext(ctx, `
		INSERT INTO reservation_events (
			reference, sequence, from_status, to_status, reason, refund_amount, actor_id, created_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		eventArgs(created)...,
	)
	if err != nil {
		return fmt.Errorf("failed to record reservation event: %w", err)
	}
	return nil
}

// GetByReference returns the reservation with its current status
func (r *ReservationRepository) GetByReference(ctx context.Context, reference string) (*models.Reservation, error) {
	query := `SELECT ` + reservationCurrentColumns + ` FROM reservation_current WHERE reference = $1`

	var row reservationRow
	if err := sqlx.GetContext(ctx, ext(ctx, r.db), &row, query, reference); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("%w: %s", models.ErrReservationNotFound, reference)
		}
		return nil, fmt.Errorf("failed to get reservation: %w", err)
	}
	res := row.toModel()
	return &res, nil
}

// ListCapacityHolding returns overlapping pending_payment and confirmed reservations
func (r *ReservationRepository) ListCapacityHolding(ctx context.Context, unitID string, window models.TimeWindow) ([]models.Reservation, error) {
	query := `SELECT ` + reservationCurrentColumns + `
		FROM reservation_current
		WHERE unit_id = $1
		  AND status IN ('pending_payment', 'confirmed')
		  AND window_start < $3
		  AND $2 < window_end`

	var rows []reservationRow
	if err := sqlx.SelectContext(ctx, ext(ctx, r.db), &rows, query, unitID, window.Start, window.End); err != nil {
		return nil, fmt.Errorf("failed to list capacity holding reservations: %w", err)
	}
	return reservationModels(rows), nil
}

// AppendEvent inserts event only when it directly follows the latest sequence
func (r *ReservationRepository) AppendEvent(ctx context.Context, event models.ReservationEvent) error {
	q := ext(ctx, r.db)

	result, err := q.ExecContext(ctx, `
		INSERT INTO reservation_events (
			reference, sequence, from_status, to_status, reason, refund_amount, actor_id, created_at
		)
		SELECT $1::text, $2::int, $3::reservation_status, $4::reservation_status,
		       $5::text, $6::numeric, $7::text, $8::timestamptz
		WHERE $2::int = (
			SELECT COALESCE(MAX(sequence), 0) + 1 FROM reservation_events WHERE reference = $1::text
		)`,
		eventArgs(event)...,
	)
	if err != nil {
		if isUniqueViolation(err, "reservation_events_pkey") {
			return fmt.Errorf("%w: sequence %d already recorded for %s", models.ErrInvalidTransition, event.Sequence, event.Reference)
		}
		return fmt.Errorf("failed to append reservation event: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read affected rows: %w", err)
	}
	if affected > 0 {
		return nil
	}

	var exists bool
	if err := sqlx.GetContext(ctx, q, &exists, `SELECT EXISTS (SELECT 1 FROM reservations WHERE reference = $1)`, event.Reference); err != nil {
		return fmt.Errorf("failed to check reservation: %w", err)
	}
	if !exists {
		return fmt.Errorf("%w: %s", models.ErrReservationNotFound, event.Reference)
	}
	return fmt.Errorf("%w: sequence %d does not follow the latest event of %s", models.ErrInvalidTransition, event.Sequence, event.Reference)
}

// ListEvents returns the full history in order
func (r *ReservationRepository) ListEvents(ctx context.Context, reference string) ([]models.ReservationEvent, error) {
	query := `
		SELECT reference, sequence, from_status, to_status, reason, refund_amount, actor_id, created_at
		FROM reservation_events
		WHERE reference = $1
		ORDER BY sequence ASC`

	var rows []reservationEventRow
	if err := sqlx.SelectContext(ctx, ext(ctx, r.db), &rows, query, reference); err != nil {
		return nil, fmt.Errorf("failed to list reservation events: %w", err)
	}
	if len(rows) == 0 {
		return nil, fmt.Errorf("%w: %s", models.ErrReservationNotFound, reference)
	}
	events := make([]models.ReservationEvent, 0, len(rows))
	for _, row := range rows {
		events = append(events, row.toModel())
	}
	return events, nil
}

// ListByHolder returns a holder's reservations, newest first
func (r *ReservationRepository) ListByHolder(ctx context.Context, holderID string, limit, offset int) ([]models.Reservation, error) {
	query := `SELECT ` + reservationCurrentColumns + `
		FROM reservation_current
		WHERE holder_id = $1
		ORDER BY created_at DESC, reference ASC
		LIMIT $2 OFFSET $3`

	var rows []reservationRow
	if err := sqlx.SelectContext(ctx, ext(ctx, r.db), &rows, query, holderID, limit, offset); err != nil {
		return nil, fmt.Errorf("failed to list reservations: %w", err)
	}
	return reservationModels(rows), nil
}

// ListPendingCreatedBefore returns unsettled pay-later reservations older than cutoff
func (r *ReservationRepository) ListPendingCreatedBefore(ctx context.Context, cutoff time.Time, limit int) ([]models.Reservation, error) {
	query := `SELECT ` + reservationCurrentColumns + `
		FROM reservation_current
		WHERE status = 'pending_payment'
		  AND created_at < $1
		ORDER BY created_at ASC, reference ASC
		LIMIT $2`

	var rows []reservationRow
	if err := sqlx.SelectContext(ctx, ext(ctx, r.db), &rows, query, cutoff, limit); err != nil {
		return nil, fmt.Errorf("failed to list pending reservations: %w", err)
	}
	return reservationModels(rows), nil
}

func reservationModels(rows []reservationRow) []models.Reservation {
	out := make([]models.Reservation, 0, len(rows))
	for _, row := range rows {
		out = append(out, row.toModel())
	}
	return out
}
