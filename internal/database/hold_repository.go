package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/travelhub/reservation-core/internal/models"
)

type holdRow struct {
	ID          uuid.UUID    `db:"id"`
	UnitID      string       `db:"unit_id"`
	UnitVersion int          `db:"unit_version"`
	WindowStart time.Time    `db:"window_start"`
	WindowEnd   time.Time    `db:"window_end"`
	Quantity    int          `db:"quantity"`
	HolderID    string       `db:"holder_id"`
	State       string       `db:"state"`
	ExpiresAt   time.Time    `db:"expires_at"`
	CreatedAt   time.Time    `db:"created_at"`
	ResolvedAt  sql.NullTime `db:"resolved_at"`
}

func (r holdRow) toModel() models.Hold {
	h := models.Hold{
		ID:          r.ID,
		UnitID:      r.UnitID,
		UnitVersion: r.UnitVersion,
		Window:      models.TimeWindow{Start: r.WindowStart.UTC(), End: r.WindowEnd.UTC()},
		Quantity:    r.Quantity,
		HolderID:    r.HolderID,
		State:       models.HoldState(r.State),
		ExpiresAt:   r.ExpiresAt.UTC(),
		CreatedAt:   r.CreatedAt.UTC(),
	}
	if r.ResolvedAt.Valid {
		resolved := r.ResolvedAt.Time.UTC()
		h.ResolvedAt = &resolved
	}
	return h
}

func holdModels(rows []holdRow) []models.Hold {
	holds := make([]models.Hold, 0, len(rows))
	for _, row := range rows {
		holds = append(holds, row.toModel())
	}
	return holds
}

const holdColumns = `id, unit_id, unit_version, window_start, window_end, quantity,
	holder_id, state, expires_at, created_at, resolved_at`

// HoldRepository handles holds persistence
type HoldRepository struct {
	db DB
}

// NewHoldRepository creates a new HoldRepository
func NewHoldRepository(db DB) *HoldRepository {
	return &HoldRepository{db: db}
}

// Create inserts a new hold
func (r *HoldRepository) Create(ctx context.Context, hold *models.Hold) error {
	query := `
		INSERT INTO holds (` + holdColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`

	_, err := ext(ctx, r.db).ExecContext(ctx, query,
		hold.ID,
		hold.UnitID,
		hold.UnitVersion,
		hold.Window.Start,
		hold.Window.End,
		hold.Quantity,
		hold.HolderID,
		hold.State,
		hold.ExpiresAt,
		hold.CreatedAt,
		hold.ResolvedAt,
	)
	if err != nil {
		if isUniqueViolation(err, "holds_pkey") {
			return fmt.Errorf("%w: hold %s already exists", models.ErrIntegrityViolation, hold.ID)
		}
		return fmt.Errorf("failed to create hold: %w", err)
	}
	return nil
}

// GetByID retrieves a hold by ID
func (r *HoldRepository) GetByID(ctx context.Context, id uuid.UUID) (*models.Hold, error) {
	query := `SELECT ` + holdColumns + ` FROM holds WHERE id = $1`

	var row holdRow
	if err := sqlx.GetContext(ctx, ext(ctx, r.db), &row, query, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("%w: %s", models.ErrHoldNotFound, id)
		}
		return nil, fmt.Errorf("failed to get hold: %w", err)
	}
	hold := row.toModel()
	return &hold, nil
}

// ListCounting returns live holds overlapping window
func (r *HoldRepository) ListCounting(ctx context.Context, unitID string, window models.TimeWindow, now time.Time) ([]models.Hold, error) {
	query := `SELECT ` + holdColumns + `
		FROM holds
		WHERE unit_id = $1
		  AND state = 'active'
		  AND expires_at > $2
		  AND window_start < $4
		  AND $3 < window_end`

	var rows []holdRow
	if err := sqlx.SelectContext(ctx, ext(ctx, r.db), &rows, query, unitID, now, window.Start, window.End); err != nil {
		return nil, fmt.Errorf("failed to list counting holds: %w", err)
	}
	return holdModels(rows), nil
}

// UpdateState moves a hold from one state to another if it is still in from
func (r *HoldRepository) UpdateState(ctx context.Context, id uuid.UUID, from, to models.HoldState, at time.Time) (bool, error) {
	q := ext(ctx, r.db)
	result, err := q.ExecContext(ctx, `
		UPDATE holds
		SET state = $3, resolved_at = $4
		WHERE id = $1 AND state = $2`,
		id, from, to, at,
	)
	if err != nil {
		return false, fmt.Errorf("failed to update hold state: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to read affected rows: %w", err)
	}
	if affected > 0 {
		return true, nil
	}

	var exists bool
	if err := sqlx.GetContext(ctx, q, &exists, `SELECT EXISTS (SELECT 1 FROM holds WHERE id = $1)`, id); err != nil {
		return false, fmt.Errorf("failed to check hold: %w", err)
	}
	if !exists {
		return false, fmt.Errorf("%w: %s", models.ErrHoldNotFound, id)
	}
	return false, nil
}

// ListExpired returns active holds whose TTL passed, oldest expiry first
func (r *HoldRepository) ListExpired(ctx context.Context, now time.Time, limit int) ([]models.Hold, error) {
	query := `SELECT ` + holdColumns + `
		FROM holds
		WHERE state = 'active' AND expires_at <= $1
		ORDER BY expires_at ASC
		LIMIT $2`

	var rows []holdRow
	if err := sqlx.SelectContext(ctx, ext(ctx, r.db), &rows, query, now, limit); err != nil {
		return nil, fmt.Errorf("failed to list expired holds: %w", err)
	}
	return holdModels(rows), nil
}

// ListOrphanedConverted returns converted holds that no reservation points to
func (r *HoldRepository) ListOrphanedConverted(ctx context.Context, limit int) ([]models.Hold, error) {
	query := `
		SELECT h.id, h.unit_id, h.unit_version, h.window_start, h.window_end, h.quantity,
		       h.holder_id, h.state, h.expires_at, h.created_at, h.resolved_at
		FROM holds h
		LEFT JOIN reservations r ON r.hold_id = h.id
		WHERE h.state = 'converted' AND r.reference IS NULL
		ORDER BY h.created_at ASC
		LIMIT $1`

	var rows []holdRow
	if err := sqlx.SelectContext(ctx, ext(ctx, r.db), &rows, query, limit); err != nil {
		return nil, fmt.Errorf("failed to list orphaned holds: %w", err)
	}
	return holdModels(rows), nil
}

// PurgeResolved deletes released and expired holds resolved before cutoff
func (r *HoldRepository) PurgeResolved(ctx context.Context, cutoff time.Time) (int, error) {
	result, err := ext(ctx, r.db).ExecContext(ctx, `
		DELETE FROM holds
		WHERE state IN ('released', 'expired') AND resolved_at < $1`,
		cutoff,
	)
	if err != nil {
		return 0, fmt.Errorf("failed to purge holds: %w", err)
	}
	affected, _ := result.RowsAffected()
	return int(affected), nil
}
