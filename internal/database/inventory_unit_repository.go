package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/shopspring/decimal"
	"github.com/travelhub/reservation-core/internal/models"
)

type inventoryUnitRow struct {
	ID            string          `db:"id"`
	Version       int             `db:"version"`
	ServiceType   string          `db:"service_type"`
	ResourceID    string          `db:"resource_id"`
	Name          string          `db:"name"`
	Capacity      int             `db:"capacity"`
	ValidityStart time.Time       `db:"validity_start"`
	ValidityEnd   time.Time       `db:"validity_end"`
	Rate          decimal.Decimal `db:"rate"`
	Currency      string          `db:"currency"`
	PublishedAt   time.Time       `db:"published_at"`
}

func (r inventoryUnitRow) toModel() models.InventoryUnit {
	return models.InventoryUnit{
		ID:          r.ID,
		Version:     r.Version,
		ServiceType: models.ServiceType(r.ServiceType),
		ResourceID:  r.ResourceID,
		Name:        r.Name,
		Capacity:    r.Capacity,
		Validity:    models.TimeWindow{Start: r.ValidityStart.UTC(), End: r.ValidityEnd.UTC()},
		Rate:        r.Rate,
		Currency:    r.Currency,
		PublishedAt: r.PublishedAt.UTC(),
	}
}

const inventoryUnitColumns = `id, version, service_type, resource_id, name, capacity,
	validity_start, validity_end, rate, currency, published_at`

// InventoryUnitRepository handles inventory_units persistence
type InventoryUnitRepository struct {
	db DB
}

// NewInventoryUnitRepository creates a new InventoryUnitRepository
func NewInventoryUnitRepository(db DB) *InventoryUnitRepository {
	return &InventoryUnitRepository{db: db}
}

// Publish inserts the next version of a unit. Callers hold the unit's section so versions never race.
func (r *InventoryUnitRepository) Publish(ctx context.Context, unit *models.InventoryUnit) error {
	query := `
		INSERT INTO inventory_units (` + inventoryUnitColumns + `)
		SELECT $1::text, COALESCE(MAX(version), 0) + 1, $2::service_type, $3::text, $4::text, $5::int,
		       $6::timestamptz, $7::timestamptz, $8::numeric, $9::char(3), $10::timestamptz
		FROM inventory_units
		WHERE id = $1::text
		RETURNING version`

	err := ext(ctx, r.db).QueryRowxContext(ctx, query,
		unit.ID,
		unit.ServiceType,
		unit.ResourceID,
		unit.Name,
		unit.Capacity,
		unit.Validity.Start,
		unit.Validity.End,
		unit.Rate,
		unit.Currency,
		unit.PublishedAt,
	).Scan(&unit.Version)
	if err != nil {
		return fmt.Errorf("failed to publish inventory unit %s: %w", unit.ID, err)
	}
	return nil
}

// GetCurrent returns the latest published version
func (r *InventoryUnitRepository) GetCurrent(ctx context.Context, unitID string) (*models.InventoryUnit, error) {
	query := `SELECT ` + inventoryUnitColumns + `
		FROM inventory_units
		WHERE id = $1
		ORDER BY version DESC
		LIMIT 1`

	var row inventoryUnitRow
	if err := sqlx.GetContext(ctx, ext(ctx, r.db), &row, query, unitID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("%w: %s", models.ErrUnitNotFound, unitID)
		}
		return nil, fmt.Errorf("failed to get inventory unit %s: %w", unitID, err)
	}
	unit := row.toModel()
	return &unit, nil
}

// ListVersions returns every published version, oldest first
func (r *InventoryUnitRepository) ListVersions(ctx context.Context, unitID string) ([]models.InventoryUnit, error) {
	query := `SELECT ` + inventoryUnitColumns + `
		FROM inventory_units
		WHERE id = $1
		ORDER BY version ASC`

	var rows []inventoryUnitRow
	if err := sqlx.SelectContext(ctx, ext(ctx, r.db), &rows, query, unitID); err != nil {
		return nil, fmt.Errorf("failed to list inventory unit versions: %w", err)
	}
	units := make([]models.InventoryUnit, 0, len(rows))
	for _, row := range rows {
		units = append(units, row.toModel())
	}
	return units, nil
}
