package services

import (
	"context"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
	"github.com/travelhub/reservation-core/internal/clock"
	"github.com/travelhub/reservation-core/internal/models"
	"github.com/travelhub/reservation-core/internal/repository"
)

// InventoryRegistry publishes and reads versioned inventory snapshots
type InventoryRegistry struct {
	store           repository.Store
	clock           clock.Clock
	defaultCurrency string
	logger          *logrus.Logger
}

// NewInventoryRegistry creates a new InventoryRegistry
func NewInventoryRegistry(store repository.Store, clk clock.Clock, defaultCurrency string, logger *logrus.Logger) *InventoryRegistry {
	return &InventoryRegistry{
		store:           store,
		clock:           clk,
		defaultCurrency: defaultCurrency,
		logger:          logger,
	}
}

// Publish stores req as the next snapshot of unitID.
// A unit keeps its service type for life; publishing a different one is rejected.
func (r *InventoryRegistry) Publish(ctx context.Context, unitID string, req *models.PublishUnitRequest) (*models.InventoryUnit, error) {
	rate, err := decimal.NewFromString(strings.TrimSpace(req.Rate))
	if err != nil {
		return nil, fmt.Errorf("%w: %q", models.ErrInvalidRate, req.Rate)
	}

	validity, err := models.NewTimeWindow(req.ValidityStart, req.ValidityEnd)
	if err != nil {
		return nil, err
	}

	currency := strings.ToUpper(strings.TrimSpace(req.Currency))
	if currency == "" {
		currency = r.defaultCurrency
	}

	unit := &models.InventoryUnit{
		ID:          unitID,
		ServiceType: req.ServiceType,
		ResourceID:  req.ResourceID,
		Name:        req.Name,
		Capacity:    req.Capacity,
		Validity:    validity,
		Rate:        rate,
		Currency:    currency,
		PublishedAt: r.clock.Now(),
	}
	if err := unit.Validate(); err != nil {
		return nil, err
	}

	err = r.store.WithinUnit(ctx, unitID, func(ctx context.Context) error {
		current, err := r.store.Units().GetCurrent(ctx, unitID)
		switch {
		case err == nil:
			if current.ServiceType != unit.ServiceType {
				return fmt.Errorf("%w: unit %s is %s, cannot republish as %s",
					models.ErrInvalidServiceType, unitID, current.ServiceType, unit.ServiceType)
			}
		case !isNotFound(err):
			return err
		}
		return r.store.Units().Publish(ctx, unit)
	})
	if err != nil {
		return nil, err
	}

	r.logger.WithFields(logrus.Fields{
		"unit_id":      unit.ID,
		"version":      unit.Version,
		"service_type": unit.ServiceType,
		"capacity":     unit.Capacity,
	}).Info("📦 Inventory snapshot published")

	return unit, nil
}

// Get returns the latest snapshot
func (r *InventoryRegistry) Get(ctx context.Context, unitID string) (*models.InventoryUnit, error) {
	return r.store.Units().GetCurrent(ctx, unitID)
}

// Versions returns every published snapshot, oldest first
func (r *InventoryRegistry) Versions(ctx context.Context, unitID string) ([]models.InventoryUnit, error) {
	versions, err := r.store.Units().ListVersions(ctx, unitID)
	if err != nil {
		return nil, err
	}
	if len(versions) == 0 {
		return nil, fmt.Errorf("%w: %s", models.ErrUnitNotFound, unitID)
	}
	return versions, nil
}

// GetVersion returns one specific snapshot
func (r *InventoryRegistry) GetVersion(ctx context.Context, unitID string, version int) (*models.InventoryUnit, error) {
	return unitVersion(ctx, r.store.Units(), unitID, version)
}

// unitVersion finds a snapshot by version. Holds and reservations are priced against the version they were taken on.
func unitVersion(ctx context.Context, units repository.InventoryUnitRepository, unitID string, version int) (*models.InventoryUnit, error) {
	versions, err := units.ListVersions(ctx, unitID)
	if err != nil {
		return nil, err
	}
	for i := range versions {
		if versions[i].Version == version {
			return &versions[i], nil
		}
	}
	return nil, fmt.Errorf("%w: %s version %d", models.ErrUnitNotFound, unitID, version)
}

func isNotFound(err error) bool {
	return errorsIsAny(err, models.ErrUnitNotFound, models.ErrHoldNotFound, models.ErrReservationNotFound)
}
