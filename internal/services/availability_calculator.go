package services

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/travelhub/reservation-core/internal/clock"
	"github.com/travelhub/reservation-core/internal/models"
	"github.com/travelhub/reservation-core/internal/repository"
)

// AvailabilityCalculator answers how much of a unit is free over a window.
//
// Remaining capacity is capacity minus the peak load inside the window, where the load at an
// instant is every active unexpired hold plus every pending or confirmed reservation covering it.
// Two stays that touch the window at different nights therefore only count once each.
type AvailabilityCalculator struct {
	store repository.Store
	clock clock.Clock
}

// NewAvailabilityCalculator creates a new AvailabilityCalculator
func NewAvailabilityCalculator(store repository.Store, clk clock.Clock) *AvailabilityCalculator {
	return &AvailabilityCalculator{store: store, clock: clk}
}

// Remaining returns the free capacity of unitID over window
func (c *AvailabilityCalculator) Remaining(ctx context.Context, unitID string, window models.TimeWindow) (int, error) {
	unit, err := c.store.Units().GetCurrent(ctx, unitID)
	if err != nil {
		return 0, err
	}
	return c.remainingFor(ctx, unit, window, c.clock.Now())
}

// Available reports whether quantity fits. Insufficient capacity is false, not an error.
func (c *AvailabilityCalculator) Available(ctx context.Context, unitID string, window models.TimeWindow, quantity int) (bool, error) {
	if quantity < 1 {
		return false, fmt.Errorf("%w: %d", models.ErrInvalidQuantity, quantity)
	}
	remaining, err := c.Remaining(ctx, unitID, window)
	if err != nil {
		return false, err
	}
	return remaining >= quantity, nil
}

// Check builds the availability response served to clients
func (c *AvailabilityCalculator) Check(ctx context.Context, unitID string, window models.TimeWindow, quantity int) (*models.AvailabilityResponse, error) {
	if quantity < 1 {
		return nil, fmt.Errorf("%w: %d", models.ErrInvalidQuantity, quantity)
	}
	unit, err := c.store.Units().GetCurrent(ctx, unitID)
	if err != nil {
		return nil, err
	}
	remaining, err := c.remainingFor(ctx, unit, window, c.clock.Now())
	if err != nil {
		return nil, err
	}
	return &models.AvailabilityResponse{
		UnitID:    unitID,
		Window:    window,
		Quantity:  quantity,
		Available: remaining >= quantity,
		Remaining: remaining,
		Capacity:  unit.Capacity,
	}, nil
}

// remainingFor is the shared computation. Called inside WithinUnit it sees the section's own writes.
func (c *AvailabilityCalculator) remainingFor(ctx context.Context, unit *models.InventoryUnit, window models.TimeWindow, now time.Time) (int, error) {
	if err := window.Validate(); err != nil {
		return 0, err
	}
	if !unit.Validity.Contains(window) {
		return 0, fmt.Errorf("%w: %s not within %s", models.ErrWindowOutOfRange, window, unit.Validity)
	}

	holds, err := c.store.Holds().ListCounting(ctx, unit.ID, window, now)
	if err != nil {
		return 0, fmt.Errorf("failed to list holds: %w", err)
	}
	reservations, err := c.store.Reservations().ListCapacityHolding(ctx, unit.ID, window)
	if err != nil {
		return 0, fmt.Errorf("failed to list reservations: %w", err)
	}

	loads := make([]Load, 0, len(holds)+len(reservations))
	for _, h := range holds {
		loads = append(loads, Load{Window: h.Window, Quantity: h.Quantity})
	}
	for _, r := range reservations {
		loads = append(loads, Load{Window: r.Window, Quantity: r.Quantity})
	}

	// A capacity cut below current load leaves existing claims in place and blocks new ones
	remaining := unit.Capacity - PeakLoad(window, loads)
	if remaining < 0 {
		remaining = 0
	}
	return remaining, nil
}

// Load is one claim on capacity
type Load struct {
	Window   models.TimeWindow
	Quantity int
}

type loadEdge struct {
	at    time.Time
	delta int
}

// PeakLoad returns the highest concurrent quantity claimed by loads at any instant inside window.
// Windows are half-open, so a claim ending exactly when another starts does not stack.
func PeakLoad(window models.TimeWindow, loads []Load) int {
	edges := make([]loadEdge, 0, 2*len(loads))
	for _, l := range loads {
		if l.Quantity <= 0 || !l.Window.Overlaps(window) {
			continue
		}
		clipped := l.Window.Clip(window)
		edges = append(edges,
			loadEdge{at: clipped.Start, delta: l.Quantity},
			loadEdge{at: clipped.End, delta: -l.Quantity},
		)
	}

	// Ends sort before starts at the same instant
	sort.Slice(edges, func(i, j int) bool {
		if edges[i].at.Equal(edges[j].at) {
			return edges[i].delta < edges[j].delta
		}
		return edges[i].at.Before(edges[j].at)
	})

	peak, current := 0, 0
	for _, e := range edges {
		current += e.delta
		if current > peak {
			peak = current
		}
	}
	return peak
}
