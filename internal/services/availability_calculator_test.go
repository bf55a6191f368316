package services

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/travelhub/reservation-core/internal/models"
)

func TestPeakLoad(t *testing.T) {
	window := stay(0, 10)

	tests := []struct {
		name  string
		loads []Load
		want  int
	}{
		{"no loads", nil, 0},
		{"single", []Load{{stay(1, 2), 2}}, 2},
		{"disjoint nights do not stack", []Load{{stay(1, 2), 1}, {stay(4, 2), 1}}, 1},
		{"touching windows do not stack", []Load{{stay(1, 2), 1}, {stay(3, 2), 1}}, 1},
		{"overlap stacks", []Load{{stay(1, 3), 1}, {stay(2, 3), 2}}, 3},
		{"nested", []Load{{stay(0, 10), 1}, {stay(2, 1), 1}, {stay(2, 2), 1}}, 3},
		{"outside window ignored", []Load{{stay(20, 2), 5}, {stay(-5, 2), 5}}, 0},
		{"partially outside is clipped", []Load{{stay(-2, 3), 2}, {stay(9, 5), 1}}, 2},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, PeakLoad(window, tt.loads))
		})
	}
}

func TestAvailabilityCalculator_Remaining(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.publish(t, "room-101", models.ServiceHotelRoom, 3)

	_, err := f.holds.Acquire(ctx, "room-101", stay(1, 3), 2, "alice", 0)
	require.NoError(t, err)

	t.Run("Overlapping hold counts", func(t *testing.T) {
		remaining, err := f.availability.Remaining(ctx, "room-101", stay(2, 1))
		require.NoError(t, err)
		assert.Equal(t, 1, remaining)
	})

	t.Run("Non overlapping window is free", func(t *testing.T) {
		remaining, err := f.availability.Remaining(ctx, "room-101", stay(4, 2))
		require.NoError(t, err)
		assert.Equal(t, 3, remaining)
	})

	t.Run("Insufficient capacity is false not error", func(t *testing.T) {
		ok, err := f.availability.Available(ctx, "room-101", stay(1, 1), 2)
		require.NoError(t, err)
		assert.False(t, ok)
	})

	t.Run("Invalid quantity", func(t *testing.T) {
		_, err := f.availability.Available(ctx, "room-101", stay(1, 1), 0)
		assert.ErrorIs(t, err, models.ErrInvalidQuantity)
	})

	t.Run("Window outside validity", func(t *testing.T) {
		_, err := f.availability.Remaining(ctx, "room-101", stay(400, 2))
		assert.ErrorIs(t, err, models.ErrWindowOutOfRange)
	})

	t.Run("Unknown unit", func(t *testing.T) {
		_, err := f.availability.Remaining(ctx, "room-999", stay(1, 1))
		assert.ErrorIs(t, err, models.ErrUnitNotFound)
	})

	t.Run("Expired hold stops counting before the sweep", func(t *testing.T) {
		f.clock.Advance(11 * time.Minute)
		remaining, err := f.availability.Remaining(ctx, "room-101", stay(1, 3))
		require.NoError(t, err)
		assert.Equal(t, 3, remaining)
	})
}

func TestAvailabilityCalculator_CapacityCutBelowLoad(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.publish(t, "car-7", models.ServiceCar, 3)

	hold, err := f.holds.Acquire(ctx, "car-7", stay(1, 2), 3, "alice", time.Hour)
	require.NoError(t, err)

	f.publish(t, "car-7", models.ServiceCar, 1)

	check, err := f.availability.Check(ctx, "car-7", stay(1, 2), 1)
	require.NoError(t, err)
	assert.Equal(t, 0, check.Remaining)
	assert.False(t, check.Available)
	assert.Equal(t, 1, check.Capacity)

	// The existing hold survives the cut
	got, err := f.holds.Get(ctx, hold.ID)
	require.NoError(t, err)
	assert.Equal(t, models.HoldActive, got.State)

	_, err = f.holds.Acquire(ctx, "car-7", stay(1, 2), 1, "bob", 0)
	assert.ErrorIs(t, err, models.ErrCapacityExhausted)
}

func TestInventoryRegistry_Publish(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	first := f.publish(t, "berth-12", models.ServiceTrainBerth, 4)
	assert.Equal(t, 1, first.Version)
	assert.Equal(t, "USD", first.Currency)
	assert.Equal(t, "100", first.Rate.String())

	second := f.publish(t, "berth-12", models.ServiceTrainBerth, 6)
	assert.Equal(t, 2, second.Version)

	current, err := f.units.Get(ctx, "berth-12")
	require.NoError(t, err)
	assert.Equal(t, 6, current.Capacity)

	old, err := f.units.GetVersion(ctx, "berth-12", 1)
	require.NoError(t, err)
	assert.Equal(t, 4, old.Capacity)

	versions, err := f.units.Versions(ctx, "berth-12")
	require.NoError(t, err)
	assert.Len(t, versions, 2)

	t.Run("Service type is fixed", func(t *testing.T) {
		_, err := f.units.Publish(ctx, "berth-12", &models.PublishUnitRequest{
			ServiceType:   models.ServiceBusSeat,
			ResourceID:    "x",
			Capacity:      1,
			ValidityStart: testNow,
			ValidityEnd:   testNow.Add(day),
			Rate:          "10",
		})
		assert.ErrorIs(t, err, models.ErrInvalidServiceType)
	})

	t.Run("Bad rate", func(t *testing.T) {
		_, err := f.units.Publish(ctx, "berth-13", &models.PublishUnitRequest{
			ServiceType:   models.ServiceTrainBerth,
			ResourceID:    "x",
			Capacity:      1,
			ValidityStart: testNow,
			ValidityEnd:   testNow.Add(day),
			Rate:          "ten",
		})
		assert.ErrorIs(t, err, models.ErrInvalidRate)
	})

	t.Run("Unknown unit has no versions", func(t *testing.T) {
		_, err := f.units.Versions(ctx, "berth-99")
		assert.ErrorIs(t, err, models.ErrUnitNotFound)
	})
}
