package services

import (
	"context"
	"errors"
	"math/rand/v2"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/travelhub/reservation-core/internal/models"
)

func TestHoldManager_ConcurrentAcquireNeverOversells(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.publish(t, "room-101", models.ServiceHotelRoom, 2)

	var (
		wg      sync.WaitGroup
		start   = make(chan struct{})
		results = make(chan error, 3)
	)
	for i := 0; i < 3; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-start
			_, err := f.holds.Acquire(ctx, "room-101", stay(1, 2), 1, uuid.NewString(), 0)
			results <- err
		}()
	}
	close(start)
	wg.Wait()
	close(results)

	granted, denied := 0, 0
	for err := range results {
		switch {
		case err == nil:
			granted++
		case errors.Is(err, models.ErrCapacityExhausted):
			denied++
		default:
			t.Fatalf("unexpected error: %v", err)
		}
	}
	assert.Equal(t, 2, granted)
	assert.Equal(t, 1, denied)
}

func TestHoldManager_RandomizedLoadRespectsCapacity(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	const capacity = 5
	f.publish(t, "bus-42", models.ServiceBusSeat, capacity)
	f.publish(t, "room-7", models.ServiceHotelRoom, capacity)

	var wg sync.WaitGroup
	for worker := 0; worker < 40; worker++ {
		wg.Add(1)
		go func(seed uint64) {
			defer wg.Done()
			rng := rand.New(rand.NewPCG(seed, seed*31+7))
			for i := 0; i < 10; i++ {
				unitID := "bus-42"
				if rng.IntN(2) == 0 {
					unitID = "room-7"
				}
				window := stay(rng.IntN(8), 1+rng.IntN(3))
				_, err := f.holds.Acquire(ctx, unitID, window, 1+rng.IntN(3), "holder", time.Hour)
				if err != nil && !errors.Is(err, models.ErrCapacityExhausted) {
					t.Errorf("unexpected error: %v", err)
					return
				}
			}
		}(uint64(worker + 1))
	}
	wg.Wait()

	// At every hour of the horizon, held quantity stays within capacity
	for _, unitID := range []string{"bus-42", "room-7"} {
		holds, err := f.store.Holds().ListCounting(ctx, unitID, stay(0, 12), f.clock.Now())
		require.NoError(t, err)
		require.NotEmpty(t, holds)

		for at := testNow; at.Before(testNow.Add(12 * day)); at = at.Add(time.Hour) {
			load := 0
			for _, h := range holds {
				if !at.Before(h.Window.Start) && at.Before(h.Window.End) {
					load += h.Quantity
				}
			}
			require.LessOrEqualf(t, load, capacity, "unit %s over capacity at %s", unitID, at)
		}
	}
}

func TestHoldManager_Acquire(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	unit := f.publish(t, "room-101", models.ServiceHotelRoom, 2)

	t.Run("Default TTL", func(t *testing.T) {
		hold, err := f.holds.Acquire(ctx, "room-101", stay(1, 1), 1, "alice", 0)
		require.NoError(t, err)
		assert.Equal(t, testNow.Add(10*time.Minute), hold.ExpiresAt)
		assert.Equal(t, unit.Version, hold.UnitVersion)
		assert.Equal(t, models.HoldActive, hold.State)
	})

	t.Run("TTL is clamped", func(t *testing.T) {
		hold, err := f.holds.Acquire(ctx, "room-101", stay(5, 1), 1, "alice", 24*time.Hour)
		require.NoError(t, err)
		assert.Equal(t, testNow.Add(30*time.Minute), hold.ExpiresAt)
	})

	t.Run("Negative TTL", func(t *testing.T) {
		_, err := f.holds.Acquire(ctx, "room-101", stay(1, 1), 1, "alice", -time.Second)
		assert.Error(t, err)
	})

	t.Run("Zero quantity", func(t *testing.T) {
		_, err := f.holds.Acquire(ctx, "room-101", stay(1, 1), 0, "alice", 0)
		assert.ErrorIs(t, err, models.ErrInvalidQuantity)
	})

	t.Run("Missing holder", func(t *testing.T) {
		_, err := f.holds.Acquire(ctx, "room-101", stay(1, 1), 1, "", 0)
		assert.ErrorIs(t, err, models.ErrNotHolder)
	})

	t.Run("Inverted window", func(t *testing.T) {
		w := stay(1, 1)
		_, err := f.holds.Acquire(ctx, "room-101", models.TimeWindow{Start: w.End, End: w.Start}, 1, "alice", 0)
		assert.ErrorIs(t, err, models.ErrInvalidWindow)
	})

	t.Run("Denied when exhausted", func(t *testing.T) {
		_, err := f.holds.Acquire(ctx, "room-101", stay(1, 1), 2, "bob", 0)
		assert.ErrorIs(t, err, models.ErrCapacityExhausted)
	})
}

func TestHoldManager_ReleaseIsIdempotent(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.publish(t, "room-101", models.ServiceHotelRoom, 1)

	hold, err := f.holds.Acquire(ctx, "room-101", stay(1, 1), 1, "alice", 0)
	require.NoError(t, err)

	for i := 0; i < 3; i++ {
		released, err := f.holds.Release(ctx, hold.ID)
		require.NoError(t, err)
		assert.Equal(t, models.HoldReleased, released.State)
	}

	remaining, err := f.availability.Remaining(ctx, "room-101", stay(1, 1))
	require.NoError(t, err)
	assert.Equal(t, 1, remaining)

	_, err = f.holds.Release(ctx, uuid.New())
	assert.ErrorIs(t, err, models.ErrHoldNotFound)
}

func TestHoldManager_ReleaseAfterTTLRecordsExpiry(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.publish(t, "room-101", models.ServiceHotelRoom, 1)

	hold, err := f.holds.Acquire(ctx, "room-101", stay(1, 1), 1, "alice", time.Minute)
	require.NoError(t, err)

	f.clock.Advance(2 * time.Minute)
	released, err := f.holds.Release(ctx, hold.ID)
	require.NoError(t, err)
	assert.Equal(t, models.HoldExpired, released.State)
}

func TestHoldManager_Expire(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.publish(t, "room-101", models.ServiceHotelRoom, 1)

	hold, err := f.holds.Acquire(ctx, "room-101", stay(1, 1), 1, "alice", time.Minute)
	require.NoError(t, err)

	ok, err := f.holds.Expire(ctx, hold.ID, testNow)
	require.NoError(t, err)
	assert.False(t, ok, "not due yet")

	due := testNow.Add(time.Minute)
	ok, err = f.holds.Expire(ctx, hold.ID, due)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = f.holds.Expire(ctx, hold.ID, due)
	require.NoError(t, err)
	assert.False(t, ok, "second expiry is a no-op")

	got, err := f.holds.Get(ctx, hold.ID)
	require.NoError(t, err)
	assert.Equal(t, models.HoldExpired, got.State)
}

func TestHoldManager_Convert(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.publish(t, "room-101", models.ServiceHotelRoom, 2)

	t.Run("Active hold converts once", func(t *testing.T) {
		hold, err := f.holds.Acquire(ctx, "room-101", stay(1, 2), 2, "alice", 0)
		require.NoError(t, err)

		draft, err := f.holds.Convert(ctx, hold.ID)
		require.NoError(t, err)
		assert.Equal(t, hold.ID, draft.HoldID)
		assert.Equal(t, models.ServiceHotelRoom, draft.ServiceType)
		assert.Equal(t, "400", draft.Amount.String()) // 100 x 2 rooms x 2 nights
		assert.Equal(t, "USD", draft.Currency)

		_, err = f.holds.Convert(ctx, hold.ID)
		assert.ErrorIs(t, err, models.ErrInvalidHoldState)
	})

	t.Run("Expired hold cannot convert", func(t *testing.T) {
		hold, err := f.holds.Acquire(ctx, "room-101", stay(5, 1), 1, "alice", time.Minute)
		require.NoError(t, err)

		f.clock.Advance(time.Minute)
		_, err = f.holds.Convert(ctx, hold.ID)
		assert.ErrorIs(t, err, models.ErrInvalidHoldState)
	})

	t.Run("Released hold cannot convert", func(t *testing.T) {
		hold, err := f.holds.Acquire(ctx, "room-101", stay(8, 1), 1, "alice", 0)
		require.NoError(t, err)
		_, err = f.holds.Release(ctx, hold.ID)
		require.NoError(t, err)

		_, err = f.holds.Convert(ctx, hold.ID)
		assert.ErrorIs(t, err, models.ErrInvalidHoldState)
	})
}

func TestHoldManager_ExpiryFreesCapacityAfterSweep(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.publish(t, "car-3", models.ServiceCar, 1)

	hold, err := f.holds.Acquire(ctx, "car-3", stay(2, 3), 1, "alice", 5*time.Minute)
	require.NoError(t, err)

	_, err = f.holds.Acquire(ctx, "car-3", stay(2, 3), 1, "bob", 0)
	require.ErrorIs(t, err, models.ErrCapacityExhausted)

	f.clock.Advance(6 * time.Minute)
	assert.Equal(t, 1, f.sweeper.RunOnce(ctx))

	stored, err := f.store.Holds().GetByID(ctx, hold.ID)
	require.NoError(t, err)
	assert.Equal(t, models.HoldExpired, stored.State)

	_, err = f.holds.Acquire(ctx, "car-3", stay(2, 3), 1, "bob", 0)
	assert.NoError(t, err)
}
