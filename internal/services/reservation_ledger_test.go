package services

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/travelhub/reservation-core/internal/models"
)

// commitReservation converts a fresh hold and commits it under reference with status
func commitReservation(t *testing.T, f *fixture, unitID, reference string, status models.ReservationStatus) *models.Reservation {
	t.Helper()
	ctx := context.Background()

	hold, err := f.holds.Acquire(ctx, unitID, stay(3, 2), 1, "alice", 0)
	require.NoError(t, err)
	draft, err := f.holds.Convert(ctx, hold.ID)
	require.NoError(t, err)

	var res *models.Reservation
	if status == models.ReservationPendingPayment {
		res, err = f.ledger.CommitPending(ctx, draft, reference)
	} else {
		res, err = f.ledger.Commit(ctx, draft, reference)
	}
	require.NoError(t, err)
	return res
}

func TestReservationLedger_CommitAndHistory(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.publish(t, "room-101", models.ServiceHotelRoom, 2)

	res := commitReservation(t, f, "room-101", "TBLEDGER1", models.ReservationConfirmed)
	assert.Equal(t, models.ReservationConfirmed, res.Status)
	assert.Equal(t, "200", res.Amount.String())

	_, err := f.ledger.Transition(ctx, "TBLEDGER1", models.ReservationCancelled, models.TransitionMeta{
		Reason:  "change of plans",
		ActorID: "alice",
	})
	require.NoError(t, err)

	history, err := f.ledger.History(ctx, "TBLEDGER1")
	require.NoError(t, err)
	assert.Equal(t, models.ReservationCancelled, history.Reservation.Status)
	require.Len(t, history.History, 2)
	assert.Equal(t, 1, history.History[0].Sequence)
	assert.Equal(t, models.ReservationConfirmed, history.History[0].ToStatus)
	assert.Equal(t, 2, history.History[1].Sequence)
	assert.Equal(t, models.ReservationConfirmed, history.History[1].FromStatus)
	assert.Equal(t, "change of plans", history.History[1].Reason)
}

func TestReservationLedger_TransitionTable(t *testing.T) {
	all := []models.ReservationStatus{
		models.ReservationPendingPayment,
		models.ReservationConfirmed,
		models.ReservationCancelled,
		models.ReservationRefunded,
	}
	allowed := map[[2]models.ReservationStatus]bool{
		{models.ReservationPendingPayment, models.ReservationConfirmed}: true,
		{models.ReservationPendingPayment, models.ReservationCancelled}: true,
		{models.ReservationConfirmed, models.ReservationCancelled}:      true,
		{models.ReservationConfirmed, models.ReservationRefunded}:       true,
	}

	// path drives a fresh reservation into the from status
	path := map[models.ReservationStatus][]models.ReservationStatus{
		models.ReservationPendingPayment: nil,
		models.ReservationConfirmed:      {models.ReservationConfirmed},
		models.ReservationCancelled:      {models.ReservationCancelled},
		models.ReservationRefunded:       {models.ReservationConfirmed, models.ReservationRefunded},
	}

	for _, from := range all {
		for _, to := range all {
			from, to := from, to
			t.Run(fmt.Sprintf("%s to %s", from, to), func(t *testing.T) {
				ctx := context.Background()
				f := newFixture(t)
				f.publish(t, "room-101", models.ServiceHotelRoom, 1)
				ref := "TBTABLE"
				commitReservation(t, f, "room-101", ref, models.ReservationPendingPayment)
				for _, step := range path[from] {
					_, err := f.ledger.Transition(ctx, ref, step, models.TransitionMeta{})
					require.NoError(t, err)
				}

				before, err := f.ledger.History(ctx, ref)
				require.NoError(t, err)

				_, err = f.ledger.Transition(ctx, ref, to, models.TransitionMeta{})
				if allowed[[2]models.ReservationStatus{from, to}] {
					require.NoError(t, err)
					got, err := f.ledger.Get(ctx, ref)
					require.NoError(t, err)
					assert.Equal(t, to, got.Status)
					return
				}

				assert.ErrorIs(t, err, models.ErrInvalidTransition)
				after, err := f.ledger.History(ctx, ref)
				require.NoError(t, err)
				assert.Equal(t, from, after.Reservation.Status)
				assert.Len(t, after.History, len(before.History))
			})
		}
	}
}

func TestReservationLedger_CancellationFreesCapacity(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.publish(t, "room-101", models.ServiceHotelRoom, 1)

	commitReservation(t, f, "room-101", "TBFREE", models.ReservationConfirmed)

	remaining, err := f.availability.Remaining(ctx, "room-101", stay(3, 2))
	require.NoError(t, err)
	assert.Equal(t, 0, remaining)

	_, err = f.ledger.Transition(ctx, "TBFREE", models.ReservationCancelled, models.TransitionMeta{})
	require.NoError(t, err)

	remaining, err = f.availability.Remaining(ctx, "room-101", stay(3, 2))
	require.NoError(t, err)
	assert.Equal(t, 1, remaining)
}

func TestReservationLedger_PendingHoldsCapacity(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.publish(t, "room-101", models.ServiceHotelRoom, 1)

	commitReservation(t, f, "room-101", "TBPEND", models.ReservationPendingPayment)

	ok, err := f.availability.Available(ctx, "room-101", stay(3, 2), 1)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestReservationLedger_Errors(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.publish(t, "room-101", models.ServiceHotelRoom, 3)

	commitReservation(t, f, "room-101", "TBDUP", models.ReservationConfirmed)

	t.Run("Reference reuse", func(t *testing.T) {
		hold, err := f.holds.Acquire(ctx, "room-101", stay(3, 2), 1, "bob", 0)
		require.NoError(t, err)
		draft, err := f.holds.Convert(ctx, hold.ID)
		require.NoError(t, err)

		_, err = f.ledger.Commit(ctx, draft, "TBDUP")
		assert.ErrorIs(t, err, models.ErrDuplicateReference)
		assert.True(t, models.IsIntegrityViolation(err))
	})

	t.Run("Empty reference", func(t *testing.T) {
		_, err := f.ledger.Commit(ctx, &models.ReservationDraft{UnitID: "room-101"}, "")
		assert.ErrorIs(t, err, models.ErrIntegrityViolation)
	})

	t.Run("Unknown reference", func(t *testing.T) {
		_, err := f.ledger.Transition(ctx, "TBNOPE", models.ReservationCancelled, models.TransitionMeta{})
		assert.ErrorIs(t, err, models.ErrReservationNotFound)
	})
}

func TestReservationLedger_ListByHolder(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.publish(t, "room-101", models.ServiceHotelRoom, 5)

	for i := 0; i < 3; i++ {
		commitReservation(t, f, "room-101", fmt.Sprintf("TBLIST%d", i), models.ReservationConfirmed)
	}

	list, err := f.ledger.ListByHolder(ctx, "alice", 0, 0)
	require.NoError(t, err)
	assert.Len(t, list, 3)

	list, err = f.ledger.ListByHolder(ctx, "alice", 2, 2)
	require.NoError(t, err)
	assert.Len(t, list, 1)

	list, err = f.ledger.ListByHolder(ctx, "nobody", 10, 0)
	require.NoError(t, err)
	assert.Empty(t, list)
}
