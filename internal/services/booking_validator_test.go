package services

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/travelhub/reservation-core/internal/models"
)

func TestBookingValidator_Validate(t *testing.T) {
	v := NewBookingValidator(nil)
	unit := func(s models.ServiceType) *models.InventoryUnit {
		return &models.InventoryUnit{ID: "u", ServiceType: s}
	}

	tests := []struct {
		name     string
		service  models.ServiceType
		window   models.TimeWindow
		quantity int
		wantErr  error
	}{
		{"hotel ok", models.ServiceHotelRoom, stay(1, 30), 1, nil},
		{"hotel too long", models.ServiceHotelRoom, stay(1, 31), 1, models.ErrBookingRule},
		{"hotel in the past", models.ServiceHotelRoom, stay(-1, 2), 1, models.ErrBookingRule},
		{"car ok", models.ServiceCar, stay(0, 90), 1, nil},
		{"car too long", models.ServiceCar, stay(0, 91), 1, models.ErrBookingRule},
		{"bus ok", models.ServiceBusSeat, stay(120, 1), 6, nil},
		{"bus too far ahead", models.ServiceBusSeat, stay(121, 1), 1, models.ErrBookingRule},
		{"bus too many seats", models.ServiceBusSeat, stay(1, 1), 7, models.ErrInvalidQuantity},
		{"train too many berths", models.ServiceTrainBerth, stay(1, 1), 7, models.ErrInvalidQuantity},
		{"zero quantity", models.ServiceHotelRoom, stay(1, 1), 0, models.ErrInvalidQuantity},
		{"empty window", models.ServiceCar, models.TimeWindow{Start: testNow.Add(day), End: testNow.Add(day)}, 1, models.ErrInvalidWindow},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := v.Validate(unit(tt.service), tt.window, tt.quantity, testNow)
			if tt.wantErr == nil {
				assert.NoError(t, err)
				return
			}
			assert.ErrorIs(t, err, tt.wantErr)
		})
	}
}

func TestCancellationPolicy_RefundAmount(t *testing.T) {
	p := DefaultCancellationPolicy()
	amount := decimal.NewFromInt(300)

	reservation := func(s models.ServiceType, noticeHours int, status models.ReservationStatus) *models.Reservation {
		start := testNow.Add(time.Duration(noticeHours) * time.Hour)
		return &models.Reservation{
			ServiceType: s,
			Window:      models.TimeWindow{Start: start, End: start.Add(day)},
			Amount:      amount,
			Status:      status,
		}
	}

	tests := []struct {
		name    string
		service models.ServiceType
		notice  int
		status  models.ReservationStatus
		want    string
	}{
		{"hotel full", models.ServiceHotelRoom, 48, models.ReservationConfirmed, "300"},
		{"hotel half", models.ServiceHotelRoom, 30, models.ReservationConfirmed, "150"},
		{"hotel none", models.ServiceHotelRoom, 10, models.ReservationConfirmed, "0"},
		{"car full", models.ServiceCar, 168, models.ReservationConfirmed, "300"},
		{"car half", models.ServiceCar, 100, models.ReservationConfirmed, "150"},
		{"car none", models.ServiceCar, 71, models.ReservationConfirmed, "0"},
		{"bus full", models.ServiceBusSeat, 4, models.ReservationConfirmed, "300"},
		{"bus none", models.ServiceBusSeat, 3, models.ReservationConfirmed, "0"},
		{"bus has no half tier", models.ServiceBusSeat, 1, models.ReservationConfirmed, "0"},
		{"train half", models.ServiceTrainBerth, 24, models.ReservationConfirmed, "150"},
		{"pending was never charged", models.ServiceHotelRoom, 100, models.ReservationPendingPayment, "0"},
		{"already started", models.ServiceHotelRoom, -5, models.ReservationConfirmed, "0"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := p.RefundAmount(reservation(tt.service, tt.notice, tt.status), testNow)
			assert.Equal(t, tt.want, got.String())
		})
	}
}

func TestCancellationPolicy_CheckCancellable(t *testing.T) {
	p := DefaultCancellationPolicy()

	tests := []struct {
		name    string
		service models.ServiceType
		notice  time.Duration
		wantErr bool
	}{
		{"hotel two days out", models.ServiceHotelRoom, 48 * time.Hour, false},
		{"hotel exactly a day out", models.ServiceHotelRoom, 24 * time.Hour, false},
		{"hotel same day", models.ServiceHotelRoom, 23 * time.Hour, true},
		{"car same day", models.ServiceCar, 5 * time.Hour, true},
		{"bus an hour before departure", models.ServiceBusSeat, time.Hour, false},
		{"bus at departure", models.ServiceBusSeat, 0, true},
		{"train after departure", models.ServiceTrainBerth, -2 * time.Hour, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			start := testNow.Add(tt.notice)
			res := &models.Reservation{
				Reference:   "TBTEST000001",
				ServiceType: tt.service,
				Window:      models.TimeWindow{Start: start, End: start.Add(day)},
				Status:      models.ReservationConfirmed,
			}
			err := p.CheckCancellable(res, testNow)
			if !tt.wantErr {
				assert.NoError(t, err)
				return
			}
			assert.ErrorIs(t, err, models.ErrCancellationClosed)
		})
	}
}
