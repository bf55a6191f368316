package services

import (
	"context"
	"fmt"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/require"
	"github.com/travelhub/reservation-core/internal/clock"
	"github.com/travelhub/reservation-core/internal/metrics"
	"github.com/travelhub/reservation-core/internal/models"
	"github.com/travelhub/reservation-core/internal/repository"
	"github.com/travelhub/reservation-core/pkg/notify"
	"github.com/travelhub/reservation-core/pkg/payment"
)

var testNow = time.Date(2026, 6, 1, 9, 0, 0, 0, time.UTC)

func quietLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	return logger
}

// stay returns a window starting startDays after testNow and lasting nights days
func stay(startDays, nights int) models.TimeWindow {
	start := testNow.Add(time.Duration(startDays) * day)
	return models.TimeWindow{Start: start, End: start.Add(time.Duration(nights) * day)}
}

// ===== FAKES =====

type fakeGateway struct {
	mu       sync.Mutex
	status   payment.Status
	err      error
	onCharge func(ctx context.Context) error
	charges  []payment.ChargeRequest
	refunds  []payment.RefundRequest
}

func (g *fakeGateway) Charge(ctx context.Context, req payment.ChargeRequest) (*payment.Result, error) {
	g.mu.Lock()
	g.charges = append(g.charges, req)
	status, err, hook := g.status, g.err, g.onCharge
	g.mu.Unlock()

	if hook != nil {
		if err := hook(ctx); err != nil {
			return nil, err
		}
	}
	if err != nil {
		return nil, err
	}
	if status == "" {
		status = payment.StatusSuccess
	}
	return &payment.Result{Status: status, TransactionID: "TX-" + req.Reference}, nil
}

func (g *fakeGateway) Refund(ctx context.Context, req payment.RefundRequest) (*payment.Result, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.refunds = append(g.refunds, req)
	return &payment.Result{Status: payment.StatusSuccess}, nil
}

func (g *fakeGateway) refundCount() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.refunds)
}

type sequenceIssuer struct {
	mu    sync.Mutex
	n     int
	fixed string
}

func (i *sequenceIssuer) Next() (string, error) {
	i.mu.Lock()
	defer i.mu.Unlock()
	if i.fixed != "" {
		return i.fixed, nil
	}
	i.n++
	return fmt.Sprintf("TBTEST%06d", i.n), nil
}

type recordingNotifier struct {
	mu     sync.Mutex
	events []notify.Event
}

func (n *recordingNotifier) Notify(_ context.Context, event notify.Event) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.events = append(n.events, event)
	return nil
}

func (n *recordingNotifier) types() []notify.EventType {
	n.mu.Lock()
	defer n.mu.Unlock()
	out := make([]notify.EventType, 0, len(n.events))
	for _, ev := range n.events {
		out = append(out, ev.Type)
	}
	return out
}

// failingStore fails every reservation insert, simulating a crash between convert and commit
type failingStore struct {
	*repository.MemoryStore
	err error
}

func (s failingStore) Reservations() repository.ReservationRepository {
	return failingReservations{ReservationRepository: s.MemoryStore.Reservations(), err: s.err}
}

type failingReservations struct {
	repository.ReservationRepository
	err error
}

func (r failingReservations) Create(context.Context, *models.Reservation, models.ReservationEvent) error {
	return r.err
}

// ===== FIXTURE =====

type fixture struct {
	memory       *repository.MemoryStore
	store        repository.Store
	clock        *clock.Manual
	registry     *prometheus.Registry
	metrics      *metrics.BookingMetrics
	units        *InventoryRegistry
	availability *AvailabilityCalculator
	holds        *HoldManager
	ledger       *ReservationLedger
	orchestrator *BookingOrchestratorService
	sweeper      *HoldExpirationService
	gateway      *fakeGateway
	refs         *sequenceIssuer
	notifier     *recordingNotifier
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	memory := repository.NewMemoryStore()
	return newFixtureWithStore(t, memory, memory)
}

func newFixtureWithStore(t *testing.T, memory *repository.MemoryStore, store repository.Store) *fixture {
	t.Helper()
	logger := quietLogger()
	clk := clock.NewManual(testNow)
	reg := prometheus.NewRegistry()
	m := metrics.NewBookingMetrics(reg)

	f := &fixture{
		memory:   memory,
		store:    store,
		clock:    clk,
		registry: reg,
		metrics:  m,
		gateway:  &fakeGateway{},
		refs:     &sequenceIssuer{},
		notifier: &recordingNotifier{},
	}
	f.units = NewInventoryRegistry(store, clk, "USD", logger)
	f.availability = NewAvailabilityCalculator(store, clk)
	f.holds = NewHoldManager(store, f.availability, clk, DefaultHoldManagerConfig(), m, logger)
	f.ledger = NewReservationLedger(store, clk, logger)

	cfg := DefaultOrchestratorConfig()
	cfg.PaymentTimeout = 200 * time.Millisecond
	f.orchestrator = NewBookingOrchestratorService(
		store, f.units, f.holds, f.ledger,
		NewBookingValidator(nil), DefaultCancellationPolicy(),
		f.refs, f.gateway, f.notifier,
		clk, m, cfg, logger,
	)
	f.sweeper = NewHoldExpirationService(store, f.holds, f.ledger, clk, m, logger, time.Minute, 50, 48*time.Hour)
	return f
}

func (f *fixture) publish(t *testing.T, unitID string, serviceType models.ServiceType, capacity int) *models.InventoryUnit {
	t.Helper()
	unit, err := f.units.Publish(context.Background(), unitID, &models.PublishUnitRequest{
		ServiceType:   serviceType,
		ResourceID:    "res-" + unitID,
		Name:          unitID,
		Capacity:      capacity,
		ValidityStart: testNow.Add(-day),
		ValidityEnd:   testNow.Add(365 * day),
		Rate:          "100.00",
		Currency:      "usd",
	})
	require.NoError(t, err)
	return unit
}

func bookingRequest(unitID string, window models.TimeWindow, quantity int, holderID string) *models.BookingRequest {
	return &models.BookingRequest{
		UnitID:   unitID,
		Start:    window.Start,
		End:      window.End,
		Quantity: quantity,
		HolderID: holderID,
	}
}
