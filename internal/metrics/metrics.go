package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// BookingMetrics records hold, booking and integrity outcomes.
// A nil *BookingMetrics is valid and records nothing.
type BookingMetrics struct {
	holds         *prometheus.CounterVec
	holdsResolved *prometheus.CounterVec
	bookings      *prometheus.CounterVec
	payment       *prometheus.HistogramVec
	integrity     *prometheus.CounterVec
	sweepDuration prometheus.Histogram
}

// NewBookingMetrics registers the booking metrics on the provided registerer.
func NewBookingMetrics(reg prometheus.Registerer) *BookingMetrics {
	if reg == nil {
		return &BookingMetrics{}
	}
	holds := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "reservation_holds_total",
		Help: "Hold acquisition attempts by service type and result.",
	}, []string{"service_type", "result"})
	holdsResolved := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "reservation_holds_resolved_total",
		Help: "Holds leaving the active state, by final state.",
	}, []string{"state"})
	bookings := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "reservation_bookings_total",
		Help: "Booking attempts by terminal state.",
	}, []string{"state"})
	payment := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "reservation_payment_duration_seconds",
		Help:    "Payment collaborator latency by result.",
		Buckets: prometheus.DefBuckets,
	}, []string{"result"})
	integrity := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "reservation_integrity_violations_total",
		Help: "Integrity violations that halted processing.",
	}, []string{"kind"})
	sweepDuration := prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "reservation_hold_sweep_duration_seconds",
		Help:    "Duration of hold expiration sweeps.",
		Buckets: prometheus.DefBuckets,
	})
	reg.MustRegister(holds, holdsResolved, bookings, payment, integrity, sweepDuration)
	return &BookingMetrics{
		holds:         holds,
		holdsResolved: holdsResolved,
		bookings:      bookings,
		payment:       payment,
		integrity:     integrity,
		sweepDuration: sweepDuration,
	}
}

// HoldAcquired counts a granted hold.
func (m *BookingMetrics) HoldAcquired(serviceType string) {
	if m == nil || m.holds == nil {
		return
	}
	m.holds.WithLabelValues(normalizeLabel(serviceType), "acquired").Inc()
}

// HoldDenied counts a hold refused for lack of capacity.
func (m *BookingMetrics) HoldDenied(serviceType string) {
	if m == nil || m.holds == nil {
		return
	}
	m.holds.WithLabelValues(normalizeLabel(serviceType), "denied").Inc()
}

// HoldResolved counts a hold moving to converted, released or expired.
func (m *BookingMetrics) HoldResolved(state string) {
	if m == nil || m.holdsResolved == nil {
		return
	}
	m.holdsResolved.WithLabelValues(normalizeLabel(state)).Inc()
}

// BookingFinished counts an attempt reaching a terminal state.
func (m *BookingMetrics) BookingFinished(state string) {
	if m == nil || m.bookings == nil {
		return
	}
	m.bookings.WithLabelValues(normalizeLabel(state)).Inc()
}

// ObservePayment records one call to the payment collaborator.
func (m *BookingMetrics) ObservePayment(result string, duration time.Duration) {
	if m == nil || m.payment == nil {
		return
	}
	m.payment.WithLabelValues(normalizeLabel(result)).Observe(duration.Seconds())
}

// IntegrityViolation counts an alert-worthy consistency failure.
func (m *BookingMetrics) IntegrityViolation(kind string) {
	if m == nil || m.integrity == nil {
		return
	}
	m.integrity.WithLabelValues(normalizeLabel(kind)).Inc()
}

// ObserveSweep records the duration of one expiration sweep.
func (m *BookingMetrics) ObserveSweep(duration time.Duration) {
	if m == nil || m.sweepDuration == nil {
		return
	}
	m.sweepDuration.Observe(duration.Seconds())
}

func normalizeLabel(v string) string {
	if v == "" {
		return "unknown"
	}
	return v
}
