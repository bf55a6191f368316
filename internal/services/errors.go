package services

import (
	"errors"

	"github.com/sirupsen/logrus"
	"github.com/travelhub/reservation-core/internal/metrics"
	"github.com/travelhub/reservation-core/internal/models"
)

func errorsIsAny(err error, targets ...error) bool {
	for _, target := range targets {
		if errors.Is(err, target) {
			return true
		}
	}
	return false
}

// integrityKind labels an integrity violation for metrics
func integrityKind(err error) string {
	switch {
	case errors.Is(err, models.ErrDuplicateReference):
		return "duplicate_reference"
	case errors.Is(err, models.ErrOrphanedHold):
		return "orphaned_hold"
	default:
		return "integrity"
	}
}

// reportIntegrityViolation raises an alert for a broken atomicity guarantee.
// These need manual intervention, so they are logged at error level and counted.
func reportIntegrityViolation(logger *logrus.Logger, m *metrics.BookingMetrics, err error, fields logrus.Fields) {
	kind := integrityKind(err)
	m.IntegrityViolation(kind)
	logger.WithFields(fields).
		WithField("alert", true).
		WithField("kind", kind).
		WithError(err).
		Error("🚨 Integrity violation")
}
