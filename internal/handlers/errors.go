package handlers

import (
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
	"github.com/travelhub/reservation-core/internal/models"
)

// statusFor maps a service error to an HTTP status and a stable error code
func statusFor(err error) (int, string) {
	switch {
	case models.IsIntegrityViolation(err):
		return http.StatusInternalServerError, "integrity_violation"
	case errors.Is(err, models.ErrCapacityExhausted):
		return http.StatusConflict, "capacity_exhausted"
	case errors.Is(err, models.ErrInvalidHoldState):
		return http.StatusConflict, "invalid_hold_state"
	case errors.Is(err, models.ErrInvalidTransition):
		return http.StatusConflict, "invalid_transition"
	case errors.Is(err, models.ErrCancellationClosed):
		return http.StatusConflict, "cancellation_closed"
	case errors.Is(err, models.ErrPaymentFailed), errors.Is(err, models.ErrPaymentTimeout):
		return http.StatusPaymentRequired, "payment_failed"
	case errors.Is(err, models.ErrHoldNotFound),
		errors.Is(err, models.ErrReservationNotFound),
		errors.Is(err, models.ErrUnitNotFound):
		return http.StatusNotFound, "not_found"
	case errors.Is(err, models.ErrNotHolder):
		return http.StatusForbidden, "forbidden"
	case errors.Is(err, models.ErrInvalidWindow),
		errors.Is(err, models.ErrWindowOutOfRange),
		errors.Is(err, models.ErrInvalidQuantity),
		errors.Is(err, models.ErrInvalidCapacity),
		errors.Is(err, models.ErrInvalidRate),
		errors.Is(err, models.ErrInvalidServiceType),
		errors.Is(err, models.ErrBookingRule):
		return http.StatusBadRequest, "validation_failed"
	}
	return http.StatusInternalServerError, "internal_error"
}

// respondError writes err as JSON. Server errors are logged and their details withheld.
func respondError(c *gin.Context, logger *logrus.Logger, err error) {
	status, code := statusFor(err)
	if status >= http.StatusInternalServerError {
		logger.WithFields(logrus.Fields{
			"path": c.Request.URL.Path,
			"code": code,
		}).WithError(err).Error("Request failed")
		_ = c.Error(err)
		c.JSON(status, gin.H{"error": code, "message": "internal server error"})
		return
	}
	c.JSON(status, gin.H{"error": code, "message": err.Error()})
}

// attemptStatus picks the HTTP status for a finished or in-flight attempt
func attemptStatus(attempt *models.BookingAttempt) int {
	switch attempt.State {
	case models.AttemptHoldAcquired, models.AttemptPaymentPending:
		return http.StatusCreated
	case models.AttemptConfirmed:
		return http.StatusOK
	case models.AttemptCancelled:
		if strings.HasPrefix(attempt.FailureReason, models.ErrPaymentFailed.Error()) ||
			strings.HasPrefix(attempt.FailureReason, models.ErrPaymentTimeout.Error()) {
			return http.StatusPaymentRequired
		}
		return http.StatusConflict
	case models.AttemptRejected, models.AttemptExpired, models.AttemptConfirmationFailed:
		return http.StatusConflict
	}
	return http.StatusInternalServerError
}

func badRequest(c *gin.Context, message string) {
	c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request", "message": message})
}
