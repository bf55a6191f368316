package handlers

import (
	"fmt"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
	"github.com/travelhub/reservation-core/internal/middleware"
	"github.com/travelhub/reservation-core/internal/models"
	"github.com/travelhub/reservation-core/internal/services"
	"github.com/travelhub/reservation-core/pkg/reference"
)

// ReservationHandler serves reservation reads and post-booking changes
type ReservationHandler struct {
	ledger          *services.ReservationLedger
	orchestrator    *services.BookingOrchestratorService
	referencePrefix string
	logger          *logrus.Logger
}

// NewReservationHandler creates a new ReservationHandler.
// References are checked against referencePrefix before any lookup.
func NewReservationHandler(
	ledger *services.ReservationLedger,
	orchestrator *services.BookingOrchestratorService,
	referencePrefix string,
	logger *logrus.Logger,
) *ReservationHandler {
	return &ReservationHandler{
		ledger:          ledger,
		orchestrator:    orchestrator,
		referencePrefix: referencePrefix,
		logger:          logger,
	}
}

type refundRequest struct {
	Reason string `json:"reason"`
}

// ListReservations returns the caller's reservations, newest first
// GET /api/v1/reservations?limit=20&offset=0
func (h *ReservationHandler) ListReservations(c *gin.Context) {
	userCtx, exists := middleware.GetUserContext(c)
	if !exists {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "user not authenticated"})
		return
	}

	limit, err := queryInt(c, "limit", 20)
	if err != nil {
		badRequest(c, err.Error())
		return
	}
	offset, err := queryInt(c, "offset", 0)
	if err != nil {
		badRequest(c, err.Error())
		return
	}

	reservations, err := h.ledger.ListByHolder(c.Request.Context(), userCtx.HolderID, limit, offset)
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	if reservations == nil {
		reservations = []models.Reservation{}
	}

	c.JSON(http.StatusOK, gin.H{
		"reservations": reservations,
		"limit":        limit,
		"offset":       offset,
	})
}

// GetReservation returns a reservation with its full status history
// GET /api/v1/reservations/:reference
func (h *ReservationHandler) GetReservation(c *gin.Context) {
	userCtx, ref, ok := h.referenceRequest(c)
	if !ok {
		return
	}

	history, err := h.ledger.History(c.Request.Context(), ref)
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	if !userCtx.IsAdmin() && history.Reservation.HolderID != userCtx.HolderID {
		respondError(c, h.logger, fmt.Errorf("%w: reservation %s", models.ErrNotHolder, ref))
		return
	}

	c.JSON(http.StatusOK, history)
}

// CancelReservation cancels a pending or confirmed reservation, refunding per policy
// POST /api/v1/reservations/:reference/cancel
func (h *ReservationHandler) CancelReservation(c *gin.Context) {
	userCtx, ref, ok := h.referenceRequest(c)
	if !ok {
		return
	}

	reservation, err := h.orchestrator.CancelReservation(c.Request.Context(), ref, userCtx.HolderID, userCtx.IsAdmin())
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, reservation)
}

// RefundReservation marks a confirmed reservation refunded in full (admin)
// POST /api/v1/admin/reservations/:reference/refund
func (h *ReservationHandler) RefundReservation(c *gin.Context) {
	userCtx, ref, ok := h.referenceRequest(c)
	if !ok {
		return
	}

	var req refundRequest
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			badRequest(c, "invalid request: "+err.Error())
			return
		}
	}

	reservation, err := h.orchestrator.MarkRefunded(c.Request.Context(), ref, userCtx.HolderID, req.Reason)
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, reservation)
}

// SettleReservation confirms a pending_payment reservation paid out of band (admin)
// POST /api/v1/admin/reservations/:reference/settle
func (h *ReservationHandler) SettleReservation(c *gin.Context) {
	userCtx, ref, ok := h.referenceRequest(c)
	if !ok {
		return
	}

	reservation, err := h.orchestrator.SettlePending(c.Request.Context(), ref, userCtx.HolderID)
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, reservation)
}

func (h *ReservationHandler) referenceRequest(c *gin.Context) (middleware.UserContext, string, bool) {
	userCtx, exists := middleware.GetUserContext(c)
	if !exists {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "user not authenticated"})
		return userCtx, "", false
	}

	ref := c.Param("reference")
	if h.referencePrefix != "" {
		if err := reference.Validate(ref, h.referencePrefix); err != nil {
			badRequest(c, "invalid reference: "+err.Error())
			return userCtx, "", false
		}
	}
	return userCtx, ref, true
}

func queryInt(c *gin.Context, key string, def int) (int, error) {
	raw := c.Query(key)
	if raw == "" {
		return def, nil
	}
	v, err := strconv.Atoi(raw)
	if err != nil || v < 0 {
		return 0, fmt.Errorf("%s must be a non-negative integer", key)
	}
	return v, nil
}
