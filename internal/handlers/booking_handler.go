package handlers

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"github.com/travelhub/reservation-core/internal/middleware"
	"github.com/travelhub/reservation-core/internal/models"
	"github.com/travelhub/reservation-core/internal/services"
)

// BookingHandler drives booking attempts: hold, pay, reserve, abandon
type BookingHandler struct {
	orchestrator *services.BookingOrchestratorService
	logger       *logrus.Logger
}

// NewBookingHandler creates a new BookingHandler
func NewBookingHandler(orchestrator *services.BookingOrchestratorService, logger *logrus.Logger) *BookingHandler {
	return &BookingHandler{
		orchestrator: orchestrator,
		logger:       logger,
	}
}

type startBookingRequest struct {
	models.BookingRequest
	HoldTTLSeconds int `json:"hold_ttl_seconds" binding:"min=0"`
}

// ============================================================================
// START - POST /api/v1/bookings
// ============================================================================

// StartBooking validates the request and holds capacity.
// 201 with the attempt when held, 409 with the attempt when sold out.
func (h *BookingHandler) StartBooking(c *gin.Context) {
	userCtx, exists := middleware.GetUserContext(c)
	if !exists {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "user not authenticated"})
		return
	}

	var req startBookingRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "invalid request: "+err.Error())
		return
	}
	req.HolderID = userCtx.HolderID
	req.HoldTTL = time.Duration(req.HoldTTLSeconds) * time.Second

	attempt, err := h.orchestrator.Start(c.Request.Context(), &req.BookingRequest)
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	c.JSON(attemptStatus(attempt), attempt)
}

// ============================================================================
// PAY - POST /api/v1/bookings/:hold_id/pay
// ============================================================================

// PayBooking charges for the hold and confirms the reservation.
// 200 confirmed, 402 payment declined or timed out, 409 hold expired or released.
func (h *BookingHandler) PayBooking(c *gin.Context) {
	h.resume(c, h.orchestrator.Pay)
}

// ============================================================================
// RESERVE - POST /api/v1/bookings/:hold_id/reserve
// ============================================================================

// ReserveBooking commits the hold as a pending_payment reservation without charging
func (h *BookingHandler) ReserveBooking(c *gin.Context) {
	h.resume(c, h.orchestrator.Reserve)
}

// ============================================================================
// ABANDON - DELETE /api/v1/bookings/:hold_id
// ============================================================================

// AbandonBooking releases the hold. Repeating it is harmless.
func (h *BookingHandler) AbandonBooking(c *gin.Context) {
	userCtx, holdID, ok := h.holdRequest(c)
	if !ok {
		return
	}

	attempt, err := h.orchestrator.Abandon(c.Request.Context(), holdID, userCtx.HolderID)
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, attempt)
}

type holdAction func(ctx context.Context, holdID uuid.UUID, holderID string) (*models.BookingAttempt, error)

func (h *BookingHandler) resume(c *gin.Context, action holdAction) {
	userCtx, holdID, ok := h.holdRequest(c)
	if !ok {
		return
	}

	attempt, err := action(c.Request.Context(), holdID, userCtx.HolderID)
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	c.JSON(attemptStatus(attempt), attempt)
}

func (h *BookingHandler) holdRequest(c *gin.Context) (middleware.UserContext, uuid.UUID, bool) {
	userCtx, exists := middleware.GetUserContext(c)
	if !exists {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "user not authenticated"})
		return userCtx, uuid.Nil, false
	}

	holdID, err := uuid.Parse(c.Param("hold_id"))
	if err != nil {
		badRequest(c, "invalid hold_id")
		return userCtx, uuid.Nil, false
	}
	return userCtx, holdID, true
}
