package handlers

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
	"github.com/travelhub/reservation-core/internal/middleware"
	"github.com/travelhub/reservation-core/internal/models"
	"github.com/travelhub/reservation-core/internal/services"
)

// InventoryHandler serves unit snapshots and availability
type InventoryHandler struct {
	registry     *services.InventoryRegistry
	availability *services.AvailabilityCalculator
	logger       *logrus.Logger
}

// NewInventoryHandler creates a new InventoryHandler
func NewInventoryHandler(
	registry *services.InventoryRegistry,
	availability *services.AvailabilityCalculator,
	logger *logrus.Logger,
) *InventoryHandler {
	return &InventoryHandler{
		registry:     registry,
		availability: availability,
		logger:       logger,
	}
}

type availabilityQuery struct {
	Start    time.Time `form:"start" binding:"required" time_format:"2006-01-02T15:04:05Z07:00"`
	End      time.Time `form:"end" binding:"required" time_format:"2006-01-02T15:04:05Z07:00"`
	Quantity int       `form:"quantity"`
}

// GetUnit returns the current snapshot of a unit
// GET /api/v1/units/:unit_id
func (h *InventoryHandler) GetUnit(c *gin.Context) {
	unit, err := h.registry.Get(c.Request.Context(), c.Param("unit_id"))
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, unit)
}

// GetAvailability reports whether quantity fits the unit over [start, end)
// GET /api/v1/units/:unit_id/availability?start=...&end=...&quantity=N
func (h *InventoryHandler) GetAvailability(c *gin.Context) {
	var q availabilityQuery
	if err := c.ShouldBindQuery(&q); err != nil {
		badRequest(c, "start and end must be RFC 3339 timestamps: "+err.Error())
		return
	}
	if q.Quantity == 0 {
		q.Quantity = 1
	}

	window, err := models.NewTimeWindow(q.Start, q.End)
	if err != nil {
		respondError(c, h.logger, err)
		return
	}

	response, err := h.availability.Check(c.Request.Context(), c.Param("unit_id"), window, q.Quantity)
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, response)
}

// PublishUnit stores a new snapshot version of a unit (admin)
// PUT /api/v1/admin/units/:unit_id
func (h *InventoryHandler) PublishUnit(c *gin.Context) {
	var req models.PublishUnitRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "invalid request: "+err.Error())
		return
	}

	unit, err := h.registry.Publish(c.Request.Context(), c.Param("unit_id"), &req)
	if err != nil {
		respondError(c, h.logger, err)
		return
	}

	userCtx, _ := middleware.GetUserContext(c)
	h.logger.WithFields(logrus.Fields{
		"unit_id":  unit.ID,
		"version":  unit.Version,
		"capacity": unit.Capacity,
		"actor_id": userCtx.HolderID,
	}).Info("Inventory unit published")

	c.JSON(http.StatusCreated, unit)
}

// ListVersions returns every published snapshot of a unit (admin)
// GET /api/v1/admin/units/:unit_id/versions
func (h *InventoryHandler) ListVersions(c *gin.Context) {
	versions, err := h.registry.Versions(c.Request.Context(), c.Param("unit_id"))
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"unit_id": c.Param("unit_id"), "versions": versions})
}
