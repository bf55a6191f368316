package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/travelhub/reservation-core/internal/middleware"
	"github.com/travelhub/reservation-core/pkg/jwt"
)

// Routes bundles what RegisterRoutes mounts
type Routes struct {
	Health       *HealthHandler
	Inventory    *InventoryHandler
	Bookings     *BookingHandler
	Reservations *ReservationHandler
	Auth         gin.HandlerFunc
	RateLimit    gin.HandlerFunc // optional, guards booking starts
	Metrics      http.Handler    // optional
}

// RegisterRoutes mounts the public and admin API on router
func RegisterRoutes(router *gin.Engine, r Routes) {
	router.GET("/health", r.Health.Health)
	if r.Metrics != nil {
		router.GET("/metrics", gin.WrapH(r.Metrics))
	}

	v1 := router.Group("/api/v1")
	{
		units := v1.Group("/units")
		{
			units.GET("/:unit_id", r.Inventory.GetUnit)
			units.GET("/:unit_id/availability", r.Inventory.GetAvailability)
		}

		bookings := v1.Group("/bookings", r.Auth)
		{
			start := []gin.HandlerFunc{r.Bookings.StartBooking}
			if r.RateLimit != nil {
				start = append([]gin.HandlerFunc{r.RateLimit}, start...)
			}
			bookings.POST("", start...)
			bookings.POST("/:hold_id/pay", r.Bookings.PayBooking)
			bookings.POST("/:hold_id/reserve", r.Bookings.ReserveBooking)
			bookings.DELETE("/:hold_id", r.Bookings.AbandonBooking)
		}

		reservations := v1.Group("/reservations", r.Auth)
		{
			reservations.GET("", r.Reservations.ListReservations)
			reservations.GET("/:reference", r.Reservations.GetReservation)
			reservations.POST("/:reference/cancel", r.Reservations.CancelReservation)
		}

		admin := v1.Group("/admin", r.Auth, middleware.RequireRole(jwt.RoleAdmin))
		{
			admin.PUT("/units/:unit_id", r.Inventory.PublishUnit)
			admin.GET("/units/:unit_id/versions", r.Inventory.ListVersions)
			admin.POST("/reservations/:reference/refund", r.Reservations.RefundReservation)
			admin.POST("/reservations/:reference/settle", r.Reservations.SettleReservation)
		}
	}
}
