// Package router registers the ops HTTP routes.
package router

import (
	"github.com/labstack/echo/v4"

	"github.com/iliyamo/event-seat-reservation/internal/handler"
	"github.com/iliyamo/event-seat-reservation/internal/middleware"
	"github.com/iliyamo/event-seat-reservation/internal/utils"
)

// RegisterRoutes registers the unauthenticated probes.  ready reports
// whether startup reconciliation has finished.
func RegisterRoutes(e *echo.Echo, ready func() bool) {
	e.GET("/healthz", handler.Health)
	e.GET("/readyz", handler.Ready(ready))
}

// RegisterAdmin mounts the admin endpoints under /v1/admin.  Every route
// needs a JWT signed with jwtSecret that carries the ADMIN role.  The
// backup trigger additionally goes through throttle, since each call
// costs a remote upload.
func RegisterAdmin(e *echo.Echo, h *handler.AdminHandler, jwtSecret string, throttle echo.MiddlewareFunc) {
	g := e.Group("/v1/admin", middleware.JWTAuth(jwtSecret), middleware.RequireRole(utils.RoleAdmin))
	g.POST("/backup", h.Backup, throttle)
	g.GET("/seats", h.Seats)
	g.GET("/reservations", h.Reservations)
	g.DELETE("/reservations/:id", h.DeleteReservation)
}
