// Package handler holds the HTTP handlers of the ops surface.
package handler

import (
	"net/http"

	"github.com/labstack/echo/v4"
)

// Health is the liveness probe.  It answers "ok" as long as the process
// serves HTTP.
func Health(c echo.Context) error {
	return c.String(http.StatusOK, "ok")
}

// Ready returns a readiness probe that answers 503 until ready reports
// true, which happens once startup reconciliation finished.
func Ready(ready func() bool) echo.HandlerFunc {
	return func(c echo.Context) error {
		if ready == nil || !ready() {
			return c.JSON(http.StatusServiceUnavailable, echo.Map{"status": "starting"})
		}
		return c.JSON(http.StatusOK, echo.Map{"status": "ready"})
	}
}
