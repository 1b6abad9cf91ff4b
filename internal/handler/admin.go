package handler

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/labstack/echo/v4"

	"github.com/iliyamo/event-seat-reservation/internal/model"
	"github.com/iliyamo/event-seat-reservation/internal/reconcile"
	"github.com/iliyamo/event-seat-reservation/internal/remote"
	"github.com/iliyamo/event-seat-reservation/internal/seatmap"
)

// Backupper runs one backup of the store.
type Backupper interface {
	Backup(ctx context.Context) error
}

// Engine is the part of the allocation engine the admin endpoints use.
type Engine interface {
	Occupancy(ctx context.Context) ([]model.ReservedSeat, error)
	Reservations(ctx context.Context) ([]model.Reservation, error)
	DeleteReservation(ctx context.Context, id int64) error
}

// AdminHandler serves the admin endpoints.  Engine returns nil until
// startup reconciliation is done; the store endpoints answer 503 then.
type AdminHandler struct {
	Backups Backupper
	Engine  func() Engine
	SeatMap *seatmap.Map
	Logger  *slog.Logger
}

// NewAdminHandler builds an AdminHandler and panics if a dependency is nil.
func NewAdminHandler(backups Backupper, engine func() Engine, seats *seatmap.Map, logger *slog.Logger) *AdminHandler {
	if backups == nil || engine == nil || seats == nil {
		panic("nil dependency passed to NewAdminHandler")
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &AdminHandler{Backups: backups, Engine: engine, SeatMap: seats, Logger: logger}
}

// Backup handles POST /v1/admin/backup.
func (h *AdminHandler) Backup(c echo.Context) error {
	err := h.Backups.Backup(c.Request().Context())
	switch {
	case err == nil:
		return c.JSON(http.StatusOK, echo.Map{"status": "uploaded"})
	case errors.Is(err, remote.ErrUploadsDisabled):
		return c.JSON(http.StatusOK, echo.Map{"status": "uploads_disabled"})
	case errors.Is(err, reconcile.ErrNotStarted):
		return c.JSON(http.StatusServiceUnavailable, echo.Map{"error": "store not ready"})
	case errors.Is(err, reconcile.ErrIncompleteBundle):
		h.Logger.Error("admin backup incomplete", "err", err)
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": err.Error()})
	case errors.Is(err, remote.ErrRemoteSync):
		h.Logger.Error("admin backup upload failed", "err", err)
		return c.JSON(http.StatusBadGateway, echo.Map{"error": err.Error()})
	default:
		h.Logger.Error("admin backup failed", "err", err)
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "backup failed"})
	}
}

type seatView struct {
	Key           string `json:"key"`
	Table         int    `json:"table"`
	Seat          int    `json:"seat"`
	Class         string `json:"class"`
	Occupied      bool   `json:"occupied"`
	ReservationID int64  `json:"reservation_id,omitempty"`
	Person        string `json:"person,omitempty"`
	Meal          string `json:"meal,omitempty"`
}

// Seats handles GET /v1/admin/seats: every configured seat with its
// occupant, if any.
func (h *AdminHandler) Seats(c echo.Context) error {
	eng := h.Engine()
	if eng == nil {
		return c.JSON(http.StatusServiceUnavailable, echo.Map{"error": "store not ready"})
	}
	taken, err := eng.Occupancy(c.Request().Context())
	if err != nil {
		h.Logger.Error("list occupancy", "err", err)
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "failed to list seats"})
	}
	byKey := make(map[string]model.ReservedSeat, len(taken))
	for _, rs := range taken {
		byKey[rs.Seat.Key()] = rs
	}

	views := make([]seatView, 0, h.SeatMap.Capacity())
	for _, t := range h.SeatMap.Tables() {
		for _, s := range t.Seats {
			v := seatView{Key: s.Key(), Table: t.Number, Seat: s.Number, Class: string(t.Class)}
			if rs, ok := byKey[v.Key]; ok {
				v.Occupied = true
				v.ReservationID = rs.ReservationID
				v.Person = rs.Person
				v.Meal = string(rs.Meal)
			}
			views = append(views, v)
		}
	}
	return c.JSON(http.StatusOK, echo.Map{
		"capacity": h.SeatMap.Capacity(),
		"occupied": len(taken),
		"seats":    views,
	})
}

type reservationView struct {
	ID      string `json:"id"`
	Name    string `json:"name"`
	SeatQty int    `json:"seatQty"`
	Seated  int    `json:"seated"`
}

// Reservations handles GET /v1/admin/reservations, the attendee list.
// Ids are rendered as strings so JSON clients keep all 64 bits.
func (h *AdminHandler) Reservations(c echo.Context) error {
	eng := h.Engine()
	if eng == nil {
		return c.JSON(http.StatusServiceUnavailable, echo.Map{"error": "store not ready"})
	}
	ctx := c.Request().Context()
	list, err := eng.Reservations(ctx)
	if err != nil {
		h.Logger.Error("list reservations", "err", err)
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "failed to list reservations"})
	}
	taken, err := eng.Occupancy(ctx)
	if err != nil {
		h.Logger.Error("list occupancy", "err", err)
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "failed to list reservations"})
	}
	seated := make(map[int64]int, len(list))
	for _, rs := range taken {
		seated[rs.ReservationID]++
	}

	views := make([]reservationView, 0, len(list))
	for _, r := range list {
		views = append(views, reservationView{
			ID:      strconv.FormatInt(r.ID, 10),
			Name:    r.Name,
			SeatQty: r.SeatQty,
			Seated:  seated[r.ID],
		})
	}
	return c.JSON(http.StatusOK, echo.Map{"reservations": views})
}

// DeleteReservation handles DELETE /v1/admin/reservations/:id.  Unknown
// ids are not an error.
func (h *AdminHandler) DeleteReservation(c echo.Context) error {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil || id <= 0 {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid reservation id"})
	}
	eng := h.Engine()
	if eng == nil {
		return c.JSON(http.StatusServiceUnavailable, echo.Map{"error": "store not ready"})
	}
	if err := eng.DeleteReservation(c.Request().Context(), id); err != nil {
		h.Logger.Error("delete reservation", "reservation_id", id, "err", err)
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "failed to delete reservation"})
	}
	h.Logger.Info("reservation deleted by admin", "reservation_id", id, "subject", c.Get("subject"))
	return c.NoContent(http.StatusNoContent)
}
