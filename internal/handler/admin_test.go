package handler

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/iliyamo/event-seat-reservation/internal/model"
	"github.com/iliyamo/event-seat-reservation/internal/reconcile"
	"github.com/iliyamo/event-seat-reservation/internal/remote"
	"github.com/iliyamo/event-seat-reservation/internal/seatmap"
)

type fakeBackups struct {
	err   error
	calls int
}

func (f *fakeBackups) Backup(context.Context) error {
	f.calls++
	return f.err
}

type fakeEngine struct {
	seats    []model.ReservedSeat
	list     []model.Reservation
	deleted  []int64
	failWith error
}

func (f *fakeEngine) Occupancy(context.Context) ([]model.ReservedSeat, error) {
	return f.seats, f.failWith
}

func (f *fakeEngine) Reservations(context.Context) ([]model.Reservation, error) {
	return f.list, f.failWith
}

func (f *fakeEngine) DeleteReservation(_ context.Context, id int64) error {
	f.deleted = append(f.deleted, id)
	return f.failWith
}

func newTestServer(t *testing.T, b Backupper, eng *fakeEngine) *echo.Echo {
	t.Helper()
	seats, err := seatmap.Parse("1:small,2:small")
	require.NoError(t, err)

	engine := func() Engine { return nil }
	if eng != nil {
		engine = func() Engine { return eng }
	}
	h := NewAdminHandler(b, engine, seats, slog.New(slog.NewTextHandler(io.Discard, nil)))

	e := echo.New()
	e.GET("/healthz", Health)
	e.POST("/v1/admin/backup", h.Backup)
	e.GET("/v1/admin/seats", h.Seats)
	e.GET("/v1/admin/reservations", h.Reservations)
	e.DELETE("/v1/admin/reservations/:id", h.DeleteReservation)
	return e
}

func serve(e *echo.Echo, method, path string) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, httptest.NewRequest(method, path, nil))
	return rec
}

func TestHealth(t *testing.T) {
	e := newTestServer(t, &fakeBackups{}, nil)
	rec := serve(e, http.MethodGet, "/healthz")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "ok", rec.Body.String())
}

func TestReady(t *testing.T) {
	ready := false
	e := echo.New()
	e.GET("/readyz", Ready(func() bool { return ready }))

	assert.Equal(t, http.StatusServiceUnavailable, serve(e, http.MethodGet, "/readyz").Code)
	ready = true
	assert.Equal(t, http.StatusOK, serve(e, http.MethodGet, "/readyz").Code)
}

func TestBackupStatusMapping(t *testing.T) {
	syncErr := &remote.SyncError{Op: "upload", Name: "attendees.tar.gz", Err: errors.New("quota exceeded")}
	cases := []struct {
		name string
		err  error
		code int
	}{
		{"uploaded", nil, http.StatusOK},
		{"read-only", remote.ErrUploadsDisabled, http.StatusOK},
		{"not started", reconcile.ErrNotStarted, http.StatusServiceUnavailable},
		{"incomplete", fmt.Errorf("%w: 1 files failed", reconcile.ErrIncompleteBundle), http.StatusInternalServerError},
		{"remote", fmt.Errorf("upload: %w", syncErr), http.StatusBadGateway},
		{"other", errors.New("disk full"), http.StatusInternalServerError},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			b := &fakeBackups{err: tc.err}
			rec := serve(newTestServer(t, b, &fakeEngine{}), http.MethodPost, "/v1/admin/backup")
			assert.Equal(t, tc.code, rec.Code)
			assert.Equal(t, 1, b.calls)
		})
	}
}

func TestSeatsListsOccupancy(t *testing.T) {
	eng := &fakeEngine{seats: []model.ReservedSeat{
		{ReservationID: 7, Seat: model.Seat{Table: 2, Number: 3}, Person: "Liz", Meal: model.MealFish},
	}}
	rec := serve(newTestServer(t, &fakeBackups{}, eng), http.MethodGet, "/v1/admin/seats")
	require.Equal(t, http.StatusOK, rec.Code)

	var body struct {
		Capacity int        `json:"capacity"`
		Occupied int        `json:"occupied"`
		Seats    []seatView `json:"seats"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, 8, body.Capacity)
	assert.Equal(t, 1, body.Occupied)
	require.Len(t, body.Seats, 8)
	assert.Equal(t, "S1-1", body.Seats[0].Key)
	assert.False(t, body.Seats[0].Occupied)

	liz := body.Seats[6]
	assert.Equal(t, "S2-3", liz.Key)
	assert.True(t, liz.Occupied)
	assert.Equal(t, int64(7), liz.ReservationID)
	assert.Equal(t, "FISH", liz.Meal)
}

func TestReservationsCountsSeated(t *testing.T) {
	eng := &fakeEngine{
		list: []model.Reservation{{ID: 7, Name: "Judith", SeatQty: 3}, {ID: 9, Name: "John", SeatQty: 1}},
		seats: []model.ReservedSeat{
			{ReservationID: 7, Seat: model.Seat{Table: 1, Number: 1}},
			{ReservationID: 7, Seat: model.Seat{Table: 1, Number: 2}},
		},
	}
	rec := serve(newTestServer(t, &fakeBackups{}, eng), http.MethodGet, "/v1/admin/reservations")
	require.Equal(t, http.StatusOK, rec.Code)

	var body struct {
		Reservations []reservationView `json:"reservations"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, []reservationView{
		{ID: "7", Name: "Judith", SeatQty: 3, Seated: 2},
		{ID: "9", Name: "John", SeatQty: 1, Seated: 0},
	}, body.Reservations)
}

func TestDeleteReservation(t *testing.T) {
	eng := &fakeEngine{}
	e := newTestServer(t, &fakeBackups{}, eng)

	assert.Equal(t, http.StatusNoContent, serve(e, http.MethodDelete, "/v1/admin/reservations/42").Code)
	assert.Equal(t, []int64{42}, eng.deleted)

	assert.Equal(t, http.StatusBadRequest, serve(e, http.MethodDelete, "/v1/admin/reservations/abc").Code)
	assert.Equal(t, http.StatusBadRequest, serve(e, http.MethodDelete, "/v1/admin/reservations/-1").Code)
	assert.Len(t, eng.deleted, 1)

	eng.failWith = errors.New("store closed")
	assert.Equal(t, http.StatusInternalServerError, serve(e, http.MethodDelete, "/v1/admin/reservations/42").Code)
}

func TestStoreEndpointsBeforeStart(t *testing.T) {
	e := newTestServer(t, &fakeBackups{}, nil)
	assert.Equal(t, http.StatusServiceUnavailable, serve(e, http.MethodGet, "/v1/admin/seats").Code)
	assert.Equal(t, http.StatusServiceUnavailable, serve(e, http.MethodGet, "/v1/admin/reservations").Code)
	assert.Equal(t, http.StatusServiceUnavailable, serve(e, http.MethodDelete, "/v1/admin/reservations/1").Code)
}
