package model

import (
	"encoding/binary"
	"fmt"
	"strings"

	"github.com/google/uuid"
)

// Reservation is a party's booking.  It is created by the first booking
// request and afterwards only ever deleted.
//
// Fields:
//
//	ID      – reservations.id; 64-bit, time-sortable.
//	Name    – reservations.name; the party name.
//	SeatQty – reservations.seatQty; upper bound on seats bound to it.
type Reservation struct {
	ID      int64
	Name    string
	SeatQty int
}

// NewReservationID returns a unique, time-sortable 64-bit identifier.
// It is the first eight bytes of a version 7 UUID: a 48-bit millisecond
// timestamp followed by the version nibble and a 12-bit monotonic
// sequence.  The high bit is zero for any date before year 6000, so the
// value is always positive.
func NewReservationID() (int64, error) {
	u, err := uuid.NewV7()
	if err != nil {
		return 0, fmt.Errorf("generate reservation id: %w", err)
	}
	return int64(binary.BigEndian.Uint64(u[:8])), nil
}

// Meal is the meal choice recorded for an occupant.
type Meal string

const (
	MealRegular    Meal = "REGULAR"
	MealChicken    Meal = "CHICKEN"
	MealFish       Meal = "FISH"
	MealVegetarian Meal = "VEGETARIAN"
)

// ParseMeal accepts a meal name case-insensitively.  An empty string is
// read as MealRegular.
func ParseMeal(s string) (Meal, error) {
	m := Meal(strings.ToUpper(strings.TrimSpace(s)))
	if m == "" {
		return MealRegular, nil
	}
	if !m.Valid() {
		return "", fmt.Errorf("unknown meal %q", s)
	}
	return m, nil
}

// Valid reports whether m is one of the known meals.
func (m Meal) Valid() bool {
	switch m {
	case MealRegular, MealChicken, MealFish, MealVegetarian:
		return true
	}
	return false
}

// SeatAssignment is one requested binding inside a reserve call.
type SeatAssignment struct {
	Table  int
	Seat   int
	Person string
	Meal   Meal
}

// Key returns the seat key the assignment targets.
func (a SeatAssignment) Key() string { return SeatKey(a.Table, a.Seat) }

// ReservedSeat binds a seat to a reservation together with the
// occupant's name and meal.  A seat key appears in at most one
// ReservedSeat across all reservations.
//
// Fields:
//
//	ReservationID – reserved_seats.reservationId.
//	Seat          – decoded reserved_seats.seatId.
//	Person        – reserved_seats.name.
//	Meal          – reserved_seats.mealEnum.
type ReservedSeat struct {
	ReservationID int64
	Seat          Seat
	Person        string
	Meal          Meal
}

// SeatState is the occupancy reported to seat-state subscribers.
type SeatState string

const (
	SeatOccupied SeatState = "occupied"
	SeatFree     SeatState = "free"
)

// SeatStateEvent signals that a seat changed occupancy.  It is emitted
// after a reservation commit or delete and relayed to the real-time
// broadcaster.
type SeatStateEvent struct {
	Seat          string    `json:"seat"`
	State         SeatState `json:"state"`
	ReservationID int64     `json:"reservation_id,omitempty"`
}
