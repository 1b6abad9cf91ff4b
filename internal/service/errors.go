package service

import (
	"errors"
	"fmt"
)

// Allocation errors.  They are returned to the caller unchanged so that a
// booking conflict can be reported to the person who requested it.
var (
	// ErrSeatAlreadyTaken means a requested seat is bound to some
	// reservation.  The whole batch was rejected.
	ErrSeatAlreadyTaken = errors.New("seat already taken")
	// ErrCapacityExceeded means a single request named more seats than
	// the reservation's seatQty.
	ErrCapacityExceeded = errors.New("capacity exceeded")
	// ErrNoSeatsLeftInReservation means the reservation already holds
	// seats and the batch would take it past seatQty.
	ErrNoSeatsLeftInReservation = errors.New("no seats left in reservation")
	ErrUnknownSeat              = errors.New("unknown seat")
	ErrInvalidMeal              = errors.New("invalid meal")
	ErrInvalidReservation       = errors.New("invalid reservation")
)

// SeatTakenError names the seat that caused a batch to be rejected.  It
// matches ErrSeatAlreadyTaken with errors.Is.
type SeatTakenError struct {
	Key string
}

func (e *SeatTakenError) Error() string {
	if e.Key == "" {
		return ErrSeatAlreadyTaken.Error()
	}
	return fmt.Sprintf("%s: %s", ErrSeatAlreadyTaken, e.Key)
}

func (e *SeatTakenError) Is(target error) bool { return target == ErrSeatAlreadyTaken }
