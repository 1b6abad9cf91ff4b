// Package repository defines error types that are reused across the
// reservation store.  These sentinel values allow higher layers such as
// the allocation engine to tell apart the failure scenarios of a write.
// ErrDuplicateSeat in particular signals that the database-level
// uniqueness constraint on reserved_seats.seatId rejected an insert,
// while ErrWriteConflict indicates that the engine aborted the
// transaction because a concurrent transaction held the rows.
package repository

import "errors"

// ErrReservationNotFound is returned when no reservation has the
// requested id.
var ErrReservationNotFound = errors.New("reservation not found")

// ErrReservationExists is returned when inserting a reservation whose
// id is already present.
var ErrReservationExists = errors.New("reservation already exists")

// ErrDuplicateSeat is returned when the unique constraint on seatId
// rejects an insert.
var ErrDuplicateSeat = errors.New("seat already reserved")

// ErrWriteConflict is returned when the transaction lost a lock
// conflict.  The caller may retry the whole transaction.
var ErrWriteConflict = errors.New("write conflict")
