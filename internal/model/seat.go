package model

import (
	"errors"
	"fmt"
	"regexp"
	"strconv"
)

// Seat identifies one chair at a table.  A seat has no lifecycle of
// its own; it is owned by the Table that created it and is addressed
// by the pair (table number, seat number).
//
// Fields:
//
//	Table  – number of the owning table (1-based).
//	Number – position of the seat at the table, 1..capacity.
type Seat struct {
	Table  int `json:"table"`
	Number int `json:"number"`
}

// ErrInvalidSeatKey is returned by ParseSeatKey when the input does not
// follow the "S{table}-{seat}" encoding.
var ErrInvalidSeatKey = errors.New("invalid seat key")

var seatKeyPattern = regexp.MustCompile(`^S(\d+)-(\d+)$`)

// SeatKey encodes a seat as the canonical "S{table}-{seat}" string used
// as reserved_seats.seatId.
func SeatKey(table, seat int) string {
	return "S" + strconv.Itoa(table) + "-" + strconv.Itoa(seat)
}

// Key returns the canonical seat key for s.
func (s Seat) Key() string { return SeatKey(s.Table, s.Number) }

// String implements fmt.Stringer.
func (s Seat) String() string { return s.Key() }

// ParseSeatKey decodes a key produced by SeatKey.  Keys with leading
// zeros or zero components are rejected so that ParseSeatKey and
// SeatKey stay exact inverses.
func ParseSeatKey(key string) (Seat, error) {
	m := seatKeyPattern.FindStringSubmatch(key)
	if m == nil {
		return Seat{}, fmt.Errorf("%w: %q", ErrInvalidSeatKey, key)
	}
	table, err := strconv.Atoi(m[1])
	if err != nil {
		return Seat{}, fmt.Errorf("%w: %q", ErrInvalidSeatKey, key)
	}
	number, err := strconv.Atoi(m[2])
	if err != nil {
		return Seat{}, fmt.Errorf("%w: %q", ErrInvalidSeatKey, key)
	}
	s := Seat{Table: table, Number: number}
	if table < 1 || number < 1 || s.Key() != key {
		return Seat{}, fmt.Errorf("%w: %q", ErrInvalidSeatKey, key)
	}
	return s, nil
}
