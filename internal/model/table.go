package model

import (
	"fmt"
	"strings"
)

// CapacityClass is the size category of a table.  Each class maps to a
// fixed number of seats.
type CapacityClass string

const (
	// ClassSmall tables seat four guests.
	ClassSmall CapacityClass = "small"
	// ClassLarge tables seat eight guests.
	ClassLarge CapacityClass = "large"
)

// Seats returns the number of seats a table of this class holds, or 0
// for an unknown class.
func (c CapacityClass) Seats() int {
	switch c {
	case ClassSmall:
		return 4
	case ClassLarge:
		return 8
	default:
		return 0
	}
}

// ParseCapacityClass accepts the class names case-insensitively.  The
// seat counts "4" and "8" are accepted as aliases.
func ParseCapacityClass(s string) (CapacityClass, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "small", "4":
		return ClassSmall, nil
	case "large", "8":
		return ClassLarge, nil
	default:
		return "", fmt.Errorf("unknown capacity class %q", s)
	}
}

// Table is a numbered table and the seats created for it.  Tables are
// built once from configuration and never mutated afterwards.
//
// Fields:
//
//	Number – unique, positive table number.
//	Class  – capacity class deciding the seat count.
//	Seats  – seats 1..capacity in order.
type Table struct {
	Number int
	Class  CapacityClass
	Seats  []Seat
}

// NewTable creates a table and its seats.
func NewTable(number int, class CapacityClass) Table {
	n := class.Seats()
	seats := make([]Seat, n)
	for i := range seats {
		seats[i] = Seat{Table: number, Number: i + 1}
	}
	return Table{Number: number, Class: class, Seats: seats}
}

// Capacity returns the number of seats at the table.
func (t Table) Capacity() int { return len(t.Seats) }

// Has reports whether seat number n exists at this table.
func (t Table) Has(n int) bool { return n >= 1 && n <= len(t.Seats) }
