// Package pending encodes the out-of-band reservation documents that are
// submitted to the remote store when direct writes are not possible and
// replayed into the store at startup.
//
// A document is two JSON lines.  The first is the reservation:
//
//	{"name":"Smith","seatQty":2,"reservationId":123}
//
// the second is a list of [tableNumber, seat] pairs:
//
//	[[1,{"reservation":{...},"seat":{"table":1,"number":2},"person":"Ann","meal":"FISH"}]]
package pending

import (
	"bufio"
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/iliyamo/event-seat-reservation/internal/model"
)

// ErrMalformedDocument is returned for input that is not a complete
// two-line document.
var ErrMalformedDocument = errors.New("malformed pending document")

// Reservation is the first line of a document.
type Reservation struct {
	Name          string `json:"name"`
	SeatQty       int    `json:"seatQty"`
	ReservationID int64  `json:"reservationId"`
}

// Seat is one seat binding as written in a document.
type Seat struct {
	Reservation Reservation `json:"reservation"`
	Seat        model.Seat  `json:"seat"`
	Person      string      `json:"person"`
	Meal        string      `json:"meal"`
}

// TableSeat pairs a table number with a seat.  On the wire it is a
// two-element array.
type TableSeat struct {
	Table int
	Seat  Seat
}

func (ts TableSeat) MarshalJSON() ([]byte, error) {
	return json.Marshal([2]any{ts.Table, ts.Seat})
}

func (ts *TableSeat) UnmarshalJSON(data []byte) error {
	var pair []json.RawMessage
	if err := json.Unmarshal(data, &pair); err != nil {
		return err
	}
	if len(pair) != 2 {
		return fmt.Errorf("want [table, seat] pair, got %d elements", len(pair))
	}
	if err := json.Unmarshal(pair[0], &ts.Table); err != nil {
		return fmt.Errorf("table number: %w", err)
	}
	if err := json.Unmarshal(pair[1], &ts.Seat); err != nil {
		return fmt.Errorf("seat: %w", err)
	}
	return nil
}

// Document is a decoded pending reservation.
type Document struct {
	Reservation Reservation
	Seats       []TableSeat
}

// FileName returns the remote object name used for a reservation's
// document.  It contains "json" so that it matches the pending filter.
func FileName(id int64) string {
	return fmt.Sprintf("pending-%d.json", id)
}

// New builds a document for res and assignments.
func New(res model.Reservation, assignments []model.SeatAssignment) Document {
	head := Reservation{Name: res.Name, SeatQty: res.SeatQty, ReservationID: res.ID}
	doc := Document{Reservation: head, Seats: make([]TableSeat, 0, len(assignments))}
	for _, a := range assignments {
		meal := a.Meal
		if meal == "" {
			meal = model.MealRegular
		}
		doc.Seats = append(doc.Seats, TableSeat{
			Table: a.Table,
			Seat: Seat{
				Reservation: head,
				Seat:        model.Seat{Table: a.Table, Number: a.Seat},
				Person:      a.Person,
				Meal:        string(meal),
			},
		})
	}
	return doc
}

// Model returns the reservation the document describes.
func (d Document) Model() model.Reservation {
	return model.Reservation{ID: d.Reservation.ReservationID, Name: d.Reservation.Name, SeatQty: d.Reservation.SeatQty}
}

// Assignments converts the seat list into engine assignments.  The seat
// position comes from the seat object; the pair's table number must
// agree with it, and every seat must carry the document's reservation id.
func (d Document) Assignments() ([]model.SeatAssignment, error) {
	out := make([]model.SeatAssignment, 0, len(d.Seats))
	for i, ts := range d.Seats {
		if id := ts.Seat.Reservation.ReservationID; id != d.Reservation.ReservationID {
			return nil, fmt.Errorf("%w: seat %d belongs to reservation %d, document is for %d",
				ErrMalformedDocument, i, id, d.Reservation.ReservationID)
		}
		if ts.Seat.Seat.Table != ts.Table {
			return nil, fmt.Errorf("%w: seat %d is on table %d but listed under table %d",
				ErrMalformedDocument, i, ts.Seat.Seat.Table, ts.Table)
		}
		meal, err := model.ParseMeal(ts.Seat.Meal)
		if err != nil {
			return nil, fmt.Errorf("%w: seat %d: %w", ErrMalformedDocument, i, err)
		}
		out = append(out, model.SeatAssignment{
			Table:  ts.Seat.Seat.Table,
			Seat:   ts.Seat.Seat.Number,
			Person: ts.Seat.Person,
			Meal:   meal,
		})
	}
	return out, nil
}

// Encode writes doc as two newline-terminated JSON lines.
func Encode(doc Document) ([]byte, error) {
	head, err := json.Marshal(doc.Reservation)
	if err != nil {
		return nil, err
	}
	seats := doc.Seats
	if seats == nil {
		seats = []TableSeat{}
	}
	body, err := json.Marshal(seats)
	if err != nil {
		return nil, err
	}
	var buf bytes.Buffer
	buf.Write(head)
	buf.WriteByte('\n')
	buf.Write(body)
	buf.WriteByte('\n')
	return buf.Bytes(), nil
}

// Decode parses a document.  Anything other than a reservation line with
// a positive id, a name and a positive seatQty followed by a seat list
// line yields ErrMalformedDocument.
func Decode(data []byte) (Document, error) {
	sc := bufio.NewScanner(bytes.NewReader(data))
	sc.Buffer(make([]byte, 0, 64*1024), 4<<20)
	var lines []string
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line != "" {
			lines = append(lines, line)
		}
	}
	if err := sc.Err(); err != nil {
		return Document{}, fmt.Errorf("%w: %w", ErrMalformedDocument, err)
	}
	if len(lines) != 2 {
		return Document{}, fmt.Errorf("%w: want 2 lines, got %d", ErrMalformedDocument, len(lines))
	}

	var doc Document
	if err := json.Unmarshal([]byte(lines[0]), &doc.Reservation); err != nil {
		return Document{}, fmt.Errorf("%w: reservation line: %w", ErrMalformedDocument, err)
	}
	doc.Reservation.Name = strings.TrimSpace(doc.Reservation.Name)
	r := doc.Reservation
	if r.ReservationID <= 0 || r.Name == "" || r.SeatQty < 1 {
		return Document{}, fmt.Errorf("%w: incomplete reservation %+v", ErrMalformedDocument, r)
	}
	if err := json.Unmarshal([]byte(lines[1]), &doc.Seats); err != nil {
		return Document{}, fmt.Errorf("%w: seat line: %w", ErrMalformedDocument, err)
	}
	return doc, nil
}
