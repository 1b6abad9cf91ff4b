// Package seatmap holds the static catalog of tables and seats for an
// event.  A Map is built once at process start from configuration and is
// shared read-only by every request.
package seatmap

import (
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/iliyamo/event-seat-reservation/internal/model"
)

// TableSpec is one configured table.
type TableSpec struct {
	Number int
	Class  model.CapacityClass
}

// Map is an immutable lookup of tables by number.
type Map struct {
	tables []model.Table
	byNum  map[int]int
}

// New builds a Map from specs.  Table numbers must be positive and
// unique and every class must have a seat count.
func New(specs []TableSpec) (*Map, error) {
	sorted := append([]TableSpec(nil), specs...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Number < sorted[j].Number })

	m := &Map{
		tables: make([]model.Table, 0, len(sorted)),
		byNum:  make(map[int]int, len(sorted)),
	}
	for _, s := range sorted {
		if s.Number < 1 {
			return nil, fmt.Errorf("table number must be positive, got %d", s.Number)
		}
		if s.Class.Seats() == 0 {
			return nil, fmt.Errorf("table %d: unknown capacity class %q", s.Number, s.Class)
		}
		if _, dup := m.byNum[s.Number]; dup {
			return nil, fmt.Errorf("table %d configured twice", s.Number)
		}
		m.byNum[s.Number] = len(m.tables)
		m.tables = append(m.tables, model.NewTable(s.Number, s.Class))
	}
	return m, nil
}

// Parse builds a Map from a comma separated list of "N:class" or
// "A-B:class" items, e.g. "1-12:small,13-16:large".
func Parse(spec string) (*Map, error) {
	var specs []TableSpec
	for _, item := range strings.Split(spec, ",") {
		item = strings.TrimSpace(item)
		if item == "" {
			continue
		}
		rng, cls, ok := strings.Cut(item, ":")
		if !ok {
			return nil, fmt.Errorf("seat map item %q: want N:class or A-B:class", item)
		}
		class, err := model.ParseCapacityClass(cls)
		if err != nil {
			return nil, fmt.Errorf("seat map item %q: %w", item, err)
		}
		lo, hi, err := parseRange(rng)
		if err != nil {
			return nil, fmt.Errorf("seat map item %q: %w", item, err)
		}
		for n := lo; n <= hi; n++ {
			specs = append(specs, TableSpec{Number: n, Class: class})
		}
	}
	if len(specs) == 0 {
		return nil, fmt.Errorf("seat map is empty")
	}
	return New(specs)
}

func parseRange(s string) (int, int, error) {
	a, b, isRange := strings.Cut(strings.TrimSpace(s), "-")
	lo, err := strconv.Atoi(strings.TrimSpace(a))
	if err != nil {
		return 0, 0, fmt.Errorf("bad table number %q", a)
	}
	if !isRange {
		return lo, lo, nil
	}
	hi, err := strconv.Atoi(strings.TrimSpace(b))
	if err != nil {
		return 0, 0, fmt.Errorf("bad table number %q", b)
	}
	if hi < lo {
		return 0, 0, fmt.Errorf("empty table range %d-%d", lo, hi)
	}
	return lo, hi, nil
}

// TableCount returns the number of configured tables.
func (m *Map) TableCount() int { return len(m.tables) }

// Tables returns the tables ordered by number.  The slice is a copy;
// the tables themselves must not be modified.
func (m *Map) Tables() []model.Table {
	return append([]model.Table(nil), m.tables...)
}

// Table returns the table with the given number.
func (m *Map) Table(number int) (model.Table, bool) {
	i, ok := m.byNum[number]
	if !ok {
		return model.Table{}, false
	}
	return m.tables[i], true
}

// SeatsOf returns the seats of a table, or false when the table does
// not exist.
func (m *Map) SeatsOf(table int) ([]model.Seat, bool) {
	t, ok := m.Table(table)
	if !ok {
		return nil, false
	}
	return append([]model.Seat(nil), t.Seats...), true
}

// FindTable returns the table owning seat.
func (m *Map) FindTable(seat model.Seat) (model.Table, bool) {
	t, ok := m.Table(seat.Table)
	if !ok || !t.Has(seat.Number) {
		return model.Table{}, false
	}
	return t, true
}

// Contains reports whether (table, seat) names a configured seat.
func (m *Map) Contains(table, seat int) bool {
	_, ok := m.FindTable(model.Seat{Table: table, Number: seat})
	return ok
}

// Capacity returns the total number of seats across all tables.
func (m *Map) Capacity() int {
	n := 0
	for _, t := range m.tables {
		n += t.Capacity()
	}
	return n
}
