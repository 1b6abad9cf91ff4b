// Package service implements the allocation engine.  It validates a batch
// of seat assignments for one reservation and commits it atomically
// through the reservation store.
package service

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/iliyamo/event-seat-reservation/internal/model"
	"github.com/iliyamo/event-seat-reservation/internal/repository"
	"github.com/iliyamo/event-seat-reservation/internal/seatmap"
)

// DefaultMaxAttempts bounds how often a transaction that lost a write
// conflict is run again.
const DefaultMaxAttempts = 3

// Notifier receives seat-state changes after they are committed.
type Notifier interface {
	Publish(event model.SeatStateEvent)
}

// ReservationService is the allocation engine.  It holds no mutable
// state of its own; concurrent calls are serialized by store
// transactions.
type ReservationService struct {
	repo        *repository.ReservationRepo
	seats       *seatmap.Map
	notifier    Notifier
	logger      *slog.Logger
	maxAttempts int
}

// NewReservationService wires the engine.  notifier may be nil.
func NewReservationService(repo *repository.ReservationRepo, seats *seatmap.Map, notifier Notifier, logger *slog.Logger) *ReservationService {
	if logger == nil {
		logger = slog.Default()
	}
	return &ReservationService{
		repo:        repo,
		seats:       seats,
		notifier:    notifier,
		logger:      logger,
		maxAttempts: DefaultMaxAttempts,
	}
}

// Repo returns the store the engine writes to.
func (s *ReservationService) Repo() *repository.ReservationRepo { return s.repo }

// Reserve binds every assignment to the reservation in one transaction.
// A reservation with ID 0 gets a fresh id; a reservation that does not
// exist yet is created, and one that does is extended.  Either all
// seats are committed or none are.  The returned reservation is the one
// stored.
func (s *ReservationService) Reserve(ctx context.Context, res model.Reservation, assignments []model.SeatAssignment) (model.Reservation, error) {
	res.Name = strings.TrimSpace(res.Name)
	if res.Name == "" {
		return model.Reservation{}, fmt.Errorf("%w: party name is required", ErrInvalidReservation)
	}
	if res.SeatQty < 1 {
		return model.Reservation{}, fmt.Errorf("%w: seatQty must be positive", ErrInvalidReservation)
	}
	if len(assignments) > res.SeatQty {
		return model.Reservation{}, fmt.Errorf("%w: %d seats requested, seatQty is %d", ErrCapacityExceeded, len(assignments), res.SeatQty)
	}
	rows, err := s.validate(assignments)
	if err != nil {
		return model.Reservation{}, err
	}
	if res.ID == 0 {
		if res.ID, err = model.NewReservationID(); err != nil {
			return model.Reservation{}, err
		}
	}
	for i := range rows {
		rows[i].ReservationID = res.ID
	}

	var stored model.Reservation
	err = s.withRetry(ctx, "reserve", func(tx *sql.Tx) error {
		var err error
		stored, err = s.reserveTx(ctx, tx, res, rows)
		return err
	})
	if err != nil {
		return model.Reservation{}, err
	}

	s.logger.Info("seats reserved", "reservation_id", stored.ID, "name", stored.Name, "seats", len(rows))
	for _, r := range rows {
		s.notify(model.SeatStateEvent{Seat: r.Seat.Key(), State: model.SeatOccupied, ReservationID: stored.ID})
	}
	return stored, nil
}

// validate checks assignments against the seat map and converts them to
// store rows.
func (s *ReservationService) validate(assignments []model.SeatAssignment) ([]model.ReservedSeat, error) {
	rows := make([]model.ReservedSeat, 0, len(assignments))
	seen := make(map[string]struct{}, len(assignments))
	for _, a := range assignments {
		key := a.Key()
		if !s.seats.Contains(a.Table, a.Seat) {
			return nil, fmt.Errorf("%w: %s", ErrUnknownSeat, key)
		}
		meal := a.Meal
		if meal == "" {
			meal = model.MealRegular
		}
		if !meal.Valid() {
			return nil, fmt.Errorf("%w: %q for seat %s", ErrInvalidMeal, a.Meal, key)
		}
		if _, dup := seen[key]; dup {
			return nil, &SeatTakenError{Key: key}
		}
		seen[key] = struct{}{}
		rows = append(rows, model.ReservedSeat{
			Seat:   model.Seat{Table: a.Table, Number: a.Seat},
			Person: strings.TrimSpace(a.Person),
			Meal:   meal,
		})
	}
	return rows, nil
}

func (s *ReservationService) reserveTx(ctx context.Context, tx *sql.Tx, res model.Reservation, rows []model.ReservedSeat) (model.Reservation, error) {
	stored, err := s.repo.GetTx(ctx, tx, res.ID)
	switch {
	case errors.Is(err, repository.ErrReservationNotFound):
		if err := s.repo.CreateTx(ctx, tx, res); err != nil {
			return model.Reservation{}, err
		}
		stored = res
	case err != nil:
		return model.Reservation{}, err
	}

	booked, err := s.repo.CountSeatsTx(ctx, tx, stored.ID)
	if err != nil {
		return model.Reservation{}, err
	}
	if booked+len(rows) > stored.SeatQty {
		return model.Reservation{}, fmt.Errorf("%w: reservation %d holds %d of %d seats, %d requested",
			ErrNoSeatsLeftInReservation, stored.ID, booked, stored.SeatQty, len(rows))
	}

	for _, r := range rows {
		key := r.Seat.Key()
		holder, taken, err := s.repo.SeatHolderTx(ctx, tx, key)
		if err != nil {
			return model.Reservation{}, err
		}
		if taken {
			s.logger.Debug("seat held by another reservation", "seat", key, "holder", holder, "reservation_id", stored.ID)
			return model.Reservation{}, &SeatTakenError{Key: key}
		}
	}

	if err := s.repo.CreateSeatsBulkTx(ctx, tx, rows); err != nil {
		if errors.Is(err, repository.ErrDuplicateSeat) {
			return model.Reservation{}, fmt.Errorf("%w: %w", ErrSeatAlreadyTaken, err)
		}
		return model.Reservation{}, err
	}
	return stored, nil
}

// DeleteReservation removes the reservation and all of its seats in one
// transaction.  Deleting an unknown id is not an error.
func (s *ReservationService) DeleteReservation(ctx context.Context, id int64) error {
	var (
		released []string
		removed  bool
	)
	err := s.withRetry(ctx, "delete", func(tx *sql.Tx) error {
		keys, err := s.repo.SeatIDsTx(ctx, tx, id)
		if err != nil {
			return err
		}
		ok, err := s.repo.DeleteTx(ctx, tx, id)
		if err != nil {
			return err
		}
		released, removed = keys, ok
		return nil
	})
	if err != nil {
		return err
	}
	if !removed {
		return nil
	}
	s.logger.Info("reservation deleted", "reservation_id", id, "seats", len(released))
	for _, key := range released {
		s.notify(model.SeatStateEvent{Seat: key, State: model.SeatFree, ReservationID: id})
	}
	return nil
}

// Occupancy lists every reserved seat.
func (s *ReservationService) Occupancy(ctx context.Context) ([]model.ReservedSeat, error) {
	return s.repo.ListReservedSeats(ctx)
}

// Reservations lists every reservation in creation order.
func (s *ReservationService) Reservations(ctx context.Context) ([]model.Reservation, error) {
	return s.repo.List(ctx)
}

// SeatsOf lists the seats bound to one reservation.
func (s *ReservationService) SeatsOf(ctx context.Context, id int64) ([]model.ReservedSeat, error) {
	return s.repo.SeatsOf(ctx, id)
}

// withRetry runs fn in a write transaction and commits it.  When the
// store aborts the transaction because of a concurrent writer the whole
// transaction is run again, up to maxAttempts times.
func (s *ReservationService) withRetry(ctx context.Context, op string, fn func(tx *sql.Tx) error) error {
	var err error
	for attempt := 1; attempt <= s.maxAttempts; attempt++ {
		err = s.runTx(ctx, fn)
		if !errors.Is(err, repository.ErrWriteConflict) {
			return err
		}
		s.logger.Warn("write conflict, retrying", "op", op, "attempt", attempt, "err", err)
		if ctx.Err() != nil {
			return ctx.Err()
		}
	}
	return err
}

func (s *ReservationService) runTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := s.repo.Begin(ctx)
	if err != nil {
		return err
	}
	committed := false
	defer func() {
		if !committed {
			_ = tx.Rollback()
		}
	}()
	if err := fn(tx); err != nil {
		return err
	}
	if err := s.repo.Commit(tx); err != nil {
		return err
	}
	committed = true
	return nil
}

func (s *ReservationService) notify(ev model.SeatStateEvent) {
	if s.notifier == nil {
		return
	}
	s.notifier.Publish(ev)
}
