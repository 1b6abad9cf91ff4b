package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/iliyamo/event-seat-reservation/internal/database"
	"github.com/iliyamo/event-seat-reservation/internal/model"
)

// ReservationRepo persists reservations and their reserved seats.  It
// exclusively owns the reservations and reserved_seats tables.  Methods
// with a Tx suffix run inside a transaction started by the caller via
// Begin; the caller must commit or roll back.  All other methods run
// their own statement against the pool.
type ReservationRepo struct {
	db      *sql.DB
	dialect database.Dialect
	logger  *slog.Logger
}

// NewReservationRepo returns a ReservationRepo bound to db.
func NewReservationRepo(db *sql.DB, dialect database.Dialect, logger *slog.Logger) *ReservationRepo {
	if logger == nil {
		logger = slog.Default()
	}
	return &ReservationRepo{db: db, dialect: dialect, logger: logger}
}

// DB exposes the underlying pool.
func (r *ReservationRepo) DB() *sql.DB { return r.db }

// Dialect returns the engine dialect the repo was opened with.
func (r *ReservationRepo) Dialect() database.Dialect { return r.dialect }

// Close closes the pool.
func (r *ReservationRepo) Close() error {
	if r == nil || r.db == nil {
		return nil
	}
	return r.db.Close()
}

// Begin starts a serializable write transaction.
func (r *ReservationRepo) Begin(ctx context.Context) (*sql.Tx, error) {
	tx, err := r.db.BeginTx(ctx, r.dialect.TxOptions())
	if err != nil {
		return nil, r.classify(fmt.Errorf("begin transaction: %w", err))
	}
	return tx, nil
}

// Commit commits tx.  A commit rejected by a concurrent writer is
// reported as ErrWriteConflict.
func (r *ReservationRepo) Commit(tx *sql.Tx) error {
	if err := tx.Commit(); err != nil {
		return r.classify(fmt.Errorf("commit: %w", err))
	}
	return nil
}

// Checkpoint flushes pending engine state into the data files so that
// an archive of the data directory is a consistent snapshot.
func (r *ReservationRepo) Checkpoint(ctx context.Context) error {
	return r.dialect.Checkpoint(ctx, r.db)
}

// classify maps lock conflicts onto ErrWriteConflict.
func (r *ReservationRepo) classify(err error) error {
	if err != nil && r.dialect.IsSerializationFailure(err) {
		return fmt.Errorf("%w: %w", ErrWriteConflict, err)
	}
	return err
}

// CheckReservation reports whether a reservation with id exists.
func (r *ReservationRepo) CheckReservation(ctx context.Context, id int64) (bool, error) {
	var n int
	err := r.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM reservations WHERE id = ?`, id).Scan(&n)
	if err != nil {
		return false, fmt.Errorf("check reservation %d: %w", id, err)
	}
	return n > 0, nil
}

// Get loads one reservation.
func (r *ReservationRepo) Get(ctx context.Context, id int64) (model.Reservation, error) {
	return getReservation(ctx, r.db, id)
}

// GetTx loads one reservation within tx.
func (r *ReservationRepo) GetTx(ctx context.Context, tx *sql.Tx, id int64) (model.Reservation, error) {
	res, err := getReservation(ctx, tx, id)
	return res, r.classify(err)
}

func getReservation(ctx context.Context, q database.Querier, id int64) (model.Reservation, error) {
	var res model.Reservation
	err := q.QueryRowContext(ctx, `SELECT id, name, seatQty FROM reservations WHERE id = ?`, id).
		Scan(&res.ID, &res.Name, &res.SeatQty)
	if errors.Is(err, sql.ErrNoRows) {
		return model.Reservation{}, ErrReservationNotFound
	}
	if err != nil {
		return model.Reservation{}, fmt.Errorf("get reservation %d: %w", id, err)
	}
	return res, nil
}

// List returns all reservations ordered by id, which is creation order.
func (r *ReservationRepo) List(ctx context.Context) ([]model.Reservation, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT id, name, seatQty FROM reservations ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("list reservations: %w", err)
	}
	defer rows.Close()

	var out []model.Reservation
	for rows.Next() {
		var res model.Reservation
		if err := rows.Scan(&res.ID, &res.Name, &res.SeatQty); err != nil {
			return nil, fmt.Errorf("scan reservation: %w", err)
		}
		out = append(out, res)
	}
	return out, rows.Err()
}

// CreateTx inserts res.  A reservation with the same id already present
// yields ErrReservationExists.
func (r *ReservationRepo) CreateTx(ctx context.Context, tx *sql.Tx, res model.Reservation) error {
	_, err := tx.ExecContext(ctx,
		`INSERT INTO reservations (id, name, seatQty) VALUES (?, ?, ?)`,
		res.ID, res.Name, res.SeatQty)
	if err != nil {
		if r.dialect.IsUniqueViolation(err) {
			return fmt.Errorf("%w: %d", ErrReservationExists, res.ID)
		}
		return r.classify(fmt.Errorf("insert reservation %d: %w", res.ID, err))
	}
	return nil
}

// CountSeatsTx returns how many seats are bound to reservation id.
func (r *ReservationRepo) CountSeatsTx(ctx context.Context, tx *sql.Tx, id int64) (int, error) {
	var n int
	err := tx.QueryRowContext(ctx, `SELECT COUNT(*) FROM reserved_seats WHERE reservationId = ?`, id).Scan(&n)
	if err != nil {
		return 0, r.classify(fmt.Errorf("count seats of %d: %w", id, err))
	}
	return n, nil
}

// SeatHolderTx looks a seat key up across all reservations and returns
// the reservation holding it.
func (r *ReservationRepo) SeatHolderTx(ctx context.Context, tx *sql.Tx, seatKey string) (int64, bool, error) {
	var holder int64
	err := tx.QueryRowContext(ctx, `SELECT reservationId FROM reserved_seats WHERE seatId = ?`, seatKey).Scan(&holder)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, r.classify(fmt.Errorf("lookup seat %s: %w", seatKey, err))
	}
	return holder, true, nil
}

// CreateSeatsBulkTx inserts multiple reserved_seats rows in a single
// statement.  Passing an empty slice has no effect and returns nil.
func (r *ReservationRepo) CreateSeatsBulkTx(ctx context.Context, tx *sql.Tx, seats []model.ReservedSeat) error {
	if len(seats) == 0 {
		return nil
	}
	var b strings.Builder
	b.WriteString(`INSERT INTO reserved_seats (reservationId, seatId, name, mealEnum) VALUES `)
	args := make([]any, 0, len(seats)*4)
	for i, s := range seats {
		if i > 0 {
			b.WriteString(",")
		}
		b.WriteString("(?, ?, ?, ?)")
		args = append(args, s.ReservationID, s.Seat.Key(), s.Person, string(s.Meal))
	}
	if _, err := tx.ExecContext(ctx, b.String(), args...); err != nil {
		if r.dialect.IsUniqueViolation(err) {
			return fmt.Errorf("%w: %w", ErrDuplicateSeat, err)
		}
		return r.classify(fmt.Errorf("insert reserved seats: %w", err))
	}
	return nil
}

// SeatIDsTx returns the seat keys bound to reservation id.
func (r *ReservationRepo) SeatIDsTx(ctx context.Context, tx *sql.Tx, id int64) ([]string, error) {
	rows, err := tx.QueryContext(ctx, `SELECT seatId FROM reserved_seats WHERE reservationId = ? ORDER BY seatId`, id)
	if err != nil {
		return nil, r.classify(fmt.Errorf("list seats of %d: %w", id, err))
	}
	defer rows.Close()
	var keys []string
	for rows.Next() {
		var k string
		if err := rows.Scan(&k); err != nil {
			return nil, err
		}
		keys = append(keys, k)
	}
	return keys, r.classify(rows.Err())
}

// DeleteTx removes the reservation's seats and then the reservation.
// It reports whether a reservation row was removed; an unknown id is
// not an error.
func (r *ReservationRepo) DeleteTx(ctx context.Context, tx *sql.Tx, id int64) (bool, error) {
	if _, err := tx.ExecContext(ctx, `DELETE FROM reserved_seats WHERE reservationId = ?`, id); err != nil {
		return false, r.classify(fmt.Errorf("delete seats of %d: %w", id, err))
	}
	res, err := tx.ExecContext(ctx, `DELETE FROM reservations WHERE id = ?`, id)
	if err != nil {
		return false, r.classify(fmt.Errorf("delete reservation %d: %w", id, err))
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// SeatsOf returns the seats bound to reservation id.
func (r *ReservationRepo) SeatsOf(ctx context.Context, id int64) ([]model.ReservedSeat, error) {
	return r.querySeats(ctx,
		`SELECT reservationId, seatId, name, mealEnum FROM reserved_seats WHERE reservationId = ? ORDER BY seatId`, id)
}

// ListReservedSeats returns every reserved seat in the store.
func (r *ReservationRepo) ListReservedSeats(ctx context.Context) ([]model.ReservedSeat, error) {
	return r.querySeats(ctx,
		`SELECT reservationId, seatId, name, mealEnum FROM reserved_seats ORDER BY reservationId, seatId`)
}

func (r *ReservationRepo) querySeats(ctx context.Context, query string, args ...any) ([]model.ReservedSeat, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query reserved seats: %w", err)
	}
	defer rows.Close()

	var out []model.ReservedSeat
	for rows.Next() {
		var (
			rs   model.ReservedSeat
			key  string
			meal string
		)
		if err := rows.Scan(&rs.ReservationID, &key, &rs.Person, &meal); err != nil {
			return nil, fmt.Errorf("scan reserved seat: %w", err)
		}
		seat, err := model.ParseSeatKey(key)
		if err != nil {
			r.logger.Error("skipping reserved seat with bad key", "reservation_id", rs.ReservationID, "seat_id", key, "err", err)
			continue
		}
		rs.Seat = seat
		rs.Meal = model.Meal(meal)
		out = append(out, rs)
	}
	return out, rows.Err()
}
