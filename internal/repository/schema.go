package repository

import (
	"context"
	"fmt"
)

// Table names owned by the store.
const (
	TableReservations  = "reservations"
	TableReservedSeats = "reserved_seats"
)

type tableDef struct {
	name string
	ddl  string
}

// The column types are understood by both sqlite and MySQL.  UNIQUE
// (seatId) backs the allocation engine's existence check.
var schema = []tableDef{
	{
		name: TableReservations,
		ddl: `CREATE TABLE reservations (
    id      BIGINT       NOT NULL PRIMARY KEY,
    name    VARCHAR(256) NOT NULL,
    seatQty INT          NOT NULL
)`,
	},
	{
		name: TableReservedSeats,
		ddl: `CREATE TABLE reserved_seats (
    reservationId BIGINT       NOT NULL,
    seatId        VARCHAR(32)  NOT NULL,
    name          VARCHAR(256) NOT NULL,
    mealEnum      VARCHAR(20)  NOT NULL,
    PRIMARY KEY (reservationId, seatId),
    UNIQUE (seatId)
)`,
	},
}

// EnsureSchema creates every missing table and returns the names of the
// tables it created.  A non-empty result means the store was freshly
// bootstrapped.
func (r *ReservationRepo) EnsureSchema(ctx context.Context) ([]string, error) {
	var created []string
	for _, t := range schema {
		exists, err := r.dialect.TableExists(ctx, r.db, t.name)
		if err != nil {
			return created, err
		}
		if exists {
			continue
		}
		tx, err := r.db.BeginTx(ctx, nil)
		if err != nil {
			return created, fmt.Errorf("begin create %s: %w", t.name, err)
		}
		if _, err := tx.ExecContext(ctx, t.ddl); err != nil {
			_ = tx.Rollback()
			return created, fmt.Errorf("create table %s: %w", t.name, err)
		}
		if err := tx.Commit(); err != nil {
			return created, fmt.Errorf("commit create %s: %w", t.name, err)
		}
		r.logger.Info("created table", "table", t.name)
		created = append(created, t.name)
	}
	return created, nil
}
