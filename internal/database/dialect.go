package database

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"errors"
	"fmt"
	"net"
	"syscall"
	"time"

	"github.com/go-sql-driver/mysql"
	msqlite "modernc.org/sqlite"
	sqlite3lib "modernc.org/sqlite/lib"
)

// Querier is satisfied by *sql.DB and *sql.Tx.
type Querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// Dialect captures what differs between the supported engines: how
// write transactions are isolated and how driver errors are classified.
// Classification always uses driver error codes, never message text.
type Dialect interface {
	// Name is the database/sql driver name.
	Name() string
	// TxOptions returns the options for a serializable write transaction.
	TxOptions() *sql.TxOptions
	// TableExists reports whether table is present.
	TableExists(ctx context.Context, q Querier, table string) (bool, error)
	// IsUniqueViolation reports a primary key or unique constraint failure.
	IsUniqueViolation(err error) bool
	// IsSerializationFailure reports a lock conflict that aborted the
	// transaction; the whole transaction may be retried.
	IsSerializationFailure(err error) bool
	// IsStarting reports a transient condition seen while the engine is
	// still coming up.
	IsStarting(err error) bool
	// Checkpoint makes the on-disk files self-contained before they are
	// archived.
	Checkpoint(ctx context.Context, db *sql.DB) error

	configurePool(db *sql.DB)
}

type sqliteDialect struct{}

func (sqliteDialect) Name() string { return "sqlite" }

// The DSN already sets _txlock=immediate; sqlite transactions are
// serializable by construction.
func (sqliteDialect) TxOptions() *sql.TxOptions { return nil }

func (sqliteDialect) TableExists(ctx context.Context, q Querier, table string) (bool, error) {
	var n int
	err := q.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM sqlite_master WHERE type = 'table' AND name = ?`, table).Scan(&n)
	if err != nil {
		return false, fmt.Errorf("lookup table %s: %w", table, err)
	}
	return n > 0, nil
}

func sqliteCode(err error) (int, bool) {
	var e *msqlite.Error
	if errors.As(err, &e) {
		return e.Code(), true
	}
	return 0, false
}

func (sqliteDialect) IsUniqueViolation(err error) bool {
	code, ok := sqliteCode(err)
	if !ok {
		return false
	}
	return code == sqlite3lib.SQLITE_CONSTRAINT_UNIQUE || code == sqlite3lib.SQLITE_CONSTRAINT_PRIMARYKEY
}

func (sqliteDialect) IsSerializationFailure(err error) bool {
	code, ok := sqliteCode(err)
	if !ok {
		return false
	}
	primary := code & 0xff
	return primary == sqlite3lib.SQLITE_BUSY || primary == sqlite3lib.SQLITE_LOCKED
}

func (d sqliteDialect) IsStarting(err error) bool {
	return d.IsSerializationFailure(err)
}

func (sqliteDialect) Checkpoint(ctx context.Context, db *sql.DB) error {
	if _, err := db.ExecContext(ctx, `PRAGMA wal_checkpoint(TRUNCATE)`); err != nil {
		return fmt.Errorf("wal checkpoint: %w", err)
	}
	return nil
}

func (sqliteDialect) configurePool(db *sql.DB) {
	db.SetMaxOpenConns(8)
	db.SetMaxIdleConns(8)
}

// MySQL server error numbers used for classification.
const (
	mysqlErrDupEntry        = 1062
	mysqlErrNoSuchTable     = 1146
	mysqlErrLockWaitTimeout = 1205
	mysqlErrLockDeadlock    = 1213
	mysqlErrServerShutdown  = 1053
	mysqlErrConCount        = 1040
)

type mysqlDialect struct{}

func (mysqlDialect) Name() string { return "mysql" }

func (mysqlDialect) TxOptions() *sql.TxOptions {
	return &sql.TxOptions{Isolation: sql.LevelSerializable}
}

func (mysqlDialect) TableExists(ctx context.Context, q Querier, table string) (bool, error) {
	var one int
	err := q.QueryRowContext(ctx, "SELECT 1 FROM "+table+" LIMIT 1").Scan(&one)
	switch {
	case err == nil, errors.Is(err, sql.ErrNoRows):
		return true, nil
	case isMySQLError(err, mysqlErrNoSuchTable):
		return false, nil
	default:
		return false, fmt.Errorf("probe table %s: %w", table, err)
	}
}

func isMySQLError(err error, numbers ...uint16) bool {
	var e *mysql.MySQLError
	if !errors.As(err, &e) {
		return false
	}
	for _, n := range numbers {
		if e.Number == n {
			return true
		}
	}
	return false
}

func (mysqlDialect) IsUniqueViolation(err error) bool {
	return isMySQLError(err, mysqlErrDupEntry)
}

func (mysqlDialect) IsSerializationFailure(err error) bool {
	return isMySQLError(err, mysqlErrLockDeadlock, mysqlErrLockWaitTimeout)
}

func (mysqlDialect) IsStarting(err error) bool {
	if errors.Is(err, driver.ErrBadConn) || errors.Is(err, mysql.ErrInvalidConn) {
		return true
	}
	if errors.Is(err, syscall.ECONNREFUSED) || errors.Is(err, syscall.ECONNRESET) {
		return true
	}
	var opErr *net.OpError
	if errors.As(err, &opErr) && opErr.Op == "dial" {
		return true
	}
	return isMySQLError(err, mysqlErrServerShutdown, mysqlErrConCount)
}

func (mysqlDialect) Checkpoint(context.Context, *sql.DB) error { return nil }

func (mysqlDialect) configurePool(db *sql.DB) {
	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(25)
	db.SetConnMaxLifetime(30 * time.Minute)
}
