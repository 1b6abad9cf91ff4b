// Package database opens the reservation store connection.  The store is
// normally an embedded sqlite file inside the data directory; a MySQL
// server is supported for deployments that keep the store elsewhere.
package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "github.com/go-sql-driver/mysql"
	_ "modernc.org/sqlite"
)

// DBFileName is the sqlite file created inside the data directory.
const DBFileName = "attendees.db"

// ErrStoreUnavailable is returned when the store kept reporting a
// transient startup condition until the retry limit was reached.
var ErrStoreUnavailable = errors.New("store unavailable")

// Options controls how Open connects.
type Options struct {
	Driver      string        // "sqlite" (default) or "mysql"
	DSN         string        // overrides the sqlite path built from DataDir; required for mysql
	DataDir     string        // directory holding the sqlite file
	MaxAttempts int           // connection attempts before giving up; 0 retries until ctx is done
	Backoff     time.Duration // fixed delay between attempts
	Logger      *slog.Logger
}

// Open connects to the store and verifies the connection.  While the
// engine reports that it is still starting, Open waits Backoff and tries
// again; any other failure is returned immediately.
func Open(ctx context.Context, opts Options) (*sql.DB, Dialect, error) {
	dialect, dsn, err := resolve(opts)
	if err != nil {
		return nil, nil, err
	}
	connect := func(ctx context.Context) (*sql.DB, error) {
		db, err := sql.Open(dialect.Name(), dsn)
		if err != nil {
			return nil, err
		}
		dialect.configurePool(db)
		pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		defer cancel()
		if err := db.PingContext(pingCtx); err != nil {
			_ = db.Close()
			return nil, err
		}
		return db, nil
	}
	db, err := openWithRetry(ctx, opts, dialect, connect)
	if err != nil {
		return nil, nil, err
	}
	return db, dialect, nil
}

func resolve(opts Options) (Dialect, string, error) {
	switch strings.ToLower(strings.TrimSpace(opts.Driver)) {
	case "", "sqlite":
		dsn := opts.DSN
		if dsn == "" {
			if strings.TrimSpace(opts.DataDir) == "" {
				return nil, "", fmt.Errorf("data directory is required")
			}
			dir := filepath.Clean(opts.DataDir)
			if err := os.MkdirAll(dir, 0o755); err != nil {
				return nil, "", fmt.Errorf("create data dir: %w", err)
			}
			dsn = SQLiteDSN(filepath.Join(dir, DBFileName))
		}
		return sqliteDialect{}, dsn, nil
	case "mysql":
		if opts.DSN == "" {
			return nil, "", fmt.Errorf("mysql driver requires a DSN")
		}
		return mysqlDialect{}, opts.DSN, nil
	default:
		return nil, "", fmt.Errorf("unsupported store driver %q", opts.Driver)
	}
}

// SQLiteDSN returns the connection string used for a sqlite file.
// Write transactions begin IMMEDIATE so that a seat check and the
// following insert hold the write lock together.
func SQLiteDSN(path string) string {
	return path + "?_pragma=busy_timeout(10000)&_pragma=journal_mode(WAL)&_pragma=synchronous(NORMAL)&_txlock=immediate"
}

func openWithRetry(ctx context.Context, opts Options, dialect Dialect, connect func(context.Context) (*sql.DB, error)) (*sql.DB, error) {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	backoff := opts.Backoff
	if backoff <= 0 {
		backoff = time.Second
	}
	var lastErr error
	for attempt := 1; opts.MaxAttempts <= 0 || attempt <= opts.MaxAttempts; attempt++ {
		logger.Info("connecting to store", "driver", dialect.Name(), "attempt", attempt)
		db, err := connect(ctx)
		if err == nil {
			return db, nil
		}
		if !dialect.IsStarting(err) {
			return nil, fmt.Errorf("open %s store: %w", dialect.Name(), err)
		}
		lastErr = err
		logger.Warn("store still starting", "driver", dialect.Name(), "attempt", attempt, "retry_in", backoff, "err", err)
		select {
		case <-ctx.Done():
			return nil, fmt.Errorf("%w: %w", ErrStoreUnavailable, ctx.Err())
		case <-time.After(backoff):
		}
	}
	return nil, fmt.Errorf("%w after %d attempts: %w", ErrStoreUnavailable, opts.MaxAttempts, lastErr)
}
