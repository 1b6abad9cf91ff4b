// Package bootstrap turns a loaded Config into the components shared by
// the server and the ops CLI.
package bootstrap

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/redis/go-redis/v9"

	"github.com/iliyamo/event-seat-reservation/internal/config"
	"github.com/iliyamo/event-seat-reservation/internal/database"
	"github.com/iliyamo/event-seat-reservation/internal/logging"
	"github.com/iliyamo/event-seat-reservation/internal/reconcile"
	"github.com/iliyamo/event-seat-reservation/internal/remote"
	"github.com/iliyamo/event-seat-reservation/internal/seatmap"
	"github.com/iliyamo/event-seat-reservation/internal/service"
)

// Logger builds the process logger.  Without LOG_FORMAT, dev gets text
// and everything else JSON.
func Logger(cfg config.Config) (*slog.Logger, error) {
	format := cfg.LogFormat
	if format == "" {
		format = "json"
		if cfg.IsDev() {
			format = "text"
		}
	}
	return logging.New(cfg.LogLevel, format)
}

// SeatMap parses SEAT_MAP.
func SeatMap(cfg config.Config) (*seatmap.Map, error) {
	m, err := seatmap.Parse(cfg.SeatMap)
	if err != nil {
		return nil, fmt.Errorf("SEAT_MAP: %w", err)
	}
	return m, nil
}

// StoreOptions maps the store settings onto database.Options.
func StoreOptions(cfg config.Config, logger *slog.Logger) database.Options {
	return database.Options{
		Driver:      strings.ToLower(cfg.Store.Driver),
		DSN:         cfg.Store.DSN,
		DataDir:     cfg.DataDir,
		MaxAttempts: cfg.Store.OpenAttempts,
		Backoff:     cfg.Store.OpenBackoff,
		Logger:      logger,
	}
}

// Remote builds the remote sync client for REMOTE_BACKEND.  It returns
// nil for the "none" backend.  rdb is used by the redis backend; when
// nil a client is created from cfg.Redis and closed by the returned
// cleanup func.
func Remote(ctx context.Context, cfg config.Config, rdb *redis.Client, logger *slog.Logger) (*remote.Sync, func(), error) {
	noop := func() {}
	var (
		store   remote.ObjectStore
		cleanup = noop
	)
	switch cfg.Remote.Backend {
	case config.BackendNone, "":
		return nil, noop, nil
	case config.BackendFS:
		fs, err := remote.NewFSStore(cfg.Remote.Dir)
		if err != nil {
			return nil, noop, err
		}
		store = fs
	case config.BackendRedis:
		if rdb == nil {
			c, err := config.NewRedisClient(ctx, cfg.Redis)
			if err != nil {
				return nil, noop, err
			}
			rdb = c
			cleanup = func() { _ = c.Close() }
		}
		store = remote.NewRedisStore(rdb, cfg.Remote.Prefix)
	case config.BackendDrive:
		ds, err := remote.NewDriveStore(ctx, remote.DriveCredentials{
			File: cfg.Remote.DriveCredentialsFile,
			JSON: []byte(cfg.Remote.DriveCredentialsJSON),
		})
		if err != nil {
			return nil, noop, err
		}
		store = ds
	default:
		return nil, noop, fmt.Errorf("unknown remote backend %q", cfg.Remote.Backend)
	}
	logger.Info("remote backend ready", "backend", cfg.Remote.Backend, "uploads", cfg.Remote.UploadDB)
	return remote.NewSync(store, remote.Options{
		UploadsEnabled: cfg.Remote.UploadDB,
		Timeout:        cfg.Remote.Timeout,
		Logger:         logger,
	}), cleanup, nil
}

// ReconcileOptions maps the sync settings onto reconcile.Options.
func ReconcileOptions(cfg config.Config, seats *seatmap.Map, notifier service.Notifier, logger *slog.Logger) reconcile.Options {
	return reconcile.Options{
		DataDir:          cfg.DataDir,
		BundlePath:       cfg.BundlePath,
		Folder:           cfg.Remote.Folder,
		DeleteReplayed:   cfg.Remote.DeleteReplayed,
		UploadIncomplete: cfg.Remote.UploadIncomplete,
		BackupOnStart:    cfg.Remote.BackupOnStart,
		Seats:            seats,
		Notifier:         notifier,
		Logger:           logger,
	}
}
