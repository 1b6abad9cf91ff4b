package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"
	"github.com/redis/go-redis/v9"

	"github.com/iliyamo/event-seat-reservation/internal/bootstrap"
	"github.com/iliyamo/event-seat-reservation/internal/broadcast"
	"github.com/iliyamo/event-seat-reservation/internal/config"
	"github.com/iliyamo/event-seat-reservation/internal/handler"
	"github.com/iliyamo/event-seat-reservation/internal/middleware"
	"github.com/iliyamo/event-seat-reservation/internal/queue"
	"github.com/iliyamo/event-seat-reservation/internal/reconcile"
	"github.com/iliyamo/event-seat-reservation/internal/remote"
	"github.com/iliyamo/event-seat-reservation/internal/router"
	"github.com/iliyamo/event-seat-reservation/internal/seatmap"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, "server:", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	logger, err := bootstrap.Logger(cfg)
	if err != nil {
		return err
	}
	slog.SetDefault(logger)

	seats, err := bootstrap.SeatMap(cfg)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	rdb := redisClient(ctx, cfg, logger)
	if rdb != nil {
		defer rdb.Close()
	}
	syncer, closeRemote, err := bootstrap.Remote(ctx, cfg, rdb, logger)
	if err != nil {
		return fmt.Errorf("remote backend: %w", err)
	}
	defer closeRemote()

	hub := broadcast.NewHub(logger)
	if cfg.SeatEventsEnabled {
		relay := queue.NewRelay(cfg.RabbitMQURL, cfg.SeatEventsBuffer, queue.DialAMQP, logger)
		hub.Subscribe("amqp-relay", relay.Enqueue)
		go relay.Run(ctx)
	}
	if cfg.SeatAuditEnabled {
		go func() {
			if err := queue.StartSeatAuditConsumer(ctx, cfg.RabbitMQURL, cfg.SeatAuditLog, logger); err != nil && !errors.Is(err, context.Canceled) {
				logger.Error("seat-audit consumer stopped", "err", err)
			}
		}()
	}

	rc := reconcile.New(
		bootstrap.ReconcileOptions(cfg, seats, hub, logger),
		syncer,
		reconcile.OpenStore(bootstrap.StoreOptions(cfg, logger), logger),
	)

	// The probes answer while reconciliation runs; admin store routes
	// return 503 until it is done.
	var ready atomic.Bool
	e := newServer(cfg, rc, seats, rdb, ready.Load, logger)
	serveErr := make(chan error, 1)
	go func() {
		addr := ":" + cfg.Port
		logger.Info("listening", "addr", addr, "env", cfg.Env)
		if err := e.Start(addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	if _, err := rc.Start(ctx); err != nil {
		shutdownHTTP(e, logger)
		return fmt.Errorf("startup: %w", err)
	}
	ready.Store(true)

	if cfg.Remote.BackupInterval > 0 {
		go backupLoop(ctx, rc, cfg.Remote.BackupInterval, logger)
	}

	var runErr error
	select {
	case <-ctx.Done():
		logger.Info("shutting down")
	case err, ok := <-serveErr:
		if ok {
			runErr = fmt.Errorf("http server: %w", err)
		}
	}
	shutdownHTTP(e, logger)

	flushCtx, cancel := context.WithTimeout(context.Background(), cfg.Remote.Timeout+30*time.Second)
	defer cancel()
	if err := rc.Shutdown(flushCtx); err != nil {
		return errors.Join(runErr, err)
	}
	logger.Info("stopped")
	return runErr
}

func newServer(cfg config.Config, rc *reconcile.Reconciler, seats *seatmap.Map, rdb *redis.Client, ready func() bool, logger *slog.Logger) *echo.Echo {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.Use(echomw.Recover())
	e.Use(echomw.RequestLoggerWithConfig(echomw.RequestLoggerConfig{
		LogMethod:  true,
		LogURI:     true,
		LogStatus:  true,
		LogLatency: true,
		LogValuesFunc: func(c echo.Context, v echomw.RequestLoggerValues) error {
			logger.Info("request", "method", v.Method, "uri", v.URI, "status", v.Status, "latency", v.Latency)
			return nil
		},
	}))

	router.RegisterRoutes(e, ready)
	if cfg.JWTSecret == "" {
		logger.Warn("JWT_SECRET is empty, admin endpoints are disabled")
		return e
	}
	engine := func() handler.Engine {
		rt := rc.Runtime()
		if rt == nil {
			return nil
		}
		return rt.Engine
	}
	admin := handler.NewAdminHandler(rc, engine, seats, logger)
	router.RegisterAdmin(e, admin, cfg.JWTSecret, middleware.NewTokenBucket(cfg.Throttle, rdb, logger))
	return e
}

// redisClient connects to Redis when the redis backend or the backup
// throttle needs it.  A throttle-only client that cannot connect is
// dropped and the throttle passes everything; the redis backend
// reports its own connection error later.
func redisClient(ctx context.Context, cfg config.Config, logger *slog.Logger) *redis.Client {
	if cfg.Remote.Backend != config.BackendRedis && !(cfg.Throttle.Enabled && cfg.JWTSecret != "") {
		return nil
	}
	rdb, err := config.NewRedisClient(ctx, cfg.Redis)
	if err != nil {
		logger.Warn("redis unavailable", "addr", cfg.Redis.Address(), "err", err)
		return nil
	}
	return rdb
}

func shutdownHTTP(e *echo.Echo, logger *slog.Logger) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := e.Shutdown(ctx); err != nil {
		logger.Error("http shutdown", "err", err)
	}
}

// backupLoop backs the store up every interval until ctx is done.
func backupLoop(ctx context.Context, rc *reconcile.Reconciler, interval time.Duration, logger *slog.Logger) {
	t := time.NewTicker(interval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			err := rc.Backup(ctx)
			switch {
			case err == nil, errors.Is(err, remote.ErrUploadsDisabled):
			case errors.Is(err, context.Canceled):
				return
			default:
				logger.Error("periodic backup failed", "err", err)
			}
		}
	}
}
