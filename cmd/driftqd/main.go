// Package main implements the entry point for the driftq daemon, an
// offline-first task service that captures local mutations durably and
// pushes them to a remote endpoint in the background.
package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/driftq/driftq/internal/api"
	"github.com/driftq/driftq/internal/config"
	"github.com/driftq/driftq/internal/events"
	"github.com/driftq/driftq/internal/platform/logger"
	"github.com/driftq/driftq/internal/platform/postgres"
	"github.com/driftq/driftq/internal/ratelimit"
	"github.com/driftq/driftq/internal/retry"
	"github.com/driftq/driftq/internal/scheduler"
	"github.com/driftq/driftq/internal/store"
	"github.com/driftq/driftq/internal/syncer"
)

func main() {
	if err := run(); err != nil {
		log.Fatalf("driftqd: %v", err)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("loading configuration: %w", err)
	}

	appLogger := logger.Setup(cfg.Server.LogLevel)
	appLogger.Info("configuration loaded",
		"port", cfg.Server.Port,
		"log_level", cfg.Server.LogLevel,
		"concurrency_limit", cfg.Sync.ConcurrencyLimit,
		"durable_log", cfg.Database.URL != "")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// The operation log is the only persistent component. Without a
	// database URL the daemon still works, it just forgets queued
	// operations on restart.
	var opLog syncer.OperationLog
	if cfg.Database.URL != "" {
		db, err := postgres.Connect(ctx, cfg.Database.URL)
		if err != nil {
			return fmt.Errorf("connecting to database: %w", err)
		}
		defer func() { _ = db.Close() }()

		if err := postgres.Migrate(db); err != nil {
			return fmt.Errorf("migrating database: %w", err)
		}
		opLog = postgres.NewOperationLog(db)
	} else {
		appLogger.Warn("no database configured, using in-memory operation log")
		opLog = syncer.NewMemoryLog()
	}

	limiter, err := ratelimit.NewLimiter(cfg.Sync.RateLimit.Capacity, cfg.Sync.RateLimit.RefillPerSecond)
	if err != nil {
		return fmt.Errorf("building rate limiter: %w", err)
	}

	policy := retry.NewPolicy(retry.Config{
		MaxAttempts:   cfg.Sync.Retry.MaxAttempts,
		BaseDelay:     cfg.Sync.Retry.BaseDelay,
		MaxDelay:      cfg.Sync.Retry.MaxDelay,
		BackoffFactor: cfg.Sync.Retry.BackoffFactor,
		Jitter:        true,
	})

	emitter := events.NewInMemoryEmitter(appLogger)
	tasks := store.NewTaskStore(emitter, appLogger)
	sched := scheduler.New(scheduler.Config{Workers: cfg.Sync.ConcurrencyLimit}, appLogger)
	remote := syncer.NewHTTPRemote(cfg.Sync.RemoteURL, nil)

	manager := syncer.NewManager(tasks, opLog, sched, limiter, policy, remote,
		syncer.Config{CallTimeout: cfg.Sync.CallTimeout}, appLogger)
	emitter.Subscribe(manager)

	if err := manager.Start(ctx); err != nil {
		return fmt.Errorf("recovering operation log: %w", err)
	}

	// Surface abandoned operations; the log keeps them for inspection
	// and dismissal through the API.
	go func() {
		for n := range manager.Notifications() {
			appLogger.Warn("sync operation gave up",
				"seq", n.Op.Seq,
				"kind", string(n.Op.Kind),
				"task_id", n.Op.TaskID.String(),
				"error", n.Err.Error())
		}
	}()

	router := api.NewRouter(
		api.NewTaskHandler(tasks, appLogger),
		api.NewSyncHandler(opLog, appLogger),
	)
	server := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
	}

	serverErr := make(chan error, 1)
	go func() {
		appLogger.Info("http server listening", "addr", server.Addr)
		if err := server.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
	}()

	select {
	case err := <-serverErr:
		return fmt.Errorf("http server: %w", err)
	case <-ctx.Done():
	}

	appLogger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		appLogger.Error("http shutdown failed", "error", err)
	}

	// Give in-flight pushes a chance to finish; whatever remains is
	// re-submitted from the log on the next start.
	if err := manager.Drain(shutdownCtx); err != nil {
		appLogger.Warn("drain cut short, unfinished operations will recover on restart",
			"error", err)
	}
	sched.Stop()

	appLogger.Info("shutdown complete")
	return nil
}
