package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"tracient/internal/ledger"
	ledgermetrics "tracient/internal/ledger/metrics"
	"tracient/internal/platform/config"
	"tracient/internal/platform/httpserver"
	"tracient/internal/platform/logger"
	"tracient/internal/platform/postgres"
	platformredis "tracient/internal/platform/redis"
	syncsvc "tracient/internal/sync"
	"tracient/internal/sync/events"
	synchandler "tracient/internal/sync/handler"
	"tracient/internal/sync/lock"
	syncmetrics "tracient/internal/sync/metrics"
	"tracient/internal/wage/store"
)

// main wires high-level dependencies and keeps the process lifecycle small:
// every acquired resource (gateway session, orchestrator, DB, Kafka) is
// released on every exit path, including failures during initialization.
func main() {
	cfg := config.FromEnv()
	log := logger.New()

	if err := run(cfg, log); err != nil {
		log.Error("fatal", "error", err)
		os.Exit(1)
	}
}

func run(cfg config.Config, log *slog.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Wage store: Postgres when configured, in-memory otherwise.
	var wages store.Store
	db, err := postgres.Open(cfg.DB)
	if err != nil {
		return err
	}
	if db != nil {
		defer db.Close()
		wages = store.NewPostgres(db)
		log.Info("wage store ready", "backend", "postgres")
	} else {
		wages = store.NewMemory()
		log.Info("wage store ready", "backend", "memory")
	}

	// Optional distributed sweep lease.
	var sweepLock lock.SweepLock = lock.NewInProcess()
	redisClient, err := platformredis.New(cfg.Redis)
	if err != nil {
		return err
	}
	if redisClient != nil {
		defer redisClient.Close()
		sweepLock = lock.NewRedis(redisClient.Client, 2*cfg.Sync.PendingInterval)
		log.Info("sweep lock ready", "backend", "redis")
	}

	// Optional sync event publisher.
	publisher, err := events.NewKafka(cfg.Kafka, log)
	if err != nil {
		return err
	}
	defer publisher.Close()

	// Ledger gateway: initialization failure degrades to mock mode, it never
	// stops the process.
	gateway := ledger.New(cfg.Ledger, log, ledger.WithMetrics(ledgermetrics.New()))
	if err := gateway.Initialize(ctx); err != nil {
		return err
	}
	defer gateway.Close()

	orchestrator, err := syncsvc.New(wages, gateway, cfg.Sync, log,
		syncsvc.WithMetrics(syncmetrics.New()),
		syncsvc.WithEvents(publisher),
		syncsvc.WithSweepLock(sweepLock),
	)
	if err != nil {
		return err
	}
	go orchestrator.Run(ctx)

	handler := synchandler.New(orchestrator, gateway, wages, log, synchandler.WithEvents(publisher))

	router := chi.NewRouter()
	router.Use(chimiddleware.RequestID)
	router.Use(chimiddleware.Recoverer)
	handler.Register(router)
	handler.RegisterAdmin(router)
	router.Get("/healthz", handler.HandleHealthz)
	router.Handle("/metrics", promhttp.Handler())

	srv := httpserver.New(cfg.Server.Addr, router)
	serverErr := make(chan error, 1)
	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			serverErr <- err
		}
	}()

	log.Info("tracient sync service started",
		"addr", cfg.Server.Addr,
		"ledger_mock", gateway.Mock(),
		"pending_interval", cfg.Sync.PendingInterval,
		"retry_interval", cfg.Sync.RetryInterval,
	)

	select {
	case err := <-serverErr:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Warn("http shutdown incomplete", "error", err)
	}
	orchestrator.Wait()
	log.Info("tracient sync service stopped")
	return nil
}
