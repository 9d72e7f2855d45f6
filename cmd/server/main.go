package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/stemsi/exstem-engine/internal/config"
	"github.com/stemsi/exstem-engine/internal/connectivity"
	"github.com/stemsi/exstem-engine/internal/database"
	"github.com/stemsi/exstem-engine/internal/handler"
	"github.com/stemsi/exstem-engine/internal/kvstore"
	"github.com/stemsi/exstem-engine/internal/logger"
	"github.com/stemsi/exstem-engine/internal/offline"
	"github.com/stemsi/exstem-engine/internal/repository"
	"github.com/stemsi/exstem-engine/internal/router"
	"github.com/stemsi/exstem-engine/internal/scheduler"
	"github.com/stemsi/exstem-engine/internal/service"
	"github.com/stemsi/exstem-engine/internal/session"
	"github.com/stemsi/exstem-engine/internal/validator"
	ws "github.com/stemsi/exstem-engine/internal/websocket"
	"github.com/stemsi/exstem-engine/internal/worker"
)

func main() {
	// ─── Load Configuration ────────────────────────────────────────────
	cfg := config.Load()

	// ─── Initialize Logger ─────────────────────────────────────────────
	log := logger.Setup(cfg.LogLevel, cfg.LogFormat)
	log.Info().
		Str("port", cfg.ServerPort).
		Str("mode", cfg.GinMode).
		Str("store", cfg.StoreDriver).
		Msg("Starting ExStem Engine")

	// ─── Initialize Validator ──────────────────────────────────────────
	validator.Setup()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// ─── Connect to PostgreSQL ─────────────────────────────────────────
	// A down results store is not fatal: submissions queue offline.
	pool, err := database.NewPostgresPool(ctx, cfg, log)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to configure PostgreSQL")
	}
	defer pool.Close()

	// ─── Connect to Redis ──────────────────────────────────────────────
	rdb, err := database.NewRedisClient(ctx, cfg, log)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to connect to Redis")
	}
	defer rdb.Close()

	// ─── Open Local Store ──────────────────────────────────────────────
	store, storeCloser, err := kvstore.Open(ctx, cfg, rdb, log)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to open local store")
	}
	defer storeCloser.Close()

	queue := offline.NewQueue(store, log)

	// ─── Initialize Repositories ───────────────────────────────────────
	examRepo := repository.NewExamRepository(pool)
	enrollmentRepo := repository.NewEnrollmentRepository(pool)
	attemptRepo := repository.NewAttemptRepository(pool)

	// ─── Initialize Services ──────────────────────────────────────────
	clock := scheduler.RealClock{}
	authService := service.NewAuthService(cfg.JWTSecret)
	examService := service.NewExamService(examRepo, rdb, log)
	gateway := service.NewExamSessionService(examService, attemptRepo, enrollmentRepo, log)
	timingService := service.NewTimingService(examService, clock, cfg.UnlockCacheSize)

	// ─── Connectivity + Sessions ──────────────────────────────────────
	monitor := connectivity.NewMonitor(pool, cfg.ProbeInterval, cfg.ReconnectDebounce, log)
	hub := ws.NewHub(log)

	sessions := session.NewManager(ctx, session.Deps{
		API:          gateway,
		Store:        store,
		Queue:        queue,
		Scheduler:    scheduler.NewRealScheduler(),
		Clock:        clock,
		Scorer:       examService,
		Notifier:     hub,
		Online:       monitor.Online,
		TickInterval: cfg.TickInterval,
		Grace:        cfg.ScheduledGrace,
		Log:          log,
	}, cfg.UnlockCacheSize)

	// ─── Start Background Workers ─────────────────────────────────────
	workerCtx, workerCancel := context.WithCancel(context.Background())

	syncWorker := worker.NewSyncWorker(queue, gateway, sessions, monitor.Online, log)
	monitor.OnOnline(syncWorker.Trigger)
	// First probe decides whether to prewarm; a queue left by a previous run
	// drains once the store is confirmed reachable.
	monitor.Probe(ctx)

	workersDone := make(chan struct{}, 2)
	go func() {
		syncWorker.Start(workerCtx)
		workersDone <- struct{}{}
	}()
	go func() {
		monitor.Start(workerCtx)
		workersDone <- struct{}{}
	}()

	// ─── Prewarm Redis Caches ─────────────────────────────────────────
	// Load all published exams into Redis BEFORE accepting traffic.
	if monitor.Online() {
		if err := examService.PrewarmAllCaches(ctx); err != nil {
			log.Warn().Err(err).Msg("Cache prewarm failed")
		}
	}

	// ─── Setup Router ──────────────────────────────────────────────────
	handlers := &router.Handlers{
		Session: handler.NewSessionHandler(sessions, timingService, log),
		WS:      handler.NewWSHandler(sessions, hub, log, cfg.AllowedOrigins),
		System:  handler.NewSystemHandler(monitor.Online, queue, sessions.Len, log),
	}
	r := router.SetupRouter(authService, handlers, cfg)

	// ─── Create HTTP Server ────────────────────────────────────────────
	srv := &http.Server{
		Addr:    ":" + cfg.ServerPort,
		Handler: r,
	}

	// ─── Start Server in Goroutine ─────────────────────────────────────
	go func() {
		log.Info().Str("addr", ":"+cfg.ServerPort).Msg("Server listening")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("Server error")
		}
	}()

	// ─── Graceful Shutdown ─────────────────────────────────────────────
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	sig := <-quit

	log.Info().Str("signal", sig.String()).Msg("Shutting down gracefully...")

	// 1. Stop accepting new HTTP requests (5s timeout).
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("HTTP server shutdown error")
	}

	// 2. Stop countdowns. Saved progress stays in the local store.
	sessions.Close()

	// 3. Stop workers; the sync worker makes a final drain if online.
	workerCancel()
	for i := 0; i < cap(workersDone); i++ {
		select {
		case <-workersDone:
		case <-time.After(worker.ShutdownDrainTimeout + time.Second):
			log.Warn().Msg("Worker did not stop in time")
		}
	}

	log.Info().Msg("Shutdown complete")
}
