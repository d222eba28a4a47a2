package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/stemsi/exstem-grader/internal/config"
	"github.com/stemsi/exstem-grader/internal/database"
	"github.com/stemsi/exstem-grader/internal/grading"
	"github.com/stemsi/exstem-grader/internal/handler"
	"github.com/stemsi/exstem-grader/internal/judge"
	"github.com/stemsi/exstem-grader/internal/logger"
	"github.com/stemsi/exstem-grader/internal/middleware"
	"github.com/stemsi/exstem-grader/internal/repository"
	"github.com/stemsi/exstem-grader/internal/router"
	"github.com/stemsi/exstem-grader/internal/sandbox"
	"github.com/stemsi/exstem-grader/internal/service"
	"github.com/stemsi/exstem-grader/internal/session"
	"github.com/stemsi/exstem-grader/internal/validator"
	"github.com/stemsi/exstem-grader/internal/websocket"
	"github.com/stemsi/exstem-grader/internal/worker"
)

func main() {
	// ─── Load Configuration ────────────────────────────────────────────
	cfg := config.Load()

	// ─── Initialize Logger ─────────────────────────────────────────────
	log := logger.Setup(cfg.LogLevel, cfg.LogFormat)
	log.Info().
		Str("port", cfg.ServerPort).
		Str("mode", cfg.GinMode).
		Str("log_level", cfg.LogLevel).
		Msg("Starting ExStem Grader")

	// ─── Initialize Validator ──────────────────────────────────────────
	validator.Setup()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// ─── Connect to PostgreSQL ─────────────────────────────────────────
	pool, err := database.NewPostgresPool(ctx, cfg, log)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to connect to PostgreSQL")
	}
	defer pool.Close()

	// ─── Connect to Redis ──────────────────────────────────────────────
	rdb, err := database.NewRedisClient(ctx, cfg, log)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to connect to Redis")
	}
	defer rdb.Close()

	// ─── Sandbox ───────────────────────────────────────────────────────
	rt, err := sandbox.LoadRuntime(cfg.Sandbox.RuntimeFile, cfg.Sandbox.CheckCmd, cfg.Sandbox.RunCmd)
	if err != nil {
		log.Fatal().Err(err).Msg("Invalid sandbox runtime")
	}
	sb, err := sandbox.NewProcessSandbox(rt, sandbox.Options{
		DefaultTimeout: cfg.Sandbox.CaseTimeout,
		MaxOutputBytes: cfg.Sandbox.MaxOutputBytes,
	}, log)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to create sandbox")
	}
	log.Info().Str("runtime", rt.Name).Str("run_cmd", rt.RunCmd).Msg("Sandbox ready")

	// ─── Initialize Repositories ───────────────────────────────────────
	examRepo := repository.NewExamRepository(pool)
	questionRepo := repository.NewQuestionRepository(pool)
	sessionRepo := repository.NewExamSessionRepository(pool)
	submissionRepo := repository.NewSubmissionRepository(pool)
	mistakeRepo := repository.NewMistakeRepository(pool)

	// ─── Grading & Sessions ────────────────────────────────────────────
	evaluator := judge.NewEvaluator(sb, cfg.Sandbox.CaseTimeout, log)
	engine := grading.NewEngine(evaluator, cfg.GradingWorkers, log)
	hub := websocket.NewHub(log)

	authService := service.NewAuthService(cfg)
	catalogService := service.NewCatalogService(examRepo, questionRepo, rdb, cfg.CatalogCacheTTL, log)
	mistakeService := service.NewMistakeService(mistakeRepo, rdb, log)

	manager := session.NewManager(session.Config{
		Grader:       engine,
		Gateway:      submissionRepo,
		Sink:         mistakeService,
		Listener:     hub,
		TickInterval: cfg.SessionTickInterval,
	}, log)

	sessionService := service.NewExamSessionService(manager, catalogService, sessionRepo, log)
	codeService := service.NewCodeService(sb, evaluator, catalogService, cfg.Sandbox.RunTimeout, log)

	// ─── Initialize Handlers ──────────────────────────────────────────
	handlers := &router.Handlers{
		Auth:    handler.NewAuthHandler(),
		Exam:    handler.NewExamHandler(catalogService, log),
		Session: handler.NewSessionHandler(sessionService, log),
		Code:    handler.NewCodeHandler(codeService, log),
		Mistake: handler.NewMistakeHandler(mistakeService, log),
		Admin:   handler.NewAdminHandler(catalogService, mistakeService, log),
		WS:      handler.NewWSHandler(sessionService, hub, log, cfg.AllowedOrigins),
		System:  handler.NewSystemHandler(rdb, manager, rt.Name, log),
	}
	codeLimiter := middleware.NewRateLimiter(rdb, cfg.CodeRunRatePerMin, log)

	// ─── Start Background Workers ─────────────────────────────────────
	workerCtx, workerCancel := context.WithCancel(context.Background())
	var workers sync.WaitGroup

	mistakeWorker := worker.NewMistakeWorker(mistakeRepo, rdb, log)
	workers.Add(1)
	go func() {
		defer workers.Done()
		mistakeWorker.Start(workerCtx)
	}()

	// ─── Prewarm Redis Caches ─────────────────────────────────────────
	if exams, err := catalogService.ListExams(ctx); err != nil {
		log.Warn().Err(err).Msg("Cache prewarm failed")
	} else {
		for _, e := range exams {
			if _, err := catalogService.LoadPaper(ctx, e.ID); err != nil {
				log.Warn().Err(err).Int64("exam_id", e.ID).Msg("Paper prewarm failed")
			}
		}
	}

	// ─── Setup Router ──────────────────────────────────────────────────
	r := router.SetupRouter(authService, handlers, codeLimiter, cfg, log)

	srv := &http.Server{
		Addr:              ":" + cfg.ServerPort,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

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

	// 1. Stop accepting new HTTP requests.
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("HTTP server shutdown error")
	}

	// 2. Stop session timers and retry failed commits once. Attempts still in
	// progress are lost with the process.
	if err := manager.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Int("live_sessions", manager.Len()).Msg("Session manager shutdown error")
	}

	// 3. Stop background workers and wait for the mistake queue to drain.
	workerCancel()
	workers.Wait()

	log.Info().Msg("Shutdown complete")
}

// init sets zerolog global defaults before main runs.
func init() {
	zerolog.TimeFieldFormat = time.RFC3339
}
