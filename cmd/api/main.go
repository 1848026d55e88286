// Copyright (c) 2026 Fablio. All rights reserved.
// Author: dev@fablio.app

// Command api is the entry point for the Fablio HTTP API server.
//
// # Startup Sequence
//
//  1. Initialize structured logger.
//  2. Load configuration from environment variables.
//  3. Connect to PostgreSQL (pgxpool) and Redis.
//  4. Run database migrations (idempotent).
//  5. Wire domain services bottom-up: cache → flags → canary → library →
//     pipeline adapters → parsing coordinator.
//  6. Start HTTP server with graceful shutdown.
//
// No business logic lives here. All wiring is explicit constructor injection.
package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/fablio/fablio/internal/api"
	"github.com/fablio/fablio/internal/auth"
	"github.com/fablio/fablio/internal/book"
	"github.com/fablio/fablio/internal/bookparse"
	"github.com/fablio/fablio/internal/cache"
	"github.com/fablio/fablio/internal/canary"
	"github.com/fablio/fablio/internal/description"
	"github.com/fablio/fablio/internal/flags"
	"github.com/fablio/fablio/internal/imagegen"
	"github.com/fablio/fablio/internal/parsing"
	"github.com/fablio/fablio/internal/platform/config"
	"github.com/fablio/fablio/internal/platform/constants"
	"github.com/fablio/fablio/internal/platform/middleware"
	"github.com/fablio/fablio/internal/platform/migration"
	pgstore "github.com/fablio/fablio/internal/platform/postgres"
	redisstore "github.com/fablio/fablio/internal/platform/redis"
	"github.com/fablio/fablio/internal/platform/sec"
	"github.com/fablio/fablio/internal/platform/storage"
	"github.com/fablio/fablio/internal/progress"
	"github.com/fablio/fablio/internal/providers"
)

func main() {
	// ── 1. Logger ─────────────────────────────────────────────────────────
	// Initialize first so that subsequent startup errors are structured JSON.
	rawLog := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))

	// Add global context to all log entries.
	log := rawLog.With(slog.String("app", "fablio"))
	slog.SetDefault(log)

	log.Info("[Fablio] service_initializing")

	// ── 2. Configuration ──────────────────────────────────────────────────
	cfg, err := config.Load()
	must(log, err, "load configuration")

	if cfg.Debug {
		debugLog := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
			Level: slog.LevelDebug,
		}))
		log = debugLog.With(slog.String("app", "fablio"))
		slog.SetDefault(log)
		log.Debug("debug_logging_enabled")
	}

	log.Info("configuration_loaded",
		slog.String("environment", cfg.Environment),
		slog.String("port", cfg.ServerPort),
	)

	// Root context for startup. Use a 30s deadline so misconfiguration is
	// caught quickly rather than hanging indefinitely. The lifecycle context
	// outlives startup and stops background middleware tasks on shutdown.
	lifecycleCtx, lifecycleCancel := context.WithCancel(context.Background())
	defer lifecycleCancel()

	startupCtx, startupCancel := context.WithTimeout(lifecycleCtx, 30*time.Second)
	defer startupCancel()

	// ── 3. PostgreSQL ─────────────────────────────────────────────────────
	pool, err := pgstore.NewPool(startupCtx, cfg.DatabaseURL, pgstore.PoolOptions{
		PoolSize:       cfg.DBPoolSize,
		MaxOverflow:    cfg.DBMaxOverflow,
		RecycleSeconds: cfg.DBPoolRecycleSecs,
		TimeoutSeconds: cfg.DBPoolTimeoutSecs,
	}, log)
	must(log, err, "connect to postgres")
	defer func() {
		log.Info("closing postgres pool")
		pool.Close()
	}()

	// ── 4. Redis ──────────────────────────────────────────────────────────
	rdb, err := redisstore.NewClient(startupCtx, cfg.CacheURL, cfg.CacheMaxConnections, log)
	must(log, err, "connect to redis")
	defer func() {
		log.Info("closing redis client")
		if cerr := rdb.Close(); cerr != nil {
			log.Error("redis close error", slog.Any("error", cerr))
		}
	}()

	// ── 5. Migrations ─────────────────────────────────────────────────────
	must(log, migration.RunUp(cfg.DatabaseURL, cfg.MigrationPath, log), "run migrations")

	// ── 6. Platform Services ──────────────────────────────────────────────
	jwtSvc, err := sec.NewTokenService(cfg.JWTPrivKeyPath, cfg.JWTPubKeyPath, constants.AuthIssuer)
	must(log, err, "initialize jwt service")

	files, err := storage.New(cfg.StorageRoot)
	must(log, err, "initialize file storage")

	cacheLayer := cache.New(rdb, log)
	blacklist := auth.NewRedisBlacklist(rdb, cfg.TokenBlacklistFailClosed, log)

	// ── 7. Feature Flags & Canary ─────────────────────────────────────────
	flagService := flags.NewService(flags.NewRepository(pool), log)
	must(log, flagService.Initialize(startupCtx), "seed default feature flags")

	canaryController, err := canary.NewController(
		startupCtx,
		canary.NewRepository(pool),
		flagService,
		nil, // no quality-metrics aggregator wired yet
		canary.Stage(cfg.CanaryDefaultStage),
		log,
	)
	must(log, err, "initialize canary controller")

	// ── 8. Library & Progress ─────────────────────────────────────────────
	bookRepo := book.NewBookRepository(pool)
	chapterRepo := book.NewChapterRepository(pool)

	bookService := book.NewService(
		bookRepo, chapterRepo, bookparse.New(), files, cacheLayer,
		cfg.UploadMaxBytes, log,
	)

	progressService := progress.NewService(
		progress.NewProgressRepository(pool), progress.NewSessionRepository(pool),
		bookRepo, chapterRepo, cacheLayer, log,
	)

	// ── 9. Description & Image Pipeline ───────────────────────────────────
	genaiClient, err := providers.NewClient(startupCtx, cfg.GeminiAPIKey)
	must(log, err, "initialize genai client")

	modelSettings := providers.Settings{
		TextModel:       cfg.LLMModelID,
		ImageModel:      cfg.ImagenModel,
		MaxChunkChars:   cfg.LLMMaxChunkChars,
		ChunkOverlapPct: cfg.LLMChunkOverlapPct,
		MaxConcurrent:   int64(cfg.LLMMaxConcurrent),
		RetryAttempts:   uint(cfg.ParserRetryAttempts),
		CallTimeout:     constants.LLMCallTimeout,
		ImageTimeout:    time.Duration(cfg.ImagenTimeoutSeconds) * time.Second,
		AspectRatio:     cfg.ImagenAspectRatio,
		SafetyLevel:     cfg.ImagenSafetyLevel,
	}

	descriptionRepo := description.NewRepository(pool)
	descriptionService := description.NewService(
		descriptionRepo, bookRepo, chapterRepo,
		providers.NewExtractor(genaiClient, modelSettings, log),
		cacheLayer, cfg.LLMMinConfidence, log,
	)

	imageService := imagegen.NewService(
		imagegen.NewRepository(pool), descriptionRepo, bookRepo,
		providers.NewGenerator(genaiClient, modelSettings),
		providers.NewTranslator(genaiClient, modelSettings),
		flagService, files, cfg.WorkerCount, log,
	)

	// ── 10. Parsing Coordinator ───────────────────────────────────────────
	runner := description.NewPipelineRunner(descriptionService, chapterRepo, canaryController, log)

	coordinator := parsing.NewCoordinator(
		bookRepo,
		parsing.NewLeaseLock(rdb, time.Duration(cfg.ParserLeaseSeconds)*time.Second),
		runner,
		flagService,
		cfg.ParserMaxConcurrent,
		log,
	)
	coordinator.StartReaper(constants.ReaperInterval)
	defer func() {
		log.Info("draining parsing coordinator")
		if cerr := coordinator.Close(); cerr != nil {
			log.Error("coordinator close error", slog.Any("error", cerr))
		}
	}()

	// Uploads kick off description extraction for the uploading user.
	bookService.OnUpload(func(ctx context.Context, uploaded *book.Book) {
		tier := sec.TierFree
		if claims := middleware.GetUser(ctx); claims != nil {
			tier = sec.ParseTier(claims.Tier)
		}
		if _, serr := coordinator.Submit(ctx, uploaded.OwnerUserID, uploaded.ID, tier); serr != nil {
			log.Warn("upload_parse_kickoff_failed",
				slog.String("book_id", uploaded.ID),
				slog.Any("error", serr),
			)
		}
	})

	// ── 11. HTTP Server ───────────────────────────────────────────────────
	liveness, readiness := api.NewHealthHandlers(api.HealthDependencies{
		CheckDatabase: func() error {
			return pgstore.Ping(context.Background(), pool)
		},
		CheckCache: func() error {
			return redisstore.Ping(context.Background(), rdb)
		},
	}, log)

	authService := auth.NewService(
		auth.NewUserRepository(pool), auth.NewSessionRepository(pool),
		jwtSvc, blacklist,
	)

	handlers := api.Handlers{
		Liveness:    liveness,
		Readiness:   readiness,
		Auth:        auth.NewHandler(authService),
		Book:        book.NewHandler(bookService),
		Progress:    progress.NewHandler(progressService),
		Parsing:     parsing.NewHandler(coordinator),
		Description: description.NewHandler(descriptionService),
		Image:       imagegen.NewHandler(imageService),
		Flags:       flags.NewHandler(flagService),
		Canary:      canary.NewHandler(canaryController),
		CacheAdmin:  cache.NewHandler(cacheLayer),
	}

	server := api.NewServer(lifecycleCtx, cfg, log, jwtSvc, blacklist, handlers)

	// ── 12. Graceful Shutdown ─────────────────────────────────────────────
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGTERM, syscall.SIGINT)

	serverErr := make(chan error, 1)
	go func() {
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
	}()

	// Block until OS signal or server error.
	select {
	case sig := <-quit:
		log.Info("shutdown signal received", slog.String("signal", sig.String()))
	case err := <-serverErr:
		log.Error("server startup error", slog.Any("error", err))
	}

	// Give in-flight requests enough time to complete.
	shutdownTimeout := constants.ShutdownTimeout
	log.Info("shutting down server", slog.Duration("timeout", shutdownTimeout))

	if err := server.Shutdown(shutdownTimeout); err != nil {
		log.Error("shutdown error", slog.Any("error", err))
		os.Exit(1)
	}

	log.Info("server stopped cleanly")
}

// must logs a structured fatal error and terminates the process if err is non-nil.
//
// It is intentionally limited to startup wiring. After startup, all errors
// must be returned and handled explicitly (never panic).
func must(log *slog.Logger, err error, context string) {
	if err != nil {
		log.Error("startup failure",
			slog.String("context", context),
			slog.Any("error", err),
		)
		os.Exit(1)
	}
}
