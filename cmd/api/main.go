package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/golang-migrate/migrate/v4"
	migratepg "github.com/golang-migrate/migrate/v4/database/postgres"
	_ "github.com/golang-migrate/migrate/v4/source/file"
	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
	"golang.org/x/time/rate"

	"github.com/PauFou/form-builder-sub001/internal/config"
	"github.com/PauFou/form-builder-sub001/internal/handler/health"
	ingestHandler "github.com/PauFou/form-builder-sub001/internal/handler/ingest"
	webhookHandler "github.com/PauFou/form-builder-sub001/internal/handler/webhook"
	"github.com/PauFou/form-builder-sub001/internal/middleware"
	"github.com/PauFou/form-builder-sub001/internal/repository/postgres"
	"github.com/PauFou/form-builder-sub001/internal/router"
	ingestService "github.com/PauFou/form-builder-sub001/internal/service/ingest"
	"github.com/PauFou/form-builder-sub001/pkg/idempotency"
	"github.com/PauFou/form-builder-sub001/pkg/logger"
	"github.com/PauFou/form-builder-sub001/pkg/metrics"
	redisqueue "github.com/PauFou/form-builder-sub001/pkg/queue/redis"
)

func main() {
	log := logger.NewLogger(nil)

	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatal(err, "failed to load configuration")
	}

	db, err := postgres.NewDB(cfg.Database.ToPostgres())
	if err != nil {
		log.Fatal(err, "failed to connect to database")
	}
	defer db.Close()

	if cfg.Database.Migrate {
		if err := runMigrations(db); err != nil {
			log.Fatal(err, "failed to run migrations")
		}
		log.Info("migrations applied")
	}

	m := metrics.New("forms")

	jobs, err := redisqueue.NewRedisQueue(cfg.Redis.ToQueueConfig(), log, m)
	if err != nil {
		log.Fatal(err, "failed to connect to redis")
	}
	defer jobs.Close()

	base := postgres.NewBaseRepository(db)
	formRepo := postgres.NewFormRepository(base)
	submissionRepo := postgres.NewSubmissionRepository(base)
	webhookRepo := postgres.NewWebhookRepository(base)
	deliveryRepo := postgres.NewDeliveryRepository(base)
	deadLetterRepo := postgres.NewDeadLetterRepository(base)

	idemStore := idempotency.NewStore(jobs.Client(), cfg.Ingest.IdempotencyTTL)

	ingestSvc := ingestService.NewService(
		formRepo,
		submissionRepo,
		idemStore,
		jobs,
		ingestService.Config{
			SignatureTolerance: cfg.Ingest.SignatureTolerance,
			FormCacheTTL:       cfg.Ingest.FormCacheTTL,
		},
		log,
		m,
	)

	adminAuth := middleware.NewAdminAuth(cfg.Admin.JWTSecret)
	limiter := middleware.NewRateLimiter(jobs.Client(), cfg.Ingest.RateLimitPerMinute, log)

	ingestH := ingestHandler.NewHandler(ingestSvc, log, m)
	webhookH := webhookHandler.NewHandler(webhookRepo, deliveryRepo, deadLetterRepo, log)
	healthH := health.NewHandler(db, jobs.Client())

	r := router.NewRouter(adminAuth, ingestH, webhookH, healthH, limiter, log, router.Config{
		RateLimit:    rate.Limit(cfg.RateLimit.RequestsPerSecond),
		RateBurst:    cfg.RateLimit.Burst,
		MaxBodyBytes: cfg.Ingest.MaxBodyBytes,
	})
	r.Setup()

	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      r.Engine(),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	go func() {
		log.Info(fmt.Sprintf("listening on %s", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal(err, "failed to start server")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Info("shutting down server...")

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		log.Fatal(err, "server forced to shutdown")
	}

	log.Info("server exited properly")
}

func runMigrations(db *sqlx.DB) error {
	driver, err := migratepg.WithInstance(db.DB, &migratepg.Config{})
	if err != nil {
		return fmt.Errorf("failed to create migrate driver: %w", err)
	}
	mig, err := migrate.NewWithDatabaseInstance("file://migrations", "postgres", driver)
	if err != nil {
		return fmt.Errorf("failed to create migrate instance: %w", err)
	}
	if err := mig.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("failed to run migrations: %w", err)
	}
	return nil
}
