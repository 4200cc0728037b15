package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/PauFou/form-builder-sub001/internal/config"
	"github.com/PauFou/form-builder-sub001/internal/email"
	"github.com/PauFou/form-builder-sub001/internal/handler/health"
	"github.com/PauFou/form-builder-sub001/internal/repository/postgres"
	deliveryService "github.com/PauFou/form-builder-sub001/internal/service/delivery"
	dispatchService "github.com/PauFou/form-builder-sub001/internal/service/dispatch"
	"github.com/PauFou/form-builder-sub001/internal/worker"
	"github.com/PauFou/form-builder-sub001/pkg/logger"
	"github.com/PauFou/form-builder-sub001/pkg/metrics"
	"github.com/PauFou/form-builder-sub001/pkg/queue"
	redisqueue "github.com/PauFou/form-builder-sub001/pkg/queue/redis"
)

const healthPort = 8081

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

	m := metrics.New("forms_worker")

	jobs, err := redisqueue.NewRedisQueue(cfg.Redis.ToQueueConfig(), log, m)
	if err != nil {
		log.Fatal(err, "failed to connect to redis")
	}
	defer jobs.Close()

	base := postgres.NewBaseRepository(db)
	submissionRepo := postgres.NewSubmissionRepository(base)
	webhookRepo := postgres.NewWebhookRepository(base)
	deliveryRepo := postgres.NewDeliveryRepository(base)
	deadLetterRepo := postgres.NewDeadLetterRepository(base)

	var mailer email.AlertMailer = email.NoopMailer{}
	if cfg.SMTP.Enabled {
		mailer = email.NewSMTPMailer(email.SMTPConfig{
			Host:     cfg.SMTP.Host,
			Port:     cfg.SMTP.Port,
			Username: cfg.SMTP.Username,
			Password: cfg.SMTP.Password,
			From:     cfg.SMTP.From,
			AlertTo:  cfg.SMTP.AlertTo,
		})
	}

	sender := deliveryService.NewSender(deliveryService.SenderConfig{
		Timeout:            cfg.Delivery.Timeout,
		BreakerMaxFailures: cfg.Delivery.BreakerMaxFailures,
		BreakerTimeout:     cfg.Delivery.BreakerTimeout,
	})

	deliverySvc := deliveryService.NewService(
		deliveryRepo,
		webhookRepo,
		deadLetterRepo,
		sender,
		mailer,
		deliveryService.Config{
			BaseBackoff: cfg.Delivery.BaseBackoff,
			BackoffCap:  cfg.Delivery.BackoffCap,
		},
		log,
		m,
	)

	dispatchSvc := dispatchService.NewService(webhookRepo, deliveryRepo, submissionRepo, jobs, log, m)

	sweeper := worker.NewRetrySweeper(deliveryRepo, jobs, worker.RetrySweeperConfig{
		Interval:     cfg.Reaper.SweepInterval,
		BatchSize:    cfg.Reaper.SweepBatchSize,
		ClaimTimeout: cfg.Reaper.ClaimTimeout,
	}, log, m)

	reaper := worker.NewReaper(deliveryRepo, worker.ReaperConfig{
		Interval:  cfg.Reaper.PurgeInterval,
		Retention: cfg.Reaper.Retention,
	}, log)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var wg sync.WaitGroup

	workers := cfg.Delivery.Workers
	if workers <= 0 {
		workers = 4
	}

	consume := func(name string, handler queue.Handler) {
		defer wg.Done()
		if err := jobs.Consume(ctx, name, handler); err != nil && !errors.Is(err, context.Canceled) {
			log.Error(err, "consumer stopped", "queue", name)
		}
	}

	wg.Add(1)
	go consume(queue.QueueEvents, dispatchSvc.HandleSubmissionCompleted)

	for i := 0; i < workers; i++ {
		wg.Add(1)
		go consume(queue.QueueDeliveries, deliverySvc.HandleSend)
	}

	wg.Add(2)
	go func() {
		defer wg.Done()
		sweeper.Start(ctx)
	}()
	go func() {
		defer wg.Done()
		reaper.Start(ctx)
	}()

	healthSrv := startHealthServer(db, jobs, log)

	log.Info("worker started", "delivery_workers", workers)

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Info("shutting down worker...")

	cancel()
	wg.Wait()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	if err := healthSrv.Shutdown(shutdownCtx); err != nil {
		log.Error(err, "health server forced to shutdown")
	}

	log.Info("worker exited properly")
}

func startHealthServer(db *sqlx.DB, jobs *redisqueue.RedisQueue, log *logger.Logger) *http.Server {
	gin.SetMode(gin.ReleaseMode)
	engine := gin.New()
	engine.Use(gin.Recovery())

	health.NewHandler(db, jobs.Client()).RegisterRoutes(engine.Group(""))
	engine.GET("/health/metrics", gin.WrapH(promhttp.Handler()))

	srv := &http.Server{
		Addr:    fmt.Sprintf(":%d", healthPort),
		Handler: engine,
	}
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal(err, "failed to start health server")
		}
	}()
	return srv
}
