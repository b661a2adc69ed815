package main

import (
	"context"
	"errors"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/gin-gonic/gin"
	"github.com/sf7293/pipeline-board/configs"
	"github.com/sf7293/pipeline-board/internal/activity"
	"github.com/sf7293/pipeline-board/internal/domain"
	"github.com/sf7293/pipeline-board/internal/postgres"
	"github.com/sf7293/pipeline-board/internal/rabbitmq"
)

const maxRecordAttempts = 3

var postgresIsReady, rabbitIsReady atomic.Bool

// The worker drains the activity queue into the activity log. It takes an optional
// worker number, used to keep consumer names unique across replicas.
func main() {
	cfg := configs.InitConfig()

	h := slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelInfo})
	slog.SetDefault(slog.New(h))

	workerNumber := "0"
	if len(os.Args) > 1 {
		workerNumber = os.Args[1]
	}
	slog.Info("Running activity worker", "worker_num", workerNumber)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	storage, err := postgres.NewStorage(ctx, cfg.Database.ToDbConnectionUri())
	if err != nil {
		log.Fatal(err)
	}
	defer storage.Close()
	postgresIsReady.Store(true)
	slog.Info("Postgres connection has been initialized successfully")

	queueName := cfg.RabbitMQ.ActivityQueueName
	rabbitClient, err := rabbitmq.NewRabbitMQClient(ctx, cfg.RabbitMQ.ToRabbitConnectionUri(), []string{queueName})
	if err != nil {
		log.Fatal(err)
	}
	defer func() {
		err = rabbitClient.Close()
		if err != nil {
			slog.Error("An error occurred while closing RabbitMQ connection", "error", err.Error())
		}
	}()
	rabbitIsReady.Store(true)
	slog.Info("RabbitMQ connection has been initialized successfully")

	// Running HTTP Server in order to have liveness and readiness HTTP APIs
	healthServer := setUpHealthCheckerAPIs(cfg, storage, rabbitClient)
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := healthServer.Shutdown(shutdownCtx); err != nil {
			slog.Error("Health server forced to shutdown", "error", err)
		}
	}()

	recorder := activity.NewRecorder(storage)
	handler := func(body []byte) error {
		// Transient storage failures are retried; a malformed message never will succeed.
		operation := func() error {
			err := recorder.Handle(ctx, body)
			if errors.Is(err, activity.ErrMalformedEntry) {
				return backoff.Permanent(err)
			}
			return err
		}
		return backoff.Retry(operation, backoff.WithContext(backoff.WithMaxRetries(backoff.NewExponentialBackOff(), maxRecordAttempts), ctx))
	}

	consumerName := "activity-consumer:" + workerNumber
	slog.Info("Creating consumer for RabbitMQ", "queueName", queueName, "consumer_name", consumerName)
	err = rabbitClient.ConsumeMessages(ctx, consumerName, queueName, handler)
	if err != nil && !errors.Is(err, context.Canceled) {
		slog.Error("Consumer stopped", "queueName", queueName, "error", err)
	}

	slog.Info("Worker is shutting down...", "worker_num", workerNumber)
}

func setUpHealthCheckerAPIs(cfg *configs.Config, storage domain.Storage, queue domain.Queue) *http.Server {
	gin.SetMode(gin.ReleaseMode)
	r := gin.New()
	r.Use(gin.Recovery())

	r.GET("/readiness", func(c *gin.Context) {
		if postgresIsReady.Load() && rabbitIsReady.Load() {
			c.JSON(http.StatusOK, gin.H{"status": "ready"})
			return
		}
		c.JSON(http.StatusServiceUnavailable, gin.H{"status": "not ready"})
	})
	r.GET("/liveness", func(c *gin.Context) {
		err := storage.Ping(c)
		if err != nil {
			slog.Error("Postgresql seem not to be pingable in liveness API", "error", err.Error())
			c.JSON(http.StatusServiceUnavailable, gin.H{"status": "not healthy"})
			return
		}

		if !queue.IsHealthy() {
			slog.Error("Rabbit is not healthy")
			c.JSON(http.StatusServiceUnavailable, gin.H{"status": "not healthy"})
			return
		}

		c.JSON(http.StatusOK, gin.H{"status": "up"})
	})

	srv := &http.Server{
		Addr:              ":" + cfg.WorkerPort,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		slog.Info("Starting health server", "port", cfg.WorkerPort)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("listen", "error", err)
		}
	}()

	return srv
}
