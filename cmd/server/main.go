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

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/sf7293/pipeline-board/configs"
	db2 "github.com/sf7293/pipeline-board/db"
	"github.com/sf7293/pipeline-board/internal/activity"
	"github.com/sf7293/pipeline-board/internal/auth"
	"github.com/sf7293/pipeline-board/internal/broadcast"
	"github.com/sf7293/pipeline-board/internal/domain"
	"github.com/sf7293/pipeline-board/internal/idalloc"
	"github.com/sf7293/pipeline-board/internal/memory"
	"github.com/sf7293/pipeline-board/internal/metrics"
	"github.com/sf7293/pipeline-board/internal/postgres"
	"github.com/sf7293/pipeline-board/internal/rabbitmq"
	"github.com/sf7293/pipeline-board/internal/ratelimit"
	"github.com/sf7293/pipeline-board/internal/redis"
	"github.com/sf7293/pipeline-board/internal/server"
	"github.com/sf7293/pipeline-board/internal/uptime"

	_ "github.com/golang-migrate/migrate/v4/database/pgx/v5"
)

const (
	startupTimeout       = time.Minute
	limiterSweepInterval = time.Minute
	shutdownTimeout      = 10 * time.Second
)

// ready flips once every backing service has been initialized.
var ready atomic.Bool

// dependencies is everything the HTTP layer needs. queue and lock are nil when
// RabbitMQ or Redis are disabled.
type dependencies struct {
	cfg          *configs.Config
	storage      domain.Storage
	logic        *server.ServerLogic
	hub          *broadcast.Hub
	verifier     *auth.Verifier
	authLimiter  ratelimit.Limiter
	leadsLimiter ratelimit.Limiter
	queue        domain.Queue
	lock         domain.DistributedLock
	registry     *prometheus.Registry
}

func main() {
	cfg := configs.InitConfig()
	if cfg.Auth.JWTSecret == "" {
		log.Fatal("JWT_SECRET must be set")
	}

	level := slog.LevelInfo
	if !cfg.IsProduction() {
		level = slog.LevelDebug
	}
	h := slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})
	slog.SetDefault(slog.New(h))

	// Bounds connecting to the backing services, each of which retries with backoff.
	ctx, cancel := context.WithTimeout(context.Background(), startupTimeout)
	defer cancel()

	var storage domain.Storage
	switch cfg.StorageDriver {
	case "memory":
		storage = memory.NewStorage()
		slog.Warn("Using the in-memory storage, data will not survive a restart")
	default:
		runMigrations(cfg)

		pgStorage, err := postgres.NewStorage(ctx, cfg.Database.ToDbConnectionUri())
		if err != nil {
			log.Fatal(err)
		}
		defer pgStorage.Close()
		storage = pgStorage
		slog.Info("Postgres connection has been initialized successfully")
	}

	allocator, err := idalloc.New(cfg.IDAllocator, storage)
	if err != nil {
		log.Fatal(err)
	}

	registry := metrics.NewRegistry()
	m := metrics.New(registry)

	var lock domain.DistributedLock
	var redisClient *redis.Client
	if cfg.RedisConfig.Enabled {
		redisClient, err = redis.NewClient(cfg.RedisConfig.ToRedisConnectionUri())
		if err != nil {
			log.Fatal(err)
		}
		if err = redisClient.Ping(ctx); err != nil {
			log.Fatal(err)
		}
		defer func() {
			if err := redisClient.Close(); err != nil {
				slog.Error("An error occurred while closing Redis connection", "error", err.Error())
			}
		}()
		lock = redisClient
		slog.Info("Redis connection has been initialized successfully")
	}

	var queue domain.Queue
	var sink broadcast.Sink = activity.NewStoreSink(storage)
	if cfg.RabbitMQ.Enabled {
		rabbitClient, err := rabbitmq.NewRabbitMQClient(ctx, cfg.RabbitMQ.ToRabbitConnectionUri(), []string{cfg.RabbitMQ.ActivityQueueName})
		if err != nil {
			log.Fatal(err)
		}
		defer func() {
			if err := rabbitClient.Close(); err != nil {
				slog.Error("An error occurred while closing RabbitMQ connection", "error", err.Error())
			}
		}()
		queue = rabbitClient
		sink = activity.NewQueueSink(rabbitClient, cfg.RabbitMQ.ActivityQueueName)
		slog.Info("RabbitMQ has been initialized successfully", "activity_queue", cfg.RabbitMQ.ActivityQueueName)
	}

	authLimiter, leadsLimiter, stopLimiters := newLimiters(cfg.RateLimit, redisClient, m)
	defer stopLimiters()

	hub := broadcast.NewHub(m, sink)
	deps := &dependencies{
		cfg:          cfg,
		storage:      storage,
		logic:        server.NewServerLogic(storage, allocator, hub, cfg.LeadsOwnerID),
		hub:          hub,
		verifier:     auth.NewVerifier(cfg.Auth.JWTSecret, cfg.Auth.Issuer),
		authLimiter:  authLimiter,
		leadsLimiter: leadsLimiter,
		queue:        queue,
		lock:         lock,
		registry:     registry,
	}

	if cfg.Uptime.Enabled {
		prober := uptime.NewHTTPProber(cfg.Uptime.DialTimeout, cfg.Uptime.ProbeTimeout)
		scheduler := uptime.NewScheduler(storage, prober, lock, m, uptimeConfig(cfg.Uptime))
		scheduler.Start()
		defer scheduler.Stop()
	}

	srv := &http.Server{
		Addr:              ":" + cfg.ServerPort,
		Handler:           setupHTTPServer(deps),
		ReadHeaderTimeout: 10 * time.Second,
	}
	// Open event streams never finish on their own, so they are closed before
	// Shutdown starts waiting on active connections.
	srv.RegisterOnShutdown(hub.Close)
	ready.Store(true)

	// Initializing the server in a goroutine so that
	// it won't block the graceful shutdown handling below
	go func() {
		slog.Info("Starting server", "port", cfg.ServerPort, "storage", cfg.StorageDriver, "id_allocator", cfg.IDAllocator)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("listen: %s\n", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	slog.Info("Shutting down server...")
	ready.Store(false)

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("Server forced to shutdown", "error", err)
	}
	// Lets the queued activity entries reach the store before it is closed
	hub.Close()

	slog.Info("Server exiting")
}

func runMigrations(cfg *configs.Config) {
	d, err := iofs.New(db2.Migrations, "migrations")
	if err != nil {
		log.Fatal(err)
	}

	m, err := migrate.NewWithSourceInstance("iofs", d, cfg.Database.ToMigrationUri())
	if err != nil {
		log.Fatal(err)
	}

	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		log.Fatal(err)
	}
	slog.Info("Migrations ran successfully")
}

// newLimiters builds the auth and leads limiters. Redis-backed limiters share their
// counters across instances; the memory ones need a janitor, stopped by the returned func.
func newLimiters(cfg configs.RateLimitConfig, redisClient *redis.Client, m *metrics.Metrics) (authLimiter, leadsLimiter ratelimit.Limiter, stop func()) {
	if cfg.Backend == "redis" && redisClient != nil {
		return ratelimit.NewRedisLimiter(redisClient, ratelimit.NamespaceAuth, cfg.AuthMaxAttempts, cfg.AuthWindow, m),
			ratelimit.NewRedisLimiter(redisClient, ratelimit.NamespaceLeads, cfg.LeadsMax, cfg.LeadsWindow, m),
			func() {}
	}
	if cfg.Backend == "redis" {
		slog.Warn("RATE_LIMIT_BACKEND is redis but Redis is disabled, falling back to memory")
	}

	authMem := ratelimit.NewMemoryLimiter(ratelimit.NamespaceAuth, cfg.AuthMaxAttempts, cfg.AuthWindow, m)
	leadsMem := ratelimit.NewMemoryLimiter(ratelimit.NamespaceLeads, cfg.LeadsMax, cfg.LeadsWindow, m)
	authMem.Start(limiterSweepInterval)
	leadsMem.Start(limiterSweepInterval)

	return authMem, leadsMem, func() {
		authMem.Stop()
		leadsMem.Stop()
	}
}

func uptimeConfig(cfg configs.UptimeConfig) uptime.Config {
	return uptime.Config{
		Interval:     cfg.Interval,
		Limit:        cfg.Limit,
		BatchSize:    cfg.BatchSize,
		Cooldown:     cfg.Cooldown,
		ProbeTimeout: cfg.ProbeTimeout,
		DialTimeout:  cfg.DialTimeout,
	}
}
