package main

import (
	"context"
	"fmt"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"text/tabwriter"

	"github.com/alecthomas/kingpin/v2"
	"github.com/sf7293/pipeline-board/configs"
	"github.com/sf7293/pipeline-board/internal/domain"
	"github.com/sf7293/pipeline-board/internal/postgres"
	"github.com/sf7293/pipeline-board/internal/redis"
	"github.com/sf7293/pipeline-board/internal/uptime"
)

var (
	app = kingpin.New("uptime-check", "Run uptime checks outside the server schedule")

	runCmd       = app.Command("run", "Run one full cycle against the database and store the results")
	runLimit     = runCmd.Flag("limit", "Maximum number of domains to probe").Int32()
	runBatchSize = runCmd.Flag("batch-size", "Probes in flight at once").Int()

	probeCmd    = app.Command("probe", "Probe a single domain and print its status")
	probeTarget = probeCmd.Arg("domain", "Domain or URL to probe").Required().String()
)

func main() {
	command := kingpin.MustParse(app.Parse(os.Args[1:]))

	cfg := configs.InitConfig()
	h := slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelInfo})
	slog.SetDefault(slog.New(h))

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	prober := uptime.NewHTTPProber(cfg.Uptime.DialTimeout, cfg.Uptime.ProbeTimeout)
	defer prober.Close()

	switch command {
	case runCmd.FullCommand():
		runCycle(ctx, cfg, prober)
	case probeCmd.FullCommand():
		status, err := prober.Probe(ctx, *probeTarget)
		fmt.Printf("%s\t%s\n", *probeTarget, status)
		if err != nil {
			slog.Info("probe failed", "domain", *probeTarget, "error", err)
			os.Exit(1)
		}
	}
}

func runCycle(ctx context.Context, cfg *configs.Config, prober uptime.Prober) {
	storage, err := postgres.NewStorage(ctx, cfg.Database.ToDbConnectionUri())
	if err != nil {
		log.Fatal(err)
	}
	defer storage.Close()

	var lock domain.DistributedLock
	if cfg.RedisConfig.Enabled {
		redisClient, err := redis.NewClient(cfg.RedisConfig.ToRedisConnectionUri())
		if err != nil {
			log.Fatal(err)
		}
		defer func() {
			if err := redisClient.Close(); err != nil {
				slog.Error("An error occurred while closing Redis connection", "error", err.Error())
			}
		}()
		lock = redisClient
	}

	schedulerCfg := uptime.Config{
		Limit:        cfg.Uptime.Limit,
		BatchSize:    cfg.Uptime.BatchSize,
		Cooldown:     cfg.Uptime.Cooldown,
		ProbeTimeout: cfg.Uptime.ProbeTimeout,
		DialTimeout:  cfg.Uptime.DialTimeout,
	}
	if *runLimit > 0 {
		schedulerCfg.Limit = *runLimit
	}
	if *runBatchSize > 0 {
		schedulerCfg.BatchSize = *runBatchSize
	}

	results, err := uptime.NewScheduler(storage, prober, lock, nil, schedulerCfg).RunCycle(ctx)
	if err != nil {
		log.Fatal(err)
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "TASK\tDOMAIN\tSTATUS\tERROR")
	down := 0
	for _, result := range results {
		reason := ""
		if result.Err != nil {
			reason = result.Err.Error()
		}
		if result.Status == domain.UptimeDown {
			down++
		}
		fmt.Fprintf(w, "%d\t%s\t%s\t%s\n", result.TaskID, result.Domain, result.Status, reason)
	}
	_ = w.Flush()

	slog.Info("uptime cycle finished", "probed", len(results), "down", down)
}
