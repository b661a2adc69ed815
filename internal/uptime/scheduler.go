package uptime

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/sf7293/pipeline-board/internal/domain"
	"github.com/sf7293/pipeline-board/internal/errval"
	"github.com/sf7293/pipeline-board/internal/metrics"
	"github.com/sourcegraph/conc"
)

const lockKey = "uptime:cycle"

type Config struct {
	Interval     time.Duration
	Limit        int32
	BatchSize    int
	Cooldown     time.Duration
	ProbeTimeout time.Duration
	DialTimeout  time.Duration
}

func DefaultConfig() Config {
	return Config{
		Interval:     5 * time.Minute,
		Limit:        100,
		BatchSize:    10,
		Cooldown:     2 * time.Second,
		ProbeTimeout: 10 * time.Second,
		DialTimeout:  5 * time.Second,
	}
}

// Result is the outcome for one task in a cycle.
type Result struct {
	TaskID int64
	Domain string
	Status domain.UptimeStatus
	Err    error
}

// Scheduler refreshes Task.UptimeStatus for every task with a domain. Batches run one
// after another; probes inside a batch run concurrently. A failing domain never
// affects the others and is retried only by the next cycle.
type Scheduler struct {
	store   domain.UptimeStore
	prober  Prober
	lock    domain.DistributedLock
	metrics *metrics.Metrics
	cfg     Config

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
}

// NewScheduler builds a scheduler. lock may be nil, in which case overlapping cycles
// across instances are not prevented.
func NewScheduler(store domain.UptimeStore, prober Prober, lock domain.DistributedLock, m *metrics.Metrics, cfg Config) *Scheduler {
	defaults := DefaultConfig()
	if cfg.Interval <= 0 {
		cfg.Interval = defaults.Interval
	}
	if cfg.Limit <= 0 {
		cfg.Limit = defaults.Limit
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = defaults.BatchSize
	}
	if cfg.Cooldown < 0 {
		cfg.Cooldown = 0
	}

	return &Scheduler{
		store:   store,
		prober:  prober,
		lock:    lock,
		metrics: m,
		cfg:     cfg,
	}
}

func (s *Scheduler) Start() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cancel != nil {
		return
	}

	loopCtx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel
	s.done = make(chan struct{})
	go s.loop(loopCtx, s.done)

	slog.Info("uptime scheduler started", "interval", s.cfg.Interval, "limit", s.cfg.Limit, "batch_size", s.cfg.BatchSize)
}

// Stop cancels the running cycle, if any, and waits for the loop to exit.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	cancel, done := s.cancel, s.done
	s.cancel, s.done = nil, nil
	s.mu.Unlock()

	if cancel == nil {
		return
	}
	cancel()
	<-done

	slog.Info("uptime scheduler stopped")
}

func (s *Scheduler) loop(ctx context.Context, done chan struct{}) {
	defer close(done)

	// Statuses are refreshed right away instead of one Interval after a restart
	s.runScheduledCycle(ctx)

	ticker := time.NewTicker(s.cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.runScheduledCycle(ctx)
		}
	}
}

func (s *Scheduler) runScheduledCycle(ctx context.Context) {
	if _, err := s.RunCycle(ctx); err != nil && !errors.Is(err, context.Canceled) {
		slog.Error("uptime cycle failed", "error", err)
	}
}

// RunCycle probes up to Limit domains once and writes each status as soon as it is
// known. It returns one Result per task that was probed.
func (s *Scheduler) RunCycle(ctx context.Context) ([]Result, error) {
	started := time.Now()

	if s.lock != nil {
		acquired, err := s.lock.Lock(ctx, lockKey, s.cfg.Interval)
		if err != nil {
			return nil, fmt.Errorf("acquire uptime lock: %w", err)
		}
		if !acquired {
			slog.Info("uptime cycle already running elsewhere, skipping")
			return nil, nil
		}
		defer func() {
			if err := s.lock.Unlock(context.WithoutCancel(ctx), lockKey); err != nil {
				slog.Error("error occurred while releasing uptime lock", "error", err)
			}
		}()
	}

	tasks, err := s.store.ListTasksWithDomain(ctx, s.cfg.Limit)
	if err != nil {
		return nil, fmt.Errorf("list tasks with domain: %w", err)
	}

	results := make([]Result, 0, len(tasks))
	for start := 0; start < len(tasks); start += s.cfg.BatchSize {
		if start > 0 && s.cfg.Cooldown > 0 {
			select {
			case <-ctx.Done():
				return results, ctx.Err()
			case <-time.After(s.cfg.Cooldown):
			}
		}

		end := min(start+s.cfg.BatchSize, len(tasks))
		results = append(results, s.runBatch(ctx, tasks[start:end])...)
	}

	if closer, ok := s.prober.(interface{ Close() }); ok {
		closer.Close()
	}

	s.metrics.CycleFinished(time.Since(started))
	slog.Info("uptime cycle finished", "probed", len(results), "took", time.Since(started))

	return results, nil
}

func (s *Scheduler) runBatch(ctx context.Context, batch []*domain.Task) []Result {
	results := make([]Result, len(batch))

	wg := conc.NewWaitGroup()
	for i, task := range batch {
		results[i] = Result{TaskID: task.ID, Domain: task.Domain, Status: domain.UptimeDown}
		wg.Go(func() {
			results[i] = s.check(ctx, task)
		})
	}

	if recovered := wg.WaitAndRecover(); recovered != nil {
		slog.Error("uptime probe panicked", "error", recovered.AsError())
	}

	return results
}

func (s *Scheduler) check(ctx context.Context, task *domain.Task) Result {
	status, probeErr := s.prober.Probe(ctx, task.Domain)
	result := Result{TaskID: task.ID, Domain: task.Domain, Status: status, Err: probeErr}

	// A probe cut short by shutdown says nothing about the domain
	if ctx.Err() != nil {
		return result
	}

	if probeErr != nil {
		slog.Debug("uptime probe failed", "task_id", task.ID, "domain", task.Domain, "error", probeErr)
	}
	s.metrics.ProbeFinished(string(status))

	if err := s.store.SetUptimeStatus(context.WithoutCancel(ctx), task.ID, status); err != nil {
		if errors.Is(err, errval.ErrNotFound) {
			slog.Debug("task removed before its uptime status was written", "task_id", task.ID)
			return result
		}
		slog.Error("error occurred while calling storage.SetUptimeStatus", "task_id", task.ID, "error", err)
		result.Err = errors.Join(probeErr, err)
	}

	return result
}
