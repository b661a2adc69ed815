package ratelimit

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/sf7293/pipeline-board/internal/metrics"
)

const (
	NamespaceAuth  = "auth"
	NamespaceLeads = "leads"
)

// Limiter is a fixed window counter per caller key. Each limiter owns one namespace,
// so the same key can be counted independently per call class.
type Limiter interface {
	Allow(ctx context.Context, key string) bool
	Reset(ctx context.Context, key string)
}

type window struct {
	count   int
	resetAt time.Time
}

// MemoryLimiter counts in process memory. Counters are not shared between
// instances, so N replicas allow up to N times the configured rate.
type MemoryLimiter struct {
	namespace string
	max       int
	window    time.Duration
	now       func() time.Time
	metrics   *metrics.Metrics

	mu      sync.Mutex
	windows map[string]*window

	cancel context.CancelFunc
	done   chan struct{}
}

func NewMemoryLimiter(namespace string, max int, windowSize time.Duration, m *metrics.Metrics) *MemoryLimiter {
	return &MemoryLimiter{
		namespace: namespace,
		max:       max,
		window:    windowSize,
		now:       time.Now,
		metrics:   m,
		windows:   make(map[string]*window),
	}
}

func (l *MemoryLimiter) Allow(ctx context.Context, key string) bool {
	now := l.now()

	l.mu.Lock()
	defer l.mu.Unlock()

	w, ok := l.windows[key]
	if !ok || !now.Before(w.resetAt) {
		w = &window{resetAt: now.Add(l.window)}
		l.windows[key] = w
	}

	if w.count >= l.max {
		l.metrics.RateLimited(l.namespace)
		return false
	}
	w.count++
	return true
}

func (l *MemoryLimiter) Reset(ctx context.Context, key string) {
	l.mu.Lock()
	delete(l.windows, key)
	l.mu.Unlock()
}

// Start evicts expired windows every interval until Stop is called.
func (l *MemoryLimiter) Start(interval time.Duration) {
	loopCtx, cancel := context.WithCancel(context.Background())
	l.cancel = cancel
	l.done = make(chan struct{})

	go func() {
		defer close(l.done)
		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for {
			select {
			case <-loopCtx.Done():
				return
			case <-ticker.C:
				l.sweep()
			}
		}
	}()
}

func (l *MemoryLimiter) Stop() {
	if l.cancel == nil {
		return
	}
	l.cancel()
	<-l.done
	l.cancel = nil
}

func (l *MemoryLimiter) sweep() {
	now := l.now()

	l.mu.Lock()
	defer l.mu.Unlock()

	for key, w := range l.windows {
		if !now.Before(w.resetAt) {
			delete(l.windows, key)
		}
	}
}

type WindowCounter interface {
	IncrWindow(ctx context.Context, key string, window time.Duration) (count int64, ttl time.Duration, err error)
	Del(ctx context.Context, key string) error
}

// RedisLimiter shares counters between instances through redis. When redis is
// unreachable it lets the call through.
type RedisLimiter struct {
	namespace string
	max       int
	window    time.Duration
	counter   WindowCounter
	metrics   *metrics.Metrics
}

func NewRedisLimiter(counter WindowCounter, namespace string, max int, windowSize time.Duration, m *metrics.Metrics) *RedisLimiter {
	return &RedisLimiter{
		namespace: namespace,
		max:       max,
		window:    windowSize,
		counter:   counter,
		metrics:   m,
	}
}

func (l *RedisLimiter) Allow(ctx context.Context, key string) bool {
	count, _, err := l.counter.IncrWindow(ctx, l.redisKey(key), l.window)
	if err != nil {
		slog.ErrorContext(ctx, "rate limiter counter unavailable, allowing call", "namespace", l.namespace, "error", err)
		return true
	}

	if count > int64(l.max) {
		l.metrics.RateLimited(l.namespace)
		return false
	}
	return true
}

func (l *RedisLimiter) Reset(ctx context.Context, key string) {
	if err := l.counter.Del(ctx, l.redisKey(key)); err != nil {
		slog.ErrorContext(ctx, "error occurred while resetting rate limit", "namespace", l.namespace, "error", err)
	}
}

func (l *RedisLimiter) redisKey(key string) string {
	return "ratelimit:" + l.namespace + ":" + key
}
