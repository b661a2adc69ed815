package broadcast

import (
	"context"
	"log/slog"
	"sync"

	"github.com/oklog/ulid/v2"
	"github.com/sf7293/pipeline-board/internal/domain"
	"github.com/sf7293/pipeline-board/internal/metrics"
)

const (
	DefaultBufferSize = 64
	// SinkQueueSize bounds the events waiting for sink delivery.
	SinkQueueSize = 1024
)

// Sink receives every published event after subscriber fan-out. Sinks run on a
// single dispatcher goroutine in publish order; their errors are logged and never
// reach the publisher.
type Sink interface {
	Handle(ctx context.Context, event domain.Event) error
}

type SinkFunc func(ctx context.Context, event domain.Event) error

func (f SinkFunc) Handle(ctx context.Context, event domain.Event) error {
	return f(ctx, event)
}

type sinkJob struct {
	ctx   context.Context
	event domain.Event
}

type subscriber struct {
	userID string
	ch     chan domain.Event
}

// Hub fans committed task mutations out to connected subscribers. Delivery is
// at-most-once: a subscriber whose buffer is full misses the event.
type Hub struct {
	// publishMu serializes Publish so every subscriber and sink sees events in commit order
	publishMu sync.Mutex

	mu          sync.RWMutex
	subscribers map[string]*subscriber

	sinks     []Sink
	sinkQueue chan sinkJob
	sinkDone  chan struct{}
	// closed is guarded by publishMu
	closed    bool
	closeOnce sync.Once

	metrics *metrics.Metrics
}

func NewHub(m *metrics.Metrics, sinks ...Sink) *Hub {
	return newHub(m, SinkQueueSize, sinks...)
}

func newHub(m *metrics.Metrics, queueSize int, sinks ...Sink) *Hub {
	h := &Hub{
		subscribers: make(map[string]*subscriber),
		sinks:       sinks,
		sinkDone:    make(chan struct{}),
		metrics:     m,
	}

	if len(sinks) == 0 {
		close(h.sinkDone)
		return h
	}

	h.sinkQueue = make(chan sinkJob, queueSize)
	go h.dispatch()
	return h
}

// Subscribe admits an already authenticated user. The returned channel is closed by
// Unsubscribe or Close.
func (h *Hub) Subscribe(userID string, bufSize int) (string, <-chan domain.Event) {
	if bufSize <= 0 {
		bufSize = DefaultBufferSize
	}

	id := ulid.Make().String()
	sub := &subscriber{userID: userID, ch: make(chan domain.Event, bufSize)}

	h.mu.Lock()
	h.subscribers[id] = sub
	count := len(h.subscribers)
	h.mu.Unlock()

	h.metrics.SetSubscribers(count)
	slog.Info("subscriber joined", "subscriber_id", id, "user_id", userID)

	return id, sub.ch
}

func (h *Hub) Unsubscribe(id string) {
	h.mu.Lock()
	sub, ok := h.subscribers[id]
	if ok {
		close(sub.ch)
		delete(h.subscribers, id)
	}
	count := len(h.subscribers)
	h.mu.Unlock()

	if ok {
		h.metrics.SetSubscribers(count)
		slog.Info("subscriber left", "subscriber_id", id, "user_id", sub.userID)
	}
}

func (h *Hub) Subscribers() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subscribers)
}

// Publish delivers event to every subscriber connected right now and queues it for
// the sinks. It never waits on a subscriber or a sink.
func (h *Hub) Publish(ctx context.Context, event domain.Event) {
	h.publishMu.Lock()
	defer h.publishMu.Unlock()

	h.metrics.EventPublished(string(event.Type))

	h.mu.RLock()
	for id, sub := range h.subscribers {
		select {
		case sub.ch <- event:
		default:
			h.metrics.EventDropped()
			slog.Warn("subscriber buffer full, dropping event", "subscriber_id", id, "event", event.Type, "task_id", event.TaskID)
		}
	}
	h.mu.RUnlock()

	if h.sinkQueue == nil || h.closed {
		return
	}

	// The request finishing must not abort the sinks
	select {
	case h.sinkQueue <- sinkJob{ctx: context.WithoutCancel(ctx), event: event}:
	default:
		h.metrics.SinkDropped()
		slog.WarnContext(ctx, "sink queue full, dropping event", "event", event.Type, "task_id", event.TaskID)
	}
}

func (h *Hub) dispatch() {
	defer close(h.sinkDone)

	for job := range h.sinkQueue {
		for _, sink := range h.sinks {
			if err := sink.Handle(job.ctx, job.event); err != nil {
				slog.ErrorContext(job.ctx, "broadcast sink failed", "event", job.event.Type, "task_id", job.event.TaskID, "error", err)
			}
		}
	}
}

// Close disconnects every subscriber and waits for the queued sink work to finish.
// Events published afterwards skip the sinks. Close may be called more than once.
func (h *Hub) Close() {
	h.closeOnce.Do(func() {
		h.publishMu.Lock()
		h.closed = true
		if h.sinkQueue != nil {
			close(h.sinkQueue)
		}
		h.publishMu.Unlock()
	})

	h.mu.Lock()
	for id, sub := range h.subscribers {
		close(sub.ch)
		delete(h.subscribers, id)
	}
	h.mu.Unlock()

	h.metrics.SetSubscribers(0)
	<-h.sinkDone
}
