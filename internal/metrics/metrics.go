package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

const namespace = "pipeline_board"

// Metrics groups the collectors shared by the hub, the uptime scheduler and the
// rate limiters. A nil *Metrics records nothing.
type Metrics struct {
	EventsPublished   *prometheus.CounterVec
	EventsDropped     prometheus.Counter
	SinkEventsDropped prometheus.Counter
	Subscribers       prometheus.Gauge
	Probes            *prometheus.CounterVec
	CycleDuration     prometheus.Histogram
	RateLimitRejected *prometheus.CounterVec
}

// NewRegistry returns a registry carrying the Go runtime and process collectors.
func NewRegistry() *prometheus.Registry {
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector())
	reg.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	return reg
}

func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		EventsPublished: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "hub",
			Name:      "events_published_total",
			Help:      "Task mutation events handed to the broadcast hub.",
		}, []string{"type"}),
		EventsDropped: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "hub",
			Name:      "events_dropped_total",
			Help:      "Deliveries skipped because a subscriber buffer was full.",
		}),
		SinkEventsDropped: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "hub",
			Name:      "sink_events_dropped_total",
			Help:      "Events not handed to the activity sinks because the sink queue was full.",
		}),
		Subscribers: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "hub",
			Name:      "subscribers",
			Help:      "Currently connected real-time subscribers.",
		}),
		Probes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "uptime",
			Name:      "probes_total",
			Help:      "Uptime probes by resulting status.",
		}, []string{"status"}),
		CycleDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "uptime",
			Name:      "cycle_duration_seconds",
			Help:      "Wall time of a full uptime cycle.",
			Buckets:   []float64{1, 5, 15, 30, 60, 120, 300},
		}),
		RateLimitRejected: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "ratelimit",
			Name:      "rejected_total",
			Help:      "Calls refused by a rate limiter namespace.",
		}, []string{"namespace"}),
	}

	reg.MustRegister(
		m.EventsPublished,
		m.EventsDropped,
		m.SinkEventsDropped,
		m.Subscribers,
		m.Probes,
		m.CycleDuration,
		m.RateLimitRejected,
	)

	return m
}

func (m *Metrics) EventPublished(eventType string) {
	if m == nil {
		return
	}
	m.EventsPublished.WithLabelValues(eventType).Inc()
}

func (m *Metrics) EventDropped() {
	if m == nil {
		return
	}
	m.EventsDropped.Inc()
}

func (m *Metrics) SinkDropped() {
	if m == nil {
		return
	}
	m.SinkEventsDropped.Inc()
}

func (m *Metrics) SetSubscribers(n int) {
	if m == nil {
		return
	}
	m.Subscribers.Set(float64(n))
}

func (m *Metrics) ProbeFinished(status string) {
	if m == nil {
		return
	}
	m.Probes.WithLabelValues(status).Inc()
}

func (m *Metrics) CycleFinished(d time.Duration) {
	if m == nil {
		return
	}
	m.CycleDuration.Observe(d.Seconds())
}

func (m *Metrics) RateLimited(namespace string) {
	if m == nil {
		return
	}
	m.RateLimitRejected.WithLabelValues(namespace).Inc()
}
