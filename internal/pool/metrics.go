package pool

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/inkfold/renderd/internal/render"
)

// Stats is the operational snapshot consumed by the stats endpoint and the
// watch TUI.
type Stats struct {
	ActiveSlots       int     `json:"active_slots"`
	CompletedCount    uint64  `json:"completed_count"`
	AverageDurationMs float64 `json:"average_duration_ms"`
	QueueDepth        int     `json:"queue_depth"`
}

// Metrics aggregates pool counters. Completion counters are mutated only by
// the dispatcher's execution path, one update at a time per job.
type Metrics struct {
	mu            sync.Mutex
	completed     uint64
	totalDuration time.Duration
	activeSlots   int
	queueDepth    int

	completedTotal   prometheus.Counter
	failedTotal      *prometheus.CounterVec
	duration         prometheus.Histogram
	queueDepthGauge  prometheus.Gauge
	activeSlotsGauge prometheus.Gauge
}

// NewMetrics builds pool metrics and registers the prometheus collectors on
// reg when it is non-nil.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		completedTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "renderd",
			Subsystem: "pool",
			Name:      "jobs_completed_total",
			Help:      "Render jobs that resolved with an outcome.",
		}),
		failedTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "renderd",
			Subsystem: "pool",
			Name:      "jobs_failed_total",
			Help:      "Render jobs that failed, by failure kind.",
		}, []string{"kind"}),
		duration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "renderd",
			Subsystem: "pool",
			Name:      "job_duration_seconds",
			Help:      "Wall-clock duration of render jobs.",
			Buckets:   prometheus.DefBuckets,
		}),
		queueDepthGauge: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "renderd",
			Subsystem: "pool",
			Name:      "queue_depth",
			Help:      "Jobs waiting for an execution slot.",
		}),
		activeSlotsGauge: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "renderd",
			Subsystem: "pool",
			Name:      "active_slots",
			Help:      "Execution slots currently running.",
		}),
	}

	if reg != nil {
		reg.MustRegister(m.completedTotal, m.failedTotal, m.duration,
			m.queueDepthGauge, m.activeSlotsGauge)
	}
	return m
}

// Observe records one completed job.
func (m *Metrics) Observe(d time.Duration, err error) {
	m.mu.Lock()
	m.completed++
	m.totalDuration += d
	m.mu.Unlock()

	m.completedTotal.Inc()
	m.duration.Observe(d.Seconds())
	if err != nil {
		m.failedTotal.WithLabelValues(string(render.KindOf(err))).Inc()
	}
}

// SetQueueDepth records the current queue depth.
func (m *Metrics) SetQueueDepth(n int) {
	m.mu.Lock()
	m.queueDepth = n
	m.mu.Unlock()
	m.queueDepthGauge.Set(float64(n))
}

// SetActiveSlots records the current worker count.
func (m *Metrics) SetActiveSlots(n int) {
	m.mu.Lock()
	m.activeSlots = n
	m.mu.Unlock()
	m.activeSlotsGauge.Set(float64(n))
}

// Snapshot returns the current aggregate view.
func (m *Metrics) Snapshot() Stats {
	m.mu.Lock()
	defer m.mu.Unlock()

	s := Stats{
		ActiveSlots:    m.activeSlots,
		CompletedCount: m.completed,
		QueueDepth:     m.queueDepth,
	}
	if m.completed > 0 {
		s.AverageDurationMs = float64(m.totalDuration.Milliseconds()) / float64(m.completed)
	}
	return s
}
