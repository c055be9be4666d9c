package metrics

import (
	"context"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"ytauto/internal/queue"
	"ytauto/internal/services"
)

const namespace = "ytauto"

// Source reports live orchestrator occupancy.
type Source interface {
	QueueSize() int
	ActiveCount() int
}

// Metrics holds the collectors for job and stage outcomes. It is both a
// pipeline observer and an orchestrator result sink.
type Metrics struct {
	registry *prometheus.Registry
	source   atomic.Pointer[Source]

	jobs          *prometheus.CounterVec
	jobDuration   *prometheus.HistogramVec
	stageAttempts *prometheus.CounterVec
	stageRetries  *prometheus.CounterVec
	stageOutcomes *prometheus.CounterVec
	stageDuration *prometheus.HistogramVec
}

// New registers every collector on a private registry. Process and Go
// runtime collectors are included so /metrics mirrors a stock exporter.
func New() *Metrics {
	m := &Metrics{registry: prometheus.NewRegistry()}

	m.jobs = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "jobs_total",
		Help:      "Jobs that reached a terminal state.",
	}, []string{"line", "state"})
	m.jobDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "job_duration_seconds",
		Help:      "Wall time of finished jobs.",
		Buckets:   []float64{30, 60, 120, 300, 600, 1200, 1800, 3600},
	}, []string{"line", "state"})
	m.stageAttempts = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "stage_attempts_total",
		Help:      "Provider attempts made per stage.",
	}, []string{"line", "stage", "provider"})
	m.stageRetries = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "stage_retries_total",
		Help:      "Retries scheduled after a retryable stage failure.",
	}, []string{"line", "stage", "kind"})
	m.stageOutcomes = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "stage_outcomes_total",
		Help:      "Completed stage runs by result kind. Successful runs use kind \"ok\".",
	}, []string{"line", "stage", "kind"})
	m.stageDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "stage_duration_seconds",
		Help:      "Wall time of a stage including retries and fallbacks.",
		Buckets:   prometheus.ExponentialBuckets(0.5, 2, 12),
	}, []string{"line", "stage"})

	queued := prometheus.NewGaugeFunc(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "queue_depth",
		Help:      "Jobs waiting for a worker.",
	}, func() float64 { return m.read(Source.QueueSize) })
	active := prometheus.NewGaugeFunc(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "active_jobs",
		Help:      "Jobs currently running.",
	}, func() float64 { return m.read(Source.ActiveCount) })

	m.registry.MustRegister(
		m.jobs, m.jobDuration,
		m.stageAttempts, m.stageRetries, m.stageOutcomes, m.stageDuration,
		queued, active,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

// Track points the occupancy gauges at src. Until called they read zero.
func (m *Metrics) Track(src Source) {
	if src == nil {
		m.source.Store(nil)
		return
	}
	m.source.Store(&src)
}

func (m *Metrics) read(fn func(Source) int) float64 {
	src := m.source.Load()
	if src == nil {
		return 0
	}
	return float64(fn(*src))
}

// Registry exposes the underlying registry.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

// StageCompleted records one finished stage.
func (m *Metrics) StageCompleted(line, stage, provider string, attempts int, elapsed time.Duration, err error) {
	if provider == "" {
		provider = "none"
	}
	m.stageAttempts.WithLabelValues(line, stage, provider).Add(float64(attempts))
	m.stageOutcomes.WithLabelValues(line, stage, outcome(err)).Inc()
	m.stageDuration.WithLabelValues(line, stage).Observe(elapsed.Seconds())
}

// StageRetried records a retry decision.
func (m *Metrics) StageRetried(line, stage, _ string, err error) {
	m.stageRetries.WithLabelValues(line, stage, outcome(err)).Inc()
}

// RecordJobResult counts terminal jobs. It never fails.
func (m *Metrics) RecordJobResult(_ context.Context, rec queue.Record) error {
	if !rec.State.Terminal() {
		return nil
	}
	state := string(rec.State)
	m.jobs.WithLabelValues(rec.LineID, state).Inc()
	if d := rec.Duration(); d > 0 {
		m.jobDuration.WithLabelValues(rec.LineID, state).Observe(d.Seconds())
	}
	return nil
}

func outcome(err error) string {
	if err == nil {
		return "ok"
	}
	return string(services.KindOf(err))
}
