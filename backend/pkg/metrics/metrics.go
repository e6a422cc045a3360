package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "playbook"

// Metrics holds the collectors exported on /metrics. A nil *Metrics is a
// valid no-op recorder.
type Metrics struct {
	registry *prometheus.Registry

	jobsSubmitted *prometheus.CounterVec
	jobsFinished  *prometheus.CounterVec
	jobsActive    prometheus.Gauge
	jobDuration   *prometheus.HistogramVec
	chunksPerJob  prometheus.Histogram
	llmCalls      *prometheus.CounterVec
	llmLatency    *prometheus.HistogramVec
	truncations   prometheus.Counter
}

// New creates the collectors on a private registry
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		jobsSubmitted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "jobs_submitted_total",
			Help:      "Playbook jobs accepted, by input kind.",
		}, []string{"kind"}),
		jobsFinished: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "jobs_finished_total",
			Help:      "Playbook jobs that reached a terminal state.",
		}, []string{"status"}),
		jobsActive: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "jobs_active",
			Help:      "Playbook jobs currently running.",
		}),
		jobDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "job_duration_seconds",
			Help:      "Wall time from submission to terminal state.",
			Buckets:   []float64{5, 15, 30, 60, 120, 300, 600, 1200, 1800},
		}, []string{"status"}),
		chunksPerJob: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "analysis_chunks",
			Help:      "Chunks planned per analysis.",
			Buckets:   []float64{1, 2, 3, 4, 6, 8, 10},
		}),
		llmCalls: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "llm_calls_total",
			Help:      "LLM completion calls, by provider and outcome.",
		}, []string{"provider", "outcome"}),
		llmLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "llm_call_duration_seconds",
			Help:      "LLM completion latency.",
			Buckets:   prometheus.ExponentialBuckets(1, 2, 10),
		}, []string{"provider"}),
		truncations: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "documents_truncated_total",
			Help:      "Documents cut at the character ceiling.",
		}),
	}

	m.registry.MustRegister(
		m.jobsSubmitted, m.jobsFinished, m.jobsActive, m.jobDuration,
		m.chunksPerJob, m.llmCalls, m.llmLatency, m.truncations,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

// Handler serves the registry in the Prometheus exposition format
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

// JobSubmitted counts an accepted job. kind is "document" or "text".
func (m *Metrics) JobSubmitted(kind string) {
	if m == nil {
		return
	}
	m.jobsSubmitted.WithLabelValues(kind).Inc()
	m.jobsActive.Inc()
}

// JobFinished records the terminal status of a job
func (m *Metrics) JobFinished(status string, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.jobsFinished.WithLabelValues(status).Inc()
	m.jobDuration.WithLabelValues(status).Observe(elapsed.Seconds())
	m.jobsActive.Dec()
}

// ChunksPlanned records how a document was split
func (m *Metrics) ChunksPlanned(n int, truncated bool) {
	if m == nil {
		return
	}
	m.chunksPerJob.Observe(float64(n))
	if truncated {
		m.truncations.Inc()
	}
}

// LLMCall records one completion call
func (m *Metrics) LLMCall(provider, outcome string, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.llmCalls.WithLabelValues(provider, outcome).Inc()
	m.llmLatency.WithLabelValues(provider).Observe(elapsed.Seconds())
}
