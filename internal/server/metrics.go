package server

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const metricsNamespace = "autopeq"

// metrics are the job counters of one Server. Each server owns its registry
// so several servers can coexist in one process.
type metrics struct {
	registry    *prometheus.Registry
	started     prometheus.Counter
	finished    *prometheus.CounterVec
	running     prometheus.Gauge
	pending     prometheus.Gauge
	duration    prometheus.Histogram
	evaluations prometheus.Counter
	failures    prometheus.Counter
	objective   prometheus.Histogram
}

func newMetrics() *metrics {
	m := &metrics{
		registry: prometheus.NewRegistry(),
		started: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "jobs_started_total",
			Help:      "Optimization jobs accepted.",
		}),
		finished: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "jobs_finished_total",
			Help:      "Optimization jobs finished, by final status.",
		}, []string{"status"}),
		running: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: metricsNamespace,
			Name:      "jobs_running",
			Help:      "Optimization jobs currently holding a worker.",
		}),
		pending: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: metricsNamespace,
			Name:      "jobs_pending",
			Help:      "Optimization jobs waiting for a worker.",
		}),
		duration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: metricsNamespace,
			Name:      "job_duration_seconds",
			Help:      "Wall time of finished optimization runs.",
			Buckets:   prometheus.ExponentialBuckets(0.05, 2, 14),
		}),
		evaluations: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "objective_evaluations_total",
			Help:      "Objective evaluations spent by finished runs.",
		}),
		failures: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "numeric_failures_total",
			Help:      "Candidates rejected for a non-finite loss.",
		}),
		objective: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: metricsNamespace,
			Name:      "final_objective",
			Help:      "Objective value of finished runs.",
			Buckets:   prometheus.ExponentialBuckets(0.01, 2, 14),
		}),
	}
	m.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.started, m.finished, m.running, m.pending,
		m.duration, m.evaluations, m.failures, m.objective,
	)
	return m
}

func (m *metrics) handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}
