// Package metrics exposes Prometheus collectors for the pipeline.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds the pipeline collectors. A nil *Metrics is valid and records nothing.
type Metrics struct {
	gatherer prometheus.Gatherer

	crawlItemsTotal    *prometheus.CounterVec
	crawlSourceErrors  *prometheus.CounterVec
	crawlDuration      *prometheus.HistogramVec
	tasksCreatedTotal  prometheus.Counter
	taskOutcomesTotal  *prometheus.CounterVec
	generationDuration prometheus.Histogram
	rateLimitDenials   prometheus.Counter
	activeWorkers      prometheus.Gauge
	jobRunsTotal       *prometheus.CounterVec
	jobDurationSeconds *prometheus.HistogramVec
}

// New registers the collectors with reg. Pass prometheus.NewRegistry() in tests.
func New(reg *prometheus.Registry) *Metrics {
	factory := promauto.With(reg)

	return &Metrics{
		gatherer: reg,

		crawlItemsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "trending_crawl_items_total",
				Help: "Crawled items, labeled by source and outcome (fetched, rejected, new).",
			},
			[]string{"source", "outcome"},
		),
		crawlSourceErrors: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "trending_crawl_source_errors_total",
				Help: "Crawls of a source that failed as a whole.",
			},
			[]string{"source"},
		),
		crawlDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "trending_crawl_duration_seconds",
				Help:    "Duration of one source crawl.",
				Buckets: []float64{0.5, 1, 2, 5, 10, 30, 60, 120},
			},
			[]string{"source"},
		),
		tasksCreatedTotal: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "trending_summary_tasks_created_total",
				Help: "Summary tasks created by ingestion or backfill.",
			},
		),
		taskOutcomesTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "trending_summary_task_outcomes_total",
				Help: "Processed summary tasks, labeled by outcome.",
			},
			[]string{"outcome"},
		),
		generationDuration: factory.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "trending_summary_generation_seconds",
				Help:    "Duration of summarizer calls.",
				Buckets: []float64{1, 2, 5, 10, 20, 30, 60},
			},
		),
		rateLimitDenials: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "trending_rate_limit_denials_total",
				Help: "Denied rate limiter acquisitions.",
			},
		),
		activeWorkers: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "trending_generation_active_workers",
				Help: "Workers currently processing a summary task.",
			},
		),
		jobRunsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "trending_job_runs_total",
				Help: "Scheduler job runs, labeled by job and status.",
			},
			[]string{"job", "status"},
		),
		jobDurationSeconds: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "trending_job_duration_seconds",
				Help:    "Scheduler job durations.",
				Buckets: prometheus.ExponentialBuckets(0.5, 2, 12),
			},
			[]string{"job"},
		),
	}
}

// Handler returns an http.Handler exposing the registry
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.gatherer, promhttp.HandlerOpts{})
}

// ObserveCrawl records the outcome of one source crawl
func (m *Metrics) ObserveCrawl(source string, fetched, rejected, newItems int, failed bool, d time.Duration) {
	if m == nil {
		return
	}
	m.crawlItemsTotal.WithLabelValues(source, "fetched").Add(float64(fetched))
	m.crawlItemsTotal.WithLabelValues(source, "rejected").Add(float64(rejected))
	m.crawlItemsTotal.WithLabelValues(source, "new").Add(float64(newItems))
	if failed {
		m.crawlSourceErrors.WithLabelValues(source).Inc()
	}
	m.crawlDuration.WithLabelValues(source).Observe(d.Seconds())
}

// TasksCreated counts newly created summary tasks
func (m *Metrics) TasksCreated(n int) {
	if m == nil || n <= 0 {
		return
	}
	m.tasksCreatedTotal.Add(float64(n))
}

// TaskOutcome counts one processed task
func (m *Metrics) TaskOutcome(outcome string) {
	if m == nil {
		return
	}
	m.taskOutcomesTotal.WithLabelValues(outcome).Inc()
}

// ObserveGeneration records one summarizer call
func (m *Metrics) ObserveGeneration(d time.Duration) {
	if m == nil {
		return
	}
	m.generationDuration.Observe(d.Seconds())
}

// RateLimitDenied counts a denied acquisition
func (m *Metrics) RateLimitDenied() {
	if m == nil {
		return
	}
	m.rateLimitDenials.Inc()
}

// WorkerBusy adjusts the active worker gauge
func (m *Metrics) WorkerBusy(busy bool) {
	if m == nil {
		return
	}
	if busy {
		m.activeWorkers.Inc()
	} else {
		m.activeWorkers.Dec()
	}
}

// ObserveJob records one scheduler job run
func (m *Metrics) ObserveJob(job string, err error, d time.Duration) {
	if m == nil {
		return
	}
	status := "success"
	if err != nil {
		status = "error"
	}
	m.jobRunsTotal.WithLabelValues(job, status).Inc()
	m.jobDurationSeconds.WithLabelValues(job).Observe(d.Seconds())
}
