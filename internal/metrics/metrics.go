// Package metrics exposes job and stage metrics in Prometheus format.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/designanalyzer/api/internal/model"
)

const namespace = "analyzer"

// Collector records job lifecycle and stage timing on its own registry
type Collector struct {
	registry *prometheus.Registry

	jobsSubmitted prometheus.Counter
	jobsFinished  *prometheus.CounterVec
	jobsInFlight  prometheus.Gauge
	jobDuration   prometheus.Histogram
	stageDuration *prometheus.HistogramVec
}

// NewCollector creates a collector with process and Go runtime metrics included
func NewCollector() *Collector {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	factory := promauto.With(reg)

	return &Collector{
		registry: reg,
		jobsSubmitted: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "jobs_submitted_total",
			Help:      "Analysis jobs accepted.",
		}),
		jobsFinished: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "jobs_finished_total",
			Help:      "Analysis jobs that reached a terminal state.",
		}, []string{"state"}),
		jobsInFlight: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "jobs_in_flight",
			Help:      "Analysis jobs currently running.",
		}),
		jobDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "job_duration_seconds",
			Help:      "Time from job start to terminal state.",
			Buckets:   []float64{0.5, 1, 2.5, 5, 10, 30, 60, 120, 300, 600},
		}),
		stageDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "stage_duration_seconds",
			Help:      "Pipeline stage execution time.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"stage", "outcome"}),
	}
}

// Registry returns the registry backing the collector
func (c *Collector) Registry() *prometheus.Registry {
	return c.registry
}

// Handler serves the exposition format
func (c *Collector) Handler() http.Handler {
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{})
}

func (c *Collector) JobSubmitted(job model.Job) {
	c.jobsSubmitted.Inc()
}

func (c *Collector) JobStarted(job model.Job) {
	c.jobsInFlight.Inc()
}

func (c *Collector) StageStarted(jobID, stage string, progress int) {}

func (c *Collector) JobFinished(job model.Job) {
	c.jobsFinished.WithLabelValues(string(job.State)).Inc()

	// jobs failed before they started were never counted as in flight
	if job.StartedAt == nil {
		return
	}
	c.jobsInFlight.Dec()
	if job.CompletedAt != nil {
		c.jobDuration.Observe(job.CompletedAt.Sub(*job.StartedAt).Seconds())
	}
}

// ObserveStage matches pipeline.Options.OnStageDone
func (c *Collector) ObserveStage(stage string, elapsed time.Duration, err error) {
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	c.stageDuration.WithLabelValues(stage, outcome).Observe(elapsed.Seconds())
}
