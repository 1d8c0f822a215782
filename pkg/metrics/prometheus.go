package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Recorder implements the pipeline metrics sink using Prometheus.
type Recorder struct {
	runsTotal      *prometheus.CounterVec
	runDuration    prometheus.Histogram
	lastRun        *prometheus.GaugeVec
	taskEntities   *prometheus.CounterVec
	taskDuration   *prometheus.HistogramVec
	providerErrors *prometheus.CounterVec
}

// New registers the collectors on reg. Pass prometheus.DefaultRegisterer in
// production and a fresh registry in tests.
func New(reg prometheus.Registerer) *Recorder {
	f := promauto.With(reg)
	return &Recorder{
		runsTotal: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "priceintel_pipeline_runs_total",
				Help: "Pipeline runs by final status",
			},
			[]string{"status"},
		),
		runDuration: f.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "priceintel_pipeline_run_duration_seconds",
				Help:    "Wall time of a full pipeline run",
				Buckets: []float64{1, 5, 15, 30, 60, 120, 300, 600, 1800},
			},
		),
		lastRun: f.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "priceintel_pipeline_last_run_timestamp_seconds",
				Help: "Unix time of the last finished run by status",
			},
			[]string{"status"},
		),
		taskEntities: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "priceintel_pipeline_task_entities_total",
				Help: "Entities processed per task by outcome",
			},
			[]string{"task", "outcome"},
		),
		taskDuration: f.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "priceintel_pipeline_task_duration_seconds",
				Help:    "Duration of each pipeline task",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"task"},
		),
		providerErrors: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "priceintel_provider_errors_total",
				Help: "Data provider failures by operation",
			},
			[]string{"operation"},
		),
	}
}

func (r *Recorder) RecordRun(status string, elapsed time.Duration, finishedAt time.Time) {
	r.runsTotal.WithLabelValues(status).Inc()
	r.runDuration.Observe(elapsed.Seconds())
	r.lastRun.WithLabelValues(status).Set(float64(finishedAt.Unix()))
}

// RecordTask adds one task's entity outcome counts.
func (r *Recorder) RecordTask(task string, succeeded, failed, skipped int, elapsed time.Duration) {
	r.taskEntities.WithLabelValues(task, "succeeded").Add(float64(succeeded))
	r.taskEntities.WithLabelValues(task, "failed").Add(float64(failed))
	r.taskEntities.WithLabelValues(task, "skipped").Add(float64(skipped))
	r.taskDuration.WithLabelValues(task).Observe(elapsed.Seconds())
}

func (r *Recorder) RecordProviderError(op string) {
	r.providerErrors.WithLabelValues(op).Inc()
}
