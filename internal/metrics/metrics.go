// Package metrics provides Prometheus metrics for monitoring pipeline runs
// and the scheduler.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	RunsStarted = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "feedpulse_pipeline_runs_started_total",
			Help: "Total number of pipeline runs started",
		},
		[]string{"pipeline", "trigger"},
	)
	RunsCompleted = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "feedpulse_pipeline_runs_completed_total",
			Help: "Total number of pipeline runs by terminal status",
		},
		[]string{"pipeline", "status"},
	)
	RecordsProcessed = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "feedpulse_records_processed_total",
			Help: "Total number of records processed by pipeline",
		},
		[]string{"pipeline"},
	)
	RecordsStored = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "feedpulse_records_stored_total",
			Help: "Total number of new records stored",
		},
		[]string{"pipeline"},
	)
	RecordsUpdated = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "feedpulse_records_updated_total",
			Help: "Total number of existing records updated",
		},
		[]string{"pipeline"},
	)
	RecordsFailed = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "feedpulse_records_failed_total",
			Help: "Total number of records that failed enrichment or storage",
		},
		[]string{"pipeline"},
	)
	SourcesSkipped = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "feedpulse_sources_skipped_total",
			Help: "Total number of source fetches skipped because a circuit breaker was open",
		},
		[]string{"pipeline", "source"},
	)
	RunDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "feedpulse_pipeline_run_duration_seconds",
			Help:    "Pipeline run duration in seconds",
			Buckets: []float64{.1, .25, .5, 1, 2.5, 5, 10, 30, 60, 120, 300, 600},
		},
		[]string{"pipeline", "status"},
	)
	DataQualityScore = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "feedpulse_data_quality_score",
			Help: "Data quality score of the most recent run per pipeline",
		},
		[]string{"pipeline"},
	)
	ScheduledJobs = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "feedpulse_scheduled_jobs",
			Help: "Current number of registered scheduler jobs",
		},
	)
	PausedJobs = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "feedpulse_scheduled_jobs_paused",
			Help: "Current number of paused scheduler jobs",
		},
	)
	FiringsSkipped = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "feedpulse_job_firings_skipped_total",
			Help: "Total number of job firings skipped because the previous execution was still running",
		},
		[]string{"job"},
	)
	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "feedpulse_http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "endpoint", "status"},
	)
	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "feedpulse_http_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "endpoint"},
	)
)

func RecordRunStarted(pipeline, trigger string) {
	RunsStarted.WithLabelValues(pipeline, trigger).Inc()
}

func RecordRunCompleted(pipeline, status string, duration time.Duration) {
	RunsCompleted.WithLabelValues(pipeline, status).Inc()
	RunDuration.WithLabelValues(pipeline, status).Observe(duration.Seconds())
}

func RecordRunCounters(pipeline string, processed, stored, updated, failed int) {
	RecordsProcessed.WithLabelValues(pipeline).Add(float64(processed))
	RecordsStored.WithLabelValues(pipeline).Add(float64(stored))
	RecordsUpdated.WithLabelValues(pipeline).Add(float64(updated))
	RecordsFailed.WithLabelValues(pipeline).Add(float64(failed))
}

func RecordQualityScore(pipeline string, score float64) {
	DataQualityScore.WithLabelValues(pipeline).Set(score)
}

func RecordSourceSkipped(pipeline, sourceName string) {
	SourcesSkipped.WithLabelValues(pipeline, sourceName).Inc()
}

func RecordFiringSkipped(jobID string) {
	FiringsSkipped.WithLabelValues(jobID).Inc()
}

func UpdateJobGauges(total, paused int) {
	ScheduledJobs.Set(float64(total))
	PausedJobs.Set(float64(paused))
}

func RecordHTTPRequest(method, endpoint, status string, duration time.Duration) {
	HTTPRequestsTotal.WithLabelValues(method, endpoint, status).Inc()
	HTTPRequestDuration.WithLabelValues(method, endpoint).Observe(duration.Seconds())
}
