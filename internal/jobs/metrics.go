// Package jobs provides metrics shared by scheduled background jobs.
package jobs

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics names as constants for consistency.
const (
	MetricBackgroundJobsTotal         = "background_jobs_total"
	MetricBackgroundJobsDuration      = "background_jobs_duration_seconds"
	MetricBackgroundJobErrorsTotal    = "background_job_errors_total"
	MetricBackgroundJobLastSuccessful = "background_job_last_success_timestamp"
)

// JobTypeReportGenerate labels the daily audit report run.
const JobTypeReportGenerate = "report_generation"

// Status constants for job completion.
const (
	StatusSuccess = "success"
	StatusFailure = "failure"
	StatusSkipped = "skipped"
)

// Metrics contains Prometheus metrics for background job runs.
// All operations are thread-safe.
type Metrics struct {
	jobsTotal      *prometheus.CounterVec
	jobsDuration   *prometheus.HistogramVec
	jobErrors      *prometheus.CounterVec
	lastSuccessful *prometheus.GaugeVec
}

// NewMetrics creates and returns a new Metrics instance with all collectors initialized.
// The metrics are not registered; call Register to register them with a registry.
func NewMetrics() *Metrics {
	return &Metrics{
		jobsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: MetricBackgroundJobsTotal,
				Help: "Total number of background job executions by type and status",
			},
			[]string{"job_type", "status"},
		),
		jobsDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    MetricBackgroundJobsDuration,
				Help:    "Histogram of background job duration in seconds by job type",
				Buckets: []float64{1, 5, 15, 30, 60, 120, 300, 600, 1200, 3600},
			},
			[]string{"job_type"},
		),
		jobErrors: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: MetricBackgroundJobErrorsTotal,
				Help: "Total number of background job errors by type and error type",
			},
			[]string{"job_type", "error_type"},
		),
		lastSuccessful: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: MetricBackgroundJobLastSuccessful,
				Help: "Unix timestamp of the last successful run by job type",
			},
			[]string{"job_type"},
		),
	}
}

// Register registers all metrics with the given registry.
// Returns an error if registration fails.
func (m *Metrics) Register(reg prometheus.Registerer) error {
	for _, c := range m.Collectors() {
		if err := reg.Register(c); err != nil {
			return err
		}
	}
	return nil
}

// IncJobsTotal increments the jobs total counter.
func (m *Metrics) IncJobsTotal(jobType, status string) {
	m.jobsTotal.WithLabelValues(jobType, status).Inc()
}

// ObserveJobDuration records a job duration sample.
func (m *Metrics) ObserveJobDuration(jobType string, seconds float64) {
	m.jobsDuration.WithLabelValues(jobType).Observe(seconds)
}

// IncJobErrors increments the job errors counter.
// errorType names the failing stage, e.g. "log_source" or "storage".
func (m *Metrics) IncJobErrors(jobType, errorType string) {
	m.jobErrors.WithLabelValues(jobType, errorType).Inc()
}

// SetLastSuccess records t as the last successful run of jobType.
func (m *Metrics) SetLastSuccess(jobType string, t time.Time) {
	m.lastSuccessful.WithLabelValues(jobType).Set(float64(t.Unix()))
}

// Collectors returns all Prometheus collectors for testing.
func (m *Metrics) Collectors() []prometheus.Collector {
	return []prometheus.Collector{
		m.jobsTotal,
		m.jobsDuration,
		m.jobErrors,
		m.lastSuccessful,
	}
}
