package report

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics names as constants for consistency.
const (
	MetricLinesScannedTotal         = "audit_report_lines_scanned_total"
	MetricLinesRecognizedTotal      = "audit_report_lines_recognized_total"
	MetricRowsTotal                 = "audit_report_rows_total"
	MetricUnresolvedReferencesTotal = "audit_report_unresolved_references_total"
	MetricUnsafeValuesTotal         = "audit_report_unsafe_values_total"
	MetricLastReportTimestamp       = "audit_report_last_success_timestamp"
)

// Metrics contains Prometheus metrics describing assembled reports.
// All operations are thread-safe.
type Metrics struct {
	linesScanned         prometheus.Counter
	linesRecognized      *prometheus.CounterVec
	rows                 prometheus.Counter
	unresolvedReferences prometheus.Counter
	unsafeValues         prometheus.Counter
	lastReportTimestamp  prometheus.Gauge
}

// NewMetrics creates and returns a new Metrics instance with all collectors initialized.
// The metrics are not registered; call Register to register them with a registry.
func NewMetrics() *Metrics {
	return &Metrics{
		linesScanned: prometheus.NewCounter(prometheus.CounterOpts{
			Name: MetricLinesScannedTotal,
			Help: "Total number of admin log lines read",
		}),
		linesRecognized: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: MetricLinesRecognizedTotal,
			Help: "Total number of admin log lines recognized as audit actions, by action",
		}, []string{"action"}),
		rows: prometheus.NewCounter(prometheus.CounterOpts{
			Name: MetricRowsTotal,
			Help: "Total number of report rows written",
		}),
		unresolvedReferences: prometheus.NewCounter(prometheus.CounterOpts{
			Name: MetricUnresolvedReferencesTotal,
			Help: "Total number of company or user ids with no reference row",
		}),
		unsafeValues: prometheus.NewCounter(prometheus.CounterOpts{
			Name: MetricUnsafeValuesTotal,
			Help: "Total number of report values containing a comma, quote or line break",
		}),
		lastReportTimestamp: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: MetricLastReportTimestamp,
			Help: "Unix timestamp of the last successfully published report",
		}),
	}
}

// Register registers all metrics with the given registry.
func (m *Metrics) Register(reg prometheus.Registerer) error {
	for _, c := range m.Collectors() {
		if err := reg.Register(c); err != nil {
			return err
		}
	}
	return nil
}

// ObserveReport adds the counts of rep to the totals.
func (m *Metrics) ObserveReport(rep *Report) {
	m.linesScanned.Add(float64(rep.LinesScanned))
	m.rows.Add(float64(rep.Rows))
	m.unsafeValues.Add(float64(rep.UnsafeValues))
	for kind, n := range rep.Actions {
		m.linesRecognized.WithLabelValues(kind.String()).Add(float64(n))
	}
}

// AddUnresolvedReferences adds n unresolved id lookups.
func (m *Metrics) AddUnresolvedReferences(n int64) {
	m.unresolvedReferences.Add(float64(n))
}

// SetLastReportTimestamp sets the last success timestamp gauge.
func (m *Metrics) SetLastReportTimestamp(timestamp float64) {
	m.lastReportTimestamp.Set(timestamp)
}

// Collectors returns all Prometheus collectors.
func (m *Metrics) Collectors() []prometheus.Collector {
	return []prometheus.Collector{
		m.linesScanned,
		m.linesRecognized,
		m.rows,
		m.unresolvedReferences,
		m.unsafeValues,
		m.lastReportTimestamp,
	}
}
