package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds the application collectors. A nil *Metrics is a no-op.
type Metrics struct {
	marks       *prometheus.CounterVec
	enrollments *prometheus.CounterVec
	reportCache *prometheus.CounterVec
	reportBuild prometheus.Histogram
}

// New creates collectors and registers them with reg.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		marks: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "geoattend",
			Name:      "attendance_marks_total",
			Help:      "Mark-attendance requests by outcome.",
		}, []string{"result"}),
		enrollments: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "geoattend",
			Name:      "enrollments_total",
			Help:      "Enrollment requests by outcome.",
		}, []string{"result"}),
		reportCache: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "geoattend",
			Name:      "report_cache_total",
			Help:      "Report cache lookups by outcome.",
		}, []string{"result"}),
		reportBuild: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "geoattend",
			Name:      "report_build_seconds",
			Help:      "Time spent loading and aggregating a class report.",
			Buckets:   prometheus.DefBuckets,
		}),
	}
	reg.MustRegister(m.marks, m.enrollments, m.reportCache, m.reportBuild)
	return m
}

// Mark counts a mark outcome: "success", "invalid", "not_found", "error"
// or a rejection reason.
func (m *Metrics) Mark(result string) {
	if m == nil {
		return
	}
	m.marks.WithLabelValues(result).Inc()
}

// Enrollment counts an enrollment outcome: "enrolled", "already" or "error".
func (m *Metrics) Enrollment(result string) {
	if m == nil {
		return
	}
	m.enrollments.WithLabelValues(result).Inc()
}

// ReportCache counts "hit", "miss" or "error".
func (m *Metrics) ReportCache(result string) {
	if m == nil {
		return
	}
	m.reportCache.WithLabelValues(result).Inc()
}

// ReportBuilt observes the time since start.
func (m *Metrics) ReportBuilt(start time.Time) {
	if m == nil {
		return
	}
	m.reportBuild.Observe(time.Since(start).Seconds())
}
