package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCounters(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := New(reg)

	m.Mark("success")
	m.Mark("success")
	m.Mark("AlreadyMarked")
	m.Enrollment("enrolled")
	m.ReportCache("hit")
	m.ReportBuilt(time.Now())

	assert.Equal(t, 2.0, testutil.ToFloat64(m.marks.WithLabelValues("success")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.marks.WithLabelValues("AlreadyMarked")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.enrollments.WithLabelValues("enrolled")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.reportCache.WithLabelValues("hit")))

	n, err := testutil.GatherAndCount(reg, "geoattend_report_build_seconds")
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestNilMetricsIsNoop(t *testing.T) {
	var m *Metrics
	assert.NotPanics(t, func() {
		m.Mark("success")
		m.Enrollment("enrolled")
		m.ReportCache("miss")
		m.ReportBuilt(time.Now())
	})
}
