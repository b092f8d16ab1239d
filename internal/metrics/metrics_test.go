package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCollectors(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := New(reg)

	m.ObserveAdmission("admitted", 10*time.Millisecond)
	m.ObserveAdmission("admitted", 20*time.Millisecond)
	m.ObserveAdmission("limit_reached", time.Millisecond)
	m.AdmissionRetried()
	m.NotificationSent(true)
	m.NotificationSent(false)
	m.Transitioned("publish")

	assert.Equal(t, 2.0, testutil.ToFloat64(m.admissions.WithLabelValues("admitted")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.admissions.WithLabelValues("limit_reached")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.admissionRetries))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.notifications.WithLabelValues("failed")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.transitions.WithLabelValues("publish")))

	count, err := testutil.GatherAndCount(reg, "eventreg_admission_duration_seconds")
	require.NoError(t, err)
	assert.Equal(t, 1, count)
}

func TestNilMetricsIsNoop(t *testing.T) {
	var m *Metrics
	assert.NotPanics(t, func() {
		m.ObserveAdmission("admitted", time.Second)
		m.AdmissionRetried()
		m.NotificationSent(true)
		m.Transitioned("close")
	})
}

func TestNewRegistry(t *testing.T) {
	reg, m := NewRegistry()
	require.NotNil(t, m)
	families, err := reg.Gather()
	require.NoError(t, err)
	assert.NotEmpty(t, families)
}
