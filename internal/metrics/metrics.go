// Package metrics holds the Prometheus collectors of the admission engine.
// A nil *Metrics is valid and records nothing.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

const namespace = "eventreg"

// Metrics groups every collector the service exports.
type Metrics struct {
	admissions        *prometheus.CounterVec
	admissionDuration prometheus.Histogram
	admissionRetries  prometheus.Counter
	notifications     *prometheus.CounterVec
	transitions       *prometheus.CounterVec
}

// New registers the collectors on reg.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		admissions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "admissions_total",
			Help:      "Registration attempts by outcome.",
		}, []string{"outcome"}),
		admissionDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "admission_duration_seconds",
			Help:      "Time spent deciding a registration attempt.",
			Buckets:   prometheus.DefBuckets,
		}),
		admissionRetries: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "admission_retries_total",
			Help:      "Admission transactions retried after a storage conflict.",
		}),
		notifications: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "notifications_total",
			Help:      "Ticket notifications by result.",
		}, []string{"result"}),
		transitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "event_transitions_total",
			Help:      "Event status transitions by action.",
		}, []string{"action"}),
	}
	reg.MustRegister(m.admissions, m.admissionDuration, m.admissionRetries, m.notifications, m.transitions)
	return m
}

// NewRegistry returns a registry with the Go and process collectors plus the
// service metrics.
func NewRegistry() (*prometheus.Registry, *Metrics) {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return reg, New(reg)
}

// ObserveAdmission records one finished registration attempt.
func (m *Metrics) ObserveAdmission(outcome string, d time.Duration) {
	if m == nil {
		return
	}
	m.admissions.WithLabelValues(outcome).Inc()
	m.admissionDuration.Observe(d.Seconds())
}

// AdmissionRetried counts one conflict retry.
func (m *Metrics) AdmissionRetried() {
	if m == nil {
		return
	}
	m.admissionRetries.Inc()
}

// NotificationSent records a notification delivery result.
func (m *Metrics) NotificationSent(ok bool) {
	if m == nil {
		return
	}
	result := "sent"
	if !ok {
		result = "failed"
	}
	m.notifications.WithLabelValues(result).Inc()
}

// Transitioned counts one lifecycle transition.
func (m *Metrics) Transitioned(action string) {
	if m == nil {
		return
	}
	m.transitions.WithLabelValues(action).Inc()
}
