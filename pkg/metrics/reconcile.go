package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// ReconcileMetrics tracks reconciliation outcomes and provider traffic.
type ReconcileMetrics struct {
	outcomes      *prometheus.CounterVec
	duration      *prometheus.HistogramVec
	contention    prometheus.Counter
	providerCalls *prometheus.CounterVec
}

// NewReconcileMetrics registers the reconciliation metrics on the provided registerer.
func NewReconcileMetrics(reg prometheus.Registerer) *ReconcileMetrics {
	if reg == nil {
		return &ReconcileMetrics{}
	}
	outcomes := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "busline_reconcile_outcomes_total",
		Help: "Reconciliation passes by reported status and trigger.",
	}, []string{"status", "trigger"})
	duration := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "busline_reconcile_duration_seconds",
		Help:    "Duration of reconciliation passes in seconds.",
		Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60},
	}, []string{"trigger"})
	contention := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "busline_reconcile_lock_contention_total",
		Help: "Reconciliation passes that found the reference already locked.",
	})
	providerCalls := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "busline_provider_calls_total",
		Help: "Booking provider calls by operation and result.",
	}, []string{"op", "result"})
	reg.MustRegister(outcomes, duration, contention, providerCalls)
	return &ReconcileMetrics{
		outcomes:      outcomes,
		duration:      duration,
		contention:    contention,
		providerCalls: providerCalls,
	}
}

// ObserveOutcome records one finished pass.
func (m *ReconcileMetrics) ObserveOutcome(status, trigger string, took time.Duration) {
	if m == nil || m.outcomes == nil {
		return
	}
	m.outcomes.WithLabelValues(normalizeLabel(status), normalizeLabel(trigger)).Inc()
	m.duration.WithLabelValues(normalizeLabel(trigger)).Observe(took.Seconds())
}

// IncLockContention counts a pass that lost the race for the processing lock.
func (m *ReconcileMetrics) IncLockContention() {
	if m == nil || m.contention == nil {
		return
	}
	m.contention.Inc()
}

// IncProviderCall counts a booking provider call.
func (m *ReconcileMetrics) IncProviderCall(op, result string) {
	if m == nil || m.providerCalls == nil {
		return
	}
	m.providerCalls.WithLabelValues(normalizeLabel(op), normalizeLabel(result)).Inc()
}
