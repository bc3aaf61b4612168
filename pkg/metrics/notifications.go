package metrics

import "github.com/prometheus/client_golang/prometheus"

// NotificationMetrics counts fan-out handler results.
type NotificationMetrics struct {
	handled *prometheus.CounterVec
}

func NewNotificationMetrics(reg prometheus.Registerer) *NotificationMetrics {
	if reg == nil {
		return &NotificationMetrics{}
	}
	handled := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "busline_notification_handler_total",
		Help: "Notification handler executions by handler and result.",
	}, []string{"handler", "result"})
	reg.MustRegister(handled)
	return &NotificationMetrics{handled: handled}
}

// IncHandled records a handler result ("ok" or "error").
func (m *NotificationMetrics) IncHandled(handler, result string) {
	if m == nil || m.handled == nil {
		return
	}
	m.handled.WithLabelValues(normalizeLabel(handler), normalizeLabel(result)).Inc()
}
