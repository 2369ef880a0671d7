// Package metrics exposes Prometheus counters for the event pipeline,
// webhook dispatch, and session supervision.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds the gateway's Prometheus collectors.
type Metrics struct {
	EventsProcessed  *prometheus.CounterVec
	EventsDiscarded  *prometheus.CounterVec
	StatusApplied    *prometheus.CounterVec
	StatusSuppressed prometheus.Counter
	WebhooksSent     prometheus.Counter
	WebhooksFailed   prometheus.Counter
	Reconnects       prometheus.Counter
	SessionsOpen     prometheus.Gauge
}

// New registers the gateway collectors with reg.
func New(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		EventsProcessed: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "zapgate_events_processed_total",
			Help: "Raw lifecycle events handled, by shape.",
		}, []string{"shape"}),
		EventsDiscarded: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "zapgate_events_discarded_total",
			Help: "Raw lifecycle events discarded before reconciliation, by reason.",
		}, []string{"reason"}),
		StatusApplied: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "zapgate_status_applied_total",
			Help: "Status changes applied to message records, by status.",
		}, []string{"status"}),
		StatusSuppressed: factory.NewCounter(prometheus.CounterOpts{
			Name: "zapgate_status_suppressed_total",
			Help: "Duplicate or non-advancing status events suppressed.",
		}),
		WebhooksSent: factory.NewCounter(prometheus.CounterOpts{
			Name: "zapgate_webhooks_sent_total",
			Help: "Webhook notifications delivered with a 2xx response.",
		}),
		WebhooksFailed: factory.NewCounter(prometheus.CounterOpts{
			Name: "zapgate_webhooks_failed_total",
			Help: "Webhook notifications that failed and were dropped.",
		}),
		Reconnects: factory.NewCounter(prometheus.CounterOpts{
			Name: "zapgate_reconnects_scheduled_total",
			Help: "Reconnect attempts scheduled after transient disconnects.",
		}),
		SessionsOpen: factory.NewGauge(prometheus.GaugeOpts{
			Name: "zapgate_sessions_open",
			Help: "Sessions currently in the open state.",
		}),
	}
}

// NewUnregistered returns collectors backed by a throwaway registry. Test hook.
func NewUnregistered() *Metrics {
	return New(prometheus.NewRegistry())
}
