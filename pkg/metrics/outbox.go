package metrics

import "github.com/prometheus/client_golang/prometheus"

// OutboxMetrics counts what the outbox relay did with each notification.
type OutboxMetrics struct {
	outcomes *prometheus.CounterVec
}

// NewOutboxMetrics registers the relay counters. A nil registerer yields a no-op collector.
func NewOutboxMetrics(reg prometheus.Registerer) *OutboxMetrics {
	if reg == nil {
		return &OutboxMetrics{}
	}
	outcomes := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "visamarket_outbox_events_total",
		Help: "Outbox events handled by the relay, by event type and outcome.",
	}, []string{"event_type", "outcome"})
	reg.MustRegister(outcomes)
	return &OutboxMetrics{outcomes: outcomes}
}

// IncOutcome counts one event as published, retried or dead_lettered.
func (m *OutboxMetrics) IncOutcome(eventType, outcome string) {
	if m == nil || m.outcomes == nil {
		return
	}
	m.outcomes.WithLabelValues(jobLabel(eventType), jobLabel(outcome)).Inc()
}
