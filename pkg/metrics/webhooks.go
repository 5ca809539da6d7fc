package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// WebhookMetrics records processing outcomes for gateway webhook events.
type WebhookMetrics struct {
	processed   *prometheus.CounterVec
	duplicates  *prometheus.CounterVec
	failures    *prometheus.CounterVec
	settlements prometheus.Counter
	duration    *prometheus.HistogramVec
}

// NewWebhookMetrics registers the webhook metrics on the provided registerer.
func NewWebhookMetrics(reg prometheus.Registerer) *WebhookMetrics {
	if reg == nil {
		return &WebhookMetrics{}
	}
	processed := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "webhook_events_processed",
		Help: "Webhook events handled to completion.",
	}, []string{"event_type"})
	duplicates := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "webhook_events_duplicate",
		Help: "Webhook events skipped as already delivered.",
	}, []string{"event_type"})
	failures := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "webhook_events_failed",
		Help: "Webhook events that failed processing.",
	}, []string{"event_type"})
	settlements := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "wallet_settlements_total",
		Help: "Wallet credits issued from completed orders.",
	})
	duration := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "webhook_event_duration_seconds",
		Help:    "Duration of webhook event handling in seconds.",
		Buckets: prometheus.DefBuckets,
	}, []string{"event_type"})
	reg.MustRegister(processed, duplicates, failures, settlements, duration)
	return &WebhookMetrics{
		processed:   processed,
		duplicates:  duplicates,
		failures:    failures,
		settlements: settlements,
		duration:    duration,
	}
}

// IncProcessed increments the processed counter for the event type.
func (m *WebhookMetrics) IncProcessed(eventType string) {
	if m == nil || m.processed == nil {
		return
	}
	m.processed.WithLabelValues(normalizeLabel(eventType)).Inc()
}

// IncDuplicate increments the duplicate-delivery counter for the event type.
func (m *WebhookMetrics) IncDuplicate(eventType string) {
	if m == nil || m.duplicates == nil {
		return
	}
	m.duplicates.WithLabelValues(normalizeLabel(eventType)).Inc()
}

// IncFailed increments the failure counter for the event type.
func (m *WebhookMetrics) IncFailed(eventType string) {
	if m == nil || m.failures == nil {
		return
	}
	m.failures.WithLabelValues(normalizeLabel(eventType)).Inc()
}

// IncSettlement increments the wallet settlement counter.
func (m *WebhookMetrics) IncSettlement() {
	if m == nil || m.settlements == nil {
		return
	}
	m.settlements.Inc()
}

// ObserveDuration records how long an event took to handle.
func (m *WebhookMetrics) ObserveDuration(eventType string, duration time.Duration) {
	if m == nil || m.duration == nil {
		return
	}
	m.duration.WithLabelValues(normalizeLabel(eventType)).Observe(duration.Seconds())
}

func normalizeLabel(value string) string {
	if value == "" {
		return "unknown"
	}
	return value
}
