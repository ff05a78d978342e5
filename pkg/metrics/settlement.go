package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// SettlementMetrics tracks refunds, webhook handling, provisioning and
// processor latency.
type SettlementMetrics struct {
	refunds      *prometheus.CounterVec
	webhooks     *prometheus.CounterVec
	provisioning *prometheus.CounterVec
	processor    *prometheus.HistogramVec
}

// NewSettlementMetrics registers the settlement metrics on reg. A nil
// registerer yields a no-op recorder.
func NewSettlementMetrics(reg prometheus.Registerer) *SettlementMetrics {
	if reg == nil {
		return &SettlementMetrics{}
	}
	refunds := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "refunds_total",
		Help:      "Refunds issued by execution path.",
	}, []string{"path"})
	webhooks := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "webhook_events_total",
		Help:      "Processor webhook events by type and outcome.",
	}, []string{"type", "outcome"})
	provisioning := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "provisioning_total",
		Help:      "Merchant account provisioning calls by outcome.",
	}, []string{"outcome"})
	processor := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "processor_call_duration_seconds",
		Help:      "Latency of processor API calls, retries included.",
		Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 20},
	}, []string{"operation", "outcome"})
	reg.MustRegister(refunds, webhooks, provisioning, processor)
	return &SettlementMetrics{
		refunds:      refunds,
		webhooks:     webhooks,
		provisioning: provisioning,
		processor:    processor,
	}
}

// IncRefund counts a completed refund by path (reversed, fallback, direct).
func (m *SettlementMetrics) IncRefund(path string) {
	if m == nil || m.refunds == nil {
		return
	}
	m.refunds.WithLabelValues(normalizeLabel(path)).Inc()
}

// IncWebhook counts a webhook event by type and outcome.
func (m *SettlementMetrics) IncWebhook(eventType, outcome string) {
	if m == nil || m.webhooks == nil {
		return
	}
	m.webhooks.WithLabelValues(normalizeLabel(eventType), normalizeLabel(outcome)).Inc()
}

// IncProvisioning counts a provisioning call by outcome (existing, recovered, created, ...).
func (m *SettlementMetrics) IncProvisioning(outcome string) {
	if m == nil || m.provisioning == nil {
		return
	}
	m.provisioning.WithLabelValues(normalizeLabel(outcome)).Inc()
}

// ObserveProcessorCall records the latency of one processor operation.
func (m *SettlementMetrics) ObserveProcessorCall(operation string, duration time.Duration, err error) {
	if m == nil || m.processor == nil {
		return
	}
	outcome := "success"
	if err != nil {
		outcome = "error"
	}
	m.processor.WithLabelValues(normalizeLabel(operation), outcome).Observe(duration.Seconds())
}
