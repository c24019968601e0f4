package metrics

import (
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// PipelineMetrics records fulfillment pipeline activity.
type PipelineMetrics struct {
	webhookEvents    *prometheus.CounterVec
	stepDuration     *prometheus.HistogramVec
	dependencyCalls  *prometheus.CounterVec
	circuitState     *prometheus.GaugeVec
	operatorEnqueues *prometheus.CounterVec
}

// NewPipelineMetrics registers the pipeline metrics on the provided registerer.
func NewPipelineMetrics(reg prometheus.Registerer) *PipelineMetrics {
	if reg == nil {
		return &PipelineMetrics{}
	}
	webhookEvents := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "webhook_events_total",
		Help: "Inbound webhook events by provider and admit outcome.",
	}, []string{"provider", "outcome"})
	stepDuration := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "fulfillment_step_duration_seconds",
		Help:    "Duration of fulfillment pipeline steps in seconds.",
		Buckets: prometheus.DefBuckets,
	}, []string{"step"})
	dependencyCalls := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "dependency_calls_total",
		Help: "Outbound dependency call attempts by result.",
	}, []string{"dependency", "result"})
	circuitState := prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "dependency_circuit_state",
		Help: "Circuit breaker state per dependency (0 closed, 1 half-open, 2 open).",
	}, []string{"dependency"})
	operatorEnqueues := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "operator_queue_enqueues_total",
		Help: "Orders routed to the operator queue by reason.",
	}, []string{"reason"})
	reg.MustRegister(webhookEvents, stepDuration, dependencyCalls, circuitState, operatorEnqueues)
	return &PipelineMetrics{
		webhookEvents:    webhookEvents,
		stepDuration:     stepDuration,
		dependencyCalls:  dependencyCalls,
		circuitState:     circuitState,
		operatorEnqueues: operatorEnqueues,
	}
}

// IncWebhookEvent counts one inbound event admit outcome.
func (p *PipelineMetrics) IncWebhookEvent(provider, outcome string) {
	if p == nil || p.webhookEvents == nil {
		return
	}
	p.webhookEvents.WithLabelValues(normalizeLabel(provider), normalizeLabel(outcome)).Inc()
}

// ObserveStep records the duration of a named pipeline step.
func (p *PipelineMetrics) ObserveStep(step string, duration time.Duration) {
	if p == nil || p.stepDuration == nil {
		return
	}
	p.stepDuration.WithLabelValues(normalizeLabel(step)).Observe(duration.Seconds())
}

// IncDependencyCall counts one outbound attempt result.
func (p *PipelineMetrics) IncDependencyCall(dependency, result string) {
	if p == nil || p.dependencyCalls == nil {
		return
	}
	p.dependencyCalls.WithLabelValues(normalizeLabel(dependency), normalizeLabel(result)).Inc()
}

// SetCircuitState publishes the breaker state for a dependency.
func (p *PipelineMetrics) SetCircuitState(dependency string, state float64) {
	if p == nil || p.circuitState == nil {
		return
	}
	p.circuitState.WithLabelValues(normalizeLabel(dependency)).Set(state)
}

// IncOperatorEnqueue counts an operator-queue append.
func (p *PipelineMetrics) IncOperatorEnqueue(reason string) {
	if p == nil || p.operatorEnqueues == nil {
		return
	}
	p.operatorEnqueues.WithLabelValues(normalizeLabel(reason)).Inc()
}

func normalizeLabel(value string) string {
	trimmed := strings.TrimSpace(strings.ToLower(value))
	if trimmed == "" {
		return "unknown"
	}
	return strings.ReplaceAll(trimmed, " ", "_")
}
