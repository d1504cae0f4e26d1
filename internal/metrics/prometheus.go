package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Collectors exposes the engine's Prometheus instrumentation.
type Collectors struct {
	EventsTotal        prometheus.Counter
	EventsRejected     prometheus.Counter
	ThreatsTotal       *prometheus.CounterVec
	IncidentsOpen      prometheus.Gauge
	ActionsFailed      prometheus.Counter
	RuleEvalFailures   *prometheus.CounterVec
	SecurityScoreGauge prometheus.Gauge
}

// NewCollectors registers the engine collectors on the given registerer.
func NewCollectors(reg prometheus.Registerer) *Collectors {
	factory := promauto.With(reg)
	return &Collectors{
		EventsTotal: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "sentinel",
			Name:      "events_total",
			Help:      "Security events accepted by the engine.",
		}),
		EventsRejected: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "sentinel",
			Name:      "events_rejected_total",
			Help:      "Security events rejected at validation.",
		}),
		ThreatsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "sentinel",
			Name:      "threats_total",
			Help:      "Threats detected, labeled by severity.",
		}, []string{"severity"}),
		IncidentsOpen: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: "sentinel",
			Name:      "incidents_open",
			Help:      "Incidents currently open, investigating or mitigating.",
		}),
		ActionsFailed: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "sentinel",
			Name:      "response_actions_failed_total",
			Help:      "Automated response actions that failed to execute.",
		}),
		RuleEvalFailures: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "sentinel",
			Name:      "rule_eval_failures_total",
			Help:      "Rule evaluation panics, labeled by rule.",
		}, []string{"rule_id"}),
		SecurityScoreGauge: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: "sentinel",
			Name:      "security_score",
			Help:      "Current 0-100 security posture score.",
		}),
	}
}
