package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "poolgate"

// Condition codes exported by the account_condition gauge.
var conditionCodes = map[string]float64{
	"HEALTHY":      0,
	"DEGRADED":     1,
	"COOLING-DOWN": 2,
	"DISABLED":     3,
}

// Prometheus holds the exported pool metrics:
//   - poolgate_requests_total: gateway requests by result
//   - poolgate_attempts_total: upstream attempts by account and outcome
//   - poolgate_attempt_duration_seconds: upstream attempt latency by outcome
//   - poolgate_account_condition: current condition code per account
//   - poolgate_condition_transitions_total: condition changes by target
type Prometheus struct {
	requests    *prometheus.CounterVec
	attempts    *prometheus.CounterVec
	duration    *prometheus.HistogramVec
	condition   *prometheus.GaugeVec
	transitions *prometheus.CounterVec
}

func NewPrometheus(registerer prometheus.Registerer) *Prometheus {
	p := &Prometheus{
		requests: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "requests_total",
				Help:      "Total gateway requests by result",
			},
			[]string{"result"},
		),
		attempts: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "attempts_total",
				Help:      "Total upstream attempts by account and outcome",
			},
			[]string{"account", "outcome"},
		),
		duration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "attempt_duration_seconds",
				Help:      "Upstream attempt latency in seconds",
				Buckets:   []float64{0.1, 0.25, 0.5, 1.0, 2.0, 5.0, 10.0, 30.0, 60.0},
			},
			[]string{"outcome"},
		),
		condition: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "account_condition",
				Help:      "Account condition (0=healthy, 1=degraded, 2=cooling down, 3=disabled)",
			},
			[]string{"account"},
		),
		transitions: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "condition_transitions_total",
				Help:      "Total account condition changes by target condition",
			},
			[]string{"condition"},
		),
	}

	registerer.MustRegister(
		p.requests,
		p.attempts,
		p.duration,
		p.condition,
		p.transitions,
	)

	return p
}

func (p *Prometheus) observe(event MetricEvent) {
	if p == nil {
		return
	}

	switch event.Type {
	case EventRequestCompleted:
		p.requests.WithLabelValues(event.Outcome).Inc()

	case EventAttemptCompleted:
		if event.Account != "" {
			p.attempts.WithLabelValues(event.Account, event.Outcome).Inc()
		}
		if event.Duration > 0 {
			p.duration.WithLabelValues(event.Outcome).Observe(event.Duration.Seconds())
		}

	case EventConditionChanged:
		if code, ok := conditionCodes[event.Condition]; ok {
			p.condition.WithLabelValues(event.Account).Set(code)
		}
		p.transitions.WithLabelValues(event.Condition).Inc()
	}
}
