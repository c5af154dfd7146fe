package metrics

import (
	"context"

	"letter_outreach_bot/internal/domain/approval"
	"letter_outreach_bot/internal/infra/filequeue"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "letter_outreach"

var healthValues = map[approval.HealthStatus]float64{
	approval.HealthHealthy:   0,
	approval.HealthDegraded:  1,
	approval.HealthUnhealthy: 2,
}

// Metrics exports approval queue activity.
type Metrics struct {
	transitions *prometheus.CounterVec
	iterations  prometheus.Histogram
	records     *prometheus.GaugeVec
	health      prometheus.Gauge
}

var _ filequeue.TransitionObserver = (*Metrics)(nil)

// New registers the collectors with reg.
func New(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		transitions: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "approval_transitions_total",
			Help:      "Total number of approval state transitions.",
		}, []string{"from", "to"}),
		iterations: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "approval_final_iteration",
			Help:      "Letter iteration at which an approval reached a terminal state.",
			Buckets:   []float64{1, 2, 3, 4, 5, 8},
		}),
		records: factory.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "approval_records",
			Help:      "Current number of approval records per state.",
		}, []string{"state"}),
		health: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "approval_queue_health",
			Help:      "Approval queue health (0 healthy, 1 degraded, 2 unhealthy).",
		}),
	}
}

// ApprovalTransitioned counts one state change.
func (m *Metrics) ApprovalTransitioned(_ context.Context, t filequeue.Transition) error {
	from := string(t.From)
	if from == "" {
		from = "none"
	}
	m.transitions.WithLabelValues(from, string(t.To)).Inc()
	if t.To.IsTerminal() {
		m.iterations.Observe(float64(t.Iteration))
	}
	return nil
}

// ObserveHealth publishes a health report.
func (m *Metrics) ObserveHealth(report approval.HealthReport) {
	for _, state := range approval.AllStates {
		m.records.WithLabelValues(string(state)).Set(float64(report.Counts[state]))
	}
	m.health.Set(healthValues[report.Status])
}
