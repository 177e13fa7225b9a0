package metrics

import (
	"github.com/prazos-api/internal/domain"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Numbering tracks allocator transitions, challenge failures and persist latency.
type Numbering struct {
	Transitions      *prometheus.CounterVec
	ChallengeFailure *prometheus.CounterVec
	PersistFailure   *prometheus.CounterVec
	PersistDuration  *prometheus.HistogramVec
}

// New registers the numbering metrics on reg.
func New(reg prometheus.Registerer) *Numbering {
	f := promauto.With(reg)
	return &Numbering{
		Transitions: f.NewCounterVec(prometheus.CounterOpts{
			Name: "prazos_numbering_transitions_total",
			Help: "Allocator transition requests by category, operation and outcome",
		}, []string{"category", "op", "outcome"}),
		ChallengeFailure: f.NewCounterVec(prometheus.CounterOpts{
			Name: "prazos_numbering_challenge_failures_total",
			Help: "Rejected step-up challenges by category",
		}, []string{"category"}),
		PersistFailure: f.NewCounterVec(prometheus.CounterOpts{
			Name: "prazos_numbering_persist_failures_total",
			Help: "Failed pool writes by category",
		}, []string{"category"}),
		PersistDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "prazos_numbering_persist_duration_seconds",
			Help:    "Duration of pool merge writes",
			Buckets: []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5},
		}, []string{"category"}),
	}
}

func (m *Numbering) Transition(c domain.Category, op, outcome string) {
	m.Transitions.WithLabelValues(string(c), op, outcome).Inc()
}

func (m *Numbering) ChallengeFailed(c domain.Category) {
	m.ChallengeFailure.WithLabelValues(string(c)).Inc()
}

func (m *Numbering) PersistFailed(c domain.Category) {
	m.PersistFailure.WithLabelValues(string(c)).Inc()
}

func (m *Numbering) ObservePersist(c domain.Category, seconds float64) {
	m.PersistDuration.WithLabelValues(string(c)).Observe(seconds)
}
