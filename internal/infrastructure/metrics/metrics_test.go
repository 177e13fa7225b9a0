package metrics

import (
	"testing"

	"github.com/prazos-api/internal/domain"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestNumbering_CountsByLabel(t *testing.T) {
	m := New(prometheus.NewRegistry())

	m.Transition(domain.CategoryLetter, "allocate", "applied")
	m.Transition(domain.CategoryLetter, "allocate", "applied")
	m.Transition(domain.CategoryMemo, "release", "cancelled")
	m.ChallengeFailed(domain.CategoryMemo)
	m.PersistFailed(domain.CategoryLetter)

	assert.Equal(t, 2.0, testutil.ToFloat64(m.Transitions.WithLabelValues("letter", "allocate", "applied")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.Transitions.WithLabelValues("memo", "release", "cancelled")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.ChallengeFailure.WithLabelValues("memo")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.PersistFailure.WithLabelValues("letter")))
}

func TestNumbering_ObservePersist(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := New(reg)
	m.ObservePersist(domain.CategoryLetter, 0.02)

	assert.Equal(t, 1, testutil.CollectAndCount(m.PersistDuration))
}
