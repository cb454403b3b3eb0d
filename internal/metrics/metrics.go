package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds the engine's Prometheus collectors.
type Metrics struct {
	AttemptsStarted      prometheus.Counter
	AttemptsSubmitted    prometheus.Counter
	ChallengesCompleted  *prometheus.CounterVec
	PointsAwarded        prometheus.Counter
	PointsRedeemed       prometheus.Counter
	CertificatesIssued   *prometheus.CounterVec
	DispatchTasks        *prometheus.CounterVec
	DispatchTaskDuration prometheus.Histogram
}

// New registers the collectors on reg.
func New(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		AttemptsStarted: f.NewCounter(prometheus.CounterOpts{
			Namespace: "assessment",
			Subsystem: "exam",
			Name:      "attempts_started_total",
			Help:      "Exam attempts started",
		}),
		AttemptsSubmitted: f.NewCounter(prometheus.CounterOpts{
			Namespace: "assessment",
			Subsystem: "exam",
			Name:      "attempts_submitted_total",
			Help:      "Exam attempts graded and stored",
		}),
		ChallengesCompleted: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: "assessment",
			Subsystem: "achievements",
			Name:      "challenges_completed_total",
			Help:      "Challenge completions by achievement type",
		}, []string{"type"}),
		PointsAwarded: f.NewCounter(prometheus.CounterOpts{
			Namespace: "assessment",
			Subsystem: "achievements",
			Name:      "points_awarded_total",
			Help:      "Points credited for completed challenges",
		}),
		PointsRedeemed: f.NewCounter(prometheus.CounterOpts{
			Namespace: "assessment",
			Subsystem: "achievements",
			Name:      "points_redeemed_total",
			Help:      "Points spent on redemptions",
		}),
		CertificatesIssued: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: "assessment",
			Subsystem: "certificates",
			Name:      "issued_total",
			Help:      "Certificates issued by credential kind and path",
		}, []string{"kind", "path"}),
		DispatchTasks: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: "assessment",
			Subsystem: "dispatch",
			Name:      "tasks_total",
			Help:      "Side-effect tasks by outcome (ok, failed, panic, overflow, rejected)",
		}, []string{"outcome"}),
		DispatchTaskDuration: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: "assessment",
			Subsystem: "dispatch",
			Name:      "task_duration_seconds",
			Help:      "Side-effect task duration",
			Buckets:   prometheus.DefBuckets,
		}),
	}
}

// Noop returns collectors bound to a private registry.
func Noop() *Metrics {
	return New(prometheus.NewRegistry())
}
