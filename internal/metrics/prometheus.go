// Package metrics provides Prometheus exporters for application metrics.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Prometheus metrics for the marketplace cores.
var (
	// Counters.
	AttemptsStartedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "attempts_started_total",
			Help: "Total number of assessment attempts started",
		},
		[]string{"template", "retake"},
	)

	AttemptsCompletedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "attempts_completed_total",
			Help: "Total number of attempts reaching a terminal state",
		},
		[]string{"template", "outcome"},
	)

	IntegrityVoidsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "integrity_voids_total",
			Help: "Total number of attempts voided for integrity",
		},
		[]string{"template", "kind"},
	)

	CreditDebitsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "credit_debits_total",
			Help: "Total number of credit debits",
		},
		[]string{"reason"},
	)

	VouchersIssuedTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "vouchers_issued_total",
			Help: "Total number of excellence vouchers issued",
		},
	)

	VouchersRedeemedTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "vouchers_redeemed_total",
			Help: "Total number of vouchers redeemed",
		},
	)

	AssignmentTransitionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "assignment_transitions_total",
			Help: "Total number of assignment status transitions",
		},
		[]string{"from", "to"},
	)

	MilestoneSubmissionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "milestone_submissions_total",
			Help: "Total number of milestone submissions",
		},
		[]string{"revision"},
	)

	ReviewsCreatedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "reviews_created_total",
			Help: "Total number of reviews created",
		},
		[]string{"role"},
	)

	// Histograms.
	AttemptDurationSeconds = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "attempt_duration_seconds",
			Help:    "Time from attempt start to terminal state in seconds",
			Buckets: prometheus.ExponentialBuckets(60, 2, 8), // 1min to ~2hours
		},
		[]string{"outcome"},
	)

	AttemptScore = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "attempt_score",
			Help:    "Final attempt score in percent",
			Buckets: prometheus.LinearBuckets(0, 10, 11), // 0 to 100
		},
		[]string{"template"},
	)
)

// RecordAttemptCompleted records one terminal attempt with its duration.
func RecordAttemptCompleted(template, outcome string, duration time.Duration, score *int) {
	AttemptsCompletedTotal.WithLabelValues(template, outcome).Inc()
	AttemptDurationSeconds.WithLabelValues(outcome).Observe(duration.Seconds())
	if score != nil {
		AttemptScore.WithLabelValues(template).Observe(float64(*score))
	}
}

// RecordTransition records one assignment status transition.
func RecordTransition(from, to string) {
	AssignmentTransitionsTotal.WithLabelValues(from, to).Inc()
}
