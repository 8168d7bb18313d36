package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Submissions counts submit calls by trigger (manual/expiry) and result
	// (submitted/failed/blocked/aborted/confirm).
	Submissions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "attempt_submissions_total",
			Help: "Submission requests handled by the attempt engine",
		},
		[]string{"trigger", "result"},
	)

	// DuplicatesSuppressed counts submits dropped by the single-flight latch.
	DuplicatesSuppressed = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "attempt_duplicate_submits_suppressed_total",
			Help: "Submit calls ignored because a submission was in flight or done",
		},
		[]string{"trigger"},
	)

	SubmitDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "attempt_submit_duration_seconds",
			Help:    "Time spent waiting for the submit endpoint",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"trigger"},
	)

	Expiries = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "attempt_timer_expiries_total",
			Help: "Attempt countdowns that reached zero",
		},
	)

	// ClockDegraded counts sessions opened without a server timestamp.
	ClockDegraded = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "attempt_clock_sync_degraded_total",
			Help: "Sessions whose quiz payload carried no server_time",
		},
	)

	ActiveSessions = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "attempt_sessions_active",
			Help: "Attempt sessions currently open in this process",
		},
	)
)

// Handler exposes the default registry.
func Handler() http.Handler {
	return promhttp.Handler()
}
