package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// TimersScheduled counts one-shot expiry timers created for events.
	TimersScheduled = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "gatherpress_expiry_timers_scheduled_total",
			Help: "Total number of one-shot expiry timers scheduled",
		},
	)

	// TimersCancelled counts expiry timers removed before firing.
	TimersCancelled = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "gatherpress_expiry_timers_cancelled_total",
			Help: "Total number of expiry timers cancelled",
		},
	)

	// Expirations counts canonical expired events by trigger path (timer|sweep|manual).
	Expirations = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "gatherpress_expiry_events_total",
			Help: "Total number of canonical expired events emitted",
		},
		[]string{"via"},
	)

	// StaleFires counts timer invocations rejected during revalidation (missing|kind|not_ended).
	StaleFires = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "gatherpress_expiry_stale_fires_total",
			Help: "Total number of timer fires discarded as stale",
		},
		[]string{"reason"},
	)

	// SweepRuns counts reconciliation sweeps over the tracked set.
	SweepRuns = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "gatherpress_expiry_sweep_runs_total",
			Help: "Total number of tracked-set reconciliation sweeps",
		},
	)

	// SweepDetections counts expired events detected by a sweep rather than a timer.
	SweepDetections = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "gatherpress_expiry_sweep_detections_total",
			Help: "Total number of missed expirations recovered by the sweep",
		},
	)

	// CacheKeysInvalidated counts cache keys deleted by the cleanup chain.
	CacheKeysInvalidated = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "gatherpress_expiry_cache_keys_invalidated_total",
			Help: "Total number of cache keys deleted during expiry cleanup",
		},
	)
)
