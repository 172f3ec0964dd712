package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	RunsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "enrolsync_runs_total",
			Help: "Total number of pipeline runs by job and terminal status",
		},
		[]string{"job", "status"},
	)

	RecordsObserved = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "enrolsync_records_observed_total",
			Help: "Observed source records by diff kind",
		},
		[]string{"kind"},
	)

	AlertsCreated = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "enrolsync_alerts_created_total",
			Help: "Alerts created by kind",
		},
		[]string{"kind"},
	)

	LockConflicts = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "enrolsync_lock_conflicts_total",
			Help: "Denied lock acquisitions by job",
		},
		[]string{"job"},
	)

	OutboxDispatchTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "enrolsync_outbox_dispatch_total",
			Help: "Outbox dispatch attempts by kind and outcome",
		},
		[]string{"kind", "outcome"},
	)

	OutboxDispatchDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "enrolsync_outbox_dispatch_duration_seconds",
			Help:    "Sink delivery duration in seconds",
			Buckets: prometheus.ExponentialBuckets(0.05, 2, 10),
		},
		[]string{"kind"},
	)

	SyncDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "enrolsync_sync_duration_seconds",
			Help:    "Full sync run duration in seconds",
			Buckets: prometheus.ExponentialBuckets(1, 2, 12),
		},
		[]string{"job"},
	)
)
