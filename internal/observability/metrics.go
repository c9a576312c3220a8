// Package observability exposes the Prometheus metrics other packages
// update as they run.
package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// ClaimLatency tracks how long ClaimNextExecution takes end to end.
	ClaimLatency = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "webrelay_claim_latency_seconds",
		Help:    "Latency of claiming the next execution",
		Buckets: prometheus.ExponentialBuckets(0.001, 2, 10), // 1ms to ~1s
	})

	// PendingQueueDepth tracks the number of pending executions awaiting claim.
	PendingQueueDepth = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "webrelay_pending_queue_depth",
		Help: "Current number of pending executions",
	})

	// ActiveWorkers tracks the live worker pool size.
	ActiveWorkers = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "webrelay_active_workers",
		Help: "Current number of live dispatch workers",
	})

	// DispatchOutcomes tracks the terminal classification of each dispatch.
	DispatchOutcomes = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "webrelay_dispatch_outcomes_total",
		Help: "Total dispatch attempts by outcome",
	}, []string{"outcome"}) // success, transient_failure, permanent_failure

	// DispatchDuration tracks wall-clock time of a single dispatch attempt.
	DispatchDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "webrelay_dispatch_duration_seconds",
		Help:    "Duration of a single HTTP dispatch attempt",
		Buckets: prometheus.DefBuckets,
	})

	// HostBlockerOpen tracks hosts currently deferred by the host blocker.
	HostBlockerOpen = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "webrelay_host_blocker_open",
		Help: "Current number of (tenant, host) pairs under a host blocker deferral",
	})

	// SchedulerMaterializations tracks executions created per scheduler tick.
	SchedulerMaterializations = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "webrelay_scheduler_materializations_total",
		Help: "Total executions materialized by the scheduler",
	}, []string{"status"}) // pending, missed

	// SchedulerTickDuration tracks the duration of one scheduler tick.
	SchedulerTickDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "webrelay_scheduler_tick_duration_seconds",
		Help:    "Duration of one scheduler Tick call",
		Buckets: prometheus.DefBuckets,
	})

	// LeaderStatus tracks whether this process currently holds the scheduler lease.
	LeaderStatus = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "webrelay_leader_status",
		Help: "1 if this process holds the scheduler leader lease, else 0",
	})

	// LeaderEpoch tracks the current fencing epoch.
	LeaderEpoch = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "webrelay_leader_epoch",
		Help: "Current fencing epoch held by this leader, 0 if not leader",
	})

	// LeaderTransitions tracks leadership acquisition/loss events.
	LeaderTransitions = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "webrelay_leader_transitions_total",
		Help: "Total leadership transitions by event",
	}, []string{"event"}) // elected, lost

	// CounterFlush tracks monthly-counter flush outcomes.
	CounterFlush = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "webrelay_counter_flush_total",
		Help: "Total monthly counter flush attempts by outcome",
	}, []string{"outcome"}) // success, failure

	// CallbackDeliveries tracks signed callback delivery outcomes.
	CallbackDeliveries = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "webrelay_callback_deliveries_total",
		Help: "Total callback delivery attempts by outcome",
	}, []string{"outcome"}) // delivered, exhausted

	// MonitorStatusTransitions tracks monitor up/down/recovery transitions.
	MonitorStatusTransitions = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "webrelay_monitor_status_transitions_total",
		Help: "Total monitor status transitions by new status",
	}, []string{"status"}) // up, down

	// CleanupPurged tracks rows purged per cleanup pass by kind.
	CleanupPurged = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "webrelay_cleanup_purged_total",
		Help: "Total rows purged by the cleanup job, by kind",
	}, []string{"kind"}) // executions, inbound_events, tasks
)
