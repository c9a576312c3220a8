package observability

import "testing"

// These metrics are package-level promauto registrations; the only thing
// worth asserting here is that label combinations other packages actually
// use don't panic (a wrong label count panics at call time, not at
// compile time).
func TestLabeledMetricsAcceptExpectedLabels(t *testing.T) {
	DispatchOutcomes.WithLabelValues("success").Inc()
	DispatchOutcomes.WithLabelValues("transient_failure").Inc()
	DispatchOutcomes.WithLabelValues("permanent_failure").Inc()
	SchedulerMaterializations.WithLabelValues("pending").Inc()
	SchedulerMaterializations.WithLabelValues("missed").Inc()
	LeaderTransitions.WithLabelValues("elected").Inc()
	LeaderTransitions.WithLabelValues("lost").Inc()
	CounterFlush.WithLabelValues("success").Inc()
	CounterFlush.WithLabelValues("failure").Inc()
	CallbackDeliveries.WithLabelValues("delivered").Inc()
	CallbackDeliveries.WithLabelValues("exhausted").Inc()
	MonitorStatusTransitions.WithLabelValues("up").Inc()
	MonitorStatusTransitions.WithLabelValues("down").Inc()
	CleanupPurged.WithLabelValues("executions").Inc()
	CleanupPurged.WithLabelValues("inbound_events").Inc()
	CleanupPurged.WithLabelValues("tasks").Inc()
}

func TestUnlabeledMetricsRecordWithoutPanicking(t *testing.T) {
	ClaimLatency.Observe(0.01)
	PendingQueueDepth.Set(3)
	ActiveWorkers.Set(2)
	DispatchDuration.Observe(0.2)
	HostBlockerOpen.Set(1)
	SchedulerTickDuration.Observe(0.05)
	LeaderStatus.Set(1)
	LeaderEpoch.Set(4)
}
