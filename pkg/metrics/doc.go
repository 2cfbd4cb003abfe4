/*
Package metrics defines and registers Lilac's Prometheus metrics and exposes
them over HTTP for scraping.

Gauges (lilac_nodes_total) are kept current by Collector, which polls
pkg/repository on a fixed tick — cheaper than updating a gauge at every
write site. Counters and histograms (lilac_jobs_scheduled_total,
lilac_job_execution_duration_seconds, lilac_heartbeats_total, ...) are
updated directly by pkg/scheduler, pkg/agent, pkg/reaper, and
pkg/controlplane at the point of the event they describe, using the Timer
helper for durations:

	timer := metrics.NewTimer()
	// ... perform operation ...
	timer.ObserveDuration(metrics.SchedulingCycleDuration)

Handler() returns the promhttp handler mounted at /metrics by both the
agent and control-plane processes.
*/
package metrics
