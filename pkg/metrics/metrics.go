package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Cluster metrics
	NodesTotal = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "lilac_nodes_total",
			Help: "Total number of nodes by status",
		},
		[]string{"status"},
	)

	// API metrics (control plane HTTP boundary)
	APIRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "lilac_api_requests_total",
			Help: "Total number of control-plane API requests by route and status",
		},
		[]string{"route", "status"},
	)

	APIRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "lilac_api_request_duration_seconds",
			Help:    "Control-plane API request duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"route"},
	)

	// Scheduler metrics
	SchedulingCycleDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "lilac_scheduling_cycle_duration_seconds",
			Help:    "Time taken for one scheduling cycle in seconds",
			Buckets: prometheus.DefBuckets,
		},
	)

	PlacementAttemptsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "lilac_placement_attempts_total",
			Help: "Total number of placement attempts by result",
		},
		[]string{"result"}, // placed | no_candidate (includes a lost CAS) | error
	)

	JobsScheduledTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "lilac_jobs_scheduled_total",
			Help: "Total number of jobs successfully placed on a node",
		},
	)

	// Agent metrics
	JobsExecutedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "lilac_jobs_executed_total",
			Help: "Total number of jobs executed by an agent, by terminal status",
		},
		[]string{"status"}, // succeeded | failed | cancelled
	)

	JobExecutionDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "lilac_job_execution_duration_seconds",
			Help:    "Time from container start to container exit, in seconds",
			Buckets: []float64{1, 5, 10, 30, 60, 300, 900, 3600, 14400}, // 1s to 4h
		},
	)

	HeartbeatsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "lilac_heartbeats_total",
			Help: "Total number of heartbeats sent by an agent, by result",
		},
		[]string{"result"}, // ok | error
	)

	// Reaper metrics
	ReaperCyclesTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "lilac_reaper_cycles_total",
			Help: "Total number of reaper cycles completed",
		},
	)

	NodesReapedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "lilac_nodes_reaped_total",
			Help: "Total number of nodes reclaimed for a silent heartbeat",
		},
	)
)

func init() {
	prometheus.MustRegister(NodesTotal)
	prometheus.MustRegister(APIRequestsTotal)
	prometheus.MustRegister(APIRequestDuration)
	prometheus.MustRegister(SchedulingCycleDuration)
	prometheus.MustRegister(PlacementAttemptsTotal)
	prometheus.MustRegister(JobsScheduledTotal)
	prometheus.MustRegister(JobsExecutedTotal)
	prometheus.MustRegister(JobExecutionDuration)
	prometheus.MustRegister(HeartbeatsTotal)
	prometheus.MustRegister(ReaperCyclesTotal)
	prometheus.MustRegister(NodesReapedTotal)
}

// Handler returns the Prometheus HTTP handler.
func Handler() http.Handler {
	return promhttp.Handler()
}

// Timer is a helper for timing operations.
type Timer struct {
	start time.Time
}

// NewTimer creates a new timer.
func NewTimer() *Timer {
	return &Timer{start: time.Now()}
}

// ObserveDuration records the duration to a histogram.
func (t *Timer) ObserveDuration(histogram prometheus.Histogram) {
	duration := time.Since(t.start).Seconds()
	histogram.Observe(duration)
}

// ObserveDurationVec records the duration to a histogram vec with labels.
func (t *Timer) ObserveDurationVec(histogram prometheus.ObserverVec, labels ...string) {
	duration := time.Since(t.start).Seconds()
	histogram.WithLabelValues(labels...).Observe(duration)
}

// Duration returns the elapsed time since the timer started.
func (t *Timer) Duration() time.Duration {
	return time.Since(t.start)
}
