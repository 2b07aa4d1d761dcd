package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Supervisor metrics
	ServersRunning = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "msm_servers_running",
			Help: "Number of managed servers currently running",
		},
	)

	CrashRestarts = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "msm_crash_restarts_total",
			Help: "Total number of automatic restarts after a crash",
		},
	)

	// Console metrics
	ConsoleSubscribers = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "msm_console_subscribers",
			Help: "Number of live console subscribers across all servers",
		},
	)

	ConsoleLines = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "msm_console_lines_total",
			Help: "Total number of console lines recorded by stream",
		},
		[]string{"stream"},
	)

	// Scheduler metrics
	ScheduledRuns = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "msm_scheduled_runs_total",
			Help: "Total number of scheduled actions dispatched by action and outcome",
		},
		[]string{"action", "outcome"},
	)

	// Reconciler metrics
	ReconcileHeals = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "msm_reconcile_heals_total",
			Help: "Total number of stale running rows healed by the reconciler",
		},
	)

	ReconcileDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "msm_reconcile_duration_seconds",
			Help:    "Reconcile pass duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
	)

	// Fetch metrics
	FetchBytes = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "msm_fetch_bytes_total",
			Help: "Total number of bytes downloaded from external registries",
		},
	)

	// API metrics
	APIRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "msm_api_requests_total",
			Help: "Total number of API requests by method and status",
		},
		[]string{"method", "status"},
	)

	APIRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "msm_api_request_duration_seconds",
			Help:    "API request duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method"},
	)
)

func init() {
	// Register all metrics
	prometheus.MustRegister(ServersRunning)
	prometheus.MustRegister(CrashRestarts)
	prometheus.MustRegister(ConsoleSubscribers)
	prometheus.MustRegister(ConsoleLines)
	prometheus.MustRegister(ScheduledRuns)
	prometheus.MustRegister(ReconcileHeals)
	prometheus.MustRegister(ReconcileDuration)
	prometheus.MustRegister(FetchBytes)
	prometheus.MustRegister(APIRequestsTotal)
	prometheus.MustRegister(APIRequestDuration)
}

// Handler returns the Prometheus HTTP handler
func Handler() http.Handler {
	return promhttp.Handler()
}
