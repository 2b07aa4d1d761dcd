/*
Package metrics provides Prometheus metrics collection and exposition for msm.

The metrics package defines and registers all msm metrics using the Prometheus
client library, providing observability into supervised server state, console
fan-out volume, scheduler activity, reconciler healing, and download traffic.
Metrics are exposed on the API listener for scraping by Prometheus servers.

# Architecture

Counters are incremented at their call sites; point-in-time gauges are
refreshed by a polling collector:

	┌──────────────────── METRICS SYSTEM ──────────────────────┐
	│                                                            │
	│  ┌────────────────────────────────────────────┐           │
	│  │          Prometheus Registry                │           │
	│  │  - Global DefaultRegistry                   │           │
	│  │  - MustRegister at package init             │           │
	│  │  - Automatic Go runtime metrics             │           │
	│  └──────────────────┬─────────────────────────┘           │
	│                     │                                      │
	│  ┌──────────────────▼─────────────────────────┐           │
	│  │           Increment Sources                 │           │
	│  │                                              │           │
	│  │  pkg/console: lines recorded per stream     │           │
	│  │  pkg/scheduler: dispatched actions          │           │
	│  │  pkg/reconciler: healed rows, cycle time    │           │
	│  │  pkg/fetch: downloaded bytes                │           │
	│  │  pkg/watchdog: crash restarts               │           │
	│  │  pkg/api: request count and duration        │           │
	│  └──────────────────┬─────────────────────────┘           │
	│                     │                                      │
	│  ┌──────────────────▼─────────────────────────┐           │
	│  │           Gauge Collector                   │           │
	│  │  - Polls store + console hub every 15s      │           │
	│  │  - msm_servers_running                      │           │
	│  │  - msm_console_subscribers                  │           │
	│  └──────────────────┬─────────────────────────┘           │
	│                     │                                      │
	│  ┌──────────────────▼─────────────────────────┐           │
	│  │          HTTP Metrics Endpoint              │           │
	│  │  - Path: /metrics on the API listener       │           │
	│  │  - Format: Prometheus text exposition       │           │
	│  │  - Handler: promhttp.Handler()              │           │
	│  └────────────────────────────────────────────┘           │
	└────────────────────────────────────────────────────────────┘

# Core Components

Metric Registry:
  - Global Prometheus DefaultRegistry
  - All metrics registered at package init
  - Automatic collection of Go runtime metrics
  - Thread-safe for concurrent updates

Gauge Collector:
  - Polls the store and console hub on a 15 second ticker
  - Collects immediately on Start for fresh values after boot
  - Narrow ConsoleStats interface keeps the hub decoupled

Timer Helper:
  - Convenience wrapper for timing operations
  - Start timer, observe duration to histogram
  - Supports label values for histogram vectors

# Metrics Catalog

Supervisor Metrics:

msm_servers_running:
  - Type: Gauge
  - Description: Number of managed servers currently running
  - Example: msm_servers_running 3

msm_crash_restarts_total:
  - Type: Counter
  - Description: Automatic restarts fired by the crash watchdog
  - Example: msm_crash_restarts_total 2

Console Metrics:

msm_console_subscribers:
  - Type: Gauge
  - Description: Live console subscribers across all servers
  - Example: msm_console_subscribers 4

msm_console_lines_total{stream}:
  - Type: Counter
  - Description: Console lines recorded by stream (stdout/stderr/stdin/system)
  - Example: msm_console_lines_total{stream="stdout"} 15230

Scheduler Metrics:

msm_scheduled_runs_total{action, outcome}:
  - Type: Counter
  - Description: Scheduled actions dispatched, by action and ok/error/skipped
  - Example: msm_scheduled_runs_total{action="backup",outcome="ok"} 12

Reconciler Metrics:

msm_reconcile_heals_total:
  - Type: Counter
  - Description: Stale running rows healed after an out-of-band exit
  - Example: msm_reconcile_heals_total 1

msm_reconcile_duration_seconds:
  - Type: Histogram
  - Description: Reconcile pass duration
  - Buckets: Default Prometheus buckets

Fetch Metrics:

msm_fetch_bytes_total:
  - Type: Counter
  - Description: Bytes downloaded from distribution registries and CDNs
  - Example: msm_fetch_bytes_total 52428800

API Metrics:

msm_api_requests_total{method, status}:
  - Type: Counter
  - Description: API requests by HTTP method and response status
  - Example: msm_api_requests_total{method="POST",status="201"} 7

msm_api_request_duration_seconds{method}:
  - Type: Histogram
  - Description: API request duration in seconds
  - Buckets: 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10

# Usage

Updating Counter Metrics:

	import "github.com/craftd/msm/pkg/metrics"

	// Increment by 1
	metrics.ReconcileHeals.Inc()

	// Add arbitrary value
	metrics.FetchBytes.Add(float64(n))

	// With labels
	metrics.ConsoleLines.WithLabelValues("stdout").Inc()

Recording Histogram Observations:

	timer := metrics.NewTimer()
	// ... perform operation ...
	timer.ObserveDuration(metrics.ReconcileDuration)

Running the Gauge Collector:

	collector := metrics.NewCollector(store, hub)
	collector.Start()
	defer collector.Stop()

Exposing the Endpoint:

	mux.Handle("/metrics", metrics.Handler())

# Integration Points

This package integrates with:

  - pkg/console: Increments line counters as output is recorded
  - pkg/scheduler: Counts dispatched actions by outcome
  - pkg/reconciler: Counts heals, observes cycle duration
  - pkg/fetch: Accumulates downloaded byte totals
  - pkg/watchdog: Counts automatic crash restarts
  - pkg/api: Instruments request count and duration
  - pkg/storage: Read by the gauge collector
  - Prometheus: Scrapes /metrics on the API listener

# Design Patterns

Package Init Registration:
  - All metrics registered in init() function
  - MustRegister panics on duplicate registration
  - Ensures metrics available before main()
  - No runtime registration needed

Label Discipline:
  - Streams, actions, and outcomes are small fixed sets
  - Server IDs and names are never labels (unbounded cardinality)
  - HTTP method and status class stay under a dozen values

Poll vs Push:
  - Counters pushed at call sites (exact totals)
  - Gauges polled by the collector (cheap point-in-time reads)
  - A missed poll tick never loses data, only delays freshness

# Performance Characteristics

Metric Update Overhead:
  - Counter inc: ~50ns per operation
  - Histogram observe: ~200ns per operation
  - Labels: +100ns per label value
  - Negligible against console line handling cost

Collector Overhead:
  - One ListRunningServers query per poll (indexed, WAL read)
  - One hub mutex acquisition for subscriber totals
  - Default 15s period; safe to leave on permanently

Scrape Performance:
  - Metrics gathering: ~1-5ms for full scrape
  - Recommendation: Scrape interval >= 15s
  - Concurrent scrapes: Safe (read-only)

# Troubleshooting

Common Issues:

Missing Metrics:
  - Symptom: Metric not appearing in /metrics output
  - Check: Metric registered in init() function
  - Check: Counter vecs only appear after first increment
  - Solution: Touch expected label combinations at startup if needed

Gauges Stuck at Zero:
  - Symptom: msm_servers_running stays 0 with servers up
  - Cause: Collector not started, or store handle closed
  - Check: Collector Start called in the serve path
  - Solution: Verify construction order in cmd/msm serve

Stale Subscriber Counts:
  - Symptom: msm_console_subscribers lags disconnects
  - Cause: Gauge refreshes on the poll period, not per event
  - Check: Wait one collector period (15s default)
  - Solution: Working as intended; lower the period if needed

# Monitoring

Prometheus Queries (PromQL):

Server Health:
  - Running servers: msm_servers_running
  - Crash restart rate: rate(msm_crash_restarts_total[15m])
  - Heals (should be rare): increase(msm_reconcile_heals_total[1h])

Console Volume:
  - Line rate: rate(msm_console_lines_total[1m])
  - Stderr share: rate(msm_console_lines_total{stream="stderr"}[5m])

API Performance:
  - Request rate: rate(msm_api_requests_total[1m])
  - Error rate: rate(msm_api_requests_total{status=~"5.."}[1m])
  - p95 latency: histogram_quantile(0.95, msm_api_request_duration_seconds_bucket)

Scheduler Activity:
  - Dispatch rate: rate(msm_scheduled_runs_total[5m])
  - Failures: rate(msm_scheduled_runs_total{outcome="error"}[15m])

# See Also

  - Prometheus documentation: https://prometheus.io/docs/
  - Prometheus client library: https://github.com/prometheus/client_golang
  - Histograms and summaries: https://prometheus.io/docs/practices/histograms/
*/
package metrics
