// Package metrics exposes the Prometheus gauges, counters and histograms
// the daemon main loop, the dealer cycle and the persistent store publish,
// kept in the teacher's shape (package-level collectors registered in
// init, a Timer helper for latency histograms, promhttp.Handler for the
// scrape endpoint) but renamed to this system's own domain.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Application lifecycle metrics (pkg/registry, pkg/daemon).
	ApplicationsTotal = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "dynamo_applications_total",
			Help: "Number of applications currently in each lifecycle status",
		},
		[]string{"status"},
	)

	ApplicationsScheduled = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "dynamo_applications_scheduled_total",
			Help: "Total number of applications submitted to the registry",
		},
	)

	ApplicationRunDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "dynamo_application_run_duration_seconds",
			Help:    "Wall-clock time an application spent running, from spawn to exit",
			Buckets: prometheus.DefBuckets,
		},
	)

	WorkerSpawnFailuresTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "dynamo_worker_spawn_failures_total",
			Help: "Total number of worker sub-process spawn failures",
		},
	)

	// Daemon main loop metrics (pkg/daemon).
	DaemonCycleDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "dynamo_daemon_cycle_duration_seconds",
			Help:    "Time taken by one daemon main-loop cycle (launch + drain)",
			Buckets: prometheus.DefBuckets,
		},
	)

	MutationsAppliedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "dynamo_mutations_applied_total",
			Help: "Total number of captured mutations applied to the live inventory",
		},
		[]string{"op"}, // "update" | "delete"
	)

	// Dealer cycle metrics (pkg/dealer).
	DealerCycleDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "dynamo_dealer_cycle_duration_seconds",
			Help:    "Time taken by one dealer scheduling cycle",
			Buckets: prometheus.DefBuckets,
		},
	)

	DealerProposalsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "dynamo_dealer_proposals_total",
			Help: "Total number of DealerRequests proposed across all cycles",
		},
	)

	DealerRequestsRejectedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "dynamo_dealer_requests_rejected_total",
			Help: "Total number of copy requests rejected, by cause",
		},
		[]string{"cause"},
	)

	ActiveCopiesGauge = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "dynamo_active_copies",
			Help: "Number of active copies currently in each status",
		},
		[]string{"status"},
	)

	// Persistent store metrics (pkg/store).
	StoreSnapshotSwapDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "dynamo_store_snapshot_swap_duration_seconds",
			Help:    "Time taken by one store snapshot-swap",
			Buckets: prometheus.DefBuckets,
		},
	)

	StoreLoadDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "dynamo_store_load_duration_seconds",
			Help:    "Time taken to bulk-load the inventory from the persistent store",
			Buckets: prometheus.DefBuckets,
		},
	)

	// Application server metrics (pkg/appserver).
	AppserverRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "dynamo_appserver_requests_total",
			Help: "Total number of application-server requests by command and outcome",
		},
		[]string{"command", "status"},
	)
)

func init() {
	prometheus.MustRegister(
		ApplicationsTotal,
		ApplicationsScheduled,
		ApplicationRunDuration,
		WorkerSpawnFailuresTotal,
		DaemonCycleDuration,
		MutationsAppliedTotal,
		DealerCycleDuration,
		DealerProposalsTotal,
		DealerRequestsRejectedTotal,
		ActiveCopiesGauge,
		StoreSnapshotSwapDuration,
		StoreLoadDuration,
		AppserverRequestsTotal,
	)
}

// Handler returns the Prometheus scrape HTTP handler.
func Handler() http.Handler {
	return promhttp.Handler()
}

// Timer times one operation and reports its duration to a histogram.
type Timer struct {
	start time.Time
}

// NewTimer starts a timer.
func NewTimer() *Timer {
	return &Timer{start: time.Now()}
}

// ObserveDuration records the elapsed time to histogram.
func (t *Timer) ObserveDuration(histogram prometheus.Histogram) {
	histogram.Observe(time.Since(t.start).Seconds())
}

// ObserveDurationVec records the elapsed time to one label combination of a
// HistogramVec.
func (t *Timer) ObserveDurationVec(vec *prometheus.HistogramVec, labels ...string) {
	vec.WithLabelValues(labels...).Observe(time.Since(t.start).Seconds())
}

// Duration returns the elapsed time since the timer started.
func (t *Timer) Duration() time.Duration {
	return time.Since(t.start)
}
