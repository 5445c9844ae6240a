package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Demand metrics
	DemandSignalsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "burrow_demand_signals_total",
			Help: "Demand signals received by source and whether they matched the hostname",
		},
		[]string{"source", "matched"},
	)

	LaunchesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "burrow_launches_total",
			Help: "Launcher invocations by result (scaled, noop, error)",
		},
		[]string{"result"},
	)

	ScaleChangesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "burrow_scale_changes_total",
			Help: "Desired count mutations issued by burrow, by direction",
		},
		[]string{"direction"},
	)

	// Reconciler metrics
	AddressAssociationsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "burrow_address_associations_total",
			Help: "Stable address associations performed",
		},
	)

	ReconcileTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "burrow_reconcile_total",
			Help: "Lifecycle events handled by the reconciler, by outcome",
		},
		[]string{"outcome"},
	)

	ReconcileDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "burrow_reconcile_duration_seconds",
			Help:    "Time taken to reconcile one lifecycle event",
			Buckets: prometheus.DefBuckets,
		},
	)

	// Status metrics
	StatusQueriesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "burrow_status_queries_total",
			Help: "Status queries by result",
		},
		[]string{"result"},
	)

	// Workload gauges, sampled by the Collector
	WorkloadDesiredCount = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "burrow_workload_desired_count",
			Help: "Desired count of the workload service",
		},
	)

	WorkloadRunningTasks = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "burrow_workload_running_tasks",
			Help: "Number of running workload tasks",
		},
	)

	LifecycleState = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "burrow_lifecycle_state",
			Help: "Current lifecycle state of the workload (1 for the active state)",
		},
		[]string{"state"},
	)

	// Watchdog metrics
	WatchdogConnections = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "burrow_watchdog_connections",
			Help: "Active connections observed on the game port",
		},
	)

	WatchdogShutdownsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "burrow_watchdog_shutdowns_total",
			Help: "Watchdog shutdown attempts by outcome",
		},
		[]string{"outcome"},
	)
)

func init() {
	prometheus.MustRegister(DemandSignalsTotal)
	prometheus.MustRegister(LaunchesTotal)
	prometheus.MustRegister(ScaleChangesTotal)
	prometheus.MustRegister(AddressAssociationsTotal)
	prometheus.MustRegister(ReconcileTotal)
	prometheus.MustRegister(ReconcileDuration)
	prometheus.MustRegister(StatusQueriesTotal)
	prometheus.MustRegister(WorkloadDesiredCount)
	prometheus.MustRegister(WorkloadRunningTasks)
	prometheus.MustRegister(LifecycleState)
	prometheus.MustRegister(WatchdogConnections)
	prometheus.MustRegister(WatchdogShutdownsTotal)
}

// Handler returns the Prometheus HTTP handler
func Handler() http.Handler {
	return promhttp.Handler()
}

// Timer measures the duration of an operation
type Timer struct {
	start time.Time
}

// NewTimer starts a new timer
func NewTimer() *Timer {
	return &Timer{start: time.Now()}
}

// Duration returns the time elapsed since the timer started
func (t *Timer) Duration() time.Duration {
	return time.Since(t.start)
}

// ObserveDuration records the elapsed time in seconds on a histogram
func (t *Timer) ObserveDuration(h prometheus.Observer) {
	h.Observe(t.Duration().Seconds())
}

// ObserveDurationVec records the elapsed time on a labelled histogram
func (t *Timer) ObserveDurationVec(h *prometheus.HistogramVec, labels ...string) {
	h.WithLabelValues(labels...).Observe(t.Duration().Seconds())
}
