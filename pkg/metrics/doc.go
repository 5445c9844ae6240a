/*
Package metrics provides Prometheus metrics and health endpoints for burrow.

All collectors are package variables registered on the default registry at
init, and exposed over HTTP by Handler:

	http.Handle("/metrics", metrics.Handler())

Counters are incremented inline by the launcher, reconciler, status query
and watchdog. Workload gauges (desired count, running tasks, lifecycle
state) are sampled by a Collector on a fixed interval, so they stay
accurate even when the workload is scaled by something other than burrow.

# Health

The package also keeps a small registry of component health. Long-running
processes call RegisterComponent / UpdateComponent as their dependencies
come and go, and mount the handlers:

	mux.HandleFunc("/health", metrics.HealthHandler())
	mux.HandleFunc("/ready", metrics.ReadyHandler())
	mux.HandleFunc("/live", metrics.LivenessHandler())

/ready returns 503 until every component named by SetCriticalComponents
(platform and api by default) is registered and healthy.

# Timing

	timer := metrics.NewTimer()
	defer timer.ObserveDuration(metrics.ReconcileDuration)
*/
package metrics
