/*
Package log provides structured logging for burrow using zerolog.

A single global zerolog.Logger is configured once at process start by
log.Init and shared by every component. Components derive child loggers
that carry a "component" field (and, where it matters, the workload
identity) so that the output of the launcher, reconciler, status endpoint
and watchdog can be filtered independently.

# Output Formats

Console output (default, for `burrow serve` on a workstation):

	2024-01-15T10:30:00Z INF scaled workload up component=launcher cluster=minecraft service=minecraft-server

JSON output (function mode, LOG_JSON=true), one object per line so the
platform's log service can index the fields:

	{"level":"info","component":"launcher","cluster":"minecraft","service":"minecraft-server","time":"2024-01-15T10:30:00Z","message":"scaled workload up"}

# Usage

	log.Init(log.Config{Level: log.ParseLevel(cfg.LogLevel), JSONOutput: cfg.LogJSON})

	logger := log.WithWorkload("reconciler", w.Cluster, w.Service)
	logger.Info().Str("eni", eni).Msg("address associated")

Before Init is called Logger writes JSON to stderr at info level, which
keeps library code safe to use from tests.
*/
package log
