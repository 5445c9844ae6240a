/*
Package types defines the data structures shared by burrow's components.

# Workload

A deployment manages exactly one Workload, identified by its cluster and
service name. Everything else is either read from the platform on demand
(Task, AddressBinding) or is an ephemeral event that is never persisted
(DemandSignal, TaskStateChange).

# Lifecycle

LifecycleRecord is the only persisted state and only exists when a state
backend is configured:

	STOPPED ──launcher──▶ STARTING ──reconciler/watchdog──▶ RUNNING
	   ▲                     ▲                                 │
	   │                     └────────launcher────────┐        │ watchdog
	   └──────reconciler (no tasks left)────────── STOPPING ◀──┘

Every change goes through a compare-and-set on the record's Revision, see
package state.

# Events

TaskStateChange mirrors the detail of a platform "Task State Change"
event. Its JSON field names match the event payload so it can be decoded
directly from an EventBridge envelope. BelongsTo filters out events of
other clusters and services.

Status is the answer of the status endpoint:

	{"running": true, "taskCount": 1, "state": "RUNNING", "publicIp": "203.0.113.7"}
*/
package types
