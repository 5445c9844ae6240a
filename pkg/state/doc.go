/*
Package state stores the workload's lifecycle record and guards changes to
it with compare-and-set.

The launcher and the idle watchdog both change the service's desired count.
Without coordination a demand signal arriving while the watchdog scales the
service down can be lost. Each of them therefore moves the record through
the lifecycle before touching the desired count:

	STOPPED  --launcher-->  STARTING  --reconciler/watchdog-->  RUNNING
	   ^                      ^                                   |
	   |                      +------------launcher---------------+ (via STOPPING)
	   +------reconciler------  STOPPING  <------watchdog----------+

Transition only succeeds when the current state is one of the expected
states; a lost race returns a *ConflictError wrapping ErrConflict and
carrying the record that won.

Two backends are provided. BoltStore keeps the record in a local bbolt file
and suits single-host deployments (the docker platform). EtcdStore keeps it
in etcd and compares the key's mod revision in a transaction, retrying a
bounded number of times when the key moved underneath it. When neither is
configured, callers use Derive to infer the state from the platform.
*/
package state
