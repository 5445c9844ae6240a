/*
Package reconciler keeps the stable public address bound to the running
workload task.

Every task lifecycle event for the workload triggers one reconciliation:

 1. List the workload's tasks and keep the RUNNING ones. None left means
    the task stopped before we got here; that is not an error. With a
    lifecycle store and a desired count of zero, STOPPING becomes STOPPED.
 2. Pick the task named by the event if it is running, otherwise the most
    recently started one, and resolve its network interface.
 3. Describe the address. If it already points at that interface nothing
    is changed; otherwise associate it, allowing reassociation away from a
    previous task.
 4. With a lifecycle store, move STARTING to RUNNING.

Handling the same event any number of times leaves the same binding as
handling it once. In service mode Start adds a periodic resync so a lost
event is repaired on the next tick.
*/
package reconciler
