/*
Package watchdog scales the workload back to zero once it is idle.

It runs inside the workload task next to the game server (`burrow
watchdog`) and goes through three phases:

 1. Startup. Probe the game port until it answers, then advance the
    lifecycle record from STARTING to RUNNING.
 2. Monitor. Every interval, count connected players. If nobody connects
    within the startup window, or nobody has been connected for the
    shutdown window since the last player left, shut down.
 3. Shutdown. If the lifecycle record moved since the watchdog last saw
    it, a launcher recorded demand and the idle window starts over.
    Otherwise claim STOPPING (RUNNING to STOPPING). Losing that race, or a
    claim that skips a revision, also starts the window over. Otherwise
    set the desired count to zero and re-read the record: if a launcher
    moved it to STARTING in between, restore the desired count to one.

Without a lifecycle store the shutdown is a plain scale to zero.

Players are counted from ESTABLISHED sockets on the game port for TCP
servers (read through procfs) and from the player count a Bedrock server
advertises in its RakNet pong for UDP servers.
*/
package watchdog
