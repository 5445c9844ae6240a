/*
Package health probes the game port from inside the workload task.

The watchdog uses it during startup: it waits until the server answers
before it declares the workload RUNNING. Two probes exist:

  - TCPChecker connects to a TCP port (Java edition servers).
  - RakNetChecker sends a RakNet unconnected ping to a UDP port and expects
    an unconnected pong (Bedrock edition servers). The pong carries the
    server ID string, which is returned as the result message.

NewChecker picks the probe from the configured protocol. WaitReachable
polls a checker on an interval until Config.Successes consecutive probes
succeed or the context ends.

	checker, err := health.NewChecker("udp", 19132, 3*time.Second)
	if err != nil {
		return err
	}
	status, err := health.WaitReachable(ctx, checker, health.DefaultConfig())
*/
package health
