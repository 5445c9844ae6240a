/*
Package api serves burrow's HTTP surface in service mode.

Endpoints:

	GET  /status   {"running": bool, "taskCount": int, "state"?, "publicIp"?}
	GET  /health   component health (metrics package registry)
	GET  /ready    readiness of critical components
	GET  /live     liveness
	GET  /metrics  Prometheus exposition

/status is public and carries permissive CORS headers; OPTIONS preflight
is answered with 204 and any other method than GET with 405. Platform
failures are reported as {"error": "..."}: 503 when burrow is not allowed
to read the platform and 502 for every other upstream failure. The
endpoint never retries.

The same status code mapping is used by the function-mode status handler,
see StatusCode and SetCORSHeaders.
*/
package api
