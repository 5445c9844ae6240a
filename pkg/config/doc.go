/*
Package config resolves burrow's configuration.

The environment is the configuration surface. Load reads an optional .env
file first (values already present in the environment always win) and then
decodes the environment into Config with envconfig. The result is validated
once and treated as immutable for the lifetime of the process.

	CLUSTER            ECS cluster name (default minecraft)
	SERVICE            ECS service name (default minecraft-server)
	SERVERNAME         hostname players connect to
	HOSTNAME_PATTERN   overrides SERVERNAME for demand matching
	EIP                allocation id of the stable address; empty disables binding
	PLATFORM           aws, docker or memory (default aws)
	STATE_BACKEND      none, bolt or etcd (default none)
	STARTUPMIN         minutes to wait for the first player (default 10)
	SHUTDOWNMIN        idle minutes before scaling to zero (default 20)

The docker platform additionally reads a workload resource file
(WORKLOAD_FILE) describing the container to run:

	apiVersion: burrow/v1
	kind: Workload
	metadata:
	  name: minecraft-server
	spec:
	  image: itzg/minecraft-bedrock-server
	  env:
	    EULA: "TRUE"
	  ports:
	    - container: 19132
	      protocol: udp
	  volume:
	    name: minecraft-data
	    target: /data
	  network:
	    name: burrow
	    address: 172.28.0.10
*/
package config
