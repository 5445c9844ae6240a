package watchdog

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"strconv"
	"strings"

	"github.com/prometheus/procfs"

	"github.com/cuemby/burrow/pkg/health"
)

// tcpEstablished is the socket state value of ESTABLISHED in /proc/net/tcp
const tcpEstablished = 0x01

// Counter reports how many players are connected to the game server
type Counter interface {
	Count(ctx context.Context) (int, error)
}

// NewCounter picks the counter for the game protocol: established sockets
// for TCP servers, the player count advertised in the RakNet pong for UDP
// servers.
func NewCounter(protocol, procRoot string, port int) (Counter, error) {
	switch strings.ToLower(protocol) {
	case "tcp":
		return NewSocketCounter(procRoot, port)
	case "udp":
		addr := fmt.Sprintf("127.0.0.1:%d", port)
		return &PlayerCounter{Checker: health.NewRakNetChecker(addr)}, nil
	default:
		return nil, fmt.Errorf("unsupported game protocol %q", protocol)
	}
}

// SocketCounter counts ESTABLISHED TCP sockets bound to the game port
type SocketCounter struct {
	fs   procfs.FS
	port uint64
}

// NewSocketCounter reads socket tables below procRoot (normally /proc)
func NewSocketCounter(procRoot string, port int) (*SocketCounter, error) {
	pfs, err := procfs.NewFS(procRoot)
	if err != nil {
		return nil, fmt.Errorf("failed to open %s: %w", procRoot, err)
	}
	return &SocketCounter{fs: pfs, port: uint64(port)}, nil
}

// Count implements Counter
func (c *SocketCounter) Count(ctx context.Context) (int, error) {
	v4, err := c.fs.NetTCP()
	if err != nil {
		return 0, fmt.Errorf("failed to read tcp sockets: %w", err)
	}
	v6, err := c.fs.NetTCP6()
	if err != nil && !errors.Is(err, fs.ErrNotExist) {
		return 0, fmt.Errorf("failed to read tcp6 sockets: %w", err)
	}

	n := 0
	for _, table := range []procfs.NetTCP{v4, v6} {
		for _, line := range table {
			if line.LocalPort == c.port && line.St == tcpEstablished {
				n++
			}
		}
	}
	return n, nil
}

// PlayerCounter reads the online player count from a Bedrock server's
// unconnected pong
type PlayerCounter struct {
	Checker *health.RakNetChecker
}

// Count implements Counter
func (c *PlayerCounter) Count(ctx context.Context) (int, error) {
	result := c.Checker.Check(ctx)
	if !result.Healthy {
		return 0, fmt.Errorf("server did not answer: %s", result.Message)
	}
	return PlayersOnline(result.Message)
}

// PlayersOnline extracts the player count from a Bedrock server ID string
// ("MCPE;motd;protocol;version;online;max;...")
func PlayersOnline(serverID string) (int, error) {
	fields := strings.Split(serverID, ";")
	if len(fields) < 6 {
		return 0, fmt.Errorf("malformed server id %q", serverID)
	}
	n, err := strconv.Atoi(fields[4])
	if err != nil {
		return 0, fmt.Errorf("malformed player count %q: %w", fields[4], err)
	}
	return n, nil
}
