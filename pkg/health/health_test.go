package health

import (
	"context"
	"encoding/binary"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func pong(serverID string) []byte {
	buf := []byte{idUnconnectedPong}
	buf = binary.BigEndian.AppendUint64(buf, 42)
	buf = binary.BigEndian.AppendUint64(buf, 7)
	buf = append(buf, offlineMessageID...)
	buf = binary.BigEndian.AppendUint16(buf, uint16(len(serverID)))
	return append(buf, serverID...)
}

// serveRakNet answers every ping on a loopback UDP socket
func serveRakNet(t *testing.T, serverID string) string {
	t.Helper()
	conn, err := net.ListenPacket("udp", "127.0.0.1:0")
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })

	go func() {
		buf := make([]byte, 1500)
		for {
			n, addr, err := conn.ReadFrom(buf)
			if err != nil {
				return
			}
			if n > 0 && buf[0] == idUnconnectedPing {
				_, _ = conn.WriteTo(pong(serverID), addr)
			}
		}
	}()
	return conn.LocalAddr().String()
}

func TestTCPChecker(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer ln.Close()
	go func() {
		for {
			c, err := ln.Accept()
			if err != nil {
				return
			}
			c.Close()
		}
	}()

	result := NewTCPChecker(ln.Addr().String()).Check(context.Background())
	assert.True(t, result.Healthy, result.Message)
	assert.Equal(t, CheckTypeTCP, NewTCPChecker("x").Type())

	addr := ln.Addr().String()
	ln.Close()
	result = NewTCPChecker(addr).WithTimeout(time.Second).Check(context.Background())
	assert.False(t, result.Healthy)
	assert.Contains(t, result.Message, "connection failed")
}

func TestRakNetChecker(t *testing.T) {
	addr := serveRakNet(t, "MCPE;burrow;622;1.20.40;0;10;")

	result := NewRakNetChecker(addr).Check(context.Background())
	assert.True(t, result.Healthy, result.Message)
	assert.Equal(t, "MCPE;burrow;622;1.20.40;0;10;", result.Message)
}

func TestRakNetChecker_NoAnswer(t *testing.T) {
	conn, err := net.ListenPacket("udp", "127.0.0.1:0")
	require.NoError(t, err)
	defer conn.Close()

	result := NewRakNetChecker(conn.LocalAddr().String()).
		WithTimeout(100 * time.Millisecond).
		Check(context.Background())
	assert.False(t, result.Healthy)
}

func TestParseUnconnectedPong(t *testing.T) {
	tests := []struct {
		name    string
		packet  []byte
		want    string
		wantErr bool
	}{
		{name: "valid", packet: pong("MCPE;x"), want: "MCPE;x"},
		{name: "empty id", packet: pong(""), want: ""},
		{name: "too short", packet: []byte{idUnconnectedPong, 1, 2}, wantErr: true},
		{name: "wrong id", packet: append([]byte{0x05}, pong("x")[1:]...), wantErr: true},
		{name: "truncated", packet: pong("MCPE;x")[:37], wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseUnconnectedPong(tt.packet)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestUnconnectedPing(t *testing.T) {
	ping := UnconnectedPing(time.UnixMilli(1000))
	require.Len(t, ping, 33)
	assert.Equal(t, byte(idUnconnectedPing), ping[0])
	assert.Equal(t, uint64(1000), binary.BigEndian.Uint64(ping[1:9]))
	assert.Equal(t, offlineMessageID, ping[9:25])
}

func TestNewChecker(t *testing.T) {
	tests := []struct {
		protocol string
		want     CheckType
		wantErr  bool
	}{
		{protocol: "tcp", want: CheckTypeTCP},
		{protocol: "UDP", want: CheckTypeRakNet},
		{protocol: "raknet", want: CheckTypeRakNet},
		{protocol: "sctp", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.protocol, func(t *testing.T) {
			c, err := NewChecker(tt.protocol, 19132, time.Second)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, c.Type())
		})
	}
}

type scriptedChecker struct {
	results []bool
	calls   int
}

func (s *scriptedChecker) Check(ctx context.Context) Result {
	ok := false
	if s.calls < len(s.results) {
		ok = s.results[s.calls]
	}
	s.calls++
	return Result{Healthy: ok, CheckedAt: time.Now()}
}

func (s *scriptedChecker) Type() CheckType { return CheckTypeTCP }

func TestWaitReachable(t *testing.T) {
	checker := &scriptedChecker{results: []bool{false, true, false, true, true}}
	cfg := Config{Interval: time.Millisecond, Timeout: time.Second, Successes: 2}

	status, err := WaitReachable(context.Background(), checker, cfg)
	require.NoError(t, err)
	assert.Equal(t, 5, checker.calls)
	assert.Equal(t, 2, status.ConsecutiveSuccesses)
}

func TestWaitReachable_ContextDone(t *testing.T) {
	checker := &scriptedChecker{}
	cfg := Config{Interval: 5 * time.Millisecond, Timeout: time.Second, Successes: 1}

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	status, err := WaitReachable(ctx, checker, cfg)
	require.Error(t, err)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.False(t, status.Reachable(cfg))
}
