package health

import (
	"bytes"
	"context"
	"encoding/binary"
	"fmt"
	"net"
	"time"
)

const (
	idUnconnectedPing = 0x01
	idUnconnectedPong = 0x1c
)

// offlineMessageID is the RakNet "magic" carried by every offline message
var offlineMessageID = []byte{
	0x00, 0xff, 0xff, 0x00, 0xfe, 0xfe, 0xfe, 0xfe,
	0xfd, 0xfd, 0xfd, 0xfd, 0x12, 0x34, 0x56, 0x78,
}

// RakNetChecker probes a UDP game port (Bedrock edition) with a RakNet
// unconnected ping and expects an unconnected pong.
type RakNetChecker struct {
	Address string
	Timeout time.Duration
}

// NewRakNetChecker creates a new RakNet checker
func NewRakNetChecker(address string) *RakNetChecker {
	return &RakNetChecker{
		Address: address,
		Timeout: 3 * time.Second,
	}
}

// Check sends one ping and waits for the pong
func (r *RakNetChecker) Check(ctx context.Context) Result {
	start := time.Now()
	fail := func(format string, args ...interface{}) Result {
		return Result{
			Healthy:   false,
			Message:   fmt.Sprintf(format, args...),
			CheckedAt: start,
			Duration:  time.Since(start),
		}
	}

	dialer := &net.Dialer{Timeout: r.Timeout}
	conn, err := dialer.DialContext(ctx, "udp", r.Address)
	if err != nil {
		return fail("dial failed: %v", err)
	}
	defer conn.Close()

	deadline := start.Add(r.Timeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}
	_ = conn.SetDeadline(deadline)

	if _, err := conn.Write(UnconnectedPing(start)); err != nil {
		return fail("ping failed: %v", err)
	}

	buf := make([]byte, 1500)
	n, err := conn.Read(buf)
	if err != nil {
		return fail("no pong from %s: %v", r.Address, err)
	}
	motd, err := ParseUnconnectedPong(buf[:n])
	if err != nil {
		return fail("bad pong from %s: %v", r.Address, err)
	}

	return Result{
		Healthy:   true,
		Message:   motd,
		CheckedAt: start,
		Duration:  time.Since(start),
	}
}

// Type returns the probe type
func (r *RakNetChecker) Type() CheckType {
	return CheckTypeRakNet
}

// WithTimeout sets the read timeout
func (r *RakNetChecker) WithTimeout(timeout time.Duration) *RakNetChecker {
	r.Timeout = timeout
	return r
}

// UnconnectedPing encodes a ping: id, send time in ms, magic, client guid
func UnconnectedPing(now time.Time) []byte {
	buf := make([]byte, 0, 33)
	buf = append(buf, idUnconnectedPing)
	buf = binary.BigEndian.AppendUint64(buf, uint64(now.UnixMilli()))
	buf = append(buf, offlineMessageID...)
	buf = binary.BigEndian.AppendUint64(buf, 0)
	return buf
}

// ParseUnconnectedPong validates a pong and returns its server ID string
// (the MOTD line: "MCPE;name;protocol;version;players;max;...")
func ParseUnconnectedPong(b []byte) (string, error) {
	// id(1) + time(8) + guid(8) + magic(16) + len(2)
	const header = 1 + 8 + 8 + 16 + 2
	if len(b) < header {
		return "", fmt.Errorf("pong too short: %d bytes", len(b))
	}
	if b[0] != idUnconnectedPong {
		return "", fmt.Errorf("unexpected packet id 0x%02x", b[0])
	}
	if !bytes.Equal(b[17:33], offlineMessageID) {
		return "", fmt.Errorf("missing offline message id")
	}
	size := int(binary.BigEndian.Uint16(b[33:35]))
	if len(b) < header+size {
		return "", fmt.Errorf("truncated server id")
	}
	return string(b[header : header+size]), nil
}
