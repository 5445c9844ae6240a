package health

import (
	"context"
	"fmt"
	"strings"
	"time"
)

// CheckType represents the type of probe
type CheckType string

const (
	CheckTypeTCP    CheckType = "tcp"
	CheckTypeRakNet CheckType = "raknet"
)

// Result represents the outcome of a probe
type Result struct {
	Healthy   bool
	Message   string
	CheckedAt time.Time
	Duration  time.Duration
}

// Checker is the interface that all probes must implement
type Checker interface {
	// Check performs the probe and returns the result
	Check(ctx context.Context) Result

	// Type returns the type of probe
	Type() CheckType
}

// Config controls how often the game port is probed during startup
type Config struct {
	// Interval is the time between probes
	Interval time.Duration

	// Timeout bounds a single probe
	Timeout time.Duration

	// Successes is the number of consecutive successful probes required
	// before the server is considered reachable
	Successes int
}

// DefaultConfig returns a Config with sensible defaults
func DefaultConfig() Config {
	return Config{
		Interval:  5 * time.Second,
		Timeout:   3 * time.Second,
		Successes: 1,
	}
}

// NewChecker builds the probe for a game port. TCP ports get a connect
// probe and UDP ports a RakNet unconnected ping.
func NewChecker(protocol string, port int, timeout time.Duration) (Checker, error) {
	addr := fmt.Sprintf("127.0.0.1:%d", port)
	switch strings.ToLower(protocol) {
	case "tcp":
		return NewTCPChecker(addr).WithTimeout(timeout), nil
	case "udp", "raknet":
		return NewRakNetChecker(addr).WithTimeout(timeout), nil
	default:
		return nil, fmt.Errorf("unsupported probe protocol %q", protocol)
	}
}

// Status tracks consecutive probe outcomes
type Status struct {
	ConsecutiveFailures  int
	ConsecutiveSuccesses int
	LastCheck            time.Time
	LastResult           Result
	StartedAt            time.Time
}

// NewStatus creates a new Status
func NewStatus() *Status {
	return &Status{StartedAt: time.Now()}
}

// Update records a new probe result
func (s *Status) Update(result Result) {
	s.LastCheck = result.CheckedAt
	s.LastResult = result

	if result.Healthy {
		s.ConsecutiveSuccesses++
		s.ConsecutiveFailures = 0
	} else {
		s.ConsecutiveFailures++
		s.ConsecutiveSuccesses = 0
	}
}

// Reachable reports whether enough consecutive probes have succeeded
func (s *Status) Reachable(config Config) bool {
	required := config.Successes
	if required < 1 {
		required = 1
	}
	return s.ConsecutiveSuccesses >= required
}

// WaitReachable probes until the checker succeeds config.Successes times in
// a row or ctx is done.
func WaitReachable(ctx context.Context, checker Checker, config Config) (*Status, error) {
	status := NewStatus()
	ticker := time.NewTicker(config.Interval)
	defer ticker.Stop()

	for {
		probeCtx, cancel := context.WithTimeout(ctx, config.Timeout)
		status.Update(checker.Check(probeCtx))
		cancel()

		if status.Reachable(config) {
			return status, nil
		}

		select {
		case <-ctx.Done():
			return status, fmt.Errorf("game port not reachable after %d probes: %w",
				status.ConsecutiveFailures, ctx.Err())
		case <-ticker.C:
		}
	}
}
