package demand

import (
	"fmt"
	"time"

	"github.com/aws/aws-lambda-go/events"

	"github.com/cuemby/burrow/pkg/types"
)

// FromLogsEvent decodes a CloudWatch Logs subscription payload (base64,
// gzip, JSON) into one demand signal per log event
func FromLogsEvent(ev events.CloudwatchLogsEvent) ([]types.DemandSignal, error) {
	data, err := ev.AWSLogs.Parse()
	if err != nil {
		return nil, fmt.Errorf("failed to decode log subscription payload: %w", err)
	}

	// CONTROL_MESSAGE is the subscription's reachability probe
	if data.MessageType == "CONTROL_MESSAGE" {
		return nil, nil
	}

	signals := make([]types.DemandSignal, 0, len(data.LogEvents))
	for _, le := range data.LogEvents {
		sig := types.DemandSignal{
			ID:         le.ID,
			Source:     types.DemandSourceLogs,
			Text:       le.Message,
			ReceivedAt: time.UnixMilli(le.Timestamp).UTC(),
		}
		if entry, ok := ParseQueryLogLine(le.Message); ok {
			sig.Hostname = entry.QueryName
			sig.ClientAddr = entry.ResolverIP
		}
		signals = append(signals, sig)
	}
	return signals, nil
}

// Matches reports whether the signal concerns the hostname
func (m *Matcher) Matches(sig types.DemandSignal) bool {
	if sig.Hostname != "" {
		return m.MatchName(sig.Hostname)
	}
	return m.MatchLine(sig.Text)
}
