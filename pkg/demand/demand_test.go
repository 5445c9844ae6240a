package demand

import (
	"bytes"
	"compress/gzip"
	"context"
	"encoding/base64"
	"encoding/json"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/aws/aws-lambda-go/events"
	"github.com/miekg/dns"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cuemby/burrow/pkg/types"
)

const queryLine = "1.0 2024-01-15T10:30:00.000Z Z0123456789 mc.example.com A NOERROR UDP IAD89-C1 198.51.100.7 -"

func TestMatcher(t *testing.T) {
	m := NewMatcher("MC.example.com.")

	tests := []struct {
		name string
		fn   func(string) bool
		in   string
		want bool
	}{
		{"exact name", m.MatchName, "mc.example.com", true},
		{"case and dot", m.MatchName, "Mc.Example.Com.", true},
		{"other name", m.MatchName, "www.example.com", false},
		{"subdomain is not the name", m.MatchName, "a.mc.example.com", false},
		{"query log line", m.MatchLine, queryLine, true},
		{"query log line for other name", m.MatchLine, "1.0 2024-01-15T10:30:00.000Z Z0 www.example.com A NOERROR UDP IAD 198.51.100.7 -", false},
		{"query log line for subdomain", m.MatchLine, "1.0 2024-01-15T10:30:00.000Z Z0 x.mc.example.com A NOERROR UDP IAD 198.51.100.7 -", false},
		{"free text fallback", m.MatchLine, "player connecting to MC.EXAMPLE.COM now", true},
		{"free text miss", m.MatchLine, "nothing here", false},
		{"free text trailing dot", m.MatchLine, "resolving mc.example.com. for 10.0.0.1", true},
		{"free text at line end", m.MatchLine, "lookup mc.example.com", true},
		{"free text longer label", m.MatchLine, "lookup xmc.example.com", false},
		{"free text subdomain", m.MatchLine, "lookup a.mc.example.com", false},
		{"free text parent of another name", m.MatchLine, "lookup xmc.example.com.other", false},
		{"free text suffix label", m.MatchLine, "lookup mc.example.com.other", false},
		{"free text second occurrence", m.MatchLine, "xmc.example.com then mc.example.com", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.fn(tt.in))
		})
	}
}

func TestMatcher_EmptyMatchesAll(t *testing.T) {
	m := NewMatcher("")
	assert.True(t, m.MatchName("anything"))
	assert.True(t, m.MatchLine("anything"))
	assert.True(t, m.Matches(types.DemandSignal{Text: "x"}))
}

func TestParseQueryLogLine(t *testing.T) {
	e, ok := ParseQueryLogLine(queryLine)
	require.True(t, ok)
	assert.Equal(t, "mc.example.com", e.QueryName)
	assert.Equal(t, "A", e.QueryType)
	assert.Equal(t, "198.51.100.7", e.ResolverIP)
	assert.Equal(t, "-", e.ClientSubnet)

	_, ok = ParseQueryLogLine("2.0 not a query log")
	assert.False(t, ok)
}

func encodeLogs(t *testing.T, data events.CloudwatchLogsData) events.CloudwatchLogsEvent {
	t.Helper()
	raw, err := json.Marshal(data)
	require.NoError(t, err)

	var buf bytes.Buffer
	zw := gzip.NewWriter(&buf)
	_, err = zw.Write(raw)
	require.NoError(t, err)
	require.NoError(t, zw.Close())

	return events.CloudwatchLogsEvent{
		AWSLogs: events.CloudwatchLogsRawData{Data: base64.StdEncoding.EncodeToString(buf.Bytes())},
	}
}

func TestFromLogsEvent(t *testing.T) {
	ev := encodeLogs(t, events.CloudwatchLogsData{
		MessageType: "DATA_MESSAGE",
		LogGroup:    "/aws/route53/example.com",
		LogEvents: []events.CloudwatchLogsLogEvent{
			{ID: "1", Timestamp: 1705314600000, Message: queryLine},
			{ID: "2", Timestamp: 1705314601000, Message: "unrelated line"},
		},
	})

	signals, err := FromLogsEvent(ev)
	require.NoError(t, err)
	require.Len(t, signals, 2)

	assert.Equal(t, types.DemandSourceLogs, signals[0].Source)
	assert.Equal(t, "mc.example.com", signals[0].Hostname)
	assert.Equal(t, "198.51.100.7", signals[0].ClientAddr)
	assert.Equal(t, time.UnixMilli(1705314600000).UTC(), signals[0].ReceivedAt)
	assert.Empty(t, signals[1].Hostname)

	m := NewMatcher("mc.example.com")
	assert.True(t, m.Matches(signals[0]))
	assert.False(t, m.Matches(signals[1]))
}

func TestFromLogsEvent_ControlMessage(t *testing.T) {
	ev := encodeLogs(t, events.CloudwatchLogsData{
		MessageType: "CONTROL_MESSAGE",
		LogEvents:   []events.CloudwatchLogsLogEvent{{ID: "1", Message: "CWL CONTROL MESSAGE: Checking health of destination"}},
	})

	signals, err := FromLogsEvent(ev)
	require.NoError(t, err)
	assert.Empty(t, signals)
}

func TestFromLogsEvent_Garbage(t *testing.T) {
	_, err := FromLogsEvent(events.CloudwatchLogsEvent{AWSLogs: events.CloudwatchLogsRawData{Data: "not base64!"}})
	assert.Error(t, err)
}

type signalSink struct {
	mu      sync.Mutex
	signals []types.DemandSignal
}

func (s *signalSink) emit(sig types.DemandSignal) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.signals = append(s.signals, sig)
}

func (s *signalSink) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.signals)
}

func startListener(t *testing.T, cfg ListenerConfig, sink *signalSink) string {
	t.Helper()
	l, err := NewListener(cfg, NewMatcher("mc.example.com"), sink.emit)
	require.NoError(t, err)

	pc, err := net.ListenPacket("udp", "127.0.0.1:0")
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- l.Serve(ctx, pc) }()
	t.Cleanup(func() {
		cancel()
		<-done
	})
	return pc.LocalAddr().String()
}

func query(t *testing.T, addr, name string, qtype uint16) *dns.Msg {
	t.Helper()
	c := &dns.Client{Net: "udp", Timeout: 2 * time.Second}
	m := &dns.Msg{}
	m.SetQuestion(dns.Fqdn(name), qtype)

	var resp *dns.Msg
	var err error
	// The server may need a moment to start reading
	for i := 0; i < 20; i++ {
		resp, _, err = c.Exchange(m, addr)
		if err == nil {
			return resp
		}
		time.Sleep(50 * time.Millisecond)
	}
	require.NoError(t, err)
	return resp
}

func TestListener_AnswersHostnameAndEmits(t *testing.T) {
	sink := &signalSink{}
	addr := startListener(t, ListenerConfig{AnswerIP: "203.0.113.10"}, sink)

	resp := query(t, addr, "MC.example.com", dns.TypeA)
	assert.Equal(t, dns.RcodeSuccess, resp.Rcode)
	assert.True(t, resp.Authoritative)
	require.Len(t, resp.Answer, 1)

	a, ok := resp.Answer[0].(*dns.A)
	require.True(t, ok)
	assert.Equal(t, "203.0.113.10", a.A.String())
	assert.Equal(t, uint32(DefaultTTL), a.Hdr.Ttl)

	require.Equal(t, 1, sink.count())
	sig := sink.signals[0]
	assert.Equal(t, types.DemandSourceDNS, sig.Source)
	assert.NotEmpty(t, sig.ID)
	assert.True(t, NewMatcher("mc.example.com").Matches(sig))
}

func TestListener_AAAAIsEmptyButStillDemand(t *testing.T) {
	sink := &signalSink{}
	addr := startListener(t, ListenerConfig{AnswerIP: "203.0.113.10"}, sink)

	resp := query(t, addr, "mc.example.com", dns.TypeAAAA)
	assert.Equal(t, dns.RcodeSuccess, resp.Rcode)
	assert.Empty(t, resp.Answer)
	assert.Equal(t, 1, sink.count())
}

func TestListener_OtherNameIsNXDOMAIN(t *testing.T) {
	sink := &signalSink{}
	addr := startListener(t, ListenerConfig{AnswerIP: "203.0.113.10"}, sink)

	resp := query(t, addr, "www.example.com", dns.TypeA)
	assert.Equal(t, dns.RcodeNameError, resp.Rcode)
	assert.Equal(t, 0, sink.count())
}

func TestListener_ForwardsOtherNames(t *testing.T) {
	upstreamSink := &signalSink{}
	upstream, err := NewListener(ListenerConfig{AnswerIP: "192.0.2.1"}, NewMatcher("www.example.com"), upstreamSink.emit)
	require.NoError(t, err)
	pc, err := net.ListenPacket("udp", "127.0.0.1:0")
	require.NoError(t, err)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- upstream.Serve(ctx, pc) }()
	defer func() {
		cancel()
		<-done
	}()

	sink := &signalSink{}
	addr := startListener(t, ListenerConfig{AnswerIP: "203.0.113.10", Upstream: pc.LocalAddr().String()}, sink)

	resp := query(t, addr, "www.example.com", dns.TypeA)
	require.Len(t, resp.Answer, 1)
	assert.Equal(t, "192.0.2.1", resp.Answer[0].(*dns.A).A.String())
	assert.Equal(t, 0, sink.count())
	assert.Equal(t, 1, upstreamSink.count())
}

func TestNewListener_Validation(t *testing.T) {
	_, err := NewListener(ListenerConfig{AnswerIP: "203.0.113.10"}, NewMatcher(""), func(types.DemandSignal) {})
	assert.Error(t, err)

	_, err = NewListener(ListenerConfig{AnswerIP: "not-an-ip"}, NewMatcher("mc.example.com"), func(types.DemandSignal) {})
	assert.Error(t, err)
}
