package demand

import (
	"context"
	"fmt"
	"net"
	"time"

	"github.com/google/uuid"
	"github.com/miekg/dns"
	"github.com/rs/zerolog"

	"github.com/cuemby/burrow/pkg/log"
	"github.com/cuemby/burrow/pkg/types"
)

// DefaultTTL keeps resolvers asking again soon after a cold start
const DefaultTTL = 30

// ListenerConfig configures the DNS demand listener
type ListenerConfig struct {
	ListenAddr string // e.g. ":53"
	AnswerIP   string // address returned for the hostname
	Upstream   string // optional resolver for other names
	TTL        uint32
}

// Listener is an authoritative DNS responder for the workload's hostname.
// Every query for the hostname is a demand signal.
type Listener struct {
	matcher  *Matcher
	answer   net.IP
	upstream string
	ttl      uint32
	addr     string
	emit     func(types.DemandSignal)
	logger   zerolog.Logger
}

// NewListener creates a listener; emit is called for each matching query
func NewListener(cfg ListenerConfig, matcher *Matcher, emit func(types.DemandSignal)) (*Listener, error) {
	if matcher.Hostname() == "" {
		return nil, fmt.Errorf("DNS listener requires a hostname")
	}
	ip := net.ParseIP(cfg.AnswerIP).To4()
	if ip == nil {
		return nil, fmt.Errorf("invalid answer address %q", cfg.AnswerIP)
	}
	if cfg.TTL == 0 {
		cfg.TTL = DefaultTTL
	}
	return &Listener{
		matcher:  matcher,
		answer:   ip,
		upstream: cfg.Upstream,
		ttl:      cfg.TTL,
		addr:     cfg.ListenAddr,
		emit:     emit,
		logger:   log.WithComponent("dns"),
	}, nil
}

// ListenAndServe serves UDP queries until ctx is cancelled
func (l *Listener) ListenAndServe(ctx context.Context) error {
	pc, err := net.ListenPacket("udp", l.addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", l.addr, err)
	}
	return l.Serve(ctx, pc)
}

// Serve answers queries arriving on pc until ctx is cancelled
func (l *Listener) Serve(ctx context.Context, pc net.PacketConn) error {
	mux := dns.NewServeMux()
	mux.HandleFunc(".", l.handleQuery)

	started := make(chan struct{})
	server := &dns.Server{
		PacketConn:        pc,
		Handler:           mux,
		NotifyStartedFunc: func() { close(started) },
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- server.ActivateAndServe()
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("DNS listener failed: %w", err)
	case <-started:
		l.logger.Info().
			Str("address", pc.LocalAddr().String()).
			Str("hostname", l.matcher.Hostname()).
			Msg("DNS listener started")
	}

	select {
	case err := <-errCh:
		return fmt.Errorf("DNS listener failed: %w", err)
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := server.ShutdownContext(shutdownCtx); err != nil {
		return fmt.Errorf("failed to stop DNS listener: %w", err)
	}
	l.logger.Info().Msg("DNS listener stopped")
	return nil
}

func (l *Listener) handleQuery(w dns.ResponseWriter, r *dns.Msg) {
	if len(r.Question) == 0 {
		l.reply(w, r, dns.RcodeFormatError)
		return
	}

	q := r.Question[0]
	l.logger.Debug().
		Str("query", q.Name).
		Uint16("type", q.Qtype).
		Str("client", w.RemoteAddr().String()).
		Msg("DNS query received")

	if !l.matcher.MatchName(q.Name) {
		if l.upstream != "" {
			l.forwardQuery(w, r)
			return
		}
		l.reply(w, r, dns.RcodeNameError)
		return
	}

	l.emit(types.DemandSignal{
		ID:         uuid.New().String(),
		Source:     types.DemandSourceDNS,
		Hostname:   q.Name,
		ClientAddr: w.RemoteAddr().String(),
		Text:       fmt.Sprintf("%s %s", q.Name, dns.TypeToString[q.Qtype]),
		ReceivedAt: time.Now().UTC(),
	})

	msg := &dns.Msg{}
	msg.SetReply(r)
	msg.Authoritative = true
	if q.Qtype == dns.TypeA || q.Qtype == dns.TypeANY {
		msg.Answer = append(msg.Answer, &dns.A{
			Hdr: dns.RR_Header{
				Name:   q.Name,
				Rrtype: dns.TypeA,
				Class:  dns.ClassINET,
				Ttl:    l.ttl,
			},
			A: l.answer,
		})
	}

	if err := w.WriteMsg(msg); err != nil {
		l.logger.Error().Err(err).Msg("failed to write DNS response")
	}
}

func (l *Listener) reply(w dns.ResponseWriter, r *dns.Msg, rcode int) {
	msg := &dns.Msg{}
	msg.SetRcode(r, rcode)
	if err := w.WriteMsg(msg); err != nil {
		l.logger.Error().Err(err).Msg("failed to write DNS response")
	}
}

// forwardQuery relays a query for another name to the upstream resolver
func (l *Listener) forwardQuery(w dns.ResponseWriter, r *dns.Msg) {
	client := &dns.Client{Net: "udp", Timeout: 2 * time.Second}

	resp, _, err := client.Exchange(r, l.upstream)
	if err != nil {
		l.logger.Debug().
			Err(err).
			Str("upstream", l.upstream).
			Msg("failed to forward query to upstream")
		l.reply(w, r, dns.RcodeServerFailure)
		return
	}

	if err := w.WriteMsg(resp); err != nil {
		l.logger.Error().Err(err).Msg("failed to write forwarded DNS response")
	}
}
