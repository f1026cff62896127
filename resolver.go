// SPDX-License-Identifier: GPL-3.0-or-later

package framedtls

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/netip"
	"sync"
	"time"

	"github.com/bassosimone/dnscodec"
	"github.com/bassosimone/dnsoverstream"
	"github.com/bassosimone/minest"
	"github.com/bassosimone/runtimex"
	"github.com/bassosimone/safeconn"
	"github.com/miekg/dns"
)

// DNS protocols supported by [NewDNSResolver].
const (
	DNSProtocolUDP = "udp"
	DNSProtocolTCP = "tcp"
	DNSProtocolTLS = "dot"
)

// NewDNSResolver returns a new [*DNSResolver] exchanging queries over conn.
//
// The cfg argument contains the common configuration for framedtls operations.
//
// The protocol argument is one of [DNSProtocolUDP], [DNSProtocolTCP],
// and [DNSProtocolTLS]. With [DNSProtocolTLS], conn must be a [TLSConn]
// that already completed the handshake.
//
// The logger argument is the [SLogger] to use for structured logging.
func NewDNSResolver(cfg *Config, protocol string, conn net.Conn, logger SLogger) *DNSResolver {
	runtimex.Assert(protocol == DNSProtocolUDP || protocol == DNSProtocolTCP || protocol == DNSProtocolTLS)
	return &DNSResolver{
		conn:          conn,
		ErrClassifier: cfg.ErrClassifier,
		Logger:        logger,
		Protocol:      protocol,
		TimeNow:       cfg.TimeNow,
	}
}

// DNSResolver implements [Resolver] using an explicit DNS server.
//
// Assign it to [Config.Resolver] to resolve the server host name through
// a DNS server of choice rather than through the system resolver. The
// resolver owns the conn to the DNS server and exchanges are serialized.
//
// Only A records are queried.
type DNSResolver struct {
	// conn is the connection to the DNS server.
	conn net.Conn

	// mu serializes exchanges over conn.
	mu sync.Mutex

	// ErrClassifier classifies errors for structured logging.
	//
	// Set by [NewDNSResolver] from [Config.ErrClassifier].
	ErrClassifier ErrClassifier

	// Logger is the [SLogger] to use.
	//
	// Set by [NewDNSResolver] to the user-provided logger.
	Logger SLogger

	// Protocol is the DNS protocol spoken over conn.
	//
	// Set by [NewDNSResolver] to the user-provided protocol.
	Protocol string

	// TimeNow is the function to get the current time.
	//
	// Set by [NewDNSResolver] from [Config.TimeNow].
	TimeNow func() time.Time
}

var _ Resolver = &DNSResolver{}

// Close closes the connection to the DNS server.
func (r *DNSResolver) Close() error {
	return r.conn.Close()
}

// LookupHost implements [Resolver].
func (r *DNSResolver) LookupHost(ctx context.Context, host string) ([]string, error) {
	resp, err := r.Exchange(ctx, dnscodec.NewQuery(host, dns.TypeA))
	if err != nil {
		return nil, err
	}
	return resp.RecordsA()
}

// Exchange sends the query and returns the response.
func (r *DNSResolver) Exchange(ctx context.Context, query *dnscodec.Query) (*dnscodec.Response, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	t0 := r.TimeNow()
	deadline, _ := ctx.Deadline()
	var rqr []byte
	lc := &dnsExchangeLogContext{
		ErrClassifier:  r.ErrClassifier,
		LocalAddr:      safeconn.LocalAddr(r.conn),
		Logger:         r.Logger,
		Protocol:       safeconn.Network(r.conn),
		RemoteAddr:     safeconn.RemoteAddr(r.conn),
		ServerProtocol: r.Protocol,
		TimeNow:        r.TimeNow,
	}

	lc.logStart(t0, deadline)
	resp, err := r.exchange(ctx, lc, t0, &rqr, query)
	lc.logDone(t0, deadline, err)
	return resp, err
}

func (r *DNSResolver) exchange(ctx context.Context,
	lc *dnsExchangeLogContext, t0 time.Time, rqr *[]byte, query *dnscodec.Query) (*dnscodec.Response, error) {
	// The transports never dial: they need an address only to satisfy the constructor.
	unspec := netip.AddrPortFrom(netip.IPv4Unspecified(), 0)

	switch r.Protocol {
	case DNSProtocolUDP:
		txp := minest.NewDNSOverUDPTransport(dnsUnusedDialer{}, unspec)
		txp.ObserveRawQuery = lc.makeQueryObserver(t0, rqr)
		txp.ObserveRawResponse = lc.makeResponseObserver(t0, rqr)
		return txp.ExchangeWithConn(ctx, r.conn, query)

	case DNSProtocolTCP:
		txp := dnsoverstream.NewTransport(dnsoverstream.NewStreamOpenerDialerTCP(dnsUnusedDialer{}), unspec)
		txp.ObserveRawQuery = lc.makeQueryObserver(t0, rqr)
		txp.ObserveRawResponse = lc.makeResponseObserver(t0, rqr)
		return txp.ExchangeWithStreamOpener(ctx, dnsoverstream.NewTCPStreamOpener(r.conn), query)

	default:
		tconn, ok := r.conn.(TLSConn)
		if !ok {
			return nil, fmt.Errorf("%w: DNS-over-TLS requires a TLSConn", ErrInvalidConfig)
		}
		txp := dnsoverstream.NewTransport(dnsoverstream.NewStreamOpenerDialerTCP(dnsUnusedDialer{}), unspec)
		txp.ObserveRawQuery = lc.makeQueryObserver(t0, rqr)
		txp.ObserveRawResponse = lc.makeResponseObserver(t0, rqr)
		return txp.ExchangeWithStreamOpener(ctx, dnsoverstream.NewTLSStreamOpener(tconn), query)
	}
}

// dnsExchangeLogContext holds the attributes shared by DNS exchange events.
type dnsExchangeLogContext struct {
	ErrClassifier  ErrClassifier
	LocalAddr      string
	Logger         SLogger
	Protocol       string
	RemoteAddr     string
	ServerProtocol string
	TimeNow        func() time.Time
}

func (lc *dnsExchangeLogContext) logStart(t0 time.Time, deadline time.Time) {
	lc.Logger.Info(
		"dnsExchangeStart",
		slog.Time("deadline", deadline),
		slog.String("localAddr", lc.LocalAddr),
		slog.String("protocol", lc.Protocol),
		slog.String("remoteAddr", lc.RemoteAddr),
		slog.String("serverProtocol", lc.ServerProtocol),
		slog.Time("t", t0),
	)
}

func (lc *dnsExchangeLogContext) logDone(t0 time.Time, deadline time.Time, err error) {
	lc.Logger.Info(
		"dnsExchangeDone",
		slog.Time("deadline", deadline),
		slog.Any("err", err),
		slog.String("errClass", lc.ErrClassifier.Classify(err)),
		slog.String("localAddr", lc.LocalAddr),
		slog.String("protocol", lc.Protocol),
		slog.String("remoteAddr", lc.RemoteAddr),
		slog.String("serverProtocol", lc.ServerProtocol),
		slog.Time("t0", t0),
		slog.Time("t", lc.TimeNow()),
	)
}

// The raw query and response are per-packet detail and go to Debug.

func (lc *dnsExchangeLogContext) makeQueryObserver(t0 time.Time, rqr *[]byte) func([]byte) {
	return func(rawQuery []byte) {
		lc.Logger.Debug(
			"dnsQuery",
			slog.Any("dnsRawQuery", rawQuery),
			slog.String("localAddr", lc.LocalAddr),
			slog.String("remoteAddr", lc.RemoteAddr),
			slog.String("serverProtocol", lc.ServerProtocol),
			slog.Time("t", t0),
		)
		*rqr = rawQuery
	}
}

func (lc *dnsExchangeLogContext) makeResponseObserver(t0 time.Time, rqr *[]byte) func([]byte) {
	return func(rawResp []byte) {
		lc.Logger.Debug(
			"dnsResponse",
			slog.Any("dnsRawQuery", *rqr),
			slog.Any("dnsRawResponse", rawResp),
			slog.String("localAddr", lc.LocalAddr),
			slog.String("remoteAddr", lc.RemoteAddr),
			slog.String("serverProtocol", lc.ServerProtocol),
			slog.Time("t0", t0),
			slog.Time("t", lc.TimeNow()),
		)
	}
}

// errDNSDial is the panic value of [dnsUnusedDialer].
var errDNSDial = errors.New("framedtls: DNS transport must not dial")

// dnsUnusedDialer is a [Dialer] that panics if DialContext is called.
//
// The DNS transports above exchange over the resolver's conn and never dial.
type dnsUnusedDialer struct{}

var _ Dialer = dnsUnusedDialer{}

// DialContext implements [Dialer] and always panics.
func (dnsUnusedDialer) DialContext(ctx context.Context, network, address string) (net.Conn, error) {
	panic(errDNSDial)
}
