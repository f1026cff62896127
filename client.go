// SPDX-License-Identifier: GPL-3.0-or-later

package framedtls

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"fmt"
	"log/slog"
	"net"
	"sync/atomic"
	"time"

	"github.com/bassosimone/safeconn"
	"golang.org/x/sync/semaphore"
	"gopkg.in/tomb.v2"
)

// ClientOptions configures a single [*Client].
type ClientOptions struct {
	// ServerAddress is the server domain name or IP address. Required.
	//
	// It is also the name the server certificate is validated against.
	ServerAddress string

	// ServerPort is the server TCP port, in 1..65535. Required.
	ServerPort int

	// Certificates are offered when the server requests a client certificate.
	//
	// See [LoadPKCS12] to load a password-protected archive.
	Certificates []tls.Certificate

	// RootCAs validates the server certificate. Nil means the system roots.
	RootCAs *x509.CertPool

	// AcceptInvalidCertificates disables server certificate validation.
	AcceptInvalidCertificates bool

	// RequireMutualAuthentication fails [Dial] unless the server requested
	// a client certificate and one of Certificates was sent.
	RequireMutualAuthentication bool

	// OnConnected, if set, is called in its own goroutine once connected.
	OnConnected func()

	// OnDisconnected, if set, is called once when the receive loop ends,
	// including after [*Client.Close].
	OnDisconnected func()

	// OnMessage is called with each received payload. Required.
	//
	// The payload is owned by the callee. The return value is ignored.
	OnMessage func(payload []byte) bool

	// DebugLogging enables [slog.LevelDebug] events, including I/O events.
	DebugLogging bool

	// OrderedDelivery delivers payloads one at a time, in arrival order,
	// from a single goroutine. The default calls OnMessage concurrently
	// from one goroutine per payload.
	OrderedDelivery bool
}

// validate returns an [ErrInvalidConfig] if the options cannot be used with [Dial].
func (o *ClientOptions) validate() error {
	switch {
	case o.ServerAddress == "":
		return fmt.Errorf("%w: empty ServerAddress", ErrInvalidConfig)
	case o.ServerPort < 1 || o.ServerPort > 65535:
		return fmt.Errorf("%w: ServerPort %d out of range", ErrInvalidConfig, o.ServerPort)
	case o.OnMessage == nil:
		return fmt.Errorf("%w: nil OnMessage", ErrInvalidConfig)
	default:
		return nil
	}
}

// AuthPolicy returns the certificate policy described by the options.
func (o *ClientOptions) AuthPolicy() *AuthPolicy {
	return &AuthPolicy{
		Certificates:                o.Certificates,
		RootCAs:                     o.RootCAs,
		AcceptInvalidCertificates:   o.AcceptInvalidCertificates,
		RequireMutualAuthentication: o.RequireMutualAuthentication,
	}
}

// Dial connects to the server and returns a connected [*Client].
//
// The cfg argument contains the common configuration for framedtls operations.
//
// The opts argument configures this client.
//
// The logger argument is the [SLogger] to use for structured logging.
//
// Dial connects within [Config.ConnectTimeout], performs the TLS handshake,
// which is only bounded by ctx, and checks the resulting stream against
// the certificate policy. Once Dial returns, ctx no longer affects the
// client. On failure, every resource is released and the error wraps one
// of [ErrInvalidConfig], [ErrConnectTimeout], and [ErrAuthentication],
// or is the underlying network error.
func Dial(ctx context.Context, cfg *Config, opts *ClientOptions, logger SLogger) (*Client, error) {
	if err := opts.validate(); err != nil {
		return nil, err
	}
	id := NewSpanID()
	logger = withSpanID(gateDebug(logger, opts.DebugLogging), id)

	var observeOp Func[net.Conn, net.Conn] = FuncAdapter[net.Conn, net.Conn](
		func(ctx context.Context, conn net.Conn) (net.Conn, error) {
			return conn, nil
		})
	if opts.DebugLogging {
		observeOp = NewObserveConnFunc(cfg, logger)
	}

	policy := opts.AuthPolicy()
	record := &ClientAuthRecord{}
	pipeline := Compose4(
		NewConnectFunc(cfg, logger),
		observeOp,
		NewTLSHandshakeFunc(cfg, policy.TLSConfig(opts.ServerAddress, record), logger),
		NewVerifyFunc(cfg, policy, record, logger),
	)

	conn, err := pipeline.Call(ctx, Endpoint{Host: opts.ServerAddress, Port: uint16(opts.ServerPort)})
	if err != nil {
		return nil, err
	}
	return newClient(cfg, id, conn, opts, logger), nil
}

// NewClient returns a connected [*Client] using an established [TLSConn].
//
// Use NewClient with a custom establishment pipeline. The client takes
// ownership of conn, including when NewClient fails. Only the callbacks
// and the logging flags of opts are used.
func NewClient(cfg *Config, conn TLSConn, opts *ClientOptions, logger SLogger) (*Client, error) {
	if opts.OnMessage == nil {
		conn.Close()
		return nil, fmt.Errorf("%w: nil OnMessage", ErrInvalidConfig)
	}
	id := NewSpanID()
	return newClient(cfg, id, conn, opts, withSpanID(gateDebug(logger, opts.DebugLogging), id)), nil
}

// orderedDeliveryBuffer is the number of payloads queued for ordered delivery.
const orderedDeliveryBuffer = 64

func newClient(cfg *Config, id string, conn TLSConn, opts *ClientOptions, logger SLogger) *Client {
	c := &Client{
		conn:           conn,
		errClassifier:  cfg.ErrClassifier,
		gate:           semaphore.NewWeighted(1),
		id:             id,
		idleRetryDelay: cfg.IdleRetryDelay,
		laddr:          safeconn.LocalAddr(conn),
		logger:         logger,
		opts:           *opts,
		protocol:       safeconn.Network(conn),
		raddr:          safeconn.RemoteAddr(conn),
		reader:         NewStallReader(cfg, conn),
		timeNow:        cfg.TimeNow,
	}
	c.connected.Store(true)
	if c.opts.OrderedDelivery {
		c.deliveries = make(chan []byte, orderedDeliveryBuffer)
		go c.deliverOrdered()
	}
	if c.opts.OnConnected != nil {
		go c.opts.OnConnected()
	}
	c.tmb.Go(c.receiveLoop)
	return c
}

// Client is a connected framed TLS endpoint.
//
// Construct using [Dial] or [NewClient]. Received messages surface only
// through [ClientOptions.OnMessage]. Use [*Client.Send] to send.
//
// A Client never reconnects. After a transport fault or [*Client.Close],
// sends fail and the receive loop ends. Methods are safe for concurrent use.
type Client struct {
	conn           TLSConn
	connected      atomic.Bool
	deliveries     chan []byte
	disposed       atomic.Bool
	errClassifier  ErrClassifier
	gate           *semaphore.Weighted
	id             string
	idleRetryDelay time.Duration
	laddr          string
	logger         SLogger
	opts           ClientOptions
	protocol       string
	raddr          string
	reader         *StallReader
	timeNow        func() time.Time
	tmb            tomb.Tomb
}

// ID returns the span ID attached to this client's log events.
func (c *Client) ID() string {
	return c.id
}

// IsConnected returns whether the client is usable.
//
// It becomes false, and never true again, on teardown.
func (c *Client) IsConnected() bool {
	return c.connected.Load()
}

// LocalAddr returns the local address of the TCP connection.
func (c *Client) LocalAddr() net.Addr {
	return c.conn.LocalAddr()
}

// RemoteAddr returns the remote address of the TCP connection.
func (c *Client) RemoteAddr() net.Addr {
	return c.conn.RemoteAddr()
}

// ConnectionState returns the TLS connection state.
func (c *Client) ConnectionState() tls.ConnectionState {
	return c.conn.ConnectionState()
}

// Close tears down the connection. It does not wait for the receive
// loop to end; use [*Client.Wait] for that.
//
// Close is idempotent and always returns nil.
func (c *Client) Close() error {
	c.teardown(nil)
	return nil
}

// Wait blocks until the receive loop has ended and returns the fault
// that ended it, or nil when it ended because of [*Client.Close].
func (c *Client) Wait() error {
	return c.tmb.Wait()
}

// teardown runs at most once. The first reason passed to teardown, or to
// the tomb by the receive loop, becomes the result of [*Client.Wait].
func (c *Client) teardown(reason error) {
	if !c.disposed.CompareAndSwap(false, true) {
		return
	}
	c.connected.Store(false)
	c.tmb.Kill(reason)

	t0 := c.timeNow()
	c.logger.Info(
		"closeStart",
		slog.String("localAddr", c.laddr),
		slog.String("protocol", c.protocol),
		slog.String("remoteAddr", c.raddr),
		slog.Time("t", t0),
	)

	err := c.conn.Close()

	c.logger.Info(
		"closeDone",
		slog.Any("err", err),
		slog.String("errClass", c.errClassifier.Classify(err)),
		slog.String("localAddr", c.laddr),
		slog.String("protocol", c.protocol),
		slog.String("remoteAddr", c.raddr),
		slog.Any("reason", reason),
		slog.Time("t0", t0),
		slog.Time("t", c.timeNow()),
	)
}
