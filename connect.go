// SPDX-License-Identifier: GPL-3.0-or-later

package framedtls

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/netip"
	"strconv"
	"time"

	"github.com/bassosimone/safeconn"
)

// Dialer abstracts the [*net.Dialer] behavior.
//
// By making [*ConnectFunc] depend on an abstract implementation we
// allow for unit testing and for using alternative dialers.
type Dialer interface {
	DialContext(ctx context.Context, network, address string) (net.Conn, error)
}

// Endpoint is the server to connect to.
type Endpoint struct {
	// Host is a domain name or an IP address literal.
	Host string

	// Port is the TCP port.
	Port uint16
}

// String returns the endpoint in host:port form.
func (e Endpoint) String() string {
	return net.JoinHostPort(e.Host, strconv.Itoa(int(e.Port)))
}

// NewConnectFunc returns a new [*ConnectFunc].
//
// The cfg argument contains the common configuration for framedtls operations.
//
// The logger argument is the [SLogger] to use for structured logging.
func NewConnectFunc(cfg *Config, logger SLogger) *ConnectFunc {
	return &ConnectFunc{
		Dialer:        cfg.Dialer,
		ErrClassifier: cfg.ErrClassifier,
		Logger:        logger,
		Resolver:      cfg.Resolver,
		Timeout:       cfg.ConnectTimeout,
		TimeNow:       cfg.TimeNow,
	}
}

// ConnectFunc establishes a TCP connection with an [Endpoint].
//
// A host that is not an IP address literal is resolved first. The resolved
// addresses are tried in order until one connects. Resolution and all the
// connect attempts share a single Timeout budget, whose expiry is reported
// as [ErrConnectTimeout].
//
// Returns either a valid [net.Conn] or an error, never both.
//
// All fields are safe to modify after construction but before first use.
// Fields must not be mutated concurrently with calls to [Call].
type ConnectFunc struct {
	// Dialer is the [Dialer] to use.
	//
	// Set by [NewConnectFunc] from [Config.Dialer].
	Dialer Dialer

	// ErrClassifier classifies errors for structured logging.
	//
	// Set by [NewConnectFunc] from [Config.ErrClassifier].
	ErrClassifier ErrClassifier

	// Logger is the [SLogger] to use (configurable for testing or custom logging).
	//
	// Set by [NewConnectFunc] to the user-provided logger.
	Logger SLogger

	// Resolver maps a domain name to IP addresses.
	//
	// Set by [NewConnectFunc] from [Config.Resolver].
	Resolver Resolver

	// Timeout bounds resolution and connect. Zero means no bound
	// other than the context deadline.
	//
	// Set by [NewConnectFunc] from [Config.ConnectTimeout].
	Timeout time.Duration

	// TimeNow is the function to get the current time (configurable for testing).
	//
	// Set by [NewConnectFunc] from [Config.TimeNow].
	TimeNow func() time.Time
}

var _ Func[Endpoint, net.Conn] = &ConnectFunc{}

// Call invokes the [*ConnectFunc] to connect to the given [Endpoint].
func (op *ConnectFunc) Call(ctx context.Context, epnt Endpoint) (net.Conn, error) {
	if op.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, op.Timeout)
		defer cancel()
	}

	addrs, err := op.resolve(ctx, epnt.Host)
	if err != nil {
		return nil, op.connectError(ctx, err)
	}

	port := strconv.Itoa(int(epnt.Port))
	var errv []error
	for _, addr := range addrs {
		conn, err := op.dial(ctx, net.JoinHostPort(addr, port))
		if err == nil {
			return conn, nil
		}
		errv = append(errv, err)
		if ctx.Err() != nil {
			break
		}
	}
	return nil, op.connectError(ctx, errors.Join(errv...))
}

func (op *ConnectFunc) resolve(ctx context.Context, host string) ([]string, error) {
	if _, err := netip.ParseAddr(host); err == nil {
		return []string{host}, nil
	}
	addrs, err := op.Resolver.LookupHost(ctx, host)
	if err != nil {
		return nil, err
	}
	if len(addrs) <= 0 {
		return nil, fmt.Errorf("no addresses for %q", host)
	}
	return addrs, nil
}

func (op *ConnectFunc) dial(ctx context.Context, address string) (net.Conn, error) {
	t0 := op.TimeNow()
	deadline, _ := ctx.Deadline()
	op.logConnectStart(address, t0, deadline)
	conn, err := op.Dialer.DialContext(ctx, "tcp", address)
	op.logConnectDone(address, t0, deadline, conn, err)
	return conn, err
}

// connectError maps an expired budget to [ErrConnectTimeout].
func (op *ConnectFunc) connectError(ctx context.Context, err error) error {
	if errors.Is(ctx.Err(), context.DeadlineExceeded) || isTimeout(err) {
		return fmt.Errorf("%w: %w", ErrConnectTimeout, err)
	}
	return err
}

func (op *ConnectFunc) logConnectStart(address string, t0 time.Time, deadline time.Time) {
	op.Logger.Info(
		"connectStart",
		slog.Time("deadline", deadline),
		slog.String("protocol", "tcp"),
		slog.String("remoteAddr", address),
		slog.Time("t", t0),
	)
}

func (op *ConnectFunc) logConnectDone(
	address string, t0 time.Time, deadline time.Time, conn net.Conn, err error) {
	op.Logger.Info(
		"connectDone",
		slog.Time("deadline", deadline),
		slog.Any("err", err),
		slog.String("errClass", op.ErrClassifier.Classify(err)),
		slog.String("localAddr", safeconn.LocalAddr(conn)),
		slog.String("protocol", "tcp"),
		slog.String("remoteAddr", address),
		slog.Time("t0", t0),
		slog.Time("t", op.TimeNow()),
	)
}
