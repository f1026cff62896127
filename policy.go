// SPDX-License-Identifier: GPL-3.0-or-later

package framedtls

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/bassosimone/safeconn"
)

// AuthPolicy is the certificate policy of a connection.
//
// The zero value validates the server against the system roots and
// offers no client certificate.
type AuthPolicy struct {
	// Certificates are offered when the server requests a client certificate.
	Certificates []tls.Certificate

	// RootCAs validates the server certificate. Nil means the system roots.
	RootCAs *x509.CertPool

	// AcceptInvalidCertificates disables server certificate validation.
	AcceptInvalidCertificates bool

	// RequireMutualAuthentication fails the connection unless a client
	// certificate was requested and sent.
	RequireMutualAuthentication bool
}

// TLSConfig returns the [*tls.Config] implementing the policy for serverName.
//
// The record argument, when not nil, is updated during the handshake to
// remember whether a client certificate was sent.
func (p *AuthPolicy) TLSConfig(serverName string, record *ClientAuthRecord) *tls.Config {
	return &tls.Config{
		GetClientCertificate: func(cri *tls.CertificateRequestInfo) (*tls.Certificate, error) {
			cert := p.selectCertificate(cri)
			if record != nil && len(cert.Certificate) > 0 {
				record.sent.Store(true)
			}
			return cert, nil
		},
		InsecureSkipVerify: p.AcceptInvalidCertificates,
		MinVersion:         tls.VersionTLS12,
		RootCAs:            p.RootCAs,
		ServerName:         serverName,
	}
}

// selectCertificate returns the first certificate the server supports,
// falling back to the first certificate, or to an empty one.
func (p *AuthPolicy) selectCertificate(cri *tls.CertificateRequestInfo) *tls.Certificate {
	for idx := range p.Certificates {
		if cri.SupportsCertificate(&p.Certificates[idx]) == nil {
			return &p.Certificates[idx]
		}
	}
	if len(p.Certificates) > 0 {
		return &p.Certificates[0]
	}
	return &tls.Certificate{}
}

// ClientAuthRecord remembers whether a handshake sent a client certificate.
//
// The zero value is ready to use.
type ClientAuthRecord struct {
	sent atomic.Bool
}

// Sent returns whether the server requested a client certificate and we sent one.
func (r *ClientAuthRecord) Sent() bool {
	return r.sent.Load()
}

// NewVerifyFunc returns a new [*VerifyFunc].
//
// The cfg argument contains the common configuration for framedtls operations.
//
// The policy argument is the policy the handshake was configured with.
//
// The record argument is the [*ClientAuthRecord] passed to [AuthPolicy.TLSConfig].
//
// The logger argument is the [SLogger] to use for structured logging.
func NewVerifyFunc(cfg *Config, policy *AuthPolicy, record *ClientAuthRecord, logger SLogger) *VerifyFunc {
	return &VerifyFunc{
		ErrClassifier: cfg.ErrClassifier,
		Logger:        logger,
		Policy:        policy,
		Record:        record,
		TimeNow:       cfg.TimeNow,
	}
}

// VerifyFunc asserts the security properties of a [TLSConn] after the handshake.
//
// The checks run in order and the first failure wins:
//  1. encrypted: the handshake completed with a negotiated cipher suite
//  2. authenticated: the server presented a certificate that, unless
//     validation is disabled, verified into at least one chain
//  3. mutually authenticated, only if the policy requires it
//
// A failure closes the conn and returns an [ErrAuthentication].
//
// All fields are safe to modify after construction but before first use.
type VerifyFunc struct {
	// ErrClassifier classifies errors for structured logging.
	//
	// Set by [NewVerifyFunc] from [Config.ErrClassifier].
	ErrClassifier ErrClassifier

	// Logger is the [SLogger] to use.
	//
	// Set by [NewVerifyFunc] to the user-provided logger.
	Logger SLogger

	// Policy is the policy to enforce.
	//
	// Set by [NewVerifyFunc] to the user-provided policy.
	Policy *AuthPolicy

	// Record tells whether a client certificate was sent.
	//
	// Set by [NewVerifyFunc] to the user-provided record.
	Record *ClientAuthRecord

	// TimeNow is the function to get the current time.
	//
	// Set by [NewVerifyFunc] from [Config.TimeNow].
	TimeNow func() time.Time
}

var _ Func[TLSConn, TLSConn] = &VerifyFunc{}

// Call implements [Func].
func (op *VerifyFunc) Call(ctx context.Context, conn TLSConn) (TLSConn, error) {
	state := conn.ConnectionState()
	encrypted := state.HandshakeComplete && state.CipherSuite != 0
	authenticated := len(state.PeerCertificates) > 0 &&
		(op.Policy.AcceptInvalidCertificates || len(state.VerifiedChains) > 0)
	mutual := op.Record != nil && op.Record.Sent()

	var err error
	switch {
	case !encrypted:
		err = fmt.Errorf("%w: stream is not encrypted", ErrAuthentication)
	case !authenticated:
		err = fmt.Errorf("%w: server is not authenticated", ErrAuthentication)
	case op.Policy.RequireMutualAuthentication && !mutual:
		err = fmt.Errorf("%w: stream is not mutually authenticated", ErrAuthentication)
	}

	op.Logger.Info(
		"tlsVerifyDone",
		slog.Any("err", err),
		slog.String("errClass", op.ErrClassifier.Classify(err)),
		slog.String("localAddr", safeconn.LocalAddr(conn)),
		slog.String("protocol", safeconn.Network(conn)),
		slog.String("remoteAddr", safeconn.RemoteAddr(conn)),
		slog.Time("t", op.TimeNow()),
		slog.Bool("tlsAuthenticated", authenticated),
		slog.Bool("tlsEncrypted", encrypted),
		slog.Bool("tlsMutual", mutual),
		slog.Bool("tlsMutualRequired", op.Policy.RequireMutualAuthentication),
	)

	if err != nil {
		conn.Close()
		return nil, err
	}
	return conn, nil
}
