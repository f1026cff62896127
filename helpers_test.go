// SPDX-License-Identifier: GPL-3.0-or-later

package framedtls

import (
	"context"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/tls"
	"crypto/x509"
	"crypto/x509/pkix"
	"io"
	"log/slog"
	"math/big"
	"net"
	"os"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/bassosimone/netstub"
	"github.com/bassosimone/slogstub"
	"github.com/bassosimone/tlsstub"
	"github.com/stretchr/testify/require"
)

// newCapturingLogger returns a logger that captures all log records into the
// returned slice. The caller can inspect the slice after exercising the code
// under test to verify which events were emitted.
//
// Use [newSyncCapturingLogger] when the code under test logs from goroutines.
func newCapturingLogger() (*slog.Logger, *[]slog.Record) {
	var records []slog.Record
	handler := &slogstub.FuncHandler{
		EnabledFunc: func(ctx context.Context, level slog.Level) bool {
			return true
		},
		HandleFunc: func(ctx context.Context, record slog.Record) error {
			records = append(records, record)
			return nil
		},
	}
	return slog.New(handler), &records
}

// recordLog collects log records from concurrent goroutines.
type recordLog struct {
	mu      sync.Mutex
	records []slog.Record
}

// Messages returns the messages of the records collected so far.
func (rl *recordLog) Messages() []string {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	out := make([]string, 0, len(rl.records))
	for _, record := range rl.records {
		out = append(out, record.Message)
	}
	return out
}

// Find returns the first record with the given message.
func (rl *recordLog) Find(msg string) (slog.Record, bool) {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	for _, record := range rl.records {
		if record.Message == msg {
			return record, true
		}
	}
	return slog.Record{}, false
}

// newSyncCapturingLogger is like [newCapturingLogger] but safe for concurrent use.
func newSyncCapturingLogger() (*slog.Logger, *recordLog) {
	rl := &recordLog{}
	handler := &slogstub.FuncHandler{
		EnabledFunc: func(ctx context.Context, level slog.Level) bool {
			return true
		},
		HandleFunc: func(ctx context.Context, record slog.Record) error {
			rl.mu.Lock()
			rl.records = append(rl.records, record)
			rl.mu.Unlock()
			return nil
		},
	}
	return slog.New(handler), rl
}

// recordAttr returns the value of the given attribute of record.
func recordAttr(record slog.Record, key string) (value slog.Value) {
	record.Attrs(func(attr slog.Attr) bool {
		if attr.Key == key {
			value = attr.Value
			return false
		}
		return true
	})
	return
}

// newMockTLSEngine returns a [*tlsstub.FuncTLSEngine] that wraps the given
// [TLSConn]. The engine's ClientFunc returns the conn and NameFunc returns "mock".
func newMockTLSEngine(conn TLSConn) *tlsstub.FuncTLSEngine[TLSConn] {
	return &tlsstub.FuncTLSEngine[TLSConn]{
		ClientFunc: func(c net.Conn, config *tls.Config) TLSConn {
			return conn
		},
		NameFunc: func() string {
			return "mock"
		},
	}
}

// newMinimalConn returns a [*netstub.FuncConn] with only LocalAddrFunc and
// RemoteAddrFunc set. This is the minimum needed for code that calls
// [safeconn.LocalAddr], [safeconn.RemoteAddr], and [safeconn.Network]
// during construction.
func newMinimalConn() *netstub.FuncConn {
	return &netstub.FuncConn{
		LocalAddrFunc:  func() net.Addr { return &net.TCPAddr{} },
		RemoteAddrFunc: func() net.Addr { return &net.TCPAddr{} },
	}
}

// readStep is the result of a single Read of a scripted conn.
type readStep struct {
	data []byte
	err  error
}

// stepData returns a step reading data.
func stepData(data string) readStep {
	return readStep{data: []byte(data)}
}

// stepTimeout returns a step whose Read expires the deadline.
func stepTimeout() readStep {
	return readStep{err: os.ErrDeadlineExceeded}
}

// stepEmpty returns a step whose Read returns no bytes and no error.
func stepEmpty() readStep {
	return readStep{}
}

// newScriptedConn returns a conn whose reads follow steps. A step whose
// data does not fit the read buffer is split across reads. After the last
// step, reads return [io.EOF].
func newScriptedConn(steps ...readStep) *netstub.FuncConn {
	var mu sync.Mutex
	conn := newMinimalConn()
	conn.SetReadDeadFunc = func(t time.Time) error {
		return nil
	}
	conn.ReadFunc = func(buf []byte) (int, error) {
		mu.Lock()
		defer mu.Unlock()
		if len(steps) <= 0 {
			return 0, io.EOF
		}
		step := &steps[0]
		if step.err != nil || len(step.data) <= 0 {
			steps = steps[1:]
			return 0, step.err
		}
		count := copy(buf, step.data)
		step.data = step.data[count:]
		if len(step.data) <= 0 {
			steps = steps[1:]
		}
		return count, nil
	}
	return conn
}

// newTestConfig returns a [*Config] with short timings.
func newTestConfig() *Config {
	cfg := NewConfig()
	cfg.StallInterval = 5 * time.Millisecond
	cfg.StallTimeout = 100 * time.Millisecond
	cfg.IdleRetryDelay = 5 * time.Millisecond
	return cfg
}

// testCA issues certificates for loopback test servers and clients.
type testCA struct {
	cert *x509.Certificate
	key  *ecdsa.PrivateKey
	pool *x509.CertPool
}

// newTestCA creates a self-signed certificate authority.
func newTestCA(t *testing.T) *testCA {
	t.Helper()
	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	require.NoError(t, err)

	template := &x509.Certificate{
		SerialNumber:          big.NewInt(1),
		Subject:               pkix.Name{CommonName: "framedtls test CA"},
		NotBefore:             time.Now().Add(-time.Hour),
		NotAfter:              time.Now().Add(time.Hour),
		KeyUsage:              x509.KeyUsageCertSign | x509.KeyUsageDigitalSignature,
		BasicConstraintsValid: true,
		IsCA:                  true,
	}
	der, err := x509.CreateCertificate(rand.Reader, template, template, &key.PublicKey, key)
	require.NoError(t, err)
	cert, err := x509.ParseCertificate(der)
	require.NoError(t, err)

	pool := x509.NewCertPool()
	pool.AddCert(cert)
	return &testCA{cert: cert, key: key, pool: pool}
}

// issue returns a certificate for localhost and 127.0.0.1 with the given usage.
func (ca *testCA) issue(t *testing.T, serial int64, usage x509.ExtKeyUsage) tls.Certificate {
	t.Helper()
	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	require.NoError(t, err)

	template := &x509.Certificate{
		SerialNumber: big.NewInt(serial),
		Subject:      pkix.Name{CommonName: "localhost"},
		NotBefore:    time.Now().Add(-time.Hour),
		NotAfter:     time.Now().Add(time.Hour),
		KeyUsage:     x509.KeyUsageDigitalSignature,
		ExtKeyUsage:  []x509.ExtKeyUsage{usage},
		DNSNames:     []string{"localhost"},
		IPAddresses:  []net.IP{net.IPv4(127, 0, 0, 1)},
	}
	der, err := x509.CreateCertificate(rand.Reader, template, ca.cert, &key.PublicKey, ca.key)
	require.NoError(t, err)
	leaf, err := x509.ParseCertificate(der)
	require.NoError(t, err)

	return tls.Certificate{Certificate: [][]byte{der}, Leaf: leaf, PrivateKey: key}
}

// startTestServer accepts a single TLS connection on the loopback and,
// once the handshake succeeds, passes it to handler, closing it when the
// handler returns. It returns the address and the port to connect to.
func startTestServer(t *testing.T, config *tls.Config, handler func(conn *tls.Conn)) (string, int) {
	t.Helper()
	listener, err := tls.Listen("tcp", "127.0.0.1:0", config)
	require.NoError(t, err)

	done := make(chan struct{})
	t.Cleanup(func() {
		listener.Close()
		<-done
	})

	go func() {
		defer close(done)
		conn, err := listener.Accept()
		if err != nil {
			return
		}
		tconn := conn.(*tls.Conn)
		defer tconn.Close()
		if err := tconn.Handshake(); err != nil {
			return
		}
		handler(tconn)
	}()

	host, port, err := net.SplitHostPort(listener.Addr().String())
	require.NoError(t, err)
	portnum, err := strconv.Atoi(port)
	require.NoError(t, err)
	return host, portnum
}

// readFrames reads count frames from conn, failing the test on error.
func readFrames(t *testing.T, conn net.Conn, count int) [][]byte {
	cfg := NewConfig()
	cfg.StallTimeout = 5 * time.Second
	reader := NewStallReader(cfg, conn)
	var out [][]byte
	for len(out) < count {
		payload, err := reader.ReadMessage()
		if err != nil {
			t.Errorf("readFrames: %v", err)
			return out
		}
		out = append(out, payload)
	}
	return out
}

// newStubTLSConn wraps conn into a [TLSConn] reporting a completed
// handshake. It sets conn.CloseFunc if unset.
func newStubTLSConn(conn *netstub.FuncConn) *tlsstub.FuncTLSConn {
	if conn.CloseFunc == nil {
		conn.CloseFunc = func() error { return nil }
	}
	return &tlsstub.FuncTLSConn{
		FuncConn: conn,
		ConnectionStateFunc: func() tls.ConnectionState {
			return tls.ConnectionState{HandshakeComplete: true, Version: tls.VersionTLS13}
		},
		HandshakeContextFunc: func(ctx context.Context) error {
			return nil
		},
	}
}

// newIdleConn returns a conn whose reads expire the deadline after a short
// wait until the conn is closed, and then fail with [net.ErrClosed].
func newIdleConn() *netstub.FuncConn {
	var once sync.Once
	closed := make(chan struct{})
	conn := newMinimalConn()
	conn.SetReadDeadFunc = func(t time.Time) error {
		return nil
	}
	conn.ReadFunc = func(buf []byte) (int, error) {
		select {
		case <-closed:
			return 0, net.ErrClosed
		case <-time.After(time.Millisecond):
			return 0, os.ErrDeadlineExceeded
		}
	}
	conn.CloseFunc = func() error {
		once.Do(func() { close(closed) })
		return nil
	}
	return conn
}

// pipeTLSConn is a [TLSConn] over one end of a [net.Pipe].
type pipeTLSConn struct {
	net.Conn
}

// ConnectionState implements [TLSConn].
func (c pipeTLSConn) ConnectionState() tls.ConnectionState {
	return tls.ConnectionState{HandshakeComplete: true, Version: tls.VersionTLS13}
}

// HandshakeContext implements [TLSConn].
func (c pipeTLSConn) HandshakeContext(ctx context.Context) error {
	return nil
}

// newPipeClient returns a client over a [net.Pipe] and the peer end.
func newPipeClient(t *testing.T, opts *ClientOptions, logger SLogger) (*Client, net.Conn) {
	t.Helper()
	local, peer := net.Pipe()
	client, err := NewClient(newTestConfig(), pipeTLSConn{local}, opts, logger)
	require.NoError(t, err)
	t.Cleanup(func() {
		client.Close()
		peer.Close()
		client.Wait()
	})
	return client, peer
}

// discardMessage is an OnMessage callback dropping payloads.
func discardMessage(payload []byte) bool {
	return true
}
