// SPDX-License-Identifier: GPL-3.0-or-later

// Package framedtls implements a TLS client exchanging length-prefixed messages.
//
// # Wire Format
//
// Each message travels as a frame: the payload length as ASCII decimal
// digits, a ':' byte, then the payload. For example, "hello" is sent as
// "5:hello" and the empty message as "0:". See [EncodeFrame] and
// [DecodeFrame]. There are no acknowledgments, request identifiers, or
// message types: the stream is a sequence of opaque payloads in each
// direction.
//
// # Client Lifecycle
//
// [Dial] validates the [ClientOptions], connects to the server within
// [Config.ConnectTimeout], performs the TLS handshake (TLS 1.2 or later),
// and checks that the stream is encrypted, that the server is authenticated,
// and, if requested, that the client authenticated too. It then starts a
// background receive loop and returns a connected [*Client].
//
// Received payloads are delivered to [ClientOptions.OnMessage]. By default
// each payload is delivered from its own goroutine, so callbacks may run
// concurrently and out of order; set [ClientOptions.OrderedDelivery] to
// deliver them one at a time in arrival order.
//
// [*Client.Send] writes one frame at a time. A failed write, a failed or
// stalled read, and [*Client.Close] all converge on a single teardown,
// after which the client stays disconnected: there is no reconnection.
// [ClientOptions.OnDisconnected] runs once when the receive loop ends and
// [*Client.Wait] returns the fault that ended it.
//
// # Stall Detection
//
// The receive side does not rely on transport timeouts to detect a dead
// peer. The [*StallReader] polls the conn every [Config.StallInterval] and
// fails a message read that makes no progress for [Config.StallTimeout]. A
// stall before the first byte of a frame is [ErrNoData], which means the
// peer is quiet and the loop retries after [Config.IdleRetryDelay]. A stall
// in the middle of a frame is fatal since the stream can no longer be
// resynchronized.
//
// # Composition
//
// Establishment is a pipeline of [Func] stages composed with [Compose4]:
// [*ConnectFunc], [*ObserveConnFunc] (only with debug logging),
// [*TLSHandshakeFunc], and [*VerifyFunc]. Each stage closes its input on
// failure. Callers needing a different pipeline compose their own and pass
// the resulting [TLSConn] to [NewClient].
//
// Host names are resolved through [Config.Resolver]. Use [*DNSResolver] to
// resolve through a specific DNS server over UDP, TCP, or TLS.
//
// # Observability
//
// All operations log through an [SLogger], which [*slog.Logger] satisfies.
// By default, logging is disabled. Lifecycle events (connect, handshake,
// verification, receive loop, close, failed sends) use [slog.LevelInfo].
// Per-message and I/O events use [slog.LevelDebug] and are only emitted
// when [ClientOptions.DebugLogging] is set. Span events come in *Start and
// *Done pairs sharing localAddr, remoteAddr, protocol, and t; *Done events
// add t0, err, and errClass, where errClass comes from [Config.ErrClassifier].
// Every event of a client carries its spanID, see [*Client.ID].
package framedtls
