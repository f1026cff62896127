// SPDX-License-Identifier: GPL-3.0-or-later

package framedtls

import "context"

// Func is a generic operation that accepts an input and returns a result.
//
// [Dial] builds the connection by composing Func stages with [Compose2],
// [Compose3], and [Compose4]: connect, observe, handshake, verify. Callers
// that need a different establishment flow can compose their own pipeline
// and hand the resulting [TLSConn] to [NewClient].
//
// Resource cleanup contract: when a Func receives a closeable resource as input
// and returns an error, it is responsible for closing that resource before returning.
// This ensures that composed pipelines do not leak resources on partial failure.
type Func[A, B any] interface {
	Call(ctx context.Context, input A) (B, error)
}

// FuncAdapter wraps a function as a [Func] implementation.
type FuncAdapter[A, B any] func(ctx context.Context, input A) (B, error)

// Call implements [Func].
func (f FuncAdapter[A, B]) Call(ctx context.Context, input A) (B, error) {
	return f(ctx, input)
}
