// SPDX-License-Identifier: GPL-3.0-or-later

package framedtls

import (
	"errors"
	"fmt"
)

// Errors returned by this package.
//
// Always match them using [errors.Is] since they are usually wrapped
// together with the underlying cause.
var (
	// ErrInvalidConfig indicates that [ClientOptions] are not valid.
	ErrInvalidConfig = errors.New("framedtls: invalid configuration")

	// ErrConnectTimeout indicates that the TCP connect exceeded [Config.ConnectTimeout].
	ErrConnectTimeout = errors.New("framedtls: connect timeout")

	// ErrAuthentication indicates that a post-handshake policy check failed.
	ErrAuthentication = errors.New("framedtls: authentication failed")

	// ErrMalformedHeader indicates that a frame header is not a non-negative decimal integer.
	ErrMalformedHeader = errors.New("framedtls: malformed frame header")

	// ErrStallTimeout indicates that a read made no progress for [Config.StallTimeout].
	ErrStallTimeout = errors.New("framedtls: read stalled")

	// ErrNoData indicates a stall before the first header byte, meaning
	// the peer has nothing to say yet. It wraps [ErrStallTimeout].
	ErrNoData = fmt.Errorf("%w: no data available", ErrStallTimeout)

	// ErrTransport wraps I/O faults of the underlying connection.
	ErrTransport = errors.New("framedtls: transport fault")

	// ErrMessageTooLarge indicates a declared length above [Config.MaxMessageSize].
	ErrMessageTooLarge = errors.New("framedtls: message too large")

	// ErrIncompleteFrame indicates that [DecodeFrame] ran out of input.
	ErrIncompleteFrame = errors.New("framedtls: incomplete frame")
)

// newTransportError wraps err as an [ErrTransport].
func newTransportError(err error) error {
	return fmt.Errorf("%w: %w", ErrTransport, err)
}
