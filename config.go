// SPDX-License-Identifier: GPL-3.0-or-later

package framedtls

import (
	"context"
	"net"
	"time"
)

// Defaults used by [NewConfig].
const (
	// DefaultConnectTimeout bounds the TCP connect, including resolution.
	DefaultConnectTimeout = 5 * time.Second

	// DefaultStallInterval is the wait charged to the idle budget by a read
	// returning no bytes.
	DefaultStallInterval = 25 * time.Millisecond

	// DefaultStallTimeout is the idle budget of a single message read.
	DefaultStallTimeout = 500 * time.Millisecond

	// DefaultIdleRetryDelay is how long the receive loop waits after a
	// read attempt found no data.
	DefaultIdleRetryDelay = 30 * time.Millisecond

	// DefaultMaxReadChunk is the largest payload read issued at once.
	DefaultMaxReadChunk = 2048
)

// Resolver abstracts the [*net.Resolver] behavior.
//
// See [DNSResolver] for an implementation using an explicit DNS server.
type Resolver interface {
	LookupHost(ctx context.Context, host string) ([]string, error)
}

// Config holds common configuration for framedtls operations.
//
// Pass this to constructor functions to pre-wire dependencies.
// All fields have sensible defaults set by [NewConfig].
type Config struct {
	// Dialer is used by [*ConnectFunc].
	//
	// Set by [NewConfig] to [*net.Dialer].
	Dialer Dialer

	// Resolver maps server host names to addresses for [*ConnectFunc].
	//
	// Set by [NewConfig] to [net.DefaultResolver].
	Resolver Resolver

	// ErrClassifier classifies errors for structured logging.
	//
	// Set by [NewConfig] to [DefaultErrClassifier].
	ErrClassifier ErrClassifier

	// TimeNow returns the current time.
	//
	// Set by [NewConfig] to [time.Now].
	TimeNow func() time.Time

	// Sleep pauses the calling goroutine.
	//
	// Set by [NewConfig] to [time.Sleep].
	Sleep func(d time.Duration)

	// ConnectTimeout bounds the TCP connect.
	//
	// Set by [NewConfig] to [DefaultConnectTimeout].
	ConnectTimeout time.Duration

	// StallInterval is the read poll interval of [*StallReader].
	//
	// Set by [NewConfig] to [DefaultStallInterval].
	StallInterval time.Duration

	// StallTimeout is the idle budget of [*StallReader].
	//
	// Set by [NewConfig] to [DefaultStallTimeout].
	StallTimeout time.Duration

	// IdleRetryDelay is the receive loop delay after [ErrNoData].
	//
	// Set by [NewConfig] to [DefaultIdleRetryDelay].
	IdleRetryDelay time.Duration

	// MaxReadChunk caps the size of each payload read.
	//
	// Set by [NewConfig] to [DefaultMaxReadChunk].
	MaxReadChunk int

	// MaxMessageSize is the largest accepted declared length, zero meaning
	// that no limit applies, as the wire format itself has none.
	//
	// Set by [NewConfig] to zero.
	MaxMessageSize int64
}

// NewConfig creates a [*Config] with sensible defaults.
func NewConfig() *Config {
	return &Config{
		Dialer:         &net.Dialer{},
		Resolver:       net.DefaultResolver,
		ErrClassifier:  DefaultErrClassifier,
		TimeNow:        time.Now,
		Sleep:          time.Sleep,
		ConnectTimeout: DefaultConnectTimeout,
		StallInterval:  DefaultStallInterval,
		StallTimeout:   DefaultStallTimeout,
		IdleRetryDelay: DefaultIdleRetryDelay,
		MaxReadChunk:   DefaultMaxReadChunk,
		MaxMessageSize: 0,
	}
}
