// SPDX-License-Identifier: GPL-3.0-or-later

package framedtls

import (
	"errors"
	"fmt"
	"net"
	"time"

	"github.com/bassosimone/runtimex"
)

// NewStallReader returns a new [*StallReader] reading from conn.
//
// The cfg argument contains the common configuration for framedtls operations.
func NewStallReader(cfg *Config, conn net.Conn) *StallReader {
	runtimex.Assert(cfg.StallInterval > 0)
	runtimex.Assert(cfg.MaxReadChunk > 0)
	return &StallReader{
		conn:           conn,
		MaxMessageSize: cfg.MaxMessageSize,
		MaxReadChunk:   cfg.MaxReadChunk,
		Sleep:          cfg.Sleep,
		StallInterval:  cfg.StallInterval,
		StallTimeout:   cfg.StallTimeout,
		TimeNow:        cfg.TimeNow,
	}
}

// StallReader reads frames from a [net.Conn] one message at a time.
//
// Liveness is bounded by an idle budget rather than by a network timeout.
// Each read waits at most StallInterval for data. A read returning no bytes
// charges StallInterval to the idle counter and a read returning at least
// one byte resets the counter, so a slow but steady peer never stalls. When
// the counter reaches StallTimeout, the message read fails.
//
// The header is read one byte at a time so that no byte beyond the
// delimiter is consumed. The payload is read in chunks of at most
// MaxReadChunk bytes, never past the declared length.
//
// A StallReader is not safe for concurrent use.
//
// All fields are safe to modify after construction but before first use.
type StallReader struct {
	// conn is the connection to read from.
	conn net.Conn

	// MaxMessageSize is the largest accepted length, zero for no limit.
	//
	// Set by [NewStallReader] from [Config.MaxMessageSize].
	MaxMessageSize int64

	// MaxReadChunk is the largest payload read.
	//
	// Set by [NewStallReader] from [Config.MaxReadChunk].
	MaxReadChunk int

	// Sleep is called when a read returns no bytes without waiting.
	//
	// Set by [NewStallReader] from [Config.Sleep].
	Sleep func(d time.Duration)

	// StallInterval is the idle time charged by a read returning no bytes.
	//
	// Set by [NewStallReader] from [Config.StallInterval].
	StallInterval time.Duration

	// StallTimeout is the idle budget of a message read.
	//
	// Set by [NewStallReader] from [Config.StallTimeout].
	StallTimeout time.Duration

	// TimeNow is used to compute read deadlines.
	//
	// Set by [NewStallReader] from [Config.TimeNow].
	TimeNow func() time.Time
}

// ReadMessage reads the next frame and returns its payload.
//
// The error, if any, wraps one of:
//   - [ErrNoData] when the idle budget expired before any header byte
//   - [ErrStallTimeout] when it expired in the middle of a frame
//   - [ErrMalformedHeader] when the header is not a decimal length
//   - [ErrMessageTooLarge] when the length exceeds MaxMessageSize
//   - [ErrTransport] when the connection failed
//
// After an error other than [ErrNoData] the position in the stream is
// unknown and the caller should stop reading.
func (r *StallReader) ReadMessage() ([]byte, error) {
	length, err := r.readHeader()
	if err != nil {
		return nil, err
	}
	if r.MaxMessageSize > 0 && length > r.MaxMessageSize {
		return nil, fmt.Errorf("%w: %d > %d", ErrMessageTooLarge, length, r.MaxMessageSize)
	}
	return r.readPayload(length)
}

func (r *StallReader) readHeader() (int64, error) {
	var (
		buf   [1]byte
		hdr   frameHeader
		idle  time.Duration
		total int
	)
	for {
		count, err := r.poll(buf[:])
		if err != nil {
			return 0, err
		}
		if count <= 0 {
			idle += r.StallInterval
			if idle < r.StallTimeout {
				continue
			}
			if total <= 0 {
				return 0, ErrNoData
			}
			return 0, fmt.Errorf("%w: after %d header bytes", ErrStallTimeout, total)
		}
		idle, total = 0, total+1
		done, err := hdr.feed(buf[0])
		if err != nil {
			return 0, err
		}
		if done {
			return hdr.length, nil
		}
	}
}

func (r *StallReader) readPayload(length int64) ([]byte, error) {
	// Grow the buffer as bytes arrive: the length comes from the peer.
	payload := make([]byte, 0, min(length, int64(r.MaxReadChunk)))
	var idle time.Duration
	for remaining := length; remaining > 0; {
		chunk := int(min(remaining, int64(r.MaxReadChunk)))
		if cap(payload)-len(payload) < chunk {
			payload = append(payload, make([]byte, chunk)...)[:len(payload)]
		}
		count, err := r.poll(payload[len(payload) : len(payload)+chunk])
		if err != nil {
			return nil, err
		}
		if count <= 0 {
			idle += r.StallInterval
			if idle >= r.StallTimeout {
				return nil, fmt.Errorf("%w: after %d of %d payload bytes", ErrStallTimeout, len(payload), length)
			}
			continue
		}
		idle = 0
		payload = payload[:len(payload)+count]
		remaining -= int64(count)
	}
	return payload, nil
}

// poll performs a single read waiting at most StallInterval.
//
// It returns zero bytes and no error when no data was available.
func (r *StallReader) poll(buf []byte) (int, error) {
	if err := r.conn.SetReadDeadline(r.TimeNow().Add(r.StallInterval)); err != nil {
		return 0, newTransportError(err)
	}
	count, err := r.conn.Read(buf)
	switch {
	case count > 0:
		// A concurrent error, such as EOF, shows up again on the next read.
		return count, nil

	case err == nil:
		r.Sleep(r.StallInterval)
		return 0, nil

	case isTimeout(err):
		return 0, nil

	default:
		return 0, newTransportError(err)
	}
}

// isTimeout returns whether err is a read deadline expiry.
func isTimeout(err error) bool {
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}
