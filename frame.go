// SPDX-License-Identifier: GPL-3.0-or-later

package framedtls

import (
	"fmt"
	"math"
	"strconv"
)

// FrameDelimiter separates the decimal length from the payload.
//
// A frame on the wire is the length of the payload as ASCII decimal digits,
// followed by FrameDelimiter, followed by exactly that many payload bytes.
// There is no checksum, terminator, or type tag. Frames are not
// self-synchronizing: after a misread length the stream is lost.
const FrameDelimiter = ':'

// EncodeFrame returns the wire representation of payload.
//
// A nil or empty payload encodes as "0:".
func EncodeFrame(payload []byte) []byte {
	return AppendFrame(make([]byte, 0, frameHeaderMaxLen+1+len(payload)), payload)
}

// AppendFrame appends the wire representation of payload to dst.
func AppendFrame(dst, payload []byte) []byte {
	dst = strconv.AppendInt(dst, int64(len(payload)), 10)
	dst = append(dst, FrameDelimiter)
	return append(dst, payload...)
}

// DecodeFrame decodes the first frame contained in data.
//
// It returns the payload, which aliases data, and the bytes following the
// frame. When data ends before the frame does, the error is
// [ErrIncompleteFrame]; a bad header yields [ErrMalformedHeader].
func DecodeFrame(data []byte) (payload, rest []byte, err error) {
	var hdr frameHeader
	for idx, b := range data {
		done, err := hdr.feed(b)
		if err != nil {
			return nil, nil, err
		}
		if !done {
			continue
		}
		body := data[idx+1:]
		if int64(len(body)) < hdr.length {
			return nil, nil, ErrIncompleteFrame
		}
		return body[:hdr.length], body[hdr.length:], nil
	}
	return nil, nil, ErrIncompleteFrame
}

// frameHeaderMaxLen is the number of digits of the largest length.
const frameHeaderMaxLen = 19

// frameHeader parses a frame header one byte at a time.
//
// The zero value is ready to use.
type frameHeader struct {
	// length is the value of the digits seen so far.
	length int64

	// ndigits is the number of digits seen so far.
	ndigits int
}

// feed consumes the next header byte and returns true once the delimiter
// has been consumed, at which point length holds the payload length.
//
// Any byte other than a digit or the delimiter, an empty length, or a
// length not fitting an int64 is an [ErrMalformedHeader].
func (h *frameHeader) feed(b byte) (bool, error) {
	switch {
	case b == FrameDelimiter:
		if h.ndigits <= 0 {
			return false, fmt.Errorf("%w: empty length", ErrMalformedHeader)
		}
		return true, nil

	case b >= '0' && b <= '9':
		digit := int64(b - '0')
		if h.length > (math.MaxInt64-digit)/10 {
			return false, fmt.Errorf("%w: length overflows int64", ErrMalformedHeader)
		}
		h.length = h.length*10 + digit
		h.ndigits++
		return false, nil

	default:
		return false, fmt.Errorf("%w: unexpected byte %q", ErrMalformedHeader, b)
	}
}
