// SPDX-License-Identifier: GPL-3.0-or-later

package framedtls

import (
	"context"
	"log/slog"
	"time"
)

// Send frames payload and writes it, returning whether it was written.
//
// See [*Client.SendContext] for details.
func (c *Client) Send(payload []byte) bool {
	return c.SendContext(context.Background(), payload)
}

// SendContext frames payload and writes it, returning whether it was written.
//
// At most one frame is written at a time. Waiting for a concurrent send
// to finish can be interrupted through ctx, but an ongoing write cannot.
// A nil or empty payload is written as an empty message.
//
// A write fault tears the connection down. SendContext returns false
// without writing when the client is not connected.
func (c *Client) SendContext(ctx context.Context, payload []byte) bool {
	if !c.connected.Load() {
		return false
	}
	if err := c.gate.Acquire(ctx, 1); err != nil {
		return false
	}
	defer c.gate.Release(1)

	// Teardown may have happened while we were waiting.
	if !c.connected.Load() {
		return false
	}

	t0 := c.timeNow()
	_, err := c.conn.Write(EncodeFrame(payload))
	c.logSendDone(t0, len(payload), err)
	if err != nil {
		c.teardown(newTransportError(err))
		return false
	}
	return true
}

func (c *Client) logSendDone(t0 time.Time, size int, err error) {
	log := c.logger.Debug
	if err != nil {
		log = c.logger.Info
	}
	log(
		"sendDone",
		slog.Any("err", err),
		slog.String("errClass", c.errClassifier.Classify(err)),
		slog.Int("payloadSize", size),
		slog.String("localAddr", c.laddr),
		slog.String("protocol", c.protocol),
		slog.String("remoteAddr", c.raddr),
		slog.Time("t0", t0),
		slog.Time("t", c.timeNow()),
	)
}
