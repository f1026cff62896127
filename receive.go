// SPDX-License-Identifier: GPL-3.0-or-later

package framedtls

import (
	"errors"
	"log/slog"
	"time"
)

// receiveLoop runs in the tomb for the whole life of the client.
func (c *Client) receiveLoop() error {
	t0 := c.timeNow()
	c.logger.Info(
		"receiveLoopStart",
		slog.String("localAddr", c.laddr),
		slog.String("protocol", c.protocol),
		slog.String("remoteAddr", c.raddr),
		slog.Time("t", t0),
	)

	err := c.readMessages()
	c.teardown(err)
	if c.deliveries != nil {
		close(c.deliveries)
	}

	// The tomb keeps the first reason: a local close or a send fault
	// take precedence over the read error they caused.
	reason := c.tmb.Err()
	c.logger.Info(
		"receiveLoopDone",
		slog.Any("err", reason),
		slog.String("errClass", c.errClassifier.Classify(reason)),
		slog.String("localAddr", c.laddr),
		slog.String("protocol", c.protocol),
		slog.String("remoteAddr", c.raddr),
		slog.Time("t0", t0),
		slog.Time("t", c.timeNow()),
	)

	if c.opts.OnDisconnected != nil {
		c.opts.OnDisconnected()
	}
	return reason
}

// readMessages reads and dispatches messages until a fault or teardown.
//
// Cancellation is checked between reads, so teardown causes at most
// one further read, which fails because the conn is closed.
func (c *Client) readMessages() error {
	for {
		select {
		case <-c.tmb.Dying():
			return nil
		default:
		}
		if !c.connected.Load() {
			return nil
		}

		payload, err := c.reader.ReadMessage()
		switch {
		case errors.Is(err, ErrNoData):
			if !c.idle() {
				return nil
			}
			continue

		case err != nil:
			return err
		}

		c.logger.Debug(
			"messageReceived",
			slog.Int("payloadSize", len(payload)),
			slog.String("localAddr", c.laddr),
			slog.String("protocol", c.protocol),
			slog.String("remoteAddr", c.raddr),
			slog.Time("t", c.timeNow()),
		)
		c.dispatch(payload)
	}
}

// idle waits for the retry delay and returns false if the tomb started dying.
func (c *Client) idle() bool {
	timer := time.NewTimer(c.idleRetryDelay)
	defer timer.Stop()
	select {
	case <-c.tmb.Dying():
		return false
	case <-timer.C:
		return true
	}
}

// dispatch hands payload to the message callback without waiting for it,
// unless ordered delivery is enabled and the queue is full.
func (c *Client) dispatch(payload []byte) {
	if c.deliveries == nil {
		go c.opts.OnMessage(payload)
		return
	}
	select {
	case c.deliveries <- payload:
	case <-c.tmb.Dying():
	}
}

// deliverOrdered calls the message callback for each queued payload.
func (c *Client) deliverOrdered() {
	for payload := range c.deliveries {
		c.opts.OnMessage(payload)
	}
}
