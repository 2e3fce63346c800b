package warptable

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/husbylabs/warptables/channel"
)

// connectLoop drives the channel towards Ready and negotiates once it gets
// there. It returns nil once connected.
//
// pauseIfReady delays the first handshake when the channel is already
// Ready, which happens when the session dropped without the transport
// noticing (for example a closed stream).
func (c *Client) connectLoop(ctx context.Context, pauseIfReady bool) error {
	for first := true; ; first = false {
		if c.Connected() {
			return nil
		}

		st := c.ch.State(true)
		switch st {
		case channel.Ready:
			if first && pauseIfReady {
				if !sleep(ctx, c.opts.RetryInterval) {
					return ctx.Err()
				}
				continue
			}
			err := c.negotiate(ctx)
			if err == nil || errors.Is(err, ErrUnsupportedProtocol) {
				return err
			}
			if ctx.Err() == nil {
				c.log.Warn().Err(err).Msg("handshake failed")
			}
			if !sleep(ctx, c.opts.RetryInterval) {
				return ctx.Err()
			}
		case channel.Shutdown:
			return fmt.Errorf("%w: %w", ErrTransportFailure, channel.ErrShutdown)
		default:
			if !c.ch.WaitForStateChange(ctx, st) {
				return ctx.Err()
			}
		}
	}
}

// watch follows the channel state for one session generation and ends the
// session when the channel leaves Ready.
func (c *Client) watch(ctx context.Context, gen uint64) {
	defer c.wg.Done()

	last := channel.Ready
	for {
		if !c.ch.WaitForStateChange(ctx, last) {
			return
		}
		last = c.ch.State(false)
		c.log.Debug().Str("state", last.String()).Msg("channel state changed")
		if last != channel.Ready {
			c.markDisconnected(gen, fmt.Errorf("%w: channel %s", ErrTransportFailure, last))
			return
		}
	}
}

// markDisconnected ends session generation gen. Stale generations are
// ignored so the watcher and the stream can both report the same loss.
func (c *Client) markDisconnected(gen uint64, cause error) {
	c.mu.Lock()
	if c.gen != gen || c.state != StateConnected {
		c.mu.Unlock()
		return
	}
	if c.connCancel != nil {
		c.connCancel()
		c.connCancel = nil
	}
	c.connected = make(chan struct{})
	auto := c.autoConnect && c.started
	if auto {
		c.state = StateAwaitingTransport
	} else {
		c.state = StateDisconnected
	}
	c.mu.Unlock()

	c.log.Warn().Err(cause).Bool("auto_connect", auto).Msg("session lost")
	c.report(cause)
	if auto {
		c.startReconnect()
	}
}

// startReconnect launches the background reconnect loop unless one is
// already running.
func (c *Client) startReconnect() {
	c.mu.Lock()
	if !c.started || (c.reconnecting != nil && c.reconnecting == c.runCtx) {
		c.mu.Unlock()
		return
	}
	c.reconnecting = c.runCtx
	runCtx := c.runCtx
	c.wg.Add(1)
	c.mu.Unlock()

	go c.reconnect(runCtx)
}

func (c *Client) reconnect(runCtx context.Context) {
	defer c.wg.Done()

	for {
		err := c.connectLoop(runCtx, true)

		c.mu.Lock()
		again := err == nil && c.state != StateConnected && c.started && c.autoConnect && c.runCtx == runCtx
		if !again && c.reconnecting == runCtx {
			c.reconnecting = nil
		}
		c.mu.Unlock()
		if again {
			continue
		}

		switch {
		case err == nil, runCtx.Err() != nil:
		case errors.Is(err, ErrUnsupportedProtocol):
			c.report(err)
		default:
			c.log.Error().Err(err).Msg("reconnect gave up")
			c.report(err)
		}
		return
	}
}

func sleep(ctx context.Context, d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return true
	case <-ctx.Done():
		return false
	}
}
