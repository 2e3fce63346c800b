package warptable

import (
	"context"
	"fmt"

	"github.com/husbylabs/warptables/internal/proto"
)

// negotiate runs the handshake on a ready channel. On success it starts one
// watcher and one subscription stream for the new session.
func (c *Client) negotiate(ctx context.Context) error {
	c.mu.Lock()
	if c.state == StateConnected {
		c.mu.Unlock()
		return nil
	}
	if !c.started {
		c.mu.Unlock()
		return ErrStopped
	}
	c.state = StateHandshaking
	runCtx := c.runCtx
	c.mu.Unlock()

	callCtx, cancel := context.WithTimeout(ctx, c.opts.HandshakeTimeout)
	defer cancel()

	var reply proto.ServerHandshake
	err := c.ch.Call(callCtx, proto.TypeHandshake, proto.ClientHandshake{
		Protocol:   proto.ProtocolVersion,
		InstanceID: c.opts.InstanceID,
	}, &reply)

	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.started || c.runCtx != runCtx {
		return ErrStopped
	}
	if c.state == StateConnected {
		return nil
	}
	if err != nil {
		c.state = StateAwaitingTransport
		return fmt.Errorf("%w: handshake: %w", ErrTransportFailure, err)
	}
	if !reply.Supported {
		c.mismatched = true
		c.state = StateDisconnected
		c.log.Error().Int("protocol", proto.ProtocolVersion).Msg("server rejected protocol version")
		return fmt.Errorf("%w: client speaks version %d", ErrUnsupportedProtocol, proto.ProtocolVersion)
	}

	c.state = StateConnected
	c.clientID = reply.ClientID
	c.gen++
	gen := c.gen
	connCtx, connCancel := context.WithCancel(runCtx)
	c.connCancel = connCancel
	close(c.connected)

	c.log.Info().Int32("client_id", reply.ClientID).Msg("connected")

	c.wg.Add(2)
	go c.watch(connCtx, gen)
	go c.subscribe(connCtx, gen, reply.ClientID)
	return nil
}
