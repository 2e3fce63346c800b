// Package ws implements channel.Channel over a single WebSocket connection.
// Requests, replies and stream items are proto.Envelope values correlated by
// envelope id.
package ws

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"github.com/rs/zerolog"

	"github.com/husbylabs/warptables/channel"
	"github.com/husbylabs/warptables/internal/proto"
)

const streamBuffer = 16

// Options tunes connection management.
type Options struct {
	DialTimeout      time.Duration
	ReconnectBackoff time.Duration
	// PingInterval is the heartbeat period. A failed ping drops the
	// connection. Zero takes the default; a negative value disables the
	// heartbeat.
	PingInterval time.Duration
	ReadLimit    int64
	Logger       *zerolog.Logger
}

// DefaultOptions returns the settings used by Dial when fields are zero.
func DefaultOptions() Options {
	return Options{
		DialTimeout:      2 * time.Second,
		ReconnectBackoff: 500 * time.Millisecond,
		PingInterval:     10 * time.Second,
		ReadLimit:        1 << 20,
	}
}

type route struct {
	ch   chan proto.Envelope
	done chan struct{}
}

// Channel is a lazily connecting, self-healing WebSocket channel.
type Channel struct {
	url  string
	opts Options
	log  *zerolog.Logger

	ctx    context.Context
	cancel context.CancelFunc

	nextID atomic.Uint64

	mu      sync.Mutex
	state   channel.State
	changed chan struct{}
	running bool
	conn    *websocket.Conn
	lost    chan struct{}
	routes  map[uint64]*route
}

var _ channel.Channel = (*Channel)(nil)

// Dial returns a channel for url. No connection is made until State(true)
// is called.
func Dial(url string, opts Options) *Channel {
	def := DefaultOptions()
	if opts.DialTimeout <= 0 {
		opts.DialTimeout = def.DialTimeout
	}
	if opts.ReconnectBackoff <= 0 {
		opts.ReconnectBackoff = def.ReconnectBackoff
	}
	if opts.PingInterval == 0 {
		opts.PingInterval = def.PingInterval
	}
	if opts.ReadLimit <= 0 {
		opts.ReadLimit = def.ReadLimit
	}
	logger := opts.Logger
	if logger == nil {
		nop := zerolog.Nop()
		logger = &nop
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Channel{
		url:     url,
		opts:    opts,
		log:     logger,
		ctx:     ctx,
		cancel:  cancel,
		state:   channel.Idle,
		changed: make(chan struct{}),
		routes:  make(map[uint64]*route),
	}
}

// State implements channel.Channel.
func (c *Channel) State(connect bool) channel.State {
	c.mu.Lock()
	defer c.mu.Unlock()
	if connect && !c.running && c.state == channel.Idle {
		c.running = true
		go c.run()
	}
	return c.state
}

// WaitForStateChange implements channel.Channel.
func (c *Channel) WaitForStateChange(ctx context.Context, source channel.State) bool {
	for {
		c.mu.Lock()
		if c.state != source {
			c.mu.Unlock()
			return true
		}
		changed := c.changed
		c.mu.Unlock()

		select {
		case <-changed:
		case <-ctx.Done():
			return false
		}
	}
}

// Call implements channel.Channel.
func (c *Channel) Call(ctx context.Context, method string, req, resp any) error {
	id, r, conn, lost, err := c.open()
	if err != nil {
		return err
	}
	defer c.unregister(id)

	if err := c.send(ctx, conn, method, id, req); err != nil {
		return err
	}

	select {
	case reply := <-r.ch:
		return decode(reply, resp)
	case <-lost:
		return channel.ErrConnectionLost
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Stream implements channel.Channel.
func (c *Channel) Stream(ctx context.Context, method string, req any, recv func(json.RawMessage) error) error {
	id, r, conn, lost, err := c.open()
	if err != nil {
		return err
	}
	defer c.unregister(id)

	if err := c.send(ctx, conn, method, id, req); err != nil {
		return err
	}

	for {
		select {
		case item := <-r.ch:
			switch item.Type {
			case proto.TypeStreamEnd:
				return nil
			case proto.TypeError:
				return decode(item, nil)
			}
			if err := recv(item.Data); err != nil {
				c.cancelStream(conn, id)
				return err
			}
		case <-lost:
			return channel.ErrConnectionLost
		case <-ctx.Done():
			c.cancelStream(conn, id)
			return ctx.Err()
		}
	}
}

// Close implements channel.Channel.
func (c *Channel) Close() error {
	c.mu.Lock()
	if c.state == channel.Shutdown {
		c.mu.Unlock()
		return nil
	}
	c.state = channel.Shutdown
	close(c.changed)
	c.changed = make(chan struct{})
	conn := c.conn
	c.mu.Unlock()

	c.cancel()
	if conn != nil {
		// The read loop may already have torn the connection down.
		_ = conn.Close(websocket.StatusNormalClosure, "closing")
	}
	return nil
}

func (c *Channel) run() {
	for {
		c.setState(channel.Connecting)
		conn, err := c.dial()
		if err != nil {
			c.log.Debug().Err(err).Str("url", c.url).Msg("dial failed")
			if !c.backoff() {
				return
			}
			continue
		}

		lost := c.attach(conn)
		err = c.serve(conn)
		c.detach(lost)
		if c.ctx.Err() != nil {
			return
		}
		c.log.Info().Err(err).Str("url", c.url).Msg("connection lost")
		if !c.backoff() {
			return
		}
	}
}

func (c *Channel) dial() (*websocket.Conn, error) {
	ctx, cancel := context.WithTimeout(c.ctx, c.opts.DialTimeout)
	defer cancel()

	conn, _, err := websocket.Dial(ctx, c.url, nil)
	if err != nil {
		return nil, err
	}
	conn.SetReadLimit(c.opts.ReadLimit)
	return conn, nil
}

// serve reads envelopes until the connection drops.
func (c *Channel) serve(conn *websocket.Conn) error {
	ctx, cancel := context.WithCancel(c.ctx)
	defer cancel()

	if c.opts.PingInterval > 0 {
		go c.heartbeat(ctx, conn)
	}

	for {
		var env proto.Envelope
		if err := wsjson.Read(ctx, conn, &env); err != nil {
			return err
		}
		c.dispatch(ctx, env)
	}
}

func (c *Channel) heartbeat(ctx context.Context, conn *websocket.Conn) {
	ticker := time.NewTicker(c.opts.PingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			pingCtx, cancel := context.WithTimeout(ctx, c.opts.PingInterval)
			err := conn.Ping(pingCtx)
			cancel()
			if err != nil {
				if ctx.Err() == nil {
					c.log.Info().Err(err).Str("url", c.url).Msg("heartbeat failed")
				}
				_ = conn.CloseNow()
				return
			}
		}
	}
}

func (c *Channel) dispatch(ctx context.Context, env proto.Envelope) {
	c.mu.Lock()
	r, ok := c.routes[env.ID]
	c.mu.Unlock()
	if !ok {
		c.log.Debug().Uint64("id", env.ID).Str("type", env.Type).Msg("drop unrouted envelope")
		return
	}

	select {
	case r.ch <- env:
	case <-r.done:
	case <-ctx.Done():
	}
}

func (c *Channel) attach(conn *websocket.Conn) chan struct{} {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.conn = conn
	c.lost = make(chan struct{})
	c.setStateLocked(channel.Ready)
	return c.lost
}

func (c *Channel) detach(lost chan struct{}) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.conn != nil {
		_ = c.conn.CloseNow()
	}
	c.conn = nil
	close(lost)
}

// backoff enters TransientFailure and waits before the next attempt. It
// reports false once the channel is closed.
func (c *Channel) backoff() bool {
	c.setState(channel.TransientFailure)

	timer := time.NewTimer(c.opts.ReconnectBackoff)
	defer timer.Stop()
	select {
	case <-timer.C:
		return true
	case <-c.ctx.Done():
		return false
	}
}

func (c *Channel) setState(s channel.State) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.setStateLocked(s)
}

func (c *Channel) setStateLocked(s channel.State) {
	if c.state == channel.Shutdown || c.state == s {
		return
	}
	c.log.Debug().Str("from", c.state.String()).Str("to", s.String()).Msg("channel state")
	c.state = s
	close(c.changed)
	c.changed = make(chan struct{})
}

func (c *Channel) open() (uint64, *route, *websocket.Conn, chan struct{}, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	switch {
	case c.state == channel.Shutdown:
		return 0, nil, nil, nil, channel.ErrShutdown
	case c.state != channel.Ready || c.conn == nil:
		return 0, nil, nil, nil, channel.ErrUnavailable
	}

	id := c.nextID.Add(1)
	r := &route{
		ch:   make(chan proto.Envelope, streamBuffer),
		done: make(chan struct{}),
	}
	c.routes[id] = r
	return id, r, c.conn, c.lost, nil
}

func (c *Channel) unregister(id uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if r, ok := c.routes[id]; ok {
		delete(c.routes, id)
		close(r.done)
	}
}

func (c *Channel) send(ctx context.Context, conn *websocket.Conn, method string, id uint64, req any) error {
	env, err := proto.NewEnvelope(method, id, req)
	if err != nil {
		return fmt.Errorf("marshal %s: %w", method, err)
	}
	if err := wsjson.Write(ctx, conn, env); err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		return fmt.Errorf("%w: write %s: %v", channel.ErrConnectionLost, method, err)
	}
	return nil
}

func (c *Channel) cancelStream(conn *websocket.Conn, id uint64) {
	ctx, cancel := context.WithTimeout(c.ctx, time.Second)
	defer cancel()
	if err := wsjson.Write(ctx, conn, proto.Envelope{Type: proto.TypeCancel, ID: id}); err != nil && !errors.Is(err, context.Canceled) {
		c.log.Debug().Err(err).Uint64("id", id).Msg("send stream cancel")
	}
}

func decode(env proto.Envelope, resp any) error {
	if env.Type == proto.TypeError {
		if env.Error == nil {
			return &channel.RemoteError{Code: proto.CodeInternal, Message: "error without details"}
		}
		return &channel.RemoteError{Code: env.Error.Code, Message: env.Error.Msg}
	}
	if resp == nil || len(env.Data) == 0 {
		return nil
	}
	if err := json.Unmarshal(env.Data, resp); err != nil {
		return fmt.Errorf("decode %s reply: %w", env.Type, err)
	}
	return nil
}
